package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/marianozunino/filez/internal/access"
	"github.com/marianozunino/filez/internal/config"
	"github.com/marianozunino/filez/internal/db"
	"github.com/marianozunino/filez/internal/expiration"
	"github.com/marianozunino/filez/internal/lifecycle"
	"github.com/marianozunino/filez/internal/metrics"
	"github.com/marianozunino/filez/internal/middleware"
	"github.com/marianozunino/filez/internal/model"
	"github.com/marianozunino/filez/internal/notify"
	"github.com/marianozunino/filez/internal/utils"
)

// Handler handles HTTP requests
type Handler struct {
	db         *db.DB
	files      db.FileMetadataSource
	legacy     db.FileMetadataSource
	engine     *lifecycle.Engine
	guard      *access.Guard
	dispatcher *notify.Dispatcher
	sweeper    *expiration.Sweeper
	metrics    *metrics.Metrics
	cfg        *config.Config
	logger     *zap.Logger
	now        func() time.Time
	newHash    func(length int) (string, error)
}

// NewHandler creates a new handler
func NewHandler(cfg *config.Config, store *db.DB, engine *lifecycle.Engine, dispatcher *notify.Dispatcher,
	sweeper *expiration.Sweeper, m *metrics.Metrics, logger *zap.Logger, now func() time.Time,
) *Handler {
	if now == nil {
		now = time.Now
	}
	return &Handler{
		db:         store,
		files:      db.HashSource{DB: store},
		legacy:     db.LegacySource{DB: store, Enabled: cfg.Filez1Compat},
		engine:     engine,
		guard:      access.NewGuard(engine, now),
		dispatcher: dispatcher,
		sweeper:    sweeper,
		metrics:    m,
		cfg:        cfg,
		logger:     logger.Named("handler"),
		now:        now,
		newHash:    utils.GenerateHash,
	}
}

// fileView is the JSON form of a record as shown to a requester
type fileView struct {
	Hash           string    `json:"hash"`
	FileName       string    `json:"file_name"`
	FileSize       int64     `json:"file_size"`
	ReadableSize   string    `json:"readable_size"`
	ContentType    string    `json:"content_type,omitempty"`
	URL            string    `json:"url"`
	CreatedAt      time.Time `json:"created_at"`
	AvailableUntil time.Time `json:"available_until"`
	Available      bool      `json:"available"`
	HasPassword    bool      `json:"has_password"`

	// owner-only fields
	ExtensionsLeft *int   `json:"extensions_left,omitempty"`
	DownloadCount  *int64 `json:"download_count,omitempty"`
	NotifyUploader *bool  `json:"notify_uploader,omitempty"`
}

func (h *Handler) view(rec model.FileRecord, owner bool) fileView {
	v := fileView{
		Hash:           rec.Hash,
		FileName:       rec.FileName,
		FileSize:       rec.FileSize,
		ReadableSize:   utils.FormatFileSize(rec.FileSize),
		ContentType:    rec.ContentType,
		URL:            h.dispatcher.DownloadURL(rec),
		CreatedAt:      rec.CreatedAt,
		AvailableUntil: h.engine.AvailableUntil(rec),
		Available:      h.engine.IsAvailable(rec, h.now()),
		HasPassword:    rec.HasPassword(),
	}
	if owner {
		left := h.engine.ExtensionsLeft(rec)
		v.ExtensionsLeft = &left
		v.DownloadCount = &rec.DownloadCount
		v.NotifyUploader = &rec.NotifyUploader
	}
	return v
}

func jsonError(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]any{
		"status":     "error",
		"statusText": msg,
	})
}

func jsonSuccess(c echo.Context, code int, msg string, extra map[string]any) error {
	body := map[string]any{"status": "success"}
	if msg != "" {
		body["statusText"] = msg
	}
	for k, v := range extra {
		body[k] = v
	}
	return c.JSON(code, body)
}

// loadFile resolves the :hash parameter. On failure the error response is
// already written and the returned error is the one to return from the
// handler.
func (h *Handler) loadFile(c echo.Context) (model.FileRecord, bool, error) {
	rec, err := h.files.Lookup(c.Request().Context(), c.Param("hash"))
	if err != nil {
		return rec, false, h.lookupError(c, err)
	}
	return rec, true, nil
}

func (h *Handler) lookupError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return jsonError(c, http.StatusNotFound, db.ErrNotFound.Error())
	case errors.Is(err, db.ErrLegacyDisabled):
		return jsonError(c, http.StatusForbidden, err.Error())
	default:
		h.logger.Error("failed to load file", zap.Error(err))
		return jsonError(c, http.StatusInternalServerError, "server error")
	}
}

// loadOwnedFile resolves :hash and requires the requester to own it
func (h *Handler) loadOwnedFile(c echo.Context) (model.FileRecord, bool, error) {
	rec, ok, err := h.loadFile(c)
	if !ok {
		return rec, false, err
	}
	if err := h.guard.CheckOwner(rec, middleware.UserFrom(c)); err != nil {
		return rec, false, jsonError(c, http.StatusUnauthorized, err.Error())
	}
	return rec, true, nil
}

// maxFormSize caps non-upload request bodies. Download and share forms
// only carry short text fields.
const maxFormSize = 1 << 20

// parseRequestForm parses a urlencoded or multipart form of at most
// maxFormSize bytes
func (h *Handler) parseRequestForm(c echo.Context) error {
	req := c.Request()
	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxFormSize)

	err := req.ParseMultipartForm(maxFormSize)
	if err == nil || isTooLarge(err) {
		return err
	}
	return req.ParseForm()
}

func isTooLarge(err error) bool {
	var tooLarge *http.MaxBytesError
	return errors.As(err, &tooLarge)
}

func requestTooLarge(c echo.Context) error {
	return jsonError(c, http.StatusRequestEntityTooLarge,
		fmt.Sprintf("request body too large (max %s)", utils.FormatFileSize(maxFormSize)))
}
