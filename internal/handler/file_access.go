package handler

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/marianozunino/filez/internal/access"
	"github.com/marianozunino/filez/internal/db"
	"github.com/marianozunino/filez/internal/middleware"
	"github.com/marianozunino/filez/internal/model"
	"github.com/marianozunino/filez/internal/utils"
)

// HandlePreview describes a file and what the requester may do with it
func (h *Handler) HandlePreview(c echo.Context) error {
	rec, ok, err := h.loadFile(c)
	if !ok {
		return err
	}
	return h.renderPreview(c, rec)
}

// HandleLegacyDownload serves the preview for filez-1.x links
// (/download.php?ad=<key>)
func (h *Handler) HandleLegacyDownload(c echo.Context) error {
	rec, err := h.legacy.Lookup(c.Request().Context(), c.QueryParam("ad"))
	if err != nil {
		return h.lookupError(c, err)
	}
	return h.renderPreview(c, rec)
}

func (h *Handler) renderPreview(c echo.Context, rec model.FileRecord) error {
	preview := h.guard.Preview(rec, middleware.UserFrom(c))

	return jsonSuccess(c, http.StatusOK, "", map[string]any{
		"file":           h.view(rec, preview.IsOwner),
		"is_owner":       preview.IsOwner,
		"available":      preview.Available,
		"check_password": preview.CheckPassword,
		"uploader":       rec.UploaderEmail,
	})
}

// HandleDownload streams the file content once the guard allows it
func (h *Handler) HandleDownload(c echo.Context) error {
	rec, ok, err := h.loadFile(c)
	if !ok {
		return err
	}

	if err := h.parseRequestForm(c); err != nil {
		if isTooLarge(err) {
			return requestTooLarge(c)
		}
		h.logger.Debug("non-form download request", zap.Error(err))
	}

	decision := h.guard.CanDownload(rec, middleware.UserFrom(c), c.FormValue("password"))
	if h.metrics != nil {
		h.metrics.Downloads.WithLabelValues(decision.String()).Inc()
	}

	switch decision {
	case access.DenyNotAvailable:
		return jsonError(c, http.StatusForbidden, "file is not available for download")
	case access.DenyBadPassword:
		return jsonError(c, http.StatusUnauthorized, "incorrect password")
	}

	file, err := h.db.OpenContent(rec)
	if err != nil {
		if os.IsNotExist(err) {
			h.logger.Warn("file content is missing", zap.String("hash", rec.Hash))
			return jsonError(c, http.StatusNotFound, db.ErrNotFound.Error())
		}
		h.logger.Error("failed to open file for download", zap.String("hash", rec.Hash), zap.Error(err))
		return jsonError(c, http.StatusInternalServerError, "failed to open file")
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return jsonError(c, http.StatusInternalServerError, "failed to stat file")
	}

	if err := h.db.IncrementDownloadCount(c.Request().Context(), rec.Hash); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return jsonError(c, http.StatusNotFound, db.ErrNotFound.Error())
		}
		h.logger.Error("failed to count download", zap.String("hash", rec.Hash), zap.Error(err))
	}

	h.setResponseHeaders(c, rec, fileInfo)

	h.logger.Info("file served",
		zap.String("hash", rec.Hash),
		zap.String("file_name", rec.FileName),
		zap.String("size", utils.FormatFileSize(fileInfo.Size())),
		zap.String("client_ip", c.RealIP()),
	)
	return c.Stream(http.StatusOK, contentType(rec), file)
}

func contentType(rec model.FileRecord) string {
	if rec.ContentType == "" {
		return "application/octet-stream"
	}
	return rec.ContentType
}

// setResponseHeaders sets the download headers for rec
func (h *Handler) setResponseHeaders(c echo.Context, rec model.FileRecord, fileInfo os.FileInfo) {
	header := c.Response().Header()

	header.Set("Content-Disposition", utils.ContentDisposition("attachment", rec.FileName))
	header.Set("Content-Length", strconv.FormatInt(fileInfo.Size(), 10))
	header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	header.Set("Pragma", "no-cache")
	header.Set("Expires", "0")
	header.Set("X-Expires", strconv.FormatInt(rec.ExpiresAt.UnixMilli(), 10))
}
