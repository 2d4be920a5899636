package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/marianozunino/filez/internal/access"
	"github.com/marianozunino/filez/internal/db"
	"github.com/marianozunino/filez/internal/middleware"
	"github.com/marianozunino/filez/internal/model"
	"github.com/marianozunino/filez/internal/utils"
)

const maxHashAttempts = 5

// HandleUpload stores a multipart upload and creates its record
func (h *Handler) HandleUpload(c echo.Context) error {
	user := middleware.UserFrom(c)
	req := c.Request()
	req.Body = http.MaxBytesReader(c.Response(), req.Body, h.cfg.MaxSizeToBytes())

	if err := req.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return jsonError(c, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("file too large (max %s)", utils.FormatFileSize(h.cfg.MaxSizeToBytes())))
		}
		return jsonError(c, http.StatusBadRequest, "invalid upload form")
	}

	file, header, err := req.FormFile("file")
	if err != nil {
		return jsonError(c, http.StatusBadRequest, "no file was uploaded")
	}
	defer file.Close()

	if header.Size == 0 {
		return jsonError(c, http.StatusBadRequest, "empty file")
	}

	contentType := "application/octet-stream"
	if mt, err := mimetype.DetectReader(file); err == nil {
		contentType = mt.String()
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		h.logger.Error("failed to rewind upload", zap.Error(err))
		return jsonError(c, http.StatusInternalServerError, "server error")
	}

	password, err := access.HashPassword(c.FormValue("password"))
	if errors.Is(err, access.ErrPasswordTooLong) {
		return jsonError(c, http.StatusBadRequest, err.Error())
	}
	if err != nil {
		h.logger.Error("failed to hash password", zap.Error(err))
		return jsonError(c, http.StatusInternalServerError, "server error")
	}

	storageName, size, err := h.db.WriteContent(file)
	if err != nil {
		h.logger.Error("failed to store upload", zap.String("file_name", header.Filename), zap.Error(err))
		return jsonError(c, http.StatusInternalServerError, "failed to save file")
	}

	now := h.now().UTC()
	rec := model.FileRecord{
		FileName:       utils.CleanFileName(header.Filename),
		FileSize:       size,
		ContentType:    contentType,
		StorageName:    storageName,
		UploaderEmail:  user.Email,
		NotifyUploader: user.Email != "" && parseBool(c.FormValue("notify"), true),
		Password:       password,
		CreatedAt:      now,
		ExpiresAt:      h.engine.InitialExpiry(now),
	}
	if user.ID != "" {
		id := user.ID
		rec.UploaderID = &id
	}

	rec, err = h.createWithUniqueHash(c, rec)
	if err != nil {
		h.logger.Error("failed to store metadata", zap.String("file_name", rec.FileName), zap.Error(err))
		if err := h.db.RemoveContent(storageName); err != nil {
			h.logger.Warn("failed to clean up file after metadata error", zap.Error(err))
		}
		return jsonError(c, http.StatusInternalServerError, "server error")
	}

	if h.metrics != nil {
		h.metrics.Uploads.Inc()
	}
	h.logger.Info("file uploaded",
		zap.String("hash", rec.Hash),
		zap.String("file_name", rec.FileName),
		zap.String("size", utils.FormatFileSize(rec.FileSize)),
		zap.String("uploader", rec.UploaderEmail),
	)

	c.Response().Header().Set("Location", h.dispatcher.DownloadURL(rec))
	return jsonSuccess(c, http.StatusCreated, "file uploaded", map[string]any{
		"file": h.view(rec, true),
	})
}

// createWithUniqueHash draws hashes until the insert succeeds
func (h *Handler) createWithUniqueHash(c echo.Context, rec model.FileRecord) (model.FileRecord, error) {
	ctx := c.Request().Context()

	for i := 0; i < maxHashAttempts; i++ {
		hash, err := h.newHash(h.cfg.HashLength)
		if err != nil {
			return rec, err
		}

		rec.Hash = hash
		created, err := h.db.Create(ctx, rec)
		if errors.Is(err, db.ErrHashTaken) {
			h.logger.Debug("hash collision, drawing another", zap.String("hash", hash))
			continue
		}
		return created, err
	}
	return rec, fmt.Errorf("no free hash after %d attempts", maxHashAttempts)
}

func parseBool(s string, def bool) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	if strings.EqualFold(s, "on") {
		return true
	}
	if strings.EqualFold(s, "off") {
		return false
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return v
}
