package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/marianozunino/filez/internal/db"
	"github.com/marianozunino/filez/internal/lifecycle"
	"github.com/marianozunino/filez/internal/middleware"
	"github.com/marianozunino/filez/internal/notify"
)

// HandleExtend pushes the expiry of an owned file by one extension unit
func (h *Handler) HandleExtend(c echo.Context) error {
	rec, ok, err := h.loadOwnedFile(c)
	if !ok {
		return err
	}

	extended, err := h.engine.Extend(rec, h.now())
	if err != nil {
		if errors.Is(err, lifecycle.ErrExtendLimitExceeded) {
			h.countExtension("limit_exceeded")
			return jsonError(c, http.StatusBadRequest,
				fmt.Sprintf("you can't extend a file lifetime more than %d times", h.engine.MaxExtendCount()))
		}
		h.logger.Error("failed to extend file", zap.String("hash", rec.Hash), zap.Error(err))
		return jsonError(c, http.StatusInternalServerError, "server error")
	}

	saved, err := h.db.Save(c.Request().Context(), extended)
	switch {
	case errors.Is(err, db.ErrConflict):
		h.countExtension("conflict")
		return jsonError(c, http.StatusConflict, err.Error())
	case errors.Is(err, db.ErrNotFound):
		return jsonError(c, http.StatusNotFound, err.Error())
	case err != nil:
		h.logger.Error("failed to update expiration", zap.String("hash", rec.Hash), zap.Error(err))
		return jsonError(c, http.StatusInternalServerError, "failed to update expiration")
	}

	h.countExtension("ok")
	h.logger.Info("lifetime extended",
		zap.String("hash", saved.Hash),
		zap.Time("expires_at", saved.ExpiresAt),
		zap.Int("extends_count", saved.ExtendsCount),
	)
	return jsonSuccess(c, http.StatusOK, "lifetime extended", map[string]any{
		"file": h.view(saved, true),
	})
}

func (h *Handler) countExtension(result string) {
	if h.metrics != nil {
		h.metrics.Extensions.WithLabelValues(result).Inc()
	}
}

// HandleDelete removes an owned file and its content
func (h *Handler) HandleDelete(c echo.Context) error {
	rec, ok, err := h.loadOwnedFile(c)
	if !ok {
		return err
	}

	if err := h.db.Delete(c.Request().Context(), rec); err != nil {
		h.logger.Error("failed to delete file", zap.String("hash", rec.Hash), zap.Error(err))
		h.countDeletion("error")
		return jsonError(c, http.StatusInternalServerError, "failed to delete file")
	}

	h.countDeletion("ok")
	h.logger.Info("file deleted by owner", zap.String("hash", rec.Hash))
	return jsonSuccess(c, http.StatusOK, "file deleted", nil)
}

func (h *Handler) countDeletion(result string) {
	if h.metrics != nil {
		h.metrics.FilesDeleted.WithLabelValues("owner", result).Inc()
	}
}

// HandleEmail shares the link of an owned file with the addresses in "to"
func (h *Handler) HandleEmail(c echo.Context) error {
	rec, ok, err := h.loadOwnedFile(c)
	if !ok {
		return err
	}

	if err := h.parseRequestForm(c); err != nil {
		if isTooLarge(err) {
			return requestTooLarge(c)
		}
		return jsonError(c, http.StatusBadRequest, "invalid form")
	}

	err = h.dispatcher.ShareFile(c.Request().Context(), rec, middleware.UserFrom(c),
		c.FormValue("to"), c.FormValue("msg"))

	var invalid *notify.InvalidRecipientError
	switch {
	case err == nil:
		h.countShare("ok")
		return jsonSuccess(c, http.StatusOK, "email sent", nil)
	case errors.As(err, &invalid):
		return jsonError(c, http.StatusBadRequest,
			fmt.Sprintf("email address %q is incorrect, please correct it", invalid.Address))
	case errors.Is(err, notify.ErrSendFailed):
		h.countShare("error")
		h.logger.Error("error while sending email", zap.String("hash", rec.Hash), zap.Error(err))
		return jsonError(c, http.StatusBadGateway, "an error occurred during email submission, please try again")
	default:
		return jsonError(c, http.StatusBadRequest, err.Error())
	}
}

func (h *Handler) countShare(result string) {
	if h.metrics != nil {
		h.metrics.Notifications.WithLabelValues("share", result).Inc()
	}
}
