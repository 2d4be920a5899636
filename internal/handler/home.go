package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/marianozunino/filez/internal/middleware"
)

// HandleHome lists the requester's files
func (h *Handler) HandleHome(c echo.Context) error {
	user := middleware.UserFrom(c)

	records, err := h.db.ListByUploader(c.Request().Context(), user)
	if err != nil {
		h.logger.Error("failed to list files", zap.String("user", user.Email), zap.Error(err))
		return jsonError(c, http.StatusInternalServerError, "server error")
	}

	files := make([]fileView, 0, len(records))
	for _, rec := range records {
		files = append(files, h.view(rec, true))
	}

	return jsonSuccess(c, http.StatusOK, "", map[string]any{
		"user":             user,
		"files":            files,
		"max_upload_size":  h.cfg.MaxSizeToBytes(),
		"max_extend_count": h.engine.MaxExtendCount(),
	})
}
