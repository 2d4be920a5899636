package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HandleCheckFiles runs one expiration sweep on demand
func (h *Handler) HandleCheckFiles(c echo.Context) error {
	report := h.sweeper.Sweep(c.Request().Context())

	return jsonSuccess(c, http.StatusOK, "expiration check complete", map[string]any{
		"deleted":  nonNil(report.Deleted),
		"notified": nonNil(report.Notified),
		"failed":   report.Failed,
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
