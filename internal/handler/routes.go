package handler

import (
	"github.com/labstack/echo/v4"

	"github.com/marianozunino/filez/internal/middleware"
)

// RegisterRoutes registers all HTTP routes
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	auth := middleware.RequireUser()

	e.GET("/", h.HandleHome, auth)
	e.POST("/", h.HandleUpload, auth)

	e.GET("/download.php", h.HandleLegacyDownload)
	e.POST("/admin/check-files", h.HandleCheckFiles, middleware.AdminToken(h.cfg.AdminToken))

	e.GET("/:hash", h.HandlePreview)
	e.GET("/:hash/download", h.HandleDownload)
	e.POST("/:hash/download", h.HandleDownload)
	e.POST("/:hash/extend", h.HandleExtend, auth)
	e.POST("/:hash/delete", h.HandleDelete, auth)
	e.POST("/:hash/email", h.HandleEmail, auth)
}
