// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/studylm/uploader/internal/config"
	"github.com/studylm/uploader/internal/logging"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Tracker    Tracker
	Logger     *logging.Logger
	BackendURL string
	Version    string
}

// Handlers holds all handler instances
type Handlers struct {
	Health HealthHandler
	Upload UploadHandler
	Feed   FeedHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health: NewHealthHandler(deps.Version, deps.BackendURL),
		Upload: NewUploadHandler(deps.Tracker, deps.Logger),
		Feed:   NewWebSocketHandler(deps.Tracker, deps.Logger),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	apiGroup := e.Group("/api")

	apiGroup.GET("/health", handlers.Health.HandleHealth)

	uploads := apiGroup.Group("/uploads")
	uploads.POST("", handlers.Upload.HandleUploadFiles)
	uploads.POST("/url", handlers.Upload.HandleIngestURL)
	uploads.GET("", handlers.Upload.HandleListUploads)
	uploads.GET("/msgpack", handlers.Upload.HandleListUploadsMsgpack)
	uploads.GET("/:id", handlers.Upload.HandleGetUpload)
	uploads.POST("/:id/check", handlers.Upload.HandleCheckAgain)
	uploads.DELETE("/:id", handlers.Upload.HandleDismissUpload)

	apiGroup.GET("/ws/uploads", handlers.Feed.HandleUploadFeed)
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg *config.AppConfig) {
	e.HTTPErrorHandler = ErrorHandler

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			if !cfg.Advanced.EnableRequestLogging {
				return true
			}
			// The UI polls these constantly.
			path := c.Request().URL.Path
			return path == "/api/health" ||
				path == "/api/ws/uploads" ||
				(c.Request().Method == http.MethodGet && strings.HasPrefix(path, "/api/uploads"))
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 * 1024,
	}))

	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}
}
