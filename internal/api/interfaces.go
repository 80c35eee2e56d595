// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/studylm/uploader/internal/models"
	"github.com/studylm/uploader/internal/upload"
)

// UploadHandler handles submission and tracking of uploads
type UploadHandler interface {
	HandleUploadFiles(c echo.Context) error
	HandleIngestURL(c echo.Context) error
	HandleListUploads(c echo.Context) error
	HandleListUploadsMsgpack(c echo.Context) error
	HandleGetUpload(c echo.Context) error
	HandleCheckAgain(c echo.Context) error
	HandleDismissUpload(c echo.Context) error
}

// FeedHandler streams tracker changes over WebSocket
type FeedHandler interface {
	HandleUploadFeed(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// Tracker is the part of upload.Tracker the handlers use.
// This allows swapping in a stub in tests.
type Tracker interface {
	Submit(ctx context.Context, it upload.Item) (models.UploadEntry, error)
	SubmitBatch(ctx context.Context, items []upload.Item) []upload.BatchResult
	Entries() []models.UploadEntry
	Get(id string) (models.UploadEntry, bool)
	Err(id string) error
	CheckAgain(id string) (models.UploadEntry, error)
	Dismiss(id string) error
	Subscribe() *upload.Subscription
	Unsubscribe(sub *upload.Subscription)
}
