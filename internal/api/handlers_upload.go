// handlers_upload.go - Upload submission and tracking handlers
package api

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/studylm/uploader/internal/logging"
	"github.com/studylm/uploader/internal/models"
	"github.com/studylm/uploader/internal/upload"
	"github.com/vmihailenco/msgpack/v5"
)

// MIMEApplicationMsgpack is the content type of msgpack responses
const MIMEApplicationMsgpack = "application/msgpack"

// UploadHandlerImpl implements the UploadHandler interface
type UploadHandlerImpl struct {
	tracker Tracker
	logger  *logging.Logger
}

// NewUploadHandler creates a new upload handler instance
func NewUploadHandler(tracker Tracker, logger *logging.Logger) UploadHandler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &UploadHandlerImpl{
		tracker: tracker,
		logger:  logger,
	}
}

// HandleUploadFiles accepts one or more multipart "file" fields and submits them as a batch
func (h *UploadHandlerImpl) HandleUploadFiles(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return NewBadRequestError("expected multipart form data", err)
	}
	headers := form.File["file"]
	if len(headers) == 0 {
		return NewValidationError("file")
	}

	items := make([]upload.Item, 0, len(headers))
	defer func() {
		for _, it := range items {
			it.Close()
		}
	}()
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return NewBadRequestError("failed to read uploaded file", err)
		}
		it := upload.FileItem(fh.Filename, fh.Size, f)
		it.ContentType = fh.Header.Get(echo.HeaderContentType)
		items = append(items, upload.WithCloser(it, f))
	}

	results := h.tracker.SubmitBatch(c.Request().Context(), items)

	resp := uploadFilesResponse{Results: make([]uploadResult, len(results))}
	accepted := 0
	var firstErr *APIError
	for i, r := range results {
		resp.Results[i].Item = r.Item
		if r.Err != nil {
			apiErr := FromUploadError(r.Err)
			resp.Results[i].Error = apiErr
			if firstErr == nil {
				firstErr = apiErr
			}
			continue
		}
		resp.Results[i].Entry = r.Entry
		accepted++
	}

	// Nothing was accepted: answer with the first failure so single-file uploads get a plain error.
	if accepted == 0 {
		return firstErr
	}
	return c.JSON(http.StatusCreated, resp)
}

// HandleIngestURL submits a link for ingestion
func (h *UploadHandlerImpl) HandleIngestURL(c echo.Context) error {
	var req ingestURLRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}

	entry, err := h.tracker.Submit(c.Request().Context(), upload.URLItem(req.URL))
	if err != nil {
		return FromUploadError(err)
	}
	return c.JSON(http.StatusCreated, entry)
}

// HandleListUploads returns every tracked entry in submission order
func (h *UploadHandlerImpl) HandleListUploads(c echo.Context) error {
	return c.JSON(http.StatusOK, h.tracker.Entries())
}

// HandleListUploadsMsgpack returns the entry list encoded as msgpack with the JSON field names
func (h *UploadHandlerImpl) HandleListUploadsMsgpack(c echo.Context) error {
	data, err := encodeMsgpack(h.tracker.Entries())
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(http.StatusOK, MIMEApplicationMsgpack, data)
}

// HandleGetUpload returns one entry
func (h *UploadHandlerImpl) HandleGetUpload(c echo.Context) error {
	id := c.Param("id")
	entry, ok := h.tracker.Get(id)
	if !ok {
		return NewNotFoundError("upload", id)
	}
	return c.JSON(http.StatusOK, entry)
}

// HandleCheckAgain restarts polling for an entry that stopped without a result
func (h *UploadHandlerImpl) HandleCheckAgain(c echo.Context) error {
	id := c.Param("id")
	entry, err := h.tracker.CheckAgain(id)
	if err != nil {
		return FromUploadError(err)
	}
	return c.JSON(http.StatusAccepted, entry)
}

// HandleDismissUpload stops tracking an entry
func (h *UploadHandlerImpl) HandleDismissUpload(c echo.Context) error {
	if err := h.tracker.Dismiss(c.Param("id")); err != nil {
		return FromUploadError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Request/Response types

type ingestURLRequest struct {
	URL string `json:"url"`
}

func (r *ingestURLRequest) validate() error {
	r.URL = strings.TrimSpace(r.URL)
	if r.URL == "" {
		return NewValidationError("url")
	}
	return nil
}

type uploadResult struct {
	Item  string              `json:"item"`
	Entry *models.UploadEntry `json:"entry,omitempty"`
	Error *APIError           `json:"error,omitempty"`
}

type uploadFilesResponse struct {
	Results []uploadResult `json:"results"`
}

func encodeMsgpack(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
