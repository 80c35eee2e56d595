// Package backend talks to the StudyLM ingestion API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/studylm/uploader/internal/logging"
	"github.com/studylm/uploader/internal/models"
)

// Endpoint paths on the StudyLM backend.
const (
	PathUpload      = "/upload"
	PathUploadImage = "/upload_image"
	PathIngestURL   = "/ingest_url"
	PathStatus      = "/status/"
)

// maxErrorBody bounds how much of a failed response is kept.
const maxErrorBody = 64 << 10

// HTTPError is a non-2xx response. Body is the response body verbatim.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: backend returned %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s %s: backend returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// ErrInvalidResponse is returned when a 2xx body cannot be decoded.
var ErrInvalidResponse = errors.New("invalid backend response")

// ErrMissingFileID is returned when a 2xx submit response has no file_id.
var ErrMissingFileID = errors.New("backend response has no file_id")

// Client is an HTTP client for the StudyLM backend.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *logging.Logger
}

// NewClient creates a client for baseURL. A zero timeout means no client-side limit.
func NewClient(baseURL string, timeout time.Duration, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With("component", "backend"),
	}
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// UploadPDF submits a PDF to /upload.
func (c *Client) UploadPDF(ctx context.Context, name string, body io.Reader) (*models.SubmitResponse, error) {
	return c.uploadFile(ctx, PathUpload, name, "application/pdf", body)
}

// UploadImage submits a PNG or JPEG to /upload_image.
func (c *Client) UploadImage(ctx context.Context, name, contentType string, body io.Reader) (*models.SubmitResponse, error) {
	return c.uploadFile(ctx, PathUploadImage, name, contentType, body)
}

// IngestURL submits a link to /ingest_url.
func (c *Client) IngestURL(ctx context.Context, link string) (*models.SubmitResponse, error) {
	payload, err := json.Marshal(map[string]string{"url": link})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+PathIngestURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp models.SubmitResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	if resp.FileID == "" {
		return nil, ErrMissingFileID
	}
	return &resp, nil
}

// Status fetches the readiness of one file.
func (c *Client) Status(ctx context.Context, fileID string) (*models.StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+PathStatus+url.PathEscape(fileID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	var resp models.StatusResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) uploadFile(ctx context.Context, path, name, contentType string, body io.Reader) (*models.SubmitResponse, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	// CreateFormFile would label the part application/octet-stream; the backend checks the part type.
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(name)))
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to create form part: %w", err)
	}
	if _, err := io.Copy(part, body); err != nil {
		return nil, fmt.Errorf("failed to read upload body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var resp models.SubmitResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	if resp.FileID == "" {
		return nil, ErrMissingFileID
	}
	return &resp, nil
}

func (c *Client) do(req *http.Request, out any) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Debug("backend request failed",
			"method", req.Method,
			"path", req.URL.Path,
			"status", resp.StatusCode,
			"duration_ms", time.Since(start).Milliseconds())
		return &HTTPError{
			Method:     req.Method,
			Path:       req.URL.Path,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: %w: %w", req.Method, req.URL.Path, ErrInvalidResponse, err)
	}

	c.logger.Debug("backend request",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
