// mock_backend.go - Scripted StudyLM backend for tests
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// StatusReply is one scripted response to GET /status/:id.
type StatusReply struct {
	Code int
	Body string
}

// NotReady replies {"ready":false,"stage":stage}.
func NotReady(stage string) StatusReply {
	return StatusReply{Code: http.StatusOK, Body: `{"ready":false,"stage":"` + stage + `"}`}
}

// Ready replies {"ready":true} without a stage.
func Ready() StatusReply {
	return StatusReply{Code: http.StatusOK, Body: `{"ready":true}`}
}

// Failed replies with a backend-reported processing error.
func Failed(message string) StatusReply {
	return StatusReply{Code: http.StatusOK, Body: `{"ready":false,"stage":"error","error":"` + message + `"}`}
}

// HTTPFailure replies with a non-2xx status.
func HTTPFailure(code int, body string) StatusReply {
	return StatusReply{Code: code, Body: body}
}

// Submission records one ingestion request.
type Submission struct {
	Path        string
	FileName    string
	ContentType string
	Size        int64
	URL         string
}

// MockBackend serves the StudyLM ingestion endpoints from scripted replies.
type MockBackend struct {
	Server *httptest.Server

	mu            sync.Mutex
	fileIDs       []string
	submitFailure *StatusReply
	statuses      map[string][]StatusReply
	defaultStatus StatusReply
	submissions   []Submission
	statusCalls   map[string]int
	inFlight      map[string]int
	maxInFlight   map[string]int
	statusHook    func(id string)
}

// NewMockBackend starts a backend that is closed when the test ends.
func NewMockBackend(t testing.TB) *MockBackend {
	m := &MockBackend{
		statuses:      make(map[string][]StatusReply),
		defaultStatus: NotReady("parsing"),
		statusCalls:   make(map[string]int),
		inFlight:      make(map[string]int),
		maxInFlight:   make(map[string]int),
	}

	e := echo.New()
	e.POST("/upload", m.handleUpload)
	e.POST("/upload_image", m.handleUploadImage)
	e.POST("/ingest_url", m.handleIngestURL)
	e.GET("/status/:id", m.handleStatus)

	m.Server = httptest.NewServer(e)
	t.Cleanup(m.Server.Close)
	return m
}

// URL returns the base URL of the backend.
func (m *MockBackend) URL() string {
	return m.Server.URL
}

// QueueFileIDs makes the next submissions return these ids in order.
func (m *MockBackend) QueueFileIDs(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fileIDs = append(m.fileIDs, ids...)
}

// FailSubmissions makes every submission return code with body.
func (m *MockBackend) FailSubmissions(code int, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitFailure = &StatusReply{Code: code, Body: body}
}

// ScriptStatus sets the replies for id. The last reply repeats.
func (m *MockBackend) ScriptStatus(id string, replies ...StatusReply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[id] = append(m.statuses[id], replies...)
}

// SetStatusHook runs fn inside every status request, before the reply is written.
func (m *MockBackend) SetStatusHook(fn func(id string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusHook = fn
}

// Submissions returns every recorded ingestion request.
func (m *MockBackend) Submissions() []Submission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Submission(nil), m.submissions...)
}

// StatusCalls returns how many status requests were made for id.
func (m *MockBackend) StatusCalls(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusCalls[id]
}

// MaxConcurrentPolls returns the peak number of simultaneous status requests for id.
func (m *MockBackend) MaxConcurrentPolls(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight[id]
}

func (m *MockBackend) nextFileID() string {
	if len(m.fileIDs) == 0 {
		return uuid.NewString()
	}
	id := m.fileIDs[0]
	m.fileIDs = m.fileIDs[1:]
	return id
}

// submit records sub and returns either the scripted failure or a new file id.
func (m *MockBackend) submit(c echo.Context, sub Submission) error {
	m.mu.Lock()
	m.submissions = append(m.submissions, sub)
	failure := m.submitFailure
	var id string
	if failure == nil {
		id = m.nextFileID()
	}
	m.mu.Unlock()

	if failure != nil {
		return c.String(failure.Code, failure.Body)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"file_id": id,
		"message": "File queued for processing.",
	})
}

func (m *MockBackend) handleUpload(c echo.Context) error {
	sub, err := readFilePart(c, "/upload")
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"detail": "file is required"})
	}
	if sub.ContentType != "application/pdf" {
		m.mu.Lock()
		m.submissions = append(m.submissions, sub)
		m.mu.Unlock()
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": "Only PDFs allowed"})
	}
	return m.submit(c, sub)
}

func (m *MockBackend) handleUploadImage(c echo.Context) error {
	sub, err := readFilePart(c, "/upload_image")
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"detail": "file is required"})
	}
	switch sub.ContentType {
	case "image/png", "image/jpeg", "image/jpg":
	default:
		m.mu.Lock()
		m.submissions = append(m.submissions, sub)
		m.mu.Unlock()
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": "Only PNG/JPEG images allowed"})
	}
	return m.submit(c, sub)
}

func (m *MockBackend) handleIngestURL(c echo.Context) error {
	var req struct {
		URL string `json:"url"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"detail": "invalid body"})
	}
	sub := Submission{Path: "/ingest_url", URL: req.URL}
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		m.mu.Lock()
		m.submissions = append(m.submissions, sub)
		m.mu.Unlock()
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": "Invalid URL"})
	}
	return m.submit(c, sub)
}

func (m *MockBackend) handleStatus(c echo.Context) error {
	id := c.Param("id")

	m.mu.Lock()
	m.statusCalls[id]++
	m.inFlight[id]++
	if m.inFlight[id] > m.maxInFlight[id] {
		m.maxInFlight[id] = m.inFlight[id]
	}
	reply := m.defaultStatus
	if script := m.statuses[id]; len(script) > 0 {
		reply = script[0]
		if len(script) > 1 {
			m.statuses[id] = script[1:]
		}
	}
	hook := m.statusHook
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight[id]--
		m.mu.Unlock()
	}()

	if hook != nil {
		hook(id)
	}

	contentType := echo.MIMEApplicationJSON
	if !strings.HasPrefix(strings.TrimSpace(reply.Body), "{") {
		contentType = echo.MIMETextPlainCharsetUTF8
	}
	return c.Blob(reply.Code, contentType, []byte(reply.Body))
}

func readFilePart(c echo.Context, path string) (Submission, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return Submission{}, err
	}
	src, err := fh.Open()
	if err != nil {
		return Submission{}, err
	}
	defer src.Close()

	n, err := io.Copy(io.Discard, src)
	if err != nil {
		return Submission{}, err
	}
	return Submission{
		Path:        path,
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        n,
	}, nil
}
