// handlers_upload_test.go - Tests for upload handlers
package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/studylm/uploader/internal/backend"
	"github.com/studylm/uploader/internal/clock"
	"github.com/studylm/uploader/internal/models"
	"github.com/studylm/uploader/internal/testutil"
	"github.com/studylm/uploader/internal/upload"
	"github.com/vmihailenco/msgpack/v5"
)

var samplePDF = []byte("%PDF-1.4\n% not parsed by the client\n%%EOF\n")

type testEnv struct {
	tracker *upload.Tracker
	backend *testutil.MockBackend
	clock   *clock.Fake
	handler UploadHandler
}

func newTestEnv(t *testing.T, mutate func(*upload.Options)) *testEnv {
	t.Helper()
	mb := testutil.NewMockBackend(t)
	fake := clock.NewFake()

	opts := upload.DefaultOptions()
	opts.Scheduler = fake
	opts.DisplayTimeout = 0
	if mutate != nil {
		mutate(&opts)
	}
	tr := upload.New(backend.NewClient(mb.URL(), 5*time.Second, nil), opts)
	t.Cleanup(tr.CancelAll)

	return &testEnv{
		tracker: tr,
		backend: mb,
		clock:   fake,
		handler: NewUploadHandler(tr, nil),
	}
}

type formFile struct {
	name string
	data []byte
}

func multipartRequest(t *testing.T, files ...formFile) *http.Request {
	t.Helper()
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	for _, f := range files {
		part, err := writer.CreateFormFile("file", f.name)
		require.NoError(t, err)
		part.Write(f.data)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	return req
}

func requireAPIError(t *testing.T, err error, status int, code string) *APIError {
	t.Helper()
	require.Error(t, err)
	apiErr, ok := err.(*APIError)
	require.True(t, ok, "expected APIError, got %T", err)
	assert.Equal(t, status, apiErr.Status)
	assert.Equal(t, code, apiErr.Code)
	return apiErr
}

func TestUploadHandler_HandleUploadFiles(t *testing.T) {
	env := newTestEnv(t, nil)
	env.backend.QueueFileIDs("abc123")

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(multipartRequest(t, formFile{"notes.pdf", samplePDF}), rec)

	require.NoError(t, env.handler.HandleUploadFiles(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var resp uploadFilesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	require.NotNil(t, resp.Results[0].Entry)
	assert.Equal(t, "abc123", resp.Results[0].Entry.ID)
	assert.Equal(t, models.EntryStatusIndexing, resp.Results[0].Entry.Status)
	assert.Equal(t, "parsing", resp.Results[0].Entry.StageName())

	subs := env.backend.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, "/upload", subs[0].Path)
	assert.Equal(t, "application/pdf", subs[0].ContentType)
	assert.Equal(t, int64(len(samplePDF)), subs[0].Size)
}

func TestUploadHandler_HandleUploadFiles_PartialFailure(t *testing.T) {
	env := newTestEnv(t, nil)

	e := echo.New()
	rec := httptest.NewRecorder()
	req := multipartRequest(t,
		formFile{"board.png", []byte("\x89PNG")},
		formFile{"essay.docx", []byte("PK")},
	)
	c := e.NewContext(req, rec)

	require.NoError(t, env.handler.HandleUploadFiles(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var resp uploadFilesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.NotNil(t, resp.Results[0].Entry)
	assert.Nil(t, resp.Results[0].Error)
	assert.Equal(t, "essay.docx", resp.Results[1].Item)
	require.NotNil(t, resp.Results[1].Error)
	assert.Equal(t, upload.CodeUnsupportedType, resp.Results[1].Error.Code)
}

func TestUploadHandler_HandleUploadFiles_Errors(t *testing.T) {
	tests := []struct {
		name       string
		request    func(t *testing.T) *http.Request
		setup      func(env *testEnv)
		wantStatus int
		errCode    string
	}{
		{
			name: "unsupported type",
			request: func(t *testing.T) *http.Request {
				return multipartRequest(t, formFile{"notes.txt", []byte("hello")})
			},
			wantStatus: http.StatusBadRequest,
			errCode:    upload.CodeUnsupportedType,
		},
		{
			name: "empty file",
			request: func(t *testing.T) *http.Request {
				return multipartRequest(t, formFile{"empty.pdf", nil})
			},
			wantStatus: http.StatusBadRequest,
			errCode:    upload.CodeEmptyFile,
		},
		{
			name: "batch too large",
			request: func(t *testing.T) *http.Request {
				files := make([]formFile, 6)
				for i := range files {
					files[i] = formFile{"notes.pdf", samplePDF}
				}
				return multipartRequest(t, files...)
			},
			wantStatus: http.StatusBadRequest,
			errCode:    upload.CodeBatchTooLarge,
		},
		{
			name: "backend rejection keeps status",
			request: func(t *testing.T) *http.Request {
				return multipartRequest(t, formFile{"notes.pdf", samplePDF})
			},
			setup: func(env *testEnv) {
				env.backend.FailSubmissions(http.StatusRequestEntityTooLarge, `{"detail":"PDF exceeds 200 pages"}`)
			},
			wantStatus: http.StatusRequestEntityTooLarge,
			errCode:    upload.CodeBackendRejected,
		},
		{
			name: "no file field",
			request: func(t *testing.T) *http.Request {
				return multipartRequest(t)
			},
			wantStatus: http.StatusBadRequest,
			errCode:    "VALIDATION_ERROR",
		},
		{
			name: "not multipart",
			request: func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/api/uploads", strings.NewReader(`{}`))
				req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
				return req
			},
			wantStatus: http.StatusBadRequest,
			errCode:    "BAD_REQUEST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			if tt.setup != nil {
				tt.setup(env)
			}

			e := echo.New()
			c := e.NewContext(tt.request(t), httptest.NewRecorder())

			err := env.handler.HandleUploadFiles(c)
			requireAPIError(t, err, tt.wantStatus, tt.errCode)
			assert.Empty(t, env.tracker.Entries())
		})
	}
}

func TestUploadHandler_BackendBodyInDetails(t *testing.T) {
	env := newTestEnv(t, nil)
	env.backend.FailSubmissions(http.StatusBadRequest, `{"detail":"Only PDFs allowed"}`)

	e := echo.New()
	c := e.NewContext(multipartRequest(t, formFile{"notes.pdf", samplePDF}), httptest.NewRecorder())

	apiErr := requireAPIError(t, env.handler.HandleUploadFiles(c), http.StatusBadRequest, upload.CodeBackendRejected)
	assert.Equal(t, `{"detail":"Only PDFs allowed"}`, apiErr.Details)
}

func TestUploadHandler_HandleIngestURL(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantErr    bool
		errCode    string
	}{
		{name: "valid link", body: `{"url":"https://example.com/article"}`, wantStatus: http.StatusCreated},
		{name: "empty url", body: `{"url":"  "}`, wantStatus: http.StatusBadRequest, wantErr: true, errCode: "VALIDATION_ERROR"},
		{name: "ftp url", body: `{"url":"ftp://example.com"}`, wantStatus: http.StatusBadRequest, wantErr: true, errCode: upload.CodeInvalidURL},
		{name: "invalid JSON", body: `{"url":`, wantStatus: http.StatusBadRequest, wantErr: true, errCode: "BAD_REQUEST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.backend.QueueFileIDs("url-9")

			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/api/uploads/url", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := env.handler.HandleIngestURL(c)
			if tt.wantErr {
				requireAPIError(t, err, tt.wantStatus, tt.errCode)
				assert.Empty(t, env.backend.Submissions())
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, rec.Code)

			var entry models.UploadEntry
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
			assert.Equal(t, "url-9", entry.ID)
			assert.Equal(t, models.SourceKindURL, entry.Kind)
			assert.Nil(t, entry.Size)
		})
	}
}

func TestUploadHandler_ListAndGet(t *testing.T) {
	env := newTestEnv(t, nil)
	env.backend.QueueFileIDs("a", "b")
	for _, link := range []string{"https://example.com/a", "https://example.com/b"} {
		_, err := env.tracker.Submit(t.Context(), upload.URLItem(link))
		require.NoError(t, err)
	}

	e := echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/uploads", nil), rec)
	require.NoError(t, env.handler.HandleListUploads(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var entries []models.UploadEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].ID)
	assert.Equal(t, "b", entries[1].ID)

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/api/uploads/b", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues("b")
	require.NoError(t, env.handler.HandleGetUpload(c))
	assert.Contains(t, rec.Body.String(), `"id":"b"`)
	assert.Contains(t, rec.Body.String(), `"status":"indexing"`)

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/api/uploads/zzz", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("zzz")
	requireAPIError(t, env.handler.HandleGetUpload(c), http.StatusNotFound, "NOT_FOUND")
}

func TestUploadHandler_ListMsgpack(t *testing.T) {
	env := newTestEnv(t, nil)
	env.backend.QueueFileIDs("abc123")
	_, err := env.tracker.Submit(t.Context(), upload.BytesItem("notes.pdf", samplePDF))
	require.NoError(t, err)

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/uploads/msgpack", nil), rec)
	require.NoError(t, env.handler.HandleListUploadsMsgpack(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, MIMEApplicationMsgpack, rec.Header().Get(echo.HeaderContentType))

	var decoded []map[string]interface{}
	require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "abc123", decoded[0]["id"])
	assert.Equal(t, "notes.pdf", decoded[0]["name"])
	assert.Equal(t, "indexing", decoded[0]["status"])
	assert.Equal(t, "parsing", decoded[0]["stage"])
}

func TestUploadHandler_CheckAgain(t *testing.T) {
	env := newTestEnv(t, func(o *upload.Options) { o.MaxAttempts = 1 })
	env.backend.QueueFileIDs("slow")
	_, err := env.tracker.Submit(t.Context(), upload.URLItem("https://example.com/slow"))
	require.NoError(t, err)

	e := echo.New()
	check := func(id string) (*httptest.ResponseRecorder, error) {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodPost, "/api/uploads/"+id+"/check", nil), rec)
		c.SetParamNames("id")
		c.SetParamValues(id)
		return rec, env.handler.HandleCheckAgain(c)
	}

	// Still polling.
	_, err = check("slow")
	requireAPIError(t, err, http.StatusConflict, "CONFLICT")

	env.clock.RunAll(10)
	got, _ := env.tracker.Get("slow")
	require.Equal(t, models.EntryStatusExhausted, got.Status)

	rec, err := check("slow")
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"indexing"`)

	_, err = check("missing")
	requireAPIError(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestUploadHandler_Dismiss(t *testing.T) {
	env := newTestEnv(t, nil)
	env.backend.QueueFileIDs("doc-1")
	_, err := env.tracker.Submit(t.Context(), upload.URLItem("https://example.com"))
	require.NoError(t, err)

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodDelete, "/api/uploads/doc-1", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues("doc-1")
	require.NoError(t, env.handler.HandleDismissUpload(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, env.tracker.Entries())
	assert.Equal(t, 0, env.clock.Pending())

	c = e.NewContext(httptest.NewRequest(http.MethodDelete, "/api/uploads/doc-1", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("doc-1")
	requireAPIError(t, env.handler.HandleDismissUpload(c), http.StatusNotFound, "NOT_FOUND")
}

func TestUploadHandler_ClosedTracker(t *testing.T) {
	env := newTestEnv(t, nil)
	env.tracker.CancelAll()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/uploads/url", strings.NewReader(`{"url":"https://example.com"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	requireAPIError(t, env.handler.HandleIngestURL(c), http.StatusServiceUnavailable, upload.CodeTrackerClosed)
}
