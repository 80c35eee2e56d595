package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/studylm/uploader/internal/config"
	"github.com/studylm/uploader/internal/models"
	"github.com/studylm/uploader/internal/upload"
)

func newTestServer(t *testing.T, env *testEnv) *httptest.Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Advanced.EnableRequestLogging = false

	e := echo.New()
	SetupMiddleware(e, cfg)
	RegisterRoutes(e, NewHandlers(&Dependencies{
		Tracker:    env.tracker,
		BackendURL: env.backend.URL(),
		Version:    "test",
	}))

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	var msg WSMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketFeed(t *testing.T) {
	env := newTestEnv(t, nil)
	env.backend.QueueFileIDs("existing", "doc-2")
	_, err := env.tracker.Submit(t.Context(), upload.URLItem("https://example.com/existing"))
	require.NoError(t, err)

	srv := newTestServer(t, env)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/uploads"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	snapshot := readMessage(t, conn)
	assert.Equal(t, MsgTypeSnapshot, snapshot.Type)
	assert.NotEmpty(t, snapshot.ID)
	require.Len(t, snapshot.Entries, 1)
	assert.Equal(t, "existing", snapshot.Entries[0].ID)

	_, err = env.tracker.Submit(t.Context(), upload.URLItem("https://example.com/doc-2"))
	require.NoError(t, err)

	added := readMessage(t, conn)
	assert.Equal(t, upload.EventEntryUpdated, added.Type)
	require.NotNil(t, added.Entry)
	assert.Equal(t, "doc-2", added.Entry.ID)
	assert.Equal(t, models.EntryStatusIndexing, added.Entry.Status)

	require.NoError(t, env.tracker.Dismiss("doc-2"))
	removed := readMessage(t, conn)
	assert.Equal(t, upload.EventEntryRemoved, removed.Type)
	assert.Equal(t, "doc-2", removed.ID)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: MsgTypePing}))
	assert.Equal(t, MsgTypePong, readMessage(t, conn).Type)

	env.tracker.CancelAll()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg WSMessage
	err = conn.ReadJSON(&msg)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestRoutes_EndToEnd(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := newTestServer(t, env)

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/uploads/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var apiErr APIError
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&apiErr))
	assert.Equal(t, "NOT_FOUND", apiErr.Code)

	resp, err = http.Post(srv.URL+"/api/uploads/url", echo.MIMEApplicationJSON, strings.NewReader(`{"url":"https://example.com"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Len(t, env.tracker.Entries(), 1)
}
