package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/studylm/uploader/internal/logging"
	"github.com/studylm/uploader/internal/models"
)

// WebSocket message types for the upload feed
const (
	// Client -> Server messages
	MsgTypePing = "ping"

	// Server -> Client messages
	MsgTypeSnapshot = "snapshot"
	MsgTypePong     = "pong"
	// Entry events use upload.EventEntryUpdated and upload.EventEntryRemoved.
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// WSMessage is one message on the upload feed
type WSMessage struct {
	Type      string               `json:"type"`
	ID        string               `json:"id,omitempty"`
	Entry     *models.UploadEntry  `json:"entry,omitempty"`
	Entries   []models.UploadEntry `json:"entries,omitempty"`
	Timestamp int64                `json:"timestamp"`
}

// WebSocketHandler streams tracker events to browser clients
type WebSocketHandler struct {
	tracker  Tracker
	upgrader websocket.Upgrader
	logger   *logging.Logger
}

// NewWebSocketHandler creates a new upload feed handler
func NewWebSocketHandler(tracker Tracker, logger *logging.Logger) *WebSocketHandler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &WebSocketHandler{
		tracker: tracker,
		upgrader: websocket.Upgrader{
			// Origin is enforced by the CORS configuration of the bridge server.
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
		},
		logger: logger,
	}
}

// HandleUploadFeed sends a snapshot of all entries followed by one message per change.
func (wsh *WebSocketHandler) HandleUploadFeed(c echo.Context) error {
	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	connID := uuid.NewString()
	log := wsh.logger.With("conn", connID)
	log.Debug("feed client connected")

	// Subscribe before the snapshot so no change is missed in between.
	sub := wsh.tracker.Subscribe()
	defer func() { wsh.tracker.Unsubscribe(sub) }()

	if err := wsh.write(ws, WSMessage{Type: MsgTypeSnapshot, ID: connID, Entries: wsh.tracker.Entries()}); err != nil {
		return nil
	}

	pings := make(chan struct{}, 1)
	done := make(chan struct{})
	go wsh.readLoop(ws, pings, done, log)

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				// Tracker closed or this client fell behind.
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "upload feed closed")
				ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
				return nil
			}
			entry := ev.Entry
			if err := wsh.write(ws, WSMessage{Type: ev.Type, ID: entry.ID, Entry: &entry}); err != nil {
				log.Debug("feed write failed", "error", err)
				return nil
			}
		case <-pings:
			if err := wsh.write(ws, WSMessage{Type: MsgTypePong}); err != nil {
				return nil
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return nil
			}
		case <-done:
			log.Debug("feed client disconnected")
			return nil
		}
	}
}

// readLoop consumes client messages until the connection closes.
func (wsh *WebSocketHandler) readLoop(ws *websocket.Conn, pings chan<- struct{}, done chan<- struct{}, log *logging.Logger) {
	defer close(done)

	ws.SetReadLimit(4 * 1024)
	ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn("feed connection error", "error", err)
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(wsPongWait))

		if msg.Type == MsgTypePing {
			select {
			case pings <- struct{}{}:
			default:
			}
		}
	}
}

func (wsh *WebSocketHandler) write(ws *websocket.Conn, msg WSMessage) error {
	msg.Timestamp = time.Now().UnixMilli()
	ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return ws.WriteJSON(msg)
}
