package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/trymwestin/aqara/internal/core/state"
)

const (
	wsPingInterval = 30 * time.Second
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 5 * time.Second
)

// frame is one event pushed to a WebSocket client.
type frame struct {
	Type      state.EventType `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      any             `json:"data,omitempty"`
}

// wsConn serializes writes to one client. Frames are JSON text messages,
// or binary google.protobuf.Struct messages when binary is set.
type wsConn struct {
	ws     *websocket.Conn
	mu     sync.Mutex // protects writes
	binary bool
}

func newWSConn(ws *websocket.Conn, binary bool) *wsConn {
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})
	return &wsConn{ws: ws, binary: binary}
}

func (c *wsConn) Send(f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("httpapi: marshal frame: %w", err)
	}
	msgType := websocket.TextMessage
	if c.binary {
		if data, err = structFrame(data); err != nil {
			return err
		}
		msgType = websocket.BinaryMessage
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.ws.WriteMessage(msgType, data); err != nil {
		return fmt.Errorf("httpapi: write: %w", err)
	}
	return nil
}

func (c *wsConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(wsWriteTimeout))
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

// structFrame re-encodes a JSON frame as a serialized structpb.Struct.
func structFrame(jsonData []byte) ([]byte, error) {
	var m map[string]any
	if err := json.Unmarshal(jsonData, &m); err != nil {
		return nil, fmt.Errorf("httpapi: decode frame: %w", err)
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("httpapi: struct frame: %w", err)
	}
	data, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("httpapi: marshal struct frame: %w", err)
	}
	return data, nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleWS streams the entry's events. The current snapshot, when there is
// one, is sent first. ?format=proto selects binary frames.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}

	up := upgrader
	if s.corsAll {
		up.CheckOrigin = func(*http.Request) bool { return true }
	}
	ws, err := up.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "entry_id", e.ID, "error", err)
		return
	}
	conn := newWSConn(ws, r.URL.Query().Get("format") == "proto")
	defer conn.Close()

	log := s.log.With("entry_id", e.ID, "remote_addr", r.RemoteAddr)
	log.Info("websocket client connected")
	defer log.Info("websocket client disconnected")

	events, unsub := e.Coordinator.Bus().Subscribe(64)
	defer unsub()

	if snap, ok := e.Coordinator.Snapshot(); ok {
		if err := conn.Send(frame{Type: state.EventSnapshotUpdate, Timestamp: snap.UpdatedAt, Data: snap}); err != nil {
			log.Warn("websocket send failed", "error", err)
			return
		}
	}

	// The read loop only services control frames and detects close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		_ = ws.SetReadDeadline(time.Now().Add(wsReadTimeout))
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				log.Debug("websocket ping failed", "error", err)
				return
			}
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := conn.Send(frame{Type: evt.Type, Timestamp: evt.Timestamp, Data: evt.Data}); err != nil {
				log.Warn("websocket send failed", "error", err)
				return
			}
		}
	}
}
