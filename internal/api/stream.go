package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	maxStreamConns = 8
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Same-origin policy is enforced by corsMiddleware for the REST
	// endpoints; the stream accepts any origin like the rest of the
	// read-only surface.
	CheckOrigin: func(r *http.Request) bool { return true },
}

var streamConns int32

// handleStream upgrades to a WebSocket and pushes snapshot frames at the
// configured FPS. Control messages ({"control": {...}}) received on the
// socket are applied through the same path as the POST endpoint, gated by
// the same admin token (carried in the upgrade request's Authorization
// header).
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	current := atomic.AddInt32(&streamConns, 1)
	if current > maxStreamConns {
		atomic.AddInt32(&streamConns, -1)
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}
	defer atomic.AddInt32(&streamConns, -1)

	isAdmin := s.AdminKey != "" && s.checkBearerToken(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	subID, frames := s.Runner.Subscribe()
	defer s.Runner.Unsubscribe(subID)
	slog.Info("stream client connected", "sub_id", subID, "remote", r.RemoteAddr)

	// Initial frame so the client renders immediately.
	if snap := s.Runner.Simulation().Latest(); snap != nil {
		if err := writeFrame(conn, snap); err != nil {
			return
		}
	}

	// Reader: control messages and connection liveness.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			conn.SetReadDeadline(time.Now().Add(pongWait))

			var msg struct {
				Control *controlRequest `json:"control"`
			}
			if err := json.Unmarshal(data, &msg); err != nil || msg.Control == nil {
				writeError(conn, "invalid message")
				continue
			}
			if !isAdmin {
				writeError(conn, "control requires admin authorization")
				continue
			}
			if err := s.applyControl(*msg.Control); err != nil {
				writeError(conn, err.Error())
			}
		}
	}()

	fps := s.StreamFPS
	if fps <= 0 {
		fps = 5
	}
	frameInterval := time.Second / time.Duration(fps)
	lastSent := time.Time{}

	ping := time.NewTicker(pongWait / 3)
	defer ping.Stop()

	for {
		select {
		case snap, ok := <-frames:
			if !ok {
				return
			}
			// The runner broadcasts every tick; forward at most one
			// frame per interval.
			if time.Since(lastSent) < frameInterval {
				continue
			}
			if err := writeFrame(conn, snap); err != nil {
				slog.Info("stream client disconnected", "sub_id", subID)
				return
			}
			lastSent = time.Now()
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			slog.Info("stream client closed", "sub_id", subID)
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func writeError(conn *websocket.Conn, msg string) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteJSON(map[string]string{"error": msg})
}
