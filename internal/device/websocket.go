package device

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/interview-coach/internal/identity"
	"github.com/coder/websocket"
)

// controlMessage is a text frame exchanged with the browser.
type controlMessage struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

// WebSocketHandler attaches browser camera streams to a Hub.
// Binary messages are encoded frames; text messages are JSON control
// messages (ping, error).
type WebSocketHandler struct {
	hub           *Hub
	maxFrameBytes int64
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a handler feeding hub.
func NewWebSocketHandler(hub *Hub, maxFrameBytes int64, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		hub:           hub,
		maxFrameBytes: maxFrameBytes,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for the camera WebSocket.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sc, ok := identity.FromContext(r.Context())
	if !ok || sc.SessionID == "" {
		http.Error(w, "missing session", http.StatusUnauthorized)
		return
	}
	key := sc.Key()
	slog.Info("Camera connection request", "user_id", sc.UserID, "session_id", sc.SessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept camera WebSocket", "error", err, "user_id", sc.UserID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "camera stopped"); closeErr != nil {
			slog.Debug("Failed to close camera WebSocket", "error", closeErr, "user_id", sc.UserID)
		}
	}()
	if h.maxFrameBytes > 0 {
		ws.SetReadLimit(h.maxFrameBytes)
	}

	f := h.hub.feedFor(key)
	f.attach()
	defer h.hub.detach(key, f)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Tell the browser to stop its tracks once the device is released.
	go func() {
		select {
		case <-f.stop:
			if err := writeJSON(ctx, ws, controlMessage{Type: "stop"}); err != nil {
				slog.Debug("Failed to send stop", "error", err, "key", key)
			}
			cancel()
		case <-ctx.Done():
		}
	}()

	h.readLoop(ctx, ws, f)
	slog.Info("Camera stream ended", "user_id", sc.UserID, "session_id", sc.SessionID)
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, f *feed) {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			switch {
			case websocket.CloseStatus(err) != -1:
				slog.Debug("Camera WebSocket closed by client", "key", f.key)
			case errors.Is(err, context.Canceled):
			default:
				slog.Warn("Camera WebSocket read error", "error", err, "key", f.key)
			}
			return
		}

		if typ == websocket.MessageBinary {
			if err := h.hub.pushTo(f, data); err != nil {
				if errors.Is(err, ErrReleased) {
					return
				}
				slog.Debug("Dropped camera frame", "error", err, "key", f.key)
			}
			continue
		}

		var msg controlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("Ignoring malformed control message", "error", err, "key", f.key)
			continue
		}
		switch msg.Type {
		case "ping":
			if err := writeJSON(ctx, ws, controlMessage{Type: "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		case "error":
			kind := KindFromReason(msg.Reason)
			h.hub.logger.Warn("Camera error reported", "key", f.key, "reason", msg.Reason, "kind", kind.String())
			f.fail(kind, nil)
		}
	}
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("Camera WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
