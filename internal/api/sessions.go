package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/interview-coach/internal/capture"
	"github.com/ashureev/interview-coach/internal/domain"
	"github.com/ashureev/interview-coach/internal/identity"
	"github.com/go-chi/chi/v5"
)

const (
	defaultStreamInterval    = 500 * time.Millisecond
	defaultKeepaliveInterval = 10 * time.Second
	sseRetryDelay            = 3 * time.Second
)

// SessionHandler drives capture sessions for the browser.
type SessionHandler struct {
	mgr               *capture.Manager
	streamInterval    time.Duration
	keepaliveInterval time.Duration
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(mgr *capture.Manager) *SessionHandler {
	return &SessionHandler{
		mgr:               mgr,
		streamInterval:    defaultStreamInterval,
		keepaliveInterval: defaultKeepaliveInterval,
	}
}

// RegisterRoutes registers capture session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", h.Start)
		r.Get("/current", h.Current)
		r.Get("/current/stream", h.Stream)
		r.Post("/current/next", h.Next)
		r.Post("/current/back", h.Back)
		r.Post("/current/end", h.End)
		r.Delete("/current", h.Unmount)
	})
}

func sessionFrom(w http.ResponseWriter, r *http.Request) (identity.SessionContext, bool) {
	sc, ok := identity.FromContext(r.Context())
	if !ok || sc.UserID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return identity.SessionContext{}, false
	}
	return sc, true
}

// Start begins a capture session in the caller's slot. Acquisition runs
// in the background; clients follow progress via Current or Stream.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	sc, ok := sessionFrom(w, r)
	if !ok {
		return
	}

	var params domain.SessionParams
	if !decodeBody(w, r, &params, true) {
		return
	}

	ctrl, err := h.mgr.Begin(sc, params)
	if err != nil {
		slog.Error("Failed to begin capture session", "error", err, "user_id", sc.UserID)
		Error(w, http.StatusInternalServerError, "failed to start session")
		return
	}
	slog.Info("Capture session created", "user_id", sc.UserID, "session_id", sc.SessionID, "id", ctrl.ID())
	JSON(w, http.StatusAccepted, ctrl.View())
}

func (h *SessionHandler) current(w http.ResponseWriter, r *http.Request) (*capture.Controller, identity.SessionContext, bool) {
	sc, ok := sessionFrom(w, r)
	if !ok {
		return nil, sc, false
	}
	ctrl := h.mgr.Get(sc.Key())
	if ctrl == nil {
		Error(w, http.StatusNotFound, "no active session")
		return nil, sc, false
	}
	h.mgr.Touch(sc.Key())
	return ctrl, sc, true
}

// Current returns the caller's session view.
func (h *SessionHandler) Current(w http.ResponseWriter, r *http.Request) {
	ctrl, _, ok := h.current(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, ctrl.View())
}

// Next advances to the next question.
func (h *SessionHandler) Next(w http.ResponseWriter, r *http.Request) {
	h.navigate(w, r, (*capture.Controller).Next)
}

// Back returns to the previous question.
func (h *SessionHandler) Back(w http.ResponseWriter, r *http.Request) {
	h.navigate(w, r, (*capture.Controller).Back)
}

func (h *SessionHandler) navigate(w http.ResponseWriter, r *http.Request, move func(*capture.Controller) error) {
	ctrl, _, ok := h.current(w, r)
	if !ok {
		return
	}
	if err := move(ctrl); err != nil {
		if errors.Is(err, capture.ErrNotRunning) {
			Error(w, http.StatusConflict, err.Error())
			return
		}
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	JSON(w, http.StatusOK, ctrl.View())
}

// End finishes the caller's session and submits its timeline.
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	sc, ok := sessionFrom(w, r)
	if !ok {
		return
	}
	res, found, err := h.mgr.End(r.Context(), sc.Key(), capture.ReasonUser)
	if !found {
		Error(w, http.StatusNotFound, "no active session")
		return
	}
	if err != nil {
		Error(w, http.StatusRequestTimeout, err.Error())
		return
	}
	JSON(w, http.StatusOK, res)
}

// Unmount ends the caller's session, if any, and frees its slot.
func (h *SessionHandler) Unmount(w http.ResponseWriter, r *http.Request) {
	sc, ok := sessionFrom(w, r)
	if !ok {
		return
	}
	res, found, err := h.mgr.Remove(r.Context(), sc.Key(), capture.ReasonUnmounted)
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		Error(w, http.StatusRequestTimeout, err.Error())
		return
	}
	JSON(w, http.StatusOK, res)
}

// Stream pushes session views as Server-Sent Events until the session ends
// or the client disconnects.
func (h *SessionHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctrl, sc, ok := h.current(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	if _, err := fmt.Fprintf(w, "retry: %d\n\n", sseRetryDelay.Milliseconds()); err != nil {
		slog.Warn("Failed to write SSE retry header", "error", err, "user_id", sc.UserID)
		return
	}
	flusher.Flush()

	slog.Info("Session stream connected", "user_id", sc.UserID, "session_id", sc.SessionID)

	ticker := time.NewTicker(h.streamInterval)
	defer ticker.Stop()
	keepalive := time.NewTicker(h.keepaliveInterval)
	defer keepalive.Stop()

	var eventID int64
	var last []byte
	send := func() (bool, error) {
		v := ctrl.View()
		data, err := json.Marshal(v)
		if err != nil {
			return false, err
		}
		ended := v.Status == domain.StatusEnded
		if string(data) == string(last) && !ended {
			return false, nil
		}
		last = data
		eventID++
		event := "session"
		if ended {
			event = "ended"
		}
		if err := writeSSEWithID(w, eventID, event, string(data)); err != nil {
			return false, err
		}
		flusher.Flush()
		h.mgr.Touch(sc.Key())
		return ended, nil
	}

	for {
		ended, err := send()
		if err != nil {
			slog.Warn("Failed to write session event", "error", err, "user_id", sc.UserID)
			return
		}
		if ended {
			return
		}

		select {
		case <-r.Context().Done():
			slog.Info("Session stream disconnected", "user_id", sc.UserID, "session_id", sc.SessionID)
			return
		case <-ctrl.Done():
		case <-ticker.C:
		case <-keepalive.C:
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				slog.Warn("Failed to write SSE keepalive ping", "error", err, "user_id", sc.UserID)
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
