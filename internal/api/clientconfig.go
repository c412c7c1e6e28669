package api

import (
	"net/http"

	"github.com/ashureev/interview-coach/internal/config"
	"github.com/ashureev/interview-coach/internal/device"
	"github.com/ashureev/interview-coach/internal/identity"
	"github.com/go-chi/chi/v5"
)

// ConfigHandler tells the browser how to stream camera frames.
type ConfigHandler struct {
	capture config.CaptureConfig
}

// NewConfigHandler creates a config handler.
func NewConfigHandler(capture config.CaptureConfig) *ConfigHandler {
	return &ConfigHandler{capture: capture}
}

// RegisterRoutes registers config routes.
func (h *ConfigHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/config", h.GetConfig)
}

// GetConfig returns the capture settings for the frontend.
func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"sample_interval_ms":  h.capture.SampleInterval.Milliseconds(),
		"acquire_timeout_ms":  h.capture.AcquireTimeout.Milliseconds(),
		"max_frame_bytes":     h.capture.MaxFrameBytes,
		"frame_width":         device.FrameWidth,
		"frame_height":        device.FrameHeight,
		"camera_socket_path":  "/ws/camera",
		"session_header_name": identity.SessionHeaderName,
	})
}
