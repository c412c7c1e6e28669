package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ashureev/interview-coach/internal/store"
	"github.com/go-chi/chi/v5"
)

// Checker reports whether a dependency is ready.
type Checker interface {
	Check(ctx context.Context) error
}

// HealthHandler reports dependency readiness.
type HealthHandler struct {
	repo       store.Repository
	classifier Checker
}

// NewHealthHandler creates a health handler. classifier may be nil.
func NewHealthHandler(repo store.Repository, classifier Checker) *HealthHandler {
	return &HealthHandler{repo: repo, classifier: classifier}
}

// RegisterRoutes registers health routes.
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/health", h.Health)
}

// Health pings the database and, when configured, the classifier.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	body := map[string]string{"status": "ok", "database": "ok"}

	if err := h.repo.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["database"] = err.Error()
	}

	if h.classifier == nil {
		body["classifier"] = "unchecked"
	} else if err := h.classifier.Check(ctx); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["classifier"] = err.Error()
	} else {
		body["classifier"] = "ok"
	}

	JSON(w, status, body)
}
