package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/interview-coach/internal/domain"
	"github.com/ashureev/interview-coach/internal/identity"
	"github.com/ashureev/interview-coach/internal/persist"
	"github.com/ashureev/interview-coach/internal/store"
	"github.com/go-chi/chi/v5"
)

// InterviewHandler is the local persistence backend for finished interviews.
type InterviewHandler struct {
	repo store.Repository
}

// NewInterviewHandler creates an interview handler.
func NewInterviewHandler(repo store.Repository) *InterviewHandler {
	return &InterviewHandler{repo: repo}
}

// RegisterRoutes registers interview routes.
func (h *InterviewHandler) RegisterRoutes(r chi.Router) {
	r.Post("/interview/", h.Create)
	r.Post("/interview", h.Create)
	r.Get("/interview/", h.List)
	r.Get("/interview", h.List)
}

// Create stores one interview for the caller.
func (h *InterviewHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var payload domain.InterviewPayload
	if !decodeBody(w, r, &payload, false) {
		return
	}

	iv, err := persist.NewInterview(userID, payload, time.Now())
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.repo.SaveInterview(r.Context(), iv); err != nil {
		slog.Error("Failed to save interview", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to save interview")
		return
	}

	slog.Info("Interview saved",
		"user_id", userID,
		"interview_id", iv.ID,
		"samples", len(iv.ConfidenceData),
		"overall_confidence", iv.OverallConfidence,
	)
	JSON(w, http.StatusOK, persist.SubmitResponse{
		Status:            "success",
		Message:           "Interview data saved successfully",
		OverallConfidence: iv.OverallConfidence,
		Data:              iv,
	})
}

// List returns the caller's interviews, newest first.
func (h *InterviewHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	interviews, err := h.repo.ListInterviews(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to list interviews", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to list interviews")
		return
	}
	JSON(w, http.StatusOK, persist.ListResponse{Status: "success", Interviews: interviews})
}
