package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/ashureev/interview-coach/internal/capture"
	"github.com/ashureev/interview-coach/internal/domain"
	"github.com/ashureev/interview-coach/internal/identity"
	"github.com/ashureev/interview-coach/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

// AuthHandler issues and revokes bearer tokens.
type AuthHandler struct {
	repo     store.Repository
	captures *capture.Manager
	tokenTTL time.Duration
	limiter  *RateLimiter
	cost     int
}

// NewAuthHandler creates an auth handler. limiter may be nil.
func NewAuthHandler(repo store.Repository, captures *capture.Manager, tokenTTL time.Duration, limiter *RateLimiter) *AuthHandler {
	return &AuthHandler{
		repo:     repo,
		captures: captures,
		tokenTTL: tokenTTL,
		limiter:  limiter,
		cost:     bcrypt.DefaultCost,
	}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresAt   time.Time    `json:"expires_at"`
	User        *domain.User `json:"user"`
}

// RegisterPublicRoutes registers routes that need no token.
func (h *AuthHandler) RegisterPublicRoutes(r chi.Router) {
	r.Post("/auth/signup", h.Signup)
	r.Post("/auth/login", h.Login)
}

// RegisterRoutes registers routes that require a token.
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/logout", h.Logout)
	r.Get("/auth/me", h.Me)
}

// Signup creates an account and returns a token for it.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	if !h.allow(r) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req credentials
	if !decodeBody(w, r, &req, false) {
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		Error(w, http.StatusBadRequest, "invalid email")
		return
	}
	if len(req.Password) < minPasswordLength {
		Error(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), h.cost)
	if err != nil {
		slog.Error("Failed to hash password", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create account")
		return
	}

	now := time.Now()
	user := &domain.User{
		UserID:       uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.repo.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			Error(w, http.StatusConflict, "email already registered")
			return
		}
		slog.Error("Failed to create user", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create account")
		return
	}

	resp, err := h.issue(r.Context(), user)
	if err != nil {
		slog.Error("Failed to issue token", "error", err, "user_id", user.UserID)
		Error(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	slog.Info("User signed up", "user_id", user.UserID)
	JSON(w, http.StatusCreated, resp)
}

// Login checks credentials and returns a fresh token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if !h.allow(r) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req credentials
	if !decodeBody(w, r, &req, false) {
		return
	}

	user, err := h.repo.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		slog.Error("Failed to load user", "error", err)
		Error(w, http.StatusInternalServerError, "login failed")
		return
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		Error(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	resp, err := h.issue(r.Context(), user)
	if err != nil {
		slog.Error("Failed to issue token", "error", err, "user_id", user.UserID)
		Error(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	slog.Info("User logged in", "user_id", user.UserID)
	JSON(w, http.StatusOK, resp)
}

// Logout revokes the caller's token and ends their capture sessions.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sc, ok := identity.FromContext(r.Context())
	if !ok {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	// End captures while the caller's token is still valid.
	ended := 0
	if h.captures != nil {
		ended = h.captures.EndAllForUser(r.Context(), sc.UserID, capture.ReasonLogout)
	}

	if err := h.repo.DeleteAuthToken(r.Context(), sc.Token); err != nil {
		slog.Error("Failed to revoke token", "error", err, "user_id", sc.UserID)
		Error(w, http.StatusInternalServerError, "logout failed")
		return
	}
	slog.Info("User logged out", "user_id", sc.UserID, "sessions_ended", ended)
	JSON(w, http.StatusOK, map[string]any{"status": "success", "sessions_ended": ended})
}

// Me returns the caller's account.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}
	JSON(w, http.StatusOK, user)
}

func (h *AuthHandler) issue(ctx context.Context, user *domain.User) (*tokenResponse, error) {
	tok, err := identity.NewToken()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	at := &domain.AuthToken{
		Token:     tok,
		UserID:    user.UserID,
		CreatedAt: now,
		ExpiresAt: now.Add(h.tokenTTL),
	}
	if err := h.repo.CreateAuthToken(ctx, at); err != nil {
		return nil, err
	}
	return &tokenResponse{
		AccessToken: tok,
		TokenType:   "bearer",
		ExpiresAt:   at.ExpiresAt,
		User:        user,
	}, nil
}

func (h *AuthHandler) allow(r *http.Request) bool {
	if h.limiter == nil {
		return true
	}
	return h.limiter.Allow(identity.IPFromRequest(r))
}
