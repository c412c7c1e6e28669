// Package identity carries the authenticated caller through request contexts.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/interview-coach/internal/domain"
)

const (
	SessionHeaderName     = "X-Interview-Session-ID"
	DefaultSessionIDValue = "default"
	tokenPrefix           = "tok_"
)

type contextKey int

const sessionKey contextKey = iota

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// SessionContext identifies who is calling and from which browser tab.
// It replaces any process-global notion of "the current user".
type SessionContext struct {
	UserID    string
	Email     string
	Token     string
	SessionID string
}

// Key identifies one capture session slot: one per user and tab.
func (s SessionContext) Key() string {
	return s.UserID + ":" + s.SessionID
}

// WithSession returns a copy of ctx carrying sc.
func WithSession(ctx context.Context, sc SessionContext) context.Context {
	return context.WithValue(ctx, sessionKey, sc)
}

// FromContext returns the session context injected by Middleware.
func FromContext(ctx context.Context) (SessionContext, bool) {
	sc, ok := ctx.Value(sessionKey).(SessionContext)
	return sc, ok
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	sc, _ := FromContext(ctx)
	return sc.UserID
}

// SessionIDFromContext extracts the tab session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if sc, ok := FromContext(ctx); ok && sc.SessionID != "" {
		return sc.SessionID
	}
	return DefaultSessionIDValue
}

// NewToken generates an opaque bearer token.
func NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return tokenPrefix + hex.EncodeToString(buf), nil
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	return sanitizeSessionID(sid)
}

// TokenFromRequest returns the bearer token from the Authorization header,
// falling back to the token query parameter for WebSocket upgrades.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, tok, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// TokenResolver looks up bearer tokens and their owners.
type TokenResolver interface {
	ResolveAuthToken(ctx context.Context, token string) (*domain.AuthToken, error)
	GetUser(ctx context.Context, userID string) (*domain.User, error)
}

// Middleware authenticates the bearer token and injects a SessionContext.
func Middleware(resolver TokenResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				writeUnauthorized(w, "missing bearer token")
				return
			}

			at, err := resolver.ResolveAuthToken(r.Context(), token)
			if err != nil {
				http.Error(w, `{"error":"failed to resolve token"}`, http.StatusInternalServerError)
				return
			}
			if at == nil || at.Expired(time.Now()) {
				writeUnauthorized(w, "invalid or expired token")
				return
			}

			user, err := resolver.GetUser(r.Context(), at.UserID)
			if err != nil {
				http.Error(w, `{"error":"failed to load user"}`, http.StatusInternalServerError)
				return
			}
			if user == nil {
				writeUnauthorized(w, "unknown user")
				return
			}

			ctx := WithSession(r.Context(), SessionContext{
				UserID:    user.UserID,
				Email:     user.Email,
				Token:     token,
				SessionID: sessionIDFromRequest(r),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = fmt.Fprintf(w, `{"error":%q}`, msg)
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
