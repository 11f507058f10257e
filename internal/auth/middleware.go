package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sakif/ecohacks/internal/apperror"
	"github.com/sakif/ecohacks/internal/model"
)

// AuthMessage is the single message every failed authentication returns.
// The client is never told which check failed.
const AuthMessage = "please authenticate"

// contextKey is unexported so no other package can read or overwrite the
// values this package stores in a request context.
type contextKey string

const (
	userKey  contextKey = "user"
	tokenKey contextKey = "token"
)

// SessionResolver maps a raw session token to the user holding it.
// It must fail when the token is invalid, expired or no longer in any
// user's active list.
type SessionResolver interface {
	Authenticate(ctx context.Context, token string) (*model.User, error)
}

// RequireAuth rejects requests without a live session with 401 and
// {"type":"auth","messages":["please authenticate"]}. For the rest it puts
// the user and the raw token into the request context.
func RequireAuth(sessions SessionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				writeUnauthorized(w)
				return
			}

			user, err := sessions.Authenticate(r.Context(), token)
			if err != nil {
				writeUnauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), userKey, user)
			ctx = context.WithValue(ctx, tokenKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// UserFromContext returns the authenticated user. ok is false outside
// RequireAuth.
func UserFromContext(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok && u != nil
}

// TokenFromContext returns the raw token the request authenticated with.
func TokenFromContext(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(tokenKey).(string)
	return t, ok && t != ""
}

// WithUser returns ctx carrying user and token as RequireAuth would set them.
// Handler tests use it to skip the middleware.
func WithUser(ctx context.Context, user *model.User, token string) context.Context {
	ctx = context.WithValue(ctx, userKey, user)
	return context.WithValue(ctx, tokenKey, token)
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(apperror.Normalize(apperror.Unauthorized(AuthMessage)))
}
