package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sakif/ecohacks/internal/apperror"
	"github.com/sakif/ecohacks/internal/model"
)

// fakeSessions accepts exactly one token.
type fakeSessions struct {
	token string
	user  *model.User
}

func (f *fakeSessions) Authenticate(_ context.Context, token string) (*model.User, error) {
	if token != f.token {
		return nil, errors.New("no session")
	}
	return f.user, nil
}

func TestRequireAuth(t *testing.T) {
	sessions := &fakeSessions{token: "good-token", user: &model.User{ID: "u1"}}

	var gotUser *model.User
	var gotToken string
	protected := RequireAuth(sessions)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = UserFromContext(r.Context())
		gotToken, _ = TokenFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"valid bearer", "Bearer good-token", http.StatusNoContent},
		{"lowercase scheme", "bearer good-token", http.StatusNoContent},
		{"missing header", "", http.StatusUnauthorized},
		{"no scheme", "good-token", http.StatusUnauthorized},
		{"wrong scheme", "Basic good-token", http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"revoked token", "Bearer other-token", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotUser, gotToken = nil, ""

			req := httptest.NewRequest(http.MethodGet, "/api/users/profile", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}

			if tt.wantStatus == http.StatusNoContent {
				if gotUser == nil || gotUser.ID != "u1" || gotToken != "good-token" {
					t.Errorf("context user=%v token=%q", gotUser, gotToken)
				}
				return
			}

			var body apperror.Body
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decoding body: %v", err)
			}
			if body.Type != apperror.TypeAuth || len(body.Messages) != 1 || body.Messages[0] != AuthMessage {
				t.Errorf("body = %+v", body)
			}
		})
	}
}

func TestUserFromContext_Anonymous(t *testing.T) {
	if _, ok := UserFromContext(context.Background()); ok {
		t.Error("UserFromContext() ok = true on an empty context")
	}
	if _, ok := TokenFromContext(context.Background()); ok {
		t.Error("TokenFromContext() ok = true on an empty context")
	}
}
