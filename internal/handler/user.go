package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rs/xid"

	"github.com/sakif/ecohacks/internal/apperror"
	"github.com/sakif/ecohacks/internal/auth"
	"github.com/sakif/ecohacks/internal/model"
	"github.com/sakif/ecohacks/internal/service"
)

const stateCookie = "oauth_state"

// AccountService is what UserHandler needs for logging in and out.
// *service.AuthService implements it.
type AccountService interface {
	Register(ctx context.Context, username, email, password string) (*service.AuthResult, error)
	Login(ctx context.Context, email, password string) (*service.AuthResult, error)
	LoginWithGoogle(ctx context.Context, idToken string) (*service.AuthResult, error)
	LoginWithGoogleIdentity(ctx context.Context, identity *auth.GoogleIdentity) (*service.AuthResult, error)
	Logout(ctx context.Context, user *model.User, token string) error
}

// ProfileService is what UserHandler needs for the signed-in user's own
// account. *service.UserService implements it.
type ProfileService interface {
	Profile(ctx context.Context, user *model.User) (*service.Profile, error)
	UpdateProfile(ctx context.Context, user *model.User, patch model.UserPatch) (*model.User, error)
	DeleteAccount(ctx context.Context, user *model.User) error
}

// GoogleCodeFlow runs the browser redirect flow. *auth.GoogleProvider
// implements it.
type GoogleCodeFlow interface {
	CodeFlowEnabled() bool
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.GoogleIdentity, error)
}

// UserHandler serves /api/users.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister        → create a password account, return {user, token}
//   - HandleOAuth           → log in with a password or a Google ID token
//   - HandleGoogleLogin     → redirect the browser to Google's consent page
//   - HandleGoogleCallback  → finish the redirect flow, return {user, token}
//   - HandleProfile         → the user and the hacks they posted
//   - HandleUpdate          → partial profile update
//   - HandleLogout          → revoke the token the request came with
//   - HandleDelete          → delete the account and everything it owns
type UserHandler struct {
	accounts AccountService
	profiles ProfileService
	google   GoogleCodeFlow
	logger   *slog.Logger
}

// NewUserHandler creates a UserHandler. google may be nil, which disables
// the redirect flow.
func NewUserHandler(accounts AccountService, profiles ProfileService, google GoogleCodeFlow, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		accounts: accounts,
		profiles: profiles,
		google:   google,
		logger:   logger,
	}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// oauthRequest carries either a password login or a Google ID token.
// googleId holds the ID token; the field name is what the frontend sends.
type oauthRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	GoogleID string `json:"googleId"`
}

// HandleRegister creates a password account.
//
// HTTP: POST /api/users/register
// REQUEST BODY: {"username": "...", "email": "...", "password": "..."}
// RESPONSE: 201 {"user": {...}, "token": "..."}
func (h *UserHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.accounts.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// HandleOAuth logs a user in.
//
// HTTP: POST /api/users/oauth
// REQUEST BODY: {"googleId": "<Google ID token>"} or {"email": "...", "password": "..."}
// RESPONSE: 201 {"user": {...}, "token": "..."}
//
// When googleId is present the password fields are ignored.
func (h *UserHandler) HandleOAuth(w http.ResponseWriter, r *http.Request) {
	var req oauthRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, h.logger, err)
		return
	}

	var (
		res *service.AuthResult
		err error
	)
	if req.GoogleID != "" {
		res, err = h.accounts.LoginWithGoogle(r.Context(), req.GoogleID)
	} else {
		res, err = h.accounts.Login(r.Context(), req.Email, req.Password)
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// HandleGoogleLogin redirects the browser to Google.
//
// HTTP: GET /api/users/google/login
//
// CSRF PROTECTION VIA STATE:
// A random state goes into a short-lived HttpOnly cookie and into the
// consent URL. The callback only proceeds when Google hands the same value
// back, which proves the flow was started here and not by a third site.
func (h *UserHandler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	if !h.codeFlowEnabled() {
		writeError(w, h.logger, apperror.NotFoundMessage("Google sign-in is not configured"))
		return
	}

	state := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.google.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGoogleCallback completes the redirect flow.
//
// HTTP: GET /api/users/google/callback?code=xxx&state=yyy
// RESPONSE: 201 {"user": {...}, "token": "..."}
//
// FLOW:
//  1. Check the state against the cookie (CSRF)
//  2. Exchange the code for tokens and verify the ID token
//  3. Log in or sign up exactly like POST /api/users/oauth
func (h *UserHandler) HandleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	if !h.codeFlowEnabled() {
		writeError(w, h.logger, apperror.NotFoundMessage("Google sign-in is not configured"))
		return
	}

	// --- Step 1: CSRF state ---
	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || r.URL.Query().Get("state") != cookie.Value {
		h.logger.Warn("google callback: state mismatch")
		writeError(w, h.logger, apperror.Validation("Invalid OAuth state"))
		return
	}

	// the state is single-use
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/", MaxAge: -1})

	if denied := r.URL.Query().Get("error"); denied != "" {
		h.logger.Info("google callback: user denied consent", slog.String("error", denied))
		writeError(w, h.logger, apperror.Unauthorized("Google sign-in was cancelled"))
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, h.logger, apperror.Validation("Missing OAuth code"))
		return
	}

	// --- Step 2: code → verified identity ---
	identity, err := h.google.Exchange(r.Context(), code)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidGoogleToken) {
			writeError(w, h.logger, apperror.Unauthorized("Invalid Google token"))
			return
		}
		writeError(w, h.logger, err)
		return
	}

	// --- Step 3: same login/sign-up rules as the ID token endpoint ---
	res, err := h.accounts.LoginWithGoogleIdentity(r.Context(), identity)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// HandleProfile returns the signed-in user and their hacks.
//
// HTTP: GET /api/users/profile
// Auth: Required
func (h *UserHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	p, err := h.profiles.Profile(r.Context(), user)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleUpdate applies a partial update to the signed-in user.
//
// HTTP: PATCH /api/users/updateuser
// Auth: Required
// REQUEST BODY: any of {"username", "email", "password"}; other keys → 400
func (h *UserHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var patch model.UserPatch
	if err := decodeJSON(w, r, &patch, true); err != nil {
		writeError(w, h.logger, err)
		return
	}

	updated, err := h.profiles.UpdateProfile(r.Context(), user, patch)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// HandleLogout revokes the token this request was made with. The user's
// other sessions stay valid.
//
// HTTP: POST /api/users/logout
// Auth: Required
func (h *UserHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	token, _ := auth.TokenFromContext(r.Context())

	if err := h.accounts.Logout(r.Context(), user, token); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeMessage(w, http.StatusOK, "Logged out")
}

// HandleDelete deletes the signed-in user's account.
//
// HTTP: DELETE /api/users/deleteuser
// Auth: Required
func (h *UserHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	if err := h.profiles.DeleteAccount(r.Context(), user); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeMessage(w, http.StatusOK, "User deleted")
}

func (h *UserHandler) codeFlowEnabled() bool {
	return h.google != nil && h.google.CodeFlowEnabled()
}

// currentUser reads the user RequireAuth put in the context. It can only
// be missing when a route was wired without the middleware.
func currentUser(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*model.User, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, logger, apperror.Unauthorized(auth.AuthMessage))
		return nil, false
	}
	return user, true
}

func (h *UserHandler) currentUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	return currentUser(w, r, h.logger)
}
