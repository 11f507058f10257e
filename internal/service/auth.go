// Package service holds the business logic for accounts, profiles and hacks.
//
// AuthService is the business logic layer for accounts and sessions. It sits
// between the HTTP handlers and the repository/auth utilities:
//
//	UserHandler (HTTP) → AuthService (business rules) → UserRepository (DB)
//	                   ↘ TokenService (JWT), PasswordService (bcrypt),
//	                     GoogleVerifier (tokeninfo)
//
// KEY RESPONSIBILITIES:
//   - Register password accounts and log them in
//   - Log in (or sign up) with a Google ID token
//   - Issue, check and revoke session tokens
//
// A SESSION IS TWO THINGS AT ONCE:
// A token must carry a valid signature AND be in the user's active token
// list. The signature alone cannot be revoked, so logout works by removing
// the token from the list.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/ecohacks/internal/apperror"
	"github.com/sakif/ecohacks/internal/auth"
	"github.com/sakif/ecohacks/internal/metrics"
	"github.com/sakif/ecohacks/internal/model"
	"github.com/sakif/ecohacks/internal/repository"
)

// Client-facing messages.
const (
	msgCredentialsRequired = "Email and password are required"
	msgIncorrectPassword   = "Incorrect password"
	msgNoAccount           = "No account found with this email"
	msgGoogleConflict      = "Account already exists without Google. Please use password login or link Google from settings."
)

// AuthService handles account and session business logic.
//
// DEPENDENCIES (injected via NewAuthService):
//   - users      repository.UserRepository  → read/write user records
//   - tokens     *auth.TokenService         → generate/validate JWTs
//   - passwords  *auth.PasswordService      → bcrypt hashing
//   - google     auth.GoogleVerifier        → ID token verification
//   - logger     *slog.Logger               → structured logging
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	google    auth.GoogleVerifier
	logger    *slog.Logger

	now func() time.Time
}

// compile-time check: the auth middleware resolves sessions through us
var _ auth.SessionResolver = (*AuthService)(nil)

// NewAuthService creates an AuthService with all required dependencies.
// Call this in server.go when wiring the dependency graph.
func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	google auth.GoogleVerifier,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		google:    google,
		logger:    logger,
		now:       time.Now,
	}
}

// AuthResult is returned by every operation that logs a user in.
// It bundles the user record and the issued token so the handler can
// respond in one step.
type AuthResult struct {
	User  *model.User `json:"user"`
	Token string      `json:"token"`
}

// Register creates a password account and logs it in.
//
// All rule violations are reported together. An email that is already
// registered, in any letter case, comes back from the store as a
// Duplicate error.
func (s *AuthService) Register(ctx context.Context, username, email, password string) (*AuthResult, error) {
	user := &model.User{
		Username: strings.TrimSpace(username),
		Email:    model.NormalizeEmail(email),
	}

	// With password == "" the empty hash is reported as "Password is required".
	if err := model.ValidateUser(user, password); err != nil {
		return nil, err
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}
	user.Password = hash

	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: creating user: %w", err)
	}

	metrics.UsersRegistered.WithLabelValues("password").Inc()
	s.logger.Info("user registered",
		slog.String("userID", user.ID),
		slog.String("method", "password"),
	)

	return s.IssueToken(ctx, user)
}

// Login checks an email/password pair and issues a session token.
//
// An account without a password (created through Google) can never pass
// this check; it gets the same "Incorrect password" as a wrong guess.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = model.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperror.Validation(msgCredentialsRequired)
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.NotFoundMessage(msgNoAccount)
	}
	if err != nil {
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	if err := s.passwords.Verify(user.Password, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Info("login rejected", slog.String("userID", user.ID))
			return nil, apperror.ValidationFailed("password", msgIncorrectPassword)
		}
		return nil, fmt.Errorf("service/auth: verifying password: %w", err)
	}

	return s.IssueToken(ctx, user)
}

// LoginWithGoogle logs in with a Google ID token, creating the account on
// first use.
//
// THREE CASES, keyed by the verified email:
//
//  1. No account → create one with googleId = the token's subject and no
//     password.
//  2. Account already linked to Google → log it in.
//  3. Password account with the same email → Conflict. Linking here would
//     let anyone holding a Google account for that address take over the
//     password account, so nothing is changed.
func (s *AuthService) LoginWithGoogle(ctx context.Context, idToken string) (*AuthResult, error) {
	if strings.TrimSpace(idToken) == "" {
		return nil, apperror.ValidationFailed("googleId", "Google ID token is required")
	}

	identity, err := s.google.Verify(ctx, idToken)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidGoogleToken) {
			return nil, apperror.Unauthorized("Invalid Google token")
		}
		return nil, fmt.Errorf("service/auth: verifying Google token: %w", err)
	}

	return s.loginGoogleIdentity(ctx, identity)
}

// LoginWithGoogleIdentity is LoginWithGoogle for an identity that was
// already verified, as in the authorization-code callback.
func (s *AuthService) LoginWithGoogleIdentity(ctx context.Context, identity *auth.GoogleIdentity) (*AuthResult, error) {
	if identity == nil {
		return nil, fmt.Errorf("service/auth: Google identity must not be nil")
	}
	return s.loginGoogleIdentity(ctx, identity)
}

func (s *AuthService) loginGoogleIdentity(ctx context.Context, identity *auth.GoogleIdentity) (*AuthResult, error) {
	email := model.NormalizeEmail(identity.Email)

	existing, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil && existing.IsGoogleAccount():
		return s.IssueToken(ctx, existing)
	case err == nil:
		s.logger.Warn("Google login refused for password account", slog.String("userID", existing.ID))
		return nil, apperror.Conflict("email", msgGoogleConflict)
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	user := &model.User{
		Username: model.DefaultUsername(identity.Name, email),
		Email:    email,
		GoogleID: identity.Subject,
	}
	if err := model.ValidateUser(user, ""); err != nil {
		return nil, err
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: creating Google user: %w", err)
	}

	metrics.UsersRegistered.WithLabelValues("google").Inc()
	s.logger.Info("user registered",
		slog.String("userID", user.ID),
		slog.String("method", "google"),
	)

	return s.IssueToken(ctx, user)
}

// IssueToken generates a session token for user and stores it in the
// user's active list. Tokens that have already expired are dropped first
// so the list does not grow without bound.
func (s *AuthService) IssueToken(ctx context.Context, user *model.User) (*AuthResult, error) {
	if err := s.users.PruneTokens(ctx, user.ID, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("service/auth: pruning tokens of %s: %w", user.ID, err)
	}

	tok, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for %s: %w", user.ID, err)
	}
	if err := s.users.AddToken(ctx, user.ID, tok); err != nil {
		return nil, fmt.Errorf("service/auth: saving token for %s: %w", user.ID, err)
	}

	return &AuthResult{User: user, Token: tok.Token}, nil
}

// Authenticate resolves a raw bearer token to its user.
//
// Every failure is the same Unauthorized error: clients learn nothing
// about whether the signature, the expiry or the token list said no.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*model.User, error) {
	userID, err := s.tokens.Validate(token)
	if err != nil {
		return nil, apperror.Unauthorized(auth.AuthMessage)
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized(auth.AuthMessage)
		}
		return nil, fmt.Errorf("service/auth: loading user %s: %w", userID, err)
	}

	if !user.HasToken(token) {
		return nil, apperror.Unauthorized(auth.AuthMessage)
	}
	return user, nil
}

// Logout revokes one session. Revoking a token that is not in the list is
// not an error.
func (s *AuthService) Logout(ctx context.Context, user *model.User, token string) error {
	removed, err := s.users.RemoveToken(ctx, user.ID, token)
	if err != nil {
		return fmt.Errorf("service/auth: removing token of %s: %w", user.ID, err)
	}
	if removed {
		s.logger.Info("user logged out", slog.String("userID", user.ID))
	}
	return nil
}
