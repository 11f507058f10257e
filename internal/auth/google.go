package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ErrInvalidGoogleToken is returned when Google does not vouch for an ID
// token, or vouches for it on behalf of a different application.
var ErrInvalidGoogleToken = errors.New("auth: invalid Google ID token")

const defaultTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"

// GoogleIdentity is what we keep from a verified Google ID token.
type GoogleIdentity struct {
	Subject string // Google's stable account id ("sub"); stored as the user's googleId
	Email   string
	Name    string
}

// GoogleVerifier turns an ID token into a verified identity. The service
// layer depends on this interface so tests can supply a fake.
type GoogleVerifier interface {
	Verify(ctx context.Context, idToken string) (*GoogleIdentity, error)
}

// GoogleProvider verifies Google ID tokens and, when a client secret and
// redirect URL are configured, runs the authorization-code flow.
//
// TWO WAYS IN:
//   - The frontend uses Google's sign-in button, receives an ID token and
//     POSTs it to /api/users/oauth. We only need to verify it.
//   - The browser is sent to /api/users/google/login, Google redirects back
//     to /api/users/google/callback with a code, and we exchange the code
//     for tokens server-to-server. The token response carries an ID token,
//     which goes through the same verification.
//
// VERIFYING AN ID TOKEN:
// Google's tokeninfo endpoint checks the signature and expiry for us and
// returns the claims. We still have to check that the token was minted for
// OUR client id ("aud"); otherwise any site using Google sign-in could
// replay its users' tokens here.
type GoogleProvider struct {
	clientID     string
	config       *oauth2.Config
	tokenInfoURL string
}

// NewGoogleProvider creates a provider for clientID. clientSecret and
// redirectURL are only needed for the code flow and may be empty.
func NewGoogleProvider(clientID, clientSecret, redirectURL string) *GoogleProvider {
	return &GoogleProvider{
		clientID: clientID,
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		tokenInfoURL: defaultTokenInfoURL,
	}
}

// CodeFlowEnabled reports whether AuthURL and Exchange can be used.
func (p *GoogleProvider) CodeFlowEnabled() bool {
	return p.config.ClientSecret != "" && p.config.RedirectURL != ""
}

// AuthURL returns the Google consent page URL. state must be unguessable and
// is checked again on the callback to stop login CSRF.
func (p *GoogleProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades an authorization code for tokens and verifies the ID token
// that comes back with them.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*GoogleIdentity, error) {
	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging Google code: %w", err)
	}

	idToken, ok := tok.Extra("id_token").(string)
	if !ok || idToken == "" {
		return nil, fmt.Errorf("%w: token response has no id_token", ErrInvalidGoogleToken)
	}
	return p.Verify(ctx, idToken)
}

// tokenInfo is the part of the tokeninfo response we read. Google encodes
// booleans and numbers as strings here.
type tokenInfo struct {
	Audience      string `json:"aud"`
	Issuer        string `json:"iss"`
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified string `json:"email_verified"`
	Name          string `json:"name"`
}

// Verify asks Google's tokeninfo endpoint about idToken.
//
// The HTTP client comes from oauth2.NewClient with a nil token source, which
// is the client stored in ctx under oauth2.HTTPClient, or the default one.
func (p *GoogleProvider) Verify(ctx context.Context, idToken string) (*GoogleIdentity, error) {
	if idToken == "" {
		return nil, ErrInvalidGoogleToken
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	endpoint := p.tokenInfoURL + "?" + url.Values{"id_token": {idToken}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: building tokeninfo request: %w", err)
	}

	resp, err := oauth2.NewClient(ctx, nil).Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: calling tokeninfo: %w", err)
	}
	defer resp.Body.Close()

	// Google answers 400 for expired, malformed or forged tokens.
	if resp.StatusCode == http.StatusBadRequest {
		return nil, ErrInvalidGoogleToken
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: tokeninfo returned status %d", resp.StatusCode)
	}

	var info tokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("auth: decoding tokeninfo response: %w", err)
	}

	switch {
	case info.Audience != p.clientID:
		return nil, fmt.Errorf("%w: issued for another client", ErrInvalidGoogleToken)
	case info.Issuer != "accounts.google.com" && info.Issuer != "https://accounts.google.com":
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidGoogleToken, info.Issuer)
	case info.Subject == "" || info.Email == "":
		return nil, fmt.Errorf("%w: missing sub or email", ErrInvalidGoogleToken)
	case info.EmailVerified != "true":
		return nil, fmt.Errorf("%w: email not verified", ErrInvalidGoogleToken)
	}

	return &GoogleIdentity{Subject: info.Subject, Email: info.Email, Name: info.Name}, nil
}
