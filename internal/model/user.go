// Package model defines the data structures used throughout the application,
// together with the rules that keep them valid.
package model

import (
	"strings"
	"time"
)

// EcoPointsPerHack is what a user earns for every hack they post.
const EcoPointsPerHack = 10

// User represents a registered account.
//
// An account is either a password account (Password holds a bcrypt hash) or a
// Google account (GoogleID holds the provider's stable "sub" claim). Password
// may only be empty when GoogleID is set.
//
// WHY json:"-" ON Password, OTP AND Tokens?
// Every response that includes a user goes through encoding/json. Tagging the
// secret fields with "-" means no handler can leak them by accident.
type User struct {
	ID        string         `json:"id"`
	Username  string         `json:"username"`
	Email     string         `json:"email"`
	Password  string         `json:"-"`
	GoogleID  string         `json:"googleId,omitempty"`
	OTP       OTP            `json:"-"`
	EcoPoints int            `json:"ecoPoints"`
	Tokens    []SessionToken `json:"-"`
	CreatedAt time.Time      `json:"createdAt"`
}

// OTP is a one-time code slot on the account. No current flow issues codes.
type OTP struct {
	Code      string
	ExpiresAt *time.Time
}

// SessionToken is one active login. A user may hold many at once
// (one per device or browser).
type SessionToken struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// HasToken reports whether token is one of the user's active sessions.
func (u *User) HasToken(token string) bool {
	for _, t := range u.Tokens {
		if t.Token == token {
			return true
		}
	}
	return false
}

// IsGoogleAccount reports whether the account is linked to a Google identity.
func (u *User) IsGoogleAccount() bool {
	return u.GoogleID != ""
}

// UserPatch is a partial profile update. Nil fields are left unchanged.
// Only these three keys are accepted from clients.
type UserPatch struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
	Password *string `json:"password"`
}

// NormalizeEmail trims and lowercases an address so that lookups and the
// unique index are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DefaultUsername picks a username for an account created through Google:
// the provider's display name when it is long enough, otherwise the local
// part of the email, padded up to the minimum length.
func DefaultUsername(name, email string) string {
	name = strings.TrimSpace(name)
	if len([]rune(name)) >= MinUsernameLength {
		return name
	}

	local, _, _ := strings.Cut(NormalizeEmail(email), "@")
	if local == "" {
		local = "user"
	}
	if n := len([]rune(local)); n < MinUsernameLength {
		local += strings.Repeat("_", MinUsernameLength-n)
	}
	return local
}
