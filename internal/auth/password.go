package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/ecohacks/internal/model"
)

// ErrPasswordMismatch means the password does not match the stored hash.
var ErrPasswordMismatch = errors.New("auth: incorrect password")

// PASSWORD HASHING:
// bcrypt output is self-describing:
//
//	$2a$12$<22-char salt><31-char hash>
//	    ^^ cost: 2^12 rounds
//
// The salt and cost travel inside the hash, so the users table needs only
// the one column, and raising the cost later does not break old hashes.

// PasswordService hashes and checks passwords with a fixed bcrypt cost.
// The cost is a field so tests can drop it to bcrypt.MinCost.
type PasswordService struct {
	cost int
}

// NewPasswordService returns a service using cost, or bcrypt.DefaultCost+2
// (12) when cost is zero. Costs outside bcrypt's range are rejected.
func NewPasswordService(cost int) (*PasswordService, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost + 2
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("auth: bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &PasswordService{cost: cost}, nil
}

// NewPasswordServiceForTest returns a service with the cheapest bcrypt cost.
// Do NOT use in production.
func NewPasswordServiceForTest() *PasswordService {
	return &PasswordService{cost: bcrypt.MinCost}
}

// Hash hashes a plaintext password.
//
// bcrypt ignores input past 72 bytes, so longer passwords are rejected
// instead of being silently truncated.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > model.MaxPasswordBytes {
		return "", fmt.Errorf("auth: password must be %d bytes or fewer", model.MaxPasswordBytes)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify returns nil when plaintext matches hash and ErrPasswordMismatch
// when it does not. An empty hash (a Google-only account) never matches.
func (p *PasswordService) Verify(hash, plaintext string) error {
	if hash == "" {
		return ErrPasswordMismatch
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrPasswordMismatch
	default:
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
}
