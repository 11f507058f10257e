package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/ecohacks/internal/apperror"
	"github.com/sakif/ecohacks/internal/model"
)

const userColumns = `id, username, email, password, google_id, otp_code, otp_expires_at, eco_points, created_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// CreateUser inserts a new account. The email index is case-insensitive,
// so "A@x.com" and "a@x.com" collide.
func (db *DB) CreateUser(ctx context.Context, u *model.User) error {
	u.ID = xid.New().String()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	_, err := db.q.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID,
		u.Username,
		u.Email,
		u.Password,
		nullString(u.GoogleID),
		u.OTP.Code,
		u.OTP.ExpiresAt,
		u.EcoPoints,
		u.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return duplicateUser(err)
		}
		return fmt.Errorf("sqlite: inserting user: %w", err)
	}
	return nil
}

// GetUserByID loads a user and its active tokens.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(db.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}

	if err := db.loadTokens(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// GetUserByEmail loads a user by normalized email.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := scanUser(db.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFoundMessage("User not found")
		}
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}

	if err := db.loadTokens(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// UpdateUser writes the mutable profile columns.
func (db *DB) UpdateUser(ctx context.Context, u *model.User) error {
	res, err := db.q.ExecContext(ctx,
		`UPDATE users SET username = ?, email = ?, password = ?, google_id = ?
		 WHERE id = ?`,
		u.Username,
		u.Email,
		u.Password,
		nullString(u.GoogleID),
		u.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return duplicateUser(err)
		}
		return fmt.Errorf("sqlite: updating user %s: %w", u.ID, err)
	}
	return expectRow(res, apperror.NotFound("user", u.ID))
}

// AddToken records a newly issued session.
func (db *DB) AddToken(ctx context.Context, userID string, tok model.SessionToken) error {
	_, err := db.q.ExecContext(ctx,
		`INSERT INTO user_tokens (token, user_id, issued_at, expires_at) VALUES (?, ?, ?, ?)`,
		tok.Token, userID, tok.IssuedAt, tok.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: adding token for user %s: %w", userID, err)
	}
	return nil
}

// RemoveToken deletes exactly one session of the user.
func (db *DB) RemoveToken(ctx context.Context, userID, token string) (bool, error) {
	res, err := db.q.ExecContext(ctx,
		`DELETE FROM user_tokens WHERE user_id = ? AND token = ?`, userID, token)
	if err != nil {
		return false, fmt.Errorf("sqlite: removing token for user %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: removing token for user %s: %w", userID, err)
	}
	return n > 0, nil
}

// PruneTokens deletes the user's expired sessions.
func (db *DB) PruneTokens(ctx context.Context, userID string, now time.Time) error {
	_, err := db.q.ExecContext(ctx,
		`DELETE FROM user_tokens WHERE user_id = ? AND expires_at < ?`, userID, now.UTC())
	if err != nil {
		return fmt.Errorf("sqlite: pruning tokens for user %s: %w", userID, err)
	}
	return nil
}

// AddEcoPoints adds points (which may be negative) to the user's balance.
func (db *DB) AddEcoPoints(ctx context.Context, userID string, points int) error {
	res, err := db.q.ExecContext(ctx,
		`UPDATE users SET eco_points = eco_points + ? WHERE id = ?`, points, userID)
	if err != nil {
		return fmt.Errorf("sqlite: adding eco points to user %s: %w", userID, err)
	}
	return expectRow(res, apperror.NotFound("user", userID))
}

// DeleteUser removes the user. Tokens go with it through ON DELETE CASCADE.
func (db *DB) DeleteUser(ctx context.Context, id string) error {
	res, err := db.q.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting user %s: %w", id, err)
	}
	return expectRow(res, apperror.NotFound("user", id))
}

func (db *DB) loadTokens(ctx context.Context, u *model.User) error {
	rows, err := db.q.QueryContext(ctx,
		`SELECT token, issued_at, expires_at FROM user_tokens
		 WHERE user_id = ? ORDER BY issued_at, rowid`, u.ID)
	if err != nil {
		return fmt.Errorf("sqlite: loading tokens for user %s: %w", u.ID, err)
	}
	defer rows.Close()

	u.Tokens = nil
	for rows.Next() {
		var t model.SessionToken
		if err := rows.Scan(&t.Token, &t.IssuedAt, &t.ExpiresAt); err != nil {
			return fmt.Errorf("sqlite: scanning token: %w", err)
		}
		u.Tokens = append(u.Tokens, t)
	}
	return rows.Err()
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u         model.User
		googleID  sql.NullString
		otpExpiry sql.NullTime
	)
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.Password,
		&googleID,
		&u.OTP.Code,
		&otpExpiry,
		&u.EcoPoints,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	u.GoogleID = googleID.String
	if otpExpiry.Valid {
		t := otpExpiry.Time
		u.OTP.ExpiresAt = &t
	}
	return &u, nil
}

// duplicateUser names the column the unique index tripped on.
func duplicateUser(err error) error {
	if strings.Contains(err.Error(), "google_id") {
		return apperror.Duplicate("googleId", "Google account already linked to another user")
	}
	return apperror.Duplicate("email", "Email already exists")
}

// nullString stores "" as NULL so that many rows may lack a google_id
// without violating its unique index.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// expectRow returns notFound when an UPDATE or DELETE touched no row.
func expectRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: reading affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
