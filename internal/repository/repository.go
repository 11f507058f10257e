// Package repository defines the storage contract the services depend on.
// The sqlite and mongo subpackages implement it.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sakif/ecohacks/internal/model"
)

// ErrStaleReaction is returned by ApplyReaction when the user's reaction in
// the store is no longer the one the caller read. The caller re-reads and
// tries again.
var ErrStaleReaction = errors.New("repository: reaction changed concurrently")

// ListOptions pages a listing. Limit 0 means no limit.
type ListOptions struct {
	Limit  int
	Offset int
}

// UserRepository stores accounts and their session tokens.
//
// Lookups return apperror.ErrNotFound when nothing matches, and writes that
// hit the unique email index return apperror.ErrDuplicate.
type UserRepository interface {
	// CreateUser assigns ID and CreatedAt and inserts u.
	CreateUser(ctx context.Context, u *model.User) error
	// GetUserByID loads the user together with its active tokens.
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	// GetUserByEmail expects an already normalized address.
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	// UpdateUser writes username, email, password and googleId.
	UpdateUser(ctx context.Context, u *model.User) error

	AddToken(ctx context.Context, userID string, tok model.SessionToken) error
	// RemoveToken reports whether the token was present.
	RemoveToken(ctx context.Context, userID, token string) (bool, error)
	// PruneTokens drops the user's tokens that expired before now.
	PruneTokens(ctx context.Context, userID string, now time.Time) error

	AddEcoPoints(ctx context.Context, userID string, points int) error
	// DeleteUser removes the user and its tokens. Hacks and reactions are
	// the caller's job (see DeleteHacksByOwner, RemoveUserReactions).
	DeleteUser(ctx context.Context, id string) error
}

// HackRepository stores hacks and reactions.
//
// Writes that hit the (slug, owner) unique index return
// apperror.ErrDuplicate. Every returned hack has Likes == len(LikedBy) and
// Dislikes == len(DislikedBy).
type HackRepository interface {
	// CreateHack assigns ID (and PostedOn when zero) and inserts h.
	CreateHack(ctx context.Context, h *model.Hack) error
	GetHackByID(ctx context.Context, id string) (*model.Hack, error)
	// GetHackBySlug returns the earliest posted hack with slug. Slugs are
	// only unique per owner.
	GetHackBySlug(ctx context.Context, slug string) (*model.Hack, error)
	GetHackBySlugAndOwner(ctx context.Context, slug, ownerID string) (*model.Hack, error)
	// ListHacks returns hacks whose trending flag equals trending, newest first.
	ListHacks(ctx context.Context, trending bool, opts ListOptions) ([]model.Hack, error)
	ListHacksByOwner(ctx context.Context, ownerID string) ([]model.Hack, error)
	// UpdateHack writes the client-editable fields and the slug.
	UpdateHack(ctx context.Context, h *model.Hack) error
	DeleteHack(ctx context.Context, id string) error
	SetTrending(ctx context.Context, id string, trending bool) error

	// ApplyReaction moves userID's reaction on the hack from one state to
	// another and adjusts both counters, as a single atomic step. It fails
	// with ErrStaleReaction when the stored state is not from.
	ApplyReaction(ctx context.Context, hackID, userID string, from, to model.Reaction) error
	// RemoveUserReactions strips userID from every hack's like and dislike
	// lists, decrementing the counters.
	RemoveUserReactions(ctx context.Context, userID string) error
	DeleteHacksByOwner(ctx context.Context, ownerID string) error
}

// Store is a complete backing store.
type Store interface {
	UserRepository
	HackRepository

	// WithTx runs fn inside one transaction. fn must do all its work
	// through the Store it is given. Returning an error rolls back.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
	Ping(ctx context.Context) error
	Close() error
}
