package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/ecohacks/internal/auth"
	"github.com/sakif/ecohacks/internal/cache"
	"github.com/sakif/ecohacks/internal/model"
	"github.com/sakif/ecohacks/internal/repository"
)

// UserService handles the signed-in user's own account: profile, edits and
// deletion.
type UserService struct {
	store     repository.Store
	passwords *auth.PasswordService
	cache     *cache.Cache
	logger    *slog.Logger
}

// NewUserService creates a UserService. cache may be nil.
func NewUserService(store repository.Store, passwords *auth.PasswordService, c *cache.Cache, logger *slog.Logger) *UserService {
	return &UserService{
		store:     store,
		passwords: passwords,
		cache:     c,
		logger:    logger,
	}
}

// Profile is a user together with the hacks they posted.
type Profile struct {
	User        *model.User  `json:"user"`
	PostedHacks []model.Hack `json:"postedHacks"`
}

// Profile returns the user's profile.
func (s *UserService) Profile(ctx context.Context, user *model.User) (*Profile, error) {
	hacks, err := s.store.ListHacksByOwner(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/user: listing hacks of %s: %w", user.ID, err)
	}
	return &Profile{User: user, PostedHacks: hacks}, nil
}

// UpdateProfile applies a partial update to the user's account.
//
// The whole account is validated again after the patch, as if it were
// new. A changed password is re-hashed; a changed email that another
// account already uses comes back from the store as a Duplicate error.
func (s *UserService) UpdateProfile(ctx context.Context, user *model.User, patch model.UserPatch) (*model.User, error) {
	updated := *user

	var plain string
	if patch.Username != nil {
		updated.Username = strings.TrimSpace(*patch.Username)
	}
	if patch.Email != nil {
		updated.Email = model.NormalizeEmail(*patch.Email)
	}
	if patch.Password != nil {
		plain = *patch.Password
		if plain == "" {
			// An explicit empty password is a validation failure, not "unchanged".
			updated.Password = ""
		}
	}

	if err := model.ValidateUser(&updated, plain); err != nil {
		return nil, err
	}

	if plain != "" {
		hash, err := s.passwords.Hash(plain)
		if err != nil {
			return nil, fmt.Errorf("service/user: hashing password: %w", err)
		}
		updated.Password = hash
	}

	if err := s.store.UpdateUser(ctx, &updated); err != nil {
		return nil, fmt.Errorf("service/user: updating %s: %w", user.ID, err)
	}

	s.logger.Info("user updated", slog.String("userID", user.ID))
	return &updated, nil
}

// DeleteAccount removes the user and everything that points at them.
//
// CASCADE, IN ONE TRANSACTION:
//  1. take the user's likes and dislikes off every hack (counters go down)
//  2. delete every hack the user posted (their reactions go with them)
//  3. delete the user and its tokens
//
// If any step fails, nothing is deleted.
func (s *UserService) DeleteAccount(ctx context.Context, user *model.User) error {
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Store) error {
		if err := tx.RemoveUserReactions(ctx, user.ID); err != nil {
			return err
		}
		if err := tx.DeleteHacksByOwner(ctx, user.ID); err != nil {
			return err
		}
		return tx.DeleteUser(ctx, user.ID)
	})
	if err != nil {
		return fmt.Errorf("service/user: deleting %s: %w", user.ID, err)
	}

	s.cache.InvalidatePrefix(ctx, hackListPrefix)
	s.logger.Info("user deleted", slog.String("userID", user.ID))
	return nil
}
