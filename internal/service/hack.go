package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/ecohacks/internal/apperror"
	"github.com/sakif/ecohacks/internal/cache"
	"github.com/sakif/ecohacks/internal/metrics"
	"github.com/sakif/ecohacks/internal/model"
	"github.com/sakif/ecohacks/internal/repository"
)

const (
	// TrendingType is the listing type that selects trending hacks. Every
	// other type lists the regular ones.
	TrendingType = "trending"

	// MaxListLimit caps a requested page size. Without a limit the whole
	// listing is returned.
	MaxListLimit = 100

	// maxReactionAttempts bounds how often a reaction is re-read and retried
	// after losing a race.
	maxReactionAttempts = 3

	hackListPrefix = "hacks:list:"
)

// HackService handles business logic for hacks and reactions.
type HackService struct {
	store  repository.Store
	cache  *cache.Cache
	logger *slog.Logger

	now func() time.Time
}

// NewHackService creates a HackService. cache may be nil, in which case
// listings always go to the store.
func NewHackService(store repository.Store, c *cache.Cache, logger *slog.Logger) *HackService {
	return &HackService{
		store:  store,
		cache:  c,
		logger: logger,
		now:    time.Now,
	}
}

// Create validates and saves a new hack posted by owner, and awards the
// owner EcoPointsPerHack.
//
// The insert and the award share one transaction: a hack that fails to
// save (a duplicate slug, say) earns nothing, and points are never given
// for a hack that does not exist.
func (s *HackService) Create(ctx context.Context, owner *model.User, in model.HackInput) (*model.Hack, error) {
	hack := &model.Hack{
		Title:        in.Title,
		Image:        in.Image,
		Description:  in.Description,
		Steps:        in.Steps,
		TutorialLink: in.TutorialLink,
		UserID:       owner.ID,
		PostedOn:     s.now().UTC(),
	}
	model.NormalizeHack(hack)

	if err := model.ValidateHack(hack); err != nil {
		return nil, err
	}
	hack.Slug = model.MakeSlug(hack.Title, owner.Username)

	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Store) error {
		if err := tx.CreateHack(ctx, hack); err != nil {
			return err
		}
		return tx.AddEcoPoints(ctx, owner.ID, model.EcoPointsPerHack)
	})
	if err != nil {
		return nil, fmt.Errorf("service/hack: creating hack: %w", err)
	}

	metrics.HacksCreated.Inc()
	s.cache.InvalidatePrefix(ctx, hackListPrefix)
	s.logger.Info("hack created",
		slog.String("hackID", hack.ID),
		slog.String("slug", hack.Slug),
		slog.String("userID", owner.ID),
	)

	return hack, nil
}

// Update applies a partial update to one of owner's hacks.
//
// OWNERSHIP:
// Slugs are only unique per owner, so the hack is looked up by (slug,
// owner). When that misses but someone else has a hack with the slug, the
// caller is told they may not edit it (Forbidden) rather than that it does
// not exist.
func (s *HackService) Update(ctx context.Context, owner *model.User, slug string, patch model.HackPatch) (*model.Hack, error) {
	hack, err := s.ownedHack(ctx, owner, slug, "Not authorized to update this hack")
	if err != nil {
		return nil, err
	}
	if len(patch.Unknown) > 0 {
		msgs := make([]string, len(patch.Unknown))
		for i, key := range patch.Unknown {
			msgs[i] = "Invalid update field: " + key
		}
		return nil, apperror.Validation(msgs...)
	}

	if patch.Apply(hack) {
		hack.Slug = model.MakeSlug(hack.Title, owner.Username)
	}
	if err := model.ValidateHack(hack); err != nil {
		return nil, err
	}

	if err := s.store.UpdateHack(ctx, hack); err != nil {
		return nil, fmt.Errorf("service/hack: updating %s: %w", hack.ID, err)
	}

	s.cache.InvalidatePrefix(ctx, hackListPrefix)
	s.logger.Info("hack updated",
		slog.String("hackID", hack.ID),
		slog.String("slug", hack.Slug),
	)
	return hack, nil
}

// Delete removes one of owner's hacks. Reactions on it go with it.
func (s *HackService) Delete(ctx context.Context, owner *model.User, slug string) error {
	hack, err := s.store.GetHackBySlugAndOwner(ctx, slug, owner.ID)
	if err != nil {
		return fmt.Errorf("service/hack: finding %q: %w", slug, err)
	}

	if err := s.store.DeleteHack(ctx, hack.ID); err != nil {
		return fmt.Errorf("service/hack: deleting %s: %w", hack.ID, err)
	}

	s.cache.InvalidatePrefix(ctx, hackListPrefix)
	s.logger.Info("hack deleted",
		slog.String("hackID", hack.ID),
		slog.String("userID", owner.ID),
	)
	return nil
}

// ListByType lists hacks newest first. "trending" selects trending hacks;
// any other type selects the rest.
//
// Listings are the hottest read in the app, so they go through the cache
// when one is configured. Every write that can change a listing drops the
// cached pages.
func (s *HackService) ListByType(ctx context.Context, hackType string, opts repository.ListOptions) ([]model.Hack, error) {
	opts = clampListOptions(opts)
	trending := hackType == TrendingType

	kind := "regular"
	if trending {
		kind = TrendingType
	}
	key := fmt.Sprintf("%s%s:%d:%d", hackListPrefix, kind, opts.Limit, opts.Offset)

	hacks, err := cache.GetOrLoadJSON(ctx, s.cache, key, func(ctx context.Context) ([]model.Hack, error) {
		return s.store.ListHacks(ctx, trending, opts)
	})
	if err != nil {
		return nil, fmt.Errorf("service/hack: listing %s hacks: %w", kind, err)
	}
	if hacks == nil {
		hacks = []model.Hack{}
	}
	return hacks, nil
}

// GetBySlug returns the hack with slug. When several owners used the same
// slug, the earliest posted one wins.
func (s *HackService) GetBySlug(ctx context.Context, slug string) (*model.Hack, error) {
	hack, err := s.store.GetHackBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("service/hack: finding %q: %w", slug, err)
	}
	return hack, nil
}

// Like presses the like button on the hack with slug for user.
func (s *HackService) Like(ctx context.Context, user *model.User, slug string) (*model.Reactions, error) {
	return s.react(ctx, user, slug, model.ReactionLike)
}

// Dislike presses the dislike button on the hack with slug for user.
func (s *HackService) Dislike(ctx context.Context, user *model.User, slug string) (*model.Reactions, error) {
	return s.react(ctx, user, slug, model.ReactionDislike)
}

// react runs one button press through the reaction state machine.
//
// READ, DECIDE, WRITE-IF-UNCHANGED:
// The current state is read from the hack, the next state is computed by
// model.NextReaction, and the store applies the move only if the state is
// still the one that was read. If another press by the same user landed in
// between, the store says ErrStaleReaction and we start over from a fresh
// read. Giving up after a few attempts turns the conflict into an error
// instead of a loop.
func (s *HackService) react(ctx context.Context, user *model.User, slug string, action model.Reaction) (*model.Reactions, error) {
	for attempt := 1; ; attempt++ {
		hack, err := s.store.GetHackBySlug(ctx, slug)
		if err != nil {
			return nil, fmt.Errorf("service/hack: finding %q: %w", slug, err)
		}

		from := hack.ReactionOf(user.ID)
		to := model.NextReaction(from, action)

		err = s.store.ApplyReaction(ctx, hack.ID, user.ID, from, to)
		if errors.Is(err, repository.ErrStaleReaction) {
			if attempt >= maxReactionAttempts {
				return nil, fmt.Errorf("service/hack: %s on %s after %d attempts: %w", action, hack.ID, attempt, err)
			}
			metrics.ReactionRetries.Inc()
			s.logger.Debug("reaction retried",
				slog.String("hackID", hack.ID),
				slog.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("service/hack: %s on %s: %w", action, hack.ID, err)
		}

		hack.SetReaction(user.ID, to)
		metrics.Reactions.WithLabelValues(action.String()).Inc()
		s.cache.InvalidatePrefix(ctx, hackListPrefix)

		r := hack.Reactions()
		return &r, nil
	}
}

// SetTrending flags or unflags a hack as trending. The hack is named by
// slug and its owner's email, since slugs alone are not unique.
func (s *HackService) SetTrending(ctx context.Context, slug, ownerEmail string, trending bool) (*model.Hack, error) {
	owner, err := s.store.GetUserByEmail(ctx, model.NormalizeEmail(ownerEmail))
	if err != nil {
		return nil, fmt.Errorf("service/hack: finding owner: %w", err)
	}
	hack, err := s.store.GetHackBySlugAndOwner(ctx, slug, owner.ID)
	if err != nil {
		return nil, fmt.Errorf("service/hack: finding %q: %w", slug, err)
	}

	if err := s.store.SetTrending(ctx, hack.ID, trending); err != nil {
		return nil, fmt.Errorf("service/hack: setting trending on %s: %w", hack.ID, err)
	}
	hack.Trending = trending

	s.cache.InvalidatePrefix(ctx, hackListPrefix)
	s.logger.Info("hack trending changed",
		slog.String("hackID", hack.ID),
		slog.Bool("trending", trending),
	)
	return hack, nil
}

// ownedHack finds owner's hack with slug, telling "not yours" apart from
// "does not exist".
func (s *HackService) ownedHack(ctx context.Context, owner *model.User, slug, forbidden string) (*model.Hack, error) {
	hack, err := s.store.GetHackBySlugAndOwner(ctx, slug, owner.ID)
	if err == nil {
		return hack, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/hack: finding %q: %w", slug, err)
	}

	if _, other := s.store.GetHackBySlug(ctx, slug); other == nil {
		return nil, apperror.Forbidden(forbidden)
	}
	return nil, fmt.Errorf("service/hack: finding %q: %w", slug, err)
}

// clampListOptions bounds a requested page.
func clampListOptions(opts repository.ListOptions) repository.ListOptions {
	if opts.Limit < 0 {
		opts.Limit = 0
	}
	if opts.Limit > MaxListLimit {
		opts.Limit = MaxListLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return opts
}
