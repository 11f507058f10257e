package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sakif/ecohacks/internal/apperror"
	"github.com/sakif/ecohacks/internal/model"
	"github.com/sakif/ecohacks/internal/repository"
)

// validInput returns a hack that passes every rule.
func validInput(title string) model.HackInput {
	return model.HackInput{
		Title:       title,
		Image:       "https://example.com/hack.png",
		Description: strings.Repeat("Small habits add up over a year. ", 20),
		Steps: []string{
			"Put a small bin by the sink",
			"Drop peels and coffee grounds in it",
			"Empty it into the compost every evening",
		},
	}
}

func (e *testEnv) createHack(t *testing.T, owner *model.User, title string) *model.Hack {
	t.Helper()
	h, err := e.hacks.Create(context.Background(), owner, validInput(title))
	if err != nil {
		t.Fatalf("Create(%q) error = %v", title, err)
	}
	return h
}

// staleStore makes the first n ApplyReaction calls fail as if another
// request had changed the reaction in between.
type staleStore struct {
	repository.Store
	mu     sync.Mutex
	stale  int
	called int
}

func (s *staleStore) ApplyReaction(ctx context.Context, hackID, userID string, from, to model.Reaction) error {
	s.mu.Lock()
	s.called++
	stale := s.called <= s.stale
	s.mu.Unlock()
	if stale {
		return repository.ErrStaleReaction
	}
	return s.Store.ApplyReaction(ctx, hackID, userID, from, to)
}

// =========================================================================
// CREATE
// =========================================================================

func TestCreate_AwardsPointsAndSlug(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.register(t, "author")

	h := env.createHack(t, a.User, "  Compost your kitchen scraps ")

	if h.Slug != "compost-your-kitchen-scraps-author" {
		t.Errorf("Slug = %q", h.Slug)
	}
	if h.Title != "Compost your kitchen scraps" {
		t.Errorf("Title = %q, want trimmed", h.Title)
	}
	if h.Likes != 0 || h.Dislikes != 0 || h.LikedBy == nil || h.DislikedBy == nil {
		t.Errorf("new hack reactions = %+v", h.Reactions())
	}

	u, err := env.store.GetUserByID(ctx, a.User.ID)
	if err != nil {
		t.Fatalf("GetUserByID() error = %v", err)
	}
	if u.EcoPoints != model.EcoPointsPerHack {
		t.Errorf("EcoPoints = %d, want %d", u.EcoPoints, model.EcoPointsPerHack)
	}
}

func TestCreate_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.register(t, "author")

	in := validInput("Too short")
	in.Steps = in.Steps[:2]

	_, err := env.hacks.Create(ctx, a.User, in)
	assertKind(t, err, apperror.ErrValidation)

	msgs := apperror.Normalize(err).Messages
	if len(msgs) != 2 {
		t.Errorf("messages = %q, want title and steps", msgs)
	}

	u, _ := env.store.GetUserByID(ctx, a.User.ID)
	if u.EcoPoints != 0 {
		t.Errorf("EcoPoints = %d after a rejected hack, want 0", u.EcoPoints)
	}
}

func TestCreate_RejectsScriptURLs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.register(t, "author")

	in := validInput("Compost your kitchen scraps")
	in.Image = "javascript:alert(document.cookie)"
	in.TutorialLink = "javascript:alert(1)"

	_, err := env.hacks.Create(ctx, a.User, in)
	assertKind(t, err, apperror.ErrValidation)

	want := "Invalid image URL|Tutorial link must be a valid URL"
	if got := strings.Join(apperror.Normalize(err).Messages, "|"); got != want {
		t.Errorf("messages = %q, want %q", got, want)
	}

	hacks, _ := env.store.ListHacksByOwner(ctx, a.User.ID)
	if len(hacks) != 0 {
		t.Errorf("stored %d hacks, want none", len(hacks))
	}
}

func TestCreate_DuplicateAwardsNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.register(t, "author")

	env.createHack(t, a.User, "Compost your kitchen scraps")
	_, err := env.hacks.Create(ctx, a.User, validInput("Compost your kitchen scraps"))
	assertKind(t, err, apperror.ErrDuplicate)

	u, _ := env.store.GetUserByID(ctx, a.User.ID)
	if u.EcoPoints != model.EcoPointsPerHack {
		t.Errorf("EcoPoints = %d, want %d (one award only)", u.EcoPoints, model.EcoPointsPerHack)
	}
}

func TestCreate_SameTitleDifferentOwners(t *testing.T) {
	env := newTestEnv(t)
	a := env.register(t, "author")
	b := env.register(t, "copier")

	ha := env.createHack(t, a.User, "Compost your kitchen scraps")
	hb := env.createHack(t, b.User, "Compost your kitchen scraps")
	if ha.Slug == hb.Slug {
		t.Errorf("both owners got slug %q", ha.Slug)
	}
}

// =========================================================================
// UPDATE / DELETE
// =========================================================================

func TestUpdate_TitleChangesSlug(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.register(t, "author")
	h := env.createHack(t, a.User, "Compost your kitchen scraps")

	updated, err := env.hacks.Update(ctx, a.User, h.Slug, model.HackPatch{Title: ptr("Compost all your garden waste")})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Slug != "compost-all-your-garden-waste-author" {
		t.Errorf("Slug = %q", updated.Slug)
	}

	if _, err := env.hacks.GetBySlug(ctx, h.Slug); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("old slug: error = %v, want not found", err)
	}
	if got, err := env.hacks.GetBySlug(ctx, updated.Slug); err != nil || got.ID != h.ID {
		t.Errorf("new slug: got %v, error = %v", got, err)
	}
}

func TestUpdate_SlugCollisionRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.register(t, "author")
	env.createHack(t, a.User, "Compost your kitchen scraps")
	h := env.createHack(t, a.User, "Fix leaking taps right away")

	_, err := env.hacks.Update(ctx, a.User, h.Slug, model.HackPatch{Title: ptr("Compost your kitchen scraps")})
	assertKind(t, err, apperror.ErrDuplicate)

	got, _ := env.store.GetHackByID(ctx, h.ID)
	if got.Title != "Fix leaking taps right away" {
		t.Errorf("Title = %q after a rejected update", got.Title)
	}
}

func TestUpdate_Ownership(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.register(t, "author")
	b := env.register(t, "intruder")
	h := env.createHack(t, a.User, "Compost your kitchen scraps")

	_, err := env.hacks.Update(ctx, b.User, h.Slug, model.HackPatch{Description: ptr(strings.Repeat("x", 600))})
	assertKind(t, err, apperror.ErrForbidden)

	got, _ := env.store.GetHackByID(ctx, h.ID)
	if got.Description != h.Description {
		t.Error("hack changed after a forbidden update")
	}

	_, err = env.hacks.Update(ctx, b.User, "no-such-hack", model.HackPatch{})
	assertKind(t, err, apperror.ErrNotFound)
}

// Ownership is settled before the body's keys are looked at.
func TestUpdate_UnknownKeys(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.register(t, "author")
	b := env.register(t, "intruder")
	h := env.createHack(t, a.User, "Compost your kitchen scraps")

	patch := model.HackPatch{Title: ptr("Compost all your garden waste"), Unknown: []string{"likes"}}

	_, err := env.hacks.Update(ctx, b.User, h.Slug, patch)
	assertKind(t, err, apperror.ErrForbidden)

	_, err = env.hacks.Update(ctx, a.User, h.Slug, patch)
	assertKind(t, err, apperror.ErrValidation)
	if got := apperror.Normalize(err).Messages; !slices.Equal(got, []string{"Invalid update field: likes"}) {
		t.Errorf("messages = %q", got)
	}

	got, _ := env.store.GetHackByID(ctx, h.ID)
	if got.Title != h.Title || got.Slug != h.Slug {
		t.Errorf("hack changed after a rejected update: %q %q", got.Title, got.Slug)
	}
}

func TestUpdate_Revalidates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.register(t, "author")
	h := env.createHack(t, a.User, "Compost your kitchen scraps")

	_, err := env.hacks.Update(ctx, a.User, h.Slug, model.HackPatch{Image: ptr("not a url")})
	assertKind(t, err, apperror.ErrValidation)
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.register(t, "author")
	b := env.register(t, "intruder")
	h := env.createHack(t, a.User, "Compost your kitchen scraps")

	assertKind(t, env.hacks.Delete(ctx, b.User, h.Slug), apperror.ErrNotFound)

	if err := env.hacks.Delete(ctx, a.User, h.Slug); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := env.hacks.GetBySlug(ctx, h.Slug); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("after delete: error = %v, want not found", err)
	}
}

// =========================================================================
// LIST / GET
// =========================================================================

func TestListByType(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.register(t, "author")

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	titles := []string{"Compost your kitchen scraps", "Fix leaking taps right away", "Walk to the shops today"}
	for i, title := range titles {
		env.hacks.now = func() time.Time { return base.Add(time.Duration(i) * time.Hour) }
		env.createHack(t, a.User, title)
	}

	hot := env.createHack(t, a.User, "Switch off lights when leaving")
	if _, err := env.hacks.SetTrending(ctx, hot.Slug, "Author@example.com", true); err != nil {
		t.Fatalf("SetTrending() error = %v", err)
	}

	trending, err := env.hacks.ListByType(ctx, "trending", repository.ListOptions{})
	if err != nil {
		t.Fatalf("ListByType(trending) error = %v", err)
	}
	if len(trending) != 1 || trending[0].ID != hot.ID {
		t.Errorf("trending = %v, want only %s", trending, hot.ID)
	}

	for _, kind := range []string{"regular", "anything-else"} {
		regular, err := env.hacks.ListByType(ctx, kind, repository.ListOptions{})
		if err != nil {
			t.Fatalf("ListByType(%s) error = %v", kind, err)
		}
		var got []string
		for _, h := range regular {
			got = append(got, h.Title)
		}
		want := []string{titles[2], titles[1], titles[0]}
		if !slices.Equal(got, want) {
			t.Errorf("ListByType(%s) = %q, want newest first %q", kind, got, want)
		}
	}

	page, err := env.hacks.ListByType(ctx, "regular", repository.ListOptions{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("ListByType(page) error = %v", err)
	}
	if len(page) != 1 || page[0].Title != titles[1] {
		t.Errorf("page = %v, want %q", page, titles[1])
	}
}

func TestListByType_Empty(t *testing.T) {
	env := newTestEnv(t)
	hacks, err := env.hacks.ListByType(context.Background(), "trending", repository.ListOptions{})
	if err != nil {
		t.Fatalf("ListByType() error = %v", err)
	}
	if hacks == nil || len(hacks) != 0 {
		t.Errorf("ListByType() = %#v, want empty non-nil", hacks)
	}
}

func TestClampListOptions(t *testing.T) {
	tests := []struct {
		in, want repository.ListOptions
	}{
		{repository.ListOptions{}, repository.ListOptions{}},
		{repository.ListOptions{Limit: -5, Offset: -1}, repository.ListOptions{}},
		{repository.ListOptions{Limit: 1000, Offset: 3}, repository.ListOptions{Limit: MaxListLimit, Offset: 3}},
	}
	for _, tt := range tests {
		if got := clampListOptions(tt.in); got != tt.want {
			t.Errorf("clampListOptions(%+v) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

// =========================================================================
// REACTIONS
// =========================================================================

func TestReactions_LikeThenDislike(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.register(t, "author")
	b := env.register(t, "reader")
	h := env.createHack(t, a.User, "Compost your kitchen scraps")

	r, err := env.hacks.Like(ctx, b.User, h.Slug)
	if err != nil {
		t.Fatalf("Like() error = %v", err)
	}
	if r.Likes != 1 || !slices.Equal(r.LikedBy, []string{b.User.ID}) {
		t.Errorf("after like = %+v", r)
	}

	r, err = env.hacks.Dislike(ctx, b.User, h.Slug)
	if err != nil {
		t.Fatalf("Dislike() error = %v", err)
	}
	if r.Likes != 0 || r.Dislikes != 1 || len(r.LikedBy) != 0 || !slices.Equal(r.DislikedBy, []string{b.User.ID}) {
		t.Errorf("after dislike = %+v", r)
	}

	// the store agrees with the response
	stored, _ := env.store.GetHackByID(ctx, h.ID)
	if stored.Likes != 0 || stored.Dislikes != 1 || !slices.Equal(stored.DislikedBy, []string{b.User.ID}) {
		t.Errorf("stored = %+v", stored.Reactions())
	}

	// pressing dislike again toggles off
	r, err = env.hacks.Dislike(ctx, b.User, h.Slug)
	if err != nil {
		t.Fatalf("second Dislike() error = %v", err)
	}
	if r.Likes != 0 || r.Dislikes != 0 {
		t.Errorf("after toggle off = %+v", r)
	}
}

func TestReactions_UnknownSlug(t *testing.T) {
	env := newTestEnv(t)
	b := env.register(t, "reader")

	_, err := env.hacks.Like(context.Background(), b.User, "no-such-hack")
	assertKind(t, err, apperror.ErrNotFound)
}

func TestReactions_ManyUsersStayConsistent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.register(t, "author")
	h := env.createHack(t, a.User, "Compost your kitchen scraps")

	names := []string{"user1", "user2", "user3", "user4", "user5", "user6"}
	var wg sync.WaitGroup
	for i, name := range names {
		u := env.register(t, name+"xx")
		wg.Add(1)
		go func(u *model.User, likes bool) {
			defer wg.Done()
			var err error
			if likes {
				_, err = env.hacks.Like(ctx, u, h.Slug)
			} else {
				_, err = env.hacks.Dislike(ctx, u, h.Slug)
			}
			if err != nil {
				t.Errorf("reaction by %s: %v", u.Username, err)
			}
		}(u.User, i%2 == 0)
	}
	wg.Wait()

	got, _ := env.store.GetHackByID(ctx, h.ID)
	if got.Likes != 3 || got.Dislikes != 3 || len(got.LikedBy) != 3 || len(got.DislikedBy) != 3 {
		t.Errorf("after concurrent presses = %+v", got.Reactions())
	}
}

func TestReactions_RetriesStaleWrites(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.register(t, "author")
	b := env.register(t, "reader")
	h := env.createHack(t, a.User, "Compost your kitchen scraps")

	stale := &staleStore{Store: env.store, stale: maxReactionAttempts - 1}
	env.hacks.store = stale

	r, err := env.hacks.Like(ctx, b.User, h.Slug)
	if err != nil {
		t.Fatalf("Like() error = %v", err)
	}
	if r.Likes != 1 || stale.called != maxReactionAttempts {
		t.Errorf("likes = %d after %d attempts", r.Likes, stale.called)
	}
}

func TestReactions_GivesUpAfterMaxAttempts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.register(t, "author")
	b := env.register(t, "reader")
	h := env.createHack(t, a.User, "Compost your kitchen scraps")

	env.hacks.store = &staleStore{Store: env.store, stale: maxReactionAttempts}

	_, err := env.hacks.Like(ctx, b.User, h.Slug)
	if !errors.Is(err, repository.ErrStaleReaction) {
		t.Fatalf("error = %v, want ErrStaleReaction", err)
	}
	if apperror.TypeOf(err) != apperror.TypeUnknown {
		t.Errorf("TypeOf = %q, want unknown", apperror.TypeOf(err))
	}

	got, _ := env.store.GetHackByID(ctx, h.ID)
	if got.Likes != 0 {
		t.Errorf("likes = %d after giving up, want 0", got.Likes)
	}
}

// =========================================================================
// SET TRENDING
// =========================================================================

func TestSetTrending_Unknown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "author")

	_, err := env.hacks.SetTrending(ctx, "no-such-hack", "author@example.com", true)
	assertKind(t, err, apperror.ErrNotFound)
	_, err = env.hacks.SetTrending(ctx, "no-such-hack", "nobody@example.com", true)
	assertKind(t, err, apperror.ErrNotFound)
}
