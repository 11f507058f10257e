package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sakif/ecohacks/internal/apperror"
	"github.com/sakif/ecohacks/internal/model"
)

func ptr[T any](v T) *T { return &v }

// =========================================================================
// PROFILE
// =========================================================================

func TestProfile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.register(t, "author")
	b := env.register(t, "reader")

	env.createHack(t, a.User, "Compost your kitchen scraps")
	env.createHack(t, b.User, "Fix leaking taps right away")

	p, err := env.users.Profile(ctx, a.User)
	if err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if p.User.ID != a.User.ID {
		t.Errorf("Profile().User = %s, want %s", p.User.ID, a.User.ID)
	}
	if len(p.PostedHacks) != 1 || p.PostedHacks[0].UserID != a.User.ID {
		t.Errorf("PostedHacks = %+v, want only the author's hack", p.PostedHacks)
	}
}

// =========================================================================
// UPDATE
// =========================================================================

func TestUpdateProfile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reg := env.register(t, "greenie")

	updated, err := env.users.UpdateProfile(ctx, reg.User, model.UserPatch{
		Username: ptr("greener"),
		Email:    ptr("New@Example.com"),
		Password: ptr("N3w-Passw0rd"),
	})
	if err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	if updated.Username != "greener" || updated.Email != "new@example.com" {
		t.Errorf("UpdateProfile() = %s/%s", updated.Username, updated.Email)
	}

	// old password no longer works, new one does
	if _, err := env.auth.Login(ctx, "new@example.com", "Passw0rd!"); !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("old password: error = %v, want validation", err)
	}
	if _, err := env.auth.Login(ctx, "new@example.com", "N3w-Passw0rd"); err != nil {
		t.Errorf("new password: error = %v", err)
	}
}

func TestUpdateProfile_Errors(t *testing.T) {
	tests := []struct {
		name  string
		patch model.UserPatch
		want  error
	}{
		{name: "short username", patch: model.UserPatch{Username: ptr("abc")}, want: apperror.ErrValidation},
		{name: "bad email", patch: model.UserPatch{Email: ptr("nope")}, want: apperror.ErrValidation},
		{name: "weak password", patch: model.UserPatch{Password: ptr("weak")}, want: apperror.ErrValidation},
		{name: "empty password", patch: model.UserPatch{Password: ptr("")}, want: apperror.ErrValidation},
		{name: "password over 72 bytes", patch: model.UserPatch{Password: ptr(strings.Repeat("é", 40) + "Aa1!")}, want: apperror.ErrValidation},
		{name: "email taken in another case", patch: model.UserPatch{Email: ptr("TAKEN@example.com")}, want: apperror.ErrDuplicate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			reg := env.register(t, "greenie")
			if _, err := env.auth.Register(ctx, "someone", "taken@example.com", "Passw0rd!"); err != nil {
				t.Fatalf("Register() error = %v", err)
			}

			_, err := env.users.UpdateProfile(ctx, reg.User, tt.patch)
			assertKind(t, err, tt.want)

			// the stored account is untouched
			u, err := env.store.GetUserByID(ctx, reg.User.ID)
			if err != nil {
				t.Fatalf("GetUserByID() error = %v", err)
			}
			if u.Username != "greenie" || u.Email != "greenie@example.com" || u.Password != reg.User.Password {
				t.Errorf("account changed after failed update: %+v", u)
			}
		})
	}
}

// =========================================================================
// DELETE
// =========================================================================

func TestDeleteAccount_Cascades(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.register(t, "author")
	b := env.register(t, "leaver")

	aHack := env.createHack(t, a.User, "Compost your kitchen scraps")
	bHack := env.createHack(t, b.User, "Fix leaking taps right away")

	// B likes A's hack; A dislikes B's hack
	if _, err := env.hacks.Like(ctx, b.User, aHack.Slug); err != nil {
		t.Fatalf("Like() error = %v", err)
	}
	if _, err := env.hacks.Dislike(ctx, a.User, bHack.Slug); err != nil {
		t.Fatalf("Dislike() error = %v", err)
	}

	if err := env.users.DeleteAccount(ctx, b.User); err != nil {
		t.Fatalf("DeleteAccount() error = %v", err)
	}

	// B's like on A's hack is gone, counter included
	h, err := env.store.GetHackByID(ctx, aHack.ID)
	if err != nil {
		t.Fatalf("GetHackByID() error = %v", err)
	}
	if h.Likes != 0 || len(h.LikedBy) != 0 {
		t.Errorf("A's hack likes = %d %v, want 0 []", h.Likes, h.LikedBy)
	}

	// B's hack is gone
	if _, err := env.store.GetHackByID(ctx, bHack.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("B's hack: error = %v, want not found", err)
	}

	// B is gone, and so is B's session
	if _, err := env.store.GetUserByID(ctx, b.User.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("B: error = %v, want not found", err)
	}
	if _, err := env.auth.Authenticate(ctx, b.Token); !errors.Is(err, apperror.ErrUnauthorized) {
		t.Errorf("B's token: error = %v, want unauthorized", err)
	}

	// A is untouched
	if _, err := env.auth.Authenticate(ctx, a.Token); err != nil {
		t.Errorf("A's token: error = %v", err)
	}
}
