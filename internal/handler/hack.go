package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/ecohacks/internal/apperror"
	"github.com/sakif/ecohacks/internal/model"
	"github.com/sakif/ecohacks/internal/repository"
)

// HackService is what HackHandler needs. *service.HackService implements it.
type HackService interface {
	Create(ctx context.Context, owner *model.User, in model.HackInput) (*model.Hack, error)
	Update(ctx context.Context, owner *model.User, slug string, patch model.HackPatch) (*model.Hack, error)
	Delete(ctx context.Context, owner *model.User, slug string) error
	ListByType(ctx context.Context, hackType string, opts repository.ListOptions) ([]model.Hack, error)
	GetBySlug(ctx context.Context, slug string) (*model.Hack, error)
	Like(ctx context.Context, user *model.User, slug string) (*model.Reactions, error)
	Dislike(ctx context.Context, user *model.User, slug string) (*model.Reactions, error)
}

// HackHandler serves /api/hacks.
type HackHandler struct {
	hacks  HackService
	logger *slog.Logger
}

func NewHackHandler(hacks HackService, logger *slog.Logger) *HackHandler {
	return &HackHandler{hacks: hacks, logger: logger}
}

type hackResponse struct {
	Message string      `json:"message"`
	Hack    *model.Hack `json:"hack"`
}

// HandleCreate posts a new hack owned by the signed-in user.
//
// HTTP: POST /api/hacks/createhack
// Auth: Required
// RESPONSE: 201 {"message": "Hack posted", "hack": {...}}
//
// Fields the server owns (owner, counters, slug, trending) are not read
// from the body.
func (h *HackHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r, h.logger)
	if !ok {
		return
	}

	var in model.HackInput
	if err := decodeJSON(w, r, &in, false); err != nil {
		writeError(w, h.logger, err)
		return
	}

	hack, err := h.hacks.Create(r.Context(), user, in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, hackResponse{Message: "Hack posted", Hack: hack})
}

// HandleListByType lists hacks, newest first.
//
// HTTP: GET /api/hacks/type/{type}?limit=20&offset=40
//
// {type} is "trending" for trending hacks; any other value lists the rest.
// limit and offset are optional.
func (h *HackHandler) HandleListByType(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	hacks, err := h.hacks.ListByType(r.Context(), chi.URLParam(r, "type"), opts)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, hacks)
}

// HandleView returns one hack.
//
// HTTP: GET /api/hacks/slug/{slug}/view
func (h *HackHandler) HandleView(w http.ResponseWriter, r *http.Request) {
	hack, err := h.hacks.GetBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, hack)
}

// HandleLike presses like for the signed-in user.
//
// HTTP: POST /api/hacks/slug/{slug}/like
// Auth: Required
// RESPONSE: {"likes": 1, "dislikes": 0, "likedBy": [...], "dislikedBy": [...]}
func (h *HackHandler) HandleLike(w http.ResponseWriter, r *http.Request) {
	h.react(w, r, h.hacks.Like)
}

// HandleDislike presses dislike for the signed-in user.
//
// HTTP: POST /api/hacks/slug/{slug}/dislike
// Auth: Required
func (h *HackHandler) HandleDislike(w http.ResponseWriter, r *http.Request) {
	h.react(w, r, h.hacks.Dislike)
}

func (h *HackHandler) react(w http.ResponseWriter, r *http.Request,
	press func(context.Context, *model.User, string) (*model.Reactions, error),
) {
	user, ok := currentUser(w, r, h.logger)
	if !ok {
		return
	}

	reactions, err := press(r.Context(), user, chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, reactions)
}

// HandleUpdate applies a partial update to one of the user's hacks.
//
// HTTP: PATCH /api/hacks/update/{slug}
// Auth: Required
// REQUEST BODY: any of {"title", "image", "description", "steps",
// "tutorialLink"}; other keys → 400, but only once the hack is known to
// be the user's (someone else's hack is 403 whatever the body says)
func (h *HackHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r, h.logger)
	if !ok {
		return
	}

	var patch model.HackPatch
	unknown, err := decodePatch(w, r, &patch)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	patch.Unknown = unknown

	hack, err := h.hacks.Update(r.Context(), user, chi.URLParam(r, "slug"), patch)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, hackResponse{Message: "Hack updated", Hack: hack})
}

// HandleDelete deletes one of the user's hacks.
//
// HTTP: DELETE /api/hacks/delete/{slug}
// Auth: Required
func (h *HackHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.hacks.Delete(r.Context(), user, chi.URLParam(r, "slug")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeMessage(w, http.StatusOK, "Hack deleted")
}

// listOptions parses the optional limit and offset query parameters.
func listOptions(r *http.Request) (repository.ListOptions, error) {
	var opts repository.ListOptions
	q := r.URL.Query()

	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"limit", &opts.Limit},
		{"offset", &opts.Offset},
	} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return opts, apperror.ValidationFailed(p.name, p.name+" must be a non-negative integer")
		}
		*p.dst = n
	}
	return opts, nil
}
