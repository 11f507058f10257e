package model

import (
	"slices"
	"strings"
	"time"
)

// Hack is a user-submitted eco tip.
//
// Likes and Dislikes are denormalized counters: they always equal
// len(LikedBy) and len(DislikedBy). A user id is in at most one of the two
// lists. Slug is derived from the title and the owner's username and is
// unique per owner, not globally.
type Hack struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Image        string    `json:"image"`
	Description  string    `json:"description"`
	Steps        []string  `json:"steps"`
	Likes        int       `json:"likes"`
	LikedBy      []string  `json:"likedBy"`
	Dislikes     int       `json:"dislikes"`
	DislikedBy   []string  `json:"dislikedBy"`
	Trending     bool      `json:"trending"`
	TutorialLink string    `json:"tutorialLink,omitempty"`
	UserID       string    `json:"userId"`
	PostedOn     time.Time `json:"postedOn"`
	Slug         string    `json:"slug"`
}

// ReactionOf returns userID's current reaction to the hack.
func (h *Hack) ReactionOf(userID string) Reaction {
	switch {
	case slices.Contains(h.LikedBy, userID):
		return ReactionLike
	case slices.Contains(h.DislikedBy, userID):
		return ReactionDislike
	default:
		return ReactionNone
	}
}

// Reactions is the like/dislike summary returned by the toggle endpoints.
type Reactions struct {
	Likes      int      `json:"likes"`
	Dislikes   int      `json:"dislikes"`
	LikedBy    []string `json:"likedBy"`
	DislikedBy []string `json:"dislikedBy"`
}

// Reactions returns the hack's like/dislike summary.
func (h *Hack) Reactions() Reactions {
	return Reactions{
		Likes:      h.Likes,
		Dislikes:   h.Dislikes,
		LikedBy:    h.LikedBy,
		DislikedBy: h.DislikedBy,
	}
}

// HackInput carries the client-writable fields of a new hack.
type HackInput struct {
	Title        string   `json:"title"`
	Image        string   `json:"image"`
	Description  string   `json:"description"`
	Steps        []string `json:"steps"`
	TutorialLink string   `json:"tutorialLink"`
}

// HackPatch is a partial hack update. Nil fields are left unchanged.
// Only these five keys are accepted from clients.
type HackPatch struct {
	Title        *string   `json:"title"`
	Image        *string   `json:"image"`
	Description  *string   `json:"description"`
	Steps        *[]string `json:"steps"`
	TutorialLink *string   `json:"tutorialLink"`

	// Unknown lists body keys outside the five above. They are rejected
	// after the ownership check.
	Unknown []string `json:"-"`
}

// Apply copies the set fields onto h and reports whether the title changed
// (which means the slug has to be recomputed).
func (p HackPatch) Apply(h *Hack) (titleChanged bool) {
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		titleChanged = title != h.Title
		h.Title = title
	}
	if p.Image != nil {
		h.Image = *p.Image
	}
	if p.Description != nil {
		h.Description = *p.Description
	}
	if p.Steps != nil {
		h.Steps = slices.Clone(*p.Steps)
	}
	if p.TutorialLink != nil {
		h.TutorialLink = *p.TutorialLink
	}
	NormalizeHack(h)
	return titleChanged
}

// NormalizeHack trims the free-text fields the same way on every write.
func NormalizeHack(h *Hack) {
	h.Title = strings.TrimSpace(h.Title)
	h.Image = strings.TrimSpace(h.Image)
	h.Description = strings.TrimSpace(h.Description)
	h.TutorialLink = strings.TrimSpace(h.TutorialLink)
	for i, step := range h.Steps {
		h.Steps[i] = strings.TrimSpace(step)
	}
	if h.LikedBy == nil {
		h.LikedBy = []string{}
	}
	if h.DislikedBy == nil {
		h.DislikedBy = []string{}
	}
}
