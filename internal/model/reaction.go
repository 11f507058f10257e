package model

import (
	"fmt"
	"slices"
)

// Reaction is one user's stance on one hack.
//
// STATE MACHINE:
// The (hack, user) pair is always in exactly one of three states. Pressing
// "like" or "dislike" moves between them:
//
//	none     --like-->    liked      (likes+1)
//	none     --dislike--> disliked   (dislikes+1)
//	liked    --like-->    none       (likes-1, toggle off)
//	disliked --dislike--> none       (dislikes-1, toggle off)
//	liked    --dislike--> disliked   (likes-1, dislikes+1)
//	disliked --like-->    liked      (dislikes-1, likes+1)
type Reaction int

const (
	ReactionNone Reaction = iota
	ReactionLike
	ReactionDislike
)

func (r Reaction) String() string {
	switch r {
	case ReactionLike:
		return "like"
	case ReactionDislike:
		return "dislike"
	default:
		return "none"
	}
}

// ParseReaction is the inverse of String for the two stored states.
func ParseReaction(s string) (Reaction, error) {
	switch s {
	case "like":
		return ReactionLike, nil
	case "dislike":
		return ReactionDislike, nil
	case "none", "":
		return ReactionNone, nil
	}
	return ReactionNone, fmt.Errorf("model: unknown reaction %q", s)
}

// NextReaction is the transition function: pressing action while in state
// current. Pressing the same button twice toggles back to none.
func NextReaction(current, action Reaction) Reaction {
	if current == action {
		return ReactionNone
	}
	return action
}

// ReactionDelta is the change to the two counters for one transition.
type ReactionDelta struct {
	Likes    int
	Dislikes int
}

// DeltaFor returns the counter changes for moving from one state to another.
func DeltaFor(from, to Reaction) ReactionDelta {
	var d ReactionDelta
	switch from {
	case ReactionLike:
		d.Likes--
	case ReactionDislike:
		d.Dislikes--
	}
	switch to {
	case ReactionLike:
		d.Likes++
	case ReactionDislike:
		d.Dislikes++
	}
	return d
}

// SetReaction moves userID to state to on an in-memory hack, keeping the
// counters equal to the list lengths.
func (h *Hack) SetReaction(userID string, to Reaction) {
	h.LikedBy = slices.DeleteFunc(h.LikedBy, func(id string) bool { return id == userID })
	h.DislikedBy = slices.DeleteFunc(h.DislikedBy, func(id string) bool { return id == userID })

	switch to {
	case ReactionLike:
		h.LikedBy = append(h.LikedBy, userID)
	case ReactionDislike:
		h.DislikedBy = append(h.DislikedBy, userID)
	}

	if h.LikedBy == nil {
		h.LikedBy = []string{}
	}
	if h.DislikedBy == nil {
		h.DislikedBy = []string{}
	}
	h.Likes = len(h.LikedBy)
	h.Dislikes = len(h.DislikedBy)
}
