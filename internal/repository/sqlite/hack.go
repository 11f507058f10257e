package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/ecohacks/internal/apperror"
	"github.com/sakif/ecohacks/internal/model"
	"github.com/sakif/ecohacks/internal/repository"
)

const hackColumns = `id, title, image, description, steps, likes, dislikes, trending, tutorial_link, user_id, posted_on, slug`

// CreateHack inserts a hack with no reactions.
func (db *DB) CreateHack(ctx context.Context, h *model.Hack) error {
	h.ID = xid.New().String()
	if h.PostedOn.IsZero() {
		h.PostedOn = time.Now().UTC()
	}
	h.Likes, h.Dislikes = 0, 0
	h.LikedBy, h.DislikedBy = []string{}, []string{}

	steps, err := json.Marshal(h.Steps)
	if err != nil {
		return fmt.Errorf("sqlite: encoding steps: %w", err)
	}

	_, err = db.q.ExecContext(ctx,
		`INSERT INTO hacks (`+hackColumns+`)
		 VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?, ?, ?, ?)`,
		h.ID,
		h.Title,
		h.Image,
		h.Description,
		string(steps),
		h.Trending,
		h.TutorialLink,
		h.UserID,
		h.PostedOn,
		h.Slug,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return duplicateHack()
		}
		return fmt.Errorf("sqlite: inserting hack: %w", err)
	}
	return nil
}

func (db *DB) GetHackByID(ctx context.Context, id string) (*model.Hack, error) {
	return db.getHack(ctx, apperror.NotFound("hack", id),
		`SELECT `+hackColumns+` FROM hacks WHERE id = ?`, id)
}

// GetHackBySlug picks the earliest post when several owners share a slug.
func (db *DB) GetHackBySlug(ctx context.Context, slug string) (*model.Hack, error) {
	return db.getHack(ctx, apperror.NotFoundMessage("Hack not found"),
		`SELECT `+hackColumns+` FROM hacks WHERE slug = ?
		 ORDER BY posted_on, rowid LIMIT 1`, slug)
}

func (db *DB) GetHackBySlugAndOwner(ctx context.Context, slug, ownerID string) (*model.Hack, error) {
	return db.getHack(ctx, apperror.NotFoundMessage("Hack not found"),
		`SELECT `+hackColumns+` FROM hacks WHERE slug = ? AND user_id = ?`, slug, ownerID)
}

// ListHacks lists by trending flag, newest first.
func (db *DB) ListHacks(ctx context.Context, trending bool, opts repository.ListOptions) ([]model.Hack, error) {
	query := `SELECT ` + hackColumns + ` FROM hacks WHERE trending = ?
		ORDER BY posted_on DESC, rowid DESC`
	args := []any{trending}

	// SQLite only accepts OFFSET after a LIMIT; -1 means unlimited.
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, max(opts.Offset, 0))
	}

	return db.listHacks(ctx, query, args...)
}

// ListHacksByOwner lists one user's hacks, newest first.
func (db *DB) ListHacksByOwner(ctx context.Context, ownerID string) ([]model.Hack, error) {
	return db.listHacks(ctx,
		`SELECT `+hackColumns+` FROM hacks WHERE user_id = ?
		 ORDER BY posted_on DESC, rowid DESC`, ownerID)
}

// UpdateHack writes the editable fields and the slug. Counters, reactions,
// owner and posting time are never touched here.
func (db *DB) UpdateHack(ctx context.Context, h *model.Hack) error {
	steps, err := json.Marshal(h.Steps)
	if err != nil {
		return fmt.Errorf("sqlite: encoding steps: %w", err)
	}

	res, err := db.q.ExecContext(ctx,
		`UPDATE hacks
		 SET title = ?, image = ?, description = ?, steps = ?, tutorial_link = ?, slug = ?
		 WHERE id = ?`,
		h.Title,
		h.Image,
		h.Description,
		string(steps),
		h.TutorialLink,
		h.Slug,
		h.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return duplicateHack()
		}
		return fmt.Errorf("sqlite: updating hack %s: %w", h.ID, err)
	}
	return expectRow(res, apperror.NotFound("hack", h.ID))
}

// DeleteHack removes a hack. Its reactions go through ON DELETE CASCADE.
func (db *DB) DeleteHack(ctx context.Context, id string) error {
	res, err := db.q.ExecContext(ctx, `DELETE FROM hacks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting hack %s: %w", id, err)
	}
	return expectRow(res, apperror.NotFound("hack", id))
}

func (db *DB) SetTrending(ctx context.Context, id string, trending bool) error {
	res, err := db.q.ExecContext(ctx, `UPDATE hacks SET trending = ? WHERE id = ?`, trending, id)
	if err != nil {
		return fmt.Errorf("sqlite: setting trending on hack %s: %w", id, err)
	}
	return expectRow(res, apperror.NotFound("hack", id))
}

// ApplyReaction changes one user's reaction and both counters in one
// transaction.
//
// CONDITIONAL UPDATE:
// The caller read the hack, saw the user in state from, and computed to.
// Between that read and this write another request by the same user may
// have landed. Re-checking the stored state inside the write transaction
// and refusing with ErrStaleReaction keeps the counters from drifting.
func (db *DB) ApplyReaction(ctx context.Context, hackID, userID string, from, to model.Reaction) error {
	return db.WithTx(ctx, func(ctx context.Context, s repository.Store) error {
		tx := s.(*DB)

		var exists int
		err := tx.q.QueryRowContext(ctx, `SELECT 1 FROM hacks WHERE id = ?`, hackID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return apperror.NotFound("hack", hackID)
		}
		if err != nil {
			return fmt.Errorf("sqlite: checking hack %s: %w", hackID, err)
		}

		current, err := tx.currentReaction(ctx, hackID, userID)
		if err != nil {
			return err
		}
		if current != from {
			return repository.ErrStaleReaction
		}
		if from == to {
			return nil
		}

		switch to {
		case model.ReactionNone:
			_, err = tx.q.ExecContext(ctx,
				`DELETE FROM hack_reactions WHERE hack_id = ? AND user_id = ?`, hackID, userID)
		default:
			_, err = tx.q.ExecContext(ctx,
				`INSERT INTO hack_reactions (hack_id, user_id, kind, reacted_at) VALUES (?, ?, ?, ?)
				 ON CONFLICT (hack_id, user_id) DO UPDATE SET kind = excluded.kind, reacted_at = excluded.reacted_at`,
				hackID, userID, to.String(), time.Now().UTC())
		}
		if err != nil {
			return fmt.Errorf("sqlite: writing reaction on hack %s: %w", hackID, err)
		}

		d := model.DeltaFor(from, to)
		_, err = tx.q.ExecContext(ctx,
			`UPDATE hacks SET likes = likes + ?, dislikes = dislikes + ? WHERE id = ?`,
			d.Likes, d.Dislikes, hackID)
		if err != nil {
			return fmt.Errorf("sqlite: updating counters on hack %s: %w", hackID, err)
		}
		return nil
	})
}

// RemoveUserReactions undoes every reaction of userID, decrementing the
// counters of the hacks involved.
func (db *DB) RemoveUserReactions(ctx context.Context, userID string) error {
	return db.WithTx(ctx, func(ctx context.Context, s repository.Store) error {
		tx := s.(*DB)

		stmts := []string{
			`UPDATE hacks SET likes = likes - 1 WHERE id IN
				(SELECT hack_id FROM hack_reactions WHERE user_id = ? AND kind = 'like')`,
			`UPDATE hacks SET dislikes = dislikes - 1 WHERE id IN
				(SELECT hack_id FROM hack_reactions WHERE user_id = ? AND kind = 'dislike')`,
			`DELETE FROM hack_reactions WHERE user_id = ?`,
		}
		for _, stmt := range stmts {
			if _, err := tx.q.ExecContext(ctx, stmt, userID); err != nil {
				return fmt.Errorf("sqlite: removing reactions of user %s: %w", userID, err)
			}
		}
		return nil
	})
}

// DeleteHacksByOwner removes all of a user's hacks and, by cascade, every
// reaction on them.
func (db *DB) DeleteHacksByOwner(ctx context.Context, ownerID string) error {
	if _, err := db.q.ExecContext(ctx, `DELETE FROM hacks WHERE user_id = ?`, ownerID); err != nil {
		return fmt.Errorf("sqlite: deleting hacks of user %s: %w", ownerID, err)
	}
	return nil
}

func (db *DB) currentReaction(ctx context.Context, hackID, userID string) (model.Reaction, error) {
	var kind string
	err := db.q.QueryRowContext(ctx,
		`SELECT kind FROM hack_reactions WHERE hack_id = ? AND user_id = ?`, hackID, userID,
	).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ReactionNone, nil
	}
	if err != nil {
		return model.ReactionNone, fmt.Errorf("sqlite: reading reaction on hack %s: %w", hackID, err)
	}
	return model.ParseReaction(kind)
}

func (db *DB) getHack(ctx context.Context, notFound error, query string, args ...any) (*model.Hack, error) {
	h, err := scanHack(db.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound
		}
		return nil, fmt.Errorf("sqlite: getting hack: %w", err)
	}

	if err := db.loadReactions(ctx, []*model.Hack{h}); err != nil {
		return nil, err
	}
	return h, nil
}

// listHacks runs a hack query and then fills in reactions.
//
// The rows are fully read and closed before the reactions query runs. With
// an in-memory database the pool has a single connection, and a second
// query while rows is open would wait on it forever.
func (db *DB) listHacks(ctx context.Context, query string, args ...any) ([]model.Hack, error) {
	rows, err := db.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing hacks: %w", err)
	}

	hacks := make([]model.Hack, 0)
	for rows.Next() {
		h, err := scanHack(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite: scanning hack: %w", err)
		}
		hacks = append(hacks, *h)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("sqlite: iterating hacks: %w", err)
	}
	rows.Close()

	ptrs := make([]*model.Hack, len(hacks))
	for i := range hacks {
		ptrs[i] = &hacks[i]
	}
	if err := db.loadReactions(ctx, ptrs); err != nil {
		return nil, err
	}
	return hacks, nil
}

// loadReactions fills LikedBy and DislikedBy for hacks with one query,
// in the order the reactions were made.
func (db *DB) loadReactions(ctx context.Context, hacks []*model.Hack) error {
	if len(hacks) == 0 {
		return nil
	}

	byID := make(map[string]*model.Hack, len(hacks))
	args := make([]any, 0, len(hacks))
	for _, h := range hacks {
		h.LikedBy, h.DislikedBy = []string{}, []string{}
		byID[h.ID] = h
		args = append(args, h.ID)
	}

	rows, err := db.q.QueryContext(ctx,
		`SELECT hack_id, user_id, kind FROM hack_reactions
		 WHERE hack_id IN (`+placeholders(len(args))+`)
		 ORDER BY reacted_at, rowid`, args...)
	if err != nil {
		return fmt.Errorf("sqlite: loading reactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var hackID, userID, kind string
		if err := rows.Scan(&hackID, &userID, &kind); err != nil {
			return fmt.Errorf("sqlite: scanning reaction: %w", err)
		}
		h := byID[hackID]
		switch kind {
		case "like":
			h.LikedBy = append(h.LikedBy, userID)
		case "dislike":
			h.DislikedBy = append(h.DislikedBy, userID)
		}
	}
	return rows.Err()
}

func scanHack(row rowScanner) (*model.Hack, error) {
	var (
		h     model.Hack
		steps string
	)
	err := row.Scan(
		&h.ID,
		&h.Title,
		&h.Image,
		&h.Description,
		&steps,
		&h.Likes,
		&h.Dislikes,
		&h.Trending,
		&h.TutorialLink,
		&h.UserID,
		&h.PostedOn,
		&h.Slug,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(steps), &h.Steps); err != nil {
		return nil, fmt.Errorf("decoding steps of hack %s: %w", h.ID, err)
	}
	return &h, nil
}

func duplicateHack() error {
	return apperror.Duplicate("slug", "hack title already exist, same content can result in reduction of ecoPoints")
}
