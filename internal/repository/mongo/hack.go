package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sakif/ecohacks/internal/apperror"
	"github.com/sakif/ecohacks/internal/model"
	"github.com/sakif/ecohacks/internal/repository"
)

type hackDoc struct {
	ID           string    `bson:"_id"`
	Title        string    `bson:"title"`
	Image        string    `bson:"image"`
	Description  string    `bson:"description"`
	Steps        []string  `bson:"steps"`
	Likes        int       `bson:"likes"`
	LikedBy      []string  `bson:"likedBy"`
	Dislikes     int       `bson:"dislikes"`
	DislikedBy   []string  `bson:"dislikedBy"`
	Trending     bool      `bson:"trending"`
	TutorialLink string    `bson:"tutorialLink,omitempty"`
	UserID       string    `bson:"userId"`
	PostedOn     time.Time `bson:"postedOn"`
	Slug         string    `bson:"slug"`
}

func (d hackDoc) toModel() model.Hack {
	h := model.Hack(d)
	model.NormalizeHack(&h)
	return h
}

// newest first, ties broken by id (xids sort by creation time)
var newestFirst = bson.D{{Key: "postedOn", Value: -1}, {Key: "_id", Value: -1}}

func (s *Store) CreateHack(ctx context.Context, h *model.Hack) error {
	h.ID = xid.New().String()
	if h.PostedOn.IsZero() {
		h.PostedOn = time.Now().UTC().Truncate(time.Millisecond)
	}
	h.Likes, h.Dislikes = 0, 0
	h.LikedBy, h.DislikedBy = []string{}, []string{}

	if _, err := s.hacks.InsertOne(ctx, hackDoc(*h)); err != nil {
		if isDuplicate(err, "slug") {
			return duplicateHack()
		}
		return fmt.Errorf("mongo: inserting hack: %w", err)
	}
	return nil
}

func (s *Store) GetHackByID(ctx context.Context, id string) (*model.Hack, error) {
	return s.findHack(ctx, bson.M{"_id": id}, nil, apperror.NotFound("hack", id))
}

func (s *Store) GetHackBySlug(ctx context.Context, slug string) (*model.Hack, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "postedOn", Value: 1}, {Key: "_id", Value: 1}})
	return s.findHack(ctx, bson.M{"slug": slug}, opts, apperror.NotFoundMessage("Hack not found"))
}

func (s *Store) GetHackBySlugAndOwner(ctx context.Context, slug, ownerID string) (*model.Hack, error) {
	return s.findHack(ctx, bson.M{"slug": slug, "userId": ownerID}, nil, apperror.NotFoundMessage("Hack not found"))
}

func (s *Store) ListHacks(ctx context.Context, trending bool, opts repository.ListOptions) ([]model.Hack, error) {
	find := options.Find().SetSort(newestFirst)
	if opts.Limit > 0 {
		find.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		find.SetSkip(int64(opts.Offset))
	}
	return s.listHacks(ctx, bson.M{"trending": trending}, find)
}

func (s *Store) ListHacksByOwner(ctx context.Context, ownerID string) ([]model.Hack, error) {
	return s.listHacks(ctx, bson.M{"userId": ownerID}, options.Find().SetSort(newestFirst))
}

func (s *Store) UpdateHack(ctx context.Context, h *model.Hack) error {
	res, err := s.hacks.UpdateByID(ctx, h.ID, bson.M{"$set": bson.M{
		"title":        h.Title,
		"image":        h.Image,
		"description":  h.Description,
		"steps":        h.Steps,
		"tutorialLink": h.TutorialLink,
		"slug":         h.Slug,
	}})
	if err != nil {
		if isDuplicate(err, "slug") {
			return duplicateHack()
		}
		return fmt.Errorf("mongo: updating hack %s: %w", h.ID, err)
	}
	if res.MatchedCount == 0 {
		return apperror.NotFound("hack", h.ID)
	}
	return nil
}

func (s *Store) DeleteHack(ctx context.Context, id string) error {
	res, err := s.hacks.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("mongo: deleting hack %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return apperror.NotFound("hack", id)
	}
	return nil
}

func (s *Store) SetTrending(ctx context.Context, id string, trending bool) error {
	res, err := s.hacks.UpdateByID(ctx, id, bson.M{"$set": bson.M{"trending": trending}})
	if err != nil {
		return fmt.Errorf("mongo: setting trending on hack %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return apperror.NotFound("hack", id)
	}
	return nil
}

// ApplyReaction is one conditional update. The filter only matches while
// the user is still in state from, and the update moves lists and counters
// together:
//
//	from=like, to=dislike:
//	  filter {_id: h, likedBy: u}
//	  update {$pull: {likedBy: u}, $addToSet: {dislikedBy: u},
//	          $inc: {likes: -1, dislikes: 1}}
//
// No match means either the hack is gone or the state moved on.
func (s *Store) ApplyReaction(ctx context.Context, hackID, userID string, from, to model.Reaction) error {
	if from == to {
		return nil
	}

	filter := bson.M{"_id": hackID}
	switch from {
	case model.ReactionNone:
		filter["likedBy"] = bson.M{"$ne": userID}
		filter["dislikedBy"] = bson.M{"$ne": userID}
	case model.ReactionLike:
		filter["likedBy"] = userID
	case model.ReactionDislike:
		filter["dislikedBy"] = userID
	}

	update := bson.M{}
	if list := listField(from); list != "" {
		update["$pull"] = bson.M{list: userID}
	}
	if list := listField(to); list != "" {
		update["$addToSet"] = bson.M{list: userID}
	}
	d := model.DeltaFor(from, to)
	update["$inc"] = bson.M{"likes": d.Likes, "dislikes": d.Dislikes}

	res, err := s.hacks.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("mongo: applying reaction on hack %s: %w", hackID, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	n, err := s.hacks.CountDocuments(ctx, bson.M{"_id": hackID})
	if err != nil {
		return fmt.Errorf("mongo: checking hack %s: %w", hackID, err)
	}
	if n == 0 {
		return apperror.NotFound("hack", hackID)
	}
	return repository.ErrStaleReaction
}

func (s *Store) RemoveUserReactions(ctx context.Context, userID string) error {
	for _, list := range []string{"likedBy", "dislikedBy"} {
		counter := "likes"
		if list == "dislikedBy" {
			counter = "dislikes"
		}
		_, err := s.hacks.UpdateMany(ctx,
			bson.M{list: userID},
			bson.M{"$pull": bson.M{list: userID}, "$inc": bson.M{counter: -1}},
		)
		if err != nil {
			return fmt.Errorf("mongo: removing reactions of user %s: %w", userID, err)
		}
	}
	return nil
}

func (s *Store) DeleteHacksByOwner(ctx context.Context, ownerID string) error {
	if _, err := s.hacks.DeleteMany(ctx, bson.M{"userId": ownerID}); err != nil {
		return fmt.Errorf("mongo: deleting hacks of user %s: %w", ownerID, err)
	}
	return nil
}

func (s *Store) findHack(ctx context.Context, filter bson.M, opts *options.FindOneOptions, missing error) (*model.Hack, error) {
	var findOpts []*options.FindOneOptions
	if opts != nil {
		findOpts = append(findOpts, opts)
	}

	var d hackDoc
	if err := s.hacks.FindOne(ctx, filter, findOpts...).Decode(&d); err != nil {
		if notFound(err) {
			return nil, missing
		}
		return nil, fmt.Errorf("mongo: getting hack: %w", err)
	}
	h := d.toModel()
	return &h, nil
}

func (s *Store) listHacks(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]model.Hack, error) {
	cur, err := s.hacks.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: listing hacks: %w", err)
	}

	var docs []hackDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo: reading hacks: %w", err)
	}

	hacks := make([]model.Hack, 0, len(docs))
	for _, d := range docs {
		hacks = append(hacks, d.toModel())
	}
	return hacks, nil
}

func listField(r model.Reaction) string {
	switch r {
	case model.ReactionLike:
		return "likedBy"
	case model.ReactionDislike:
		return "dislikedBy"
	}
	return ""
}

func duplicateHack() error {
	return apperror.Duplicate("slug", "hack title already exist, same content can result in reduction of ecoPoints")
}
