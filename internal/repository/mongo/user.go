package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/sakif/ecohacks/internal/apperror"
	"github.com/sakif/ecohacks/internal/model"
)

type userDoc struct {
	ID        string     `bson:"_id"`
	Username  string     `bson:"username"`
	Email     string     `bson:"email"`
	Password  string     `bson:"password,omitempty"`
	GoogleID  string     `bson:"googleId,omitempty"`
	OTP       otpDoc     `bson:"otp"`
	EcoPoints int        `bson:"ecoPoints"`
	Tokens    []tokenDoc `bson:"tokens"`
	CreatedAt time.Time  `bson:"createdAt"`
}

type otpDoc struct {
	Code      string     `bson:"code,omitempty"`
	ExpiresAt *time.Time `bson:"expiresAt,omitempty"`
}

type tokenDoc struct {
	Token     string    `bson:"token"`
	IssuedAt  time.Time `bson:"issuedAt"`
	ExpiresAt time.Time `bson:"expiresAt"`
}

func toUserDoc(u *model.User) userDoc {
	d := userDoc{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Password:  u.Password,
		GoogleID:  u.GoogleID,
		OTP:       otpDoc{Code: u.OTP.Code, ExpiresAt: u.OTP.ExpiresAt},
		EcoPoints: u.EcoPoints,
		Tokens:    make([]tokenDoc, 0, len(u.Tokens)),
		CreatedAt: u.CreatedAt,
	}
	for _, t := range u.Tokens {
		d.Tokens = append(d.Tokens, tokenDoc(t))
	}
	return d
}

func (d userDoc) toModel() *model.User {
	u := &model.User{
		ID:        d.ID,
		Username:  d.Username,
		Email:     d.Email,
		Password:  d.Password,
		GoogleID:  d.GoogleID,
		OTP:       model.OTP{Code: d.OTP.Code, ExpiresAt: d.OTP.ExpiresAt},
		EcoPoints: d.EcoPoints,
		CreatedAt: d.CreatedAt,
	}
	for _, t := range d.Tokens {
		u.Tokens = append(u.Tokens, model.SessionToken(t))
	}
	return u
}

func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	u.ID = xid.New().String()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	}

	if _, err := s.users.InsertOne(ctx, toUserDoc(u)); err != nil {
		return userWriteError(err, "inserting user")
	}
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	var d userDoc
	if err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		if notFound(err) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("mongo: getting user %s: %w", id, err)
	}
	return d.toModel(), nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var d userDoc
	if err := s.users.FindOne(ctx, bson.M{"email": email}).Decode(&d); err != nil {
		if notFound(err) {
			return nil, apperror.NotFoundMessage("User not found")
		}
		return nil, fmt.Errorf("mongo: getting user by email: %w", err)
	}
	return d.toModel(), nil
}

// UpdateUser sets the profile fields. An empty googleId or password is
// removed from the document so the sparse index keeps ignoring it.
func (s *Store) UpdateUser(ctx context.Context, u *model.User) error {
	set := bson.M{"username": u.Username, "email": u.Email}
	unset := bson.M{}
	if u.Password != "" {
		set["password"] = u.Password
	} else {
		unset["password"] = ""
	}
	if u.GoogleID != "" {
		set["googleId"] = u.GoogleID
	} else {
		unset["googleId"] = ""
	}

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	res, err := s.users.UpdateByID(ctx, u.ID, update)
	if err != nil {
		return userWriteError(err, "updating user "+u.ID)
	}
	if res.MatchedCount == 0 {
		return apperror.NotFound("user", u.ID)
	}
	return nil
}

func (s *Store) AddToken(ctx context.Context, userID string, tok model.SessionToken) error {
	res, err := s.users.UpdateByID(ctx, userID, bson.M{"$push": bson.M{"tokens": tokenDoc(tok)}})
	if err != nil {
		return fmt.Errorf("mongo: adding token for user %s: %w", userID, err)
	}
	if res.MatchedCount == 0 {
		return apperror.NotFound("user", userID)
	}
	return nil
}

func (s *Store) RemoveToken(ctx context.Context, userID, token string) (bool, error) {
	res, err := s.users.UpdateOne(ctx,
		bson.M{"_id": userID, "tokens.token": token},
		bson.M{"$pull": bson.M{"tokens": bson.M{"token": token}}},
	)
	if err != nil {
		return false, fmt.Errorf("mongo: removing token for user %s: %w", userID, err)
	}
	return res.ModifiedCount > 0, nil
}

func (s *Store) PruneTokens(ctx context.Context, userID string, now time.Time) error {
	_, err := s.users.UpdateByID(ctx, userID,
		bson.M{"$pull": bson.M{"tokens": bson.M{"expiresAt": bson.M{"$lt": now}}}})
	if err != nil {
		return fmt.Errorf("mongo: pruning tokens for user %s: %w", userID, err)
	}
	return nil
}

func (s *Store) AddEcoPoints(ctx context.Context, userID string, points int) error {
	res, err := s.users.UpdateByID(ctx, userID, bson.M{"$inc": bson.M{"ecoPoints": points}})
	if err != nil {
		return fmt.Errorf("mongo: adding eco points to user %s: %w", userID, err)
	}
	if res.MatchedCount == 0 {
		return apperror.NotFound("user", userID)
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.users.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("mongo: deleting user %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}

func userWriteError(err error, op string) error {
	switch {
	case isDuplicate(err, "googleId"):
		return apperror.Duplicate("googleId", "Google account already linked to another user")
	case isDuplicate(err, "email"):
		return apperror.Duplicate("email", "Email already exists")
	}
	return fmt.Errorf("mongo: %s: %w", op, err)
}
