// Package mongo implements repository.Store on MongoDB.
//
// Users and hacks are one document each. A hack document embeds its
// likedBy/dislikedBy arrays next to the counters, so every reaction change
// is a single-document update, which MongoDB applies atomically.
//
// Multi-document work (create + award points, account deletion) runs in a
// session transaction. Transactions need a replica set or sharded cluster;
// against a standalone mongod they fail with an error.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/sakif/ecohacks/internal/repository"
)

var _ repository.Store = (*Store)(nil)

const (
	usersCollection = "users"
	hacksCollection = "hacks"
)

// Store is a MongoDB-backed repository.Store.
type Store struct {
	client *mongodriver.Client
	db     *mongodriver.Database
	users  *mongodriver.Collection
	hacks  *mongodriver.Collection
	inTx   bool
}

// New connects to uri, selects database dbName and makes sure the indexes
// exist.
func New(ctx context.Context, uri, dbName string) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongodriver.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: connecting: %w", err)
	}

	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: pinging: %w", err)
	}

	db := client.Database(dbName)
	s := &Store{
		client: client,
		db:     db,
		users:  db.Collection(usersCollection),
		hacks:  db.Collection(hacksCollection),
	}

	if err := s.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// ensureIndexes creates the unique and lookup indexes. CreateMany is a
// no-op for indexes that already exist with the same definition.
func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		// sparse: accounts without a googleId do not take part in the index
		{Keys: bson.D{{Key: "googleId", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
	})
	if err != nil {
		return fmt.Errorf("mongo: creating user indexes: %w", err)
	}

	_, err = s.hacks.Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{Keys: bson.D{{Key: "slug", Value: 1}, {Key: "userId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "trending", Value: 1}, {Key: "postedOn", Value: -1}}},
		{Keys: bson.D{{Key: "userId", Value: 1}}},
		{Keys: bson.D{{Key: "likedBy", Value: 1}}},
		{Keys: bson.D{{Key: "dislikedBy", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("mongo: creating hack indexes: %w", err)
	}
	return nil
}

// Ping checks the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client. Transaction-scoped stores do nothing.
func (s *Store) Close() error {
	if s.inTx {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// WithTx runs fn inside a session transaction.
//
// The driver ties operations to the session through the context: fn gets
// the session context, and every collection call that is passed that
// context joins the transaction. WithTransaction retries fn on transient
// transaction errors, so fn must not have side effects outside the store.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("mongo: starting session: %w", err)
	}
	defer session.EndSession(ctx)

	txStore := *s
	txStore.inTx = true

	_, err = session.WithTransaction(ctx, func(sc mongodriver.SessionContext) (any, error) {
		return nil, fn(sc, &txStore)
	})
	return err
}

// isDuplicate reports a unique index violation and names the key.
func isDuplicate(err error, key string) bool {
	return mongodriver.IsDuplicateKeyError(err) && strings.Contains(err.Error(), key)
}

func notFound(err error) bool {
	return errors.Is(err, mongodriver.ErrNoDocuments)
}
