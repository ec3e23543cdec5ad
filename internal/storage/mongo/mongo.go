// Package mongo stores carts in a MongoDB collection, one document per
// session.
package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xenking/streamshop/internal/domain/cart"
)

// Connect opens a client and verifies the server is reachable.
func Connect(ctx context.Context, uri, database string) (*mongo.Database, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}
	return client.Database(database), nil
}

type cartDocument struct {
	SessionID string      `bson:"session_id"`
	UserID    string      `bson:"user_id,omitempty"`
	Items     []cart.Item `bson:"items"`
	UpdatedAt time.Time   `bson:"updated_at"`
}

func (d cartDocument) domain() *cart.Cart {
	items := d.Items
	if items == nil {
		items = []cart.Item{}
	}
	return &cart.Cart{SessionID: d.SessionID, UserID: d.UserID, Items: items, UpdatedAt: d.UpdatedAt}
}

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository on the "carts" collection.
type CartRepository struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewCartRepository returns a CartRepository using db's "carts" collection.
func NewCartRepository(db *mongo.Database) *CartRepository {
	return &CartRepository{coll: db.Collection("carts"), now: time.Now}
}

// EnsureIndexes creates the unique session index.
func (r *CartRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("creating cart indexes: %w", err)
	}
	return nil
}

// Get returns the session's cart, or an empty one when none is stored.
func (r *CartRepository) Get(ctx context.Context, sessionID string) (*cart.Cart, error) {
	var doc cartDocument
	err := r.coll.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return &cart.Cart{SessionID: sessionID, Items: []cart.Item{}}, nil
		}
		return nil, fmt.Errorf("getting cart %q: %w", sessionID, err)
	}
	return doc.domain(), nil
}

// Replace overwrites the session's item list, upserting the document.
func (r *CartRepository) Replace(ctx context.Context, sessionID string, items []cart.Item) (*cart.Cart, error) {
	if items == nil {
		items = []cart.Item{}
	}
	update := bson.M{
		"$set": bson.M{
			"items":      items,
			"updated_at": r.now().UTC(),
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc cartDocument
	err := r.coll.FindOneAndUpdate(ctx, bson.M{"session_id": sessionID}, update, opts).Decode(&doc)
	if err != nil {
		return nil, fmt.Errorf("replacing cart %q: %w", sessionID, err)
	}
	return doc.domain(), nil
}
