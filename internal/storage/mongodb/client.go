package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Client is the slice of a MongoDB client used by the adapter.
type Client interface {
	Collection(database, name string) Collection
	Disconnect(ctx context.Context) error
}

// Collection is the slice of a MongoDB collection used by the adapter.
type Collection interface {
	InsertOne(ctx context.Context, doc bson.D) error
	EnsureIndexes(ctx context.Context) error
	FindByForm(ctx context.Context, formID string, limit int64) ([]bson.Raw, error)
}

// Dialer connects a client for a URI.
type Dialer func(ctx context.Context, uri string) (Client, error)

// Dial connects with the official driver and pings the primary.
func Dial(ctx context.Context, uri string) (Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetAppName("postpipe-connector"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}
	return &driverClient{client: client}, nil
}

type driverClient struct {
	client *mongo.Client
}

func (c *driverClient) Collection(database, name string) Collection {
	return &driverCollection{coll: c.client.Database(database).Collection(name)}
}

func (c *driverClient) Disconnect(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

type driverCollection struct {
	coll *mongo.Collection
}

func (c *driverCollection) InsertOne(ctx context.Context, doc bson.D) error {
	_, err := c.coll.InsertOne(ctx, doc)
	return err
}

func (c *driverCollection) EnsureIndexes(ctx context.Context) error {
	_, err := c.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: fieldReceivedAt, Value: -1}},
		Options: options.Index().SetName("idx_received_at"),
	})
	return err
}

func (c *driverCollection) FindByForm(ctx context.Context, formID string, limit int64) ([]bson.Raw, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: fieldReceivedAt, Value: -1}}).
		SetLimit(limit)

	cursor, err := c.coll.Find(ctx, bson.D{{Key: fieldFormID, Value: formID}}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []bson.Raw
	for cursor.Next(ctx) {
		doc := make(bson.Raw, len(cursor.Current))
		copy(doc, cursor.Current)
		docs = append(docs, doc)
	}
	return docs, cursor.Err()
}
