package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB stores each collection as a MongoDB collection keyed by _id.
type MongoDB struct {
	client *mongo.Client
	db     *mongo.Database
}

func NewMongoDB(ctx context.Context, uri, database string) (*MongoDB, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	return &MongoDB{client: client, db: client.Database(database)}, nil
}

func (m *MongoDB) Collection(name string) DocumentStore {
	return &mongoCollection{coll: m.db.Collection(name)}
}

func (m *MongoDB) Close() error {
	return m.client.Disconnect(context.Background())
}

type mongoCollection struct {
	coll *mongo.Collection
}

func (c *mongoCollection) Upsert(ctx context.Context, id string, doc json.RawMessage) error {
	if err := checkID(id); err != nil {
		return err
	}

	var fields bson.M
	if err := bson.UnmarshalExtJSON(doc, false, &fields); err != nil {
		return fmt.Errorf("failed to convert %s/%s to bson: %w", c.coll.Name(), id, err)
	}
	fields["_id"] = id

	_, err := c.coll.ReplaceOne(ctx, bson.M{"_id": id}, fields, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert %s/%s: %w", c.coll.Name(), id, err)
	}
	return nil
}

func (c *mongoCollection) Delete(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	if _, err := c.coll.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", c.coll.Name(), id, err)
	}
	return nil
}

func (c *mongoCollection) Get(ctx context.Context, id string) (json.RawMessage, error) {
	var raw bson.Raw
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", c.coll.Name(), id, err)
	}
	return toJSON(raw)
}

func (c *mongoCollection) List(ctx context.Context) ([]json.RawMessage, error) {
	cursor, err := c.coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", c.coll.Name(), err)
	}
	defer cursor.Close(ctx)

	docs := []json.RawMessage{}
	for cursor.Next(ctx) {
		doc, err := toJSON(cursor.Current)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, cursor.Err()
}

func toJSON(raw bson.Raw) (json.RawMessage, error) {
	out, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return nil, fmt.Errorf("failed to convert bson to json: %w", err)
	}
	return json.RawMessage(out), nil
}
