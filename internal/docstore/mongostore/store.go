// Package mongostore is the MongoDB docstore.Store. Document ids map to _id;
// the remaining fields are stored as-is. Documents this store creates use
// string ids. Existing documents keyed by ObjectID are read by their hex
// form, and a 24-digit hex id is always looked up under both types.
package mongostore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/landandplot/notifier/internal/docstore"
)

// Store implements docstore.Store.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ docstore.Store = (*Store)(nil)

// Connect dials uri, verifies the connection and selects database.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return &Store{client: client, db: client.Database(database)}, nil
}

// Collection exposes the underlying collection, used by the change stream
// listener.
func (s *Store) Collection(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Get implements docstore.Store.
func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	var m bson.M
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": matchID(id)}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return docstore.Document{}, docstore.ErrNotFound
	}
	if err != nil {
		return docstore.Document{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return toDocument(m)
}

// Query implements docstore.Store. Mongo matches a scalar against array
// fields element-wise, so both operators share one filter shape.
func (s *Store) Query(ctx context.Context, collection string, f docstore.Filter, after string, limit int) ([]docstore.Document, error) {
	if f.Op != docstore.OpEqual && f.Op != docstore.OpArrayContains {
		return nil, fmt.Errorf("%w: %q", docstore.ErrUnsupportedOp, f.Op)
	}

	filter := pageAfter(after)
	filter[f.Field] = f.Value
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetLimit(int64(limit))

	cur, err := s.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer cur.Close(ctx)

	var docs []docstore.Document
	for cur.Next(ctx) {
		var m bson.M
		if err := cur.Decode(&m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", collection, err)
		}
		doc, err := toDocument(m)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, cur.Err()
}

// Create implements docstore.Store.
func (s *Store) Create(ctx context.Context, collection string, data json.RawMessage) (string, error) {
	id := uuid.NewString()
	m, err := fromJSON(id, data)
	if err != nil {
		return "", err
	}
	if _, err := s.db.Collection(collection).InsertOne(ctx, m); err != nil {
		return "", fmt.Errorf("create %s: %w", collection, err)
	}
	return id, nil
}

// CreateIfAbsent implements docstore.Store. The unique _id index turns a
// concurrent duplicate into a duplicate-key error.
func (s *Store) CreateIfAbsent(ctx context.Context, collection, id string, data json.RawMessage) (docstore.Document, bool, error) {
	m, err := fromJSON(id, data)
	if err != nil {
		return docstore.Document{}, false, err
	}
	_, err = s.db.Collection(collection).InsertOne(ctx, m)
	if err == nil {
		return docstore.Document{ID: id, Data: data}, true, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return docstore.Document{}, false, fmt.Errorf("create %s/%s: %w", collection, id, err)
	}

	existing, err := s.Get(ctx, collection, id)
	if err != nil {
		return docstore.Document{}, false, err
	}
	return existing, false, nil
}

// BatchCommit implements docstore.Store inside a multi-document
// transaction, which requires a replica set.
func (s *Store) BatchCommit(ctx context.Context, writes []docstore.Write) error {
	if err := docstore.CheckBatch(writes); err != nil {
		return err
	}
	if len(writes) == 0 {
		return nil
	}

	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		for _, w := range writes {
			m, err := fromJSON(w.ID, w.Data)
			if err != nil {
				return nil, err
			}
			delete(m, "_id")
			coll := s.db.Collection(w.Collection)
			filter := bson.M{"_id": w.ID}
			if w.IfAbsent {
				_, err = coll.UpdateOne(sc, filter, bson.M{"$setOnInsert": m}, options.Update().SetUpsert(true))
			} else {
				_, err = coll.ReplaceOne(sc, filter, m, options.Replace().SetUpsert(true))
			}
			if err != nil {
				return nil, fmt.Errorf("batch write %s/%s: %w", w.Collection, w.ID, err)
			}
		}
		return nil, nil
	})
	return err
}

// ArrayRemove implements docstore.Store.
func (s *Store) ArrayRemove(ctx context.Context, collection, id, field string, values []string) error {
	if len(values) == 0 {
		return nil
	}
	_, err := s.db.Collection(collection).UpdateOne(ctx,
		bson.M{"_id": matchID(id)},
		bson.M{"$pullAll": bson.M{field: values}})
	if err != nil {
		return fmt.Errorf("array remove %s/%s: %w", collection, id, err)
	}
	return nil
}

// ToJSON converts a decoded Mongo document to plain JSON without its _id.
func ToJSON(m bson.M) (json.RawMessage, error) {
	fields := make(bson.M, len(m))
	for k, v := range m {
		if k != "_id" {
			fields[k] = v
		}
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return b, nil
}

// IDString renders a decoded _id as a document id. ObjectIDs become their
// hex form.
func IDString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case primitive.ObjectID:
		return id.Hex()
	default:
		return fmt.Sprint(v)
	}
}

// matchID matches id stored either as a string or as the ObjectID it
// spells.
func matchID(id string) any {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return id
	}
	return bson.M{"$in": bson.A{id, oid}}
}

// pageAfter filters _id past the keyset cursor after. Mongo compares values
// of one BSON type only and sorts strings before ObjectIDs, so a string
// cursor also admits every ObjectID and an ObjectID cursor admits only
// later ObjectIDs.
func pageAfter(after string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(after); err == nil {
		return bson.M{"_id": bson.M{"$gt": oid}}
	}
	return bson.M{"$or": bson.A{
		bson.M{"_id": bson.M{"$gt": after}},
		bson.M{"_id": bson.M{"$type": "objectId"}},
	}}
}

func toDocument(m bson.M) (docstore.Document, error) {
	id := IDString(m["_id"])
	data, err := ToJSON(m)
	if err != nil {
		return docstore.Document{}, err
	}
	return docstore.Document{ID: id, Data: data}, nil
}

func fromJSON(id string, data json.RawMessage) (bson.M, error) {
	m := bson.M{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode document %s: %w", id, err)
		}
	}
	m["_id"] = id
	return m, nil
}
