package listener

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/landandplot/notifier/internal/docstore/mongostore"
	"github.com/landandplot/notifier/internal/model"
	"github.com/landandplot/notifier/internal/notifications"
)

// mongoEvent is the subset of a change stream event the feed reads.
type mongoEvent struct {
	OperationType string `bson:"operationType"`
	DocumentKey   struct {
		ID any `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument             bson.M              `bson:"fullDocument"`
	FullDocumentBeforeChange bson.M              `bson:"fullDocumentBeforeChange"`
	ClusterTime              primitive.Timestamp `bson:"clusterTime"`
}

// WatchMongo reads the change stream of coll and submits listing creates
// and updates. Updates need pre-images enabled on the collection
// (changeStreamPreAndPostImages); updates without one are skipped. The
// stream resumes from the last seen token after a disconnect. Blocks until
// ctx is cancelled. Intended to be called with `go`.
func (l *Listener) WatchMongo(ctx context.Context, coll *mongo.Collection) {
	backoff := reconnectBackoff
	var resume bson.Raw

	for {
		err := l.watchLoop(ctx, coll, &resume)
		if ctx.Err() != nil {
			l.logger.Info("Change stream stopped (context cancelled)")
			return
		}

		l.logger.Error("Change stream closed, reopening...",
			"error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxReconnect)
		case <-ctx.Done():
			return
		}
	}
}

func (l *Listener) watchLoop(ctx context.Context, coll *mongo.Collection, resume *bson.Raw) error {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"operationType": bson.M{"$in": bson.A{"insert", "update", "replace"}}}}},
	}
	opts := options.ChangeStream().
		SetFullDocument(options.UpdateLookup).
		SetFullDocumentBeforeChange(options.WhenAvailable)
	if *resume != nil {
		opts.SetResumeAfter(*resume)
	}

	stream, err := coll.Watch(ctx, pipeline, opts)
	if err != nil {
		return fmt.Errorf("open change stream: %w", err)
	}
	defer stream.Close(context.Background())
	l.logger.Info("Change stream opened", "collection", coll.Name())

	for stream.Next(ctx) {
		*resume = stream.ResumeToken()

		var ev mongoEvent
		if err := stream.Decode(&ev); err != nil {
			l.logger.Warn("Failed to decode change event", "error", err)
			continue
		}
		change, ok, err := ev.toChange()
		if err != nil {
			l.logger.Warn("Failed to convert change event", "error", err)
			continue
		}
		if !ok {
			l.logger.Warn("update without pre-image skipped", "doc_id", mongostore.IDString(ev.DocumentKey.ID))
			continue
		}
		l.Submit(ctx, change, nil)
	}
	return stream.Err()
}

// toChange converts an event. ok is false for updates that cannot be
// diffed because the pre-image is missing.
func (ev mongoEvent) toChange() (notifications.DocumentChange, bool, error) {
	id := mongostore.IDString(ev.DocumentKey.ID)
	if ev.FullDocument == nil {
		return notifications.DocumentChange{}, false, nil
	}

	current, err := decodeMongoListing(id, ev.FullDocument)
	if err != nil {
		return notifications.DocumentChange{}, false, err
	}
	change := notifications.DocumentChange{
		DocumentID:     id,
		Current:        current,
		Version:        fmt.Sprintf("mongo:%d.%d", ev.ClusterTime.T, ev.ClusterTime.I),
		EventTimestamp: time.Unix(int64(ev.ClusterTime.T), 0).UTC(),
	}

	if ev.OperationType == "insert" {
		return change, true, nil
	}
	if ev.FullDocumentBeforeChange == nil {
		return notifications.DocumentChange{}, false, nil
	}
	prev, err := decodeMongoListing(id, ev.FullDocumentBeforeChange)
	if err != nil {
		return notifications.DocumentChange{}, false, err
	}
	change.Previous = &prev
	return change, true, nil
}

func decodeMongoListing(id string, m bson.M) (model.Listing, error) {
	data, err := mongostore.ToJSON(m)
	if err != nil {
		return model.Listing{}, err
	}
	return model.DecodeListing(id, data)
}
