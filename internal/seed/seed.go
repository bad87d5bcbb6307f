package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/landandplot/notifier/internal/docstore"
)

// Fixture maps collection name to document id to document body.
type Fixture map[string]map[string]json.RawMessage

// seedOrder writes users before properties so listing triggers fired by
// the property writes can already resolve their recipients.
var seedOrder = []string{docstore.Users, docstore.Notifications, docstore.Properties}

// Decode reads a fixture and rejects unknown collections.
func Decode(r io.Reader) (Fixture, error) {
	var f Fixture
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	for coll := range f {
		if !slices.Contains(seedOrder, coll) {
			return nil, fmt.Errorf("unknown collection %q", coll)
		}
	}
	return f, nil
}

// Load upserts every fixture document, committing in batches of at most
// docstore.MaxBatchWrites. A failed batch is recorded and loading moves on.
func Load(ctx context.Context, store docstore.Store, f Fixture, logger *slog.Logger) SeedResult {
	result := SeedResult{Written: make(map[string]int)}

	for _, coll := range seedOrder {
		docs := f[coll]
		if len(docs) == 0 {
			continue
		}
		ids := make([]string, 0, len(docs))
		for id := range docs {
			ids = append(ids, id)
		}
		slices.Sort(ids)

		logger.Info("Seeding collection...", "collection", coll, "documents", len(ids))
		for batch := range slices.Chunk(ids, docstore.MaxBatchWrites) {
			writes := make([]docstore.Write, len(batch))
			for i, id := range batch {
				writes[i] = docstore.Write{Collection: coll, ID: id, Data: docs[id]}
			}
			result.Batches++
			if err := store.BatchCommit(ctx, writes); err != nil {
				result.AddErrorf("commit %s batch at %s: %v", coll, batch[0], err)
				continue
			}
			result.Written[coll] += len(batch)
		}
		logger.Info("Collection seeded", "collection", coll, "count", result.Written[coll])
	}

	logger.Info("Seed complete", "summary", result.Summary())
	return result
}
