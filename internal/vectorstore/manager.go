package vectorstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/embedgate/internal/algorithm"
)

const (
	// DefaultTopK is the search result limit when the caller gives none.
	DefaultTopK = 5

	// scrollPageSize is the page size for full-collection enumeration.
	scrollPageSize = 100

	// maxScrollPages caps full-collection enumeration so a misbehaving
	// engine cannot spin a request forever.
	maxScrollPages = 10000
)

// Manager owns per-algorithm vector collections.
//
// Collection identity derives solely from the algorithm id, so distinct
// algorithms and dimensions never collide in one index and collections
// materialize lazily on first write. Every operation takes a resolved
// algorithm.ID and works on the collection named by its canonical form.
type Manager struct {
	engine Engine
	logger *zap.Logger
}

// NewManager creates a Manager over the given engine.
func NewManager(engine Engine, logger *zap.Logger) (*Manager, error) {
	if engine == nil {
		return nil, fmt.Errorf("%w: engine is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{engine: engine, logger: logger}, nil
}

// EnsureCollection creates the collection for id if it does not exist.
//
// Idempotent and safe to call before every operation. A concurrent creator
// winning the race is success, not failure; the engine guarantees that.
func (m *Manager) EnsureCollection(ctx context.Context, id algorithm.ID) error {
	name := id.Collection()

	existing, err := m.engine.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("listing collections: %w", err)
	}
	for _, c := range existing {
		if c == name {
			return nil
		}
	}

	if err := m.engine.CreateCollection(ctx, name, id.Dimension); err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}

	m.logger.Info("collection created",
		zap.String("collection", name),
		zap.Int("dimension", id.Dimension),
	)
	return nil
}

// Upsert writes a record into id's collection, replacing any prior record
// with the same record id.
//
// The vector length is validated against the algorithm dimension before
// anything touches the engine, so a bad record leaves no side effects.
func (m *Manager) Upsert(ctx context.Context, id algorithm.ID, rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: record id required", ErrStoreRejected)
	}
	if len(rec.Vector) != id.Dimension {
		return fmt.Errorf("%w: algorithm %s expects %d, got %d",
			ErrDimensionMismatch, id, id.Dimension, len(rec.Vector))
	}

	if err := m.EnsureCollection(ctx, id); err != nil {
		return err
	}
	if err := m.engine.Upsert(ctx, id.Collection(), rec); err != nil {
		return fmt.Errorf("upserting %s: %w", rec.ID, err)
	}
	return nil
}

// ListIDs enumerates record ids in id's collection.
//
// With explicit == nil the whole collection is scrolled page by page. The
// loop terminates on an empty next cursor, on a cursor identical to the one
// just used (a non-advancing engine must not hang callers), and at a hard
// page cap. With explicit ids, each is looked up individually; ids that are
// missing or whose lookup fails are dropped from the result, input order
// preserved.
func (m *Manager) ListIDs(ctx context.Context, id algorithm.ID, explicit []string) ([]string, error) {
	collection := id.Collection()

	if explicit != nil {
		existing := make([]string, 0, len(explicit))
		for _, recordID := range explicit {
			found, err := m.engine.Retrieve(ctx, collection, []string{recordID})
			if err != nil {
				m.logger.Warn("record lookup failed, treating as absent",
					zap.String("collection", collection),
					zap.String("record_id", recordID),
					zap.Error(err),
				)
				continue
			}
			if len(found) > 0 {
				existing = append(existing, recordID)
			}
		}
		return existing, nil
	}

	var all []string
	cursor := ""
	for page := 0; ; page++ {
		if page >= maxScrollPages {
			m.logger.Warn("enumeration page cap reached",
				zap.String("collection", collection),
				zap.Int("pages", page),
			)
			break
		}

		p, err := m.engine.Scroll(ctx, collection, cursor, scrollPageSize)
		if err != nil {
			return nil, fmt.Errorf("scrolling %s: %w", collection, err)
		}
		all = append(all, p.IDs...)

		if p.NextCursor == "" || p.NextCursor == cursor {
			break
		}
		cursor = p.NextCursor
	}
	return all, nil
}

// Search returns up to topK records from id's collection nearest to the
// query vector, ordered by descending similarity. topK <= 0 selects
// DefaultTopK. An empty or absent collection yields an empty result.
func (m *Manager) Search(ctx context.Context, id algorithm.ID, vector []float32, topK int) ([]ScoredRecord, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	results, err := m.engine.Search(ctx, id.Collection(), vector, topK)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", id.Collection(), err)
	}
	return results, nil
}
