package vectorstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/embedgate/internal/algorithm"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	engine, err := NewEmbeddedEngine(EmbeddedConfig{}, zap.NewNop())
	require.NoError(t, err)
	m, err := NewManager(engine, zap.NewNop())
	require.NoError(t, err)
	return m
}

func testAlgorithm(t *testing.T, raw string) algorithm.ID {
	t.Helper()
	id, err := algorithm.Parse(raw)
	require.NoError(t, err)
	return id
}

func TestEnsureCollectionIdempotent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id := testAlgorithm(t, "face_4")

	require.NoError(t, m.EnsureCollection(ctx, id))
	require.NoError(t, m.EnsureCollection(ctx, id))

	names, err := m.engine.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"face_4"}, names)
}

func TestUpsertSearchRoundTrip(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id := testAlgorithm(t, "face_3")

	require.NoError(t, m.Upsert(ctx, id, Record{ID: "u1", Vector: []float32{1, 0, 0}}))
	require.NoError(t, m.Upsert(ctx, id, Record{ID: "u2", Vector: []float32{0, 1, 0}}))
	require.NoError(t, m.Upsert(ctx, id, Record{ID: "u3", Vector: []float32{0, 0.5, 0.5}}))

	results, err := m.Search(ctx, id, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "u1", results[0].ID)

	// Self-match ranks first among all stored vectors for cosine similarity.
	all, err := m.Search(ctx, id, []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	require.NotEmpty(t, all)
	assert.Equal(t, "u1", all[0].ID)
	for i := 1; i < len(all); i++ {
		assert.LessOrEqual(t, all[i].Score, all[0].Score)
	}
}

func TestUpsertLastWriteWins(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id := testAlgorithm(t, "face_2")

	require.NoError(t, m.Upsert(ctx, id, Record{ID: "u1", Vector: []float32{1, 0}}))
	require.NoError(t, m.Upsert(ctx, id, Record{ID: "u1", Vector: []float32{0, 1}, Metadata: map[string]string{"v": "2"}}))

	ids, err := m.ListIDs(ctx, id, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, ids)

	results, err := m.Search(ctx, id, []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "u1", results[0].ID)
	assert.Equal(t, "2", results[0].Metadata["v"])
}

func TestUpsertDimensionMismatch(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id := testAlgorithm(t, "face_4")

	err := m.Upsert(ctx, id, Record{ID: "u1", Vector: []float32{1, 2}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	// Rejected before any engine call: no collection materialized.
	names, listErr := m.engine.ListCollections(ctx)
	require.NoError(t, listErr)
	assert.Empty(t, names)
}

func TestUpsertRequiresRecordID(t *testing.T) {
	m := newTestManager(t)
	err := m.Upsert(context.Background(), testAlgorithm(t, "face_2"), Record{Vector: []float32{1, 0}})
	assert.ErrorIs(t, err, ErrStoreRejected)
}

func TestListIDsFullEnumeration(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id := testAlgorithm(t, "face_2")

	// More than two scroll pages worth of records.
	want := make(map[string]bool, 250)
	for i := 0; i < 250; i++ {
		recordID := fmt.Sprintf("rec-%03d", i)
		want[recordID] = true
		require.NoError(t, m.Upsert(ctx, id, Record{ID: recordID, Vector: []float32{float32(i), 1}}))
	}

	ids, err := m.ListIDs(ctx, id, nil)
	require.NoError(t, err)
	require.Len(t, ids, 250)
	got := make(map[string]bool, len(ids))
	for _, recordID := range ids {
		got[recordID] = true
	}
	assert.Equal(t, want, got)
}

func TestListIDsEmptyCollection(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id := testAlgorithm(t, "face_2")

	require.NoError(t, m.EnsureCollection(ctx, id))
	ids, err := m.ListIDs(ctx, id, nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestListIDsExplicit(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id := testAlgorithm(t, "face_2")

	for _, recordID := range []string{"a", "b", "c"} {
		require.NoError(t, m.Upsert(ctx, id, Record{ID: recordID, Vector: []float32{1, 1}}))
	}

	ids, err := m.ListIDs(ctx, id, []string{"missing", "c", "a", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, ids)
}

func TestSearchDefaults(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	id := testAlgorithm(t, "face_2")

	for i := 0; i < 10; i++ {
		require.NoError(t, m.Upsert(ctx, id, Record{
			ID:     fmt.Sprintf("r%d", i),
			Vector: []float32{float32(i + 1), 1},
		}))
	}

	// topK <= 0 falls back to the default of 5.
	results, err := m.Search(ctx, id, []float32{1, 1}, 0)
	require.NoError(t, err)
	assert.Len(t, results, DefaultTopK)

	// topK is a maximum, not a minimum.
	results, err = m.Search(ctx, id, []float32{1, 1}, 50)
	require.NoError(t, err)
	assert.Len(t, results, 10)
}

func TestSearchAbsentCollection(t *testing.T) {
	m := newTestManager(t)
	results, err := m.Search(context.Background(), testAlgorithm(t, "ghost_2"), []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

// stuckEngine simulates a scroll API that never advances its cursor.
type stuckEngine struct {
	Engine
	scrolls int
}

func (s *stuckEngine) Scroll(_ context.Context, _, _ string, _ int) (Page, error) {
	s.scrolls++
	return Page{IDs: []string{"same"}, NextCursor: "o:1"}, nil
}

func TestListIDsNonAdvancingCursorTerminates(t *testing.T) {
	engine, err := NewEmbeddedEngine(EmbeddedConfig{}, zap.NewNop())
	require.NoError(t, err)
	stuck := &stuckEngine{Engine: engine}
	m, err := NewManager(stuck, zap.NewNop())
	require.NoError(t, err)

	ids, err := m.ListIDs(context.Background(), testAlgorithm(t, "face_2"), nil)
	require.NoError(t, err)

	// First page (cursor "" -> "o:1") advances, second ("o:1" -> "o:1")
	// repeats and terminates the loop.
	assert.Equal(t, 2, stuck.scrolls)
	assert.Equal(t, []string{"same", "same"}, ids)
}

// runawayEngine advances forever.
type runawayEngine struct {
	Engine
	scrolls int
}

func (r *runawayEngine) Scroll(_ context.Context, _, _ string, _ int) (Page, error) {
	r.scrolls++
	return Page{IDs: []string{"x"}, NextCursor: fmt.Sprintf("o:%d", r.scrolls)}, nil
}

func TestListIDsPageCap(t *testing.T) {
	engine, err := NewEmbeddedEngine(EmbeddedConfig{}, zap.NewNop())
	require.NoError(t, err)
	runaway := &runawayEngine{Engine: engine}
	m, err := NewManager(runaway, zap.NewNop())
	require.NoError(t, err)

	ids, err := m.ListIDs(context.Background(), testAlgorithm(t, "face_2"), nil)
	require.NoError(t, err)
	assert.Len(t, ids, maxScrollPages)
	assert.Equal(t, maxScrollPages, runaway.scrolls)
}
