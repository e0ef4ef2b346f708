package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/embedgate/internal/algorithm"
	"github.com/fyrsmithlabs/embedgate/internal/vectorstore"
)

type fakeExtractor struct {
	vectors map[string][]float32
	err     error
	calls   []string
}

func (f *fakeExtractor) Extract(_ context.Context, imageURL string) ([]float32, error) {
	f.calls = append(f.calls, imageURL)
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.vectors[imageURL]
	if !ok {
		return nil, errors.New("no fixture for " + imageURL)
	}
	return v, nil
}

func newTestService(t *testing.T, extractor algorithm.Extractor) (*Service, *vectorstore.Manager) {
	t.Helper()

	engine, err := vectorstore.NewEmbeddedEngine(vectorstore.EmbeddedConfig{}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	manager, err := vectorstore.NewManager(engine, zap.NewNop())
	require.NoError(t, err)

	registry := algorithm.NewRegistry()
	if extractor != nil {
		require.NoError(t, registry.Register("face", extractor))
	}

	svc, err := New(registry, manager, zap.NewNop())
	require.NoError(t, err)
	return svc, manager
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, nil, nil)
	assert.Error(t, err)
}

func TestGetEmbeddingsByImageURL(t *testing.T) {
	ctx := context.Background()
	extractor := &fakeExtractor{vectors: map[string][]float32{
		"http://img/a.jpg": {1, 0, 0},
		"http://img/b.jpg": {0, 1, 0},
	}}
	svc, _ := newTestService(t, extractor)

	results, err := svc.GetEmbeddingsByImageURL(ctx, "face_3", []string{"http://img/a.jpg", "http://img/b.jpg"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "http://img/a.jpg", results[0].ImageURL)
	assert.Equal(t, []float32{1, 0, 0}, results[0].Embedding)
	assert.Equal(t, []float32{0, 1, 0}, results[1].Embedding)
}

func TestGetEmbeddingsByImageURLBadAlgorithm(t *testing.T) {
	svc, _ := newTestService(t, &fakeExtractor{})

	_, err := svc.GetEmbeddingsByImageURL(context.Background(), "face", nil)
	assert.ErrorIs(t, err, algorithm.ErrInvalidFormat)

	_, err = svc.GetEmbeddingsByImageURL(context.Background(), "gait_3", []string{"http://img/a.jpg"})
	assert.ErrorIs(t, err, algorithm.ErrUnknownAlgorithm)
}

func TestGetEmbeddingsByImageURLAbortsOnFailure(t *testing.T) {
	extractor := &fakeExtractor{vectors: map[string][]float32{
		"http://img/a.jpg": {1, 0, 0},
	}}
	svc, _ := newTestService(t, extractor)

	_, err := svc.GetEmbeddingsByImageURL(context.Background(), "face_3",
		[]string{"http://img/a.jpg", "http://img/missing.jpg", "http://img/never.jpg"})
	require.Error(t, err)
	// the loop stops at the first failure
	assert.Equal(t, []string{"http://img/a.jpg", "http://img/missing.jpg"}, extractor.calls)
}

func TestPostEmbeddings(t *testing.T) {
	ctx := context.Background()
	svc, manager := newTestService(t, nil)

	statuses, err := svc.PostEmbeddings(ctx, "face_3", []vectorstore.Record{
		{ID: "u1", Vector: []float32{1, 0, 0}},
		{ID: "u2", Vector: []float32{0, 1, 0}, Metadata: map[string]string{"camera": "7"}},
	})
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, UpsertStatus{UUID: "u1", Status: "success"}, statuses[0])

	id, err := algorithm.Parse("face_3")
	require.NoError(t, err)
	ids, err := manager.ListIDs(ctx, id, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2"}, ids)
}

func TestPostEmbeddingsPartialFailureKeepsEarlierRecords(t *testing.T) {
	ctx := context.Background()
	svc, manager := newTestService(t, nil)

	_, err := svc.PostEmbeddings(ctx, "face_3", []vectorstore.Record{
		{ID: "u1", Vector: []float32{1, 0, 0}},
		{ID: "u2", Vector: []float32{1, 0}}, // wrong dimension
		{ID: "u3", Vector: []float32{0, 0, 1}},
	})
	require.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)

	id, err := algorithm.Parse("face_3")
	require.NoError(t, err)
	ids, err := manager.ListIDs(ctx, id, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, ids)
}

func TestGenerateAndPost(t *testing.T) {
	ctx := context.Background()
	extractor := &fakeExtractor{vectors: map[string][]float32{
		"http://img/a.jpg": {1, 0, 0},
		"http://img/b.jpg": {0, 1, 0},
	}}
	svc, manager := newTestService(t, extractor)

	statuses, err := svc.GenerateAndPost(ctx, "face_3",
		[]string{"http://img/a.jpg", "http://img/b.jpg"},
		[]string{"u1", "u2"},
		map[string]string{"batch": "nightly"})
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, "u2", statuses[1].UUID)
	assert.Equal(t, "http://img/b.jpg", statuses[1].ImageURL)

	id, err := algorithm.Parse("face_3")
	require.NoError(t, err)
	results, err := manager.Search(ctx, id, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "u1", results[0].ID)
	assert.Equal(t, "nightly", results[0].Metadata["batch"])
}

func TestGenerateAndPostZipsToShorterList(t *testing.T) {
	extractor := &fakeExtractor{vectors: map[string][]float32{
		"http://img/a.jpg": {1, 0, 0},
		"http://img/b.jpg": {0, 1, 0},
	}}
	svc, _ := newTestService(t, extractor)

	statuses, err := svc.GenerateAndPost(context.Background(), "face_3",
		[]string{"http://img/a.jpg", "http://img/b.jpg"},
		[]string{"u1"}, nil)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, []string{"http://img/a.jpg"}, extractor.calls)
}

func TestGetUUIDs(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	_, err := svc.PostEmbeddings(ctx, "face_3", []vectorstore.Record{
		{ID: "u1", Vector: []float32{1, 0, 0}},
		{ID: "u2", Vector: []float32{0, 1, 0}},
	})
	require.NoError(t, err)

	collection, ids, err := svc.GetUUIDs(ctx, "face_3", nil)
	require.NoError(t, err)
	assert.Equal(t, "face_3", collection)
	assert.ElementsMatch(t, []string{"u1", "u2"}, ids)

	collection, ids, err = svc.GetUUIDs(ctx, "face_3", []string{"u2", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, "face_3", collection)
	assert.Equal(t, []string{"u2"}, ids)
}

func TestSearchByEmbedding(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	_, err := svc.PostEmbeddings(ctx, "face_3", []vectorstore.Record{
		{ID: "u1", Vector: []float32{1, 0, 0}},
		{ID: "u2", Vector: []float32{0, 1, 0}},
	})
	require.NoError(t, err)

	results, err := svc.SearchByEmbedding(ctx, "face_3", []float32{0.9, 0.1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "u1", results[0].ID)
}

func TestSearchByEmbeddingBadAlgorithm(t *testing.T) {
	svc, _ := newTestService(t, nil)
	_, err := svc.SearchByEmbedding(context.Background(), "nope", []float32{1}, 1)
	assert.ErrorIs(t, err, algorithm.ErrInvalidFormat)
}
