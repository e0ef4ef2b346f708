package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// embeddedTracer for OpenTelemetry instrumentation.
var embeddedTracer = otel.Tracer("embedgate.vectorstore.embedded")

// EmbeddedConfig holds configuration for the chromem-go embedded engine.
type EmbeddedConfig struct {
	// Path is the directory for persistent storage. Empty keeps everything
	// in memory, which is the mode used for tests and local development.
	Path string

	// Compress enables gzip compression for persisted data.
	Compress bool
}

// EmbeddedEngine implements Engine using chromem-go.
//
// chromem-go is a pure-Go embeddable vector database; no external service is
// needed, which makes this the engine for single-binary deployments and for
// tests. Vectors are supplied by callers, never generated here, so the
// chromem embedding function is wired to fail loudly if anything reaches it.
//
// chromem has no native scroll API, so the engine keeps a per-collection id
// index for cursor paging. In persistent mode the index is written to a
// sidecar JSON file beside the chromem directory and reloaded on reopen, so
// enumeration survives restarts the same way the vectors do.
type EmbeddedEngine struct {
	db     *chromem.DB
	logger *zap.Logger

	// indexPath is the sidecar index file; empty in in-memory mode.
	indexPath string

	mu         sync.RWMutex
	dimensions map[string]int      // collection -> declared dimension
	ids        map[string][]string // collection -> ids in insertion order
	seen       map[string]map[string]bool
}

// collectionIndex is the persisted per-collection index entry.
type collectionIndex struct {
	Dimension int      `json:"dimension"`
	IDs       []string `json:"ids"`
}

// NewEmbeddedEngine creates an embedded engine, persistent when cfg.Path is
// set and purely in-memory otherwise.
func NewEmbeddedEngine(cfg EmbeddedConfig, logger *zap.Logger) (*EmbeddedEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		db        *chromem.DB
		indexPath string
		err       error
	)
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
		// Sits beside the chromem directory, never inside it, so chromem's
		// own layout stays untouched.
		indexPath = strings.TrimRight(cfg.Path, "/") + ".index.json"
	}

	e := &EmbeddedEngine{
		db:         db,
		logger:     logger,
		indexPath:  indexPath,
		dimensions: make(map[string]int),
		ids:        make(map[string][]string),
		seen:       make(map[string]map[string]bool),
	}

	if indexPath != "" {
		if err := e.loadIndex(); err != nil {
			return nil, err
		}
	}

	logger.Info("embedded vector engine initialized",
		zap.String("path", cfg.Path),
		zap.Bool("persistent", cfg.Path != ""),
	)

	return e, nil
}

// loadIndex restores the id index written by a previous process.
func (e *EmbeddedEngine) loadIndex() error {
	data, err := os.ReadFile(e.indexPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: reading index %s: %v", ErrConnectionFailed, e.indexPath, err)
	}

	index := make(map[string]collectionIndex)
	if err := json.Unmarshal(data, &index); err != nil {
		return fmt.Errorf("%w: parsing index %s: %v", ErrConnectionFailed, e.indexPath, err)
	}

	for name, entry := range index {
		e.dimensions[name] = entry.Dimension
		e.ids[name] = entry.IDs
		seen := make(map[string]bool, len(entry.IDs))
		for _, id := range entry.IDs {
			seen[id] = true
		}
		e.seen[name] = seen
	}
	return nil
}

// saveIndexLocked rewrites the sidecar index atomically. Caller holds e.mu.
// No-op in in-memory mode.
func (e *EmbeddedEngine) saveIndexLocked() error {
	if e.indexPath == "" {
		return nil
	}

	index := make(map[string]collectionIndex, len(e.dimensions))
	for name, dim := range e.dimensions {
		index[name] = collectionIndex{Dimension: dim, IDs: e.ids[name]}
	}
	data, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("%w: encoding index: %v", ErrStoreUnavailable, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(e.indexPath), ".index-*")
	if err != nil {
		return fmt.Errorf("%w: writing index: %v", ErrStoreUnavailable, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: writing index: %v", ErrStoreUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: writing index: %v", ErrStoreUnavailable, err)
	}
	if err := os.Rename(tmp.Name(), e.indexPath); err != nil {
		return fmt.Errorf("%w: replacing index: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// rejectEmbedding is the chromem embedding function for all collections.
// Records always arrive with vectors attached, so a call here is a bug.
func rejectEmbedding(_ context.Context, _ string) ([]float32, error) {
	return nil, fmt.Errorf("embedded engine stores caller-supplied vectors only")
}

// Close is a no-op; chromem persists incrementally.
func (e *EmbeddedEngine) Close() error {
	return nil
}

// ListCollections returns all collection names, sorted for determinism.
func (e *EmbeddedEngine) ListCollections(ctx context.Context) ([]string, error) {
	_, span := embeddedTracer.Start(ctx, "EmbeddedEngine.ListCollections")
	defer span.End()

	collections := e.db.ListCollections()
	names := make([]string, 0, len(collections))
	for name := range collections {
		names = append(names, name)
	}
	sort.Strings(names)

	span.SetAttributes(attribute.Int("collection_count", len(names)))
	span.SetStatus(codes.Ok, "success")
	return names, nil
}

// CreateCollection creates a collection. Creating an existing collection is
// a no-op as long as the dimension matches.
func (e *EmbeddedEngine) CreateCollection(ctx context.Context, name string, dimension int) error {
	_, span := embeddedTracer.Start(ctx, "EmbeddedEngine.CreateCollection")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", name),
		attribute.Int("dimension", dimension),
	)

	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.dimensions[name]; ok {
		if existing != dimension {
			return fmt.Errorf("%w: collection %s exists with dimension %d, requested %d",
				ErrStoreRejected, name, existing, dimension)
		}
		span.SetStatus(codes.Ok, "already exists")
		return nil
	}

	if _, err := e.db.GetOrCreateCollection(name, nil, rejectEmbedding); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: creating collection %s: %v", ErrStoreUnavailable, name, err)
	}

	e.dimensions[name] = dimension
	if err := e.saveIndexLocked(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Upsert writes a record, replacing any prior record with the same id.
// Vectors whose length does not match the collection dimension are rejected,
// mirroring what a real engine does server-side.
func (e *EmbeddedEngine) Upsert(ctx context.Context, collection string, rec Record) error {
	ctx, span := embeddedTracer.Start(ctx, "EmbeddedEngine.Upsert")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.String("record_id", rec.ID),
	)

	e.mu.Lock()
	defer e.mu.Unlock()

	dim, ok := e.dimensions[collection]
	if !ok {
		// A collection can exist in a reopened DB whose sidecar index was
		// lost; adopt the first vector's length as the dimension.
		if e.db.GetCollection(collection, rejectEmbedding) == nil {
			return fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
		}
		dim = len(rec.Vector)
		e.dimensions[collection] = dim
	}
	if len(rec.Vector) != dim {
		return fmt.Errorf("%w: collection %s expects dimension %d, got %d",
			ErrStoreRejected, collection, dim, len(rec.Vector))
	}

	col := e.db.GetCollection(collection, rejectEmbedding)
	if col == nil {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}

	doc := chromem.Document{
		ID:        rec.ID,
		Content:   rec.ID, // chromem requires content; the id is a stable stand-in
		Metadata:  rec.Metadata,
		Embedding: rec.Vector,
	}
	if err := col.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: upserting %s: %v", ErrStoreRejected, rec.ID, err)
	}

	if e.seen[collection] == nil {
		e.seen[collection] = make(map[string]bool)
	}
	if !e.seen[collection][rec.ID] {
		e.seen[collection][rec.ID] = true
		e.ids[collection] = append(e.ids[collection], rec.ID)
		// The record is in chromem at this point; a failed index write
		// reports the upsert as failed and a retry rewrites the index.
		if err := e.saveIndexLocked(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Retrieve returns the subset of ids present in the collection.
func (e *EmbeddedEngine) Retrieve(ctx context.Context, collection string, ids []string) ([]string, error) {
	ctx, span := embeddedTracer.Start(ctx, "EmbeddedEngine.Retrieve")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("id_count", len(ids)),
	)

	col := e.db.GetCollection(collection, rejectEmbedding)
	if col == nil {
		span.SetStatus(codes.Ok, "collection absent")
		return nil, nil
	}

	existing := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := col.GetByID(ctx, id); err == nil {
			existing = append(existing, id)
		}
	}

	span.SetAttributes(attribute.Int("found_count", len(existing)))
	span.SetStatus(codes.Ok, "success")
	return existing, nil
}

// Scroll pages through the id index. Cursors are decimal offsets into the
// insertion-ordered index; callers treat them as opaque.
func (e *EmbeddedEngine) Scroll(ctx context.Context, collection, cursor string, limit int) (Page, error) {
	_, span := embeddedTracer.Start(ctx, "EmbeddedEngine.Scroll")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("limit", limit),
	)

	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(cursor, "o:"))
		if err != nil || n < 0 {
			return Page{}, fmt.Errorf("%w: malformed cursor %q", ErrStoreRejected, cursor)
		}
		offset = n
	}

	e.mu.RLock()
	all := e.ids[collection]
	e.mu.RUnlock()

	if offset >= len(all) {
		span.SetStatus(codes.Ok, "exhausted")
		return Page{}, nil
	}

	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	page := Page{IDs: append([]string(nil), all[offset:end]...)}
	if end < len(all) {
		page.NextCursor = "o:" + strconv.Itoa(end)
	}

	span.SetAttributes(attribute.Int("page_size", len(page.IDs)))
	span.SetStatus(codes.Ok, "success")
	return page, nil
}

// Search runs a nearest-neighbor query restricted to the collection.
func (e *EmbeddedEngine) Search(ctx context.Context, collection string, vector []float32, k int) ([]ScoredRecord, error) {
	ctx, span := embeddedTracer.Start(ctx, "EmbeddedEngine.Search")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("k", k),
	)

	col := e.db.GetCollection(collection, rejectEmbedding)
	if col == nil {
		span.SetStatus(codes.Ok, "collection absent")
		return []ScoredRecord{}, nil
	}

	// chromem requires nResults <= document count.
	count := col.Count()
	if count == 0 {
		span.SetStatus(codes.Ok, "empty collection")
		return []ScoredRecord{}, nil
	}
	if k > count {
		k = count
	}

	results, err := col.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: querying %s: %v", ErrStoreRejected, collection, err)
	}

	scored := make([]ScoredRecord, len(results))
	for i, r := range results {
		scored[i] = ScoredRecord{
			ID:       r.ID,
			Score:    r.Similarity,
			Metadata: r.Metadata,
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(scored)))
	span.SetStatus(codes.Ok, "success")
	return scored, nil
}

// Ensure EmbeddedEngine implements Engine.
var _ Engine = (*EmbeddedEngine)(nil)
