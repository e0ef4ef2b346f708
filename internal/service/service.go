// Package service composes the auth gate, algorithm registry, extraction
// backends, and vector collection manager into the API operations.
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/embedgate/internal/algorithm"
	"github.com/fyrsmithlabs/embedgate/internal/vectorstore"
)

// ImageEmbedding pairs an image URL with its extracted embedding.
type ImageEmbedding struct {
	ImageURL  string    `json:"image_url"`
	Embedding []float32 `json:"embedding"`
}

// UpsertStatus reports the outcome for one posted record.
type UpsertStatus struct {
	UUID   string `json:"uuid"`
	Status string `json:"status"`
}

// GenerateStatus reports the outcome for one image/uuid pair.
type GenerateStatus struct {
	UUID     string `json:"uuid"`
	ImageURL string `json:"image_url"`
	Status   string `json:"status"`
}

// Service is the request orchestrator. It holds no state of its own; every
// operation sequences parse -> (extract) -> store and propagates composed
// failures unchanged. Token validation happens upstream in middleware, so a
// request that reaches these methods is already authenticated.
type Service struct {
	registry *algorithm.Registry
	store    *vectorstore.Manager
	logger   *zap.Logger
}

// New creates the orchestrator.
func New(registry *algorithm.Registry, store *vectorstore.Manager, logger *zap.Logger) (*Service, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{registry: registry, store: store, logger: logger}, nil
}

// GetEmbeddingsByImageURL extracts one embedding per image URL without
// storing anything. The first extraction failure aborts the batch.
func (s *Service) GetEmbeddingsByImageURL(ctx context.Context, rawAlgorithm string, imageURLs []string) ([]ImageEmbedding, error) {
	id, err := algorithm.Parse(rawAlgorithm)
	if err != nil {
		return nil, err
	}
	backend, err := s.registry.Resolve(id)
	if err != nil {
		return nil, err
	}

	results := make([]ImageEmbedding, 0, len(imageURLs))
	for _, url := range imageURLs {
		vector, err := backend.Extract(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("extracting %s: %w", url, err)
		}
		results = append(results, ImageEmbedding{ImageURL: url, Embedding: vector})
	}

	s.logger.Info("embeddings extracted",
		zap.String("algorithm", id.String()),
		zap.Int("count", len(results)),
	)
	return results, nil
}

// PostEmbeddings upserts caller-supplied records into the algorithm's
// collection.
//
// Batches are best-effort, not atomic: records upserted before a failure
// stay upserted, and the error reports where the batch stopped.
func (s *Service) PostEmbeddings(ctx context.Context, rawAlgorithm string, records []vectorstore.Record) ([]UpsertStatus, error) {
	id, err := algorithm.Parse(rawAlgorithm)
	if err != nil {
		return nil, err
	}

	statuses := make([]UpsertStatus, 0, len(records))
	for _, rec := range records {
		if err := s.store.Upsert(ctx, id, rec); err != nil {
			return nil, fmt.Errorf("record %s: %w", rec.ID, err)
		}
		statuses = append(statuses, UpsertStatus{UUID: rec.ID, Status: "success"})
	}

	s.logger.Info("embeddings posted",
		zap.String("collection", id.Collection()),
		zap.Int("count", len(statuses)),
	)
	return statuses, nil
}

// GenerateAndPost extracts embeddings for image URLs and upserts them under
// the paired uuids. URLs and uuids zip pairwise; a surplus on either side is
// ignored. The shared metadata map is stored with every pair. Best-effort,
// not atomic, like PostEmbeddings.
func (s *Service) GenerateAndPost(ctx context.Context, rawAlgorithm string, imageURLs, uuids []string, metadata map[string]string) ([]GenerateStatus, error) {
	id, err := algorithm.Parse(rawAlgorithm)
	if err != nil {
		return nil, err
	}
	backend, err := s.registry.Resolve(id)
	if err != nil {
		return nil, err
	}

	n := len(imageURLs)
	if len(uuids) < n {
		n = len(uuids)
	}

	statuses := make([]GenerateStatus, 0, n)
	for i := 0; i < n; i++ {
		vector, err := backend.Extract(ctx, imageURLs[i])
		if err != nil {
			return nil, fmt.Errorf("extracting %s: %w", imageURLs[i], err)
		}
		rec := vectorstore.Record{ID: uuids[i], Vector: vector, Metadata: metadata}
		if err := s.store.Upsert(ctx, id, rec); err != nil {
			return nil, fmt.Errorf("record %s: %w", uuids[i], err)
		}
		statuses = append(statuses, GenerateStatus{UUID: uuids[i], ImageURL: imageURLs[i], Status: "success"})
	}

	s.logger.Info("embeddings generated and posted",
		zap.String("collection", id.Collection()),
		zap.Int("count", len(statuses)),
	)
	return statuses, nil
}

// GetUUIDs enumerates record ids in the algorithm's collection, or checks
// an explicit id list for existence. Returns the resolved collection name
// alongside the ids.
func (s *Service) GetUUIDs(ctx context.Context, rawAlgorithm string, uuids []string) (string, []string, error) {
	id, err := algorithm.Parse(rawAlgorithm)
	if err != nil {
		return "", nil, err
	}
	ids, err := s.store.ListIDs(ctx, id, uuids)
	if err != nil {
		return "", nil, err
	}
	return id.Collection(), ids, nil
}

// SearchByEmbedding returns the records nearest the query vector.
func (s *Service) SearchByEmbedding(ctx context.Context, rawAlgorithm string, query []float32, topK int) ([]vectorstore.ScoredRecord, error) {
	id, err := algorithm.Parse(rawAlgorithm)
	if err != nil {
		return nil, err
	}
	return s.store.Search(ctx, id, query, topK)
}
