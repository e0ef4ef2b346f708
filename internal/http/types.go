package http

import (
	"time"

	"github.com/fyrsmithlabs/embedgate/internal/service"
	"github.com/fyrsmithlabs/embedgate/internal/vectorstore"
)

// AuthRequest is the request body for POST /Authenticate.
type AuthRequest struct {
	Username     string `json:"username"`
	OTPToken     string `json:"OTP_Token"`
	LongTermDays int    `json:"long_term_days"`
}

// AuthResponse is the response body for POST /Authenticate.
type AuthResponse struct {
	LongTermToken string    `json:"long_term_token"`
	Expiry        time.Time `json:"expiry"`
}

// ImageURLsRequest is the request body for POST /GetEmbeddingsByImageURL.
type ImageURLsRequest struct {
	Algorithm string   `json:"algorithm"`
	ImageURLs []string `json:"image_urls"`
}

// EmbeddingsResponse is the response body for POST /GetEmbeddingsByImageURL.
type EmbeddingsResponse struct {
	Status string                   `json:"status"`
	Result []service.ImageEmbedding `json:"result"`
}

// EmbeddingRecord is one record in a POST /PostEmbedding batch.
type EmbeddingRecord struct {
	UUID     string            `json:"uuid"`
	Vector   []float32         `json:"vector"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// PostEmbeddingRequest is the request body for POST /PostEmbedding.
type PostEmbeddingRequest struct {
	Algorithm  string            `json:"algorithm"`
	Embeddings []EmbeddingRecord `json:"embeddings"`
}

// PostEmbeddingResponse is the response body for POST /PostEmbedding.
type PostEmbeddingResponse struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message"`
	Result  []service.UpsertStatus `json:"result"`
}

// GenerateAndPostRequest is the request body for
// POST /GenerateAndPostEmbeddingByImageURL.
type GenerateAndPostRequest struct {
	Algorithm string            `json:"algorithm"`
	ImageURLs []string          `json:"image_urls"`
	UUIDs     []string          `json:"uuids"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// GenerateAndPostResponse is the response body for
// POST /GenerateAndPostEmbeddingByImageURL.
type GenerateAndPostResponse struct {
	Status  string                   `json:"status"`
	Message string                   `json:"message"`
	Result  []service.GenerateStatus `json:"result"`
}

// GetUUIDsRequest is the request body for POST /GetUUIDs. A nil uuids list
// enumerates the whole collection; an explicit list is filtered to the ids
// that exist.
type GetUUIDsRequest struct {
	Algorithm string   `json:"algorithm"`
	UUIDs     []string `json:"uuids,omitempty"`
}

// GetUUIDsResponse is the response body for POST /GetUUIDs.
type GetUUIDsResponse struct {
	Status string   `json:"status"`
	Result []string `json:"result"`
	Algo   string   `json:"algo"`
}

// SearchRequest is the request body for POST /SearchByEmbedding.
type SearchRequest struct {
	Algorithm   string    `json:"algorithm"`
	QueryVector []float32 `json:"query_vector"`
	TopK        int       `json:"top_k,omitempty"`
}

// SearchResponse is the response body for POST /SearchByEmbedding.
type SearchResponse struct {
	Status  string                     `json:"status"`
	Results []vectorstore.ScoredRecord `json:"results"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
