// Package inference calls external embedding-extraction backends over HTTP.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Sentinel errors for backend calls.
var (
	// ErrInvalidConfig indicates invalid client configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrBackendUnavailable indicates the extraction backend failed or
	// could not be reached. The caller decides whether to retry.
	ErrBackendUnavailable = errors.New("embedding backend unavailable")
)

// Config holds configuration for one extraction backend.
type Config struct {
	// BaseURL is the backend's base URL.
	BaseURL string

	// Model is the model identifier the backend should run.
	Model string

	// Timeout bounds a single extraction call. Inference on a cold model
	// can be slow; default is 60s.
	Timeout time.Duration
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	return nil
}

// Client extracts embeddings from images via an HTTP inference service.
// It implements algorithm.Extractor.
type Client struct {
	config Config
	client *http.Client
	logger *zap.Logger
}

// NewClient creates an extraction client for one backend.
func NewClient(config Config, logger *zap.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger,
	}, nil
}

// extractRequest is the backend request body.
type extractRequest struct {
	Model    string `json:"model"`
	ImageURL string `json:"image_url"`
}

// extractResponse is the backend response body.
type extractResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Extract returns the embedding for the image at imageURL.
func (c *Client) Extract(ctx context.Context, imageURL string) ([]float32, error) {
	body, err := json.Marshal(extractRequest{Model: c.config.Model, ImageURL: imageURL})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	url := c.config.BaseURL + "/embed"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %s returned %d: %s", ErrBackendUnavailable, url, resp.StatusCode, snippet)
	}

	var out extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrBackendUnavailable, err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("%w: backend returned empty embedding", ErrBackendUnavailable)
	}

	c.logger.Debug("embedding extracted",
		zap.String("model", c.config.Model),
		zap.Int("dimension", len(out.Embedding)),
		zap.Duration("duration", time.Since(start)),
	)
	return out.Embedding, nil
}
