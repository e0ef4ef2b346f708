// Package algorithm resolves client-supplied algorithm identifiers to
// embedding backends and vector collections.
package algorithm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Sentinel errors for algorithm resolution.
var (
	// ErrInvalidFormat is returned when an identifier does not match
	// {name}_{dimension}.
	ErrInvalidFormat = errors.New("invalid algorithm format, expected {name}_{dimension}")

	// ErrUnknownAlgorithm is returned when no backend is registered under a name.
	ErrUnknownAlgorithm = errors.New("unknown algorithm")
)

// ID identifies an embedding algorithm together with its vector dimension.
//
// The canonical string form, {name}_{dimension} with the name lowercased, is
// also the vector collection name. Every component derives collection names
// through Parse so the two can never drift apart.
type ID struct {
	// Name is the lowercased algorithm name. Never contains an underscore.
	Name string

	// Dimension is the vector length produced by the algorithm. Always > 0.
	Dimension int
}

// String returns the canonical form, which doubles as the collection name.
func (id ID) String() string {
	return fmt.Sprintf("%s_%d", id.Name, id.Dimension)
}

// Collection returns the vector collection name for this algorithm.
func (id ID) Collection() string {
	return id.String()
}

// Parse parses a client-supplied algorithm identifier.
//
// The identifier must split on a single underscore into a non-empty name and
// a positive integer dimension. Anything else fails with ErrInvalidFormat.
func Parse(raw string) (ID, error) {
	parts := strings.Split(raw, "_")
	if len(parts) != 2 {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidFormat, raw)
	}
	name := strings.ToLower(parts[0])
	if name == "" {
		return ID{}, fmt.Errorf("%w: empty name in %q", ErrInvalidFormat, raw)
	}
	dim, err := strconv.Atoi(parts[1])
	if err != nil || dim <= 0 {
		return ID{}, fmt.Errorf("%w: dimension %q must be a positive integer", ErrInvalidFormat, parts[1])
	}
	return ID{Name: name, Dimension: dim}, nil
}

// Extractor produces a fixed-length embedding vector for an image reference.
//
// Implementations wrap external inference backends; the extraction model
// itself is outside this service.
type Extractor interface {
	// Extract returns the embedding for the image at the given URL.
	Extract(ctx context.Context, imageURL string) ([]float32, error)
}
