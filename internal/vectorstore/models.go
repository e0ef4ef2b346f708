package vectorstore

// Record is an embedding record keyed by a caller-assigned id.
type Record struct {
	// ID is the caller-assigned identifier, unique within a collection.
	ID string

	// Vector is the embedding. Its length must match the collection dimension.
	Vector []float32

	// Metadata holds optional key-value payload stored alongside the vector.
	Metadata map[string]string
}

// ScoredRecord is a similarity search hit.
type ScoredRecord struct {
	// ID is the caller-assigned record identifier.
	ID string `json:"id"`

	// Score is the cosine similarity to the query (higher is closer).
	Score float32 `json:"score"`

	// Metadata is the payload stored with the record.
	Metadata map[string]string `json:"payload"`
}

// Page is one page of a cursor-based enumeration.
type Page struct {
	// IDs are the caller-assigned record ids on this page.
	IDs []string

	// NextCursor resumes the enumeration. Empty means exhausted.
	NextCursor string
}
