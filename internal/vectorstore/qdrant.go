package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("embedgate.vectorstore.qdrant")

// pointIDNamespace is the UUIDv5 namespace for mapping caller-assigned ids
// to Qdrant point ids. Qdrant only accepts UUID or integer ids, so ids that
// are not themselves UUIDs are hashed into this namespace. The mapping is
// deterministic: a second upsert with the same caller id hits the same point.
var pointIDNamespace = uuid.MustParse("7a7cfbb0-31a1-4b08-92cd-0f3a9f2f6a55")

const (
	payloadKeyID       = "uuid"
	payloadKeyMetadata = "metadata"
)

// QdrantConfig holds configuration for the Qdrant gRPC engine.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the Qdrant gRPC port (6334), not the HTTP REST port.
	Port int

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxRetries is the maximum retry count for transient failures.
	// Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff duration, doubling per retry.
	// Default: 1 second
	RetryBackoff time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

// IsTransientError reports whether an error is worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// classify maps a gRPC error to the store error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	switch st.Code() {
	case grpccodes.InvalidArgument, grpccodes.FailedPrecondition, grpccodes.OutOfRange:
		return fmt.Errorf("%w: %s", ErrStoreRejected, st.Message())
	case grpccodes.NotFound:
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, st.Message())
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

// QdrantEngine implements Engine using Qdrant's native gRPC client.
//
// Native gRPC transport (port 6334) sidesteps the HTTP layer's payload
// limits on large vector batches.
type QdrantEngine struct {
	client *qdrant.Client
	config QdrantConfig

	// collections caches collection existence to avoid repeated lookups.
	collections sync.Map
}

// NewQdrantEngine connects to Qdrant and verifies the connection with a
// health check before returning.
func NewQdrantEngine(config QdrantConfig) (*QdrantEngine, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	e := &QdrantEngine{client: client, config: config}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}

	return e, nil
}

// Close closes the gRPC connection.
func (e *QdrantEngine) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// retryOperation retries an operation with exponential backoff on transient
// errors.
func (e *QdrantEngine) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	backoff := e.config.RetryBackoff

	for attempt := 0; ; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		if !IsTransientError(err) || attempt == e.config.MaxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// pointID maps a caller-assigned id to a Qdrant point id.
func pointID(callerID string) *qdrant.PointId {
	if _, err := uuid.Parse(callerID); err == nil {
		return qdrant.NewIDUUID(callerID)
	}
	return qdrant.NewIDUUID(uuid.NewSHA1(pointIDNamespace, []byte(callerID)).String())
}

// buildPayload builds the point payload: the caller id plus nested metadata.
func buildPayload(rec Record) map[string]*qdrant.Value {
	payload := map[string]*qdrant.Value{
		payloadKeyID: {Kind: &qdrant.Value_StringValue{StringValue: rec.ID}},
	}
	if len(rec.Metadata) > 0 {
		fields := make(map[string]*qdrant.Value, len(rec.Metadata))
		for k, v := range rec.Metadata {
			fields[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
		}
		payload[payloadKeyMetadata] = &qdrant.Value{
			Kind: &qdrant.Value_StructValue{StructValue: &qdrant.Struct{Fields: fields}},
		}
	}
	return payload
}

// callerIDFromPayload recovers the caller-assigned id from a point payload,
// falling back to the raw point id for points written by other writers.
func callerIDFromPayload(payload map[string]*qdrant.Value, id *qdrant.PointId) string {
	if v, ok := payload[payloadKeyID]; ok {
		if s := v.GetStringValue(); s != "" {
			return s
		}
	}
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}

// metadataFromPayload extracts the nested metadata map from a point payload.
func metadataFromPayload(payload map[string]*qdrant.Value) map[string]string {
	v, ok := payload[payloadKeyMetadata]
	if !ok {
		return nil
	}
	s := v.GetStructValue()
	if s == nil || len(s.Fields) == 0 {
		return nil
	}
	meta := make(map[string]string, len(s.Fields))
	for k, f := range s.Fields {
		meta[k] = f.GetStringValue()
	}
	return meta
}

// ListCollections returns all collection names.
func (e *QdrantEngine) ListCollections(ctx context.Context) ([]string, error) {
	ctx, span := tracer.Start(ctx, "QdrantEngine.ListCollections")
	defer span.End()

	var names []string
	err := e.retryOperation(ctx, "list_collections", func() error {
		result, err := e.client.ListCollections(ctx)
		if err != nil {
			return err
		}
		names = result
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, classify(err)
	}

	span.SetAttributes(attribute.Int("collection_count", len(names)))
	span.SetStatus(codes.Ok, "success")
	return names, nil
}

// CreateCollection creates a cosine-similarity collection. A concurrent
// creation racing this call is treated as success.
func (e *QdrantEngine) CreateCollection(ctx context.Context, name string, dimension int) error {
	ctx, span := tracer.Start(ctx, "QdrantEngine.CreateCollection")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", name),
		attribute.Int("dimension", dimension),
	)

	err := e.retryOperation(ctx, "create_collection", func() error {
		return e.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.AlreadyExists {
			e.collections.Store(name, true)
			return nil
		}
		// Older servers report duplicate creation as InvalidArgument.
		if strings.Contains(err.Error(), "already exists") {
			e.collections.Store(name, true)
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return classify(err)
	}

	e.collections.Store(name, true)
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Upsert writes a record, replacing any prior record with the same id.
func (e *QdrantEngine) Upsert(ctx context.Context, collection string, rec Record) error {
	ctx, span := tracer.Start(ctx, "QdrantEngine.Upsert")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.String("record_id", rec.ID),
	)

	point := &qdrant.PointStruct{
		Id:      pointID(rec.ID),
		Vectors: qdrant.NewVectors(rec.Vector...),
		Payload: buildPayload(rec),
	}

	err := e.retryOperation(ctx, "upsert", func() error {
		_, err := e.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points:         []*qdrant.PointStruct{point},
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return classify(err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Retrieve returns the subset of ids present in the collection.
func (e *QdrantEngine) Retrieve(ctx context.Context, collection string, ids []string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "QdrantEngine.Retrieve")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("id_count", len(ids)),
	)

	if len(ids) == 0 {
		return nil, nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = pointID(id)
	}

	var points []*qdrant.RetrievedPoint
	err := e.retryOperation(ctx, "retrieve", func() error {
		result, err := e.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: collection,
			Ids:            pointIDs,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = result
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, classify(err)
	}

	found := make(map[string]bool, len(points))
	for _, p := range points {
		found[callerIDFromPayload(p.Payload, p.Id)] = true
	}
	existing := make([]string, 0, len(points))
	for _, id := range ids {
		if found[id] {
			existing = append(existing, id)
		}
	}

	span.SetAttributes(attribute.Int("found_count", len(existing)))
	span.SetStatus(codes.Ok, "success")
	return existing, nil
}

// Scroll returns one page of record ids. The cursor wraps Qdrant's
// next-page offset; callers treat it as opaque.
func (e *QdrantEngine) Scroll(ctx context.Context, collection, cursor string, limit int) (Page, error) {
	ctx, span := tracer.Start(ctx, "QdrantEngine.Scroll")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("limit", limit),
	)

	offset, err := decodeCursor(cursor)
	if err != nil {
		return Page{}, fmt.Errorf("%w: %v", ErrStoreRejected, err)
	}

	req := &qdrant.ScrollPoints{
		CollectionName: collection,
		Limit:          qdrant.PtrOf(uint32(limit)),
		Offset:         offset,
		WithPayload:    qdrant.NewWithPayload(true),
	}

	var resp *qdrant.ScrollResponse
	err = e.retryOperation(ctx, "scroll", func() error {
		// The points client exposes the raw response; the high-level Scroll
		// helper drops the next-page offset we need for pagination.
		r, err := e.client.GetPointsClient().Scroll(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
			span.SetStatus(codes.Ok, "collection absent")
			return Page{}, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Page{}, classify(err)
	}

	page := Page{
		IDs:        make([]string, 0, len(resp.GetResult())),
		NextCursor: encodeCursor(resp.GetNextPageOffset()),
	}
	for _, p := range resp.GetResult() {
		page.IDs = append(page.IDs, callerIDFromPayload(p.Payload, p.Id))
	}

	span.SetAttributes(attribute.Int("page_size", len(page.IDs)))
	span.SetStatus(codes.Ok, "success")
	return page, nil
}

// Search runs a nearest-neighbor query restricted to the collection.
func (e *QdrantEngine) Search(ctx context.Context, collection string, vector []float32, k int) ([]ScoredRecord, error) {
	ctx, span := tracer.Start(ctx, "QdrantEngine.Search")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("k", k),
	)

	var points []*qdrant.ScoredPoint
	err := e.retryOperation(ctx, "search", func() error {
		result, err := e.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = result
		return nil
	})
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
			span.SetStatus(codes.Ok, "collection absent")
			return []ScoredRecord{}, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, classify(err)
	}

	results := make([]ScoredRecord, len(points))
	for i, p := range points {
		results[i] = ScoredRecord{
			ID:       callerIDFromPayload(p.Payload, p.Id),
			Score:    p.Score,
			Metadata: metadataFromPayload(p.Payload),
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// encodeCursor renders a Qdrant next-page offset as an opaque cursor string.
func encodeCursor(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return "u:" + u
	}
	return fmt.Sprintf("n:%d", id.GetNum())
}

// decodeCursor parses a cursor produced by encodeCursor.
func decodeCursor(cursor string) (*qdrant.PointId, error) {
	if cursor == "" {
		return nil, nil
	}
	switch {
	case strings.HasPrefix(cursor, "u:"):
		return qdrant.NewIDUUID(strings.TrimPrefix(cursor, "u:")), nil
	case strings.HasPrefix(cursor, "n:"):
		var n uint64
		if _, err := fmt.Sscanf(cursor, "n:%d", &n); err != nil {
			return nil, fmt.Errorf("malformed cursor %q", cursor)
		}
		return qdrant.NewIDNum(n), nil
	default:
		return nil, fmt.Errorf("malformed cursor %q", cursor)
	}
}

// Ensure QdrantEngine implements Engine.
var _ Engine = (*QdrantEngine)(nil)
