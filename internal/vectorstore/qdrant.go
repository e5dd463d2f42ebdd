package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/claudecontext/islandd/internal/logging"
)

// Named vector slots inside every collection.
const (
	denseVectorName  = "dense"
	sparseVectorName = "sparse"
)

// QdrantConfig configures the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the Qdrant gRPC port (6334, not the 6333 REST port).
	Port int

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// APIKey is the optional API key.
	APIKey string

	// MaxMessageSize is the maximum gRPC message size in bytes.
	MaxMessageSize int

	// RequestTimeout bounds individual requests.
	RequestTimeout time.Duration

	// RetryAttempts is the retry count for transient failures.
	RetryAttempts int

	// EnableSparse configures the sparse slot on new collections.
	EnableSparse bool
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
}

// Validate validates the configuration.
func (c *QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Port)
	}
	return nil
}

// QdrantStore implements Store over Qdrant's official gRPC client.
type QdrantStore struct {
	client *qdrant.Client
	config *QdrantConfig
	logger *logging.Logger
}

// NewQdrantStore connects to Qdrant and verifies the connection.
func NewQdrantStore(config *QdrantConfig, logger *logging.Logger) (*QdrantStore, error) {
	if config == nil {
		config = &QdrantConfig{}
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	qdrantConfig := &qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		APIKey: config.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	}
	if !config.UseTLS {
		qdrantConfig.GrpcOptions = append(qdrantConfig.GrpcOptions,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
	}

	client, err := qdrant.NewClient(qdrantConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	store := &QdrantStore{
		client: client,
		config: config,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.RequestTimeout)
	defer cancel()

	if err := store.HealthCheck(ctx); err != nil {
		_ = client.Close()
		logger.Error(ctx, "qdrant health check failed",
			zap.String("host", config.Host),
			zap.Int("port", config.Port),
			zap.Error(err),
		)
		return nil, fmt.Errorf("health check failed: %w", err)
	}

	logger.Info(ctx, "qdrant connection established",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.Bool("sparse", config.EnableSparse),
	)
	return store, nil
}

// Hybrid reports whether collections carry a sparse slot.
func (s *QdrantStore) Hybrid() bool { return s.config.EnableSparse }

// HealthCheck verifies the connection.
func (s *QdrantStore) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// EnsureCollection creates the collection with a named dense slot and,
// when sparse is enabled, a named sparse slot. Existing collections are
// left untouched.
func (s *QdrantStore) EnsureCollection(ctx context.Context, name string, dim int) error {
	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	req := &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			denseVectorName: {
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			},
		}),
	}
	if s.config.EnableSparse {
		req.SparseVectorsConfig = qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
			sparseVectorName: {},
		})
	}

	return s.retryOperation(ctx, func() error {
		err := s.client.CreateCollection(ctx, req)
		if err != nil {
			// Concurrent creators race; the loser is fine.
			if st, ok := status.FromError(err); ok && st.Code() == codes.AlreadyExists {
				return nil
			}
		}
		return err
	})
}

// CollectionExists checks if a collection exists.
func (s *QdrantStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	var exists bool
	err := s.retryOperation(ctx, func() error {
		ok, err := s.client.CollectionExists(ctx, name)
		if err != nil {
			return err
		}
		exists = ok
		return nil
	})
	if err != nil {
		return false, err
	}
	return exists, nil
}

// Upsert writes points with their named vectors and payloads.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	qdrantPoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		vectors := map[string]*qdrant.Vector{
			denseVectorName: qdrant.NewVector(p.Dense...),
		}
		if s.config.EnableSparse && p.Sparse != nil {
			vectors[sparseVectorName] = qdrant.NewVectorSparse(p.Sparse.Indices, p.Sparse.Values)
		}
		qdrantPoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID.String()),
			Vectors: qdrant.NewVectorsMap(vectors),
			Payload: qdrant.NewValueMap(p.Payload),
		}
	}

	return s.retryOperation(ctx, func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points:         qdrantPoints,
		})
		return err
	})
}

// Query runs dense-only retrieval with the mandatory dataset filter.
func (s *QdrantStore) Query(ctx context.Context, q Query) ([]ScoredPoint, error) {
	if q.DatasetID == uuid.Nil {
		return nil, ErrMissingDatasetFilter
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	req := &qdrant.QueryPoints{
		CollectionName: q.Collection,
		Query:          qdrant.NewQueryDense(q.Dense),
		Using:          qdrant.PtrOf(denseVectorName),
		Limit:          qdrant.PtrOf(uint64(q.Limit)),
		Filter:         queryFilter(q),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	return s.runQuery(ctx, req)
}

// HybridQuery runs dense and sparse prefetches fused server-side with
// reciprocal rank fusion. Falls back to dense-only when the query has no
// sparse vector.
func (s *QdrantStore) HybridQuery(ctx context.Context, q Query) ([]ScoredPoint, error) {
	if !s.config.EnableSparse || q.Sparse == nil {
		return s.Query(ctx, q)
	}
	if q.DatasetID == uuid.Nil {
		return nil, ErrMissingDatasetFilter
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	filter := queryFilter(q)
	limit := qdrant.PtrOf(uint64(q.Limit))
	req := &qdrant.QueryPoints{
		CollectionName: q.Collection,
		Prefetch: []*qdrant.PrefetchQuery{
			{
				Query:  qdrant.NewQueryDense(q.Dense),
				Using:  qdrant.PtrOf(denseVectorName),
				Filter: filter,
				Limit:  limit,
			},
			{
				Query:  qdrant.NewQuerySparse(q.Sparse.Indices, q.Sparse.Values),
				Using:  qdrant.PtrOf(sparseVectorName),
				Filter: filter,
				Limit:  limit,
			},
		},
		Query:       qdrant.NewQueryFusion(qdrant.Fusion_RRF),
		Limit:       limit,
		Filter:      filter,
		WithPayload: qdrant.NewWithPayload(true),
	}
	return s.runQuery(ctx, req)
}

func (s *QdrantStore) runQuery(ctx context.Context, req *qdrant.QueryPoints) ([]ScoredPoint, error) {
	var results []*qdrant.ScoredPoint
	err := s.retryOperation(ctx, func() error {
		res, err := s.client.Query(ctx, req)
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, req.CollectionName)
		}
		return nil, err
	}

	out := make([]ScoredPoint, len(results))
	for i, r := range results {
		out[i] = ScoredPoint{
			ID:      pointIDString(r.Id),
			Score:   r.Score,
			Payload: payloadToMap(r.Payload),
		}
	}
	return out, nil
}

// DeleteByDataset removes every point of one dataset from a collection.
func (s *QdrantStore) DeleteByDataset(ctx context.Context, collection string, datasetID uuid.UUID) error {
	if datasetID == uuid.Nil {
		return ErrMissingDatasetFilter
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	return s.retryOperation(ctx, func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
					Filter: datasetFilter(datasetID),
				},
			},
		})
		return err
	})
}

// DeletePoints removes individual points by id.
func (s *QdrantStore) DeletePoints(ctx context.Context, collection string, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id.String())
	}

	return s.retryOperation(ctx, func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{Ids: pointIDs},
				},
			},
		})
		return err
	})
}

// DeleteCollection deletes a collection and all its points.
func (s *QdrantStore) DeleteCollection(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	return s.retryOperation(ctx, func() error {
		return s.client.DeleteCollection(ctx, name)
	})
}

// Count returns the exact number of points one dataset holds.
func (s *QdrantStore) Count(ctx context.Context, collection string, datasetID uuid.UUID) (uint64, error) {
	if datasetID == uuid.Nil {
		return 0, ErrMissingDatasetFilter
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	var count uint64
	err := s.retryOperation(ctx, func() error {
		n, err := s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: collection,
			Filter:         datasetFilter(datasetID),
			Exact:          qdrant.PtrOf(true),
		})
		if err != nil {
			return err
		}
		count = n
		return nil
	})
	return count, err
}

// Close closes the client connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// datasetFilter builds the authoritative isolation filter.
func datasetFilter(datasetID uuid.UUID) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatchKeyword(KeyDatasetID, datasetID.String()),
		},
	}
}

// queryFilter layers the optional scalar filters on top of the dataset
// isolation filter.
func queryFilter(q Query) *qdrant.Filter {
	filter := datasetFilter(q.DatasetID)
	if q.Language != "" {
		filter.Must = append(filter.Must, qdrant.NewMatchKeyword(KeyLanguage, q.Language))
	}
	if q.Repo != "" {
		filter.Must = append(filter.Must, qdrant.NewMatchKeyword(KeyRepo, q.Repo))
	}
	return filter
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}

func payloadToMap(payload map[string]*qdrant.Value) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = valueToAny(v)
	}
	return out
}

func valueToAny(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		items := kind.ListValue.GetValues()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = valueToAny(item)
		}
		return out
	case *qdrant.Value_StructValue:
		return payloadToMap(kind.StructValue.GetFields())
	default:
		return nil
	}
}

// retryOperation retries an operation with exponential backoff on
// transient gRPC errors.
func (s *QdrantStore) retryOperation(ctx context.Context, operation func() error) error {
	var lastErr error
	backoff := time.Second
	startTime := time.Now()

	for attempt := 0; attempt <= s.config.RetryAttempts; attempt++ {
		err := operation()
		if err == nil {
			if attempt > 0 {
				s.logger.Info(ctx, "operation recovered after retries",
					zap.Int("attempts", attempt),
					zap.Duration("total_time", time.Since(startTime)),
				)
			}
			return nil
		}
		lastErr = err

		if !isTransientError(err) {
			return err
		}
		if attempt == s.config.RetryAttempts {
			break
		}

		s.logger.Debug(ctx, "retrying operation after transient error",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", s.config.RetryAttempts),
			zap.Error(err),
			zap.Duration("backoff", backoff),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("operation canceled: %w", ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}

	s.logger.Warn(ctx, "operation failed after all retries exhausted",
		zap.Int("total_attempts", s.config.RetryAttempts+1),
		zap.Duration("total_time", time.Since(startTime)),
		zap.Error(lastErr),
	)
	return fmt.Errorf("operation failed after %d retries: %w", s.config.RetryAttempts, lastErr)
}

// isTransientError checks if an error should be retried.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}
