package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/moyavari/ohs-copilot/internal/domain"
)

// Qdrant only allows UUIDs and positive integers as point IDs, so chunk ids
// are mapped to deterministic UUIDs and the original id kept in the payload.
const payloadIDField = "_original_id"

type qdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// NewQdrantStore connects to a Qdrant instance. The Go client uses Qdrant's
// gRPC API, which runs on port 6334 by default. An API key can be provided as
// a query parameter: "http://localhost:6334?api_key=your_api_key".
func NewQdrantStore(dsn, collection string, dimension int) (Store, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("qdrant requires dimensions > 0")
	}
	parsedURL, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse Qdrant DSN: %w", err)
	}
	host := parsedURL.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsedURL.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid port in Qdrant DSN: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsedURL.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsedURL.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create Qdrant client: %w", err)
	}
	return &qdrantStore{client: client, collection: collection, dimension: dimension}, nil
}

func (q *qdrantStore) Initialize(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

func (q *qdrantStore) HealthCheck(ctx context.Context) bool {
	hctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := q.client.HealthCheck(hctx)
	return err == nil
}

func pointUUID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

func chunkPayload(c domain.Chunk) map[string]any {
	payload := map[string]any{
		"text":        c.Text,
		"title":       c.Title,
		"section":     c.Section,
		"source_path": c.SourcePath,
		"hash":        c.Hash,
		"created_at":  c.CreatedAt.Format(time.RFC3339Nano),
	}
	for k, v := range c.Metadata {
		payload["meta_"+k] = v
	}
	if uuidStr := pointUUID(c.ID); uuidStr != c.ID {
		payload[payloadIDField] = c.ID
	}
	return payload
}

func chunkFromPayload(pointID string, payload map[string]*qdrant.Value) domain.Chunk {
	c := domain.Chunk{ID: pointID}
	for k, v := range payload {
		switch k {
		case payloadIDField:
			c.ID = v.GetStringValue()
		case "text":
			c.Text = v.GetStringValue()
		case "title":
			c.Title = v.GetStringValue()
		case "section":
			c.Section = v.GetStringValue()
		case "source_path":
			c.SourcePath = v.GetStringValue()
		case "hash":
			c.Hash = v.GetStringValue()
		case "created_at":
			if t, err := time.Parse(time.RFC3339Nano, v.GetStringValue()); err == nil {
				c.CreatedAt = t
			}
		default:
			if len(k) > 5 && k[:5] == "meta_" {
				if c.Metadata == nil {
					c.Metadata = make(map[string]string)
				}
				c.Metadata[k[5:]] = v.GetStringValue()
			}
		}
	}
	return c
}

func (q *qdrantStore) Upsert(ctx context.Context, ec domain.EmbeddedChunk) error {
	if len(ec.Vector) != q.dimension {
		return fmt.Errorf("%w: got %d, store expects %d", domain.ErrDimensionMismatch, len(ec.Vector), q.dimension)
	}
	vec := make([]float32, len(ec.Vector))
	copy(vec, ec.Vector)
	points := []*qdrant.PointStruct{
		{
			Id:      qdrant.NewIDUUID(pointUUID(ec.Chunk.ID)),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(chunkPayload(ec.Chunk)),
		},
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// UpsertBatch sends all points in a single Upsert call; qdrant applies them
// per point, so a transport failure is reported against every item.
func (q *qdrantStore) UpsertBatch(ctx context.Context, ecs []domain.EmbeddedChunk) []BatchError {
	points := make([]*qdrant.PointStruct, 0, len(ecs))
	var errs []BatchError
	for i, ec := range ecs {
		if len(ec.Vector) != q.dimension {
			errs = append(errs, BatchError{Index: i, ID: ec.Chunk.ID,
				Err: fmt.Errorf("%w: got %d, store expects %d", domain.ErrDimensionMismatch, len(ec.Vector), q.dimension)})
			continue
		}
		vec := make([]float32, len(ec.Vector))
		copy(vec, ec.Vector)
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointUUID(ec.Chunk.ID)),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(chunkPayload(ec.Chunk)),
		})
	}
	if len(points) == 0 {
		return errs
	}
	if _, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         points,
	}); err != nil {
		for i, ec := range ecs {
			if len(ec.Vector) == q.dimension {
				errs = append(errs, BatchError{Index: i, ID: ec.Chunk.ID, Err: err})
			}
		}
	}
	return errs
}

func (q *qdrantStore) Search(ctx context.Context, vector []float32, topK int, minScore float64) ([]SearchResult, error) {
	if len(vector) != q.dimension {
		return nil, fmt.Errorf("%w: got %d, store expects %d", domain.ErrDimensionMismatch, len(vector), q.dimension)
	}
	if topK <= 0 {
		topK = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	limit := uint64(topK)
	threshold := float32(minScore)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		ScoreThreshold: &threshold,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		pointID := hit.Id.GetUuid()
		if pointID == "" {
			pointID = hit.Id.String()
		}
		results = append(results, SearchResult{
			Chunk: chunkFromPayload(pointID, hit.Payload),
			Score: float64(hit.Score),
		})
	}
	return results, nil
}

func (q *qdrantStore) GetByID(ctx context.Context, id string) (domain.Chunk, error) {
	points, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: q.collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDUUID(pointUUID(id))},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return domain.Chunk{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if len(points) == 0 {
		return domain.Chunk{}, domain.ErrNotFound
	}
	pointID := points[0].Id.GetUuid()
	c := chunkFromPayload(pointID, points[0].Payload)
	if c.ID == pointID && c.ID != id {
		c.ID = id
	}
	return c, nil
}

func (q *qdrantStore) Delete(ctx context.Context, id string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(pointUUID(id))),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (q *qdrantStore) Count(ctx context.Context) (int, error) {
	n, err := q.client.Count(ctx, &qdrant.CountPoints{CollectionName: q.collection})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return int(n), nil
}

func (q *qdrantStore) Close() error { return q.client.Close() }
