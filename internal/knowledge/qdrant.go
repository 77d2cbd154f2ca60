package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/mathmentor/internal/model"
	"github.com/ashita-ai/mathmentor/internal/service/embedding"
)

// QdrantConfig holds configuration for connecting to Qdrant.
type QdrantConfig struct {
	URL        string // e.g. "http://localhost:6333"
	APIKey     string
	Collection string
}

// QdrantIndex is a knowledge Index backed by a Qdrant collection. Chunk text
// and metadata live in the point payload.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	embedder   embedding.Provider
	logger     *slog.Logger

	healthGroup singleflight.Group
	healthErr   atomic.Value // *error
	healthAt    atomic.Int64
}

// parseQdrantURL extracts host, port, and TLS flag from a Qdrant URL.
// The REST port 6333 is mapped to the gRPC port 6334.
func parseQdrantURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("knowledge: invalid qdrant URL: %q", rawURL)
	}

	useTLS = u.Scheme == "https"
	host = u.Hostname()
	port = 6334
	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("knowledge: invalid port in qdrant URL: %q", portStr)
		}
		if p != 6333 {
			port = p
		}
	}
	return host, port, useTLS, nil
}

// NewQdrantIndex connects to Qdrant over gRPC.
func NewQdrantIndex(cfg QdrantConfig, embedder embedding.Provider, logger *slog.Logger) (*QdrantIndex, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.Collection == "" {
		cfg.Collection = "mathmentor_kb"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: connect to qdrant at %s:%d: %w", host, port, err)
	}

	return &QdrantIndex{
		client:     client,
		collection: cfg.Collection,
		embedder:   embedder,
		logger:     logger,
	}, nil
}

// EnsureCollection creates the collection if needed and the keyword indexes
// used by DeleteFile and topic filters.
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("%w: check collection: %w", ErrUnavailable, err)
	}

	if !exists {
		m := uint64(16)
		efConstruct := uint64(128)
		if err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(q.embedder.Dimensions()), //nolint:gosec
				Distance: qdrant.Distance_Cosine,
				HnswConfig: &qdrant.HnswConfigDiff{
					M:           &m,
					EfConstruct: &efConstruct,
				},
			}),
		}); err != nil {
			return fmt.Errorf("knowledge: create collection %q: %w", q.collection, err)
		}
		q.logger.Info("qdrant: created collection", "collection", q.collection, "dims", q.embedder.Dimensions())
	}

	keywordType := qdrant.FieldType_FieldTypeKeyword
	for _, field := range []string{"file", "source", "topic"} {
		if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.collection,
			FieldName:      field,
			FieldType:      &keywordType,
		}); err != nil {
			return fmt.Errorf("knowledge: ensure index on %q: %w", field, err)
		}
	}
	return nil
}

// Search embeds query and returns the k nearest chunks.
func (q *QdrantIndex) Search(ctx context.Context, query string, k int) ([]model.Document, error) {
	vec, err := q.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("knowledge: embed query: %w", err)
	}

	limit := uint64(capK(k)) //nolint:gosec
	scored, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec.Slice()),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: qdrant query: %w", ErrUnavailable, err)
	}

	docs := make([]model.Document, 0, len(scored))
	for _, sp := range scored {
		p := sp.GetPayload()
		docs = append(docs, model.Document{
			ID:        sp.GetId().GetUuid(),
			Content:   p["content"].GetStringValue(),
			Source:    p["source"].GetStringValue(),
			Topic:     p["topic"].GetStringValue(),
			Relevance: float64(sp.GetScore()),
		})
	}
	return docs, nil
}

// Upsert embeds and writes chunks.
func (q *QdrantIndex) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vecs, err := q.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("knowledge: embed %d chunks: %w", len(chunks), err)
	}

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, c := range chunks {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(c.ID),
			Vectors: qdrant.NewVectorsDense(vecs[i].Slice()),
			Payload: qdrant.NewValueMap(map[string]any{
				"content": c.Content,
				"file":    c.File,
				"source":  c.Source,
				"topic":   c.Topic,
				"ordinal": int64(c.Ordinal),
			}),
		}
	}

	if _, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	}); err != nil {
		return fmt.Errorf("knowledge: qdrant upsert %d points: %w", len(points), err)
	}
	return nil
}

// DeleteFile removes all points whose file payload matches.
func (q *QdrantIndex) DeleteFile(ctx context.Context, file string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{qdrant.NewMatch("file", file)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("knowledge: qdrant delete file %q: %w", file, err)
	}
	return nil
}

// Count returns the exact number of points in the collection.
func (q *QdrantIndex) Count(ctx context.Context) (int, error) {
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("knowledge: qdrant count: %w", err)
	}
	return int(n), nil //nolint:gosec
}

// Healthy returns nil if Qdrant is reachable. Results are cached for 5
// seconds and concurrent checks share one gRPC call.
func (q *QdrantIndex) Healthy(ctx context.Context) error {
	if time.Since(time.Unix(0, q.healthAt.Load())) < 5*time.Second {
		return q.loadHealthErr()
	}

	// Detached from ctx: singleflight hands the first caller's result to all
	// waiters.
	result, _, _ := q.healthGroup.Do("health", func() (any, error) {
		checkCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if _, err := q.client.HealthCheck(checkCtx); err != nil {
			q.storeHealthErr(fmt.Errorf("%w: qdrant: %w", ErrUnavailable, err))
		} else {
			q.storeHealthErr(nil)
		}
		q.healthAt.Store(time.Now().UnixNano())
		return q.loadHealthErr(), nil
	})
	if result == nil {
		return nil
	}
	return result.(error)
}

func (q *QdrantIndex) storeHealthErr(err error) {
	q.healthErr.Store(&err)
}

func (q *QdrantIndex) loadHealthErr() error {
	v := q.healthErr.Load()
	if v == nil {
		return nil
	}
	return *v.(*error)
}

// Close shuts down the gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}
