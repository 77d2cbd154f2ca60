package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	chromem "github.com/philippgille/chromem-go"

	"github.com/ashita-ai/mathmentor/internal/model"
	"github.com/ashita-ai/mathmentor/internal/service/embedding"
)

const chromemCollection = "mathmentor_kb"

// ChromemIndex is an embedded knowledge Index. With a path it persists to
// disk under that directory; with an empty path it lives in memory.
type ChromemIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   embedding.Provider
	logger     *slog.Logger
}

// NewChromemIndex opens (or creates) the index at path.
func NewChromemIndex(path string, embedder embedding.Provider, logger *slog.Logger) (*ChromemIndex, error) {
	var (
		db  *chromem.DB
		err error
	)
	if path == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("knowledge: create %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("knowledge: open chromem db %s: %w", path, err)
		}
	}

	embed := func(ctx context.Context, text string) ([]float32, error) {
		v, err := embedder.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		return v.Slice(), nil
	}
	col, err := db.GetOrCreateCollection(chromemCollection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("knowledge: open collection: %w", err)
	}

	logger.Info("knowledge: chromem index ready", "path", path, "chunks", col.Count())
	return &ChromemIndex{db: db, collection: col, embedder: embedder, logger: logger}, nil
}

// Search returns the k nearest chunks; k is capped at the collection size.
func (c *ChromemIndex) Search(ctx context.Context, query string, k int) ([]model.Document, error) {
	k = capK(k)
	n := c.collection.Count()
	if n == 0 || query == "" {
		return []model.Document{}, nil
	}
	k = min(k, n)

	results, err := c.collection.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("knowledge: chromem query: %w", err)
	}
	docs := make([]model.Document, len(results))
	for i, r := range results {
		docs[i] = model.Document{
			ID:        r.ID,
			Content:   r.Content,
			Source:    r.Metadata["source"],
			Topic:     r.Metadata["topic"],
			Relevance: float64(r.Similarity),
		}
	}
	return docs, nil
}

// Upsert embeds chunks in one batch and adds them. Existing IDs are
// replaced.
func (c *ChromemIndex) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}
	vecs, err := c.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("knowledge: embed %d chunks: %w", len(chunks), err)
	}

	docs := make([]chromem.Document, len(chunks))
	for i, ch := range chunks {
		docs[i] = chromem.Document{
			ID:      ch.ID,
			Content: ch.Content,
			Metadata: map[string]string{
				"file":    ch.File,
				"source":  ch.Source,
				"topic":   ch.Topic,
				"ordinal": strconv.Itoa(ch.Ordinal),
			},
			Embedding: vecs[i].Slice(),
		}
	}
	// Embeddings are precomputed, so one worker is enough.
	if err := c.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("knowledge: chromem add %d chunks: %w", len(docs), err)
	}
	return nil
}

// DeleteFile removes every chunk whose file metadata matches.
func (c *ChromemIndex) DeleteFile(ctx context.Context, file string) error {
	if c.collection.Count() == 0 {
		return nil
	}
	if err := c.collection.Delete(ctx, map[string]string{"file": file}, nil); err != nil {
		return fmt.Errorf("knowledge: chromem delete file %q: %w", file, err)
	}
	return nil
}

// Count returns the number of chunks.
func (c *ChromemIndex) Count(context.Context) (int, error) {
	return c.collection.Count(), nil
}

// Healthy always succeeds; the index is in-process.
func (c *ChromemIndex) Healthy(context.Context) error { return nil }

// Close is a no-op. Persistent chromem writes each document on add.
func (c *ChromemIndex) Close() error { return nil }
