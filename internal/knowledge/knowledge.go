// Package knowledge is the reference-material side of retrieval: it loads
// markdown notes from a docs directory, splits them into overlapping chunks,
// and serves ranked snippets for a problem statement.
//
// Two Index implementations exist: QdrantIndex for a shared server and
// ChromemIndex, an embedded on-disk index for single-node and CLI use.
package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ashita-ai/mathmentor/internal/model"
)

// DefaultK is the number of snippets retrieved per problem.
const DefaultK = 5

// ErrUnavailable wraps failures that mean the index cannot be reached at
// all, as opposed to a query that simply matched nothing.
var ErrUnavailable = errors.New("knowledge: index unavailable")

// Searcher returns up to k snippets ranked by relevance, best first.
// An empty result is not an error.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]model.Document, error)
}

// Index is a Searcher that can be (re)built from chunks.
type Index interface {
	Searcher
	// Upsert adds or replaces chunks by ID.
	Upsert(ctx context.Context, chunks []Chunk) error
	// DeleteFile removes every chunk indexed from file, a path relative to
	// the docs root.
	DeleteFile(ctx context.Context, file string) error
	// Count reports the number of indexed chunks.
	Count(ctx context.Context) (int, error)
	Healthy(ctx context.Context) error
	Close() error
}

// Chunk is one indexed piece of a source document.
type Chunk struct {
	ID      string
	File    string
	Source  string
	Topic   string
	Ordinal int
	Content string
}

// chunkNamespace seeds deterministic chunk IDs so re-indexing a file
// overwrites its previous points instead of duplicating them.
var chunkNamespace = uuid.MustParse("6f1c9a0e-4d7b-5b8e-9a3c-2f0e1d4c5b6a")

// ChunkID returns the stable ID of the ordinal-th chunk of file.
func ChunkID(file string, ordinal int) string {
	return uuid.NewSHA1(chunkNamespace, fmt.Appendf(nil, "%s#%d", file, ordinal)).String()
}

func capK(k int) int {
	if k <= 0 {
		return DefaultK
	}
	return k
}
