package knowledge_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/mathmentor/internal/knowledge"
	"github.com/ashita-ai/mathmentor/internal/service/embedding"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

func newIndex(t *testing.T) *knowledge.ChromemIndex {
	t.Helper()
	idx, err := knowledge.NewChromemIndex("", embedding.NewHashProvider(128), testLogger)
	require.NoError(t, err)
	return idx
}

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestSplitter(t *testing.T) {
	para := strings.Repeat("The quadratic formula solves ax^2 + bx + c = 0. ", 8)
	text := para + "\n\n" + para + "\n\n" + para

	tests := []struct {
		name    string
		size    int
		overlap int
		text    string
		want    int // minimum number of chunks; 0 means exactly none
	}{
		{"empty", 500, 100, "   \n", 0},
		{"short fits in one", 500, 100, "Factor x^2 - 5x + 6.", 1},
		{"paragraphs", 500, 100, text, 3},
		{"no separators hard cut", 10, 2, strings.Repeat("x", 35), 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := knowledge.NewSplitter(tt.size, tt.overlap).Split(tt.text)
			if tt.want == 0 {
				assert.Empty(t, chunks)
				return
			}
			assert.GreaterOrEqual(t, len(chunks), tt.want)
			for _, c := range chunks {
				assert.LessOrEqual(t, utf8.RuneCountInString(c), tt.size)
				assert.NotEmpty(t, strings.TrimSpace(c))
			}
		})
	}
}

func TestSplitterOverlap(t *testing.T) {
	var b strings.Builder
	for i := range 40 {
		fmt.Fprintf(&b, "Sentence %d ends here. ", i)
	}
	chunks := knowledge.NewSplitter(120, 40).Split(b.String())
	require.Greater(t, len(chunks), 2)
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1]
		last := prev[strings.LastIndex(prev, "Sentence "):]
		assert.True(t, strings.HasPrefix(chunks[i], last), "chunk %d should start with the last sentence of chunk %d", i, i-1)
	}
}

func TestNewSplitterClamps(t *testing.T) {
	s := knowledge.NewSplitter(0, -1)
	assert.Equal(t, knowledge.DefaultChunkSize, s.Size)
	assert.Equal(t, knowledge.DefaultChunkSize/5, s.Overlap)

	s = knowledge.NewSplitter(100, 100)
	assert.Equal(t, 20, s.Overlap)
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "algebra/quadratics.md", "---\nsource: Quadratics Primer\ntopic: Algebra\n---\nA quadratic has degree two.\n")
	writeDoc(t, dir, "probability.md", "Independent events multiply.")
	writeDoc(t, dir, "geometry.md", "---\ntopic: geometry\n---\nTriangles.")
	writeDoc(t, dir, "image.png", "not a doc")
	writeDoc(t, dir, ".hidden/notes.md", "skip me")

	docs, err := knowledge.LoadDirectory(dir)
	require.NoError(t, err)
	require.Len(t, docs, 3)

	assert.Equal(t, "Quadratics Primer", docs[0].Source)
	assert.Equal(t, "algebra/quadratics.md", docs[0].File)
	assert.Equal(t, "algebra", docs[0].Topic)
	assert.Equal(t, "A quadratic has degree two.\n", docs[0].Body)

	assert.Equal(t, "geometry.md", docs[1].Source)
	assert.Equal(t, "unknown", docs[1].Topic, "unsupported topics collapse to unknown")

	assert.Equal(t, "probability.md", docs[2].Source)
	assert.Empty(t, docs[2].Topic)
}

func TestLoadFileBadFrontMatter(t *testing.T) {
	dir := t.TempDir()
	p := writeDoc(t, dir, "bad.md", "---\nsource: [unclosed\n---\nbody")
	_, err := knowledge.LoadFile(dir, p)
	assert.Error(t, err)
}

func TestChunkIDStable(t *testing.T) {
	assert.Equal(t, knowledge.ChunkID("a.md", 0), knowledge.ChunkID("a.md", 0))
	assert.NotEqual(t, knowledge.ChunkID("a.md", 0), knowledge.ChunkID("a.md", 1))
	assert.NotEqual(t, knowledge.ChunkID("a.md", 0), knowledge.ChunkID("b.md", 0))
}

func TestChromemIndexSearch(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t)

	docs, err := idx.Search(ctx, "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, docs, "empty index returns no documents")

	dir := t.TempDir()
	writeDoc(t, dir, "quadratics.md", "---\ntopic: algebra\n---\nFactor the quadratic x^2 - 5x + 6 into (x - 2)(x - 3).")
	writeDoc(t, dir, "dice.md", "---\ntopic: probability\n---\nThe probability of rolling a six on a fair die is one sixth.")

	b := &knowledge.Builder{Index: idx, Splitter: knowledge.NewSplitter(500, 100), Root: dir, Logger: testLogger}
	report, err := b.Build(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Documents)
	assert.Equal(t, 2, report.Chunks)

	docs, err = idx.Search(ctx, "factor the quadratic x^2", 5)
	require.NoError(t, err)
	require.Len(t, docs, 2, "k is capped at the collection size")
	assert.Equal(t, "quadratics.md", docs[0].Source)
	assert.Equal(t, "algebra", docs[0].Topic)
	assert.GreaterOrEqual(t, docs[0].Relevance, docs[1].Relevance)

	// Rebuilding does not duplicate chunks.
	_, err = b.Build(ctx)
	require.NoError(t, err)
	n, _ := idx.Count(ctx)
	assert.Equal(t, 2, n)

	require.NoError(t, b.RemoveFile(ctx, filepath.Join(dir, "dice.md")))
	n, _ = idx.Count(ctx)
	assert.Equal(t, 1, n)
}

func TestBuilderFrontMatterSource(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t)
	dir := t.TempDir()
	path := writeDoc(t, dir, "algebra.md", "---\nsource: Algebra Handbook\ntopic: algebra\n---\nComplete the square to solve quadratics.")
	b := &knowledge.Builder{Index: idx, Splitter: knowledge.NewSplitter(500, 100), Root: dir, Logger: testLogger}

	_, err := b.Build(ctx)
	require.NoError(t, err)
	docs, err := idx.Search(ctx, "complete the square", 5)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Algebra Handbook", docs[0].Source)

	// Renaming the source replaces the old chunks.
	writeDoc(t, dir, "algebra.md", "---\nsource: Algebra Notes\n---\nComplete the square to solve quadratics.")
	_, err = b.IndexFile(ctx, path)
	require.NoError(t, err)
	n, _ := idx.Count(ctx)
	assert.Equal(t, 1, n)
	docs, err = idx.Search(ctx, "complete the square", 5)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Algebra Notes", docs[0].Source)

	require.NoError(t, os.Remove(path))
	require.NoError(t, b.RemoveFile(ctx, path))
	n, _ = idx.Count(ctx)
	assert.Zero(t, n)
	docs, err = idx.Search(ctx, "complete the square", 5)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestChromemIndexPersists(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir()
	emb := embedding.NewHashProvider(64)

	idx, err := knowledge.NewChromemIndex(path, emb, testLogger)
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(ctx, []knowledge.Chunk{{
		ID: knowledge.ChunkID("limits.md", 0), File: "limits.md", Source: "limits.md", Topic: "calculus",
		Content: "A limit describes the value a function approaches.",
	}}))

	reopened, err := knowledge.NewChromemIndex(path, emb, testLogger)
	require.NoError(t, err)
	docs, err := reopened.Search(ctx, "limit of a function", 3)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "calculus", docs[0].Topic)
}
