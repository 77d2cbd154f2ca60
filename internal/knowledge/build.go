package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Builder loads documents from a directory into an Index.
type Builder struct {
	Index    Index
	Splitter Splitter
	Root     string
	Logger   *slog.Logger
}

// BuildReport summarizes one Build.
type BuildReport struct {
	Documents int           `json:"documents"`
	Chunks    int           `json:"chunks"`
	Duration  time.Duration `json:"duration"`
}

// Build indexes every document under Root. Each document's previous chunks
// are removed first so shrinking a file leaves no stale tail.
func (b *Builder) Build(ctx context.Context) (BuildReport, error) {
	start := time.Now()
	docs, err := LoadDirectory(b.Root)
	if err != nil {
		return BuildReport{}, err
	}
	var report BuildReport
	for _, d := range docs {
		n, err := b.index(ctx, d)
		if err != nil {
			return report, err
		}
		report.Documents++
		report.Chunks += n
	}
	report.Duration = time.Since(start)
	b.Logger.Info("knowledge: build complete",
		"root", b.Root, "documents", report.Documents, "chunks", report.Chunks,
		"duration_ms", report.Duration.Milliseconds())
	return report, nil
}

// IndexFile re-indexes a single file and returns its chunk count.
func (b *Builder) IndexFile(ctx context.Context, path string) (int, error) {
	d, err := LoadFile(b.Root, path)
	if err != nil {
		return 0, err
	}
	return b.index(ctx, d)
}

// RemoveFile drops a deleted file's chunks, whatever source its front
// matter named.
func (b *Builder) RemoveFile(ctx context.Context, path string) error {
	return b.Index.DeleteFile(ctx, relName(b.Root, path))
}

func (b *Builder) index(ctx context.Context, d SourceDoc) (int, error) {
	if err := b.Index.DeleteFile(ctx, d.File); err != nil {
		return 0, err
	}
	chunks := d.Chunks(b.Splitter)
	if err := b.Index.Upsert(ctx, chunks); err != nil {
		return 0, fmt.Errorf("knowledge: index %s: %w", d.Source, err)
	}
	return len(chunks), nil
}
