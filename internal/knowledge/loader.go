package knowledge

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/mathmentor/internal/model"
)

// SourceDoc is one markdown file from the docs directory.
type SourceDoc struct {
	// Source is the front-matter source, or File when none is given.
	Source string
	// File is the path relative to the docs root. Chunks are keyed by it.
	File  string
	Topic string
	Path  string
	Body  string
}

type frontMatter struct {
	Source string `yaml:"source"`
	Topic  string `yaml:"topic"`
	Title  string `yaml:"title"`
}

var frontMatterDelim = []byte("---")

// IsDocFile reports whether path is a knowledge document.
func IsDocFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".md" || ext == ".markdown" || ext == ".txt"
}

// LoadFile reads one document. root is used to derive the default source
// name and may be empty.
func LoadFile(root, path string) (SourceDoc, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return SourceDoc{}, fmt.Errorf("knowledge: read %s: %w", path, err)
	}
	fm, body, err := splitFrontMatter(raw)
	if err != nil {
		return SourceDoc{}, fmt.Errorf("knowledge: front matter in %s: %w", path, err)
	}

	doc := SourceDoc{
		Source: fm.Source,
		File:   relName(root, path),
		Topic:  normalizeTopic(fm.Topic),
		Path:   path,
		Body:   string(body),
	}
	if doc.Source == "" {
		doc.Source = doc.File
	}
	if fm.Title != "" {
		doc.Body = fm.Title + "\n\n" + doc.Body
	}
	return doc, nil
}

// LoadDirectory reads every document under root, sorted by path.
func LoadDirectory(root string) ([]SourceDoc, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if IsDocFile(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: walk %s: %w", root, err)
	}
	sort.Strings(paths)

	docs := make([]SourceDoc, 0, len(paths))
	for _, p := range paths {
		doc, err := LoadFile(root, p)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Chunks splits the document with s.
func (d SourceDoc) Chunks(s Splitter) []Chunk {
	texts := s.Split(d.Body)
	out := make([]Chunk, len(texts))
	for i, t := range texts {
		out[i] = Chunk{
			ID:      ChunkID(d.File, i),
			File:    d.File,
			Source:  d.Source,
			Topic:   d.Topic,
			Ordinal: i,
			Content: t,
		}
	}
	return out
}

// splitFrontMatter separates an optional leading YAML block delimited by
// "---" lines from the body.
func splitFrontMatter(raw []byte) (frontMatter, []byte, error) {
	var fm frontMatter
	trimmed := bytes.TrimPrefix(raw, []byte("\ufeff"))
	if !bytes.HasPrefix(trimmed, frontMatterDelim) {
		return fm, raw, nil
	}
	rest := trimmed[len(frontMatterDelim):]
	nl := bytes.IndexByte(rest, '\n')
	if nl < 0 || len(bytes.TrimSpace(rest[:nl])) != 0 {
		return fm, raw, nil
	}
	rest = rest[nl+1:]

	end := bytes.Index(rest, []byte("\n---"))
	var block []byte
	switch {
	case bytes.HasPrefix(rest, frontMatterDelim):
		block, rest = nil, rest[len(frontMatterDelim):]
	case end >= 0:
		block, rest = rest[:end], rest[end+len("\n---"):]
	default:
		return fm, raw, nil
	}
	if i := bytes.IndexByte(rest, '\n'); i >= 0 {
		rest = rest[i+1:]
	} else {
		rest = nil
	}
	if err := yaml.Unmarshal(block, &fm); err != nil {
		return fm, nil, err
	}
	return fm, rest, nil
}

func relName(root, path string) string {
	if root != "" {
		if rel, err := filepath.Rel(root, path); err == nil {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.Base(path)
}

func normalizeTopic(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	t = strings.ReplaceAll(t, " ", "_")
	if t == "" {
		return ""
	}
	if !model.SupportedTopic(t) {
		return model.TopicUnknown
	}
	return t
}
