package knowledge

import (
	"strings"
	"unicode/utf8"
)

// Default chunking parameters, in runes.
const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 100
)

// separators are tried in order: paragraphs, lines, sentences, words.
var separators = []string{"\n\n", "\n", ". ", " "}

// Splitter breaks text into chunks of at most Size runes, where consecutive
// chunks share roughly Overlap runes of trailing context.
type Splitter struct {
	Size    int
	Overlap int
}

// NewSplitter clamps its arguments to a usable configuration.
func NewSplitter(size, overlap int) Splitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}
	return Splitter{Size: size, Overlap: overlap}
}

// Split returns the chunks of text. Whitespace-only text yields nil.
func (s Splitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	pieces := s.pieces(text, 0)
	return s.merge(pieces)
}

// pieces cuts text into units no longer than Size, splitting on the coarsest
// separator that works and falling back to a hard rune cut.
func (s Splitter) pieces(text string, level int) []string {
	if utf8.RuneCountInString(text) <= s.Size {
		return []string{text}
	}
	if level >= len(separators) {
		return hardCut(text, s.Size)
	}
	sep := separators[level]
	parts := strings.SplitAfter(text, sep)
	if len(parts) == 1 {
		return s.pieces(text, level+1)
	}
	var out []string
	for _, p := range parts {
		if p == "" {
			continue
		}
		out = append(out, s.pieces(p, level+1)...)
	}
	return out
}

// merge packs pieces greedily into chunks, seeding each new chunk with the
// tail pieces of the previous one up to Overlap runes.
func (s Splitter) merge(pieces []string) []string {
	var (
		chunks []string
		window []string
		size   int
	)
	flush := func() {
		if c := strings.TrimSpace(strings.Join(window, "")); c != "" {
			chunks = append(chunks, c)
		}
	}
	for _, p := range pieces {
		n := utf8.RuneCountInString(p)
		if size+n > s.Size && len(window) > 0 {
			flush()
			// Keep trailing pieces for overlap, but always leave room for p.
			for len(window) > 0 && (size > s.Overlap || size+n > s.Size) {
				size -= utf8.RuneCountInString(window[0])
				window = window[1:]
			}
		}
		window = append(window, p)
		size += n
	}
	if len(window) > 0 {
		flush()
	}
	return chunks
}

func hardCut(text string, size int) []string {
	runes := []rune(text)
	out := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		out = append(out, string(runes[start:end]))
	}
	return out
}
