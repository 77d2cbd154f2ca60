package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/pgvector/pgvector-go"
)

// HashProvider embeds text by feature hashing its lowercase tokens into a
// fixed number of buckets, then L2-normalizing. Texts sharing vocabulary get
// a positive cosine similarity. It is the local fallback when no embedding
// service is configured.
type HashProvider struct {
	dims int
}

// NewHashProvider creates a hashing provider. Non-positive dims default to 256.
func NewHashProvider(dims int) *HashProvider {
	if dims <= 0 {
		dims = 256
	}
	return &HashProvider{dims: dims}
}

// Dimensions returns the embedding vector size.
func (p *HashProvider) Dimensions() int {
	return p.dims
}

// Embed hashes text into a unit vector. Text without tokens maps to a fixed
// unit vector so cosine similarity stays defined.
func (p *HashProvider) Embed(_ context.Context, text string) (pgvector.Vector, error) {
	return pgvector.NewVector(p.vector(text)), nil
}

// EmbedBatch hashes each text.
func (p *HashProvider) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	vecs := make([]pgvector.Vector, len(texts))
	for i, t := range texts {
		v, _ := p.Embed(ctx, t)
		vecs[i] = v
	}
	return vecs, nil
}

func (p *HashProvider) vector(text string) []float32 {
	v := make([]float32, p.dims)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '^'
	})
	for _, tok := range tokens {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum32()
		idx := int(sum % uint32(p.dims))
		// Sign bit spreads collisions around zero.
		if sum&(1<<31) != 0 {
			v[idx]--
		} else {
			v[idx]++
		}
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}

// Cosine returns the cosine similarity of two equal-length vectors, or 0 when
// either is zero or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
