// Package memory is the outcome store: the durable record of solved
// problems, the human feedback attached to them, and similarity search over
// past solutions for the solver.
//
// SQLiteStore is the embedded implementation used by the CLI and single-node
// deployments. The Postgres implementation lives in internal/storage and
// satisfies the same interfaces.
package memory

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/ashita-ai/mathmentor/internal/model"
)

// DefaultK is the number of similar past solutions handed to the solver.
const DefaultK = 3

// OutcomeStore persists outcomes. Each outcome is written once; feedback is
// the only field that changes afterwards, and the last write wins.
type OutcomeStore interface {
	// StoreOutcome appends o. A second write of the same ID returns
	// storage.ErrConflict.
	StoreOutcome(ctx context.Context, o model.Outcome) error
	// RecordFeedback attaches feedback to an existing outcome, replacing any
	// earlier feedback. Unknown IDs return storage.ErrNotFound.
	RecordFeedback(ctx context.Context, id uuid.UUID, fb model.Feedback) error
	// FindSimilar returns up to k past solutions ranked by similarity to
	// query. Outcomes marked incorrect without a correction are skipped.
	FindSimilar(ctx context.Context, query string, k int) ([]model.SimilarSolution, error)
	// Statistics summarizes stored outcomes and feedback.
	Statistics(ctx context.Context) (model.Statistics, error)
	GetOutcome(ctx context.Context, id uuid.UUID) (model.Outcome, error)
}

// RunRecorder keeps the terminal state of every run, persisted or not, so
// follow-ups (clarification, approval) can load it.
type RunRecorder interface {
	SaveRun(ctx context.Context, r *model.RunState) error
	GetRun(ctx context.Context, id uuid.UUID) (*model.RunState, error)
}

// Store is everything the mentor service needs from persistence.
type Store interface {
	OutcomeStore
	RunRecorder
	Ping(ctx context.Context) error
	Close() error
}

// Reembedder recomputes stored embeddings with the current provider, for
// use after the embedding model or its dimensions change.
type Reembedder interface {
	// Reembed rewrites the embedding of every stored outcome and returns how
	// many rows were updated.
	Reembed(ctx context.Context) (int, error)
}

// Candidate is a raw similarity hit before the feedback policy is applied.
type Candidate struct {
	ID         uuid.UUID
	Problem    string
	Solution   string
	Feedback   *model.Feedback
	Similarity float64
}

// Rank applies the feedback reuse policy to candidates (already sorted best
// first) and keeps at most k.
func Rank(cands []Candidate, k int) []model.SimilarSolution {
	if k <= 0 {
		k = DefaultK
	}
	out := make([]model.SimilarSolution, 0, min(k, len(cands)))
	for _, c := range cands {
		o := model.Outcome{SolutionText: c.Solution, UserFeedback: c.Feedback}
		sol, ok := o.ReusableSolution()
		if !ok {
			continue
		}
		out = append(out, model.SimilarSolution{
			ID:         c.ID.String(),
			Problem:    c.Problem,
			Solution:   sol,
			Similarity: c.Similarity,
		})
		if len(out) == k {
			break
		}
	}
	return out
}

// encodeVector packs v as little-endian float32s.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("memory: vector blob length %d is not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}
