package mentor

import (
	"context"
	"sync"

	"github.com/ashita-ai/mathmentor/internal/model"
)

// Session is caller-owned conversation state: the runs one user has
// submitted and the run awaiting clarification, if any. The Service keeps
// no per-user state.
type Session struct {
	svc *Service

	mu      sync.Mutex
	history []SolveResult
}

// NewSession starts an empty session backed by svc.
func NewSession(svc *Service) *Session {
	return &Session{svc: svc}
}

// Submit solves text. When the last run asked for clarification, text is
// treated as the clarification and the new run is linked to it.
func (s *Session) Submit(ctx context.Context, text string) (SolveResult, error) {
	var (
		res SolveResult
		err error
	)
	if last := s.Last(); last != nil && last.Status == model.RunStatusNeedsClarification {
		res, err = s.svc.Clarify(ctx, last.ID, text)
	} else {
		res, err = s.svc.Solve(ctx, model.Input{ProblemText: text})
	}
	if err != nil {
		return res, err
	}
	s.mu.Lock()
	s.history = append(s.history, res)
	s.mu.Unlock()
	return res, nil
}

// Last returns the most recent run, or nil.
func (s *Session) Last() *model.RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return nil
	}
	return s.history[len(s.history)-1].Run
}

// History returns the session's runs, oldest first.
func (s *Session) History() []SolveResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SolveResult, len(s.history))
	copy(out, s.history)
	return out
}

// Reset forgets the history, so the next Submit starts a fresh problem.
func (s *Session) Reset() {
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
}
