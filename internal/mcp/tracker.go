package mcp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/mathmentor/internal/ctxutil"
)

// pendingTracker remembers, per caller, the last run that stopped for
// clarification so mentor_clarify can omit run_id. Entries expire after
// window. It lives in memory only; a lost entry just means the caller has
// to pass run_id.
type pendingTracker struct {
	mu     sync.Mutex
	runs   map[string]pendingRun
	window time.Duration
}

type pendingRun struct {
	id uuid.UUID
	at time.Time
}

func newPendingTracker(window time.Duration) *pendingTracker {
	return &pendingTracker{
		runs:   make(map[string]pendingRun),
		window: window,
	}
}

// Set records id as the caller's pending run.
func (t *pendingTracker) Set(caller string, id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs[caller] = pendingRun{id: id, at: time.Now()}

	if len(t.runs) > 1000 {
		t.purgeStale()
	}
}

// Clear forgets the caller's pending run.
func (t *pendingTracker) Clear(caller string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.runs, caller)
}

// Get returns the caller's pending run if it is still within the window.
func (t *pendingTracker) Get(caller string) (uuid.UUID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.runs[caller]
	if !ok {
		return uuid.Nil, false
	}
	if time.Since(p.at) > t.window {
		delete(t.runs, caller)
		return uuid.Nil, false
	}
	return p.id, true
}

// purgeStale removes expired entries. Must be called with mu held.
func (t *pendingTracker) purgeStale() {
	now := time.Now()
	for k, p := range t.runs {
		if now.Sub(p.at) > t.window {
			delete(t.runs, k)
		}
	}
}

// callerKey identifies the caller: the MCP session when there is one,
// otherwise the token subject.
func callerKey(ctx context.Context) string {
	if session := mcpserver.ClientSessionFromContext(ctx); session != nil && session.SessionID() != "" {
		return "session:" + session.SessionID()
	}
	return "subject:" + ctxutil.Subject(ctx)
}
