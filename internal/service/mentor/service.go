// Package mentor provides the business logic shared by the HTTP API, the MCP
// server and the CLI: running problems, persisting successful outcomes, the
// clarification and review follow-ups, feedback and statistics.
package mentor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/mathmentor/internal/memory"
	"github.com/ashita-ai/mathmentor/internal/model"
	"github.com/ashita-ai/mathmentor/internal/telemetry"
)

var (
	// ErrInvalidInput wraps caller mistakes: bad input mode, oversized text,
	// unknown verdict.
	ErrInvalidInput = errors.New("mentor: invalid input")
	// ErrNotClarifiable is returned when a clarification targets a run that
	// did not ask for one.
	ErrNotClarifiable = errors.New("mentor: run is not awaiting clarification")
	// ErrNotReviewable is returned when an approval targets a run that is not
	// waiting for human review.
	ErrNotReviewable = errors.New("mentor: run is not awaiting review")
)

// Runner executes one problem to a terminal state.
type Runner interface {
	Run(ctx context.Context, in model.Input) *model.RunState
}

// HealthChecker is anything with a cheap reachability probe.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}

// Config tunes the Service.
type Config struct {
	// RunTimeout bounds one orchestrator run. Zero means no limit beyond the
	// caller's context.
	RunTimeout time.Duration
	// SimilarK is the default result count for Similar.
	SimilarK int
}

// Service wires the orchestrator to the outcome store.
type Service struct {
	runner Runner
	store  memory.Store
	kb     HealthChecker
	cfg    Config
	logger *slog.Logger

	persisted metric.Int64Counter
	feedback  metric.Int64Counter
}

// New creates a Service. kb may be nil when no knowledge base is configured.
func New(runner Runner, store memory.Store, kb HealthChecker, cfg Config, logger *slog.Logger) *Service {
	if cfg.SimilarK <= 0 {
		cfg.SimilarK = memory.DefaultK
	}
	if logger == nil {
		logger = slog.Default()
	}
	meter := telemetry.Meter("mathmentor/mentor")
	persisted, _ := meter.Int64Counter("mathmentor.outcomes.persisted",
		metric.WithDescription("Outcomes written to the store"),
	)
	feedback, _ := meter.Int64Counter("mathmentor.feedback.recorded",
		metric.WithDescription("Feedback verdicts recorded"),
	)
	return &Service{
		runner:    runner,
		store:     store,
		kb:        kb,
		cfg:       cfg,
		logger:    logger,
		persisted: persisted,
		feedback:  feedback,
	}
}

// SolveResult is a terminal run plus whether its outcome was stored.
type SolveResult struct {
	Run       *model.RunState
	Persisted bool
}

// View renders the result for API and MCP callers.
func (r SolveResult) View() model.RunView {
	return model.NewRunView(r.Run, r.Persisted)
}

// Solve runs a problem. Only a successful run is written to the outcome
// store; every terminal run is kept as a run record. A store failure after
// a successful run is logged and reported through Persisted=false.
func (s *Service) Solve(ctx context.Context, in model.Input) (SolveResult, error) {
	if err := in.Validate(); err != nil {
		return SolveResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	runCtx := ctx
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}
	r := s.runner.Run(runCtx, in)

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("mathmentor.run_id", r.ID.String()),
		attribute.String("mathmentor.status", string(r.Status)),
	)

	res := SolveResult{Run: r}
	if r.Success {
		res.Persisted = s.persist(ctx, r)
	}
	if err := s.store.SaveRun(context.WithoutCancel(ctx), r); err != nil {
		s.logger.Warn("mentor: save run record failed", "run_id", r.ID, "error", err)
	}
	return res, nil
}

func (s *Service) persist(ctx context.Context, r *model.RunState) bool {
	o, err := model.OutcomeFromRun(r)
	if err != nil {
		return false
	}
	if err := s.store.StoreOutcome(context.WithoutCancel(ctx), o); err != nil {
		s.logger.Error("mentor: store outcome failed", "run_id", r.ID, "error", err)
		return false
	}
	s.persisted.Add(ctx, 1, metric.WithAttributes(attribute.String("source", "solve"), attribute.String("topic", o.Topic)))
	return true
}

// Clarify answers a needs_clarification run by starting a new run on the
// clarified text, linked to the parent.
func (s *Service) Clarify(ctx context.Context, parentID uuid.UUID, text string) (SolveResult, error) {
	parent, err := s.store.GetRun(ctx, parentID)
	if err != nil {
		return SolveResult{}, fmt.Errorf("mentor: clarify: %w", err)
	}
	if parent.Status != model.RunStatusNeedsClarification {
		return SolveResult{}, fmt.Errorf("%w: %s is %s", ErrNotClarifiable, parentID, parent.Status)
	}
	if strings.TrimSpace(text) == "" {
		return SolveResult{}, fmt.Errorf("%w: clarified problem text is required", ErrInvalidInput)
	}
	return s.Solve(ctx, model.Input{
		ProblemText: text,
		InputMode:   model.InputModeText,
		ParentID:    &parent.ID,
	})
}

// Approve persists a run that stopped for human review. A non-nil
// editedSolution replaces the solver output. Approving twice returns
// storage.ErrConflict.
func (s *Service) Approve(ctx context.Context, runID uuid.UUID, reviewer string, editedSolution *string) (model.Outcome, error) {
	r, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return model.Outcome{}, fmt.Errorf("mentor: approve: %w", err)
	}
	if editedSolution != nil && strings.TrimSpace(*editedSolution) == "" {
		return model.Outcome{}, fmt.Errorf("%w: edited solution is empty", ErrInvalidInput)
	}
	o, err := model.ApprovedOutcome(r, reviewer, editedSolution)
	if err != nil {
		return model.Outcome{}, fmt.Errorf("%w: %s is %s", ErrNotReviewable, runID, r.Status)
	}
	if err := s.store.StoreOutcome(ctx, o); err != nil {
		return model.Outcome{}, fmt.Errorf("mentor: approve: %w", err)
	}
	s.persisted.Add(ctx, 1, metric.WithAttributes(attribute.String("source", "review"), attribute.String("topic", o.Topic)))
	s.logger.Info("mentor: run approved", "run_id", runID, "reviewer", reviewer, "edited", editedSolution != nil)
	return o, nil
}

// Feedback attaches a verdict to a stored outcome. The latest feedback
// replaces any earlier one.
func (s *Service) Feedback(ctx context.Context, outcomeID uuid.UUID, req model.FeedbackRequest) error {
	verdict, err := req.Validate()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	fb := model.Feedback{Verdict: verdict, Comment: strings.TrimSpace(req.Comment), RecordedAt: time.Now().UTC()}
	if err := s.store.RecordFeedback(ctx, outcomeID, fb); err != nil {
		return fmt.Errorf("mentor: feedback: %w", err)
	}
	s.feedback.Add(ctx, 1, metric.WithAttributes(attribute.String("verdict", string(verdict))))
	return nil
}

// Similar searches past solutions. k <= 0 uses the configured default.
func (s *Service) Similar(ctx context.Context, query string, k int) ([]model.SimilarSolution, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidInput)
	}
	if k <= 0 {
		k = s.cfg.SimilarK
	}
	sims, err := s.store.FindSimilar(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("mentor: similar: %w", err)
	}
	return sims, nil
}

// Stats returns outcome statistics.
func (s *Service) Stats(ctx context.Context) (model.Statistics, error) {
	st, err := s.store.Statistics(ctx)
	if err != nil {
		return model.Statistics{}, fmt.Errorf("mentor: stats: %w", err)
	}
	return st, nil
}

// GetRun loads a run record.
func (s *Service) GetRun(ctx context.Context, id uuid.UUID) (*model.RunState, error) {
	r, err := s.store.GetRun(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("mentor: get run: %w", err)
	}
	return r, nil
}

// Health probes the store and, when configured, the knowledge base.
// Values are "ok", "unavailable" or "disabled".
func (s *Service) Health(ctx context.Context) (store, kb string) {
	store, kb = "ok", "disabled"
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("mentor: store unhealthy", "error", err)
		store = "unavailable"
	}
	if s.kb != nil {
		kb = "ok"
		if err := s.kb.Healthy(ctx); err != nil {
			s.logger.Warn("mentor: knowledge base unhealthy", "error", err)
			kb = "unavailable"
		}
	}
	return store, kb
}
