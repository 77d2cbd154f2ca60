// Package orchestrator sequences the pipeline stages for one problem and
// applies the two human-in-the-loop gates:
//
//	guardrail -> parser -> [needs_clarification] -> router -> retrieve ->
//	solver -> verifier -> [human_review_required] -> explainer -> finalize
//
// Run returns only terminal states. Persisting the outcome is the caller's
// decision.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/mathmentor/internal/agent"
	"github.com/ashita-ai/mathmentor/internal/knowledge"
	"github.com/ashita-ai/mathmentor/internal/model"
	"github.com/ashita-ai/mathmentor/internal/telemetry"
)

// GuardrailMode controls what a failed guardrail does.
type GuardrailMode string

const (
	// GuardrailAdvisory records the guardrail result and keeps going.
	GuardrailAdvisory GuardrailMode = "advisory"
	// GuardrailBlocking ends the run in error when any check fails.
	GuardrailBlocking GuardrailMode = "blocking"
)

// ParseGuardrailMode validates a mode string. Empty means advisory.
func ParseGuardrailMode(s string) (GuardrailMode, error) {
	switch m := GuardrailMode(s); m {
	case "":
		return GuardrailAdvisory, nil
	case GuardrailAdvisory, GuardrailBlocking:
		return m, nil
	}
	return "", fmt.Errorf("orchestrator: guardrail mode must be advisory or blocking (got %q)", s)
}

// DefaultReviewThreshold is the verifier aggregate below which a run stops
// for human review.
const DefaultReviewThreshold = 0.75

// Config tunes one Orchestrator.
type Config struct {
	GuardrailMode   GuardrailMode
	ReviewThreshold float64
	RetrievalK      int
	MemoryK         int
	// ParallelPrefetch runs Router and knowledge retrieval concurrently.
	// Stage outputs are still recorded router first.
	ParallelPrefetch bool
}

func (c Config) withDefaults() Config {
	if c.GuardrailMode == "" {
		c.GuardrailMode = GuardrailAdvisory
	}
	if c.ReviewThreshold <= 0 {
		c.ReviewThreshold = DefaultReviewThreshold
	}
	if c.RetrievalK <= 0 {
		c.RetrievalK = knowledge.DefaultK
	}
	if c.MemoryK <= 0 {
		c.MemoryK = 3
	}
	return c
}

// MemorySearcher finds previously solved problems similar to a query.
type MemorySearcher interface {
	FindSimilar(ctx context.Context, query string, k int) ([]model.SimilarSolution, error)
}

// Stages holds the agents. Evaluator is optional; every other stage is
// required.
type Stages struct {
	Guardrail agent.Agent
	Parser    agent.Agent
	Router    agent.Agent
	Solver    agent.Agent
	Verifier  agent.Agent
	Explainer agent.Agent
	Evaluator agent.Agent
}

func (s Stages) validate() error {
	required := map[string]agent.Agent{
		model.StageGuardrail: s.Guardrail,
		model.StageParser:    s.Parser,
		model.StageRouter:    s.Router,
		model.StageSolver:    s.Solver,
		model.StageVerifier:  s.Verifier,
		model.StageExplainer: s.Explainer,
	}
	for name, a := range required {
		if a == nil {
			return fmt.Errorf("orchestrator: %s stage is required", name)
		}
	}
	return nil
}

// Orchestrator runs problems through the pipeline. It holds no per-run
// state and is safe for concurrent use.
type Orchestrator struct {
	cfg       Config
	stages    Stages
	knowledge knowledge.Searcher
	memory    MemorySearcher
	logger    *slog.Logger
	tracer    trace.Tracer

	runDuration   metric.Float64Histogram
	stageDuration metric.Float64Histogram
	runStatus     metric.Int64Counter
}

// New creates an Orchestrator. kb and mem may be nil, in which case
// retrieval yields no documents or similar solutions.
func New(cfg Config, stages Stages, kb knowledge.Searcher, mem MemorySearcher, logger *slog.Logger) (*Orchestrator, error) {
	if err := stages.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	meter := telemetry.Meter("mathmentor/orchestrator")
	runDur, _ := meter.Float64Histogram("mathmentor.run.duration",
		metric.WithDescription("Wall time of one run (ms)"),
		metric.WithUnit("ms"),
	)
	stageDur, _ := meter.Float64Histogram("mathmentor.stage.duration",
		metric.WithDescription("Wall time of one stage (ms)"),
		metric.WithUnit("ms"),
	)
	statusCount, _ := meter.Int64Counter("mathmentor.run.status",
		metric.WithDescription("Runs by terminal status"),
	)
	return &Orchestrator{
		cfg:           cfg.withDefaults(),
		stages:        stages,
		knowledge:     kb,
		memory:        mem,
		logger:        logger,
		tracer:        telemetry.Tracer("mathmentor/orchestrator"),
		runDuration:   runDur,
		stageDuration: stageDur,
		runStatus:     statusCount,
	}, nil
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Run executes one problem and returns its terminal state. It never panics
// and never returns a run still in processing.
func (o *Orchestrator) Run(ctx context.Context, in model.Input) *model.RunState {
	r := model.NewRunState(in)
	ctx, span := o.tracer.Start(ctx, "orchestrator.Run", trace.WithAttributes(
		attribute.String("mathmentor.run_id", r.ID.String()),
		attribute.String("mathmentor.input_mode", string(r.InputMode)),
	))
	log := o.logger.With("run_id", r.ID)

	defer func() {
		if p := recover(); p != nil {
			r.Fail(fmt.Errorf("orchestrator: panic: %v", p))
		}
		r.Finalize()
		o.finish(ctx, span, log, r)
	}()

	if err := in.Validate(); err != nil {
		r.Fail(fmt.Errorf("orchestrator: invalid input: %w", err))
		return r
	}
	if err := o.pipeline(ctx, r); err != nil {
		r.Fail(err)
	}
	return r
}

func (o *Orchestrator) pipeline(ctx context.Context, r *model.RunState) error {
	// Guardrail.
	res, err := o.step(ctx, r, o.stages.Guardrail)
	if err != nil {
		return err
	}
	if !res.Success && o.cfg.GuardrailMode == GuardrailBlocking {
		return errors.New(res.Error)
	}

	// Parser, then Fork A.
	res, err = o.step(ctx, r, o.stages.Parser)
	if err != nil {
		return err
	}
	parsed, err := payload[model.ParsedProblem](res)
	if err != nil {
		return err
	}
	if err := r.SetParsedProblem(parsed); err != nil {
		return err
	}
	if parsed.NeedsClarification {
		msg := parsed.ClarificationMessage
		if msg == "" {
			msg = agent.MsgAmbiguous
		}
		return r.RequireClarification(msg)
	}

	// Router and retrieval.
	if err := o.prefetch(ctx, r); err != nil {
		return err
	}

	// Solver.
	res, err = o.step(ctx, r, o.stages.Solver)
	if err != nil {
		return err
	}
	sol, err := payload[model.Solution](res)
	if err != nil {
		return err
	}
	if err := r.SetSolution(sol); err != nil {
		return err
	}

	// Verifier, then Fork B.
	res, err = o.step(ctx, r, o.stages.Verifier)
	if err != nil {
		return err
	}
	v, err := payload[model.Verification](res)
	if err != nil {
		return err
	}
	if err := r.SetVerification(v, v.Aggregate); err != nil {
		return err
	}
	if v.Aggregate < o.cfg.ReviewThreshold {
		return r.RequireReview(fmt.Sprintf(
			"verifier confidence %.2f is below the review threshold %.2f (%d of %d checks passed)",
			v.Aggregate, o.cfg.ReviewThreshold, v.Passed, v.Total))
	}

	// Explainer. Failure only costs the explanation.
	res, err = o.step(ctx, r, o.stages.Explainer)
	if err != nil {
		return err
	}
	if exp, perr := payload[model.Explanation](res); perr == nil {
		if err := r.SetExplanation(exp); err != nil {
			return err
		}
	} else {
		o.logger.Warn("orchestrator: explanation unavailable", "run_id", r.ID, "error", perr)
	}

	// Evaluator is advisory.
	if o.stages.Evaluator != nil {
		res, err = o.step(ctx, r, o.stages.Evaluator)
		if err != nil {
			return err
		}
		if ev, perr := payload[model.Evaluation](res); perr == nil {
			if err := r.SetEvaluation(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// payload extracts the typed data of a successful result.
func payload[T any](res model.AgentResult) (T, error) {
	var zero T
	if !res.Success {
		return zero, fmt.Errorf("%s: %s", res.Agent, res.Error)
	}
	v, ok := res.Data.(T)
	if !ok {
		return zero, fmt.Errorf("orchestrator: %s returned %T, want %T", res.Agent, res.Data, zero)
	}
	return v, nil
}

func (o *Orchestrator) finish(ctx context.Context, span trace.Span, log *slog.Logger, r *model.RunState) {
	attrs := metric.WithAttributes(attribute.String("status", string(r.Status)))
	o.runStatus.Add(context.WithoutCancel(ctx), 1, attrs)
	o.runDuration.Record(context.WithoutCancel(ctx), float64(r.Duration().Milliseconds()), attrs)

	span.SetAttributes(
		attribute.String("mathmentor.status", string(r.Status)),
		attribute.Bool("mathmentor.success", r.Success),
	)
	if r.Status == model.RunStatusError {
		span.SetStatus(codes.Error, r.Error)
		log.Warn("run failed", "error", r.Error, "stages", r.Stages())
	} else {
		log.Info("run finished",
			"status", r.Status,
			"topic", r.Topic(),
			"stages", r.Stages(),
			"duration_ms", r.Duration().Milliseconds(),
		)
	}
	span.End()
}

// stageInput is the read-only view handed to a stage.
func stageInput(r *model.RunState) agent.Input {
	return agent.Input{
		RunID:       r.ID.String(),
		ProblemText: r.ProblemText,
		InputMode:   r.InputMode,
		Parsed:      r.ParsedProblem,
		Routing:     r.Routing,
		Documents:   r.RetrievedDocuments,
		Similar:     r.SimilarSolutions,
		Solution:    r.Solution,
	}
}

// step executes a stage and records its result.
func (o *Orchestrator) step(ctx context.Context, r *model.RunState, a agent.Agent) (model.AgentResult, error) {
	res, err := o.execute(ctx, r.ID.String(), a, stageInput(r))
	if err != nil {
		return res, err
	}
	if err := r.Record(a.Name(), res); err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("orchestrator: stopped after %s: %w", a.Name(), err)
	}
	return res, nil
}

// execute runs a stage under its own span without touching the run. Stages
// recover their own panics; this boundary covers Agent implementations that
// do not.
func (o *Orchestrator) execute(ctx context.Context, runID string, a agent.Agent, in agent.Input) (res model.AgentResult, err error) {
	name := a.Name()
	if err := ctx.Err(); err != nil {
		return model.AgentResult{}, fmt.Errorf("orchestrator: %s not started: %w", name, err)
	}
	ctx, span := o.tracer.Start(ctx, "stage."+name)
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res = agent.Failed(name, fmt.Errorf("%s: panic: %v", name, p))
		}
		elapsed := time.Since(start)
		o.stageDuration.Record(context.WithoutCancel(ctx), float64(elapsed.Milliseconds()),
			metric.WithAttributes(attribute.String("stage", name), attribute.Bool("success", res.Success)))
		span.SetAttributes(attribute.Bool("success", res.Success), attribute.Float64("confidence", res.Confidence))
		if !res.Success {
			span.SetStatus(codes.Error, res.Error)
		}
		span.End()
		o.logger.Debug("stage finished",
			"run_id", runID,
			"stage", name,
			"success", res.Success,
			"confidence", res.Confidence,
			"duration_ms", elapsed.Milliseconds(),
		)
	}()

	res = a.Execute(ctx, in)
	if res.Agent == "" {
		res.Agent = name
	}
	if verr := res.Validate(); verr != nil {
		res = agent.Failed(name, fmt.Errorf("%s: malformed result: %w", name, verr))
	}
	return res, nil
}
