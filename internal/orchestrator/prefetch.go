package orchestrator

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/mathmentor/internal/agent"
	"github.com/ashita-ai/mathmentor/internal/model"
)

// Retrieval is the payload recorded for the retrieve stage.
type Retrieval struct {
	Documents []model.Document        `json:"documents"`
	Similar   []model.SimilarSolution `json:"similar_solutions"`
}

// prefetch runs the router and retrieval, concurrently when configured, and
// records router before retrieve either way.
func (o *Orchestrator) prefetch(ctx context.Context, r *model.RunState) error {
	if !o.cfg.ParallelPrefetch {
		res, err := o.step(ctx, r, o.stages.Router)
		if err != nil {
			return err
		}
		if err := o.applyRouting(r, res); err != nil {
			return err
		}
		ret, rerr := o.retrieve(ctx, r.ProblemText)
		return o.applyRetrieval(ctx, r, ret, rerr)
	}

	in := stageInput(r)
	var (
		routed    model.AgentResult
		retrieved Retrieval
		rerr      error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		routed, err = o.execute(gctx, r.ID.String(), o.stages.Router, in)
		return err
	})
	g.Go(func() error {
		// Retrieval errors are recorded on the run, not used to cancel the router.
		retrieved, rerr = o.retrieve(gctx, r.ProblemText)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if err := r.Record(o.stages.Router.Name(), routed); err != nil {
		return err
	}
	if err := o.applyRouting(r, routed); err != nil {
		return err
	}
	return o.applyRetrieval(ctx, r, retrieved, rerr)
}

// applyRouting stores the router output, falling back to the default
// routing when the router failed.
func (o *Orchestrator) applyRouting(r *model.RunState, res model.AgentResult) error {
	rt, err := payload[model.Routing](res)
	if err != nil {
		o.logger.Warn("orchestrator: router failed, using default routing", "run_id", r.ID, "error", err)
		rt = agent.RouterDefault(r.ProblemText)
		if r.ParsedProblem != nil && model.SupportedTopic(r.ParsedProblem.Topic) {
			rt.Topic = r.ParsedProblem.Topic
		}
	}
	return r.SetRouting(rt)
}

func (o *Orchestrator) applyRetrieval(ctx context.Context, r *model.RunState, ret Retrieval, rerr error) error {
	if rerr != nil {
		if err := r.Record(model.StageRetrieve, agent.Failed(model.StageRetrieve, rerr)); err != nil {
			return err
		}
		return rerr
	}
	if err := r.SetRetrievedDocuments(ret.Documents); err != nil {
		return err
	}
	if err := r.SetSimilarSolutions(ret.Similar); err != nil {
		return err
	}
	top := 0.0
	if len(ret.Documents) > 0 {
		top = ret.Documents[0].Relevance
	}
	if err := r.Record(model.StageRetrieve, agent.Succeeded(model.StageRetrieve, ret, top)); err != nil {
		return err
	}
	return ctx.Err()
}

// retrieve queries the knowledge base and the outcome memory. Either being
// unreachable fails the run; an empty result is fine.
func (o *Orchestrator) retrieve(ctx context.Context, query string) (Retrieval, error) {
	var out Retrieval
	if err := ctx.Err(); err != nil {
		return out, fmt.Errorf("orchestrator: retrieve not started: %w", err)
	}
	ctx, span := o.tracer.Start(ctx, "stage."+model.StageRetrieve)
	defer span.End()

	if o.knowledge != nil {
		docs, err := o.knowledge.Search(ctx, query, o.cfg.RetrievalK)
		if err != nil {
			return out, fmt.Errorf("orchestrator: knowledge search: %w", err)
		}
		out.Documents = docs
	}
	if o.memory != nil {
		sims, err := o.memory.FindSimilar(ctx, query, o.cfg.MemoryK)
		if err != nil {
			return out, fmt.Errorf("orchestrator: memory search: %w", err)
		}
		out.Similar = sims
	}
	if out.Documents == nil {
		out.Documents = []model.Document{}
	}
	if out.Similar == nil {
		out.Similar = []model.SimilarSolution{}
	}
	return out, nil
}
