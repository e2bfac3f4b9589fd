package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/behole/institutionalized/agent/structured"
	"github.com/behole/institutionalized/audit"
	"github.com/behole/institutionalized/llm"
)

// Topology names how a run's agent calls are arranged.
type Topology string

const (
	TopologyParallel   Topology = "parallel"
	TopologySequential Topology = "sequential"
	TopologyIterative  Topology = "iterative"
	// TopologyCustom runs a caller supplied function that composes the
	// primitives itself.
	TopologyCustom Topology = "custom"
)

// ParseTopology parses a topology name.
func ParseTopology(s string) (Topology, error) {
	switch t := Topology(s); t {
	case TopologyParallel, TopologySequential, TopologyIterative, TopologyCustom:
		return t, nil
	}
	return "", &llm.ConfigurationError{Field: "topology", Reason: fmt.Sprintf("unknown topology %q", s)}
}

// CustomFunc runs an arbitrary composition of Call, Parallel, Sequential and
// Iterate against r.
type CustomFunc[T any] func(ctx context.Context, r *Run) ([]T, error)

// Request is everything RunTopology needs. Only the fields of the chosen
// topology are read.
type Request[T any] struct {
	Framework string
	Input     any
	Topology  Topology

	// Specs for TopologyParallel.
	Specs []llm.AgentSpec
	// Steps for TopologySequential.
	Steps []Step[T]
	// Round and Check for TopologyIterative.
	Round RoundFunc[T]
	Check ConvergenceCheck[T]
	// Custom for TopologyCustom.
	Custom CustomFunc[T]

	Contract *structured.Contract[T]
	// Config overrides the engine defaults for this run.
	Config *RunConfig
	// Reduce turns the final results into the value stored as the log's
	// result. When nil the results themselves are stored.
	Reduce func(results []T) any
}

// Result is a successful run.
type Result[T any] struct {
	RunID        string              `json:"run_id"`
	Topology     Topology            `json:"topology"`
	Results      []T                 `json:"results"`
	Iterative    *IterativeResult[T] `json:"iterative,omitempty"`
	Outcome      audit.Outcome       `json:"outcome"`
	TotalCostUSD float64             `json:"total_cost_usd"`
}

// RunTopology executes req on a fresh run and finalizes its ledger exactly
// once. The audit log is returned even when the run fails; the result is nil
// in that case. An invalid req.Config fails before the run starts and
// returns no log.
func RunTopology[T any](ctx context.Context, e *Engine, req Request[T]) (*Result[T], *audit.Log, error) {
	r, err := e.NewRun(req.Framework, req.Input, req.Config)
	if err != nil {
		return nil, nil, err
	}
	r.topology = req.Topology

	ctx, span := e.observer.StartRun(ctx, req.Framework, string(req.Topology), r.ID())
	r.logger.Info("run started", zap.String("topology", string(req.Topology)))

	res, err := dispatch(ctx, r, req)
	if err != nil {
		log := r.Finalize(map[string]string{"error": err.Error()}, audit.OutcomeFailed)
		e.observer.EndRun(ctx, span, req.Framework, string(audit.OutcomeFailed), log.TotalCost, err)
		r.logger.Error("run failed",
			zap.Int("steps", len(log.Steps)),
			zap.Float64("total_cost_usd", log.TotalCost),
			zap.Error(err),
		)
		return nil, log, err
	}

	var stored any = res.Results
	if req.Reduce != nil {
		stored = req.Reduce(res.Results)
	}
	log := r.Finalize(stored, res.Outcome)
	res.RunID = r.ID()
	res.TotalCostUSD = log.TotalCost
	e.observer.EndRun(ctx, span, req.Framework, string(res.Outcome), log.TotalCost, nil)
	r.logger.Info("run finished",
		zap.String("outcome", string(res.Outcome)),
		zap.Int("steps", len(log.Steps)),
		zap.Float64("total_cost_usd", log.TotalCost),
	)
	return res, log, nil
}

func dispatch[T any](ctx context.Context, r *Run, req Request[T]) (*Result[T], error) {
	res := &Result[T]{Topology: req.Topology, Outcome: audit.OutcomeCompleted}
	var err error

	switch req.Topology {
	case TopologyParallel:
		res.Results, err = Parallel(ctx, r, req.Specs, req.Contract)
	case TopologySequential:
		res.Results, err = Sequential(ctx, r, req.Steps, req.Contract)
	case TopologyIterative:
		var it *IterativeResult[T]
		it, err = Iterate(ctx, r, req.Round, req.Contract, req.Check)
		if err == nil {
			res.Iterative = it
			res.Results = it.Final
			res.Outcome = audit.OutcomeMaxRounds
			if it.Converged {
				res.Outcome = audit.OutcomeConverged
			}
		}
	case TopologyCustom:
		if req.Custom == nil {
			return nil, &llm.ConfigurationError{Field: "custom", Reason: "must not be nil"}
		}
		res.Results, err = req.Custom(ctx, r)
	default:
		return nil, &llm.ConfigurationError{Field: "topology", Reason: fmt.Sprintf("unknown topology %q", req.Topology)}
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}
