package workflow

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/behole/institutionalized/agent/structured"
	"github.com/behole/institutionalized/llm"
)

// RoundFunc builds the specs of the next round. state.Round is the round
// being built (1-based); previous is nil on the first round.
type RoundFunc[T any] func(state ConvergenceState, previous []T) ([]llm.AgentSpec, error)

// IterativeResult is the outcome of Iterate.
type IterativeResult[T any] struct {
	Rounds     [][]T          `json:"rounds"`
	Final      []T            `json:"final"`
	FinalRound int            `json:"final_round"`
	Converged  bool           `json:"converged"`
	History    Statistics     `json:"history"`
	Summaries  []RoundSummary `json:"summaries,omitempty"`
}

// Iterate runs rounds of parallel calls until check converges or the run's
// MaxRounds is reached. At least one round always runs. Reaching MaxRounds
// without convergence is not an error.
func Iterate[T any](ctx context.Context, r *Run, round RoundFunc[T], contract *structured.Contract[T], check ConvergenceCheck[T]) (*IterativeResult[T], error) {
	if round == nil {
		return nil, &llm.ConfigurationError{Field: "round", Reason: "must not be nil"}
	}
	if check.Statistic == nil || check.Converged == nil {
		return nil, &llm.ConfigurationError{Field: "check", Reason: "statistic and converged must be set"}
	}

	maxRounds := r.cfg.MaxRounds
	state := ConvergenceState{}
	res := &IterativeResult[T]{}
	var previous []T

	for state.Round < maxRounds {
		state.Round++
		view := ConvergenceState{Round: state.Round, History: append([]float64(nil), state.History...)}

		specs, err := round(view, previous)
		if err != nil {
			return nil, fmt.Errorf("round %d build failed: %w", state.Round, err)
		}
		if len(specs) == 0 {
			return nil, fmt.Errorf("round %d: %w", state.Round, ErrEmptyRound)
		}

		results, err := Parallel(ctx, r, specs, contract)
		if err != nil {
			return nil, fmt.Errorf("round %d failed: %w", state.Round, err)
		}

		stat := check.Statistic(results)
		if math.IsInf(stat, 0) || math.IsNaN(stat) {
			r.logger.Warn("convergence statistic undefined, treating round as not converged",
				zap.String("check", check.Name),
				zap.Int("round", state.Round),
			)
			stat = math.Inf(1)
		}
		state.History = append(state.History, stat)
		converged := check.Converged(stat)

		r.engine.recorder.RecordRound(r.framework, state.Round, stat, converged)
		r.engine.observer.RecordRound(ctx, r.framework, state.Round, stat, converged)
		r.logger.Info("round complete",
			zap.Int("round", state.Round),
			zap.String("check", check.Name),
			zap.Float64("statistic", stat),
			zap.Bool("converged", converged),
		)

		if check.Values != nil {
			res.Summaries = append(res.Summaries, Summarize(check.Values(results)))
		}
		res.Rounds = append(res.Rounds, results)
		previous = results
		if converged {
			res.Converged = true
			break
		}
	}

	res.Final = previous
	res.FinalRound = state.Round
	res.History = Statistics(state.History)
	return res, nil
}
