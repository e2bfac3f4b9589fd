package workflow

import (
	"context"
	"fmt"

	"github.com/behole/institutionalized/agent/structured"
	"github.com/behole/institutionalized/llm"
)

// Step is one link of a sequential chain. Build receives the results of every
// earlier step and returns this step's spec.
type Step[T any] struct {
	Name  string
	Build func(prev []T) (llm.AgentSpec, error)
	// Contract overrides the chain contract when set.
	Contract *structured.Contract[T]
}

// FixedStep returns a step whose spec ignores earlier results.
func FixedStep[T any](spec llm.AgentSpec) Step[T] {
	return Step[T]{
		Name:  spec.Label,
		Build: func([]T) (llm.AgentSpec, error) { return spec, nil },
	}
}

// Sequential runs steps in order; each step sees all earlier results. An
// empty chain returns *EmptyChainError and a single step behaves like Call.
func Sequential[T any](ctx context.Context, r *Run, steps []Step[T], contract *structured.Contract[T]) ([]T, error) {
	if len(steps) == 0 {
		return nil, &EmptyChainError{Framework: r.framework}
	}

	results := make([]T, 0, len(steps))
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if step.Build == nil {
			return nil, &llm.ConfigurationError{Field: fmt.Sprintf("steps[%d].build", i), Reason: "must not be nil"}
		}

		prev := append([]T(nil), results...)
		spec, err := step.Build(prev)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s) build failed: %w", i+1, step.Name, err)
		}

		c := contract
		if step.Contract != nil {
			c = step.Contract
		}
		v, err := Call(ctx, r, spec, c)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s) failed: %w", i+1, stepName(step, spec), err)
		}
		results = append(results, v)
	}
	return results, nil
}

func stepName[T any](step Step[T], spec llm.AgentSpec) string {
	if step.Name != "" {
		return step.Name
	}
	return spec.Label
}
