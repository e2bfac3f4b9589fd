package workflow

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/behole/institutionalized/agent/structured"
	"github.com/behole/institutionalized/llm"
)

// Parallel calls every spec concurrently and returns results in spec order.
// All specs are checked before any call is made. One failure fails the whole
// group with no partial results: it cancels the group context, so calls not
// yet started are skipped while in-flight attempts still land in the ledger.
func Parallel[T any](ctx context.Context, r *Run, specs []llm.AgentSpec, contract *structured.Contract[T]) ([]T, error) {
	// Fail on bad config before anything reaches a backend.
	for i, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("agent %d (%s): %w", i+1, spec.Label, err)
		}
		if _, err := r.engine.registry.Backend(spec.Backend); err != nil {
			return nil, fmt.Errorf("agent %d (%s): %w", i+1, spec.Label, err)
		}
	}

	results := make([]T, len(specs))
	g, gctx := errgroup.WithContext(ctx)

	for i, spec := range specs {
		g.Go(func() error {
			v, err := Call(gctx, r, spec, contract)
			if err != nil {
				return fmt.Errorf("agent %d (%s) failed: %w", i+1, spec.Label, err)
			}
			// Each goroutine writes only its own index.
			results[i] = v
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
