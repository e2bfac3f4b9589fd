// Copyright 2026 Institutionalized Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package workflow runs deliberations: arrangements of LLM agent calls whose
every attempt is recorded in an audit ledger.

# Engine and runs

An Engine holds the backend registry, default RunConfig, logger, metrics
recorder and OpenTelemetry observer. Engine.NewRun starts a Run, which owns
one audit.Ledger, a concurrency gate, an optional rate limiter and the retry
policy.

# Primitives

  - Call makes one call with retries, extraction and contract validation
  - Parallel fans specs out concurrently and returns results in spec order
  - Sequential chains steps, each built from the earlier results
  - Iterate repeats parallel rounds until a ConvergenceCheck is satisfied or
    MaxRounds is reached

RunTopology wraps one of these in a complete run and always returns the
finalized audit log, also on failure.

# Convergence

DispersionCheck stops when the coefficient of variation of a numeric field
drops to a threshold. ObjectionCheck stops when no agent raises a blocking
objection. A dispersion check also attaches a RoundSummary per round to the
IterativeResult.
*/
package workflow
