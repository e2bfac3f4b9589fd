package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/behole/institutionalized/agent/structured"
	"github.com/behole/institutionalized/audit"
	"github.com/behole/institutionalized/internal/pool"
	"github.com/behole/institutionalized/llm"
	"github.com/behole/institutionalized/llm/observability"
	"github.com/behole/institutionalized/llm/retry"
)

// Run is one deliberation: a ledger plus the concurrency gate, rate limiter
// and retry policy shared by all of its calls.
type Run struct {
	engine    *Engine
	framework string
	topology  Topology
	cfg       RunConfig
	ledger    *audit.Ledger
	gate      *pool.Gate
	limiter   *rate.Limiter
	logger    *zap.Logger
	started   time.Time
}

// NewRun starts a run. cfg overrides the engine config field by field; its
// zero fields keep the engine's values. A nil cfg uses the engine config.
func (e *Engine) NewRun(framework string, input any, cfg *RunConfig) (*Run, error) {
	c := e.cfg
	if cfg != nil {
		if err := cfg.Validate(); err != nil {
			return nil, &llm.ConfigurationError{Field: "config", Reason: err.Error()}
		}
		c = c.Merge(*cfg).WithDefaults()
	}
	ledger := audit.NewLedger(framework, input,
		audit.WithClock(e.clock),
		audit.WithLogger(e.logger),
	)
	r := &Run{
		engine:    e,
		framework: framework,
		topology:  TopologyCustom,
		cfg:       c,
		ledger:    ledger,
		gate:      pool.NewGate(c.ConcurrencyCap),
		logger: e.logger.With(
			zap.String("framework", framework),
			zap.String("run_id", ledger.RunID()),
		),
		started: e.clock(),
	}
	if c.RequestsPerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(c.RequestsPerSecond), c.Burst)
	}
	return r, nil
}

// ID returns the run id.
func (r *Run) ID() string { return r.ledger.RunID() }

// Framework returns the framework name.
func (r *Run) Framework() string { return r.framework }

// Config returns the effective config.
func (r *Run) Config() RunConfig { return r.cfg }

// Ledger returns the run's audit ledger.
func (r *Run) Ledger() *audit.Ledger { return r.ledger }

// GateStats returns the concurrency gate counters.
func (r *Run) GateStats() pool.GateStats { return r.gate.Stats() }

// Finalize closes the ledger. It must be called exactly once.
func (r *Run) Finalize(result any, outcome audit.Outcome) *audit.Log {
	log := r.ledger.Finalize(result, outcome)
	r.engine.recorder.RecordRun(r.framework, string(r.topology), string(outcome),
		r.engine.clock().Sub(r.started), log.TotalCost)
	return log
}

func (r *Run) checkBudget() error {
	if r.cfg.MaxCostUSD <= 0 {
		return nil
	}
	if spent := r.ledger.TotalCostSoFar(); spent >= r.cfg.MaxCostUSD {
		return fmt.Errorf("%w: spent $%.4f of $%.4f", ErrBudgetExceeded, spent, r.cfg.MaxCostUSD)
	}
	return nil
}

func (r *Run) retryer(spec llm.AgentSpec) retry.Retryer {
	policy := *r.cfg.Retry
	hook := policy.OnRetry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		if hook != nil {
			hook(attempt, err, delay)
		}
		r.engine.recorder.RecordRetry(string(spec.Backend), errorCode(err))
		r.logger.Warn("retrying agent call",
			zap.String("agent", spec.Label),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}
	return retry.NewBackoffRetryer(&policy, r.logger)
}

func (r *Run) extractOptions() []structured.ExtractOption {
	if r.cfg.RepairJSON {
		return []structured.ExtractOption{structured.WithRepair()}
	}
	return nil
}

// Call makes one agent call with retries and returns the validated value.
// Every attempt is appended to the run's ledger. When T is string the raw
// reply text is returned without extraction; the contract still applies.
//
// Order per attempt: budget check, rate limiter, concurrency gate, deadline,
// backend call, extraction, contract, ledger append. A per-call deadline
// becomes a retryable timeout error. Only retryable backend
// errors and extraction errors are retried.
func Call[T any](ctx context.Context, r *Run, spec llm.AgentSpec, contract *structured.Contract[T]) (T, error) {
	var zero T
	if err := spec.Validate(); err != nil {
		return zero, err
	}
	backend, err := r.engine.registry.Backend(spec.Backend)
	if err != nil {
		return zero, err
	}
	return retry.DoWithResult(ctx, r.retryer(spec), func(attempt int) (T, error) {
		return callOnce(ctx, r, backend, spec, contract, attempt)
	})
}

func callOnce[T any](ctx context.Context, r *Run, backend llm.ModelBackend, spec llm.AgentSpec, contract *structured.Contract[T], attempt int) (T, error) {
	var zero T

	if err := r.checkBudget(); err != nil {
		return zero, err
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return zero, err
		}
	}
	release, err := r.gate.Acquire(ctx)
	if err != nil {
		return zero, err
	}
	r.engine.recorder.AddInFlight(1)
	defer func() {
		release()
		r.engine.recorder.AddInFlight(-1)
	}()

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = r.cfg.CallTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	attrs := observability.CallAttrs{
		Framework: r.framework,
		Agent:     spec.Label,
		Backend:   string(spec.Backend),
		Model:     spec.Model,
		Attempt:   attempt,
	}
	callCtx, span := r.engine.observer.StartCall(callCtx, attrs)

	start := r.engine.clock()
	reply, err := backend.Call(callCtx, spec)
	duration := r.engine.clock().Sub(start)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		err = &llm.BackendError{
			Code:      llm.ErrUpstreamTimeout,
			Body:      fmt.Sprintf("call exceeded %s", timeout),
			Retryable: true,
			Backend:   spec.Backend,
		}
	}

	var value T
	var text string
	var inTokens, outTokens int
	if reply != nil {
		text = reply.Text
		inTokens, outTokens = reply.InputTokens, reply.OutputTokens
	}
	if err == nil {
		value, err = decode[T](text, r.extractOptions())
		if err == nil {
			err = contract.Validate(value)
		}
	}

	status := statusOf(err)
	if err != nil && ctx.Err() != nil {
		status = audit.StatusCancelled
	}
	step := r.ledger.Append(audit.Record{
		AgentLabel:   spec.Label,
		Backend:      spec.Backend,
		Model:        spec.Model,
		Prompt:       spec.Prompt,
		Reply:        text,
		Duration:     duration,
		InputTokens:  inTokens,
		OutputTokens: outTokens,
		Attempt:      attempt,
		Status:       status,
		Err:          err,
	}, backend)

	r.engine.recorder.RecordAgentCall(string(spec.Backend), spec.Model, string(status), duration, inTokens, outTokens, step.CostUSD)
	r.engine.observer.EndCall(callCtx, span, attrs, observability.CallResult{
		Status:       string(status),
		ErrorCode:    errorCode(err),
		InputTokens:  inTokens,
		OutputTokens: outTokens,
		Cost:         step.CostUSD,
		Duration:     duration,
		Err:          err,
	})

	if err != nil {
		r.logger.Debug("agent attempt failed",
			zap.String("agent", spec.Label),
			zap.Int("attempt", attempt),
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return zero, err
	}
	r.logger.Debug("agent attempt succeeded",
		zap.String("agent", spec.Label),
		zap.Int("attempt", attempt),
		zap.Duration("duration", duration),
		zap.Float64("cost_usd", step.CostUSD),
	)
	return value, nil
}

func decode[T any](text string, opts []structured.ExtractOption) (T, error) {
	var value T
	if p, ok := any(&value).(*string); ok {
		*p = text
		return value, nil
	}
	return structured.Decode[T](text, opts...)
}
