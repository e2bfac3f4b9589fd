package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Ledger accumulates the steps of a single run. It is safe for concurrent
// use; steps are ordered by completion.
type Ledger struct {
	mu sync.Mutex

	runID     string
	framework string
	input     any
	start     time.Time
	clock     func() time.Time
	logger    *zap.Logger

	steps     []Step
	totalCost float64
	inTokens  int
	outTokens int
	last      time.Time
	finalized bool
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) Option {
	return func(l *Ledger) {
		if id != "" {
			l.runID = id
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLedger starts a run. The start time is taken from the clock.
func NewLedger(framework string, input any, opts ...Option) *Ledger {
	l := &Ledger{
		framework: framework,
		input:     input,
		clock:     time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.runID == "" {
		l.runID = uuid.New().String()
	}
	l.logger = l.logger.With(zap.String("component", "audit_ledger"), zap.String("run_id", l.runID))
	l.start = l.clock().UTC()
	l.last = l.start
	return l
}

// RunID returns the run identifier.
func (l *Ledger) RunID() string { return l.runID }

// Framework returns the framework name the run was started with.
func (l *Ledger) Framework() string { return l.framework }

// StartedAt returns the run start time in UTC.
func (l *Ledger) StartedAt() time.Time { return l.start }

// Append records an attempt. Cost is computed with est; a nil estimator
// records zero cost.
func (l *Ledger) Append(rec Record, est CostEstimator) Step {
	var cost float64
	if est != nil {
		cost = est.EstimateCost(rec.InputTokens, rec.OutputTokens, rec.Model)
	}
	status := rec.Status
	if status == "" {
		status = StatusOK
		if rec.Err != nil {
			status = StatusError
		}
	}
	step := Step{
		AgentLabel:   rec.AgentLabel,
		BackendID:    rec.Backend,
		Model:        rec.Model,
		PromptDigest: Digest(rec.Prompt),
		ReplyDigest:  Digest(rec.Reply),
		Prompt:       rec.Prompt,
		Reply:        rec.Reply,
		DurationMs:   rec.Duration.Milliseconds(),
		Tokens:       TokenUsage{Input: rec.InputTokens, Output: rec.OutputTokens},
		CostUSD:      cost,
		Attempt:      rec.Attempt,
		Status:       status,
	}
	if rec.Err != nil {
		step.Error = rec.Err.Error()
	}

	l.mu.Lock()
	ts := l.clock().UTC()
	if ts.Before(l.last) {
		ts = l.last
	}
	l.last = ts
	step.TimestampUTC = ts
	step.Seq = len(l.steps) + 1
	l.steps = append(l.steps, step)
	l.totalCost += cost
	l.inTokens += rec.InputTokens
	l.outTokens += rec.OutputTokens
	finalized := l.finalized
	l.mu.Unlock()

	if finalized {
		l.logger.Warn("step appended after finalize", zap.String("agent", rec.AgentLabel))
	}
	l.logger.Debug("step recorded",
		zap.Int("seq", step.Seq),
		zap.String("agent", step.AgentLabel),
		zap.String("status", string(step.Status)),
		zap.Float64("cost_usd", step.CostUSD),
	)
	return step
}

// TotalCostSoFar returns the sum of step costs.
func (l *Ledger) TotalCostSoFar() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalCost
}

// TotalTokensSoFar returns the summed input and output tokens.
func (l *Ledger) TotalTokensSoFar() (in, out int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inTokens, l.outTokens
}

// Steps returns a copy of the recorded steps.
func (l *Ledger) Steps() []Step {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Step(nil), l.steps...)
}

// Len returns the number of recorded steps.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.steps)
}

// Finalized reports whether Finalize has been called.
func (l *Ledger) Finalized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.finalized
}

// Finalize closes the ledger and returns the run's log. It must be called
// exactly once; a second call panics.
func (l *Ledger) Finalize(result any, outcome Outcome) *Log {
	l.mu.Lock()
	if l.finalized {
		l.mu.Unlock()
		panic("audit: ledger " + l.runID + " finalized twice")
	}
	l.finalized = true
	log := l.snapshotLocked(result, outcome)
	l.mu.Unlock()

	l.logger.Info("run finalized",
		zap.String("outcome", string(outcome)),
		zap.Int("steps", len(log.Steps)),
		zap.Float64("total_cost_usd", log.TotalCost),
		zap.Int64("duration_ms", log.TotalDurationMs),
	)
	return log
}

// Snapshot returns the log as it stands without finalizing, with outcome
// "incomplete". Useful for saving progress of a run that is still going.
func (l *Ledger) Snapshot() *Log {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked(nil, OutcomeIncomplete)
}

func (l *Ledger) snapshotLocked(result any, outcome Outcome) *Log {
	end := l.clock().UTC()
	if end.Before(l.last) {
		end = l.last
	}
	return &Log{
		RunID:           l.runID,
		Framework:       l.framework,
		Timestamp:       l.start,
		Input:           l.input,
		Steps:           append([]Step(nil), l.steps...),
		Result:          result,
		TotalCost:       l.totalCost,
		TotalDurationMs: end.Sub(l.start).Milliseconds(),
		Outcome:         outcome,
	}
}
