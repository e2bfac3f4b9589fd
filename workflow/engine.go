package workflow

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/behole/institutionalized/llm"
	"github.com/behole/institutionalized/llm/observability"
)

// Recorder receives engine events for metrics. internal/metrics.Collector
// implements it.
type Recorder interface {
	RecordAgentCall(backend, model, status string, duration time.Duration, inputTokens, outputTokens int, costUSD float64)
	RecordRetry(backend, reason string)
	// AddInFlight adjusts the number of calls holding a concurrency slot.
	AddInFlight(delta int)
	RecordRound(framework string, round int, statistic float64, converged bool)
	RecordRun(framework, topology, outcome string, duration time.Duration, costUSD float64)
}

type nopRecorder struct{}

func (nopRecorder) RecordAgentCall(string, string, string, time.Duration, int, int, float64) {}
func (nopRecorder) RecordRetry(string, string)                                            {}
func (nopRecorder) AddInFlight(int)                                                       {}
func (nopRecorder) RecordRound(string, int, float64, bool)                                {}
func (nopRecorder) RecordRun(string, string, string, time.Duration, float64)              {}

// Engine drives agent calls against a backend registry. It is safe to share
// across runs.
type Engine struct {
	registry *llm.Registry
	cfg      RunConfig
	logger   *zap.Logger
	recorder Recorder
	observer *observability.Observer
	clock    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithObserver sets the OpenTelemetry observer.
func WithObserver(o *observability.Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithClock replaces time.Now for durations and audit timestamps.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// NewEngine creates an engine. cfg supplies the defaults of every run.
func NewEngine(registry *llm.Registry, cfg RunConfig, opts ...Option) (*Engine, error) {
	if registry == nil {
		return nil, &llm.ConfigurationError{Field: "registry", Reason: "must not be nil"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run config: %w", err)
	}
	e := &Engine{
		registry: registry,
		cfg:      cfg.WithDefaults(),
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "workflow_engine"))
	return e, nil
}

// Registry returns the backend registry.
func (e *Engine) Registry() *llm.Registry { return e.registry }

// Config returns the engine's default run config.
func (e *Engine) Config() RunConfig { return e.cfg }
