package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/behole/institutionalized/agent/structured"
	"github.com/behole/institutionalized/audit"
	"github.com/behole/institutionalized/llm"
	"github.com/behole/institutionalized/llm/retry"
	"github.com/behole/institutionalized/testutil"
	"github.com/behole/institutionalized/testutil/mocks"
)

const mockID llm.BackendID = "mock"

type verdict struct {
	Score  float64 `json:"score"`
	Reason string  `json:"reason,omitempty"`
}

type objection struct {
	Blocking int `json:"blocking"`
}

func fastRetry(maxRetries int) *retry.RetryPolicy {
	return &retry.RetryPolicy{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	}
}

func newTestEngine(t *testing.T, cfg RunConfig, backends ...llm.ModelBackend) *Engine {
	t.Helper()
	if cfg.Retry == nil {
		cfg.Retry = fastRetry(2)
	}
	e, err := NewEngine(llm.NewRegistry(backends...), cfg)
	require.NoError(t, err)
	return e
}

func spec(label string) llm.AgentSpec {
	return llm.NewAgentSpec(label, mockID, "mock-model", "assess: "+label)
}

func scoreJSON(score float64) string {
	return testutil.FencedJSON(verdict{Score: score})
}

func mustRun(t *testing.T, e *Engine, framework string, cfg *RunConfig) *Run {
	t.Helper()
	r, err := e.NewRun(framework, nil, cfg)
	require.NoError(t, err)
	return r
}

func TestNewEngine_RejectsNilRegistry(t *testing.T) {
	_, err := NewEngine(nil, DefaultRunConfig())
	var ce *llm.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "registry", ce.Field)
}

func TestNewEngine_RejectsNegativeConfig(t *testing.T) {
	_, err := NewEngine(llm.NewRegistry(), RunConfig{MaxRounds: -1})
	require.Error(t, err)
}

func TestCall_ExtractsFencedJSON(t *testing.T) {
	backend := mocks.NewMockBackend(mockID).WithText(scoreJSON(7))
	e := newTestEngine(t, RunConfig{}, backend)
	r := mustRun(t, e, "test", nil)

	v, err := Call[verdict](testutil.TestContext(t), r, spec("judge"), nil)
	require.NoError(t, err)
	assert.Equal(t, 7.0, v.Score)

	steps := r.Ledger().Steps()
	require.Len(t, steps, 1)
	assert.Equal(t, audit.StatusOK, steps[0].Status)
	assert.Equal(t, 1, steps[0].Attempt)
	assert.Equal(t, "judge", steps[0].AgentLabel)
}

func TestCall_StringReturnsRawText(t *testing.T) {
	backend := mocks.NewMockBackend(mockID).WithText("plain prose, no JSON at all")
	e := newTestEngine(t, RunConfig{}, backend)
	r := mustRun(t, e, "test", nil)

	v, err := Call[string](testutil.TestContext(t), r, spec("writer"), nil)
	require.NoError(t, err)
	assert.Equal(t, "plain prose, no JSON at all", v)
}

func TestCall_RetriesExtractionError(t *testing.T) {
	backend := mocks.NewMockBackend(mockID).WithText("I refuse to answer in JSON", scoreJSON(3))
	e := newTestEngine(t, RunConfig{}, backend)
	r := mustRun(t, e, "test", nil)

	v, err := Call[verdict](testutil.TestContext(t), r, spec("judge"), nil)
	require.NoError(t, err)
	assert.Equal(t, 3.0, v.Score)
	assert.Equal(t, 2, backend.CallCount())

	steps := r.Ledger().Steps()
	require.Len(t, steps, 2)
	assert.Equal(t, audit.StatusExtractionError, steps[0].Status)
	assert.NotEmpty(t, steps[0].Error)
	assert.Equal(t, audit.StatusOK, steps[1].Status)
	assert.Equal(t, 2, steps[1].Attempt)
}

func TestCall_ValidationErrorIsNotRetried(t *testing.T) {
	backend := mocks.NewMockBackend(mockID).WithText(scoreJSON(50), scoreJSON(5))
	e := newTestEngine(t, RunConfig{}, backend)
	r := mustRun(t, e, "test", nil)
	contract := structured.NewContract(
		structured.InRange("score", 0, 10, func(v verdict) float64 { return v.Score }),
	)

	_, err := Call(testutil.TestContext(t), r, spec("judge"), contract)
	var ve *structured.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "range:score", ve.Rule)
	assert.Equal(t, 1, backend.CallCount())
	assert.Equal(t, audit.StatusValidationError, r.Ledger().Steps()[0].Status)
}

func TestCall_BackendErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCalls int
	}{
		{name: "retryable exhausts policy", err: mocks.RetryableError(mockID), wantCalls: 3},
		{name: "unauthorized fails fast", err: mocks.FatalError(mockID), wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := mocks.NewMockBackend(mockID).WithError(tt.err)
			e := newTestEngine(t, RunConfig{}, backend)
			r := mustRun(t, e, "test", nil)

			_, err := Call[verdict](testutil.TestContext(t), r, spec("judge"), nil)
			var be *llm.BackendError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, tt.wantCalls, backend.CallCount())
			assert.Equal(t, tt.wantCalls, r.Ledger().Len())
			for _, s := range r.Ledger().Steps() {
				assert.Equal(t, audit.StatusBackendError, s.Status)
			}
		})
	}
}

func TestCall_UnknownBackendFailsBeforeNetwork(t *testing.T) {
	e := newTestEngine(t, RunConfig{})
	r := mustRun(t, e, "test", nil)

	_, err := Call[verdict](testutil.TestContext(t), r, spec("judge"), nil)
	var ce *llm.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Zero(t, r.Ledger().Len())
}

func TestCall_BudgetExceeded(t *testing.T) {
	// 10 input tokens at $1M per million tokens costs $10 per call.
	backend := mocks.NewMockBackend(mockID).WithPricing(1_000_000, 0).WithDefault(mocks.Reply{Text: scoreJSON(1), InputTokens: 10})
	e := newTestEngine(t, RunConfig{}, backend)
	r := mustRun(t, e, "test", &RunConfig{MaxCostUSD: 5, Retry: fastRetry(2)})
	ctx := testutil.TestContext(t)

	_, err := Call[verdict](ctx, r, spec("first"), nil)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, r.Ledger().TotalCostSoFar(), 1e-9)

	_, err = Call[verdict](ctx, r, spec("second"), nil)
	require.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Equal(t, 1, backend.CallCount())
}

func TestNewRun_OverrideKeepsEngineLimits(t *testing.T) {
	e := newTestEngine(t, RunConfig{ConcurrencyCap: 2, MaxCostUSD: 0.5, CallTimeout: time.Second})
	r := mustRun(t, e, "test", &RunConfig{MaxRounds: 3})

	c := r.Config()
	assert.Equal(t, 2, c.ConcurrencyCap)
	assert.Equal(t, 0.5, c.MaxCostUSD)
	assert.Equal(t, time.Second, c.CallTimeout)
	assert.Equal(t, 3, c.MaxRounds)
	require.NotNil(t, c.Retry)
	assert.Equal(t, 2, c.Retry.MaxRetries)
}

func TestNewRun_RejectsNegativeOverride(t *testing.T) {
	e := newTestEngine(t, RunConfig{})
	r, err := e.NewRun("test", nil, &RunConfig{ConcurrencyCap: -1})
	var ce *llm.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Nil(t, r)
}

func TestRunTopology_InvalidConfigFailsBeforeRun(t *testing.T) {
	backend := mocks.NewMockBackend(mockID)
	e := newTestEngine(t, RunConfig{}, backend)

	res, log, err := RunTopology(testutil.TestContext(t), e, Request[verdict]{
		Framework: "court",
		Topology:  TopologyParallel,
		Specs:     []llm.AgentSpec{spec("juror")},
		Config:    &RunConfig{MaxCostUSD: -1},
	})
	var ce *llm.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Nil(t, res)
	assert.Nil(t, log)
	assert.Zero(t, backend.CallCount())
}

func TestCall_CallerRetryHookIsChained(t *testing.T) {
	backend := mocks.NewMockBackend(mockID).WithReplies(
		mocks.Reply{Err: mocks.RetryableError(mockID)},
		mocks.Reply{Err: mocks.RetryableError(mockID)},
		mocks.Reply{Text: scoreJSON(2)},
	)
	var hooked atomic.Int32
	policy := fastRetry(3)
	policy.OnRetry = func(int, error, time.Duration) { hooked.Add(1) }
	e := newTestEngine(t, RunConfig{}, backend)
	r := mustRun(t, e, "test", &RunConfig{Retry: policy})

	v, err := Call[verdict](testutil.TestContext(t), r, spec("judge"), nil)
	require.NoError(t, err)
	assert.Equal(t, 2.0, v.Score)
	assert.Equal(t, int32(2), hooked.Load())
	assert.Equal(t, 3, backend.CallCount())
}

func TestCall_DeadlineIsRecordedAndRetried(t *testing.T) {
	tests := []struct {
		name      string
		engineCfg RunConfig
		perCall   time.Duration
	}{
		{name: "run call timeout", engineCfg: RunConfig{CallTimeout: 20 * time.Millisecond}},
		{name: "agent spec timeout", engineCfg: RunConfig{CallTimeout: time.Minute}, perCall: 20 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			backend := mocks.NewMockBackend(mockID).WithRespondFunc(func(ctx context.Context, s llm.AgentSpec) (*llm.RawReply, error) {
				if calls.Add(1) == 1 {
					<-ctx.Done()
					return nil, ctx.Err()
				}
				return &llm.RawReply{Text: scoreJSON(6)}, nil
			})
			e := newTestEngine(t, tt.engineCfg, backend)
			r := mustRun(t, e, "test", nil)

			s := spec("judge")
			s.Timeout = tt.perCall
			v, err := Call[verdict](testutil.TestContext(t), r, s, nil)
			require.NoError(t, err)
			assert.Equal(t, 6.0, v.Score)
			assert.Equal(t, int32(2), calls.Load())

			steps := r.Ledger().Steps()
			require.Len(t, steps, 2)
			assert.Equal(t, audit.StatusBackendError, steps[0].Status)
			assert.Contains(t, steps[0].Error, string(llm.ErrUpstreamTimeout))
			assert.Equal(t, audit.StatusOK, steps[1].Status)
			assert.Greater(t, steps[1].Attempt, steps[0].Attempt)
		})
	}
}

func TestCall_RateLimiterSpacesCalls(t *testing.T) {
	backend := mocks.NewMockBackend(mockID).WithDefault(mocks.Reply{Text: scoreJSON(1)})
	e := newTestEngine(t, RunConfig{RequestsPerSecond: 20, Burst: 1}, backend)
	r := mustRun(t, e, "test", nil)
	ctx := testutil.TestContext(t)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := Call[verdict](ctx, r, spec(fmt.Sprintf("agent-%d", i)), nil)
		require.NoError(t, err)
	}
	// Burst 1 at 20/s: the second and third calls each wait about 50ms.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.Equal(t, 3, backend.CallCount())
}

func TestCall_RepairJSON(t *testing.T) {
	const trailingComma = `{"score": 4,}`

	t.Run("enabled accepts trailing comma", func(t *testing.T) {
		backend := mocks.NewMockBackend(mockID).WithDefault(mocks.Reply{Text: trailingComma})
		e := newTestEngine(t, RunConfig{RepairJSON: true}, backend)
		r := mustRun(t, e, "test", nil)

		v, err := Call[verdict](testutil.TestContext(t), r, spec("judge"), nil)
		require.NoError(t, err)
		assert.Equal(t, 4.0, v.Score)
		assert.Equal(t, 1, backend.CallCount())
	})

	t.Run("disabled retries and fails", func(t *testing.T) {
		backend := mocks.NewMockBackend(mockID).WithDefault(mocks.Reply{Text: trailingComma})
		e := newTestEngine(t, RunConfig{}, backend)
		r := mustRun(t, e, "test", nil)

		_, err := Call[verdict](testutil.TestContext(t), r, spec("judge"), nil)
		var ee *structured.ExtractionError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, 3, backend.CallCount())
	})
}

func TestParallel_PreservesSpecOrder(t *testing.T) {
	delays := map[string]time.Duration{"a": 60 * time.Millisecond, "b": 30 * time.Millisecond, "c": 0}
	scores := map[string]float64{"a": 1, "b": 2, "c": 3}
	backend := mocks.NewMockBackend(mockID).WithRespondFunc(func(ctx context.Context, s llm.AgentSpec) (*llm.RawReply, error) {
		time.Sleep(delays[s.Label])
		return &llm.RawReply{Text: scoreJSON(scores[s.Label]), InputTokens: 5, OutputTokens: 5}, nil
	})
	e := newTestEngine(t, RunConfig{}, backend)
	r := mustRun(t, e, "test", nil)

	got, err := Parallel[verdict](testutil.TestContext(t), r, []llm.AgentSpec{spec("a"), spec("b"), spec("c")}, nil)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []float64{1, 2, 3}, []float64{got[0].Score, got[1].Score, got[2].Score})

	// The ledger is in completion order, fastest first.
	steps := r.Ledger().Steps()
	require.Len(t, steps, 3)
	assert.Equal(t, "c", steps[0].AgentLabel)
	assert.Equal(t, "a", steps[2].AgentLabel)
}

func TestParallel_InvalidSpecFailsBeforeAnyCall(t *testing.T) {
	backend := mocks.NewMockBackend(mockID)
	e := newTestEngine(t, RunConfig{}, backend)
	r := mustRun(t, e, "test", nil)

	bad := spec("b")
	bad.Prompt = ""
	_, err := Parallel[verdict](testutil.TestContext(t), r, []llm.AgentSpec{spec("a"), bad}, nil)
	var ce *llm.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "prompt", ce.Field)
	assert.Zero(t, backend.CallCount())
}

func TestParallel_FailureCancelsSiblings(t *testing.T) {
	backend := mocks.NewMockBackend(mockID).WithRespondFunc(func(ctx context.Context, s llm.AgentSpec) (*llm.RawReply, error) {
		if s.Label == "bad" {
			return nil, mocks.FatalError(mockID)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return &llm.RawReply{Text: scoreJSON(1)}, nil
		}
	})
	e := newTestEngine(t, RunConfig{}, backend)
	r := mustRun(t, e, "test", nil)

	start := time.Now()
	got, err := Parallel[verdict](testutil.TestContext(t), r, []llm.AgentSpec{spec("slow1"), spec("bad"), spec("slow2")}, nil)
	require.Error(t, err)
	assert.Nil(t, got)
	assert.Less(t, time.Since(start), 2*time.Second)

	var be *llm.BackendError
	require.ErrorAs(t, err, &be)

	backendErrors := 0
	for _, s := range r.Ledger().Steps() {
		switch s.Status {
		case audit.StatusBackendError:
			backendErrors++
		case audit.StatusCancelled:
		default:
			t.Errorf("unexpected status %q for %s", s.Status, s.AgentLabel)
		}
	}
	assert.Equal(t, 1, backendErrors)
}

func TestParallel_RespectsConcurrencyCap(t *testing.T) {
	var mu sync.Mutex
	inFlight, peak := 0, 0
	backend := mocks.NewMockBackend(mockID).WithRespondFunc(func(ctx context.Context, s llm.AgentSpec) (*llm.RawReply, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return &llm.RawReply{Text: scoreJSON(1)}, nil
	})
	e := newTestEngine(t, RunConfig{ConcurrencyCap: 2}, backend)
	r := mustRun(t, e, "test", nil)

	specs := make([]llm.AgentSpec, 6)
	for i := range specs {
		specs[i] = spec(fmt.Sprintf("agent-%d", i))
	}
	_, err := Parallel[verdict](testutil.TestContext(t), r, specs, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak, 2)
	assert.LessOrEqual(t, r.GateStats().Peak, int64(2))
}

func TestSequential_SingleStepEqualsCall(t *testing.T) {
	backend := mocks.NewMockBackend(mockID).WithText(scoreJSON(4), scoreJSON(4))
	e := newTestEngine(t, RunConfig{}, backend)
	ctx := testutil.TestContext(t)

	direct, err := Call[verdict](ctx, mustRun(t, e, "test", nil), spec("solo"), nil)
	require.NoError(t, err)

	r := mustRun(t, e, "test", nil)
	chained, err := Sequential(ctx, r, []Step[verdict]{FixedStep[verdict](spec("solo"))}, nil)
	require.NoError(t, err)
	require.Len(t, chained, 1)
	assert.Equal(t, direct, chained[0])
	assert.Equal(t, 1, r.Ledger().Len())
}

func TestSequential_StepsSeeEarlierResults(t *testing.T) {
	backend := mocks.NewMockBackend(mockID).WithText(scoreJSON(2), scoreJSON(9))
	e := newTestEngine(t, RunConfig{}, backend)
	r := mustRun(t, e, "test", nil)

	steps := []Step[verdict]{
		FixedStep[verdict](spec("draft")),
		{
			Name: "review",
			Build: func(prev []verdict) (llm.AgentSpec, error) {
				require.Len(t, prev, 1)
				s := spec("review")
				s.Prompt = fmt.Sprintf("review the draft scored %.0f", prev[0].Score)
				return s, nil
			},
		},
	}
	got, err := Sequential(testutil.TestContext(t), r, steps, nil)
	require.NoError(t, err)
	assert.Equal(t, 9.0, got[1].Score)

	last, err := backend.LastCall()
	require.NoError(t, err)
	assert.Equal(t, "review the draft scored 2", last.Prompt)
}

func TestSequential_EmptyChain(t *testing.T) {
	e := newTestEngine(t, RunConfig{}, mocks.NewMockBackend(mockID))
	r := mustRun(t, e, "red-team", nil)

	_, err := Sequential[verdict](testutil.TestContext(t), r, nil, nil)
	var ec *EmptyChainError
	require.ErrorAs(t, err, &ec)
	assert.Equal(t, "red-team", ec.Framework)
}

func TestSequential_StopsAtFirstFailure(t *testing.T) {
	backend := mocks.NewMockBackend(mockID).WithReplies(mocks.Reply{Err: mocks.FatalError(mockID)})
	e := newTestEngine(t, RunConfig{}, backend)
	r := mustRun(t, e, "test", nil)

	_, err := Sequential(testutil.TestContext(t), r, []Step[verdict]{
		FixedStep[verdict](spec("one")),
		FixedStep[verdict](spec("two")),
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 1 (one) failed")
	assert.Equal(t, 1, backend.CallCount())
}

func TestIterate_ConvergesOnFirstRound(t *testing.T) {
	backend := mocks.NewMockBackend(mockID).WithDefault(mocks.Reply{Text: scoreJSON(10)})
	e := newTestEngine(t, RunConfig{}, backend)
	r := mustRun(t, e, "delphi", nil)

	round := func(ConvergenceState, []verdict) ([]llm.AgentSpec, error) {
		return []llm.AgentSpec{spec("e1"), spec("e2"), spec("e3")}, nil
	}
	check := DispersionCheck(func(v verdict) float64 { return v.Score }, 0.2)

	res, err := Iterate(testutil.TestContext(t), r, round, nil, check)
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Equal(t, 1, res.FinalRound)
	assert.Equal(t, Statistics{0}, res.History)
	assert.Len(t, res.Final, 3)
}

func TestIterate_MaxRoundsIsNotAnError(t *testing.T) {
	backend := mocks.NewMockBackend(mockID).WithRespondFunc(func(ctx context.Context, s llm.AgentSpec) (*llm.RawReply, error) {
		if s.Label == "low" {
			return &llm.RawReply{Text: scoreJSON(1)}, nil
		}
		return &llm.RawReply{Text: scoreJSON(100)}, nil
	})
	e := newTestEngine(t, RunConfig{MaxRounds: 3}, backend)
	r := mustRun(t, e, "delphi", nil)

	var seen []int
	round := func(state ConvergenceState, prev []verdict) ([]llm.AgentSpec, error) {
		seen = append(seen, state.Round)
		assert.Len(t, state.History, state.Round-1)
		if state.Round == 1 {
			assert.Nil(t, prev)
		} else {
			assert.Len(t, prev, 2)
		}
		return []llm.AgentSpec{spec("low"), spec("high")}, nil
	}
	check := DispersionCheck(func(v verdict) float64 { return v.Score }, 0.2)

	res, err := Iterate(testutil.TestContext(t), r, round, nil, check)
	require.NoError(t, err)
	assert.False(t, res.Converged)
	assert.Equal(t, 3, res.FinalRound)
	assert.Len(t, res.Rounds, 3)
	assert.Equal(t, []int{1, 2, 3}, seen)
	assert.Equal(t, 6, r.Ledger().Len())

	require.Len(t, res.Summaries, 3)
	for _, s := range res.Summaries {
		assert.Equal(t, 2, s.N)
		assert.Equal(t, 1.0, s.Min)
		assert.Equal(t, 100.0, s.Max)
		assert.Equal(t, 50.5, s.Mean)
	}
}

func TestIterate_ObjectionCheck(t *testing.T) {
	backend := mocks.NewMockBackend(mockID).WithText(
		testutil.FencedJSON(objection{Blocking: 2}),
		testutil.FencedJSON(objection{Blocking: 0}),
	)
	e := newTestEngine(t, RunConfig{}, backend)
	r := mustRun(t, e, "consensus", nil)

	round := func(ConvergenceState, []objection) ([]llm.AgentSpec, error) {
		return []llm.AgentSpec{spec("member")}, nil
	}
	res, err := Iterate(testutil.TestContext(t), r, round, nil, ObjectionCheck(func(o objection) int { return o.Blocking }))
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Equal(t, 2, res.FinalRound)
	assert.Equal(t, Statistics{2, 0}, res.History)
	assert.Empty(t, res.Summaries)
}

func TestIterate_EmptyRound(t *testing.T) {
	e := newTestEngine(t, RunConfig{}, mocks.NewMockBackend(mockID))
	r := mustRun(t, e, "delphi", nil)

	round := func(ConvergenceState, []verdict) ([]llm.AgentSpec, error) { return nil, nil }
	_, err := Iterate(testutil.TestContext(t), r, round, nil, ObjectionCheck(func(verdict) int { return 0 }))
	require.ErrorIs(t, err, ErrEmptyRound)
}

func TestRunTopology_ParallelCompletes(t *testing.T) {
	backend := mocks.NewMockBackend(mockID).WithPricing(3, 15).WithDefault(mocks.Reply{Text: scoreJSON(5), InputTokens: 100, OutputTokens: 50})
	rec := &fakeRecorder{}
	e, err := NewEngine(llm.NewRegistry(backend), RunConfig{Retry: fastRetry(0)}, WithRecorder(rec),
		WithClock(testutil.SteppingClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Second)))
	require.NoError(t, err)

	res, log, err := RunTopology(testutil.TestContext(t), e, Request[verdict]{
		Framework: "court",
		Input:     map[string]string{"case": "x"},
		Topology:  TopologyParallel,
		Specs:     []llm.AgentSpec{spec("juror1"), spec("juror2")},
		Reduce: func(vs []verdict) any {
			return map[string]float64{"first": vs[0].Score}
		},
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, audit.OutcomeCompleted, res.Outcome)
	assert.Equal(t, log.RunID, res.RunID)
	assert.InDelta(t, log.TotalCost, res.TotalCostUSD, 1e-12)
	assert.Equal(t, map[string]float64{"first": 5}, log.Result)
	testutil.AssertLedgerConsistent(t, log)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"court/parallel/completed"}, rec.runs)
	assert.Equal(t, 2, rec.calls)
	assert.Zero(t, rec.inFlight)
	assert.GreaterOrEqual(t, rec.peak, 1)
}

func TestRunTopology_FailureStillReturnsLog(t *testing.T) {
	backend := mocks.NewMockBackend(mockID).WithError(mocks.FatalError(mockID))
	e := newTestEngine(t, RunConfig{}, backend)

	res, log, err := RunTopology(testutil.TestContext(t), e, Request[verdict]{
		Framework: "court",
		Topology:  TopologySequential,
		Steps:     []Step[verdict]{FixedStep[verdict](spec("prosecution"))},
	})
	require.Error(t, err)
	assert.Nil(t, res)
	require.NotNil(t, log)
	assert.Equal(t, audit.OutcomeFailed, log.Outcome)
	assert.Len(t, log.Steps, 1)
	assert.Contains(t, log.Result.(map[string]string)["error"], "invalid api key")
}

func TestRunTopology_IterativeOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		scores  map[string]float64
		outcome audit.Outcome
	}{
		{name: "agreement", scores: map[string]float64{"a": 10, "b": 10}, outcome: audit.OutcomeConverged},
		{name: "disagreement", scores: map[string]float64{"a": 1, "b": 100}, outcome: audit.OutcomeMaxRounds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := mocks.NewMockBackend(mockID).WithRespondFunc(func(ctx context.Context, s llm.AgentSpec) (*llm.RawReply, error) {
				return &llm.RawReply{Text: scoreJSON(tt.scores[s.Label])}, nil
			})
			e := newTestEngine(t, RunConfig{MaxRounds: 2}, backend)

			res, log, err := RunTopology(testutil.TestContext(t), e, Request[verdict]{
				Framework: "delphi",
				Topology:  TopologyIterative,
				Round: func(ConvergenceState, []verdict) ([]llm.AgentSpec, error) {
					return []llm.AgentSpec{spec("a"), spec("b")}, nil
				},
				Check: DispersionCheck(func(v verdict) float64 { return v.Score }, 0.2),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, res.Outcome)
			assert.Equal(t, tt.outcome, log.Outcome)
			require.NotNil(t, res.Iterative)
			assert.Equal(t, res.Iterative.Final, res.Results)
		})
	}
}

func TestRunTopology_UnknownTopology(t *testing.T) {
	e := newTestEngine(t, RunConfig{}, mocks.NewMockBackend(mockID))

	res, log, err := RunTopology(testutil.TestContext(t), e, Request[verdict]{Framework: "x", Topology: "mesh"})
	var ce *llm.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Nil(t, res)
	assert.Equal(t, audit.OutcomeFailed, log.Outcome)
	assert.Empty(t, log.Steps)
}

func TestRunTopology_Custom(t *testing.T) {
	backend := mocks.NewMockBackend(mockID).WithText(scoreJSON(1), scoreJSON(2), scoreJSON(3))
	e := newTestEngine(t, RunConfig{}, backend)

	res, log, err := RunTopology(testutil.TestContext(t), e, Request[verdict]{
		Framework: "peer-review",
		Topology:  TopologyCustom,
		Custom: func(ctx context.Context, r *Run) ([]verdict, error) {
			reviews, err := Parallel[verdict](ctx, r, []llm.AgentSpec{spec("r1"), spec("r2")}, nil)
			if err != nil {
				return nil, err
			}
			editor, err := Call[verdict](ctx, r, spec("editor"), nil)
			if err != nil {
				return nil, err
			}
			return append(reviews, editor), nil
		},
	})
	require.NoError(t, err)
	assert.Len(t, res.Results, 3)
	assert.Len(t, log.Steps, 3)
	assert.Equal(t, "editor", log.Steps[2].AgentLabel)
}

func TestParseTopology(t *testing.T) {
	got, err := ParseTopology("iterative")
	require.NoError(t, err)
	assert.Equal(t, TopologyIterative, got)

	_, err = ParseTopology("star")
	var ce *llm.ConfigurationError
	assert.True(t, errors.As(err, &ce))
}

type fakeRecorder struct {
	mu       sync.Mutex
	calls    int
	runs     []string
	inFlight int
	peak     int
}

func (f *fakeRecorder) RecordAgentCall(string, string, string, time.Duration, int, int, float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
}
func (f *fakeRecorder) RecordRetry(string, string)             {}
func (f *fakeRecorder) AddInFlight(delta int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight += delta
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
}
func (f *fakeRecorder) RecordRound(string, int, float64, bool) {}
func (f *fakeRecorder) RecordRun(framework, topology, outcome string, _ time.Duration, _ float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, framework+"/"+topology+"/"+outcome)
}
