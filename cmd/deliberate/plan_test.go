package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/behole/institutionalized/agent/structured"
	"github.com/behole/institutionalized/audit"
	"github.com/behole/institutionalized/config"
	"github.com/behole/institutionalized/internal/metrics"
	"github.com/behole/institutionalized/llm"
	"github.com/behole/institutionalized/llm/retry"
	"github.com/behole/institutionalized/testutil"
	"github.com/behole/institutionalized/testutil/mocks"
	"github.com/behole/institutionalized/workflow"
)

const reviewPlan = `
framework: peer-review
topology: parallel
input:
  paper: "Transformers are all you need for sorting."
agents:
  - label: reviewer-1
    backend: openai
    model: gpt-4o
    prompt: "Review {{input}} and answer with JSON."
  - label: reviewer-2
    backend: OpenAI
    model: gpt-4o
    temperature: 0
    prompt: "Review {{input}} critically."
contract:
  required: [score, summary]
  ranges:
    - field: score
      min: 0
      max: 10
`

func mustParse(t *testing.T, src string) *Plan {
	t.Helper()
	p, err := ParsePlan([]byte(src))
	require.NoError(t, err)
	return p
}

func TestParsePlan_Valid(t *testing.T) {
	p := mustParse(t, reviewPlan)
	assert.Equal(t, "peer-review", p.Framework)
	assert.Len(t, p.Agents, 2)
	assert.Equal(t, []llm.BackendID{llm.BackendOpenAI}, p.Backends())
}

func TestParsePlan_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{"missing framework", "topology: parallel\nagents: [{backend: openai}]", "framework"},
		{"unknown topology", "framework: f\ntopology: star\nagents: [{backend: openai}]", "topology"},
		{"custom topology", "framework: f\ntopology: custom\nagents: [{backend: openai}]", "topology"},
		{"no agents", "framework: f\ntopology: parallel", "agents"},
		{"unknown backend", "framework: f\ntopology: parallel\nagents: [{backend: gemini}]", "backend"},
		{"iterative without check", "framework: f\ntopology: iterative\nagents: [{backend: openai}]", "convergence.check"},
		{"iterative without field", "framework: f\ntopology: iterative\nagents: [{backend: openai}]\nconvergence: {check: dispersion}", "convergence.field"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePlan([]byte(tt.src))
			var ce *llm.ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestParsePlan_BadYAML(t *testing.T) {
	_, err := ParsePlan([]byte("framework: [unclosed"))
	require.Error(t, err)
}

func TestLoadPlan_MissingFile(t *testing.T) {
	_, err := LoadPlan(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestRequest_ParallelSubstitutesInput(t *testing.T) {
	req, err := mustParse(t, reviewPlan).Request()
	require.NoError(t, err)

	require.Len(t, req.Specs, 2)
	assert.Equal(t, workflow.TopologyParallel, req.Topology)
	assert.Contains(t, req.Specs[0].Prompt, `"paper":"Transformers are all you need for sorting."`)
	assert.Equal(t, llm.BackendOpenAI, req.Specs[1].Backend)
	assert.Equal(t, llm.DefaultTemperature, req.Specs[0].Temperature)
	assert.Equal(t, 0.0, req.Specs[1].Temperature)
	assert.Equal(t, llm.DefaultMaxOutputTokens, req.Specs[0].MaxOutputTokens)
	assert.Equal(t, []string{"required", "range:score"}, req.Contract.Names())
}

func TestRequest_SequentialSeesPrevious(t *testing.T) {
	p := mustParse(t, `
framework: chain
topology: sequential
input: topic
agents:
  - {label: drafter, backend: anthropic, model: claude, prompt: "Draft on {{input}}"}
  - {label: editor, backend: anthropic, model: claude, prompt: "Step {{round}} edits {{previous}}"}
`)
	req, err := p.Request()
	require.NoError(t, err)
	require.Len(t, req.Steps, 2)
	assert.Equal(t, "editor", req.Steps[1].Name)

	first, err := req.Steps[0].Build(nil)
	require.NoError(t, err)
	assert.Equal(t, `Draft on "topic"`, first.Prompt)

	second, err := req.Steps[1].Build([]Answer{{"draft": "hello"}})
	require.NoError(t, err)
	assert.Contains(t, second.Prompt, "Step 2 edits")
	assert.Contains(t, second.Prompt, `"draft": "hello"`)
}

func TestRequest_IterativeRoundsRender(t *testing.T) {
	p := mustParse(t, `
framework: delphi
topology: iterative
input: {question: "2035 GDP growth?"}
agents:
  - {label: expert, backend: openrouter, model: m, prompt: "Round {{round}}: {{previous}}"}
convergence: {check: dispersion, field: estimate}
`)
	req, err := p.Request()
	require.NoError(t, err)
	assert.Equal(t, "dispersion", req.Check.Name)

	specs, err := req.Round(workflow.ConvergenceState{Round: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Round 1: []", specs[0].Prompt)

	specs, err = req.Round(workflow.ConvergenceState{Round: 2}, []Answer{{"estimate": 2.5}})
	require.NoError(t, err)
	assert.Contains(t, specs[0].Prompt, "Round 2:")
	assert.Contains(t, specs[0].Prompt, `"estimate": 2.5`)
}

func TestContract_RangeRejectsNonNumeric(t *testing.T) {
	c, err := ContractPlan{Ranges: []RangePlan{{Field: "score", Min: 0, Max: 10}}}.build(nil)
	require.NoError(t, err)

	assert.NoError(t, c.Validate(Answer{"score": 7.0}))
	assert.NoError(t, c.Validate(Answer{"score": "8"}))

	var ve *structured.ValidationError
	require.ErrorAs(t, c.Validate(Answer{"score": 11.0}), &ve)
	assert.Equal(t, "range:score", ve.Rule)
	require.ErrorAs(t, c.Validate(Answer{"score": "high"}), &ve)
	assert.Contains(t, ve.Reason, "must be a number")
}

func TestContract_QuotesAndSchema(t *testing.T) {
	input := map[string]any{"doc": map[string]any{"text": "the cat sat on the mat"}}
	c, err := ContractPlan{
		Quotes: &QuotePlan{Field: "evidence", Source: "doc.text"},
		Schema: `{"type":"object","required":["evidence"]}`,
	}.build(input)
	require.NoError(t, err)

	assert.NoError(t, c.Validate(Answer{"evidence": []any{"cat sat", "the mat"}}))
	assert.Error(t, c.Validate(Answer{"evidence": []any{"dog ran"}}))
	assert.Error(t, c.Validate(Answer{}))
}

func TestContract_QuoteSourceMissing(t *testing.T) {
	_, err := ContractPlan{Quotes: &QuotePlan{Field: "evidence", Source: "doc"}}.build(map[string]any{})
	var ce *llm.ConfigurationError
	require.ErrorAs(t, err, &ce)
}

func TestContract_BadSchema(t *testing.T) {
	_, err := ContractPlan{Schema: "{not json"}.build(nil)
	var ce *llm.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "contract.schema", ce.Field)
}

func TestConvergence_ObjectionsCountsLists(t *testing.T) {
	check := ConvergencePlan{Check: "objections", Field: "objections"}.build()
	stat := check.Statistic([]Answer{
		{"objections": []any{"a", "b"}},
		{"objections": 1.0},
		{},
	})
	assert.Equal(t, 3.0, stat)
	assert.False(t, check.Converged(stat))
	assert.True(t, check.Converged(check.Statistic([]Answer{{"objections": []any{}}})))
}

func TestConvergence_DispersionDefaultThreshold(t *testing.T) {
	check := ConvergencePlan{Check: "dispersion", Field: "estimate"}.build()
	assert.True(t, check.Converged(check.Statistic([]Answer{{"estimate": 10.0}, {"estimate": 11.0}})))
	assert.False(t, check.Converged(check.Statistic([]Answer{{"estimate": 1.0}, {"estimate": 10.0}})))
}

// =============================================================================
// 端到端
// =============================================================================

func newTestApp(t *testing.T, auditDir string, backends ...llm.ModelBackend) *app {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Engine.Retry = &retry.RetryPolicy{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

	collector := metrics.NewCollector("test", prometheus.NewRegistry(), nil)
	engine, err := workflow.NewEngine(llm.NewRegistry(backends...), cfg.Engine,
		workflow.WithLogger(zap.NewNop()),
		workflow.WithRecorder(collector),
	)
	require.NoError(t, err)

	return &app{
		cfg:       cfg,
		logger:    zap.NewNop(),
		engine:    engine,
		sink:      audit.MultiSink{audit.NewFileSink(auditDir+string(os.PathSeparator), nil)},
		collector: collector,
	}
}

func TestExecute_ParallelWritesResultAndAudit(t *testing.T) {
	dir := t.TempDir()
	backend := mocks.NewMockBackend(llm.BackendOpenAI).
		WithDefault(mocks.Reply{Text: testutil.FencedJSON(Answer{"score": 6, "summary": "solid"}), InputTokens: 100, OutputTokens: 50})
	a := newTestApp(t, dir, backend)

	var stdout, stderr bytes.Buffer
	err := a.Execute(testutil.TestContext(t), mustParse(t, reviewPlan), &stdout, &stderr)
	require.NoError(t, err)
	assert.Equal(t, 2, backend.CallCount())

	var res workflow.Result[Answer]
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &res))
	assert.Equal(t, audit.OutcomeCompleted, res.Outcome)
	require.Len(t, res.Results, 2)
	assert.Equal(t, "solid", res.Results[0]["summary"])
	assert.Contains(t, stderr.String(), "Cost Report:")

	doc, err := audit.LoadDocument(filepath.Join(dir, res.RunID+".json"))
	require.NoError(t, err)
	assert.Equal(t, "peer-review", doc.Framework)
	assert.Len(t, doc.Steps, 2)
	assert.Equal(t, audit.OutcomeCompleted, doc.Metadata.Outcome)
}

func TestExecute_FailureStillWritesAudit(t *testing.T) {
	dir := t.TempDir()
	backend := mocks.NewMockBackend(llm.BackendOpenAI).WithError(mocks.FatalError(llm.BackendOpenAI))
	a := newTestApp(t, dir, backend)

	var stdout, stderr bytes.Buffer
	err := a.Execute(testutil.TestContext(t), mustParse(t, reviewPlan), &stdout, &stderr)
	var be *llm.BackendError
	require.ErrorAs(t, err, &be)
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "Outcome: failed")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	doc, err := audit.LoadDocument(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, audit.OutcomeFailed, doc.Metadata.Outcome)
}

func TestExecute_IterativeConverges(t *testing.T) {
	backend := mocks.NewMockBackend(llm.BackendAnthropic).
		WithDefault(mocks.Reply{Text: `{"estimate": 3.0}`, InputTokens: 10, OutputTokens: 5})
	a := newTestApp(t, t.TempDir(), backend)

	p := mustParse(t, `
framework: delphi
topology: iterative
input: "growth?"
agents:
  - {label: e1, backend: anthropic, model: m, prompt: "{{input}} round {{round}}"}
  - {label: e2, backend: anthropic, model: m, prompt: "{{input}} round {{round}}"}
convergence: {check: dispersion, field: estimate, threshold: 0.1}
`)
	var stdout, stderr bytes.Buffer
	require.NoError(t, a.Execute(testutil.TestContext(t), p, &stdout, &stderr))

	var res workflow.Result[Answer]
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &res))
	assert.Equal(t, audit.OutcomeConverged, res.Outcome)
	require.NotNil(t, res.Iterative)
	assert.Equal(t, 1, res.Iterative.FinalRound)
	assert.Equal(t, 2, backend.CallCount())
}

func TestBuildRegistry_UnconfiguredBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	delete(cfg.Backends, string(llm.BackendAnthropic))

	_, err := buildRegistry(cfg, []llm.BackendID{llm.BackendAnthropic}, func(string) string { return "key" }, nil)
	var ce *llm.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "backends.anthropic", ce.Field)
}

func TestBuildRegistry_ConstructsPlannedBackends(t *testing.T) {
	cfg := config.DefaultConfig()
	registry, err := buildRegistry(cfg, []llm.BackendID{llm.BackendOpenAI, llm.BackendOpenRouter},
		func(string) string { return "test-key" }, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 2, registry.Len())

	_, err = registry.Backend(llm.BackendAnthropic)
	assert.Error(t, err)
}
