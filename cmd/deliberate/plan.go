package main

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/behole/institutionalized/agent/structured"
	"github.com/behole/institutionalized/llm"
	"github.com/behole/institutionalized/workflow"
)

// =============================================================================
// 📋 审议计划
// =============================================================================

// Answer 是计划模式下每个 agent 的结构化回复
type Answer = map[string]any

// 提示词占位符
const (
	placeholderInput    = "{{input}}"
	placeholderPrevious = "{{previous}}"
	placeholderRound    = "{{round}}"
)

// Plan 描述一次审议：拓扑、agent、校验契约与收敛条件
type Plan struct {
	Framework   string              `yaml:"framework"`
	Topology    string              `yaml:"topology"`
	Input       any                 `yaml:"input"`
	Config      *workflow.RunConfig `yaml:"config"`
	Agents      []AgentPlan         `yaml:"agents"`
	Contract    ContractPlan        `yaml:"contract"`
	Convergence ConvergencePlan     `yaml:"convergence"`
}

// AgentPlan 单个 agent；未填写的温度与输出上限使用默认值
type AgentPlan struct {
	Label           string        `yaml:"label"`
	Backend         string        `yaml:"backend"`
	Model           string        `yaml:"model"`
	Prompt          string        `yaml:"prompt"`
	SystemPrompt    string        `yaml:"system_prompt"`
	Temperature     *float64      `yaml:"temperature"`
	MaxOutputTokens int           `yaml:"max_output_tokens"`
	Timeout         time.Duration `yaml:"timeout"`
}

// ContractPlan 回复校验规则
type ContractPlan struct {
	Required []string       `yaml:"required"`
	NonEmpty []string       `yaml:"non_empty"`
	MinWords map[string]int `yaml:"min_words"`
	Ranges   []RangePlan    `yaml:"ranges"`
	Schema   string         `yaml:"schema"`
	Quotes   *QuotePlan     `yaml:"quotes"`
}

// RangePlan 数值字段范围
type RangePlan struct {
	Field string  `yaml:"field"`
	Min   float64 `yaml:"min"`
	Max   float64 `yaml:"max"`
}

// QuotePlan 要求 Field 中的每条引用都逐字出现在 input 的 Source 字段中
type QuotePlan struct {
	Field  string `yaml:"field"`
	Source string `yaml:"source"`
}

// ConvergencePlan 迭代拓扑的收敛条件
type ConvergencePlan struct {
	// Check: dispersion 或 objections
	Check     string  `yaml:"check"`
	Field     string  `yaml:"field"`
	Threshold float64 `yaml:"threshold"`
}

// DefaultDispersionThreshold 未配置阈值时的变异系数上限
const DefaultDispersionThreshold = 0.2

// LoadPlan 读取并校验 YAML 计划文件
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	return ParsePlan(data)
}

// ParsePlan 解析并校验计划
func ParsePlan(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate 在发起任何调用之前检查计划
func (p *Plan) Validate() error {
	if strings.TrimSpace(p.Framework) == "" {
		return &llm.ConfigurationError{Field: "framework", Reason: "required"}
	}
	topology, err := workflow.ParseTopology(p.Topology)
	if err != nil {
		return err
	}
	if topology == workflow.TopologyCustom {
		return &llm.ConfigurationError{Field: "topology", Reason: "custom topologies cannot be expressed in a plan"}
	}
	if len(p.Agents) == 0 {
		return &llm.ConfigurationError{Field: "agents", Reason: "at least one agent is required"}
	}
	for i, a := range p.Agents {
		if _, err := llm.ParseBackendID(a.Backend); err != nil {
			return fmt.Errorf("agents[%d]: %w", i, err)
		}
	}
	if p.Config != nil {
		if err := p.Config.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if topology == workflow.TopologyIterative {
		switch p.Convergence.Check {
		case "dispersion", "objections":
		default:
			return &llm.ConfigurationError{Field: "convergence.check", Reason: fmt.Sprintf("want dispersion or objections, got %q", p.Convergence.Check)}
		}
		if p.Convergence.Field == "" {
			return &llm.ConfigurationError{Field: "convergence.field", Reason: "required"}
		}
	}
	return nil
}

// Backends 返回计划用到的后端（去重，保持出现顺序）
func (p *Plan) Backends() []llm.BackendID {
	seen := make(map[llm.BackendID]bool)
	var ids []llm.BackendID
	for _, a := range p.Agents {
		id, err := llm.ParseBackendID(a.Backend)
		if err != nil || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// =============================================================================
// 🔧 构造请求
// =============================================================================

// Request 把计划转换为引擎请求
func (p *Plan) Request() (workflow.Request[Answer], error) {
	topology, err := workflow.ParseTopology(p.Topology)
	if err != nil {
		return workflow.Request[Answer]{}, err
	}
	contract, err := p.Contract.build(p.Input)
	if err != nil {
		return workflow.Request[Answer]{}, err
	}
	inputJSON, err := json.Marshal(p.Input)
	if err != nil {
		return workflow.Request[Answer]{}, fmt.Errorf("encode input: %w", err)
	}

	req := workflow.Request[Answer]{
		Framework: p.Framework,
		Input:     p.Input,
		Topology:  topology,
		Contract:  contract,
		Config:    p.Config,
	}

	base := make([]llm.AgentSpec, len(p.Agents))
	for i, a := range p.Agents {
		base[i] = a.spec(string(inputJSON))
	}

	switch topology {
	case workflow.TopologyParallel:
		req.Specs = render(base, "[]", 1)
	case workflow.TopologySequential:
		for _, s := range base {
			spec := s
			req.Steps = append(req.Steps, workflow.Step[Answer]{
				Name: spec.Label,
				Build: func(prev []Answer) (llm.AgentSpec, error) {
					prevJSON, err := marshalPrevious(prev)
					if err != nil {
						return llm.AgentSpec{}, err
					}
					return render([]llm.AgentSpec{spec}, prevJSON, len(prev)+1)[0], nil
				},
			})
		}
	case workflow.TopologyIterative:
		req.Round = func(state workflow.ConvergenceState, prev []Answer) ([]llm.AgentSpec, error) {
			prevJSON, err := marshalPrevious(prev)
			if err != nil {
				return nil, err
			}
			return render(base, prevJSON, state.Round), nil
		}
		req.Check = p.Convergence.build()
	}
	return req, nil
}

func (a AgentPlan) spec(inputJSON string) llm.AgentSpec {
	backend, _ := llm.ParseBackendID(a.Backend)
	s := llm.NewAgentSpec(a.Label, backend, a.Model, strings.ReplaceAll(a.Prompt, placeholderInput, inputJSON))
	s.SystemPrompt = a.SystemPrompt
	s.Timeout = a.Timeout
	if a.Temperature != nil {
		s.Temperature = *a.Temperature
	}
	if a.MaxOutputTokens > 0 {
		s.MaxOutputTokens = a.MaxOutputTokens
	}
	return s
}

func render(specs []llm.AgentSpec, previous string, round int) []llm.AgentSpec {
	out := make([]llm.AgentSpec, len(specs))
	r := strconv.Itoa(round)
	for i, s := range specs {
		s.Prompt = strings.ReplaceAll(s.Prompt, placeholderPrevious, previous)
		s.Prompt = strings.ReplaceAll(s.Prompt, placeholderRound, r)
		out[i] = s
	}
	return out
}

func marshalPrevious(prev []Answer) (string, error) {
	if len(prev) == 0 {
		return "[]", nil
	}
	data, err := json.MarshalIndent(prev, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode previous answers: %w", err)
	}
	return string(data), nil
}

// =============================================================================
// ✅ 契约与收敛
// =============================================================================

func (c ContractPlan) build(input any) (*structured.Contract[Answer], error) {
	var rules []structured.Rule[Answer]
	if len(c.Required) > 0 {
		rules = append(rules, structured.Required[Answer](c.Required...))
	}
	for _, f := range c.NonEmpty {
		rules = append(rules, structured.NonEmpty(f, stringField(f)))
	}
	for _, f := range slices.Sorted(maps.Keys(c.MinWords)) {
		rules = append(rules, structured.MinWords(f, c.MinWords[f], stringField(f)))
	}
	for _, r := range c.Ranges {
		rules = append(rules, rangeRule(r))
	}
	if c.Quotes != nil {
		source, _ := lookup(input, c.Quotes.Source).(string)
		if source == "" {
			return nil, &llm.ConfigurationError{Field: "contract.quotes.source", Reason: fmt.Sprintf("input has no text field %q", c.Quotes.Source)}
		}
		rules = append(rules, structured.ContainsQuote(source, stringsField(c.Quotes.Field)))
	}
	if c.Schema != "" {
		rule, err := structured.Schema[Answer]([]byte(c.Schema))
		if err != nil {
			return nil, &llm.ConfigurationError{Field: "contract.schema", Reason: err.Error()}
		}
		rules = append(rules, rule)
	}
	return structured.NewContract(rules...), nil
}

func rangeRule(r RangePlan) structured.Rule[Answer] {
	return structured.NewRule("range:"+r.Field, func(a Answer) error {
		v, ok := number(a[r.Field])
		if !ok {
			return &structured.ValidationError{Reason: r.Field + " must be a number", Value: a[r.Field]}
		}
		return structured.ValidateRange(v, r.Min, r.Max, r.Field)
	})
}

func (c ConvergencePlan) build() workflow.ConvergenceCheck[Answer] {
	field := c.Field
	if c.Check == "objections" {
		return workflow.ObjectionCheck(func(a Answer) int {
			if n, ok := number(a[field]); ok {
				return int(n)
			}
			if list, ok := a[field].([]any); ok {
				return len(list)
			}
			return 0
		})
	}
	threshold := c.Threshold
	if threshold <= 0 {
		threshold = DefaultDispersionThreshold
	}
	return workflow.DispersionCheck(func(a Answer) float64 {
		if n, ok := number(a[field]); ok {
			return n
		}
		return math.NaN()
	}, threshold)
}

func stringField(field string) func(Answer) string {
	return func(a Answer) string {
		s, _ := a[field].(string)
		return s
	}
}

func stringsField(field string) func(Answer) []string {
	return func(a Answer) []string {
		switch v := a[field].(type) {
		case string:
			return []string{v}
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok {
					out = append(out, s)
				}
			}
			return out
		}
		return nil
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// lookup 按点分路径读取 YAML 输入中的字段
func lookup(v any, path string) any {
	for _, key := range strings.Split(path, ".") {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v = m[key]
	}
	return v
}
