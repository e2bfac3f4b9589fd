package workflow

import (
	"fmt"
	"time"

	"github.com/behole/institutionalized/llm/retry"
)

// RunConfig holds the knobs of a single run.
type RunConfig struct {
	// ConcurrencyCap bounds in-flight agent calls.
	ConcurrencyCap int `yaml:"concurrency_cap" json:"concurrency_cap" env:"CONCURRENCY_CAP"`

	// CallTimeout is the per-attempt deadline when the spec sets none.
	CallTimeout time.Duration `yaml:"call_timeout" json:"call_timeout" env:"CALL_TIMEOUT"`

	// MaxRounds caps iterative topologies.
	MaxRounds int `yaml:"max_rounds" json:"max_rounds" env:"MAX_ROUNDS"`

	// Retry is the backoff policy. nil uses retry.DefaultRetryPolicy.
	Retry *retry.RetryPolicy `yaml:"retry" json:"retry"`

	// MaxCostUSD fails the run once spent. 0 is unlimited.
	MaxCostUSD float64 `yaml:"max_cost_usd" json:"max_cost_usd" env:"MAX_COST_USD"`

	// RequestsPerSecond limits call starts across the run. 0 is unlimited.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	Burst             int     `yaml:"burst" json:"burst" env:"BURST"`

	// RepairJSON runs jsonrepair on replies that fail strict parsing.
	RepairJSON bool `yaml:"repair_json" json:"repair_json" env:"REPAIR_JSON"`
}

const (
	DefaultConcurrencyCap = 8
	DefaultCallTimeout    = 120 * time.Second
	DefaultMaxRounds      = 5
)

// DefaultRunConfig returns the defaults.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		ConcurrencyCap: DefaultConcurrencyCap,
		CallTimeout:    DefaultCallTimeout,
		MaxRounds:      DefaultMaxRounds,
		Retry:          retry.DefaultRetryPolicy(),
	}
}

// WithDefaults fills zero fields with defaults.
func (c RunConfig) WithDefaults() RunConfig {
	if c.ConcurrencyCap <= 0 {
		c.ConcurrencyCap = DefaultConcurrencyCap
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = DefaultMaxRounds
	}
	if c.Retry == nil {
		c.Retry = retry.DefaultRetryPolicy()
	} else {
		p := *c.Retry
		c.Retry = &p
	}
	if c.RequestsPerSecond > 0 && c.Burst <= 0 {
		c.Burst = 1
	}
	return c
}

// Merge returns c with every non-zero field of override applied on top.
// RepairJSON can only be switched on by an override.
func (c RunConfig) Merge(override RunConfig) RunConfig {
	if override.ConcurrencyCap > 0 {
		c.ConcurrencyCap = override.ConcurrencyCap
	}
	if override.CallTimeout > 0 {
		c.CallTimeout = override.CallTimeout
	}
	if override.MaxRounds > 0 {
		c.MaxRounds = override.MaxRounds
	}
	if override.Retry != nil {
		c.Retry = override.Retry
	}
	if override.MaxCostUSD > 0 {
		c.MaxCostUSD = override.MaxCostUSD
	}
	if override.RequestsPerSecond > 0 {
		c.RequestsPerSecond = override.RequestsPerSecond
	}
	if override.Burst > 0 {
		c.Burst = override.Burst
	}
	if override.RepairJSON {
		c.RepairJSON = true
	}
	return c
}

// Validate rejects negative limits.
func (c RunConfig) Validate() error {
	switch {
	case c.ConcurrencyCap < 0:
		return fmt.Errorf("concurrency_cap must not be negative")
	case c.CallTimeout < 0:
		return fmt.Errorf("call_timeout must not be negative")
	case c.MaxRounds < 0:
		return fmt.Errorf("max_rounds must not be negative")
	case c.MaxCostUSD < 0:
		return fmt.Errorf("max_cost_usd must not be negative")
	case c.RequestsPerSecond < 0:
		return fmt.Errorf("requests_per_second must not be negative")
	case c.Retry != nil && c.Retry.MaxRetries < 0:
		return fmt.Errorf("retry.max_retries must not be negative")
	}
	return nil
}
