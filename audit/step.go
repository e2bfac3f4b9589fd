package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/behole/institutionalized/llm"
)

// Status classifies the outcome of one attempt.
type Status string

const (
	StatusOK              Status = "ok"
	StatusBackendError    Status = "backend_error"
	StatusExtractionError Status = "extraction_error"
	StatusValidationError Status = "validation_error"
	StatusCancelled       Status = "cancelled"
	StatusError           Status = "error"
)

// Outcome is the terminal label of a run.
type Outcome string

const (
	OutcomeCompleted  Outcome = "completed"
	OutcomeConverged  Outcome = "converged"
	OutcomeMaxRounds  Outcome = "max_rounds"
	OutcomeFailed     Outcome = "failed"
	OutcomeIncomplete Outcome = "incomplete"
)

// CostEstimator prices a call. Every llm.ModelBackend satisfies it.
type CostEstimator interface {
	EstimateCost(inputTokens, outputTokens int, model string) float64
}

// Record is what the caller knows about an attempt when it ends.
type Record struct {
	AgentLabel   string
	Backend      llm.BackendID
	Model        string
	Prompt       string
	Reply        string
	Duration     time.Duration
	InputTokens  int
	OutputTokens int
	Attempt      int
	Status       Status
	Err          error
}

// TokenUsage is the token count of a step.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Step is one recorded attempt. It is never modified after it is appended.
type Step struct {
	Seq          int           `json:"seq"`
	AgentLabel   string        `json:"agent"`
	BackendID    llm.BackendID `json:"backend"`
	Model        string        `json:"model"`
	PromptDigest string        `json:"promptDigest"`
	ReplyDigest  string        `json:"replyDigest"`
	Prompt       string        `json:"prompt"`
	Reply        string        `json:"response"`
	DurationMs   int64         `json:"duration"`
	Tokens       TokenUsage    `json:"tokens"`
	CostUSD      float64       `json:"cost"`
	TimestampUTC time.Time     `json:"timestamp"`
	Attempt      int           `json:"attempt"`
	Status       Status        `json:"status"`
	Error        string        `json:"error,omitempty"`
}

// Digest returns the hex SHA-256 of s.
func Digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
