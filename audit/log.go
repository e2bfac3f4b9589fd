package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Log is the finalized trace of a run.
type Log struct {
	RunID           string
	Framework       string
	Timestamp       time.Time
	Input           any
	Steps           []Step
	Result          any
	TotalCost       float64
	TotalDurationMs int64
	Outcome         Outcome
}

// Metadata holds the run aggregates of a Document.
type Metadata struct {
	TotalDuration int64   `json:"totalDuration"`
	TotalCost     float64 `json:"totalCost"`
	Outcome       Outcome `json:"outcome"`
}

// Document is the JSON form of a Log.
type Document struct {
	RunID     string    `json:"runId"`
	Framework string    `json:"framework"`
	Timestamp time.Time `json:"timestamp"`
	Input     any       `json:"input"`
	Steps     []Step    `json:"steps"`
	Result    any       `json:"result"`
	Metadata  Metadata  `json:"metadata"`
}

// Document converts the log to its exported form.
func (l *Log) Document() Document {
	steps := l.Steps
	if steps == nil {
		steps = []Step{}
	}
	return Document{
		RunID:     l.RunID,
		Framework: l.Framework,
		Timestamp: l.Timestamp,
		Input:     l.Input,
		Steps:     steps,
		Result:    l.Result,
		Metadata: Metadata{
			TotalDuration: l.TotalDurationMs,
			TotalCost:     l.TotalCost,
			Outcome:       l.Outcome,
		},
	}
}

// MarshalJSON emits the Document form.
func (l *Log) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Document())
}

// TotalTokens sums step token counts.
func (l *Log) TotalTokens() TokenUsage {
	var u TokenUsage
	for _, s := range l.Steps {
		u.Input += s.Tokens.Input
		u.Output += s.Tokens.Output
	}
	return u
}

// FailedSteps returns the number of steps whose status is not ok.
func (l *Log) FailedSteps() int {
	n := 0
	for _, s := range l.Steps {
		if s.Status != StatusOK {
			n++
		}
	}
	return n
}

// FormatCostReport renders a short human-readable cost summary.
func FormatCostReport(l *Log) string {
	tokens := l.TotalTokens()
	var b strings.Builder
	b.WriteString("Cost Report:\n")
	fmt.Fprintf(&b, "  Total Cost: $%.4f\n", l.TotalCost)
	fmt.Fprintf(&b, "  Total Tokens: %d (%d in, %d out)\n", tokens.Input+tokens.Output, tokens.Input, tokens.Output)
	fmt.Fprintf(&b, "  Duration: %.2fs\n", float64(l.TotalDurationMs)/1000)
	fmt.Fprintf(&b, "  Steps: %d\n", len(l.Steps))
	fmt.Fprintf(&b, "  Framework: %s\n", l.Framework)
	fmt.Fprintf(&b, "  Outcome: %s", l.Outcome)
	return b.String()
}
