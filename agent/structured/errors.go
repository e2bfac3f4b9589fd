package structured

import (
	"fmt"
)

// maxRawPreview bounds how much of a reply is echoed in error messages.
const maxRawPreview = 200

// ExtractionError means the reply held no parseable JSON. It is usually a
// model formatting failure and is worth retrying.
type ExtractionError struct {
	RawText string `json:"raw_text"`
	Reason  string `json:"reason"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *ExtractionError) Error() string {
	msg := "extraction failed: " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return fmt.Sprintf("%s (reply: %q)", msg, truncate(e.RawText, maxRawPreview))
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Transient marks extraction failures as retryable.
func (e *ExtractionError) Transient() bool { return true }

// ValidationError means the reply parsed but broke a contract rule.
// Re-asking the same prompt will likely fail the same way.
type ValidationError struct {
	Rule   string `json:"rule"`
	Reason string `json:"reason"`
	Value  any    `json:"value,omitempty"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Rule == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Rule, e.Reason)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
