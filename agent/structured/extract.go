package structured

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// fencePattern matches the first fenced block whose body is a JSON object.
// The body is matched lazily so that it ends at the first "}" followed by
// the closing fence, which keeps nested objects intact.
var fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// Source identifies which extraction step produced the JSON.
type Source string

const (
	SourceFenced    Source = "fenced"
	SourceBraceSpan Source = "brace_span"
)

// ExtractOption configures extraction.
type ExtractOption func(*extractOptions)

type extractOptions struct {
	repair bool
}

// WithRepair runs jsonrepair on a candidate that fails strict parsing
// before giving up. Extraction is strict by default.
func WithRepair() ExtractOption {
	return func(o *extractOptions) { o.repair = true }
}

// Extracted is a JSON value pulled out of free-form model text.
type Extracted struct {
	JSON     json.RawMessage
	Source   Source
	Repaired bool
}

// Extract pulls a JSON object out of model output. The first match wins:
//
//  1. a fenced block (```json ... ``` or ``` ... ```) holding an object;
//  2. the span from the first "{" to the last "}";
//  3. otherwise an *ExtractionError.
//
// A fenced block is authoritative: if it does not parse, extraction fails
// even when other JSON-looking text is present.
func Extract(text string, opts ...ExtractOption) (*Extracted, error) {
	var o extractOptions
	for _, opt := range opts {
		opt(&o)
	}

	trimmed := strings.TrimSpace(text)

	if m := fencePattern.FindStringSubmatch(trimmed); m != nil {
		return parseCandidate(text, m[1], SourceFenced, o)
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		return parseCandidate(text, trimmed[start:end+1], SourceBraceSpan, o)
	}

	return nil, &ExtractionError{RawText: text, Reason: "no JSON object found in reply"}
}

func parseCandidate(raw, candidate string, src Source, o extractOptions) (*Extracted, error) {
	if json.Valid([]byte(candidate)) {
		return &Extracted{JSON: json.RawMessage(candidate), Source: src}, nil
	}

	if o.repair {
		repaired, err := jsonrepair.JSONRepair(candidate)
		if err == nil && json.Valid([]byte(repaired)) {
			return &Extracted{JSON: json.RawMessage(repaired), Source: src, Repaired: true}, nil
		}
	}

	var probe any
	err := json.Unmarshal([]byte(candidate), &probe)
	return nil, &ExtractionError{
		RawText: raw,
		Reason:  fmt.Sprintf("%s JSON does not parse", src),
		Err:     err,
	}
}

// Decode extracts JSON from text and unmarshals it into T. A shape mismatch
// between the JSON and T is also an *ExtractionError: no value was obtained.
func Decode[T any](text string, opts ...ExtractOption) (T, error) {
	var zero T

	ex, err := Extract(text, opts...)
	if err != nil {
		return zero, err
	}

	var v T
	if err := json.Unmarshal(ex.JSON, &v); err != nil {
		return zero, &ExtractionError{
			RawText: text,
			Reason:  fmt.Sprintf("JSON does not match %T", zero),
			Err:     err,
		}
	}
	return v, nil
}
