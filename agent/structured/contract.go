package structured

import (
	"errors"
)

// Rule is a named predicate over an extracted value. Check returns nil when
// the value satisfies the rule, otherwise an error whose message is the
// failure reason.
type Rule[T any] struct {
	Name  string
	Check func(T) error
}

// NewRule wraps a custom predicate.
func NewRule[T any](name string, check func(T) error) Rule[T] {
	return Rule[T]{Name: name, Check: check}
}

// Contract is an ordered list of rules. A value is accepted only if every
// rule passes; the first failure is reported and no partial result exists.
type Contract[T any] struct {
	rules []Rule[T]
}

// NewContract creates a contract from rules, evaluated in order.
func NewContract[T any](rules ...Rule[T]) *Contract[T] {
	return &Contract[T]{rules: append([]Rule[T](nil), rules...)}
}

// With returns a new contract with rules appended.
func (c *Contract[T]) With(rules ...Rule[T]) *Contract[T] {
	if c == nil {
		return NewContract(rules...)
	}
	merged := make([]Rule[T], 0, len(c.rules)+len(rules))
	merged = append(merged, c.rules...)
	return &Contract[T]{rules: append(merged, rules...)}
}

// Len returns the number of rules.
func (c *Contract[T]) Len() int {
	if c == nil {
		return 0
	}
	return len(c.rules)
}

// Names returns rule names in evaluation order.
func (c *Contract[T]) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, len(c.rules))
	for i, r := range c.rules {
		names[i] = r.Name
	}
	return names
}

// Validate runs the rules in order and returns the first failure as a
// *ValidationError carrying the offending value. A nil contract accepts
// everything.
func (c *Contract[T]) Validate(v T) error {
	if c == nil {
		return nil
	}
	for _, r := range c.rules {
		if r.Check == nil {
			continue
		}
		err := r.Check(v)
		if err == nil {
			continue
		}
		out := &ValidationError{Rule: r.Name, Reason: err.Error(), Value: v}
		var ve *ValidationError
		if errors.As(err, &ve) {
			out.Reason = ve.Reason
			if ve.Value != nil {
				out.Value = ve.Value
			}
		}
		return out
	}
	return nil
}
