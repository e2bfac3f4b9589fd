package structured

import (
	"fmt"
	"reflect"
	"strings"
)

// DefaultMinWords is the word floor used when MinWords is given n <= 0.
const DefaultMinWords = 10

// ValidateQuote fails unless quote occurs verbatim in source. It guards
// against evidence the model invented.
func ValidateQuote(quote, source string) error {
	if !strings.Contains(source, quote) {
		return &ValidationError{
			Reason: fmt.Sprintf("quote not found in source: %q", truncate(quote, 100)),
			Value:  quote,
		}
	}
	return nil
}

// ValidateSubstantive fails when text has fewer than minWords
// whitespace-separated words.
func ValidateSubstantive(text string, minWords int) error {
	if minWords <= 0 {
		minWords = DefaultMinWords
	}
	n := len(strings.Fields(text))
	if n < minWords {
		return &ValidationError{
			Reason: fmt.Sprintf("response too brief: %d/%d words required", n, minWords),
			Value:  n,
		}
	}
	return nil
}

// ValidateNonEmpty fails when text is empty after trimming.
func ValidateNonEmpty(text, field string) error {
	if field == "" {
		field = "field"
	}
	if strings.TrimSpace(text) == "" {
		return &ValidationError{Reason: field + " cannot be empty", Value: text}
	}
	return nil
}

// ValidateRange fails when value lies outside [min, max].
func ValidateRange(value, min, max float64, field string) error {
	if field == "" {
		field = "value"
	}
	if value < min || value > max {
		return &ValidationError{
			Reason: fmt.Sprintf("%s must be between %g and %g, got %g", field, min, max, value),
			Value:  value,
		}
	}
	return nil
}

// ValidateRequired fails when any named field is missing or zero. v may be a
// struct (fields matched by json tag, then by name), a map with string keys,
// or a pointer to either.
func ValidateRequired(v any, fields ...string) error {
	var missing []string
	for _, f := range fields {
		if !present(reflect.ValueOf(v), f) {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{
			Reason: "missing required fields: " + strings.Join(missing, ", "),
			Value:  missing,
		}
	}
	return nil
}

func present(v reflect.Value, field string) bool {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return false
		}
		v = v.Elem()
	}

	var fv reflect.Value
	switch v.Kind() {
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return false
		}
		fv = v.MapIndex(reflect.ValueOf(field).Convert(v.Type().Key()))
	case reflect.Struct:
		fv = structField(v, field)
	default:
		return false
	}
	if !fv.IsValid() {
		return false
	}
	for fv.Kind() == reflect.Interface || fv.Kind() == reflect.Pointer {
		if fv.IsNil() {
			return false
		}
		fv = fv.Elem()
	}
	return !fv.IsZero()
}

func structField(v reflect.Value, name string) reflect.Value {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag := strings.Split(sf.Tag.Get("json"), ",")[0]
		if tag == name || (tag == "" && sf.Name == name) {
			return v.Field(i)
		}
	}
	return reflect.Value{}
}

// NonEmpty requires the selected string to be non-blank.
func NonEmpty[T any](field string, get func(T) string) Rule[T] {
	return Rule[T]{
		Name:  "non_empty:" + field,
		Check: func(v T) error { return ValidateNonEmpty(get(v), field) },
	}
}

// MinWords requires the selected text to have at least n words.
func MinWords[T any](field string, n int, get func(T) string) Rule[T] {
	return Rule[T]{
		Name:  "min_words:" + field,
		Check: func(v T) error { return ValidateSubstantive(get(v), n) },
	}
}

// InRange requires the selected number to lie in [min, max].
func InRange[T any](field string, min, max float64, get func(T) float64) Rule[T] {
	return Rule[T]{
		Name:  "range:" + field,
		Check: func(v T) error { return ValidateRange(get(v), min, max, field) },
	}
}

// Required requires the named fields to be present and non-zero.
func Required[T any](fields ...string) Rule[T] {
	return Rule[T]{
		Name:  "required",
		Check: func(v T) error { return ValidateRequired(v, fields...) },
	}
}

// ContainsQuote requires every selected quote to occur verbatim in source.
func ContainsQuote[T any](source string, quotes func(T) []string) Rule[T] {
	return Rule[T]{
		Name: "quote_in_source",
		Check: func(v T) error {
			for _, q := range quotes(v) {
				if err := ValidateQuote(q, source); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
