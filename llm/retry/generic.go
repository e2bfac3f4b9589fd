package retry

import "context"

// DoWithResult is a type-safe generic wrapper around Retryer.Do.
// The value of the last successful attempt is returned.
//
// Usage:
//
//	val, err := retry.DoWithResult(ctx, r, func(attempt int) (int, error) {
//	    return 42, nil
//	})
func DoWithResult[T any](ctx context.Context, r Retryer, fn func(attempt int) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(attempt int) error {
		v, err := fn(attempt)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
