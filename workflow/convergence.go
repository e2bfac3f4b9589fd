package workflow

import "math"

// ConvergenceState is the iterative loop's view of progress. Round is the
// 1-based round about to run (or just run); History holds one statistic per
// completed round.
type ConvergenceState struct {
	Round   int
	History []float64
}

// ConvergenceCheck reduces a round's results to a statistic and decides
// whether the loop may stop. When Values is set, Iterate also records a
// RoundSummary of those values for every round.
type ConvergenceCheck[T any] struct {
	Name      string
	Statistic func(results []T) float64
	Converged func(statistic float64) bool
	Values    func(results []T) []float64
}

// DispersionCheck converges when the coefficient of variation (population
// standard deviation over mean) of field is at most threshold. An undefined
// CV (no values, mean <= 0, or a non-finite value) yields +Inf, which never
// converges.
func DispersionCheck[T any](field func(T) float64, threshold float64) ConvergenceCheck[T] {
	values := func(results []T) []float64 {
		out := make([]float64, len(results))
		for i, r := range results {
			out[i] = field(r)
		}
		return out
	}
	return ConvergenceCheck[T]{
		Name: "dispersion",
		Statistic: func(results []T) float64 {
			return CoefficientOfVariation(values(results))
		},
		Converged: func(cv float64) bool {
			return !math.IsInf(cv, 0) && !math.IsNaN(cv) && cv <= threshold
		},
		Values: values,
	}
}

// ObjectionCheck converges when no result raises a blocking objection.
func ObjectionCheck[T any](blocking func(T) int) ConvergenceCheck[T] {
	return ConvergenceCheck[T]{
		Name: "objections",
		Statistic: func(results []T) float64 {
			total := 0
			for _, r := range results {
				total += blocking(r)
			}
			return float64(total)
		},
		Converged: func(n float64) bool { return n == 0 },
	}
}

// CoefficientOfVariation returns population σ / mean, or +Inf when that is
// undefined.
func CoefficientOfVariation(values []float64) float64 {
	if len(values) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return math.Inf(1)
		}
		sum += v
	}
	mean := sum / float64(len(values))
	if mean <= 0 {
		return math.Inf(1)
	}
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq/float64(len(values))) / mean
}
