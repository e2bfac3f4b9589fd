package workflow

import (
	"encoding/json"
	"math"
	"sort"
)

// RoundSummary describes the spread of one round's numeric answers.
// Median and quartiles pick sorted[floor(n*p)], so for even n the median is
// the upper middle value.
type RoundSummary struct {
	N      int     `json:"n"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Q1     float64 `json:"q1"`
	Q3     float64 `json:"q3"`
	StdDev float64 `json:"std_dev"`
	CV     float64 `json:"cv"`
}

// Summarize computes round statistics. Empty input returns a zero summary
// with CV +Inf.
func Summarize(values []float64) RoundSummary {
	n := len(values)
	if n == 0 {
		return RoundSummary{CV: math.Inf(1)}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(n)
	var sq float64
	for _, v := range sorted {
		sq += (v - mean) * (v - mean)
	}

	return RoundSummary{
		N:      n,
		Mean:   mean,
		Median: sorted[n/2],
		Min:    sorted[0],
		Max:    sorted[n-1],
		Q1:     sorted[int(float64(n)*0.25)],
		Q3:     sorted[int(float64(n)*0.75)],
		StdDev: math.Sqrt(sq / float64(n)),
		CV:     CoefficientOfVariation(values),
	}
}

// MarshalJSON implements json.Marshaler. Non-finite fields encode as null.
func (s RoundSummary) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		N      int      `json:"n"`
		Mean   *float64 `json:"mean"`
		Median *float64 `json:"median"`
		Min    *float64 `json:"min"`
		Max    *float64 `json:"max"`
		Q1     *float64 `json:"q1"`
		Q3     *float64 `json:"q3"`
		StdDev *float64 `json:"std_dev"`
		CV     *float64 `json:"cv"`
	}{
		N:      s.N,
		Mean:   finite(s.Mean),
		Median: finite(s.Median),
		Min:    finite(s.Min),
		Max:    finite(s.Max),
		Q1:     finite(s.Q1),
		Q3:     finite(s.Q3),
		StdDev: finite(s.StdDev),
		CV:     finite(s.CV),
	})
}

func finite(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}

// IQR returns Q3 - Q1.
func (s RoundSummary) IQR() float64 { return s.Q3 - s.Q1 }

// Statistics is a per-round convergence history. Undefined rounds are
// recorded as +Inf and encode as JSON null.
type Statistics []float64

// MarshalJSON implements json.Marshaler.
func (s Statistics) MarshalJSON() ([]byte, error) {
	out := make([]*float64, len(s))
	for i, v := range s {
		out[i] = finite(v)
	}
	return json.Marshal(out)
}
