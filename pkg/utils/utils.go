// Package utils provides small numeric and ID helpers shared across the
// paper-trading engine.
package utils

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NewTraceID returns a fresh trace identifier for correlating activity log
// entries produced within a single scan cycle.
func NewTraceID() string {
	return uuid.NewString()
}

// Median returns the median of a decimal slice. The input is not mutated.
func Median(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sorted := make([]decimal.Decimal, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
}

// Mean returns the arithmetic mean of a decimal slice.
func Mean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}

// StdDev returns the sample standard deviation of a decimal slice.
func StdDev(values []decimal.Decimal) decimal.Decimal {
	if len(values) < 2 {
		return decimal.Zero
	}
	mean := Mean(values)
	sumSquares := decimal.Zero
	for _, v := range values {
		diff := v.Sub(mean)
		sumSquares = sumSquares.Add(diff.Mul(diff))
	}
	variance := sumSquares.Div(decimal.NewFromInt(int64(len(values) - 1)))
	f, _ := variance.Float64()
	return decimal.NewFromFloat(math.Sqrt(math.Max(f, 0)))
}

// PctDeviation returns |a-b|/b as a float64, or 0 if b is zero.
func PctDeviation(a, b decimal.Decimal) float64 {
	if b.IsZero() {
		return 0
	}
	diff := a.Sub(b).Abs()
	f, _ := diff.Div(b).Float64()
	return f
}

// EMA computes the exponential moving average series for period `n` over a
// price history, seeded with a simple average of the first n values.
func EMA(prices []decimal.Decimal, n int) []decimal.Decimal {
	if len(prices) == 0 || n <= 0 {
		return nil
	}
	if len(prices) < n {
		n = len(prices)
	}
	k := 2.0 / (float64(n) + 1.0)
	out := make([]decimal.Decimal, len(prices))
	seed := Mean(prices[:n])
	out[n-1] = seed
	for i := n; i < len(prices); i++ {
		prev := out[i-1]
		out[i] = prices[i].Sub(prev).Mul(decimal.NewFromFloat(k)).Add(prev)
	}
	return out
}

// ZScore returns (value - mean) / stddev, or 0 if stddev is zero.
func ZScore(value decimal.Decimal, series []decimal.Decimal) float64 {
	mean := Mean(series)
	sd := StdDev(series)
	if sd.IsZero() {
		return 0
	}
	f, _ := value.Sub(mean).Div(sd).Float64()
	return f
}

// Correlation returns the Pearson correlation coefficient between two
// equal-length decimal series, or 0 if either series has no variance.
func Correlation(a, b []decimal.Decimal) float64 {
	n := len(a)
	if n == 0 || n != len(b) {
		return 0
	}
	meanA, meanB := Mean(a), Mean(b)
	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da, _ := a[i].Sub(meanA).Float64()
		db, _ := b[i].Sub(meanB).Float64()
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}

// AgeMs returns the age of `t` relative to `now` in whole milliseconds.
func AgeMs(t, now time.Time) int64 {
	if t.IsZero() {
		return math.MaxInt64
	}
	return now.Sub(t).Milliseconds()
}
