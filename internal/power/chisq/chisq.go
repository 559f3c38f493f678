// Package chisq holds the chi-squared pieces of the power analysis: the critical
// value lookup and the Pearson goodness-of-fit statistic over count vectors.
package chisq

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/copyleftdev/chipower/internal/errors"
)

const component = "chisq"

// Quantile returns the chi-squared critical value at the given confidence with
// df degrees of freedom.
func Quantile(confidence float64, df int) (float64, error) {
	if math.IsNaN(confidence) || confidence <= 0 || confidence >= 1 {
		return 0, errors.InvalidArgument("confidence must be in (0, 1), got %v", confidence).
			WithComponent(component).WithOperation("Quantile")
	}
	if df < 1 {
		return 0, errors.InvalidArgument("degrees of freedom must be at least 1, got %d", df).
			WithComponent(component).WithOperation("Quantile")
	}
	return distuv.ChiSquared{K: float64(df)}.Quantile(confidence), nil
}

// Statistic computes the Pearson statistic n * Σ (c_i/n - p_i)² / p_i for one
// count vector. scratch must have len(counts) elements; it is overwritten.
func Statistic(counts []float64, n float64, expected, scratch []float64) float64 {
	floats.ScaleTo(scratch, 1/n, counts)
	floats.Sub(scratch, expected)
	floats.Mul(scratch, scratch)
	floats.Div(scratch, expected)
	return n * floats.Sum(scratch)
}

// CountExceeding returns how many rows of counts have a Pearson statistic
// strictly greater than critical.
func CountExceeding(counts *mat.Dense, n float64, expected []float64, critical float64) int {
	rows, cols := counts.Dims()
	scratch := make([]float64, cols)

	exceeded := 0
	for i := 0; i < rows; i++ {
		if Statistic(counts.RawRowView(i), n, expected, scratch) > critical {
			exceeded++
		}
	}
	return exceeded
}

// Statistics returns the Pearson statistic of every row of counts.
func Statistics(counts *mat.Dense, n float64, expected []float64) []float64 {
	rows, cols := counts.Dims()
	scratch := make([]float64, cols)

	out := make([]float64, rows)
	for i := range out {
		out[i] = Statistic(counts.RawRowView(i), n, expected, scratch)
	}
	return out
}
