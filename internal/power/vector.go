package power

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/chipower/internal/errors"
)

// ProbabilityVector is a categorical distribution over dim >= 2 categories.
type ProbabilityVector []float64

// NewProbabilityVector validates values and returns them as a distribution. A
// positive total other than 1 is standardised by dividing through by it.
func NewProbabilityVector(values []float64) (ProbabilityVector, error) {
	if len(values) < 2 {
		return nil, errors.InvalidArgument("probability vector needs at least 2 categories, got %d", len(values)).
			WithComponent(component).WithOperation("NewProbabilityVector")
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return nil, errors.InvalidArgument("probability %d is %v, want a finite non-negative value", i, v).
				WithComponent(component).WithOperation("NewProbabilityVector")
		}
	}

	total := floats.Sum(values)
	if total <= 0 {
		return nil, errors.InvalidArgument("total probability should be greater than 0, not %v", total).
			WithComponent(component).WithOperation("NewProbabilityVector")
	}

	v := make(ProbabilityVector, len(values))
	copy(v, values)
	if total != 1 {
		floats.Scale(1/total, v)
	}
	return v, nil
}

// Dim returns the number of categories.
func (v ProbabilityVector) Dim() int {
	return len(v)
}

// Standardized reports whether values already summed to 1 before construction.
func Standardized(values []float64) bool {
	return floats.Sum(values) == 1
}

// strictlyPositive returns the index of the first non-positive component, or -1.
func (v ProbabilityVector) strictlyPositive() int {
	for i, p := range v {
		if p <= 0 {
			return i
		}
	}
	return -1
}
