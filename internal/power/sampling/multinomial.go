// Package sampling provides the random primitives behind the Monte Carlo
// estimator: seedable sources and a multinomial sampler built from gonum's
// binomial distribution.
package sampling

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/copyleftdev/chipower/internal/errors"
)

const (
	component = "sampling"

	// probTolerance is how far a probability vector's total may drift from 1.
	probTolerance = 1e-9

	// pcgStream is mixed into the second PCG word so a seed maps to one stream.
	pcgStream = 0x9e3779b97f4a7c15
)

// NewSource returns a PCG source for seed. A zero seed is replaced with one
// drawn from the runtime generator, giving a non-reproducible stream.
func NewSource(seed uint64) rand.Source {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return rand.NewPCG(seed, seed^pcgStream)
}

// Multinomial draws count vectors from a multinomial distribution. It is not
// safe for concurrent use; give each goroutine its own sampler and source.
type Multinomial struct {
	src rand.Source
}

// NewMultinomial creates a sampler drawing from src.
func NewMultinomial(src rand.Source) *Multinomial {
	return &Multinomial{src: src}
}

// Sample draws one count vector with the given number of trials.
func (m *Multinomial) Sample(trials int, probs []float64) ([]float64, error) {
	if err := validate(trials, probs); err != nil {
		return nil, err.WithOperation("Sample")
	}
	counts := make([]float64, len(probs))
	m.draw(counts, trials, probs)
	return counts, nil
}

// Fill overwrites every row of counts with an independent draw.
func (m *Multinomial) Fill(counts *mat.Dense, trials int, probs []float64) error {
	if err := validate(trials, probs); err != nil {
		return err.WithOperation("Fill")
	}
	rows, cols := counts.Dims()
	if cols != len(probs) {
		return errors.InvalidArgument("count matrix has %d columns, want %d", cols, len(probs)).
			WithComponent(component).WithOperation("Fill")
	}
	for i := 0; i < rows; i++ {
		m.draw(counts.RawRowView(i), trials, probs)
	}
	return nil
}

// draw fills dst by conditional binomials: category i takes
// Binomial(remaining, p_i / remaining mass) of the trials not yet assigned.
func (m *Multinomial) draw(dst []float64, trials int, probs []float64) {
	remaining := float64(trials)
	mass := 1.0
	last := len(probs) - 1

	for i := 0; i < last; i++ {
		if remaining == 0 {
			dst[i] = 0
			continue
		}
		q := 1.0
		if mass > 0 {
			q = math.Min(1, math.Max(0, probs[i]/mass))
		}

		var x float64
		switch q {
		case 0:
		case 1:
			x = remaining
		default:
			x = distuv.Binomial{N: remaining, P: q, Src: m.src}.Rand()
		}

		dst[i] = x
		remaining -= x
		mass -= probs[i]
	}
	dst[last] = remaining
}

func validate(trials int, probs []float64) *errors.Error {
	if trials < 0 {
		return errors.InvalidArgument("trials must be non-negative, got %d", trials).WithComponent(component)
	}
	if len(probs) == 0 {
		return errors.InvalidArgument("probability vector is empty").WithComponent(component)
	}
	for i, p := range probs {
		if p < 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			return errors.InvalidArgument("probability %d is %v, want a finite non-negative value", i, p).
				WithComponent(component)
		}
	}
	if total := floats.Sum(probs); math.Abs(total-1) > probTolerance {
		return errors.InvalidArgument("probabilities sum to %v, want 1", total).WithComponent(component)
	}
	return nil
}
