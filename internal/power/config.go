package power

import (
	"math"

	"github.com/copyleftdev/chipower/internal/errors"
)

const component = "power"

// Defaults applied by SearchConfig.withDefaults for unset bounds.
const (
	DefaultMaxIterations = 1000
	DefaultMaxSampleSize = 1e9

	// SampleSizeLimit is the largest sample size a simulation accepts.
	SampleSizeLimit = math.MaxInt32
)

// RoundingPolicy converts the search's real-valued candidate into the integer
// sample size handed to the sampler.
type RoundingPolicy string

const (
	// RoundNearest rounds half away from zero. This is the default.
	RoundNearest RoundingPolicy = "nearest"
	// RoundDown truncates, as an integer coercion inside a sampler would.
	RoundDown RoundingPolicy = "floor"
	// RoundUp takes the ceiling, never simulating fewer samples than the candidate.
	RoundUp RoundingPolicy = "ceil"
)

// Valid reports whether r names a known policy. The empty policy is valid and
// means RoundNearest.
func (r RoundingPolicy) Valid() bool {
	switch r {
	case "", RoundNearest, RoundDown, RoundUp:
		return true
	}
	return false
}

// SampleSize converts candidate n into a sample size of at least 1.
func (r RoundingPolicy) SampleSize(n float64) int {
	var v float64
	switch r {
	case RoundDown:
		v = math.Floor(n)
	case RoundUp:
		v = math.Ceil(n)
	default:
		v = math.Round(n)
	}
	if v < 1 || math.IsNaN(v) {
		return 1
	}
	if v > SampleSizeLimit {
		return SampleSizeLimit
	}
	return int(v)
}

// SearchConfig holds the parameters of one power analysis session.
type SearchConfig struct {
	// Confidence is the target power, and the level of the critical value.
	Confidence float64 `json:"confidence"`
	// Precision is how far above Confidence an accepted power may be.
	Precision float64 `json:"precision"`
	// Repetitions is the number of simulated samples per power estimate.
	Repetitions int `json:"repetitions"`
	// MaxIterations bounds the number of estimates one search may make.
	MaxIterations int `json:"max_iterations,omitempty"`
	// MaxSampleSize bounds the candidate sample size.
	MaxSampleSize float64 `json:"max_sample_size,omitempty"`
	// Rounding converts candidates to sample sizes.
	Rounding RoundingPolicy `json:"rounding,omitempty"`
	// Seed makes estimates reproducible. Zero means unseeded.
	Seed uint64 `json:"seed,omitempty"`
	// Workers is the number of goroutines sharing the repetitions of one estimate.
	Workers int `json:"workers,omitempty"`
}

// Validate checks the configuration before any simulation runs.
func (c SearchConfig) Validate() error {
	if math.IsNaN(c.Confidence) || c.Confidence <= 0 || c.Confidence >= 1 {
		return errors.InvalidArgument("confidence must be in (0, 1), got %v", c.Confidence).
			WithComponent(component).WithOperation("Validate")
	}
	if math.IsNaN(c.Precision) || c.Precision <= 0 {
		return errors.InvalidArgument("precision must be positive, got %v", c.Precision).
			WithComponent(component).WithOperation("Validate")
	}
	if c.Repetitions <= 0 {
		return errors.InvalidArgument("repetitions must be positive, got %d", c.Repetitions).
			WithComponent(component).WithOperation("Validate")
	}
	if c.MaxIterations < 0 {
		return errors.InvalidArgument("max iterations must not be negative, got %d", c.MaxIterations).
			WithComponent(component).WithOperation("Validate")
	}
	if math.IsNaN(c.MaxSampleSize) || c.MaxSampleSize < 0 {
		return errors.InvalidArgument("max sample size must not be negative, got %v", c.MaxSampleSize).
			WithComponent(component).WithOperation("Validate")
	}
	if c.MaxSampleSize > SampleSizeLimit {
		return errors.InvalidArgument("max sample size must not exceed %d, got %v", SampleSizeLimit, c.MaxSampleSize).
			WithComponent(component).WithOperation("Validate")
	}
	if !c.Rounding.Valid() {
		return errors.InvalidArgument("unknown rounding policy %q", c.Rounding).
			WithComponent(component).WithOperation("Validate")
	}
	if c.Workers < 0 {
		return errors.InvalidArgument("workers must not be negative, got %d", c.Workers).
			WithComponent(component).WithOperation("Validate")
	}
	return nil
}

func (c SearchConfig) withDefaults() SearchConfig {
	if c.MaxIterations == 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.MaxSampleSize == 0 {
		c.MaxSampleSize = DefaultMaxSampleSize
	}
	if c.Rounding == "" {
		c.Rounding = RoundNearest
	}
	if c.Workers == 0 {
		c.Workers = 1
	}
	return c
}
