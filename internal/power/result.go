package power

import (
	"context"
	"math"
)

// Estimate is the outcome of one Monte Carlo power estimate.
type Estimate struct {
	SampleSize  int     `json:"sample_size"`
	Power       float64 `json:"power"`
	Repetitions int     `json:"repetitions"`
	Exceeded    int     `json:"exceeded"`
	StdError    float64 `json:"std_error"`
}

// NewEstimate builds an Estimate from the number of trials whose statistic
// exceeded the critical value.
func NewEstimate(sampleSize, exceeded, repetitions int) *Estimate {
	p := float64(exceeded) / float64(repetitions)
	return &Estimate{
		SampleSize:  sampleSize,
		Power:       p,
		Repetitions: repetitions,
		Exceeded:    exceeded,
		StdError:    math.Sqrt(p * (1 - p) / float64(repetitions)),
	}
}

// Phase names the stage of the search an iteration belongs to.
type Phase string

const (
	PhaseExpansion  Phase = "expansion"
	PhaseRefinement Phase = "refinement"
)

// Iteration records one estimate made by a search.
type Iteration struct {
	Index      int     `json:"index"`
	Phase      Phase   `json:"phase"`
	Candidate  float64 `json:"candidate"`
	SampleSize int     `json:"sample_size"`
	Power      float64 `json:"power"`
	Delta      float64 `json:"delta,omitempty"`
	Increasing bool    `json:"increasing"`
}

// Status is the terminal state of a search.
type Status string

const (
	// StatusConverged means the last power lies in [confidence, confidence+precision],
	// or that sample size 1 already reaches the confidence.
	StatusConverged Status = "converged"
	// StatusStuck means the step collapsed to its minimum and the search kept
	// oscillating across the confidence without landing in the band.
	StatusStuck Status = "stuck"
	// StatusExhausted means the iteration or sample size bound was hit first.
	StatusExhausted Status = "exhausted"
)

// SearchResult is the outcome of a minimum sample size search.
type SearchResult struct {
	Status Status `json:"status"`
	// SampleSize is the sample size last simulated.
	SampleSize int `json:"sample_size"`
	// Candidate is the real-valued search position SampleSize was rounded from.
	Candidate  float64     `json:"candidate"`
	Power      float64     `json:"power"`
	Confidence float64     `json:"confidence"`
	Precision  float64     `json:"precision"`
	Iterations int         `json:"iterations"`
	History    []Iteration `json:"history,omitempty"`
}

// Converged reports whether the search found an acceptable sample size.
func (r *SearchResult) Converged() bool {
	return r != nil && r.Status == StatusConverged
}

// Searcher runs a minimum sample size search.
type Searcher interface {
	// Run searches until convergence, a stuck or exhausted outcome, or until
	// ctx is done.
	Run(ctx context.Context) (*SearchResult, error)

	// History returns the iterations made so far. Safe to call during Run.
	History() []Iteration

	// Stop cancels a running search.
	Stop()
}
