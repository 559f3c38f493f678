package power

import (
	"github.com/montanaflynn/stats"
)

// RunSummary aggregates repeated searches over the same session. Rerunning is
// the usual answer to a stuck search, and the spread of converged sample sizes
// shows how much of the answer is Monte Carlo noise.
type RunSummary struct {
	Runs      int     `json:"runs"`
	Converged int     `json:"converged"`
	Stuck     int     `json:"stuck"`
	Exhausted int     `json:"exhausted"`
	MinN      float64 `json:"min_n,omitempty"`
	MaxN      float64 `json:"max_n,omitempty"`
	MeanN     float64 `json:"mean_n,omitempty"`
	MedianN   float64 `json:"median_n,omitempty"`
	StdDevN   float64 `json:"std_dev_n,omitempty"`
	P90N      float64 `json:"p90_n,omitempty"`
}

// Summarize computes sample size statistics over the converged results.
func Summarize(results []*SearchResult) (*RunSummary, error) {
	summary := &RunSummary{Runs: len(results)}

	var sizes stats.Float64Data
	for _, r := range results {
		if r == nil {
			continue
		}
		switch r.Status {
		case StatusConverged:
			summary.Converged++
			sizes = append(sizes, float64(r.SampleSize))
		case StatusStuck:
			summary.Stuck++
		case StatusExhausted:
			summary.Exhausted++
		}
	}
	if len(sizes) == 0 {
		return summary, nil
	}

	var err error
	if summary.MinN, err = sizes.Min(); err != nil {
		return nil, err
	}
	if summary.MaxN, err = sizes.Max(); err != nil {
		return nil, err
	}
	if summary.MeanN, err = sizes.Mean(); err != nil {
		return nil, err
	}
	if summary.MedianN, err = sizes.Median(); err != nil {
		return nil, err
	}
	if len(sizes) > 1 {
		if summary.StdDevN, err = sizes.StandardDeviationSample(); err != nil {
			return nil, err
		}
	}
	if summary.P90N, err = sizes.Percentile(90); err != nil {
		return nil, err
	}
	return summary, nil
}
