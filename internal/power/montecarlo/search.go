package montecarlo

import (
	"context"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/copyleftdev/chipower/internal/errors"
	"github.com/copyleftdev/chipower/internal/metrics"
	"github.com/copyleftdev/chipower/internal/power"
)

const (
	// minimumStep is the smallest step the refinement phase takes.
	minimumStep = 1.0

	// maxStallsAtMinimumStep is how many direction changes at the minimum step
	// are tolerated before the search is declared stuck.
	maxStallsAtMinimumStep = 2
)

// Search finds the smallest sample size whose estimated power lies in
// [confidence, confidence+precision]. It doubles the candidate until the power
// passes the confidence, steps back by a quarter, then walks towards the
// confidence, halving the step each time it crosses it.
type Search struct {
	session   *power.Session
	estimator *Estimator
	logger    *zap.Logger

	mu      sync.Mutex
	history []power.Iteration
	cancel  context.CancelFunc
}

var _ power.Searcher = (*Search)(nil)

// NewSearch creates a search over session.
func NewSearch(session *power.Session, opts ...Option) (*Search, error) {
	estimator, err := NewEstimator(session, opts...)
	if err != nil {
		return nil, err
	}
	return &Search{
		session:   session,
		estimator: estimator,
		logger:    estimator.logger,
	}, nil
}

// searchState is the position of the search between estimates.
type searchState struct {
	n          float64
	delta      float64
	initial    bool
	increasing bool
	stalls     int
}

func newSearchState() searchState {
	return searchState{n: 1, delta: math.Inf(1), initial: true}
}

// advance moves the candidate given the power at the current one. It reports
// false when the step has stalled at its minimum too often.
func (s *searchState) advance(acc, confidence float64) bool {
	if s.initial {
		if acc > confidence {
			s.delta = s.n / 4
			s.n -= s.delta
			s.initial = false
		} else {
			s.n *= 2
		}
		return true
	}

	if (s.increasing && acc > confidence) || (!s.increasing && acc < confidence) {
		s.delta = math.Max(minimumStep, s.delta/2)
		if s.delta <= minimumStep {
			if s.stalls > maxStallsAtMinimumStep {
				return false
			}
			s.stalls++
		}
		s.increasing = !s.increasing
	}
	if s.increasing {
		s.n += s.delta
	} else {
		s.n -= s.delta
	}
	return true
}

func (s *searchState) phase() power.Phase {
	if s.initial {
		return power.PhaseExpansion
	}
	return power.PhaseRefinement
}

func accepted(acc float64, cfg power.SearchConfig) bool {
	return acc >= cfg.Confidence && math.Abs(acc-cfg.Confidence) <= cfg.Precision
}

// Run executes the search. It returns an error only for failed or cancelled
// estimates; stuck and exhausted searches are reported through the result.
// Each call starts a fresh history.
func (s *Search) Run(ctx context.Context) (*power.SearchResult, error) {
	const op = "Run"

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.history = s.history[:0]
	s.mu.Unlock()
	defer cancel()

	cfg := s.session.Config()
	state := newSearchState()
	result := &power.SearchResult{
		Confidence: cfg.Confidence,
		Precision:  cfg.Precision,
	}

	s.logger.Info("sample size search started",
		zap.Float64("critical_value", s.session.CriticalValue()),
		zap.Int("degrees_of_freedom", s.session.DegreesOfFreedom()),
		zap.Float64("confidence", cfg.Confidence),
		zap.Float64("precision", cfg.Precision),
		zap.Int("repetitions", cfg.Repetitions),
	)

	acc := 0.0
	status := power.StatusConverged
	for !accepted(acc, cfg) {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "search cancelled").WithComponent(component).WithOperation(op)
		}
		if result.Iterations >= cfg.MaxIterations {
			status = power.StatusExhausted
			break
		}
		if !state.advance(acc, cfg.Confidence) {
			status = power.StatusStuck
			s.logger.Warn("search got stuck; try running again with widened precision",
				zap.Float64("candidate", state.n),
				zap.Float64("power", acc),
				zap.Float64("band_low", cfg.Confidence),
				zap.Float64("band_high", cfg.Confidence+cfg.Precision),
			)
			break
		}
		if state.n > cfg.MaxSampleSize {
			status = power.StatusExhausted
			break
		}

		size := cfg.Rounding.SampleSize(state.n)
		est, err := s.estimator.Estimate(ctx, size)
		if err != nil {
			return nil, errors.Wrapf(err, "iteration %d", result.Iterations).WithComponent(component).WithOperation(op)
		}
		acc = est.Power

		it := power.Iteration{
			Index:      result.Iterations,
			Phase:      state.phase(),
			Candidate:  state.n,
			SampleSize: size,
			Power:      acc,
			Increasing: state.increasing,
		}
		if !state.initial {
			it.Delta = state.delta
		}
		s.record(it)

		result.Iterations++
		result.Candidate = state.n
		result.SampleSize = size
		result.Power = acc

		s.logger.Debug("significance estimated",
			zap.Int("sample_size", size),
			zap.Float64("power", acc),
			zap.String("phase", string(it.Phase)),
		)

		// no smaller sample exists, so a power already at the confidence is final
		if size == 1 && acc >= cfg.Confidence {
			break
		}
	}

	result.Status = status
	result.History = s.History()
	metrics.ObserveSearch(string(status), result.Iterations)

	s.logger.Info("sample size search finished",
		zap.String("status", string(status)),
		zap.Int("sample_size", result.SampleSize),
		zap.Float64("power", result.Power),
		zap.Int("iterations", result.Iterations),
	)
	return result, nil
}

func (s *Search) record(it power.Iteration) {
	s.mu.Lock()
	s.history = append(s.history, it)
	s.mu.Unlock()
}

// History returns a copy of the iterations made so far.
func (s *Search) History() []power.Iteration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]power.Iteration(nil), s.history...)
}

// Stop cancels a running search. It is a no-op before Run or after it returns.
func (s *Search) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// FindMinimumSampleSize runs a search over session to completion.
func FindMinimumSampleSize(ctx context.Context, session *power.Session, opts ...Option) (*power.SearchResult, error) {
	search, err := NewSearch(session, opts...)
	if err != nil {
		return nil, err
	}
	return search.Run(ctx)
}
