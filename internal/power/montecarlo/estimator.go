// Package montecarlo estimates the power of the chi-squared goodness-of-fit
// test by simulation, and searches for the smallest sample size reaching a
// target power.
package montecarlo

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/chipower/internal/errors"
	"github.com/copyleftdev/chipower/internal/metrics"
	"github.com/copyleftdev/chipower/internal/power"
	"github.com/copyleftdev/chipower/internal/power/chisq"
	"github.com/copyleftdev/chipower/internal/power/sampling"
)

const (
	component = "montecarlo"

	// blockRows is how many trials a worker simulates between context checks.
	blockRows = 512
)

// Option configures an Estimator or a Search.
type Option func(*options)

type options struct {
	logger *zap.Logger
	pool   *CountPool
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithCountPool shares a count matrix pool between estimators.
func WithCountPool(pool *CountPool) Option {
	return func(o *options) {
		if pool != nil {
			o.pool = pool
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.pool == nil {
		o.pool = NewCountPool()
	}
	return o
}

// Estimator runs Monte Carlo power estimates for one session. Repetitions are
// split between the session's workers; each worker draws from its own source,
// seeded in a fixed order from the estimator's master generator, so a seeded
// session gives the same sequence of estimates on every run.
type Estimator struct {
	session *power.Session
	logger  *zap.Logger
	pool    *CountPool

	mu  sync.Mutex
	rng *rand.Rand
}

// NewEstimator creates an estimator for session.
func NewEstimator(session *power.Session, opts ...Option) (*Estimator, error) {
	if session == nil {
		return nil, errors.InvalidArgument("session is required").
			WithComponent(component).WithOperation("NewEstimator")
	}
	o := buildOptions(opts)
	return &Estimator{
		session: session,
		logger:  o.logger,
		pool:    o.pool,
		rng:     rand.New(sampling.NewSource(session.Config().Seed)),
	}, nil
}

// Estimate simulates the session's repetitions with n observations each, drawn
// from the alternative distribution, and returns the fraction whose statistic
// against the null distribution strictly exceeds the critical value.
func (e *Estimator) Estimate(ctx context.Context, n int) (*power.Estimate, error) {
	const op = "Estimate"

	cfg := e.session.Config()
	if n <= 0 {
		return nil, errors.InvalidArgument("sample size must be positive, got %d", n).
			WithComponent(component).WithOperation(op)
	}
	if cfg.Repetitions <= 0 {
		return nil, errors.InvalidArgument("repetitions must be positive, got %d", cfg.Repetitions).
			WithComponent(component).WithOperation(op)
	}

	start := time.Now()
	exceeded, err := e.simulate(ctx, n, cfg.Repetitions, cfg.Workers)
	metrics.ObserveEstimate(cfg.Repetitions, time.Since(start), err)
	if err != nil {
		return nil, errors.Wrapf(err, "estimate at sample size %d", n).
			WithComponent(component).WithOperation(op)
	}

	est := power.NewEstimate(n, exceeded, cfg.Repetitions)
	e.logger.Debug("power estimated",
		zap.Int("sample_size", n),
		zap.Float64("power", est.Power),
		zap.Int("exceeded", exceeded),
		zap.Duration("elapsed", time.Since(start)),
	)
	return est, nil
}

// simulate runs reps trials across workers and returns how many exceeded the
// critical value.
func (e *Estimator) simulate(ctx context.Context, n, reps, workers int) (int, error) {
	if workers > reps {
		workers = reps
	}
	seeds := e.workerSeeds(workers)

	null := e.session.Null()
	alternative := e.session.Alternative()
	critical := e.session.CriticalValue()
	dim := e.session.Dim()

	exceeded := make([]int, workers)
	g, gctx := errgroup.WithContext(ctx)

	for w := 0; w < workers; w++ {
		share := reps / workers
		if w < reps%workers {
			share++
		}
		g.Go(func() error {
			sampler := sampling.NewMultinomial(sampling.NewSource(seeds[w]))
			counts := e.pool.Get(min(share, blockRows), dim)
			defer e.pool.Put(counts)

			for done := 0; done < share; {
				if err := gctx.Err(); err != nil {
					return err
				}
				rows := min(share-done, blockRows)
				block := counts
				if r, _ := counts.Dims(); rows < r {
					block = counts.Slice(0, rows, 0, dim).(*mat.Dense)
				}
				if err := sampler.Fill(block, n, alternative); err != nil {
					return err
				}
				exceeded[w] += chisq.CountExceeding(block, float64(n), null, critical)
				done += rows
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}

	total := 0
	for _, x := range exceeded {
		total += x
	}
	return total, nil
}

// SampleStatistics simulates trials samples of n observations from the
// alternative distribution and returns the Pearson statistic of each against
// the null distribution. It runs on one goroutine.
func (e *Estimator) SampleStatistics(ctx context.Context, n, trials int) ([]float64, error) {
	const op = "SampleStatistics"

	if n <= 0 {
		return nil, errors.InvalidArgument("sample size must be positive, got %d", n).
			WithComponent(component).WithOperation(op)
	}
	if trials <= 0 {
		return nil, errors.InvalidArgument("trials must be positive, got %d", trials).
			WithComponent(component).WithOperation(op)
	}

	null := e.session.Null()
	alternative := e.session.Alternative()
	dim := e.session.Dim()

	sampler := sampling.NewMultinomial(sampling.NewSource(e.workerSeeds(1)[0]))
	counts := e.pool.Get(min(trials, blockRows), dim)
	defer e.pool.Put(counts)

	out := make([]float64, 0, trials)
	for len(out) < trials {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "statistics sampling cancelled").
				WithComponent(component).WithOperation(op)
		}
		rows := min(trials-len(out), blockRows)
		block := counts
		if r, _ := counts.Dims(); rows < r {
			block = counts.Slice(0, rows, 0, dim).(*mat.Dense)
		}
		if err := sampler.Fill(block, n, alternative); err != nil {
			return nil, errors.Wrap(err, "statistics sampling").WithComponent(component).WithOperation(op)
		}
		out = append(out, chisq.Statistics(block, float64(n), null)...)
	}
	return out, nil
}

// workerSeeds draws one seed per worker from the master generator.
func (e *Estimator) workerSeeds(workers int) []uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	seeds := make([]uint64, workers)
	for i := range seeds {
		// zero asks sampling.NewSource for a random seed
		for seeds[i] == 0 {
			seeds[i] = e.rng.Uint64()
		}
	}
	return seeds
}

// EstimatePower runs a single estimate for session at sample size n.
func EstimatePower(ctx context.Context, session *power.Session, n int, opts ...Option) (*power.Estimate, error) {
	est, err := NewEstimator(session, opts...)
	if err != nil {
		return nil, err
	}
	return est.Estimate(ctx, n)
}
