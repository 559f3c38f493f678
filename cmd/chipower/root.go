package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/copyleftdev/chipower/internal/config"
	"github.com/copyleftdev/chipower/internal/logging"
	"github.com/copyleftdev/chipower/internal/power"
)

// cliOptions holds the flags shared by all subcommands.
type cliOptions struct {
	p             []float64
	ptest         []float64
	confidence    float64
	precision     float64
	repetitions   int
	maxIterations int
	maxSampleSize float64
	rounding      string
	seed          uint64
	workers       int
	verbose       bool
	logLevel      string

	logger *logging.Logger
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	defaults := cfg.SearchDefaults()
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:   "chipower",
		Short: "Monte Carlo power analysis for the chi-squared goodness-of-fit test",
		Long: `Estimate how often a chi-squared goodness-of-fit test against the null
distribution p rejects samples drawn from an alternative distribution ptest,
and find the smallest sample size at which it does so with the requested
confidence.

Defaults come from the POWER_* environment variables.

Examples:
  chipower estimate --p 0.5,0.5 --ptest 0.6,0.4 --n 200
  chipower search --p 0.5,0.5 --ptest 0.6,0.4 --confidence 0.8 --precision 0.01
  chipower search --p 0.0004,0.9996 --ptest 0.001,0.999 --runs 5`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.NewLogger(&logging.Config{
				Level:  opts.logLevel,
				Format: "console",
				Output: "stderr",
			})
			if err != nil {
				return err
			}
			opts.logger = logger
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.Float64SliceVar(&opts.p, "p", nil, "null hypothesis distribution, comma separated")
	flags.Float64SliceVar(&opts.ptest, "ptest", nil, "alternative distribution to detect, comma separated")
	flags.Float64Var(&opts.confidence, "confidence", defaults.Confidence, "target power and significance level")
	flags.Float64Var(&opts.precision, "precision", defaults.Precision, "accepted distance above the confidence")
	flags.IntVar(&opts.repetitions, "repetitions", defaults.Repetitions, "simulated samples per estimate")
	flags.IntVar(&opts.maxIterations, "max-iterations", defaults.MaxIterations, "estimates a search may make")
	flags.Float64Var(&opts.maxSampleSize, "max-sample-size", defaults.MaxSampleSize, "largest sample size a search may try")
	flags.StringVar(&opts.rounding, "rounding", string(defaults.Rounding), "sample size rounding: nearest, floor or ceil")
	flags.Uint64Var(&opts.seed, "seed", defaults.Seed, "random seed, 0 for unseeded")
	flags.IntVar(&opts.workers, "workers", defaults.Workers, "goroutines per estimate")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "print every intermediate estimate and the statistic distribution")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	_ = root.MarkPersistentFlagRequired("p")
	_ = root.MarkPersistentFlagRequired("ptest")

	root.AddCommand(newEstimateCmd(opts), newSearchCmd(opts))
	return root
}

// searchConfig assembles the session configuration from the flags.
func (o *cliOptions) searchConfig() power.SearchConfig {
	return power.SearchConfig{
		Confidence:    o.confidence,
		Precision:     o.precision,
		Repetitions:   o.repetitions,
		MaxIterations: o.maxIterations,
		MaxSampleSize: o.maxSampleSize,
		Rounding:      power.RoundingPolicy(o.rounding),
		Seed:          o.seed,
		Workers:       o.workers,
	}
}

// session validates the distributions and builds a session, warning about
// vectors that had to be standardised.
func (o *cliOptions) session(cfg power.SearchConfig) (*power.Session, error) {
	for name, v := range map[string][]float64{"p": o.p, "ptest": o.ptest} {
		if len(v) > 0 && !power.Standardized(v) {
			o.logger.Warn(fmt.Sprintf("The probabilities in %s do not sum to 1; standardising", name), map[string]interface{}{
				"values": v,
			})
		}
	}
	return power.NewSession(o.p, o.ptest, cfg)
}

// engineLogger is the zap logger handed to the Monte Carlo engine.
func (o *cliOptions) engineLogger() *zap.Logger {
	return o.logger.Named("montecarlo")
}

func percent(confidence float64) string {
	return fmt.Sprintf("%g%%", 100*confidence)
}
