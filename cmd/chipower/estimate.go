package main

import (
	"fmt"
	"io"

	"github.com/montanaflynn/stats"
	"github.com/spf13/cobra"

	"github.com/copyleftdev/chipower/internal/power"
	"github.com/copyleftdev/chipower/internal/power/montecarlo"
)

func newEstimateCmd(opts *cliOptions) *cobra.Command {
	var n int

	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate the power at one sample size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := opts.session(opts.searchConfig())
			if err != nil {
				return err
			}

			estimator, err := montecarlo.NewEstimator(session, montecarlo.WithLogger(opts.engineLogger()))
			if err != nil {
				return err
			}
			est, err := estimator.Estimate(cmd.Context(), n)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "chisq significance threshold = %g with df=%d\n",
				session.CriticalValue(), session.DegreesOfFreedom())
			fmt.Fprintf(out, "significance of %d = %g using %s confidence.\n",
				est.SampleSize, est.Power, percent(session.Config().Confidence))
			fmt.Fprintf(out, "Number of Tests: %d (standard error = %.4f)\n", est.Repetitions, est.StdError)

			if !opts.verbose {
				return nil
			}
			statistics, err := estimator.SampleStatistics(cmd.Context(), n, session.Config().Repetitions)
			if err != nil {
				return err
			}
			return printStatistics(out, session, statistics)
		},
	}

	cmd.Flags().IntVar(&n, "n", 0, "sample size to estimate the power at")
	_ = cmd.MarkFlagRequired("n")
	return cmd
}

// printStatistics summarises the simulated statistic distribution.
func printStatistics(out io.Writer, session *power.Session, statistics []float64) error {
	data := stats.Float64Data(statistics)
	mean, err := data.Mean()
	if err != nil {
		return err
	}
	median, err := data.Median()
	if err != nil {
		return err
	}
	p90, err := data.Percentile(90)
	if err != nil {
		return err
	}
	maximum, err := data.Max()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "statistic over %d trials: mean %.4f, median %.4f, p90 %.4f, max %.4f (threshold %.4f)\n",
		len(statistics), mean, median, p90, maximum, session.CriticalValue())
	return nil
}
