package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/chipower/internal/power"
	"github.com/copyleftdev/chipower/internal/power/montecarlo"
)

func newSearchCmd(opts *cliOptions) *cobra.Command {
	var runs int

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Find the smallest sample size reaching the confidence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if runs < 1 {
				return fmt.Errorf("--runs must be at least 1, got %d", runs)
			}

			out := cmd.OutOrStdout()
			results := make([]*power.SearchResult, 0, runs)
			for i := 0; i < runs; i++ {
				cfg := opts.searchConfig()
				if cfg.Seed != 0 {
					cfg.Seed += uint64(i)
				}
				session, err := opts.session(cfg)
				if err != nil {
					return err
				}
				if i == 0 {
					fmt.Fprintf(out, "chisq significance threshold = %g with df=%d\n",
						session.CriticalValue(), session.DegreesOfFreedom())
				}

				result, err := montecarlo.FindMinimumSampleSize(cmd.Context(), session,
					montecarlo.WithLogger(opts.engineLogger()))
				if err != nil {
					return err
				}
				if opts.verbose {
					printHistory(out, result)
				}
				printResult(out, session, result)
				results = append(results, result)
			}

			if runs > 1 {
				summary, err := power.Summarize(results)
				if err != nil {
					return err
				}
				printSummary(out, summary)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&runs, "runs", 1, "number of independent searches to run and summarise")
	return cmd
}

func printHistory(out io.Writer, result *power.SearchResult) {
	for i, it := range result.History {
		if i > 0 && it.Phase != result.History[i-1].Phase {
			fmt.Fprintf(out, "initial increase finished, d=%g\n", it.Delta)
		}
		fmt.Fprintf(out, "significance of %d = %g using %s confidence.\n",
			it.SampleSize, it.Power, percent(result.Confidence))
	}
}

func printResult(out io.Writer, session *power.Session, result *power.SearchResult) {
	cfg := session.Config()
	switch result.Status {
	case power.StatusConverged:
		fmt.Fprintf(out, "Number of Tests: %d\n", cfg.Repetitions)
		fmt.Fprintf(out, "To differentiate between null %v and %v with %s confidence, use at least\n",
			[]float64(session.Null()), []float64(session.Alternative()), percent(cfg.Confidence))
		fmt.Fprintf(out, "Sample Size: %d (accuracy = %g)\n", result.SampleSize, result.Power)
	case power.StatusStuck:
		fmt.Fprintf(out, "search got stuck around N=%d and accuracy=%g searching for confidence in [%g, %g], try running again with widened precision\n",
			result.SampleSize, result.Power, cfg.Confidence, cfg.Confidence+cfg.Precision)
	case power.StatusExhausted:
		fmt.Fprintf(out, "search gave up after %d estimates at N=%d with accuracy=%g; raise --max-iterations or --max-sample-size\n",
			result.Iterations, result.SampleSize, result.Power)
	}
}

func printSummary(out io.Writer, s *power.RunSummary) {
	fmt.Fprintf(out, "Runs: %d (converged %d, stuck %d, exhausted %d)\n", s.Runs, s.Converged, s.Stuck, s.Exhausted)
	if s.Converged == 0 {
		return
	}
	fmt.Fprintf(out, "Sample Size: min %g, median %g, mean %.1f, p90 %g, max %g, sd %.1f\n",
		s.MinN, s.MedianN, s.MeanN, s.P90N, s.MaxN, s.StdDevN)
}
