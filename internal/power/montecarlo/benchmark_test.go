package montecarlo

import (
	"context"
	"fmt"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/chipower/internal/power"
)

// BenchmarkEstimate measures one power estimate as sample size, repetitions
// and workers grow.
func BenchmarkEstimate(b *testing.B) {
	null := []float64{0.2, 0.2, 0.2, 0.2, 0.2}
	alternative := []float64{0.3, 0.2, 0.2, 0.15, 0.15}

	tests := []struct {
		n, reps, workers int
	}{
		{100, 1000, 1},
		{1000, 10000, 1},
		{1000, 10000, 2},
		{1000, 10000, 4},
		{1000, 10000, runtime.GOMAXPROCS(0)},
		{10000, 10000, 4},
	}

	for _, tt := range tests {
		name := fmt.Sprintf("N=%d/reps=%d/workers=%d", tt.n, tt.reps, tt.workers)
		b.Run(name, func(b *testing.B) {
			session := newSession(b, null, alternative, power.SearchConfig{
				Confidence:  0.95,
				Precision:   0.01,
				Repetitions: tt.reps,
				Seed:        42,
				Workers:     tt.workers,
			})
			estimator, err := NewEstimator(session)
			require.NoError(b, err)

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_, err := estimator.Estimate(context.Background(), tt.n)
				require.NoError(b, err)
			}
		})
	}
}

// BenchmarkCountPool measures a Get/Put round trip, with and without reshaping.
func BenchmarkCountPool(b *testing.B) {
	b.Run("SameShape", func(b *testing.B) {
		pool := NewCountPool()
		pool.Put(pool.Get(blockRows, 5))

		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			pool.Put(pool.Get(blockRows, 5))
		}
	})

	b.Run("Reshape", func(b *testing.B) {
		pool := NewCountPool()
		pool.Put(pool.Get(blockRows, 5))

		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			rows := blockRows
			if i%2 == 1 {
				rows = blockRows / 2
			}
			pool.Put(pool.Get(rows, 5))
		}
	})
}

// BenchmarkSearch measures a full minimum sample size search.
func BenchmarkSearch(b *testing.B) {
	tests := []struct {
		name        string
		null        []float64
		alternative []float64
		reps        int
	}{
		{"TwoCategories", []float64{0.5, 0.5}, []float64{0.6, 0.4}, 1000},
		{"FiveCategories", []float64{0.2, 0.2, 0.2, 0.2, 0.2}, []float64{0.3, 0.2, 0.2, 0.15, 0.15}, 1000},
	}

	for _, tt := range tests {
		b.Run(tt.name, func(b *testing.B) {
			session := newSession(b, tt.null, tt.alternative, power.SearchConfig{
				Confidence:  0.8,
				Precision:   0.05,
				Repetitions: tt.reps,
				Seed:        1,
				Workers:     runtime.GOMAXPROCS(0),
			})
			search, err := NewSearch(session)
			require.NoError(b, err)

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_, err := search.Run(context.Background())
				require.NoError(b, err)
			}
		})
	}
}
