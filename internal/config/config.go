package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/copyleftdev/chipower/internal/power"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Power struct {
		Confidence    float64 `env:"POWER_CONFIDENCE" envDefault:"0.95"`
		Precision     float64 `env:"POWER_PRECISION" envDefault:"0.0001"`
		Repetitions   int     `env:"POWER_REPETITIONS" envDefault:"10000"`
		MaxIterations int     `env:"POWER_MAX_ITERATIONS" envDefault:"1000"`
		MaxSampleSize float64 `env:"POWER_MAX_SAMPLE_SIZE" envDefault:"1e9"`
		Rounding      string  `env:"POWER_ROUNDING" envDefault:"nearest"`
		Seed          uint64  `env:"POWER_SEED" envDefault:"0"`
		WorkerCount   int     `env:"POWER_WORKER_COUNT" envDefault:"4"`
	}
	Jobs struct {
		MaxConcurrent int `env:"JOBS_MAX_CONCURRENT" envDefault:"4"`
		// Retention is how long a finished job stays queryable; zero keeps jobs forever.
		Retention time.Duration `env:"JOBS_RETENTION" envDefault:"1h"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Debug logging in development unless asked otherwise
	if cfg.Logging.Level == "" {
		if cfg.Environment == "development" {
			cfg.Logging.Level = "debug"
		} else {
			cfg.Logging.Level = "info"
		}
	}

	if cfg.Power.WorkerCount <= 0 {
		cfg.Power.WorkerCount = runtime.GOMAXPROCS(0)
	}
	if cfg.Jobs.MaxConcurrent <= 0 {
		cfg.Jobs.MaxConcurrent = 1
	}

	if err := cfg.SearchDefaults().Validate(); err != nil {
		return nil, fmt.Errorf("invalid power defaults: %w", err)
	}

	return cfg, nil
}

// SearchDefaults returns the search parameters requests start from.
func (c *Config) SearchDefaults() power.SearchConfig {
	return power.SearchConfig{
		Confidence:    c.Power.Confidence,
		Precision:     c.Power.Precision,
		Repetitions:   c.Power.Repetitions,
		MaxIterations: c.Power.MaxIterations,
		MaxSampleSize: c.Power.MaxSampleSize,
		Rounding:      power.RoundingPolicy(c.Power.Rounding),
		Seed:          c.Power.Seed,
		Workers:       c.Power.WorkerCount,
	}
}
