package server

import (
	"encoding/json"
	"io"

	"github.com/go-playground/validator/v10"

	"github.com/copyleftdev/chipower/internal/errors"
	"github.com/copyleftdev/chipower/internal/power"
)

// validate checks request bodies before any session is built.
var validate = validator.New()

// SearchParams are the inputs shared by estimates and searches. Unset optional
// fields fall back to the server's configured defaults.
type SearchParams struct {
	P             []float64 `json:"p" validate:"required,min=2,dive,gte=0"`
	PTest         []float64 `json:"ptest" validate:"required,min=2,dive,gte=0"`
	Confidence    *float64  `json:"confidence,omitempty" validate:"omitempty,gt=0,lt=1"`
	Precision     *float64  `json:"precision,omitempty" validate:"omitempty,gt=0"`
	Repetitions   *int      `json:"repetitions,omitempty" validate:"omitempty,gt=0"`
	MaxIterations *int      `json:"max_iterations,omitempty" validate:"omitempty,gt=0"`
	MaxSampleSize *float64  `json:"max_sample_size,omitempty" validate:"omitempty,gt=0,lte=2147483647"`
	Rounding      string    `json:"rounding,omitempty" validate:"omitempty,oneof=nearest floor ceil"`
	Seed          *uint64   `json:"seed,omitempty"`
}

// EstimateRequest asks for the power at one sample size.
type EstimateRequest struct {
	SearchParams
	N int `json:"n" validate:"required,gt=0,lte=2147483647"`
}

// SearchRequest starts a minimum sample size search.
type SearchRequest struct {
	SearchParams
}

// searchIDRequest names an existing search job.
type searchIDRequest struct {
	SearchID string `json:"search_id" validate:"required"`
}

// EstimateResponse reports an estimate with the threshold it was measured against.
type EstimateResponse struct {
	*power.Estimate
	Confidence       float64 `json:"confidence"`
	CriticalValue    float64 `json:"critical_value"`
	DegreesOfFreedom int     `json:"degrees_of_freedom"`
}

// merge overlays the set fields of p onto defaults.
func (p SearchParams) merge(defaults power.SearchConfig) power.SearchConfig {
	cfg := defaults
	if p.Confidence != nil {
		cfg.Confidence = *p.Confidence
	}
	if p.Precision != nil {
		cfg.Precision = *p.Precision
	}
	if p.Repetitions != nil {
		cfg.Repetitions = *p.Repetitions
	}
	if p.MaxIterations != nil {
		cfg.MaxIterations = *p.MaxIterations
	}
	if p.MaxSampleSize != nil {
		cfg.MaxSampleSize = *p.MaxSampleSize
	}
	if p.Rounding != "" {
		cfg.Rounding = power.RoundingPolicy(p.Rounding)
	}
	if p.Seed != nil {
		cfg.Seed = *p.Seed
	}
	return cfg
}

// decodeRequest reads a JSON body into v and validates it.
func decodeRequest(r io.Reader, v interface{}) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.InvalidArgument("invalid request body: %v", err).WithComponent(component)
	}
	return validateRequest(v)
}

func validateRequest(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		return errors.InvalidArgument("invalid request: %v", err).WithComponent(component)
	}
	return nil
}
