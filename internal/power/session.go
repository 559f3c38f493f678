// Package power defines the data model of the chi-squared power analysis: the
// probability vectors, the session they are bound into, and the estimate and
// search results produced by the Monte Carlo engine.
package power

import (
	"github.com/copyleftdev/chipower/internal/errors"
	"github.com/copyleftdev/chipower/internal/power/chisq"
)

// Session binds the null and alternative distributions to a SearchConfig and
// the critical value derived from them. A Session never changes after
// NewSession returns, so it can be shared between goroutines.
type Session struct {
	null        ProbabilityVector
	alternative ProbabilityVector
	config      SearchConfig
	critical    float64
}

// NewSession validates its inputs and computes the critical value
// chisq.Quantile(confidence, dim-1) once for the life of the session.
func NewSession(null, alternative []float64, cfg SearchConfig) (*Session, error) {
	const op = "NewSession"

	p, err := NewProbabilityVector(null)
	if err != nil {
		return nil, errors.Wrap(err, "null distribution p")
	}
	ptest, err := NewProbabilityVector(alternative)
	if err != nil {
		return nil, errors.Wrap(err, "alternative distribution ptest")
	}
	if p.Dim() != ptest.Dim() {
		return nil, errors.InvalidArgument("p and ptest do not have the same dimension (%d != %d)", p.Dim(), ptest.Dim()).
			WithComponent(component).WithOperation(op)
	}
	if i := p.strictlyPositive(); i >= 0 {
		return nil, errors.InvalidArgument("null probability %d is zero; every category of p must be possible", i).
			WithComponent(component).WithOperation(op)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	critical, err := chisq.Quantile(cfg.Confidence, p.Dim()-1)
	if err != nil {
		return nil, err
	}

	return &Session{
		null:        p,
		alternative: ptest,
		config:      cfg.withDefaults(),
		critical:    critical,
	}, nil
}

// Null returns a copy of the null hypothesis distribution p.
func (s *Session) Null() ProbabilityVector {
	return append(ProbabilityVector(nil), s.null...)
}

// Alternative returns a copy of the alternative distribution ptest.
func (s *Session) Alternative() ProbabilityVector {
	return append(ProbabilityVector(nil), s.alternative...)
}

// Config returns the session's configuration with defaults applied.
func (s *Session) Config() SearchConfig {
	return s.config
}

// Dim returns the number of categories.
func (s *Session) Dim() int {
	return s.null.Dim()
}

// DegreesOfFreedom returns dim - 1.
func (s *Session) DegreesOfFreedom() int {
	return s.null.Dim() - 1
}

// CriticalValue returns the chi-squared threshold a simulated statistic must
// exceed to count as a detected difference.
func (s *Session) CriticalValue() float64 {
	return s.critical
}
