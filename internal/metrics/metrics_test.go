package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveEstimate(t *testing.T) {
	okBefore := testutil.ToFloat64(estimatesTotal.WithLabelValues("ok"))
	errBefore := testutil.ToFloat64(estimatesTotal.WithLabelValues("error"))
	trialsBefore := testutil.ToFloat64(simulatedTrialsTotal)

	ObserveEstimate(2000, 3*time.Millisecond, nil)
	ObserveEstimate(500, time.Millisecond, fmt.Errorf("cancelled"))

	assert.Equal(t, okBefore+1, testutil.ToFloat64(estimatesTotal.WithLabelValues("ok")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(estimatesTotal.WithLabelValues("error")))
	assert.Equal(t, trialsBefore+2000, testutil.ToFloat64(simulatedTrialsTotal))
}

func TestObserveSearch(t *testing.T) {
	before := testutil.ToFloat64(searchRunsTotal.WithLabelValues("stuck"))

	ObserveSearch("stuck", 42)

	assert.Equal(t, before+1, testutil.ToFloat64(searchRunsTotal.WithLabelValues("stuck")))
}

func TestJobGauge(t *testing.T) {
	before := testutil.ToFloat64(activeJobs)

	JobStarted()
	JobStarted()
	JobFinished()

	assert.Equal(t, before+1, testutil.ToFloat64(activeJobs))
	JobFinished()
}
