package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(CallsDispatched.WithLabelValues("direct", "completed"))
	CallsDispatched.WithLabelValues("direct", "completed").Inc()
	assert.InDelta(t, before+1, testutil.ToFloat64(CallsDispatched.WithLabelValues("direct", "completed")), 1e-9)

	before = testutil.ToFloat64(DispatchFailures.WithLabelValues("orchestrator"))
	DispatchFailures.WithLabelValues("orchestrator").Add(2)
	assert.InDelta(t, before+2, testutil.ToFloat64(DispatchFailures.WithLabelValues("orchestrator")), 1e-9)
}
