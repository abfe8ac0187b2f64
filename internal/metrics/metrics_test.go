package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistration(t *testing.T) {
	collectors := []prometheus.Collector{
		SubscribersCurrent,
		FramesBroadcastTotal,
		SubscriberWriteFailuresTotal,
		TicksTotal,
		TickDuration,
		HTTPResponsesTotal,
		ConfigUpdatesTotal,
	}

	for _, c := range collectors {
		desc := make(chan *prometheus.Desc, 1)
		c.Describe(desc)
		close(desc)
		require.NotNil(t, <-desc)
	}
}

func TestCounterVecLabels(t *testing.T) {
	before := testutil.ToFloat64(HTTPResponsesTotal.WithLabelValues("orientation", "200"))
	HTTPResponsesTotal.WithLabelValues("orientation", "200").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(HTTPResponsesTotal.WithLabelValues("orientation", "200")))

	before = testutil.ToFloat64(ConfigUpdatesTotal.WithLabelValues("interval", "ignored"))
	ConfigUpdatesTotal.WithLabelValues("interval", "ignored").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(ConfigUpdatesTotal.WithLabelValues("interval", "ignored")))
}
