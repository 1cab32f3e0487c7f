package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestProbeCounters(t *testing.T) {
	c := NewCollector("test", prometheus.NewRegistry())

	c.RecordProbe(true, 0.1)
	c.RecordProbe(true, 0.2)
	c.RecordProbe(false, 5)
	c.RecordProbeJoined()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.probesTotal.WithLabelValues("online")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.probesTotal.WithLabelValues("offline")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.probesJoined))
}

func TestEndpointAttempts(t *testing.T) {
	c := NewCollector("test", prometheus.NewRegistry())

	c.RecordEndpointAttempt("Google", false)
	c.RecordEndpointAttempt("Cloudflare", true)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.endpointAttempts.WithLabelValues("Google", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.endpointAttempts.WithLabelValues("Cloudflare", "success")))
}

func TestGauges(t *testing.T) {
	c := NewCollector("test", prometheus.NewRegistry())

	c.SetOnline(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.online))
	c.SetOnline(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.online))

	c.SetUptimePercent(67)
	assert.Equal(t, 67.0, testutil.ToFloat64(c.uptimePercent))

	c.WebsocketConnected()
	c.WebsocketConnected()
	c.WebsocketDisconnected()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.websocketClients))
}

func TestRecordExport(t *testing.T) {
	c := NewCollector("test", prometheus.NewRegistry())

	c.RecordExport(nil)
	c.RecordExport(errors.New("disk full"))
	c.RecordExport(errors.New("disk full"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.exportsTotal.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.exportsTotal.WithLabelValues("error")))
}
