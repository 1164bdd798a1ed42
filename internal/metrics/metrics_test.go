package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_CountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRegistry(reg)

	m.EPacketErrors.WithLabelValues("unauthenticated").Inc()
	m.EPacketErrors.WithLabelValues("unauthenticated").Inc()
	m.WatchdogWarnings.WithLabelValues("2").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, fam := range families {
		if fam.GetName() != "infuse_epacket_errors_total" {
			continue
		}
		for _, metric := range fam.Metric {
			if labelValue(metric, "kind") == "unauthenticated" {
				found = true
				assert.Equal(t, float64(2), metric.GetCounter().GetValue())
			}
		}
	}
	assert.True(t, found, "expected infuse_epacket_errors_total{kind=unauthenticated} to be registered")
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.Label {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
