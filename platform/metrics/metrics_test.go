package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.OutboundSends.WithLabelValues("sent").Inc()
	m.LeadsByTemperature.WithLabelValues("hot").Set(3)
	m.ObserveSince(m.StoreSaveDuration, time.Now().Add(-time.Second))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	byName := make(map[string]bool, len(families))
	for _, f := range families {
		byName[f.GetName()] = true
	}
	for _, name := range []string{"lead_outbound_sends_total", "leads_by_temperature", "lead_store_save_duration_seconds"} {
		if !byName[name] {
			t.Fatalf("expected %s to be gathered, got %v", name, byName)
		}
	}
}

func TestNewRejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Fatal("expected a second registration on the same registry to panic")
		}
	}()
	New(reg)
}

func TestObserveSinceNil(t *testing.T) {
	var m *Metrics
	m.ObserveSince(nil, time.Now())
	Nop().ObserveSince(nil, time.Now())
}
