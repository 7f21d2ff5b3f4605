package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCommandsDrainedIncrements(t *testing.T) {
	CommandsDrained.Reset()
	CommandsDrained.WithLabelValues("match-1", "spawn_entity").Inc()
	CommandsDrained.WithLabelValues("match-1", "spawn_entity").Inc()

	got := testutil.ToFloat64(CommandsDrained.WithLabelValues("match-1", "spawn_entity"))
	if got != 2 {
		t.Fatalf("expected counter value 2, got %v", got)
	}
}

func TestActiveConnectionsGauge(t *testing.T) {
	ActiveConnections.Set(0)
	ActiveConnections.Inc()
	ActiveConnections.Inc()
	ActiveConnections.Dec()

	got := testutil.ToFloat64(ActiveConnections)
	if got != 1 {
		t.Fatalf("expected gauge value 1, got %v", got)
	}
}

func TestSandboxTrapsLabeledByKind(t *testing.T) {
	SandboxTraps.Reset()
	SandboxTraps.WithLabelValues("fuel_exhausted").Inc()

	got := testutil.ToFloat64(SandboxTraps.WithLabelValues("fuel_exhausted"))
	if got != 1 {
		t.Fatalf("expected trap counter 1, got %v", got)
	}
}
