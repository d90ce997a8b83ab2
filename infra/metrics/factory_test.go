package metrics_test

import (
	"errors"
	"testing"

	"github.com/kilianp07/evtelemetry/core/factory"
	coremetrics "github.com/kilianp07/evtelemetry/core/metrics"
	"github.com/kilianp07/evtelemetry/core/model"
	metrics "github.com/kilianp07/evtelemetry/infra/metrics"
)

/*
TestRecorderFactory_Builtins verifies registration via infra/metrics/factory.go.

	Cases:
	- instantiate builtin nop and prometheus recorders
	- influx without url is a configuration error
	- unknown type returns error
*/
func TestRecorderFactory_Builtins(t *testing.T) {
	r, err := coremetrics.NewRecorder([]factory.ModuleConfig{{Type: "nop"}, {Type: "prometheus"}}, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	m, ok := r.(*coremetrics.MultiRecorder)
	if !ok || len(m.Recorders) != 2 {
		t.Fatalf("expected MultiRecorder with 2 recorders, got %T", r)
	}
	if _, ok := m.Recorders[1].(*metrics.PromRecorder); !ok {
		t.Fatalf("expected PromRecorder, got %T", m.Recorders[1])
	}

	_, err = coremetrics.NewRecorder([]factory.ModuleConfig{{Type: "influx", Conf: map[string]any{"org": "o"}}}, nil)
	if !errors.Is(err, model.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := coremetrics.NewRecorder([]factory.ModuleConfig{{Type: "missing"}}, nil); err == nil {
		t.Fatal("expected error for unknown type")
	}
}
