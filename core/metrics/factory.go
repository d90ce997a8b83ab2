package metrics

import (
	"github.com/kilianp07/evtelemetry/core/factory"
	"github.com/kilianp07/evtelemetry/core/logger"
)

// Config defines settings for metrics recorders.
type Config struct {
	// Listen is the address of the Prometheus endpoint; empty disables it.
	Listen string                 `json:"listen"`
	Sinks  []factory.ModuleConfig `json:"sinks"`
}

// Factory builds a Recorder from its raw configuration.
type Factory func(conf map[string]any, log logger.Logger) (Recorder, error)

var registry = factory.NewNamedRegistry[Factory]("metrics sink type")

// RegisterRecorder adds a recorder factory identified by name.
func RegisterRecorder(name string, f Factory) error {
	if f == nil {
		return registry.Register(name, nil)
	}
	return registry.Register(name, func(map[string]any) (Factory, error) { return f, nil })
}

// NewRecorder creates a Recorder from the provided configuration.
func NewRecorder(cfgs []factory.ModuleConfig, log logger.Logger) (Recorder, error) {
	log = logger.OrNop(log)
	if len(cfgs) == 0 {
		return NopRecorder{}, nil
	}
	recs := make([]Recorder, len(cfgs))
	for i, c := range cfgs {
		f, err := registry.Create(c)
		if err != nil {
			return nil, err
		}
		r, err := f(c.Conf, log)
		if err != nil {
			return nil, err
		}
		recs[i] = r
	}
	if len(recs) == 1 {
		return recs[0], nil
	}
	return NewMultiRecorder(recs...), nil
}

// RecorderTypes lists the registered recorder types.
func RecorderTypes() []string { return registry.Names() }
