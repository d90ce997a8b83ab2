// Package sink defines the destination of encoded packets and a registry of
// sink implementations selected by configuration.
package sink

import (
	"github.com/kilianp07/evtelemetry/core/factory"
	"github.com/kilianp07/evtelemetry/core/logger"
)

// Sink receives encoded packets. Write is called once per packet; Flush and
// Close are called once when the run ends.
type Sink interface {
	Write(p []byte) (int, error)
	Flush() error
	Close() error
}

// Env carries the runtime collaborators handed to sink factories.
type Env struct {
	RunID  string
	Logger logger.Logger
}

// Factory builds a Sink from its raw configuration.
type Factory func(conf map[string]any, env Env) (Sink, error)

var registry = factory.NewNamedRegistry[Factory]("output type")

// Register adds a sink factory identified by name.
func Register(name string, f Factory) error {
	if f == nil {
		return registry.Register(name, nil)
	}
	return registry.Register(name, func(map[string]any) (Factory, error) { return f, nil })
}

// New creates the sink described by cfg. An unknown type yields a
// *model.ConfigurationError.
func New(cfg factory.ModuleConfig, env Env) (Sink, error) {
	f, err := registry.Create(cfg)
	if err != nil {
		return nil, err
	}
	env.Logger = logger.OrNop(env.Logger)
	return f(cfg.Conf, env)
}

// Types lists the registered sink types.
func Types() []string { return registry.Names() }

// Discard accepts and drops every packet.
type Discard struct{}

func (Discard) Write(p []byte) (int, error) { return len(p), nil }
func (Discard) Flush() error                { return nil }
func (Discard) Close() error                { return nil }

func init() {
	_ = Register("discard", func(map[string]any, Env) (Sink, error) { return Discard{}, nil })
}
