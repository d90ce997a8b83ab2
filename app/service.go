// Package app wires configuration, logging, the output sink, metrics and
// the generator engine into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/evtelemetry/config"
	"github.com/kilianp07/evtelemetry/core/engine"
	"github.com/kilianp07/evtelemetry/core/factory"
	coremetrics "github.com/kilianp07/evtelemetry/core/metrics"
	coremon "github.com/kilianp07/evtelemetry/core/monitoring"
	"github.com/kilianp07/evtelemetry/core/sink"
	"github.com/kilianp07/evtelemetry/infra/logger"
	"github.com/kilianp07/evtelemetry/infra/metrics"
	"github.com/kilianp07/evtelemetry/infra/monitoring"

	// Register the built-in sinks.
	_ "github.com/kilianp07/evtelemetry/infra/capture"
	_ "github.com/kilianp07/evtelemetry/infra/mqtt"
	_ "github.com/kilianp07/evtelemetry/infra/serial"
)

// Service runs one generator session.
type Service struct {
	RunID string

	engine   *engine.Engine
	recorder coremetrics.Recorder
	monitor  coremon.Monitor
	logs     *logger.Provider
	ownLogs  bool
	log      logger.Logger
	listen   string
	tags     map[string]string
}

// Option customizes a Service.
type Option func(*options)

type options struct {
	logs    *logger.Provider
	monitor coremon.Monitor
	runID   string
	engine  []engine.Option
}

// WithLogProvider uses p instead of opening the configured log target.
// The caller keeps ownership of p.
func WithLogProvider(p *logger.Provider) Option {
	return func(o *options) { o.logs = p }
}

// WithMonitor replaces the monitor built from the configuration.
func WithMonitor(m coremon.Monitor) Option {
	return func(o *options) { o.monitor = m }
}

// WithRunID fixes the run identifier.
func WithRunID(id string) Option {
	return func(o *options) { o.runID = id }
}

// WithEngineOptions forwards options to the engine.
func WithEngineOptions(fns ...engine.Option) Option {
	return func(o *options) { o.engine = append(o.engine, fns...) }
}

// New creates a Service from the configuration. Every resource opened
// before a failure is released.
func New(cfg *config.Config, fns ...Option) (_ *Service, err error) {
	var o options
	for _, fn := range fns {
		fn(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := cfg.Simulation.Options()
	if err != nil {
		return nil, err
	}

	s := &Service{RunID: o.runID, logs: o.logs, monitor: o.monitor, listen: cfg.Metrics.Listen}
	if s.RunID == "" {
		s.RunID = uuid.NewString()
	}
	if s.monitor == nil {
		if s.monitor, err = monitoring.New(cfg.Monitoring); err != nil {
			return nil, err
		}
	}
	s.tags = map[string]string{"run_id": s.RunID, "profile": opts.Profile.Name, "output": cfg.Output.Type}
	if s.logs == nil {
		if s.logs, err = logger.Open(cfg.Logging); err != nil {
			return nil, err
		}
		s.ownLogs = true
	}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()
	s.log = s.logs.New("service")

	if opts.Seed == 0 {
		opts.Seed = uint64(time.Now().UnixNano())
	}
	opts.RunID = s.RunID
	s.log.Infof("run %s: profile %s, rate %.1f Hz, duration %s, seed %d, output %s",
		s.RunID, opts.Profile.Name, opts.RateHz, opts.Duration, opts.Seed, cfg.Output.Type)

	if s.recorder, err = coremetrics.NewRecorder(recorderConfigs(cfg.Metrics), s.logs.New("metrics")); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	out, err := sink.New(cfg.Output, sink.Env{RunID: s.RunID, Logger: s.logs.New(cfg.Output.Type)})
	if err != nil {
		return nil, err
	}
	if s.engine, err = engine.New(opts, out, s.recorder, s.logs.New("engine"), o.engine...); err != nil {
		_ = out.Close()
		return nil, err
	}
	return s, nil
}

// recorderConfigs adds a Prometheus recorder when an endpoint is requested
// without one.
func recorderConfigs(c coremetrics.Config) []factory.ModuleConfig {
	if c.Listen == "" {
		return c.Sinks
	}
	for _, s := range c.Sinks {
		if s.Type == "prometheus" {
			return c.Sinks
		}
	}
	return append(append([]factory.ModuleConfig(nil), c.Sinks...), factory.ModuleConfig{Type: "prometheus"})
}

// Run starts the optional metrics endpoint and blocks until the engine
// stops. An error ending the run is reported to the monitor.
func (s *Service) Run(ctx context.Context) (err error) {
	defer s.monitor.Recover()
	defer func() {
		if err != nil {
			s.monitor.CaptureException(err, s.tags)
		}
	}()
	if s.listen != "" {
		promCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := metrics.StartPromServer(promCtx, s.listen, s.logs.New("prometheus")); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	return s.engine.Run(ctx)
}

// Engine exposes the generator, mainly for its Stats.
func (s *Service) Engine() *engine.Engine { return s.engine }

// Close releases the sink, the recorders and the log target.
func (s *Service) Close() error {
	var errs []error
	if s.engine != nil {
		errs = append(errs, s.engine.Close())
	}
	if c, ok := s.recorder.(coremetrics.Closer); ok {
		errs = append(errs, c.Close())
	}
	if s.monitor != nil {
		s.monitor.Flush(2 * time.Second)
	}
	if s.ownLogs {
		errs = append(errs, s.logs.Close())
	}
	return errors.Join(errs...)
}
