// Package engine runs the fixed-rate generator loop: it advances the signal
// model, integrates the trip counters, encodes one record per tick and
// writes it to the sink.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/kilianp07/evtelemetry/core/logger"
	"github.com/kilianp07/evtelemetry/core/metrics"
	"github.com/kilianp07/evtelemetry/core/model"
	"github.com/kilianp07/evtelemetry/core/profile"
	"github.com/kilianp07/evtelemetry/core/signal"
	"github.com/kilianp07/evtelemetry/core/sink"
	"github.com/kilianp07/evtelemetry/core/trip"
	"github.com/kilianp07/evtelemetry/core/wire"
)

// Lifecycle states.
const (
	StateIdle     = "idle"
	StateRunning  = "running"
	StateStopped  = "stopped"
	StateFinished = "finished"
)

// Lifecycle events.
const (
	EventStart  = "start"
	EventStop   = "stop"
	EventFinish = "finish"
)

const (
	// MaxRateHz bounds the aggregate packet rate.
	MaxRateHz = 1000.0
	// DefaultStatusEvery is the period of the status log line.
	DefaultStatusEvery = 30 * time.Second
)

// Options configure a run.
type Options struct {
	Profile profile.Profile
	// RateHz is the aggregate packet rate shared by the three record types.
	RateHz float64
	// Duration bounds the run; zero runs until the context is canceled.
	Duration time.Duration
	Seed     uint64
	RunID    string
	// StatusEvery is the period of the status log; zero uses DefaultStatusEvery.
	StatusEvery time.Duration
	// Noise overrides signal.DefaultNoise when set.
	Noise *signal.Noise
}

// Validate reports the first invalid option as a *model.ConfigurationError.
func (o Options) Validate() error {
	if o.Profile.Name == "" {
		return model.NewConfigurationError("mission profile", "no profile selected")
	}
	if math.IsNaN(o.RateHz) || o.RateHz <= 0 || o.RateHz > MaxRateHz {
		return model.NewConfigurationError("rate", "%v Hz is outside (0, %v]", o.RateHz, MaxRateHz)
	}
	if o.Duration < 0 {
		return model.NewConfigurationError("duration", "%s is negative", o.Duration)
	}
	if o.StatusEvery < 0 {
		return model.NewConfigurationError("status interval", "%s is negative", o.StatusEvery)
	}
	return nil
}

// Interval returns the time between two ticks.
func (o Options) Interval() time.Duration {
	return time.Duration(float64(time.Second) / o.RateHz)
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces the real clock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// Stats summarizes a run.
type Stats struct {
	State       string
	Ticks       uint64
	PacketsSent uint64
	BytesSent   uint64
	OdometerKm  float64
	EnergyKWh   float64
}

// Engine owns the vehicle state and the sink for the duration of a run.
// Run and Close must not be called concurrently.
type Engine struct {
	opts     Options
	interval time.Duration
	sink     sink.Sink
	rec      metrics.Recorder
	log      logger.Logger
	clock    Clock
	fsm      *fsm.FSM

	model *signal.Model
	trip  trip.Accumulator
	state model.VehicleState
	buf   []byte

	mu    sync.Mutex
	stats Stats

	closeOnce sync.Once
	closeErr  error
}

// New validates opts and returns an idle Engine. The engine takes ownership
// of s and releases it on every exit path.
func New(opts Options, s sink.Sink, rec metrics.Recorder, log logger.Logger, fns ...Option) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if s == nil {
		return nil, model.NewConfigurationError("output", "no sink configured")
	}
	if rec == nil {
		rec = metrics.NopRecorder{}
	}
	if opts.StatusEvery == 0 {
		opts.StatusEvery = DefaultStatusEvery
	}
	noise := signal.DefaultNoise
	if opts.Noise != nil {
		noise = *opts.Noise
	}
	e := &Engine{
		opts:     opts,
		interval: opts.Interval(),
		sink:     s,
		rec:      rec,
		log:      logger.OrNop(log),
		clock:    RealClock{},
		model:    signal.NewWithNoise(opts.Profile, opts.Seed, noise),
		state:    model.NewVehicleState(profile.AmbientC),
		buf:      make([]byte, 0, 1024),
	}
	for _, fn := range fns {
		fn(e)
	}
	e.fsm = fsm.NewFSM(StateIdle,
		fsm.Events{
			{Name: EventStart, Src: []string{StateIdle}, Dst: StateRunning},
			{Name: EventStop, Src: []string{StateIdle, StateRunning}, Dst: StateStopped},
			{Name: EventFinish, Src: []string{StateRunning}, Dst: StateFinished},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, ev *fsm.Event) { e.onTransition(ev.Src, ev.Dst) },
		},
	)
	e.stats.State = StateIdle
	return e, nil
}

// State returns the current lifecycle state.
func (e *Engine) State() string { return e.fsm.Current() }

// Stats returns a snapshot of the run counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Vehicle returns a copy of the simulated vehicle state.
func (e *Engine) Vehicle() model.VehicleState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Run generates packets until the duration elapses, ctx is canceled or the
// sink fails. Cancellation and completion return nil; a sink failure
// returns a *model.SinkWriteError. The sink is flushed and closed before
// Run returns.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.fsm.Event(context.Background(), EventStart); err != nil {
		return fmt.Errorf("engine start: %w", err)
	}
	start := e.clock.Now()
	e.log.Infof("generating %s telemetry at %.1f Hz (run %s)", e.opts.Profile.Name, e.opts.RateHz, e.opts.RunID)
	nextStatus := e.opts.StatusEvery

	for k := uint64(0); ; k++ {
		elapsed := time.Duration(k) * e.interval
		if e.opts.Duration > 0 && elapsed >= e.opts.Duration {
			return e.finish(EventFinish, nil)
		}
		if ctx.Err() != nil {
			return e.finish(EventStop, nil)
		}
		at := start.Add(elapsed)
		if err := e.clock.SleepUntil(ctx, at); err != nil {
			return e.finish(EventStop, nil)
		}
		if err := e.tick(k, elapsed, at); err != nil {
			e.log.Errorf("tick %d: %v", k, err)
			return e.finish(EventStop, err)
		}
		if elapsed >= nextStatus {
			st := e.Stats()
			e.log.Infof("status: %s elapsed, %d packets sent, odometer %.2f km, energy %.3f kWh",
				elapsed.Truncate(time.Second), st.PacketsSent, st.OdometerKm, st.EnergyKWh)
			nextStatus += e.opts.StatusEvery
		}
	}
}

func (e *Engine) tick(k uint64, elapsed time.Duration, at time.Time) error {
	e.mu.Lock()
	dt := elapsed - e.state.Elapsed
	e.model.Advance(&e.state, elapsed)
	e.trip.Apply(&e.state, dt)
	snapshot := e.state
	e.stats.Ticks = k + 1
	e.stats.OdometerKm = e.trip.OdometerKm()
	e.stats.EnergyKWh = e.trip.EnergyKWh()
	e.mu.Unlock()

	typ := model.Cycle[k%uint64(len(model.Cycle))]
	rec := e.model.Record(typ, &snapshot, uint64(elapsed.Milliseconds()))
	var err error
	e.buf, err = wire.Append(e.buf[:0], rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", typ, err)
	}
	n, err := e.sink.Write(e.buf)
	if err == nil && n < len(e.buf) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return &model.SinkWriteError{Op: "write", Err: err}
	}

	e.mu.Lock()
	e.stats.PacketsSent++
	e.stats.BytesSent += uint64(n)
	sent := e.stats.PacketsSent
	e.mu.Unlock()

	e.report(e.rec.RecordPacket(metrics.PacketEvent{
		RunID: e.opts.RunID, Type: typ, Bytes: n, Seq: sent, Time: at,
	}))
	e.report(e.rec.RecordState(metrics.StateEvent{
		RunID: e.opts.RunID, Profile: e.opts.Profile.Name, Tick: k + 1,
		PacketsSent: sent, State: snapshot, Time: at,
	}))
	return nil
}

// finish moves to a terminal state, releases the sink and returns cause, or
// the release error when cause is nil.
func (e *Engine) finish(event string, cause error) error {
	if err := e.fsm.Event(context.Background(), event); err != nil {
		e.log.Warnf("engine %s: %v", event, err)
	}
	relErr := e.release()
	st := e.Stats()
	e.log.Infof("run %s %s: %d packets, %d bytes, odometer %.2f km, energy %.3f kWh",
		e.opts.RunID, st.State, st.PacketsSent, st.BytesSent, st.OdometerKm, st.EnergyKWh)
	if cause != nil {
		if relErr != nil {
			e.log.Warnf("release sink: %v", relErr)
		}
		return cause
	}
	return relErr
}

// Close releases the sink. An engine that never ran moves to stopped.
// Calling Close after Run is a no-op returning the release result.
func (e *Engine) Close() error {
	if e.fsm.Current() == StateIdle {
		if err := e.fsm.Event(context.Background(), EventStop); err != nil {
			e.log.Warnf("engine stop: %v", err)
		}
	}
	return e.release()
}

func (e *Engine) release() error {
	e.closeOnce.Do(func() {
		var errs []error
		if err := e.sink.Flush(); err != nil {
			errs = append(errs, &model.SinkWriteError{Op: "flush", Err: err})
		}
		if err := e.sink.Close(); err != nil {
			errs = append(errs, &model.SinkWriteError{Op: "close", Err: err})
		}
		e.closeErr = errors.Join(errs...)
	})
	return e.closeErr
}

func (e *Engine) onTransition(from, to string) {
	e.mu.Lock()
	e.stats.State = to
	e.mu.Unlock()
	e.log.Debugw("engine state", map[string]any{"from": from, "to": to, "run_id": e.opts.RunID})
	if r, ok := e.rec.(metrics.RunStateRecorder); ok {
		e.report(r.RecordRunState(metrics.RunStateEvent{
			RunID: e.opts.RunID, From: from, To: to, Time: e.clock.Now(),
		}))
	}
}

func (e *Engine) report(err error) {
	if err != nil {
		e.log.Warnf("metrics: %v", err)
	}
}
