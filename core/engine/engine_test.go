package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/evtelemetry/core/logger"
	"github.com/kilianp07/evtelemetry/core/metrics"
	"github.com/kilianp07/evtelemetry/core/model"
	"github.com/kilianp07/evtelemetry/core/profile"
	"github.com/kilianp07/evtelemetry/core/sink"
	"github.com/kilianp07/evtelemetry/core/wire"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// manualClock jumps straight to every deadline.
type manualClock struct {
	now         time.Time
	sleeps      int
	cancelAfter int
	cancel      context.CancelFunc
}

func newManualClock() *manualClock { return &manualClock{now: epoch} }

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) SleepUntil(ctx context.Context, t time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps++
	if c.cancelAfter > 0 && c.sleeps > c.cancelAfter {
		c.cancel()
		return ctx.Err()
	}
	if t.After(c.now) {
		c.now = t
	}
	return nil
}

type captureLogger struct {
	logger.NopLogger
	mu    sync.Mutex
	infos []string
}

func (l *captureLogger) Infof(format string, args ...any) {
	l.mu.Lock()
	l.infos = append(l.infos, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *captureLogger) count(prefix string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, s := range l.infos {
		if strings.HasPrefix(s, prefix) {
			n++
		}
	}
	return n
}

type captureRecorder struct {
	packets   []metrics.PacketEvent
	states    []metrics.StateEvent
	runStates []metrics.RunStateEvent
}

func (r *captureRecorder) RecordPacket(ev metrics.PacketEvent) error {
	r.packets = append(r.packets, ev)
	return nil
}

func (r *captureRecorder) RecordState(ev metrics.StateEvent) error {
	r.states = append(r.states, ev)
	return nil
}

func (r *captureRecorder) RecordRunState(ev metrics.RunStateEvent) error {
	r.runStates = append(r.runStates, ev)
	return nil
}

func opts(id profile.ID, rate float64, d time.Duration) Options {
	return Options{Profile: profile.Get(id), RateHz: rate, Duration: d, Seed: 42, RunID: "test"}
}

func newEngine(t *testing.T, o Options, s sink.Sink, rec metrics.Recorder, log logger.Logger, c Clock) *Engine {
	t.Helper()
	e, err := New(o, s, rec, log, WithClock(c))
	require.NoError(t, err)
	return e
}

func TestRun_DurationProducesExactPacketCount(t *testing.T) {
	mem := &sink.Memory{}
	clock := newManualClock()
	e := newEngine(t, opts(profile.City, 10, 5*time.Second), mem, nil, nil, clock)

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, StateFinished, e.State())
	assert.Len(t, mem.Packets(), 50)
	assert.Equal(t, 1, mem.Flushes())
	assert.Equal(t, 1, mem.Closes())

	require.NoError(t, e.Close())
	assert.Equal(t, 1, mem.Closes(), "sink closed twice")

	st := e.Stats()
	assert.Equal(t, uint64(50), st.PacketsSent)
	assert.Equal(t, uint64(50), st.Ticks)
	assert.Equal(t, StateFinished, st.State)
}

func TestRun_PacketsCycleTypesAtFixedRate(t *testing.T) {
	mem := &sink.Memory{}
	e := newEngine(t, opts(profile.Highway, 20, 3*time.Second), mem, nil, nil, newManualClock())
	require.NoError(t, e.Run(context.Background()))

	packets := mem.Packets()
	require.Len(t, packets, 60)
	for k, b := range packets {
		rec, err := wire.Decode(b)
		require.NoError(t, err)
		assert.Equal(t, model.Cycle[k%3], rec.DataType(), "packet %d", k)
		assert.Equal(t, uint64(k*50), rec.Timestamp(), "packet %d", k)
	}
}

func TestRun_TimestampsCountFromStart(t *testing.T) {
	mem := &sink.Memory{}
	e := newEngine(t, opts(profile.City, 10, time.Second), mem, nil, nil, newManualClock())
	require.NoError(t, e.Run(context.Background()))

	packets := mem.Packets()
	require.Len(t, packets, 10)
	for k, want := range []uint64{0, 100, 200} {
		rec, err := wire.Decode(packets[k])
		require.NoError(t, err)
		assert.Equal(t, want, rec.Timestamp(), "packet %d", k)
	}
}

func TestRun_SameSeedSameBytes(t *testing.T) {
	run := func() [][]byte {
		mem := &sink.Memory{}
		e := newEngine(t, opts(profile.TrackDay, 10, 2*time.Second), mem, nil, nil, newManualClock())
		require.NoError(t, e.Run(context.Background()))
		return mem.Packets()
	}
	assert.Equal(t, run(), run())
}

func TestRun_CancelStopsCleanly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mem := &sink.Memory{}
	clock := newManualClock()
	clock.cancelAfter, clock.cancel = 7, cancel
	e := newEngine(t, opts(profile.City, 10, 0), mem, nil, nil, clock)

	require.NoError(t, e.Run(ctx))
	assert.Equal(t, StateStopped, e.State())
	assert.Len(t, mem.Packets(), 7)
	assert.Equal(t, 1, mem.Closes())
}

func TestRun_SinkFailureStops(t *testing.T) {
	cause := errors.New("device disconnected")
	mem := &sink.Memory{FailAfter: 4, Err: cause}
	e := newEngine(t, opts(profile.City, 10, 0), mem, nil, nil, newManualClock())

	err := e.Run(context.Background())
	require.Error(t, err)
	var swe *model.SinkWriteError
	require.True(t, errors.As(err, &swe))
	assert.Equal(t, "write", swe.Op)
	assert.ErrorIs(t, err, model.ErrSinkWrite)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, StateStopped, e.State())
	assert.Len(t, mem.Packets(), 4)
	assert.Equal(t, 1, mem.Closes())
}

type shortSink struct{ sink.Discard }

func (shortSink) Write(p []byte) (int, error) { return len(p) / 2, nil }

func TestRun_ShortWriteIsSinkError(t *testing.T) {
	e := newEngine(t, opts(profile.Idle, 10, time.Second), shortSink{}, nil, nil, newManualClock())
	err := e.Run(context.Background())
	assert.ErrorIs(t, err, io.ErrShortWrite)
	assert.ErrorIs(t, err, model.ErrSinkWrite)
}

type failingCloser struct{ sink.Memory }

func (f *failingCloser) Close() error {
	_ = f.Memory.Close()
	return errors.New("port busy")
}

func TestRun_CloseErrorReported(t *testing.T) {
	s := &failingCloser{}
	e := newEngine(t, opts(profile.Idle, 10, time.Second), s, nil, nil, newManualClock())
	err := e.Run(context.Background())
	var swe *model.SinkWriteError
	require.True(t, errors.As(err, &swe))
	assert.Equal(t, "close", swe.Op)
	assert.Equal(t, StateFinished, e.State())
	assert.Equal(t, 1, s.Closes())
}

func TestClose_BeforeRun(t *testing.T) {
	mem := &sink.Memory{}
	e := newEngine(t, opts(profile.City, 10, 0), mem, nil, nil, newManualClock())
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.Equal(t, StateStopped, e.State())
	assert.Equal(t, 1, mem.Closes())
	assert.Error(t, e.Run(context.Background()), "a stopped engine cannot start")
	assert.Empty(t, mem.Packets())
}

func TestRun_InvariantsAndMetrics(t *testing.T) {
	rec := &captureRecorder{}
	mem := &sink.Memory{}
	e := newEngine(t, opts(profile.TrackDay, 50, 60*time.Second), mem, rec, nil, newManualClock())
	require.NoError(t, e.Run(context.Background()))

	require.Len(t, rec.packets, 3000)
	require.Len(t, rec.states, 3000)
	var odo, energy float64
	for i, ev := range rec.states {
		s := ev.State
		assert.GreaterOrEqual(t, s.OdometerKm, odo, "tick %d", i)
		assert.GreaterOrEqual(t, s.EnergyKWh, energy, "tick %d", i)
		odo, energy = s.OdometerKm, s.EnergyKWh
		assert.True(t, s.ThrottlePct >= 0 && s.ThrottlePct <= model.MaxThrottlePct)
		assert.True(t, s.MotorRPM >= 0 && s.MotorRPM <= model.MaxMotorRPM)
		assert.InDelta(t, s.SumCells(), s.PackVoltageV, 1e-9)
		assert.Equal(t, uint64(i+1), ev.PacketsSent)
	}
	assert.Greater(t, odo, 0.0)
	assert.Greater(t, energy, 0.0)
	assert.InDelta(t, odo, e.Stats().OdometerKm, 1e-12)

	var bytes uint64
	packets := mem.Packets()
	for i, ev := range rec.packets {
		assert.Equal(t, len(packets[i]), ev.Bytes)
		bytes += uint64(ev.Bytes)
	}
	assert.Equal(t, bytes, e.Stats().BytesSent)

	require.Len(t, rec.runStates, 2)
	assert.Equal(t, StateIdle, rec.runStates[0].From)
	assert.Equal(t, StateRunning, rec.runStates[0].To)
	assert.Equal(t, StateFinished, rec.runStates[1].To)
}

func TestRun_StatusLog(t *testing.T) {
	log := &captureLogger{}
	o := opts(profile.City, 10, 3*time.Second)
	o.StatusEvery = time.Second
	e := newEngine(t, o, &sink.Memory{}, nil, log, newManualClock())
	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, 2, log.count("status:"))
}

func TestNew_Validation(t *testing.T) {
	cases := map[string]Options{
		"zero rate":     opts(profile.City, 0, 0),
		"negative rate": opts(profile.City, -5, 0),
		"rate too high": opts(profile.City, 1001, 0),
		"nan rate":      opts(profile.City, math.NaN(), 0),
		"negative dur":  opts(profile.City, 10, -time.Second),
		"no profile":    {RateHz: 10},
	}
	for name, o := range cases {
		o := o
		t.Run(name, func(t *testing.T) {
			_, err := New(o, &sink.Memory{}, nil, nil)
			var cfgErr *model.ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
		})
	}
	_, err := New(opts(profile.City, 10, 0), nil, nil, nil)
	assert.ErrorIs(t, err, model.ErrConfiguration)

	e, err := New(opts(profile.City, 1000, 0), &sink.Memory{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Millisecond, e.interval)
	assert.Equal(t, StateIdle, e.State())
}

func TestRealClock_SleepUntil(t *testing.T) {
	c := RealClock{}
	start := c.Now()
	require.NoError(t, c.SleepUntil(context.Background(), start.Add(10*time.Millisecond)))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.SleepUntil(ctx, time.Now().Add(time.Hour)), context.Canceled)
	assert.ErrorIs(t, c.SleepUntil(ctx, time.Now().Add(-time.Hour)), context.Canceled)
}
