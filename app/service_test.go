package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/evtelemetry/config"
	"github.com/kilianp07/evtelemetry/core/engine"
	"github.com/kilianp07/evtelemetry/core/factory"
	coremetrics "github.com/kilianp07/evtelemetry/core/metrics"
	"github.com/kilianp07/evtelemetry/core/model"
	"github.com/kilianp07/evtelemetry/core/sink"
	"github.com/kilianp07/evtelemetry/core/wire"
	"github.com/kilianp07/evtelemetry/infra/logger"
)

// memorySink registers a Memory sink under a name unique to the test.
func memorySink(t *testing.T, mem *sink.Memory) string {
	t.Helper()
	name := "memory-" + strings.ReplaceAll(t.Name(), "/", "-")
	require.NoError(t, sink.Register(name, func(map[string]any, sink.Env) (sink.Sink, error) {
		return mem, nil
	}))
	return name
}

func load(t *testing.T, overrides map[string]any) *config.Config {
	t.Helper()
	cfg, err := config.Load("", overrides)
	require.NoError(t, err)
	return cfg
}

func TestServiceRunsForDuration(t *testing.T) {
	mem := &sink.Memory{}
	logPath := filepath.Join(t.TempDir(), "logs", "sim.log")
	cfg := load(t, map[string]any{
		config.KeyOutput:   memorySink(t, mem),
		config.KeyRate:     1000.0,
		config.KeyDuration: 0.05,
		config.KeySeed:     5,
		config.KeyLogPath:  logPath,
	})

	svc, err := New(cfg, WithRunID("run-1"))
	require.NoError(t, err)
	require.NoError(t, svc.Run(context.Background()))

	st := svc.Engine().Stats()
	assert.Equal(t, engine.StateFinished, st.State)
	assert.Equal(t, uint64(50), st.PacketsSent)
	require.Len(t, mem.Packets(), 50)
	for i, p := range mem.Packets() {
		rec, err := wire.Decode(p)
		require.NoError(t, err)
		assert.Equal(t, model.Cycle[i%len(model.Cycle)], rec.DataType())
	}
	assert.Equal(t, 1, mem.Closes())
	require.NoError(t, svc.Close())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "run run-1: profile city")
	assert.Contains(t, string(data), `"component":"engine"`)
}

type captureMonitor struct {
	errs    []error
	tags    []map[string]string
	flushes int
}

func (m *captureMonitor) CaptureException(err error, tags map[string]string) {
	m.errs = append(m.errs, err)
	m.tags = append(m.tags, tags)
}
func (m *captureMonitor) Recover()            {}
func (m *captureMonitor) Flush(time.Duration) { m.flushes++ }

func TestServiceSinkFailure(t *testing.T) {
	mem := &sink.Memory{FailAfter: 3}
	var logs bytes.Buffer
	p, err := logger.NewProvider(&logs, "info")
	require.NoError(t, err)
	cfg := load(t, map[string]any{config.KeyOutput: memorySink(t, mem), config.KeyRate: 1000.0})

	mon := &captureMonitor{}
	svc, err := New(cfg, WithLogProvider(p), WithMonitor(mon), WithRunID("run-2"))
	require.NoError(t, err)
	err = svc.Run(context.Background())
	var swe *model.SinkWriteError
	require.ErrorAs(t, err, &swe)
	assert.Equal(t, "write", swe.Op)
	assert.Equal(t, engine.StateStopped, svc.Engine().State())
	assert.Len(t, mem.Packets(), 3)
	require.NoError(t, svc.Close())

	require.Len(t, mon.errs, 1)
	assert.ErrorIs(t, mon.errs[0], model.ErrSinkWrite)
	assert.Equal(t, "run-2", mon.tags[0]["run_id"])
	assert.Equal(t, "city", mon.tags[0]["profile"])
	assert.Equal(t, 1, mon.flushes)
}

func TestServiceCancel(t *testing.T) {
	mem := &sink.Memory{}
	p, err := logger.NewProvider(&bytes.Buffer{}, "info")
	require.NoError(t, err)
	cfg := load(t, map[string]any{config.KeyOutput: memorySink(t, mem)})

	svc, err := New(cfg, WithLogProvider(p))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, svc.Run(ctx))
	assert.Equal(t, engine.StateStopped, svc.Engine().State())
	assert.Equal(t, 1, mem.Closes())
	assert.NotEmpty(t, svc.RunID)
}

func TestServiceConfigurationErrors(t *testing.T) {
	p, err := logger.NewProvider(&bytes.Buffer{}, "info")
	require.NoError(t, err)

	cfg := load(t, map[string]any{config.KeyOutput: "carrier-pigeon"})
	_, err = New(cfg, WithLogProvider(p))
	assert.True(t, errors.Is(err, model.ErrConfiguration), "got %v", err)

	// serial without a port
	cfg = load(t, nil)
	_, err = New(cfg, WithLogProvider(p))
	assert.True(t, errors.Is(err, model.ErrConfiguration), "got %v", err)

	cfg = load(t, map[string]any{config.KeyOutput: "discard"})
	cfg.Metrics.Sinks = []factory.ModuleConfig{{Type: "statsd"}}
	_, err = New(cfg, WithLogProvider(p))
	assert.True(t, errors.Is(err, model.ErrConfiguration), "got %v", err)
}

func TestServiceClosesSinkWhenNeverRun(t *testing.T) {
	mem := &sink.Memory{}
	p, err := logger.NewProvider(&bytes.Buffer{}, "info")
	require.NoError(t, err)
	svc, err := New(load(t, map[string]any{config.KeyOutput: memorySink(t, mem)}), WithLogProvider(p))
	require.NoError(t, err)
	require.NoError(t, svc.Close())
	assert.Equal(t, 1, mem.Closes())
	assert.Equal(t, engine.StateStopped, svc.Engine().State())
}

func TestRecorderConfigs(t *testing.T) {
	assert.Empty(t, recorderConfigs(coremetrics.Config{}))

	got := recorderConfigs(coremetrics.Config{Listen: ":9100", Sinks: []factory.ModuleConfig{{Type: "nop"}}})
	assert.Equal(t, []factory.ModuleConfig{{Type: "nop"}, {Type: "prometheus"}}, got)

	sinks := []factory.ModuleConfig{{Type: "prometheus"}}
	assert.Equal(t, sinks, recorderConfigs(coremetrics.Config{Listen: ":9100", Sinks: sinks}))
}
