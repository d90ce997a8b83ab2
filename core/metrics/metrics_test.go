package metrics

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/evtelemetry/core/factory"
	"github.com/kilianp07/evtelemetry/core/logger"
	"github.com/kilianp07/evtelemetry/core/model"
)

type countingRecorder struct {
	packets, states, runStates, closes int
	err                                error
}

func (r *countingRecorder) RecordPacket(PacketEvent) error {
	r.packets++
	return r.err
}

func (r *countingRecorder) RecordState(StateEvent) error {
	r.states++
	return r.err
}

func (r *countingRecorder) RecordRunState(RunStateEvent) error {
	r.runStates++
	return nil
}

func (r *countingRecorder) Close() error {
	r.closes++
	return nil
}

type packetOnly struct{ NopRecorder }

// MockRecorder records calls through testify's mock package.
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) RecordPacket(ev PacketEvent) error { return m.Called(ev).Error(0) }
func (m *MockRecorder) RecordState(ev StateEvent) error   { return m.Called(ev).Error(0) }

// TestMultiRecorder ensures events are forwarded to all recorders.
func TestMultiRecorder(t *testing.T) {
	r1 := &countingRecorder{}
	r2 := &countingRecorder{}
	m := NewMultiRecorder(r1, packetOnly{}, r2)
	require.NoError(t, m.RecordPacket(PacketEvent{Type: model.DataTypeAPPS, Bytes: 25}))
	require.NoError(t, m.RecordState(StateEvent{}))
	require.NoError(t, m.RecordRunState(RunStateEvent{From: "idle", To: "running"}))
	require.NoError(t, m.Close())
	for _, r := range []*countingRecorder{r1, r2} {
		assert.Equal(t, 1, r.packets)
		assert.Equal(t, 1, r.states)
		assert.Equal(t, 1, r.runStates)
		assert.Equal(t, 1, r.closes)
	}
}

func TestMultiRecorder_StopsOnError(t *testing.T) {
	boom := errors.New("boom")
	r1 := &countingRecorder{err: boom}
	r2 := &countingRecorder{}
	err := NewMultiRecorder(r1, r2).RecordPacket(PacketEvent{})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, r2.packets)
}

func TestMultiRecorder_SkipsRunStateForPlainRecorders(t *testing.T) {
	plain := &MockRecorder{}
	plain.On("RecordState", mock.MatchedBy(func(ev StateEvent) bool { return ev.Tick == 7 })).Return(nil).Once()
	full := &countingRecorder{}

	m := NewMultiRecorder(plain, full)
	require.NoError(t, m.RecordState(StateEvent{Tick: 7}))
	require.NoError(t, m.RecordRunState(RunStateEvent{To: "finished"}))
	require.NoError(t, m.Close())

	plain.AssertExpectations(t)
	plain.AssertNotCalled(t, "RecordPacket", mock.Anything)
	assert.Equal(t, 1, full.runStates)
}

/*
TestNewRecorder validates NewRecorder behavior with zero, one, and multiple configs.
Cases:
  - no config -> NopRecorder
  - one config -> the recorder itself
  - two configs -> MultiRecorder with two sub-recorders
  - unknown type -> configuration error
*/
func TestNewRecorder(t *testing.T) {
	built := 0
	require.NoError(t, RegisterRecorder("counting", func(conf map[string]any, log logger.Logger) (Recorder, error) {
		built++
		assert.NotNil(t, log)
		return &countingRecorder{}, nil
	}))

	r, err := NewRecorder(nil, nil)
	require.NoError(t, err)
	assert.IsType(t, NopRecorder{}, r)

	r, err = NewRecorder([]factory.ModuleConfig{{Type: "counting"}}, nil)
	require.NoError(t, err)
	assert.IsType(t, &countingRecorder{}, r)

	r, err = NewRecorder([]factory.ModuleConfig{{Type: "counting"}, {Type: "counting"}}, logger.NopLogger{})
	require.NoError(t, err)
	m, ok := r.(*MultiRecorder)
	require.True(t, ok, "expected MultiRecorder, got %T", r)
	assert.Len(t, m.Recorders, 2)
	assert.Equal(t, 3, built)

	_, err = NewRecorder([]factory.ModuleConfig{{Type: "missing"}}, nil)
	assert.ErrorIs(t, err, model.ErrConfiguration)
	assert.Contains(t, RecorderTypes(), "counting")
}
