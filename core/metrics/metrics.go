package metrics

import (
	"time"

	"github.com/kilianp07/evtelemetry/core/model"
)

// PacketEvent describes one packet handed to the sink.
type PacketEvent struct {
	RunID string
	Type  model.DataType
	Bytes int
	Seq   uint64
	Time  time.Time
}

// StateEvent is a snapshot of the simulated vehicle after a tick.
type StateEvent struct {
	RunID       string
	Profile     string
	Tick        uint64
	PacketsSent uint64
	State       model.VehicleState
	Time        time.Time
}

// Recorder records generator activity for observability purposes.
type Recorder interface {
	RecordPacket(ev PacketEvent) error
	RecordState(ev StateEvent) error
}

// RunStateEvent captures a transition of the generator lifecycle.
type RunStateEvent struct {
	RunID string
	From  string
	To    string
	Time  time.Time
}

// RunStateRecorder is implemented by recorders able to track lifecycle
// transitions.
type RunStateRecorder interface {
	RecordRunState(ev RunStateEvent) error
}

// Closer is implemented by recorders holding connections.
type Closer interface {
	Close() error
}

// NopRecorder implements Recorder with no-op methods.
type NopRecorder struct{}

func (NopRecorder) RecordPacket(PacketEvent) error     { return nil }
func (NopRecorder) RecordState(StateEvent) error       { return nil }
func (NopRecorder) RecordRunState(RunStateEvent) error { return nil }

// MultiRecorder fans events out to multiple recorders.
type MultiRecorder struct {
	Recorders []Recorder
}

// NewMultiRecorder creates a MultiRecorder with the provided recorders.
func NewMultiRecorder(recs ...Recorder) *MultiRecorder {
	return &MultiRecorder{Recorders: recs}
}

// RecordPacket forwards the event to all recorders, returning the first
// error encountered.
func (m *MultiRecorder) RecordPacket(ev PacketEvent) error {
	for _, r := range m.Recorders {
		if err := r.RecordPacket(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordState forwards vehicle snapshots.
func (m *MultiRecorder) RecordState(ev StateEvent) error {
	for _, r := range m.Recorders {
		if err := r.RecordState(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordRunState forwards lifecycle transitions when supported.
func (m *MultiRecorder) RecordRunState(ev RunStateEvent) error {
	for _, r := range m.Recorders {
		if rec, ok := r.(RunStateRecorder); ok {
			if err := rec.RecordRunState(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close closes every recorder implementing Closer and returns the first error.
func (m *MultiRecorder) Close() error {
	var first error
	for _, r := range m.Recorders {
		if c, ok := r.(Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
