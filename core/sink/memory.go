package sink

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Memory after Close.
var ErrClosed = errors.New("sink closed")

// Memory keeps every packet in memory for inspection by tests.
type Memory struct {
	mu      sync.Mutex
	packets [][]byte
	flushes int
	closes  int
	// FailAfter makes Write fail once that many packets were accepted;
	// zero disables the failure.
	FailAfter int
	// Err is returned by the failing Write. Defaults to an I/O error.
	Err error
}

// Write stores a copy of p.
func (m *Memory) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closes > 0 {
		return 0, ErrClosed
	}
	if m.FailAfter > 0 && len(m.packets) >= m.FailAfter {
		if m.Err != nil {
			return 0, m.Err
		}
		return 0, errors.New("input/output error")
	}
	m.packets = append(m.packets, append([]byte(nil), p...))
	return len(p), nil
}

func (m *Memory) Flush() error {
	m.mu.Lock()
	m.flushes++
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closes++
	m.mu.Unlock()
	return nil
}

// Packets returns the packets written so far.
func (m *Memory) Packets() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.packets...)
}

// Flushes and Closes report how often each method was called.
func (m *Memory) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

func (m *Memory) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}
