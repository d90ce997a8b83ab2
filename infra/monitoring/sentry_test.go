package monitoring

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremon "github.com/kilianp07/evtelemetry/core/monitoring"
	"github.com/kilianp07/evtelemetry/core/model"
)

func TestNewWithoutDSN(t *testing.T) {
	m, err := New(Config{})
	require.NoError(t, err)
	assert.IsType(t, coremon.NopMonitor{}, m)
}

func TestNewInvalidDSN(t *testing.T) {
	_, err := New(Config{DSN: "not a dsn"})
	assert.ErrorIs(t, err, model.ErrConfiguration)
}

func TestSentryMonitorCapturesTaggedError(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, r.URL.Path+"\n"+string(b))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dsn := "http://public@" + strings.TrimPrefix(srv.URL, "http://") + "/42"
	m, err := New(Config{DSN: dsn, Environment: "test"})
	require.NoError(t, err)

	m.CaptureException(errors.New("serial port vanished"), map[string]string{"run_id": "r-9"})
	m.CaptureException(nil, nil)
	m.Flush(2 * time.Second)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 1)
	assert.Contains(t, bodies[0], "/api/42/")
	assert.Contains(t, bodies[0], "serial port vanished")
	assert.Contains(t, bodies[0], `"run_id":"r-9"`)
}

func TestRecoverRepanics(t *testing.T) {
	m := &sentryMonitor{}
	assert.PanicsWithValue(t, "boom", func() {
		defer m.Recover()
		panic("boom")
	})
}
