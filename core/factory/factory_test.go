package factory

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/evtelemetry/core/model"
)

type sample struct{ A int }

type sampleConf struct {
	A int `json:"a"`
}

// Test registry registration and instantiation using Decode.
func TestRegistry_Create(t *testing.T) {
	reg := NewRegistry[*sample]()
	if err := reg.Register("s", func(conf map[string]any) (*sample, error) {
		var c sampleConf
		if err := Decode(conf, &c); err != nil {
			return nil, err
		}
		return &sample{A: c.A}, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	inst, err := reg.Create(ModuleConfig{Type: "s", Conf: map[string]any{"a": 3}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if inst.A != 3 {
		t.Fatalf("expected 3 got %d", inst.A)
	}
}

// Test duplicate registration and unknown type errors.
func TestRegistry_Errors(t *testing.T) {
	reg := NewNamedRegistry[int]("output type")
	if err := reg.Register("x", func(map[string]any) (int, error) { return 1, nil }); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register("x", nil); err == nil {
		t.Fatal("expected nil factory error")
	}
	if err := reg.Register("x", func(map[string]any) (int, error) { return 2, nil }); err == nil {
		t.Fatal("expected duplicate error")
	}
	_, err := reg.Create(ModuleConfig{Type: "y"})
	require.Error(t, err)
	var cfgErr *model.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "output type", cfgErr.Field)
	assert.Contains(t, cfgErr.Reason, `"y"`)
	assert.Equal(t, []string{"x"}, reg.Names())
}

func TestDecode_WeakTypes(t *testing.T) {
	var c struct {
		Baud    int           `json:"baud"`
		QoS     byte          `json:"qos"`
		Retain  bool          `json:"retain"`
		Timeout time.Duration `json:"timeout"`
	}
	err := Decode(map[string]any{"baud": "115200", "qos": 1, "retain": "true", "timeout": "2s"}, &c)
	require.NoError(t, err)
	assert.Equal(t, 115200, c.Baud)
	assert.Equal(t, byte(1), c.QoS)
	assert.True(t, c.Retain)
	assert.Equal(t, 2*time.Second, c.Timeout)
}
