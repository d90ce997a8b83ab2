// Package config loads the generator settings from defaults, an optional
// YAML or JSON file, EVT_ environment variables and command line flags.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"
	"time"

	kjson "github.com/knadh/koanf/parsers/json"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	"github.com/kilianp07/evtelemetry/core/engine"
	"github.com/kilianp07/evtelemetry/core/factory"
	"github.com/kilianp07/evtelemetry/core/metrics"
	"github.com/kilianp07/evtelemetry/core/model"
	"github.com/kilianp07/evtelemetry/core/profile"
	"github.com/kilianp07/evtelemetry/infra/logger"
	"github.com/kilianp07/evtelemetry/infra/monitoring"
)

// EnvPrefix marks environment overrides; "__" separates nested keys, e.g.
// EVT_SIMULATION__RATE_HZ=20.
const EnvPrefix = "EVT_"

// Keys of the settings that have a command line flag.
const (
	KeyProfile       = "simulation.profile"
	KeyRate          = "simulation.rate_hz"
	KeyDuration      = "simulation.duration_seconds"
	KeySeed          = "simulation.seed"
	KeyOutput        = "output.type"
	KeyPort          = "output.conf.port"
	KeyBaud          = "output.conf.baud"
	KeyMetricsListen = "metrics.listen"
	KeyLogPath       = "logging.path"
	KeyLogLevel      = "logging.level"
)

// Config is the complete generator configuration.
type Config struct {
	Simulation SimulationConfig     `json:"simulation"`
	Output     factory.ModuleConfig `json:"output"`
	Metrics    metrics.Config       `json:"metrics"`
	Logging    logger.Config        `json:"logging"`
	Monitoring monitoring.Config    `json:"monitoring"`
}

// SimulationConfig selects what is simulated and how fast.
type SimulationConfig struct {
	Profile string  `json:"profile"`
	RateHz  float64 `json:"rate_hz"`
	// DurationSeconds bounds the run; zero runs until interrupted.
	DurationSeconds float64 `json:"duration_seconds"`
	// Seed feeds the noise generator; zero derives one from the clock.
	Seed uint64 `json:"seed"`
}

// Defaults returns the settings used when nothing overrides them.
func Defaults() map[string]any {
	lc := logger.DefaultConfig()
	return map[string]any{
		KeyProfile:             profile.Get(profile.City).Name,
		KeyRate:                10.0,
		KeyDuration:            0.0,
		KeySeed:                0,
		KeyOutput:              "serial",
		KeyLogLevel:            lc.Level,
		KeyLogPath:             lc.Path,
		"logging.max_size_mb":  lc.MaxSizeMB,
		"logging.max_backups":  lc.MaxBackups,
		"logging.max_age_days": lc.MaxAgeDays,
		"logging.console":      lc.Console,
	}
}

// Load builds the configuration. An empty path skips the file. overrides
// holds flag values keyed like Defaults and takes precedence over
// everything else.
func Load(path string, overrides map[string]any) (*Config, error) {
	k := koanf.New(".")
	for key, v := range Defaults() {
		if err := k.Set(key, v); err != nil {
			return nil, err
		}
	}
	if path != "" {
		var parser koanf.Parser
		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".yaml", ".yml":
			parser = kyaml.Parser()
		case ".json":
			parser = kjson.Parser()
		default:
			return nil, model.NewConfigurationError("config", "unsupported format %q", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, model.NewConfigurationError("config", "load %s: %v", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	for key, v := range overrides {
		if err := k.Set(key, v); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, model.NewConfigurationError("config", "%v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting as a *model.ConfigurationError.
func (c *Config) Validate() error {
	if _, err := c.Simulation.Options(); err != nil {
		return err
	}
	if c.Output.Type == "" {
		return model.NewConfigurationError("output", "type is required")
	}
	for i, s := range c.Metrics.Sinks {
		if s.Type == "" {
			return model.NewConfigurationError("metrics", "sink %d has no type", i)
		}
	}
	if r := c.Monitoring.TracesSampleRate; r < 0 || r > 1 {
		return model.NewConfigurationError("monitoring", "traces_sample_rate %v is outside [0, 1]", r)
	}
	return c.Logging.Validate()
}

// maxDurationSeconds is the longest bound a time.Duration can hold.
const maxDurationSeconds = float64(math.MaxInt64 / int64(time.Second))

// Duration returns the run bound.
func (s SimulationConfig) Duration() time.Duration {
	return time.Duration(s.DurationSeconds * float64(time.Second))
}

// Options resolves the profile and returns validated engine options.
func (s SimulationConfig) Options() (engine.Options, error) {
	p, err := profile.Parse(s.Profile)
	if err != nil {
		return engine.Options{}, err
	}
	switch d := s.DurationSeconds; {
	case d < 0:
		return engine.Options{}, model.NewConfigurationError("duration", "%v s is negative", d)
	case math.IsNaN(d) || d > maxDurationSeconds:
		return engine.Options{}, model.NewConfigurationError("duration", "%v s exceeds the %.0f s limit", d, maxDurationSeconds)
	}
	opts := engine.Options{
		Profile:  p,
		RateHz:   s.RateHz,
		Duration: s.Duration(),
		Seed:     s.Seed,
	}
	return opts, opts.Validate()
}

// WriteYAML renders the effective configuration with the same keys Load
// accepts.
func (c *Config) WriteYAML(w io.Writer) error {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	var tree map[string]any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&tree); err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(normalize(tree)); err != nil {
		return err
	}
	return enc.Close()
}

// normalize turns json.Number leaves into int64 or float64 so they are
// written as YAML numbers.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = normalize(e)
		}
	case []any:
		for i, e := range t {
			t[i] = normalize(e)
		}
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	}
	return v
}
