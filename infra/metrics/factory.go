package metrics

import (
	"github.com/kilianp07/evtelemetry/core/factory"
	"github.com/kilianp07/evtelemetry/core/logger"
	coremetrics "github.com/kilianp07/evtelemetry/core/metrics"
	"github.com/kilianp07/evtelemetry/core/model"
)

// init registers built-in metrics recorders.
func init() {
	_ = coremetrics.RegisterRecorder("nop", func(map[string]any, logger.Logger) (coremetrics.Recorder, error) {
		return coremetrics.NopRecorder{}, nil
	})

	_ = coremetrics.RegisterRecorder("prometheus", func(map[string]any, logger.Logger) (coremetrics.Recorder, error) {
		// The endpoint address lives in metrics.listen; the recorder only
		// registers collectors.
		return NewPromRecorder()
	})

	_ = coremetrics.RegisterRecorder("influx", func(conf map[string]any, log logger.Logger) (coremetrics.Recorder, error) {
		var c InfluxConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, model.NewConfigurationError("influx metrics", "%v", err)
		}
		if c.URL == "" || c.Bucket == "" {
			return nil, model.NewConfigurationError("influx metrics", "url and bucket are required")
		}
		return NewInfluxRecorderWithFallback(c, log), nil
	})

	_ = coremetrics.RegisterRecorder("sqlite", func(conf map[string]any, log logger.Logger) (coremetrics.Recorder, error) {
		var c SQLiteConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, model.NewConfigurationError("sqlite metrics", "%v", err)
		}
		if c.Path == "" {
			return nil, model.NewConfigurationError("sqlite metrics", "path is required")
		}
		return NewSQLiteRecorder(c, log)
	})
}
