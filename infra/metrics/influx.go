package metrics

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/kilianp07/evtelemetry/core/logger"
	coremetrics "github.com/kilianp07/evtelemetry/core/metrics"
)

// DefaultInfluxEvery down-samples vehicle_state points to one per 10 ticks.
const DefaultInfluxEvery = 10

// InfluxConfig locates the bucket receiving vehicle_state points.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
	// Every writes one point per Every ticks.
	Every int `json:"every"`
}

// InfluxRecorder writes down-sampled vehicle snapshots and lifecycle
// transitions to an InfluxDB instance using the official client.
type InfluxRecorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	every    uint64
	log      logger.Logger
}

// NewInfluxRecorder creates a recorder configured for the given endpoint.
func NewInfluxRecorder(cfg InfluxConfig, log logger.Logger) *InfluxRecorder {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	every := cfg.Every
	if every <= 0 {
		every = DefaultInfluxEvery
	}
	return &InfluxRecorder{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		every:    uint64(every),
		log:      logger.OrNop(log),
	}
}

// NewInfluxRecorderWithFallback pings the InfluxDB instance and returns a
// NopRecorder if the health check fails.
func NewInfluxRecorderWithFallback(cfg InfluxConfig, log logger.Logger) coremetrics.Recorder {
	rec := NewInfluxRecorder(cfg, log)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := rec.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			rec.log.Errorf("influx health check error: %v", err)
		} else {
			rec.log.Errorf("influx health status: %s", health.Status)
		}
		rec.client.Close()
		return coremetrics.NopRecorder{}
	}
	return rec
}

// RecordPacket is a no-op: packet counts are exported by Prometheus.
func (r *InfluxRecorder) RecordPacket(coremetrics.PacketEvent) error { return nil }

// RecordState writes a vehicle_state point every r.every ticks.
func (r *InfluxRecorder) RecordState(ev coremetrics.StateEvent) error {
	if ev.Tick%r.every != 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s := ev.State
	p := write.NewPointWithMeasurement("vehicle_state").
		AddTag("run_id", ev.RunID).
		AddTag("profile", ev.Profile).
		AddField("throttle_pct", round3(s.ThrottlePct)).
		AddField("motor_current_a", round3(s.MotorCurrentA)).
		AddField("motor_rpm", round3(s.MotorRPM)).
		AddField("pack_voltage_v", round3(s.PackVoltageV)).
		AddField("pack_temp_c", round3(s.PackTempC)).
		AddField("controller_temp_c", round3(s.ControllerTempC)).
		AddField("motor_temp_c", round3(s.MotorTempC)).
		AddField("odometer_km", round3(s.OdometerKm)).
		AddField("energy_kwh", round3(s.EnergyKWh)).
		AddField("packets_sent", int64(ev.PacketsSent)).
		SetTime(ev.Time)
	return r.writeAPI.WritePoint(ctx, p)
}

// RecordRunState writes a run_state point per lifecycle transition.
func (r *InfluxRecorder) RecordRunState(ev coremetrics.RunStateEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("run_state").
		AddTag("run_id", ev.RunID).
		AddField("from", ev.From).
		AddField("to", ev.To).
		SetTime(ev.Time)
	return r.writeAPI.WritePoint(ctx, p)
}

// Close releases the HTTP client.
func (r *InfluxRecorder) Close() error {
	r.client.Close()
	return nil
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
