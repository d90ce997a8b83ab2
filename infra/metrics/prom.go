package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/evtelemetry/core/metrics"
	"github.com/kilianp07/evtelemetry/core/model"
)

const namespace = "evtelemetry"

// runStates lists every lifecycle state exported by the run_state gauge.
var runStates = []string{"idle", "running", "stopped", "finished"}

// PromRecorder exports generator activity as Prometheus metrics.
type PromRecorder struct {
	packets     *prometheus.CounterVec
	bytes       *prometheus.CounterVec
	odometer    prometheus.Gauge
	energy      prometheus.Gauge
	packVoltage prometheus.Gauge
	throttle    prometheus.Gauge
	rpm         prometheus.Gauge
	current     prometheus.Gauge
	temperature *prometheus.GaugeVec
	runState    *prometheus.GaugeVec
}

// NewPromRecorder registers metrics on the default Prometheus registerer.
// The HTTP endpoint is started separately with StartPromServer.
func NewPromRecorder() (*PromRecorder, error) {
	return NewPromRecorderWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromRecorderWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromRecorderWithRegistry(reg prometheus.Registerer) (*PromRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}
	r := &PromRecorder{
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_total",
			Help:      "Total number of packets written to the sink",
		}, []string{"type"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packet_bytes_total",
			Help:      "Total number of encoded bytes written to the sink",
		}, []string{"type"}),
		odometer:    gauge("odometer_km", "Distance travelled in the current run"),
		energy:      gauge("energy_kwh", "Energy drawn from the pack in the current run"),
		packVoltage: gauge("pack_voltage_volts", "Sum of all cell voltages"),
		throttle:    gauge("throttle_percent", "Smoothed pedal position"),
		rpm:         gauge("motor_rpm", "Motor speed"),
		current:     gauge("motor_current_amperes", "Motor current"),
		temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "temperature_celsius",
			Help:      "Simulated temperatures",
		}, []string{"sensor"}),
		runState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_state",
			Help:      "1 for the current generator state, 0 otherwise",
		}, []string{"state"}),
	}

	var err error
	if r.packets, err = register(reg, r.packets); err != nil {
		return nil, err
	}
	if r.bytes, err = register(reg, r.bytes); err != nil {
		return nil, err
	}
	for _, g := range []*prometheus.Gauge{&r.odometer, &r.energy, &r.packVoltage, &r.throttle, &r.rpm, &r.current} {
		if *g, err = register(reg, *g); err != nil {
			return nil, err
		}
	}
	if r.temperature, err = register(reg, r.temperature); err != nil {
		return nil, err
	}
	if r.runState, err = register(reg, r.runState); err != nil {
		return nil, err
	}
	for _, t := range model.Cycle {
		r.packets.WithLabelValues(t.String())
		r.bytes.WithLabelValues(t.String())
	}
	return r, nil
}

// register adds c to reg, reusing the collector already registered under
// the same descriptor.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordPacket counts the packet and its size by record type.
func (r *PromRecorder) RecordPacket(ev coremetrics.PacketEvent) error {
	t := ev.Type.String()
	r.packets.WithLabelValues(t).Inc()
	r.bytes.WithLabelValues(t).Add(float64(ev.Bytes))
	return nil
}

// RecordState updates the vehicle gauges.
func (r *PromRecorder) RecordState(ev coremetrics.StateEvent) error {
	s := ev.State
	r.odometer.Set(s.OdometerKm)
	r.energy.Set(s.EnergyKWh)
	r.packVoltage.Set(s.PackVoltageV)
	r.throttle.Set(s.ThrottlePct)
	r.rpm.Set(s.MotorRPM)
	r.current.Set(s.MotorCurrentA)
	r.temperature.WithLabelValues("pack").Set(s.PackTempC)
	r.temperature.WithLabelValues("controller").Set(s.ControllerTempC)
	r.temperature.WithLabelValues("motor").Set(s.MotorTempC)
	return nil
}

// RecordRunState flags the new lifecycle state.
func (r *PromRecorder) RecordRunState(ev coremetrics.RunStateEvent) error {
	for _, st := range runStates {
		v := 0.0
		if st == ev.To {
			v = 1
		}
		r.runState.WithLabelValues(st).Set(v)
	}
	return nil
}
