// Package metrics defines the recorder interfaces the generator reports to.
// Recorders like the Prometheus and InfluxDB implementations in
// infra/metrics receive one PacketEvent per packet written and one
// StateEvent per tick. The factory helpers return a MultiRecorder
// automatically when multiple recorders are configured.
package metrics
