// Package infra contains technical adapters such as the serial, MQTT and
// capture sinks, log targets and metrics exporters. These packages should
// depend only on the interfaces defined in the core packages.
package infra
