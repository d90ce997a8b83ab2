// Package serial writes packets to a serial device through go.bug.st/serial.
package serial

import (
	"fmt"
	"sort"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/kilianp07/evtelemetry/core/factory"
	"github.com/kilianp07/evtelemetry/core/logger"
	"github.com/kilianp07/evtelemetry/core/model"
	"github.com/kilianp07/evtelemetry/core/sink"
)

// DefaultBaud matches the telemetry radio link.
const DefaultBaud = 57600

// Config describes the device. The link is always 8N1.
type Config struct {
	Port string `json:"port"`
	Baud int    `json:"baud"`
}

// Validate fills the default baud rate and checks the port name.
func (c *Config) Validate() error {
	if c.Port == "" {
		return model.NewConfigurationError("port", "no serial port given (list them with `evtelemetry ports`)")
	}
	if c.Baud == 0 {
		c.Baud = DefaultBaud
	}
	if c.Baud < 0 {
		return model.NewConfigurationError("baud", "%d is negative", c.Baud)
	}
	return nil
}

var openPort = func(name string, mode *serial.Mode) (serial.Port, error) {
	return serial.Open(name, mode)
}

var listPorts = enumerator.GetDetailedPortsList

// Sink writes each packet to the port.
type Sink struct {
	port serial.Port
	name string
	log  logger.Logger
}

// New opens the configured port. Failing to open it is a sink error.
func New(cfg Config, log logger.Logger) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := openPort(cfg.Port, mode)
	if err != nil {
		return nil, &model.SinkWriteError{Op: "open", Err: fmt.Errorf("serial %s: %w", cfg.Port, err)}
	}
	log = logger.OrNop(log)
	log.Infof("serial port %s open at %d baud", cfg.Port, cfg.Baud)
	return &Sink{port: p, name: cfg.Port, log: log}, nil
}

// Write sends p, retrying until the driver accepted every byte.
func (s *Sink) Write(p []byte) (int, error) {
	var total int
	for total < len(p) {
		n, err := s.port.Write(p[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, fmt.Errorf("serial %s: zero-length write", s.name)
		}
	}
	return total, nil
}

// Flush waits until the output buffer is transmitted.
func (s *Sink) Flush() error {
	return s.port.Drain()
}

// Close releases the device.
func (s *Sink) Close() error {
	s.log.Infof("closing serial port %s", s.name)
	return s.port.Close()
}

// PortInfo describes a serial device found on the host.
type PortInfo struct {
	Name    string
	USB     bool
	VID     string
	PID     string
	Serial  string
	Product string
}

// Description summarizes the USB identity of the port.
func (p PortInfo) Description() string {
	if !p.USB {
		return "n/a"
	}
	d := fmt.Sprintf("USB %s:%s", p.VID, p.PID)
	if p.Product != "" {
		d += " " + p.Product
	}
	return d
}

// ListPorts enumerates the serial devices of the host, sorted by name.
func ListPorts() ([]PortInfo, error) {
	details, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	out := make([]PortInfo, 0, len(details))
	for _, d := range details {
		out = append(out, PortInfo{
			Name:    d.Name,
			USB:     d.IsUSB,
			VID:     d.VID,
			PID:     d.PID,
			Serial:  d.SerialNumber,
			Product: d.Product,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func init() {
	_ = sink.Register("serial", func(conf map[string]any, env sink.Env) (sink.Sink, error) {
		var c Config
		if err := factory.Decode(conf, &c); err != nil {
			return nil, model.NewConfigurationError("serial output", "%v", err)
		}
		return New(c, env.Logger)
	})
}
