package mqtt

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kilianp07/evtelemetry/core/factory"
	"github.com/kilianp07/evtelemetry/core/logger"
	"github.com/kilianp07/evtelemetry/core/model"
	"github.com/kilianp07/evtelemetry/core/sink"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
)

// Sink publishes every packet as one binary MQTT message.
type Sink struct {
	cli     pahoClient
	cfg     Config
	log     logger.Logger
	timeout time.Duration
}

// NewSink fills defaults from runID, connects and announces the run on the
// status topic. An unreachable broker is a sink error.
func NewSink(cfg Config, runID string, log logger.Logger) (*Sink, error) {
	if cfg.Broker == "" {
		return nil, model.NewConfigurationError("mqtt broker", "no broker URL given")
	}
	if cfg.QoS > 2 {
		return nil, model.NewConfigurationError("mqtt qos", "%d is not 0, 1 or 2", cfg.QoS)
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "evtelemetry-" + runID
	}
	if cfg.Topic == "" {
		cfg.Topic = fmt.Sprintf("evtelemetry/%s/packets", runID)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, model.NewConfigurationError("mqtt tls", "%v", err)
	}
	log = logger.OrNop(log)
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}

	c := newMQTTClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, &model.SinkWriteError{Op: "open", Err: fmt.Errorf("mqtt connect to %s timed out", cfg.Broker)}
	}
	if err := token.Error(); err != nil {
		return nil, &model.SinkWriteError{Op: "open", Err: fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)}
	}
	s := &Sink{cli: c, cfg: cfg, log: log, timeout: cfg.PublishTimeout}
	if cfg.StatusTopic != "" {
		if err := s.publish(cfg.StatusTopic, 1, true, []byte(statusOnline)); err != nil {
			log.Warnf("status %s: %v", statusOnline, err)
		}
	}
	log.Infof("MQTT connected to %s, publishing on %s", cfg.Broker, cfg.Topic)
	return s, nil
}

// Topic returns the packet topic.
func (s *Sink) Topic() string { return s.cfg.Topic }

// Write publishes a copy of p and waits for the broker to accept it.
func (s *Sink) Write(p []byte) (int, error) {
	payload := append([]byte(nil), p...)
	if err := s.publish(s.cfg.Topic, s.cfg.QoS, s.cfg.Retain, payload); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *Sink) publish(topic string, qos byte, retain bool, payload []byte) error {
	token := s.cli.Publish(topic, qos, retain, payload)
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("publish to %s timed out after %s", topic, s.timeout)
	}
	return token.Error()
}

// Flush is a no-op: every Write already waited for its publish.
func (s *Sink) Flush() error { return nil }

// Close announces the end of the run and disconnects.
func (s *Sink) Close() error {
	if s.cfg.StatusTopic != "" {
		if err := s.publish(s.cfg.StatusTopic, 1, true, []byte(statusOffline)); err != nil {
			s.log.Warnf("status %s: %v", statusOffline, err)
		}
	}
	if s.cli.IsConnected() {
		s.cli.Disconnect(250)
	}
	return nil
}

func init() {
	_ = sink.Register("mqtt", func(conf map[string]any, env sink.Env) (sink.Sink, error) {
		var c Config
		if err := factory.Decode(conf, &c); err != nil {
			return nil, model.NewConfigurationError("mqtt output", "%v", err)
		}
		return NewSink(c, env.RunID, env.Logger)
	})
}
