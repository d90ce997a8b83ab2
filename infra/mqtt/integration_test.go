//go:build !no_containers

package mqtt

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kilianp07/evtelemetry/core/model"
	"github.com/kilianp07/evtelemetry/core/wire"
)

// TestIntegration publishes encoded packets to a real Mosquitto broker and
// decodes them from a subscriber.
func TestIntegration(t *testing.T) {
	if os.Getenv("DOCKER_AVAILABLE") != "true" && os.Getenv("DOCKER_AVAILABLE") != "1" {
		t.Skip("docker not available")
	}
	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:1.6",
		ExposedPorts: []string{"1883/tcp"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start container: %v", err)
	}
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %v", err)
		}
	}()

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "1883")
	if err != nil {
		t.Fatalf("failed to get mapped port: %v", err)
	}
	brokerURL := fmt.Sprintf("tcp://%s:%s", host, port.Port())

	sub := paho.NewClient(paho.NewClientOptions().AddBroker(brokerURL).SetClientID("dashboard"))
	if token := sub.Connect(); token.Wait() && token.Error() != nil {
		t.Fatalf("subscriber connect: %v", token.Error())
	}
	defer sub.Disconnect(100)
	msgCh := make(chan []byte, 1)
	topic := "evtelemetry/it/packets"
	if token := sub.Subscribe(topic, 1, func(_ paho.Client, m paho.Message) {
		msgCh <- m.Payload()
	}); token.Wait() && token.Error() != nil {
		t.Fatalf("subscribe: %v", token.Error())
	}

	s, err := NewSink(Config{Broker: brokerURL, QoS: 1}, "it", nil)
	if err != nil {
		t.Fatalf("sink: %v", err)
	}
	defer s.Close()

	rec := &model.APPSReading{TimestampMS: 1234, State: model.APPSStateRunning, ThrottlePct: 42, MotorRPM: 1680}
	pkt, err := wire.Encode(rec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := s.Write(pkt); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case got := <-msgCh:
		dec, err := wire.Decode(got)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		apps, ok := dec.(*model.APPSReading)
		if !ok || *apps != *rec {
			t.Fatalf("expected %+v got %+v", rec, dec)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for packet")
	}
}
