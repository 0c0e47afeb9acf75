package mqtt

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/murtazakamran18/count-steps/internal/monitoring"
)

// SampleSource subscribes to a topic carrying raw accelerometer payloads,
// one sample per message. Bridges publish the same line formats the serial
// transport produces, so the payloads feed straight into the pipeline.
type SampleSource struct {
	client paho.Client
	topic  string
}

// NewSampleSource connects to the broker and prepares a subscription on
// topic. Subscribe must be called to start delivery.
func NewSampleSource(broker, topic string) (*SampleSource, error) {
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID("count-steps-sub-" + uuid.NewString()[:8]).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return &SampleSource{client: client, topic: topic}, nil
}

// Subscribe registers handler for every message on the sample topic.
// Handler errors are logged, never fatal: one bad payload must not tear
// down the subscription. QoS 1 because bridge devices buffer samples while
// offline and we want the backlog.
func (s *SampleSource) Subscribe(handler func(payload string) error) error {
	token := s.client.Subscribe(s.topic, 1, func(_ paho.Client, msg paho.Message) {
		if err := handler(string(msg.Payload())); err != nil {
			monitoring.Logf("mqtt: sample handler: %v", err)
		}
	})
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("subscribe timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.topic, err)
	}
	return nil
}

// Close unsubscribes and disconnects.
func (s *SampleSource) Close() error {
	token := s.client.Unsubscribe(s.topic)
	token.WaitTimeout(2 * time.Second)
	s.client.Disconnect(1000)
	return nil
}
