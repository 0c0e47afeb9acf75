package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/murtazakamran18/count-steps/internal/monitoring"
	"github.com/murtazakamran18/count-steps/internal/steps"
)

// RealPublisher publishes to an actual MQTT broker. Messages produced while
// the connection is down are queued and replayed on reconnect.
type RealPublisher struct {
	client paho.Client

	mu    sync.Mutex
	queue *sendQueue
}

// NewRealPublisher creates a publisher connected to the given broker. The
// client ID carries a random suffix so a dev laptop and a deployed unit can
// share a broker without kicking each other off.
func NewRealPublisher(broker string) (*RealPublisher, error) {
	p := &RealPublisher{queue: newSendQueue(512)}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID("count-steps-" + uuid.NewString()[:8]).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(paho.Client) { p.replayQueued() })

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// PublishStep sends an accepted step to the MQTT broker.
func (p *RealPublisher) PublishStep(event steps.Event) error {
	payload, err := FormatStepPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 0 (at-most-once), not retained: a missed step event is
	// recoverable from the database.
	return p.publish(TopicSteps, 0, false, payload)
}

// PublishSystem sends a service lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) - shutdown notices should survive a flaky link.
	return p.publish(TopicSystem, 1, event.Retained, payload)
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !p.client.IsConnected() {
		p.mu.Lock()
		p.queue.push(queuedMessage{topic: topic, payload: payload, qos: qos, retained: retained})
		p.mu.Unlock()
		return nil
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// replayQueued flushes messages held while disconnected. Runs on paho's
// connection goroutine.
func (p *RealPublisher) replayQueued() {
	p.mu.Lock()
	queued := p.queue.drain()
	p.mu.Unlock()
	if len(queued) == 0 {
		return
	}

	monitoring.Logf("mqtt: replaying %d queued messages", len(queued))
	for _, m := range queued {
		token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
		if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
			monitoring.Logf("mqtt: failed to replay queued message on %s", m.topic)
		}
	}
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnected()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
