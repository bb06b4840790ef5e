package webmonitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/status"
)

const (
	alertQoS       = 1
	statusQoS      = 0
	publishTimeout = 2 * time.Second
	mqttQueueSize  = 32
)

// MQTTNotifier relays events to a broker. Alerts go to <topic>/alert;
// status updates go to <topic>/status as a retained message, only when the
// status changed. Publishing runs on its own goroutine.
type MQTTNotifier struct {
	client mqtt.Client
	topic  string
	queue  chan *Event
	done   chan struct{}
	wg     sync.WaitGroup

	lastStatus *status.Payload // publisher goroutine only

	published atomic.Uint64
	errors    atomic.Uint64
	dropped   atomic.Uint64
}

// NewMQTTNotifier creates a notifier for broker (host:port).
func NewMQTTNotifier(broker, clientID, topic string) *MQTTNotifier {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", broker))
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		logger.Info("MQTT", "Connected to %s as %s", broker, clientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		logger.Warn("MQTT", "Connection to %s lost, will auto-reconnect: %v", broker, err)
	}

	return newMQTTNotifier(mqtt.NewClient(opts), topic)
}

func newMQTTNotifier(client mqtt.Client, topic string) *MQTTNotifier {
	n := &MQTTNotifier{
		client: client,
		topic:  topic,
		queue:  make(chan *Event, mqttQueueSize),
		done:   make(chan struct{}),
	}
	n.wg.Add(1)
	go n.run()
	return n
}

// Connect establishes the broker connection.
func (n *MQTTNotifier) Connect(ctx context.Context) error {
	token := n.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	return nil
}

// Notify queues ev for publishing.
func (n *MQTTNotifier) Notify(ev *Event) error {
	select {
	case n.queue <- ev:
		return nil
	default:
		n.dropped.Add(1)
		return fmt.Errorf("mqtt queue full")
	}
}

func (n *MQTTNotifier) run() {
	defer n.wg.Done()
	for {
		select {
		case <-n.done:
			return
		case ev := <-n.queue:
			if err := n.publish(ev); err != nil {
				n.errors.Add(1)
				logger.Warn("MQTT", "Publish %s failed: %v", ev.Type, err)
			}
		}
	}
}

func (n *MQTTNotifier) publish(ev *Event) error {
	var (
		topic    string
		qos      byte
		retained bool
	)
	switch ev.Type {
	case EventMotionAlert:
		topic, qos = n.topic+"/alert", alertQoS
	case EventStatusUpdate:
		p, ok := ev.Data.(status.Payload)
		if ok && n.lastStatus != nil && samePayload(*n.lastStatus, p) {
			return nil
		}
		topic, qos, retained = n.topic+"/status", statusQoS, true
	default:
		return nil
	}

	if !n.client.IsConnected() {
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := ev.JSON()
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	token := n.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return err
	}
	if p, ok := ev.Data.(status.Payload); ok && ev.Type == EventStatusUpdate {
		n.lastStatus = &p
	}
	n.published.Add(1)
	logger.Debug("MQTT", "Published %s to %s (%d bytes)", ev.Type, topic, len(payload))
	return nil
}

// Published returns the number of messages delivered to the broker.
func (n *MQTTNotifier) Published() uint64 {
	return n.published.Load()
}

// Close stops the publisher and disconnects.
func (n *MQTTNotifier) Close() {
	close(n.done)
	n.wg.Wait()
	if n.client.IsConnected() {
		n.client.Disconnect(250)
		logger.Info("MQTT", "Disconnected")
	}
}

func samePayload(a, b status.Payload) bool {
	if a.SequenceDetected != b.SequenceDetected || a.SequenceCount != b.SequenceCount {
		return false
	}
	if a.LastSequence == nil || b.LastSequence == nil {
		return a.LastSequence == b.LastSequence
	}
	return a.LastSequence.Equal(*b.LastSequence)
}
