package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/thedongcc/Tcom-sub002/internal/fault"
	"github.com/thedongcc/Tcom-sub002/internal/logging"
)

const defaultMQTTTimeout = 10 * time.Second

var _ Adapter = (*MQTTAdapter)(nil)
var _ Publisher = (*MQTTAdapter)(nil)

// newMQTTClient is swapped out by tests.
var newMQTTClient = func(opts *mqtt.ClientOptions) mqtt.Client {
	return mqtt.NewClient(opts)
}

// MQTTConfig is everything needed to reach one broker. PublishTopic is the
// default target for writes; per-write options may override it.
type MQTTConfig struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	SubscribeTopic string
	PublishTopic   string
	QoS            byte
	Retain         bool
}

// MQTTAdapter connects one session to one MQTT broker. The broker link is
// not auto-reconnected; a lost connection surfaces as a ClosedEvent and the
// session returns to idle.
type MQTTAdapter struct {
	config MQTTConfig
	emit   EmitFunc
	logger *logging.Logger

	mu      sync.Mutex
	client  mqtt.Client
	closing atomic.Bool
	closed  sync.Once
}

func NewMQTTAdapter(config MQTTConfig, emit EmitFunc, logger *logging.Logger) *MQTTAdapter {
	if emit == nil {
		emit = func(Event) {}
	}
	return &MQTTAdapter{
		config: config,
		emit:   emit,
		logger: logger,
	}
}

func (a *MQTTAdapter) Open(ctx context.Context) error {
	if a.config.BrokerURL == "" {
		return fault.Configf("broker url is empty")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(a.config.BrokerURL)
	opts.SetClientID(a.config.ClientID)
	if a.config.Username != "" {
		opts.SetUsername(a.config.Username)
		opts.SetPassword(a.config.Password)
	}
	opts.SetAutoReconnect(false)
	opts.SetConnectTimeout(defaultMQTTTimeout)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if a.closing.Load() {
			return
		}
		a.emit(ClosedEvent{
			Origin: OriginBroker,
			Reason: closeReason(err),
			At:     time.Now(),
		})
	})

	client := newMQTTClient(opts)
	if err := waitToken(ctx, client.Connect(), "connect "+a.config.BrokerURL); err != nil {
		return err
	}

	if a.config.SubscribeTopic != "" {
		token := client.Subscribe(a.config.SubscribeTopic, a.config.QoS, a.onMessage)
		if err := waitToken(ctx, token, "subscribe "+a.config.SubscribeTopic); err != nil {
			client.Disconnect(disconnectQuiesceMS)
			return err
		}
	}

	a.mu.Lock()
	a.client = client
	a.mu.Unlock()

	a.logger.Debug("broker connected", map[string]string{
		"broker": a.config.BrokerURL,
		"client": a.config.ClientID,
	})
	return nil
}

func (a *MQTTAdapter) onMessage(_ mqtt.Client, msg mqtt.Message) {
	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())
	a.emit(DataEvent{
		Dir:     DirRX,
		Payload: payload,
		Topic:   msg.Topic(),
		Origin:  OriginBroker,
		At:      time.Now(),
	})
}

// Write publishes to the configured default topic.
func (a *MQTTAdapter) Write(ctx context.Context, payload []byte) error {
	return a.Publish(ctx, a.config.PublishTopic, payload, a.config.QoS, a.config.Retain)
}

func (a *MQTTAdapter) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	if topic == "" {
		return fault.Configf("publish topic is empty")
	}
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	if client == nil {
		return fault.Transportf("broker %s is not connected", a.config.BrokerURL)
	}
	return waitToken(ctx, client.Publish(topic, qos, retain, payload), "publish "+topic)
}

// disconnectQuiesceMS gives the broker link time to flush in-flight messages.
const disconnectQuiesceMS = 250

func (a *MQTTAdapter) Close() error {
	a.closed.Do(func() {
		a.closing.Store(true)
		a.mu.Lock()
		client := a.client
		a.client = nil
		a.mu.Unlock()
		if client != nil && client.IsConnected() {
			client.Disconnect(disconnectQuiesceMS)
		}
		a.logger.Debug("broker disconnected", map[string]string{"broker": a.config.BrokerURL})
	})
	return nil
}

// waitToken blocks on a broker acknowledgement, bounded by the context
// deadline when one is set and by the default timeout otherwise.
func waitToken(ctx context.Context, token mqtt.Token, op string) error {
	wait := defaultMQTTTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
	}
	if wait <= 0 {
		return fault.Transport(ctx.Err(), op)
	}
	if !token.WaitTimeout(wait) {
		return fault.Transportf("%s timed out after %s", op, wait)
	}
	if err := token.Error(); err != nil {
		return fault.Transport(err, op)
	}
	return nil
}
