package session

import (
	"context"
	"fmt"
	"time"

	"github.com/thedongcc/Tcom-sub002/internal/crc"
	"github.com/thedongcc/Tcom-sub002/internal/fault"
	"github.com/thedongcc/Tcom-sub002/internal/logging"
	"github.com/thedongcc/Tcom-sub002/internal/metrics"
	"github.com/thedongcc/Tcom-sub002/internal/transport"
)

const eventChannelDepth = 64

// AdapterFactory builds the transport for a connectable config. Tests swap
// it for fakes.
type AdapterFactory func(config Config, emit transport.EmitFunc) (transport.Adapter, error)

// PairResolver is the slice of the pairing coordinator the controller
// needs: paired-port lookup for monitor connects and pair removal on
// disconnect.
type PairResolver interface {
	FindPairedPort(ctx context.Context, virtualPort string) (port, pairID string, err error)
	RemovePair(ctx context.Context, pairID string) error
	Enabled() bool
}

// WriteOptions carry per-write publish overrides. Zero values defer to the
// session config.
type WriteOptions struct {
	Topic  string `json:"topic,omitempty"`
	QoS    *byte  `json:"qos,omitempty"`
	Retain *bool  `json:"retain,omitempty"`
}

type ControllerOptions struct {
	Pairing PairResolver
	Factory AdapterFactory
	Logger  *logging.Logger
	Metrics *metrics.Registry
}

// Controller drives session connection lifecycles. All transitions are
// compare-and-swap on the session state word: concurrent connects collapse
// to one open, and a disconnect during an in-flight connect marks the
// session Disconnecting for the connect path to observe and unwind.
type Controller struct {
	registry *Registry
	pipeline *Pipeline
	pairing  PairResolver
	factory  AdapterFactory
	logger   *logging.Logger
	metrics  *metrics.Registry
}

func NewController(registry *Registry, pipeline *Pipeline, options ControllerOptions) *Controller {
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	m := options.Metrics
	if m == nil {
		m = metrics.Default
	}
	controller := &Controller{
		registry: registry,
		pipeline: pipeline,
		pairing:  options.Pairing,
		factory:  options.Factory,
		logger:   logger,
		metrics:  m,
	}
	if controller.factory == nil {
		controller.factory = controller.buildAdapter
	}
	return controller
}

// Connect opens the session's transport. Already connecting or connected
// sessions make this a no-op. Precondition failures produce an ERROR log
// entry and leave the session Idle without touching any adapter.
func (c *Controller) Connect(ctx context.Context, id string) error {
	session, err := c.registry.Get(id)
	if err != nil {
		return err
	}
	if !session.compareAndSwapState(StateIdle, StateConnecting) {
		return nil
	}
	c.registry.emitState(session)

	config := session.Config()
	if !config.connectable() {
		return c.failConnect(session, fault.Configf("%s sessions do not connect", config.Kind))
	}
	if err := validateConnect(config); err != nil {
		return c.failConnect(session, err)
	}
	if config.Kind == KindMonitor && config.Monitor.PairedPort == "" {
		resolved, err := c.resolvePairedPort(ctx, session, config)
		if err != nil {
			return c.failConnect(session, err)
		}
		config = resolved
	}

	done := make(chan struct{})
	events := make(chan transport.Event, eventChannelDepth)
	emit := func(ev transport.Event) {
		select {
		case events <- ev:
		case <-done:
		}
	}

	adapter, err := c.factory(config, emit)
	if err != nil {
		return c.failConnect(session, err)
	}
	if err := adapter.Open(ctx); err != nil {
		return c.failConnect(session, err)
	}

	if !session.compareAndSwapState(StateConnecting, StateConnected) {
		// A disconnect arrived mid-open; unwind without ever going
		// Connected.
		close(done)
		if closeErr := adapter.Close(); closeErr != nil {
			c.logger.Warn("adapter close error", map[string]string{
				"session": id,
				"error":   closeErr.Error(),
			})
		}
		session.setState(StateIdle)
		c.pipeline.Ingest(id, infoEntry("connect aborted by disconnect"))
		c.registry.emitState(session)
		return nil
	}

	session.attachRuntime(&linkRuntime{adapter: adapter, events: events, done: done})
	go c.consume(session, events, done)

	c.pipeline.Ingest(id, infoEntry(connectMessage(config)))
	c.registry.emitState(session)
	c.metrics.IncConnect()
	c.logger.Info("session connected", map[string]string{
		"session": id,
		"kind":    string(config.Kind),
	})
	return nil
}

// Disconnect tears the session's transport down. Idle sessions make this a
// no-op; a session still Connecting is marked for the connect path to
// unwind when its open returns.
func (c *Controller) Disconnect(ctx context.Context, id string) error {
	session, err := c.registry.Get(id)
	if err != nil {
		return err
	}
	if session.compareAndSwapState(StateConnecting, StateDisconnecting) {
		c.registry.emitState(session)
		return nil
	}
	if !session.compareAndSwapState(StateConnected, StateDisconnecting) {
		return nil
	}
	c.registry.emitState(session)
	c.teardown(ctx, session, infoEntry("disconnected"))
	return nil
}

// Delete disconnects the session, then removes it from the registry and the
// store.
func (c *Controller) Delete(ctx context.Context, id string) error {
	if _, err := c.registry.Get(id); err != nil {
		return err
	}
	_ = c.Disconnect(ctx, id)
	return c.registry.Delete(id)
}

// DisconnectAll is the shutdown path.
func (c *Controller) DisconnectAll(ctx context.Context) {
	for _, info := range c.registry.List() {
		_ = c.Disconnect(ctx, info.ID)
	}
}

// Write sends payload over a connected session. Serial and monitor writes
// pass through CRC framing when enabled and are logged with the framed
// bytes; MQTT writes publish with per-write or configured topic, QoS, and
// retain.
func (c *Controller) Write(ctx context.Context, id string, payload []byte, options WriteOptions) error {
	session, err := c.registry.Get(id)
	if err != nil {
		return err
	}
	if session.State() != StateConnected {
		err := fault.Configf("session %q is not connected", session.Name())
		c.pipeline.Ingest(id, errorEntry("write refused: "+err.Error()))
		return err
	}
	adapter := session.adapterRef()
	if adapter == nil {
		return fault.Configf("session %q has no open link", session.Name())
	}

	config := session.Config()
	if config.Kind == KindMQTT {
		return c.publish(ctx, session, adapter, config, payload, options)
	}
	return c.writeFramed(ctx, session, adapter, payload)
}

func (c *Controller) writeFramed(ctx context.Context, session *Session, adapter transport.Adapter, payload []byte) error {
	out := payload
	if settings, ok := session.linkCRC(); ok && settings.TXEnabled {
		out = crc.Frame(settings.Algorithm, payload, settings.Range)
	}
	if err := adapter.Write(ctx, out); err != nil {
		c.pipeline.Ingest(session.ID(), errorEntry("write failed: "+err.Error()))
		return err
	}
	c.pipeline.Ingest(session.ID(), LogEntry{
		Kind:        LogTX,
		Payload:     out,
		Timestamp:   time.Now().UTC(),
		RepeatCount: 1,
	})
	c.metrics.AddBytesWritten(len(out))
	return nil
}

func (c *Controller) publish(ctx context.Context, session *Session, adapter transport.Adapter, config Config, payload []byte, options WriteOptions) error {
	publisher, ok := adapter.(transport.Publisher)
	if !ok {
		return fault.Configf("session %q cannot publish", session.Name())
	}
	topic := options.Topic
	if topic == "" {
		topic = config.MQTT.PublishTopic
	}
	qos := config.MQTT.QoS
	if options.QoS != nil {
		qos = *options.QoS
	}
	retain := config.MQTT.Retain
	if options.Retain != nil {
		retain = *options.Retain
	}
	if err := publisher.Publish(ctx, topic, payload, qos, retain); err != nil {
		c.pipeline.Ingest(session.ID(), errorEntry("publish failed: "+err.Error()))
		return err
	}
	c.pipeline.Ingest(session.ID(), LogEntry{
		Kind:        LogTX,
		Payload:     payload,
		Topic:       topic,
		Timestamp:   time.Now().UTC(),
		RepeatCount: 1,
	})
	c.metrics.AddBytesWritten(len(payload))
	return nil
}

// resolvePairedPort fills in the monitor session's own pair endpoint from
// the coordinator's listing and persists it.
func (c *Controller) resolvePairedPort(ctx context.Context, session *Session, config Config) (Config, error) {
	if c.pairing == nil || !c.pairing.Enabled() {
		return config, fault.Configf("port pairing is not available")
	}
	port, pairID, err := c.pairing.FindPairedPort(ctx, config.Monitor.VirtualPort)
	if err != nil {
		return config, err
	}
	if port == "" {
		return config, fault.Configf("no pair contains %s", config.Monitor.VirtualPort)
	}
	config.Monitor.PairedPort = port
	config.Monitor.PairID = pairID
	if err := c.registry.UpdateConfig(session.ID(), config); err != nil {
		return config, err
	}
	return config, nil
}

func (c *Controller) failConnect(session *Session, err error) error {
	c.pipeline.Ingest(session.ID(), errorEntry(err.Error()))
	session.setState(StateIdle)
	c.registry.emitState(session)
	c.metrics.IncConnectFailed()
	c.logger.Warn("connect failed", map[string]string{
		"session": session.ID(),
		"error":   err.Error(),
	})
	return err
}

// teardown is the single exit from Connected. It stops the consumer, closes
// the adapter best-effort, releases an auto-destroy pair, and always parks
// the session in Idle.
func (c *Controller) teardown(ctx context.Context, session *Session, entry LogEntry) {
	if rt := session.takeRuntime(); rt != nil {
		close(rt.done)
		if err := rt.adapter.Close(); err != nil {
			c.logger.Warn("adapter close error", map[string]string{
				"session": session.ID(),
				"error":   err.Error(),
			})
		}
	}
	c.releasePair(ctx, session)
	session.setState(StateIdle)
	c.pipeline.Ingest(session.ID(), entry)
	c.registry.emitState(session)
	c.metrics.IncDisconnect()
}

func (c *Controller) releasePair(ctx context.Context, session *Session) {
	config := session.Config()
	if config.Kind != KindMonitor || config.Monitor == nil {
		return
	}
	monitor := config.Monitor
	if !monitor.AutoDestroyPair || monitor.PairID == "" {
		return
	}
	if c.pairing != nil {
		if err := c.pairing.RemovePair(ctx, monitor.PairID); err != nil {
			if fault.ClassOf(err) == fault.ClassUnauthorized && !c.pairing.Enabled() {
				c.logger.Warn("pair removal unauthorized", map[string]string{
					"session": session.ID(),
					"pair":    monitor.PairID,
				})
			} else {
				c.pipeline.Ingest(session.ID(), errorEntry("pair removal failed: "+err.Error()))
			}
		}
	}
	monitor.PairedPort = ""
	monitor.PairID = ""
	if err := c.registry.UpdateConfig(session.ID(), config); err != nil {
		c.logger.Warn("pair cleanup not saved", map[string]string{
			"session": session.ID(),
			"error":   err.Error(),
		})
	}
}

// consume drains the adapter's event channel until teardown or a closed
// event. It is the only path from adapter goroutines into session logs.
func (c *Controller) consume(session *Session, events <-chan transport.Event, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev := <-events:
			switch ev := ev.(type) {
			case transport.DataEvent:
				c.handleData(session, ev)
			case transport.ErrorEvent:
				c.pipeline.Ingest(session.ID(), errorEntry(ev.Err.Error()))
			case transport.ClosedEvent:
				c.handleClosed(session, ev)
				return
			}
		}
	}
}

func (c *Controller) handleData(session *Session, ev transport.DataEvent) {
	entry := LogEntry{
		Kind:        kindForDirection(ev.Dir),
		Payload:     ev.Payload,
		Topic:       ev.Topic,
		Timestamp:   ev.At,
		RepeatCount: 1,
	}
	if entry.Kind == LogRX {
		if settings, ok := session.linkCRC(); ok && settings.RXEnabled {
			entry.CRCStatus = crc.Validate(settings.Algorithm, ev.Payload, settings.Range)
			if entry.CRCStatus == crc.StatusError {
				c.metrics.IncCRCFailure()
			}
		}
	}
	c.pipeline.Ingest(session.ID(), entry)
}

// handleClosed runs an unexpected-closure teardown: same path as a user
// disconnect, with the log entry naming the endpoint that failed.
func (c *Controller) handleClosed(session *Session, ev transport.ClosedEvent) {
	if !session.compareAndSwapState(StateConnected, StateDisconnecting) {
		return
	}
	c.registry.emitState(session)
	entry := errorEntry(fmt.Sprintf("%s closed: %s", ev.Origin, ev.Reason))
	c.teardown(context.Background(), session, entry)
}

func (c *Controller) buildAdapter(config Config, emit transport.EmitFunc) (transport.Adapter, error) {
	switch config.Kind {
	case KindSerial:
		s := config.Serial
		return transport.NewSerialAdapter(transport.SerialConfig{
			Path:     s.Path,
			BaudRate: s.BaudRate,
			DataBits: s.DataBits,
			Parity:   s.Parity,
			StopBits: s.StopBits,
		}, emit, c.logger.WithSession(config.ID)), nil
	case KindMQTT:
		m := config.MQTT
		clientID := m.ClientID
		if clientID == "" {
			clientID = defaultClientID(config.ID)
		}
		return transport.NewMQTTAdapter(transport.MQTTConfig{
			BrokerURL:      m.BrokerURL,
			ClientID:       clientID,
			Username:       m.Username,
			Password:       m.Password,
			SubscribeTopic: m.SubscribeTopic,
			PublishTopic:   m.PublishTopic,
			QoS:            m.QoS,
			Retain:         m.Retain,
		}, emit, c.logger.WithSession(config.ID)), nil
	case KindMonitor:
		m := config.Monitor
		return transport.NewMonitorAdapter(transport.MonitorConfig{
			Virtual: transport.SerialConfig{
				Path:     m.PairedPort,
				BaudRate: m.BaudRate,
				DataBits: m.DataBits,
				Parity:   m.Parity,
				StopBits: m.StopBits,
			},
			Physical: transport.SerialConfig{
				Path:     m.PhysicalPort,
				BaudRate: m.BaudRate,
				DataBits: m.DataBits,
				Parity:   m.Parity,
				StopBits: m.StopBits,
			},
		}, emit, c.logger.WithSession(config.ID)), nil
	}
	return nil, fault.Configf("%s sessions do not connect", config.Kind)
}

// validateConnect checks kind preconditions before any adapter is built.
func validateConnect(config Config) error {
	switch config.Kind {
	case KindSerial:
		if config.Serial.Path == "" {
			return fault.Configf("serial path is empty")
		}
	case KindMQTT:
		if config.MQTT.BrokerURL == "" {
			return fault.Configf("broker url is empty")
		}
	case KindMonitor:
		if config.Monitor.VirtualPort == "" {
			return fault.Configf("virtual port is not selected")
		}
		if config.Monitor.PhysicalPort == "" {
			return fault.Configf("physical port is not selected")
		}
	}
	return nil
}

func connectMessage(config Config) string {
	switch config.Kind {
	case KindSerial:
		return "connected to " + config.Serial.Path
	case KindMQTT:
		return "connected to " + config.MQTT.BrokerURL
	case KindMonitor:
		return fmt.Sprintf("monitoring %s through %s", config.Monitor.PhysicalPort, config.Monitor.VirtualPort)
	}
	return "connected"
}

func kindForDirection(dir transport.Direction) LogKind {
	if dir == transport.DirTX {
		return LogTX
	}
	return LogRX
}

func defaultClientID(id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return "tcom-" + id
}
