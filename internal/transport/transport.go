// Package transport implements the I/O adapters behind sessions: a serial
// port, an MQTT client, and a monitor bridge across two serial endpoints.
// Adapters never touch shared state; they hand typed events to the emit
// function they were constructed with, and the session's consumer loop does
// the rest.
package transport

import (
	"context"
	"time"
)

// Direction tells the log pipeline which way payload bytes travelled.
type Direction string

const (
	DirRX Direction = "rx"
	DirTX Direction = "tx"
)

// Origin names the endpoint an event came from, so closure logs can say
// which side failed.
type Origin string

const (
	OriginDevice   Origin = "device"
	OriginBroker   Origin = "broker"
	OriginVirtual  Origin = "virtual port"
	OriginPhysical Origin = "physical port"
)

// Event is the sum of everything an adapter can report. Implementations are
// value types; the consumer switches on the concrete type.
type Event interface {
	When() time.Time
}

// DataEvent carries received or mirrored payload bytes.
type DataEvent struct {
	Dir     Direction
	Payload []byte
	Topic   string
	Origin  Origin
	At      time.Time
}

func (e DataEvent) When() time.Time { return e.At }

// ErrorEvent reports a non-fatal adapter error. The connection stays up.
type ErrorEvent struct {
	Err    error
	Origin Origin
	At     time.Time
}

func (e ErrorEvent) When() time.Time { return e.At }

// ClosedEvent reports that the transport ended without a local Close call.
type ClosedEvent struct {
	Origin Origin
	Reason string
	At     time.Time
}

func (e ClosedEvent) When() time.Time { return e.At }

// EmitFunc delivers an event to the owning session. Implementations must
// not block indefinitely; adapters call it from their read loops.
type EmitFunc func(Event)

// Adapter is the contract every session kind connects through.
type Adapter interface {
	// Open establishes the connection and starts event delivery. It is
	// called at most once per adapter instance.
	Open(ctx context.Context) error
	// Close tears the connection down. Safe to call more than once and
	// after a failed Open. Read loops end without emitting ClosedEvent.
	Close() error
	// Write sends payload bytes. The caller applies checksum framing
	// beforehand when enabled.
	Write(ctx context.Context, payload []byte) error
}

// Publisher is the extra surface of topic-addressed adapters.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error
}
