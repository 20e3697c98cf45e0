// Package event provides the in-process publish/subscribe bus that carries
// session, log batch, pairing, workspace, and settings events to API
// streams. Each domain package instantiates Bus with its own event type.
package event

import (
	"strconv"
	"sync"
	"time"

	"github.com/thedongcc/Tcom-sub002/internal/logging"
	"github.com/thedongcc/Tcom-sub002/internal/metrics"
)

const (
	DefaultSubscriberBuffer = 128
	defaultDropWarnInterval = time.Minute
)

// BusOptions configure a Bus. The zero value is usable.
type BusOptions struct {
	// Name labels the bus in logs and metrics.
	Name string
	// SubscriberBufferSize is the channel depth per subscriber.
	SubscriberBufferSize int
	// HistorySize enables replay of the most recent events to new
	// subscribers when positive.
	HistorySize int
	// DropWarningInterval bounds how often drop warnings are logged.
	DropWarningInterval time.Duration
	Logger              *logging.Logger
	Registry            *metrics.Registry
}

type subscriber[T any] struct {
	ch     chan T
	filter func(T) bool
}

// Bus fans events out to subscribers. Sends never block: a subscriber whose
// buffer is full loses the event, which is counted and periodically warned
// about. The registry of record is elsewhere; streams only narrate it.
type Bus[T any] struct {
	options BusOptions

	mu          sync.Mutex
	nextID      uint64
	subscribers map[uint64]*subscriber[T]
	history     []T
	closed      bool
	dropCount   uint64
	lastDropLog time.Time
}

func NewBus[T any](options BusOptions) *Bus[T] {
	if options.SubscriberBufferSize <= 0 {
		options.SubscriberBufferSize = DefaultSubscriberBuffer
	}
	if options.DropWarningInterval <= 0 {
		options.DropWarningInterval = defaultDropWarnInterval
	}
	if options.Name == "" {
		options.Name = "bus"
	}
	if options.Registry == nil {
		options.Registry = metrics.Default
	}
	return &Bus[T]{
		options:     options,
		subscribers: make(map[uint64]*subscriber[T]),
	}
}

// Subscribe returns a channel of future events and a cancel func. The
// channel closes on cancel or bus close.
func (b *Bus[T]) Subscribe() (<-chan T, func()) {
	return b.SubscribeFiltered(nil)
}

// SubscribeFiltered delivers only events the filter accepts. A nil filter
// accepts everything. History replay, when enabled, is filtered the same
// way and delivered before any live event.
func (b *Bus[T]) SubscribeFiltered(filter func(T) bool) (<-chan T, func()) {
	if b == nil {
		return nil, func() {}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}

	buffer := b.options.SubscriberBufferSize
	if replay := len(b.history); replay > buffer {
		buffer = replay
	}
	sub := &subscriber[T]{
		ch:     make(chan T, buffer),
		filter: filter,
	}
	for _, old := range b.history {
		if filter == nil || filter(old) {
			sub.ch <- old
		}
	}

	b.nextID++
	id := b.nextID
	b.subscribers[id] = sub
	count := len(b.subscribers)
	b.mu.Unlock()

	b.options.Registry.SetEventSubscribers(b.options.Name, count)

	return sub.ch, func() {
		b.mu.Lock()
		existing, ok := b.subscribers[id]
		if ok {
			delete(b.subscribers, id)
		}
		remaining := len(b.subscribers)
		closed := b.closed
		b.mu.Unlock()
		if ok && !closed {
			close(existing.ch)
		}
		if ok {
			b.options.Registry.SetEventSubscribers(b.options.Name, remaining)
		}
	}
}

// Publish delivers the event to every matching subscriber without blocking.
func (b *Bus[T]) Publish(value T) {
	if b == nil {
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if b.options.HistorySize > 0 {
		b.history = append(b.history, value)
		if len(b.history) > b.options.HistorySize {
			b.history = b.history[len(b.history)-b.options.HistorySize:]
		}
	}
	subs := make([]*subscriber[T], 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	b.options.Registry.IncEventPublished(b.options.Name)

	for _, sub := range subs {
		if sub.filter != nil && !sub.filter(value) {
			continue
		}
		if !safeSend(sub.ch, value) {
			b.recordDrop()
		}
	}
}

// safeSend tolerates the race between a publish snapshot and a concurrent
// cancel closing the subscriber channel.
func safeSend[T any](ch chan T, value T) (delivered bool) {
	defer func() {
		if recover() != nil {
			delivered = false
		}
	}()
	select {
	case ch <- value:
		return true
	default:
		return false
	}
}

// History returns a copy of the replay buffer, oldest first.
func (b *Bus[T]) History() []T {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.history) == 0 {
		return nil
	}
	out := make([]T, len(b.history))
	copy(out, b.history)
	return out
}

// SubscriberCount returns the number of attached subscribers.
func (b *Bus[T]) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Close closes every subscriber channel. Further publishes are discarded
// and further subscriptions receive a closed channel.
func (b *Bus[T]) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subscribers
	b.subscribers = make(map[uint64]*subscriber[T])
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.ch)
	}
	b.options.Registry.SetEventSubscribers(b.options.Name, 0)
}

func (b *Bus[T]) recordDrop() {
	b.options.Registry.IncEventDropped(b.options.Name)

	b.mu.Lock()
	b.dropCount++
	dropped := b.dropCount
	now := time.Now()
	warn := now.Sub(b.lastDropLog) >= b.options.DropWarningInterval
	if warn {
		b.lastDropLog = now
	}
	b.mu.Unlock()

	if warn && b.options.Logger != nil {
		b.options.Logger.Warn("event bus dropping for slow subscriber", map[string]string{
			"bus":           b.options.Name,
			"dropped_total": strconv.FormatUint(dropped, 10),
		})
	}
}
