// Package session owns the orchestrator core: the registry of configured
// sessions, the connection lifecycle controller, the log event pipeline,
// and the persistence debouncer. Adapters and stores live elsewhere; this
// package is the only writer of session state and session logs.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/thedongcc/Tcom-sub002/internal/buffer"
	"github.com/thedongcc/Tcom-sub002/internal/transport"
)

// State is a session's connection lifecycle position. Transitions are
// compare-and-swap on an atomic word, so concurrent connect/disconnect
// calls settle without locks.
type State uint32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "idle"
	}
}

// linkRuntime is everything a live connection holds: the adapter, the event
// channel it emits into, and the done channel that stops the consumer loop
// and unblocks in-flight emits. Detached exactly once per connect cycle.
type linkRuntime struct {
	adapter transport.Adapter
	events  chan transport.Event
	done    chan struct{}
}

// Session pairs a durable Config with runtime connection state and a
// bounded log. Exclusively owned by a Registry.
type Session struct {
	id        string
	createdAt time.Time
	seq       uint64

	mu      sync.Mutex
	config  Config
	log     *buffer.Ring[LogEntry]
	runtime *linkRuntime

	state atomic.Uint32
}

// Info is the read-only listing view of a session.
type Info struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Kind       Kind      `json:"kind"`
	State      string    `json:"state"`
	Connected  bool      `json:"connected"`
	Connecting bool      `json:"connecting"`
	CreatedAt  time.Time `json:"createdAt"`
	LogLength  int       `json:"logLength"`
}

func newSession(config Config, seq uint64, logCapacity int) *Session {
	return &Session{
		id:        config.ID,
		createdAt: time.Now().UTC(),
		seq:       seq,
		config:    config,
		log:       buffer.NewRing[LogEntry](logCapacity),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) CreatedAt() time.Time { return s.createdAt }

func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.Name
}

func (s *Session) Kind() Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.Kind
}

// Config returns a deep copy; mutations go through the Registry.
func (s *Session) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.Clone()
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) Info() Info {
	state := s.State()
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:         s.id,
		Name:       s.config.Name,
		Kind:       s.config.Kind,
		State:      state.String(),
		Connected:  state == StateConnected,
		Connecting: state == StateConnecting,
		CreatedAt:  s.createdAt,
		LogLength:  s.log.Len(),
	}
}

// LogEntries returns a copy of the log, oldest first.
func (s *Session) LogEntries() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Items()
}

func (s *Session) compareAndSwapState(from, to State) bool {
	return s.state.CompareAndSwap(uint32(from), uint32(to))
}

func (s *Session) setState(to State) {
	s.state.Store(uint32(to))
}

func (s *Session) updateConfig(config Config) {
	s.mu.Lock()
	s.config = config
	s.mu.Unlock()
}

func (s *Session) setName(name string) {
	s.mu.Lock()
	s.config.Name = name
	s.mu.Unlock()
}

func (s *Session) attachRuntime(rt *linkRuntime) {
	s.mu.Lock()
	s.runtime = rt
	s.mu.Unlock()
}

// takeRuntime detaches and returns the runtime; the second caller in a
// teardown race gets nil.
func (s *Session) takeRuntime() *linkRuntime {
	s.mu.Lock()
	rt := s.runtime
	s.runtime = nil
	s.mu.Unlock()
	return rt
}

func (s *Session) adapterRef() transport.Adapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runtime == nil {
		return nil
	}
	return s.runtime.adapter
}

// linkCRC returns the checksum settings of the session's serial-like link.
func (s *Session) linkCRC() (CRCSettings, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.config.Kind {
	case KindSerial:
		if s.config.Serial != nil {
			return s.config.Serial.CRC, true
		}
	case KindMonitor:
		if s.config.Monitor != nil {
			return s.config.Monitor.CRC, true
		}
	}
	return CRCSettings{}, false
}

// applyBatch commits one flush's entries to the log. With merging enabled a
// run of identical entries collapses into the newest committed entry,
// bumping its RepeatCount and refreshing its timestamp. The returned slice
// is the batch as committed: appended entries plus any updated entry, each
// at most once.
func (s *Session) applyBatch(entries []LogEntry) (committed []LogEntry, merged, evicted int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merge := s.config.MergeRepeats
	lastIdx := -1
	for _, entry := range entries {
		if entry.RepeatCount <= 0 {
			entry.RepeatCount = 1
		}
		if merge {
			if last, ok := s.log.Last(); ok && mergeable(last, entry) {
				last.RepeatCount += entry.RepeatCount
				last.Timestamp = entry.Timestamp
				s.log.ReplaceLast(last)
				merged++
				if lastIdx >= 0 {
					committed[lastIdx] = last
				} else {
					committed = append(committed, last)
					lastIdx = len(committed) - 1
				}
				continue
			}
		}
		if s.log.Push(entry) {
			evicted++
		}
		committed = append(committed, entry)
		lastIdx = len(committed) - 1
	}
	return committed, merged, evicted
}
