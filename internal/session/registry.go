package session

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thedongcc/Tcom-sub002/internal/event"
	"github.com/thedongcc/Tcom-sub002/internal/fault"
	"github.com/thedongcc/Tcom-sub002/internal/logging"
	"github.com/thedongcc/Tcom-sub002/internal/metrics"
)

var ErrNotFound = errors.New("session not found")

const DefaultLogCapacity = 1000

// Persister receives registry mutations for durable storage. The debouncer
// implements it; a nil persister disables persistence.
type Persister interface {
	Schedule(config Config)
	Rename(oldName string, config Config)
	Delete(config Config)
}

type RegistryOptions struct {
	// LogCapacity bounds each session's log; entries beyond it evict oldest
	// first.
	LogCapacity int
	Logger      *logging.Logger
	Metrics     *metrics.Registry
	Persister   Persister
}

// Registry exclusively owns all sessions. Lifecycle changes and committed
// log batches are published on its buses; durable writes go through the
// persister.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	names    map[string]string
	nextSeq  uint64

	logCapacity int
	logger      *logging.Logger
	metrics     *metrics.Registry
	persist     Persister

	events *event.Bus[Event]
	logBus *event.Bus[LogBatch]
}

func NewRegistry(options RegistryOptions) *Registry {
	logCapacity := options.LogCapacity
	if logCapacity <= 0 {
		logCapacity = DefaultLogCapacity
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	registry := options.Metrics
	if registry == nil {
		registry = metrics.Default
	}
	return &Registry{
		sessions:    make(map[string]*Session),
		names:       make(map[string]string),
		logCapacity: logCapacity,
		logger:      logger,
		metrics:     registry,
		persist:     options.Persister,
		events: event.NewBus[Event](event.BusOptions{
			Name:     "session_events",
			Logger:   logger,
			Registry: registry,
		}),
		logBus: event.NewBus[LogBatch](event.BusOptions{
			Name:     "session_logs",
			Logger:   logger,
			Registry: registry,
		}),
	}
}

// Create registers a new session and schedules its first durable write.
func (r *Registry) Create(config Config) (*Session, error) {
	return r.add(config, true)
}

// Restore registers a session loaded from the store without writing it
// back.
func (r *Registry) Restore(config Config) (*Session, error) {
	return r.add(config, false)
}

func (r *Registry) add(config Config, persist bool) (*Session, error) {
	config = config.Clone()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.ID == "" {
		config.ID = uuid.NewString()
	}

	r.mu.Lock()
	if _, exists := r.sessions[config.ID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("session %s already registered", config.ID)
	}
	base := config.Name
	if strings.TrimSpace(base) == "" {
		base = string(config.Kind)
	}
	config.Name = uniqueName(base, r.nameTakenLocked)
	r.nextSeq++
	session := newSession(config, r.nextSeq, r.logCapacity)
	r.sessions[config.ID] = session
	r.names[config.Name] = config.ID
	active := len(r.sessions)
	r.mu.Unlock()

	r.metrics.SetSessionsActive(active)
	r.logger.Info("session registered", map[string]string{
		"session": config.ID,
		"name":    config.Name,
		"kind":    string(config.Kind),
	})
	r.events.Publish(NewEvent(EventCreated, config.ID, config.Name, session.State().String()))
	if persist && r.persist != nil {
		r.persist.Schedule(config.Clone())
	}
	return session, nil
}

func (r *Registry) nameTakenLocked(name string) bool {
	_, ok := r.names[name]
	return ok
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	session, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return session, nil
}

// Resolve accepts a session id or, failing that, a session name.
func (r *Registry) Resolve(ref string) (*Session, error) {
	if session, err := r.Get(ref); err == nil {
		return session, nil
	}
	r.mu.RLock()
	id, ok := r.names[ref]
	session := r.sessions[id]
	r.mu.RUnlock()
	if !ok || session == nil {
		return nil, ErrNotFound
	}
	return session, nil
}

// List returns session infos in creation order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].seq < sessions[j].seq })
	infos := make([]Info, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, session.Info())
	}
	return infos
}

// UpdateConfig replaces a session's config. Identity fields are pinned: the
// id and kind never change, and names change only through Rename. Reads see
// the new config immediately; the durable write is debounced.
func (r *Registry) UpdateConfig(id string, next Config) error {
	session, err := r.Get(id)
	if err != nil {
		return err
	}
	current := session.Config()
	if next.ID != "" && next.ID != current.ID {
		return fault.Configf("session id cannot change")
	}
	if next.Kind != "" && next.Kind != current.Kind {
		return fault.Configf("session kind cannot change")
	}
	if next.Name != "" && next.Name != current.Name {
		return fault.Configf("session name changes through rename")
	}
	next.ID = current.ID
	next.Kind = current.Kind
	next.Name = current.Name
	if err := next.Validate(); err != nil {
		return err
	}

	session.updateConfig(next.Clone())
	r.events.Publish(NewEvent(EventConfigSaved, id, next.Name, session.State().String()))
	if r.persist != nil {
		r.persist.Schedule(next.Clone())
	}
	return nil
}

// Rename gives the session a new unique name. The store file moves
// immediately so on-disk naming never lags the debounced content write.
func (r *Registry) Rename(id, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		return "", fault.Configf("session name cannot be empty")
	}

	r.mu.Lock()
	session, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return "", ErrNotFound
	}
	oldName := session.Name()
	if requested == oldName {
		r.mu.Unlock()
		return oldName, nil
	}
	final := uniqueName(requested, func(name string) bool {
		owner, taken := r.names[name]
		return taken && owner != id
	})
	delete(r.names, oldName)
	r.names[final] = id
	r.mu.Unlock()

	session.setName(final)
	config := session.Config()

	r.logger.Info("session renamed", map[string]string{
		"session": id,
		"from":    oldName,
		"to":      final,
	})
	if r.persist != nil {
		r.persist.Rename(oldName, config.Clone())
		r.persist.Schedule(config.Clone())
	}
	r.events.Publish(NewEvent(EventRenamed, id, final, session.State().String()))
	return final, nil
}

// Delete unregisters the session and removes its durable record, including
// any pending debounced write. Callers disconnect first; the controller's
// Delete does both.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	session, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		delete(r.names, session.Name())
	}
	active := len(r.sessions)
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	config := session.Config()
	if r.persist != nil {
		r.persist.Delete(config)
	}
	r.metrics.SetSessionsActive(active)
	r.logger.Info("session deleted", map[string]string{
		"session": id,
		"name":    config.Name,
	})
	r.events.Publish(NewEvent(EventDeleted, id, config.Name, StateIdle.String()))
	return nil
}

// EventBus carries lifecycle events for API streaming.
func (r *Registry) EventBus() *event.Bus[Event] {
	if r == nil {
		return nil
	}
	return r.events
}

// LogBus carries per-session flush batches.
func (r *Registry) LogBus() *event.Bus[LogBatch] {
	if r == nil {
		return nil
	}
	return r.logBus
}

func (r *Registry) Close() {
	r.events.Close()
	r.logBus.Close()
}

func (r *Registry) emitState(session *Session) {
	r.events.Publish(NewEvent(EventStateChanged, session.ID(), session.Name(), session.State().String()))
}

// commitLog applies one flush batch to a session and publishes the result.
// A session deleted while entries were pending drops them silently.
func (r *Registry) commitLog(sessionID string, entries []LogEntry) {
	session, err := r.Get(sessionID)
	if err != nil {
		return
	}
	committed, merged, evicted := session.applyBatch(entries)
	if len(committed) == 0 {
		return
	}
	r.metrics.AddLogMerged(merged)
	r.metrics.AddLogEvicted(evicted)
	r.logBus.Publish(LogBatch{
		SessionID:  sessionID,
		Entries:    committed,
		Evicted:    evicted,
		OccurredAt: time.Now().UTC(),
	})
}
