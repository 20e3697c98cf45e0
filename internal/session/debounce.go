package session

import (
	"sync"
	"time"

	"github.com/thedongcc/Tcom-sub002/internal/logging"
	"github.com/thedongcc/Tcom-sub002/internal/metrics"
)

// DefaultSaveWindow is the quiet period before a config reaches the store.
const DefaultSaveWindow = 1000 * time.Millisecond

// Store is the durable side of the debouncer. The workspace package
// implements it over one YAML file per session.
type Store interface {
	SaveSession(dir string, config Config) error
	DeleteSession(dir string, config Config) error
	RenameSession(dir, oldName, newName string) error
}

type saveEntry struct {
	timer  *time.Timer
	config Config
}

type DebouncerOptions struct {
	Store   Store
	Dir     string
	Window  time.Duration
	Logger  *logging.Logger
	Metrics *metrics.Registry
}

// Debouncer coalesces config mutations into at most one durable write per
// session per quiet window. Each schedule within the window replaces the
// pending config and pushes the timer back, so only the final state is
// written. Store failures reach the application log, never session logs.
type Debouncer struct {
	store   Store
	dir     string
	window  time.Duration
	logger  *logging.Logger
	metrics *metrics.Registry

	mu      sync.Mutex
	entries map[string]saveEntry
	closed  bool
}

var _ Persister = (*Debouncer)(nil)

func NewDebouncer(options DebouncerOptions) *Debouncer {
	window := options.Window
	if window <= 0 {
		window = DefaultSaveWindow
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	m := options.Metrics
	if m == nil {
		m = metrics.Default
	}
	return &Debouncer{
		store:   options.Store,
		dir:     options.Dir,
		window:  window,
		logger:  logger,
		metrics: m,
		entries: make(map[string]saveEntry),
	}
}

// Schedule queues config for a durable write after the quiet window.
func (d *Debouncer) Schedule(config Config) {
	if d == nil || d.store == nil {
		return
	}
	id := config.ID
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.write(config)
		return
	}
	entry := d.entries[id]
	entry.config = config
	if entry.timer == nil {
		entry.timer = time.AfterFunc(d.window, func() {
			d.fire(id)
		})
	} else {
		entry.timer.Reset(d.window)
	}
	d.entries[id] = entry
	d.mu.Unlock()
}

func (d *Debouncer) fire(id string) {
	d.mu.Lock()
	entry, ok := d.entries[id]
	if ok {
		delete(d.entries, id)
	}
	d.mu.Unlock()
	if ok {
		d.write(entry.config)
	}
}

// Rename moves the store file immediately; the content write that follows
// stays debounced.
func (d *Debouncer) Rename(oldName string, config Config) {
	if d == nil || d.store == nil {
		return
	}
	if err := d.store.RenameSession(d.dir, oldName, config.Name); err != nil {
		d.metrics.IncStoreError()
		d.logger.Error("session file rename failed", map[string]string{
			"session": config.ID,
			"from":    oldName,
			"to":      config.Name,
			"error":   err.Error(),
		})
	}
}

// Delete cancels any pending write and removes the store record.
func (d *Debouncer) Delete(config Config) {
	if d == nil || d.store == nil {
		return
	}
	d.mu.Lock()
	if entry, ok := d.entries[config.ID]; ok {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(d.entries, config.ID)
	}
	d.mu.Unlock()

	if err := d.store.DeleteSession(d.dir, config); err != nil {
		d.metrics.IncStoreError()
		d.logger.Error("session file delete failed", map[string]string{
			"session": config.ID,
			"name":    config.Name,
			"error":   err.Error(),
		})
	}
}

// Flush writes every pending config now.
func (d *Debouncer) Flush() {
	d.drain(false)
}

// Close flushes pending writes and rejects new schedules.
func (d *Debouncer) Close() {
	d.drain(true)
}

func (d *Debouncer) drain(closing bool) {
	if d == nil {
		return
	}
	d.mu.Lock()
	if closing {
		d.closed = true
	}
	pending := make([]Config, 0, len(d.entries))
	for id, entry := range d.entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		pending = append(pending, entry.config)
		delete(d.entries, id)
	}
	d.mu.Unlock()

	for _, config := range pending {
		d.write(config)
	}
}

func (d *Debouncer) write(config Config) {
	if err := d.store.SaveSession(d.dir, config); err != nil {
		d.metrics.IncStoreError()
		d.logger.Error("session save failed", map[string]string{
			"session": config.ID,
			"name":    config.Name,
			"error":   err.Error(),
		})
		return
	}
	d.metrics.IncStoreWrite()
	d.logger.Debug("session saved", map[string]string{
		"session": config.ID,
		"name":    config.Name,
	})
}
