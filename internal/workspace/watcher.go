package workspace

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/thedongcc/Tcom-sub002/internal/event"
	"github.com/thedongcc/Tcom-sub002/internal/fault"
	"github.com/thedongcc/Tcom-sub002/internal/logging"
	"github.com/thedongcc/Tcom-sub002/internal/metrics"
)

// EventWorkspaceChanged is published after session files in the open
// workspace change on disk and the directory has been quiet for a moment.
const EventWorkspaceChanged = "workspace_changed"

const defaultQuietPeriod = 250 * time.Millisecond

// ChangedEvent names the session files that changed during one quiet-period
// window.
type ChangedEvent struct {
	EventType  string    `json:"type"`
	Dir        string    `json:"dir"`
	Paths      []string  `json:"paths"`
	OccurredAt time.Time `json:"occurredAt"`
}

func (e ChangedEvent) Type() string { return e.EventType }

func (e ChangedEvent) Timestamp() time.Time { return e.OccurredAt }

type WatcherOptions struct {
	// Quiet is how long the directory must stay silent before one change
	// event covers everything seen so far.
	Quiet   time.Duration
	Logger  *logging.Logger
	Metrics *metrics.Registry
}

// Watcher coalesces filesystem notifications for one workspace directory
// into ChangedEvents so the tool notices edits made behind its back.
type Watcher struct {
	dir    string
	fsw    *fsnotify.Watcher
	bus    *event.Bus[ChangedEvent]
	quiet  time.Duration
	logger *logging.Logger
	done   chan struct{}

	mu      sync.Mutex
	timer   *time.Timer
	pending map[string]struct{}
	closed  bool
}

// WatchWorkspace starts watching dir for session file changes.
func WatchWorkspace(dir string, options WatcherOptions) (*Watcher, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fault.Configf("workspace directory is not set")
	}
	quiet := options.Quiet
	if quiet <= 0 {
		quiet = defaultQuietPeriod
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	m := options.Metrics
	if m == nil {
		m = metrics.Default
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fault.Persistence(err, "start workspace watcher")
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fault.Persistence(err, "watch "+dir)
	}

	w := &Watcher{
		dir:    dir,
		fsw:    fsw,
		quiet:  quiet,
		logger: logger,
		done:   make(chan struct{}),
		bus: event.NewBus[ChangedEvent](event.BusOptions{
			Name:     "workspace",
			Logger:   logger,
			Registry: m,
		}),
	}
	go w.run()
	return w, nil
}

// Dir reports the watched directory.
func (w *Watcher) Dir() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// Bus exposes the change stream for subscribers.
func (w *Watcher) Bus() *event.Bus[ChangedEvent] {
	if w == nil {
		return nil
	}
	return w.bus
}

// Close stops watching and closes the change stream.
func (w *Watcher) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.pending = nil
	w.mu.Unlock()

	close(w.done)
	err := w.fsw.Close()
	w.bus.Close()
	return err
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("workspace watch error", map[string]string{
				"dir":   w.dir,
				"error": err.Error(),
			})
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !strings.HasSuffix(ev.Name, sessionFileSuffix) {
		return
	}
	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) &&
		!ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
		return
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	if w.pending == nil {
		w.pending = make(map[string]struct{})
	}
	w.pending[ev.Name] = struct{}{}
	if w.timer == nil {
		w.timer = time.AfterFunc(w.quiet, w.fire)
	} else {
		w.timer.Reset(w.quiet)
	}
	w.mu.Unlock()
}

func (w *Watcher) fire() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(w.pending))
	for path := range w.pending {
		paths = append(paths, path)
	}
	w.pending = nil
	w.timer = nil
	w.mu.Unlock()

	if len(paths) == 0 {
		return
	}
	sort.Strings(paths)
	w.bus.Publish(ChangedEvent{
		EventType:  EventWorkspaceChanged,
		Dir:        w.dir,
		Paths:      paths,
		OccurredAt: time.Now().UTC(),
	})
	w.logger.Debug("workspace changed", map[string]string{
		"dir":   w.dir,
		"files": strconv.Itoa(len(paths)),
	})
}
