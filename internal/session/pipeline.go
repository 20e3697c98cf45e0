package session

import (
	"sync"
	"time"

	"github.com/thedongcc/Tcom-sub002/internal/logging"
	"github.com/thedongcc/Tcom-sub002/internal/metrics"
)

// DefaultFlushInterval paces log delivery at roughly one UI frame.
const DefaultFlushInterval = 16 * time.Millisecond

type PipelineOptions struct {
	FlushInterval time.Duration
	Logger        *logging.Logger
	Metrics       *metrics.Registry
}

// Pipeline batches adapter events into per-session pending buffers and
// commits them to the registry on a shared timer. The timer is armed only
// while something is pending, so an idle process schedules nothing. One
// flush covers every session with pending entries; burst volume changes
// batch size, not flush frequency.
type Pipeline struct {
	registry *Registry
	interval time.Duration
	logger   *logging.Logger
	metrics  *metrics.Registry

	mu      sync.Mutex
	pending map[string][]LogEntry
	timer   *time.Timer
	armed   bool
	closed  bool
}

func NewPipeline(registry *Registry, options PipelineOptions) *Pipeline {
	interval := options.FlushInterval
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	m := options.Metrics
	if m == nil {
		m = metrics.Default
	}
	return &Pipeline{
		registry: registry,
		interval: interval,
		logger:   logger,
		metrics:  m,
		pending:  make(map[string][]LogEntry),
	}
}

// Ingest queues one entry for the session and arms the flush timer if it
// was idle. Never applies to the registry synchronously.
func (p *Pipeline) Ingest(sessionID string, entry LogEntry) {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.pending[sessionID] = append(p.pending[sessionID], entry)
	if !p.armed {
		p.armed = true
		if p.timer == nil {
			p.timer = time.AfterFunc(p.interval, p.Flush)
		} else {
			p.timer.Reset(p.interval)
		}
	}
	p.mu.Unlock()
	p.metrics.IncLogIngested()
}

// Flush commits all pending buffers now. The timer calls it once per armed
// interval; shutdown and tests call it directly.
func (p *Pipeline) Flush() {
	p.mu.Lock()
	p.armed = false
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return
	}
	batches := p.pending
	p.pending = make(map[string][]LogEntry)
	p.mu.Unlock()

	for sessionID, entries := range batches {
		p.registry.commitLog(sessionID, entries)
	}
	p.metrics.IncLogFlush()
}

// Close stops the timer and commits whatever is still pending.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.timer != nil {
		p.timer.Stop()
	}
	p.mu.Unlock()
	p.Flush()
}
