package logging

import (
	"sync"

	"github.com/thedongcc/Tcom-sub002/internal/buffer"
)

// LogBuffer keeps the most recent application log entries for the REST log
// query endpoint.
type LogBuffer struct {
	mu      sync.Mutex
	entries *buffer.Ring[LogEntry]
}

func NewLogBuffer(size int) *LogBuffer {
	return &LogBuffer{
		entries: buffer.NewRing[LogEntry](size),
	}
}

func (b *LogBuffer) Add(entry LogEntry) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.entries == nil {
		return
	}
	b.entries.Push(entry)
}

func (b *LogBuffer) List() []LogEntry {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.entries == nil {
		return nil
	}
	return b.entries.Items()
}
