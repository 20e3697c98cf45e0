package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Registry accumulates orchestrator counters for the /metrics endpoint.
// All methods are safe on a nil receiver so components can skip wiring one.
type Registry struct {
	eventsPublished atomic.Int64
	eventsDropped   atomic.Int64

	logIngested atomic.Int64
	logMerged   atomic.Int64
	logEvicted  atomic.Int64
	logFlushes  atomic.Int64

	connects       atomic.Int64
	connectFails   atomic.Int64
	disconnects    atomic.Int64
	crcFailures    atomic.Int64
	bytesWritten   atomic.Int64
	sessionsActive atomic.Int64

	pairsCreated atomic.Int64
	pairsRemoved atomic.Int64
	toolErrors   atomic.Int64

	storeWrites atomic.Int64
	storeErrors atomic.Int64

	buses sync.Map
}

type busStats struct {
	published   atomic.Int64
	dropped     atomic.Int64
	subscribers atomic.Int64
}

var Default = &Registry{}

func (r *Registry) IncEventPublished(bus string) {
	if r == nil {
		return
	}
	r.eventsPublished.Add(1)
	r.busStats(bus).published.Add(1)
}

func (r *Registry) IncEventDropped(bus string) {
	if r == nil {
		return
	}
	r.eventsDropped.Add(1)
	r.busStats(bus).dropped.Add(1)
}

func (r *Registry) SetEventSubscribers(bus string, count int) {
	if r == nil {
		return
	}
	r.busStats(bus).subscribers.Store(int64(count))
}

func (r *Registry) IncLogIngested() {
	if r == nil {
		return
	}
	r.logIngested.Add(1)
}

func (r *Registry) AddLogMerged(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.logMerged.Add(int64(n))
}

func (r *Registry) AddLogEvicted(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.logEvicted.Add(int64(n))
}

func (r *Registry) IncLogFlush() {
	if r == nil {
		return
	}
	r.logFlushes.Add(1)
}

func (r *Registry) IncConnect() {
	if r == nil {
		return
	}
	r.connects.Add(1)
}

func (r *Registry) IncConnectFailed() {
	if r == nil {
		return
	}
	r.connectFails.Add(1)
}

func (r *Registry) IncDisconnect() {
	if r == nil {
		return
	}
	r.disconnects.Add(1)
}

func (r *Registry) IncCRCFailure() {
	if r == nil {
		return
	}
	r.crcFailures.Add(1)
}

func (r *Registry) AddBytesWritten(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.bytesWritten.Add(int64(n))
}

func (r *Registry) SetSessionsActive(count int) {
	if r == nil {
		return
	}
	r.sessionsActive.Store(int64(count))
}

func (r *Registry) IncPairCreated() {
	if r == nil {
		return
	}
	r.pairsCreated.Add(1)
}

func (r *Registry) IncPairRemoved() {
	if r == nil {
		return
	}
	r.pairsRemoved.Add(1)
}

func (r *Registry) IncToolError() {
	if r == nil {
		return
	}
	r.toolErrors.Add(1)
}

func (r *Registry) IncStoreWrite() {
	if r == nil {
		return
	}
	r.storeWrites.Add(1)
}

func (r *Registry) IncStoreError() {
	if r == nil {
		return
	}
	r.storeErrors.Add(1)
}

func (r *Registry) WritePrometheus(writer io.Writer) error {
	if r == nil {
		return nil
	}

	writeCounter(writer, "tcom_events_published_total", "Total bus events published", r.eventsPublished.Load())
	writeCounter(writer, "tcom_events_dropped_total", "Total bus events dropped on full subscriber buffers", r.eventsDropped.Load())
	writeCounter(writer, "tcom_log_entries_ingested_total", "Total session log entries ingested", r.logIngested.Load())
	writeCounter(writer, "tcom_log_entries_merged_total", "Total session log entries coalesced into repeats", r.logMerged.Load())
	writeCounter(writer, "tcom_log_entries_evicted_total", "Total session log entries evicted by the 1000-entry cap", r.logEvicted.Load())
	writeCounter(writer, "tcom_log_flushes_total", "Total pipeline flush cycles", r.logFlushes.Load())
	writeCounter(writer, "tcom_connects_total", "Total successful session connects", r.connects.Load())
	writeCounter(writer, "tcom_connect_failures_total", "Total failed session connects", r.connectFails.Load())
	writeCounter(writer, "tcom_disconnects_total", "Total session disconnects", r.disconnects.Load())
	writeCounter(writer, "tcom_crc_failures_total", "Total RX frames failing CRC validation", r.crcFailures.Load())
	writeCounter(writer, "tcom_bytes_written_total", "Total payload bytes written to transports", r.bytesWritten.Load())
	writeGauge(writer, "tcom_sessions_active", "Sessions currently connected", r.sessionsActive.Load())
	writeCounter(writer, "tcom_pairs_created_total", "Total virtual port pairs created", r.pairsCreated.Load())
	writeCounter(writer, "tcom_pairs_removed_total", "Total virtual port pairs removed", r.pairsRemoved.Load())
	writeCounter(writer, "tcom_tool_errors_total", "Total pairing tool invocation failures", r.toolErrors.Load())
	writeCounter(writer, "tcom_store_writes_total", "Total workspace store writes", r.storeWrites.Load())
	writeCounter(writer, "tcom_store_errors_total", "Total workspace store failures", r.storeErrors.Load())

	busNames := r.busNames()
	if len(busNames) == 0 {
		return nil
	}
	sort.Strings(busNames)

	writeHelp(writer, "tcom_bus_published_total", "Events published per bus")
	fmt.Fprintln(writer, "# TYPE tcom_bus_published_total counter")
	writeHelp(writer, "tcom_bus_dropped_total", "Events dropped per bus")
	fmt.Fprintln(writer, "# TYPE tcom_bus_dropped_total counter")
	writeHelp(writer, "tcom_bus_subscribers", "Current subscribers per bus")
	fmt.Fprintln(writer, "# TYPE tcom_bus_subscribers gauge")

	for _, name := range busNames {
		stats := r.busStats(name)
		label := formatLabel(name)
		fmt.Fprintf(writer, "tcom_bus_published_total{bus=%s} %d\n", label, stats.published.Load())
		fmt.Fprintf(writer, "tcom_bus_dropped_total{bus=%s} %d\n", label, stats.dropped.Load())
		fmt.Fprintf(writer, "tcom_bus_subscribers{bus=%s} %d\n", label, stats.subscribers.Load())
	}

	return nil
}

func (r *Registry) busStats(name string) *busStats {
	if strings.TrimSpace(name) == "" {
		name = "unknown"
	}
	value, _ := r.buses.LoadOrStore(name, &busStats{})
	return value.(*busStats)
}

func (r *Registry) busNames() []string {
	if r == nil {
		return nil
	}
	var names []string
	r.buses.Range(func(key, value interface{}) bool {
		if name, ok := key.(string); ok {
			names = append(names, name)
		}
		return true
	})
	return names
}

func writeHelp(writer io.Writer, metric, help string) {
	fmt.Fprintf(writer, "# HELP %s %s\n", metric, help)
}

func writeCounter(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s counter\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}

func writeGauge(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s gauge\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}

func formatLabel(value string) string {
	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
	return fmt.Sprintf("\"%s\"", escaped)
}
