package session

import (
	"bytes"
	"time"

	"github.com/thedongcc/Tcom-sub002/internal/crc"
)

// LogKind tags a session log entry with what produced it.
type LogKind string

const (
	LogRX    LogKind = "rx"
	LogTX    LogKind = "tx"
	LogInfo  LogKind = "info"
	LogError LogKind = "error"
)

// LogEntry is one row of a session's traffic log. RX and TX entries carry
// the raw bytes as they crossed the link (framed, for CRC-enabled writes);
// info and error entries carry text only. RepeatCount starts at 1 and grows
// when consecutive identical entries are merged.
type LogEntry struct {
	Kind        LogKind    `json:"kind" yaml:"kind"`
	Payload     []byte     `json:"payload,omitempty" yaml:"payload,omitempty"`
	Text        string     `json:"text,omitempty" yaml:"text,omitempty"`
	Timestamp   time.Time  `json:"timestamp" yaml:"timestamp"`
	CRCStatus   crc.Status `json:"crcStatus,omitempty" yaml:"crcStatus,omitempty"`
	Topic       string     `json:"topic,omitempty" yaml:"topic,omitempty"`
	RepeatCount int        `json:"repeatCount" yaml:"repeatCount"`
}

func infoEntry(text string) LogEntry {
	return LogEntry{
		Kind:        LogInfo,
		Text:        text,
		Timestamp:   time.Now().UTC(),
		RepeatCount: 1,
	}
}

func errorEntry(text string) LogEntry {
	return LogEntry{
		Kind:        LogError,
		Text:        text,
		Timestamp:   time.Now().UTC(),
		RepeatCount: 1,
	}
}

// mergeable reports whether next is a repeat of last. Payload comparison is
// byte-wise against the newest committed entry only; payloads are at most
// one transport read chunk.
func mergeable(last, next LogEntry) bool {
	return last.Kind == next.Kind &&
		last.Topic == next.Topic &&
		last.Text == next.Text &&
		last.CRCStatus == next.CRCStatus &&
		bytes.Equal(last.Payload, next.Payload)
}
