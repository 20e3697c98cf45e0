package workspace

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/thedongcc/Tcom-sub002/internal/fault"
	"github.com/thedongcc/Tcom-sub002/internal/session"
)

const archiveSuffix = ".ndjson.zst"

// ArchiveFilename builds the export filename for a session log archived at
// now: the sanitized session name plus a UTC timestamp.
func ArchiveFilename(name string, now time.Time) string {
	stamp := now.UTC().Format("20060102-150405")
	return fmt.Sprintf("%s-%s%s", sanitizeName(name), stamp, archiveSuffix)
}

// WriteArchive streams entries to w as zstd-compressed NDJSON, one JSON
// object per line in log order. Payload bytes ride the entry's base64 field.
func WriteArchive(w io.Writer, entries []session.LogEntry) error {
	encoder, err := zstd.NewWriter(w)
	if err != nil {
		return fault.Persistence(err, "open archive encoder")
	}
	for _, entry := range entries {
		line, err := json.Marshal(entry)
		if err != nil {
			encoder.Close()
			return fault.Persistence(err, "encode log entry")
		}
		line = append(line, '\n')
		if _, err := encoder.Write(line); err != nil {
			encoder.Close()
			return fault.Persistence(err, "write archive")
		}
	}
	if err := encoder.Close(); err != nil {
		return fault.Persistence(err, "close archive")
	}
	return nil
}

// ArchiveLog exports a session's log to a timestamped file in dir and
// returns the file's path. A failed export leaves no partial file behind.
func (s *Store) ArchiveLog(dir, name string, entries []session.LogEntry) (string, error) {
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.metrics.IncStoreError()
		return "", fault.Persistence(err, "create archive dir")
	}
	path := filepath.Join(dir, ArchiveFilename(name, time.Now()))
	file, err := os.Create(path)
	if err != nil {
		s.metrics.IncStoreError()
		return "", fault.Persistence(err, "create archive "+path)
	}
	if err := WriteArchive(file, entries); err != nil {
		file.Close()
		os.Remove(path)
		s.metrics.IncStoreError()
		return "", err
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		s.metrics.IncStoreError()
		return "", fault.Persistence(err, "close archive "+path)
	}
	s.metrics.IncStoreWrite()
	return path, nil
}
