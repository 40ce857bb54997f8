package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AccessLog tracks the last visit time of every report root in a single
// JSON file. The file maps absolute root paths to ISO-8601 timestamps
// and is rewritten whole on every change, via temp file plus rename.
type AccessLog struct {
	mu   sync.Mutex
	path string
}

// NewAccessLog creates a log stored at path.
func NewAccessLog(path string) (*AccessLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create accesslog dir: %w", err)
	}
	return &AccessLog{path: path}, nil
}

func (l *AccessLog) load() (map[string]time.Time, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]time.Time{}, nil
	}
	if err != nil {
		return nil, err
	}

	raw := map[string]string{}
	if err := json.Unmarshal(data, &raw); err != nil {
		// A corrupt log is recoverable: start fresh rather than wedge
		// every report request.
		return map[string]time.Time{}, nil
	}
	out := make(map[string]time.Time, len(raw))
	for root, stamp := range raw {
		if t, err := time.Parse(time.RFC3339, stamp); err == nil {
			out[root] = t
		}
	}
	return out, nil
}

func (l *AccessLog) save(entries map[string]time.Time) error {
	raw := make(map[string]string, len(entries))
	for root, t := range entries {
		raw[root] = t.Format(time.RFC3339)
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".accesslog-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), l.path)
}

// Touch records a visit to root at the current time.
func (l *AccessLog) Touch(root string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries, err := l.load()
	if err != nil {
		return err
	}
	entries[root] = time.Now()
	return l.save(entries)
}

// Forget drops root from the log.
func (l *AccessLog) Forget(root string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries, err := l.load()
	if err != nil {
		return err
	}
	if _, ok := entries[root]; !ok {
		return nil
	}
	delete(entries, root)
	return l.save(entries)
}

// Snapshot returns a copy of all tracked entries.
func (l *AccessLog) Snapshot() (map[string]time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load()
}
