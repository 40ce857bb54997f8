package jobs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const auditPrefix = "job_"

// AuditWriter persists terminal job snapshots as flat JSON files. Writes go
// through a temp file and an atomic rename so a crash never leaves a torn
// audit record. Audit files are the only job state that survives a restart.
type AuditWriter struct {
	dir string
}

// NewAuditWriter ensures dir exists and returns a writer bound to it.
func NewAuditWriter(dir string) (*AuditWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &AuditWriter{dir: dir}, nil
}

// Flush writes the job snapshot for subject. Called on both the success and
// the failure path of every terminal transition.
func (w *AuditWriter) Flush(subject string, job Job) error {
	name := fmt.Sprintf("%s%s_%s.json", auditPrefix, sanitizeFilename(subject), job.ID)
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	return writeFileAtomic(filepath.Join(w.dir, name), data)
}

// Dir returns the audit directory.
func (w *AuditWriter) Dir() string { return w.dir }

// writeFileAtomic writes via a temp file in the target directory and renames
// it over the destination.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".audit-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename audit file: %w", err)
	}
	return nil
}

// sanitizeFilename strips path separators and shell-hostile characters from
// a subject id before it is embedded in an audit filename.
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		"..", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
	)
	out := replacer.Replace(name)
	if out == "" {
		out = "unknown"
	}
	return out
}
