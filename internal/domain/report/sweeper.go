package report

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/captainmuzzol/billSherlock/pkg/metrics"
)

// Sweeper removes report trees whose last visit is older than MaxAge.
// Only roots inside the managed reports directory are ever touched;
// stale log entries pointing elsewhere are ignored.
type Sweeper struct {
	log        *AccessLog
	reportsDir string
	maxAge     time.Duration
	logger     *slog.Logger
}

// NewSweeper creates a sweeper over the managed reports tree.
func NewSweeper(log *AccessLog, reportsDir string, maxAge time.Duration, logger *slog.Logger) *Sweeper {
	abs, err := filepath.Abs(reportsDir)
	if err != nil {
		abs = filepath.Clean(reportsDir)
	}
	return &Sweeper{log: log, reportsDir: abs, maxAge: maxAge, logger: logger}
}

// Sweep deletes expired report containers and returns how many were
// removed. A root's container is its per-version parent directory, so
// assets extracted next to the root go with it.
func (s *Sweeper) Sweep() int {
	entries, err := s.log.Snapshot()
	if err != nil {
		s.logger.Warn("sweep skipped", slog.String("error", err.Error()))
		return 0
	}

	cutoff := time.Now().Add(-s.maxAge)
	removed := 0
	for root, last := range entries {
		if !last.Before(cutoff) {
			continue
		}
		if !s.managed(root) {
			s.logger.Warn("sweep ignoring unmanaged root", slog.String("root", root))
			continue
		}

		container := s.container(root)
		if _, err := os.Stat(container); err == nil {
			if err := os.RemoveAll(container); err != nil {
				s.logger.Error("sweep delete failed",
					slog.String("container", container), slog.String("error", err.Error()))
				continue
			}
			removed++
			metrics.ReportsSwept.Inc()
			s.logger.Info("expired report removed",
				slog.String("container", container),
				slog.Time("last_access", last))
		}
		if err := s.log.Forget(root); err != nil {
			s.logger.Warn("accesslog update failed", slog.String("error", err.Error()))
		}
	}
	return removed
}

func (s *Sweeper) managed(root string) bool {
	abs, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	return abs != s.reportsDir && strings.HasPrefix(abs, s.reportsDir+string(os.PathSeparator))
}

// container maps a root to the version directory directly under the
// suspect directory, reports/<suspect>/<version>, even when the root
// itself sits deeper after a wrapping-directory collapse.
func (s *Sweeper) container(root string) string {
	abs, err := filepath.Abs(root)
	if err != nil {
		return root
	}
	rel, err := filepath.Rel(s.reportsDir, abs)
	if err != nil {
		return abs
	}
	parts := strings.Split(rel, string(os.PathSeparator))
	if len(parts) < 2 {
		return abs
	}
	return filepath.Join(s.reportsDir, parts[0], parts[1])
}
