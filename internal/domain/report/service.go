package report

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/captainmuzzol/billSherlock/internal/domain/suspect"
	"github.com/captainmuzzol/billSherlock/internal/jobs"
	"github.com/captainmuzzol/billSherlock/pkg/metrics"
)

// Service installs uploaded report archives and serves their trees.
type Service struct {
	suspects    *suspect.Service
	store       *jobs.Store
	gate        *jobs.Gate
	audit       *jobs.AuditWriter
	accessLog   *AccessLog
	reportsDir  string
	tools       []Tool
	toolTimeout time.Duration
	logger      *slog.Logger
}

// NewService wires the report pipeline.
func NewService(suspects *suspect.Service, store *jobs.Store, gate *jobs.Gate,
	audit *jobs.AuditWriter, accessLog *AccessLog, reportsDir string,
	tools []Tool, toolTimeout time.Duration, logger *slog.Logger) *Service {
	return &Service{
		suspects:    suspects,
		store:       store,
		gate:        gate,
		audit:       audit,
		accessLog:   accessLog,
		reportsDir:  reportsDir,
		tools:       tools,
		toolTimeout: toolTimeout,
		logger:      logger,
	}
}

// Accepts reports whether filename looks like a supported archive.
func Accepts(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".zip", ".rar":
		return true
	}
	return false
}

// Enqueue registers an archive-installation job and processes it in the
// background. archivePath must point at an already-saved upload; the
// worker removes it on every exit path.
func (s *Service) Enqueue(sp *suspect.Suspect, archivePath, filename string) (jobs.Job, error) {
	if !Accepts(filename) {
		_ = os.Remove(archivePath)
		return jobs.Job{}, ErrUnsupportedArchive
	}

	now := time.Now()
	job := jobs.Job{
		ID:         uuid.NewString(),
		SuspectID:  sp.ID,
		Status:     jobs.StatusQueued,
		Stage:      "排队中",
		TotalFiles: 1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.store.Put(job)

	go s.run(sp, job.ID, archivePath, filename)
	return job, nil
}

// Job returns the current snapshot of a report job.
func (s *Service) Job(id string) (jobs.Job, error) {
	j, ok := s.store.Get(id)
	if !ok {
		return jobs.Job{}, jobs.ErrJobNotFound
	}
	return j, nil
}

func (s *Service) run(sp *suspect.Suspect, jobID, archivePath, filename string) {
	defer os.Remove(archivePath)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("report job panicked", slog.String("job_id", jobID), slog.Any("panic", r))
			s.fail(sp, jobID, filename, fmt.Sprintf("处理过程异常: %v", r))
		}
	}()

	if err := s.gate.Acquire(context.Background()); err != nil {
		s.fail(sp, jobID, filename, "任务调度失败")
		return
	}
	defer s.gate.Release()

	s.store.Patch(jobID, func(j *jobs.Job) {
		j.Status = jobs.StatusProcessing
		j.Stage = "解压中"
		j.CurrentFile = 1
		j.CurrentFilename = filename
	})

	root, main, err := s.install(sp, archivePath, filename, jobID)
	if err != nil {
		metrics.ArchivesExtracted.WithLabelValues("error").Inc()
		s.fail(sp, jobID, filename, err.Error())
		return
	}
	metrics.ArchivesExtracted.WithLabelValues("ok").Inc()

	s.store.Patch(jobID, func(j *jobs.Job) {
		j.Status = jobs.StatusDone
		j.Stage = "完成"
		j.Detail = "报告已更新"
		j.Results = append(j.Results, jobs.FileResult{Filename: filename, ParsedCount: 1, InsertedCount: 1})
	})
	metrics.JobsByStatus.WithLabelValues(string(jobs.StatusDone)).Inc()
	s.flush(sp, jobID)

	s.logger.Info("report installed",
		slog.Uint64("suspect_id", uint64(sp.ID)),
		slog.String("root", root),
		slog.String("main", main))
}

// install extracts the archive into a fresh version directory, locates
// the entry page and commits it as the suspect's current report. The
// previous version is deleted only after the new one is registered.
func (s *Service) install(sp *suspect.Suspect, archivePath, filename, jobID string) (string, string, error) {
	versionDir := filepath.Join(s.reportsDir, strconv.FormatUint(uint64(sp.ID), 10), uuid.NewString())
	if err := os.MkdirAll(versionDir, 0o755); err != nil {
		return "", "", fmt.Errorf("创建报告目录失败: %w", err)
	}

	var err error
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".zip":
		err = extractZip(archivePath, versionDir)
	case ".rar":
		ctx, cancel := context.WithTimeout(context.Background(), s.toolTimeout)
		defer cancel()
		err = extractRar(ctx, s.tools, archivePath, versionDir)
	default:
		err = ErrUnsupportedArchive
	}
	if err != nil {
		os.RemoveAll(versionDir)
		return "", "", err
	}

	s.store.Patch(jobID, func(j *jobs.Job) { j.Stage = "识别主页" })

	root, err := collapseRoot(versionDir)
	if err != nil {
		os.RemoveAll(versionDir)
		return "", "", fmt.Errorf("读取报告目录失败: %w", err)
	}
	main, err := mainHTML(root)
	if err != nil {
		os.RemoveAll(versionDir)
		return "", "", err
	}

	s.store.Patch(jobID, func(j *jobs.Job) { j.Stage = "登记" })

	previous := sp.ReportRoot
	if err := s.suspects.SetReport(sp.ID, root, main); err != nil {
		os.RemoveAll(versionDir)
		return "", "", fmt.Errorf("登记报告失败: %w", err)
	}
	if err := s.accessLog.Touch(root); err != nil {
		s.logger.Warn("accesslog touch failed", slog.String("error", err.Error()))
	}

	if previous != "" && previous != root {
		s.retire(previous)
	}
	return root, main, nil
}

// retire removes a superseded report version.
func (s *Service) retire(root string) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return
	}
	base, err := filepath.Abs(s.reportsDir)
	if err != nil {
		return
	}
	if !strings.HasPrefix(abs, base+string(os.PathSeparator)) {
		return
	}

	rel, _ := filepath.Rel(base, abs)
	parts := strings.Split(rel, string(os.PathSeparator))
	if len(parts) >= 2 {
		abs = filepath.Join(base, parts[0], parts[1])
	}
	if err := os.RemoveAll(abs); err != nil {
		s.logger.Warn("old report cleanup failed", slog.String("root", abs), slog.String("error", err.Error()))
	}
	if err := s.accessLog.Forget(root); err != nil {
		s.logger.Warn("accesslog update failed", slog.String("error", err.Error()))
	}
}

// Resolve returns the current report's root and main page for serving,
// recording the visit in the access log.
func (s *Service) Resolve(sp *suspect.Suspect) (root, main string, err error) {
	if sp.ReportRoot == "" || sp.ReportMain == "" {
		return "", "", ErrNoHTML
	}
	if _, err := os.Stat(filepath.Join(sp.ReportRoot, sp.ReportMain)); err != nil {
		return "", "", ErrNoHTML
	}
	if err := s.accessLog.Touch(sp.ReportRoot); err != nil {
		s.logger.Warn("accesslog touch failed", slog.String("error", err.Error()))
	}
	return sp.ReportRoot, sp.ReportMain, nil
}

func (s *Service) fail(sp *suspect.Suspect, jobID, filename, detail string) {
	s.store.Patch(jobID, func(j *jobs.Job) {
		j.Status = jobs.StatusError
		j.Stage = "完成"
		j.Detail = detail
		j.Results = append(j.Results, jobs.FileResult{Filename: filename, Error: detail})
	})
	metrics.JobsByStatus.WithLabelValues(string(jobs.StatusError)).Inc()
	s.flush(sp, jobID)
}

func (s *Service) flush(sp *suspect.Suspect, jobID string) {
	if job, ok := s.store.Get(jobID); ok {
		if err := s.audit.Flush(sp.Name, job); err != nil {
			s.logger.Warn("audit flush failed", slog.String("job_id", jobID), slog.String("error", err.Error()))
		}
	}
}
