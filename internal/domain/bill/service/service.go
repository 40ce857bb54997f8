// Package service runs the asynchronous bill upload pipeline.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/captainmuzzol/billSherlock/internal/domain/bill"
	"github.com/captainmuzzol/billSherlock/internal/domain/bill/parser"
	"github.com/captainmuzzol/billSherlock/internal/domain/bill/repository"
	"github.com/captainmuzzol/billSherlock/internal/domain/suspect"
	"github.com/captainmuzzol/billSherlock/internal/jobs"
	"github.com/captainmuzzol/billSherlock/pkg/metrics"
)

// ErrNoFiles is returned when an upload carries no files.
var ErrNoFiles = errors.New("请至少上传一个账单文件")

// StagedFile is one uploaded file already saved under the job's temp dir.
type StagedFile struct {
	Path string
	Name string
}

// Service parses uploaded exports and stores the resulting transactions.
type Service struct {
	repo   *repository.Repo
	store  *jobs.Store
	gate   *jobs.Gate
	audit  *jobs.AuditWriter
	tmpDir string
	logger *slog.Logger

	// afterStore runs after a job inserts at least one record, used to
	// piggyback retention sweeps on upload activity.
	afterStore func()
}

// NewService wires the upload pipeline.
func NewService(repo *repository.Repo, store *jobs.Store, gate *jobs.Gate,
	audit *jobs.AuditWriter, tmpDir string, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		store:  store,
		gate:   gate,
		audit:  audit,
		tmpDir: tmpDir,
		logger: logger,
	}
}

// OnRecordsStored registers a hook invoked after a job stores new records.
func (s *Service) OnRecordsStored(fn func()) { s.afterStore = fn }

// StageDir creates and returns the scratch directory for a new job.
func (s *Service) StageDir(jobID string) (string, error) {
	dir := filepath.Join(s.tmpDir, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	return dir, nil
}

// NewJobID allocates an identifier for an upload job.
func (s *Service) NewJobID() string { return uuid.NewString() }

// Enqueue registers a job for the staged files and starts processing in
// the background. Files are processed in the order given.
func (s *Service) Enqueue(sp *suspect.Suspect, jobID, stagedDir string, files []StagedFile) (jobs.Job, error) {
	if len(files) == 0 {
		_ = os.RemoveAll(stagedDir)
		return jobs.Job{}, ErrNoFiles
	}

	now := time.Now()
	job := jobs.Job{
		ID:         jobID,
		SuspectID:  sp.ID,
		Status:     jobs.StatusQueued,
		Stage:      "排队中",
		TotalFiles: len(files),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.store.Put(job)

	go s.run(sp, jobID, stagedDir, files)
	return job, nil
}

// Job returns the current snapshot of a job.
func (s *Service) Job(id string) (jobs.Job, error) {
	j, ok := s.store.Get(id)
	if !ok {
		return jobs.Job{}, jobs.ErrJobNotFound
	}
	return j, nil
}

func (s *Service) run(sp *suspect.Suspect, jobID, stagedDir string, files []StagedFile) {
	defer os.RemoveAll(stagedDir)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("upload job panicked", slog.String("job_id", jobID), slog.Any("panic", r))
			s.finish(sp, jobID, jobs.StatusError, fmt.Sprintf("处理过程异常: %v", r))
		}
	}()

	if err := s.gate.Acquire(context.Background()); err != nil {
		s.finish(sp, jobID, jobs.StatusError, "任务调度失败")
		return
	}
	defer s.gate.Release()

	s.store.Patch(jobID, func(j *jobs.Job) {
		j.Status = jobs.StatusProcessing
		j.Stage = "解析中"
	})

	totalInserted := 0
	failed := 0
	for i, f := range files {
		s.store.Patch(jobID, func(j *jobs.Job) {
			j.CurrentFile = i + 1
			j.CurrentFilename = f.Name
		})

		result := s.processFile(sp.ID, f)
		if result.Error != "" {
			failed++
			metrics.FilesParsed.WithLabelValues("error").Inc()
		} else {
			metrics.FilesParsed.WithLabelValues("ok").Inc()
		}
		totalInserted += result.InsertedCount

		s.store.Patch(jobID, func(j *jobs.Job) {
			j.Results = append(j.Results, result)
		})
	}

	detail := fmt.Sprintf("共 %d 个文件，新增 %d 条记录", len(files), totalInserted)
	if failed > 0 {
		detail = fmt.Sprintf("%s，%d 个文件解析失败", detail, failed)
	}

	status := jobs.StatusDone
	if failed == len(files) {
		status = jobs.StatusError
	}
	s.finish(sp, jobID, status, detail)

	if totalInserted > 0 && s.afterStore != nil {
		s.afterStore()
	}
}

func (s *Service) processFile(suspectID uint, f StagedFile) jobs.FileResult {
	result := jobs.FileResult{Filename: f.Name}

	timer := prometheus.NewTimer(metrics.ParseDuration)
	records, err := parser.ParseFile(f.Path)
	timer.ObserveDuration()
	if err != nil {
		s.logger.Warn("parse failed",
			slog.String("file", f.Name), slog.String("error", err.Error()))
		result.Error = err.Error()
		return result
	}
	for i := range records {
		records[i].SourceFile = f.Name
	}
	result.ParsedCount = len(records)
	if len(records) == 0 {
		result.Error = "未能从文件中解析出任何交易记录"
		return result
	}

	inserted, err := s.repo.InsertNew(suspectID, records)
	if err != nil {
		s.logger.Error("store records failed",
			slog.String("file", f.Name), slog.String("error", err.Error()))
		result.Error = "记录入库失败"
		return result
	}
	result.InsertedCount = inserted
	metrics.RecordsInserted.Add(float64(inserted))
	metrics.RecordsDeduplicated.Add(float64(len(records) - inserted))

	minT, maxT, days := timeSpan(records)
	result.MinTime, result.MaxTime, result.DistinctDays = minT, maxT, days
	return result
}

func (s *Service) finish(sp *suspect.Suspect, jobID string, status jobs.Status, detail string) {
	s.store.Patch(jobID, func(j *jobs.Job) {
		j.Status = status
		j.Stage = "完成"
		j.Detail = detail
	})
	metrics.JobsByStatus.WithLabelValues(string(status)).Inc()

	if job, ok := s.store.Get(jobID); ok {
		if err := s.audit.Flush(sp.Name, job); err != nil {
			s.logger.Warn("audit flush failed",
				slog.String("job_id", jobID), slog.String("error", err.Error()))
		}
	}
}

// timeSpan reports the earliest and latest transaction times of a batch
// and how many distinct calendar days it covers.
func timeSpan(records []bill.Record) (*time.Time, *time.Time, int) {
	var minT, maxT *time.Time
	days := make(map[string]struct{})
	for _, r := range records {
		if r.Time == nil {
			continue
		}
		t := *r.Time
		if minT == nil || t.Before(*minT) {
			minT = &t
		}
		if maxT == nil || t.After(*maxT) {
			maxT = &t
		}
		days[t.Format("2006-01-02")] = struct{}{}
	}
	return minT, maxT, len(days)
}
