package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"gorm.io/gorm"

	"github.com/captainmuzzol/billSherlock/internal/database"
	"github.com/captainmuzzol/billSherlock/internal/domain/analysis"
	"github.com/captainmuzzol/billSherlock/internal/domain/bill/repository"
	billsvc "github.com/captainmuzzol/billSherlock/internal/domain/bill/service"
	"github.com/captainmuzzol/billSherlock/internal/domain/report"
	"github.com/captainmuzzol/billSherlock/internal/domain/suspect"
	"github.com/captainmuzzol/billSherlock/internal/jobs"
	"github.com/captainmuzzol/billSherlock/internal/server"
	"github.com/captainmuzzol/billSherlock/pkg/config"
	"github.com/captainmuzzol/billSherlock/pkg/cron"
)

// Dependencies holds all application dependencies.
type Dependencies struct {
	Config *config.Config
	DB     *gorm.DB
	Logger *slog.Logger

	JobStore    *jobs.Store
	AuditWriter *jobs.AuditWriter

	SuspectService  *suspect.Service
	BillRepo        *repository.Repo
	BillService     *billsvc.Service
	ReportService   *report.Service
	AnalysisService *analysis.Service

	Sweeper   *report.Sweeper
	Scheduler *cron.Scheduler
	Server    *http.Server
}

// InitDependencies wires the whole application.
func InitDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{Config: cfg, Logger: logger}

	db, err := database.Init(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}
	deps.DB = db

	deps.JobStore = jobs.NewStore()
	deps.AuditWriter, err = jobs.NewAuditWriter(cfg.Storage.AuditDir)
	if err != nil {
		return nil, fmt.Errorf("failed to init audit writer: %w", err)
	}

	deps.SuspectService = suspect.NewService(db, logger)
	deps.BillRepo = repository.NewRepo(db)

	accessLog, err := report.NewAccessLog(cfg.Storage.AccessLogPath())
	if err != nil {
		return nil, fmt.Errorf("failed to init access log: %w", err)
	}
	deps.Sweeper = report.NewSweeper(accessLog, cfg.Storage.ReportsDir, cfg.Retention.MaxAge, logger)

	parseGate := jobs.NewGate(cfg.Jobs.ParseGateWidth)
	extractGate := jobs.NewGate(cfg.Jobs.ExtractGateWidth)
	analysisGate := jobs.NewGate(cfg.Jobs.AnalysisGateWidth)

	deps.BillService = billsvc.NewService(deps.BillRepo, deps.JobStore,
		parseGate, deps.AuditWriter, cfg.Storage.UploadTmpDir, logger)
	deps.BillService.OnRecordsStored(func() { go deps.Sweeper.Sweep() })

	deps.ReportService = report.NewService(deps.SuspectService, deps.JobStore,
		extractGate, deps.AuditWriter, accessLog, cfg.Storage.ReportsDir,
		report.DefaultTools(), cfg.Jobs.ExtractToolTimeout, logger)

	client := analysis.NewClient(cfg.Ollama.Host, cfg.Ollama.Model)
	deps.AnalysisService = analysis.NewService(deps.BillRepo, deps.SuspectService,
		client, analysisGate, logger)

	deps.Scheduler = cron.NewScheduler(deps.Sweeper, cfg.Retention.CronSpec, logger)

	deps.Server = server.New(cfg, logger, deps.SuspectService, deps.BillRepo,
		deps.BillService, deps.ReportService, deps.AnalysisService)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}
