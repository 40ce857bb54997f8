// Package server exposes the HTTP API and the web UI.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/captainmuzzol/billSherlock/internal/domain/analysis"
	billsvc "github.com/captainmuzzol/billSherlock/internal/domain/bill/service"
	"github.com/captainmuzzol/billSherlock/internal/domain/bill/repository"
	"github.com/captainmuzzol/billSherlock/internal/domain/report"
	"github.com/captainmuzzol/billSherlock/internal/domain/suspect"
	"github.com/captainmuzzol/billSherlock/pkg/config"
)

// Server bundles the HTTP handlers with their dependencies.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	suspects *suspect.Service
	repo     *repository.Repo
	bills    *billsvc.Service
	reports  *report.Service
	analyses *analysis.Service
}

// New builds the HTTP server with all routes registered.
func New(cfg *config.Config, logger *slog.Logger, suspects *suspect.Service,
	repo *repository.Repo, bills *billsvc.Service, reports *report.Service,
	analyses *analysis.Service) *http.Server {

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		suspects: suspects,
		repo:     repo,
		bills:    bills,
		reports:  reports,
		analyses: analyses,
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))
	r.Use(rateLimit(cfg.Server.RateLimitPerSecond, cfg.Server.RateLimitBurst))
	r.MaxMultipartMemory = 32 << 20

	s.routes(r)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
	}).Handler(r)

	return &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}
}

func (s *Server) routes(r *gin.Engine) {
	r.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusTemporaryRedirect, "/static/index.html")
	})
	if s.cfg.Server.StaticDir != "" {
		r.Static("/static", s.cfg.Server.StaticDir)
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/suspects", s.createSuspect)
	r.GET("/suspects", s.listSuspects)
	r.POST("/suspects/verify", s.verifySuspect)
	r.DELETE("/suspects/:id", s.deleteSuspect)
	r.GET("/suspects/:id/files", s.suspectFiles)
	r.DELETE("/suspects/:id/files", s.deleteSuspectFile)

	r.POST("/upload", s.upload)
	r.GET("/jobs/:id", s.jobStatus)

	r.GET("/transactions", s.transactions)
	r.GET("/transactions/export", s.exportTransactions)

	r.GET("/stats/summary", s.statsSummary)
	r.GET("/stats/by-counterparty", s.statsByCounterparty)
	r.GET("/stats/by-date", s.statsByDate)
	r.GET("/stats/ai-analysis", s.aiAnalysis)

	r.POST("/suspects/:id/report", s.uploadReport)
	r.GET("/suspects/:id/report/*path", s.serveReport)
}
