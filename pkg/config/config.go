// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	// Load environment variables from .env files when present.
	_ "github.com/joho/godotenv/autoload"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Storage   StorageConfig
	Jobs      JobsConfig
	Retention RetentionConfig
	Ollama    OllamaConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	RateLimitPerSecond int
	RateLimitBurst     int
	StaticDir          string
}

type DatabaseConfig struct {
	Path    string
	LogMode bool
}

type StorageConfig struct {
	// UploadTmpDir holds one unique directory per upload job, removed on
	// every job exit path.
	UploadTmpDir string
	// ReportsDir is the managed report storage tree. The retention sweeper
	// never deletes outside it.
	ReportsDir string
	// AuditDir receives flushed terminal job records.
	AuditDir string
}

type JobsConfig struct {
	// ParseGateWidth bounds concurrent bill-parse jobs. Parsing is CPU and
	// memory heavy, so the default serializes it.
	ParseGateWidth int
	// ExtractGateWidth bounds concurrent report-archive extractions.
	ExtractGateWidth int
	// AnalysisGateWidth bounds concurrent LLM analysis calls.
	AnalysisGateWidth int
	// ExtractToolTimeout is the wall-clock limit for one external
	// decompression tool invocation.
	ExtractToolTimeout time.Duration
}

type RetentionConfig struct {
	// MaxAge is how long an unvisited report tree survives.
	MaxAge time.Duration
	// CronSpec schedules the periodic sweep.
	CronSpec string
}

type OllamaConfig struct {
	Host  string
	Model string
}

// Load reads configuration from environment variables, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:               getEnv("SERVER_HOST", "0.0.0.0"),
			Port:               getEnvAsInt("SERVER_PORT", 8180),
			RateLimitPerSecond: getEnvAsInt("SERVER_RATE_LIMIT_PER_SECOND", 50),
			RateLimitBurst:     getEnvAsInt("SERVER_RATE_LIMIT_BURST", 100),
			StaticDir:          getEnv("STATIC_DIR", "./static"),
		},
		Database: DatabaseConfig{
			Path:    getEnv("DB_PATH", "./data/billsherlock.db"),
			LogMode: getEnvAsBool("DB_LOG", false),
		},
		Storage: StorageConfig{
			UploadTmpDir: getEnv("UPLOAD_TMP_DIR", "./data/uploads"),
			ReportsDir:   getEnv("REPORTS_DIR", "./data/reports"),
			AuditDir:     getEnv("AUDIT_DIR", "./data/audit"),
		},
		Jobs: JobsConfig{
			ParseGateWidth:     getEnvAsInt("PARSE_GATE_WIDTH", 1),
			ExtractGateWidth:   getEnvAsInt("EXTRACT_GATE_WIDTH", 2),
			AnalysisGateWidth:  getEnvAsInt("ANALYSIS_GATE_WIDTH", 2),
			ExtractToolTimeout: getEnvAsDuration("EXTRACT_TOOL_TIMEOUT", 5*time.Minute),
		},
		Retention: RetentionConfig{
			MaxAge:   time.Duration(getEnvAsInt("REPORT_RETENTION_DAYS", 30)) * 24 * time.Hour,
			CronSpec: getEnv("REPORT_SWEEP_CRON", "30 3 * * *"),
		},
		Ollama: OllamaConfig{
			Host:  getEnv("OLLAMA_HOST", "http://localhost:11434"),
			Model: getEnv("OLLAMA_MODEL", "qwen3:1.7b"),
		},
	}

	if cfg.Jobs.ParseGateWidth < 1 || cfg.Jobs.ExtractGateWidth < 1 {
		return nil, fmt.Errorf("gate widths must be at least 1")
	}
	return cfg, nil
}

// Addr returns the listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AccessLogPath is the report access-log location. It lives next to the
// managed tree, not inside it, so sweeps can never remove it.
func (c *StorageConfig) AccessLogPath() string {
	return filepath.Join(filepath.Dir(c.ReportsDir), "report_access_log.json")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
