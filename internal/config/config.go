package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPath  = "config.json"
	ConfigEnv    = "SUMMARIZER_CONFIG"
	APIKeyEnv    = "SUMMARIZER_API_KEY"
	GeminiKeyEnv = "GEMINI_API_KEY"
)

// Config represents runtime configuration for the service.
type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server"`
	Uploads    UploadsConfig    `json:"uploads" yaml:"uploads"`
	Transcribe TranscribeConfig `json:"transcribe" yaml:"transcribe"`
	Summarize  SummarizeConfig  `json:"summarize" yaml:"summarize"`
	Worker     WorkerConfig     `json:"worker" yaml:"worker"`
	Pipeline   PipelineConfig   `json:"pipeline" yaml:"pipeline"`
	Results    ResultsConfig    `json:"results" yaml:"results"`
	Redis      RedisConfig      `json:"redis" yaml:"redis"`
	Database   DatabaseConfig   `json:"database" yaml:"database"`
	Inbox      InboxConfig      `json:"inbox" yaml:"inbox"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
}

type ServerConfig struct {
	Address         string `json:"address" yaml:"address"`
	ReadTimeoutSec  int    `json:"read_timeout_sec" yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `json:"write_timeout_sec" yaml:"write_timeout_sec"`
	DisableCSRF     bool   `json:"disable_csrf" yaml:"disable_csrf"`
}

type UploadsConfig struct {
	Dir              string `json:"dir" yaml:"dir"`
	MaxUploadBytes   int64  `json:"max_upload_bytes" yaml:"max_upload_bytes"`
	OrphanMaxAgeMin  int    `json:"orphan_max_age_min" yaml:"orphan_max_age_min"`
	SweepIntervalMin int    `json:"sweep_interval_min" yaml:"sweep_interval_min"`
}

type TranscribeConfig struct {
	Command    string `json:"command" yaml:"command"`
	ModelPath  string `json:"model_path" yaml:"model_path"`
	Language   string `json:"language" yaml:"language"`
	Threads    int    `json:"threads" yaml:"threads"`
	TimeoutSec int    `json:"timeout_sec" yaml:"timeout_sec"`
}

type SummarizeConfig struct {
	Provider         string `json:"provider" yaml:"provider"`
	Model            string `json:"model" yaml:"model"`
	BaseURL          string `json:"base_url" yaml:"base_url"`
	APIKey           string `json:"api_key" yaml:"api_key"`
	MaxAttempts      int    `json:"max_attempts" yaml:"max_attempts"`
	InitialBackoffMs int    `json:"initial_backoff_ms" yaml:"initial_backoff_ms"`
	MaxBackoffMs     int    `json:"max_backoff_ms" yaml:"max_backoff_ms"`
	TimeoutSec       int    `json:"timeout_sec" yaml:"timeout_sec"`
}

type WorkerConfig struct {
	MinWorkers     int `json:"min_workers" yaml:"min_workers"`
	MaxWorkers     int `json:"max_workers" yaml:"max_workers"`
	QueueSize      int `json:"queue_size" yaml:"queue_size"`
	IdleTimeoutSec int `json:"idle_timeout_sec" yaml:"idle_timeout_sec"`
}

type PipelineConfig struct {
	RequestTimeoutSec int `json:"request_timeout_sec" yaml:"request_timeout_sec"`
}

type ResultsConfig struct {
	Backend string `json:"backend" yaml:"backend"` // "memory" or "redis"
	TTLMin  int    `json:"ttl_min" yaml:"ttl_min"`
}

type RedisConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// DatabaseConfig configures the optional run ledger. An empty driver disables it.
type DatabaseConfig struct {
	Driver   string `json:"driver" yaml:"driver"`
	DSN      string `json:"dsn" yaml:"dsn"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"db_name" yaml:"db_name"`
	Params   string `json:"params" yaml:"params"`
}

type InboxConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Dir       string `json:"dir" yaml:"dir"`
	OutputDir string `json:"output_dir" yaml:"output_dir"`
	SettleMs  int    `json:"settle_ms" yaml:"settle_ms"`
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing default file yields the built-in defaults; an explicit path must exist.
// Environment overrides are applied before validation.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	var cfg Config
	data, err := os.ReadFile(absPath)
	switch {
	case err == nil:
		if err := decode(absPath, data, &cfg); err != nil {
			return nil, err
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	cfg.resolvePaths(filepath.Dir(absPath))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from a .env file if one exists.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	if key := strings.TrimSpace(os.Getenv(APIKeyEnv)); key != "" {
		c.Summarize.APIKey = key
	} else if key := strings.TrimSpace(os.Getenv(GeminiKeyEnv)); key != "" && c.Summarize.APIKey == "" {
		c.Summarize.APIKey = key
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8090"
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = 60
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = 20 * 60
	}
	if c.Uploads.Dir == "" {
		c.Uploads.Dir = "./data/uploads"
	}
	if c.Uploads.MaxUploadBytes <= 0 {
		c.Uploads.MaxUploadBytes = 200 << 20
	}
	if c.Uploads.OrphanMaxAgeMin <= 0 {
		c.Uploads.OrphanMaxAgeMin = 60
	}
	if c.Uploads.SweepIntervalMin <= 0 {
		c.Uploads.SweepIntervalMin = 15
	}
	if c.Transcribe.Command == "" {
		c.Transcribe.Command = "whisper-cli"
	}
	if c.Transcribe.Language == "" {
		c.Transcribe.Language = "auto"
	}
	if c.Transcribe.Threads <= 0 {
		c.Transcribe.Threads = 4
	}
	if c.Transcribe.TimeoutSec <= 0 {
		c.Transcribe.TimeoutSec = 10 * 60
	}
	if c.Summarize.Provider == "" {
		c.Summarize.Provider = "gemini"
	}
	if c.Summarize.Model == "" && c.Summarize.Provider == "gemini" {
		c.Summarize.Model = "gemini-2.5-flash"
	}
	if c.Summarize.MaxAttempts <= 0 {
		c.Summarize.MaxAttempts = 3
	}
	if c.Summarize.InitialBackoffMs <= 0 {
		c.Summarize.InitialBackoffMs = 500
	}
	if c.Summarize.MaxBackoffMs <= 0 {
		c.Summarize.MaxBackoffMs = 5000
	}
	if c.Summarize.TimeoutSec <= 0 {
		c.Summarize.TimeoutSec = 60
	}
	if c.Worker.MinWorkers <= 0 {
		c.Worker.MinWorkers = 1
	}
	if c.Worker.MaxWorkers < c.Worker.MinWorkers {
		c.Worker.MaxWorkers = max(c.Worker.MinWorkers, 4)
	}
	if c.Worker.QueueSize <= 0 {
		c.Worker.QueueSize = 16
	}
	if c.Worker.IdleTimeoutSec <= 0 {
		c.Worker.IdleTimeoutSec = 60
	}
	if c.Pipeline.RequestTimeoutSec <= 0 {
		c.Pipeline.RequestTimeoutSec = 15 * 60
	}
	if c.Results.Backend == "" {
		c.Results.Backend = "memory"
	}
	if c.Results.TTLMin <= 0 {
		c.Results.TTLMin = 60
	}
	if c.Inbox.Dir == "" {
		c.Inbox.Dir = "./data/inbox"
	}
	if c.Inbox.OutputDir == "" {
		c.Inbox.OutputDir = "./data/summaries"
	}
	if c.Inbox.SettleMs <= 0 {
		c.Inbox.SettleMs = 500
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
}

func (c *Config) resolvePaths(base string) {
	for _, p := range []*string{&c.Uploads.Dir, &c.Transcribe.ModelPath, &c.Inbox.Dir, &c.Inbox.OutputDir} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
	if isSQLite(c.Database.Driver) && c.Database.DSN != "" && c.Database.DSN != ":memory:" &&
		!strings.HasPrefix(c.Database.DSN, "file:") && !filepath.IsAbs(c.Database.DSN) {
		c.Database.DSN = filepath.Join(base, c.Database.DSN)
	}
}

// Validate reports configuration that would make the service unusable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Summarize.APIKey) == "" {
		return fmt.Errorf("summarization api key must be configured (set %s or summarize.api_key)", GeminiKeyEnv)
	}
	switch c.Summarize.Provider {
	case "gemini", "openai", "claude":
	default:
		return fmt.Errorf("unsupported summarize.provider %q", c.Summarize.Provider)
	}
	if c.Summarize.Model == "" {
		return fmt.Errorf("summarize.model must be configured for provider %s", c.Summarize.Provider)
	}
	switch c.Results.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported results.backend %q", c.Results.Backend)
	}
	switch strings.ToLower(c.Database.Driver) {
	case "", "sqlite", "sqlite3", "mysql":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	if isSQLite(c.Database.Driver) && c.Database.DSN == "" {
		return errors.New("database.dsn must be provided for sqlite")
	}
	return nil
}

func isSQLite(driver string) bool {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return true
	}
	return false
}

func (c TranscribeConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

func (c SummarizeConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

func (c SummarizeConfig) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffMs) * time.Millisecond
}

func (c SummarizeConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffMs) * time.Millisecond
}

func (c PipelineConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

func (c ResultsConfig) TTL() time.Duration {
	return time.Duration(c.TTLMin) * time.Minute
}

func (c WorkerConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSec) * time.Second
}

func (c UploadsConfig) OrphanMaxAge() time.Duration {
	return time.Duration(c.OrphanMaxAgeMin) * time.Minute
}

func (c UploadsConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMin) * time.Minute
}
