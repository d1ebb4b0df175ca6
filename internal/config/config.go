// Package config loads edasync settings.
//
// Precedence, lowest first: DefaultConfig(), the YAML file, a .env file,
// EDASYNC_* environment variables, then command-line flags (applied by the
// caller after Load returns).
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v3"

	"github.com/koustreak/edasync/internal/errs"
	"github.com/koustreak/edasync/internal/filestore"
	"github.com/koustreak/edasync/internal/logger"
)

// Config is the complete application configuration.
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Upload    UploadConfig    `yaml:"upload"`
	Charts    ChartsConfig    `yaml:"charts"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
}

// BackendConfig describes how to reach the EDA backend.
type BackendConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"` // per attempt
	Retries RetryConfig   `yaml:"retries"`
}

// RetryConfig is the number of extra attempts per operation. Retries only
// happen when an attempt times out.
type RetryConfig struct {
	Summary int `yaml:"summary"`
	Upload  int `yaml:"upload"`
	Charts  int `yaml:"charts"`
	Report  int `yaml:"report"`
	Cleaned int `yaml:"cleaned"`
}

// UploadConfig holds the client-side checks applied before any request.
type UploadConfig struct {
	MaxSize           string   `yaml:"max_size"` // e.g. "10MiB"
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

// ChartsConfig controls chart selection.
type ChartsConfig struct {
	Limit int  `yaml:"limit"`
	Auto  bool `yaml:"auto"` // fetch charts after every successful upload
}

// ArtifactsConfig selects where downloaded reports and files are saved.
type ArtifactsConfig struct {
	Provider  filestore.Provider `yaml:"provider"`
	Dir       string             `yaml:"dir"`
	Endpoint  string             `yaml:"endpoint"`
	AccessKey string             `yaml:"access_key"`
	SecretKey string             `yaml:"secret_key"`
	UseSSL    bool               `yaml:"use_ssl"`
	Region    string             `yaml:"region"`
	Bucket    string             `yaml:"bucket"`
}

// LogConfig mirrors logger.Config for the YAML file.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ServerConfig holds the local HTTP adapter settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL: "http://localhost:5000",
			Timeout: 30 * time.Second,
			Retries: RetryConfig{
				Summary: 2,
				Upload:  1,
				Charts:  2,
				Report:  0,
				Cleaned: 1,
			},
		},
		Upload: UploadConfig{
			MaxSize:           "10MiB",
			AllowedExtensions: []string{"csv", "xlsx"},
		},
		Charts: ChartsConfig{
			Limit: 4,
			Auto:  true,
		},
		Artifacts: ArtifactsConfig{
			Provider: filestore.ProviderLocal,
			Dir:      "./downloads",
			Bucket:   "edasync",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8088",
		},
	}
}

// Load builds the configuration. path may be empty; a missing .env file is
// not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindConfig, "failed to read config file", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errs.Wrap(errs.ErrKindConfig, "failed to parse config file", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errs.Wrap(errs.ErrKindConfig, "failed to load .env", err)
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the client cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		return errs.New(errs.ErrKindConfig, "backend.base_url is required")
	}
	if c.Backend.Timeout <= 0 {
		return errs.New(errs.ErrKindConfig, "backend.timeout must be positive")
	}
	r := c.Backend.Retries
	if r.Summary < 0 || r.Upload < 0 || r.Charts < 0 || r.Report < 0 || r.Cleaned < 0 {
		return errs.New(errs.ErrKindConfig, "backend.retries cannot be negative")
	}
	if _, err := c.MaxUploadBytes(); err != nil {
		return err
	}
	if len(c.Upload.AllowedExtensions) == 0 {
		return errs.New(errs.ErrKindConfig, "upload.allowed_extensions cannot be empty")
	}
	if c.Charts.Limit <= 0 {
		return errs.New(errs.ErrKindConfig, "charts.limit must be positive")
	}
	switch c.Artifacts.Provider {
	case filestore.ProviderLocal:
		if c.Artifacts.Dir == "" {
			return errs.New(errs.ErrKindConfig, "artifacts.dir is required for the local provider")
		}
	case filestore.ProviderMinIO:
		if c.Artifacts.Endpoint == "" || c.Artifacts.Bucket == "" {
			return errs.New(errs.ErrKindConfig, "artifacts.endpoint and artifacts.bucket are required for minio")
		}
	default:
		return errs.New(errs.ErrKindConfig, "unknown artifacts.provider "+string(c.Artifacts.Provider))
	}
	return nil
}

// MaxUploadBytes parses Upload.MaxSize ("10MiB", "10 MB", "10485760").
func (c *Config) MaxUploadBytes() (int64, error) {
	n, err := humanize.ParseBytes(c.Upload.MaxSize)
	if err != nil || n == 0 {
		return 0, errs.Wrap(errs.ErrKindConfig, "upload.max_size is not a valid size", err)
	}
	return int64(n), nil
}

// Filestore converts the artifact settings into a filestore.Config.
func (c *Config) Filestore() *filestore.Config {
	a := c.Artifacts
	return &filestore.Config{
		Provider:      a.Provider,
		Dir:           a.Dir,
		Endpoint:      a.Endpoint,
		AccessKey:     a.AccessKey,
		SecretKey:     a.SecretKey,
		UseSSL:        a.UseSSL,
		Region:        a.Region,
		DefaultBucket: a.Bucket,
	}
}

// Logger converts the log settings into a logger.Config.
func (c *Config) Logger() *logger.Config {
	lc := logger.DefaultConfig()
	lc.Level = c.Log.Level
	lc.Format = c.Log.Format
	return lc
}

func applyEnv(cfg *Config) {
	cfg.Backend.BaseURL = getEnvOrDefault("EDASYNC_BACKEND_URL", cfg.Backend.BaseURL)
	cfg.Backend.Timeout = getEnvDurationOrDefault("EDASYNC_TIMEOUT", cfg.Backend.Timeout)
	cfg.Backend.Retries.Summary = getEnvIntOrDefault("EDASYNC_RETRIES_SUMMARY", cfg.Backend.Retries.Summary)
	cfg.Backend.Retries.Upload = getEnvIntOrDefault("EDASYNC_RETRIES_UPLOAD", cfg.Backend.Retries.Upload)
	cfg.Backend.Retries.Charts = getEnvIntOrDefault("EDASYNC_RETRIES_CHARTS", cfg.Backend.Retries.Charts)
	cfg.Backend.Retries.Report = getEnvIntOrDefault("EDASYNC_RETRIES_REPORT", cfg.Backend.Retries.Report)
	cfg.Backend.Retries.Cleaned = getEnvIntOrDefault("EDASYNC_RETRIES_CLEANED", cfg.Backend.Retries.Cleaned)

	cfg.Upload.MaxSize = getEnvOrDefault("EDASYNC_UPLOAD_MAX_SIZE", cfg.Upload.MaxSize)
	if v := os.Getenv("EDASYNC_UPLOAD_EXTENSIONS"); v != "" {
		var exts []string
		for _, e := range strings.Split(v, ",") {
			if e = strings.TrimSpace(e); e != "" {
				exts = append(exts, e)
			}
		}
		cfg.Upload.AllowedExtensions = exts
	}

	cfg.Charts.Limit = getEnvIntOrDefault("EDASYNC_CHARTS_LIMIT", cfg.Charts.Limit)
	cfg.Charts.Auto = getEnvBoolOrDefault("EDASYNC_CHARTS_AUTO", cfg.Charts.Auto)

	cfg.Artifacts.Provider = filestore.Provider(getEnvOrDefault("EDASYNC_ARTIFACTS_PROVIDER", string(cfg.Artifacts.Provider)))
	cfg.Artifacts.Dir = getEnvOrDefault("EDASYNC_ARTIFACTS_DIR", cfg.Artifacts.Dir)
	cfg.Artifacts.Endpoint = getEnvOrDefault("EDASYNC_MINIO_ENDPOINT", cfg.Artifacts.Endpoint)
	cfg.Artifacts.AccessKey = getEnvOrDefault("EDASYNC_MINIO_ACCESS_KEY", cfg.Artifacts.AccessKey)
	cfg.Artifacts.SecretKey = getEnvOrDefault("EDASYNC_MINIO_SECRET_KEY", cfg.Artifacts.SecretKey)
	cfg.Artifacts.UseSSL = getEnvBoolOrDefault("EDASYNC_MINIO_USE_SSL", cfg.Artifacts.UseSSL)
	cfg.Artifacts.Region = getEnvOrDefault("EDASYNC_MINIO_REGION", cfg.Artifacts.Region)
	cfg.Artifacts.Bucket = getEnvOrDefault("EDASYNC_MINIO_BUCKET", cfg.Artifacts.Bucket)

	cfg.Log.Level = getEnvOrDefault("EDASYNC_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnvOrDefault("EDASYNC_LOG_FORMAT", cfg.Log.Format)
	cfg.Server.Addr = getEnvOrDefault("EDASYNC_ADDR", cfg.Server.Addr)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
