// Package config loads service and CLI settings from an optional config file
// (yaml or toml) and STATEMENT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// STATEMENT_PIPELINE_MAX_CONCURRENCY.
const EnvPrefix = "STATEMENT"

// Config is the fully resolved configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	OCR       OCRConfig       `mapstructure:"ocr"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Overrides OverridesConfig `mapstructure:"overrides"`
	Taxonomy  TaxonomyConfig  `mapstructure:"taxonomy"`
	Download  DownloadConfig  `mapstructure:"download"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	GCS       GCSConfig       `mapstructure:"gcs"`
	GCP       GCPConfig       `mapstructure:"gcp"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Tokens    TokensConfig    `mapstructure:"tokens"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxUploadMB  int64         `mapstructure:"max_upload_mb"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type GeminiConfig struct {
	APIKey      string `mapstructure:"api_key"`
	Model       string `mapstructure:"model"`
	VisionModel string `mapstructure:"vision_model"`
}

// OCRConfig selects the vision provider and how pages are submitted to it.
type OCRConfig struct {
	Provider  string   `mapstructure:"provider"`
	Strategy  string   `mapstructure:"strategy"`
	Languages []string `mapstructure:"languages"`
}

// PipelineConfig tunes extraction, partitioning and fan-out.
type PipelineConfig struct {
	Partition         string  `mapstructure:"partition"`
	MaxUnitChars      int     `mapstructure:"max_unit_chars"`
	DirectThreshold   int     `mapstructure:"direct_threshold"`
	MinPageChars      int     `mapstructure:"min_page_chars"`
	MaxConcurrency    int     `mapstructure:"max_concurrency"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	RenderScale       float64 `mapstructure:"render_scale"`
	MaxImageEdge      int     `mapstructure:"max_image_edge"`
}

type OverridesConfig struct {
	Backend         string        `mapstructure:"backend"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	BigQueryProject string        `mapstructure:"bigquery_project"`
	BigQueryDataset string        `mapstructure:"bigquery_dataset"`
	BigQueryTable   string        `mapstructure:"bigquery_table"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
}

type TaxonomyConfig struct {
	Path string `mapstructure:"path"`
}

type DownloadConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxBytes int64         `mapstructure:"max_bytes"`
}

type WebhookConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// GCSConfig enables Cloud Storage. It is also enabled implicitly when an
// archive bucket is set; gs:// statement URLs need it.
type GCSConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ArchiveBucket string `mapstructure:"archive_bucket"`
}

type GCPConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
}

type JobsConfig struct {
	Workers int `mapstructure:"workers"`
	Buffer  int `mapstructure:"buffer"`
}

type TokensConfig struct {
	Limit int32 `mapstructure:"limit"`
}

// Accepted enum values.
const (
	OCRProviderGemini    = "gemini"
	OCRProviderTesseract = "tesseract"

	OCRStrategyPerPage = "per_page"
	OCRStrategyBatched = "batched"

	PartitionByPage = "by_page"
	PartitionBySize = "by_size"

	OverridesNone     = "none"
	OverridesSQLite   = "sqlite"
	OverridesBigQuery = "bigquery"
)

// ErrInvalidConfig is returned when a loaded value fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// NewViper returns a viper instance with defaults and environment binding in
// place. Callers may bind command-line flags to it before calling Load.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The key is also honored under the names the Gemini SDK documents.
	_ = v.BindEnv("gemini.api_key", EnvPrefix+"_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY")
	_ = v.BindEnv("gcp.credentials_file", EnvPrefix+"_GCP_CREDENTIALS_FILE", "GOOGLE_APPLICATION_CREDENTIALS")
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)
	v.SetDefault("server.max_upload_mb", 50)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", "gemini-2.5-flash-lite")
	v.SetDefault("gemini.vision_model", "")

	v.SetDefault("ocr.provider", OCRProviderGemini)
	v.SetDefault("ocr.strategy", OCRStrategyPerPage)
	v.SetDefault("ocr.languages", []string{"por", "eng"})

	v.SetDefault("pipeline.partition", PartitionByPage)
	v.SetDefault("pipeline.max_unit_chars", 12000)
	v.SetDefault("pipeline.direct_threshold", 1)
	v.SetDefault("pipeline.min_page_chars", 50)
	v.SetDefault("pipeline.max_concurrency", 8)
	v.SetDefault("pipeline.requests_per_second", 0.0)
	v.SetDefault("pipeline.burst", 4)
	v.SetDefault("pipeline.render_scale", 2.0)
	v.SetDefault("pipeline.max_image_edge", 4096)

	v.SetDefault("overrides.backend", OverridesNone)
	v.SetDefault("overrides.sqlite_path", "overrides.db")
	v.SetDefault("overrides.bigquery_project", "")
	v.SetDefault("overrides.bigquery_dataset", "finance")
	v.SetDefault("overrides.bigquery_table", "user_overrides")
	v.SetDefault("overrides.write_timeout", 30*time.Second)

	v.SetDefault("taxonomy.path", "")

	v.SetDefault("download.timeout", 30*time.Second)
	v.SetDefault("download.max_bytes", 50<<20)

	v.SetDefault("webhook.timeout", 10*time.Second)

	v.SetDefault("gcs.enabled", false)
	v.SetDefault("gcs.archive_bucket", "")
	v.SetDefault("gcp.credentials_file", "")

	v.SetDefault("jobs.workers", 5)
	v.SetDefault("jobs.buffer", 100)

	v.SetDefault("tokens.limit", 1000000)
}

// Load reads the optional config file at path into v and decodes the result.
// An empty path searches ./statement.{yaml,toml} and tolerates its absence.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("statement")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/statement-categorizer")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("Load: reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("Load: decoding config: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	return &cfg, nil
}

// applyDefaults fills values that depend on other settings.
func applyDefaults(cfg *Config) {
	if cfg.Gemini.VisionModel == "" {
		cfg.Gemini.VisionModel = cfg.Gemini.Model
	}
	if cfg.Pipeline.Burst < 1 {
		cfg.Pipeline.Burst = 1
	}
}

// Validate checks enum fields and numeric bounds.
func (c *Config) Validate() error {
	if err := oneOf("ocr.provider", c.OCR.Provider, OCRProviderGemini, OCRProviderTesseract); err != nil {
		return err
	}
	if err := oneOf("ocr.strategy", c.OCR.Strategy, OCRStrategyPerPage, OCRStrategyBatched); err != nil {
		return err
	}
	if err := oneOf("pipeline.partition", c.Pipeline.Partition, PartitionByPage, PartitionBySize); err != nil {
		return err
	}
	if err := oneOf("overrides.backend", c.Overrides.Backend, OverridesNone, OverridesSQLite, OverridesBigQuery); err != nil {
		return err
	}

	switch {
	case c.Pipeline.MinPageChars < 1:
		return fmt.Errorf("%w: pipeline.min_page_chars must be positive", ErrInvalidConfig)
	case c.Pipeline.MaxUnitChars < 1:
		return fmt.Errorf("%w: pipeline.max_unit_chars must be positive", ErrInvalidConfig)
	case c.Pipeline.DirectThreshold < 0:
		return fmt.Errorf("%w: pipeline.direct_threshold must not be negative", ErrInvalidConfig)
	case c.Pipeline.MaxConcurrency < 1:
		return fmt.Errorf("%w: pipeline.max_concurrency must be at least 1", ErrInvalidConfig)
	case c.Pipeline.RequestsPerSecond < 0:
		return fmt.Errorf("%w: pipeline.requests_per_second must not be negative", ErrInvalidConfig)
	case c.Pipeline.RenderScale <= 0:
		return fmt.Errorf("%w: pipeline.render_scale must be positive", ErrInvalidConfig)
	case c.Jobs.Workers < 1:
		return fmt.Errorf("%w: jobs.workers must be at least 1", ErrInvalidConfig)
	}

	if c.Overrides.Backend == OverridesBigQuery && c.Overrides.BigQueryProject == "" {
		return fmt.Errorf("%w: overrides.bigquery_project is required for the bigquery backend", ErrInvalidConfig)
	}
	return nil
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%w: %s must be one of %s, got %q", ErrInvalidConfig, key, strings.Join(allowed, ", "), value)
}
