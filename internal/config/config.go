// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Speech synthesis providers.
const (
	ProviderHTTP   = "http"
	ProviderOpenAI = "openai"
)

// Static errors for configuration validation.
var (
	// ErrInvalidTTSProvider is returned when TTS_PROVIDER is not a known provider.
	ErrInvalidTTSProvider = errors.New("config: TTS_PROVIDER must be http or openai")
	// ErrTTSAPIBaseRequired is returned when the http provider has no TTS_API_BASE.
	ErrTTSAPIBaseRequired = errors.New("config: TTS_API_BASE is required for the http provider")
	// ErrOpenAIKeyRequired is returned when the openai provider has no OPENAI_API_KEY.
	ErrOpenAIKeyRequired = errors.New("config: OPENAI_API_KEY is required for the openai provider")
	// ErrInvalidTimeslice is returned when RECORD_TIMESLICE is not positive.
	ErrInvalidTimeslice = errors.New("config: RECORD_TIMESLICE must be positive")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int      `env:"PORT, default=8080" json:"port"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS, default=*" json:"allowed_origins"`

	// Local database settings
	DataDir string `env:"DATA_DIR, default=./data" json:"data_dir"`
	DBName  string `env:"DB_NAME, default=voicedesk" json:"db_name"`

	// Speech synthesis settings
	TTSProvider   string `env:"TTS_PROVIDER, default=http" json:"tts_provider"`
	TTSAPIBase    string `env:"TTS_API_BASE" json:"tts_api_base,omitempty"`
	TTSAPIKey     string `env:"TTS_API_KEY" json:"-"` // Masked in JSON
	TTSDedupe     bool   `env:"TTS_DEDUPE, default=false" json:"tts_dedupe"`
	TTSMaxRetries int    `env:"TTS_MAX_RETRIES, default=2" json:"tts_max_retries"`

	// OpenAI settings, used when TTSProvider is "openai"
	OpenAIAPIKey       string `env:"OPENAI_API_KEY" json:"-"` // Masked in JSON
	OpenAIBaseURL      string `env:"OPENAI_BASE_URL" json:"openai_base_url,omitempty"`
	OpenAITTSModel     string `env:"OPENAI_TTS_MODEL, default=tts-1" json:"openai_tts_model"`
	OpenAIVoice        string `env:"OPENAI_VOICE, default=alloy" json:"openai_voice"`
	OpenAIRewriteModel string `env:"OPENAI_REWRITE_MODEL, default=gpt-4o-mini" json:"openai_rewrite_model"`

	// Capture settings
	FFmpegPath       string        `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	CaptureFormat    string        `env:"CAPTURE_FORMAT, default=alsa" json:"capture_format"`
	CaptureDevice    string        `env:"CAPTURE_DEVICE, default=default" json:"capture_device"`
	RecordTimeslice  time.Duration `env:"RECORD_TIMESLICE, default=1s" json:"record_timeslice"`
	NoiseSuppression bool          `env:"NOISE_SUPPRESSION, default=true" json:"noise_suppression"`
	EchoCancellation bool          `env:"ECHO_CANCELLATION, default=true" json:"echo_cancellation"`

	// Export settings
	ExportDir string `env:"EXPORT_DIR, default=./data/exports" json:"export_dir"`

	// Optional S3 export settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	S3Prefix           string `env:"S3_PREFIX" json:"s3_prefix,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the settings of the selected provider are present.
func (c *Config) Validate() error {
	switch strings.ToLower(c.TTSProvider) {
	case ProviderHTTP:
		if c.TTSAPIBase == "" {
			return ErrTTSAPIBaseRequired
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return ErrOpenAIKeyRequired
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTTSProvider, c.TTSProvider)
	}
	if c.RecordTimeslice <= 0 {
		return ErrInvalidTimeslice
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, DataDir: %s, DBName: %s, TTSProvider: %s, TTSAPIBase: %s, TTSAPIKey: %s, OpenAIAPIKey: %s, "+
			"CaptureFormat: %s, CaptureDevice: %s, RecordTimeslice: %s, ExportDir: %s, S3Bucket: %s, S3Region: %s, "+
			"LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.DataDir,
		c.DBName,
		c.TTSProvider,
		c.TTSAPIBase,
		mask(c.TTSAPIKey),
		mask(c.OpenAIAPIKey),
		c.CaptureFormat,
		c.CaptureDevice,
		c.RecordTimeslice,
		c.ExportDir,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
