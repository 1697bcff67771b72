package config

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envVars = []string{
	"PORT", "ALLOWED_ORIGINS", "DATA_DIR", "DB_NAME",
	"TTS_PROVIDER", "TTS_API_BASE", "TTS_API_KEY", "TTS_DEDUPE", "TTS_MAX_RETRIES",
	"OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_TTS_MODEL", "OPENAI_VOICE", "OPENAI_REWRITE_MODEL",
	"FFMPEG_PATH", "CAPTURE_FORMAT", "CAPTURE_DEVICE", "RECORD_TIMESLICE",
	"NOISE_SUPPRESSION", "ECHO_CANCELLATION", "EXPORT_DIR",
	"S3_BUCKET", "S3_REGION", "S3_ENDPOINT", "S3_PREFIX", "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY",
	"LOG_FORMAT", "LOG_LEVEL",
}

// clearEnv unsets every variable Load reads for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, v := range envVars {
		t.Setenv(v, "")
		_ = os.Unsetenv(v)
	}
}

func TestLoad_ProviderRequirements(t *testing.T) {
	t.Run("http provider without TTS_API_BASE returns error", func(t *testing.T) {
		clearEnv(t)

		_, err := Load()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTTSAPIBaseRequired)
	})

	t.Run("openai provider without OPENAI_API_KEY returns error", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("TTS_PROVIDER", "openai")

		_, err := Load()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrOpenAIKeyRequired)
	})

	t.Run("unknown provider returns error", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("TTS_PROVIDER", "carrier-pigeon")

		_, err := Load()
		assert.ErrorIs(t, err, ErrInvalidTTSProvider)
	})

	t.Run("openai provider with key succeeds", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("TTS_PROVIDER", "openai")
		t.Setenv("OPENAI_API_KEY", "sk-test")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "sk-test", cfg.OpenAIAPIKey)
		assert.Equal(t, "tts-1", cfg.OpenAITTSModel)
		assert.Equal(t, "alloy", cfg.OpenAIVoice)
		assert.Equal(t, "gpt-4o-mini", cfg.OpenAIRewriteModel)
	})
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("TTS_API_BASE", "http://localhost:9000/tts")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, "voicedesk", cfg.DBName)
	assert.Equal(t, ProviderHTTP, cfg.TTSProvider)
	assert.False(t, cfg.TTSDedupe)
	assert.Equal(t, 2, cfg.TTSMaxRetries)
	assert.Equal(t, "ffmpeg", cfg.FFmpegPath)
	assert.Equal(t, "alsa", cfg.CaptureFormat)
	assert.Equal(t, "default", cfg.CaptureDevice)
	assert.Equal(t, time.Second, cfg.RecordTimeslice)
	assert.True(t, cfg.NoiseSuppression)
	assert.True(t, cfg.EchoCancellation)
	assert.Equal(t, "./data/exports", cfg.ExportDir)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.S3Enabled())
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("TTS_API_BASE", "https://tts.example.com/speak")
	t.Setenv("TTS_API_KEY", "tts-secret")
	t.Setenv("TTS_DEDUPE", "true")
	t.Setenv("PORT", "3000")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")
	t.Setenv("DATA_DIR", "/var/lib/voicedesk")
	t.Setenv("DB_NAME", "desk")
	t.Setenv("CAPTURE_FORMAT", "pulse")
	t.Setenv("CAPTURE_DEVICE", "mic")
	t.Setenv("RECORD_TIMESLICE", "250ms")
	t.Setenv("NOISE_SUPPRESSION", "false")
	t.Setenv("S3_BUCKET", "my-bucket")
	t.Setenv("S3_REGION", "us-east-1")
	t.Setenv("AWS_ACCESS_KEY_ID", "access-key")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret-key")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, "/var/lib/voicedesk", cfg.DataDir)
	assert.Equal(t, "desk", cfg.DBName)
	assert.Equal(t, "tts-secret", cfg.TTSAPIKey)
	assert.True(t, cfg.TTSDedupe)
	assert.Equal(t, "pulse", cfg.CaptureFormat)
	assert.Equal(t, "mic", cfg.CaptureDevice)
	assert.Equal(t, 250*time.Millisecond, cfg.RecordTimeslice)
	assert.False(t, cfg.NoiseSuppression)
	assert.True(t, cfg.S3Enabled())
	assert.Equal(t, "access-key", cfg.AWSAccessKeyID)
	assert.Equal(t, "secret-key", cfg.AWSSecretAccessKey)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_InvalidValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("TTS_API_BASE", "http://localhost")
	t.Setenv("PORT", "not-a-number")

	// go-envconfig returns an error when parsing fails
	_, err := Load()
	require.Error(t, err)
}

func TestConfig_S3Enabled(t *testing.T) {
	tests := []struct {
		name     string
		bucket   string
		region   string
		expected bool
	}{
		{"both set", "bucket", "region", true},
		{"only bucket", "bucket", "", false},
		{"only region", "", "region", false},
		{"neither set", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				S3Bucket: tt.bucket,
				S3Region: tt.region,
			}
			assert.Equal(t, tt.expected, cfg.S3Enabled())
		})
	}
}

func TestConfig_String(t *testing.T) {
	cfg := &Config{
		Port:         8080,
		DataDir:      "/tmp/test",
		TTSProvider:  ProviderHTTP,
		TTSAPIBase:   "https://tts.example.com",
		TTSAPIKey:    "secret-key",
		OpenAIAPIKey: "sk-secret",
		S3Bucket:     "bucket",
		LogFormat:    "json",
		LogLevel:     "info",
	}

	str := cfg.String()

	// Should contain non-sensitive values
	assert.Contains(t, str, "8080")
	assert.Contains(t, str, "https://tts.example.com")
	assert.Contains(t, str, "/tmp/test")

	// Should NOT contain sensitive values
	assert.NotContains(t, str, "secret-key")
	assert.NotContains(t, str, "sk-secret")
	assert.Contains(t, str, "****")
}

func TestConfig_NewLogger(t *testing.T) {
	for _, format := range []string{"json", "text", ""} {
		cfg := &Config{LogFormat: format, LogLevel: "debug"}
		logger := cfg.NewLogger()
		require.NotNil(t, logger)
		assert.True(t, logger.Enabled(t.Context(), slog.LevelDebug))
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{TTSProvider: ProviderHTTP, TTSAPIBase: "http://x", RecordTimeslice: time.Second}
	}

	t.Run("valid config", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("provider is case insensitive", func(t *testing.T) {
		cfg := valid()
		cfg.TTSProvider = "HTTP"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("non-positive timeslice", func(t *testing.T) {
		cfg := valid()
		cfg.RecordTimeslice = 0
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidTimeslice)
	})
}
