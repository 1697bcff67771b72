// Package bootstrap provides dependency initialization for the voicedesk API.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maauso/voicedesk/internal/audio"
	"github.com/maauso/voicedesk/internal/blob"
	"github.com/maauso/voicedesk/internal/config"
	"github.com/maauso/voicedesk/internal/history"
	"github.com/maauso/voicedesk/internal/metrics"
	"github.com/maauso/voicedesk/internal/notify"
	"github.com/maauso/voicedesk/internal/objectstore"
	"github.com/maauso/voicedesk/internal/recording"
	"github.com/maauso/voicedesk/internal/speech"
	"github.com/maauso/voicedesk/internal/storage"
	"github.com/maauso/voicedesk/internal/tts"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Recordings *recording.Manager
	Speech     *speech.Manager
	Blobs      *blob.Registry
	Exports    storage.Storage
	Events     *notify.Hub
	// MetricsHandler serves the Prometheus registry the components report to.
	MetricsHandler http.Handler
	// Persistent is false when the database could not be opened and history
	// is kept in memory for this run only.
	Persistent bool
}

// NewDependencies creates and initializes all dependencies for the application
// and loads the persisted history.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Initialize the history database
	db, persistent := initDB(ctx, cfg, logger)
	db = metrics.InstrumentStore(db, m)

	synth, err := initSynthesizer(cfg, logger)
	if err != nil {
		return nil, err
	}

	exports, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	hub := notify.NewHub(
		notify.WithAllowedOrigins(cfg.AllowedOrigins),
		notify.WithHubLogger(logger),
	)
	notifier := notify.Multi{notify.NewLogNotifier(logger), hub}

	blobs := blob.NewRegistry(blob.WithObserver(func(live int) {
		m.LiveHandles.Set(float64(live))
	}))

	device := audio.NewFFmpegDevice(cfg.FFmpegPath, cfg.CaptureFormat, cfg.CaptureDevice,
		audio.WithDeviceLogger(logger),
	)
	constraints := audio.DefaultConstraints()
	constraints.NoiseSuppression = cfg.NoiseSuppression
	constraints.EchoCancellation = cfg.EchoCancellation

	recordings := recording.NewManager(device, history.NewRecordings(db, logger), blobs,
		recording.WithTimeslice(cfg.RecordTimeslice),
		recording.WithConstraints(constraints),
		recording.WithNotifier(notifier),
		recording.WithLogger(logger),
		recording.WithMetrics(m),
	)
	sp := speech.NewManager(synth, history.NewTTSHistory(db, logger), history.NewSettingsRepository(db, logger), blobs,
		speech.WithNotifier(notifier),
		speech.WithLogger(logger),
		speech.WithMetrics(m),
	)

	// A failed load leaves an empty list and has already been reported.
	if err := recordings.Load(ctx); err != nil {
		logger.Warn("recordings not loaded", slog.String("error", err.Error()))
	}
	if err := sp.Load(ctx); err != nil {
		logger.Warn("speech history not loaded", slog.String("error", err.Error()))
	}

	return &Dependencies{
		Recordings:     recordings,
		Speech:         sp,
		Blobs:          blobs,
		Exports:        exports,
		Events:         hub,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Persistent:     persistent,
	}, nil
}

// Close stops any active capture, revokes every playback handle and
// disconnects event clients.
func (d *Dependencies) Close() error {
	errRec := d.Recordings.Close()
	errSpeech := d.Speech.Close()
	d.Events.Close()
	return errors.Join(errRec, errSpeech)
}

// initDB opens the SQLite history database. When it cannot be opened the
// service keeps running on an in-memory store.
func initDB(ctx context.Context, cfg *config.Config, logger *slog.Logger) (objectstore.DB, bool) {
	schema := history.Schema(cfg.DBName)

	db, err := objectstore.Init(ctx, cfg.DataDir, schema, objectstore.WithLogger(logger))
	if err != nil {
		logger.Error("history database unavailable; history will not survive a restart",
			slog.String("data_dir", cfg.DataDir),
			slog.String("error", err.Error()),
		)
		return objectstore.NewMemory(schema), false
	}

	logger.Info("history database opened",
		slog.String("path", db.Path()),
		slog.Int("version", schema.Version),
	)
	return db, true
}

// initSynthesizer creates the speech backend selected by cfg.TTSProvider.
func initSynthesizer(cfg *config.Config, logger *slog.Logger) (tts.Synthesizer, error) {
	var (
		synth tts.Synthesizer
		err   error
	)

	switch strings.ToLower(cfg.TTSProvider) {
	case config.ProviderOpenAI:
		opts := []tts.OpenAIOption{
			tts.WithSpeechModel(cfg.OpenAITTSModel),
			tts.WithDefaultVoice(cfg.OpenAIVoice),
			tts.WithRewriteModel(cfg.OpenAIRewriteModel),
			tts.WithOpenAILogger(logger),
		}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, tts.WithOpenAIBaseURL(cfg.OpenAIBaseURL))
		}
		synth, err = tts.NewOpenAISynthesizer(cfg.OpenAIAPIKey, opts...)
	case config.ProviderHTTP:
		synth, err = tts.NewHTTPClient(cfg.TTSAPIBase,
			tts.WithAPIKey(cfg.TTSAPIKey),
			tts.WithMaxRetries(cfg.TTSMaxRetries),
			tts.WithLogger(logger),
		)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidTTSProvider, cfg.TTSProvider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s synthesizer: %w", cfg.TTSProvider, err)
	}

	logger.Info("speech synthesizer configured",
		slog.String("provider", cfg.TTSProvider),
		slog.Bool("dedupe", cfg.TTSDedupe),
	)
	if cfg.TTSDedupe {
		return tts.NewDedupe(synth), nil
	}
	return synth, nil
}

// initStorage creates the appropriate export backend based on configuration.
func initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Prefix:          cfg.S3Prefix,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(ctx, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 export storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.ExportDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local export storage configured",
		slog.String("export_dir", localStore.Dir()),
	)
	return localStore, nil
}
