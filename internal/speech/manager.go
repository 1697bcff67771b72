// Package speech provides the speech synthesis session manager. It runs
// synthesis requests, keeps the persisted speech history with playback
// handles, and reads and writes the speech settings.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/maauso/voicedesk/internal/history"
	"github.com/maauso/voicedesk/internal/id"
	"github.com/maauso/voicedesk/internal/metrics"
	"github.com/maauso/voicedesk/internal/notify"
	"github.com/maauso/voicedesk/internal/tts"
)

var (
	// ErrEmptyInput is returned when the text to synthesize is blank.
	ErrEmptyInput = errors.New("speech: empty input")
	// ErrClosed is returned after the manager has been closed.
	ErrClosed = errors.New("speech: manager closed")
)

// Notification codes emitted by the manager.
const (
	CodeEmptyInput       = "speech.empty_input"
	CodeGenerated        = "speech.generated"
	CodeNotSaved         = "speech.not_saved"
	CodeFailed           = "speech.failed"
	CodeDeleted          = "speech.deleted"
	CodeDeleteFailed     = "speech.delete_failed"
	CodeCleared          = "speech.cleared"
	CodeClearFailed      = "speech.clear_failed"
	CodeLoadFailed       = "speech.load_failed"
	CodeSettingsInvalid  = "settings.invalid"
	CodeSettingsFailed   = "settings.save_failed"
	CodeSettingsUnloaded = "settings.load_failed"
)

// HistoryStore persists speech history. history.Repository[history.TTSHistoryItem]
// satisfies it.
type HistoryStore interface {
	List(ctx context.Context) ([]history.TTSHistoryItem, error)
	Put(ctx context.Context, item history.TTSHistoryItem) error
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

// SettingsStore persists the settings singleton. *history.SettingsRepository
// satisfies it.
type SettingsStore interface {
	Load(ctx context.Context) (history.Settings, error)
	Save(ctx context.Context, s history.Settings) error
}

// Handles issues and revokes playback handles. *blob.Registry satisfies it.
type Handles interface {
	Create(data []byte, mimeType string) string
	Revoke(handle string) bool
}

// Result is the outcome of a synthesis. When Saved is false the audio is
// playable at AudioURL for this session only and is not in the history.
type Result struct {
	Item     history.TTSHistoryItem
	AudioURL string
	Saved    bool
}

// Manager owns the speech history list and the current audio pointer.
// Synthesis calls run independently; concurrent calls are not merged here.
type Manager struct {
	mu       sync.Mutex
	items    []history.TTSHistoryItem
	current  string
	unsaved  map[string]struct{}
	inFlight int
	closed   bool

	synth    tts.Synthesizer
	store    HistoryStore
	settings SettingsStore
	handles  Handles
	notifier notify.Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithNotifier sets where user-visible notifications go.
func WithNotifier(n notify.Notifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a manager with an empty history. Call Load to read the
// persisted history.
func NewManager(synth tts.Synthesizer, store HistoryStore, settings SettingsStore, handles Handles, opts ...Option) *Manager {
	m := &Manager{
		unsaved:  make(map[string]struct{}),
		synth:    synth,
		store:    store,
		settings: settings,
		handles:  handles,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.notifier == nil {
		m.notifier = notify.NewLogNotifier(m.logger)
	}
	return m
}

// History returns a copy of the speech history, newest first.
func (m *Manager) History() []history.TTSHistoryItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.items)
}

// Get returns the history item with id.
func (m *Manager) Get(id string) (history.TTSHistoryItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(id)
	if i < 0 {
		return history.TTSHistoryItem{}, false
	}
	return m.items[i], true
}

// Current returns the playback handle of the most recent synthesis, or "".
func (m *Manager) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Loading reports whether any synthesis is in flight.
func (m *Manager) Loading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight > 0
}

// Load replaces the history with the persisted items and issues a playback
// handle for each. A store failure leaves an empty history and is reported.
func (m *Manager) Load(ctx context.Context) error {
	items, err := m.store.List(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	for _, it := range m.items {
		m.handles.Revoke(it.AudioURL)
		if m.current == it.AudioURL {
			m.current = ""
		}
	}
	m.items = nil

	if err != nil {
		m.logger.Warn("failed to load speech history", slog.String("error", err.Error()))
		m.notify(ctx, notify.LevelWarning, CodeLoadFailed, "Speech history could not be loaded")
		return err
	}

	for i := range items {
		items[i].AudioURL = m.handles.Create(items[i].AudioBinary, items[i].MimeType)
	}
	history.SortNewestFirst(items)
	m.items = items

	m.logger.Info("speech history loaded", slog.Int("count", len(items)))
	return nil
}

// Generate synthesizes req. Blank text fails with ErrEmptyInput before any
// backend call. On success the audio becomes the current audio; it is added
// to the history only once persisted. A persistence failure is not an error:
// the result is playable with Saved false.
func (m *Manager) Generate(ctx context.Context, req tts.Request) (Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		m.notify(ctx, notify.LevelWarning, CodeEmptyInput, "Enter some text to convert to speech")
		return Result{}, ErrEmptyInput
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Result{}, ErrClosed
	}
	m.inFlight++
	m.mu.Unlock()
	m.trackInFlight(1)

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
		m.trackInFlight(-1)
	}()

	start := time.Now()
	audio, err := m.synth.Synthesize(ctx, req)
	m.observeLatency(time.Since(start))
	if err != nil {
		m.countSynthesis(metrics.OutcomeError)
		m.logger.Error("speech synthesis failed", slog.String("error", err.Error()))
		m.notify(ctx, notify.LevelError, CodeFailed, "Speech could not be generated")
		return Result{}, fmt.Errorf("generate speech: %w", err)
	}

	handle := m.handles.Create(audio.Data, audio.MimeType)
	item := history.TTSHistoryItem{
		ID:          id.Generate("tts"),
		AudioBinary: audio.Data,
		MimeType:    audio.MimeType,
		AudioURL:    handle,
		Timestamp:   m.now().UnixMilli(),
		Text:        req.Text,
		Language:    req.Language,
		Speed:       req.Speed,
		Voice:       req.Voice,
	}

	putErr := m.store.Put(ctx, item)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.handles.Revoke(handle)
		return Result{}, ErrClosed
	}
	if putErr != nil {
		m.unsaved[handle] = struct{}{}
	} else {
		m.items = append([]history.TTSHistoryItem{item}, m.items...)
	}
	m.setCurrentLocked(handle)
	m.mu.Unlock()

	if putErr != nil {
		m.countSynthesis(metrics.OutcomeUnsaved)
		m.logger.Warn("speech generated but not saved",
			slog.String("item_id", item.ID),
			slog.String("error", putErr.Error()),
		)
		m.notify(ctx, notify.LevelWarning, CodeNotSaved, "Speech generated but not saved")
		return Result{Item: item, AudioURL: handle, Saved: false}, nil
	}

	m.countSynthesis(metrics.OutcomeSuccess)
	m.logger.Info("speech generated",
		slog.String("item_id", item.ID),
		slog.Int("bytes", len(audio.Data)),
	)
	m.notify(ctx, notify.LevelSuccess, CodeGenerated, "Speech generated")
	return Result{Item: item, AudioURL: handle, Saved: true}, nil
}

// DeleteHistoryItem revokes the playback handle of the item, removes it from
// the store and then from the history. If the store fails the item stays
// listed with a fresh handle.
func (m *Manager) DeleteHistoryItem(ctx context.Context, id string) error {
	m.mu.Lock()
	if i := m.indexOf(id); i >= 0 {
		m.revokeItemLocked(&m.items[i])
	}
	m.mu.Unlock()

	if err := m.store.Delete(ctx, id); err != nil {
		m.mu.Lock()
		if i := m.indexOf(id); i >= 0 && !m.closed {
			m.restoreItemLocked(&m.items[i])
		}
		m.mu.Unlock()

		m.logger.Error("failed to delete speech item",
			slog.String("item_id", id),
			slog.String("error", err.Error()),
		)
		m.notify(ctx, notify.LevelError, CodeDeleteFailed, "The history item could not be deleted")
		return err
	}

	m.mu.Lock()
	if i := m.indexOf(id); i >= 0 {
		m.items = slices.Delete(m.items, i, i+1)
	}
	m.mu.Unlock()

	m.notify(ctx, notify.LevelSuccess, CodeDeleted, "History item deleted")
	return nil
}

// ClearAllHistory revokes every history handle, clears the store and then
// empties the history. If the store fails the items keep fresh handles.
func (m *Manager) ClearAllHistory(ctx context.Context) error {
	m.mu.Lock()
	for i := range m.items {
		m.revokeItemLocked(&m.items[i])
	}
	m.mu.Unlock()

	if err := m.store.Clear(ctx); err != nil {
		m.mu.Lock()
		if !m.closed {
			for i := range m.items {
				m.restoreItemLocked(&m.items[i])
			}
		}
		m.mu.Unlock()

		m.logger.Error("failed to clear speech history", slog.String("error", err.Error()))
		m.notify(ctx, notify.LevelError, CodeClearFailed, "Speech history could not be cleared")
		return err
	}

	m.mu.Lock()
	n := len(m.items)
	m.items = nil
	m.mu.Unlock()

	m.logger.Info("speech history cleared", slog.Int("count", n))
	m.notify(ctx, notify.LevelSuccess, CodeCleared, "Speech history cleared")
	return nil
}

// LoadSettings returns the stored settings, or the defaults when none are
// stored or the store fails.
func (m *Manager) LoadSettings(ctx context.Context) (history.Settings, error) {
	s, err := m.settings.Load(ctx)
	if err != nil {
		m.logger.Warn("failed to load settings", slog.String("error", err.Error()))
		m.notify(ctx, notify.LevelWarning, CodeSettingsUnloaded, "Settings could not be loaded; using defaults")
		return s, err
	}
	return s, nil
}

// Settings returns the stored settings, or the defaults when they cannot be
// read. Unlike LoadSettings it never notifies, so callers that only need
// defaults for another action do not report a second failure.
func (m *Manager) Settings(ctx context.Context) history.Settings {
	s, err := m.settings.Load(ctx)
	if err != nil {
		m.logger.Debug("using default settings", slog.String("error", err.Error()))
		return history.DefaultSettings()
	}
	return s
}

// SaveSettings replaces the stored settings with s.
func (m *Manager) SaveSettings(ctx context.Context, s history.Settings) error {
	if err := m.settings.Save(ctx, s); err != nil {
		if errors.Is(err, history.ErrInvalidSettings) {
			m.notify(ctx, notify.LevelError, CodeSettingsInvalid, "Settings are invalid")
			return err
		}
		m.logger.Error("failed to save settings", slog.String("error", err.Error()))
		m.notify(ctx, notify.LevelError, CodeSettingsFailed, "Settings could not be saved")
		return err
	}
	return nil
}

// Close revokes every playback handle the manager issued. The manager
// cannot be used afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, it := range m.items {
		m.handles.Revoke(it.AudioURL)
	}
	for h := range m.unsaved {
		m.handles.Revoke(h)
	}
	m.items = nil
	m.unsaved = make(map[string]struct{})
	m.current = ""
	return nil
}

// setCurrentLocked points the current audio at handle. An unsaved result it
// replaces can no longer be reached and is revoked.
func (m *Manager) setCurrentLocked(handle string) {
	if prev := m.current; prev != "" && prev != handle {
		if _, ok := m.unsaved[prev]; ok {
			m.handles.Revoke(prev)
			delete(m.unsaved, prev)
		}
	}
	m.current = handle
}

func (m *Manager) revokeItemLocked(it *history.TTSHistoryItem) {
	if it.AudioURL == "" {
		return
	}
	m.handles.Revoke(it.AudioURL)
	if m.current == it.AudioURL {
		m.current = ""
	}
	it.AudioURL = ""
}

func (m *Manager) restoreItemLocked(it *history.TTSHistoryItem) {
	if it.AudioURL == "" {
		it.AudioURL = m.handles.Create(it.AudioBinary, it.MimeType)
	}
}

// indexOf must be called with mu held.
func (m *Manager) indexOf(id string) int {
	return slices.IndexFunc(m.items, func(it history.TTSHistoryItem) bool { return it.ID == id })
}

func (m *Manager) notify(ctx context.Context, level notify.Level, code, msg string) {
	m.notifier.Notify(ctx, notify.New(level, code, msg))
}

func (m *Manager) trackInFlight(delta float64) {
	if m.metrics != nil {
		m.metrics.SynthesisActive.Add(delta)
	}
}

func (m *Manager) observeLatency(d time.Duration) {
	if m.metrics != nil {
		m.metrics.SynthesisLatency.Observe(d.Seconds())
	}
}

func (m *Manager) countSynthesis(outcome string) {
	if m.metrics != nil {
		m.metrics.Syntheses.WithLabelValues(outcome).Inc()
	}
}
