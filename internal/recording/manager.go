// Package recording provides the recording session manager: it owns the
// capture lifecycle of the input device, turns finished captures and uploaded
// files into persisted recordings, and keeps their playback handles.
package recording

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/maauso/voicedesk/internal/audio"
	"github.com/maauso/voicedesk/internal/history"
	"github.com/maauso/voicedesk/internal/id"
	"github.com/maauso/voicedesk/internal/metrics"
	"github.com/maauso/voicedesk/internal/notify"
)

// DefaultTimeslice is how often captured audio is moved into the buffer.
const DefaultTimeslice = time.Second

// Static errors for session operations.
var (
	// ErrAlreadyRecording is returned when Start is called while a session is active.
	ErrAlreadyRecording = errors.New("recording: already recording")
	// ErrNotRecording is returned when Stop is called without an active session.
	ErrNotRecording = errors.New("recording: no active recording")
	// ErrEmptyCapture is returned when a session captured zero bytes.
	ErrEmptyCapture = errors.New("recording: empty capture")
	// ErrClosed is returned after the manager has been closed.
	ErrClosed = errors.New("recording: manager closed")
	// ErrNotFound is returned when no recording has the requested id.
	ErrNotFound = errors.New("recording: not found")
)

// Notification codes emitted by the manager.
const (
	CodeStarted          = "recording.started"
	CodeAlreadyRecording = "recording.already_recording"
	CodePermissionDenied = "recording.permission_denied"
	CodeDeviceNotFound   = "recording.device_not_found"
	CodeDeviceError      = "recording.device_error"
	CodeNotRecording     = "recording.not_recording"
	CodeEmptyCapture     = "recording.empty_capture"
	CodeSaved            = "recording.saved"
	CodeSaveFailed       = "recording.save_failed"
	CodeDeleted          = "recording.deleted"
	CodeDeleteFailed     = "recording.delete_failed"
	CodeUploaded         = "recording.uploaded"
	CodeUploadSkipped    = "recording.upload_skipped"
	CodeLoadFailed       = "recording.load_failed"
)

// Store persists recordings. history.Repository[history.RecordingItem] satisfies it.
type Store interface {
	List(ctx context.Context) ([]history.RecordingItem, error)
	Put(ctx context.Context, item history.RecordingItem) error
	Delete(ctx context.Context, id string) error
}

// Handles issues and revokes playback handles. *blob.Registry satisfies it.
type Handles interface {
	Create(data []byte, mimeType string) string
	Revoke(handle string) bool
}

// Upload is a user-provided audio file.
type Upload struct {
	Name        string
	ContentType string
	Data        []byte
}

// Skipped describes an upload that was not stored.
type Skipped struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// UploadResult reports the outcome of an upload batch.
type UploadResult struct {
	Items   []history.RecordingItem
	Skipped []Skipped
}

// Manager owns the capture session and the in-memory recording list.
// It is safe for concurrent use; at most one capture stream is open at a time.
type Manager struct {
	mu     sync.Mutex
	state  State
	stream audio.Stream
	items  []history.RecordingItem
	closed bool

	chunkMu sync.Mutex
	buf     bytes.Buffer

	device      audio.Device
	store       Store
	handles     Handles
	notifier    notify.Notifier
	logger      *slog.Logger
	metrics     *metrics.Metrics
	timeslice   time.Duration
	constraints audio.Constraints
	now         func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeslice sets how often captured audio is buffered.
func WithTimeslice(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeslice = d
		}
	}
}

// WithConstraints sets the capture hints passed to the device.
func WithConstraints(c audio.Constraints) Option {
	return func(m *Manager) {
		m.constraints = c
	}
}

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

// NewManager creates an idle manager with an empty list. Call Load to read
// persisted recordings.
func NewManager(device audio.Device, store Store, handles Handles, opts ...Option) *Manager {
	m := &Manager{
		state:       StateIdle,
		device:      device,
		store:       store,
		handles:     handles,
		logger:      slog.Default(),
		timeslice:   DefaultTimeslice,
		constraints: audio.DefaultConstraints(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.notifier == nil {
		m.notifier = notify.NewLogNotifier(m.logger)
	}
	return m
}

// State returns the current session state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Items returns a copy of the recording list, newest first.
func (m *Manager) Items() []history.RecordingItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.items)
}

// Get returns the recording with id.
func (m *Manager) Get(id string) (history.RecordingItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(id)
	if i < 0 {
		return history.RecordingItem{}, false
	}
	return m.items[i], true
}

// Load replaces the list with the persisted recordings and issues a playback
// handle for each. A store failure leaves an empty list and is reported.
func (m *Manager) Load(ctx context.Context) error {
	items, err := m.store.List(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	for _, it := range m.items {
		m.handles.Revoke(it.AudioURL)
	}
	m.items = nil

	if err != nil {
		m.logger.Warn("failed to load recordings", slog.String("error", err.Error()))
		m.notify(ctx, notify.LevelWarning, CodeLoadFailed, "Saved recordings could not be loaded")
		return err
	}

	for i := range items {
		items[i].AudioURL = m.handles.Create(items[i].AudioBinary, items[i].MimeType)
	}
	history.SortNewestFirst(items)
	m.items = items

	m.logger.Info("recordings loaded", slog.Int("count", len(items)))
	return nil
}

// Start acquires the input device and begins capturing. It fails with
// ErrAlreadyRecording while another session is active, leaving that session
// untouched.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state != StateIdle {
		state := m.state
		m.mu.Unlock()
		m.notify(ctx, notify.LevelError, CodeAlreadyRecording, "A recording is already in progress")
		return fmt.Errorf("%w (state %s)", ErrAlreadyRecording, state)
	}
	if err := m.transition(StateRequestingDevice); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	stream, err := m.device.Open(ctx, m.constraints)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.state = StateIdle
		m.reportDeviceError(ctx, err)
		return fmt.Errorf("start recording: %w", err)
	}
	if m.closed {
		m.state = StateIdle
		_ = stream.Close()
		return ErrClosed
	}

	m.resetChunks()
	if err := stream.Start(m.timeslice, m.appendChunk); err != nil {
		m.state = StateIdle
		_ = stream.Close()
		m.reportDeviceError(ctx, err)
		return fmt.Errorf("start recording: %w", err)
	}

	if err := m.transition(StateRecording); err != nil {
		_ = stream.Close()
		m.state = StateIdle
		return err
	}
	m.stream = stream
	if m.metrics != nil {
		m.metrics.RecordingsStarted.Inc()
	}

	m.logger.Info("recording started", slog.Duration("timeslice", m.timeslice))
	m.notify(ctx, notify.LevelInfo, CodeStarted, "Recording started")
	return nil
}

// Stop ends the active capture, joins the buffered chunks and persists them
// as a new recording. The device is released whatever the outcome. A capture
// of zero bytes fails with ErrEmptyCapture. When persisting fails the
// playback handle is revoked and the recording is not listed.
func (m *Manager) Stop(ctx context.Context) (history.RecordingItem, error) {
	m.mu.Lock()
	if m.state != StateRecording || m.stream == nil {
		m.mu.Unlock()
		m.notify(ctx, notify.LevelWarning, CodeNotRecording, "There is no recording to stop")
		return history.RecordingItem{}, ErrNotRecording
	}
	if err := m.transition(StateFinalizing); err != nil {
		m.mu.Unlock()
		return history.RecordingItem{}, err
	}
	stream := m.stream
	m.stream = nil
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.state = StateIdle
		m.mu.Unlock()
	}()

	if err := stream.Stop(); err != nil {
		m.logger.Warn("capture did not stop cleanly", slog.String("error", err.Error()))
	}
	if err := stream.Close(); err != nil {
		m.logger.Warn("failed to release capture device", slog.String("error", err.Error()))
	}

	data := m.takeChunks()
	if len(data) == 0 {
		m.observeRecording(metrics.OutcomeEmpty, 0)
		m.notify(ctx, notify.LevelWarning, CodeEmptyCapture, "Nothing was recorded")
		return history.RecordingItem{}, ErrEmptyCapture
	}

	now := m.now()
	item := history.RecordingItem{
		ID:          id.Generate("rec"),
		AudioBinary: data,
		MimeType:    stream.MimeType(),
		Timestamp:   now.UnixMilli(),
		Text:        history.RecordingLabel(now),
	}

	saved, err := m.persist(ctx, item)
	if err != nil {
		m.observeRecording(metrics.OutcomeError, len(data))
		m.notify(ctx, notify.LevelError, CodeSaveFailed, "The recording could not be saved")
		return history.RecordingItem{}, err
	}

	m.observeRecording(metrics.OutcomeSuccess, len(data))
	m.logger.Info("recording saved",
		slog.String("recording_id", saved.ID),
		slog.Int("bytes", len(data)),
	)
	m.notify(ctx, notify.LevelSuccess, CodeSaved, "Recording saved")
	return saved, nil
}

// Delete revokes the playback handle of the recording, removes it from the
// store and then from the list. If the store fails the recording stays
// listed with a fresh handle.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	if i := m.indexOf(id); i >= 0 {
		m.handles.Revoke(m.items[i].AudioURL)
		m.items[i].AudioURL = ""
	}
	m.mu.Unlock()

	if err := m.store.Delete(ctx, id); err != nil {
		m.mu.Lock()
		if i := m.indexOf(id); i >= 0 && m.items[i].AudioURL == "" && !m.closed {
			m.items[i].AudioURL = m.handles.Create(m.items[i].AudioBinary, m.items[i].MimeType)
		}
		m.mu.Unlock()

		m.logger.Error("failed to delete recording",
			slog.String("recording_id", id),
			slog.String("error", err.Error()),
		)
		m.notify(ctx, notify.LevelError, CodeDeleteFailed, "The recording could not be deleted")
		return err
	}

	m.mu.Lock()
	if i := m.indexOf(id); i >= 0 {
		m.items = slices.Delete(m.items, i, i+1)
	}
	m.mu.Unlock()

	m.notify(ctx, notify.LevelSuccess, CodeDeleted, "Recording deleted")
	return nil
}

// Upload stores every file with an accepted audio type. Other files are
// skipped, each with a warning, without aborting the batch. Stored files are
// prepended to the list in upload order. The returned error joins the
// persistence failures of individual files.
func (m *Manager) Upload(ctx context.Context, files []Upload) (UploadResult, error) {
	var (
		res  UploadResult
		errs []error
	)

	// Earlier files in a batch sort first, so each accepted file is stamped
	// one millisecond older than the previous one.
	base := m.now().UnixMilli()

	for _, f := range files {
		mimeType, ok := audio.Accept(f.ContentType, f.Data)
		if !ok || len(f.Data) == 0 {
			reason := fmt.Sprintf("unsupported type %q", f.ContentType)
			if len(f.Data) == 0 {
				reason = "empty file"
			}
			res.Skipped = append(res.Skipped, Skipped{Name: f.Name, Reason: reason})
			m.countUpload(metrics.OutcomeSkipped)
			m.notify(ctx, notify.LevelWarning, CodeUploadSkipped,
				fmt.Sprintf("%s was skipped: %s", f.Name, reason))
			continue
		}

		item := history.RecordingItem{
			ID:          id.Generate("upload"),
			AudioBinary: bytes.Clone(f.Data),
			MimeType:    mimeType,
			Timestamp:   base - int64(len(res.Items)),
			Text:        f.Name,
		}
		saved, err := m.persistDetached(ctx, item)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.Name, err))
			res.Skipped = append(res.Skipped, Skipped{Name: f.Name, Reason: "could not be saved"})
			m.countUpload(metrics.OutcomeError)
			m.notify(ctx, notify.LevelError, CodeSaveFailed, fmt.Sprintf("%s could not be saved", f.Name))
			continue
		}
		res.Items = append(res.Items, saved)
		m.countUpload(metrics.OutcomeSuccess)
	}

	if len(res.Items) > 0 {
		m.mu.Lock()
		if m.closed {
			for _, it := range res.Items {
				m.handles.Revoke(it.AudioURL)
			}
		} else {
			m.items = append(slices.Clone(res.Items), m.items...)
		}
		m.mu.Unlock()

		m.notify(ctx, notify.LevelSuccess, CodeUploaded,
			fmt.Sprintf("%d file(s) uploaded", len(res.Items)))
	}
	return res, errors.Join(errs...)
}

// Close stops any active capture, even mid-recording, and revokes the
// playback handles of every listed recording. The manager cannot be used
// afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	stream := m.stream
	m.stream = nil
	m.state = StateIdle
	for _, it := range m.items {
		m.handles.Revoke(it.AudioURL)
	}
	m.items = nil
	m.mu.Unlock()

	if stream != nil {
		m.logger.Info("closing active capture on shutdown")
		if err := stream.Close(); err != nil {
			return fmt.Errorf("close capture: %w", err)
		}
	}
	return nil
}

// persist issues a handle for item, stores it and prepends it to the list.
// On failure the handle is revoked.
func (m *Manager) persist(ctx context.Context, item history.RecordingItem) (history.RecordingItem, error) {
	item, err := m.persistDetached(ctx, item)
	if err != nil {
		return item, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		m.handles.Revoke(item.AudioURL)
		return item, nil
	}
	m.items = append([]history.RecordingItem{item}, m.items...)
	return item, nil
}

// persistDetached issues a handle for item and stores it without touching
// the list. On failure the handle is revoked.
func (m *Manager) persistDetached(ctx context.Context, item history.RecordingItem) (history.RecordingItem, error) {
	item.AudioURL = m.handles.Create(item.AudioBinary, item.MimeType)
	if err := m.store.Put(ctx, item); err != nil {
		m.handles.Revoke(item.AudioURL)
		m.logger.Error("failed to persist recording",
			slog.String("recording_id", item.ID),
			slog.String("error", err.Error()),
		)
		return history.RecordingItem{}, err
	}
	return item, nil
}

// transition must be called with mu held.
func (m *Manager) transition(to State) error {
	if !canTransition(m.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, to)
	}
	m.state = to
	return nil
}

// indexOf must be called with mu held.
func (m *Manager) indexOf(id string) int {
	return slices.IndexFunc(m.items, func(it history.RecordingItem) bool { return it.ID == id })
}

func (m *Manager) appendChunk(chunk []byte) {
	m.chunkMu.Lock()
	defer m.chunkMu.Unlock()
	m.buf.Write(chunk)
}

func (m *Manager) resetChunks() {
	m.chunkMu.Lock()
	defer m.chunkMu.Unlock()
	m.buf.Reset()
}

func (m *Manager) takeChunks() []byte {
	m.chunkMu.Lock()
	defer m.chunkMu.Unlock()
	data := bytes.Clone(m.buf.Bytes())
	m.buf.Reset()
	return data
}

func (m *Manager) reportDeviceError(ctx context.Context, err error) {
	m.logger.Error("failed to acquire capture device", slog.String("error", err.Error()))
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		m.notify(ctx, notify.LevelError, CodePermissionDenied, "Microphone access was denied")
	case errors.Is(err, audio.ErrDeviceNotFound):
		m.notify(ctx, notify.LevelError, CodeDeviceNotFound, "No microphone was found")
	default:
		m.notify(ctx, notify.LevelError, CodeDeviceError, "The microphone could not be started")
	}
}

func (m *Manager) notify(ctx context.Context, level notify.Level, code, msg string) {
	m.notifier.Notify(ctx, notify.New(level, code, msg))
}

func (m *Manager) observeRecording(outcome string, size int) {
	if m.metrics == nil {
		return
	}
	m.metrics.Recordings.WithLabelValues(outcome).Inc()
	if size > 0 {
		m.metrics.RecordingBytes.Observe(float64(size))
	}
}

func (m *Manager) countUpload(outcome string) {
	if m.metrics != nil {
		m.metrics.Uploads.WithLabelValues(outcome).Inc()
	}
}
