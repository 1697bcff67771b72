package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"

	"github.com/maauso/voicedesk/internal/audio"
	"github.com/maauso/voicedesk/internal/blob"
	"github.com/maauso/voicedesk/internal/history"
	"github.com/maauso/voicedesk/internal/recording"
	"github.com/maauso/voicedesk/internal/speech"
	"github.com/maauso/voicedesk/internal/storage"
	"github.com/maauso/voicedesk/internal/tts"
)

// DefaultMaxUploadBytes bounds the body of a multipart upload.
const DefaultMaxUploadBytes = 64 << 20

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	recordings     *recording.Manager
	speech         *speech.Manager
	blobs          *blob.Registry
	exports        storage.Storage
	validator      *validator.Validate
	logger         *slog.Logger
	maxUploadBytes int64
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithExports sets where exported audio is written. Without it the export
// endpoints answer 501.
func WithExports(s storage.Storage) HandlerOption {
	return func(h *Handlers) {
		h.exports = s
	}
}

// WithMaxUploadBytes bounds the size of an upload request body.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(recordings *recording.Manager, sp *speech.Manager, blobs *blob.Registry, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		recordings:     recordings,
		speech:         sp,
		blobs:          blobs,
		validator:      history.NewValidator(),
		logger:         logger,
		maxUploadBytes: DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Languages handles GET /languages requests.
func (h *Handlers) Languages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, history.Languages())
}

// ListRecordings handles GET /recordings requests.
func (h *Handlers) ListRecordings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, RecordingListResponse{
		State: string(h.recordings.State()),
		Items: toRecordingResponses(h.recordings.Items()),
	})
}

// StartRecording handles POST /recordings/start requests.
func (h *Handlers) StartRecording(w http.ResponseWriter, r *http.Request) {
	err := h.recordings.Start(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, recording.ErrAlreadyRecording):
			writeError(w, http.StatusConflict, "a recording is already in progress", "ALREADY_RECORDING")
		case errors.Is(err, audio.ErrPermissionDenied):
			writeError(w, http.StatusForbidden, "microphone access was denied", "PERMISSION_DENIED")
		case errors.Is(err, audio.ErrDeviceNotFound):
			writeError(w, http.StatusNotFound, "no microphone was found", "DEVICE_NOT_FOUND")
		case errors.Is(err, recording.ErrClosed):
			writeError(w, http.StatusServiceUnavailable, "service is shutting down", "SERVICE_CLOSED")
		default:
			h.logger.Error("failed to start recording", slog.String("error", err.Error()))
			writeError(w, http.StatusServiceUnavailable, "the microphone could not be opened", "DEVICE_ERROR")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, RecordingStateResponse{State: string(h.recordings.State())})
}

// StopRecording handles POST /recordings/stop requests.
func (h *Handlers) StopRecording(w http.ResponseWriter, r *http.Request) {
	// The capture is persisted even if the client goes away.
	item, err := h.recordings.Stop(context.WithoutCancel(r.Context()))
	if err != nil {
		switch {
		case errors.Is(err, recording.ErrNotRecording):
			writeError(w, http.StatusConflict, "there is no recording to stop", "NOT_RECORDING")
		case errors.Is(err, recording.ErrEmptyCapture):
			writeError(w, http.StatusUnprocessableEntity, "nothing was recorded", "EMPTY_CAPTURE")
		default:
			writeError(w, http.StatusInternalServerError, "the recording could not be saved", "SAVE_FAILED")
		}
		return
	}

	writeJSON(w, http.StatusCreated, toRecordingResponse(item))
}

// UploadRecordings handles POST /recordings/upload multipart requests.
// Files are read from the "files" and "file" form fields.
func (h *Handlers) UploadRecordings(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload is too large", "UPLOAD_TOO_LARGE")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart body", "INVALID_MULTIPART")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := slices.Concat(r.MultipartForm.File["files"], r.MultipartForm.File["file"])
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "no files in request", "NO_FILES")
		return
	}

	uploads := make([]recording.Upload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("cannot read %s", fh.Filename), "INVALID_MULTIPART")
			return
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("cannot read %s", fh.Filename), "INVALID_MULTIPART")
			return
		}
		uploads = append(uploads, recording.Upload{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	res, err := h.recordings.Upload(context.WithoutCancel(r.Context()), uploads)
	if err != nil && len(res.Items) == 0 {
		h.logger.Error("upload failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "no file could be saved", "UPLOAD_FAILED")
		return
	}
	if len(res.Items) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "no audio files were uploaded", "NO_AUDIO_FILES")
		return
	}

	skipped := res.Skipped
	if skipped == nil {
		skipped = []recording.Skipped{}
	}
	writeJSON(w, http.StatusCreated, UploadResponse{
		Items:   toRecordingResponses(res.Items),
		Skipped: skipped,
	})
}

// DeleteRecording handles DELETE /recordings/{id} requests.
func (h *Handlers) DeleteRecording(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := h.recordings.Get(id); !ok {
		writeError(w, http.StatusNotFound, "recording not found", "RECORDING_NOT_FOUND")
		return
	}

	if err := h.recordings.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "the recording could not be deleted", "DELETE_FAILED")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExportRecording handles POST /recordings/{id}/export requests.
func (h *Handlers) ExportRecording(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	item, ok := h.recordings.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "recording not found", "RECORDING_NOT_FOUND")
		return
	}
	h.export(w, r, "recordings/"+item.ID+audio.Extension(item.MimeType), item.MimeType, item.AudioBinary)
}

// Speak handles POST /speech requests.
func (h *Handlers) Speak(w http.ResponseWriter, r *http.Request) {
	var req SpeechRequest
	if !h.decode(w, r, &req) {
		return
	}

	if req.Language == "" || req.Speed == 0 {
		settings := h.speech.Settings(r.Context())
		if req.Language == "" {
			req.Language = settings.Language
		}
		if req.Speed == 0 {
			req.Speed = settings.Speed
		}
	}

	res, err := h.speech.Generate(r.Context(), tts.Request{
		Text:           req.Text,
		Language:       req.Language,
		Speed:          req.Speed,
		Voice:          req.Voice,
		OptimizeWithAI: req.OptimizeWithAI,
	})
	if err != nil {
		switch {
		case errors.Is(err, speech.ErrEmptyInput):
			writeError(w, http.StatusBadRequest, "enter some text to convert to speech", "EMPTY_INPUT")
		case errors.Is(err, speech.ErrClosed):
			writeError(w, http.StatusServiceUnavailable, "service is shutting down", "SERVICE_CLOSED")
		case errors.Is(err, context.Canceled):
			writeError(w, http.StatusRequestTimeout, "request cancelled", "CANCELLED")
		default:
			writeError(w, http.StatusBadGateway, "speech could not be generated", "SYNTHESIS_FAILED")
		}
		return
	}

	writeJSON(w, http.StatusCreated, toSpeechResponse(res))
}

// SpeechHistory handles GET /speech/history requests.
func (h *Handlers) SpeechHistory(w http.ResponseWriter, r *http.Request) {
	items := h.speech.History()
	out := make([]SpeechItemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, toSpeechItemResponse(it))
	}
	writeJSON(w, http.StatusOK, SpeechHistoryResponse{
		Current: h.speech.Current(),
		Loading: h.speech.Loading(),
		Items:   out,
	})
}

// DeleteSpeechItem handles DELETE /speech/history/{id} requests.
func (h *Handlers) DeleteSpeechItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := h.speech.Get(id); !ok {
		writeError(w, http.StatusNotFound, "history item not found", "HISTORY_ITEM_NOT_FOUND")
		return
	}

	if err := h.speech.DeleteHistoryItem(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "the history item could not be deleted", "DELETE_FAILED")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearSpeechHistory handles DELETE /speech/history requests.
func (h *Handlers) ClearSpeechHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.speech.ClearAllHistory(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "speech history could not be cleared", "CLEAR_FAILED")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExportSpeechItem handles POST /speech/history/{id}/export requests.
func (h *Handlers) ExportSpeechItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	item, ok := h.speech.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "history item not found", "HISTORY_ITEM_NOT_FOUND")
		return
	}
	h.export(w, r, "speech/"+item.ID+audio.Extension(item.MimeType), item.MimeType, item.AudioBinary)
}

// GetSettings handles GET /settings requests. Defaults are returned when
// nothing is stored or the store cannot be read.
func (h *Handlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, _ := h.speech.LoadSettings(r.Context())
	writeJSON(w, http.StatusOK, settings)
}

// PutSettings handles PUT /settings requests.
func (h *Handlers) PutSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if !h.decode(w, r, &req) {
		return
	}

	settings := history.Settings{
		ID:               history.SettingsKey,
		Language:         req.Language,
		Speed:            req.Speed,
		Text:             req.Text,
		IsOptimizeWithAI: req.IsOptimizeWithAI,
		Voice:            req.Voice,
	}
	if err := h.speech.SaveSettings(r.Context(), settings); err != nil {
		if errors.Is(err, history.ErrInvalidSettings) {
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
		writeError(w, http.StatusInternalServerError, "settings could not be saved", "SETTINGS_SAVE_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// Audio handles GET /audio/{handle} requests. Range requests are supported.
func (h *Handlers) Audio(w http.ResponseWriter, r *http.Request) {
	b, ok := h.blobs.Lookup(r.PathValue("handle"))
	if !ok {
		writeError(w, http.StatusNotFound, "audio not found", "AUDIO_NOT_FOUND")
		return
	}

	if b.MimeType != "" {
		w.Header().Set("Content-Type", b.MimeType)
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeContent(w, r, "", b.CreatedAt, bytes.NewReader(b.Data))
}

// export writes data under key to the configured export storage.
func (h *Handlers) export(w http.ResponseWriter, r *http.Request, key, mimeType string, data []byte) {
	if h.exports == nil {
		writeError(w, http.StatusNotImplemented, "export is not configured", "EXPORT_DISABLED")
		return
	}

	location, err := h.exports.Save(r.Context(), key, mimeType, bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, storage.ErrInvalidKey) {
			writeError(w, http.StatusBadRequest, "invalid export key", "INVALID_KEY")
			return
		}
		h.logger.Error("export failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "the audio could not be exported", "EXPORT_FAILED")
		return
	}

	h.logger.Info("audio exported",
		slog.String("key", key),
		slog.String("location", location),
	)
	writeJSON(w, http.StatusOK, ExportResponse{Location: location})
}

// decode reads a JSON body into dst and validates it. It writes the error
// response and returns false on failure.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return false
	}

	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := sonic.ConfigDefault.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
