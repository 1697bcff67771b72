// Package server provides the HTTP server for the voicedesk API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"github.com/maauso/voicedesk/internal/history"
	"github.com/maauso/voicedesk/internal/recording"
	"github.com/maauso/voicedesk/internal/speech"
)

// RecordingResponse is a recording as returned by the API. The audio itself
// is fetched through AudioURL.
type RecordingResponse struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	MimeType  string `json:"mimeType"`
	Timestamp int64  `json:"timestamp"`
	Size      int    `json:"size"`
	// AudioURL is the playback handle, valid for the life of the process.
	AudioURL string `json:"audioUrl"`
}

// RecordingListResponse is the HTTP response for listing recordings.
type RecordingListResponse struct {
	// State is the capture session state.
	State string              `json:"state"`
	Items []RecordingResponse `json:"items"`
}

// RecordingStateResponse reports the capture session state.
type RecordingStateResponse struct {
	State string `json:"state"`
}

// UploadResponse is the HTTP response for a multipart upload.
type UploadResponse struct {
	Items   []RecordingResponse `json:"items"`
	Skipped []recording.Skipped `json:"skipped"`
}

// SpeechRequest is the HTTP request body for synthesizing speech.
type SpeechRequest struct {
	// Text is the input. Blank text is rejected by the speech manager.
	Text string `json:"text" validate:"max=5000"`
	// Language defaults to the stored settings language.
	Language string `json:"language" validate:"omitempty,language"`
	// Speed defaults to the stored settings speed.
	Speed float64 `json:"speed" validate:"omitempty,gte=0.5,lte=2"`
	Voice string  `json:"voice" validate:"max=64"`
	// OptimizeWithAI rewrites the text for speech before synthesis.
	OptimizeWithAI bool `json:"isOptimizeWithAI"`
}

// SpeechItemResponse is a speech history item as returned by the API.
type SpeechItemResponse struct {
	ID        string  `json:"id"`
	Text      string  `json:"text"`
	Language  string  `json:"language,omitempty"`
	Speed     float64 `json:"speed,omitempty"`
	Voice     string  `json:"voice,omitempty"`
	MimeType  string  `json:"mimeType"`
	Timestamp int64   `json:"timestamp"`
	Size      int     `json:"size"`
	AudioURL  string  `json:"audioUrl"`
}

// SpeechResponse is the HTTP response after synthesizing speech.
type SpeechResponse struct {
	SpeechItemResponse
	// Saved is false when the audio could not be added to the history.
	Saved bool `json:"saved"`
}

// SpeechHistoryResponse is the HTTP response for the speech history.
type SpeechHistoryResponse struct {
	// Current is the handle of the audio last generated or selected.
	Current string               `json:"current"`
	Loading bool                 `json:"loading"`
	Items   []SpeechItemResponse `json:"items"`
}

// SettingsRequest is the HTTP request body for replacing the speech settings.
type SettingsRequest struct {
	Language         string  `json:"language" validate:"required,language"`
	Speed            float64 `json:"speed" validate:"gte=0.5,lte=2"`
	Text             string  `json:"text" validate:"max=5000"`
	IsOptimizeWithAI bool    `json:"isOptimizeWithAI"`
	Voice            string  `json:"voice" validate:"max=64"`
}

// ExportResponse is the HTTP response after exporting an audio item.
type ExportResponse struct {
	// Location is the file path or object URL of the exported audio.
	Location string `json:"location"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}

func toRecordingResponse(it history.RecordingItem) RecordingResponse {
	return RecordingResponse{
		ID:        it.ID,
		Text:      it.Text,
		MimeType:  it.MimeType,
		Timestamp: it.Timestamp,
		Size:      len(it.AudioBinary),
		AudioURL:  it.AudioURL,
	}
}

func toRecordingResponses(items []history.RecordingItem) []RecordingResponse {
	out := make([]RecordingResponse, 0, len(items))
	for _, it := range items {
		out = append(out, toRecordingResponse(it))
	}
	return out
}

func toSpeechItemResponse(it history.TTSHistoryItem) SpeechItemResponse {
	return SpeechItemResponse{
		ID:        it.ID,
		Text:      it.Text,
		Language:  it.Language,
		Speed:     it.Speed,
		Voice:     it.Voice,
		MimeType:  it.MimeType,
		Timestamp: it.Timestamp,
		Size:      len(it.AudioBinary),
		AudioURL:  it.AudioURL,
	}
}

func toSpeechResponse(res speech.Result) SpeechResponse {
	item := toSpeechItemResponse(res.Item)
	item.AudioURL = res.AudioURL
	return SpeechResponse{SpeechItemResponse: item, Saved: res.Saved}
}
