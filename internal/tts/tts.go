// Package tts provides speech synthesis clients: a generic HTTP endpoint
// that answers with raw audio, an OpenAI-backed synthesizer, and a decorator
// that merges identical concurrent requests.
package tts

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNetwork wraps every failure to obtain audio from a synthesis backend.
var ErrNetwork = errors.New("tts: network failure")

// Static errors for synthesis backends.
var (
	// ErrBaseURLRequired is returned when no endpoint URL is configured.
	ErrBaseURLRequired = errors.New("tts: endpoint URL is required")
	// ErrAPIKeyRequired is returned when a backend needs a key and none is set.
	ErrAPIKeyRequired = errors.New("tts: API key is required")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("tts: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("tts: rate limited")
	// ErrRequestFailed is returned for any other non-2xx status code.
	ErrRequestFailed = errors.New("tts: request failed")
	// ErrEmptyAudio is returned when a successful response carries no audio.
	ErrEmptyAudio = errors.New("tts: empty audio response")
)

// Request is one synthesis request.
type Request struct {
	Text     string
	Language string
	// Speed multiplier; zero means normal speed.
	Speed float64
	// Voice selects a named voice. Backends that take a voice ignore Language.
	Voice string
	// OptimizeWithAI asks the backend to rewrite the text for speech first.
	OptimizeWithAI bool
}

// key identifies requests that produce the same audio.
func (r Request) key() string {
	return strings.Join([]string{
		r.Text,
		r.Language,
		strconv.FormatFloat(r.Speed, 'f', -1, 64),
		r.Voice,
		strconv.FormatBool(r.OptimizeWithAI),
	}, "\x00")
}

// Audio is synthesized speech.
type Audio struct {
	Data     []byte
	MimeType string
}

// Synthesizer turns text into audio.
type Synthesizer interface {
	// Synthesize returns the audio for req. Failures wrap ErrNetwork.
	Synthesize(ctx context.Context, req Request) (*Audio, error)
}

func networkError(err error) error {
	if errors.Is(err, ErrNetwork) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrNetwork, err)
}
