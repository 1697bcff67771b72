// Package audio provides audio capture from an input device and the media
// type rules for audio files accepted by the service.
package audio

import (
	"context"
	"errors"
	"time"
)

// Static errors for device access. Permission and missing-device failures are
// kept distinct so callers can tell the user what to fix.
var (
	// ErrPermissionDenied is returned when the OS refuses access to the device.
	ErrPermissionDenied = errors.New("audio: permission denied")
	// ErrDeviceNotFound is returned when no matching input device exists.
	ErrDeviceNotFound = errors.New("audio: device not found")
	// ErrDevice is returned for any other device failure.
	ErrDevice = errors.New("audio: device error")
	// ErrStreamStarted is returned when Start is called twice on a stream.
	ErrStreamStarted = errors.New("audio: stream already started")
)

// Constraints are capture hints passed to a device.
type Constraints struct {
	NoiseSuppression bool
	EchoCancellation bool
	// SampleRate in Hz. Zero means the device default of 48000.
	SampleRate int
	// Channels count. Zero means mono.
	Channels int
}

// DefaultConstraints returns the hints used for voice recording.
func DefaultConstraints() Constraints {
	return Constraints{
		NoiseSuppression: true,
		EchoCancellation: true,
		SampleRate:       48000,
		Channels:         1,
	}
}

// Device opens capture streams.
type Device interface {
	// Open acquires the device. The returned stream holds the device until Close.
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is an open capture session on a device.
type Stream interface {
	// Start begins delivering encoded audio to onChunk roughly every timeslice.
	// onChunk is called from a stream-owned goroutine.
	Start(timeslice time.Duration, onChunk func(chunk []byte)) error

	// Stop ends capture and delivers any remaining audio to onChunk before returning.
	Stop() error

	// Close releases the device. It is safe to call more than once and after Stop.
	Close() error

	// MimeType is the media type of the delivered audio.
	MimeType() string
}
