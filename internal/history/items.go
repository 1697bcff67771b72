// Package history provides the persisted audio history (recordings and
// synthesized speech) and the speech settings singleton, built on the
// objectstore package.
package history

import (
	"errors"
	"fmt"
	"time"

	"github.com/maauso/voicedesk/internal/objectstore"
)

// ErrPersistence is returned when a write to the object store fails.
var ErrPersistence = errors.New("history: persistence failure")

// Store names and schema version of the history database.
const (
	StoreRecordings = "recordings"
	StoreTTSHistory = "ttsHistory"
	StoreSettings   = "ttsSettings"

	// IndexTimestamp orders history stores by creation time.
	IndexTimestamp = "timestamp"

	SchemaVersion = 1
)

// Schema returns the object store configuration for a database named name.
func Schema(name string) objectstore.Config {
	byTime := []objectstore.IndexSpec{{Name: IndexTimestamp, KeyPath: "timestamp"}}
	return objectstore.Config{
		Name:    name,
		Version: SchemaVersion,
		Stores: []objectstore.StoreSpec{
			{Name: StoreRecordings, Indexes: byTime},
			{Name: StoreTTSHistory, Indexes: byTime},
			{Name: StoreSettings},
		},
	}
}

// Entry is implemented by every item kept in a history store.
type Entry interface {
	EntryID() string
	EntryTime() int64
}

// RecordingItem is a captured or uploaded audio clip.
type RecordingItem struct {
	// ID is the unique identifier, assigned when the capture is finalized.
	ID string `json:"id"`
	// AudioBinary is the encoded audio. The item owns it once persisted.
	AudioBinary []byte `json:"audioBinary"`
	// MimeType is the media type of AudioBinary.
	MimeType string `json:"mimeType,omitempty"`
	// AudioURL is the playback handle. Not persisted; regenerated on load.
	AudioURL string `json:"-"`
	// Timestamp is the creation time in unix milliseconds.
	Timestamp int64 `json:"timestamp"`
	// Text is a human-readable label.
	Text string `json:"text"`
}

func (r RecordingItem) EntryID() string  { return r.ID }
func (r RecordingItem) EntryTime() int64 { return r.Timestamp }

// TTSHistoryItem is a synthesized speech clip. Text is the synthesized input.
type TTSHistoryItem struct {
	ID          string  `json:"id"`
	AudioBinary []byte  `json:"audioBinary"`
	MimeType    string  `json:"mimeType,omitempty"`
	AudioURL    string  `json:"-"`
	Timestamp   int64   `json:"timestamp"`
	Text        string  `json:"text"`
	Language    string  `json:"language,omitempty"`
	Speed       float64 `json:"speed,omitempty"`
	Voice       string  `json:"voice,omitempty"`
}

func (t TTSHistoryItem) EntryID() string  { return t.ID }
func (t TTSHistoryItem) EntryTime() int64 { return t.Timestamp }

// RecordingLabel returns the default label of a recording captured at ts.
func RecordingLabel(ts time.Time) string {
	return fmt.Sprintf("Recording %s", ts.Format("2006-01-02 15:04:05"))
}
