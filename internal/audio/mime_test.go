package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func wavHeader() []byte {
	h := []byte("RIFF\x24\x00\x00\x00WAVEfmt \x10\x00\x00\x00\x01\x00\x01\x00\x80\xbb\x00\x00\x00\x77\x01\x00\x02\x00\x10\x00data\x00\x00\x00\x00")
	return h
}

func TestAccept_DeclaredType(t *testing.T) {
	tests := []struct {
		declared string
		want     bool
	}{
		{"audio/mpeg", true},
		{"audio/webm;codecs=opus", true},
		{"AUDIO/WAV", true},
		{"audio/x-m4a", true},
		{"image/png", false},
		{"text/plain", false},
		{"video/mp4", false},
	}

	for _, tt := range tests {
		t.Run(tt.declared, func(t *testing.T) {
			_, ok := Accept(tt.declared, []byte("irrelevant"))
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestAccept_SniffsWhenUndeclared(t *testing.T) {
	mt, ok := Accept("", wavHeader())
	assert.True(t, ok)
	assert.Equal(t, "audio/wav", mt)

	mt, ok = Accept("application/octet-stream", append([]byte("ID3\x03\x00\x00\x00\x00\x00\x00"), make([]byte, 32)...))
	assert.True(t, ok)
	assert.Equal(t, "audio/mpeg", mt)

	_, ok = Accept("", []byte("just some text"))
	assert.False(t, ok)
}

func TestIsAccepted(t *testing.T) {
	assert.True(t, IsAccepted("audio/ogg"))
	assert.True(t, IsAccepted("audio/ogg; codecs=opus"))
	assert.False(t, IsAccepted("application/ogg"))
}

func TestExtension(t *testing.T) {
	assert.Equal(t, ".mp3", Extension("audio/mpeg"))
	assert.Equal(t, ".wav", Extension("audio/wav"))
	assert.Equal(t, ".bin", Extension("application/x-unknown-thing"))
}
