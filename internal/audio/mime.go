package audio

import (
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// AcceptedTypes lists the audio media types accepted for upload.
var AcceptedTypes = []string{
	"audio/mpeg",
	"audio/mp3",
	"audio/wav",
	"audio/wave",
	"audio/x-wav",
	"audio/webm",
	"audio/ogg",
	"audio/opus",
	"audio/mp4",
	"audio/x-m4a",
	"audio/aac",
	"audio/flac",
	"audio/x-flac",
}

// IsAccepted reports whether mediaType is one of AcceptedTypes.
func IsAccepted(mediaType string) bool {
	mt := normalize(mediaType)
	for _, a := range AcceptedTypes {
		if a == mt {
			return true
		}
	}
	return false
}

// Accept decides whether an uploaded file is audio. A specific declared type
// is trusted as is; an empty or generic one is replaced by the type sniffed
// from head. It returns the effective media type.
func Accept(declared string, head []byte) (string, bool) {
	mt := normalize(declared)
	if mt != "" && mt != "application/octet-stream" {
		return mt, IsAccepted(mt)
	}

	detected := mimetype.Detect(head)
	for m := detected; m != nil; m = m.Parent() {
		if IsAccepted(m.String()) {
			return normalize(m.String()), true
		}
	}
	return normalize(detected.String()), false
}

// Extension returns the usual file extension for mediaType, or ".bin".
func Extension(mediaType string) string {
	if m := mimetype.Lookup(normalize(mediaType)); m != nil && m.Extension() != "" {
		return m.Extension()
	}
	return ".bin"
}

func normalize(mediaType string) string {
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(mediaType))
	}
	return mt
}
