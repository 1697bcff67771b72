// Package storage exports audio files out of the service. It defines the
// Storage interface (port) and implementations for local disk and S3.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

// ErrInvalidKey is returned when an export key is empty or escapes its root.
var ErrInvalidKey = errors.New("storage: invalid key")

// Storage defines the interface for exported files.
type Storage interface {
	// Save stores data under key and returns where it can be found:
	// a file path for local storage or a URL for object storage.
	Save(ctx context.Context, key, contentType string, data io.Reader) (location string, err error)
}

// cleanKey normalizes a slash-separated key and rejects keys that are empty,
// absolute or climb out of the storage root.
func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", ErrInvalidKey
	}
	k := path.Clean(key)
	if k == "." || k == ".." || strings.HasPrefix(k, "../") {
		return "", ErrInvalidKey
	}
	return k, nil
}
