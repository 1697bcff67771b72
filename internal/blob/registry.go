// Package blob keeps process-local playback handles for audio held in memory.
// A handle is a URL under the registry base path; it stays resolvable until it
// is revoked and is never persisted.
package blob

import (
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultBasePath is the URL prefix of handles when none is configured.
const DefaultBasePath = "/audio"

// Blob is the audio behind a handle.
type Blob struct {
	Data      []byte
	MimeType  string
	CreatedAt time.Time
}

// Registry maps handles to in-memory audio. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	basePath string
	blobs    map[string]Blob
	onChange func(live int)
}

// Option configures a Registry.
type Option func(*Registry)

// WithBasePath sets the URL prefix of created handles.
func WithBasePath(p string) Option {
	return func(r *Registry) {
		r.basePath = strings.TrimSuffix(p, "/")
	}
}

// WithObserver registers fn to be called with the live handle count after
// every change.
func WithObserver(fn func(live int)) Option {
	return func(r *Registry) {
		r.onChange = fn
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		basePath: DefaultBasePath,
		blobs:    make(map[string]Blob),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create registers data and returns its handle URL.
// The registry keeps a reference to data; callers must not modify it afterwards.
func (r *Registry) Create(data []byte, mimeType string) string {
	id := uuid.NewString()

	r.mu.Lock()
	r.blobs[id] = Blob{Data: data, MimeType: mimeType, CreatedAt: time.Now()}
	live := len(r.blobs)
	r.mu.Unlock()

	r.notify(live)
	return r.basePath + "/" + id
}

// Lookup resolves a handle URL or a bare handle id.
func (r *Registry) Lookup(handle string) (Blob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.blobs[r.id(handle)]
	return b, ok
}

// Revoke releases a handle. It reports whether the handle was live.
func (r *Registry) Revoke(handle string) bool {
	if handle == "" {
		return false
	}

	r.mu.Lock()
	id := r.id(handle)
	_, ok := r.blobs[id]
	delete(r.blobs, id)
	live := len(r.blobs)
	r.mu.Unlock()

	if ok {
		r.notify(live)
	}
	return ok
}

// RevokeAll releases every handle and returns how many were live.
func (r *Registry) RevokeAll() int {
	r.mu.Lock()
	n := len(r.blobs)
	r.blobs = make(map[string]Blob)
	r.mu.Unlock()

	if n > 0 {
		r.notify(0)
	}
	return n
}

// Live returns the number of unrevoked handles.
func (r *Registry) Live() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blobs)
}

func (r *Registry) id(handle string) string {
	if strings.HasPrefix(handle, r.basePath+"/") {
		return path.Base(handle)
	}
	return handle
}

func (r *Registry) notify(live int) {
	if r.onChange != nil {
		r.onChange(live)
	}
}
