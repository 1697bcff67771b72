package blob

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CreateAndLookup(t *testing.T) {
	r := NewRegistry()

	handle := r.Create([]byte("audio"), "audio/ogg")
	assert.True(t, strings.HasPrefix(handle, DefaultBasePath+"/"))
	assert.Equal(t, 1, r.Live())

	b, ok := r.Lookup(handle)
	require.True(t, ok)
	assert.Equal(t, []byte("audio"), b.Data)
	assert.Equal(t, "audio/ogg", b.MimeType)

	// Bare id resolves too.
	_, ok = r.Lookup(strings.TrimPrefix(handle, DefaultBasePath+"/"))
	assert.True(t, ok)
}

func TestRegistry_Revoke(t *testing.T) {
	r := NewRegistry(WithBasePath("/media/"))

	handle := r.Create([]byte("a"), "audio/mpeg")
	assert.True(t, strings.HasPrefix(handle, "/media/"))

	assert.True(t, r.Revoke(handle))
	assert.False(t, r.Revoke(handle), "second revoke reports not live")
	assert.False(t, r.Revoke(""))
	assert.Equal(t, 0, r.Live())

	_, ok := r.Lookup(handle)
	assert.False(t, ok)
}

func TestRegistry_RevokeAll(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 3; i++ {
		r.Create([]byte{byte(i)}, "audio/wav")
	}

	assert.Equal(t, 3, r.RevokeAll())
	assert.Equal(t, 0, r.Live())
}

func TestRegistry_Observer(t *testing.T) {
	var counts []int
	r := NewRegistry(WithObserver(func(live int) { counts = append(counts, live) }))

	h1 := r.Create([]byte("1"), "audio/wav")
	r.Create([]byte("2"), "audio/wav")
	r.Revoke(h1)
	r.Revoke("unknown")
	r.RevokeAll()

	assert.Equal(t, []int{1, 2, 1, 0}, counts)
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := r.Create([]byte("x"), "audio/wav")
			r.Lookup(h)
			r.Revoke(h)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.Live())
}
