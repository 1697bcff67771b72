package speech

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/voicedesk/internal/blob"
	"github.com/maauso/voicedesk/internal/history"
	"github.com/maauso/voicedesk/internal/notify"
	"github.com/maauso/voicedesk/internal/objectstore"
	"github.com/maauso/voicedesk/internal/tts"
)

type synthFunc func(ctx context.Context, req tts.Request) (*tts.Audio, error)

func (f synthFunc) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	return f(ctx, req)
}

func echoSynth(calls *atomic.Int32) tts.Synthesizer {
	return synthFunc(func(_ context.Context, req tts.Request) (*tts.Audio, error) {
		if calls != nil {
			calls.Add(1)
		}
		return &tts.Audio{Data: []byte("audio:" + req.Text), MimeType: "audio/mpeg"}, nil
	})
}

// flakyHistory fails the operations it is told to.
type flakyHistory struct {
	*history.Repository[history.TTSHistoryItem]
	mu        sync.Mutex
	putErr    error
	deleteErr error
	clearErr  error
}

func (f *flakyHistory) Put(ctx context.Context, item history.TTSHistoryItem) error {
	f.mu.Lock()
	err := f.putErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Repository.Put(ctx, item)
}

func (f *flakyHistory) Delete(ctx context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.Repository.Delete(ctx, id)
}

func (f *flakyHistory) Clear(ctx context.Context) error {
	if f.clearErr != nil {
		return f.clearErr
	}
	return f.Repository.Clear(ctx)
}

func (f *flakyHistory) failPuts(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putErr = err
}

type fixture struct {
	m        *Manager
	db       objectstore.DB
	store    *flakyHistory
	registry *blob.Registry
	notes    *notify.Memory
}

func newFixture(t *testing.T, synth tts.Synthesizer) *fixture {
	t.Helper()
	db := objectstore.NewMemory(history.Schema("test"))
	f := &fixture{
		db:       db,
		store:    &flakyHistory{Repository: history.NewTTSHistory(db, nil)},
		registry: blob.NewRegistry(),
		notes:    notify.NewMemory(),
	}
	f.m = NewManager(synth, f.store, history.NewSettingsRepository(db, nil), f.registry, WithNotifier(f.notes))
	t.Cleanup(func() { _ = f.m.Close() })
	return f
}

func (f *fixture) stored(t *testing.T) []history.TTSHistoryItem {
	t.Helper()
	items, err := f.store.Repository.List(context.Background())
	require.NoError(t, err)
	return items
}

func TestManager_GenerateRejectsBlankText(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, echoSynth(&calls))

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := f.m.Generate(context.Background(), tts.Request{Text: text})
		assert.ErrorIs(t, err, ErrEmptyInput)
	}
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, []string{CodeEmptyInput, CodeEmptyInput, CodeEmptyInput}, f.notes.Codes())
}

func TestManager_GeneratePersistsAndSetsCurrent(t *testing.T) {
	f := newFixture(t, echoSynth(nil))

	res, err := f.m.Generate(context.Background(), tts.Request{
		Text: "hello", Language: "es-ES", Speed: 1.25,
	})
	require.NoError(t, err)

	assert.True(t, res.Saved)
	assert.Equal(t, res.AudioURL, f.m.Current())
	assert.Equal(t, "hello", res.Item.Text)
	assert.Equal(t, "es-ES", res.Item.Language)
	assert.Equal(t, 1.25, res.Item.Speed)

	b, ok := f.registry.Lookup(res.AudioURL)
	require.True(t, ok)
	assert.Equal(t, []byte("audio:hello"), b.Data)

	require.Len(t, f.m.History(), 1)
	stored := f.stored(t)
	require.Len(t, stored, 1)
	assert.Equal(t, res.Item.ID, stored[0].ID)
	assert.Empty(t, stored[0].AudioURL)
	assert.False(t, f.m.Loading())
	assert.Equal(t, []string{CodeGenerated}, f.notes.Codes())
}

func TestManager_GenerateNetworkFailure(t *testing.T) {
	f := newFixture(t, synthFunc(func(context.Context, tts.Request) (*tts.Audio, error) {
		return nil, fmt.Errorf("%w: connection refused", tts.ErrNetwork)
	}))

	_, err := f.m.Generate(context.Background(), tts.Request{Text: "hi"})
	assert.ErrorIs(t, err, tts.ErrNetwork)
	assert.Empty(t, f.m.History())
	assert.Equal(t, "", f.m.Current())
	assert.Equal(t, 0, f.registry.Live())
	assert.Equal(t, []string{CodeFailed}, f.notes.Codes())
}

func TestManager_GeneratePersistFailureIsPartialSuccess(t *testing.T) {
	f := newFixture(t, echoSynth(nil))
	ctx := context.Background()

	_, err := f.m.Generate(ctx, tts.Request{Text: "saved"})
	require.NoError(t, err)
	before := len(f.m.History())

	f.store.failPuts(fmt.Errorf("%w: quota", history.ErrPersistence))
	res, err := f.m.Generate(ctx, tts.Request{Text: "unsaved"})
	require.NoError(t, err)

	assert.False(t, res.Saved)
	_, playable := f.registry.Lookup(res.AudioURL)
	assert.True(t, playable)
	assert.Equal(t, res.AudioURL, f.m.Current())
	assert.Len(t, f.m.History(), before)
	assert.Len(t, f.stored(t), 1)
	assert.Equal(t, []string{CodeGenerated, CodeNotSaved}, f.notes.Codes())
}

func TestManager_UnsavedAudioIsRevokedWhenReplaced(t *testing.T) {
	f := newFixture(t, echoSynth(nil))
	ctx := context.Background()

	f.store.failPuts(errors.New("down"))
	first, err := f.m.Generate(ctx, tts.Request{Text: "one"})
	require.NoError(t, err)

	f.store.failPuts(nil)
	second, err := f.m.Generate(ctx, tts.Request{Text: "two"})
	require.NoError(t, err)

	_, ok := f.registry.Lookup(first.AudioURL)
	assert.False(t, ok)
	assert.Equal(t, second.AudioURL, f.m.Current())
	assert.Equal(t, 1, f.registry.Live())
}

func TestManager_ConcurrentGenerateRunsIndependently(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	f := newFixture(t, synthFunc(func(_ context.Context, req tts.Request) (*tts.Audio, error) {
		calls.Add(1)
		<-release
		return &tts.Audio{Data: []byte(req.Text), MimeType: "audio/mpeg"}, nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.m.Generate(context.Background(), tts.Request{Text: "same"})
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)
	assert.True(t, f.m.Loading())
	close(release)
	wg.Wait()

	assert.False(t, f.m.Loading())
	assert.Len(t, f.m.History(), 2)
}

func TestManager_LoadOrdersHistory(t *testing.T) {
	f := newFixture(t, echoSynth(nil))
	ctx := context.Background()
	for i, ts := range []int64{5, 50, 20, 1} {
		require.NoError(t, f.store.Repository.Put(ctx, history.TTSHistoryItem{
			ID: fmt.Sprintf("t%d", i), AudioBinary: []byte("x"), Timestamp: ts,
		}))
	}

	require.NoError(t, f.m.Load(ctx))
	items := f.m.History()
	require.Len(t, items, 4)
	for i := 1; i < len(items); i++ {
		assert.Greater(t, items[i-1].Timestamp, items[i].Timestamp)
	}
	assert.Equal(t, 4, f.registry.Live())
}

func TestManager_LoadFailureDegradesToEmpty(t *testing.T) {
	db := objectstore.NewMemory(objectstore.Config{Name: "other", Version: 1, Stores: []objectstore.StoreSpec{{Name: "x"}}})
	f := newFixture(t, echoSynth(nil))
	f.m.store = history.NewTTSHistory(db, nil)

	err := f.m.Load(context.Background())
	assert.ErrorIs(t, err, objectstore.ErrUnknownStore)
	assert.Empty(t, f.m.History())
	assert.Equal(t, []string{CodeLoadFailed}, f.notes.Codes())
}

func TestManager_DeleteHistoryItemRevokesHandle(t *testing.T) {
	f := newFixture(t, echoSynth(nil))
	ctx := context.Background()

	var results []Result
	for _, text := range []string{"a", "b", "c"} {
		res, err := f.m.Generate(ctx, tts.Request{Text: text})
		require.NoError(t, err)
		results = append(results, res)
	}
	before := f.registry.Live()

	require.NoError(t, f.m.DeleteHistoryItem(ctx, results[2].Item.ID))

	assert.Equal(t, before-1, f.registry.Live())
	assert.Equal(t, "", f.m.Current(), "current pointed at the deleted item")
	assert.Len(t, f.m.History(), 2)
	assert.Len(t, f.stored(t), 2)
}

func TestManager_DeleteFailureKeepsItem(t *testing.T) {
	f := newFixture(t, echoSynth(nil))
	ctx := context.Background()
	res, err := f.m.Generate(ctx, tts.Request{Text: "a"})
	require.NoError(t, err)
	f.store.deleteErr = fmt.Errorf("%w: locked", history.ErrPersistence)

	err = f.m.DeleteHistoryItem(ctx, res.Item.ID)
	assert.ErrorIs(t, err, history.ErrPersistence)

	item, ok := f.m.Get(res.Item.ID)
	require.True(t, ok)
	_, live := f.registry.Lookup(item.AudioURL)
	assert.True(t, live)
	assert.Equal(t, 1, f.registry.Live())
}

func TestManager_ClearAllHistory(t *testing.T) {
	f := newFixture(t, echoSynth(nil))
	ctx := context.Background()

	for _, text := range []string{"a", "b", "c"} {
		_, err := f.m.Generate(ctx, tts.Request{Text: text})
		require.NoError(t, err)
	}
	f.store.failPuts(errors.New("down"))
	unsaved, err := f.m.Generate(ctx, tts.Request{Text: "d"})
	require.NoError(t, err)

	before := f.registry.Live()
	removed := len(f.m.History())

	require.NoError(t, f.m.ClearAllHistory(ctx))

	assert.Equal(t, before-removed, f.registry.Live())
	assert.Empty(t, f.m.History())
	assert.Empty(t, f.stored(t))
	assert.Equal(t, unsaved.AudioURL, f.m.Current())
}

func TestManager_ClearFailureRestoresHandles(t *testing.T) {
	f := newFixture(t, echoSynth(nil))
	ctx := context.Background()
	_, err := f.m.Generate(ctx, tts.Request{Text: "a"})
	require.NoError(t, err)
	f.store.clearErr = errors.New("locked")

	assert.Error(t, f.m.ClearAllHistory(ctx))
	require.Len(t, f.m.History(), 1)
	_, live := f.registry.Lookup(f.m.History()[0].AudioURL)
	assert.True(t, live)
	assert.Contains(t, f.notes.Codes(), CodeClearFailed)
}

func TestManager_SettingsSingleton(t *testing.T) {
	f := newFixture(t, echoSynth(nil))
	ctx := context.Background()

	s, err := f.m.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, history.DefaultSettings(), s)

	var last history.Settings
	for i := 0; i < 5; i++ {
		last = history.Settings{
			Language: "fr-FR",
			Speed:    0.5 + float64(i)*0.25,
			Text:     fmt.Sprintf("draft %d", i),
		}
		require.NoError(t, f.m.SaveSettings(ctx, last))
	}

	raw, err := f.db.GetAll(ctx, history.StoreSettings, "")
	require.NoError(t, err)
	assert.Len(t, raw, 1)

	got, err := f.m.LoadSettings(ctx)
	require.NoError(t, err)
	last.ID = history.SettingsKey
	assert.Equal(t, last, got)
}

type brokenSettings struct{}

func (brokenSettings) Load(context.Context) (history.Settings, error) {
	return history.Settings{}, objectstore.ErrStoreUnavailable
}

func (brokenSettings) Save(context.Context, history.Settings) error {
	return objectstore.ErrStoreUnavailable
}

func TestManager_GenerateWithUnreadableSettingsNotifiesOnce(t *testing.T) {
	f := newFixture(t, synthFunc(func(context.Context, tts.Request) (*tts.Audio, error) {
		return nil, fmt.Errorf("%w: 503", tts.ErrNetwork)
	}))
	f.m.settings = brokenSettings{}
	ctx := context.Background()

	defaults := f.m.Settings(ctx)
	assert.Equal(t, history.DefaultSettings(), defaults)
	assert.Empty(t, f.notes.Codes())

	_, err := f.m.Generate(ctx, tts.Request{Text: "hi", Language: defaults.Language, Speed: defaults.Speed})
	require.Error(t, err)
	assert.Len(t, f.notes.Codes(), 1)

	// The explicit load still reports its own failure.
	f.notes.Reset()
	_, err = f.m.LoadSettings(ctx)
	assert.ErrorIs(t, err, objectstore.ErrStoreUnavailable)
	assert.Equal(t, []string{CodeSettingsUnloaded}, f.notes.Codes())
}

func TestManager_SaveInvalidSettings(t *testing.T) {
	f := newFixture(t, echoSynth(nil))

	err := f.m.SaveSettings(context.Background(), history.Settings{Language: "xx-XX", Speed: 1})
	assert.ErrorIs(t, err, history.ErrInvalidSettings)
	assert.Equal(t, []string{CodeSettingsInvalid}, f.notes.Codes())
}

func TestManager_CloseRevokesEveryHandle(t *testing.T) {
	f := newFixture(t, echoSynth(nil))
	ctx := context.Background()

	_, err := f.m.Generate(ctx, tts.Request{Text: "a"})
	require.NoError(t, err)
	f.store.failPuts(errors.New("down"))
	_, err = f.m.Generate(ctx, tts.Request{Text: "b"})
	require.NoError(t, err)
	require.Equal(t, 2, f.registry.Live())

	require.NoError(t, f.m.Close())
	assert.Equal(t, 0, f.registry.Live())
	assert.Equal(t, "", f.m.Current())

	_, err = f.m.Generate(ctx, tts.Request{Text: "c"})
	assert.ErrorIs(t, err, ErrClosed)
}
