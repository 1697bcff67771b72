package tts

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type openAIStub struct {
	mu          sync.Mutex
	speechInput string
	voice       string
	chatCalls   int
	speechCode  int
}

func (s *openAIStub) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.chatCalls++
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4o-mini",`+
			`"choices":[{"index":0,"message":{"role":"assistant","content":"  Hello there!  "},"finish_reason":"stop"}]}`)
	})
	mux.HandleFunc("/v1/audio/speech", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, sonic.Unmarshal(raw, &body))

		s.mu.Lock()
		s.speechInput, _ = body["input"].(string)
		s.voice, _ = body["voice"].(string)
		code := s.speechCode
		s.mu.Unlock()

		if code != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(code)
			_, _ = io.WriteString(w, `{"error":{"message":"quota","type":"insufficient_quota"}}`)
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3mp3data"))
	})
	return mux
}

func newOpenAIStub(t *testing.T) (*openAIStub, *OpenAISynthesizer) {
	t.Helper()
	stub := &openAIStub{}
	server := httptest.NewServer(stub.handler(t))
	t.Cleanup(server.Close)

	s, err := NewOpenAISynthesizer("sk-test", WithOpenAIBaseURL(server.URL+"/v1"), WithDefaultVoice("alloy"))
	require.NoError(t, err)
	return stub, s
}

func TestNewOpenAISynthesizer_RequiresKey(t *testing.T) {
	_, err := NewOpenAISynthesizer("")
	assert.ErrorIs(t, err, ErrAPIKeyRequired)
}

func TestOpenAISynthesizer_Synthesize(t *testing.T) {
	stub, s := newOpenAIStub(t)

	audio, err := s.Synthesize(context.Background(), Request{Text: "hello", Voice: "nova"})
	require.NoError(t, err)

	assert.Equal(t, []byte("ID3mp3data"), audio.Data)
	assert.Equal(t, "audio/mpeg", audio.MimeType)
	assert.Equal(t, "hello", stub.speechInput)
	assert.Equal(t, "nova", stub.voice)
	assert.Equal(t, 0, stub.chatCalls)
}

func TestOpenAISynthesizer_OptimizeRewritesText(t *testing.T) {
	stub, s := newOpenAIStub(t)

	_, err := s.Synthesize(context.Background(), Request{Text: "helo thar", OptimizeWithAI: true})
	require.NoError(t, err)

	assert.Equal(t, 1, stub.chatCalls)
	assert.Equal(t, "Hello there!", stub.speechInput)
	assert.Equal(t, "alloy", stub.voice)
}

func TestOpenAISynthesizer_APIError(t *testing.T) {
	stub, s := newOpenAIStub(t)
	stub.speechCode = http.StatusTooManyRequests

	_, err := s.Synthesize(context.Background(), Request{Text: "hello"})
	assert.ErrorIs(t, err, ErrNetwork)
}
