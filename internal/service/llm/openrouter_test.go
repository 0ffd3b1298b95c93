package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sadhana-metering/internal/apperr"
	"sadhana-metering/internal/config"
	"sadhana-metering/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain collects every chunk and the terminal error, if any.
func drain(ch <-chan StreamChunk) (string, error) {
	var sb strings.Builder
	for c := range ch {
		if c.Err != nil {
			return sb.String(), c.Err
		}
		sb.WriteString(c.Content)
	}
	return sb.String(), nil
}

// sseServer writes each part and flushes between them.
func sseServer(t *testing.T, status int, parts []string, inspect func(*http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inspect != nil {
			inspect(r)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(status)
		for _, p := range parts {
			io.WriteString(w, p)
			w.(http.Flusher).Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func openRouterConfig(baseURL string) *config.LLMConfig {
	return &config.LLMConfig{
		Provider:            config.ProviderOpenRouter,
		OpenRouterAPIKey:    "test-key",
		OpenRouterBaseURL:   baseURL,
		Model:               "test/model",
		MaxTokens:           256,
		DefaultSystemPrompt: "Be kind.",
	}
}

func TestOpenRouterProvider_ChatStream(t *testing.T) {
	var body map[string]any
	srv := sseServer(t, http.StatusOK, []string{
		": OPENROUTER PROCESSING\n\n",
		`data: {"choices":[{"delta":{"content":"The answer"}}]}` + "\n\n",
		`data: {"choices":[{"delta":{"con`,
		`tent":" is X."}}]}` + "\n\n",
		"data: {not json}\n\n",
		`data: {"choices":[{"delta":{"content":" [REF: Gita 2.47]"}}]}` + "\n\n",
		"data: [DONE]\n\n",
	}, func(r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	})

	p := NewOpenRouterProvider(openRouterConfig(srv.URL), srv.Client())
	ch, err := p.ChatStream(context.Background(), StreamRequest{
		Turns:  []api.Turn{{Role: api.RoleUser, Content: "What is X?"}},
		System: "Cite sources.",
	})
	require.NoError(t, err)

	text, err := drain(ch)
	require.NoError(t, err)
	assert.Equal(t, "The answer is X. [REF: Gita 2.47]", text)

	assert.Equal(t, true, body["stream"])
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Be kind.\n\nCite sources.", msgs[0].(map[string]any)["content"])
	assert.Equal(t, "user", msgs[1].(map[string]any)["role"])
}

func TestOpenRouterProvider_Non2xxIsUpstreamError(t *testing.T) {
	srv := sseServer(t, http.StatusServiceUnavailable, []string{`{"error":"overloaded"}`}, nil)

	p := NewOpenRouterProvider(openRouterConfig(srv.URL), srv.Client())
	ch, err := p.ChatStream(context.Background(), StreamRequest{Turns: []api.Turn{{Role: api.RoleUser, Content: "hi"}}})
	assert.Nil(t, ch)
	require.Error(t, err)
	assert.Equal(t, apperr.KindUpstreamUnavailable, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "503")
}

func TestOpenRouterProvider_MidStreamErrorFails(t *testing.T) {
	srv := sseServer(t, http.StatusOK, []string{
		`data: {"choices":[{"delta":{"content":"partial"}}]}` + "\n\n",
		`data: {"error":{"message":"provider disconnected"}}` + "\n\n",
	}, nil)

	p := NewOpenRouterProvider(openRouterConfig(srv.URL), srv.Client())
	ch, err := p.ChatStream(context.Background(), StreamRequest{Turns: []api.Turn{{Role: api.RoleUser, Content: "hi"}}})
	require.NoError(t, err)

	text, err := drain(ch)
	assert.Equal(t, "partial", text)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider disconnected")
}

func TestOpenRouterProvider_TrailingFrameWithoutNewline(t *testing.T) {
	srv := sseServer(t, http.StatusOK, []string{
		`data: {"choices":[{"delta":{"content":"a"}}]}` + "\n\n",
		`data: {"choices":[{"delta":{"content":"b"}}]}`,
	}, nil)

	p := NewOpenRouterProvider(openRouterConfig(srv.URL), srv.Client())
	ch, err := p.ChatStream(context.Background(), StreamRequest{Turns: []api.Turn{{Role: api.RoleUser, Content: "hi"}}})
	require.NoError(t, err)

	text, err := drain(ch)
	require.NoError(t, err)
	assert.Equal(t, "ab", text)
}

func TestOpenRouterProvider_MissingKey(t *testing.T) {
	cfg := openRouterConfig("http://unused")
	cfg.OpenRouterAPIKey = ""

	_, err := NewOpenRouterProvider(cfg, nil).ChatStream(context.Background(), StreamRequest{})
	assert.Equal(t, apperr.KindUpstreamUnavailable, apperr.KindOf(err))
}

func TestExtractOpenRouter(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		want      string
		done      bool
		malformed bool
		fails     bool
	}{
		{name: "delta", data: `{"choices":[{"delta":{"content":"hi"}}]}`, want: "hi"},
		{name: "role only", data: `{"choices":[{"delta":{"role":"assistant"}}]}`},
		{name: "usage only", data: `{"choices":[],"usage":{"total_tokens":10}}`},
		{name: "done", data: "[DONE]", done: true},
		{name: "truncated json", data: `{"choices":[{"delta"`, malformed: true},
		{name: "error", data: `{"error":{"message":"rate limited"}}`, fails: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, done, err := extractOpenRouter(Frame{Data: tt.data})
			assert.Equal(t, tt.want, text)
			assert.Equal(t, tt.done, done)
			switch {
			case tt.malformed:
				assert.ErrorIs(t, err, errMalformedFrame)
			case tt.fails:
				require.Error(t, err)
				assert.NotErrorIs(t, err, errMalformedFrame)
			default:
				assert.NoError(t, err)
			}
		})
	}
}
