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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func visionServer(t *testing.T, status int, content string, inspect func(body string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		if inspect != nil {
			inspect(string(raw))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			io.WriteString(w, `{"error":{"message":"upstream overloaded","type":"server_error"}}`)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"model":   "vision-test",
			"choices": []any{map[string]any{"index": 0, "message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIVisionProvider_Identify(t *testing.T) {
	answer := "```json\n" + `{"name":"Ganesha","type":"deity","confidence":0.93,"description":"Elephant-headed remover of obstacles","attributes":["modak","mouse"],"mantras":["Om Gam Ganapataye Namah"]}` + "\n```"

	var requestBody string
	srv := visionServer(t, http.StatusOK, answer, func(body string) { requestBody = body })

	p := NewOpenAIVisionProvider(config.VisionConfig{APIKey: "k", BaseURL: srv.URL + "/", Model: "vision-test"}, srv.Client())
	result, err := p.Identify(context.Background(), []byte{0xff, 0xd8, 0xff}, "image/jpeg")
	require.NoError(t, err)

	assert.Equal(t, "Ganesha", result.Name)
	assert.Equal(t, "deity", result.Type)
	assert.InDelta(t, 0.93, result.Confidence, 1e-9)
	assert.Equal(t, []string{"modak", "mouse"}, result.Attributes)
	assert.Equal(t, []string{}, result.AssociatedWith)

	assert.Contains(t, requestBody, "data:image/jpeg;base64,/9j/")
	assert.Contains(t, requestBody, `"json_object"`)
}

func TestOpenAIVisionProvider_UpstreamError(t *testing.T) {
	srv := visionServer(t, http.StatusServiceUnavailable, "", nil)

	p := NewOpenAIVisionProvider(config.VisionConfig{APIKey: "k", BaseURL: srv.URL, Model: "vision-test"}, srv.Client())
	_, err := p.Identify(context.Background(), []byte("img"), "image/png")
	require.Error(t, err)
	assert.Equal(t, apperr.KindUpstreamUnavailable, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "503")
}

func TestOpenAIVisionProvider_MalformedAnswer(t *testing.T) {
	srv := visionServer(t, http.StatusOK, "I think this is Shiva.", nil)

	p := NewOpenAIVisionProvider(config.VisionConfig{APIKey: "k", BaseURL: srv.URL, Model: "vision-test"}, srv.Client())
	_, err := p.Identify(context.Background(), []byte("img"), "image/png")
	require.Error(t, err)
	assert.Equal(t, apperr.KindUpstreamUnavailable, apperr.KindOf(err))
}

func TestParseIdentifyResult(t *testing.T) {
	result, err := ParseIdentifyResult(`  {"name":"Nandi","type":"symbol","confidence":1.7}  `)
	require.NoError(t, err)
	assert.Equal(t, "Nandi", result.Name)
	assert.Equal(t, 1.0, result.Confidence)
	assert.NotNil(t, result.Mantras)

	result, err = ParseIdentifyResult("```\n{\"type\":\"unknown\",\"confidence\":-0.5}\n```")
	require.NoError(t, err)
	assert.Equal(t, "unknown", result.Type)
	assert.Equal(t, 0.0, result.Confidence)

	_, err = ParseIdentifyResult(strings.Repeat("{", 3))
	assert.Error(t, err)
}
