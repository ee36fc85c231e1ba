// internal/llm/providers/openai/openai_test.go
package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/BookForge/internal/llm"
)

// fakeAPI 模拟 OpenAI 兼容接口，记录最近一次请求
type fakeAPI struct {
	server  *httptest.Server
	mu      sync.Mutex
	lastReq map[string]interface{}
	headers http.Header
	status  int
	reply   interface{}
}

func (a *fakeAPI) respond(status int, reply interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = status
	a.reply = reply
}

func (a *fakeAPI) last() (map[string]interface{}, http.Header) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastReq, a.headers
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	api := &fakeAPI{status: http.StatusOK}
	api.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		defer api.mu.Unlock()
		api.headers = r.Header.Clone()
		api.lastReq = map[string]interface{}{"path": r.URL.Path}
		if r.Method == http.MethodPost {
			var body map[string]interface{}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			body["path"] = r.URL.Path
			api.lastReq = body
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(api.status)
		_ = json.NewEncoder(w).Encode(api.reply)
	}))
	t.Cleanup(api.server.Close)
	return api
}

func newTestProvider(t *testing.T, preset string, api *fakeAPI, extra map[string]string) *Provider {
	t.Helper()
	cfg := map[string]string{"api_key": "sk-test", "base_url": api.server.URL + "/"}
	for k, v := range extra {
		cfg[k] = v
	}
	p := newFromPreset(presets[preset])
	require.NoError(t, p.Initialize(cfg))
	return p
}

func TestPresetsAreRegistered(t *testing.T) {
	providers := llm.ListProviders()
	for name := range presets {
		assert.Contains(t, providers, name)
	}

	models := llm.DefaultRegistry.SupportedModels("grok")
	assert.Equal(t, presets["grok"].models, models)
}

func TestInitialize(t *testing.T) {
	p := newFromPreset(presets["openai"])
	assert.Error(t, p.Initialize(map[string]string{}))

	require.NoError(t, p.Initialize(map[string]string{"api_key": "k"}))
	assert.Equal(t, "OpenAI", p.GetName())
	assert.Equal(t, "gpt-4o-mini", p.defaultModel)
	assert.Equal(t, defaultImageModel, p.imageModel)
	assert.Equal(t, defaultBaseURL, p.baseURL)

	q := newFromPreset(presets["qwen"])
	require.NoError(t, q.Initialize(map[string]string{
		"api_key":       "k",
		"default_model": "qwq-32b",
		"custom_models": `["a","b"]`,
	}))
	assert.Equal(t, "Qwen", q.GetName())
	assert.Equal(t, "qwq-32b", q.defaultModel)
	assert.Equal(t, []string{"a", "b"}, q.GetSupportedModels())
}

func TestCompleteText(t *testing.T) {
	api := newFakeAPI(t)
	api.respond(http.StatusOK, map[string]interface{}{
		"model": "served-model",
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": `{"ok":true}`}, "finish_reason": "stop"},
		},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
	p := newTestProvider(t, "openrouter", api, map[string]string{"http_referer": "https://bookforge.test"})

	resp, err := p.CompleteText(context.Background(), llm.CompletionRequest{
		SystemPrompt: "be terse",
		History:      []llm.Message{{Role: "assistant", Content: "earlier"}},
		Prompt:       "go",
		Temperature:  0.5,
		JSONMode:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, resp.Text)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 15, resp.TokensUsed)
	assert.Equal(t, "served-model", resp.ModelName)
	assert.Equal(t, "OpenRouter", resp.ProviderName)

	lastReq, headers := api.last()
	assert.Equal(t, "/chat/completions", lastReq["path"])
	assert.Equal(t, presets["openrouter"].models[0], lastReq["model"])
	assert.Equal(t, map[string]interface{}{"type": "json_object"}, lastReq["response_format"])
	assert.InDelta(t, 0.5, lastReq["temperature"], 0.001)
	messages, ok := lastReq["messages"].([]interface{})
	require.True(t, ok)
	require.Len(t, messages, 3)
	assert.Equal(t, "system", messages[0].(map[string]interface{})["role"])
	assert.Equal(t, "earlier", messages[1].(map[string]interface{})["content"])
	assert.Equal(t, "go", messages[2].(map[string]interface{})["content"])

	assert.Equal(t, "Bearer sk-test", headers.Get("Authorization"))
	assert.Equal(t, "BookForge", headers.Get("X-Title"))
	assert.Equal(t, "https://bookforge.test", headers.Get("HTTP-Referer"))
}

func TestCompleteText_Errors(t *testing.T) {
	api := newFakeAPI(t)
	p := newTestProvider(t, "openai", api, nil)

	api.respond(http.StatusTooManyRequests, map[string]string{"error": "slow down"})
	_, err := p.CompleteText(context.Background(), llm.CompletionRequest{Prompt: "go"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "slow down")

	api.respond(http.StatusOK, map[string]interface{}{"choices": []interface{}{}})
	_, err = p.CompleteText(context.Background(), llm.CompletionRequest{Prompt: "go"})
	assert.Error(t, err)
}

func TestGenerateImages(t *testing.T) {
	api := newFakeAPI(t)
	p := newTestProvider(t, "openai", api, map[string]string{"image_model": "gpt-image-1"})

	api.respond(http.StatusOK, map[string]interface{}{"data": []map[string]string{
		{"url": "https://img.test/a.png"},
		{"b64_json": "aGVsbG8="},
		{},
	}})
	urls, err := p.GenerateImages(context.Background(), llm.ImageRequest{Prompt: "a lighthouse"})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://img.test/a.png", "data:image/png;base64,aGVsbG8="}, urls)

	lastReq, _ := api.last()
	assert.Equal(t, "/images/generations", lastReq["path"])
	assert.Equal(t, "gpt-image-1", lastReq["model"])
	assert.Equal(t, "1024x1792", lastReq["size"])
	assert.EqualValues(t, 1, lastReq["n"])

	api.respond(http.StatusOK, map[string]interface{}{"data": []interface{}{}})
	_, err = p.GenerateImages(context.Background(), llm.ImageRequest{Prompt: "x"})
	assert.Error(t, err)
}

func TestFetchAvailableModels(t *testing.T) {
	api := newFakeAPI(t)
	p := newTestProvider(t, "glm", api, nil)
	assert.Equal(t, presets["glm"].models, p.GetSupportedModels())

	api.respond(http.StatusOK, map[string]interface{}{"data": []map[string]string{{"id": "glm-x"}, {"id": "glm-y"}}})
	require.NoError(t, p.FetchAvailableModels(context.Background()))
	lastReq, _ := api.last()
	assert.Equal(t, "/models", lastReq["path"])
	assert.Equal(t, []string{"glm-x", "glm-y"}, p.GetSupportedModels())

	api.respond(http.StatusUnauthorized, map[string]string{"error": "bad key"})
	assert.Error(t, p.FetchAvailableModels(context.Background()))
}

func TestProviderImplementsImageProvider(t *testing.T) {
	var p llm.Provider = newFromPreset(presets["openai"])
	_, ok := p.(llm.ImageProvider)
	assert.True(t, ok)
}
