// internal/llm/providers/openai/openai.go
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Corphon/BookForge/internal/llm"
)

const (
	defaultBaseURL    = "https://api.openai.com/v1"
	defaultModel      = "gpt-4o-mini"
	defaultImageModel = "dall-e-3"
)

// preset 一个 OpenAI 兼容服务商的默认值
type preset struct {
	displayName string
	baseURL     string
	models      []string
	headers     map[string]string
}

// presets 共用同一套 chat/completions 协议的服务商
var presets = map[string]preset{
	"openai": {
		displayName: "OpenAI",
		baseURL:     defaultBaseURL,
		models:      []string{"gpt-4o-mini", "gpt-4o", "gpt-4.1-mini", "gpt-4.1"},
	},
	"openrouter": {
		displayName: "OpenRouter",
		baseURL:     "https://openrouter.ai/api/v1",
		models:      []string{"qwen/qwen3-235b-a22b:free", "mistralai/devstral-2512:free", "nousresearch/hermes-3-llama-3.1-405b:free"},
		headers:     map[string]string{"X-Title": "BookForge"},
	},
	"grok": {
		displayName: "Grok",
		baseURL:     "https://api.x.ai/v1",
		models:      []string{"grok-4", "grok-4-fast", "grok-3", "grok-3-mini"},
	},
	"glm": {
		displayName: "GLM",
		baseURL:     "https://open.bigmodel.cn/api/paas/v4",
		models:      []string{"glm-4.6", "glm-4.5", "glm-4.5-air", "glm-4-plus"},
	},
	"qwen": {
		displayName: "Qwen",
		baseURL:     "https://dashscope.aliyuncs.com/compatible-mode/v1",
		models:      []string{"qwen2.5-max", "qwen2.5-plus", "qwq-32b"},
	},
}

func init() {
	for name, ps := range presets {
		ps := ps
		llm.Register(name, func() llm.Provider { return newFromPreset(ps) })
	}
}

func newFromPreset(ps preset) *Provider {
	headers := make(map[string]string, len(ps.headers))
	for k, v := range ps.headers {
		headers[k] = v
	}
	return &Provider{
		name:              ps.displayName,
		baseURL:           ps.baseURL,
		recommendedModels: append([]string(nil), ps.models...),
		headers:           headers,
	}
}

// Provider 兼容 OpenAI 的 chat/completions 与 images/generations 接口
type Provider struct {
	name              string
	headers           map[string]string
	apiKey            string
	baseURL           string
	client            *http.Client
	defaultModel      string
	imageModel        string
	recommendedModels []string
	availableModels   []string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey, exists := config["api_key"]
	if !exists || apiKey == "" {
		return errors.New("API密钥未提供")
	}

	p.apiKey = apiKey
	p.client = &http.Client{Timeout: 5 * time.Minute}

	p.defaultModel = defaultModel
	if len(p.recommendedModels) > 0 {
		p.defaultModel = p.recommendedModels[0]
	}
	if model := config["default_model"]; model != "" {
		p.defaultModel = model
	}
	p.imageModel = defaultImageModel
	if model := config["image_model"]; model != "" {
		p.imageModel = model
	}
	if p.baseURL == "" {
		p.baseURL = defaultBaseURL
	}
	if baseURL := config["base_url"]; baseURL != "" {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}
	if p.headers == nil {
		p.headers = map[string]string{}
	}
	if referer := config["http_referer"]; referer != "" {
		p.headers["HTTP-Referer"] = referer
	}

	// 如果配置中包含自定义模型列表
	if customModels := config["custom_models"]; customModels != "" {
		var models []string
		if err := json.Unmarshal([]byte(customModels), &models); err == nil && len(models) > 0 {
			p.availableModels = models
		}
	}
	return nil
}

func (p *Provider) GetName() string {
	if p.name == "" {
		return "OpenAI"
	}
	return p.name
}

func (p *Provider) GetSupportedModels() []string {
	if len(p.availableModels) > 0 {
		return p.availableModels
	}
	return p.recommendedModels
}

// FetchAvailableModels 从 /models 获取真实模型列表
func (p *Provider) FetchAvailableModels(ctx context.Context) error {
	if p.apiKey == "" {
		return errors.New("API密钥未设置，无法获取模型列表")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	p.setHeaders(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("获取模型列表失败(%d): %s", resp.StatusCode, string(body))
	}

	var response struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return err
	}

	p.availableModels = make([]string, 0, len(response.Data))
	for _, model := range response.Data {
		p.availableModels = append(p.availableModels, model.ID)
	}
	return nil
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := make([]llm.Message, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, llm.Message{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, req.History...)
	messages = append(messages, llm.Message{Role: "user", Content: req.Prompt})

	requestBody := map[string]interface{}{
		"model":    model,
		"messages": messages,
	}
	if req.Temperature > 0 {
		requestBody["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		requestBody["max_tokens"] = req.MaxTokens
	}
	if req.TopP > 0 {
		requestBody["top_p"] = req.TopP
	}
	if len(req.StopWords) > 0 {
		requestBody["stop"] = req.StopWords
	}
	if req.JSONMode {
		requestBody["response_format"] = map[string]string{"type": "json_object"}
	}
	for k, v := range req.ExtraParams {
		requestBody[k] = v
	}

	var response struct {
		Choices []struct {
			Message struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
		Model string `json:"model"`
	}
	if err := p.postJSON(ctx, "/chat/completions", requestBody, &response); err != nil {
		return nil, err
	}
	if len(response.Choices) == 0 {
		return nil, errors.New("API未返回任何结果")
	}

	modelName := response.Model
	if modelName == "" {
		modelName = model
	}
	return &llm.CompletionResponse{
		Text:         response.Choices[0].Message.Content,
		FinishReason: response.Choices[0].FinishReason,
		TokensUsed:   response.Usage.TotalTokens,
		PromptTokens: response.Usage.PromptTokens,
		OutputTokens: response.Usage.CompletionTokens,
		ModelName:    modelName,
		ProviderName: p.GetName(),
	}, nil
}

// GenerateImages 调用 /images/generations，返回 URL 或 data URI
func (p *Provider) GenerateImages(ctx context.Context, req llm.ImageRequest) ([]string, error) {
	model := req.Model
	if model == "" {
		model = p.imageModel
	}
	count := req.Count
	if count < 1 {
		count = 1
	}
	size := req.Size
	if size == "" {
		size = "1024x1792"
	}

	var response struct {
		Data []struct {
			URL     string `json:"url"`
			B64JSON string `json:"b64_json"`
		} `json:"data"`
	}
	body := map[string]interface{}{
		"model":  model,
		"prompt": req.Prompt,
		"n":      count,
		"size":   size,
	}
	if err := p.postJSON(ctx, "/images/generations", body, &response); err != nil {
		return nil, err
	}

	urls := make([]string, 0, len(response.Data))
	for _, img := range response.Data {
		switch {
		case img.URL != "":
			urls = append(urls, img.URL)
		case img.B64JSON != "":
			urls = append(urls, "data:image/png;base64,"+img.B64JSON)
		}
	}
	if len(urls) == 0 {
		return nil, errors.New("图片接口未返回任何图片")
	}
	return urls, nil
}

func (p *Provider) postJSON(ctx context.Context, path string, body interface{}, out interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	p.setHeaders(httpReq)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return fmt.Errorf("API错误(%d): %s", httpResp.StatusCode, string(respBody))
	}
	return json.NewDecoder(httpResp.Body).Decode(out)
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}
}
