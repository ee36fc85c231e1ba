// internal/services/llm_service.go
package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	gocache "github.com/patrickmn/go-cache"

	"github.com/Corphon/BookForge/internal/config"
	"github.com/Corphon/BookForge/internal/llm"
	"github.com/Corphon/BookForge/internal/utils"
)

const (
	llmCacheTTL     = 30 * time.Minute
	llmCacheCleanup = 10 * time.Minute
)

// LLMService 包装当前提供者，负责缓存、JSON 清洗和指标
type LLMService struct {
	registry      *llm.Registry
	provider      llm.Provider
	providerName  string
	defaultModel  string
	isReady       bool
	readyState    string
	providerMutex sync.RWMutex

	cache   *gocache.Cache
	metrics *utils.WizardMetrics
	logger  *utils.Logger
}

// LLMStatus /api/llm/status 的返回内容
type LLMStatus struct {
	Ready     bool     `json:"ready"`
	State     string   `json:"state"`
	Provider  string   `json:"provider"`
	Model     string   `json:"model"`
	Models    []string `json:"models"`
	Providers []string `json:"providers"`
}

// NewLLMService 根据当前配置创建服务；配置不完整时返回未就绪的服务而不是错误
func NewLLMService(registry *llm.Registry, metrics *utils.WizardMetrics) *LLMService {
	if registry == nil {
		registry = llm.DefaultRegistry
	}
	service := &LLMService{
		registry:   registry,
		readyState: "Uninitialized",
		cache:      gocache.New(llmCacheTTL, llmCacheCleanup),
		metrics:    metrics,
		logger:     utils.GetLogger().Named("llm"),
	}

	cfg := config.GetCurrentConfig()
	service.providerName = cfg.LLMProvider
	switch {
	case cfg.LLMProvider == "" || cfg.LLMProvider == OfflineProviderName:
		service.readyState = "Offline mode: scripted orchestrator in use"
		return service
	case cfg.LLMConfig == nil || cfg.LLMConfig["api_key"] == "":
		service.readyState = "API key not configured"
		return service
	}

	if err := service.UpdateProvider(cfg.LLMProvider, cfg.LLMConfig); err != nil {
		service.logger.Warn("LLM provider initialization failed", map[string]interface{}{
			"provider": cfg.LLMProvider, "error": err.Error(),
		})
	}
	return service
}

// IsReady 提供者是否可用
func (s *LLMService) IsReady() bool {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.isReady && s.provider != nil
}

// Offline 是否处于离线脚本模式
func (s *LLMService) Offline() bool {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.provider == nil && (s.providerName == "" || s.providerName == OfflineProviderName)
}

// Status 当前提供者状态
func (s *LLMService) Status() LLMStatus {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()

	status := LLMStatus{
		Ready:     s.isReady && s.provider != nil,
		State:     s.readyState,
		Provider:  s.providerName,
		Model:     s.defaultModel,
		Models:    []string{},
		Providers: s.registry.ListProviders(),
	}
	if s.provider != nil {
		status.Models = s.provider.GetSupportedModels()
	}
	return status
}

// UpdateProvider 切换提供者并清空缓存
func (s *LLMService) UpdateProvider(providerName string, cfg map[string]string) error {
	provider, err := s.registry.GetProvider(providerName, cfg)
	if err != nil {
		s.providerMutex.Lock()
		s.isReady = false
		s.readyState = fmt.Sprintf("Configuration failed: %v", err)
		s.providerMutex.Unlock()
		return err
	}

	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()

	s.provider = provider
	s.providerName = providerName
	s.defaultModel = cfg["default_model"]
	s.isReady = true
	s.readyState = "Ready"
	s.cache.Flush()

	s.logger.Info("🤖 LLM provider ready", map[string]interface{}{
		"provider": providerName, "model": s.defaultModel,
	})
	return nil
}

// RefreshModels 从提供者拉取模型列表
func (s *LLMService) RefreshModels(ctx context.Context) error {
	s.providerMutex.RLock()
	provider := s.provider
	s.providerMutex.RUnlock()
	if provider == nil {
		return fmt.Errorf("LLM service not ready")
	}
	return provider.FetchAvailableModels(ctx)
}

func (s *LLMService) activeProvider() (llm.Provider, string, string, error) {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	if !s.isReady || s.provider == nil {
		return nil, "", "", fmt.Errorf("LLM service not ready: %s", s.readyState)
	}
	return s.provider, s.providerName, s.defaultModel, nil
}

// cacheKey 对请求内容做哈希
func cacheKey(providerName string, req llm.CompletionRequest) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s", providerName, req.Model, req.SystemPrompt, req.Prompt)
	for _, m := range req.History {
		fmt.Fprintf(h, "\x00%s:%s", m.Role, m.Content)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CompleteJSON 请求 JSON 输出，清洗后返回原始 JSON
func (s *LLMService) CompleteJSON(ctx context.Context, req llm.CompletionRequest) (json.RawMessage, error) {
	provider, providerName, model, err := s.activeProvider()
	if err != nil {
		return nil, err
	}
	if req.Model == "" {
		req.Model = model
	}
	req.JSONMode = true
	if req.SystemPrompt != "" {
		req.SystemPrompt += "\n\n"
	}
	req.SystemPrompt += "Return your response in valid JSON format, following the provided output schema, without adding explanations or preambles."

	key := cacheKey(providerName, req)
	if cached, found := s.cache.Get(key); found {
		s.logger.Debug("LLM cache hit", map[string]interface{}{"key": key[:8]})
		return cached.(json.RawMessage), nil
	}

	start := time.Now()
	resp, err := provider.CompleteText(ctx, req)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordLLMRequest(providerName, resp.ModelName, resp.TokensUsed, time.Since(start))
	}

	text := cleanJSONString(resp.Text)
	if !json.Valid([]byte(text)) {
		return nil, fmt.Errorf("model returned invalid JSON: %s", truncate(text, 200))
	}
	raw := json.RawMessage(text)
	s.cache.Set(key, raw, gocache.DefaultExpiration)
	return raw, nil
}

// CreateStructuredCompletion 请求 JSON 并解码到 outputSchema
func (s *LLMService) CreateStructuredCompletion(ctx context.Context, prompt, systemPrompt string, outputSchema interface{}) error {
	raw, err := s.CompleteJSON(ctx, llm.CompletionRequest{
		Prompt:       prompt,
		SystemPrompt: systemPrompt,
		Temperature:  0.3,
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, outputSchema); err != nil {
		return fmt.Errorf("failed to parse AI response into structured data: %w", err)
	}
	return nil
}

// GenerateImages 调用支持图片生成的提供者
func (s *LLMService) GenerateImages(ctx context.Context, req llm.ImageRequest) ([]string, error) {
	provider, providerName, _, err := s.activeProvider()
	if err != nil {
		return nil, err
	}
	images, ok := provider.(llm.ImageProvider)
	if !ok {
		return nil, fmt.Errorf("%s: %w", providerName, llm.ErrNoImageSupport)
	}
	return images.GenerateImages(ctx, req)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// 清理JSON字符串时替换的噪声
var jsonNoiseReplacer = strings.NewReplacer(
	"```json", "",
	"```", "",
	"\ufeff", "",
	"\u00a0", " ",
	"\u2028", "\n",
	"\u2029", "\n",
)

// 字符串外出现的全角结构符号
var structuralPunctuation = map[rune]rune{
	'：': ':', '，': ',', '；': ';',
	'【': '[', '】': ']', '［': '[', '］': ']',
	'｛': '{', '｝': '}',
}

// 弯引号统一成直引号
var curlyQuotes = map[rune]bool{'“': true, '”': true, '„': true, '「': true, '」': true}

// normalizeJSONStructure 只在字符串外替换结构符号
func normalizeJSONStructure(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false

	for _, r := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"' || curlyQuotes[r]:
				inString = false
				r = '"'
			}
			b.WriteRune(r)
			continue
		}

		if replacement, ok := structuralPunctuation[r]; ok {
			r = replacement
		} else if r == '"' || curlyQuotes[r] {
			inString = true
			r = '"'
		} else if r > unicode.MaxASCII && !unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// cleanJSONString 去掉 Markdown 围栏、控制字符和 JSON 前后的说明文字
func cleanJSONString(s string) string {
	s = strings.TrimSpace(jsonNoiseReplacer.Replace(s))
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\u2060':
			return -1
		}
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	start := strings.IndexAny(s, "[{")
	if start == -1 {
		return s
	}
	s = normalizeJSONStructure(strings.TrimSpace(s[start:]))

	open, closing := byte('{'), byte('}')
	if s[0] == '[' {
		open, closing = '[', ']'
	}

	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == closing:
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[:i+1])
			}
		}
	}

	if end := strings.LastIndexByte(s, closing); end >= 0 {
		return strings.TrimSpace(s[:end+1])
	}
	return s
}
