// internal/services/helpers_test.go
package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Corphon/BookForge/internal/llm"
	"github.com/Corphon/BookForge/internal/models"
	"github.com/Corphon/BookForge/internal/utils"
	"github.com/Corphon/BookForge/internal/wizard"
	"github.com/Corphon/BookForge/internal/workflow"
)

func TestMain(m *testing.M) {
	os.Setenv("LLM_PROVIDER", OfflineProviderName)
	utils.GetLogger().SetLogLevel(utils.ERROR)
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)
}

// fakeProvider 记录调用次数并返回预设文本
type fakeProvider struct {
	mu     sync.Mutex
	calls  int
	text   string
	err    error
	last   llm.CompletionRequest
	config map[string]string
}

func (p *fakeProvider) Initialize(config map[string]string) error {
	if config["api_key"] == "" {
		return errors.New("api_key is required")
	}
	p.config = config
	return nil
}

func (p *fakeProvider) GetName() string { return "fake" }
func (p *fakeProvider) GetSupportedModels() []string { return []string{"fake-small", "fake-large"} }
func (p *fakeProvider) FetchAvailableModels(_ context.Context) error { return nil }

func (p *fakeProvider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.last = req
	if p.err != nil {
		return nil, p.err
	}
	return &llm.CompletionResponse{Text: p.text, ModelName: req.Model, TokensUsed: 42}, nil
}

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// fakeImageProvider 额外支持图片生成
type fakeImageProvider struct {
	fakeProvider
	prompts []string
}

func (p *fakeImageProvider) GenerateImages(_ context.Context, req llm.ImageRequest) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, req.Prompt)
	return []string{fmt.Sprintf("https://img.test/%d.png", len(p.prompts))}, nil
}

// readyLLM 使用注册了 provider 的独立注册表创建已就绪的 LLMService
func readyLLM(t *testing.T, provider llm.Provider) *LLMService {
	t.Helper()
	registry := llm.NewRegistry()
	registry.Register("fake", func() llm.Provider { return provider })
	service := NewLLMService(registry, utils.NewWizardMetrics(utils.NewMetricsCollector()))
	require.NoError(t, service.UpdateProvider("fake", map[string]string{"api_key": "sk-test", "default_model": "fake-small"}))
	return service
}

// gatedOrchestrator 在 gate 关闭前阻塞每次调用
type gatedOrchestrator struct {
	inner wizard.Orchestrator
	gate  chan struct{}
}

func (g *gatedOrchestrator) ProcessStep(ctx context.Context, req wizard.StepRequest) wizard.StepResult {
	<-g.gate
	return g.inner.ProcessStep(ctx, req)
}

// flakyOrchestrator 前 failures 次调用失败
type flakyOrchestrator struct {
	mu       sync.Mutex
	inner    wizard.Orchestrator
	failures int
}

func (f *flakyOrchestrator) ProcessStep(ctx context.Context, req wizard.StepRequest) wizard.StepResult {
	f.mu.Lock()
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return wizard.StepResult{Success: false, Error: "upstream timeout"}
	}
	return f.inner.ProcessStep(ctx, req)
}

// recordingBroadcaster 记录推送
type recordingBroadcaster struct {
	mu       sync.Mutex
	messages []map[string]interface{}
}

func (r *recordingBroadcaster) BroadcastToProject(projectID string, message map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
}

func (r *recordingBroadcaster) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

type wizardOptions struct {
	orchestrator wizard.Orchestrator
	delay        time.Duration
	sync         bool
}

func newTestWizard(t *testing.T, opts wizardOptions) *WizardService {
	t.Helper()
	catalog, err := workflow.DefaultCatalog()
	require.NoError(t, err)

	scripted := NewScriptedOrchestrator()
	if opts.orchestrator == nil {
		opts.orchestrator = scripted
	}
	if opts.delay == 0 {
		opts.delay = time.Hour
	}
	cfg := WizardServiceConfig{
		Engine:         wizard.NewEngine(catalog),
		Sessions:       NewSessionService(time.Hour),
		Orchestrator:   opts.orchestrator,
		Covers:         scripted,
		Metrics:        utils.NewWizardMetrics(utils.NewMetricsCollector()),
		AutoPilotDelay: opts.delay,
	}
	if opts.sync {
		cfg.Dispatcher = func(fn func()) { fn() }
	}
	w := NewWizardService(cfg)
	t.Cleanup(w.Close)
	return w
}

func waitIdle(t *testing.T, w *WizardService, id string) *wizard.Session {
	t.Helper()
	var session *wizard.Session
	require.Eventually(t, func() bool {
		s, err := w.GetProject(id)
		if err != nil {
			return false
		}
		session = s
		return !s.IsLoading
	}, 5*time.Second, 5*time.Millisecond)
	return session
}

func lastAssistant(t *testing.T, s *wizard.Session) models.ChatMessage {
	t.Helper()
	msg, ok := s.LastAssistantMessage()
	require.True(t, ok)
	return msg
}
