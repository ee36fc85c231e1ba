// internal/app/app.go
package app

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/Corphon/BookForge/internal/config"
	"github.com/Corphon/BookForge/internal/di"
	"github.com/Corphon/BookForge/internal/llm"
	_ "github.com/Corphon/BookForge/internal/llm/providers/openai"
	"github.com/Corphon/BookForge/internal/services"
	"github.com/Corphon/BookForge/internal/storage"
	"github.com/Corphon/BookForge/internal/utils"
	"github.com/Corphon/BookForge/internal/wizard"
	"github.com/Corphon/BookForge/internal/workflow"
)

// Services 按依赖顺序组装好的服务
type Services struct {
	Config    *config.AppConfig
	Metrics   *utils.WizardMetrics
	LLM       *services.LLMService
	ConfigSvc *services.ConfigService
	Sessions  *services.SessionService
	Progress  *services.ProgressService
	Wizard    *services.WizardService
	Export    *services.ExportService
}

// Options 组装时可替换的部件，测试使用
type Options struct {
	FS         afero.Fs
	Registry   *llm.Registry
	Catalog    *workflow.Catalog
	Dispatcher services.Dispatcher
}

// Build 创建所有服务
func Build(cfg *config.AppConfig, opts Options) (*Services, error) {
	logger := utils.GetLogger().Named("app")

	// 1. 工作流目录
	catalog, err := loadCatalog(cfg, opts.Catalog)
	if err != nil {
		return nil, err
	}
	logger.Info("✅ workflow catalog loaded", map[string]interface{}{"tracks": len(catalog.Tracks)})

	// 2. 指标和 LLM
	metrics := utils.NewWizardMetrics(nil)
	llmService := services.NewLLMService(opts.Registry, metrics)
	configService := services.NewConfigService()
	configService.SubscribeToChanges(llmService)

	// 3. 编排边界
	scripted := services.NewScriptedOrchestrator()
	orchestrator := services.NewOrchestratorService(llmService, scripted, cfg.CallTimeout)
	covers := services.NewCoverService(llmService, scripted, cfg.CallTimeout)

	// 4. 会话和控制器
	sessions := services.NewSessionService(cfg.SessionTTL)
	progress := services.NewProgressService()
	wizardService := services.NewWizardService(services.WizardServiceConfig{
		Engine:         wizard.NewEngine(catalog),
		Sessions:       sessions,
		Locks:          services.NewLockManager(),
		Progress:       progress,
		Orchestrator:   orchestrator,
		Covers:         covers,
		Metrics:        metrics,
		AutoPilotDelay: cfg.AutoPilotDelay,
		Dispatcher:     opts.Dispatcher,
	})

	// 5. 导出
	fs := opts.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}
	exportDir := cfg.ExportDir
	if exportDir == "" {
		exportDir = filepath.Join(cfg.DataDir, "exports")
	}
	store, err := storage.NewFileStorage(fs, exportDir)
	if err != nil {
		return nil, fmt.Errorf("initialize export storage: %w", err)
	}
	exportService := services.NewExportService(wizardService, store)

	return &Services{
		Config:    cfg,
		Metrics:   metrics,
		LLM:       llmService,
		ConfigSvc: configService,
		Sessions:  sessions,
		Progress:  progress,
		Wizard:    wizardService,
		Export:    exportService,
	}, nil
}

func loadCatalog(cfg *config.AppConfig, override *workflow.Catalog) (workflow.Catalog, error) {
	if override != nil {
		return override.Normalized()
	}
	if cfg.WorkflowFile != "" {
		return workflow.LoadCatalogFile(cfg.WorkflowFile)
	}
	return workflow.DefaultCatalog()
}

// Register 把服务放进容器
func (s *Services) Register(container *di.Container) {
	container.Register("metrics", s.Metrics)
	container.Register("llm", s.LLM)
	container.Register("config", s.ConfigSvc)
	container.Register("sessions", s.Sessions)
	container.Register("progress", s.Progress)
	container.Register("wizard", s.Wizard)
	container.Register("export", s.Export)
	container.Register("app", s)
}

// Close 停止自动驾驶并等待后台调用结束
func (s *Services) Close() {
	s.Wizard.Close()
}

// InitServices 根据当前配置初始化全部服务并注册到全局容器
func InitServices() error {
	cfg := config.GetCurrentConfig()

	logger := utils.GetLogger()
	logger.SetLogLevel(utils.ParseLogLevel(cfg.LogLevel))
	if cfg.LogDir != "" {
		if err := utils.InitLogger(filepath.Join(cfg.LogDir, "bookforge.log")); err != nil {
			logger.Warn("⚠️ log file unavailable, console only", map[string]interface{}{"error": err.Error()})
		}
	}

	svc, err := Build(cfg, Options{})
	if err != nil {
		return err
	}
	svc.Register(di.GetContainer())

	logger.Info("✅ services initialized", map[string]interface{}{
		"provider":  cfg.LLMProvider,
		"llm_ready": svc.LLM.IsReady(),
	})
	return nil
}
