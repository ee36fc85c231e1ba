// internal/api/router.go
package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/BookForge/internal/config"
	"github.com/Corphon/BookForge/internal/di"
	"github.com/Corphon/BookForge/internal/services"
	"github.com/Corphon/BookForge/internal/utils"
)

// RouterOptions 路由参数
type RouterOptions struct {
	DebugMode     bool
	MessageLimit  int
	MessageWindow time.Duration
	Limiter       *RateLimiter
}

// SetupRouter 从依赖注入容器获取服务并配置HTTP路由
func SetupRouter() (*gin.Engine, error) {
	cfg := config.GetCurrentConfig()
	container := di.GetContainer()

	wizardService, ok := container.Get("wizard").(*services.WizardService)
	if !ok {
		return nil, fmt.Errorf("wizard service is not initialized")
	}
	exportService, ok := container.Get("export").(*services.ExportService)
	if !ok {
		return nil, fmt.Errorf("export service is not initialized")
	}
	llmService, ok := container.Get("llm").(*services.LLMService)
	if !ok {
		return nil, fmt.Errorf("llm service is not initialized")
	}
	configService, ok := container.Get("config").(*services.ConfigService)
	if !ok {
		return nil, fmt.Errorf("config service is not initialized")
	}
	metrics, ok := container.Get("metrics").(*utils.WizardMetrics)
	if !ok {
		return nil, fmt.Errorf("metrics are not initialized")
	}

	wsManager := NewWebSocketManager()
	wizardService.SetBroadcaster(wsManager)
	container.Register("websocket", wsManager)

	handler := NewHandler(wizardService, exportService, llmService, configService, metrics, wsManager)
	return NewRouter(handler, RouterOptions{DebugMode: cfg.DebugMode}), nil
}

// NewRouter 注册所有路由
func NewRouter(h *Handler, opts RouterOptions) *gin.Engine {
	if opts.MessageLimit <= 0 {
		opts.MessageLimit = 30
	}
	if opts.MessageWindow <= 0 {
		opts.MessageWindow = time.Minute
	}
	if opts.Limiter == nil {
		opts.Limiter = NewRateLimiter()
	}

	var r *gin.Engine
	if opts.DebugMode {
		r = gin.Default()
	} else {
		gin.SetMode(gin.ReleaseMode)
		r = gin.New()
		r.Use(gin.Recovery())
	}
	r.Use(requestIDMiddleware(), corsMiddleware(), metricsMiddleware(h.Metrics))

	r.GET("/health", h.HealthCheck)

	apiGroup := r.Group("/api")
	{
		projects := apiGroup.Group("/projects")
		{
			projects.POST("", h.CreateProject)
			projects.GET("/:id", h.GetProject)
			projects.DELETE("/:id", h.DeleteProject)
			projects.POST("/:id/messages", MessageRateLimit(opts.Limiter, opts.MessageLimit, opts.MessageWindow), h.SendMessage)
			projects.GET("/:id/progress", h.GetProgress)
			projects.GET("/:id/progress/stream", h.StreamProgress)
			projects.PUT("/:id/autopilot", h.SetAutoPilot)
			projects.GET("/:id/export", h.ExportProject)
		}

		apiGroup.GET("/workflow/tracks", h.ListTracks)

		llmGroup := apiGroup.Group("/llm")
		{
			llmGroup.GET("/status", h.GetLLMStatus)
			llmGroup.PUT("/config", h.UpdateLLMConfig)
		}

		apiGroup.GET("/metrics", h.GetMetrics)
	}

	r.GET("/ws/projects/:id", h.ProjectWebSocket)

	return r
}
