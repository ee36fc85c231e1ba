// internal/services/orchestrator_service.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/Corphon/BookForge/internal/observability"
	"github.com/Corphon/BookForge/internal/utils"
	"github.com/Corphon/BookForge/internal/wizard"
)

// OrchestratorService 通过 LLM 完成向导的每一步；离线模式下交给 offline 编排器
type OrchestratorService struct {
	llm     *LLMService
	offline wizard.Orchestrator
	timeout time.Duration
	logger  *utils.Logger
}

// NewOrchestratorService 创建 LLM 编排服务
func NewOrchestratorService(llmService *LLMService, offline wizard.Orchestrator, timeout time.Duration) *OrchestratorService {
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &OrchestratorService{
		llm:     llmService,
		offline: offline,
		timeout: timeout,
		logger:  utils.GetLogger().Named("orchestrator"),
	}
}

// ProcessStep 实现 wizard.Orchestrator；任何失败都转成 Success=false
func (o *OrchestratorService) ProcessStep(ctx context.Context, req wizard.StepRequest) wizard.StepResult {
	if o.offline != nil && o.llm.Offline() {
		return o.offline.ProcessStep(ctx, req)
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	ctx, span := observability.StartSpan(ctx, "wizard.process_step",
		observability.AttrStepID.String(req.StepID),
		observability.AttrMode.String(string(req.Mode)),
		observability.AttrChapter.Int(req.ChapterNumber),
		observability.AttrProvider.String(o.llm.Status().Provider),
	)

	raw, err := o.llm.CompleteJSON(ctx, buildCompletionRequest(req))
	observability.EndSpanWithError(span, err)
	if err != nil {
		o.logger.Warn("step completion failed", map[string]interface{}{
			"step": req.StepID, "mode": req.Mode, "error": err.Error(),
		})
		return wizard.StepResult{Success: false, Error: fmt.Sprintf("the writing assistant is unavailable (%v)", err)}
	}
	return wizard.StepResult{Success: true, Data: raw}
}
