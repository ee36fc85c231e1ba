// internal/services/cover_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Corphon/BookForge/internal/llm"
	"github.com/Corphon/BookForge/internal/models"
	"github.com/Corphon/BookForge/internal/observability"
	"github.com/Corphon/BookForge/internal/utils"
	"github.com/Corphon/BookForge/internal/wizard"
)

// maxCoverImages 每次最多渲染的封面数量
const maxCoverImages = 3

// CoverService 用图片模型把封面概念渲染成图片
type CoverService struct {
	llm      *LLMService
	fallback wizard.CoverGenerator
	timeout  time.Duration
	logger   *utils.Logger
}

// NewCoverService 创建封面服务；提供者不支持图片时使用 fallback
func NewCoverService(llmService *LLMService, fallback wizard.CoverGenerator, timeout time.Duration) *CoverService {
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &CoverService{
		llm:      llmService,
		fallback: fallback,
		timeout:  timeout,
		logger:   utils.GetLogger().Named("cover"),
	}
}

// GenerateCoverConcepts 实现 wizard.CoverGenerator
func (c *CoverService) GenerateCoverConcepts(ctx context.Context, project *models.ProjectState) ([]string, error) {
	if project == nil || len(project.CoverOptions) == 0 {
		return nil, fmt.Errorf("no cover concepts to render")
	}
	if !c.llm.IsReady() {
		return c.useFallback(ctx, project, errors.New("LLM service not ready"))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ctx, span := observability.StartSpan(ctx, "wizard.generate_covers")

	concepts := project.CoverOptions
	if len(concepts) > maxCoverImages {
		concepts = concepts[:maxCoverImages]
	}

	var urls []string
	var err error
	for _, concept := range concepts {
		var images []string
		images, err = c.llm.GenerateImages(ctx, llm.ImageRequest{
			Prompt: coverPrompt(project, concept),
			Count:  1,
		})
		if err != nil {
			break
		}
		urls = append(urls, images...)
	}
	observability.EndSpanWithError(span, err)

	if errors.Is(err, llm.ErrNoImageSupport) {
		return c.useFallback(ctx, project, err)
	}
	if err != nil {
		return nil, err
	}
	c.logger.Info("🎨 covers rendered", map[string]interface{}{"count": len(urls)})
	return urls, nil
}

func (c *CoverService) useFallback(ctx context.Context, project *models.ProjectState, cause error) ([]string, error) {
	if c.fallback == nil {
		return nil, cause
	}
	c.logger.Debug("using placeholder covers", map[string]interface{}{"reason": cause.Error()})
	return c.fallback.GenerateCoverConcepts(ctx, project)
}

func coverPrompt(p *models.ProjectState, concept string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A professional book cover for %q", p.Title)
	if p.Genre != "" {
		fmt.Fprintf(&b, ", a %s book", strings.ToLower(p.Genre))
	}
	if p.Vibe != "" {
		fmt.Fprintf(&b, " with a %s mood", strings.ToLower(p.Vibe))
	}
	fmt.Fprintf(&b, ". Concept: %s. Portrait orientation, title typography clearly legible, no extra text.", concept)
	return b.String()
}
