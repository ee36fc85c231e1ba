// internal/wizard/engine.go
package wizard

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Corphon/BookForge/internal/errors"
	"github.com/Corphon/BookForge/internal/models"
	"github.com/Corphon/BookForge/internal/utils"
	"github.com/Corphon/BookForge/internal/workflow"
)

const (
	// AffirmativeReply 没有可选项时使用的通用确认
	AffirmativeReply = "Yes, let's continue"

	phaseTransitionFailure = "Something went wrong transitioning phases. Please send your reply again and I'll pick up where we left off."
)

// Engine 主步骤游标与章节子循环。
// Engine 本身无状态，所有变更都落在传入的 Session 上，调用方负责串行化。
type Engine struct {
	catalog workflow.Catalog
	logger  *utils.Logger
	now     func() time.Time
}

// NewEngine 创建引擎
func NewEngine(catalog workflow.Catalog) *Engine {
	return &Engine{
		catalog: catalog,
		logger:  utils.GetLogger().Named("wizard"),
		now:     time.Now,
	}
}

// Catalog 引擎使用的 track 目录
func (e *Engine) Catalog() workflow.Catalog {
	return e.catalog
}

// NewSession 以默认 track 创建新会话，游标位于格式选择步骤
func (e *Engine) NewSession(id string) *Session {
	track := e.catalog.DefaultTrack()
	now := e.now()
	return &Session{
		ID:             id,
		Track:          track,
		TrackID:        track.ID,
		Sequence:       workflow.Flatten(track),
		CompletedSteps: make(map[string]bool),
		Project:        models.NewProjectState(),
		Transcript:     []models.ChatMessage{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Start 请求第一个步骤（格式选项）
func (e *Engine) Start(s *Session) (NextAction, error) {
	if s.IsLoading {
		return NextAction{}, apperrors.NewConflictError("a request is already in flight", nil)
	}
	if len(s.Transcript) > 0 {
		return NextAction{Kind: ActionNone}, nil
	}
	return e.request(s, NextAction{Kind: ActionRequest, StepID: s.CurrentStep().ID, Mode: ModeStep}), nil
}

// Advance 处理一次用户输入并决定下一步
func (e *Engine) Advance(s *Session, input UserInput) (NextAction, error) {
	if s.IsLoading {
		return NextAction{}, apperrors.NewConflictError("the assistant is still working on the previous step", nil)
	}
	if s.Completed {
		return NextAction{}, apperrors.NewPreconditionError("the book is already complete", nil)
	}

	text := strings.TrimSpace(input.Text)
	if text == "" && input.Action == "" {
		return NextAction{}, apperrors.NewValidationError("message text is required", nil)
	}
	if text == "" {
		text = input.Action
	}
	input.Text = text
	e.appendMessage(s, models.ChatMessage{Role: models.RoleUser, Kind: models.KindText, Text: text, StepID: s.CurrentStep().ID})

	// 上次失败的请求原样重发
	if s.PendingRetry != nil {
		retry := *s.PendingRetry
		s.PendingRetry = nil
		e.logger.Info("retrying failed request", map[string]interface{}{
			"session": s.ID, "step": retry.StepID, "mode": retry.Mode,
		})
		return e.request(s, retry), nil
	}

	step := s.CurrentStep()
	switch {
	case step.Role == workflow.RoleFormatSelection:
		return e.selectTrack(s, step, text)
	case step.Role == workflow.RoleChapterCount:
		return e.defineChapterCount(s, step, text)
	case step.Role == workflow.RoleDraftingEntry && !s.Drafting.Active:
		return e.enterDrafting(s, step, text)
	case s.Drafting.Active:
		return e.advanceDrafting(s, input)
	default:
		return e.advanceMain(s, step, input)
	}
}

// selectTrack 根据格式挑选 track，重建序列，游标移到 1
func (e *Engine) selectTrack(s *Session, step workflow.Step, text string) (NextAction, error) {
	track := e.catalog.TrackForFormat(text)
	s.Track = track
	s.TrackID = track.ID
	s.Sequence = workflow.Flatten(track)

	s.Project.Set(models.KeyFormat, text)
	s.Project.Decide(step.Title, text)
	s.markComplete(s.Sequence[0].ID)

	e.logger.Info("📚 track selected", map[string]interface{}{
		"session": s.ID, "track": track.ID, "steps": len(s.Sequence),
	})
	return e.moveTo(s, 1), nil
}

// defineChapterCount 解析章节数并把占位步骤插入写作阶段
func (e *Engine) defineChapterCount(s *Session, step workflow.Step, text string) (NextAction, error) {
	count := ParseChapterCount(text)
	track, err := workflow.InjectChapterSlots(s.Track, count)
	if err != nil {
		return e.phaseFailure(s, apperrors.NewMissingStepError("drafting phase is missing", err))
	}

	s.Track = track
	s.Sequence = workflow.Flatten(track)
	s.Project.ChapterCount = count
	s.Project.Decide(step.Title, text)
	s.markComplete(step.ID)

	idx := workflow.IndexOf(s.Sequence, step.ID)
	e.logger.Info("chapter slots injected", map[string]interface{}{
		"session": s.ID, "count": count, "steps": len(s.Sequence),
	})
	return e.moveTo(s, idx+1), nil
}

// advanceMain 普通步骤：记录选择，游标前进
func (e *Engine) advanceMain(s *Session, step workflow.Step, input UserInput) (NextAction, error) {
	intent := classify(input, s.lastOptions())

	if intent == workflow.ActionRegenerate && step.Allows(workflow.ActionRegenerate) {
		return e.request(s, NextAction{Kind: ActionRequest, StepID: step.ID, Mode: ModeStep}), nil
	}
	if intent == workflow.ActionRequestChanges && step.Allows(workflow.ActionRequestChanges) {
		return e.request(s, NextAction{Kind: ActionRequest, StepID: step.ID, Mode: ModeStep, Feedback: input.Text}), nil
	}

	value := e.resolveSelection(s, step, input.Text)
	s.Project.Decide(step.Title, value)
	if step.StateKey != "" && step.Kind == workflow.KindOptions {
		if err := s.Project.Set(models.StateKey(step.StateKey), value); err != nil {
			e.logger.Warn("state key not written", map[string]interface{}{
				"step": step.ID, "key": step.StateKey, "error": err.Error(),
			})
		}
	}
	s.markComplete(step.ID)
	return e.moveTo(s, s.Cursor+1), nil
}

// resolveSelection 封面步骤把 "Cover 2" 这样的选项标题换成图片地址
func (e *Engine) resolveSelection(s *Session, step workflow.Step, text string) string {
	if step.Role != workflow.RoleCoverSelection {
		return text
	}
	if strings.HasPrefix(text, "http://") || strings.HasPrefix(text, "https://") || strings.HasPrefix(text, "data:") {
		return text
	}
	last, ok := s.LastAssistantMessage()
	if !ok {
		return text
	}
	trimmed := strings.TrimSpace(text)
	for _, option := range last.Options {
		if option.Description != "" && strings.EqualFold(option.Title, trimmed) {
			return option.Description
		}
	}
	// 没有完全匹配时取最长的包含匹配，"Cover 10" 不会落到 "Cover 1"
	lower := strings.ToLower(text)
	best := -1
	for i, option := range last.Options {
		if option.Description == "" || !strings.Contains(lower, strings.ToLower(option.Title)) {
			continue
		}
		if best < 0 || len(option.Title) > len(last.Options[best].Title) {
			best = i
		}
	}
	if best >= 0 {
		return last.Options[best].Description
	}
	return text
}

// moveTo 把游标移到 idx 并请求该步骤；越过末尾即整书完成
func (e *Engine) moveTo(s *Session, idx int) NextAction {
	if idx >= len(s.Sequence) {
		s.Cursor = len(s.Sequence) - 1
		s.Completed = true
		e.appendMessage(s, models.ChatMessage{
			Role: models.RoleAssistant,
			Kind: models.KindText,
			Text: fmt.Sprintf("🎉 \"%s\" is complete and ready to publish.", bookTitle(s.Project)),
		})
		e.logger.Info("✅ book completed", map[string]interface{}{"session": s.ID})
		return NextAction{Kind: ActionComplete}
	}
	s.Cursor = idx
	return e.request(s, NextAction{Kind: ActionRequest, StepID: s.Sequence[idx].ID, Mode: ModeStep})
}

// request 标记忙碌并返回需要发出的调用
func (e *Engine) request(s *Session, action NextAction) NextAction {
	s.IsLoading = true
	a := action
	s.InFlight = &a
	s.UpdatedAt = e.now()
	return action
}

// phaseFailure 步骤查找失败：提示用户，不移动游标
func (e *Engine) phaseFailure(s *Session, err error) (NextAction, error) {
	e.logger.Error("phase transition failed", map[string]interface{}{
		"session": s.ID, "cursor": s.Cursor, "error": err.Error(),
	})
	e.appendMessage(s, models.ChatMessage{
		Role: models.RoleAssistant,
		Kind: models.KindError,
		Text: phaseTransitionFailure,
	})
	return NextAction{Kind: ActionNone}, err
}

func (e *Engine) appendMessage(s *Session, msg models.ChatMessage) models.ChatMessage {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = e.now()
	}
	s.Transcript = append(s.Transcript, msg)
	s.UpdatedAt = msg.CreatedAt
	return msg
}

// Request 构造发给编排边界的请求；历史和状态均为副本
func (e *Engine) Request(s *Session, action NextAction) StepRequest {
	step, _ := s.stepByID(action.StepID)
	return StepRequest{
		History:       append([]models.ChatMessage(nil), s.Transcript...),
		StepID:        action.StepID,
		Step:          step,
		Mode:          action.Mode,
		ChapterNumber: action.ChapterNumber,
		Feedback:      action.Feedback,
		Unit:          s.Track.Unit,
		Project:       s.Project.Clone(),
	}
}

func bookTitle(p *models.ProjectState) string {
	if p.Title != "" {
		return p.Title
	}
	return "Your book"
}
