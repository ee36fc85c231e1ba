// internal/wizard/session.go
package wizard

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Corphon/BookForge/internal/models"
	"github.com/Corphon/BookForge/internal/workflow"
)

// Stage 章节写作子状态机的阶段
type Stage string

const (
	StageNone   Stage = ""
	StageIdea   Stage = "idea"
	StageDraft  Stage = "draft"
	StageReview Stage = "review"
)

// ChapterIdea 等待用户确认的章节构思
type ChapterIdea struct {
	Title string `json:"title"`
	Idea  string `json:"idea"`
}

// DraftingState 章节写作子状态
type DraftingState struct {
	Active               bool         `json:"active"`
	CurrentChapterNumber int          `json:"currentChapterNumber"`
	Stage                Stage        `json:"stage"`
	PendingIdea          *ChapterIdea `json:"pendingIdea,omitempty"`
}

// Mode 发给编排边界的请求类型
type Mode string

const (
	ModeStep     Mode = "step"
	ModeIdea     Mode = "idea"
	ModeDraft    Mode = "draft"
	ModeRevise   Mode = "revise"
	ModeAnalysis Mode = "analysis"
)

// ActionKind 推进后调用方需要做的事
type ActionKind string

const (
	ActionRequest  ActionKind = "request"
	ActionComplete ActionKind = "complete"
	ActionNone     ActionKind = "none"
)

// NextAction 引擎推进后的结果
type NextAction struct {
	Kind          ActionKind `json:"kind"`
	StepID        string     `json:"stepId,omitempty"`
	Mode          Mode       `json:"mode,omitempty"`
	ChapterNumber int        `json:"chapterNumber,omitempty"`
	Feedback      string     `json:"feedback,omitempty"`
}

// Same 判断两个请求是否指向同一次调用
func (a NextAction) Same(b NextAction) bool {
	return a.Kind == b.Kind && a.StepID == b.StepID && a.Mode == b.Mode && a.ChapterNumber == b.ChapterNumber
}

// UserInput 用户的一次输入。Action 为空时从文本推断意图
type UserInput struct {
	Text   string `json:"text"`
	Action string `json:"action,omitempty"`
}

// StepRequest 编排边界的输入
type StepRequest struct {
	History       []models.ChatMessage `json:"history"`
	StepID        string               `json:"stepId"`
	Step          workflow.Step        `json:"step"`
	Mode          Mode                 `json:"mode"`
	ChapterNumber int                  `json:"chapterNumber,omitempty"`
	Feedback      string               `json:"feedback,omitempty"`
	Unit          string               `json:"unit"`
	Project       *models.ProjectState `json:"project"`
}

// StepResult 编排边界的输出
type StepResult struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Orchestrator 编排调用边界：给定步骤、历史和状态，返回结构化响应
type Orchestrator interface {
	ProcessStep(ctx context.Context, req StepRequest) StepResult
}

// CoverGenerator 封面图片生成
type CoverGenerator interface {
	GenerateCoverConcepts(ctx context.Context, project *models.ProjectState) ([]string, error)
}

// Session 一本书的完整向导状态，只由 Engine 修改
type Session struct {
	ID             string               `json:"id"`
	Track          workflow.Track       `json:"-"`
	TrackID        string               `json:"trackId"`
	Sequence       []workflow.Step      `json:"sequence"`
	Cursor         int                  `json:"cursor"`
	CompletedSteps map[string]bool      `json:"completedSteps"`
	Drafting       DraftingState        `json:"drafting"`
	Project        *models.ProjectState `json:"project"`
	Transcript     []models.ChatMessage `json:"transcript"`
	IsLoading      bool                 `json:"isLoading"`
	Completed      bool                 `json:"completed"`
	AutoPilot      bool                 `json:"autoPilot"`
	InFlight       *NextAction          `json:"inFlight,omitempty"`
	PendingRetry   *NextAction          `json:"pendingRetry,omitempty"`
	CreatedAt      time.Time            `json:"createdAt"`
	UpdatedAt      time.Time            `json:"updatedAt"`
}

// CurrentStep 游标所在步骤
func (s *Session) CurrentStep() workflow.Step {
	return s.Sequence[s.Cursor]
}

// IsComplete 步骤是否已完成（按 id 记录，序列重建后仍然有效）
func (s *Session) IsComplete(stepID string) bool {
	return s.CompletedSteps[stepID]
}

func (s *Session) markComplete(stepID string) {
	if s.CompletedSteps == nil {
		s.CompletedSteps = make(map[string]bool)
	}
	s.CompletedSteps[stepID] = true
}

func (s *Session) stepByID(id string) (workflow.Step, bool) {
	if idx := workflow.IndexOf(s.Sequence, id); idx >= 0 {
		return s.Sequence[idx], true
	}
	return workflow.Step{}, false
}

// Progress 当前进度投影
func (s *Session) Progress() models.ProgressView {
	return BuildProgress(s.Sequence, s.Cursor, s.CompletedSteps, s.Project.Chapters, s.Completed)
}

// LastAssistantMessage 最近一条助手消息
func (s *Session) LastAssistantMessage() (models.ChatMessage, bool) {
	for i := len(s.Transcript) - 1; i >= 0; i-- {
		if s.Transcript[i].Role == models.RoleAssistant {
			return s.Transcript[i], true
		}
	}
	return models.ChatMessage{}, false
}

// lastOptions 最近一条非旁注助手消息提供的选项；错误消息的选项不算
func (s *Session) lastOptions() []models.Option {
	for i := len(s.Transcript) - 1; i >= 0; i-- {
		msg := s.Transcript[i]
		if msg.Role != models.RoleAssistant || msg.Kind == models.KindAdvisory {
			continue
		}
		if msg.Kind == models.KindError {
			return nil
		}
		return msg.Options
	}
	return nil
}

// Snapshot 深拷贝，供 API 和推送使用
func (s *Session) Snapshot() *Session {
	cp := *s
	cp.Sequence = append([]workflow.Step(nil), s.Sequence...)
	cp.CompletedSteps = make(map[string]bool, len(s.CompletedSteps))
	for k, v := range s.CompletedSteps {
		cp.CompletedSteps[k] = v
	}
	cp.Project = s.Project.Clone()
	cp.Transcript = append([]models.ChatMessage(nil), s.Transcript...)
	if s.Drafting.PendingIdea != nil {
		idea := *s.Drafting.PendingIdea
		cp.Drafting.PendingIdea = &idea
	}
	if s.InFlight != nil {
		a := *s.InFlight
		cp.InFlight = &a
	}
	if s.PendingRetry != nil {
		a := *s.PendingRetry
		cp.PendingRetry = &a
	}
	return &cp
}
