// internal/wizard/drafting.go
package wizard

import (
	"fmt"

	apperrors "github.com/Corphon/BookForge/internal/errors"
	"github.com/Corphon/BookForge/internal/models"
	"github.com/Corphon/BookForge/internal/workflow"
)

// enterDrafting 进入章节子循环，游标跳到第一个占位步骤
func (e *Engine) enterDrafting(s *Session, step workflow.Step, text string) (NextAction, error) {
	slot := workflow.IndexOf(s.Sequence, workflow.SlotID(1))
	if slot < 0 {
		return e.phaseFailure(s, apperrors.NewMissingStepError(
			fmt.Sprintf("%s is missing from the sequence", workflow.SlotID(1)), nil))
	}
	if s.Project.ChapterCount < 1 {
		s.Project.ChapterCount = DefaultChapterCount
	}

	s.Project.Decide(step.Title, text)
	s.markComplete(step.ID)
	s.Drafting = DraftingState{Active: true, CurrentChapterNumber: 1, Stage: StageIdea}
	s.Cursor = slot

	e.logger.Info("✍️ drafting started", map[string]interface{}{
		"session": s.ID, "chapters": s.Project.ChapterCount,
	})
	return e.requestIdea(s), nil
}

// advanceDrafting 子循环接管全部推进，主游标只在章节切换时移动
func (e *Engine) advanceDrafting(s *Session, input UserInput) (NextAction, error) {
	n := s.Drafting.CurrentChapterNumber
	intent := classify(input, s.lastOptions())

	switch s.Drafting.Stage {
	case StageDraft:
		if intent == workflow.ActionRegenerate {
			s.Drafting.Stage = StageIdea
			s.Drafting.PendingIdea = nil
			return e.requestIdea(s), nil
		}
		return e.acceptIdea(s, n), nil

	case StageReview:
		switch intent {
		case workflow.ActionRegenerate:
			// 重写当前章节，章节保持 drafted，不进入下一章
			return e.request(s, NextAction{
				Kind:          ActionRequest,
				StepID:        workflow.SlotID(n),
				Mode:          ModeDraft,
				ChapterNumber: n,
			}), nil
		case workflow.ActionRequestChanges:
			return e.request(s, NextAction{
				Kind:          ActionRequest,
				StepID:        workflow.SlotID(n),
				Mode:          ModeRevise,
				ChapterNumber: n,
				Feedback:      input.Text,
			}), nil
		default:
			return e.approveChapter(s, n)
		}

	default:
		// 构思尚未到达（例如上次请求失败后用户改了主意），重新请求
		return e.requestIdea(s), nil
	}
}

// acceptIdea 创建或更新章节记录并请求完整草稿
func (e *Engine) acceptIdea(s *Session, n int) NextAction {
	ch := models.Chapter{Number: n, Status: models.ChapterOutlined}
	if idea := s.Drafting.PendingIdea; idea != nil {
		ch.Title = idea.Title
		ch.Summary = idea.Idea
	}
	s.Project.UpsertChapter(ch)

	return e.request(s, NextAction{
		Kind:          ActionRequest,
		StepID:        workflow.SlotID(n),
		Mode:          ModeDraft,
		ChapterNumber: n,
	})
}

// approveChapter 审阅通过：章节标记为 reviewed，进入下一章或退出子循环
func (e *Engine) approveChapter(s *Session, n int) (NextAction, error) {
	next := n + 1
	if next > s.Project.ChapterCount {
		return e.exitDrafting(s, n)
	}

	slot := workflow.IndexOf(s.Sequence, workflow.SlotID(next))
	if slot < 0 {
		return e.phaseFailure(s, apperrors.NewMissingStepError(
			fmt.Sprintf("%s is missing from the sequence", workflow.SlotID(next)), nil))
	}

	e.finishChapter(s, n)
	s.Drafting.CurrentChapterNumber = next
	s.Drafting.Stage = StageIdea
	s.Drafting.PendingIdea = nil
	s.Cursor = slot
	return e.requestIdea(s), nil
}

// exitDrafting 最后一章审阅完毕，把控制权交回主游标。
// 目标步骤缺失时不做任何提交，保持可重试。
func (e *Engine) exitDrafting(s *Session, n int) (NextAction, error) {
	post := workflow.IndexOfRole(s.Sequence, workflow.RolePostDrafting)
	if post < 0 {
		return e.phaseFailure(s, apperrors.NewMissingStepError("post-drafting step is missing from the sequence", nil))
	}

	e.finishChapter(s, n)
	s.Drafting = DraftingState{Active: false, CurrentChapterNumber: n + 1, Stage: StageNone}
	if marker := workflow.IndexOfRole(s.Sequence, workflow.RoleReviewMarker); marker >= 0 {
		s.markComplete(s.Sequence[marker].ID)
	}

	e.logger.Info("📖 drafting finished", map[string]interface{}{
		"session": s.ID, "chapters": n,
	})
	s.Cursor = post
	return e.request(s, NextAction{Kind: ActionRequest, StepID: s.Sequence[post].ID, Mode: ModeStep}), nil
}

func (e *Engine) finishChapter(s *Session, n int) {
	if ch, ok := s.Project.ChapterByNumber(n); ok {
		ch.Advance(models.ChapterReviewed)
	}
	s.markComplete(workflow.SlotID(n))
}

func (e *Engine) requestIdea(s *Session) NextAction {
	n := s.Drafting.CurrentChapterNumber
	return e.request(s, NextAction{
		Kind:          ActionRequest,
		StepID:        workflow.SlotID(n),
		Mode:          ModeIdea,
		ChapterNumber: n,
	})
}
