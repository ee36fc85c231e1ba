// internal/wizard/progress.go
package wizard

import (
	"github.com/Corphon/BookForge/internal/models"
	"github.com/Corphon/BookForge/internal/workflow"
)

// BuildProgress 由 (序列, 游标, 已完成集合, 章节) 推导进度视图。
// 纯函数：每次状态变化后整体重算，不做增量修补。
func BuildProgress(seq []workflow.Step, cursor int, completed map[string]bool, chapters []models.Chapter, finished bool) models.ProgressView {
	view := models.ProgressView{
		TotalSteps: len(seq),
		Finished:   finished,
		Phases:     []models.ProgressPhase{},
	}
	if cursor >= 0 && cursor < len(seq) {
		view.CurrentStepID = seq[cursor].ID
	}

	for start := 0; start < len(seq); {
		end := start
		for end < len(seq) && seq[end].Phase == seq[start].Phase {
			end++
		}
		view.Phases = append(view.Phases, buildPhase(seq[start:end], view.CurrentStepID, completed, chapters))
		start = end
	}

	for _, step := range seq {
		if completed[step.ID] {
			view.CompletedSteps++
		}
	}
	if view.TotalSteps > 0 {
		view.Percent = view.CompletedSteps * 100 / view.TotalSteps
	}
	return view
}

func buildPhase(steps []workflow.Step, currentID string, completed map[string]bool, chapters []models.Chapter) models.ProgressPhase {
	phase := models.ProgressPhase{Name: steps[0].Phase, Items: []models.ProgressItem{}}

	drafting := false
	for _, step := range steps {
		if step.Role == workflow.RoleChapterSlot || step.Role == workflow.RoleReviewMarker {
			drafting = true
			break
		}
	}

	if drafting && len(chapters) > 0 {
		for _, ch := range chapters {
			slotID := workflow.SlotID(ch.Number)
			onSlot := currentID == slotID
			phase.Items = append(phase.Items,
				models.ProgressItem{
					ID:        slotID + ":draft",
					Title:     "Draft: " + ch.DisplayTitle(),
					Completed: ch.Status.Rank() >= models.ChapterDrafted.Rank(),
					Current:   onSlot && ch.Status.Rank() < models.ChapterDrafted.Rank(),
				},
				models.ProgressItem{
					ID:        slotID + ":edit",
					Title:     "Edit: " + ch.DisplayTitle(),
					Completed: ch.Status == models.ChapterReviewed,
					Current:   onSlot && ch.Status == models.ChapterDrafted,
				},
			)
		}
		for _, step := range steps {
			if step.Role == workflow.RoleChapterSlot {
				continue
			}
			phase.Items = append(phase.Items, stepItem(step, currentID, completed))
		}
	} else {
		for _, step := range steps {
			phase.Items = append(phase.Items, stepItem(step, currentID, completed))
		}
	}

	phase.Completed = len(phase.Items) > 0
	for _, item := range phase.Items {
		if !item.Completed {
			phase.Completed = false
			break
		}
	}
	return phase
}

func stepItem(step workflow.Step, currentID string, completed map[string]bool) models.ProgressItem {
	return models.ProgressItem{
		ID:        step.ID,
		Title:     step.Title,
		Completed: completed[step.ID],
		Current:   step.ID == currentID,
	}
}
