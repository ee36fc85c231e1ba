// internal/wizard/drafting_property_test.go
package wizard

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"github.com/Corphon/BookForge/internal/models"
)

// TestProperty_DraftingCursorFollowsApprovals 任意次重新构思和修改请求之后，
// 当前章节号始终等于已通过章节数加一，章节状态从不倒退。
func TestProperty_DraftingCursorFollowsApprovals(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		e := newTestEngine(rt)
		s := startSession(rt, e)
		count := rapid.IntRange(1, 6).Draw(rt, "chapters")
		action := driveToDrafting(rt, e, s, count)

		approved := 0
		for step := 0; s.Drafting.Active; step++ {
			if step > 200 {
				rt.Fatalf("drafting did not finish")
			}
			answer(rt, e, s, action)
			ranks := chapterRanks(s.Project.Chapters)

			var input string
			switch s.Drafting.Stage {
			case StageDraft:
				input = rapid.SampledFrom([]string{"Use this idea", "Generate another idea"}).Draw(rt, fmt.Sprintf("idea-%d", step))
			case StageReview:
				input = rapid.SampledFrom([]string{"Approve and continue", "Request changes to the ending"}).Draw(rt, fmt.Sprintf("review-%d", step))
				if input == "Approve and continue" {
					approved++
				}
			default:
				rt.Fatalf("unexpected stage %q", s.Drafting.Stage)
			}

			action = advance(rt, e, s, input)
			if s.Drafting.CurrentChapterNumber != approved+1 {
				rt.Fatalf("chapter %d after %d approvals", s.Drafting.CurrentChapterNumber, approved)
			}
			for n, rank := range chapterRanks(s.Project.Chapters) {
				if rank < ranks[n] {
					rt.Fatalf("chapter %d went backwards", n)
				}
			}
		}

		if approved != count {
			rt.Fatalf("approved %d of %d chapters", approved, count)
		}
		for _, ch := range s.Project.Chapters {
			if ch.Status != models.ChapterReviewed {
				rt.Fatalf("chapter %d is %s", ch.Number, ch.Status)
			}
		}
		if s.CurrentStep().ID != "full_book_compiled" {
			rt.Fatalf("cursor at %s", s.CurrentStep().ID)
		}
	})
}

// TestProperty_ProgressIsPure 同一状态多次投影结果相同，且完成数不超过总数
func TestProperty_ProgressIsPure(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		e := newTestEngine(rt)
		s := startSession(rt, e)
		action := driveToDrafting(rt, e, s, rapid.IntRange(1, 4).Draw(rt, "chapters"))
		moves := rapid.IntRange(0, 30).Draw(rt, "moves")

		for i := 0; i < moves && action.Kind == ActionRequest; i++ {
			answer(rt, e, s, action)
			action = advance(rt, e, s, NextAutoPilotInput(s.Transcript))
		}

		first := s.Progress()
		second := BuildProgress(s.Sequence, s.Cursor, s.CompletedSteps, s.Project.Chapters, s.Completed)
		if fmt.Sprint(first) != fmt.Sprint(second) {
			rt.Fatalf("projection is not deterministic")
		}
		if first.CompletedSteps > first.TotalSteps || first.Percent > 100 {
			rt.Fatalf("completed %d of %d (%d%%)", first.CompletedSteps, first.TotalSteps, first.Percent)
		}
	})
}

func chapterRanks(chapters []models.Chapter) map[int]int {
	ranks := make(map[int]int, len(chapters))
	for _, ch := range chapters {
		ranks[ch.Number] = ch.Status.Rank()
	}
	return ranks
}
