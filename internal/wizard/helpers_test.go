// internal/wizard/helpers_test.go
package wizard

import (
	"encoding/json"
	"fmt"

	"github.com/stretchr/testify/require"

	"github.com/Corphon/BookForge/internal/models"
	"github.com/Corphon/BookForge/internal/workflow"
)

// testingT 同时满足 *testing.T 和 *rapid.T
type testingT interface {
	require.TestingT
	Helper()
}

func newTestEngine(t testingT) *Engine {
	t.Helper()
	catalog, err := workflow.DefaultCatalog()
	require.NoError(t, err)
	return NewEngine(catalog)
}

func ok(v interface{}) StepResult {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return StepResult{Success: true, Data: data}
}

func raw(data string) StepResult {
	return StepResult{Success: true, Data: json.RawMessage(data)}
}

// fakeResponse 按步骤形态构造一个合法的响应
func fakeResponse(s *Session, action NextAction) StepResult {
	n := action.ChapterNumber
	switch action.Mode {
	case ModeIdea:
		return ok(map[string]interface{}{
			"message":      "How about this?",
			"chapterTitle": fmt.Sprintf("Title %d", n),
			"chapterIdea":  fmt.Sprintf("Idea for chapter %d", n),
		})
	case ModeDraft:
		return ok(map[string]interface{}{
			"chapterNumber":  n,
			"chapterTitle":   fmt.Sprintf("Title %d", n),
			"chapterContent": fmt.Sprintf("The full text of chapter %d.", n),
		})
	case ModeRevise:
		return ok(map[string]interface{}{
			"chapterNumber": n,
			"editedContent": fmt.Sprintf("The revised text of chapter %d, now with more tension.", n),
			"feedback":      "Tightened the pacing.",
		})
	case ModeAnalysis:
		return ok(map[string]interface{}{
			"summary":     "Solid chapter.",
			"strengths":   []string{"voice"},
			"suggestions": []string{"shorter opening"},
		})
	}

	step, found := s.stepByID(action.StepID)
	if !found {
		return StepResult{Success: false, Error: "unknown step"}
	}
	switch {
	case step.Role == workflow.RoleCoverSelection:
		return ok(map[string]interface{}{
			"message": "Concepts",
			"options": []map[string]string{{"title": "Lighthouse", "description": "at dusk"}, {"title": "Letters"}},
		})
	case step.Kind == workflow.KindOptions && step.IsList():
		return ok(map[string]interface{}{"items": []string{"one", "two", " "}})
	case step.ID == "format_selected":
		return ok(map[string]interface{}{
			"message": "Which format?",
			"options": []interface{}{"Novel", map[string]string{"title": "How-To Guide", "description": "practical"}},
		})
	case step.Kind == workflow.KindOptions:
		return ok(map[string]interface{}{
			"message":    "Pick one",
			"options":    []map[string]string{{"title": step.Title + " A"}, {"title": step.Title + " B"}},
			"bestOption": step.Title + " A",
		})
	case step.Kind == workflow.KindOutline:
		entries := make([]models.OutlineEntry, 0, s.Project.ChapterCount)
		for i := 1; i <= s.Project.ChapterCount; i++ {
			entries = append(entries, models.OutlineEntry{ChapterTitle: fmt.Sprintf("Outline %d", i), ChapterDescription: "beat"})
		}
		return ok(map[string]interface{}{"message": "Outline", "outline": entries})
	case step.Kind == workflow.KindChapterReview:
		chapters := make([]map[string]interface{}, 0, len(s.Project.Chapters))
		for _, ch := range s.Project.Chapters {
			chapters = append(chapters, map[string]interface{}{"chapterNumber": ch.Number, "chapterContent": ch.Content + " Polished."})
		}
		return ok(map[string]interface{}{"message": "Compiled", "chapters": chapters})
	default:
		return ok(map[string]interface{}{"message": "Here it is", "text": "Body for " + step.ID})
	}
}

// answer 让引擎合并 fakeResponse；需要封面时一并补上图片
func answer(t testingT, e *Engine, s *Session, action NextAction) Outcome {
	t.Helper()
	require.Equal(t, ActionRequest, action.Kind)
	out, err := e.Reconcile(s, action, fakeResponse(s, action))
	require.NoError(t, err)
	if out.NeedsCover {
		out, err = e.ApplyCoverImages(s, action, []string{"https://img.test/1.png", "https://img.test/2.png"}, nil)
		require.NoError(t, err)
	}
	if out.Analysis != nil {
		e.ApplyAnalysis(s, *out.Analysis, fakeResponse(s, *out.Analysis))
	}
	require.False(t, s.IsLoading)
	return out
}

func advance(t testingT, e *Engine, s *Session, text string) NextAction {
	t.Helper()
	action, err := e.Advance(s, UserInput{Text: text})
	require.NoError(t, err)
	return action
}

// startSession 建立会话并把格式步骤的选项合并进来
func startSession(t testingT, e *Engine) *Session {
	t.Helper()
	s := e.NewSession("book-1")
	action, err := e.Start(s)
	require.NoError(t, err)
	answer(t, e, s, action)
	return s
}

// driveToDrafting 从格式选择一路走到第一章构思请求（尚未合并）
func driveToDrafting(t testingT, e *Engine, s *Session, chapters int) NextAction {
	t.Helper()
	action := advance(t, e, s, "Novel")
	for s.CurrentStep().Role != workflow.RoleChapterCount {
		answer(t, e, s, action)
		action = advance(t, e, s, NextAutoPilotInput(s.Transcript))
	}
	answer(t, e, s, action)
	action = advance(t, e, s, fmt.Sprintf("%d chapters", chapters))
	answer(t, e, s, action) // outline
	action = advance(t, e, s, "Approve")
	answer(t, e, s, action) // pacing
	return advance(t, e, s, "Steady build")
}

// driveToReview 写到第 n 章的审阅阶段（草稿已合并）
func driveToReview(t testingT, e *Engine, s *Session, chapters, n int) {
	t.Helper()
	action := driveToDrafting(t, e, s, chapters)
	for i := 1; ; i++ {
		answer(t, e, s, action) // idea
		action = advance(t, e, s, "Use this idea")
		answer(t, e, s, action) // draft
		if i == n {
			return
		}
		action = advance(t, e, s, "Approve and continue")
	}
}
