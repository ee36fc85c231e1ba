// internal/services/prompts.go
package services

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Corphon/BookForge/internal/llm"
	"github.com/Corphon/BookForge/internal/models"
	"github.com/Corphon/BookForge/internal/wizard"
	"github.com/Corphon/BookForge/internal/workflow"
)

const personaPrompt = `You are BookForge, a seasoned editor and ghostwriter who guides an author from a rough idea to a publish-ready book.
Be warm and concrete. Offer distinct, well-differentiated choices. Never break the requested JSON shape.`

// 每种输出形态对应的 JSON 结构说明
const (
	schemaOptions  = `{"message": string, "options": [{"title": string, "description": string}], "bestOption": string}`
	schemaList     = `{"message": string, "items": [string]}`
	schemaOutline  = `{"message": string, "outline": [{"chapterTitle": string, "chapterDescription": string}]}`
	schemaIdea     = `{"message": string, "chapterTitle": string, "chapterIdea": string}`
	schemaDraft    = `{"chapterNumber": number, "chapterTitle": string, "chapterContent": string}`
	schemaRevision = `{"chapterNumber": number, "editedContent": string, "feedback": string}`
	schemaReview   = `{"message": string, "feedback": string, "chapters": [{"chapterNumber": number, "chapterTitle": string, "chapterContent": string}]}`
	schemaFreeText = `{"message": string, "text": string}`
	schemaAnalysis = `{"summary": string, "strengths": [string], "suggestions": [string]}`
)

// historyLimit 发给模型的最近消息条数
const historyLimit = 12

// buildCompletionRequest 把向导请求翻译成一次 LLM 调用
func buildCompletionRequest(req wizard.StepRequest) llm.CompletionRequest {
	var b strings.Builder
	b.WriteString(projectContext(req.Project, req.Unit))
	b.WriteString("\n\n")
	b.WriteString(instruction(req))

	return llm.CompletionRequest{
		SystemPrompt: personaPrompt,
		Prompt:       b.String(),
		History:      historyMessages(req.History),
		Temperature:  temperatureFor(req.Mode),
	}
}

func temperatureFor(mode wizard.Mode) float32 {
	switch mode {
	case wizard.ModeDraft, wizard.ModeRevise:
		return 0.8
	case wizard.ModeAnalysis:
		return 0.3
	default:
		return 0.7
	}
}

// historyMessages 只保留用户和助手的普通消息
func historyMessages(history []models.ChatMessage) []llm.Message {
	out := make([]llm.Message, 0, historyLimit)
	for _, msg := range history {
		if msg.Role == models.RoleSystem || msg.Kind == models.KindError || msg.Kind == models.KindAdvisory {
			continue
		}
		out = append(out, llm.Message{Role: string(msg.Role), Content: msg.Text})
	}
	if len(out) > historyLimit {
		out = out[len(out)-historyLimit:]
	}
	return out
}

// projectContext 汇总已经做出的决定
func projectContext(p *models.ProjectState, unit string) string {
	if p == nil {
		return "PROJECT SO FAR: nothing decided yet."
	}

	var b strings.Builder
	b.WriteString("PROJECT SO FAR:\n")
	titles := make([]string, 0, len(p.Decisions))
	for title := range p.Decisions {
		titles = append(titles, title)
	}
	sort.Strings(titles)
	for _, title := range titles {
		fmt.Fprintf(&b, "- %s: %s\n", title, p.Decisions[title])
	}
	if p.ChapterCount > 0 {
		fmt.Fprintf(&b, "- Planned %ss: %d\n", strings.ToLower(unit), p.ChapterCount)
	}
	if p.GlobalOutline != "" {
		fmt.Fprintf(&b, "\nOUTLINE:\n%s\n", p.GlobalOutline)
	}
	for _, ch := range p.Chapters {
		if ch.Summary == "" {
			continue
		}
		fmt.Fprintf(&b, "\n%s %d (%s): %s", unit, ch.Number, ch.DisplayTitle(), ch.Summary)
	}
	return strings.TrimRight(b.String(), "\n")
}

// instruction 按请求模式和步骤形态给出任务与输出结构
func instruction(req wizard.StepRequest) string {
	unit := strings.ToLower(req.Unit)
	n := req.ChapterNumber

	switch req.Mode {
	case wizard.ModeIdea:
		return fmt.Sprintf("TASK: Propose a title and a one-paragraph idea for %s %d that follows naturally from the outline and the previous %ss.\nRespond as %s", unit, n, unit, schemaIdea)
	case wizard.ModeDraft:
		return fmt.Sprintf("TASK: Write the complete text of %s %d using the agreed idea. Keep the established vibe and audience. Use chapterNumber %d.\nRespond as %s", unit, n, n, schemaDraft)
	case wizard.ModeRevise:
		return fmt.Sprintf("TASK: Revise %s %d according to this feedback: %q. Return the full edited text and a short note on what changed.\nRespond as %s", unit, n, req.Feedback, schemaRevision)
	case wizard.ModeAnalysis:
		return fmt.Sprintf("TASK: Give a brief editorial analysis of %s %d: one-sentence summary, strengths, and concrete suggestions.\nRespond as %s", unit, n, schemaAnalysis)
	}

	step := req.Step
	task := fmt.Sprintf("TASK: We are at the step %q.", step.Title)
	if req.Feedback != "" {
		task += fmt.Sprintf(" The author asked for changes: %q.", req.Feedback)
	}

	switch {
	case step.Role == workflow.RoleFormatSelection:
		return task + " Offer book formats to choose from (for example novel, how-to guide, memoir, flash fiction).\nRespond as " + schemaOptions
	case step.Role == workflow.RoleChapterCount:
		return task + fmt.Sprintf(" Suggest how many %ss the book should have; each option title must contain the number.\nRespond as %s", unit, schemaOptions)
	case step.Role == workflow.RoleCoverSelection:
		return task + " Describe three distinct cover concepts (art direction, palette, typography) as options.\nRespond as " + schemaOptions
	case step.IsList():
		return task + " List between 5 and 7 items that suit the book.\nRespond as " + schemaList
	case step.Kind == workflow.KindOptions:
		return task + " Offer three to four distinct options and mark the strongest as bestOption.\nRespond as " + schemaOptions
	case step.Kind == workflow.KindOutline:
		return task + fmt.Sprintf(" Create an outline with exactly one entry per %s.\nRespond as %s", unit, schemaOutline)
	case step.Kind == workflow.KindChapterDraft:
		return task + " Write the next " + unit + ".\nRespond as " + schemaDraft
	case step.Kind == workflow.KindChapterReview:
		return task + fmt.Sprintf(" Review the whole manuscript for continuity. Return every %s by chapterNumber with a polished title; include chapterContent only when you changed it.\nRespond as %s", unit, schemaReview)
	default:
		return task + "\nRespond as " + schemaFreeText
	}
}
