// internal/services/scripted_orchestrator.go
package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"github.com/Corphon/BookForge/internal/models"
	"github.com/Corphon/BookForge/internal/wizard"
	"github.com/Corphon/BookForge/internal/workflow"
)

// OfflineProviderName 不调用任何模型时使用的提供者名称
const OfflineProviderName = "offline"

// ScriptedOrchestrator 离线、确定性的编排实现。
// 为每种步骤和模式返回合法载荷，供演示和测试使用。
type ScriptedOrchestrator struct{}

// NewScriptedOrchestrator 创建离线编排器
func NewScriptedOrchestrator() *ScriptedOrchestrator {
	return &ScriptedOrchestrator{}
}

// 按步骤 id 预设的选项
var scriptedOptions = map[string][]models.Option{
	"format_selected": {
		{Title: "Novel", Description: "A full-length work of fiction."},
		{Title: "How-To Guide", Description: "A practical, module-based non-fiction guide."},
		{Title: "Memoir", Description: "True stories from a life, told with a narrative arc."},
		{Title: "Flash Fiction", Description: "A collection of very short stories."},
	},
	"genre_defined": {
		{Title: "Literary Mystery", Description: "A quiet puzzle wrapped in character study."},
		{Title: "Cozy Fantasy", Description: "Low stakes, warm magic, found family."},
		{Title: "Near-Future Thriller", Description: "Technology, tension and a ticking clock."},
	},
	"core_idea": {
		{Title: "A lighthouse keeper finds letters from her future self", Description: "Each letter warns of a choice she has not made yet."},
		{Title: "A cartographer maps a town that rearranges itself nightly", Description: "Only one street never moves."},
		{Title: "Two rival bakers inherit the same shop", Description: "The will has a secret clause."},
	},
	"title_selected": {
		{Title: "The Keeper of Tomorrow's Light"},
		{Title: "Letters from the Far Shore"},
		{Title: "Beacon"},
	},
	"vibe_defined": {
		{Title: "Melancholic and hopeful", Description: "Grey seas, warm kitchens."},
		{Title: "Tense and atmospheric", Description: "Fog, secrets and creaking stairs."},
		{Title: "Whimsical", Description: "Gentle humour with a touch of magic."},
	},
	"audience_defined": {
		{Title: "Adult readers of book-club fiction"},
		{Title: "Young adults who love mysteries"},
		{Title: "Fans of magical realism"},
	},
	"storyline_defined": {
		{Title: "Three-act arc from discovery to sacrifice", Description: "The letters pull her toward a storm she must choose to face."},
		{Title: "Dual timeline", Description: "Alternating between the keeper and the writer of the letters."},
	},
	"characters_defined": {
		{Title: "Mara, the keeper; Tomas, the ferryman; the Letter-Writer", Description: "A small cast with one mysterious presence."},
		{Title: "An ensemble of islanders", Description: "Every household hides a letter."},
	},
	"chapter_count": {
		{Title: "3 chapters", Description: "A tight novella."},
		{Title: "5 chapters", Description: "Room for a subplot."},
		{Title: "8 chapters", Description: "A fuller arc."},
	},
	"pacing_agreed": {
		{Title: "Steady build with a cliffhanger at each chapter end"},
		{Title: "Slow burn with a fast final act"},
	},
}

// ProcessStep 实现 wizard.Orchestrator
func (o *ScriptedOrchestrator) ProcessStep(ctx context.Context, req wizard.StepRequest) wizard.StepResult {
	if err := ctx.Err(); err != nil {
		return wizard.StepResult{Success: false, Error: err.Error()}
	}

	payload := o.payload(req)
	data, err := json.Marshal(payload)
	if err != nil {
		return wizard.StepResult{Success: false, Error: err.Error()}
	}
	return wizard.StepResult{Success: true, Data: data}
}

func (o *ScriptedOrchestrator) payload(req wizard.StepRequest) interface{} {
	unit := req.Unit
	if unit == "" {
		unit = "Chapter"
	}
	n := req.ChapterNumber

	switch req.Mode {
	case wizard.ModeIdea:
		return map[string]interface{}{
			"message":      fmt.Sprintf("Here's where %s %d could go.", strings.ToLower(unit), n),
			"chapterTitle": scriptedChapterTitle(n),
			"chapterIdea":  fmt.Sprintf("%s %d raises the stakes: a new letter arrives and the keeper must decide whether to trust it.", unit, n),
		}
	case wizard.ModeDraft:
		title := scriptedChapterTitle(n)
		if ch, ok := chapterOf(req.Project, n); ok && ch.Title != "" {
			title = ch.Title
		}
		return map[string]interface{}{
			"chapterNumber":  n,
			"chapterTitle":   title,
			"chapterContent": scriptedProse(req.Project, unit, n),
		}
	case wizard.ModeRevise:
		content := scriptedProse(req.Project, unit, n)
		if ch, ok := chapterOf(req.Project, n); ok && ch.Content != "" {
			content = ch.Content
		}
		return map[string]interface{}{
			"chapterNumber": n,
			"editedContent": content + "\n\nThe revision sharpens the ending: the lamp flickers twice, exactly as the letter said it would.",
			"feedback":      fmt.Sprintf("I've applied your notes (%s).", strings.TrimSpace(req.Feedback)),
		}
	case wizard.ModeAnalysis:
		return map[string]interface{}{
			"summary":     fmt.Sprintf("%s %d moves the plot forward and deepens the central mystery.", unit, n),
			"strengths":   []string{"Clear sense of place", "A strong closing image"},
			"suggestions": []string{"Tighten the opening paragraph", "Give the secondary character one more line of dialogue"},
		}
	}

	step := req.Step
	switch {
	case step.Role == workflow.RoleCoverSelection:
		return map[string]interface{}{
			"message": "Here are three cover concepts. I'll render them now.",
			"options": []models.Option{
				{Title: "Lighthouse at dusk", Description: "Deep navy and amber, serif title"},
				{Title: "Envelope in the tide", Description: "Sea-glass greens, handwritten title"},
				{Title: "Minimal beam", Description: "Single light ray on black, bold sans title"},
			},
		}
	case step.IsList():
		return map[string]interface{}{
			"message": fmt.Sprintf("Suggestions for %s:", step.Title),
			"items":   scriptedList(step.ListKey),
		}
	case step.Kind == workflow.KindOptions:
		options, ok := scriptedOptions[step.ID]
		if !ok {
			options = []models.Option{{Title: "Sounds good"}, {Title: "Let's try something different"}}
		}
		return map[string]interface{}{
			"message":    fmt.Sprintf("Let's settle \"%s\". Pick one of these or tell me your own.", step.Title),
			"options":    options,
			"bestOption": options[0].Title,
		}
	case step.Kind == workflow.KindOutline:
		count := 3
		if req.Project != nil && req.Project.ChapterCount > 0 {
			count = req.Project.ChapterCount
		}
		outline := make([]models.OutlineEntry, 0, count)
		for i := 1; i <= count; i++ {
			outline = append(outline, models.OutlineEntry{
				ChapterTitle:       scriptedChapterTitle(i),
				ChapterDescription: fmt.Sprintf("%s %d of %d.", unit, i, count),
			})
		}
		message := "Here's the outline."
		if req.Feedback != "" {
			message = "I've reworked the outline with your notes."
		}
		return map[string]interface{}{"message": message, "outline": outline}
	case step.Kind == workflow.KindChapterReview:
		chapters := []map[string]interface{}{}
		if req.Project != nil {
			for _, ch := range req.Project.Chapters {
				chapters = append(chapters, map[string]interface{}{
					"chapterNumber": ch.Number,
					"chapterTitle":  ch.DisplayTitle(),
				})
			}
		}
		if len(chapters) == 0 {
			chapters = append(chapters, map[string]interface{}{"chapterNumber": 1})
		}
		return map[string]interface{}{
			"message":  "The manuscript is compiled and reads consistently from start to finish.",
			"feedback": "Continuity checked across all chapters.",
			"chapters": chapters,
		}
	case step.Kind == workflow.KindChapterDraft:
		return map[string]interface{}{
			"chapterNumber":  n,
			"chapterTitle":   scriptedChapterTitle(n),
			"chapterContent": scriptedProse(req.Project, unit, n),
		}
	default:
		return map[string]interface{}{
			"message": fmt.Sprintf("%s: here's my draft.", step.Title),
			"text":    scriptedFreeText(step, req.Project),
		}
	}
}

func chapterOf(p *models.ProjectState, n int) (*models.Chapter, bool) {
	if p == nil {
		return nil, false
	}
	return p.ChapterByNumber(n)
}

var scriptedTitles = []string{
	"The First Letter", "Salt and Ink", "The Ferryman's Warning", "Storm Season",
	"What the Lamp Knew", "Low Tide", "The Last Envelope", "Morning Light",
}

func scriptedChapterTitle(n int) string {
	if n < 1 {
		n = 1
	}
	title := scriptedTitles[(n-1)%len(scriptedTitles)]
	if n > len(scriptedTitles) {
		title = fmt.Sprintf("%s (%d)", title, n)
	}
	return title
}

func scriptedProse(p *models.ProjectState, unit string, n int) string {
	vibe := "quiet"
	if p != nil && p.Vibe != "" {
		vibe = strings.ToLower(p.Vibe)
	}
	return fmt.Sprintf(
		"%s %d opens before dawn. The sea is %s, and the keeper climbs the spiral stairs with the new letter folded in her pocket.\n\n"+
			"She reads it twice. The handwriting is hers, but steadier, as if written by someone who already knows how the story ends.\n\n"+
			"By nightfall she has made her choice, and the lamp turns on its own.",
		unit, n, vibe)
}

func scriptedList(listKey string) []string {
	switch models.StateKey(listKey) {
	case models.KeyKDPKeywords:
		return []string{"lighthouse mystery", "letters from the future", "coastal fiction", "time slip novel", "book club fiction", "magical realism"}
	case models.KeyBookCategories:
		return []string{"Fiction > Literary", "Fiction > Mystery > Cozy", "Fiction > Magical Realism"}
	default:
		return []string{"First suggestion", "Second suggestion", "Third suggestion"}
	}
}

func scriptedFreeText(step workflow.Step, p *models.ProjectState) string {
	title := "This book"
	if p != nil && p.Title != "" {
		title = p.Title
	}
	if models.StateKey(step.StateKey) == models.KeyBlurb {
		return fmt.Sprintf("%s follows a lighthouse keeper who receives letters written in her own hand, from a future she is not sure she wants. A story about choice, courage and the light we keep for others.", title)
	}
	return fmt.Sprintf("%s is ready. Upload the manuscript, cover and metadata to your publishing platform.", title)
}

// GenerateCoverConcepts 为每个封面概念生成一张 SVG 占位图（data URI）
func (o *ScriptedOrchestrator) GenerateCoverConcepts(ctx context.Context, project *models.ProjectState) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if project == nil || len(project.CoverOptions) == 0 {
		return nil, fmt.Errorf("no cover concepts to render")
	}

	palette := []string{"#1d3557", "#2a9d8f", "#111111", "#6d597a"}
	title := project.Title
	if title == "" {
		title = "Untitled"
	}

	urls := make([]string, 0, len(project.CoverOptions))
	for i, concept := range project.CoverOptions {
		svg := fmt.Sprintf(
			`<svg xmlns="http://www.w3.org/2000/svg" width="600" height="900"><rect width="600" height="900" fill="%s"/>`+
				`<text x="300" y="380" font-size="42" fill="#ffffff" text-anchor="middle">%s</text>`+
				`<text x="300" y="820" font-size="20" fill="#dddddd" text-anchor="middle">%s</text></svg>`,
			palette[i%len(palette)], html.EscapeString(title), html.EscapeString(concept))
		urls = append(urls, "data:image/svg+xml;base64,"+base64.StdEncoding.EncodeToString([]byte(svg)))
	}
	return urls, nil
}
