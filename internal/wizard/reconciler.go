// internal/wizard/reconciler.go
package wizard

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/Corphon/BookForge/internal/errors"
	"github.com/Corphon/BookForge/internal/models"
	"github.com/Corphon/BookForge/internal/workflow"
)

const (
	optionUseIdea     = "Use this idea"
	optionAnotherIdea = "Generate another idea"
	optionApprove     = "Approve and continue"
	optionChanges     = "Request changes"
	optionProceed     = "Proceed"
)

// Outcome 一次合并的结果
type Outcome struct {
	Messages []models.ChatMessage `json:"messages"`
	// Analysis 旁路分析请求，不影响主流程
	Analysis *NextAction `json:"analysis,omitempty"`
	// NeedsCover 需要调用封面生成，忙碌标志保持到图片返回
	NeedsCover bool `json:"needsCover"`
}

// Reconcile 按步骤声明的输出形态校验并合并编排边界的响应。
// 校验全部通过之后才修改项目状态；失败时游标不动，同一请求可重试。
func (e *Engine) Reconcile(s *Session, action NextAction, result StepResult) (Outcome, error) {
	if s.InFlight == nil || !s.InFlight.Same(action) {
		return Outcome{}, apperrors.NewConflictError("response does not match the request in flight", nil)
	}
	if !result.Success {
		err := apperrors.NewBoundaryError(result.Error, nil)
		return e.Fail(s, action, err), err
	}

	step, ok := s.stepByID(action.StepID)
	if !ok {
		err := apperrors.NewMissingStepError(fmt.Sprintf("step %s is not in the sequence", action.StepID), nil)
		s.IsLoading = false
		s.InFlight = nil
		_, _ = e.phaseFailure(s, err)
		return Outcome{Messages: []models.ChatMessage{s.Transcript[len(s.Transcript)-1]}}, err
	}

	var (
		out Outcome
		err error
	)
	switch action.Mode {
	case ModeIdea:
		out, err = e.reconcileIdea(s, step, result.Data)
	case ModeDraft:
		out, err = e.reconcileDraft(s, step, action, result.Data)
	case ModeRevise:
		out, err = e.reconcileRevision(s, step, action, result.Data)
	default:
		out, err = e.reconcileStep(s, step, result.Data)
	}

	if err != nil {
		malformed := apperrors.NewMalformedResponseError(fmt.Sprintf("%s response is malformed", step.Title), err)
		return e.Fail(s, action, malformed), malformed
	}

	if !out.NeedsCover {
		s.IsLoading = false
		s.InFlight = nil
	}
	for i, msg := range out.Messages {
		out.Messages[i] = e.appendMessage(s, msg)
	}
	return out, nil
}

// Fail 请求失败：提示用户，清除忙碌标志，记住请求以便下次输入时重发
func (e *Engine) Fail(s *Session, action NextAction, cause error) Outcome {
	s.IsLoading = false
	s.InFlight = nil
	retry := action
	s.PendingRetry = &retry

	step, _ := s.stepByID(action.StepID)
	label := step.Title
	if label == "" {
		label = action.StepID
	}

	text := fmt.Sprintf("Sorry, I couldn't complete \"%s\": %s. Send any message to try again.", label, friendlyCause(cause))
	if apperrors.IsMalformedResponseError(cause) {
		text = fmt.Sprintf("Sorry, the response for \"%s\" came back incomplete (%s). Send any message to try again.", label, friendlyCause(cause))
	}

	e.logger.Warn("step request failed", map[string]interface{}{
		"session": s.ID, "step": action.StepID, "mode": action.Mode, "error": cause.Error(),
	})
	msg := e.appendMessage(s, models.ChatMessage{
		Role:   models.RoleAssistant,
		Kind:   models.KindError,
		Text:   text,
		StepID: action.StepID,
	})
	return Outcome{Messages: []models.ChatMessage{msg}}
}

func friendlyCause(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if appErr.Err != nil {
			return appErr.Err.Error()
		}
		return appErr.Message
	}
	return err.Error()
}

// reconcileStep 主序列步骤，按声明的 kind 分派
func (e *Engine) reconcileStep(s *Session, step workflow.Step, data json.RawMessage) (Outcome, error) {
	switch {
	case step.Role == workflow.RoleCoverSelection:
		return e.reconcileCoverConcepts(s, step, data)
	case step.Kind == workflow.KindOptions && step.IsList():
		return e.reconcileList(s, step, data)
	case step.Kind == workflow.KindOptions:
		return e.reconcileOptions(step, data)
	case step.Kind == workflow.KindOutline:
		return e.reconcileOutline(s, step, data)
	case step.Kind == workflow.KindChapterDraft:
		return e.reconcileDraft(s, step, NextAction{ChapterNumber: s.Drafting.CurrentChapterNumber}, data)
	case step.Kind == workflow.KindChapterReview:
		return e.reconcileManuscript(s, step, data)
	default:
		return e.reconcileFreeText(s, step, data)
	}
}

func (e *Engine) reconcileOptions(step workflow.Step, data json.RawMessage) (Outcome, error) {
	var p optionsPayload
	if err := decodeObject(data, &p); err != nil {
		return Outcome{}, err
	}
	options := p.toOptions()
	if len(options) == 0 {
		return Outcome{}, fmt.Errorf("options are missing")
	}
	return Outcome{Messages: []models.ChatMessage{{
		Role:       models.RoleAssistant,
		Kind:       models.KindOptions,
		Text:       p.Message,
		Options:    options,
		BestOption: p.BestOption,
		StepID:     step.ID,
	}}}, nil
}

// reconcileList 关键词/分类：保存原始数组，渲染列表，合成一个 "Proceed" 选项
func (e *Engine) reconcileList(s *Session, step workflow.Step, data json.RawMessage) (Outcome, error) {
	var p listPayload
	if err := decodeObject(data, &p); err != nil {
		return Outcome{}, err
	}
	items := make([]string, 0, len(p.Items))
	for _, item := range p.Items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	if len(items) == 0 {
		return Outcome{}, fmt.Errorf("items are missing")
	}
	if err := s.Project.SetList(models.StateKey(step.ListKey), items); err != nil {
		return Outcome{}, err
	}

	var b strings.Builder
	b.WriteString(p.Message)
	if p.Message != "" {
		b.WriteString("\n\n")
	}
	for _, item := range items {
		fmt.Fprintf(&b, "- %s\n", item)
	}
	return Outcome{Messages: []models.ChatMessage{{
		Role:    models.RoleAssistant,
		Kind:    models.KindList,
		Text:    strings.TrimRight(b.String(), "\n"),
		Options: []models.Option{{Title: optionProceed}},
		StepID:  step.ID,
	}}}, nil
}

// reconcileOutline 保存全局大纲并按大纲建立 outlined 章节
func (e *Engine) reconcileOutline(s *Session, step workflow.Step, data json.RawMessage) (Outcome, error) {
	var p outlinePayload
	if err := decodeObject(data, &p); err != nil {
		return Outcome{}, err
	}
	entries, text, err := decodeOutline(p.Outline)
	if err != nil {
		return Outcome{}, err
	}

	s.Project.GlobalOutline = text
	limit := s.Project.ChapterCount
	if limit < 1 {
		limit = len(entries)
	}
	if len(entries) > 0 {
		for i, entry := range entries {
			if i >= limit {
				break
			}
			s.Project.UpsertChapter(models.Chapter{
				Number:  i + 1,
				Title:   entry.ChapterTitle,
				Summary: entry.ChapterDescription,
				Status:  models.ChapterOutlined,
			})
		}
	} else {
		for n := 1; n <= s.Project.ChapterCount; n++ {
			s.Project.UpsertChapter(models.Chapter{Number: n, Status: models.ChapterOutlined})
		}
	}

	body := text
	if p.Message != "" {
		body = p.Message + "\n\n" + text
	}
	return Outcome{Messages: []models.ChatMessage{{
		Role:    models.RoleAssistant,
		Kind:    models.KindOptions,
		Text:    body,
		Options: []models.Option{{Title: optionApprove}, {Title: optionChanges}},
		StepID:  step.ID,
	}}}, nil
}

// reconcileIdea 构思到达：阶段进入 draft，等待接受或重新生成
func (e *Engine) reconcileIdea(s *Session, step workflow.Step, data json.RawMessage) (Outcome, error) {
	var p ideaPayload
	if err := decodeObject(data, &p); err != nil {
		return Outcome{}, err
	}
	if strings.TrimSpace(p.ChapterTitle) == "" && strings.TrimSpace(p.ChapterIdea) == "" {
		return Outcome{}, fmt.Errorf("chapterTitle and chapterIdea are missing")
	}

	s.Drafting.PendingIdea = &ChapterIdea{Title: strings.TrimSpace(p.ChapterTitle), Idea: strings.TrimSpace(p.ChapterIdea)}
	s.Drafting.Stage = StageDraft

	text := p.Message
	if text == "" {
		text = fmt.Sprintf("Here's an idea for %s %d.", strings.ToLower(s.Track.Unit), s.Drafting.CurrentChapterNumber)
	}
	text = fmt.Sprintf("%s\n\n**%s**\n%s", text, p.ChapterTitle, p.ChapterIdea)
	return Outcome{Messages: []models.ChatMessage{{
		Role:    models.RoleAssistant,
		Kind:    models.KindOptions,
		Text:    text,
		Options: []models.Option{{Title: optionUseIdea}, {Title: optionAnotherIdea}},
		StepID:  step.ID,
	}}}, nil
}

// reconcileDraft 草稿到达：校验章节号，写入正文，阶段进入 review
func (e *Engine) reconcileDraft(s *Session, step workflow.Step, action NextAction, data json.RawMessage) (Outcome, error) {
	var p chapterDraftPayload
	if err := decodeObject(data, &p); err != nil {
		return Outcome{}, err
	}
	n, err := decodeChapterNumber(p.ChapterNumber)
	if err != nil {
		return Outcome{}, err
	}
	ch, ok := s.Project.ChapterByNumber(n)
	if !ok {
		return Outcome{}, fmt.Errorf("chapter %d does not exist", n)
	}
	if action.ChapterNumber != 0 && n != action.ChapterNumber {
		return Outcome{}, fmt.Errorf("expected chapter %d, got chapter %d", action.ChapterNumber, n)
	}

	if p.ChapterTitle != "" {
		ch.Title = p.ChapterTitle
	}
	if p.ChapterContent != "" {
		ch.Content = p.ChapterContent
	}
	ch.Advance(models.ChapterDrafted)
	s.Drafting.Stage = StageReview

	out := Outcome{Messages: []models.ChatMessage{{
		Role:    models.RoleAssistant,
		Kind:    models.KindOptions,
		Text:    fmt.Sprintf("## %s %d: %s\n\n%s", s.Track.Unit, n, ch.DisplayTitle(), ch.Content),
		Options: []models.Option{{Title: optionApprove}, {Title: optionChanges}},
		StepID:  step.ID,
	}}}
	if p.ChapterContent != "" {
		out.Analysis = &NextAction{Kind: ActionRequest, StepID: step.ID, Mode: ModeAnalysis, ChapterNumber: n}
	}
	return out, nil
}

// reconcileRevision 按反馈修订章节，停留在 review 阶段
func (e *Engine) reconcileRevision(s *Session, step workflow.Step, action NextAction, data json.RawMessage) (Outcome, error) {
	var p revisionPayload
	if err := decodeObject(data, &p); err != nil {
		return Outcome{}, err
	}
	if strings.TrimSpace(p.EditedContent) == "" {
		return Outcome{}, fmt.Errorf("editedContent is missing")
	}
	n := action.ChapterNumber
	if len(p.ChapterNumber) > 0 {
		parsed, err := decodeChapterNumber(p.ChapterNumber)
		if err != nil {
			return Outcome{}, err
		}
		n = parsed
	}
	if action.ChapterNumber != 0 && n != action.ChapterNumber {
		return Outcome{}, fmt.Errorf("expected a revision of chapter %d, got chapter %d", action.ChapterNumber, n)
	}
	ch, ok := s.Project.ChapterByNumber(n)
	if !ok {
		return Outcome{}, fmt.Errorf("chapter %d does not exist", n)
	}

	summary := SummarizeRevision(ch.Content, p.EditedContent)
	ch.Content = p.EditedContent
	ch.Advance(models.ChapterDrafted)

	text := fmt.Sprintf("## %s %d: %s (revised)\n\n%s", s.Track.Unit, n, ch.DisplayTitle(), ch.Content)
	if p.Feedback != "" {
		text = p.Feedback + "\n\n" + text
	}
	return Outcome{Messages: []models.ChatMessage{
		{
			Role:    models.RoleAssistant,
			Kind:    models.KindOptions,
			Text:    text,
			Options: []models.Option{{Title: optionApprove}, {Title: optionChanges}},
			StepID:  step.ID,
		},
		{
			Role:   models.RoleAssistant,
			Kind:   models.KindAdvisory,
			Text:   summary,
			StepID: step.ID,
		},
	}}, nil
}

// reconcileManuscript 整书审阅：按章节号合并，绝不按数组位置
func (e *Engine) reconcileManuscript(s *Session, step workflow.Step, data json.RawMessage) (Outcome, error) {
	p, err := decodeManuscript(data)
	if err != nil {
		return Outcome{}, err
	}

	type update struct {
		number  int
		title   string
		content string
	}
	updates := make([]update, 0, len(p.Chapters))
	for i, c := range p.Chapters {
		n, err := decodeChapterNumber(c.ChapterNumber)
		if err != nil {
			return Outcome{}, fmt.Errorf("chapters[%d]: %w", i, err)
		}
		if _, ok := s.Project.ChapterByNumber(n); !ok {
			return Outcome{}, fmt.Errorf("chapters[%d]: chapter %d does not exist", i, n)
		}
		updates = append(updates, update{number: n, title: c.ChapterTitle, content: c.ChapterContent})
	}

	for _, u := range updates {
		ch, _ := s.Project.ChapterByNumber(u.number)
		if u.title != "" {
			ch.Title = u.title
		}
		if u.content != "" {
			ch.Content = u.content
		}
	}

	text := p.Message
	if p.Feedback != "" {
		text = strings.TrimSpace(text + "\n\n" + p.Feedback)
	}
	if text == "" {
		text = fmt.Sprintf("The full manuscript has been compiled: %d %ss.", len(s.Project.Chapters), strings.ToLower(s.Track.Unit))
	}
	return Outcome{Messages: []models.ChatMessage{{
		Role:    models.RoleAssistant,
		Kind:    models.KindOptions,
		Text:    text,
		Options: []models.Option{{Title: optionApprove}, {Title: optionChanges}},
		StepID:  step.ID,
	}}}, nil
}

// reconcileFreeText 自由文本；步骤声明了 stateKey 时写入对应字段
func (e *Engine) reconcileFreeText(s *Session, step workflow.Step, data json.RawMessage) (Outcome, error) {
	var p freeTextPayload
	if err := decodeObject(data, &p); err != nil {
		return Outcome{}, err
	}
	body := strings.TrimSpace(p.body())
	if body == "" && strings.TrimSpace(p.Message) == "" {
		return Outcome{}, fmt.Errorf("message is missing")
	}
	if step.StateKey != "" && body != "" {
		if err := s.Project.Set(models.StateKey(step.StateKey), body); err != nil {
			return Outcome{}, err
		}
	}

	text := strings.TrimSpace(p.Message + "\n\n" + body)
	return Outcome{Messages: []models.ChatMessage{{
		Role:    models.RoleAssistant,
		Kind:    models.KindOptions,
		Text:    text,
		Options: []models.Option{{Title: optionProceed}},
		StepID:  step.ID,
	}}}, nil
}

// reconcileCoverConcepts 保存封面概念，随后由调用方生成图片
func (e *Engine) reconcileCoverConcepts(s *Session, step workflow.Step, data json.RawMessage) (Outcome, error) {
	var p optionsPayload
	if err := decodeObject(data, &p); err != nil {
		return Outcome{}, err
	}
	options := p.toOptions()
	if len(options) == 0 {
		return Outcome{}, fmt.Errorf("cover concepts are missing")
	}
	concepts := make([]string, 0, len(options))
	for _, o := range options {
		concept := o.Title
		if o.Description != "" {
			concept = o.Title + ": " + o.Description
		}
		concepts = append(concepts, concept)
	}
	if err := s.Project.SetList(models.StateKey(step.ListKey), concepts); err != nil {
		return Outcome{}, err
	}

	text := p.Message
	if text == "" {
		text = "Here are the cover concepts. Rendering them now..."
	}
	return Outcome{
		Messages: []models.ChatMessage{{
			Role:   models.RoleAssistant,
			Kind:   models.KindText,
			Text:   text,
			StepID: step.ID,
		}},
		NeedsCover: true,
	}, nil
}

// ApplyCoverImages 把生成的图片地址变成可选的封面选项并释放忙碌标志
func (e *Engine) ApplyCoverImages(s *Session, action NextAction, urls []string, genErr error) (Outcome, error) {
	if s.InFlight == nil || !s.InFlight.Same(action) {
		return Outcome{}, apperrors.NewConflictError("cover images do not match the request in flight", nil)
	}
	if genErr != nil {
		err := apperrors.NewBoundaryError("cover generation failed", genErr)
		return e.Fail(s, action, err), err
	}
	if len(urls) == 0 {
		err := apperrors.NewMalformedResponseError("cover generation returned no images", nil)
		return e.Fail(s, action, err), err
	}

	options := make([]models.Option, 0, len(urls))
	for i, url := range urls {
		options = append(options, models.Option{Title: fmt.Sprintf("Cover %d", i+1), Description: url})
	}
	s.IsLoading = false
	s.InFlight = nil
	msg := e.appendMessage(s, models.ChatMessage{
		Role:    models.RoleAssistant,
		Kind:    models.KindCover,
		Text:    "Pick the cover you like best, or ask me to regenerate them.",
		Options: options,
		StepID:  action.StepID,
	})
	return Outcome{Messages: []models.ChatMessage{msg}}, nil
}

// ApplyAnalysis 旁路章节分析，只追加一条建议消息，不改动状态
func (e *Engine) ApplyAnalysis(s *Session, action NextAction, result StepResult) (models.ChatMessage, bool) {
	if !result.Success {
		e.logger.Warn("chapter analysis failed", map[string]interface{}{
			"session": s.ID, "chapter": action.ChapterNumber, "error": result.Error,
		})
		return models.ChatMessage{}, false
	}
	var p analysisPayload
	if err := decodeObject(result.Data, &p); err != nil {
		e.logger.Warn("chapter analysis malformed", map[string]interface{}{
			"session": s.ID, "chapter": action.ChapterNumber, "error": err.Error(),
		})
		return models.ChatMessage{}, false
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📝 Analysis of %s %d", strings.ToLower(s.Track.Unit), action.ChapterNumber)
	if p.Summary != "" || p.Message != "" {
		fmt.Fprintf(&b, "\n\n%s", strings.TrimSpace(p.Message+" "+p.Summary))
	}
	if len(p.Strengths) > 0 {
		b.WriteString("\n\nStrengths:")
		for _, item := range p.Strengths {
			fmt.Fprintf(&b, "\n- %s", item)
		}
	}
	if len(p.Suggestions) > 0 {
		b.WriteString("\n\nSuggestions:")
		for _, item := range p.Suggestions {
			fmt.Fprintf(&b, "\n- %s", item)
		}
	}

	msg := e.appendMessage(s, models.ChatMessage{
		Role:   models.RoleAssistant,
		Kind:   models.KindAdvisory,
		Text:   b.String(),
		StepID: action.StepID,
	})
	return msg, true
}
