// internal/wizard/payloads.go
package wizard

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/Corphon/BookForge/internal/models"
)

// payloadOption 兼容 "Title" 字符串和 {title, description} 对象两种写法
type payloadOption struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (o *payloadOption) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		o.Title = text
		return nil
	}
	type plain payloadOption
	var obj plain
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("option must be a string or an object: %w", err)
	}
	*o = payloadOption(obj)
	return nil
}

// optionsPayload {message, options[], bestOption?}
type optionsPayload struct {
	Message    string          `json:"message"`
	Options    []payloadOption `json:"options"`
	BestOption string          `json:"bestOption"`
}

func (p optionsPayload) toOptions() []models.Option {
	out := make([]models.Option, 0, len(p.Options))
	for _, o := range p.Options {
		if strings.TrimSpace(o.Title) == "" {
			continue
		}
		out = append(out, models.Option{Title: strings.TrimSpace(o.Title), Description: o.Description})
	}
	return out
}

// listPayload {message, items[]}
type listPayload struct {
	Message string   `json:"message"`
	Items   []string `json:"items"`
}

// outlinePayload {message, outline: [...] | "..."}
type outlinePayload struct {
	Message string          `json:"message"`
	Outline json.RawMessage `json:"outline"`
}

// ideaPayload 章节构思
type ideaPayload struct {
	Message      string `json:"message"`
	ChapterTitle string `json:"chapterTitle"`
	ChapterIdea  string `json:"chapterIdea"`
}

// chapterDraftPayload {chapterNumber, chapterTitle, chapterContent}
type chapterDraftPayload struct {
	ChapterNumber  json.RawMessage `json:"chapterNumber"`
	ChapterTitle   string          `json:"chapterTitle"`
	ChapterContent string          `json:"chapterContent"`
	Message        string          `json:"message"`
}

// revisionPayload {editedContent, feedback}
type revisionPayload struct {
	ChapterNumber json.RawMessage `json:"chapterNumber"`
	EditedContent string          `json:"editedContent"`
	Feedback      string          `json:"feedback"`
}

// manuscriptPayload 整本书审阅：章节数组或 {message, chapters[]}
type manuscriptPayload struct {
	Message  string                `json:"message"`
	Feedback string                `json:"feedback"`
	Chapters []chapterDraftPayload `json:"chapters"`
}

// freeTextPayload {message, text}
type freeTextPayload struct {
	Message string `json:"message"`
	Text    string `json:"text"`
	Content string `json:"content"`
}

func (p freeTextPayload) body() string {
	if p.Text != "" {
		return p.Text
	}
	return p.Content
}

// analysisPayload 章节分析（旁路建议）
type analysisPayload struct {
	Message     string   `json:"message"`
	Summary     string   `json:"summary"`
	Strengths   []string `json:"strengths"`
	Suggestions []string `json:"suggestions"`
}

func decodeObject(data json.RawMessage, v interface{}) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("expected a JSON object")
	}
	return json.Unmarshal(trimmed, v)
}

// decodeChapterNumber 要求 JSON 数字且为正整数
func decodeChapterNumber(raw json.RawMessage) (int, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return 0, fmt.Errorf("chapterNumber is missing")
	}
	var f float64
	if trimmed[0] == '"' || json.Unmarshal(trimmed, &f) != nil {
		return 0, fmt.Errorf("chapterNumber is not a number")
	}
	if f != math.Trunc(f) || f < 1 {
		return 0, fmt.Errorf("chapterNumber %v is not a positive integer", f)
	}
	return int(f), nil
}

// decodeOutline 大纲可以是结构化数组，也可以是一段文本
func decodeOutline(raw json.RawMessage) ([]models.OutlineEntry, string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, "", fmt.Errorf("outline is missing")
	}
	switch trimmed[0] {
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return nil, "", err
		}
		if strings.TrimSpace(text) == "" {
			return nil, "", fmt.Errorf("outline is empty")
		}
		return nil, text, nil
	case '[':
		var entries []models.OutlineEntry
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, "", fmt.Errorf("outline entries are malformed: %w", err)
		}
		if len(entries) == 0 {
			return nil, "", fmt.Errorf("outline is empty")
		}
		return entries, renderOutline(entries), nil
	default:
		return nil, "", fmt.Errorf("outline must be an array or a string")
	}
}

func renderOutline(entries []models.OutlineEntry) string {
	var b strings.Builder
	for i, e := range entries {
		fmt.Fprintf(&b, "%d. %s", i+1, e.ChapterTitle)
		if e.ChapterDescription != "" {
			fmt.Fprintf(&b, ": %s", e.ChapterDescription)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// decodeManuscript 接受章节数组或带 chapters 字段的对象
func decodeManuscript(data json.RawMessage) (manuscriptPayload, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return manuscriptPayload{}, fmt.Errorf("empty response")
	}
	var out manuscriptPayload
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &out.Chapters); err != nil {
			return manuscriptPayload{}, fmt.Errorf("chapters are malformed: %w", err)
		}
	} else if err := decodeObject(trimmed, &out); err != nil {
		return manuscriptPayload{}, err
	}
	if len(out.Chapters) == 0 {
		return manuscriptPayload{}, fmt.Errorf("chapters are missing")
	}
	return out, nil
}
