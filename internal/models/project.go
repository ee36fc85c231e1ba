// internal/models/project.go
package models

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// StateKey 项目状态记录中可识别的字段名（封闭集合）
type StateKey string

const (
	KeyFormat         StateKey = "format"
	KeyGenre          StateKey = "genre"
	KeyTitle          StateKey = "title"
	KeyCoreIdea       StateKey = "coreIdea"
	KeyVibe           StateKey = "vibe"
	KeyAudience       StateKey = "audience"
	KeyStoryline      StateKey = "storyline"
	KeyCharacters     StateKey = "characters"
	KeyChapterCount   StateKey = "chapterCount"
	KeyGlobalOutline  StateKey = "globalOutline"
	KeyKDPKeywords    StateKey = "kdpKeywords"
	KeyBookCategories StateKey = "bookCategories"
	KeyBlurb          StateKey = "blurb"
	KeyCoverOptions   StateKey = "coverOptions"
	KeyCoverImageURL  StateKey = "coverImageUrl"
)

var knownKeys = map[StateKey]bool{
	KeyFormat: true, KeyGenre: true, KeyTitle: true, KeyCoreIdea: true,
	KeyVibe: true, KeyAudience: true, KeyStoryline: true, KeyCharacters: true,
	KeyChapterCount: true, KeyGlobalOutline: true, KeyKDPKeywords: true,
	KeyBookCategories: true, KeyBlurb: true, KeyCoverOptions: true, KeyCoverImageURL: true,
}

// IsKnownKey 判断是否属于封闭字段集合
func IsKnownKey(key StateKey) bool {
	return knownKeys[key]
}

// ProjectState 正在创作中的书籍
type ProjectState struct {
	Format         string    `json:"format"`
	Genre          string    `json:"genre"`
	Title          string    `json:"title"`
	CoreIdea       string    `json:"coreIdea"`
	Vibe           string    `json:"vibe"`
	Audience       string    `json:"audience"`
	Storyline      string    `json:"storyline"`
	Characters     string    `json:"characters"`
	ChapterCount   int       `json:"chapterCount"`
	GlobalOutline  string    `json:"globalOutline"`
	Chapters       []Chapter `json:"chapters"`
	KDPKeywords    []string  `json:"kdpKeywords"`
	BookCategories []string  `json:"bookCategories"`
	Blurb          string    `json:"blurb"`
	CoverOptions   []string  `json:"coverOptions"`
	CoverImageURL  string    `json:"coverImageUrl"`

	// Decisions 以步骤标题为键保存用户的选择，例如 "Genre Defined"
	Decisions map[string]string `json:"decisions"`
}

// NewProjectState 创建空的项目状态
func NewProjectState() *ProjectState {
	return &ProjectState{
		Chapters:  []Chapter{},
		Decisions: make(map[string]string),
	}
}

// Set 写入一个标量字段。列表字段请使用 SetList。
func (p *ProjectState) Set(key StateKey, value string) error {
	switch key {
	case KeyFormat:
		p.Format = value
	case KeyGenre:
		p.Genre = value
	case KeyTitle:
		p.Title = value
	case KeyCoreIdea:
		p.CoreIdea = value
	case KeyVibe:
		p.Vibe = value
	case KeyAudience:
		p.Audience = value
	case KeyStoryline:
		p.Storyline = value
	case KeyCharacters:
		p.Characters = value
	case KeyChapterCount:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("chapterCount must be an integer: %w", err)
		}
		p.ChapterCount = n
	case KeyGlobalOutline:
		p.GlobalOutline = value
	case KeyBlurb:
		p.Blurb = value
	case KeyCoverImageURL:
		p.CoverImageURL = value
	case KeyKDPKeywords, KeyBookCategories, KeyCoverOptions:
		return fmt.Errorf("%s is a list field", key)
	default:
		return fmt.Errorf("unknown state key %q", key)
	}
	return nil
}

// SetList 写入一个列表字段
func (p *ProjectState) SetList(key StateKey, items []string) error {
	cp := append([]string(nil), items...)
	switch key {
	case KeyKDPKeywords:
		p.KDPKeywords = cp
	case KeyBookCategories:
		p.BookCategories = cp
	case KeyCoverOptions:
		p.CoverOptions = cp
	default:
		return fmt.Errorf("%s is not a list field", key)
	}
	return nil
}

// Lookup 读取字段的文本形式；未设置时返回 false
func (p *ProjectState) Lookup(key StateKey) (string, bool) {
	var value string
	switch key {
	case KeyFormat:
		value = p.Format
	case KeyGenre:
		value = p.Genre
	case KeyTitle:
		value = p.Title
	case KeyCoreIdea:
		value = p.CoreIdea
	case KeyVibe:
		value = p.Vibe
	case KeyAudience:
		value = p.Audience
	case KeyStoryline:
		value = p.Storyline
	case KeyCharacters:
		value = p.Characters
	case KeyChapterCount:
		if p.ChapterCount > 0 {
			value = strconv.Itoa(p.ChapterCount)
		}
	case KeyGlobalOutline:
		value = p.GlobalOutline
	case KeyKDPKeywords:
		value = strings.Join(p.KDPKeywords, ", ")
	case KeyBookCategories:
		value = strings.Join(p.BookCategories, ", ")
	case KeyBlurb:
		value = p.Blurb
	case KeyCoverOptions:
		value = strings.Join(p.CoverOptions, ", ")
	case KeyCoverImageURL:
		value = p.CoverImageURL
	}
	return value, value != ""
}

// Decide 以步骤标题为键记录选择
func (p *ProjectState) Decide(stepTitle, value string) {
	if p.Decisions == nil {
		p.Decisions = make(map[string]string)
	}
	p.Decisions[stepTitle] = value
}

// Decision 取出某个步骤标题下记录的选择
func (p *ProjectState) Decision(stepTitle string) (string, bool) {
	v, ok := p.Decisions[stepTitle]
	return v, ok
}

// ChapterByNumber 按编号查找章节，不依赖列表位置
func (p *ProjectState) ChapterByNumber(number int) (*Chapter, bool) {
	for i := range p.Chapters {
		if p.Chapters[i].Number == number {
			return &p.Chapters[i], true
		}
	}
	return nil, false
}

// UpsertChapter 按编号创建或更新章节，列表保持升序。
// 空文本字段不会覆盖已有内容，状态只会前进。
func (p *ProjectState) UpsertChapter(ch Chapter) *Chapter {
	if existing, ok := p.ChapterByNumber(ch.Number); ok {
		if ch.Title != "" {
			existing.Title = ch.Title
		}
		if ch.Summary != "" {
			existing.Summary = ch.Summary
		}
		if ch.Content != "" {
			existing.Content = ch.Content
		}
		existing.Advance(ch.Status)
		return existing
	}

	if ch.Status == "" {
		ch.Status = ChapterOutlined
	}
	p.Chapters = append(p.Chapters, ch)
	sort.SliceStable(p.Chapters, func(i, j int) bool {
		return p.Chapters[i].Number < p.Chapters[j].Number
	})
	created, _ := p.ChapterByNumber(ch.Number)
	return created
}

// Clone 深拷贝，供只读快照使用
func (p *ProjectState) Clone() *ProjectState {
	cp := *p
	cp.Chapters = append([]Chapter(nil), p.Chapters...)
	cp.KDPKeywords = append([]string(nil), p.KDPKeywords...)
	cp.BookCategories = append([]string(nil), p.BookCategories...)
	cp.CoverOptions = append([]string(nil), p.CoverOptions...)
	cp.Decisions = make(map[string]string, len(p.Decisions))
	for k, v := range p.Decisions {
		cp.Decisions[k] = v
	}
	return &cp
}
