// internal/models/chapter.go
package models

import "strconv"

// ChapterStatus 章节生命周期状态
type ChapterStatus string

const (
	ChapterOutlined ChapterStatus = "outlined"
	ChapterDrafted  ChapterStatus = "drafted"
	ChapterReviewed ChapterStatus = "reviewed"
)

// Rank 状态的先后顺序，未知状态为 0
func (s ChapterStatus) Rank() int {
	switch s {
	case ChapterOutlined:
		return 1
	case ChapterDrafted:
		return 2
	case ChapterReviewed:
		return 3
	default:
		return 0
	}
}

// Chapter 书稿中的一章（或操作指南中的一个模块）
type Chapter struct {
	Number  int           `json:"number"`
	Title   string        `json:"title"`
	Summary string        `json:"summary"`
	Content string        `json:"content"`
	Status  ChapterStatus `json:"status"`
}

// Advance 把状态推进到 to；倒退的请求被忽略，返回是否发生了变化
func (c *Chapter) Advance(to ChapterStatus) bool {
	if to.Rank() <= c.Status.Rank() {
		return false
	}
	c.Status = to
	return true
}

// DisplayTitle 标题为空时回退到 "Chapter N"
func (c Chapter) DisplayTitle() string {
	if c.Title != "" {
		return c.Title
	}
	return "Chapter " + strconv.Itoa(c.Number)
}

// OutlineEntry 大纲中的一项
type OutlineEntry struct {
	ChapterTitle       string `json:"chapterTitle"`
	ChapterDescription string `json:"chapterDescription"`
}
