// internal/wizard/intent.go
package wizard

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Corphon/BookForge/internal/models"
	"github.com/Corphon/BookForge/internal/workflow"
)

const (
	// DefaultChapterCount 用户回复中没有数字时使用
	DefaultChapterCount = 3
	// MaxChapterCount 单本书章节数上限
	MaxChapterCount = 100
)

var firstInteger = regexp.MustCompile(`\d+`)

// ParseChapterCount 取文本中的第一个整数；没有数字或不为正时返回默认值
func ParseChapterCount(text string) int {
	match := firstInteger.FindString(text)
	if match == "" {
		return DefaultChapterCount
	}
	n, err := strconv.Atoi(match)
	if err != nil || n < 1 {
		return DefaultChapterCount
	}
	if n > MaxChapterCount {
		return MaxChapterCount
	}
	return n
}

var (
	regenerateWords = []string{"regenerate", "another idea", "new idea", "try again", "generate another", "different idea"}
	changeWords     = regexp.MustCompile(`\b(changes?|revise|edit|rewrite|improve|fix)\b`)
	noChangeWords   = regexp.MustCompile(`\b(no|without|not any|zero)\s+(more\s+|further\s+|other\s+)?(changes?|edits?|revisions?|fixes)\b|\bnothing to (change|edit|fix|revise)\b`)
)

// optionIntents 引擎自己给出的选项标题对应的回应
var optionIntents = map[string]workflow.UserAction{
	strings.ToLower(optionUseIdea):     workflow.ActionApprove,
	strings.ToLower(optionAnotherIdea): workflow.ActionRegenerate,
	strings.ToLower(optionApprove):     workflow.ActionApprove,
	strings.ToLower(optionChanges):     workflow.ActionRequestChanges,
	strings.ToLower(optionProceed):     workflow.ActionApprove,
}

// classify 把用户输入归类为一种回应。
// 顺序：显式 Action，上一条消息的选项标题，否定短语，关键词。
func classify(input UserInput, options []models.Option) workflow.UserAction {
	switch strings.ToLower(strings.TrimSpace(input.Action)) {
	case "regenerate":
		return workflow.ActionRegenerate
	case "request_changes", "changes", "revise":
		return workflow.ActionRequestChanges
	case "approve", "accept", "continue":
		return workflow.ActionApprove
	case "select", "select_option":
		return workflow.ActionSelectOption
	}

	lower := strings.ToLower(strings.TrimSpace(input.Text))
	for _, option := range options {
		if !strings.EqualFold(strings.TrimSpace(option.Title), lower) {
			continue
		}
		if intent, ok := optionIntents[lower]; ok {
			return intent
		}
		return workflow.ActionSelectOption
	}

	for _, word := range regenerateWords {
		if strings.Contains(lower, word) {
			return workflow.ActionRegenerate
		}
	}
	if noChangeWords.MatchString(lower) {
		return workflow.ActionApprove
	}
	if changeWords.MatchString(lower) {
		return workflow.ActionRequestChanges
	}
	return workflow.ActionApprove
}
