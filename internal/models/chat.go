// internal/models/chat.go
package models

import "time"

// MessageRole 对话消息的发送者
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// MessageKind 消息的呈现方式
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindOptions  MessageKind = "options"
	KindList     MessageKind = "list"
	KindAdvisory MessageKind = "advisory"
	KindError    MessageKind = "error"
	KindCover    MessageKind = "cover"
)

// Option 可供用户选择的一项
type Option struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ChatMessage 会话记录中的一条消息
type ChatMessage struct {
	ID         string      `json:"id"`
	Role       MessageRole `json:"role"`
	Kind       MessageKind `json:"kind"`
	Text       string      `json:"text"`
	Options    []Option    `json:"options,omitempty"`
	BestOption string      `json:"bestOption,omitempty"`
	StepID     string      `json:"stepId,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// Actionable 是否给用户提供了可选项
func (m ChatMessage) Actionable() bool {
	return m.Role == RoleAssistant && len(m.Options) > 0
}
