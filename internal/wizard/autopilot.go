// internal/wizard/autopilot.go
package wizard

import "github.com/Corphon/BookForge/internal/models"

// NextAutoPilotInput 模拟用户：取最近一条可操作助手消息的第一个选项，
// 否则回复通用确认。旁路建议消息不算在内。
func NextAutoPilotInput(transcript []models.ChatMessage) string {
	for i := len(transcript) - 1; i >= 0; i-- {
		msg := transcript[i]
		if msg.Role != models.RoleAssistant || msg.Kind == models.KindAdvisory {
			continue
		}
		if msg.Kind == models.KindError {
			return AffirmativeReply
		}
		if msg.Actionable() {
			return msg.Options[0].Title
		}
		return AffirmativeReply
	}
	return AffirmativeReply
}

// AutoPilotReady 自动驾驶只能在空闲且未完成时触发
func AutoPilotReady(s *Session) bool {
	return s.AutoPilot && !s.IsLoading && !s.Completed
}
