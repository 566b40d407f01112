package planner

import (
	"fmt"

	"ChainPilot/internal/session"
)

const (
	defaultUserTurns      = 6
	defaultAssistantTurns = 6
	defaultResultBudget   = 2000
)

// Window 决定每次咨询回放多少会话历史：最近 N 条用户消息、
// 最近 M 条助手消息，以及全部能力结果。结果一条都不静默丢弃，
// 但超长结果会被截断并标注。
type Window struct {
	MaxUserTurns      int
	MaxAssistantTurns int
	// ResultBudget 是单条能力结果回放的字符预算。
	ResultBudget int
}

// NewWindow 创建窗口管理器，非法参数回落到默认值。
func NewWindow(userTurns, assistantTurns, resultBudget int) Window {
	if userTurns <= 0 {
		userTurns = defaultUserTurns
	}
	if assistantTurns <= 0 {
		assistantTurns = defaultAssistantTurns
	}
	if resultBudget <= 0 {
		resultBudget = defaultResultBudget
	}
	return Window{
		MaxUserTurns:      userTurns,
		MaxAssistantTurns: assistantTurns,
		ResultBudget:      resultBudget,
	}
}

// Trim 从规范历史派生回放视图，不修改原始历史。
// 系统消息与能力结果全部保留，用户与助手消息只保留最近若干条。
func (w Window) Trim(messages []session.Message) []session.Message {
	keep := make([]bool, len(messages))
	userSeen, assistantSeen := 0, 0
	for i := len(messages) - 1; i >= 0; i-- {
		switch messages[i].Role {
		case session.RoleUser:
			if userSeen < w.MaxUserTurns {
				keep[i] = true
				userSeen++
			}
		case session.RoleAssistant:
			if assistantSeen < w.MaxAssistantTurns {
				keep[i] = true
				assistantSeen++
			}
		default:
			keep[i] = true
		}
	}

	trimmed := make([]session.Message, 0, len(messages))
	for i, message := range messages {
		if !keep[i] {
			continue
		}
		if message.Role == session.RoleFunction {
			message.Content = w.truncate(message.Content)
		}
		trimmed = append(trimmed, message)
	}
	return trimmed
}

// truncate 把超长结果截断到预算之内并加上显式标记。
func (w Window) truncate(content string) string {
	runes := []rune(content)
	if len(runes) <= w.ResultBudget {
		return content
	}
	return string(runes[:w.ResultBudget]) + fmt.Sprintf(" [truncated from %d chars]", len(runes))
}
