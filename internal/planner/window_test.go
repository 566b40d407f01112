package planner

import (
	"fmt"
	"strings"
	"testing"

	"ChainPilot/internal/session"
)

func TestWindowTrimKeepsRecentTurns(t *testing.T) {
	window := NewWindow(2, 1, 100)

	var messages []session.Message
	messages = append(messages, session.Message{Role: session.RoleSystem, Content: "你是加密资产助手"})
	for i := 0; i < 5; i++ {
		messages = append(messages, session.Message{Role: session.RoleUser, Content: fmt.Sprintf("user-%d", i)})
		messages = append(messages, session.Message{Role: session.RoleAssistant, Content: fmt.Sprintf("assistant-%d", i)})
	}

	trimmed := window.Trim(messages)

	var users, assistants, systems int
	for _, message := range trimmed {
		switch message.Role {
		case session.RoleUser:
			users++
		case session.RoleAssistant:
			assistants++
		case session.RoleSystem:
			systems++
		}
	}
	if users != 2 || assistants != 1 || systems != 1 {
		t.Fatalf("unexpected window: users=%d assistants=%d systems=%d", users, assistants, systems)
	}
	if trimmed[len(trimmed)-1].Content != "assistant-4" {
		t.Fatalf("应保留最近的消息, got %s", trimmed[len(trimmed)-1].Content)
	}
	if trimmed[1].Content != "user-3" {
		t.Fatalf("应保留最近两条用户消息, got %s", trimmed[1].Content)
	}
}

func TestWindowKeepsAllFunctionResults(t *testing.T) {
	window := NewWindow(1, 1, 100)

	var messages []session.Message
	for i := 0; i < 8; i++ {
		messages = append(messages, session.Message{
			Role:    session.RoleFunction,
			Name:    "price_lookup",
			Content: fmt.Sprintf(`{"price": %d}`, i),
		})
		messages = append(messages, session.Message{Role: session.RoleUser, Content: fmt.Sprintf("u%d", i)})
	}

	trimmed := window.Trim(messages)
	functions := 0
	for _, message := range trimmed {
		if message.Role == session.RoleFunction {
			functions++
		}
	}
	if functions != 8 {
		t.Fatalf("能力结果一条都不能丢, got %d", functions)
	}
}

func TestWindowTruncatesLongResults(t *testing.T) {
	window := NewWindow(6, 6, 10)
	long := strings.Repeat("x", 25)
	messages := []session.Message{
		{Role: session.RoleFunction, Name: "chain_snapshot", Content: long},
	}

	trimmed := window.Trim(messages)
	got := trimmed[0].Content
	want := strings.Repeat("x", 10) + " [truncated from 25 chars]"
	if got != want {
		t.Fatalf("截断标记不符: %q", got)
	}

	// 原始历史不能被修改。
	if messages[0].Content != long {
		t.Fatalf("Trim 不应修改原始消息")
	}
}
