package llm

import (
	"context"
	"testing"

	"github.com/docquer/docquer/internal/apperr"
)

func TestToGemini(t *testing.T) {
	system, history, last, err := toGemini([]Message{
		{Role: RoleSystem, Content: "be helpful"},
		{Role: RoleUser, Content: "first question"},
		{Role: RoleAssistant, Content: "first answer"},
		{Role: RoleUser, Content: "second question"},
	})
	if err != nil {
		t.Fatalf("toGemini: %v", err)
	}
	if system != "be helpful" {
		t.Errorf("system = %q", system)
	}
	if last != "second question" {
		t.Errorf("last = %q", last)
	}
	if len(history) != 2 || history[0].Role != "user" || history[1].Role != "model" {
		t.Fatalf("history = %+v", history)
	}
}

func TestToGemini_MustEndWithUser(t *testing.T) {
	for _, msgs := range [][]Message{
		nil,
		{{Role: RoleSystem, Content: "s"}},
		{{Role: RoleUser, Content: "q"}, {Role: RoleAssistant, Content: "a"}},
	} {
		if _, _, _, err := toGemini(msgs); err == nil {
			t.Errorf("toGemini(%v) succeeded", msgs)
		}
	}
}

func TestGeminiChat_NoKey(t *testing.T) {
	_, err := NewGemini("", "").Chat(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if !apperr.Is(err, apperr.InvalidInput) {
		t.Errorf("err = %v, want InvalidInput", err)
	}
}
