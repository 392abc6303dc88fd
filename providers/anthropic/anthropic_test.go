// SPDX-License-Identifier: Apache-2.0

package anthropic

import (
	"testing"

	"github.com/weftworks/weft/pkg/llm"
)

func TestProviderImplementsInterface(t *testing.T) {
	var _ llm.Provider = (*Provider)(nil)
}

func TestNewProvider(t *testing.T) {
	p := New()
	if p == nil {
		t.Fatal("expected non-nil provider")
	}
	if p.model != "claude-sonnet-4-20250514" {
		t.Errorf("expected model claude-sonnet-4-20250514, got %s", p.model)
	}
	if p.maxTokens != 4096 {
		t.Errorf("expected maxTokens 4096, got %d", p.maxTokens)
	}
}

func TestWithMaxTokens(t *testing.T) {
	p := New(WithMaxTokens(8192))
	if p.maxTokens != 8192 {
		t.Errorf("expected maxTokens 8192, got %d", p.maxTokens)
	}
}

func TestConvertMessages(t *testing.T) {
	tests := []struct {
		name string
		msg  llm.Message
	}{
		{name: "user message", msg: llm.Message{Role: llm.RoleUser, Content: "Hello"}},
		{name: "assistant message", msg: llm.Message{Role: llm.RoleAssistant, Content: "Hi there"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Just verify conversion doesn't panic
			_ = convertMessage(tt.msg)
		})
	}
}
