// SPDX-License-Identifier: Apache-2.0

package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	cause := stderrors.New("dial tcp: connection refused")
	err := New(CodeProviderUnavailable, "ollama unreachable", cause)

	msg := err.Error()
	if !strings.Contains(msg, "PROVIDER_UNAVAILABLE") {
		t.Errorf("expected code in message, got %q", msg)
	}
	if !strings.Contains(msg, "connection refused") {
		t.Errorf("expected cause in message, got %q", msg)
	}
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("root cause")
	err := New(CodeRemoteTimeout, "channel timed out", cause)

	if !stderrors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}

func TestRecoverableDefaults(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want bool
	}{
		{CodeProviderUnavailable, true},
		{CodeProviderTimeout, true},
		{CodeRemoteUnavailable, true},
		{CodeRemoteTimeout, true},
		{CodeProviderRejected, false},
		{CodeCyclicReference, false},
		{CodeMissingVariable, false},
		{CodeSelectionOutOfRange, false},
	}
	for _, tt := range tests {
		if got := New(tt.code, "x", nil).Recoverable; got != tt.want {
			t.Errorf("code %s: recoverable = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestWithContextChaining(t *testing.T) {
	err := New(CodeUnresolvedReference, "unknown kernel", nil).
		WithContext("component", "agents/GrammarBot/kernel").
		WithRecoverable(false)

	if err.Context["component"] != "agents/GrammarBot/kernel" {
		t.Errorf("context not set: %v", err.Context)
	}
	if err.Recoverable {
		t.Error("expected not recoverable")
	}
}

func TestCodeOf(t *testing.T) {
	if CodeOf(nil) != "" {
		t.Error("nil error should yield empty code")
	}
	if CodeOf(stderrors.New("plain")) != CodeInternal {
		t.Error("untyped error should map to CodeInternal")
	}
	if !IsCode(New(CodeCancelled, "stop", nil), CodeCancelled) {
		t.Error("IsCode failed for typed error")
	}
}

func TestAsWeftError(t *testing.T) {
	orig := New(CodeSchemaViolation, "bad output", nil)
	if AsWeftError(orig) != orig {
		t.Error("expected identity for typed errors")
	}
	wrapped := AsWeftError(stderrors.New("plain"))
	if wrapped.Code != CodeInternal {
		t.Errorf("expected CodeInternal, got %s", wrapped.Code)
	}
	if AsWeftError(nil) != nil {
		t.Error("expected nil for nil error")
	}
}
