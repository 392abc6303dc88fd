// Package core holds the small shared contracts of the runtime:
// conversation turns, the tool capability, and the memory capability.
package core

import (
	"context"
	"fmt"
	"strings"
)

// Turn is a single entry of a process transcript: which agent spoke
// and what it said.
type Turn struct {
	Agent   string `json:"agent"`
	Content string `json:"content"`
}

// History is the ordered transcript of a run. It is append-only during a
// run and owned exclusively by the run that created it.
type History []Turn

// Append returns a new history with the turn added. The receiver is not
// mutated so borrowed snapshots stay valid.
func (h History) Append(agent, content string) History {
	return append(h[:len(h):len(h)], Turn{Agent: agent, Content: content})
}

// Transcript renders the history as "agent: content" lines for prompt
// templating.
func (h History) Transcript() string {
	if len(h) == 0 {
		return ""
	}
	var b strings.Builder
	for i, turn := range h {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", turn.Agent, turn.Content)
	}
	return b.String()
}

// Last returns the most recent turn, or a zero Turn for empty histories.
func (h History) Last() Turn {
	if len(h) == 0 {
		return Turn{}
	}
	return h[len(h)-1]
}

// Tool is a concrete callable capability, typically backed by an MCP
// server or an OpenAPI operation.
type Tool interface {
	Name() string
	Call(ctx context.Context, input any) (any, error)
}

// MemoryEntry is one item returned by a memory query.
type MemoryEntry struct {
	Content  string            `json:"content"`
	Score    float32           `json:"score,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Memory is the external persistence capability. Implementations return
// entries ordered by relevance or recency.
type Memory interface {
	Query(ctx context.Context, criteria string, limit int) ([]MemoryEntry, error)
}
