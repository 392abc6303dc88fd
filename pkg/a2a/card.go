// Package a2a implements the client side of the agent-to-agent channel:
// well-known agent-card discovery and conversational message exchange
// over HTTP+JSON.
package a2a

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/weftworks/weft/pkg/errors"
)

// Discovery constants for agent-card HTTP endpoints.
const (
	// WellKnownPath is the standardized location for agent-card discovery.
	WellKnownPath = "/.well-known/agent-card.json"
	// MessagePath is the conversational turn endpoint relative to the card URL.
	MessagePath = "/message:send"
	// MediaType is the media type for channel JSON payloads.
	MediaType = "application/a2a+json"
)

// Skill describes one advertised capability of a remote agent.
type Skill struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// AgentCard describes a remote agent. Endpoints hosting several agents
// advertise them under Agents; each entry may carry its own URL.
type AgentCard struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Version     string      `json:"version,omitempty"`
	URL         string      `json:"url,omitempty"`
	Skills      []Skill     `json:"skills,omitempty"`
	Agents      []AgentCard `json:"agents,omitempty"`
}

// Fetch retrieves the agent card published at a base URL.
func Fetch(ctx context.Context, client *http.Client, baseURL string) (*AgentCard, error) {
	if client == nil {
		client = http.DefaultClient
	}
	url := strings.TrimRight(baseURL, "/") + WellKnownPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.New(errors.CodeRemoteUnavailable, "cannot build discovery request", err)
	}
	req.Header.Set("Accept", MediaType)

	resp, err := client.Do(req)
	if err != nil {
		return nil, mapTransportError(ctx, err, "agent card fetch failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf(errors.CodeRemoteUnavailable, "agent card fetch failed: %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.New(errors.CodeRemoteUnavailable, "agent card read failed", err)
	}

	var card AgentCard
	if err := json.Unmarshal(body, &card); err != nil {
		return nil, errors.New(errors.CodeRemoteUnavailable, "agent card is not valid json", err)
	}
	return &card, nil
}

// Select picks the named agent from a card. An empty name selects the card
// itself, which is only valid when the endpoint advertises a single agent.
func Select(card *AgentCard, name string) (*AgentCard, error) {
	if name == "" {
		if len(card.Agents) > 1 {
			return nil, errors.Newf(errors.CodeUnresolvedReference,
				"endpoint advertises %d agents; channel must name one", len(card.Agents))
		}
		if len(card.Agents) == 1 {
			chosen := card.Agents[0]
			return &chosen, nil
		}
		return card, nil
	}
	if card.Name == name {
		return card, nil
	}
	for _, sub := range card.Agents {
		if sub.Name == name {
			chosen := sub
			return &chosen, nil
		}
	}
	return nil, errors.Newf(errors.CodeUnresolvedReference,
		"endpoint does not advertise agent %q", name)
}

func mapTransportError(ctx context.Context, err error, msg string) error {
	if ctx.Err() != nil {
		return errors.New(errors.CodeRemoteTimeout, msg, err)
	}
	return errors.New(errors.CodeRemoteUnavailable, msg, err)
}
