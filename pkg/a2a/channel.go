package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/weftworks/weft/pkg/core"
	"github.com/weftworks/weft/pkg/errors"
)

// RequestDecorator mutates outbound requests, e.g. to attach credentials.
type RequestDecorator func(*http.Request)

// Channel is a dialed connection to one remote agent. It hides discovery
// and transport behind a single conversational Send.
type Channel struct {
	agent      AgentCard
	sendURL    string
	httpClient *http.Client
	decorators []RequestDecorator
}

// Option configures channel dialing.
type Option func(*dialConfig)

type dialConfig struct {
	httpClient *http.Client
	decorators []RequestDecorator
}

// WithHTTPClient overrides the HTTP client used for discovery and sends.
func WithHTTPClient(client *http.Client) Option {
	return func(c *dialConfig) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRequestDecorator adds a decorator applied to every outbound request.
func WithRequestDecorator(d RequestDecorator) Option {
	return func(c *dialConfig) {
		if d != nil {
			c.decorators = append(c.decorators, d)
		}
	}
}

// Dial discovers the endpoint's agent card, selects the named agent, and
// returns a channel bound to it.
func Dial(ctx context.Context, endpoint, agentName string, opts ...Option) (*Channel, error) {
	cfg := &dialConfig{
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	card, err := Fetch(ctx, cfg.httpClient, endpoint)
	if err != nil {
		return nil, err
	}
	agent, err := Select(card, agentName)
	if err != nil {
		return nil, err
	}

	base := agent.URL
	if base == "" {
		base = endpoint
	}
	return &Channel{
		agent:      *agent,
		sendURL:    strings.TrimRight(base, "/") + MessagePath,
		httpClient: cfg.httpClient,
		decorators: cfg.decorators,
	}, nil
}

// Agent returns the card of the agent this channel is bound to.
func (c *Channel) Agent() AgentCard { return c.agent }

type sendRequest struct {
	Agent    string      `json:"agent,omitempty"`
	Messages []core.Turn `json:"messages"`
}

type sendResponse struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// Send forwards one conversational turn set to the remote agent and
// returns its response message.
func (c *Channel) Send(ctx context.Context, history core.History) (string, error) {
	payload, err := json.Marshal(sendRequest{Agent: c.agent.Name, Messages: history})
	if err != nil {
		return "", errors.New(errors.CodeInternal, "cannot encode channel request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sendURL, bytes.NewReader(payload))
	if err != nil {
		return "", errors.New(errors.CodeRemoteUnavailable, "cannot build channel request", err)
	}
	req.Header.Set("Content-Type", MediaType)
	req.Header.Set("Accept", MediaType)
	for _, decorate := range c.decorators {
		decorate(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", mapTransportError(ctx, err, "remote agent send failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return "", errors.Newf(errors.CodeRemoteTimeout, "remote agent timed out: %s", resp.Status)
	default:
		return "", errors.Newf(errors.CodeRemoteUnavailable, "remote agent send failed: %s", resp.Status)
	}

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errors.New(errors.CodeRemoteUnavailable, "channel response is not valid json", err)
	}
	if out.Error != "" {
		return "", errors.Newf(errors.CodeRemoteUnavailable, "remote agent error: %s", out.Error)
	}
	return out.Content, nil
}
