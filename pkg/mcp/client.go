// SPDX-License-Identifier: Apache-2.0

// Package mcp connects toolsets to MCP servers and adapts their tools to
// the runtime's tool contract.
package mcp

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/weftworks/weft/pkg/errors"
	"github.com/weftworks/weft/pkg/resilience"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultCacheTTL = 30 * time.Second
	clientName      = "weft-client"
	clientVersion   = "0.1.0"
)

// ClientOption customizes the client wrapper behavior.
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRetry replaces the request retry policy.
func WithRetry(rc resilience.RetryConfig) ClientOption {
	return func(c *Client) { c.retry = rc }
}

// WithToolCacheTTL sets the tool discovery cache TTL. Use 0 to disable.
func WithToolCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		if ttl >= 0 {
			c.cacheTTL = ttl
		}
	}
}

// Client wraps an mcp-go client with timeouts, request retries, and a
// short-lived tool discovery cache.
type Client struct {
	mcpClient client.MCPClient
	timeout   time.Duration
	retry     resilience.RetryConfig
	cacheTTL  time.Duration

	mu          sync.Mutex
	toolsCache  []mcpgo.Tool
	cacheExpiry time.Time
}

// NewClient wraps an existing MCP client implementation.
func NewClient(c client.MCPClient, opts ...ClientOption) *Client {
	wrapped := &Client{
		mcpClient: c,
		timeout:   defaultTimeout,
		cacheTTL:  defaultCacheTTL,
		// Transport hiccups are worth one more attempt; context ends
		// are not.
		retry: resilience.DefaultRetryConfig().WithIsRecoverable(func(err error) bool {
			return !stderrors.Is(err, context.Canceled) && !stderrors.Is(err, context.DeadlineExceeded)
		}),
	}
	for _, opt := range opts {
		opt(wrapped)
	}
	return wrapped
}

// NewClientWithStdio starts an MCP server subprocess and connects to it
// over stdio.
func NewClientWithStdio(ctx context.Context, command string, args []string, opts ...ClientOption) (*Client, error) {
	stdioClient, err := client.NewStdioMCPClient(command, nil, args...)
	if err != nil {
		return nil, errors.New(errors.CodeToolFailure, "cannot start mcp server process", err)
	}
	return initialize(ctx, stdioClient, opts...)
}

// NewClientWithStreamableHTTP connects to a remote MCP server over
// streamable HTTP.
func NewClientWithStreamableHTTP(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	httpClient, err := client.NewStreamableHttpClient(url)
	if err != nil {
		return nil, errors.New(errors.CodeToolFailure, "cannot create mcp http client", err)
	}
	return initialize(ctx, httpClient, opts...)
}

func initialize(ctx context.Context, mcpClient *client.Client, opts ...ClientOption) (*Client, error) {
	if err := mcpClient.Start(ctx); err != nil {
		return nil, errors.New(errors.CodeToolFailure, "cannot start mcp client", err)
	}

	initCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	initRequest := mcpgo.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcpgo.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}
	if _, err := mcpClient.Initialize(initCtx, initRequest); err != nil {
		_ = mcpClient.Close()
		return nil, errors.New(errors.CodeToolFailure, "mcp initialize handshake failed", err)
	}
	return NewClient(mcpClient, opts...), nil
}

// ListTools retrieves the tools advertised by the server.
func (c *Client) ListTools(ctx context.Context) ([]mcpgo.Tool, error) {
	if cached := c.cachedTools(); cached != nil {
		return cached, nil
	}

	var result *mcpgo.ListToolsResult
	err := c.retry.Do(ctx, func() error {
		reqCtx, cancel := c.withTimeout(ctx)
		defer cancel()
		res, err := c.mcpClient.ListTools(reqCtx, mcpgo.ListToolsRequest{})
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, errors.New(errors.CodeToolFailure, "cannot list mcp tools", err)
	}
	c.storeTools(result.Tools)
	return result.Tools, nil
}

// CallTool executes a tool on the server.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcpgo.CallToolResult, error) {
	req := mcpgo.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcpgo.CallToolResult
	err := c.retry.Do(ctx, func() error {
		reqCtx, cancel := c.withTimeout(ctx)
		defer cancel()
		res, err := c.mcpClient.CallTool(reqCtx, req)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.mcpClient.Close()
}

func (c *Client) cachedTools() []mcpgo.Tool {
	if c.cacheTTL == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.toolsCache) == 0 || time.Now().After(c.cacheExpiry) {
		return nil
	}
	out := make([]mcpgo.Tool, len(c.toolsCache))
	copy(out, c.toolsCache)
	return out
}

func (c *Client) storeTools(tools []mcpgo.Tool) {
	if c.cacheTTL == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolsCache = make([]mcpgo.Tool, len(tools))
	copy(c.toolsCache, tools)
	c.cacheExpiry = time.Now().Add(c.cacheTTL)
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}
