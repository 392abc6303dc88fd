// SPDX-License-Identifier: Apache-2.0

// Package toolset opens the transports toolset definitions name (MCP
// servers, OpenAPI specs) and hands the resulting tools to the agent
// invoker.
package toolset

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/weftworks/weft/pkg/auth"
	"github.com/weftworks/weft/pkg/connectors"
	"github.com/weftworks/weft/pkg/core"
	"github.com/weftworks/weft/pkg/errors"
	"github.com/weftworks/weft/pkg/manifest"
	"github.com/weftworks/weft/pkg/mcp"
)

// Open builds the live tools a toolset definition names. The returned
// closer is nil when the transport holds no connection.
func Open(ctx context.Context, def *manifest.ToolsetDef, cred auth.Credential) ([]core.Tool, io.Closer, error) {
	switch def.Kind {
	case "mcp":
		client, tools, err := mcp.Connect(ctx, def)
		if err != nil {
			return nil, nil, err
		}
		return tools, client, nil
	case "openapi":
		opts := []connectors.Option{}
		if !cred.Empty() {
			opts = append(opts, connectors.WithCredential(cred))
		}
		conn, err := connectors.NewOpenAPI(ctx, def, opts...)
		if err != nil {
			return nil, nil, err
		}
		return conn.Tools(), nil, nil
	default:
		return nil, nil, errors.Newf(errors.CodeMissingProperty,
			"toolsets/%s: unknown toolset kind %q", def.Name, def.Kind)
	}
}

// Registry lazily opens toolsets by name and caches them for the run's
// lifetime. Safe for concurrent use; Close releases every open transport.
type Registry struct {
	resolved *manifest.Resolved
	acquirer *auth.Acquirer
	open     func(ctx context.Context, def *manifest.ToolsetDef, cred auth.Credential) ([]core.Tool, io.Closer, error)

	mu      sync.Mutex
	entries map[string]registryEntry
}

type registryEntry struct {
	tools  []core.Tool
	closer io.Closer
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithHTTPClient sets the client used for credential acquisition.
func WithHTTPClient(client *http.Client) RegistryOption {
	return func(r *Registry) { r.acquirer = auth.NewAcquirer(client) }
}

// NewRegistry creates a Registry over a resolved manifest.
func NewRegistry(resolved *manifest.Resolved, opts ...RegistryOption) *Registry {
	r := &Registry{
		resolved: resolved,
		acquirer: auth.NewAcquirer(nil),
		open:     Open,
		entries:  make(map[string]registryEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the live tools for the named toolset, opening the
// transport on first use.
func (r *Registry) Resolve(ctx context.Context, name string) ([]core.Tool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[name]; ok {
		return entry.tools, nil
	}
	def, err := r.resolved.Toolset(name)
	if err != nil {
		return nil, err
	}
	cred, err := r.credential(ctx, def)
	if err != nil {
		return nil, err
	}
	tools, closer, err := r.open(ctx, def, cred)
	if err != nil {
		return nil, err
	}
	r.entries[name] = registryEntry{tools: tools, closer: closer}
	return tools, nil
}

func (r *Registry) credential(ctx context.Context, def *manifest.ToolsetDef) (auth.Credential, error) {
	if def.Auth == "" {
		return auth.Credential{}, nil
	}
	policy, err := r.resolved.AuthPolicy(def.Auth)
	if err != nil {
		return auth.Credential{}, err
	}
	return r.acquirer.Acquire(ctx, policy)
}

// Close releases every transport the registry opened. The first error
// wins; remaining closers still run.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for name, entry := range r.entries {
		if entry.closer == nil {
			continue
		}
		if err := entry.closer.Close(); err != nil && first == nil {
			first = err
		}
		delete(r.entries, name)
	}
	return first
}
