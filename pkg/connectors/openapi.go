// SPDX-License-Identifier: Apache-2.0

// Package connectors turns declarative API specifications into callable
// tools. The OpenAPI connector maps each operation to one tool.
package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/weftworks/weft/pkg/auth"
	"github.com/weftworks/weft/pkg/core"
	"github.com/weftworks/weft/pkg/errors"
	"github.com/weftworks/weft/pkg/manifest"
)

// OpenAPISpec is the subset of an OpenAPI 3.x document the connector
// consumes.
type OpenAPISpec struct {
	OpenAPI string              `json:"openapi" yaml:"openapi"`
	Info    OpenAPIInfo         `json:"info" yaml:"info"`
	Servers []OpenAPIServer     `json:"servers" yaml:"servers"`
	Paths   map[string]PathItem `json:"paths" yaml:"paths"`
}

// OpenAPIInfo contains API metadata.
type OpenAPIInfo struct {
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`
	Version     string `json:"version" yaml:"version"`
}

// OpenAPIServer represents a server endpoint.
type OpenAPIServer struct {
	URL         string `json:"url" yaml:"url"`
	Description string `json:"description" yaml:"description"`
}

// PathItem represents operations on a path.
type PathItem struct {
	Get    *Operation `json:"get" yaml:"get"`
	Post   *Operation `json:"post" yaml:"post"`
	Put    *Operation `json:"put" yaml:"put"`
	Delete *Operation `json:"delete" yaml:"delete"`
	Patch  *Operation `json:"patch" yaml:"patch"`
}

// Operation represents an API operation.
type Operation struct {
	OperationID string       `json:"operationId" yaml:"operationId"`
	Summary     string       `json:"summary" yaml:"summary"`
	Description string       `json:"description" yaml:"description"`
	Parameters  []Parameter  `json:"parameters" yaml:"parameters"`
	RequestBody *RequestBody `json:"requestBody" yaml:"requestBody"`
}

// Parameter represents an operation parameter. In is one of query, path,
// header.
type Parameter struct {
	Name     string `json:"name" yaml:"name"`
	In       string `json:"in" yaml:"in"`
	Required bool   `json:"required" yaml:"required"`
}

// RequestBody represents a request body.
type RequestBody struct {
	Required bool `json:"required" yaml:"required"`
}

// OpenAPIConnector exposes every operation of a spec as a core.Tool.
type OpenAPIConnector struct {
	spec       *OpenAPISpec
	baseURL    string
	credential auth.Credential
	httpClient *http.Client
	tools      []core.Tool
}

// Option configures the OpenAPIConnector.
type Option func(*OpenAPIConnector)

// WithBaseURL overrides the base URL from the spec.
func WithBaseURL(base string) Option {
	return func(c *OpenAPIConnector) { c.baseURL = base }
}

// WithCredential attaches an acquired credential to every call.
func WithCredential(cred auth.Credential) Option {
	return func(c *OpenAPIConnector) { c.credential = cred }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *OpenAPIConnector) { c.httpClient = client }
}

// NewOpenAPI builds a connector from a toolset definition: the spec is
// loaded from a file path or URL, and the definition's auth policy (when
// named) must be acquired by the caller and passed as an option.
func NewOpenAPI(ctx context.Context, def *manifest.ToolsetDef, opts ...Option) (*OpenAPIConnector, error) {
	if def.Spec == "" {
		return nil, errors.Newf(errors.CodeMissingProperty,
			"toolsets/%s: openapi toolset requires a spec location", def.Name)
	}
	data, err := loadSpec(ctx, def.Spec)
	if err != nil {
		return nil, err
	}
	if def.BaseURL != "" {
		opts = append([]Option{WithBaseURL(def.BaseURL)}, opts...)
	}
	return NewFromBytes(data, opts...)
}

func loadSpec(ctx context.Context, location string) ([]byte, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
		if err != nil {
			return nil, errors.New(errors.CodeToolFailure, "cannot build spec request", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, errors.New(errors.CodeToolFailure, "cannot fetch openapi spec", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, errors.Newf(errors.CodeToolFailure, "spec fetch returned %s", resp.Status)
		}
		return io.ReadAll(resp.Body)
	}
	data, err := os.ReadFile(location)
	if err != nil {
		return nil, errors.New(errors.CodeToolFailure, "cannot read openapi spec", err)
	}
	return data, nil
}

// NewFromBytes builds a connector from raw JSON or YAML spec bytes.
func NewFromBytes(data []byte, opts ...Option) (*OpenAPIConnector, error) {
	var spec OpenAPISpec
	if err := json.Unmarshal(data, &spec); err != nil {
		if err := yaml.Unmarshal(data, &spec); err != nil {
			return nil, errors.New(errors.CodeToolFailure, "spec is neither valid json nor yaml", err)
		}
	}

	c := &OpenAPIConnector{
		spec:       &spec,
		httpClient: http.DefaultClient,
	}
	if len(spec.Servers) > 0 {
		c.baseURL = spec.Servers[0].URL
	}
	for _, opt := range opts {
		opt(c)
	}
	c.generateTools()
	return c, nil
}

// Tools returns one tool per spec operation.
func (c *OpenAPIConnector) Tools() []core.Tool {
	return c.tools
}

func (c *OpenAPIConnector) generateTools() {
	for path, item := range c.spec.Paths {
		for method, op := range map[string]*Operation{
			http.MethodGet:    item.Get,
			http.MethodPost:   item.Post,
			http.MethodPut:    item.Put,
			http.MethodDelete: item.Delete,
			http.MethodPatch:  item.Patch,
		} {
			if op == nil {
				continue
			}
			c.tools = append(c.tools, &operationTool{
				connector: c,
				name:      toolName(path, method, op),
				desc:      toolDescription(path, method, op),
				path:      path,
				method:    method,
				op:        op,
			})
		}
	}
}

func toolName(path, method string, op *Operation) string {
	if op.OperationID != "" {
		return op.OperationID
	}
	name := strings.ToLower(method) + "_" + strings.ReplaceAll(path, "/", "_")
	return strings.Trim(name, "_")
}

func toolDescription(path, method string, op *Operation) string {
	if op.Summary != "" {
		return op.Summary
	}
	if op.Description != "" {
		return op.Description
	}
	return method + " " + path
}

// operationTool is one spec operation as a callable tool.
type operationTool struct {
	connector *OpenAPIConnector
	name      string
	desc      string
	path      string
	method    string
	op        *Operation
}

func (t *operationTool) Name() string        { return t.name }
func (t *operationTool) Description() string { return t.desc }

// Call maps named arguments onto path, query, and header parameters; any
// remaining arguments form the JSON request body.
func (t *operationTool) Call(ctx context.Context, input any) (any, error) {
	args, err := toArgs(input)
	if err != nil {
		return nil, err
	}

	finalPath := t.path
	query := url.Values{}
	headers := http.Header{}
	consumed := make(map[string]bool, len(t.op.Parameters))

	for _, param := range t.op.Parameters {
		value, ok := args[param.Name]
		if !ok {
			if param.Required {
				return nil, errors.Newf(errors.CodeToolFailure,
					"missing required parameter %q", param.Name).WithContext("tool", t.name)
			}
			continue
		}
		consumed[param.Name] = true
		text := fmt.Sprintf("%v", value)
		switch param.In {
		case "path":
			finalPath = strings.ReplaceAll(finalPath, "{"+param.Name+"}", url.PathEscape(text))
		case "query":
			query.Set(param.Name, text)
		case "header":
			headers.Set(param.Name, text)
		}
	}

	var body io.Reader
	hasBody := false
	if t.op.RequestBody != nil {
		payload := make(map[string]any)
		for key, value := range args {
			if !consumed[key] {
				payload[key] = value
			}
		}
		if len(payload) > 0 {
			encoded, err := json.Marshal(payload)
			if err != nil {
				return nil, errors.New(errors.CodeToolFailure, "cannot encode request body", err)
			}
			body = strings.NewReader(string(encoded))
			hasBody = true
		} else if t.op.RequestBody.Required {
			return nil, errors.Newf(errors.CodeToolFailure, "operation requires a request body").
				WithContext("tool", t.name)
		}
	}

	finalURL := t.connector.baseURL + finalPath
	if len(query) > 0 {
		finalURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, t.method, finalURL, body)
	if err != nil {
		return nil, errors.New(errors.CodeToolFailure, "cannot build request", err)
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	t.connector.credential.Apply(req)

	resp, err := t.connector.httpClient.Do(req)
	if err != nil {
		return nil, errors.New(errors.CodeToolFailure, "request failed", err).
			WithContext("tool", t.name)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.New(errors.CodeToolFailure, "cannot read response", err)
	}
	if resp.StatusCode >= 400 {
		return nil, errors.Newf(errors.CodeToolFailure, "api returned %s: %s",
			resp.Status, strings.TrimSpace(string(respBody))).
			WithContext("tool", t.name)
	}
	return string(respBody), nil
}

func toArgs(input any) (map[string]any, error) {
	switch value := input.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return value, nil
	case string:
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return map[string]any{}, nil
		}
		var decoded map[string]any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
			return nil, errors.New(errors.CodeToolFailure, "arguments are not a json object", err)
		}
		return decoded, nil
	default:
		return nil, errors.Newf(errors.CodeToolFailure, "unsupported argument type %T", input)
	}
}

var _ core.Tool = (*operationTool)(nil)
