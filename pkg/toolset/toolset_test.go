// SPDX-License-Identifier: Apache-2.0

package toolset

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/weftworks/weft/pkg/auth"
	"github.com/weftworks/weft/pkg/core"
	"github.com/weftworks/weft/pkg/errors"
	"github.com/weftworks/weft/pkg/manifest"
)

type stubTool string

func (s stubTool) Name() string                           { return string(s) }
func (s stubTool) Call(context.Context, any) (any, error) { return nil, nil }

type countingCloser struct{ closed int }

func (c *countingCloser) Close() error {
	c.closed++
	return nil
}

func resolvedWith(defs ...*manifest.ToolsetDef) *manifest.Resolved {
	toolsets := make(map[string]*manifest.ToolsetDef, len(defs))
	for _, def := range defs {
		toolsets[def.Name] = def
	}
	return &manifest.Resolved{Toolsets: toolsets}
}

func TestRegistryOpensOnceAndCloses(t *testing.T) {
	closer := &countingCloser{}
	opens := 0
	reg := NewRegistry(resolvedWith(&manifest.ToolsetDef{Name: "search", Kind: "mcp", URL: "http://tools.example"}))
	reg.open = func(_ context.Context, def *manifest.ToolsetDef, _ auth.Credential) ([]core.Tool, io.Closer, error) {
		opens++
		if def.Name != "search" {
			t.Errorf("opened %q", def.Name)
		}
		return []core.Tool{stubTool("lookup")}, closer, nil
	}

	for i := 0; i < 3; i++ {
		tools, err := reg.Resolve(context.Background(), "search")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if len(tools) != 1 || tools[0].Name() != "lookup" {
			t.Fatalf("tools = %v", tools)
		}
	}
	if opens != 1 {
		t.Errorf("transport opened %d times, want 1", opens)
	}

	if err := reg.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if closer.closed != 1 {
		t.Errorf("closer ran %d times, want 1", closer.closed)
	}
}

func TestRegistryUnknownToolset(t *testing.T) {
	reg := NewRegistry(resolvedWith())
	_, err := reg.Resolve(context.Background(), "ghost")
	if !errors.IsCode(err, errors.CodeUnresolvedReference) {
		t.Fatalf("error = %v, want UNRESOLVED_REFERENCE", err)
	}
}

func TestOpenUnknownKind(t *testing.T) {
	_, _, err := Open(context.Background(), &manifest.ToolsetDef{Name: "x", Kind: "carrier-pigeon"}, auth.Credential{})
	if !errors.IsCode(err, errors.CodeMissingProperty) {
		t.Fatalf("error = %v, want MISSING_PROPERTY", err)
	}
}

func TestOpenOpenAPIFromSpecFile(t *testing.T) {
	spec := `
openapi: "3.0.0"
info:
  title: Petstore
  version: "1.0"
servers:
  - url: "https://api.example"
paths:
  /pets:
    get:
      operationId: listPets
      summary: List pets
`
	path := filepath.Join(t.TempDir(), "petstore.yaml")
	if err := os.WriteFile(path, []byte(spec), 0o600); err != nil {
		t.Fatal(err)
	}

	tools, closer, err := Open(context.Background(),
		&manifest.ToolsetDef{Name: "pets", Kind: "openapi", Spec: path}, auth.Credential{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if closer != nil {
		t.Errorf("openapi toolsets hold no connection, got closer %v", closer)
	}
	if len(tools) != 1 || tools[0].Name() != "listPets" {
		t.Fatalf("tools = %v", tools)
	}
}
