// SPDX-License-Identifier: Apache-2.0

// Package resolve turns a raw manifest component graph into a fully
// materialized, cycle-free object graph. `use` edges substitute a whole
// definition; `extends` edges merge the child over the parent. Results are
// memoized per (kind, name), so diamond-shaped graphs resolve each node
// once, and resolution of the same raw graph is deterministic.
package resolve

import (
	"strings"

	"github.com/weftworks/weft/pkg/errors"
	"github.com/weftworks/weft/pkg/manifest"
)

type key struct {
	kind manifest.Kind
	name string
}

func (k key) String() string { return string(k.kind) + "s/" + k.name }

// Resolver resolves use/extends reference chains over one raw graph.
// It owns the memo table; a Resolver is not safe for concurrent use, but
// the Resolved graph it produces is.
type Resolver struct {
	graph *manifest.Graph
	memo  map[key]map[string]any
}

// New creates a Resolver over a raw component graph.
func New(graph *manifest.Graph) *Resolver {
	return &Resolver{
		graph: graph,
		memo:  make(map[key]map[string]any),
	}
}

// Resolve returns the dereferenced property bag for (kind, name), with no
// remaining use/extends edges.
func (r *Resolver) Resolve(kind manifest.Kind, name string) (map[string]any, error) {
	return r.resolve(kind, name, nil)
}

func (r *Resolver) resolve(kind manifest.Kind, name string, stack []key) (map[string]any, error) {
	k := key{kind: kind, name: name}
	if bag, ok := r.memo[k]; ok {
		return bag, nil
	}

	for _, visited := range stack {
		if visited == k {
			return nil, errors.Newf(errors.CodeCyclicReference,
				"cyclic reference: %s", chain(append(stack, k)))
		}
	}
	stack = append(stack, k)

	def, ok := r.graph.Lookup(kind, name)
	if !ok {
		return nil, errors.Newf(errors.CodeUnresolvedReference, "no %s named %q", kind, name).
			WithContext("component", k.String())
	}

	var bag map[string]any
	switch {
	case def.Use != "":
		if len(def.Props) > 0 || def.Extends != "" {
			return nil, errors.Newf(errors.CodeConflictingProperties,
				"%s: use cannot be combined with other properties", def.Path())
		}
		resolved, err := r.resolve(kind, def.Use, stack)
		if err != nil {
			return nil, err
		}
		bag = resolved

	case def.Extends != "":
		parent, err := r.resolve(kind, def.Extends, stack)
		if err != nil {
			return nil, err
		}
		bag = merge(parent, def.Props)

	default:
		bag = cloneBag(def.Props)
	}

	r.memo[k] = bag
	return bag, nil
}

// merge applies the structural override rules: child scalar and object
// properties replace the parent's; child collections are appended to the
// parent's.
func merge(parent, child map[string]any) map[string]any {
	out := cloneBag(parent)
	for name, childValue := range child {
		parentValue, present := out[name]
		if present {
			if parentList, ok := parentValue.([]any); ok {
				if childList, ok := childValue.([]any); ok {
					combined := make([]any, 0, len(parentList)+len(childList))
					combined = append(combined, parentList...)
					combined = append(combined, childList...)
					out[name] = combined
					continue
				}
			}
		}
		out[name] = childValue
	}
	return out
}

func cloneBag(bag map[string]any) map[string]any {
	out := make(map[string]any, len(bag))
	for name, value := range bag {
		out[name] = cloneValue(value)
	}
	return out
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return cloneBag(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

func chain(stack []key) string {
	parts := make([]string, len(stack))
	for i, k := range stack {
		parts[i] = k.String()
	}
	return strings.Join(parts, " -> ")
}
