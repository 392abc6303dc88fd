// SPDX-License-Identifier: Apache-2.0

// Package manifest models the raw component graph of a declarative agent
// manifest: named definitions per kind plus their use/extends edges.
// Parsing stops at YAML well-formedness; shape validation happens during
// resolution and materialization.
package manifest

import (
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/weftworks/weft/pkg/errors"
)

// Kind identifies the component namespace a definition belongs to.
type Kind string

const (
	KindKernel   Kind = "kernel"
	KindFunction Kind = "function"
	KindAgent    Kind = "agent"
	KindMemory   Kind = "memory"
	KindToolset  Kind = "toolset"
	KindAuth     Kind = "auth"
	KindProcess  Kind = "process"
)

// Kinds lists all component kinds in a stable order.
func Kinds() []Kind {
	return []Kind{KindKernel, KindFunction, KindAgent, KindMemory, KindToolset, KindAuth, KindProcess}
}

// Definition is the raw, unresolved body of one manifest component.
// Use and Extends are reference edges; Props holds every other property
// as decoded YAML.
type Definition struct {
	Kind    Kind
	Name    string
	Use     string
	Extends string
	Props   map[string]any
}

// Path returns the component path used in error reports, e.g.
// "agents/GrammarBot".
func (d Definition) Path() string {
	return fmt.Sprintf("%ss/%s", d.Kind, d.Name)
}

// Graph holds raw component definitions keyed by (kind, name).
type Graph struct {
	components map[Kind]map[string]Definition
}

// NewGraph creates an empty component graph.
func NewGraph() *Graph {
	return &Graph{components: make(map[Kind]map[string]Definition)}
}

// Add registers a definition. Redefining an existing (kind, name) fails.
func (g *Graph) Add(def Definition) error {
	if def.Name == "" {
		return errors.Newf(errors.CodeMissingProperty, "%ss: definition without a name", def.Kind)
	}
	byName, ok := g.components[def.Kind]
	if !ok {
		byName = make(map[string]Definition)
		g.components[def.Kind] = byName
	}
	if _, exists := byName[def.Name]; exists {
		return errors.Newf(errors.CodeConflictingProperties, "duplicate definition %s", def.Path())
	}
	byName[def.Name] = def
	return nil
}

// Lookup returns the raw definition for (kind, name).
func (g *Graph) Lookup(kind Kind, name string) (Definition, bool) {
	def, ok := g.components[kind][name]
	return def, ok
}

// Names returns the sorted names of all definitions of a kind.
func (g *Graph) Names(kind Kind) []string {
	byName := g.components[kind]
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// document mirrors the fixed top-level manifest sections.
type document struct {
	Kernels   map[string]map[string]any `yaml:"kernels"`
	Functions map[string]map[string]any `yaml:"functions"`
	Agents    map[string]map[string]any `yaml:"agents"`
	Memories  map[string]map[string]any `yaml:"memories"`
	Toolsets  map[string]map[string]any `yaml:"toolsets"`
	Auth      map[string]map[string]any `yaml:"auth"`
	Processes map[string]map[string]any `yaml:"processes"`
}

// Load reads a YAML manifest into a raw component graph.
func Load(r io.Reader) (*Graph, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, errors.New(errors.CodeMissingProperty, "manifest is not well-formed yaml", err)
	}

	graph := NewGraph()
	sections := []struct {
		kind Kind
		defs map[string]map[string]any
	}{
		{KindKernel, doc.Kernels},
		{KindFunction, doc.Functions},
		{KindAgent, doc.Agents},
		{KindMemory, doc.Memories},
		{KindToolset, doc.Toolsets},
		{KindAuth, doc.Auth},
		{KindProcess, doc.Processes},
	}
	for _, section := range sections {
		for name, props := range section.defs {
			def, err := newDefinition(section.kind, name, props)
			if err != nil {
				return nil, err
			}
			if err := graph.Add(def); err != nil {
				return nil, err
			}
		}
	}
	return graph, nil
}

// LoadFile reads a YAML manifest from disk.
func LoadFile(path string) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(errors.CodeMissingProperty, "cannot open manifest", err).
			WithContext("path", path)
	}
	defer f.Close()
	return Load(f)
}

// newDefinition splits the reference edges out of a raw property bag.
func newDefinition(kind Kind, name string, props map[string]any) (Definition, error) {
	def := Definition{Kind: kind, Name: name, Props: make(map[string]any, len(props))}
	for key, value := range props {
		switch key {
		case "use":
			target, ok := value.(string)
			if !ok || target == "" {
				return Definition{}, errors.Newf(errors.CodeMissingProperty, "%s: use must name a %s", def.Path(), kind)
			}
			def.Use = target
		case "extends":
			target, ok := value.(string)
			if !ok || target == "" {
				return Definition{}, errors.Newf(errors.CodeMissingProperty, "%s: extends must name a %s", def.Path(), kind)
			}
			def.Extends = target
		default:
			def.Props[key] = value
		}
	}
	return def, nil
}
