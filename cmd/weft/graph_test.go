// SPDX-License-Identifier: Apache-2.0

package main

import (
	"strings"
	"testing"

	"github.com/weftworks/weft/pkg/manifest"
	"github.com/weftworks/weft/pkg/resolve"
)

const graphManifest = `
kernels:
  default:
    reasoning:
      model: test-model
functions:
  pick:
    kernel: default
    template: "choose from {{$agents}}"
    input:
      - name: agents
        required: true
agents:
  Writer:
    kernel: default
    instructions: write things
  Critic:
    kernel: default
    instructions: critique things
    memory: notes
memories:
  notes:
    kind: inmemory
processes:
  draft:
    kind: collaboration
    agents: [Writer, Critic]
    selection:
      function: pick
`

func TestCollectEdges(t *testing.T) {
	graph, err := manifest.Load(strings.NewReader(graphManifest))
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	resolved, err := resolve.ResolveManifest(graph)
	if err != nil {
		t.Fatalf("resolve manifest: %v", err)
	}

	edges := collectEdges(resolved)

	want := map[graphEdge]bool{
		{From: "functions/pick", Rel: "kernel", To: "kernels/default"}:    false,
		{From: "agents/Writer", Rel: "kernel", To: "kernels/default"}:     false,
		{From: "agents/Critic", Rel: "memory", To: "memories/notes"}:      false,
		{From: "processes/draft", Rel: "agent", To: "agents/Writer"}:      false,
		{From: "processes/draft", Rel: "agent", To: "agents/Critic"}:      false,
		{From: "processes/draft", Rel: "selection", To: "functions/pick"}: false,
	}
	for _, edge := range edges {
		if _, ok := want[edge]; ok {
			want[edge] = true
		}
	}
	for edge, seen := range want {
		if !seen {
			t.Errorf("missing edge %+v", edge)
		}
	}

	for i := 1; i < len(edges); i++ {
		if edges[i-1].From > edges[i].From {
			t.Errorf("edges not sorted: %q before %q", edges[i-1].From, edges[i].From)
		}
	}
}

func TestCollectEdgesSkipsEmptyReferences(t *testing.T) {
	resolved := &manifest.Resolved{
		Agents: map[string]*manifest.AgentDef{
			"Solo": {Name: "Solo", Kernel: "default"},
		},
		Kernels: map[string]*manifest.KernelDef{
			"default": {Name: "default"},
		},
	}
	edges := collectEdges(resolved)
	for _, edge := range edges {
		if edge.Rel == "memory" {
			t.Errorf("unexpected memory edge for agent without memory: %+v", edge)
		}
	}
}
