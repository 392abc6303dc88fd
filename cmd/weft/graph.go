// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/weftworks/weft/pkg/manifest"
	"github.com/weftworks/weft/pkg/resolve"
)

type graphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Rel  string `json:"rel"` // kernel, memory, toolset, auth, agent, function
}

func runGraph(flags globalFlags, args []string) {
	if len(args) != 1 {
		fatal(fmt.Errorf("usage: weft graph <manifest.yaml>"))
	}
	graph, err := manifest.LoadFile(args[0])
	if err != nil {
		fatal(err)
	}
	resolved, err := resolve.ResolveManifest(graph)
	if err != nil {
		fatal(err)
	}

	edges := collectEdges(resolved)

	if flags.JSON {
		payload, err := json.MarshalIndent(edges, "", "  ")
		if err != nil {
			fatal(err)
		}
		fmt.Println(string(payload))
		return
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(writer, "FROM\tREL\tTO")
	for _, edge := range edges {
		fmt.Fprintf(writer, "%s\t%s\t%s\n", edge.From, edge.Rel, edge.To)
	}
	_ = writer.Flush()
}

// collectEdges flattens the resolved object graph into reference edges,
// sorted for stable output.
func collectEdges(resolved *manifest.Resolved) []graphEdge {
	var edges []graphEdge
	add := func(from, rel, to string) {
		if strings.TrimSpace(to) == "" {
			return
		}
		edges = append(edges, graphEdge{From: from, Rel: rel, To: to})
	}

	for _, name := range sortedKeys(resolved.Kernels) {
		def := resolved.Kernels[name]
		for _, toolset := range def.Toolsets {
			add("kernels/"+name, "toolset", "toolsets/"+toolset)
		}
	}
	for _, name := range sortedKeys(resolved.Functions) {
		add("functions/"+name, "kernel", "kernels/"+resolved.Functions[name].Kernel)
	}
	for _, name := range sortedKeys(resolved.Agents) {
		def := resolved.Agents[name]
		add("agents/"+name, "kernel", prefixed("kernels/", def.Kernel))
		add("agents/"+name, "memory", prefixed("memories/", def.Memory))
		if def.Channel != nil {
			add("agents/"+name, "auth", prefixed("auth/", def.Channel.Auth))
		}
	}
	for _, name := range sortedKeys(resolved.Toolsets) {
		add("toolsets/"+name, "auth", prefixed("auth/", resolved.Toolsets[name].Auth))
	}
	for _, name := range sortedKeys(resolved.Processes) {
		def := resolved.Processes[name]
		for _, agent := range def.Agents {
			add("processes/"+name, "agent", "agents/"+agent)
		}
		for rel, strategy := range map[string]*manifest.StrategyDef{
			"selection":     def.Selection,
			"termination":   def.Termination,
			"decomposition": def.Decomposition,
			"synthesis":     def.Synthesis,
		} {
			if strategy != nil {
				add("processes/"+name, rel, prefixed("functions/", strategy.Function))
			}
		}
	}

	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		if edges[i].Rel != edges[j].Rel {
			return edges[i].Rel < edges[j].Rel
		}
		return edges[i].To < edges[j].To
	})
	return edges
}

func prefixed(prefix, name string) string {
	if strings.TrimSpace(name) == "" {
		return ""
	}
	return prefix + name
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
