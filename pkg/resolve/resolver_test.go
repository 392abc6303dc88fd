// SPDX-License-Identifier: Apache-2.0

package resolve

import (
	"reflect"
	"strings"
	"testing"

	"github.com/weftworks/weft/pkg/errors"
	"github.com/weftworks/weft/pkg/manifest"
)

func mustGraph(t *testing.T, src string) *manifest.Graph {
	t.Helper()
	graph, err := manifest.Load(strings.NewReader(src))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	return graph
}

func TestResolveUseSubstitutes(t *testing.T) {
	graph := mustGraph(t, `
kernels:
  base:
    reasoning:
      provider: ollama
      model: llama3
  alias:
    use: base
`)
	r := New(graph)
	bag, err := r.Resolve(manifest.KindKernel, "alias")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	base, _ := r.Resolve(manifest.KindKernel, "base")
	if !reflect.DeepEqual(bag, base) {
		t.Errorf("use should substitute the target definition: %v vs %v", bag, base)
	}
}

func TestResolveUseWithOtherPropertiesFails(t *testing.T) {
	graph := mustGraph(t, `
kernels:
  base:
    reasoning: {provider: ollama}
  broken:
    use: base
    toolsets: [search]
`)
	_, err := New(graph).Resolve(manifest.KindKernel, "broken")
	if !errors.IsCode(err, errors.CodeConflictingProperties) {
		t.Errorf("expected CONFLICTING_PROPERTIES, got %v", err)
	}
}

func TestResolveUnresolvedReference(t *testing.T) {
	graph := mustGraph(t, `
kernels:
  broken:
    use: missing
`)
	_, err := New(graph).Resolve(manifest.KindKernel, "broken")
	if !errors.IsCode(err, errors.CodeUnresolvedReference) {
		t.Errorf("expected UNRESOLVED_REFERENCE, got %v", err)
	}
}

func TestResolveCycleFails(t *testing.T) {
	graph := mustGraph(t, `
agents:
  A:
    extends: B
  B:
    extends: A
`)
	_, err := New(graph).Resolve(manifest.KindAgent, "A")
	if !errors.IsCode(err, errors.CodeCyclicReference) {
		t.Fatalf("expected CYCLIC_REFERENCE, got %v", err)
	}
	if !strings.Contains(err.Error(), "agents/A") || !strings.Contains(err.Error(), "agents/B") {
		t.Errorf("cycle error should name the chain: %v", err)
	}
}

func TestResolveSelfCycleFails(t *testing.T) {
	graph := mustGraph(t, `
agents:
  A:
    use: A
`)
	_, err := New(graph).Resolve(manifest.KindAgent, "A")
	if !errors.IsCode(err, errors.CodeCyclicReference) {
		t.Errorf("expected CYCLIC_REFERENCE, got %v", err)
	}
}

func TestExtendsMergesScalarsAndAppendsCollections(t *testing.T) {
	graph := mustGraph(t, `
agents:
  base:
    kernel: default
    instructions: Be helpful.
    skills:
      - name: grammar
  child:
    extends: base
    instructions: Be strict.
    skills:
      - name: tone
`)
	bag, err := New(graph).Resolve(manifest.KindAgent, "child")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if bag["instructions"] != "Be strict." {
		t.Errorf("child scalar should override parent: %v", bag["instructions"])
	}
	if bag["kernel"] != "default" {
		t.Errorf("missing inherited scalar: %v", bag["kernel"])
	}
	skills, ok := bag["skills"].([]any)
	if !ok || len(skills) != 2 {
		t.Fatalf("collections should append, got %v", bag["skills"])
	}
}

func TestDiamondResolvesEachNodeOnce(t *testing.T) {
	graph := mustGraph(t, `
agents:
  root:
    kernel: default
  left:
    extends: root
  right:
    extends: root
  tip:
    extends: left
`)
	r := New(graph)
	for _, name := range []string{"tip", "right", "left", "root"} {
		if _, err := r.Resolve(manifest.KindAgent, name); err != nil {
			t.Fatalf("resolve %s failed: %v", name, err)
		}
	}
	if len(r.memo) != 4 {
		t.Errorf("expected 4 memoized nodes, got %d", len(r.memo))
	}
}

func TestResolutionIsIdempotent(t *testing.T) {
	const src = `
kernels:
  default:
    reasoning: {provider: ollama, model: llama3}
agents:
  base:
    kernel: default
    skills: [{name: grammar}]
  child:
    extends: base
    skills: [{name: tone}]
`
	first, err := New(mustGraph(t, src)).Resolve(manifest.KindAgent, "child")
	if err != nil {
		t.Fatalf("first resolve failed: %v", err)
	}
	second, err := New(mustGraph(t, src)).Resolve(manifest.KindAgent, "child")
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("resolution not deterministic:\n%v\n%v", first, second)
	}
}

func TestResolveDoesNotMutateRawGraph(t *testing.T) {
	graph := mustGraph(t, `
agents:
  base:
    skills: [{name: grammar}]
  child:
    extends: base
    skills: [{name: tone}]
`)
	r := New(graph)
	if _, err := r.Resolve(manifest.KindAgent, "child"); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	base, _ := graph.Lookup(manifest.KindAgent, "base")
	if skills := base.Props["skills"].([]any); len(skills) != 1 {
		t.Errorf("raw parent mutated by merge: %v", skills)
	}
}

func TestResolveManifestEndToEnd(t *testing.T) {
	graph := mustGraph(t, `
kernels:
  default:
    reasoning: {provider: ollama, model: llama3}
functions:
  pick-next:
    kernel: default
    template: "Pick from {{agents}} given {{history}}."
    input: [{name: agents, required: true}, {name: history, required: true}]
    output: {name: agent, type: string}
agents:
  GrammarBot:
    kernel: default
    instructions: Fix grammar.
  ToneTuner:
    extends: GrammarBot
    instructions: Adjust tone.
processes:
  refine-text:
    kind: collaboration
    agents: [GrammarBot, ToneTuner]
    selection:
      function: pick-next
      agentsVariableName: agents
      historyVariableName: history
`)
	resolved, err := ResolveManifest(graph)
	if err != nil {
		t.Fatalf("resolve manifest failed: %v", err)
	}

	proc, err := resolved.Process("refine-text")
	if err != nil {
		t.Fatalf("process lookup failed: %v", err)
	}
	if proc.MaximumIterations != manifest.DefaultMaximumIterations {
		t.Errorf("default cap not applied: %d", proc.MaximumIterations)
	}

	tuner, err := resolved.Agent("ToneTuner")
	if err != nil {
		t.Fatalf("agent lookup failed: %v", err)
	}
	if tuner.Kernel != "default" || tuner.Instructions != "Adjust tone." {
		t.Errorf("extends merge incorrect: %+v", tuner)
	}
}

func TestResolveManifestCatchesDanglingReferences(t *testing.T) {
	graph := mustGraph(t, `
agents:
  A:
    kernel: nope
`)
	_, err := ResolveManifest(graph)
	if !errors.IsCode(err, errors.CodeUnresolvedReference) {
		t.Errorf("expected UNRESOLVED_REFERENCE, got %v", err)
	}
	if !strings.Contains(err.Error(), "agents/A/kernel") {
		t.Errorf("error should include the component path, got %v", err)
	}
}

func TestResolveManifestStrategyFunctionNeedsKernel(t *testing.T) {
	graph := mustGraph(t, `
kernels:
  default:
    reasoning: {provider: ollama}
functions:
  isDone:
    template: "done? {{history}}"
    input: [{name: history, required: true}]
agents:
  A:
    kernel: default
processes:
  p:
    kind: collaboration
    agents: [A]
    termination:
      function: isDone
`)
	_, err := ResolveManifest(graph)
	if !errors.IsCode(err, errors.CodeMissingProperty) {
		t.Errorf("expected MISSING_PROPERTY for kernel-less strategy function, got %v", err)
	}
	if !strings.Contains(err.Error(), "processes/p/termination") {
		t.Errorf("error should include the component path, got %v", err)
	}
}

func TestResolveManifestInitialAgentMustParticipate(t *testing.T) {
	graph := mustGraph(t, `
kernels:
  default:
    reasoning: {provider: ollama}
agents:
  A:
    kernel: default
processes:
  p:
    kind: collaboration
    agents: [A]
    initialAgent: Z
`)
	_, err := ResolveManifest(graph)
	if !errors.IsCode(err, errors.CodeUnresolvedReference) {
		t.Errorf("expected UNRESOLVED_REFERENCE for foreign initialAgent, got %v", err)
	}
}
