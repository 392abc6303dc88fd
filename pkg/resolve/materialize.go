// SPDX-License-Identifier: Apache-2.0

package resolve

import (
	"github.com/weftworks/weft/pkg/errors"
	"github.com/weftworks/weft/pkg/manifest"
)

// ResolveManifest resolves every definition in the raw graph and
// materializes the typed, cross-checked object graph the engines run
// against. All definition errors carry the offending component path.
func ResolveManifest(graph *manifest.Graph) (*manifest.Resolved, error) {
	r := New(graph)
	resolved := &manifest.Resolved{
		Kernels:   make(map[string]*manifest.KernelDef),
		Functions: make(map[string]*manifest.FunctionDef),
		Agents:    make(map[string]*manifest.AgentDef),
		Memories:  make(map[string]*manifest.MemoryDef),
		Toolsets:  make(map[string]*manifest.ToolsetDef),
		Auth:      make(map[string]*manifest.AuthDef),
		Processes: make(map[string]*manifest.ProcessDef),
	}

	for _, name := range graph.Names(manifest.KindKernel) {
		def := &manifest.KernelDef{Name: name}
		if err := materialize(r, manifest.KindKernel, name, def); err != nil {
			return nil, err
		}
		resolved.Kernels[name] = def
	}
	for _, name := range graph.Names(manifest.KindFunction) {
		def := &manifest.FunctionDef{Name: name}
		if err := materialize(r, manifest.KindFunction, name, def); err != nil {
			return nil, err
		}
		if def.Template == "" {
			return nil, errors.Newf(errors.CodeMissingProperty, "functions/%s: template is required", name)
		}
		resolved.Functions[name] = def
	}
	for _, name := range graph.Names(manifest.KindAgent) {
		def := &manifest.AgentDef{Name: name}
		if err := materialize(r, manifest.KindAgent, name, def); err != nil {
			return nil, err
		}
		if err := def.Validate(); err != nil {
			return nil, err
		}
		resolved.Agents[name] = def
	}
	for _, name := range graph.Names(manifest.KindMemory) {
		def := &manifest.MemoryDef{Name: name}
		if err := materialize(r, manifest.KindMemory, name, def); err != nil {
			return nil, err
		}
		resolved.Memories[name] = def
	}
	for _, name := range graph.Names(manifest.KindToolset) {
		def := &manifest.ToolsetDef{Name: name}
		if err := materialize(r, manifest.KindToolset, name, def); err != nil {
			return nil, err
		}
		resolved.Toolsets[name] = def
	}
	for _, name := range graph.Names(manifest.KindAuth) {
		def := &manifest.AuthDef{Name: name}
		if err := materialize(r, manifest.KindAuth, name, def); err != nil {
			return nil, err
		}
		resolved.Auth[name] = def
	}
	for _, name := range graph.Names(manifest.KindProcess) {
		def := &manifest.ProcessDef{Name: name}
		if err := materialize(r, manifest.KindProcess, name, def); err != nil {
			return nil, err
		}
		if def.MaximumIterations <= 0 {
			def.MaximumIterations = manifest.DefaultMaximumIterations
		}
		if err := def.Validate(); err != nil {
			return nil, err
		}
		resolved.Processes[name] = def
	}

	if err := checkReferences(resolved); err != nil {
		return nil, err
	}
	return resolved, nil
}

func materialize(r *Resolver, kind manifest.Kind, name string, out any) error {
	bag, err := r.Resolve(kind, name)
	if err != nil {
		return err
	}
	if err := manifest.DecodeProps(bag, out); err != nil {
		if we, ok := err.(*errors.WeftError); ok {
			return we.WithContext("component", string(kind)+"s/"+name)
		}
		return err
	}
	return nil
}

// checkReferences verifies that every cross-kind name points at a resolved
// definition, so the engines never chase dangling references at run time.
func checkReferences(res *manifest.Resolved) error {
	for name, k := range res.Kernels {
		for _, toolset := range k.Toolsets {
			if _, err := res.Toolset(toolset); err != nil {
				return unresolved("kernels/"+name+"/toolsets", toolset)
			}
		}
	}
	for name, fn := range res.Functions {
		if fn.Kernel != "" {
			if _, err := res.Kernel(fn.Kernel); err != nil {
				return unresolved("functions/"+name+"/kernel", fn.Kernel)
			}
		}
	}
	for name, a := range res.Agents {
		if a.Kernel != "" {
			if _, err := res.Kernel(a.Kernel); err != nil {
				return unresolved("agents/"+name+"/kernel", a.Kernel)
			}
		}
		if a.Memory != "" {
			if _, err := res.Memory(a.Memory); err != nil {
				return unresolved("agents/"+name+"/memory", a.Memory)
			}
		}
		if a.Channel != nil && a.Channel.Auth != "" {
			if _, err := res.AuthPolicy(a.Channel.Auth); err != nil {
				return unresolved("agents/"+name+"/channel/auth", a.Channel.Auth)
			}
		}
	}
	for name, ts := range res.Toolsets {
		if ts.Auth != "" {
			if _, err := res.AuthPolicy(ts.Auth); err != nil {
				return unresolved("toolsets/"+name+"/auth", ts.Auth)
			}
		}
	}
	for name, p := range res.Processes {
		for _, agent := range p.Agents {
			if _, err := res.Agent(agent); err != nil {
				return unresolved("processes/"+name+"/agents", agent)
			}
		}
		if p.InitialAgent != "" && !contains(p.Agents, p.InitialAgent) {
			return errors.Newf(errors.CodeUnresolvedReference,
				"processes/%s: initialAgent %q is not a participant", name, p.InitialAgent)
		}
		strategies := map[string]*manifest.StrategyDef{
			"selection":     p.Selection,
			"termination":   p.Termination,
			"decomposition": p.Decomposition,
			"synthesis":     p.Synthesis,
		}
		for role, s := range strategies {
			if s == nil {
				continue
			}
			if s.Function == "" {
				return errors.Newf(errors.CodeMissingProperty,
					"processes/%s/%s: function is required", name, role)
			}
			fn, err := res.Function(s.Function)
			if err != nil {
				return unresolved("processes/"+name+"/"+role, s.Function)
			}
			// A strategy function is invoked by the engine, so it must
			// name the kernel that will run it.
			if fn.Kernel == "" {
				return errors.Newf(errors.CodeMissingProperty,
					"processes/%s/%s: function %q has no kernel", name, role, s.Function).
					WithContext("component", "processes/"+name+"/"+role)
			}
		}
	}
	return nil
}

func unresolved(path, target string) error {
	return errors.Newf(errors.CodeUnresolvedReference, "%s: unresolved reference %q", path, target).
		WithContext("component", path)
}

func contains(list []string, name string) bool {
	for _, item := range list {
		if item == name {
			return true
		}
	}
	return false
}
