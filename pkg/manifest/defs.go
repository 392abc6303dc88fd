// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"gopkg.in/yaml.v3"

	"github.com/weftworks/weft/pkg/errors"
)

// DefaultMaximumIterations caps collaboration runs that configure no
// explicit limit.
const DefaultMaximumIterations = 99

// CapabilityDef configures a reasoning or embedding capability binding.
type CapabilityDef struct {
	Provider    string         `yaml:"provider"`
	Model       string         `yaml:"model"`
	BaseURL     string         `yaml:"baseURL"`
	Temperature float64        `yaml:"temperature"`
	Options     map[string]any `yaml:"options"`
}

// KernelDef is a materialized kernel: the capabilities it exposes and the
// toolsets it may invoke. Immutable once resolved; shared by reference.
type KernelDef struct {
	Name      string         `yaml:"-"`
	Reasoning *CapabilityDef `yaml:"reasoning"`
	Embedding *CapabilityDef `yaml:"embedding"`
	Toolsets  []string       `yaml:"toolsets"`
}

// VariableSpec declares one input variable of a kernel function.
type VariableSpec struct {
	Name                  string `yaml:"name"`
	Required              bool   `yaml:"required"`
	Default               any    `yaml:"default"`
	Type                  string `yaml:"type"`
	AllowDangerousContent bool   `yaml:"allowDangerousContent"`
}

// HasDefault reports whether the spec declares a default value.
func (v VariableSpec) HasDefault() bool { return v.Default != nil }

// OutputSpec declares the expected shape of a kernel function's response.
// Type is one of: string, boolean, object.
type OutputSpec struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// FunctionDef is a reusable, template-backed reasoning unit. Stateless and
// safe for concurrent invocation.
type FunctionDef struct {
	Name     string         `yaml:"-"`
	Kernel   string         `yaml:"kernel"`
	Template string         `yaml:"template"`
	Input    []VariableSpec `yaml:"input"`
	Output   *OutputSpec    `yaml:"output"`
}

// Spec returns the declared input spec for a variable name.
func (f *FunctionDef) Spec(name string) (VariableSpec, bool) {
	for _, spec := range f.Input {
		if spec.Name == name {
			return spec, true
		}
	}
	return VariableSpec{}, false
}

// SkillDef is a named capability description attached to a hosted agent.
type SkillDef struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// ChannelDef configures the remote side of a remote agent.
type ChannelDef struct {
	Endpoint  string `yaml:"endpoint"`
	AgentName string `yaml:"agentName"`
	Auth      string `yaml:"auth"`
}

// AgentMode distinguishes the two agent variants.
type AgentMode string

const (
	ModeHosted AgentMode = "hosted"
	ModeRemote AgentMode = "remote"
)

// AgentDef is a materialized agent. Exactly one of the hosted fields
// (instructions/kernel) or the remote channel is populated.
type AgentDef struct {
	Name         string      `yaml:"-"`
	Instructions string      `yaml:"instructions"`
	Skills       []SkillDef  `yaml:"skills"`
	Kernel       string      `yaml:"kernel"`
	Memory       string      `yaml:"memory"`
	Channel      *ChannelDef `yaml:"channel"`
}

// Mode reports whether the agent is hosted or remote.
func (a *AgentDef) Mode() AgentMode {
	if a.Channel != nil {
		return ModeRemote
	}
	return ModeHosted
}

// Validate enforces the hosted/remote exclusivity invariant.
func (a *AgentDef) Validate() error {
	if a.Channel != nil {
		if a.Instructions != "" || a.Kernel != "" || len(a.Skills) > 0 {
			return errors.Newf(errors.CodeConflictingProperties,
				"agents/%s: remote agents cannot carry hosted properties", a.Name)
		}
		if a.Channel.Endpoint == "" {
			return errors.Newf(errors.CodeMissingProperty,
				"agents/%s: remote channel requires an endpoint", a.Name)
		}
		return nil
	}
	if a.Kernel == "" {
		return errors.Newf(errors.CodeMissingProperty,
			"agents/%s: hosted agents require a kernel", a.Name)
	}
	return nil
}

// MemoryDef configures one memory provider. Kind selects the backend:
// static, inmemory, file, kv, vector.
type MemoryDef struct {
	Name       string         `yaml:"-"`
	Kind       string         `yaml:"kind"`
	Path       string         `yaml:"path"`
	DSN        string         `yaml:"dsn"`
	Addr       string         `yaml:"addr"`
	Collection string         `yaml:"collection"`
	Limit      int            `yaml:"limit"`
	Entries    []string       `yaml:"entries"`
	Embedder   *CapabilityDef `yaml:"embedder"`
}

// ToolsetDef configures one toolset transport. Kind is mcp or openapi.
type ToolsetDef struct {
	Name    string   `yaml:"-"`
	Kind    string   `yaml:"kind"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	URL     string   `yaml:"url"`
	Spec    string   `yaml:"spec"`
	BaseURL string   `yaml:"baseURL"`
	Auth    string   `yaml:"auth"`
}

// AuthDef configures one authentication policy. Kind is one of:
// apikey, bearer, basic, oauth2.
type AuthDef struct {
	Name         string   `yaml:"-"`
	Kind         string   `yaml:"kind"`
	Key          string   `yaml:"key"`
	Header       string   `yaml:"header"`
	Token        string   `yaml:"token"`
	Username     string   `yaml:"username"`
	Password     string   `yaml:"password"`
	TokenURL     string   `yaml:"tokenURL"`
	ClientID     string   `yaml:"clientID"`
	ClientSecret string   `yaml:"clientSecret"`
	Scopes       []string `yaml:"scopes"`
}

// StrategyDef binds a kernel function into a structural role within a
// process: selection, termination, decomposition, or synthesis. The
// *VariableName fields name the function inputs each role populates.
type StrategyDef struct {
	Function            string   `yaml:"function"`
	AgentsVariableName  string   `yaml:"agentsVariableName"`
	HistoryVariableName string   `yaml:"historyVariableName"`
	AgentVariableName   string   `yaml:"agentVariableName"`
	PromptVariableName  string   `yaml:"promptVariableName"`
	InputsVariableName  string   `yaml:"inputsVariableName"`
	Agents              []string `yaml:"agents"`
}

// ProcessKind distinguishes the two agentic process state machines.
type ProcessKind string

const (
	ProcessCollaboration ProcessKind = "collaboration"
	ProcessConvergence   ProcessKind = "convergence"
)

// ProcessDef is a materialized agentic process.
type ProcessDef struct {
	Name              string       `yaml:"-"`
	Kind              ProcessKind  `yaml:"kind"`
	Agents            []string     `yaml:"agents"`
	InitialAgent      string       `yaml:"initialAgent"`
	MaximumIterations int          `yaml:"maximumIterations"`
	Selection         *StrategyDef `yaml:"selection"`
	Termination       *StrategyDef `yaml:"termination"`
	Decomposition     *StrategyDef `yaml:"decomposition"`
	Synthesis         *StrategyDef `yaml:"synthesis"`
}

// Validate enforces the structural invariants of a process definition.
func (p *ProcessDef) Validate() error {
	switch p.Kind {
	case ProcessCollaboration, ProcessConvergence:
	default:
		return errors.Newf(errors.CodeMissingProperty,
			"processes/%s: kind must be collaboration or convergence", p.Name)
	}
	if len(p.Agents) == 0 {
		return errors.Newf(errors.CodeMissingProperty,
			"processes/%s: at least one agent is required", p.Name)
	}
	if p.Kind == ProcessConvergence && p.Synthesis == nil {
		return errors.Newf(errors.CodeMissingProperty,
			"processes/%s: convergence requires a synthesis strategy", p.Name)
	}
	return nil
}

// Resolved is the fully dereferenced, acyclic object graph produced by the
// resolver. It is read-only after construction and safe to share across
// concurrent runs.
type Resolved struct {
	Kernels   map[string]*KernelDef
	Functions map[string]*FunctionDef
	Agents    map[string]*AgentDef
	Memories  map[string]*MemoryDef
	Toolsets  map[string]*ToolsetDef
	Auth      map[string]*AuthDef
	Processes map[string]*ProcessDef
}

// Kernel looks up a kernel by name.
func (r *Resolved) Kernel(name string) (*KernelDef, error) {
	if def, ok := r.Kernels[name]; ok {
		return def, nil
	}
	return nil, errors.Newf(errors.CodeUnresolvedReference, "unknown kernel %q", name)
}

// Function looks up a kernel function by name.
func (r *Resolved) Function(name string) (*FunctionDef, error) {
	if def, ok := r.Functions[name]; ok {
		return def, nil
	}
	return nil, errors.Newf(errors.CodeUnresolvedReference, "unknown function %q", name)
}

// Agent looks up an agent by name.
func (r *Resolved) Agent(name string) (*AgentDef, error) {
	if def, ok := r.Agents[name]; ok {
		return def, nil
	}
	return nil, errors.Newf(errors.CodeUnresolvedReference, "unknown agent %q", name)
}

// Memory looks up a memory definition by name.
func (r *Resolved) Memory(name string) (*MemoryDef, error) {
	if def, ok := r.Memories[name]; ok {
		return def, nil
	}
	return nil, errors.Newf(errors.CodeUnresolvedReference, "unknown memory %q", name)
}

// Toolset looks up a toolset definition by name.
func (r *Resolved) Toolset(name string) (*ToolsetDef, error) {
	if def, ok := r.Toolsets[name]; ok {
		return def, nil
	}
	return nil, errors.Newf(errors.CodeUnresolvedReference, "unknown toolset %q", name)
}

// AuthPolicy looks up an authentication policy by name.
func (r *Resolved) AuthPolicy(name string) (*AuthDef, error) {
	if def, ok := r.Auth[name]; ok {
		return def, nil
	}
	return nil, errors.Newf(errors.CodeUnresolvedReference, "unknown auth policy %q", name)
}

// Process looks up a process definition by name.
func (r *Resolved) Process(name string) (*ProcessDef, error) {
	if def, ok := r.Processes[name]; ok {
		return def, nil
	}
	return nil, errors.Newf(errors.CodeUnresolvedReference, "unknown process %q", name)
}

// DecodeProps materializes a resolved property bag into a typed definition
// by round-tripping through YAML, so the typed structs keep a single set of
// field tags.
func DecodeProps(props map[string]any, out any) error {
	raw, err := yaml.Marshal(props)
	if err != nil {
		return errors.New(errors.CodeInternal, "cannot re-encode properties", err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return errors.New(errors.CodeMissingProperty, "properties do not match definition shape", err)
	}
	return nil
}
