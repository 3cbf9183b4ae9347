package suite

import (
	"gopkg.in/yaml.v3"
)

// NodeType is the kind of a suite node.
type NodeType string

const (
	TypeContainer NodeType = "container"
	TypeTest      NodeType = "test"
	TypeFactory   NodeType = "factory"
	TypeTemplate  NodeType = "template"
)

// Suite is the root container of a suite file.
type Suite struct {
	NodeSpec `yaml:",inline"`

	// Description is a human-readable summary of the suite.
	Description string `yaml:"description,omitempty"`
	// Tags are used to select suites from the command line.
	Tags []string `yaml:"tags,omitempty"`

	// Path is the file the suite was loaded from.
	Path string `yaml:"-"`
}

// NodeSpec declares one container, test, factory or template.
type NodeSpec struct {
	Type      NodeType       `yaml:"type,omitempty"`
	Name      string         `yaml:"name"`
	Behaviors []BehaviorSpec `yaml:"behaviors,omitempty"`

	// Setup builds the fixture of a container.
	Setup      *SetupSpec `yaml:"setup,omitempty"`
	BeforeAll  []HookSpec `yaml:"before_all,omitempty"`
	BeforeEach []HookSpec `yaml:"before_each,omitempty"`
	AfterEach  []HookSpec `yaml:"after_each,omitempty"`
	AfterAll   []HookSpec `yaml:"after_all,omitempty"`
	Members    []NodeSpec `yaml:"members,omitempty"`

	// ActionSpec is the body of a test, factory or template.
	ActionSpec `yaml:",inline"`

	// Dynamic lists the tests a factory produces.
	Dynamic []DynamicSpec `yaml:"dynamic,omitempty"`
	// Invocations lists the invocation contexts of a template.
	Invocations []InvocationSpec `yaml:"invocations,omitempty"`
}

// ActionSpec is a simulated body.
type ActionSpec struct {
	// Action is one of ok, sleep, hang, fail, panic, fatal or skip. Empty means ok.
	Action string `yaml:"action,omitempty"`
	// Duration applies to sleep and hang, e.g. "250ms".
	Duration string `yaml:"duration,omitempty"`
	// Message is the failure message, panic value or skip reason.
	Message string `yaml:"message,omitempty"`
}

// SetupSpec is a container setup: an action followed by the fixture value.
type SetupSpec struct {
	ActionSpec `yaml:",inline"`
	Value      string `yaml:"value,omitempty"`
}

// HookSpec is a named before/after hook.
type HookSpec struct {
	Name       string `yaml:"name"`
	ActionSpec `yaml:",inline"`
	// Timeout is a budget literal for this hook only, e.g. "500ms".
	Timeout string `yaml:"timeout,omitempty"`
}

// DynamicSpec is one test produced by a factory.
type DynamicSpec struct {
	Name       string `yaml:"name"`
	ActionSpec `yaml:",inline"`
}

// InvocationSpec is one invocation context of a template.
type InvocationSpec struct {
	Name      string         `yaml:"name"`
	Behaviors []BehaviorSpec `yaml:"behaviors,omitempty"`
}

// BehaviorSpec declares a catalog behavior.
type BehaviorSpec struct {
	Kind     string            `yaml:"kind"`
	Priority *int              `yaml:"priority,omitempty"`
	With     map[string]string `yaml:"with,omitempty"`

	// Line is the line of the declaration in its file.
	Line int `yaml:"-"`
}

// UnmarshalYAML records the declaration line alongside the decoded fields.
func (b *BehaviorSpec) UnmarshalYAML(node *yaml.Node) error {
	type plain BehaviorSpec
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*b = BehaviorSpec(p)
	b.Line = node.Line
	return nil
}

// EffectiveType resolves the node type, inferring it from the node's content
// when not set.
func (n *NodeSpec) EffectiveType() NodeType {
	switch {
	case n.Type != "":
		return n.Type
	case len(n.Members) > 0:
		return TypeContainer
	case len(n.Dynamic) > 0:
		return TypeFactory
	case len(n.Invocations) > 0:
		return TypeTemplate
	}
	return TypeTest
}
