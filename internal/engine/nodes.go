package engine

import (
	"context"
	"slices"

	"governor/internal/behavior"
	"governor/internal/deadline"
	"governor/internal/invocation"
	"governor/internal/registry"
)

// Node is one element of the unit tree handed to the engine.
type Node interface {
	NodeName() string
}

// Body is the code of a test, hook or dynamic test.
type Body func(ctx context.Context, uc *behavior.Context) error

// Hook is a named before/after hook declared on a container.
type Hook struct {
	Name string
	Run  Body
	// Deadline overrides the configured deadline of this hook only.
	Deadline *deadline.Deadline
}

// DeadlineOverride replaces the configured deadline of the invocations it
// covers. Declared on a node, it applies to the node and everything beneath
// it; the innermost covering declaration wins over outer ones and over
// DeadlineProvider behaviors.
type DeadlineOverride struct {
	Deadline deadline.Deadline
	// Kinds limits the override. Empty covers test bodies, template
	// invocations, factories and dynamic tests.
	Kinds []invocation.Kind
}

// Covers reports whether the override applies to invocations of kind.
func (o *DeadlineOverride) Covers(kind invocation.Kind) bool {
	if o == nil {
		return false
	}
	if len(o.Kinds) == 0 {
		return kind.IsTestable() || kind == invocation.KindDynamicTest
	}
	return slices.Contains(o.Kinds, kind)
}

// Container groups members that share setup, hooks and behaviors.
type Container struct {
	Name      string
	Behaviors []registry.Declaration
	Deadline  *DeadlineOverride
	// Setup builds the fixture shared by the members. Optional.
	Setup func(ctx context.Context, uc *behavior.Context) (any, error)

	BeforeAll  []Hook
	BeforeEach []Hook
	AfterEach  []Hook
	AfterAll   []Hook

	Children []Node
}

// NodeName implements Node.
func (c *Container) NodeName() string { return c.Name }

// Test is a single test body.
type Test struct {
	Name      string
	Behaviors []registry.Declaration
	Deadline  *DeadlineOverride
	Body      Body
}

// NodeName implements Node.
func (t *Test) NodeName() string { return t.Name }

// DynamicTest is a test produced at run time by a Factory.
type DynamicTest struct {
	Name string
	Body Body
}

// Factory is a test whose body produces dynamic tests.
type Factory struct {
	Name      string
	Behaviors []registry.Declaration
	Deadline  *DeadlineOverride
	Body      func(ctx context.Context, uc *behavior.Context) ([]DynamicTest, error)
}

// NodeName implements Node.
func (f *Factory) NodeName() string { return f.Name }

// InvocationContext is one invocation of a Template, with the behaviors that
// apply to that invocation only.
type InvocationContext struct {
	Name      string
	Behaviors []registry.Declaration
	Deadline  *DeadlineOverride
}

// Template runs the same body once per invocation context.
type Template struct {
	Name        string
	Behaviors   []registry.Declaration
	Deadline    *DeadlineOverride
	Body        Body
	Invocations []InvocationContext
}

// NodeName implements Node.
func (t *Template) NodeName() string { return t.Name }
