package suite

import (
	"context"
	"fmt"

	"governor/internal/behavior"
	"governor/internal/deadline"
	"governor/internal/engine"
	"governor/internal/registry"
)

// Build converts the suite into an engine container. Behavior declarations
// are instantiated here, so an unknown kind or a bad option is reported as a
// *registry.ConfigError naming the declaration site before anything runs.
func (s *Suite) Build() (*engine.Container, error) {
	b := &treeBuilder{file: s.Path}
	root := s.NodeSpec
	root.Type = TypeContainer

	node, err := b.node(&root, s.Name)
	if err != nil {
		return nil, err
	}
	return node.(*engine.Container), nil
}

// BuildAll builds every suite in order.
func BuildAll(suites []*Suite) ([]engine.Node, error) {
	nodes := make([]engine.Node, 0, len(suites))
	for _, s := range suites {
		c, err := s.Build()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, c)
	}
	return nodes, nil
}

type treeBuilder struct {
	file string
}

func (b *treeBuilder) node(n *NodeSpec, path string) (engine.Node, error) {
	decls, timeout, err := b.behaviors(n.Behaviors, path)
	if err != nil {
		return nil, err
	}

	switch n.EffectiveType() {
	case TypeContainer:
		c := &engine.Container{
			Name:       n.Name,
			Behaviors:  decls,
			Deadline:   timeout,
			BeforeAll:  hooks(n.BeforeAll),
			BeforeEach: hooks(n.BeforeEach),
			AfterEach:  hooks(n.AfterEach),
			AfterAll:   hooks(n.AfterAll),
		}
		if n.Setup != nil {
			setup := *n.Setup
			body := setup.ActionSpec.body()
			c.Setup = func(ctx context.Context, uc *behavior.Context) (any, error) {
				if err := body(ctx, uc); err != nil {
					return nil, err
				}
				return setup.Value, nil
			}
		}
		for i := range n.Members {
			m := &n.Members[i]
			child, err := b.node(m, path+" > "+m.Name)
			if err != nil {
				return nil, err
			}
			c.Children = append(c.Children, child)
		}
		return c, nil

	case TypeFactory:
		produced := make([]engine.DynamicTest, 0, len(n.Dynamic))
		for _, d := range n.Dynamic {
			produced = append(produced, engine.DynamicTest{Name: d.Name, Body: d.ActionSpec.body()})
		}
		body := n.ActionSpec.body()
		return &engine.Factory{
			Name:      n.Name,
			Behaviors: decls,
			Deadline:  timeout,
			Body: func(ctx context.Context, uc *behavior.Context) ([]engine.DynamicTest, error) {
				if err := body(ctx, uc); err != nil {
					return nil, err
				}
				return produced, nil
			},
		}, nil

	case TypeTemplate:
		t := &engine.Template{Name: n.Name, Behaviors: decls, Deadline: timeout, Body: n.ActionSpec.body()}
		for _, inv := range n.Invocations {
			invDecls, invTimeout, err := b.behaviors(inv.Behaviors, path+" > "+inv.Name)
			if err != nil {
				return nil, err
			}
			t.Invocations = append(t.Invocations, engine.InvocationContext{Name: inv.Name, Behaviors: invDecls, Deadline: invTimeout})
		}
		return t, nil

	case TypeTest:
		return &engine.Test{Name: n.Name, Behaviors: decls, Deadline: timeout, Body: n.ActionSpec.body()}, nil
	}
	return nil, fmt.Errorf("%s: unknown node type %q", path, n.Type)
}

// behaviors instantiates the declarations of one node. A timeout declaration
// becomes the node's deadline override rather than a registered behavior.
func (b *treeBuilder) behaviors(specs []BehaviorSpec, path string) ([]registry.Declaration, *engine.DeadlineOverride, error) {
	var timeout *engine.DeadlineOverride
	decls := make([]registry.Declaration, 0, len(specs))
	for _, spec := range specs {
		site := fmt.Sprintf("%s:%d (%s)", b.file, spec.Line, path)

		build, ok := kinds[spec.Kind]
		if !ok {
			return nil, nil, &registry.ConfigError{Site: site, Type: spec.Kind, Cause: ErrUnknownKind}
		}
		v, err := build(spec.With)
		if err != nil {
			return nil, nil, &registry.ConfigError{Site: site, Type: spec.Kind, Cause: err}
		}
		if o, ok := v.(*engine.DeadlineOverride); ok {
			if timeout != nil {
				return nil, nil, &registry.ConfigError{Site: site, Type: spec.Kind, Cause: ErrDuplicateTimeout}
			}
			timeout = o
			continue
		}
		decls = append(decls, registry.Declaration{Behavior: v, Site: site, Priority: spec.Priority})
	}
	return decls, timeout, nil
}

// hooks converts hook specs. Timeouts are validated at load.
func hooks(specs []HookSpec) []engine.Hook {
	out := make([]engine.Hook, 0, len(specs))
	for _, h := range specs {
		hook := engine.Hook{Name: h.Name, Run: h.ActionSpec.body()}
		if h.Timeout != "" {
			budget, _ := deadline.ParseBudget(h.Timeout)
			hook.Deadline = &deadline.Deadline{Budget: budget}
		}
		out = append(out, hook)
	}
	return out
}
