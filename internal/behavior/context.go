package behavior

import (
	"strings"
	"time"

	"governor/internal/config"
	"governor/internal/registry"
	"governor/internal/store"

	"github.com/google/uuid"
)

// UnitKind is the node type of a running unit.
type UnitKind string

const (
	UnitRun       UnitKind = "run"
	UnitContainer UnitKind = "container"
	UnitTest      UnitKind = "test"
	UnitFactory   UnitKind = "factory"
	UnitTemplate  UnitKind = "template"
	UnitDynamic   UnitKind = "dynamic"
	// UnitInvocation is one invocation context of a template.
	UnitInvocation UnitKind = "invocation"
)

// Status is the terminal result of a unit.
type Status string

const (
	StatusSuccess Status = "success"
	// StatusRecovered is a failure swallowed by a handler; it counts as success.
	StatusRecovered Status = "recovered"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	// StatusAborted marks units cut short by an unrecoverable failure.
	StatusAborted Status = "aborted"
)

// Passed reports whether the status counts as a pass.
func (s Status) Passed() bool {
	return s == StatusSuccess || s == StatusRecovered || s == StatusSkipped
}

// Result is what a unit produced.
type Result struct {
	Status Status
	// Err is the final failure value, nil unless failed or aborted.
	Err error
	// Reason explains a skip or names the handler that recovered a failure.
	Reason   string
	Duration time.Duration
}

// Context describes a running unit to behaviors.
type Context struct {
	ID          string
	DisplayName string
	Kind        UnitKind
	Parent      *Context
	Params      config.Parameters
	Level       *registry.Level
	Store       *store.Store
	// Fixture is the value a container setup produced; members inherit it.
	Fixture any
}

// NewContext creates the context of a child unit. parent may be nil for the
// run itself.
func NewContext(parent *Context, kind UnitKind, name string, params config.Parameters, level *registry.Level) *Context {
	var parentStore *store.Store
	if parent != nil {
		parentStore = parent.Store
	}
	uc := &Context{
		ID:          uuid.NewString(),
		DisplayName: name,
		Kind:        kind,
		Parent:      parent,
		Params:      params,
		Level:       level,
		Store:       store.New(parentStore),
	}
	if parent != nil {
		uc.Fixture = parent.Fixture
	}
	return uc
}

// Path returns the display names from the first container down to this unit,
// joined with " > ". The run itself is omitted.
func (c *Context) Path() string {
	var names []string
	for cur := c; cur != nil; cur = cur.Parent {
		if cur.Kind == UnitRun {
			continue
		}
		names = append(names, cur.DisplayName)
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return strings.Join(names, " > ")
}

// Depth is the number of ancestors below the run.
func (c *Context) Depth() int {
	depth := 0
	for cur := c.Parent; cur != nil && cur.Kind != UnitRun; cur = cur.Parent {
		depth++
	}
	return depth
}
