package invocation

import "fmt"

// Kind identifies which invocable unit a chain wraps. The chain itself is the
// same for every kind; only the terminal action and the interceptors change.
type Kind string

const (
	KindContainerSetup Kind = "container_setup"
	KindBeforeAll      Kind = "before_all"
	KindBeforeEach     Kind = "before_each"
	KindTest           Kind = "test"
	KindTestTemplate   Kind = "test_template"
	KindTestFactory    Kind = "test_factory"
	KindDynamicTest    Kind = "dynamic_test"
	KindAfterEach      Kind = "after_each"
	KindAfterAll       Kind = "after_all"
)

// AllKinds lists every kind in lifecycle order.
var AllKinds = []Kind{
	KindContainerSetup,
	KindBeforeAll,
	KindBeforeEach,
	KindTest,
	KindTestTemplate,
	KindTestFactory,
	KindDynamicTest,
	KindAfterEach,
	KindAfterAll,
}

// IsLifecycle reports whether the kind is a setup or teardown hook.
func (k Kind) IsLifecycle() bool {
	switch k {
	case KindBeforeAll, KindBeforeEach, KindAfterEach, KindAfterAll:
		return true
	}
	return false
}

// IsTestable reports whether the kind runs a test body.
func (k Kind) IsTestable() bool {
	switch k {
	case KindTest, KindTestTemplate, KindTestFactory:
		return true
	}
	return false
}

// Call describes one invocation passed through a chain.
type Call struct {
	Kind Kind
	// Name is the display name of the invoked unit or hook, e.g. "Orders > setUp".
	Name string
}

func (c Call) String() string {
	return fmt.Sprintf("%s %q", c.Kind, c.Name)
}
