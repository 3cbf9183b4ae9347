package config

const (
	// KeyAutodetection enables behaviors registered through the global catalog
	// in addition to the built-in defaults.
	KeyAutodetection = "governor.extensions.autodetection.enabled"

	// KeyTimeoutDefault is the budget applied to every invocation kind.
	KeyTimeoutDefault = "governor.execution.timeout.default"
	// KeyTimeoutTestableDefault applies to test, test template and test factory bodies.
	KeyTimeoutTestableDefault = "governor.execution.timeout.testable.method.default"
	// KeyTimeoutLifecycleDefault applies to before/after hooks.
	KeyTimeoutLifecycleDefault = "governor.execution.timeout.lifecycle.method.default"

	KeyTimeoutTest         = "governor.execution.timeout.test.method.default"
	KeyTimeoutTestTemplate = "governor.execution.timeout.testtemplate.method.default"
	KeyTimeoutTestFactory  = "governor.execution.timeout.testfactory.method.default"
	KeyTimeoutBeforeAll    = "governor.execution.timeout.beforeall.method.default"
	KeyTimeoutBeforeEach   = "governor.execution.timeout.beforeeach.method.default"
	KeyTimeoutAfterEach    = "governor.execution.timeout.aftereach.method.default"
	KeyTimeoutAfterAll     = "governor.execution.timeout.afterall.method.default"

	// KeyTimeoutMode is one of enabled, disabled or disabled_on_debug.
	KeyTimeoutMode = "governor.execution.timeout.mode"
	// KeyTimeoutThreadMode is one of same_thread or separate_thread.
	KeyTimeoutThreadMode = "governor.execution.timeout.thread.mode.default"

	// KeyParallelEnabled runs the children of a container concurrently.
	KeyParallelEnabled = "governor.execution.parallel.enabled"
	// KeyParallelism bounds the number of concurrently running children.
	KeyParallelism = "governor.execution.parallel.parallelism"
)
