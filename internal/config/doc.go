// Package config provides configuration management for governor.
//
// Configuration is a flat set of string parameters (key/value), the same shape
// as the parameters a surrounding test platform passes to an engine. The
// parameters are loaded from multiple sources and merged in a specific order,
// with later sources overriding earlier ones.
//
// # Configuration Layers
//
//  1. Default parameters (embedded in binary)
//  2. User configuration (~/.config/governor/config.yaml)
//  3. Project configuration (./.governor/config.yaml)
//  4. An explicit file passed with --config
//  5. Individual overrides passed with --set key=value
//
// # File Structure
//
// A configuration file holds a single "parameters" map. Nested maps are
// flattened with dots, so both spellings below are equivalent:
//
//	parameters:
//	  governor.execution.timeout.default: 5s
//	  governor.execution.timeout:
//	    mode: disabled_on_debug
//	    beforeall.method.default: 500ms
//
// Scalar values of any YAML type are kept as their literal text; the consumers
// of a key decide how to parse it.
//
// # Well-known Keys
//
// See keys.go for the keys understood by the engine: behavior auto-detection,
// the timeout cascade (global, per category, per phase), the timeout mode and
// the default timeout strategy, and parallel execution of children.
package config
