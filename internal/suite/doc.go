// Package suite loads YAML suite files and turns them into engine unit trees.
//
// A suite file describes containers, tests, factories and templates whose
// bodies are simulated actions, and the behaviors declared on each of them.
// It stands in for a discovery layer: the CLI uses it to drive the engine end
// to end without compiled test code.
//
// ## Suite Structure
//
//	```yaml
//	name: Orders
//	tags: [smoke]
//	behaviors:
//	  - kind: swallow
//	    with: {match: "flaky"}
//	setup: {action: ok, value: orders-db}
//	before_each:
//	  - name: connect
//	members:
//	  - name: creates order
//	  - name: slow lookup
//	    action: sleep
//	    duration: 2s
//	    behaviors:
//	      - kind: timeout
//	        with: {budget: 100ms, strategy: dedicated}
//	  - name: generated
//	    dynamic:
//	      - {name: d1}
//	      - {name: d2, action: fail, message: "bad input"}
//	  - name: pays
//	    invocations:
//	      - name: card
//	      - name: invoice
//	        behaviors: [{kind: disable, with: {reason: "not yet"}}]
//	```
//
// A node without an explicit type is a container when it has members, a
// factory when it has dynamic tests, a template when it has invocations, and a
// test otherwise.
//
// ## Actions
//
// ok, sleep (honors cancellation), hang (ignores cancellation), fail, panic,
// fatal (unrecoverable) and skip.
//
// ## Behavior Kinds
//
// swallow (alias recover), rethrow, convert, lifecycle-swallow (alias
// lifecycle-recover), timeout, trace, disable, skip-invocation and resource.
// An unknown kind or an invalid option is a configuration error naming the
// file and line of the declaration.
//
// A timeout applies to the node it is declared on and everything below it,
// limited to the phases named by its kinds option. The innermost declaration
// wins, so a test may tighten or relax its container's budget. A hook takes
// its own budget from its timeout field.
package suite
