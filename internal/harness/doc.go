// Package harness runs conformance scenarios against the runtime.
//
// A scenario declares a program inline, the environment options to run it
// with, and assertions over the resulting trace. Every scenario runs on a
// virtual clock starting at 0 with a fixed run id, and its trace is
// written through the SQLite sink into an in-memory store and read back,
// so the store is exercised on every run.
//
// # Scenario Format
//
//	name: pipeline_two_workers
//	description: "Timer output flows downstream in the same tag"
//	program:
//	  name: Pipeline
//	  reactors:
//	    - name: A
//	      outputs: [out]
//	      timers: [{name: t, period: 100ms}]
//	      reactions:
//	        - {name: emit, triggers: [t], effects: [out]}
//	    - name: B
//	      inputs: [in]
//	      reactions:
//	        - {name: recv, triggers: [in]}
//	  connections:
//	    - {from: A.out, to: B.in}
//	run:
//	  scheduler: np
//	  workers: 2
//	  timeout: 200ms
//	assertions:
//	  - type: executions
//	    reaction: B.recv
//	    tags: ["0s", "100ms", "200ms"]
//	  - type: order
//	    reactions: [A.emit, B.recv]
//
// # Assertion Types
//
//   - executions: the reaction ran at exactly the listed tags
//   - count: the reaction ran exactly N times
//   - order: at every shared tag each reaction ended before the next started
//   - deadline_missed: the reaction missed its deadline exactly N times
//   - stop_tag: the last committed tag
//
// Tags are elapsed logical times with an optional microstep, "100ms+1".
//
// A scenario with expect_error passes when building or running the program
// fails with a matching validation or runtime error code.
//
// # Golden Files
//
// Snapshot groups the trace by tag, with reactions sorted by name so the
// result does not depend on which worker ran what. RunWithGolden compares
// it against testdata/golden/<name>.golden through goldie.
package harness
