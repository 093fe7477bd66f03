// Package harness provides conformance testing for the pipe bridge.
//
// The harness starts real bridge workers on a host runtime, drives them
// through scripted steps and checks what the host observed.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	workers:
//	  - name: shout
//	    builtin: upper        # echo | data-echo | upper
//	steps:
//	  - op: send
//	    worker: shout
//	    text: hi              # data: for data-echo workers
//	  - op: await
//	    worker: shout         # count: defaults to every message sent so far
//	  - op: close
//	    worker: shout
//	  - op: collect           # release delivered user pointers and collect
//	assertions:
//	  - type: delivered_order
//	    worker: shout
//	    values: [HI]
//	  - type: trace_count
//	    event: deliver
//	    count: 1
//
// Decoding is strict: unknown fields are errors. Scenarios are then checked
// by validateScenario and against the embedded CUE schema (schema.cue).
// Unknown ops, builtins, assertion types and worker names come back with a
// "did you mean" suggestion.
//
// # Assertion Types
//
//   - delivered_count: a worker received exactly N results
//   - delivered_order: a worker received exactly these results, in order
//   - finalized_count: exactly N sent data payloads were finalized
//   - trace_count: an event occurred exactly N times
//   - journal_count: the journal holds exactly N rows of an event
//
// # Deterministic Testing
//
// The harness uses:
//   - Deterministic logical clock (testutil.DeterministicClock)
//   - Scenario-scoped process IDs (testutil.ScopedIDGenerator)
//   - In-memory SQLite journal (isolated per run)
//
// Every step, including the host pump inside await, runs on the calling
// goroutine. A trace is reproducible byte for byte when each await covers
// every message outstanding at that point.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/ping.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, err := range result.Errors {
//	        log.Println(err)
//	    }
//	}
package harness
