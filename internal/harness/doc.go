// Package harness runs link experiments against a simulated toolchain.
//
// A scenario scripts what the simulated linker does on each call and
// asserts on the resulting divergence report. The corpus is generated,
// compiled, linked and compared by the same code that drives a real
// toolchain; only the Toolchain implementation is replaced.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: flaky_map
//	description: "Island order in the map changes on every link"
//	workload:
//	  count: 3
//	  size: 64
//	runs: 4
//	links:
//	  - mode: rotate-map
//	assertions:
//	  - type: verdict
//	    verdict: divergent
//	  - type: unique_count
//	    artifact: map
//	    count: 4
//
// Link call i follows links[min(i, len(links)-1)], so a list of one step
// applies to every run.
//
// # Assertion Types
//
//   - verdict: the report verdict
//   - unique_count: number of distinct hashes for binary or map
//   - group_runs: some group holds exactly the listed runs
//   - failed_runs: number of failed runs
//   - problem: a problem was recorded at the named stage
//   - no_problems: no stage recorded a problem
//
// # Deterministic Testing
//
// Scenarios run with a step clock and a fixed experiment ID, and golden
// snapshots (see Snapshot) label hashes by order of appearance instead of
// printing them.
package harness
