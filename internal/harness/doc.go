// Package harness runs timeline scenarios: a protocol, a participant
// identifier and a schedule go in, a served experiment comes out, and
// assertions over it decide pass or fail.
//
// # Scenario Format
//
//	name: default_protocol
//	description: "Study as originally run"
//	protocol: ""            # CUE directory relative to the scenario; empty = embedded default
//	participant: "17"       # raw identifier, as it would arrive in the URL
//	random: [3]             # values for the identifier assignment source
//	token: session-17       # session token; default "test-session-default"
//	generate:               # or `schedule:` with inline [octave, shift, offset] tuples
//	  seed: 7
//	  blocks: 4
//	  repetitions: 10
//	assertions:
//	  - type: timeline_count
//	    event: tones
//	    count: 240
//	  - type: timeline_order
//	    events: [welcome, practice, summary_instructions, tones]
//	  - type: preload_unique
//	  - type: preload_count
//	    count: 6
//	  - type: breaks_between_blocks
//	  - type: record_field
//	    index: -1
//	    field: data.event
//	    value: debrief
//
// # Execution
//
// Every scenario runs against a fresh in-memory session store and blob
// store. The schedule is stored under the key of the identifier the
// participant resolves to, then the session service starts the session
// exactly as the HTTP server would. With a fixed token and scripted random
// values the served experiment is byte-for-byte reproducible, which is what
// RunWithGolden relies on.
package harness
