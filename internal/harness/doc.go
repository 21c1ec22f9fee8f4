// Package harness runs conformance scenarios against a live binding.
//
// A scenario drives a binding backed by the in-memory reference engine
// the way a host and a view host would, then checks what the view host
// received.
//
// # Scenario Format
//
//	name: scenario_name
//	description: "What this scenario validates"
//	documents:
//	  home: '{"type":"APL","version":"1.4","mainTemplate":{...}}'
//	packages:
//	  https://cdn/pkg/1.0: '{"type":"APL","version":"1.4"}'
//	viewport: {width: 1024, height: 600, dpi: 160, mode: hub, shape: rectangle}
//	measure: {width: 100, height: 20, baseline: 15}
//	steps:
//	  - render: {document: home, token: home, data: '{"title":"Hi"}'}
//	  - build: true
//	  - commands: [{type: SetValue, componentId: title, property: text, value: Bye}]
//	  - tick: 16
//	assertions:
//	  - type: message_order
//	    messages: [renderingOptions, scaling, hierarchy]
//	  - type: callback
//	    name: renderDocumentComplete
//	    ok: true
//
// Each step is followed by a barrier: every load finishes and every task
// queued on the session worker runs before the next step starts.
//
// # Assertion Types
//
//   - message_contains: an outgoing message of a type whose payload holds a subset
//   - message_order: outgoing message types appear in order
//   - message_count: an outgoing message type appears exactly N times
//   - callback: a host callback was made, optionally with ok and detail
//   - final_state: session state, presentation token and backstack ids
//   - journal_contains: the envelope journal holds a matching entry
//
// # Deterministic Testing
//
// Scenarios run with a manual clock that only moves on tick steps,
// sequential presentation tokens and a private in-memory journal, so the
// trace of a scenario is identical across runs and can be compared with a
// golden file.
package harness
