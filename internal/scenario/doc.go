// Package scenario runs YAML scripts against a scope tree and binder.
//
// A script declares nodes under an implicit "root", registers named
// recording handlers, dispatches events and checks what each handler saw:
//
//	name: dependent-released
//	steps:
//	  - node: {id: panel}
//	  - bind: {dependent: panel, event: ping, handler: h}
//	  - emit: {node: root, event: ping, payload: 1}
//	  - destroy: panel
//	  - emit: {node: root, event: ping, payload: 2}
//	  - expect: {handler: h, calls: 1, payloads: [1]}
//
// scopectl run executes scripts from the command line.
package scenario
