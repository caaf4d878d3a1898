// Package server implements a websocket pub/sub hub on top of a scope tree.
//
// The hub keeps one tree:
//
//	root
//	├── rooms
//	│   ├── <room>      (event sources, created on first use)
//	│   └── ...
//	└── conns
//	    ├── <conn-id>   (one per websocket connection)
//	    └── ...
//
// A client subscription binds a listener on a room node with the client's
// connection node as the dependent. When the connection closes its node is
// destroyed and every listener it bound is released; when a room is deleted
// the same bindings are released from the source side.
//
// All tree operations run on a single hub goroutine. Connections submit work
// with Dispatch; HTTP handlers use Do and wait for the result. Each
// connection owns a bounded send queue drained by its own writer goroutine.
//
// # Protocol
//
// Client messages are JSON objects:
//
//	{"op":"subscribe","id":"s1","room":"lobby","event":"chat"}
//	{"op":"unsubscribe","id":"s1"}
//	{"op":"emit","room":"lobby","event":"chat","payload":{"text":"hi"}}
//	{"op":"broadcast","room":"lobby","event":"chat","payload":1}
//
// Server messages:
//
//	{"type":"event","id":"s1","room":"lobby","event":"chat","payload":{"text":"hi"}}
//	{"type":"ack","id":"s1"}
//	{"type":"error","id":"s1","code":"E203","message":"Unknown subscription"}
package server
