// Package config loads scopebind.json (or scopebind.toml) for the scopectl
// tool and the hub server.
//
// Example scopebind.json:
//
//	{
//	  "server": {"addr": ":7070", "sendQueue": 128},
//	  "binder": {"destroyedSource": "ignore"},
//	  "log": {"level": "info", "format": "text"},
//	  "metrics": {"enabled": true, "namespace": "scopebind"},
//	  "snapshot": {"dir": "snapshots"}
//	}
package config
