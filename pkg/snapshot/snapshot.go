// Package snapshot captures the shape of a scope tree and writes it to a
// file or S3 sink.
//
// Snapshots are diagnostic: listener and destroy callback counts per node
// make leaked subscriptions visible without attaching a debugger.
package snapshot

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vango-dev/scopebind/pkg/scope"
)

// Tree is a point-in-time view of one node and its descendants.
type Tree struct {
	ID               uint64         `json:"id" yaml:"id"`
	Name             string         `json:"name,omitempty" yaml:"name,omitempty"`
	Destroyed        bool           `json:"destroyed,omitempty" yaml:"destroyed,omitempty"`
	Listeners        map[string]int `json:"listeners,omitempty" yaml:"listeners,omitempty"`
	DestroyCallbacks int            `json:"destroyCallbacks" yaml:"destroyCallbacks"`
	Children         []*Tree        `json:"children,omitempty" yaml:"children,omitempty"`
}

// Take walks n's subtree. It does not lock the subtree as a whole, so take
// it from the goroutine that mutates the tree when that matters.
func Take(n *scope.Node) *Tree {
	t := &Tree{
		ID:               n.ID(),
		Name:             n.Name(),
		Destroyed:        n.IsDestroyed(),
		DestroyCallbacks: n.DestroyCallbackCount(),
	}
	for _, name := range n.EventNames() {
		if t.Listeners == nil {
			t.Listeners = make(map[string]int)
		}
		t.Listeners[name] = n.ListenerCount(name)
	}
	for _, c := range n.Children() {
		t.Children = append(t.Children, Take(c))
	}
	return t
}

// Nodes returns the number of nodes in the tree.
func (t *Tree) Nodes() int {
	n := 1
	for _, c := range t.Children {
		n += c.Nodes()
	}
	return n
}

// TotalListeners returns the total listener count in the tree.
func (t *Tree) TotalListeners() int {
	total := 0
	for _, c := range t.Listeners {
		total += c
	}
	for _, c := range t.Children {
		total += c.TotalListeners()
	}
	return total
}

// TotalCallbacks returns the total pending destroy callback count in the tree.
func (t *Tree) TotalCallbacks() int {
	total := t.DestroyCallbacks
	for _, c := range t.Children {
		total += c.TotalCallbacks()
	}
	return total
}

// Find returns the first node named name in depth-first order, or nil.
func (t *Tree) Find(name string) *Tree {
	if t.Name == name {
		return t
	}
	for _, c := range t.Children {
		if found := c.Find(name); found != nil {
			return found
		}
	}
	return nil
}

// Format is a snapshot encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat parses "json" or "yaml" ("yml" is accepted).
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("snapshot: unknown format %q", s)
	}
}

// Ext returns the file extension for f, including the dot.
func (f Format) Ext() string {
	if f == FormatYAML {
		return ".yaml"
	}
	return ".json"
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	if f == FormatYAML {
		return "application/yaml"
	}
	return "application/json"
}

// Encode serializes t in format f.
func (t *Tree) Encode(f Format) ([]byte, error) {
	switch f {
	case FormatYAML:
		return yaml.Marshal(t)
	case FormatJSON, "":
		data, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	default:
		return nil, fmt.Errorf("snapshot: unknown format %q", f)
	}
}

// Key builds an object name for a snapshot taken at ts.
func Key(name string, ts time.Time, f Format) string {
	if name == "" {
		name = "tree"
	}
	return name + "-" + ts.UTC().Format("20060102T150405Z") + f.Ext()
}
