package scenario

import (
	"bytes"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/vango-dev/scopebind/internal/errors"
)

// Script is a parsed scenario file.
type Script struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`

	// File is the path the script was loaded from, used in error locations.
	File string `yaml:"-"`
}

// Step is one operation. Exactly one field other than Line is set.
type Step struct {
	Node            *NodeStep            `yaml:"node,omitempty"`
	On              *OnStep              `yaml:"on,omitempty"`
	Bind            *BindStep            `yaml:"bind,omitempty"`
	Emit            *DispatchStep        `yaml:"emit,omitempty"`
	Broadcast       *DispatchStep        `yaml:"broadcast,omitempty"`
	Destroy         string               `yaml:"destroy,omitempty"`
	Unregister      string               `yaml:"unregister,omitempty"`
	Expect          *ExpectStep          `yaml:"expect,omitempty"`
	ExpectListeners *ExpectListenersStep `yaml:"expectListeners,omitempty"`
	ExpectCallbacks *ExpectCallbacksStep `yaml:"expectCallbacks,omitempty"`
	ExpectReports   *ExpectReportsStep   `yaml:"expectReports,omitempty"`
	Panic           *PanicStep           `yaml:"panic,omitempty"`

	Line   int `yaml:"-"`
	Column int `yaml:"-"`
}

// NodeStep creates a node. Parent defaults to the implicit "root".
type NodeStep struct {
	ID     string `yaml:"id"`
	Parent string `yaml:"parent,omitempty"`
}

// OnStep registers a recording handler directly on a node.
type OnStep struct {
	Node    string `yaml:"node"`
	Event   string `yaml:"event"`
	Handler string `yaml:"handler"`
	As      string `yaml:"as,omitempty"`
	Once    bool   `yaml:"once,omitempty"`
	Stop    bool   `yaml:"stop,omitempty"`
}

// BindStep binds a recording handler through the binder.
// Source defaults to "root".
type BindStep struct {
	Dependent string `yaml:"dependent"`
	Source    string `yaml:"source,omitempty"`
	Event     string `yaml:"event"`
	Handler   string `yaml:"handler"`
	As        string `yaml:"as,omitempty"`
	WantErr   bool   `yaml:"wantErr,omitempty"`
}

// DispatchStep emits or broadcasts from a node.
type DispatchStep struct {
	Node      string `yaml:"node"`
	Event     string `yaml:"event"`
	Payload   any    `yaml:"payload,omitempty"`
	Delivered *int   `yaml:"delivered,omitempty"`
}

// ExpectStep checks what a named handler has received.
type ExpectStep struct {
	Handler  string `yaml:"handler"`
	Calls    *int   `yaml:"calls,omitempty"`
	Payloads []any  `yaml:"payloads,omitempty"`
}

// ExpectListenersStep checks listener counts. An empty Event counts every
// listener in the node's subtree.
type ExpectListenersStep struct {
	Node  string `yaml:"node"`
	Event string `yaml:"event,omitempty"`
	Count int    `yaml:"count"`
}

// ExpectCallbacksStep checks the number of pending destroy callbacks.
type ExpectCallbacksStep struct {
	Node  string `yaml:"node"`
	Count int    `yaml:"count"`
}

// ExpectReportsStep checks how many errors were reported so far.
type ExpectReportsStep struct {
	Count int `yaml:"count"`
}

// PanicStep registers a handler that panics with Value.
type PanicStep struct {
	Node  string `yaml:"node"`
	Event string `yaml:"event"`
	Value string `yaml:"value,omitempty"`
}

// stepAlias avoids recursion in Step.UnmarshalYAML.
type stepAlias Step

// UnmarshalYAML records the step position and checks it names one operation.
func (s *Step) UnmarshalYAML(value *yaml.Node) error {
	var raw stepAlias
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*s = Step(raw)
	s.Line = value.Line
	s.Column = value.Column

	if n := s.opCount(); n != 1 {
		return errors.New("E303").
			WithLocation("", value.Line, value.Column).
			WithDetailf("step has %d operations", n)
	}
	return nil
}

func (s *Step) opCount() int {
	n := 0
	for _, set := range []bool{
		s.Node != nil,
		s.On != nil,
		s.Bind != nil,
		s.Emit != nil,
		s.Broadcast != nil,
		s.Destroy != "",
		s.Unregister != "",
		s.Expect != nil,
		s.ExpectListeners != nil,
		s.ExpectCallbacks != nil,
		s.ExpectReports != nil,
		s.Panic != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// Op returns the name of the step's operation.
func (s *Step) Op() string {
	switch {
	case s.Node != nil:
		return "node"
	case s.On != nil:
		return "on"
	case s.Bind != nil:
		return "bind"
	case s.Emit != nil:
		return "emit"
	case s.Broadcast != nil:
		return "broadcast"
	case s.Destroy != "":
		return "destroy"
	case s.Unregister != "":
		return "unregister"
	case s.Expect != nil:
		return "expect"
	case s.ExpectListeners != nil:
		return "expectListeners"
	case s.ExpectCallbacks != nil:
		return "expectCallbacks"
	case s.ExpectReports != nil:
		return "expectReports"
	case s.Panic != nil:
		return "panic"
	default:
		return ""
	}
}

// Parse decodes a script. name is used in error locations.
func Parse(data []byte, name string) (*Script, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Script
	if err := dec.Decode(&s); err != nil {
		if se := errors.FromError(err, "E300"); se.Location != nil {
			se.Location.File = name
			return nil, se
		}
		return nil, errors.New("E300").WithDetail(name).Wrap(err)
	}
	if len(s.Steps) == 0 {
		return nil, errors.New("E300").WithDetailf("%s has no steps", name)
	}

	s.File = name
	if s.Name == "" {
		s.Name = trimExt(filepath.Base(name))
	}
	return &s, nil
}

// Load reads and parses a script file.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New("E300").WithDetail(path).Wrap(err)
	}
	return Parse(data, path)
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}
