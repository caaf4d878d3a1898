package server

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/vango-dev/scopebind/internal/errors"
	"github.com/vango-dev/scopebind/pkg/bind"
	"github.com/vango-dev/scopebind/pkg/scope"
)

// Hub owns the scope tree and the goroutine that mutates it.
type Hub struct {
	root   *scope.Node
	rooms  *scope.Node
	conns  *scope.Node
	binder *bind.Binder

	// Touched only on the loop goroutine.
	roomNodes map[string]*scope.Node
	connByID  map[string]*Conn

	dispatchCh chan func()
	done       chan struct{}
	stopped    chan struct{}
	closed     atomic.Bool

	metrics *hubMetrics
	logger  *slog.Logger
}

// NewHub creates a hub and starts its loop. root is the hub's tree root; it
// is destroyed by Close.
func NewHub(root *scope.Node, binder *bind.Binder, queue int, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if queue <= 0 {
		queue = 1024
	}
	h := &Hub{
		root:       root,
		rooms:      scope.NewNode(root, scope.WithName("rooms")),
		conns:      scope.NewNode(root, scope.WithName("conns")),
		binder:     binder,
		roomNodes:  make(map[string]*scope.Node),
		connByID:   make(map[string]*Conn),
		dispatchCh: make(chan func(), queue),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		logger:     logger.With("component", "hub"),
	}
	go h.loop()
	return h
}

// Root returns the hub's tree root.
func (h *Hub) Root() *scope.Node {
	return h.root
}

// loop runs dispatched functions until the hub is closed.
func (h *Hub) loop() {
	defer close(h.stopped)
	for {
		select {
		case fn := <-h.dispatchCh:
			h.execute(fn)
		case <-h.done:
			return
		}
	}
}

// execute runs fn with panic recovery.
func (h *Hub) execute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("dispatch panic",
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	fn()
}

// Dispatch queues fn to run on the hub loop without waiting. It returns
// ErrDispatchQueueFull when the loop is saturated.
func (h *Hub) Dispatch(fn func()) error {
	if h.closed.Load() {
		return ErrHubClosed
	}
	select {
	case h.dispatchCh <- fn:
		return nil
	case <-h.done:
		return ErrHubClosed
	default:
		h.logger.Warn("dispatch queue full, discarding callback")
		return ErrDispatchQueueFull
	}
}

// Do runs fn on the hub loop and waits for it to finish.
func (h *Hub) Do(ctx context.Context, fn func()) error {
	if h.closed.Load() {
		return ErrHubClosed
	}
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}

	select {
	case h.dispatchCh <- wrapped:
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close destroys the tree and stops the loop. Connections are closed as
// their nodes are destroyed.
func (h *Hub) Close() {
	if h.closed.Swap(true) {
		return
	}
	finished := make(chan struct{})
	select {
	case h.dispatchCh <- func() {
		defer close(finished)
		h.shutdown()
	}:
		<-finished
	default:
		// Loop is saturated; tear down after it stops.
		close(h.done)
		<-h.stopped
		h.shutdown()
		return
	}
	close(h.done)
	<-h.stopped
}

func (h *Hub) shutdown() {
	conns := make([]*Conn, 0, len(h.connByID))
	for _, c := range h.connByID {
		conns = append(conns, c)
	}
	for _, c := range conns {
		c.Close()
	}
	h.root.Destroy()
	h.roomNodes = map[string]*scope.Node{}
	h.connByID = map[string]*Conn{}
	h.metrics.setRooms(0)
}

// validRoom reports whether name is usable as a room name.
func validRoom(name string) bool {
	return name != "" && len(name) <= 128 && !strings.ContainsAny(name, "/ \t\r\n")
}

// room returns the named room, creating it if create is set.
// Must run on the loop.
func (h *Hub) room(name string, create bool) (*scope.Node, error) {
	if !validRoom(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRoom, name)
	}
	if n, ok := h.roomNodes[name]; ok {
		return n, nil
	}
	if !create {
		return nil, fmt.Errorf("%w: %q", ErrRoomNotFound, name)
	}
	n := scope.NewNode(h.rooms, scope.WithName(name))
	if n.IsDestroyed() {
		return nil, ErrHubClosed
	}
	h.roomNodes[name] = n
	h.metrics.setRooms(len(h.roomNodes))
	h.logger.Debug("room created", "room", name)
	return n, nil
}

// addConn attaches c to the tree. Must run on the loop.
func (h *Hub) addConn(c *Conn) {
	c.node = scope.NewNode(h.conns, scope.WithName(c.id))
	h.connByID[c.id] = c
	h.metrics.connOpened()
}

// removeConn destroys c's node, releasing everything it bound.
// Must run on the loop.
func (h *Hub) removeConn(c *Conn) {
	if _, ok := h.connByID[c.id]; !ok {
		return
	}
	delete(h.connByID, c.id)
	rooms := make(map[string]struct{}, len(c.subs))
	for _, sub := range c.subs {
		rooms[sub.room] = struct{}{}
	}
	c.subs = nil
	c.node.Destroy()
	h.metrics.connClosed()
	for name := range rooms {
		h.reapRoom(name)
	}
}

// subscribe binds a forwarding listener for c. Must run on the loop.
func (h *Hub) subscribe(c *Conn, m *ClientMessage) *errors.ScopeError {
	if _, dup := c.subs[m.ID]; dup {
		return errors.New("E204").WithDetailf("%q", m.ID)
	}
	room, err := h.room(m.Room, true)
	if err != nil {
		return errors.New("E202").WithDetail("room").Wrap(err)
	}

	id, roomName := m.ID, m.Room
	forward := func(e *scope.Event) {
		payload, err := payloadJSON(e.Payload)
		if err != nil {
			h.logger.Warn("payload encode failed", "room", roomName, "event", e.Name, "error", err)
			return
		}
		c.Send(ServerMessage{Type: TypeEvent, ID: id, Room: roomName, Event: e.Name, Payload: payload})
	}

	unreg, bindErr := h.binder.BindDependentListener(c.node, m.Event, forward, room)
	if bindErr != nil {
		h.reapRoom(roomName)
		return errors.FromError(bindErr, "E003")
	}
	c.subs[id] = subscription{room: roomName, event: m.Event, unregister: unreg}
	return nil
}

// unsubscribe releases one of c's subscriptions. Must run on the loop.
func (h *Hub) unsubscribe(c *Conn, id string) *errors.ScopeError {
	sub, ok := c.subs[id]
	if !ok {
		return errors.New("E203").WithDetailf("%q", id)
	}
	delete(c.subs, id)
	sub.unregister()
	h.reapRoom(sub.room)
	return nil
}

// reapRoom destroys the named room once nothing listens on it. Rooms are
// created on demand by subscribers, so an empty room has no other owner.
// Must run on the loop.
func (h *Hub) reapRoom(name string) {
	room, ok := h.roomNodes[name]
	if !ok || room.TotalListenerCount() > 0 {
		return
	}
	delete(h.roomNodes, name)
	h.metrics.setRooms(len(h.roomNodes))
	room.Destroy()
	h.logger.Debug("room released", "room", name)
}

// dispatch emits or broadcasts on a room. Must run on the loop.
func (h *Hub) dispatch(op, roomName, event string, payload any) (*scope.Event, error) {
	room, err := h.room(roomName, false)
	if err != nil {
		return nil, err
	}
	if op == OpBroadcast {
		return room.Broadcast(event, payload), nil
	}
	return room.Emit(event, payload), nil
}

// deleteRoom tells subscribers the room is gone and destroys it, which
// releases their bindings from the source side. Must run on the loop.
func (h *Hub) deleteRoom(name string) error {
	room, err := h.room(name, false)
	if err != nil {
		return err
	}
	closed := errors.New("E205").WithDetailf("%q", name)
	for _, c := range h.connByID {
		for id, sub := range c.subs {
			if sub.room == name {
				delete(c.subs, id)
				c.Send(errorMessage(id, closed))
			}
		}
	}
	delete(h.roomNodes, name)
	h.metrics.setRooms(len(h.roomNodes))
	room.Destroy()
	h.logger.Info("room deleted", "room", name)
	return nil
}

// roomNames returns the live room names, sorted. Must run on the loop.
func (h *Hub) roomNames() []string {
	names := make([]string, 0, len(h.roomNodes))
	for name := range h.roomNodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
