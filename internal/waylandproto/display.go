// Package waylandproto binds the small slice of the Wayland protocol
// the engine needs — wl_display, wl_registry, wl_compositor, wl_shm,
// wl_output, and zwlr_layer_shell_v1 — on top of internal/wire's
// transport-agnostic framing.
//
// The per-interface binding shape (an object ID plus a dispatch
// method keyed by opcode, request methods that build and send a
// message) follows other_examples' gogpu-gogpu wayland package.
package waylandproto

import (
	"github.com/wl-gesso/gesso/internal/errs"
	"github.com/wl-gesso/gesso/internal/wire"
)

// wl_display request opcodes.
const (
	displayRequestSync        wire.Opcode = 0
	displayRequestGetRegistry wire.Opcode = 1
)

// wl_display event opcodes.
const (
	displayEventError    wire.Opcode = 0
	displayEventDeleteID wire.Opcode = 1
)

// Display is the root protocol object (always object ID 1) and owns
// the connection used to reach every other bound object.
type Display struct {
	conn *wire.Conn
}

// NewDisplay wraps an already-dialed wire.Conn and installs the
// wl_display event handler for fatal protocol errors.
func NewDisplay(conn *wire.Conn) *Display {
	d := &Display{conn: conn}
	conn.Bind(wire.DisplayObjectID, d.dispatch)
	return d
}

// ID returns wl_display's well-known object ID.
func (d *Display) ID() wire.ObjectID { return wire.DisplayObjectID }

// Conn returns the underlying transport, for AllocID/Roundtrip calls
// made by other bindings in this package.
func (d *Display) Conn() *wire.Conn { return d.conn }

// GetRegistry requests the global registry used to discover and bind
// compositor-advertised interfaces.
func (d *Display) GetRegistry() (*Registry, error) {
	id := d.conn.AllocID()
	b := wire.NewMessageBuilder()
	b.PutNewID(id)
	msg := b.BuildMessage(d.ID(), displayRequestGetRegistry)
	if err := d.conn.SendMessage(msg); err != nil {
		return nil, err
	}
	return newRegistry(d.conn, id), nil
}

// Roundtrip blocks until every request sent before this call has been
// fully processed by the compositor.
func (d *Display) Roundtrip() error {
	return d.conn.Roundtrip()
}

func (d *Display) dispatch(msg *wire.Message) error {
	switch msg.Opcode {
	case displayEventError:
		dec := wire.NewDecoder(msg.Args)
		objID, _ := dec.Object()
		code, _ := dec.Uint32()
		message, _ := dec.String()
		return errs.New(errs.TransportBroken, protoErrorText(objID, code, message))
	case displayEventDeleteID:
		// Server released an object ID; nothing to free on this side
		// since Go garbage-collects the binding wrappers themselves.
		return nil
	}
	return nil
}

func protoErrorText(obj wire.ObjectID, code uint32, message string) string {
	return "protocol error on object " + itoa(uint32(obj)) + " code " + itoa(code) + ": " + message
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// wl_registry request/event opcodes.
const (
	registryRequestBind wire.Opcode = 0
	registryEventGlobal wire.Opcode = 0
	registryEventRemove wire.Opcode = 1
)

// Global describes one interface the compositor has advertised.
type Global struct {
	Name      uint32
	Interface string
	Version   uint32
}

// Registry receives the compositor's global advertisements and binds
// the ones the engine needs.
type Registry struct {
	conn    *wire.Conn
	id      wire.ObjectID
	globals []Global
}

func newRegistry(conn *wire.Conn, id wire.ObjectID) *Registry {
	r := &Registry{conn: conn, id: id}
	conn.Bind(id, r.dispatch)
	return r
}

// ID returns the registry's object ID.
func (r *Registry) ID() wire.ObjectID { return r.id }

func (r *Registry) dispatch(msg *wire.Message) error {
	switch msg.Opcode {
	case registryEventGlobal:
		dec := wire.NewDecoder(msg.Args)
		name, err := dec.Uint32()
		if err != nil {
			return err
		}
		iface, err := dec.String()
		if err != nil {
			return err
		}
		version, err := dec.Uint32()
		if err != nil {
			return err
		}
		r.globals = append(r.globals, Global{Name: name, Interface: iface, Version: version})
	case registryEventRemove:
		dec := wire.NewDecoder(msg.Args)
		name, err := dec.Uint32()
		if err != nil {
			return err
		}
		for i, g := range r.globals {
			if g.Name == name {
				r.globals = append(r.globals[:i], r.globals[i+1:]...)
				break
			}
		}
	}
	return nil
}

// Globals returns every global advertised so far. Call Display.Roundtrip
// once after GetRegistry before reading this, so the initial burst of
// wl_registry.global events has been fully received.
func (r *Registry) Globals() []Global {
	out := make([]Global, len(r.globals))
	copy(out, r.globals)
	return out
}

// Find returns the first global matching interfaceName, or ok=false.
func (r *Registry) Find(interfaceName string) (Global, bool) {
	for _, g := range r.globals {
		if g.Interface == interfaceName {
			return g, true
		}
	}
	return Global{}, false
}

// Bind requests that a global be instantiated as a client-side
// object, returning the fresh object's allocated ID for the caller to
// wrap with the concrete interface type.
func (r *Registry) Bind(global Global, version uint32) (wire.ObjectID, error) {
	id := r.conn.AllocID()
	b := wire.NewMessageBuilder()
	b.PutUint32(global.Name)
	b.PutNewIDInterface(global.Interface, version, id)
	msg := b.BuildMessage(r.id, registryRequestBind)
	if err := r.conn.SendMessage(msg); err != nil {
		return 0, err
	}
	return id, nil
}
