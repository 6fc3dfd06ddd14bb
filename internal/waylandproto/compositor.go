package waylandproto

import "github.com/wl-gesso/gesso/internal/wire"

// wl_compositor request opcodes.
const (
	compositorRequestCreateSurface wire.Opcode = 0
	compositorRequestCreateRegion  wire.Opcode = 1
)

// wl_region request opcodes.
const regionRequestAdd wire.Opcode = 1

// wl_surface request opcodes.
const (
	surfaceRequestDestroy         wire.Opcode = 0
	surfaceRequestAttach          wire.Opcode = 1
	surfaceRequestDamage          wire.Opcode = 2
	surfaceRequestFrame           wire.Opcode = 3
	surfaceRequestSetOpaqueRegion wire.Opcode = 4
	surfaceRequestSetInputRegion  wire.Opcode = 5
	surfaceRequestCommit          wire.Opcode = 6
	surfaceRequestDamageBuffer    wire.Opcode = 9
)

// wl_surface event opcodes.
const (
	surfaceEventEnter wire.Opcode = 0
	surfaceEventLeave wire.Opcode = 1
)

// wl_callback event opcode.
const callbackEventDone wire.Opcode = 0

// Compositor is the wl_compositor global: it mints surfaces.
type Compositor struct {
	conn *wire.Conn
	id   wire.ObjectID
}

// NewCompositor wraps a bound wl_compositor object ID.
func NewCompositor(conn *wire.Conn, id wire.ObjectID) *Compositor {
	return &Compositor{conn: conn, id: id}
}

// ID returns the compositor's object ID.
func (c *Compositor) ID() wire.ObjectID { return c.id }

// CreateSurface mints a new wl_surface.
func (c *Compositor) CreateSurface() (*Surface, error) {
	id := c.conn.AllocID()
	b := wire.NewMessageBuilder()
	b.PutNewID(id)
	msg := b.BuildMessage(c.id, compositorRequestCreateSurface)
	if err := c.conn.SendMessage(msg); err != nil {
		return nil, err
	}
	return newSurface(c.conn, id), nil
}

// CreateRegion mints a wl_region; left empty, it serves as a surface's
// input region so the surface receives no pointer/touch input.
func (c *Compositor) CreateRegion() (*Region, error) {
	id := c.conn.AllocID()
	b := wire.NewMessageBuilder()
	b.PutNewID(id)
	msg := b.BuildMessage(c.id, compositorRequestCreateRegion)
	if err := c.conn.SendMessage(msg); err != nil {
		return nil, err
	}
	return &Region{conn: c.conn, id: id}, nil
}

// Region is a wl_region: a set of rectangles. The engine uses an empty
// one as each surface's input region.
type Region struct {
	conn *wire.Conn
	id   wire.ObjectID
}

// ID returns the region's object ID.
func (r *Region) ID() wire.ObjectID { return r.id }

// Add unions a rectangle into the region.
func (r *Region) Add(x, y, w, h int32) error {
	b := wire.NewMessageBuilder()
	b.PutInt32(x)
	b.PutInt32(y)
	b.PutInt32(w)
	b.PutInt32(h)
	return r.conn.SendMessage(b.BuildMessage(r.id, regionRequestAdd))
}

// Surface is a wl_surface: the rectangular canvas a layer is drawn
// into. OnEnter/OnLeave, when set, are invoked as wl_output
// enter/leave events arrive, tracking which output currently shows
// this surface.
type Surface struct {
	conn *wire.Conn
	id   wire.ObjectID

	OnEnter func(output wire.ObjectID)
	OnLeave func(output wire.ObjectID)
}

func newSurface(conn *wire.Conn, id wire.ObjectID) *Surface {
	s := &Surface{conn: conn, id: id}
	conn.Bind(id, s.dispatch)
	return s
}

// ID returns the surface's object ID.
func (s *Surface) ID() wire.ObjectID { return s.id }

// Attach binds a buffer as the surface's next contents.
func (s *Surface) Attach(buffer wire.ObjectID, x, y int32) error {
	b := wire.NewMessageBuilder()
	b.PutObject(buffer)
	b.PutInt32(x)
	b.PutInt32(y)
	return s.conn.SendMessage(b.BuildMessage(s.id, surfaceRequestAttach))
}

// DamageBuffer marks the entire buffer as needing a redraw.
func (s *Surface) DamageBuffer(x, y, w, h int32) error {
	b := wire.NewMessageBuilder()
	b.PutInt32(x)
	b.PutInt32(y)
	b.PutInt32(w)
	b.PutInt32(h)
	return s.conn.SendMessage(b.BuildMessage(s.id, surfaceRequestDamageBuffer))
}

// SetOpaqueRegion marks the surface's pixels as fully opaque, letting
// the compositor skip blending it against whatever is behind it. A
// full-surface XRGB8888 wallpaper is always opaque.
func (s *Surface) SetOpaqueRegion(region wire.ObjectID) error {
	b := wire.NewMessageBuilder()
	b.PutObject(region)
	return s.conn.SendMessage(b.BuildMessage(s.id, surfaceRequestSetOpaqueRegion))
}

// SetInputRegion restricts the surface's input area; an empty region
// (created with no Add calls) rejects all pointer/touch input, which
// a wallpaper surface always wants.
func (s *Surface) SetInputRegion(region wire.ObjectID) error {
	b := wire.NewMessageBuilder()
	b.PutObject(region)
	return s.conn.SendMessage(b.BuildMessage(s.id, surfaceRequestSetInputRegion))
}

// Commit applies every pending attach/damage/opaque-region change.
func (s *Surface) Commit() error {
	b := wire.NewMessageBuilder()
	return s.conn.SendMessage(b.BuildMessage(s.id, surfaceRequestCommit))
}

// Frame requests a one-shot callback fired when the compositor wants
// the next frame drawn.
func (s *Surface) Frame() (*FrameCallback, error) {
	id := s.conn.AllocID()
	b := wire.NewMessageBuilder()
	b.PutNewID(id)
	if err := s.conn.SendMessage(b.BuildMessage(s.id, surfaceRequestFrame)); err != nil {
		return nil, err
	}
	return newFrameCallback(s.conn, id), nil
}

// Destroy destroys the surface.
func (s *Surface) Destroy() error {
	b := wire.NewMessageBuilder()
	err := s.conn.SendMessage(b.BuildMessage(s.id, surfaceRequestDestroy))
	s.conn.Bind(s.id, nil)
	return err
}

func (s *Surface) dispatch(msg *wire.Message) error {
	dec := wire.NewDecoder(msg.Args)
	switch msg.Opcode {
	case surfaceEventEnter:
		output, err := dec.Object()
		if err != nil {
			return err
		}
		if s.OnEnter != nil {
			s.OnEnter(output)
		}
	case surfaceEventLeave:
		output, err := dec.Object()
		if err != nil {
			return err
		}
		if s.OnLeave != nil {
			s.OnLeave(output)
		}
	}
	return nil
}

// FrameCallback is a one-shot wl_callback used for frame pacing.
type FrameCallback struct {
	conn *wire.Conn
	id   wire.ObjectID
	Done chan uint32

	// OnDone, if set, is invoked synchronously from dispatch when the
	// done event arrives, before Done is sent to and closed — used by
	// the animation driver to flip pacing flags in step with dispatch
	// rather than polling a channel.
	OnDone func(data uint32)
}

func newFrameCallback(conn *wire.Conn, id wire.ObjectID) *FrameCallback {
	cb := &FrameCallback{conn: conn, id: id, Done: make(chan uint32, 1)}
	conn.Bind(id, cb.dispatch)
	return cb
}

func (cb *FrameCallback) dispatch(msg *wire.Message) error {
	if msg.Opcode != callbackEventDone {
		return nil
	}
	dec := wire.NewDecoder(msg.Args)
	data, err := dec.Uint32()
	if err != nil {
		return err
	}
	cb.conn.Bind(cb.id, nil)
	if cb.OnDone != nil {
		cb.OnDone(data)
	}
	select {
	case cb.Done <- data:
	default:
	}
	close(cb.Done)
	return nil
}
