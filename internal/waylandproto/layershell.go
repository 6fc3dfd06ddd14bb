package waylandproto

import "github.com/wl-gesso/gesso/internal/wire"

// zwlr_layer_shell_v1 request opcodes.
const layerShellRequestGetLayerSurface wire.Opcode = 0

// Layer values for zwlr_layer_shell_v1.layer.
const (
	LayerBackground uint32 = 0
	LayerBottom     uint32 = 1
)

// Anchor bitmask values for zwlr_layer_surface_v1.set_anchor.
const (
	AnchorTop    uint32 = 1
	AnchorBottom uint32 = 2
	AnchorLeft   uint32 = 4
	AnchorRight  uint32 = 8
)

// anchorFill covers the whole output, which a wallpaper surface
// always anchors to.
const anchorFill = AnchorTop | AnchorBottom | AnchorLeft | AnchorRight

// zwlr_layer_surface_v1 request opcodes.
const (
	layerSurfaceRequestSetSize          wire.Opcode = 0
	layerSurfaceRequestSetAnchor        wire.Opcode = 1
	layerSurfaceRequestSetExclusiveZone wire.Opcode = 2
	layerSurfaceRequestSetKeyboardInteractivity wire.Opcode = 4
	layerSurfaceRequestAckConfigure     wire.Opcode = 6
	layerSurfaceRequestDestroy          wire.Opcode = 7
)

// zwlr_layer_surface_v1 event opcodes.
const (
	layerSurfaceEventConfigure wire.Opcode = 0
	layerSurfaceEventClosed    wire.Opcode = 1
)

// LayerShell is the zwlr_layer_shell_v1 global: it turns a wl_surface
// into a layer surface anchored to an output below normal windows.
type LayerShell struct {
	conn *wire.Conn
	id   wire.ObjectID
}

// NewLayerShell wraps a bound zwlr_layer_shell_v1 object ID.
func NewLayerShell(conn *wire.Conn, id wire.ObjectID) *LayerShell {
	return &LayerShell{conn: conn, id: id}
}

// ID returns the layer shell global's object ID.
func (l *LayerShell) ID() wire.ObjectID { return l.id }

// GetLayerSurface promotes surface into a layer surface on output,
// placed in layer, identified to the compositor by namespace (the
// convention is the application name).
func (l *LayerShell) GetLayerSurface(surface *Surface, output *Output, layer uint32, namespace string) (*LayerSurface, error) {
	id := l.conn.AllocID()
	b := wire.NewMessageBuilder()
	b.PutNewID(id)
	b.PutObject(surface.ID())
	if output != nil {
		b.PutObject(output.ID())
	} else {
		b.PutObject(0)
	}
	b.PutUint32(layer)
	b.PutString(namespace)
	if err := l.conn.SendMessage(b.BuildMessage(l.id, layerShellRequestGetLayerSurface)); err != nil {
		return nil, err
	}
	return newLayerSurface(l.conn, id), nil
}

// LayerSurface is a zwlr_layer_surface_v1: the layer-shell half of a
// wallpaper surface, responsible for sizing and the
// configure/ack_configure handshake.
type LayerSurface struct {
	conn *wire.Conn
	id   wire.ObjectID

	OnConfigure func(serial uint32, width, height uint32)
	OnClosed    func()
}

func newLayerSurface(conn *wire.Conn, id wire.ObjectID) *LayerSurface {
	ls := &LayerSurface{conn: conn, id: id}
	conn.Bind(id, ls.dispatch)
	return ls
}

// ID returns the layer surface's object ID.
func (ls *LayerSurface) ID() wire.ObjectID { return ls.id }

// SetSize requests the compositor size the surface w x h. 0 means
// "let the anchors determine this dimension", which a full-screen
// wallpaper always uses alongside AnchorFill.
func (ls *LayerSurface) SetSize(w, h uint32) error {
	b := wire.NewMessageBuilder()
	b.PutUint32(w)
	b.PutUint32(h)
	return ls.conn.SendMessage(b.BuildMessage(ls.id, layerSurfaceRequestSetSize))
}

// AnchorFill anchors the surface to all four edges of its output, so
// it always fills the output regardless of logical resolution.
func (ls *LayerSurface) AnchorFill() error {
	b := wire.NewMessageBuilder()
	b.PutUint32(anchorFill)
	return ls.conn.SendMessage(b.BuildMessage(ls.id, layerSurfaceRequestSetAnchor))
}

// SetExclusiveZone sets the surface's exclusive zone (-1 lets other
// layers overlap it; 0 claims no exclusive space, which is what the
// wallpaper surfaces in internal/surfacemgr pass).
func (ls *LayerSurface) SetExclusiveZone(zone int32) error {
	b := wire.NewMessageBuilder()
	b.PutInt32(zone)
	return ls.conn.SendMessage(b.BuildMessage(ls.id, layerSurfaceRequestSetExclusiveZone))
}

// SetKeyboardInteractivity disables (0) or enables keyboard focus. A
// wallpaper never wants focus.
func (ls *LayerSurface) SetKeyboardInteractivity(v uint32) error {
	b := wire.NewMessageBuilder()
	b.PutUint32(v)
	return ls.conn.SendMessage(b.BuildMessage(ls.id, layerSurfaceRequestSetKeyboardInteractivity))
}

// AckConfigure acknowledges a configure event by serial, completing
// the handshake before the next commit is honoured.
func (ls *LayerSurface) AckConfigure(serial uint32) error {
	b := wire.NewMessageBuilder()
	b.PutUint32(serial)
	return ls.conn.SendMessage(b.BuildMessage(ls.id, layerSurfaceRequestAckConfigure))
}

// Destroy destroys the layer surface.
func (ls *LayerSurface) Destroy() error {
	b := wire.NewMessageBuilder()
	err := ls.conn.SendMessage(b.BuildMessage(ls.id, layerSurfaceRequestDestroy))
	ls.conn.Bind(ls.id, nil)
	return err
}

func (ls *LayerSurface) dispatch(msg *wire.Message) error {
	dec := wire.NewDecoder(msg.Args)
	switch msg.Opcode {
	case layerSurfaceEventConfigure:
		serial, err := dec.Uint32()
		if err != nil {
			return err
		}
		w, err := dec.Uint32()
		if err != nil {
			return err
		}
		h, err := dec.Uint32()
		if err != nil {
			return err
		}
		if ls.OnConfigure != nil {
			ls.OnConfigure(serial, w, h)
		}
	case layerSurfaceEventClosed:
		if ls.OnClosed != nil {
			ls.OnClosed()
		}
	}
	return nil
}
