package waylandproto

import "github.com/wl-gesso/gesso/internal/wire"

// wl_output event opcodes.
const (
	outputEventGeometry wire.Opcode = 0
	outputEventMode     wire.Opcode = 1
	outputEventDone     wire.Opcode = 2
	outputEventScale       wire.Opcode = 3
	outputEventName        wire.Opcode = 4
	outputEventDescription wire.Opcode = 5
)

// wl_output.mode flag bit for the current mode.
const outputModeCurrent uint32 = 0x1

// Output mirrors one wl_output global: a physical or logical display
// the compositor may place a layer surface on.
type Output struct {
	conn *wire.Conn
	id   wire.ObjectID

	Name        string
	Description string
	Width       int32
	Height      int32
	Scale       int32
	gotGeometry bool

	OnDone func(*Output)
}

// NewOutput wraps a bound wl_output object ID.
func NewOutput(conn *wire.Conn, id wire.ObjectID) *Output {
	o := &Output{conn: conn, id: id, Scale: 1}
	conn.Bind(id, o.dispatch)
	return o
}

// ID returns the output's object ID.
func (o *Output) ID() wire.ObjectID { return o.id }

func (o *Output) dispatch(msg *wire.Message) error {
	dec := wire.NewDecoder(msg.Args)
	switch msg.Opcode {
	case outputEventGeometry:
		o.gotGeometry = true
	case outputEventMode:
		flags, err := dec.Uint32()
		if err != nil {
			return err
		}
		w, err := dec.Int32()
		if err != nil {
			return err
		}
		h, err := dec.Int32()
		if err != nil {
			return err
		}
		if flags&outputModeCurrent != 0 {
			o.Width, o.Height = w, h
		}
	case outputEventScale:
		scale, err := dec.Int32()
		if err != nil {
			return err
		}
		o.Scale = scale
	case outputEventName:
		name, err := dec.String()
		if err != nil {
			return err
		}
		o.Name = name
	case outputEventDescription:
		desc, err := dec.String()
		if err != nil {
			return err
		}
		o.Description = desc
	case outputEventDone:
		if o.OnDone != nil {
			o.OnDone(o)
		}
	}
	return nil
}
