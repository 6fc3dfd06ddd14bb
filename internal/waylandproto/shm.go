package waylandproto

import "github.com/wl-gesso/gesso/internal/wire"

// wl_shm request/event opcodes.
const (
	shmRequestCreatePool wire.Opcode = 0
	shmEventFormat       wire.Opcode = 0
)

// wl_shm_pool request opcodes.
const (
	shmPoolRequestCreateBuffer wire.Opcode = 0
	shmPoolRequestDestroy      wire.Opcode = 1
	shmPoolRequestResize       wire.Opcode = 2
)

// wl_buffer request/event opcodes.
const (
	bufferRequestDestroy wire.Opcode = 0
	bufferEventRelease   wire.Opcode = 0
)

// ShmFormat mirrors wl_shm.format. Only XRGB8888 is required by this
// engine; the pixel kernels in internal/pixel assume it exclusively.
type ShmFormat uint32

// FormatXRGB8888 is the only format the engine ever requests.
const FormatXRGB8888 ShmFormat = 1

// Shm is the wl_shm global: it turns a shared-memory fd into pools
// and buffers the compositor can read directly.
type Shm struct {
	conn    *wire.Conn
	id      wire.ObjectID
	formats []ShmFormat
}

// NewShm wraps a bound wl_shm object ID.
func NewShm(conn *wire.Conn, id wire.ObjectID) *Shm {
	s := &Shm{conn: conn, id: id}
	conn.Bind(id, s.dispatch)
	return s
}

// ID returns the shm global's object ID.
func (s *Shm) ID() wire.ObjectID { return s.id }

// Formats lists the pixel formats the compositor advertised. Call
// after a Display.Roundtrip so the initial burst of format events has
// arrived.
func (s *Shm) Formats() []ShmFormat {
	out := make([]ShmFormat, len(s.formats))
	copy(out, s.formats)
	return out
}

// HasXRGB8888 reports whether the compositor advertised XRGB8888,
// which wl_shm.format is required by spec to always include.
func (s *Shm) HasXRGB8888() bool {
	for _, f := range s.formats {
		if f == FormatXRGB8888 {
			return true
		}
	}
	return false
}

// CreatePool wraps fd (an already memfd_create'd and sized region) as
// a wl_shm_pool of size bytes. fd is passed to the compositor but not
// closed here; the caller still owns it.
func (s *Shm) CreatePool(fd int, size int32) (*ShmPool, error) {
	id := s.conn.AllocID()
	b := wire.NewMessageBuilder()
	b.PutNewID(id)
	b.PutFD(fd)
	b.PutInt32(size)
	if err := s.conn.SendMessage(b.BuildMessage(s.id, shmRequestCreatePool)); err != nil {
		return nil, err
	}
	return &ShmPool{conn: s.conn, id: id, size: size}, nil
}

func (s *Shm) dispatch(msg *wire.Message) error {
	if msg.Opcode != shmEventFormat {
		return nil
	}
	dec := wire.NewDecoder(msg.Args)
	v, err := dec.Uint32()
	if err != nil {
		return err
	}
	s.formats = append(s.formats, ShmFormat(v))
	return nil
}

// ShmPool is a wl_shm_pool: a single mmap-backed region buffers are
// carved out of.
type ShmPool struct {
	conn *wire.Conn
	id   wire.ObjectID
	size int32
}

// ID returns the pool's object ID.
func (p *ShmPool) ID() wire.ObjectID { return p.id }

// CreateBuffer carves a buffer of width x height pixels, XRGB8888
// encoded with the given row stride, out of the pool at offset.
func (p *ShmPool) CreateBuffer(offset, width, height, stride int32) (*Buffer, error) {
	id := p.conn.AllocID()
	b := wire.NewMessageBuilder()
	b.PutNewID(id)
	b.PutInt32(offset)
	b.PutInt32(width)
	b.PutInt32(height)
	b.PutInt32(stride)
	b.PutUint32(uint32(FormatXRGB8888))
	if err := p.conn.SendMessage(b.BuildMessage(p.id, shmPoolRequestCreateBuffer)); err != nil {
		return nil, err
	}
	return newBuffer(p.conn, id), nil
}

// Resize grows the pool to size bytes; wl_shm_pool forbids shrinking.
func (p *ShmPool) Resize(size int32) error {
	b := wire.NewMessageBuilder()
	b.PutInt32(size)
	if err := p.conn.SendMessage(b.BuildMessage(p.id, shmPoolRequestResize)); err != nil {
		return err
	}
	p.size = size
	return nil
}

// Destroy destroys the pool; buffers already created from it stay
// valid.
func (p *ShmPool) Destroy() error {
	b := wire.NewMessageBuilder()
	return p.conn.SendMessage(b.BuildMessage(p.id, shmPoolRequestDestroy))
}

// Buffer is a wl_buffer: one drawable frame of a double-buffered
// surface. OnRelease fires once the compositor is done reading the
// buffer's backing memory and it's safe to render the next frame into
// it.
type Buffer struct {
	conn      *wire.Conn
	id        wire.ObjectID
	OnRelease func()
}

func newBuffer(conn *wire.Conn, id wire.ObjectID) *Buffer {
	buf := &Buffer{conn: conn, id: id}
	conn.Bind(id, buf.dispatch)
	return buf
}

// ID returns the buffer's object ID.
func (b *Buffer) ID() wire.ObjectID { return b.id }

// Destroy destroys the buffer.
func (b *Buffer) Destroy() error {
	builder := wire.NewMessageBuilder()
	err := b.conn.SendMessage(builder.BuildMessage(b.id, bufferRequestDestroy))
	b.conn.Bind(b.id, nil)
	return err
}

func (b *Buffer) dispatch(msg *wire.Message) error {
	if msg.Opcode == bufferEventRelease && b.OnRelease != nil {
		b.OnRelease()
	}
	return nil
}
