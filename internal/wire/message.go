// Package wire implements the Wayland wire protocol: object IDs,
// opcodes, and the little-endian message framing used by every
// interface request and event. It carries no knowledge of any
// particular interface; internal/waylandproto builds the
// wl_compositor/wl_shm/zwlr_layer_shell_v1 bindings on top of it.
package wire

import (
	"encoding/binary"
	"fmt"
)

// ObjectID identifies a protocol object. 0 is the null object.
type ObjectID uint32

// Opcode identifies a request or event within an interface.
type Opcode uint16

// Fixed is a Wayland wl_fixed_t: a 24.8 signed fixed-point number.
type Fixed int32

// FixedFromFloat converts a float64 to wl_fixed_t.
func FixedFromFloat(v float64) Fixed {
	return Fixed(int32(v * 256))
}

// Float converts a wl_fixed_t back to float64.
func (f Fixed) Float() float64 {
	return float64(f) / 256
}

// Message is a decoded (or pending) request/event: a target object, an
// opcode, and its argument payload in wire order.
type Message struct {
	Sender ObjectID
	Opcode Opcode
	Args   []byte
	Fds    []int
}

// header is 8 bytes: object id (4), opcode (2) + size (2).
const headerSize = 8

// MessageBuilder accumulates argument bytes for one outgoing request.
// Arguments must be appended in the order the interface's request
// signature names them; out-of-band fds collected via PutFD ride
// alongside the message as SCM_RIGHTS ancillary data.
type MessageBuilder struct {
	buf []byte
	fds []int
}

// NewMessageBuilder returns an empty builder.
func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{}
}

// PutInt32 appends a signed 32-bit argument.
func (b *MessageBuilder) PutInt32(v int32) *MessageBuilder {
	return b.PutUint32(uint32(v))
}

// PutUint32 appends an unsigned 32-bit argument.
func (b *MessageBuilder) PutUint32(v uint32) *MessageBuilder {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
	return b
}

// PutFixed appends a wl_fixed_t argument.
func (b *MessageBuilder) PutFixed(v Fixed) *MessageBuilder {
	return b.PutUint32(uint32(v))
}

// PutObject appends an existing object reference argument.
func (b *MessageBuilder) PutObject(id ObjectID) *MessageBuilder {
	return b.PutUint32(uint32(id))
}

// PutNewID appends a new_id argument: the client-allocated object the
// server is asked to bring into being.
func (b *MessageBuilder) PutNewID(id ObjectID) *MessageBuilder {
	return b.PutUint32(uint32(id))
}

// PutNewIDInterface appends an untyped new_id argument (interface
// name, version, id) as used by wl_registry.bind.
func (b *MessageBuilder) PutNewIDInterface(name string, version uint32, id ObjectID) *MessageBuilder {
	b.PutString(name)
	b.PutUint32(version)
	b.PutUint32(uint32(id))
	return b
}

// PutString appends a length-prefixed, nul-terminated, 32-bit-padded
// string argument.
func (b *MessageBuilder) PutString(s string) *MessageBuilder {
	n := uint32(len(s) + 1)
	b.PutUint32(n)
	b.buf = append(b.buf, s...)
	b.buf = append(b.buf, 0)
	b.pad()
	return b
}

// PutArray appends a length-prefixed, 32-bit-padded array argument.
func (b *MessageBuilder) PutArray(data []byte) *MessageBuilder {
	b.PutUint32(uint32(len(data)))
	b.buf = append(b.buf, data...)
	b.pad()
	return b
}

// PutFD records a file descriptor to be passed out-of-band alongside
// this message. It contributes no bytes to the argument payload.
func (b *MessageBuilder) PutFD(fd int) *MessageBuilder {
	b.fds = append(b.fds, fd)
	return b
}

func (b *MessageBuilder) pad() {
	for len(b.buf)%4 != 0 {
		b.buf = append(b.buf, 0)
	}
}

// BuildMessage frames the accumulated arguments with a header for
// sender and opcode, returning the full wire message.
func (b *MessageBuilder) BuildMessage(sender ObjectID, opcode Opcode) *Message {
	return &Message{Sender: sender, Opcode: opcode, Args: b.buf, Fds: b.fds}
}

// Encode serialises m (header + args) into wire bytes. Fds are not
// encoded here; the caller passes them separately as SCM_RIGHTS data.
func (m *Message) Encode() []byte {
	size := headerSize + len(m.Args)
	out := make([]byte, size)
	binary.LittleEndian.PutUint32(out[0:4], uint32(m.Sender))
	binary.LittleEndian.PutUint16(out[4:6], uint16(m.Opcode))
	binary.LittleEndian.PutUint16(out[6:8], uint16(size))
	copy(out[headerSize:], m.Args)
	return out
}

// DecodeHeader reads the 8-byte header from buf, returning the
// message's sender, opcode, and total wire size (header included).
func DecodeHeader(buf []byte) (sender ObjectID, opcode Opcode, size int, err error) {
	if len(buf) < headerSize {
		return 0, 0, 0, fmt.Errorf("wire: short header: %d bytes", len(buf))
	}
	sender = ObjectID(binary.LittleEndian.Uint32(buf[0:4]))
	opcode = Opcode(binary.LittleEndian.Uint16(buf[4:6]))
	size = int(binary.LittleEndian.Uint16(buf[6:8]))
	if size < headerSize {
		return 0, 0, 0, fmt.Errorf("wire: invalid message size %d", size)
	}
	return sender, opcode, size, nil
}

// Decoder reads arguments out of a message's Args payload in order.
type Decoder struct {
	buf []byte
	off int
	fds []int
}

// NewDecoder wraps a message's argument bytes for sequential reads.
func NewDecoder(args []byte) *Decoder {
	return &Decoder{buf: args}
}

// NewDecoderWithFds wraps args together with the out-of-band fds that
// arrived alongside the message (for events carrying fd arguments).
func NewDecoderWithFds(args []byte, fds []int) *Decoder {
	return &Decoder{buf: args, fds: fds}
}

func (d *Decoder) take(n int) ([]byte, error) {
	if d.off+n > len(d.buf) {
		return nil, fmt.Errorf("wire: decode past end: need %d, have %d", n, len(d.buf)-d.off)
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

// Int32 decodes a signed 32-bit argument.
func (d *Decoder) Int32() (int32, error) {
	v, err := d.Uint32()
	return int32(v), err
}

// Uint32 decodes an unsigned 32-bit argument.
func (d *Decoder) Uint32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Fixed decodes a wl_fixed_t argument.
func (d *Decoder) Fixed() (Fixed, error) {
	v, err := d.Uint32()
	return Fixed(v), err
}

// Object decodes an object reference argument.
func (d *Decoder) Object() (ObjectID, error) {
	v, err := d.Uint32()
	return ObjectID(v), err
}

// String decodes a length-prefixed, nul-terminated, padded string.
func (d *Decoder) String() (string, error) {
	n, err := d.Uint32()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	b, err := d.take(int(n))
	if err != nil {
		return "", err
	}
	s := string(b[:n-1])
	d.skipPad(int(n))
	return s, nil
}

// Array decodes a length-prefixed, padded byte array.
func (d *Decoder) Array() ([]byte, error) {
	n, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	b, err := d.take(int(n))
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), b...)
	d.skipPad(int(n))
	return out, nil
}

// Fd pops the next out-of-band file descriptor received with this
// message.
func (d *Decoder) Fd() (int, error) {
	if len(d.fds) == 0 {
		return -1, fmt.Errorf("wire: no fd available to decode")
	}
	fd := d.fds[0]
	d.fds = d.fds[1:]
	return fd, nil
}

func (d *Decoder) skipPad(n int) {
	pad := (4 - n%4) % 4
	if pad > 0 {
		d.off += pad
	}
}
