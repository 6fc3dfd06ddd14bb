package wire

import "testing"

func TestMessageEncodeDecodeHeader(t *testing.T) {
	b := NewMessageBuilder()
	b.PutInt32(-7)
	b.PutUint32(42)
	b.PutString("hi")
	msg := b.BuildMessage(ObjectID(3), Opcode(5))

	wire := msg.Encode()
	sender, opcode, size, err := DecodeHeader(wire)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if sender != 3 || opcode != 5 {
		t.Fatalf("got sender=%d opcode=%d, want 3,5", sender, opcode)
	}
	if size != len(wire) {
		t.Fatalf("size=%d, want %d", size, len(wire))
	}
}

func TestDecoderRoundtrip(t *testing.T) {
	b := NewMessageBuilder()
	b.PutInt32(-123)
	b.PutUint32(999)
	b.PutObject(ObjectID(77))
	b.PutString("hello")
	b.PutArray([]byte{1, 2, 3})
	msg := b.BuildMessage(1, 0)

	d := NewDecoder(msg.Args)
	if v, err := d.Int32(); err != nil || v != -123 {
		t.Fatalf("Int32 = %d, %v, want -123", v, err)
	}
	if v, err := d.Uint32(); err != nil || v != 999 {
		t.Fatalf("Uint32 = %d, %v, want 999", v, err)
	}
	if v, err := d.Object(); err != nil || v != 77 {
		t.Fatalf("Object = %d, %v, want 77", v, err)
	}
	if v, err := d.String(); err != nil || v != "hello" {
		t.Fatalf("String = %q, %v, want hello", v, err)
	}
	if v, err := d.Array(); err != nil || string(v) != "\x01\x02\x03" {
		t.Fatalf("Array = %v, %v", v, err)
	}
}

func TestStringPadding(t *testing.T) {
	b := NewMessageBuilder()
	b.PutString("abc") // len 3+1 nul = 4, already aligned
	b.PutUint32(0xAABBCCDD)
	msg := b.BuildMessage(1, 0)

	d := NewDecoder(msg.Args)
	s, err := d.String()
	if err != nil || s != "abc" {
		t.Fatalf("String = %q, %v", s, err)
	}
	v, err := d.Uint32()
	if err != nil || v != 0xAABBCCDD {
		t.Fatalf("trailing Uint32 = %#x, %v, want 0xAABBCCDD", v, err)
	}
}

func TestDecoderShortBuffer(t *testing.T) {
	d := NewDecoder([]byte{1, 2})
	if _, err := d.Uint32(); err == nil {
		t.Fatal("expected error decoding past end of buffer")
	}
}

func TestFixedRoundtrip(t *testing.T) {
	f := FixedFromFloat(3.5)
	if got := f.Float(); got != 3.5 {
		t.Fatalf("Fixed roundtrip = %v, want 3.5", got)
	}
}

func TestFdQueueEmpty(t *testing.T) {
	d := NewDecoderWithFds(nil, nil)
	if _, err := d.Fd(); err == nil {
		t.Fatal("expected error popping fd from empty queue")
	}
}
