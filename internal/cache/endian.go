package cache

import "encoding/binary"

// Frame files are written and read as native-endian u32, matching the
// mmap'd SHM buffers they're copied to and from directly.

func nativeEndianUint32(b []byte) uint32 {
	return binary.NativeEndian.Uint32(b)
}

func putNativeEndianUint32(b []byte, v uint32) {
	binary.NativeEndian.PutUint32(b, v)
}
