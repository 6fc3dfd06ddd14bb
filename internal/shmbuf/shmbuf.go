// Package shmbuf is the buffer manager of spec.md §4.4: anonymous
// memfd-backed SHM pools, mmap'd read-write, exposed to the animation
// driver as a double-buffered pair of slots per surface.
//
// Slot mapping is grounded on the mmap/munmap syscall pair in
// itsManjeet-exp's mmap package, adapted from a read-only file mapper
// into a read-write anonymous one; the double-buffer state machine
// (current/busy/swap/swap_to_free) is this package's own, following
// spec.md §4.4's explicit state-machine note.
package shmbuf

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/wl-gesso/gesso/internal/errs"
	"github.com/wl-gesso/gesso/internal/waylandproto"
)

// Slot is one SHM-backed framebuffer: an anonymous memfd, its mmap'd
// view, and the pool/buffer objects bound against the compositor.
type Slot struct {
	fd     int
	mem    []byte
	buffer *waylandproto.Buffer
	busy   bool
}

// Pixels returns the slot's mapped memory aliased as a native-endian
// uint32 slice, one element per pixel. mmap on every commodity 64-bit
// platform returns 4-byte-aligned addresses, so this alias is safe;
// see spec.md §5's shared-resource policy.
func (s *Slot) Pixels() []uint32 {
	return unsafe.Slice((*uint32)(unsafe.Pointer(&s.mem[0])), len(s.mem)/4)
}

// Busy reports whether the compositor still holds this slot attached.
func (s *Slot) Busy() bool { return s.busy }

func (s *Slot) close() {
	if s.buffer != nil {
		_ = s.buffer.Destroy()
	}
	if s.mem != nil {
		_ = unix.Munmap(s.mem)
	}
	if s.fd >= 0 {
		_ = unix.Close(s.fd)
	}
}

// DoubleBuffer holds the two slots for one surface and the frame
// pacing state that rides alongside them. Both are cleared together
// whenever the surface's size changes, per spec.md §4.4's
// reallocation policy.
type DoubleBuffer struct {
	Width, Height, Stride, SizeBytes int32

	slots   [2]*Slot
	current int

	FramePending    bool
	FrameCallbackOK bool
	Callback        *waylandproto.FrameCallback
}

// NeedsRealloc reports whether the current slots (if any) don't match
// the requested geometry.
func (db *DoubleBuffer) NeedsRealloc(width, height, stride int32) bool {
	sizeBytes := stride * height
	return db.slots[0] == nil || db.slots[1] == nil ||
		db.SizeBytes != sizeBytes || db.Stride != stride
}

// Reallocate discards both slots (if any) and recreates them against
// shm at the requested geometry, clearing all frame-pacing state.
func (db *DoubleBuffer) Reallocate(shm *waylandproto.Shm, width, height, stride int32) error {
	db.closeSlots()

	sizeBytes := stride * height
	a, err := createSlot(shm, width, height, stride, sizeBytes)
	if err != nil {
		return err
	}
	b, err := createSlot(shm, width, height, stride, sizeBytes)
	if err != nil {
		a.close()
		return err
	}

	db.slots[0], db.slots[1] = a, b
	db.current = 0
	db.Width, db.Height, db.Stride, db.SizeBytes = width, height, stride, sizeBytes
	db.FramePending = false
	db.FrameCallbackOK = false
	db.Callback = nil
	return nil
}

func (db *DoubleBuffer) closeSlots() {
	for i, s := range db.slots {
		if s != nil {
			s.close()
			db.slots[i] = nil
		}
	}
}

// Close releases both slots; the DoubleBuffer is unusable afterward
// except through another Reallocate call.
func (db *DoubleBuffer) Close() {
	db.closeSlots()
}

// Current returns the slot the next paint should write into.
func (db *DoubleBuffer) Current() *Slot {
	return db.slots[db.current]
}

// CurrentIsBusy reports whether the slot about to be written is still
// attached to the compositor.
func (db *DoubleBuffer) CurrentIsBusy() bool {
	s := db.Current()
	return s != nil && s.busy
}

// SwapToFree flips current to the other slot iff it is not busy,
// reporting whether it swapped.
func (db *DoubleBuffer) SwapToFree() bool {
	other := db.slots[1-db.current]
	if other == nil || other.busy {
		return false
	}
	db.current = 1 - db.current
	return true
}

// Swap unconditionally flips current, called after every commit.
func (db *DoubleBuffer) Swap() {
	db.current = 1 - db.current
}

// BothReady reports whether both slots have live buffer/mapping
// state.
func (db *DoubleBuffer) BothReady() bool {
	return db.slots[0] != nil && db.slots[1] != nil
}

// MarkCurrentBusy marks the slot about to be attached as busy; call
// immediately before commit.
func (db *DoubleBuffer) MarkCurrentBusy() {
	if s := db.Current(); s != nil {
		s.busy = true
	}
}

// MarkCurrentFree clears the current slot's busy flag directly, for a
// caller that has given up waiting on the compositor to release it (a
// hard bail) and must guarantee this slot is paintable again rather
// than staying stuck until a release event that may never arrive.
func (db *DoubleBuffer) MarkCurrentFree() {
	if s := db.Current(); s != nil {
		s.busy = false
	}
}

// BufferID returns the compositor object id of the current slot's
// wl_buffer, for the attach request.
func (db *DoubleBuffer) BufferID() (uint32, bool) {
	s := db.Current()
	if s == nil || s.buffer == nil {
		return 0, false
	}
	return uint32(s.buffer.ID()), true
}

func createSlot(shm *waylandproto.Shm, width, height, stride, sizeBytes int32) (*Slot, error) {
	fd, err := unix.MemfdCreate("gesso-shm", 0)
	if err != nil {
		return nil, errs.Wrap(errs.EnvironmentAbsent, err, "memfd_create")
	}
	if err := unix.Ftruncate(fd, int64(sizeBytes)); err != nil {
		unix.Close(fd)
		return nil, errs.Wrap(errs.EnvironmentAbsent, err, "ftruncate shm backing file")
	}
	mem, err := unix.Mmap(fd, 0, int(sizeBytes), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, errs.Wrap(errs.EnvironmentAbsent, err, "mmap shm backing file")
	}

	// CreatePool passes fd to the compositor via SCM_RIGHTS; the kernel
	// dup()s it into the receiving process, so our copy can close
	// immediately afterward without invalidating the mapping or the
	// compositor's view of it.
	pool, err := shm.CreatePool(fd, sizeBytes)
	unix.Close(fd)
	if err != nil {
		unix.Munmap(mem)
		return nil, err
	}

	buf, err := pool.CreateBuffer(0, width, height, stride)
	_ = pool.Destroy()
	if err != nil {
		unix.Munmap(mem)
		return nil, err
	}

	slot := &Slot{fd: -1, mem: mem, buffer: buf}
	buf.OnRelease = func() { slot.busy = false }
	return slot, nil
}
