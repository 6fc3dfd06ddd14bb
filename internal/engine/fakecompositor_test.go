package engine

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/wl-gesso/gesso/internal/wire"
)

// The opcode numbers below mirror the standard wl_display/wl_registry/
// wl_compositor/wl_shm/wl_output/zwlr_layer_shell_v1 wire protocol —
// the same numbers internal/waylandproto binds on the client side.
// A real compositor is a separate process with its own independent
// copy of this table; this fake one is no different.
const (
	fakeDisplayRequestSync        wire.Opcode = 0
	fakeDisplayRequestGetRegistry wire.Opcode = 1

	fakeRegistryRequestBind wire.Opcode = 0
	fakeRegistryEventGlobal wire.Opcode = 0

	fakeCompositorRequestCreateSurface wire.Opcode = 0
	fakeCompositorRequestCreateRegion  wire.Opcode = 1

	fakeSurfaceRequestDestroy      wire.Opcode = 0
	fakeSurfaceRequestAttach       wire.Opcode = 1
	fakeSurfaceRequestFrame        wire.Opcode = 3
	fakeSurfaceRequestCommit       wire.Opcode = 6
	fakeCallbackEventDone          wire.Opcode = 0
	fakeBufferEventRelease         wire.Opcode = 0
	fakeShmRequestCreatePool       wire.Opcode = 0
	fakeShmEventFormat             wire.Opcode = 0
	fakeShmPoolRequestCreateBuffer wire.Opcode = 0

	fakeLayerShellRequestGetLayerSurface wire.Opcode = 0
	fakeLayerSurfaceEventConfigure       wire.Opcode = 0

	fakeOutputEventGeometry    wire.Opcode = 0
	fakeOutputEventMode        wire.Opcode = 1
	fakeOutputEventDone        wire.Opcode = 2
	fakeOutputEventScale       wire.Opcode = 3
	fakeOutputEventName        wire.Opcode = 4
	fakeOutputEventDescription wire.Opcode = 5

	fakeFormatXRGB8888 uint32 = 1
)

// fakeSurfaceState tracks the per-surface bookkeeping a real
// compositor would keep to answer attach/frame/commit.
type fakeSurfaceState struct {
	attached     wire.ObjectID
	pendingFrame wire.ObjectID
	firstBuffer  wire.ObjectID
}

type fakeBufferState struct {
	poolID                        wire.ObjectID
	offset, width, height, stride int32
}

type fakePool struct {
	mem []byte
}

// fakeCommit is one snapshot of a surface's committed pixel payload,
// read directly out of the mmap'd pool backing the attached buffer at
// the moment the commit request was processed.
type fakeCommit struct {
	surface wire.ObjectID
	pixels  []uint32
}

// fakeCompositor is a minimal Wayland server driving exactly the
// requests the engine issues: registry/global advertisement, wl_shm
// pool/buffer creation over SCM_RIGHTS fds, the layer-shell configure
// handshake, and surface commit/frame/release bookkeeping. It exists
// so internal/engine's Apply path can be exercised over a real wire
// protocol socket instead of only at the unit level, the way
// internal/daemon/dispatcher_test.go exercises the control protocol
// over net.Pipe.
type fakeCompositor struct {
	mu   sync.Mutex
	conn *net.UnixConn

	readBuf    bytes.Buffer
	pendingFds []int

	objects        map[wire.ObjectID]string
	pools          map[wire.ObjectID]*fakePool
	buffers        map[wire.ObjectID]*fakeBufferState
	surfaces       map[wire.ObjectID]*fakeSurfaceState
	surfaceToLayer map[wire.ObjectID]wire.ObjectID
	layerConfigured map[wire.ObjectID]bool

	outputWidth  uint32
	outputHeight uint32
	nextGlobal   uint32
	serial       uint32

	// stuck reproduces spec.md §8 scenario S6: the compositor never
	// delivers frame-done, and never releases the very first buffer
	// any surface attaches (every later distinct buffer still
	// releases normally), so a stalled double-buffer pair can't drag
	// the whole apply past its bound.
	stuck bool

	commits chan fakeCommit
}

func newFakeCompositor(t *testing.T, stuck bool) (*fakeCompositor, string) {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "wayland-fake")
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: sockPath, Net: "unix"})
	if err != nil {
		t.Fatalf("listen on fake compositor socket: %v", err)
	}

	f := &fakeCompositor{
		objects:         map[wire.ObjectID]string{},
		pools:           map[wire.ObjectID]*fakePool{},
		buffers:         map[wire.ObjectID]*fakeBufferState{},
		surfaces:        map[wire.ObjectID]*fakeSurfaceState{},
		surfaceToLayer:  map[wire.ObjectID]wire.ObjectID{},
		layerConfigured: map[wire.ObjectID]bool{},
		outputWidth:     800,
		outputHeight:    600,
		stuck:           stuck,
		commits:         make(chan fakeCommit, 256),
	}

	t.Cleanup(func() {
		ln.Close()
		f.mu.Lock()
		if f.conn != nil {
			f.conn.Close()
		}
		f.mu.Unlock()
	})

	go func() {
		conn, err := ln.AcceptUnix()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()
		f.serve()
	}()

	return f, sockPath
}

// waitCommits blocks until at least n commits have been recorded (or
// timeout elapses, failing the test), then returns every commit
// recorded so far including any already queued beyond n.
func (f *fakeCompositor) waitCommits(t *testing.T, n int, timeout time.Duration) []fakeCommit {
	t.Helper()
	var out []fakeCommit
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case c := <-f.commits:
			out = append(out, c)
		case <-deadline:
			t.Fatalf("timed out waiting for %d commits, got %d", n, len(out))
		}
	}
	for {
		select {
		case c := <-f.commits:
			out = append(out, c)
		default:
			return out
		}
	}
}

func (f *fakeCompositor) serve() {
	for {
		if err := f.fillOnce(); err != nil {
			return
		}
		for {
			msg, ok, err := f.popMessage()
			if err != nil {
				return
			}
			if !ok {
				break
			}
			f.handle(msg)
		}
	}
}

func (f *fakeCompositor) fillOnce() error {
	buf := make([]byte, 4096)
	oob := make([]byte, 64)
	n, oobn, _, _, err := f.conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return err
	}
	if oobn > 0 {
		scms, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err == nil {
			for _, scm := range scms {
				fds, err := unix.ParseUnixRights(&scm)
				if err == nil {
					f.pendingFds = append(f.pendingFds, fds...)
				}
			}
		}
	}
	if n == 0 {
		return io.EOF
	}
	f.readBuf.Write(buf[:n])
	return nil
}

func (f *fakeCompositor) popMessage() (*wire.Message, bool, error) {
	data := f.readBuf.Bytes()
	if len(data) < 8 {
		return nil, false, nil
	}
	sender, opcode, size, err := wire.DecodeHeader(data)
	if err != nil {
		return nil, false, err
	}
	if len(data) < size {
		return nil, false, nil
	}
	args := append([]byte(nil), data[8:size]...)
	f.readBuf.Next(size)
	return &wire.Message{Sender: sender, Opcode: opcode, Args: args}, true, nil
}

func (f *fakeCompositor) popFd() int {
	if len(f.pendingFds) == 0 {
		return -1
	}
	fd := f.pendingFds[0]
	f.pendingFds = f.pendingFds[1:]
	return fd
}

func (f *fakeCompositor) sendEvent(target wire.ObjectID, opcode wire.Opcode, b *wire.MessageBuilder) {
	if b == nil {
		b = wire.NewMessageBuilder()
	}
	msg := b.BuildMessage(target, opcode)
	_, _ = f.conn.Write(msg.Encode())
}

func (f *fakeCompositor) sendGlobal(registryID wire.ObjectID, iface string, version uint32) {
	f.nextGlobal++
	b := wire.NewMessageBuilder().PutUint32(f.nextGlobal)
	b.PutString(iface)
	b.PutUint32(version)
	f.sendEvent(registryID, fakeRegistryEventGlobal, b)
}

func (f *fakeCompositor) sendOutputBurst(id wire.ObjectID) {
	f.sendEvent(id, fakeOutputEventGeometry, nil)
	mode := wire.NewMessageBuilder().PutUint32(1).PutInt32(int32(f.outputWidth)).PutInt32(int32(f.outputHeight))
	f.sendEvent(id, fakeOutputEventMode, mode)
	f.sendEvent(id, fakeOutputEventScale, wire.NewMessageBuilder().PutInt32(1))
	f.sendEvent(id, fakeOutputEventName, wire.NewMessageBuilder().PutString("HEADLESS-1"))
	f.sendEvent(id, fakeOutputEventDescription, wire.NewMessageBuilder().PutString("Fake headless output"))
	f.sendEvent(id, fakeOutputEventDone, nil)
}

func (f *fakeCompositor) sendConfigure(layerSurfaceID wire.ObjectID) {
	f.serial++
	b := wire.NewMessageBuilder().PutUint32(f.serial).PutUint32(f.outputWidth).PutUint32(f.outputHeight)
	f.sendEvent(layerSurfaceID, fakeLayerSurfaceEventConfigure, b)
}

func (f *fakeCompositor) handle(msg *wire.Message) {
	dec := wire.NewDecoder(msg.Args)

	if msg.Sender == wire.DisplayObjectID {
		switch msg.Opcode {
		case fakeDisplayRequestSync:
			cb, _ := dec.Object()
			f.sendEvent(cb, fakeCallbackEventDone, wire.NewMessageBuilder().PutUint32(0))
		case fakeDisplayRequestGetRegistry:
			id, _ := dec.Object()
			f.objects[id] = "registry"
			f.sendGlobal(id, "wl_compositor", 4)
			f.sendGlobal(id, "wl_shm", 1)
			f.sendGlobal(id, "zwlr_layer_shell_v1", 1)
			f.sendGlobal(id, "wl_output", 2)
		}
		return
	}

	switch f.objects[msg.Sender] {
	case "registry":
		if msg.Opcode != fakeRegistryRequestBind {
			return
		}
		_, _ = dec.Uint32() // global name
		iface, _ := dec.String()
		_, _ = dec.Uint32() // requested version
		id, _ := dec.Object()
		switch iface {
		case "wl_compositor":
			f.objects[id] = "compositor"
		case "wl_shm":
			f.objects[id] = "shm"
			f.sendEvent(id, fakeShmEventFormat, wire.NewMessageBuilder().PutUint32(fakeFormatXRGB8888))
		case "zwlr_layer_shell_v1":
			f.objects[id] = "layer_shell"
		case "wl_output":
			f.objects[id] = "output"
			f.sendOutputBurst(id)
		}

	case "compositor":
		switch msg.Opcode {
		case fakeCompositorRequestCreateSurface:
			id, _ := dec.Object()
			f.objects[id] = "surface"
			f.surfaces[id] = &fakeSurfaceState{}
		case fakeCompositorRequestCreateRegion:
			id, _ := dec.Object()
			f.objects[id] = "region"
		}

	case "shm":
		if msg.Opcode != fakeShmRequestCreatePool {
			return
		}
		id, _ := dec.Object()
		size, _ := dec.Int32()
		fd := f.popFd()
		if fd < 0 {
			return
		}
		mem, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
		unix.Close(fd)
		if err != nil {
			return
		}
		f.objects[id] = "pool"
		f.pools[id] = &fakePool{mem: mem}

	case "pool":
		if msg.Opcode != fakeShmPoolRequestCreateBuffer {
			return
		}
		id, _ := dec.Object()
		offset, _ := dec.Int32()
		width, _ := dec.Int32()
		height, _ := dec.Int32()
		stride, _ := dec.Int32()
		_, _ = dec.Uint32() // format
		f.objects[id] = "buffer"
		f.buffers[id] = &fakeBufferState{poolID: msg.Sender, offset: offset, width: width, height: height, stride: stride}

	case "layer_shell":
		if msg.Opcode != fakeLayerShellRequestGetLayerSurface {
			return
		}
		id, _ := dec.Object()
		surfaceID, _ := dec.Object()
		_, _ = dec.Object() // output
		_, _ = dec.Uint32() // layer
		_, _ = dec.String() // namespace
		f.objects[id] = "layer_surface"
		f.surfaceToLayer[surfaceID] = id

	case "surface":
		st := f.surfaces[msg.Sender]
		if st == nil {
			return
		}
		switch msg.Opcode {
		case fakeSurfaceRequestAttach:
			buf, _ := dec.Object()
			_, _ = dec.Int32()
			_, _ = dec.Int32()
			st.attached = buf
		case fakeSurfaceRequestFrame:
			cb, _ := dec.Object()
			f.objects[cb] = "callback"
			st.pendingFrame = cb
		case fakeSurfaceRequestCommit:
			f.handleCommit(msg.Sender, st)
		case fakeSurfaceRequestDestroy:
			delete(f.surfaces, msg.Sender)
		}
	}
}

func (f *fakeCompositor) handleCommit(surfaceID wire.ObjectID, st *fakeSurfaceState) {
	if lsID, ok := f.surfaceToLayer[surfaceID]; ok && !f.layerConfigured[lsID] {
		f.layerConfigured[lsID] = true
		f.sendConfigure(lsID)
	}

	if st.attached == 0 {
		return
	}
	bufState := f.buffers[st.attached]
	if bufState == nil {
		return
	}
	pool := f.pools[bufState.poolID]
	if pool == nil {
		return
	}
	if st.firstBuffer == 0 {
		st.firstBuffer = st.attached
	}

	n := int(bufState.width) * int(bufState.height)
	pixels := make([]uint32, n)
	base := pool.mem[bufState.offset:]
	for i := 0; i < n; i++ {
		pixels[i] = binary.LittleEndian.Uint32(base[i*4 : i*4+4])
	}
	select {
	case f.commits <- fakeCommit{surface: surfaceID, pixels: pixels}:
	default:
	}

	cb := st.pendingFrame
	st.pendingFrame = 0
	bufID := st.attached

	withholdRelease := f.stuck && bufID == st.firstBuffer
	if !withholdRelease {
		f.sendEvent(bufID, fakeBufferEventRelease, nil)
	}
	if !f.stuck && cb != 0 {
		f.sendEvent(cb, fakeCallbackEventDone, wire.NewMessageBuilder().PutUint32(0))
	}
}
