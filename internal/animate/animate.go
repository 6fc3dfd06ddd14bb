// Package animate is the animation driver of spec.md §4.6: a
// time-bounded loop that presents eased frames across a set of
// surfaces, cooperating with the buffer-readiness wait of spec.md §5.
package animate

import (
	"context"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sys/unix"

	"github.com/wl-gesso/gesso/internal/errs"
	"github.com/wl-gesso/gesso/internal/logging"
	"github.com/wl-gesso/gesso/internal/metrics"
	"github.com/wl-gesso/gesso/internal/surfacemgr"
	"github.com/wl-gesso/gesso/internal/wire"
)

// Readiness wait deadlines, measured from call entry, per spec.md §5.
const (
	warnDeadline          = 250 * time.Millisecond
	disablePacingDeadline = 200 * time.Millisecond
	hardBailDeadline      = 1500 * time.Millisecond
	pollQuantum           = 16 * time.Millisecond
	spinSleep             = time.Millisecond
	idleTickSleep         = 16 * time.Millisecond
)

// EaseOutCubic implements spec.md §4.6's easing: 1 - (1-t)^3.
func EaseOutCubic(t float64) float64 {
	inv := 1 - t
	return 1 - inv*inv*inv
}

// Quantize maps an eased [0,1] progress value to the kernels' integer
// [0,256] parameter.
func Quantize(eased float64) int {
	tt := int(math.Round(eased * 256))
	if tt < 0 {
		return 0
	}
	if tt > 256 {
		return 256
	}
	return tt
}

// TickFunc paints one animation frame at progress tt into dst, sized
// width*height for the surface being painted.
type TickFunc func(s *surfacemgr.Surface, tt int, dst []uint32)

// FinalizeFunc paints the exact target frame, called once after the
// loop terminates so the last presented pixels are bit-exact
// regardless of the last tt's rounding.
type FinalizeFunc func(s *surfacemgr.Surface, dst []uint32)

// Driver runs the animation loop against a single Wayland connection.
type Driver struct {
	Conn    *wire.Conn
	Log     logging.Logger
	Tracer  trace.Tracer
	Metrics *metrics.Engine
}

// NewDriver builds a Driver with a named tracer from the global otel
// TracerProvider (a no-op provider unless the daemon installs a real
// SDK one). m is the same counter set the owning engine exposes as
// Engine.Metrics; a hard bail in waitForReady increments m.PacingStalls
// so that count reflects what the driver actually does. m may be nil
// in tests that don't care about pacing counters.
func NewDriver(conn *wire.Conn, log logging.Logger, m *metrics.Engine) *Driver {
	return &Driver{Conn: conn, Log: log, Tracer: otel.Tracer("gesso/animate"), Metrics: m}
}

// Run drives surfaces through a time-bounded transition of
// durationMs (clamped to at least 1ms per spec.md §3), calling tick
// once per surface per pass and finalize once per surface after the
// loop terminates.
func (d *Driver) Run(ctx context.Context, surfaces []*surfacemgr.Surface, durationMs uint32, tick TickFunc, finalize FinalizeFunc) error {
	ctx, span := d.Tracer.Start(ctx, "animate.tick")
	defer span.End()

	if durationMs < 1 {
		durationMs = 1
	}
	duration := time.Duration(durationMs) * time.Millisecond
	start := time.Now()

	for {
		elapsed := time.Since(start)
		tL := float64(elapsed) / float64(duration)
		if tL > 1 {
			tL = 1
		}
		tt := Quantize(EaseOutCubic(tL))

		for _, s := range surfaces {
			if err := d.waitForReady(ctx, s); err != nil {
				return err
			}
			dst := frameSlice(s)
			tick(s, tt, dst)
			if err := d.commitFrame(s); err != nil {
				return err
			}
		}

		if err := d.Conn.Flush(); err != nil {
			return err
		}
		if _, err := d.Conn.DispatchPending(); err != nil {
			return err
		}

		if tL >= 1 {
			break
		}
		if !anyPacingActive(surfaces) {
			time.Sleep(idleTickSleep)
		}
	}

	for _, s := range surfaces {
		if err := d.waitForReady(ctx, s); err != nil {
			return err
		}
		dst := frameSlice(s)
		finalize(s, dst)
		if err := d.commitFrame(s); err != nil {
			return err
		}
	}
	return d.Conn.Flush()
}

// Instant paints and commits once per surface with no timing loop, for
// a TransitionKind of None: the pixel package still allows committing
// each surface's own paint independently, but there is no pass to
// space out over time.
func (d *Driver) Instant(ctx context.Context, surfaces []*surfacemgr.Surface, paint func(s *surfacemgr.Surface, dst []uint32)) error {
	ctx, span := d.Tracer.Start(ctx, "animate.tick")
	defer span.End()

	for _, s := range surfaces {
		if err := d.waitForReady(ctx, s); err != nil {
			return err
		}
		dst := frameSlice(s)
		paint(s, dst)
		if err := d.commitFrame(s); err != nil {
			return err
		}
	}
	return d.Conn.Flush()
}

func frameSlice(s *surfacemgr.Surface) []uint32 {
	px := s.Buffers.Current().Pixels()
	n := int(s.Width) * int(s.Height)
	if n > len(px) {
		n = len(px)
	}
	return px[:n]
}

func anyPacingActive(surfaces []*surfacemgr.Surface) bool {
	for _, s := range surfaces {
		if s.Buffers.FrameCallbackOK {
			return true
		}
	}
	return false
}

// commitFrame issues a frame-callback request, attaches the current
// buffer, damages the full surface, commits, marks the slot busy, and
// swaps, per spec.md §4.6 step 3.
func (d *Driver) commitFrame(s *surfacemgr.Surface) error {
	cb, err := s.WlSurface.Frame()
	if err != nil {
		return err
	}
	cb.OnDone = func(uint32) {
		s.Buffers.FrameCallbackOK = true
		s.Buffers.FramePending = false
		s.Buffers.Callback = nil
		s.FrameTick++
	}
	s.Buffers.Callback = cb
	s.Buffers.FramePending = true

	bufID, ok := s.Buffers.BufferID()
	if !ok {
		return errs.New(errs.EnvironmentAbsent, "commit with no current buffer bound")
	}
	if err := s.WlSurface.Attach(wire.ObjectID(bufID), 0, 0); err != nil {
		return err
	}
	if err := s.WlSurface.DamageBuffer(0, 0, s.Width, s.Height); err != nil {
		return err
	}
	if err := s.WlSurface.Commit(); err != nil {
		return err
	}
	s.Buffers.MarkCurrentBusy()
	s.Buffers.Swap()
	return nil
}

// waitForReady blocks until the surface's current slot is free to
// paint, per spec.md §5's three staged deadlines. It never returns an
// error for a stall; a hard bail clears pacing state and returns nil
// so the caller always makes forward progress.
func (d *Driver) waitForReady(ctx context.Context, s *surfacemgr.Surface) error {
	if !s.Buffers.CurrentIsBusy() {
		return nil
	}
	if s.Buffers.SwapToFree() {
		return nil
	}
	start := time.Now()
	warned := false

	for s.Buffers.CurrentIsBusy() {
		if s.Buffers.SwapToFree() {
			return nil
		}
		elapsed := time.Since(start)

		if elapsed >= hardBailDeadline {
			if d.Log != nil {
				d.Log.Warn("buffer readiness hard bail", "output", s.OutputName, "elapsed_ms", elapsed.Milliseconds())
			}
			if d.Metrics != nil {
				d.Metrics.PacingStalls.Add(1)
			}
			s.Buffers.FramePending = false
			s.Buffers.FrameCallbackOK = false
			s.Buffers.Callback = nil
			s.Buffers.MarkCurrentFree()
			return nil
		}

		if elapsed >= disablePacingDeadline && s.Buffers.FramePending {
			s.Buffers.FrameCallbackOK = false
			s.Buffers.Callback = nil
			s.Buffers.FramePending = false
		}

		if elapsed >= warnDeadline && !warned {
			if d.Log != nil {
				d.Log.Warn("buffer readiness stall", "output", s.OutputName, "elapsed_ms", elapsed.Milliseconds())
			}
			warned = true
		}

		if err := d.pollOnce(); err != nil {
			return err
		}
		time.Sleep(spinSleep)
	}
	return nil
}

// pollOnce polls the compositor fd for up to pollQuantum and
// dispatches whatever events are already available without blocking
// further.
func (d *Driver) pollOnce() error {
	fd, err := d.Conn.Fd()
	if err != nil {
		return err
	}
	pollFds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, pollErr := unix.Poll(pollFds, int(pollQuantum/time.Millisecond))
	if pollErr != nil || n <= 0 {
		return nil
	}
	_, err = d.Conn.DispatchPending()
	return err
}
