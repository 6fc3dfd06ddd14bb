// Package engine is the facade of spec.md §4.7: it owns the
// compositor connection, every discovered surface, the frame cache,
// and the animation driver, and exposes the handful of operations the
// daemon dispatches requests onto.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/wl-gesso/gesso/internal/animate"
	"github.com/wl-gesso/gesso/internal/cache"
	"github.com/wl-gesso/gesso/internal/compose"
	"github.com/wl-gesso/gesso/internal/decode"
	"github.com/wl-gesso/gesso/internal/errs"
	"github.com/wl-gesso/gesso/internal/logging"
	"github.com/wl-gesso/gesso/internal/metrics"
	"github.com/wl-gesso/gesso/internal/paths"
	"github.com/wl-gesso/gesso/internal/pixel"
	"github.com/wl-gesso/gesso/internal/spec"
	"github.com/wl-gesso/gesso/internal/surfacemgr"
	"github.com/wl-gesso/gesso/internal/waylandproto"
	"github.com/wl-gesso/gesso/internal/wire"
)

// Probe is a point-in-time read of the engine's connection to the
// compositor, per spec.md §4.7.
type Probe struct {
	WaylandDisplay  bool `json:"wayland_display"`
	CompositorBound bool `json:"compositor_bound"`
	ShmBound        bool `json:"shm_bound"`
	LayerShellBound bool `json:"layer_shell_bound"`
	OutputCount     int  `json:"output_count"`
}

// Engine is the single-threaded rendering core. Every exported method
// assumes non-reentrant entry: the caller (the daemon's dispatcher)
// serializes applies, per spec.md §5.
type Engine struct {
	conn       *wire.Conn
	display    *waylandproto.Display
	registry   *waylandproto.Registry
	compositor *waylandproto.Compositor
	shm        *waylandproto.Shm
	layerShell *waylandproto.LayerShell
	manager    *surfacemgr.Manager

	cacheIdx *cache.Index
	decoder  decode.Decoder
	log      logging.Logger
	Metrics  *metrics.Engine
	animator *animate.Driver
	tracer   trace.Tracer

	current *spec.Spec
	stopped bool
}

// New dials the compositor socket, binds the globals the engine
// needs, discovers outputs, creates their layer surfaces, and opens
// the on-disk frame cache. decoder is injectable so tests can
// substitute a call-counting fake (spec.md §8 scenario S5).
func New(log logging.Logger, decoder decode.Decoder) (*Engine, error) {
	conn, err := wire.Dial()
	if err != nil {
		return nil, err
	}

	display := waylandproto.NewDisplay(conn)
	registry, err := display.GetRegistry()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := display.Roundtrip(); err != nil {
		conn.Close()
		return nil, err
	}

	compositorGlobal, ok := registry.Find("wl_compositor")
	if !ok {
		conn.Close()
		return nil, errs.New(errs.EnvironmentAbsent, "compositor did not advertise wl_compositor")
	}
	shmGlobal, ok := registry.Find("wl_shm")
	if !ok {
		conn.Close()
		return nil, errs.New(errs.EnvironmentAbsent, "compositor did not advertise wl_shm")
	}
	layerShellGlobal, ok := registry.Find("zwlr_layer_shell_v1")
	if !ok {
		conn.Close()
		return nil, errs.New(errs.EnvironmentAbsent, "compositor did not advertise zwlr_layer_shell_v1")
	}

	compositorID, err := registry.Bind(compositorGlobal, compositorGlobal.Version)
	if err != nil {
		conn.Close()
		return nil, err
	}
	shmID, err := registry.Bind(shmGlobal, shmGlobal.Version)
	if err != nil {
		conn.Close()
		return nil, err
	}
	layerShellID, err := registry.Bind(layerShellGlobal, layerShellGlobal.Version)
	if err != nil {
		conn.Close()
		return nil, err
	}

	compositor := waylandproto.NewCompositor(conn, compositorID)
	shm := waylandproto.NewShm(conn, shmID)
	layerShell := waylandproto.NewLayerShell(conn, layerShellID)

	if err := display.Roundtrip(); err != nil {
		conn.Close()
		return nil, err
	}
	if !shm.HasXRGB8888() {
		conn.Close()
		return nil, errs.New(errs.EnvironmentAbsent, "compositor's wl_shm does not support XRGB8888")
	}

	manager := surfacemgr.NewManager(display, compositor, layerShell, log)
	bind := func(g waylandproto.Global) (*waylandproto.Output, error) {
		id, err := registry.Bind(g, g.Version)
		if err != nil {
			return nil, err
		}
		return waylandproto.NewOutput(conn, id), nil
	}
	if err := manager.DiscoverOutputsOn(bind, registry); err != nil {
		conn.Close()
		return nil, err
	}
	if err := manager.CreateLayerSurfaces(); err != nil {
		conn.Close()
		return nil, err
	}

	cacheIdx, err := cache.Open(paths.CacheDir())
	if err != nil {
		conn.Close()
		return nil, err
	}

	if decoder == nil {
		decoder = decode.Stdlib{}
	}

	eng := metrics.New()
	return &Engine{
		conn:       conn,
		display:    display,
		registry:   registry,
		compositor: compositor,
		shm:        shm,
		layerShell: layerShell,
		manager:    manager,
		cacheIdx:   cacheIdx,
		decoder:    decoder,
		log:        log,
		Metrics:    eng,
		animator:   animate.NewDriver(conn, log, eng),
		tracer:     otel.Tracer("gesso/engine"),
	}, nil
}

// Apply implements spec.md §4.7's seven apply steps.
func (e *Engine) Apply(ctx context.Context, sp spec.Spec) error {
	if !sp.Valid() {
		return fmt.Errorf("engine: spec must set exactly one of Image or Colour")
	}
	ctx, span := e.tracer.Start(ctx, "engine.apply")
	defer span.End()

	e.persistLastApplied(sp)

	if err := e.manager.CreateLayerSurfaces(); err != nil {
		return err
	}

	output := sp.Output()
	selected := e.manager.Selected(output)
	if len(selected) == 0 && output != nil {
		return errs.New(errs.OutputUnknown, fmt.Sprintf("no surface matches output %q", *output))
	}

	if err := e.manager.Resurrect(selected); err != nil {
		return err
	}
	if err := e.manager.ConfigureWait(selected); err != nil {
		return err
	}

	switch {
	case sp.Colour != nil:
		if err := e.ensureBuffers(e.manager.Selected(nil)); err != nil {
			return err
		}
		if err := e.applyColour(ctx, selected, *sp.Colour); err != nil {
			return err
		}
	case sp.Image != nil:
		if err := e.ensureBuffers(selected); err != nil {
			return err
		}
		if err := e.applyImage(ctx, selected, *sp.Image); err != nil {
			return err
		}
	}

	specCopy := sp
	e.current = &specCopy
	return nil
}

// Unset implements spec.md §4.5's per-output/global unset, and clears
// current when output is nil.
func (e *Engine) Unset(output *string) error {
	e.manager.Unset(output)
	if output == nil {
		e.current = nil
	}
	return nil
}

// Stop drops every surface and the current spec; the Engine is left
// unusable except for a fresh New call.
func (e *Engine) Stop() error {
	e.manager.Stop()
	e.current = nil
	e.stopped = true
	return e.conn.Close()
}

// Current returns the last successfully accepted Spec, or nil.
func (e *Engine) Current() *spec.Spec {
	return e.current
}

// Running reports whether the engine still owns a live compositor
// connection.
func (e *Engine) Running() bool {
	return !e.stopped
}

// Probe reports the engine's connection health, per spec.md §4.7.
func (e *Engine) Probe() Probe {
	return Probe{
		WaylandDisplay:  os.Getenv("WAYLAND_DISPLAY") != "",
		CompositorBound: e.compositor != nil,
		ShmBound:        e.shm != nil && e.shm.HasXRGB8888(),
		LayerShellBound: e.layerShell != nil,
		OutputCount:     len(e.manager.Surfaces),
	}
}

// Warmup ensures buffers for every alive surface and waits for
// configure, so the first real animation after startup isn't jittery.
func (e *Engine) Warmup() error {
	all := e.manager.Selected(nil)
	if err := e.manager.ConfigureWait(all); err != nil {
		return err
	}
	return e.ensureBuffers(all)
}

func (e *Engine) ensureBuffers(surfaces []*surfacemgr.Surface) error {
	for _, s := range surfaces {
		if !s.Alive || !s.Configured {
			continue
		}
		stride := s.Stride()
		if s.Buffers.NeedsRealloc(s.Width, s.Height, stride) {
			if err := s.Buffers.Reallocate(e.shm, s.Width, s.Height, stride); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) persistLastApplied(sp spec.Spec) {
	data, err := json.Marshal(sp)
	if err != nil {
		return
	}
	path := paths.LastAppliedPath()
	if err := paths.EnsureDir(filepath.Dir(path)); err != nil {
		if e.log != nil {
			e.log.Warn("last_applied.json directory create failed", "err", err)
		}
		return
	}
	if err := os.WriteFile(path, data, 0o600); err != nil && e.log != nil {
		e.log.Warn("last_applied.json write failed", "err", err)
	}
}

func wipeSide(from spec.WipeFrom) pixel.WipeSide {
	if from == spec.WipeFromRight {
		return pixel.WipeRight
	}
	return pixel.WipeLeft
}

func solidFrame(px uint32, n int) []uint32 {
	out := make([]uint32, n)
	pixel.Fill(out, px, n)
	return out
}

// colourFromFrame returns the pixel array to blend/wipe from for a
// colour transition: the surface's previous frame if it's still the
// right size, else a frame filled with its previous solid colour.
func colourFromFrame(s *surfacemgr.Surface) []uint32 {
	n := int(s.Width) * int(s.Height)
	if len(s.LastFrame) == n {
		return s.LastFrame
	}
	return solidFrame(s.LastColour.Pixel(), n)
}

// imageFromFrame is colourFromFrame's image-path counterpart: a
// surface with no prior frame of the right size animates in from
// black rather than from undefined memory.
func imageFromFrame(s *surfacemgr.Surface) []uint32 {
	n := int(s.Width) * int(s.Height)
	if len(s.LastFrame) == n {
		return s.LastFrame
	}
	return make([]uint32, n)
}

func (e *Engine) applyColour(ctx context.Context, surfaces []*surfacemgr.Surface, c spec.ColourSpec) error {
	target := c.Colour.Pixel()

	needsWork := false
	for _, s := range surfaces {
		if s.HasImage || s.LastColour != c.Colour {
			needsWork = true
			break
		}
	}
	if !needsWork {
		return nil
	}

	tr := c.Transition
	if tr.Kind == spec.TransitionNone {
		if err := e.animator.Instant(ctx, surfaces, func(s *surfacemgr.Surface, dst []uint32) {
			pixel.Fill(dst, target, len(dst))
		}); err != nil {
			return err
		}
	} else {
		duration := tr.ClampedDuration()
		tick := func(s *surfacemgr.Surface, tt int, dst []uint32) {
			from := colourFromFrame(s)
			switch tr.Kind {
			case spec.TransitionFade:
				pixel.BlendToSolid(dst, from, target, tt, len(dst))
			case spec.TransitionWipe:
				pixel.WipeToSolid(dst, from, target, int(s.Width), int(s.Height), tt, wipeSide(tr.WipeFrom))
			}
		}
		finalize := func(s *surfacemgr.Surface, dst []uint32) {
			pixel.Fill(dst, target, len(dst))
		}
		if err := e.animator.Run(ctx, surfaces, duration, tick, finalize); err != nil {
			return err
		}
	}

	for _, s := range surfaces {
		s.LastColour = c.Colour
		s.HasImage = false
		s.LastFrame = solidFrame(target, int(s.Width)*int(s.Height))
		e.Metrics.Commits.Add(1)
	}
	return nil
}

func (e *Engine) applyImage(ctx context.Context, surfaces []*surfacemgr.Surface, img spec.ImageSpec) error {
	absPath, err := resolvePath(img.Path)
	if err != nil {
		return errs.Wrap(errs.DecodeFailure, err, "resolve image path "+img.Path)
	}
	key, err := cache.BuildImageKey(absPath, img.Mode, img.Bg)
	if err != nil {
		return errs.Wrap(errs.DecodeFailure, err, "stat image "+absPath)
	}

	indexOf := make(map[*surfacemgr.Surface]int, len(e.manager.Surfaces))
	for i, s := range e.manager.Surfaces {
		indexOf[s] = i
	}

	targets := make(map[*surfacemgr.Surface][]uint32, len(surfaces))
	id, hit := e.cacheIdx.Find(key)
	fullHit := hit
	if hit {
		for _, s := range surfaces {
			frame, ok := e.cacheIdx.Load(id, indexOf[s], int(s.Width), int(s.Height))
			if !ok {
				fullHit = false
				break
			}
			targets[s] = frame
		}
	}

	if !fullHit {
		for k := range targets {
			delete(targets, k)
		}
		decoded, err := e.decoder.Decode(absPath)
		if err != nil {
			return err
		}
		id, err = e.cacheIdx.Record(key)
		if err != nil && e.log != nil {
			e.log.Warn("cache record failed", "err", err)
		}

		type dims struct{ w, h int32 }
		bySize := make(map[dims][]uint32)
		for _, s := range surfaces {
			d := dims{s.Width, s.Height}
			frame, ok := bySize[d]
			if !ok {
				frame = compose.Render(int(s.Width), int(s.Height), decoded, img.Mode, img.Bg)
				bySize[d] = frame
			}
			targets[s] = frame
			if err := e.cacheIdx.Store(id, indexOf[s], int(s.Width), int(s.Height), frame); err != nil && e.log != nil {
				e.log.Warn("cache store failed", "err", err)
			}
		}
		e.Metrics.CacheMisses.Add(1)
	} else {
		e.Metrics.CacheHits.Add(1)
	}

	tr := img.Transition
	if tr.Kind == spec.TransitionNone {
		if err := e.animator.Instant(ctx, surfaces, func(s *surfacemgr.Surface, dst []uint32) {
			copy(dst, targets[s])
		}); err != nil {
			return err
		}
	} else {
		duration := tr.ClampedDuration()
		tick := func(s *surfacemgr.Surface, tt int, dst []uint32) {
			from := imageFromFrame(s)
			target := targets[s]
			switch tr.Kind {
			case spec.TransitionFade:
				pixel.Blend(dst, from, target, tt, len(dst))
			case spec.TransitionWipe:
				pixel.Wipe(dst, from, target, int(s.Width), int(s.Height), tt, wipeSide(tr.WipeFrom))
			}
		}
		finalize := func(s *surfacemgr.Surface, dst []uint32) {
			copy(dst, targets[s])
		}
		if err := e.animator.Run(ctx, surfaces, duration, tick, finalize); err != nil {
			return err
		}
	}

	for _, s := range surfaces {
		s.HasImage = true
		s.LastFrame = append([]uint32(nil), targets[s]...)
		e.Metrics.Commits.Add(1)
		e.Metrics.FinalizePasses.Add(1)
	}
	return nil
}

func resolvePath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real, nil
	}
	return abs, nil
}
