// Package surfacemgr is the surface manager of spec.md §4.5: output
// discovery, one layer surface per output anchored full-screen at the
// Background layer, the configure handshake, and per-output/global
// unset with resurrection.
package surfacemgr

import (
	"time"

	"github.com/wl-gesso/gesso/internal/errs"
	"github.com/wl-gesso/gesso/internal/logging"
	"github.com/wl-gesso/gesso/internal/shmbuf"
	"github.com/wl-gesso/gesso/internal/spec"
	"github.com/wl-gesso/gesso/internal/waylandproto"
)

// Surface is one discovered output's wallpaper state, per spec.md §3.
// The row survives per-output unset (Alive flips to false); only Stop
// drops rows entirely.
type Surface struct {
	Output     *waylandproto.Output
	OutputName string

	WlSurface    *waylandproto.Surface
	LayerSurface *waylandproto.LayerSurface

	Alive      bool
	Configured bool
	Width      int32
	Height     int32

	Buffers shmbuf.DoubleBuffer

	LastColour spec.Rgb
	HasImage   bool
	LastFrame  []uint32
	FrameTick  uint32
}

// Stride is width*4, per spec.md §3.
func (s *Surface) Stride() int32 { return s.Width * 4 }

// SizeBytes is stride*height, per spec.md §3.
func (s *Surface) SizeBytes() int32 { return s.Stride() * s.Height }

// Manager owns every discovered Surface and the protocol globals
// needed to (re)create their handles.
type Manager struct {
	display    *waylandproto.Display
	compositor *waylandproto.Compositor
	layerShell *waylandproto.LayerShell
	log        logging.Logger

	Surfaces []*Surface
}

// Namespace is the layer-surface identifier the compositor sees for
// every surface this engine creates.
const Namespace = "gesso"

// NewManager constructs a Manager bound to the given globals.
func NewManager(display *waylandproto.Display, compositor *waylandproto.Compositor, layerShell *waylandproto.LayerShell, log logging.Logger) *Manager {
	return &Manager{display: display, compositor: compositor, layerShell: layerShell, log: log}
}

// DiscoverOutputsOn binds every wl_output global in registry (via
// bind) and appends a Surface row for each, per spec.md §9's open
// question treating the surface table as append-only (a later
// hotplugged output would need a second discovery pass, not supported
// here). It then performs a roundtrip so the initial burst of
// geometry/mode/scale/name/done events has been received before
// CreateLayerSurfaces runs.
func (m *Manager) DiscoverOutputsOn(bind func(g waylandproto.Global) (*waylandproto.Output, error), registry *waylandproto.Registry) error {
	for _, g := range registry.Globals() {
		if g.Interface != "wl_output" {
			continue
		}
		output, err := bind(g)
		if err != nil {
			return err
		}
		m.Surfaces = append(m.Surfaces, &Surface{Output: output})
	}
	if err := m.display.Roundtrip(); err != nil {
		return err
	}
	for _, s := range m.Surfaces {
		applyOutputName(s)
	}
	return nil
}

// applyOutputName sets a surface's matchable name from its bound
// output, preferring wl_output.name; if the compositor hasn't sent a
// name by the time this runs (older compositors only send
// description, or the burst hasn't settled), description stands in so
// Selected can still match an --output argument during that window.
func applyOutputName(s *Surface) {
	if s.Output == nil {
		return
	}
	if s.Output.Name != "" {
		s.OutputName = s.Output.Name
		return
	}
	s.OutputName = s.Output.Description
}

// CreateLayerSurfaces creates compositor and layer-shell handles for
// every discovered Surface that doesn't already have them.
func (m *Manager) CreateLayerSurfaces() error {
	for _, s := range m.Surfaces {
		if s.WlSurface != nil {
			continue
		}
		if err := m.setupLayerSurface(s); err != nil {
			return err
		}
	}
	return nil
}

// Resurrect recreates handles for any surface in the selected set that
// was previously destroyed by a per-output Unset, leaving already-alive
// surfaces untouched.
func (m *Manager) Resurrect(selected []*Surface) error {
	for _, s := range selected {
		if s.Alive {
			continue
		}
		if err := m.setupLayerSurface(s); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) setupLayerSurface(s *Surface) error {
	wlSurface, err := m.compositor.CreateSurface()
	if err != nil {
		return err
	}
	layerSurface, err := m.layerShell.GetLayerSurface(wlSurface, s.Output, waylandproto.LayerBackground, Namespace)
	if err != nil {
		return err
	}
	if err := layerSurface.AnchorFill(); err != nil {
		return err
	}
	if err := layerSurface.SetSize(0, 0); err != nil {
		return err
	}
	if err := layerSurface.SetExclusiveZone(0); err != nil {
		return err
	}
	if err := layerSurface.SetKeyboardInteractivity(0); err != nil {
		return err
	}
	region, err := m.compositor.CreateRegion()
	if err != nil {
		return err
	}
	if err := wlSurface.SetInputRegion(region.ID()); err != nil {
		return err
	}

	layerSurface.OnConfigure = func(serial uint32, w, h uint32) {
		s.Width, s.Height = int32(w), int32(h)
		s.Configured = true
		if err := layerSurface.AckConfigure(serial); err != nil && m.log != nil {
			m.log.Warn("ack_configure failed", "output", s.OutputName, "err", err)
		}
		if err := wlSurface.Commit(); err != nil && m.log != nil {
			m.log.Warn("post-configure commit failed", "output", s.OutputName, "err", err)
		}
	}
	layerSurface.OnClosed = func() {
		s.Alive = false
	}

	s.WlSurface = wlSurface
	s.LayerSurface = layerSurface
	s.Alive = true
	s.Configured = false

	return wlSurface.Commit()
}

// ConfigureWait polls up to ten rounds, sleeping an increasing delay
// (20ms + 5ms per attempt, capped at 100ms) between rounds, for every
// surface in want to reach Configured with a non-zero size. It
// succeeds once every alive surface in want is configured, or once at
// least one is if not all reach it in time; it fails only if none do.
func (m *Manager) ConfigureWait(want []*Surface) error {
	for attempt := 0; attempt < 10; attempt++ {
		if err := m.display.Roundtrip(); err != nil {
			return err
		}
		if allConfigured(want) {
			return nil
		}
		delay := 20*time.Millisecond + time.Duration(attempt)*5*time.Millisecond
		if delay > 100*time.Millisecond {
			delay = 100 * time.Millisecond
		}
		time.Sleep(delay)
	}
	if anyConfigured(want) {
		return nil
	}
	return errs.New(errs.EnvironmentAbsent, "no surface reached the configured state")
}

func allConfigured(surfaces []*Surface) bool {
	for _, s := range surfaces {
		if !s.Alive {
			continue
		}
		if !s.Configured || s.Width <= 0 || s.Height <= 0 {
			return false
		}
	}
	return true
}

func anyConfigured(surfaces []*Surface) bool {
	for _, s := range surfaces {
		if s.Alive && s.Configured && s.Width > 0 && s.Height > 0 {
			return true
		}
	}
	return false
}

// Selected returns every alive surface matching output (nil selects
// all alive surfaces; a non-nil value matches on OutputName).
func (m *Manager) Selected(output *string) []*Surface {
	var out []*Surface
	for _, s := range m.Surfaces {
		if !s.Alive {
			continue
		}
		if output == nil || s.OutputName == *output {
			out = append(out, s)
		}
	}
	return out
}

// Unset implements spec.md §4.5's per-output and global unset. A nil
// output clears image/pacing state on every surface but leaves handles
// alive; a named output destroys that surface's handles entirely,
// retaining the row so a later Apply can Resurrect it.
func (m *Manager) Unset(output *string) {
	if output == nil {
		for _, s := range m.Surfaces {
			s.HasImage = false
			s.LastFrame = nil
			clearPacing(s)
		}
		return
	}
	for _, s := range m.Surfaces {
		if !s.Alive || s.OutputName != *output {
			continue
		}
		if s.LayerSurface != nil {
			_ = s.LayerSurface.Destroy()
		}
		if s.WlSurface != nil {
			_ = s.WlSurface.Destroy()
		}
		s.LayerSurface = nil
		s.WlSurface = nil
		s.Alive = false
		s.Configured = false
		s.Buffers.Close()
		s.HasImage = false
		s.LastFrame = nil
		clearPacing(s)
	}
}

func clearPacing(s *Surface) {
	s.Buffers.FramePending = false
	s.Buffers.FrameCallbackOK = false
	s.Buffers.Callback = nil
}

// Stop destroys every surface's handles and buffers; the Manager is
// left with an empty surface table.
func (m *Manager) Stop() {
	for _, s := range m.Surfaces {
		if s.LayerSurface != nil {
			_ = s.LayerSurface.Destroy()
		}
		if s.WlSurface != nil {
			_ = s.WlSurface.Destroy()
		}
		s.Buffers.Close()
	}
	m.Surfaces = nil
}
