package engine

import (
	"path/filepath"
	"testing"

	"github.com/wl-gesso/gesso/internal/pixel"
	"github.com/wl-gesso/gesso/internal/spec"
	"github.com/wl-gesso/gesso/internal/surfacemgr"
	"github.com/wl-gesso/gesso/internal/waylandproto"
)

func TestWipeSideMapsWipeFrom(t *testing.T) {
	if got := wipeSide(spec.WipeFromLeft); got != pixel.WipeLeft {
		t.Fatalf("wipeSide(Left) = %v, want WipeLeft", got)
	}
	if got := wipeSide(spec.WipeFromRight); got != pixel.WipeRight {
		t.Fatalf("wipeSide(Right) = %v, want WipeRight", got)
	}
}

func TestSolidFrameFillsEveryPixel(t *testing.T) {
	frame := solidFrame(0x00ABCDEF, 16)
	if len(frame) != 16 {
		t.Fatalf("len = %d, want 16", len(frame))
	}
	for i, p := range frame {
		if p != 0x00ABCDEF {
			t.Fatalf("frame[%d] = %#08x, want 0x00ABCDEF", i, p)
		}
	}
}

func TestColourFromFrameUsesLastFrameWhenSizeMatches(t *testing.T) {
	s := &surfacemgr.Surface{Width: 2, Height: 2, LastFrame: []uint32{1, 2, 3, 4}}
	got := colourFromFrame(s)
	if len(got) != 4 || got[0] != 1 || got[3] != 4 {
		t.Fatalf("colourFromFrame = %v, want the stored last frame", got)
	}
}

func TestColourFromFrameFallsBackToLastColourOnSizeMismatch(t *testing.T) {
	s := &surfacemgr.Surface{
		Width: 2, Height: 2,
		LastFrame:  []uint32{1, 2, 3}, // stale, wrong length for 2x2
		LastColour: spec.Rgb{R: 0x10, G: 0x20, B: 0x30},
	}
	got := colourFromFrame(s)
	want := s.LastColour.Pixel()
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	for i, p := range got {
		if p != want {
			t.Fatalf("colourFromFrame[%d] = %#08x, want %#08x", i, p, want)
		}
	}
}

func TestImageFromFrameDefaultsToBlackWithNoPriorFrame(t *testing.T) {
	s := &surfacemgr.Surface{Width: 3, Height: 1}
	got := imageFromFrame(s)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, p := range got {
		if p != 0 {
			t.Fatalf("imageFromFrame[%d] = %#08x, want 0", i, p)
		}
	}
}

func TestImageFromFrameReusesMatchingLastFrame(t *testing.T) {
	s := &surfacemgr.Surface{Width: 2, Height: 1, LastFrame: []uint32{0xAA, 0xBB}, HasImage: true}
	got := imageFromFrame(s)
	if len(got) != 2 || got[0] != 0xAA || got[1] != 0xBB {
		t.Fatalf("imageFromFrame = %v, want [0xAA 0xBB]", got)
	}
}

func TestResolvePathMakesRelativeAbsolute(t *testing.T) {
	got, err := resolvePath("some/relative/path.png")
	if err != nil {
		t.Fatalf("resolvePath: %v", err)
	}
	if !filepath.IsAbs(got) {
		t.Fatalf("resolvePath(%q) = %q, want an absolute path", "some/relative/path.png", got)
	}
}

func TestProbeReflectsBoundGlobalsAndOutputCount(t *testing.T) {
	e := &Engine{
		compositor: waylandproto.NewCompositor(nil, 2),
		layerShell: waylandproto.NewLayerShell(nil, 4),
		manager: &surfacemgr.Manager{Surfaces: []*surfacemgr.Surface{
			{OutputName: "DP-1", Alive: true},
			{OutputName: "HDMI-A-1", Alive: true},
		}},
	}
	t.Setenv("WAYLAND_DISPLAY", "wayland-0")

	p := e.Probe()
	if !p.WaylandDisplay {
		t.Error("expected WaylandDisplay true when env var is set")
	}
	if !p.CompositorBound {
		t.Error("expected CompositorBound true")
	}
	if !p.LayerShellBound {
		t.Error("expected LayerShellBound true")
	}
	if p.ShmBound {
		t.Error("ShmBound should be false: no Shm global was bound in this test")
	}
	if p.OutputCount != 2 {
		t.Fatalf("OutputCount = %d, want 2", p.OutputCount)
	}
}

func TestEngineRunningAndCurrentOnZeroValue(t *testing.T) {
	e := &Engine{}
	if !e.Running() {
		t.Error("a fresh Engine should report Running() true until Stop")
	}
	if e.Current() != nil {
		t.Error("a fresh Engine should have no Current spec")
	}
}

func TestApplyRejectsInvalidSpec(t *testing.T) {
	e := &Engine{manager: &surfacemgr.Manager{}}
	err := e.Apply(nil, spec.Spec{})
	if err == nil {
		t.Fatal("Apply with neither Image nor Colour set should error")
	}
}
