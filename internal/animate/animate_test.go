package animate

import (
	"math"
	"testing"
)

func TestEaseOutCubicBoundaries(t *testing.T) {
	if got := EaseOutCubic(0); got != 0 {
		t.Fatalf("EaseOutCubic(0) = %v, want 0", got)
	}
	if got := EaseOutCubic(1); got != 1 {
		t.Fatalf("EaseOutCubic(1) = %v, want 1", got)
	}
}

func TestEaseOutCubicIsMonotonic(t *testing.T) {
	prev := -1.0
	for i := 0; i <= 10; i++ {
		x := float64(i) / 10
		got := EaseOutCubic(x)
		if got < prev {
			t.Fatalf("EaseOutCubic not monotonic at t=%v: %v < %v", x, got, prev)
		}
		prev = got
	}
}

func TestEaseOutCubicFrontLoadsProgress(t *testing.T) {
	// ease-out should be above the linear diagonal for all interior t.
	for _, tl := range []float64{0.1, 0.25, 0.5, 0.75, 0.9} {
		if eased := EaseOutCubic(tl); eased < tl {
			t.Fatalf("EaseOutCubic(%v) = %v, want >= %v (front-loaded)", tl, eased, tl)
		}
	}
}

func TestQuantizeBoundaries(t *testing.T) {
	cases := []struct {
		in   float64
		want int
	}{
		{-1, 0},
		{0, 0},
		{0.5, 128},
		{1, 256},
		{2, 256},
	}
	for _, c := range cases {
		if got := Quantize(c.in); got != c.want {
			t.Fatalf("Quantize(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestQuantizeRounding(t *testing.T) {
	// 100/256 = 0.390625; round(0.390625*256) = round(100) = 100.
	got := Quantize(100.0 / 256.0)
	if got != 100 {
		t.Fatalf("Quantize(100/256) = %d, want 100", got)
	}
}

func TestQuantizeMatchesMathRound(t *testing.T) {
	for _, eased := range []float64{0.0, 0.123, 0.4999, 0.5, 0.75, 0.999, 1.0} {
		want := int(math.Round(eased * 256))
		if want < 0 {
			want = 0
		}
		if want > 256 {
			want = 256
		}
		if got := Quantize(eased); got != want {
			t.Fatalf("Quantize(%v) = %d, want %d", eased, got, want)
		}
	}
}
