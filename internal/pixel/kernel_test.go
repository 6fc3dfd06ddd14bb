package pixel

import "testing"

func frames(n int) (a, b []uint32) {
	a = make([]uint32, n)
	b = make([]uint32, n)
	for i := range a {
		a[i] = uint32(i*7+1) & 0x00FFFFFF
		b[i] = uint32(i*13+5) & 0x00FFFFFF
	}
	return
}

func TestBlendBoundaries(t *testing.T) {
	a, b := frames(37)
	dst := make([]uint32, len(a))

	Blend(dst, a, b, 0, len(a))
	for i := range a {
		if dst[i] != a[i] {
			t.Fatalf("blend(a,b,0)[%d] = %#x, want %#x", i, dst[i], a[i])
		}
	}

	Blend(dst, a, b, 256, len(a))
	for i := range a {
		if dst[i] != b[i] {
			t.Fatalf("blend(a,b,256)[%d] = %#x, want %#x", i, dst[i], b[i])
		}
	}
}

func TestWipeBoundaries(t *testing.T) {
	w, h := 9, 4
	a, b := frames(w * h)
	dst := make([]uint32, w*h)

	Wipe(dst, a, b, w, h, 0, WipeLeft)
	for i := range a {
		if dst[i] != a[i] {
			t.Fatalf("wipe(a,b,0)[%d] = %#x, want %#x", i, dst[i], a[i])
		}
	}

	Wipe(dst, a, b, w, h, 256, WipeLeft)
	for i := range a {
		if dst[i] != b[i] {
			t.Fatalf("wipe(a,b,256)[%d] = %#x, want %#x", i, dst[i], b[i])
		}
	}
}

func TestWipeDirectional(t *testing.T) {
	w, h := 8, 2
	a, b := frames(w * h)
	dst := make([]uint32, w*h)

	tt := 128
	cols := (w * tt) / 256

	Wipe(dst, a, b, w, h, tt, WipeLeft)
	for y := 0; y < h; y++ {
		row := dst[y*w : (y+1)*w]
		wantTo := b[y*w : y*w+cols]
		wantFrom := a[y*w+cols : (y+1)*w]
		for x := 0; x < cols; x++ {
			if row[x] != wantTo[x] {
				t.Fatalf("left wipe row %d col %d = %#x, want %#x", y, x, row[x], wantTo[x])
			}
		}
		for x := cols; x < w; x++ {
			if row[x] != wantFrom[x-cols] {
				t.Fatalf("left wipe row %d col %d = %#x, want %#x", y, x, row[x], wantFrom[x-cols])
			}
		}
	}

	Wipe(dst, a, b, w, h, tt, WipeRight)
	for y := 0; y < h; y++ {
		row := dst[y*w : (y+1)*w]
		split := w - cols
		wantFrom := a[y*w : y*w+split]
		wantTo := b[y*w+split : (y+1)*w]
		for x := 0; x < split; x++ {
			if row[x] != wantFrom[x] {
				t.Fatalf("right wipe row %d col %d = %#x, want %#x", y, x, row[x], wantFrom[x])
			}
		}
		for x := split; x < w; x++ {
			if row[x] != wantTo[x-split] {
				t.Fatalf("right wipe row %d col %d = %#x, want %#x", y, x, row[x], wantTo[x-split])
			}
		}
	}
}

// TestBlendMonotone checks, for one pixel pair whose every channel
// increases from source to target, that each blended channel never
// decreases as tt steps from 0 to 256.
func TestBlendMonotone(t *testing.T) {
	from := []uint32{0x00102030}
	to := []uint32{0x00F0E0D0}
	dst := make([]uint32, 1)

	extract := func(p uint32) (r, g, b uint8) {
		return uint8(p >> 16), uint8(p >> 8), uint8(p)
	}

	var prevR, prevG, prevB uint8
	first := true
	for tt := 0; tt <= 256; tt += 8 {
		Blend(dst, from, to, tt, 1)
		r, g, b := extract(dst[0])
		if !first {
			if r < prevR || g < prevG || b < prevB {
				t.Fatalf("non-monotone at tt=%d: (%d,%d,%d) after (%d,%d,%d)", tt, r, g, b, prevR, prevG, prevB)
			}
		}
		prevR, prevG, prevB = r, g, b
		first = false
	}
}

func TestKernelsZeroSize(t *testing.T) {
	var dst, from, to []uint32
	Blend(dst, from, to, 128, 0)
	Wipe(dst, from, to, 0, 0, 128, WipeLeft)
	Blit(dst, from, 0)
	// no panic is the assertion
}

func TestKernelsClipPartial(t *testing.T) {
	dst := make([]uint32, 3)
	from := make([]uint32, 5)
	to := make([]uint32, 4)
	for i := range from {
		from[i] = uint32(i + 1)
	}
	for i := range to {
		to[i] = uint32(100 + i)
	}
	Blend(dst, from, to, 0, 10) // n larger than all slices
	for i := range dst {
		if dst[i] != from[i] {
			t.Fatalf("clipped blend[%d] = %d, want %d", i, dst[i], from[i])
		}
	}
}
