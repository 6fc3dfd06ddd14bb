// Package compose renders an RGBA source bitmap into a destination
// XRGB8888 framebuffer according to a placement Mode, compositing over
// a solid background colour.
package compose

import (
	"image"
	"math"

	"golang.org/x/image/draw"

	"github.com/wl-gesso/gesso/internal/pixel"
	"github.com/wl-gesso/gesso/internal/spec"
)

// Render produces a fresh dw*dh XRGB8888 framebuffer. The first dw*dh
// entries are always populated; for Fit and Center placements that
// don't cover the full destination the uncovered border is bg.
//
// The resize filter is golang.org/x/image/draw's BiLinear scaler (a
// triangle filter), and scaled dimensions round half-to-even via
// math.RoundToEven, so that two invocations with equal inputs always
// produce byte-identical output — required because the frame cache is
// keyed on inputs and assumes reproducibility.
func Render(dw, dh int, src image.Image, mode spec.Mode, bg spec.Rgb) []uint32 {
	out := make([]uint32, dw*dh)
	if dw <= 0 || dh <= 0 {
		return out
	}
	pixel.Fill(out, bg.Pixel(), dw*dh)
	if src == nil {
		return out
	}

	sb := src.Bounds()
	sw, sh := sb.Dx(), sb.Dy()
	if sw <= 0 || sh <= 0 {
		return out
	}

	switch mode {
	case spec.ModeStretch:
		scaled := resize(src, dw, dh)
		compositeRect(out, dw, dh, scaled, 0, 0, dw, dh, bg)

	case spec.ModeFit:
		scale := math.Min(float64(dw)/float64(sw), float64(dh)/float64(sh))
		rw, rh := scaledSize(sw, sh, scale)
		scaled := resize(src, rw, rh)
		ox, oy := (dw-rw)/2, (dh-rh)/2
		compositeRect(out, dw, dh, scaled, ox, oy, rw, rh, bg)

	case spec.ModeFill:
		scale := math.Max(float64(dw)/float64(sw), float64(dh)/float64(sh))
		rw, rh := scaledSize(sw, sh, scale)
		if rw < dw {
			rw = dw
		}
		if rh < dh {
			rh = dh
		}
		scaled := resize(src, rw, rh)
		cox := clampZero((rw - dw) / 2)
		coy := clampZero((rh - dh) / 2)
		cropped := cropRGBA(scaled, cox, coy, dw, dh)
		compositeRect(out, dw, dh, cropped, 0, 0, dw, dh, bg)

	case spec.ModeCenter:
		rgba := toRGBA(src)
		ox, oy := (dw-sw)/2, (dh-sh)/2
		compositeRect(out, dw, dh, rgba, ox, oy, sw, sh, bg)

	case spec.ModeTile:
		rgba := toRGBA(src)
		tileComposite(out, dw, dh, rgba, sw, sh, bg)
	}

	return out
}

func scaledSize(sw, sh int, scale float64) (int, int) {
	rw := int(math.RoundToEven(float64(sw) * scale))
	rh := int(math.RoundToEven(float64(sh) * scale))
	if rw < 1 {
		rw = 1
	}
	if rh < 1 {
		rh = 1
	}
	return rw, rh
}

func clampZero(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func resize(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

func toRGBA(src image.Image) *image.RGBA {
	if rgba, ok := src.(*image.RGBA); ok {
		return rgba
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

func cropRGBA(src *image.RGBA, x, y, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min.Add(image.Pt(x, y)), draw.Src)
	return dst
}

// compositeRect alpha-composites an RGBA source, placed at (ox,oy) in
// destination coordinates of size (rw,rh), over the dw*dh XRGB8888
// buffer which is already filled with bg. Offsets may be negative or
// place the source partially or fully outside the destination; only
// the overlap is touched.
func compositeRect(out []uint32, dw, dh int, src *image.RGBA, ox, oy, rw, rh int, bg spec.Rgb) {
	x0 := clampZero(ox)
	y0 := clampZero(oy)
	x1 := ox + rw
	if x1 > dw {
		x1 = dw
	}
	y1 := oy + rh
	if y1 > dh {
		y1 = dh
	}
	if x0 >= x1 || y0 >= y1 {
		return
	}
	for y := y0; y < y1; y++ {
		sy := y - oy
		srow := src.PixOffset(0, sy)
		drow := y * dw
		for x := x0; x < x1; x++ {
			sx := x - ox
			i := srow + sx*4
			r, g, b, a := src.Pix[i], src.Pix[i+1], src.Pix[i+2], src.Pix[i+3]
			out[drow+x] = compositePixel(r, g, b, a, bg)
		}
	}
}

func tileComposite(out []uint32, dw, dh int, src *image.RGBA, sw, sh int, bg spec.Rgb) {
	for y := 0; y < dh; y++ {
		sy := y % sh
		srow := src.PixOffset(0, sy)
		drow := y * dw
		for x := 0; x < dw; x++ {
			sx := x % sw
			i := srow + sx*4
			r, g, b, a := src.Pix[i], src.Pix[i+1], src.Pix[i+2], src.Pix[i+3]
			out[drow+x] = compositePixel(r, g, b, a, bg)
		}
	}
}

// compositePixel applies out_c = (c*a + bg_c*(255-a))/255 per channel,
// with fast paths for fully opaque and fully transparent source pixels.
func compositePixel(r, g, b, a uint8, bg spec.Rgb) uint32 {
	switch a {
	case 255:
		return uint32(r)<<16 | uint32(g)<<8 | uint32(b)
	case 0:
		return bg.Pixel()
	}
	ia := uint32(a)
	outR := (uint32(r)*ia + uint32(bg.R)*(255-ia)) / 255
	outG := (uint32(g)*ia + uint32(bg.G)*(255-ia)) / 255
	outB := (uint32(b)*ia + uint32(bg.B)*(255-ia)) / 255
	return outR<<16 | outG<<8 | outB
}
