// Package decode turns an image file on disk into the RGBA8 bitmap
// internal/compose renders from, per spec.md §6's "image decoder"
// collaborator contract.
package decode

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/wl-gesso/gesso/internal/errs"
)

// Decoder produces an image.Image from a filesystem path. The engine
// depends on this interface, not on any concrete format package,
// so tests can substitute a counting fake (spec.md §8 scenario S5).
type Decoder interface {
	Decode(path string) (image.Image, error)
}

// Stdlib decodes with the standard library's image package plus the
// blank-imported golang.org/x/image format plugins (bmp, tiff, webp)
// registered alongside the stdlib's jpeg/png/gif.
type Stdlib struct{}

// Decode opens path and decodes it using whichever registered format
// its content sniffs as.
func (Stdlib) Decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.DecodeFailure, err, "open image "+path)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errs.Wrap(errs.DecodeFailure, err, fmt.Sprintf("decode image %s", path))
	}
	return img, nil
}
