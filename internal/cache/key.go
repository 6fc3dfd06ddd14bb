// Package cache implements the on-disk MRU frame cache: an index of
// recently rendered images keyed by their structural identity, and
// the raw per-surface, per-size pixel payloads rendered from them.
package cache

import (
	"os"

	"github.com/wl-gesso/gesso/internal/spec"
)

// RendererVersion is folded into every ImageKey so that a change to
// the resize kernel's sampling or rounding invalidates the cache
// instead of silently handing out frames rendered by a different
// algorithm.
const RendererVersion byte = 1

// ImageKey is the structural identity of one image wallpaper request:
// two keys are equal iff every field matches, which is exactly when a
// previously rendered frame remains valid to reuse.
type ImageKey struct {
	Path            string    `json:"path"`
	Mode            spec.Mode `json:"mode"`
	Bg              spec.Rgb  `json:"bg"`
	FileSize        int64     `json:"size"`
	MtimeSecs       int64     `json:"mtime_secs"`
	MtimeNanos      int32     `json:"mtime_nanos"`
	RendererVersion byte      `json:"renderer_version"`
}

// Equal reports whether two keys are structurally identical.
func (k ImageKey) Equal(o ImageKey) bool {
	return k == o
}

// BuildImageKey stats path and combines it with mode/bg and the
// current renderer version into an ImageKey. The path must already be
// canonical (absolute, symlink-resolved) — callers resolve that
// before calling, since the key's identity is defined over the
// resolved path.
func BuildImageKey(path string, mode spec.Mode, bg spec.Rgb) (ImageKey, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return ImageKey{}, err
	}
	mtime := fi.ModTime()
	return ImageKey{
		Path:            path,
		Mode:            mode,
		Bg:              bg,
		FileSize:        fi.Size(),
		MtimeSecs:       mtime.Unix(),
		MtimeNanos:      int32(mtime.Nanosecond()),
		RendererVersion: RendererVersion,
	}, nil
}
