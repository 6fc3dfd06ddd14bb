// Package errs declares the engine's internal error-kind taxonomy
// (spec.md §7) and a wrapping helper built on golang.org/x/xerrors so
// callers can test kinds with errors.Is through a wrapped chain.
package errs

import "golang.org/x/xerrors"

// Kind is a sentinel error identifying one of the taxonomy's error
// classes. Compare with errors.Is(err, errs.EnvironmentAbsent), etc.
type Kind struct{ name string }

func (k *Kind) Error() string { return k.name }

var (
	// EnvironmentAbsent: no compositor connection, no layer-shell
	// global, or wl_shm missing. Fatal to the current apply.
	EnvironmentAbsent = &Kind{"environment absent"}
	// OutputUnknown: request names an output that no surface matches.
	// Fatal to the current apply.
	OutputUnknown = &Kind{"output unknown"}
	// DecodeFailure: image path cannot be opened or decoded. Fatal to
	// the current apply.
	DecodeFailure = &Kind{"decode failure"}
	// TransportBroken: the compositor connection is broken. Signalled
	// to the daemon so it may rebuild the engine and retry once.
	TransportBroken = &Kind{"transport broken"}
	// PacingStuck: buffer never released within the hard-bail window.
	// Never surfaced to a caller; logged only.
	PacingStuck = &Kind{"pacing stuck"}
	// CacheCorruption: a frame file's size does not match w*h*4.
	// Treated as a cache miss; never surfaced to a caller.
	CacheCorruption = &Kind{"cache corruption"}
)

// Wrap attaches kind to cause with a message. The cause's text is kept
// in the message, but only kind is wrapped: errors.Is matches kind,
// not cause.
func Wrap(kind *Kind, cause error, msg string) error {
	if cause == nil {
		return xerrors.Errorf("%s: %w", msg, kind)
	}
	return xerrors.Errorf("%s: %s: %w", msg, cause, kind)
}

// New builds a bare kind-tagged error with no further cause.
func New(kind *Kind, msg string) error {
	return xerrors.Errorf("%s: %w", msg, kind)
}

// Is reports whether err is, or wraps, kind.
func Is(err error, kind *Kind) bool {
	return xerrors.Is(err, kind)
}
