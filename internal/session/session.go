// Package session is the best-effort liveness watcher of
// SPEC_FULL.md's supplemented features: it polls the compositor's Unix
// socket and the login session's runtime directory on an interval, and
// reports transitions so the daemon can refuse new applies while a
// compositor is gone but the process hasn't yet noticed, and accept
// them again once it is back.
package session

import (
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/wl-gesso/gesso/internal/logging"
)

// defaultInterval is how often the watcher probes liveness between
// daemon ticks.
const defaultInterval = 3 * time.Second

// probeTimeout bounds each socket dial so a wedged compositor can't
// stall the watcher goroutine indefinitely.
const probeTimeout = 500 * time.Millisecond

// State is a point-in-time liveness reading.
type State struct {
	CompositorAlive bool `json:"compositor_alive"`
	LoginAlive      bool `json:"login_alive"`
}

// Alive reports whether both the compositor socket and the login
// session look live.
func (s State) Alive() bool {
	return s.CompositorAlive && s.LoginAlive
}

// Watcher polls liveness on an interval and notifies a callback with
// its first reading and afterwards only when the combined Alive()
// value changes, so the daemon isn't notified on every tick while
// nothing has changed.
type Watcher struct {
	SocketPath string
	Interval   time.Duration
	Log        logging.Logger

	onChange func(State)
	stop     chan struct{}
	done     chan struct{}
}

// NewWatcher builds a Watcher probing socketPath (the compositor's
// Unix socket, as resolved by internal/wire) on defaultInterval unless
// overridden.
func NewWatcher(socketPath string, log logging.Logger) *Watcher {
	return &Watcher{
		SocketPath: socketPath,
		Interval:   defaultInterval,
		Log:        log,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Probe takes one liveness reading without starting the background
// loop, for callers that just want a snapshot.
func (w *Watcher) Probe() State {
	return State{
		CompositorAlive: probeCompositorSocket(w.SocketPath),
		LoginAlive:      probeLoginSession(),
	}
}

// Run polls liveness on Interval until Stop is called, invoking
// onChange once with the initial reading and then whenever the
// combined Alive() value flips. Run blocks;
// callers invoke it in its own goroutine.
func (w *Watcher) Run(onChange func(State)) {
	w.onChange = onChange
	defer close(w.done)

	interval := w.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := w.Probe()
	w.logState(last)
	if w.onChange != nil {
		w.onChange(last)
	}

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			cur := w.Probe()
			if cur.Alive() != last.Alive() {
				w.logState(cur)
				if w.onChange != nil {
					w.onChange(cur)
				}
			}
			last = cur
		}
	}
}

// Stop ends the Run loop and waits for it to return.
func (w *Watcher) Stop() {
	close(w.stop)
	<-w.done
}

func (w *Watcher) logState(s State) {
	if w.Log == nil {
		return
	}
	if s.Alive() {
		w.Log.Info("session liveness restored", "compositor", s.CompositorAlive, "login", s.LoginAlive)
	} else {
		w.Log.Warn("session liveness lost", "compositor", s.CompositorAlive, "login", s.LoginAlive)
	}
}

// probeCompositorSocket dials the compositor's Unix socket with a
// short deadline; a successful connect (then immediate close) is
// evidence the compositor is still accepting clients, without
// disturbing the engine's own long-lived connection.
func probeCompositorSocket(socketPath string) bool {
	if socketPath == "" {
		return false
	}
	conn, err := net.DialTimeout("unix", socketPath, probeTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// probeLoginSession checks, when XDG_SESSION_ID is set, that the
// XDG_RUNTIME_DIR directory still exists (an unset XDG_SESSION_ID or
// XDG_RUNTIME_DIR counts as alive); this is the cheap stand-in this
// module uses for "is the
// login session still active" in the absence of a logind D-Bus
// dependency.
func probeLoginSession() bool {
	id := os.Getenv("XDG_SESSION_ID")
	if id == "" {
		return true
	}
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		return true
	}
	if _, err := os.Stat(filepath.Join(dir)); err != nil {
		return false
	}
	return true
}
