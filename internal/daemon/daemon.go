// Package daemon is the long-lived gesso process: single-instance
// lock, control-socket listener, command dispatch onto an
// internal/engine.Engine, session-liveness watching, and log
// rotation, mirroring the original's daemon.rs/daemon/lock.rs/
// logrotate.rs/session.rs.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/wl-gesso/gesso/internal/decode"
	"github.com/wl-gesso/gesso/internal/engine"
	"github.com/wl-gesso/gesso/internal/errs"
	"github.com/wl-gesso/gesso/internal/logging"
	"github.com/wl-gesso/gesso/internal/paths"
	"github.com/wl-gesso/gesso/internal/session"
	"github.com/wl-gesso/gesso/internal/spec"
)

// Daemon owns the engine, the session watcher, and the control-socket
// listener. All Engine access is serialized through mu: the engine
// itself assumes non-reentrant entry (spec.md §5).
type Daemon struct {
	log logging.Logger

	mu        sync.Mutex
	eng       *engine.Engine
	suspended bool

	watcher  *session.Watcher
	listener net.Listener
	lock     *Lock

	shutdown chan struct{}
}

// New acquires the single-instance lock, builds the engine, and
// restores the last applied spec from
// $XDG_STATE_HOME/gesso/current.json if present. The returned Daemon
// has not yet started accepting connections; call Serve for that.
func New(log logging.Logger) (*Daemon, error) {
	if err := paths.EnsureDir(paths.StateDir()); err != nil {
		return nil, fmt.Errorf("daemon: create state dir: %w", err)
	}
	if err := paths.EnsureDir(paths.RuntimeDir()); err != nil {
		return nil, fmt.Errorf("daemon: create runtime dir: %w", err)
	}

	lock, err := AcquireLock(paths.LockPath())
	if err != nil {
		return nil, err
	}
	if lock == nil {
		return nil, fmt.Errorf("daemon: another instance is already running")
	}

	eng, err := engine.New(log, decode.Stdlib{})
	if err != nil {
		lock.Release()
		return nil, err
	}
	if err := eng.Warmup(); err != nil && log != nil {
		log.Warn("warmup failed", "err", err)
	}

	d := &Daemon{
		log:      log,
		eng:      eng,
		lock:     lock,
		watcher:  session.NewWatcher(compositorSocketPath(), logging.New("zap")),
		shutdown: make(chan struct{}),
	}

	if cur, ok := loadCurrent(); ok {
		if err := d.applyWithRetry(*cur); err != nil && log != nil {
			log.Error("restore cached spec failed", "err", err)
		}
	}

	return d, nil
}

// compositorSocketPath mirrors internal/wire's own resolution so the
// session watcher probes the exact socket the engine is connected to.
func compositorSocketPath() string {
	display := os.Getenv("WAYLAND_DISPLAY")
	if display == "" {
		display = "wayland-0"
	}
	if display[0] == '/' {
		return display
	}
	return paths.RuntimeDir() + "/" + display
}

// Serve binds the control socket and accepts connections until Stop is
// called or a client sends the "stop" command.
func (d *Daemon) Serve() error {
	sockPath := paths.SocketPath()
	_ = os.Remove(sockPath)

	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return fmt.Errorf("daemon: bind control socket %s: %w", sockPath, err)
	}
	_ = os.Chmod(sockPath, 0o600)
	d.listener = ln
	defer os.Remove(sockPath)

	go d.watcher.Run(d.onLivenessChange)
	defer d.watcher.Stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-d.shutdown:
				return nil
			default:
			}
			if d.log != nil {
				d.log.Error("accept error", "err", err)
			}
			continue
		}

		stop := d.handleConn(conn)
		if stop {
			return nil
		}
	}
}

// Stop unblocks a running Serve loop.
func (d *Daemon) Stop() {
	close(d.shutdown)
	if d.listener != nil {
		_ = d.listener.Close()
	}
}

// Close releases the single-instance lock and tears down the engine.
// Call after Serve returns.
func (d *Daemon) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_ = d.eng.Stop()
	return d.lock.Release()
}

func (d *Daemon) onLivenessChange(s session.State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.suspended = !s.Alive()
	if d.log != nil {
		if d.suspended {
			d.log.Warn("session not alive; suspending applies until it returns")
		} else {
			d.log.Info("session alive again; resuming applies")
		}
	}
}

// applyWithRetry calls Engine.Apply, rebuilding the engine once on a
// transport-broken error before giving up, per the original's
// apply_with_retry.
func (d *Daemon) applyWithRetry(sp spec.Spec) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	err := d.eng.Apply(context.Background(), sp)
	if err == nil {
		saveCurrent(sp)
		return nil
	}
	if !errs.Is(err, errs.TransportBroken) {
		return err
	}
	if d.log != nil {
		d.log.Error("compositor transport broken; rebuilding engine", "err", err)
	}
	if err := d.rebuildEngine(); err != nil {
		return err
	}
	if err := d.eng.Apply(context.Background(), sp); err != nil {
		return err
	}
	saveCurrent(sp)
	return nil
}

func (d *Daemon) unsetWithRetry(output *string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	err := d.eng.Unset(output)
	if err == nil {
		if output == nil {
			clearCurrent()
		}
		return nil
	}
	if !errs.Is(err, errs.TransportBroken) {
		return err
	}
	if err := d.rebuildEngine(); err != nil {
		return err
	}
	if err := d.eng.Unset(output); err != nil {
		return err
	}
	if output == nil {
		clearCurrent()
	}
	return nil
}

// rebuildEngine discards the current engine and dials a fresh
// connection, one time, per spec.md-adjacent "recovery on transport
// breakage" (SPEC_FULL.md §3). Caller must hold d.mu.
func (d *Daemon) rebuildEngine() error {
	_ = d.eng.Stop()
	eng, err := engine.New(d.log, decode.Stdlib{})
	if err != nil {
		return fmt.Errorf("daemon: rebuild engine: %w", err)
	}
	d.eng = eng
	return nil
}

func saveCurrent(sp spec.Spec) {
	data, err := json.MarshalIndent(sp, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(paths.CurrentSpecPath(), data, 0o600)
}

func clearCurrent() {
	_ = os.Remove(paths.CurrentSpecPath())
}

func loadCurrent() (*spec.Spec, bool) {
	data, err := os.ReadFile(paths.CurrentSpecPath())
	if err != nil {
		return nil, false
	}
	var sp spec.Spec
	if err := json.Unmarshal(data, &sp); err != nil {
		return nil, false
	}
	return &sp, true
}

// PrepareLogFile rotates the daemon's on-disk log past the size
// threshold and returns whether a run separator should be written,
// per the original's logrotate.rs.
func PrepareLogFile(path string) (bool, error) {
	return prepareLogFile(path, defaultMaxLogBytes, defaultKeepLogBackups)
}

// WriteRunSeparator appends the header line and (if sawExisting) a
// blank line before it, matching run_header/write_raw_blank_line.
func WriteRunSeparator(path string, sawExisting bool) error {
	if sawExisting {
		if err := writeRawBlankLine(path); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(runHeader() + "\n")
	return err
}
