package daemon

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/wl-gesso/gesso/internal/protocol"
)

// clientTimeout bounds how long a single request/response exchange may
// take, long enough for a slow animation to finish committing.
const clientTimeout = 120 * time.Second

// handleConn reads exactly one request line, dispatches it, writes one
// response line, and closes the connection. It returns true if the
// daemon should stop serving after this exchange (the "stop" command).
func (d *Daemon) handleConn(conn net.Conn) bool {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(clientTimeout))

	dec := protocol.NewDecoder(conn)
	enc := protocol.NewEncoder(conn)

	var req protocol.Request
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return false
		}
		if d.log != nil {
			d.log.Warn("request decode failed", "err", err)
		}
		return false
	}

	switch req.Command {
	case protocol.CmdSetImage, protocol.CmdSetColour:
		d.dispatchApply(enc, req)
	case protocol.CmdUnset:
		d.dispatchUnset(enc, req)
	case protocol.CmdStatus:
		d.dispatchStatus(enc)
	case protocol.CmdHealth:
		d.dispatchHealth(enc)
	case protocol.CmdStop:
		d.dispatchStop(enc)
		return true
	default:
		writeError(enc, "unknown command")
	}
	return false
}

func (d *Daemon) dispatchApply(enc *protocol.Encoder, req protocol.Request) {
	if req.Spec == nil || !req.Spec.Valid() {
		writeError(enc, "request is missing a valid spec")
		return
	}
	if d.isSuspended() {
		writeError(enc, "session is not alive; apply refused")
		return
	}
	if err := d.applyWithRetry(*req.Spec); err != nil {
		if d.log != nil {
			d.log.Error("apply failed", "err", err)
		}
		writeError(enc, err.Error())
		return
	}
	_ = enc.Encode(protocol.Response{OK: true})
}

func (d *Daemon) dispatchUnset(enc *protocol.Encoder, req protocol.Request) {
	if err := d.unsetWithRetry(req.Output); err != nil {
		if d.log != nil {
			d.log.Error("unset failed", "err", err)
		}
		writeError(enc, err.Error())
		return
	}
	_ = enc.Encode(protocol.Response{OK: true})
}

func (d *Daemon) dispatchStatus(enc *protocol.Encoder) {
	d.mu.Lock()
	cur := d.eng.Current()
	snap := d.eng.Metrics.Snapshot()
	d.mu.Unlock()

	_ = enc.Encode(protocol.Response{
		OK: true,
		Status: &protocol.StatusPayload{
			Current: cur,
			Metrics: snap,
		},
	})
}

func (d *Daemon) dispatchHealth(enc *protocol.Encoder) {
	d.mu.Lock()
	probe := d.eng.Probe()
	running := d.eng.Running()
	d.mu.Unlock()

	_ = enc.Encode(protocol.Response{
		OK: true,
		Health: &protocol.HealthPayload{
			Probe:   probe,
			Session: d.watcher.Probe(),
			Running: running,
		},
	})
}

func (d *Daemon) dispatchStop(enc *protocol.Encoder) {
	d.mu.Lock()
	_ = d.eng.Stop()
	clearCurrent()
	d.mu.Unlock()

	// Reply before the listener is torn down so the client doesn't see
	// a connection reset instead of its response.
	_ = enc.Encode(protocol.Response{OK: true})
	d.Stop()
}

func (d *Daemon) isSuspended() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.suspended
}

func writeError(enc *protocol.Encoder, msg string) {
	_ = enc.Encode(protocol.Response{OK: false, Error: msg})
}
