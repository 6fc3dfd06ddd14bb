// Package protocol is the request/response line codec shared by the
// daemon and the CLI client: one JSON object per line over the control
// socket, matching the line-oriented framing spec.md's Wayland wire
// layer avoids needing for this much simpler control channel.
package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/wl-gesso/gesso/internal/spec"
)

// Command names one of the CLI subcommands.
type Command string

const (
	CmdSetImage  Command = "set_image"
	CmdSetColour Command = "set_colour"
	CmdUnset     Command = "unset"
	CmdStatus    Command = "status"
	CmdHealth    Command = "health"
	CmdStop      Command = "stop"
)

// Request is one client request line.
type Request struct {
	Command Command    `json:"command"`
	Spec    *spec.Spec `json:"spec,omitempty"`
	Output  *string    `json:"output,omitempty"`
}

// Response is one daemon response line.
type Response struct {
	OK     bool           `json:"ok"`
	Error  string         `json:"error,omitempty"`
	Status *StatusPayload `json:"status,omitempty"`
	Health *HealthPayload `json:"health,omitempty"`
}

// StatusPayload answers the "status" command: the currently applied
// spec (if any) and the engine's metrics snapshot.
type StatusPayload struct {
	Current *spec.Spec  `json:"current,omitempty"`
	Metrics interface{} `json:"metrics"`
}

// HealthPayload answers the "health" command: the engine's connection
// probe and the session watcher's last liveness reading.
type HealthPayload struct {
	Probe   interface{} `json:"probe"`
	Session interface{} `json:"session"`
	Running bool        `json:"running"`
}

// Encoder writes newline-delimited JSON requests or responses.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder wraps w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode marshals v as one line and flushes it.
func (e *Encoder) Encode(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("protocol: encode: %w", err)
	}
	if _, err := e.w.Write(data); err != nil {
		return err
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return err
	}
	return e.w.Flush()
}

// Decoder reads newline-delimited JSON requests or responses.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder wraps r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Decode reads one line and unmarshals it into v.
func (d *Decoder) Decode(v any) error {
	line, err := d.r.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return err
	}
	if err := json.Unmarshal(line, v); err != nil {
		return fmt.Errorf("protocol: decode: %w", err)
	}
	return nil
}
