// Command gesso is the CLI client: it parses one subcommand, sends a
// single request line to gessod's control socket, and prints the
// response.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/wl-gesso/gesso/internal/logging"
	"github.com/wl-gesso/gesso/internal/paths"
	"github.com/wl-gesso/gesso/internal/protocol"
	"github.com/wl-gesso/gesso/internal/spec"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: gesso <command> [flags]

commands:
  set image <path>   [--mode=fill|fit|stretch|center|tile] [--bg=#RRGGBB]
                      [--output=name] [--transition=none|fade|wipe]
                      [--duration=ms] [--wipe-from=left|right]
  set colour <#RRGGBB> [--output=name] [--transition=none|fade|wipe]
                      [--duration=ms] [--wipe-from=left|right]
  unset               [--output=name]
  status
  health
  stop`)
	os.Exit(2)
}

func main() {
	log := logging.New("logrus")
	if len(os.Args) < 2 {
		usage()
	}

	var req protocol.Request
	switch os.Args[1] {
	case "set":
		req = parseSet(os.Args[2:])
	case "unset":
		req = parseUnset(os.Args[2:])
	case "status":
		req = protocol.Request{Command: protocol.CmdStatus}
	case "health":
		req = protocol.Request{Command: protocol.CmdHealth}
	case "stop":
		req = protocol.Request{Command: protocol.CmdStop}
	default:
		usage()
		return
	}

	resp, err := send(req)
	if err != nil {
		log.Error("request failed", "err", err)
		os.Exit(1)
	}
	printResponse(log, resp)
	if !resp.OK {
		os.Exit(1)
	}
}

func parseSet(args []string) protocol.Request {
	if len(args) < 2 {
		usage()
	}
	switch args[0] {
	case "image":
		return parseSetImage(args[1:])
	case "colour", "color":
		return parseSetColour(args[1:])
	default:
		usage()
		return protocol.Request{}
	}
}

func parseSetImage(args []string) protocol.Request {
	fs := flag.NewFlagSet("set image", flag.ExitOnError)
	mode := fs.String("mode", "fill", "fill|fit|stretch|center|tile")
	bg := fs.String("bg", "#000000", "letterbox background colour")
	output := fs.String("output", "", "restrict to one output")
	transition := fs.String("transition", "none", "none|fade|wipe")
	duration := fs.Uint("duration", 550, "transition duration in ms")
	wipeFrom := fs.String("wipe-from", "left", "left|right")
	if err := fs.Parse(args[1:]); err != nil {
		os.Exit(2)
	}
	path := args[0]

	m, err := spec.ParseMode(*mode)
	fatalIf(err)
	bgColour, err := spec.ParseRgb(*bg)
	fatalIf(err)
	tr := parseTransition(*transition, uint32(*duration), *wipeFrom)

	img := &spec.ImageSpec{
		Path:       path,
		Mode:       m,
		Bg:         bgColour,
		Transition: tr,
	}
	if *output != "" {
		img.Output = output
	}
	return protocol.Request{Command: protocol.CmdSetImage, Spec: &spec.Spec{Image: img}}
}

func parseSetColour(args []string) protocol.Request {
	fs := flag.NewFlagSet("set colour", flag.ExitOnError)
	output := fs.String("output", "", "restrict to one output")
	transition := fs.String("transition", "none", "none|fade|wipe")
	duration := fs.Uint("duration", 200, "transition duration in ms")
	wipeFrom := fs.String("wipe-from", "left", "left|right")
	if err := fs.Parse(args[1:]); err != nil {
		os.Exit(2)
	}

	colour, err := spec.ParseRgb(args[0])
	fatalIf(err)
	tr := parseTransition(*transition, uint32(*duration), *wipeFrom)

	cs := &spec.ColourSpec{Colour: colour, Transition: tr}
	if *output != "" {
		cs.Output = output
	}
	return protocol.Request{Command: protocol.CmdSetColour, Spec: &spec.Spec{Colour: cs}}
}

func parseUnset(args []string) protocol.Request {
	fs := flag.NewFlagSet("unset", flag.ExitOnError)
	output := fs.String("output", "", "unset one output (default: all)")
	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}
	req := protocol.Request{Command: protocol.CmdUnset}
	if *output != "" {
		req.Output = output
	}
	return req
}

func parseTransition(kind string, durationMs uint32, wipeFrom string) spec.TransitionSpec {
	var tr spec.TransitionSpec
	fatalIf(tr.Kind.UnmarshalJSON([]byte(`"` + kind + `"`)))
	tr.DurationMs = durationMs
	fatalIf(tr.WipeFrom.UnmarshalJSON([]byte(`"` + wipeFrom + `"`)))
	return tr
}

func send(req protocol.Request) (protocol.Response, error) {
	conn, err := net.Dial("unix", paths.SocketPath())
	if err != nil {
		return protocol.Response{}, fmt.Errorf("connect to gessod: %w", err)
	}
	defer conn.Close()

	if err := protocol.NewEncoder(conn).Encode(req); err != nil {
		return protocol.Response{}, fmt.Errorf("send request: %w", err)
	}
	var resp protocol.Response
	if err := protocol.NewDecoder(conn).Decode(&resp); err != nil {
		return protocol.Response{}, fmt.Errorf("read response: %w", err)
	}
	return resp, nil
}

func printResponse(log logging.Logger, resp protocol.Response) {
	if !resp.OK {
		log.Error("request rejected", "reason", resp.Error)
		return
	}
	switch {
	case resp.Status != nil:
		data, _ := json.MarshalIndent(resp.Status, "", "  ")
		fmt.Println(string(data))
	case resp.Health != nil:
		data, _ := json.MarshalIndent(resp.Health, "", "  ")
		fmt.Println(string(data))
	default:
		log.Info("ok")
	}
}

func fatalIf(err error) {
	if err != nil {
		logrus.New().WithField("err", err).Fatal("invalid argument")
	}
}
