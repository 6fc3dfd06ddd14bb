// Command gessod is the gesso wallpaper daemon: it owns the Wayland
// connection, the frame cache, and the control socket that cmd/gesso
// talks to.
package main

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/wl-gesso/gesso/internal/daemon"
	"github.com/wl-gesso/gesso/internal/logging"
	"github.com/wl-gesso/gesso/internal/paths"
)

func main() {
	log := logging.FromEnv()

	// Install a real SDK TracerProvider in place of the no-op one the
	// engine/animate packages start with, so the engine.apply and
	// animate.tick spans are actually recorded; an operator wires a
	// real exporter onto this provider as their observability stack
	// requires.
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	logging.InstallOTelLogger(log)

	logPath := paths.StateDir() + "/gesso.log"
	sawExisting, err := daemon.PrepareLogFile(logPath)
	if err != nil {
		log.Warn("log rotation failed", "err", err)
	} else if err := daemon.WriteRunSeparator(logPath, sawExisting); err != nil {
		log.Warn("write run separator failed", "err", err)
	}

	d, err := daemon.New(log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "gessod:", err)
		os.Exit(1)
	}
	defer d.Close()

	log.Info("gessod starting", "sock", paths.SocketPath(), "pid", os.Getpid())
	if err := d.Serve(); err != nil {
		log.Error("daemon exited with error", "err", err)
		_ = tp.Shutdown(context.Background())
		os.Exit(1)
	}
	_ = tp.Shutdown(context.Background())
	log.Info("gessod exiting")
}
