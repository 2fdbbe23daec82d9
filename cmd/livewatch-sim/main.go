package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/tansel/livewatch/sim"
)

func main() {
	listen := pflag.StringP("listen", "l", "0.0.0.0:7000", "TCP listen address")
	randomize := pflag.Bool("randomize", true, "jitter numeric fields between pushes")
	advertise := pflag.Bool("advertise", true, "advertise the endpoint over mDNS")
	debug := pflag.Bool("debug", false, "enable debug logging")
	pflag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))

	device := sim.NewDevice()
	device.RegisterBuiltins()

	server := sim.NewServer(device, *listen)
	server.Randomize = *randomize
	server.Advertise = *advertise

	go func() {
		if err := server.Start(); err != nil {
			slog.Error("Simulator failed", "err", err)
			os.Exit(1)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	slog.Info("Shutting down simulator")
	server.Shutdown()
}
