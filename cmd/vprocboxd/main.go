// Command vprocboxd is a demonstration control-plane binary: it spins up
// one vprocbox.Container and exposes it over HTTP, for an embedder that
// wants a REST front door instead of linking the library directly.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/vprocbox/vprocbox"
	"github.com/vprocbox/vprocbox/internal/httpapi"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Debug(".env file not found, continuing with process environment")
	}

	port := flag.Int("port", envInt("PORT", 8080), "port to listen on")
	debug := flag.Bool("debug", os.Getenv("DEBUG") == "true", "enable debug logging")
	maxProcesses := flag.Int("max-processes", envInt("MAX_PROCESSES", 10), "maximum concurrent processes")
	flag.Parse()

	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := vprocbox.New(ctx, vprocbox.Options{Debug: *debug, MaxProcesses: *maxProcesses})
	if err != nil {
		logrus.WithError(err).Fatal("failed to create container")
	}
	defer container.Dispose(context.Background())

	router := httpapi.SetupRouter(container, false)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logrus.Info("shutting down")
		cancel()
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%d", *port)
	logrus.WithField("addr", addr).Info("starting vprocboxd")
	if err := router.Run(addr); err != nil {
		logrus.WithError(err).Fatal("server exited")
	}
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(val, "%d", &n); err != nil {
		return fallback
	}
	return n
}
