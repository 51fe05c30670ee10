// Package main is the entry point for the sfplayer API server
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/james-see/sfplayer/pkg/api"
	"github.com/james-see/sfplayer/pkg/config"
	"github.com/james-see/sfplayer/pkg/library"
	"github.com/james-see/sfplayer/pkg/logging"
	"github.com/james-see/sfplayer/pkg/output"
	"github.com/james-see/sfplayer/pkg/player"
)

func main() {
	port := flag.Int("port", 8080, "Server port")
	configPath := flag.String("config", "", "Config file (default ~/.config/sfplayer/config.json)")
	backend := flag.String("backend", "", "Output backend (synth|port)")
	logLevel := flag.String("log-level", "", "Log level")
	flag.Parse()

	if err := run(*port, *configPath, *backend, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

func run(port int, configPath, backend, logLevel string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if backend != "" {
		cfg.Output.Backend = backend
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger, err := logging.New(cfg.LogLevel, os.Stderr)
	if err != nil {
		return err
	}

	opener, err := output.NewOpener(cfg.Output.Backend, logger)
	if err != nil {
		return err
	}
	p := player.New(opener, player.Options{Logger: logger})
	defer func() {
		if err := p.Close(); err != nil {
			logger.Warn("closing player failed", "err", err)
		}
	}()

	logger.Info("starting sfplayer API server", "port", port, "backend", cfg.Output.Backend)
	logger.Info("swagger docs", "url", fmt.Sprintf("http://localhost:%d/swagger/index.html", port))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return api.NewServer(p, library.New(cfg, logger), cfg.Hold()).Run(ctx, port)
}
