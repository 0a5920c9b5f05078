package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/migadu/popclient/config"
	"github.com/migadu/popclient/logger"
	"github.com/migadu/popclient/server/httpapi"
	"github.com/migadu/popclient/session"
)

func handleServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to TOML configuration file")
	addr := fs.String("addr", "", "HTTP API listen address (overrides config)")
	apiKey := fs.String("apikey", "", "Bearer token required by the API (overrides config)")
	debug := fs.Bool("debug", false, "Copy raw POP3 traffic to stderr (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if isFlagSet(fs, "addr") {
		cfg.HTTPAPI.Addr = *addr
	}
	if isFlagSet(fs, "apikey") {
		cfg.HTTPAPI.APIKey = *apiKey
	}
	if isFlagSet(fs, "debug") {
		cfg.POP3.Debug = *debug
	}

	cleanup, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	logger.Infof("popclient starting (version %s, commit: %s, built: %s)", version, commit, date)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signalChan
		logger.Infof("Received signal: %s, shutting down...", sig)
		cancel()
	}()

	return serve(ctx, cfg)
}

// serve runs the HTTP API until ctx is cancelled, then ends the POP3
// session.
func serve(ctx context.Context, cfg config.Config) error {
	sess := session.New(cfg.POP3)
	defer func() {
		quitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := sess.Quit(quitCtx); err == nil {
			logger.Info("POP3 session closed on shutdown")
		}
		sess.Close()
	}()

	options := httpapi.ServerOptions{
		Addr:            cfg.HTTPAPI.Addr,
		APIKey:          cfg.HTTPAPI.APIKey,
		ShutdownTimeout: 10 * time.Second,
	}
	if d, err := cfg.HTTPAPI.GetShutdownTimeout(); err == nil {
		options.ShutdownTimeout = d
	}
	if cfg.Metrics.Enabled {
		options.MetricsPath = cfg.Metrics.Path
	}

	errChan := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		httpapi.Start(ctx, sess, options, errChan)
	}()

	select {
	case err := <-errChan:
		return err
	case <-done:
		select {
		case err := <-errChan:
			return err
		default:
		}
		if ctx.Err() == nil {
			return fmt.Errorf("HTTP API server stopped unexpectedly")
		}
		return nil
	}
}
