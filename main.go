// Node Agent - authenticated host telemetry and service control
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/workspace/node-agent/internal/config"
	"github.com/workspace/node-agent/internal/logging"
	"github.com/workspace/node-agent/internal/server"
	"github.com/workspace/node-agent/internal/sysinfo"
)

// options holds command-line overrides.
type options struct {
	envFile         string
	envFileExplicit bool
	logLevel        string
	logFormat       string
	version         bool
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		slog.Error("Node agent stopped with error", "error", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var opts options

	flagSet := pflag.NewFlagSet("node-agent", pflag.ContinueOnError)
	flagSet.StringVar(&opts.envFile, "env-file", config.DefaultEnvFile, "dotenv file loaded before reading the environment")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	flagSet.StringVar(&opts.logFormat, "log-format", "", "log format override (json, text)")
	flagSet.BoolVar(&opts.version, "version", false, "print version and exit")

	if err := flagSet.Parse(args); err != nil {
		return opts, err
	}
	opts.envFileExplicit = flagSet.Changed("env-file")
	return opts, nil
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	if opts.version {
		fmt.Printf("node-agent %s (built %s, %s)\n", sysinfo.Version, sysinfo.BuildDate, sysinfo.GoVersionBuild)
		return nil
	}

	cfg, err := config.Load(opts.envFile, opts.envFileExplicit)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.LogFormat = opts.logFormat
	}

	logFile, err := logging.Setup(cfg.LogLevel, cfg.LogFormat, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	defer logFile.Close()

	for _, warning := range cfg.Warnings {
		slog.Warn("Configuration value rejected", "detail", warning)
	}

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down node agent", "timeout", cfg.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	slog.Info("Node agent stopped")
	return nil
}
