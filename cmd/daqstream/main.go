// Package main implements the daqstream binary: a UDP acquisition input
// feeding a multi-channel circular sample buffer that a fixed-rate control
// cycle drains into NATS and WebSocket sinks.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/c360/daqstream/config"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "daqstream"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	cliCfg, err := parseFlags(fs, args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp(fs)
		return nil
	}

	logger := setupLogger(os.Stdout, cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := config.NewLoader().Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.PrintConfig {
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		_, err = os.Stdout.Write(data)
		return err
	}
	if cliCfg.Validate {
		logger.Info("Configuration is valid", "config_path", cliCfg.ConfigPath)
		return nil
	}

	logger.Info("Starting daqstream",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"buffer_bytes", cfg.Buffer.BufferLength(),
		"read_unit_bytes", cfg.Buffer.SingleBufferLength(),
		"cycle_period", cfg.Cycle.Period)

	application, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.start(ctx); err != nil {
		_ = application.stop(cliCfg.ShutdownTimeout)
		return err
	}
	logger.Info("daqstream started", "input", application.input.Addr())

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	if err := application.stop(cliCfg.ShutdownTimeout); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("daqstream shutdown complete")
	return nil
}
