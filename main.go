// Package main provides a dictation tool that records from the microphone
// until the speaker stops talking, then prints the transcript.
//
// Usage:
//
//	dictation [-config path/to/config.json] [-tune | -tune-interactive | -list-devices | -check-config | -serve]
//
// If -config is not specified, the configuration is read from the user
// configuration directory and created with defaults when missing.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/oszuidwest/zwfm-dictation/internal/config"
	"github.com/oszuidwest/zwfm-dictation/internal/util"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to config file (default: user config directory)")
	showVersion := flag.Bool("version", false, "Print version information, check for updates and exit")
	tune := flag.Bool("tune", false, "Calibrate the silence threshold and save it")
	tuneInteractive := flag.Bool("tune-interactive", false, "Calibrate with prompts and trial recordings")
	listDevices := flag.Bool("list-devices", false, "List audio input devices and exit")
	checkConfig := flag.Bool("check-config", false, "Validate the config file and exit")
	serve := flag.Bool("serve", false, "Run the status server until interrupted; clients start dictations")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	// stdout is reserved for transcripts.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *showVersion {
		printVersion()
		return 0
	}

	if *configPath == "" {
		path, err := config.DefaultPath()
		if err != nil {
			slog.Error("failed to resolve config path", "error", err)
			return 1
		}
		*configPath = path
	}

	slog.Debug("using config file", "path", *configPath)

	cfg := config.New(*configPath)
	if err := cfg.Load(); err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	if *checkConfig {
		snap := cfg.Snapshot()
		if err := snap.CheckPaths(); err != nil {
			slog.Error("config check failed", "path", cfg.Path(), "error", err)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Config OK: %s\n", cfg.Path())
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), util.ShutdownSignals()...)
	defer stop()

	app, err := NewApp(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		return 1
	}
	defer util.SafeCloseFunc(app, "event log")()

	snap := cfg.Snapshot()
	if *serve && !snap.HasServer() {
		slog.Error("-serve requires server.listen in the config file", "path", cfg.Path())
		return 1
	}
	if snap.HasServer() {
		version := NewVersionChecker()
		go version.Run()
		defer version.Stop()

		httpServer := NewServer(cfg, app, version).Start()
		defer shutdownServer(httpServer)
	}

	switch {
	case *listDevices:
		err = runListDevices(app, os.Stdout)
	case *tune:
		err = runTune(ctx, app, cfg, os.Stderr)
	case *tuneInteractive:
		err = runTuneInteractive(ctx, app, cfg, readLines(os.Stdin), os.Stderr)
	case *serve:
		slog.Info("waiting for status clients, press Ctrl-C to exit")
		<-ctx.Done()
	default:
		err = runDictation(ctx, app, cfg, os.Stdout, os.Stderr)
	}

	if err != nil {
		slog.Error("failed", "error", err)
		return 1
	}
	return 0
}

// printVersion logs the build information and whether a newer release exists.
func printVersion() {
	slog.Info("version info", "version", Version, "commit", Commit, "build_time", BuildTime)

	vc := NewVersionChecker()
	ctx, cancel := context.WithTimeout(context.Background(), versionCheckTimeout)
	defer cancel()
	if err := vc.Check(ctx); err != nil {
		slog.Debug("update check failed", "error", err)
		return
	}
	if info := vc.Info(); info.UpdateAvail {
		slog.Info("update available", "latest", info.Latest, "url", "https://github.com/"+githubRepo+"/releases/latest")
	}
}

// shutdownServer stops the status server, waiting briefly for clients.
func shutdownServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		slog.Error("HTTP server shutdown error", "error", err)
	}
}
