package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thedongcc/Tcom-sub002/internal/api"
	"github.com/thedongcc/Tcom-sub002/internal/app"
	"github.com/thedongcc/Tcom-sub002/internal/config"
	"github.com/thedongcc/Tcom-sub002/internal/logging"
	"github.com/thedongcc/Tcom-sub002/internal/metrics"
	"github.com/thedongcc/Tcom-sub002/internal/version"
	"github.com/thedongcc/Tcom-sub002/internal/workspace"
)

const httpShutdownTimeout = 5 * time.Second

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out, errOut io.Writer) int {
	flags, err := parseFlags(args, errOut)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if flags.ShowVersion {
		if version.Version == "" || version.Version == "dev" {
			fmt.Fprintln(out, "tcom dev")
		} else {
			fmt.Fprintf(out, "tcom version %s\n", version.Version)
		}
		return 0
	}

	settings, err := loadSettings(flags)
	if err != nil {
		fmt.Fprintf(errOut, "load settings: %v\n", err)
		return 1
	}

	level, _ := logging.ParseLevel(settings.Log.Level)
	logBuffer := logging.NewLogBuffer(int(settings.Log.BufferSize))
	logger := logging.NewLogger(logBuffer, level)
	m := metrics.Default
	config.Publish(settings)

	built, err := app.Build(app.BuildOptions{
		Logger:       logger,
		Metrics:      m,
		Settings:     settings,
		WorkspaceDir: flags.Workspace,
	})
	if err != nil {
		logger.Error("startup failed", map[string]string{
			"error": err.Error(),
		})
		return 1
	}

	var stopReconcile func()
	watcher, err := workspace.WatchWorkspace(built.WorkspaceDir, workspace.WatcherOptions{
		Logger:  logger,
		Metrics: m,
	})
	if err != nil {
		logger.Warn("workspace watch unavailable", map[string]string{
			"dir":   built.WorkspaceDir,
			"error": err.Error(),
		})
		watcher = nil
	} else {
		stopReconcile = watchWorkspaceChanges(built, watcher, logger)
	}

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, api.RouterOptions{
		Registry:     built.Registry,
		Controller:   built.Controller,
		Pairing:      built.Pairing,
		Store:        built.Store,
		Logger:       logger,
		Metrics:      m,
		AuthToken:    settings.Server.Token,
		WorkspaceDir: func() string { return built.WorkspaceDir },
		StartedAt:    time.Now().UTC(),
	})
	server := &http.Server{
		Addr:              settings.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stopCtx, requestStop := context.WithCancel(context.Background())
	defer requestStop()
	signalCh := make(chan os.Signal, 2)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signalCh)
	stopSignalWatch := watchSignals(logger, requestStop, func() {
		reloadSettings(flags, built, logger)
	}, signalCh)
	defer stopSignalWatch()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()
	logger.Info("tcom listening", map[string]string{
		"addr":      settings.Server.Addr,
		"workspace": built.WorkspaceDir,
	})

	exitCode := 0
	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", map[string]string{
				"error": err.Error(),
			})
			exitCode = 1
		}
	case <-stopCtx.Done():
	}

	coordinator := newShutdownCoordinator(logger)
	coordinator.Add("http", server.Shutdown)
	coordinator.Add("workspace_watcher", func(ctx context.Context) error {
		if stopReconcile != nil {
			stopReconcile()
		}
		if watcher == nil {
			return nil
		}
		return watcher.Close()
	})
	coordinator.Add("sessions", func(ctx context.Context) error {
		built.Close(ctx)
		return nil
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := coordinator.Run(shutdownCtx); err != nil {
		logger.Warn("shutdown finished with errors", map[string]string{
			"error": err.Error(),
		})
	}
	return exitCode
}
