// Package app assembles the orchestrator: store, debouncer, registry,
// pipeline, pairing coordinator, and controller, wired in dependency order
// and torn down in reverse.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/thedongcc/Tcom-sub002/internal/config"
	"github.com/thedongcc/Tcom-sub002/internal/logging"
	"github.com/thedongcc/Tcom-sub002/internal/metrics"
	"github.com/thedongcc/Tcom-sub002/internal/pairing"
	"github.com/thedongcc/Tcom-sub002/internal/ports"
	"github.com/thedongcc/Tcom-sub002/internal/session"
	"github.com/thedongcc/Tcom-sub002/internal/workspace"
)

type BuildOptions struct {
	Logger   *logging.Logger
	Metrics  *metrics.Registry
	Settings config.Settings
	// WorkspaceDir skips workspace resolution when set. Otherwise the
	// settings override wins, then the remembered last workspace, then the
	// per-user default directory.
	WorkspaceDir string
	// Store overrides the default workspace store.
	Store *workspace.Store
	// PairProvider overrides provider selection. When nil, a configured
	// tool path yields the exec provider; without one the pairing feature
	// stays dormant.
	PairProvider pairing.Provider
	// AdapterFactory lets tests connect sessions to fake transports.
	AdapterFactory session.AdapterFactory
}

type BuildResult struct {
	Store      *workspace.Store
	Debouncer  *session.Debouncer
	Registry   *session.Registry
	Pipeline   *session.Pipeline
	Pairing    *pairing.Coordinator
	Controller *session.Controller
	// PairProvider is the provider the coordinator was built around; nil
	// when no pairing tool is configured.
	PairProvider pairing.Provider
	WorkspaceDir string
	// Restored counts sessions loaded from the workspace at build time.
	Restored int
}

type BuildError struct {
	Stage string
	Err   error
}

func (e BuildError) Error() string {
	if e.Err == nil {
		return e.Stage
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e BuildError) Unwrap() error {
	return e.Err
}

const (
	StageResolveWorkspace = "resolve_workspace"
	StageRestoreSessions  = "restore_sessions"
)

func Build(options BuildOptions) (*BuildResult, error) {
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	m := options.Metrics
	if m == nil {
		m = metrics.Default
	}

	store := options.Store
	if store == nil {
		store = workspace.NewStore(workspace.StoreOptions{Logger: logger, Metrics: m})
	}

	dir, err := resolveWorkspaceDir(store, options)
	if err != nil {
		return nil, BuildError{Stage: StageResolveWorkspace, Err: err}
	}
	if err := store.SetLastWorkspace(dir); err != nil {
		logger.Warn("remember workspace failed", map[string]string{
			"dir":   dir,
			"error": err.Error(),
		})
	}

	debouncer := session.NewDebouncer(session.DebouncerOptions{
		Store:   store,
		Dir:     dir,
		Window:  time.Duration(options.Settings.Session.SaveDebounceMS) * time.Millisecond,
		Logger:  logger,
		Metrics: m,
	})
	registry := session.NewRegistry(session.RegistryOptions{
		LogCapacity: int(options.Settings.Session.LogCapacity),
		Logger:      logger,
		Metrics:     m,
		Persister:   debouncer,
	})

	configs, err := store.ListSessions(dir)
	if err != nil {
		debouncer.Close()
		registry.Close()
		return nil, BuildError{Stage: StageRestoreSessions, Err: err}
	}
	restored := 0
	for _, cfg := range configs {
		if _, err := registry.Restore(cfg); err != nil {
			logger.Warn("session restore skipped", map[string]string{
				"name":  cfg.Name,
				"error": err.Error(),
			})
			continue
		}
		restored++
	}
	logger.Info("workspace opened", map[string]string{
		"dir":      dir,
		"sessions": strconv.Itoa(restored),
	})

	pipeline := session.NewPipeline(registry, session.PipelineOptions{
		FlushInterval: time.Duration(options.Settings.Session.FlushIntervalMS) * time.Millisecond,
		Logger:        logger,
		Metrics:       m,
	})

	provider := options.PairProvider
	if provider == nil {
		switch options.Settings.Pairing.Provider {
		case "pty":
			ptyProvider, err := pairing.NewPTYProvider(logger)
			if err != nil {
				logger.Warn("pty pairs unavailable", map[string]string{
					"error": err.Error(),
				})
			} else {
				provider = ptyProvider
			}
		default:
			if toolPath := strings.TrimSpace(options.Settings.Pairing.ToolPath); toolPath != "" {
				provider = pairing.NewExecProvider(toolPath, logger)
			}
		}
	}
	coordinator := pairing.NewCoordinator(pairing.CoordinatorOptions{
		Provider: provider,
		PhysicalPorts: func(ctx context.Context) ([]string, error) {
			return ports.Paths()
		},
		SuggestFrom: int(options.Settings.Pairing.SuggestFrom),
		SuggestTo:   int(options.Settings.Pairing.SuggestTo),
		Logger:      logger,
		Metrics:     m,
	})
	if options.Settings.Pairing.Enabled && provider != nil {
		coordinator.SetEnabled(context.Background(), true)
	}

	controller := session.NewController(registry, pipeline, session.ControllerOptions{
		Pairing: coordinator,
		Factory: options.AdapterFactory,
		Logger:  logger,
		Metrics: m,
	})

	return &BuildResult{
		Store:        store,
		Debouncer:    debouncer,
		Registry:     registry,
		Pipeline:     pipeline,
		Pairing:      coordinator,
		Controller:   controller,
		PairProvider: provider,
		WorkspaceDir: dir,
		Restored:     restored,
	}, nil
}

// Close disconnects every session and releases the components in reverse
// build order. Pending log batches and debounced saves are flushed, not
// dropped.
func (r *BuildResult) Close(ctx context.Context) {
	if r == nil {
		return
	}
	if r.Controller != nil {
		r.Controller.DisconnectAll(ctx)
	}
	if r.Pipeline != nil {
		r.Pipeline.Close()
	}
	if r.Debouncer != nil {
		r.Debouncer.Close()
	}
	if r.Pairing != nil {
		r.Pairing.Close()
	}
	if r.Registry != nil {
		r.Registry.Close()
	}
}

func resolveWorkspaceDir(store *workspace.Store, options BuildOptions) (string, error) {
	if dir := strings.TrimSpace(options.WorkspaceDir); dir != "" {
		return dir, nil
	}
	if dir := strings.TrimSpace(options.Settings.Workspace.Dir); dir != "" {
		return dir, nil
	}
	if dir, err := store.LastWorkspace(); err == nil && strings.TrimSpace(dir) != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "tcom", "workspace"), nil
}
