package main

import (
	"strconv"

	"github.com/thedongcc/Tcom-sub002/internal/app"
	"github.com/thedongcc/Tcom-sub002/internal/logging"
	"github.com/thedongcc/Tcom-sub002/internal/workspace"
)

// watchWorkspaceChanges picks up session files that appear in the workspace
// behind the tool's back. The tool's own debounced saves also wake the
// watcher; reconcile re-lists and converges, so no self-write suppression
// is attempted.
func watchWorkspaceChanges(built *app.BuildResult, watcher *workspace.Watcher, logger *logging.Logger) func() {
	events, cancel := watcher.Bus().Subscribe()
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case _, ok := <-events:
				if !ok {
					return
				}
				reconcileWorkspace(built, logger)
			}
		}
	}()

	return func() {
		cancel()
		close(done)
	}
}

// reconcileWorkspace restores store-listed sessions the registry does not
// know yet. Sessions are never implicitly destroyed, so files deleted
// externally leave their sessions alone until an explicit delete.
func reconcileWorkspace(built *app.BuildResult, logger *logging.Logger) int {
	configs, err := built.Store.ListSessions(built.WorkspaceDir)
	if err != nil {
		logger.Warn("workspace reconcile failed", map[string]string{
			"dir":   built.WorkspaceDir,
			"error": err.Error(),
		})
		return 0
	}

	added := 0
	for _, cfg := range configs {
		if cfg.ID == "" {
			continue
		}
		if _, err := built.Registry.Get(cfg.ID); err == nil {
			continue
		}
		if _, err := built.Registry.Restore(cfg); err != nil {
			logger.Warn("session restore skipped", map[string]string{
				"name":  cfg.Name,
				"error": err.Error(),
			})
			continue
		}
		added++
	}
	if added > 0 {
		logger.Info("sessions picked up from workspace", map[string]string{
			"count": strconv.Itoa(added),
		})
	}
	return added
}
