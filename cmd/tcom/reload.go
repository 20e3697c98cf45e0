package main

import (
	"context"

	"github.com/thedongcc/Tcom-sub002/internal/app"
	"github.com/thedongcc/Tcom-sub002/internal/config"
	"github.com/thedongcc/Tcom-sub002/internal/logging"
	"github.com/thedongcc/Tcom-sub002/internal/pairing"
)

// reloadSettings re-reads the settings file on SIGHUP and applies what can
// change at runtime. A reload that fails to parse keeps the running
// configuration.
func reloadSettings(flags flagsConfig, built *app.BuildResult, logger *logging.Logger) {
	settings, err := loadSettings(flags)
	if err != nil {
		logger.Warn("settings reload failed", map[string]string{
			"error": err.Error(),
		})
		return
	}
	applySettings(built, settings, logger)
	config.Publish(settings)
	logger.Info("settings reloaded", nil)
}

// applySettings pushes reloadable settings into the running components.
// The listen address and workspace require a restart and are left alone.
func applySettings(built *app.BuildResult, settings config.Settings, logger *logging.Logger) {
	if provider, ok := built.PairProvider.(*pairing.ExecProvider); ok {
		if path := settings.Pairing.ToolPath; path != "" && path != provider.ToolPath() {
			provider.SetToolPath(path)
			logger.Info("pairing tool path updated", map[string]string{
				"path": path,
			})
		}
	}
	if kind := providerKind(built.PairProvider); kind != "" && settings.Pairing.Provider != "" && kind != settings.Pairing.Provider {
		logger.Warn("pairing provider change requires restart", map[string]string{
			"running":    kind,
			"configured": settings.Pairing.Provider,
		})
	}
	switch {
	case built.PairProvider == nil && settings.Pairing.Enabled:
		logger.Warn("pairing enabled but no tool was configured at startup; restart to activate", nil)
	case built.PairProvider != nil:
		built.Pairing.SetEnabled(context.Background(), settings.Pairing.Enabled)
	}
}

func providerKind(provider pairing.Provider) string {
	switch provider.(type) {
	case *pairing.ExecProvider:
		return "exec"
	case *pairing.PTYProvider:
		return "pty"
	default:
		return ""
	}
}
