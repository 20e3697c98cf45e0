package config

import (
	"os"
	"strconv"
	"strings"
)

// EnvOverrides collects the supported TCOM_* environment variables as
// override entries for LoadSettings. Unset variables contribute nothing;
// malformed boolean values are ignored rather than guessed at.
func EnvOverrides() map[string]any {
	overrides := map[string]any{}

	if addr := strings.TrimSpace(os.Getenv("TCOM_ADDR")); addr != "" {
		overrides["server.addr"] = addr
	}
	if token := os.Getenv("TCOM_TOKEN"); token != "" {
		overrides["server.token"] = token
	}
	if level := strings.TrimSpace(os.Getenv("TCOM_LOG_LEVEL")); level != "" {
		overrides["log.level"] = level
	}
	if dir := strings.TrimSpace(os.Getenv("TCOM_WORKSPACE")); dir != "" {
		overrides["workspace.dir"] = dir
	}
	if raw := strings.TrimSpace(os.Getenv("TCOM_PAIRING_ENABLED")); raw != "" {
		if enabled, err := strconv.ParseBool(raw); err == nil {
			overrides["pairing.enabled"] = enabled
		}
	}
	if provider := strings.TrimSpace(os.Getenv("TCOM_PAIRING_PROVIDER")); provider != "" {
		overrides["pairing.provider"] = provider
	}
	if tool := strings.TrimSpace(os.Getenv("TCOM_PAIRING_TOOL")); tool != "" {
		overrides["pairing.tool-path"] = tool
	}

	return overrides
}
