// Package config loads application settings from TOML with environment
// overrides, and publishes reloads on a package-level bus so dependents
// react without polling. Session configurations live in the workspace
// store, not here.
package config

import (
	"os"
	"strings"

	"github.com/thedongcc/Tcom-sub002/internal/config/tomlkeys"
)

var defaultsTOML = []byte(`
[server]
addr = "127.0.0.1:8738"
token = ""

[log]
level = "info"
buffer-size = 1000

[session]
log-capacity = 1000
flush-interval-ms = 16
save-debounce-ms = 1000

[pairing]
enabled = false
provider = "exec"
tool-path = ""
suggest-from = 10
suggest-to = 99

[workspace]
dir = ""
`)

type Settings struct {
	Server    ServerSettings
	Log       LogSettings
	Session   SessionSettings
	Pairing   PairingSettings
	Workspace WorkspaceSettings
}

type ServerSettings struct {
	// Addr is the HTTP listen address.
	Addr string
	// Token guards the API when non-empty; an empty token leaves the
	// local-only server open.
	Token string
}

type LogSettings struct {
	Level      string
	BufferSize int64
}

type SessionSettings struct {
	LogCapacity     int64
	FlushIntervalMS int64
	SaveDebounceMS  int64
}

type PairingSettings struct {
	Enabled bool
	// Provider selects the pair backend: "exec" drives the external tool
	// at ToolPath, "pty" opens kernel pseudoterminal pairs (Linux only).
	Provider    string
	ToolPath    string
	SuggestFrom int64
	SuggestTo   int64
}

type WorkspaceSettings struct {
	// Dir overrides the remembered last workspace when set.
	Dir string
}

// LoadSettings reads the TOML file at path (a missing file means defaults),
// then applies overrides on top. Override keys use the same dotted names as
// the file.
func LoadSettings(path string, overrides map[string]any) (Settings, error) {
	defaultsStore, err := tomlkeys.Decode(defaultsTOML)
	if err != nil {
		return Settings{}, err
	}
	defaults := defaultsStore.Flat()
	values := defaultsStore.Flat()

	if strings.TrimSpace(path) != "" {
		payload, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Settings{}, err
			}
		} else {
			store, err := tomlkeys.Decode(payload)
			if err != nil {
				return Settings{}, err
			}
			for key, value := range store.Flat() {
				values[key] = value
			}
		}
	}

	for key, value := range overrides {
		normalized := tomlkeys.NormalizeKey(key)
		if normalized == "" {
			continue
		}
		values[normalized] = value
	}

	settings := Settings{}
	settings.Server.Addr = stringSetting(values, "server.addr", "")
	settings.Server.Token = stringSetting(values, "server.token", "")
	settings.Log.Level = stringSetting(values, "log.level", "")
	settings.Log.BufferSize = intSetting(values, "log.buffer-size", 0)
	settings.Session.LogCapacity = intSetting(values, "session.log-capacity", 0)
	settings.Session.FlushIntervalMS = intSetting(values, "session.flush-interval-ms", 0)
	settings.Session.SaveDebounceMS = intSetting(values, "session.save-debounce-ms", 0)
	settings.Pairing.Enabled = boolSetting(values, "pairing.enabled", boolSetting(defaults, "pairing.enabled", false))
	settings.Pairing.Provider = stringSetting(values, "pairing.provider", "")
	settings.Pairing.ToolPath = stringSetting(values, "pairing.tool-path", "")
	settings.Pairing.SuggestFrom = intSetting(values, "pairing.suggest-from", 0)
	settings.Pairing.SuggestTo = intSetting(values, "pairing.suggest-to", 0)
	settings.Workspace.Dir = stringSetting(values, "workspace.dir", "")

	return normalizeSettings(settings, defaults), nil
}

// normalizeSettings folds unusable values back onto the defaults so callers
// never see an empty listen address or a zero capacity.
func normalizeSettings(settings Settings, defaults map[string]any) Settings {
	if settings.Server.Addr == "" {
		settings.Server.Addr = stringSetting(defaults, "server.addr", "")
	}
	if settings.Log.Level == "" {
		settings.Log.Level = stringSetting(defaults, "log.level", "info")
	}
	if settings.Log.BufferSize <= 0 {
		settings.Log.BufferSize = intSetting(defaults, "log.buffer-size", 0)
	}
	if settings.Session.LogCapacity <= 0 {
		settings.Session.LogCapacity = intSetting(defaults, "session.log-capacity", 0)
	}
	if settings.Session.FlushIntervalMS <= 0 {
		settings.Session.FlushIntervalMS = intSetting(defaults, "session.flush-interval-ms", 0)
	}
	if settings.Session.SaveDebounceMS <= 0 {
		settings.Session.SaveDebounceMS = intSetting(defaults, "session.save-debounce-ms", 0)
	}
	switch strings.ToLower(strings.TrimSpace(settings.Pairing.Provider)) {
	case "exec":
		settings.Pairing.Provider = "exec"
	case "pty":
		settings.Pairing.Provider = "pty"
	default:
		settings.Pairing.Provider = stringSetting(defaults, "pairing.provider", "exec")
	}
	if settings.Pairing.SuggestFrom <= 0 {
		settings.Pairing.SuggestFrom = intSetting(defaults, "pairing.suggest-from", 0)
	}
	if settings.Pairing.SuggestTo < settings.Pairing.SuggestFrom {
		settings.Pairing.SuggestTo = intSetting(defaults, "pairing.suggest-to", 0)
	}
	return settings
}

func intSetting(values map[string]any, key string, fallback int64) int64 {
	value, ok := values[tomlkeys.NormalizeKey(key)]
	if !ok {
		return fallback
	}
	if parsed, ok := asInt64(value); ok {
		return parsed
	}
	return fallback
}

func stringSetting(values map[string]any, key string, fallback string) string {
	value, ok := values[tomlkeys.NormalizeKey(key)]
	if !ok {
		return fallback
	}
	if parsed, ok := value.(string); ok {
		return strings.TrimSpace(parsed)
	}
	return fallback
}

func boolSetting(values map[string]any, key string, fallback bool) bool {
	value, ok := values[tomlkeys.NormalizeKey(key)]
	if !ok {
		return fallback
	}
	if parsed, ok := value.(bool); ok {
		return parsed
	}
	return fallback
}

func asInt64(value any) (int64, bool) {
	switch typed := value.(type) {
	case int64:
		return typed, true
	case int:
		return int64(typed), true
	case int32:
		return int64(typed), true
	case uint64:
		return int64(typed), true
	case uint32:
		return int64(typed), true
	case float64:
		if typed == float64(int64(typed)) {
			return int64(typed), true
		}
	}
	return 0, false
}
