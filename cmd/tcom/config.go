package main

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/thedongcc/Tcom-sub002/internal/config"
)

type flagsConfig struct {
	ConfigPath  string
	Addr        string
	Token       string
	Workspace   string
	LogLevel    string
	ShowVersion bool
}

func parseFlags(args []string, errOut io.Writer) (flagsConfig, error) {
	fs := flag.NewFlagSet("tcom", flag.ContinueOnError)
	fs.SetOutput(errOut)

	cfg := flagsConfig{}
	fs.StringVar(&cfg.ConfigPath, "config", "", "Path to the TOML settings file (env: TCOM_CONFIG)")
	fs.StringVar(&cfg.Addr, "addr", "", "HTTP listen address (env: TCOM_ADDR)")
	fs.StringVar(&cfg.Token, "token", "", "API auth token (env: TCOM_TOKEN)")
	fs.StringVar(&cfg.Workspace, "workspace", "", "Workspace directory (env: TCOM_WORKSPACE)")
	fs.StringVar(&cfg.LogLevel, "log-level", "", "Log level: debug, info, warning, error (env: TCOM_LOG_LEVEL)")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return flagsConfig{}, err
	}
	if fs.NArg() > 0 {
		fs.Usage()
		return flagsConfig{}, flag.ErrHelp
	}
	return cfg, nil
}

// loadSettings layers defaults, the settings file, TCOM_* environment
// variables, and command line flags, in that order.
func loadSettings(cfg flagsConfig) (config.Settings, error) {
	overrides := config.EnvOverrides()
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		overrides["server.addr"] = addr
	}
	if cfg.Token != "" {
		overrides["server.token"] = cfg.Token
	}
	if dir := strings.TrimSpace(cfg.Workspace); dir != "" {
		overrides["workspace.dir"] = dir
	}
	if level := strings.TrimSpace(cfg.LogLevel); level != "" {
		overrides["log.level"] = level
	}

	path := strings.TrimSpace(cfg.ConfigPath)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("TCOM_CONFIG"))
	}
	if path == "" {
		path = defaultConfigPath()
	}
	return config.LoadSettings(path, overrides)
}

// defaultConfigPath is the per-user settings file; a missing file loads
// defaults.
func defaultConfigPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "tcom", "tcom.toml")
}
