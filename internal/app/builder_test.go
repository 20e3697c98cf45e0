package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/thedongcc/Tcom-sub002/internal/config"
	"github.com/thedongcc/Tcom-sub002/internal/pairing"
	"github.com/thedongcc/Tcom-sub002/internal/session"
	"github.com/thedongcc/Tcom-sub002/internal/transport"
	"github.com/thedongcc/Tcom-sub002/internal/workspace"
)

type nopAdapter struct{}

func (nopAdapter) Open(ctx context.Context) error                  { return nil }
func (nopAdapter) Close() error                                    { return nil }
func (nopAdapter) Write(ctx context.Context, payload []byte) error { return nil }

func nopFactory(cfg session.Config, emit transport.EmitFunc) (transport.Adapter, error) {
	return nopAdapter{}, nil
}

func testSettings(t *testing.T) config.Settings {
	t.Helper()
	settings, err := config.LoadSettings("", nil)
	if err != nil {
		t.Fatalf("load default settings: %v", err)
	}
	return settings
}

func buildTestApp(t *testing.T, dir string) *BuildResult {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	result, err := Build(BuildOptions{
		Settings:       testSettings(t),
		WorkspaceDir:   dir,
		AdapterFactory: nopFactory,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		result.Close(ctx)
	})
	return result
}

func TestBuildEmptyWorkspace(t *testing.T) {
	result := buildTestApp(t, t.TempDir())
	if result.Restored != 0 {
		t.Fatalf("restored %d sessions from an empty workspace", result.Restored)
	}
	if result.Registry == nil || result.Controller == nil || result.Pipeline == nil {
		t.Fatalf("incomplete build result: %+v", result)
	}
	if len(result.Registry.List()) != 0 {
		t.Fatalf("registry not empty: %v", result.Registry.List())
	}
}

func TestBuildRestoresPersistedSessions(t *testing.T) {
	dir := t.TempDir()
	store := workspace.NewStore(workspace.StoreOptions{})
	configs := []session.Config{
		{ID: "s-1", Name: "bench meter", Kind: session.KindSerial, Serial: &session.SerialSettings{Path: "/dev/ttyUSB0", BaudRate: 115200}},
		{ID: "s-2", Name: "broker", Kind: session.KindMQTT, MQTT: &session.MQTTSettings{BrokerURL: "tcp://127.0.0.1:1883"}},
	}
	for _, cfg := range configs {
		if err := store.SaveSession(dir, cfg); err != nil {
			t.Fatalf("seed session %q: %v", cfg.Name, err)
		}
	}

	result := buildTestApp(t, dir)
	if result.Restored != 2 {
		t.Fatalf("restored %d sessions, want 2", result.Restored)
	}
	for _, cfg := range configs {
		restored, err := result.Registry.Get(cfg.ID)
		if err != nil {
			t.Fatalf("session %q not restored: %v", cfg.ID, err)
		}
		if restored.Info().State != "idle" {
			t.Fatalf("restored session %q is %q, want idle", cfg.ID, restored.Info().State)
		}
	}
}

func TestBuildRestoredSessionConnects(t *testing.T) {
	dir := t.TempDir()
	store := workspace.NewStore(workspace.StoreOptions{})
	cfg := session.Config{
		ID:     "s-1",
		Name:   "bench meter",
		Kind:   session.KindSerial,
		Serial: &session.SerialSettings{Path: "/dev/ttyUSB0", BaudRate: 9600},
	}
	if err := store.SaveSession(dir, cfg); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	result := buildTestApp(t, dir)
	if err := result.Controller.Connect(context.Background(), "s-1"); err != nil {
		t.Fatalf("connect restored session: %v", err)
	}
	target, err := result.Registry.Get("s-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if state := target.Info().State; state != "connected" {
		t.Fatalf("session state is %q, want connected", state)
	}
}

func TestBuildRemembersWorkspace(t *testing.T) {
	dir := t.TempDir()
	result := buildTestApp(t, dir)
	remembered, err := result.Store.LastWorkspace()
	if err != nil {
		t.Fatalf("last workspace: %v", err)
	}
	if remembered != dir {
		t.Fatalf("remembered %q, want %q", remembered, dir)
	}
}

func TestBuildSelectsExecProvider(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	settings := testSettings(t)
	settings.Pairing.ToolPath = "/opt/com0com/setupc"

	result, err := Build(BuildOptions{
		Settings:       settings,
		WorkspaceDir:   t.TempDir(),
		AdapterFactory: nopFactory,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		result.Close(ctx)
	})

	if _, ok := result.PairProvider.(*pairing.ExecProvider); !ok {
		t.Fatalf("provider is %T, want *pairing.ExecProvider", result.PairProvider)
	}
}

func TestResolveWorkspaceDirPrecedence(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	store := workspace.NewStore(workspace.StoreOptions{})

	explicit := filepath.Join(string(os.PathSeparator), "tmp", "explicit")
	settings := config.Settings{}
	settings.Workspace.Dir = filepath.Join(string(os.PathSeparator), "tmp", "from-settings")

	dir, err := resolveWorkspaceDir(store, BuildOptions{WorkspaceDir: explicit, Settings: settings})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if dir != explicit {
		t.Fatalf("explicit dir lost: %q", dir)
	}

	dir, err = resolveWorkspaceDir(store, BuildOptions{Settings: settings})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if dir != settings.Workspace.Dir {
		t.Fatalf("settings dir lost: %q", dir)
	}

	remembered := t.TempDir()
	if err := store.SetLastWorkspace(remembered); err != nil {
		t.Fatalf("set last workspace: %v", err)
	}
	dir, err = resolveWorkspaceDir(store, BuildOptions{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if dir != remembered {
		t.Fatalf("remembered dir lost: got %q, want %q", dir, remembered)
	}
}
