package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/thedongcc/Tcom-sub002/internal/fault"
	"github.com/thedongcc/Tcom-sub002/internal/metrics"
)

type persistCall struct {
	op      string
	oldName string
	config  Config
}

type recordingPersister struct {
	mu    sync.Mutex
	calls []persistCall
}

func (p *recordingPersister) Schedule(config Config) {
	p.record(persistCall{op: "schedule", config: config})
}

func (p *recordingPersister) Rename(oldName string, config Config) {
	p.record(persistCall{op: "rename", oldName: oldName, config: config})
}

func (p *recordingPersister) Delete(config Config) {
	p.record(persistCall{op: "delete", config: config})
}

func (p *recordingPersister) record(call persistCall) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
}

func (p *recordingPersister) ops() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ops := make([]string, 0, len(p.calls))
	for _, call := range p.calls {
		ops = append(ops, call.op)
	}
	return ops
}

func (p *recordingPersister) last(t *testing.T) persistCall {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		t.Fatalf("expected persister calls")
	}
	return p.calls[len(p.calls)-1]
}

func newTestRegistry(t *testing.T, persister Persister) *Registry {
	t.Helper()
	registry := NewRegistry(RegistryOptions{
		Metrics:   &metrics.Registry{},
		Persister: persister,
	})
	t.Cleanup(registry.Close)
	return registry
}

func TestCreateAssignsUniqueNames(t *testing.T) {
	registry := newTestRegistry(t, nil)

	names := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		session, err := registry.Create(serialTestConfig("Device", "/dev/ttyUSB0"))
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		names = append(names, session.Name())
	}

	want := []string{"Device", "Device 2", "Device 3"}
	for i, name := range names {
		if name != want[i] {
			t.Fatalf("name %d is %q, want %q", i, name, want[i])
		}
	}
}

func TestCreateDefaultsNameToKind(t *testing.T) {
	registry := newTestRegistry(t, nil)

	session, err := registry.Create(serialTestConfig("", "/dev/ttyUSB0"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if session.Name() != "serial" {
		t.Fatalf("name is %q, want serial", session.Name())
	}
}

func TestCreateAssignsID(t *testing.T) {
	registry := newTestRegistry(t, nil)

	session, err := registry.Create(serialTestConfig("device", "/dev/ttyUSB0"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if session.ID() == "" {
		t.Fatalf("expected a generated id")
	}
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	registry := newTestRegistry(t, nil)

	config := serialTestConfig("device", "/dev/ttyUSB0")
	config.ID = "fixed"
	if _, err := registry.Create(config); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := registry.Create(config); err == nil {
		t.Fatalf("expected duplicate id to be rejected")
	}
}

func TestCreateValidatesKindSettings(t *testing.T) {
	registry := newTestRegistry(t, nil)

	if _, err := registry.Create(Config{Name: "bad", Kind: KindSerial}); err == nil {
		t.Fatalf("expected serial config without settings to be rejected")
	}
	if _, err := registry.Create(Config{Name: "bad", Kind: Kind("bogus")}); err == nil {
		t.Fatalf("expected unknown kind to be rejected")
	}
}

func TestResolveByIDAndName(t *testing.T) {
	registry := newTestRegistry(t, nil)

	session, err := registry.Create(serialTestConfig("bench rig", "/dev/ttyUSB0"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	byID, err := registry.Resolve(session.ID())
	if err != nil || byID.ID() != session.ID() {
		t.Fatalf("resolve by id: %v", err)
	}
	byName, err := registry.Resolve("bench rig")
	if err != nil || byName.ID() != session.ID() {
		t.Fatalf("resolve by name: %v", err)
	}
	if _, err := registry.Resolve("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListOrdersByCreation(t *testing.T) {
	registry := newTestRegistry(t, nil)

	for _, name := range []string{"alpha", "beta", "gamma"} {
		if _, err := registry.Create(serialTestConfig(name, "/dev/ttyUSB0")); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}

	list := registry.List()
	if len(list) != 3 {
		t.Fatalf("listed %d sessions, want 3", len(list))
	}
	for i, want := range []string{"alpha", "beta", "gamma"} {
		if list[i].Name != want {
			t.Fatalf("list[%d] is %q, want %q", i, list[i].Name, want)
		}
	}
}

func TestUpdateConfigPinsIdentity(t *testing.T) {
	registry := newTestRegistry(t, nil)

	session, err := registry.Create(serialTestConfig("device", "/dev/ttyUSB0"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	next := session.Config()
	next.Kind = KindMQTT
	if err := registry.UpdateConfig(session.ID(), next); fault.ClassOf(err) != fault.ClassConfig {
		t.Fatalf("expected config error for kind change, got %v", err)
	}

	next = session.Config()
	next.Name = "other"
	if err := registry.UpdateConfig(session.ID(), next); fault.ClassOf(err) != fault.ClassConfig {
		t.Fatalf("expected config error for name change, got %v", err)
	}

	next = session.Config()
	next.Serial.BaudRate = 9600
	if err := registry.UpdateConfig(session.ID(), next); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := session.Config().Serial.BaudRate; got != 9600 {
		t.Fatalf("baud rate is %d, want 9600", got)
	}
}

func TestRenameMovesStoreFileImmediately(t *testing.T) {
	persister := &recordingPersister{}
	registry := newTestRegistry(t, persister)

	session, err := registry.Create(serialTestConfig("old", "/dev/ttyUSB0"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	final, err := registry.Rename(session.ID(), "new")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if final != "new" {
		t.Fatalf("final name is %q, want new", final)
	}

	ops := persister.ops()
	want := []string{"schedule", "rename", "schedule"}
	if len(ops) != len(want) {
		t.Fatalf("persister ops %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Fatalf("persister ops %v, want %v", ops, want)
		}
	}
	call := persister.last(t)
	if call.config.Name != "new" {
		t.Fatalf("scheduled config name is %q, want new", call.config.Name)
	}
}

func TestRenameAvoidsCollisions(t *testing.T) {
	registry := newTestRegistry(t, nil)

	if _, err := registry.Create(serialTestConfig("taken", "/dev/ttyUSB0")); err != nil {
		t.Fatalf("create taken: %v", err)
	}
	session, err := registry.Create(serialTestConfig("other", "/dev/ttyUSB0"))
	if err != nil {
		t.Fatalf("create other: %v", err)
	}

	final, err := registry.Rename(session.ID(), "taken")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if final != "taken 2" {
		t.Fatalf("final name is %q, want taken 2", final)
	}

	// Renaming to the current name is a no-op.
	same, err := registry.Rename(session.ID(), "taken 2")
	if err != nil || same != "taken 2" {
		t.Fatalf("self rename: %q, %v", same, err)
	}
}

func TestRenameRejectsEmptyName(t *testing.T) {
	registry := newTestRegistry(t, nil)

	session, err := registry.Create(serialTestConfig("device", "/dev/ttyUSB0"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := registry.Rename(session.ID(), "   "); fault.ClassOf(err) != fault.ClassConfig {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestDeleteFreesName(t *testing.T) {
	persister := &recordingPersister{}
	registry := newTestRegistry(t, persister)

	session, err := registry.Create(serialTestConfig("device", "/dev/ttyUSB0"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := registry.Delete(session.ID()); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if call := persister.last(t); call.op != "delete" {
		t.Fatalf("last persister op is %q, want delete", call.op)
	}

	again, err := registry.Create(serialTestConfig("device", "/dev/ttyUSB0"))
	if err != nil {
		t.Fatalf("recreate: %v", err)
	}
	if again.Name() != "device" {
		t.Fatalf("name is %q, want device reused", again.Name())
	}

	if err := registry.Delete("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRestoreDoesNotSchedule(t *testing.T) {
	persister := &recordingPersister{}
	registry := newTestRegistry(t, persister)

	config := serialTestConfig("device", "/dev/ttyUSB0")
	config.ID = "restored"
	if _, err := registry.Restore(config); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := len(persister.ops()); got != 0 {
		t.Fatalf("persister called %d times on restore, want 0", got)
	}
}

func nextEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a session event")
		return Event{}
	}
}

func TestLifecycleEventsPublished(t *testing.T) {
	registry := newTestRegistry(t, nil)
	events, cancel := registry.EventBus().Subscribe()
	defer cancel()

	session, err := registry.Create(serialTestConfig("device", "/dev/ttyUSB0"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ev := nextEvent(t, events)
	if ev.EventType != EventCreated || ev.SessionID != session.ID() {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.State != "idle" {
		t.Fatalf("event state is %q, want idle", ev.State)
	}

	if _, err := registry.Rename(session.ID(), "renamed"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	ev = nextEvent(t, events)
	if ev.EventType != EventRenamed || ev.Name != "renamed" {
		t.Fatalf("unexpected rename event: %+v", ev)
	}

	if err := registry.Delete(session.ID()); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ev = nextEvent(t, events)
	if ev.EventType != EventDeleted {
		t.Fatalf("unexpected delete event: %+v", ev)
	}
}
