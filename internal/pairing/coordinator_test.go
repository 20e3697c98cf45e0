package pairing

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/thedongcc/Tcom-sub002/internal/fault"
	"github.com/thedongcc/Tcom-sub002/internal/metrics"
)

type fakeProvider struct {
	mu      sync.Mutex
	pairs   []PairInfo
	nextID  int
	listErr error

	lists   int
	creates int
	removes int
}

func (p *fakeProvider) List(ctx context.Context) ([]PairInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lists++
	if p.listErr != nil {
		return nil, p.listErr
	}
	return append([]PairInfo(nil), p.pairs...), nil
}

func (p *fakeProvider) Create(ctx context.Context, portA, portB string) (PairInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creates++
	pair := PairInfo{ID: strconv.Itoa(p.nextID), PortA: portA, PortB: portB}
	p.nextID++
	p.pairs = append(p.pairs, pair)
	return pair, nil
}

func (p *fakeProvider) Remove(ctx context.Context, pairID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removes++
	kept := p.pairs[:0]
	for _, pair := range p.pairs {
		if pair.ID != pairID {
			kept = append(kept, pair)
		}
	}
	p.pairs = kept
	return nil
}

func (p *fakeProvider) listCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lists
}

func newTestCoordinator(t *testing.T, provider Provider, physical []string) *Coordinator {
	t.Helper()
	coordinator := NewCoordinator(CoordinatorOptions{
		Provider: provider,
		PhysicalPorts: func(ctx context.Context) ([]string, error) {
			return physical, nil
		},
		RefreshInterval: time.Nanosecond,
		RefreshBurst:    1000,
		Metrics:         &metrics.Registry{},
	})
	t.Cleanup(coordinator.Close)
	coordinator.SetEnabled(context.Background(), true)
	return coordinator
}

func TestCoordinatorDisabledByDefault(t *testing.T) {
	coordinator := NewCoordinator(CoordinatorOptions{
		Provider: &fakeProvider{},
		Metrics:  &metrics.Registry{},
	})
	t.Cleanup(coordinator.Close)

	if coordinator.Enabled() {
		t.Fatalf("expected coordinator to start disabled")
	}
	if err := coordinator.Refresh(context.Background()); fault.ClassOf(err) != fault.ClassConfig {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestCoordinatorWithoutProviderIsDisabled(t *testing.T) {
	coordinator := NewCoordinator(CoordinatorOptions{Metrics: &metrics.Registry{}})
	t.Cleanup(coordinator.Close)

	coordinator.SetEnabled(context.Background(), true)
	if coordinator.Enabled() {
		t.Fatalf("expected coordinator without provider to stay disabled")
	}
}

func TestEnableRefreshesListing(t *testing.T) {
	provider := &fakeProvider{pairs: []PairInfo{{ID: "0", PortA: "COM11", PortB: "COM12"}}}
	coordinator := newTestCoordinator(t, provider, nil)

	pairs := coordinator.Pairs()
	if len(pairs) != 1 || pairs[0].PortA != "COM11" {
		t.Fatalf("unexpected pairs after enable: %+v", pairs)
	}
	if provider.listCount() != 1 {
		t.Fatalf("provider listed %d times, want 1", provider.listCount())
	}

	// Enabling again without a transition does not refresh.
	coordinator.SetEnabled(context.Background(), true)
	if provider.listCount() != 1 {
		t.Fatalf("provider listed %d times after re-enable, want 1", provider.listCount())
	}
}

func TestRefreshClampedByLimiter(t *testing.T) {
	provider := &fakeProvider{}
	coordinator := NewCoordinator(CoordinatorOptions{
		Provider:        provider,
		RefreshInterval: time.Hour,
		RefreshBurst:    1,
		Metrics:         &metrics.Registry{},
	})
	t.Cleanup(coordinator.Close)
	coordinator.SetEnabled(context.Background(), true)

	// The enable consumed the only token; further refreshes keep the cache.
	for i := 0; i < 5; i++ {
		if err := coordinator.Refresh(context.Background()); err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
	}
	if got := provider.listCount(); got != 1 {
		t.Fatalf("provider listed %d times, want 1", got)
	}
}

func TestFindPairedPortResolvesEitherEnd(t *testing.T) {
	provider := &fakeProvider{pairs: []PairInfo{{ID: "3", PortA: "COM11", PortB: "COM12"}}}
	coordinator := newTestCoordinator(t, provider, nil)

	port, pairID, err := coordinator.FindPairedPort(context.Background(), "COM11")
	if err != nil || port != "COM12" || pairID != "3" {
		t.Fatalf("find COM11: %q %q %v", port, pairID, err)
	}
	port, pairID, err = coordinator.FindPairedPort(context.Background(), "COM12")
	if err != nil || port != "COM11" || pairID != "3" {
		t.Fatalf("find COM12: %q %q %v", port, pairID, err)
	}
	port, _, err = coordinator.FindPairedPort(context.Background(), "COM99")
	if err != nil || port != "" {
		t.Fatalf("find COM99: %q %v", port, err)
	}
}

func TestSuggestSkipsPairedAndPhysicalPorts(t *testing.T) {
	provider := &fakeProvider{pairs: []PairInfo{{ID: "0", PortA: "COM10", PortB: "COM11"}}}
	coordinator := newTestCoordinator(t, provider, []string{"COM12"})

	portA, portB, err := coordinator.Suggest(context.Background())
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	// COM10/COM11 are paired, COM12 physical, COM13 would pair with COM12.
	if portA != "COM13" || portB != "COM14" {
		t.Fatalf("suggested %s/%s, want COM13/COM14", portA, portB)
	}
}

func TestSuggestExhaustedRange(t *testing.T) {
	provider := &fakeProvider{}
	coordinator := NewCoordinator(CoordinatorOptions{
		Provider:        provider,
		SuggestFrom:     10,
		SuggestTo:       11,
		RefreshInterval: time.Nanosecond,
		RefreshBurst:    1000,
		PhysicalPorts: func(ctx context.Context) ([]string, error) {
			return []string{"COM10", "COM11"}, nil
		},
		Metrics: &metrics.Registry{},
	})
	t.Cleanup(coordinator.Close)
	coordinator.SetEnabled(context.Background(), true)

	if _, _, err := coordinator.Suggest(context.Background()); fault.ClassOf(err) != fault.ClassConfig {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestCreatePairValidatesCollisions(t *testing.T) {
	provider := &fakeProvider{pairs: []PairInfo{{ID: "0", PortA: "COM10", PortB: "COM11"}}}
	coordinator := newTestCoordinator(t, provider, []string{"COM3"})

	cases := [][2]string{
		{"", "COM20"},
		{"COM20", "COM20"},
		{"COM10", "COM20"},
		{"COM20", "COM3"},
	}
	for _, ports := range cases {
		if _, err := coordinator.CreatePair(context.Background(), ports[0], ports[1]); err == nil {
			t.Fatalf("pair %s/%s accepted, want rejection", ports[0], ports[1])
		}
	}
	if provider.creates != 0 {
		t.Fatalf("provider created %d pairs, want 0", provider.creates)
	}

	pair, err := coordinator.CreatePair(context.Background(), "COM20", "COM21")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if pair.PortA != "COM20" || pair.PortB != "COM21" {
		t.Fatalf("unexpected pair: %+v", pair)
	}
}

func TestRemovePairUpdatesCache(t *testing.T) {
	provider := &fakeProvider{pairs: []PairInfo{
		{ID: "0", PortA: "COM10", PortB: "COM11"},
		{ID: "1", PortA: "COM20", PortB: "COM21"},
	}}
	coordinator := newTestCoordinator(t, provider, nil)

	if err := coordinator.RemovePair(context.Background(), "0"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	pairs := coordinator.Pairs()
	if len(pairs) != 1 || pairs[0].ID != "1" {
		t.Fatalf("unexpected pairs after remove: %+v", pairs)
	}
}

func TestRemovePairWorksWhileDisabled(t *testing.T) {
	provider := &fakeProvider{pairs: []PairInfo{{ID: "0", PortA: "COM10", PortB: "COM11"}}}
	coordinator := newTestCoordinator(t, provider, nil)
	coordinator.SetEnabled(context.Background(), false)

	// A monitor session disconnecting after the feature was turned off must
	// still release its auto-destroy pair.
	if err := coordinator.RemovePair(context.Background(), "0"); err != nil {
		t.Fatalf("remove while disabled: %v", err)
	}
	if provider.removes != 1 {
		t.Fatalf("provider removed %d pairs, want 1", provider.removes)
	}
}

func TestProviderFailureCountsToolError(t *testing.T) {
	registry := &metrics.Registry{}
	provider := &fakeProvider{listErr: fault.Transportf("tool exited 1")}
	coordinator := NewCoordinator(CoordinatorOptions{
		Provider:        provider,
		RefreshInterval: time.Nanosecond,
		RefreshBurst:    1000,
		Metrics:         registry,
	})
	t.Cleanup(coordinator.Close)

	coordinator.SetEnabled(context.Background(), true)

	var out strings.Builder
	if err := registry.WritePrometheus(&out); err != nil {
		t.Fatalf("write prometheus: %v", err)
	}
	if !strings.Contains(out.String(), "tcom_tool_errors_total 1") {
		t.Fatalf("tool error not counted:\n%s", out.String())
	}
}

func TestPairsChangedEventPublished(t *testing.T) {
	provider := &fakeProvider{}
	coordinator := newTestCoordinator(t, provider, nil)
	events, cancel := coordinator.Bus().Subscribe()
	defer cancel()

	if _, err := coordinator.CreatePair(context.Background(), "COM20", "COM21"); err != nil {
		t.Fatalf("create: %v", err)
	}

	select {
	case ev := <-events:
		if ev.EventType != EventPairsChanged || len(ev.Pairs) != 1 {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a pairs event")
	}
}
