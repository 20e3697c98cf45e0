// Package pairing coordinates OS virtual-port pairs through an external
// provider. Pair state is externally owned; the coordinator caches the last
// listing, refreshes it reactively, and never assumes authority over pairs
// it did not create itself.
package pairing

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/thedongcc/Tcom-sub002/internal/event"
	"github.com/thedongcc/Tcom-sub002/internal/fault"
	"github.com/thedongcc/Tcom-sub002/internal/logging"
	"github.com/thedongcc/Tcom-sub002/internal/metrics"
)

const (
	// EventPairsChanged is published whenever the cached listing changes.
	EventPairsChanged = "pairs_changed"

	// DefaultSuggestFrom and DefaultSuggestTo bound the numeric scan for
	// free pair names.
	DefaultSuggestFrom = 10
	DefaultSuggestTo   = 99

	defaultRefreshInterval = 2 * time.Second
	defaultRefreshBurst    = 3
)

// PairInfo describes one virtual-port pair as the external tool reports it.
type PairInfo struct {
	ID    string `json:"id"`
	PortA string `json:"portA"`
	PortB string `json:"portB"`
}

// Provider is the pluggable backend that actually owns pair state.
type Provider interface {
	List(ctx context.Context) ([]PairInfo, error)
	Create(ctx context.Context, portA, portB string) (PairInfo, error)
	Remove(ctx context.Context, pairID string) error
}

// Event is the bus payload for pair-listing changes.
type Event struct {
	EventType  string     `json:"type"`
	Pairs      []PairInfo `json:"pairs"`
	OccurredAt time.Time  `json:"occurredAt"`
}

func (e Event) Type() string { return e.EventType }

func (e Event) Timestamp() time.Time { return e.OccurredAt }

type CoordinatorOptions struct {
	Provider Provider
	// PhysicalPorts supplies currently present physical port names so
	// suggestions and validation avoid them. Nil skips the check.
	PhysicalPorts func(ctx context.Context) ([]string, error)
	// PortPrefix is the name prefix for suggested pairs.
	PortPrefix  string
	SuggestFrom int
	SuggestTo   int
	// RefreshInterval and RefreshBurst bound how often reactive refreshes
	// may hit the external tool.
	RefreshInterval time.Duration
	RefreshBurst    int
	Logger          *logging.Logger
	Metrics         *metrics.Registry
}

// Coordinator serves pair listings from a cache that is refreshed
// reactively: when the feature is enabled, after create/remove, and on
// explicit request. A token bucket bounds refresh bursts; a clamped refresh
// keeps serving the cache.
type Coordinator struct {
	provider Provider
	physical func(ctx context.Context) ([]string, error)
	prefix   string
	from, to int
	limiter  *rate.Limiter
	logger   *logging.Logger
	metrics  *metrics.Registry
	bus      *event.Bus[Event]

	mu      sync.Mutex
	enabled bool
	pairs   []PairInfo
}

func NewCoordinator(options CoordinatorOptions) *Coordinator {
	prefix := options.PortPrefix
	if prefix == "" {
		prefix = "COM"
	}
	from := options.SuggestFrom
	if from <= 0 {
		from = DefaultSuggestFrom
	}
	to := options.SuggestTo
	if to < from {
		to = DefaultSuggestTo
	}
	interval := options.RefreshInterval
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	burst := options.RefreshBurst
	if burst <= 0 {
		burst = defaultRefreshBurst
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	m := options.Metrics
	if m == nil {
		m = metrics.Default
	}
	return &Coordinator{
		provider: options.Provider,
		physical: options.PhysicalPorts,
		prefix:   prefix,
		from:     from,
		to:       to,
		limiter:  rate.NewLimiter(rate.Every(interval), burst),
		logger:   logger,
		metrics:  m,
		bus: event.NewBus[Event](event.BusOptions{
			Name:     "pairs",
			Logger:   logger,
			Registry: m,
		}),
	}
}

// Enabled reports whether the pairing feature can serve requests.
func (c *Coordinator) Enabled() bool {
	if c == nil || c.provider == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// SetEnabled toggles the feature. Turning it on refreshes the listing once.
func (c *Coordinator) SetEnabled(ctx context.Context, enabled bool) {
	c.mu.Lock()
	was := c.enabled
	c.enabled = enabled
	c.mu.Unlock()
	if enabled && !was {
		if err := c.Refresh(ctx); err != nil {
			c.logger.Warn("pair listing refresh failed", map[string]string{
				"error": err.Error(),
			})
		}
	}
}

// Pairs returns the cached listing.
func (c *Coordinator) Pairs() []PairInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]PairInfo(nil), c.pairs...)
}

// Bus carries pair-listing change events.
func (c *Coordinator) Bus() *event.Bus[Event] {
	if c == nil {
		return nil
	}
	return c.bus
}

func (c *Coordinator) Close() {
	c.bus.Close()
}

// Refresh re-reads the listing from the provider. Calls beyond the rate
// budget are skipped and the cache keeps serving.
func (c *Coordinator) Refresh(ctx context.Context) error {
	if !c.Enabled() {
		return fault.Configf("port pairing is disabled")
	}
	if !c.limiter.Allow() {
		c.logger.Debug("pair refresh clamped", nil)
		return nil
	}
	pairs, err := c.provider.List(ctx)
	if err != nil {
		c.metrics.IncToolError()
		return err
	}
	c.replacePairs(pairs)
	return nil
}

func (c *Coordinator) replacePairs(pairs []PairInfo) {
	c.mu.Lock()
	changed := !equalPairs(c.pairs, pairs)
	c.pairs = pairs
	c.mu.Unlock()
	if changed {
		c.publish()
	}
}

func (c *Coordinator) publish() {
	c.bus.Publish(Event{
		EventType:  EventPairsChanged,
		Pairs:      c.Pairs(),
		OccurredAt: time.Now().UTC(),
	})
}

// FindPairedPort resolves the other end of the pair containing port from
// the cached listing, refreshing it first.
func (c *Coordinator) FindPairedPort(ctx context.Context, port string) (string, string, error) {
	if err := c.Refresh(ctx); err != nil {
		return "", "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, pair := range c.pairs {
		switch port {
		case pair.PortA:
			return pair.PortB, pair.ID, nil
		case pair.PortB:
			return pair.PortA, pair.ID, nil
		}
	}
	return "", "", nil
}

// Suggest scans the numeric range for the first two consecutive names that
// are neither paired nor present as physical ports.
func (c *Coordinator) Suggest(ctx context.Context) (string, string, error) {
	if err := c.Refresh(ctx); err != nil {
		return "", "", err
	}
	taken, err := c.takenPorts(ctx)
	if err != nil {
		return "", "", err
	}
	for n := c.from; n < c.to; n++ {
		portA := c.prefix + strconv.Itoa(n)
		portB := c.prefix + strconv.Itoa(n+1)
		if taken[portA] || taken[portB] {
			continue
		}
		return portA, portB, nil
	}
	return "", "", fault.Configf("no free port pair in %s%d..%s%d", c.prefix, c.from, c.prefix, c.to)
}

// Validate rejects a requested pair that collides with existing pairs or
// physical ports instead of silently retrying elsewhere.
func (c *Coordinator) Validate(ctx context.Context, portA, portB string) error {
	if portA == "" || portB == "" {
		return fault.Configf("both pair ports must be named")
	}
	if portA == portB {
		return fault.Configf("pair ports must differ")
	}
	taken, err := c.takenPorts(ctx)
	if err != nil {
		return err
	}
	for _, port := range []string{portA, portB} {
		if taken[port] {
			return fault.Configf("port %s is already in use", port)
		}
	}
	return nil
}

func (c *Coordinator) takenPorts(ctx context.Context) (map[string]bool, error) {
	taken := make(map[string]bool)
	c.mu.Lock()
	for _, pair := range c.pairs {
		taken[pair.PortA] = true
		taken[pair.PortB] = true
	}
	c.mu.Unlock()
	if c.physical != nil {
		ports, err := c.physical(ctx)
		if err != nil {
			return nil, fmt.Errorf("list physical ports: %w", err)
		}
		for _, port := range ports {
			taken[port] = true
		}
	}
	return taken, nil
}

// CreatePair validates and creates a pair, then reconciles the cache.
func (c *Coordinator) CreatePair(ctx context.Context, portA, portB string) (PairInfo, error) {
	if !c.Enabled() {
		return PairInfo{}, fault.Configf("port pairing is disabled")
	}
	if err := c.Validate(ctx, portA, portB); err != nil {
		return PairInfo{}, err
	}
	pair, err := c.provider.Create(ctx, portA, portB)
	if err != nil {
		c.metrics.IncToolError()
		return PairInfo{}, err
	}
	c.metrics.IncPairCreated()
	c.logger.Info("pair created", map[string]string{
		"pair":  pair.ID,
		"portA": pair.PortA,
		"portB": pair.PortB,
	})

	c.mu.Lock()
	c.pairs = append(c.pairs, pair)
	c.mu.Unlock()
	c.publish()
	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn("pair listing refresh failed", map[string]string{
			"error": err.Error(),
		})
	}
	return pair, nil
}

// RemovePair removes a pair and reconciles the cache.
func (c *Coordinator) RemovePair(ctx context.Context, pairID string) error {
	if c == nil || c.provider == nil {
		return fault.Configf("port pairing is disabled")
	}
	if err := c.provider.Remove(ctx, pairID); err != nil {
		c.metrics.IncToolError()
		return err
	}
	c.metrics.IncPairRemoved()
	c.logger.Info("pair removed", map[string]string{"pair": pairID})

	c.mu.Lock()
	kept := c.pairs[:0]
	for _, pair := range c.pairs {
		if pair.ID != pairID {
			kept = append(kept, pair)
		}
	}
	c.pairs = kept
	c.mu.Unlock()
	c.publish()
	if c.Enabled() {
		if err := c.Refresh(ctx); err != nil {
			c.logger.Warn("pair listing refresh failed", map[string]string{
				"error": err.Error(),
			})
		}
	}
	return nil
}

func equalPairs(a, b []PairInfo) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
