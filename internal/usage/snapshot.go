package usage

import (
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/appwarden/internal/clock"
	"github.com/goodtune/appwarden/internal/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultSnapshotTTL is how long a snapshot stays valid after its last check
	DefaultSnapshotTTL = 15 * time.Minute

	// DefaultSnapshotCacheSize bounds the number of tracked sessions
	DefaultSnapshotCacheSize = 256
)

// SnapshotCache holds session snapshots keyed by app id. A snapshot whose
// LastChecked is older than the TTL is treated as absent and evicted.
type SnapshotCache struct {
	mu    sync.Mutex
	items *lru.Cache[string, Snapshot]
	ttl   time.Duration
	clock clock.Clock
}

// NewSnapshotCache creates a cache bounded to size entries.
func NewSnapshotCache(size int, ttl time.Duration, clk clock.Clock) (*SnapshotCache, error) {
	if size <= 0 {
		size = DefaultSnapshotCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	if clk == nil {
		clk = clock.Real{}
	}
	items, err := lru.New[string, Snapshot](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot cache: %w", err)
	}
	return &SnapshotCache{items: items, ttl: ttl, clock: clk}, nil
}

// Get returns the snapshot for appID if present and fresh.
func (c *SnapshotCache) Get(appID string) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(appID)
}

func (c *SnapshotCache) getLocked(appID string) (Snapshot, bool) {
	snap, ok := c.items.Get(appID)
	if !ok {
		return Snapshot{}, false
	}
	if c.clock.Now().Sub(snap.LastChecked) > c.ttl {
		c.items.Remove(appID)
		c.updateGauge()
		return Snapshot{}, false
	}
	return snap, true
}

// GetOrCompute returns the cached snapshot or stores and returns compute().
func (c *SnapshotCache) GetOrCompute(appID string, compute func() Snapshot) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	if snap, ok := c.getLocked(appID); ok {
		return snap
	}
	snap := compute()
	snap.AppID = appID
	c.items.Add(appID, snap)
	c.updateGauge()
	return snap
}

// Put stores a snapshot.
func (c *SnapshotCache) Put(snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Add(snap.AppID, snap)
	c.updateGauge()
}

// Evict drops the snapshot for appID.
func (c *SnapshotCache) Evict(appID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Remove(appID)
	c.updateGauge()
}

// Clear drops every snapshot.
func (c *SnapshotCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Purge()
	c.updateGauge()
}

// Len returns the number of held snapshots, fresh or not.
func (c *SnapshotCache) Len() int {
	return c.items.Len()
}

func (c *SnapshotCache) updateGauge() {
	metrics.ActiveSessions.Set(float64(c.items.Len()))
}
