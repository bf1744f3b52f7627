package discovery

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Cache memoizes NodeableConfigs by label. It is the engine's one shared
// mutable resource: reads are concurrent, writes are exclusive,
// invalidation is explicit (or TTL-based when ttl > 0).
type Cache struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	config   *NodeableConfig
	digest   uint64
	storedAt time.Time
}

// digestOf hashes the shape-relevant fields of cfg into a single value so
// the cache can tell a genuinely changed config from a re-derivation that
// landed on the same shape (discovery is re-run on every TTL expiry, and
// hosts re-derive the same config far more often than they change it).
func digestOf(cfg *NodeableConfig) uint64 {
	var sb strings.Builder
	sb.WriteString(cfg.Label)

	props := append([]string(nil), cfg.Properties...)
	sort.Strings(props)
	for _, p := range props {
		sb.WriteByte('\x00')
		sb.WriteString(p)
	}

	rels := append([]Relationship(nil), cfg.Relationships...)
	sort.Slice(rels, func(i, j int) bool { return rels[i].Type < rels[j].Type })
	for _, r := range rels {
		sb.WriteByte('\x01')
		sb.WriteString(r.Type)
		sb.WriteByte('\x00')
		sb.WriteString(r.TargetLabel)
		sb.WriteByte('\x00')
		sb.WriteString(r.ForeignKey)
	}

	sb.WriteByte('\x02')
	sb.WriteString(cfg.Vector.Collection)
	sb.WriteByte('\x03')
	sb.WriteString(strconv.FormatBool(cfg.AutoSync.Create))
	sb.WriteString(strconv.FormatBool(cfg.AutoSync.Update))
	sb.WriteString(strconv.FormatBool(cfg.AutoSync.Delete))

	return xxhash.Sum64String(sb.String())
}

// NewCache builds a Cache. ttl <= 0 disables time-based expiry (manual Clear
// only).
func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, entries: map[string]cacheEntry{}}
}

// Get returns the cached config for label, if present and not expired.
func (c *Cache) Get(label string) (*NodeableConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[label]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && time.Since(e.storedAt) > c.ttl {
		return nil, false
	}
	return e.config, true
}

// Put stores a config for label, overwriting any prior entry.
func (c *Cache) Put(label string, cfg *NodeableConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[label] = cacheEntry{config: cfg, digest: digestOf(cfg), storedAt: time.Now()}
}

// Digest returns the stored config's content digest for label, if present.
// Two discoveries of the same label that land on the same digest describe
// the same entity shape even if storedAt differs.
func (c *Cache) Digest(label string) (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[label]
	if !ok {
		return 0, false
	}
	return e.digest, true
}

// Snapshot returns the currently cached, unexpired configs by label. The
// returned map is the caller's to keep; the configs themselves stay shared.
func (c *Cache) Snapshot() map[string]*NodeableConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*NodeableConfig, len(c.entries))
	for label, e := range c.entries {
		if c.ttl > 0 && time.Since(e.storedAt) > c.ttl {
			continue
		}
		out[label] = e.config
	}
	return out
}

// Clear invalidates the entry for label, or the whole cache if label is "".
func (c *Cache) Clear(label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if label == "" {
		c.entries = map[string]cacheEntry{}
		return
	}
	delete(c.entries, label)
}

// GetOrDiscover returns the cached config for label, or runs discover and
// caches its result. When a TTL-expired entry's digest matches the
// rediscovered config, the cache keeps serving the existing config value
// and merely refreshes storedAt, instead of handing callers a new pointer
// for an entity shape that hasn't actually changed.
func (c *Cache) GetOrDiscover(label string, discover func() (*NodeableConfig, error)) (*NodeableConfig, error) {
	if cfg, ok := c.Get(label); ok {
		return cfg, nil
	}
	prevDigest, hadPrev := c.Digest(label)

	cfg, err := discover()
	if err != nil {
		return nil, err
	}

	if hadPrev && digestOf(cfg) == prevDigest {
		c.mu.Lock()
		if e, ok := c.entries[label]; ok {
			e.storedAt = time.Now()
			c.entries[label] = e
			c.mu.Unlock()
			return e.config, nil
		}
		c.mu.Unlock()
	}

	c.Put(label, cfg)
	return cfg, nil
}
