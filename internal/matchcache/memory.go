package matchcache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taskora/taskora/pkg/metrics"
)

// MemoryCache is the default single-process Cache: a mutex-guarded map with a
// periodic sweep. The sweep is best-effort cleanup; Get checks TTL itself, so
// correctness never depends on sweep timing.
type MemoryCache struct {
	logger *zap.Logger
	ttl    time.Duration

	mu      sync.Mutex
	entries map[string]*Entry

	stop chan struct{}
	done chan struct{}
}

// NewMemoryCache creates a memory cache and starts its sweep loop
func NewMemoryCache(logger *zap.Logger, ttl, sweepInterval time.Duration) *MemoryCache {
	c := &MemoryCache{
		logger:  logger,
		ttl:     ttl,
		entries: make(map[string]*Entry),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.sweepLoop(sweepInterval)
	return c
}

// Put stores an entry under the token
func (c *MemoryCache) Put(ctx context.Context, token string, entry *Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	c.entries[token] = entry
	metrics.MatchTokensActive.Set(float64(len(c.entries)))
	return nil
}

// Get returns the entry for the token, or nil if absent or expired
func (c *MemoryCache) Get(ctx context.Context, token string) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[token]
	if !ok {
		return nil, nil
	}
	if time.Since(entry.CreatedAt) > c.ttl {
		delete(c.entries, token)
		metrics.MatchTokensActive.Set(float64(len(c.entries)))
		return nil, nil
	}
	return entry, nil
}

// Delete removes the token. Deleting an absent token is not an error.
func (c *MemoryCache) Delete(ctx context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, token)
	metrics.MatchTokensActive.Set(float64(len(c.entries)))
	return nil
}

// Close stops the sweep loop
func (c *MemoryCache) Close() error {
	close(c.stop)
	<-c.done
	return nil
}

func (c *MemoryCache) sweepLoop(interval time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

func (c *MemoryCache) sweep() {
	now := time.Now()
	c.mu.Lock()
	removed := 0
	for token, entry := range c.entries {
		if now.Sub(entry.CreatedAt) > c.ttl {
			delete(c.entries, token)
			removed++
		}
	}
	remaining := len(c.entries)
	c.mu.Unlock()
	metrics.MatchTokensActive.Set(float64(remaining))
	if removed > 0 {
		c.logger.Debug("swept expired match tokens",
			zap.Int("removed", removed), zap.Int("remaining", remaining))
	}
}
