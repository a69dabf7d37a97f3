package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// LayeredCache is a write-through memory cache over a disk cache
type LayeredCache struct {
	memory *MemoryCache
	disk   *DiskCache

	mu     sync.Mutex
	closed bool
}

// NewLayeredCache creates a new layered cache
func NewLayeredCache(memoryTTL time.Duration, diskDir string, diskTTL time.Duration) *LayeredCache {
	return &LayeredCache{
		memory: NewMemoryCache(memoryTTL, 10*time.Minute),
		disk:   NewDiskCache(diskDir, diskTTL),
	}
}

// Open prepares the shared cache for a run. An empty dir means ~/.citationmap/cache.
func Open(dir string, ttl time.Duration) (*LayeredCache, error) {
	if dir == "" {
		d, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return NewLayeredCache(ttl, dir, ttl), nil
}

// DefaultDir returns ~/.citationmap/cache
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("find home directory: %w", err)
	}
	return filepath.Join(home, ".citationmap", "cache"), nil
}

// Get checks memory first, then disk, promoting disk hits
func (c *LayeredCache) Get(key string) ([]byte, bool) {
	if val, found := c.memory.Get(key); found {
		return val, true
	}

	if val, found := c.disk.Get(key); found {
		_ = c.memory.Set(key, val, 0)
		return val, true
	}

	return nil, false
}

// Set writes through to both layers
func (c *LayeredCache) Set(key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return fmt.Errorf("cache closed")
	}

	if err := c.memory.Set(key, value, ttl); err != nil {
		return err
	}
	return c.disk.Set(key, value, ttl)
}

func (c *LayeredCache) Delete(key string) error {
	_ = c.memory.Delete(key)
	return c.disk.Delete(key)
}

func (c *LayeredCache) Clear() error {
	_ = c.memory.Clear()
	return c.disk.Clear()
}

// ClearSource drops every entry of one source from both layers
func (c *LayeredCache) ClearSource(source string) (int, error) {
	_ = c.memory.Clear()
	return c.disk.ClearSource(source)
}

// Stats reports disk contents; memory is a subset of disk
func (c *LayeredCache) Stats() (Stats, error) {
	return c.disk.Stats()
}

// Flush prunes expired disk entries. Writes are already durable.
func (c *LayeredCache) Flush() error {
	removed, err := c.disk.Prune()
	if err != nil {
		return fmt.Errorf("prune cache: %w", err)
	}
	if removed > 0 {
		log.WithField("removed", removed).Debug("pruned expired cache entries")
	}
	return nil
}

// Close flushes the cache and rejects further writes
func (c *LayeredCache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.Flush()
	_ = c.memory.Clear()
	return err
}
