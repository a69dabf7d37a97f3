package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const fileSuffix = ".cache"

// DiskCache is the persistent layer: one JSON file per key
type DiskCache struct {
	dir string
	ttl time.Duration
	now func() time.Time
}

// NewDiskCache creates a new disk cache rooted at dir
func NewDiskCache(dir string, ttl time.Duration) *DiskCache {
	return &DiskCache{
		dir: dir,
		ttl: ttl,
		now: time.Now,
	}
}

type cacheEntry struct {
	Key       string    `json:"key"`
	Data      []byte    `json:"data"`
	StoredAt  time.Time `json:"stored_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (c *DiskCache) Get(key string) ([]byte, bool) {
	entry, err := c.read(c.path(key))
	if err != nil {
		return nil, false
	}

	if c.now().After(entry.ExpiresAt) {
		_ = os.Remove(c.path(key))
		return nil, false
	}

	return entry.Data, true
}

// Set writes the entry to a temp file and renames it into place,
// so concurrent readers never see a partial file.
func (c *DiskCache) Set(key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.ttl
	}

	now := c.now()
	data, err := json.Marshal(cacheEntry{
		Key:       key,
		Data:      value,
		StoredAt:  now,
		ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, "tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path(key)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename cache file: %w", err)
	}

	return nil
}

func (c *DiskCache) Delete(key string) error {
	err := os.Remove(c.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (c *DiskCache) Clear() error {
	return os.RemoveAll(c.dir)
}

// ClearSource removes every entry written for one source
func (c *DiskCache) ClearSource(source string) (int, error) {
	removed := 0
	err := c.walk(func(path, key string, _ cacheEntry, _ int64) error {
		if SourceOf(key) != source {
			return nil
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		removed++
		return nil
	})
	return removed, err
}

// Prune removes expired entries and returns how many were removed
func (c *DiskCache) Prune() (int, error) {
	now := c.now()
	removed := 0
	err := c.walk(func(path, _ string, entry cacheEntry, _ int64) error {
		if !now.After(entry.ExpiresAt) {
			return nil
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		removed++
		return nil
	})
	return removed, err
}

// Stats scans the cache directory
func (c *DiskCache) Stats() (Stats, error) {
	now := c.now()
	stats := Stats{BySource: make(map[string]int)}
	err := c.walk(func(_, key string, entry cacheEntry, size int64) error {
		stats.Entries++
		stats.Bytes += size
		stats.BySource[SourceOf(key)]++
		if now.After(entry.ExpiresAt) {
			stats.Expired++
		}
		return nil
	})
	return stats, err
}

// walk visits every readable entry; unreadable files are skipped
func (c *DiskCache) walk(fn func(path, key string, entry cacheEntry, size int64) error) error {
	dirEntries, err := os.ReadDir(c.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read cache dir: %w", err)
	}

	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), fileSuffix) {
			continue
		}
		path := filepath.Join(c.dir, de.Name())
		entry, err := c.read(path)
		if err != nil {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		key := entry.Key
		if key == "" {
			key = strings.TrimSuffix(de.Name(), fileSuffix)
		}
		if err := fn(path, key, entry, info.Size()); err != nil {
			return err
		}
	}
	return nil
}

func (c *DiskCache) read(path string) (cacheEntry, error) {
	var entry cacheEntry
	data, err := os.ReadFile(path)
	if err != nil {
		return entry, err
	}
	if err := json.Unmarshal(data, &entry); err != nil {
		return entry, fmt.Errorf("decode %s: %w", path, err)
	}
	return entry, nil
}

func (c *DiskCache) path(key string) string {
	return filepath.Join(c.dir, key+fileSuffix)
}
