package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Cache defines the interface for caching source responses
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Key builds the cache key for one (source, identifier, query) triple.
// The source name stays readable so entries can be counted and cleared per source.
func Key(source, identifier, query string) string {
	hash := sha256.Sum256([]byte(source + "\x00" + identifier + "\x00" + query))
	return source + "-" + hex.EncodeToString(hash[:16])
}

// SourceOf returns the source prefix of a key built by Key
func SourceOf(key string) string {
	if i := strings.LastIndexByte(key, '-'); i > 0 {
		return key[:i]
	}
	return key
}

// Stats describes what a cache currently holds
type Stats struct {
	Entries  int            `json:"entries"`
	Bytes    int64          `json:"bytes"`
	Expired  int            `json:"expired"`
	BySource map[string]int `json:"by_source"`
}
