package langdetect

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/ssciwr/mailcom/internal/logger"
)

// Cache stores detection results across emails (and, with the bbolt
// implementation, across process restarts). Transformer backends make
// detection expensive; identical bodies recur in batch runs, so a per-value
// cache keyed by content hash pays for itself quickly.
//
// All implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the cached detections for key, if present.
	Get(key string) ([]Detection, bool)

	// Set stores detections under key, silently overwriting.
	Set(key string, dets []Detection)

	// Close releases resources held by the cache.
	Close() error
}

// cacheKey derives the cache key for one (backend, text) pair.
func cacheKey(backend, text string) string {
	sum := sha256.Sum256([]byte(backend + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// --- memoryCache -----------------------------------------------------------

// memoryCache is a thread-safe in-memory Cache whose entries last only as
// long as the process. With no cache path configured the CLI runs the router
// without any cache.
type memoryCache struct {
	mu    sync.RWMutex
	store map[string][]Detection
}

// NewMemoryCache returns an unbounded in-memory cache.
func NewMemoryCache() Cache {
	return &memoryCache{store: make(map[string][]Detection)}
}

func (c *memoryCache) Get(key string) ([]Detection, bool) {
	c.mu.RLock()
	v, ok := c.store[key]
	c.mu.RUnlock()
	return v, ok
}

func (c *memoryCache) Set(key string, dets []Detection) {
	c.mu.Lock()
	c.store[key] = dets
	c.mu.Unlock()
}

func (c *memoryCache) Close() error { return nil }

// --- bboltCache ------------------------------------------------------------

const bboltBucket = "lang_detections"

// bboltCache is a Cache backed by an embedded bbolt database so detections
// survive process restarts.
type bboltCache struct {
	db  *bolt.DB
	log *logger.Logger
}

// NewBboltCache opens (or creates) the bbolt database at path and ensures
// the bucket exists.
func NewBboltCache(path string, log *logger.Logger) (Cache, error) {
	if log == nil {
		log = logger.New("langdetect", "info")
	}
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open detection cache %q: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bboltBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create cache bucket: %w", err)
	}
	log.Infof("cache_open", "detection cache at %s", path)
	return &bboltCache{db: db, log: log}, nil
}

func (c *bboltCache) Get(key string) ([]Detection, bool) {
	var raw []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			raw = append(raw, v...)
		}
		return nil
	})
	if err != nil || raw == nil {
		return nil, false
	}
	var dets []Detection
	if err := json.Unmarshal(raw, &dets); err != nil {
		c.log.Warnf("cache_get", "corrupt entry dropped: %v", err)
		return nil, false
	}
	return dets, true
}

func (c *bboltCache) Set(key string, dets []Detection) {
	raw, err := json.Marshal(dets)
	if err != nil {
		return
	}
	if err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return fmt.Errorf("bucket %q not found", bboltBucket)
		}
		return b.Put([]byte(key), raw)
	}); err != nil {
		c.log.Warnf("cache_set", "write failed: %v", err)
	}
}

func (c *bboltCache) Close() error { return c.db.Close() }
