// Package cache provides the persistent transform cache: an in-memory LRU
// tier in front of a content-keyed msgpack store on disk.
//
// Keys are derived from (absolute path, content hash, chain identity), so two
// workers producing the same key always produce the same bytes and writes
// never conflict. Every hit is re-verified against its recorded hashes; a
// mismatch is reported as a recoverable cache corruption and treated as a
// miss.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/conneroisu/splitpack/internal/errors"
)

// Digest is a SHA-256 value.
type Digest [32]byte

// String returns the hex encoding.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Sum hashes data.
func Sum(data []byte) Digest {
	return sha256.Sum256(data)
}

// Combine hashes content followed by each dependency digest in order.
func Combine(content Digest, deps ...Digest) Digest {
	h := sha256.New()
	_, _ = h.Write(content[:])
	for _, d := range deps {
		_, _ = h.Write(d[:])
	}
	var out Digest
	copy(out[:], h.Sum(nil))

	return out
}

// KeyFor derives the cache key for a file's content under a transform chain.
func KeyFor(path string, source Digest, chainIdentity string) Digest {
	h := sha256.New()
	_, _ = h.Write([]byte(path))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(source[:])
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(chainIdentity))
	var out Digest
	copy(out[:], h.Sum(nil))

	return out
}

// Entry is one cached transform result.
type Entry struct {
	Schema     uint16
	Path       string
	SourceHash Digest
	OutputHash Digest
	Code       []byte
	Map        []byte
}

func outputHash(code, sourceMap []byte) Digest {
	return Combine(Sum(code), Sum(sourceMap))
}

// Tier names where a lookup was satisfied.
type Tier string

const (
	TierMiss   Tier = "miss"
	TierMemory Tier = "memory"
	TierDisk   Tier = "disk"
)

// Stats are cumulative counters for one Cache.
type Stats struct {
	MemoryHits  int64
	DiskHits    int64
	Misses      int64
	Corruptions int64
	Writes      int64
}

// Cache is safe for concurrent use.
type Cache struct {
	mem  *lru.Cache[Digest, *Entry]
	disk *DiskStore

	memoryHits  atomic.Int64
	diskHits    atomic.Int64
	misses      atomic.Int64
	corruptions atomic.Int64
	writes      atomic.Int64
}

// New creates a cache holding up to memEntries results in memory. An empty
// dir disables the disk tier.
func New(dir string, memEntries int) (*Cache, error) {
	if memEntries <= 0 {
		memEntries = 1024
	}
	mem, err := lru.New[Digest, *Entry](memEntries)
	if err != nil {
		return nil, err
	}

	c := &Cache{mem: mem}
	if dir != "" {
		disk, err := OpenDiskStore(dir)
		if err != nil {
			return nil, err
		}
		c.disk = disk
	}

	return c, nil
}

// Get looks up key and verifies the entry was produced from source. On a
// verification failure it returns TierMiss and a recoverable
// CacheCorruption error; the caller recomputes.
func (c *Cache) Get(key, source Digest) (*Entry, Tier, error) {
	if e, ok := c.mem.Get(key); ok {
		if err := verify(key, e, source); err != nil {
			c.mem.Remove(key)
			c.corruptions.Add(1)
			c.misses.Add(1)
			return nil, TierMiss, err
		}
		c.memoryHits.Add(1)
		return e, TierMemory, nil
	}

	if c.disk != nil {
		e, ok, err := c.disk.Get(key)
		if err != nil {
			_ = c.disk.Remove(key)
			c.corruptions.Add(1)
			c.misses.Add(1)
			return nil, TierMiss, errors.NewCacheCorruption(key.String(), "unreadable entry: "+err.Error())
		}
		if ok {
			if err := verify(key, e, source); err != nil {
				_ = c.disk.Remove(key)
				c.corruptions.Add(1)
				c.misses.Add(1)
				return nil, TierMiss, err
			}
			c.mem.Add(key, e)
			c.diskHits.Add(1)
			return e, TierDisk, nil
		}
	}

	c.misses.Add(1)

	return nil, TierMiss, nil
}

// Put stores a result in both tiers.
func (c *Cache) Put(key Digest, path string, source Digest, code, sourceMap []byte) (*Entry, error) {
	e := &Entry{
		Schema:     diskSchemaVersion,
		Path:       path,
		SourceHash: source,
		OutputHash: outputHash(code, sourceMap),
		Code:       code,
		Map:        sourceMap,
	}
	c.mem.Add(key, e)
	c.writes.Add(1)

	if c.disk != nil {
		if err := c.disk.Put(key, e); err != nil {
			return e, errors.NewIOError(errors.ErrCodeWriteFailed, "writing cache entry", err)
		}
	}

	return e, nil
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	return Stats{
		MemoryHits:  c.memoryHits.Load(),
		DiskHits:    c.diskHits.Load(),
		Misses:      c.misses.Load(),
		Corruptions: c.corruptions.Load(),
		Writes:      c.writes.Load(),
	}
}

// Purge empties the memory tier. The disk tier is left intact.
func (c *Cache) Purge() {
	c.mem.Purge()
}

// Clear empties both tiers.
func (c *Cache) Clear() error {
	c.mem.Purge()
	if c.disk == nil {
		return nil
	}

	return c.disk.DropAll()
}

func verify(key Digest, e *Entry, source Digest) error {
	if e.Schema != diskSchemaVersion {
		return errors.NewCacheCorruption(key.String(), "schema version mismatch")
	}
	if e.SourceHash != source {
		return errors.NewCacheCorruption(key.String(), "source hash mismatch")
	}
	if outputHash(e.Code, e.Map) != e.OutputHash {
		return errors.NewCacheCorruption(key.String(), "output hash mismatch")
	}

	return nil
}
