// Package integrity computes the corpus version id: a short, deterministic
// snapshot identifier that lets a caller prove two query runs saw the same
// corpus. All functions are pure and deterministic.
package integrity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sync"
	"time"
)

// prefixLen is the number of hex characters kept from the full digest.
const prefixLen = 12

// Snapshot is the set of counters the corpus version id is a pure function of.
type Snapshot struct {
	DocumentCount   int64
	PageCount       int64
	LatestSyncTS    time.Time
	MaxDocUpdatedTS time.Time
}

// ComputeVersionID derives the 12-hex-character corpus version id from a
// Snapshot. Each field is length-prefixed before hashing so that no
// delimiter collision between fields can produce a false match — the same
// technique as a Merkle leaf hash, applied to a flat record instead of a
// tree.
func ComputeVersionID(s Snapshot) string {
	h := sha256.New()
	writeField := func(b []byte) {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b))) //nolint:gosec // field lengths are bounded counters/timestamps
		h.Write(lenBuf[:])
		h.Write(b)
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(s.DocumentCount)) //nolint:gosec // document counts fit in int64 range
	writeField(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(s.PageCount)) //nolint:gosec // page counts fit in int64 range
	writeField(buf[:])
	writeField([]byte(s.LatestSyncTS.UTC().Format(time.RFC3339Nano)))
	writeField([]byte(s.MaxDocUpdatedTS.UTC().Format(time.RFC3339Nano)))

	sum := h.Sum(nil)
	return hex.EncodeToString(sum)[:prefixLen]
}

// Cache memoizes ComputeVersionID results for up to a TTL, since the
// snapshot counters require a database round trip to gather and the version
// id only needs to be fresh to within a few minutes (§3 "cached ≤ 5 minutes").
type Cache struct {
	ttl time.Duration

	mu        sync.Mutex
	computed  string
	computedAt time.Time
}

// NewCache creates a Cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl}
}

// Get returns the cached version id if still fresh, else calls fetch to
// obtain a new Snapshot, recomputes, and caches the result.
func (c *Cache) Get(fetch func() (Snapshot, error)) (string, error) {
	c.mu.Lock()
	if c.computed != "" && time.Since(c.computedAt) < c.ttl {
		defer c.mu.Unlock()
		return c.computed, nil
	}
	c.mu.Unlock()

	snap, err := fetch()
	if err != nil {
		return "", err
	}
	id := ComputeVersionID(snap)

	c.mu.Lock()
	c.computed = id
	c.computedAt = time.Now()
	c.mu.Unlock()

	return id, nil
}
