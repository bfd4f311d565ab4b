package cart

// Config configures a Cache (spec §6.2). At least one of MaxElements or
// MaxMemory must be positive for the cache to be able to tell when it is
// full (spec §4.4 step D); both may be set to bound on whichever limit is
// hit first.
type Config[K comparable, V any] struct {
	// Load materializes a value for a key on a genuine cache miss. Required.
	Load LoadFunc[K, V]

	// Release returns ownership of an evicted/removed value to the
	// embedder. Defaults to a no-op if nil.
	Release ReleaseFunc[K, V]

	// Size reports a value's current byte footprint, consulted at insert
	// and at demotion. Defaults to counting every value as size 1 (i.e.
	// MaxElements becomes the only meaningful bound) if nil.
	Size SizeFunc[V]

	// MaxElements caps the combined size of T1+T2. Zero disables the
	// count bound.
	MaxElements int64

	// MaxMemory caps the sum of Size(value) over every resident value.
	// Zero disables the memory bound.
	MaxMemory int64
}

// DefaultConfig returns a Config with Release/Size filled in with their
// no-op defaults; Load and at least one of MaxElements/MaxMemory still need
// to be set by the caller.
func DefaultConfig[K comparable, V any]() Config[K, V] {
	return Config[K, V]{
		Release: noopRelease[K, V],
		Size:    unitSize[V],
	}
}

// Stats is a point-in-time snapshot of the replacement engine's internal
// sizes and adaptive targets (spec §4.4's p/q, §3's T1/T2/B1/B2).
type Stats struct {
	ShortTermCount int   // |T1|
	LongTermCount  int   // |T2|
	ShortHistory   int   // |B1|
	LongHistory    int   // |B2|
	Target         int64 // p: adaptive target size for T1
	HistoryTarget  int64 // q: adaptive target size for B1
	UsedMemory     int64
}

// Cache is a concurrent, fixed-capacity CART page cache (spec §1-§2): a
// clock-based adaptive replacement policy over two recency/frequency rings
// with temporal (ghost-history) admission filtering.
type Cache[K comparable, V any] struct {
	eng *engine[K, V]
}

// New constructs a Cache from cfg. Returns ErrInvalidConfig if Load is nil
// or if neither MaxElements nor MaxMemory is positive (spec §7's one
// checked precondition; everything else about the returned Cache is total
// on its inputs).
func New[K comparable, V any](cfg Config[K, V]) (*Cache[K, V], error) {
	if cfg.Load == nil {
		return nil, wrapError("New", ErrInvalidConfig)
	}
	if cfg.MaxElements <= 0 && cfg.MaxMemory <= 0 {
		return nil, wrapError("New", ErrInvalidConfig)
	}
	if cfg.Release == nil {
		cfg.Release = noopRelease[K, V]
	}
	if cfg.Size == nil {
		cfg.Size = unitSize[V]
	}
	return &Cache[K, V]{eng: newEngine(cfg)}, nil
}

// FindOrCreate returns a Handle for key, loading it via the configured
// LoadFunc on a miss (spec §4.4 find_or_create). The caller must Release
// the returned Handle.
func (c *Cache[K, V]) FindOrCreate(key K) Handle[K, V] {
	return c.eng.findOrCreate(key)
}

// Insert installs value for key if key is not already resident, returning
// a Handle either way (spec §4.4 insert). The caller must Release the
// returned Handle.
func (c *Cache[K, V]) Insert(key K, value V) Handle[K, V] {
	return c.eng.insert(key, value)
}

// IsInCache reports whether key is currently resident without invoking the
// loader or marking the reference bit (spec §4.4 is_in_cache). The
// returned Handle may be empty; if not, the caller must Release it.
func (c *Cache[K, V]) IsInCache(key K) Handle[K, V] {
	return c.eng.isInCache(key)
}

// Remove force-evicts key if resident, leaving no ghost behind (spec §4.4
// remove). Idempotent.
func (c *Cache[K, V]) Remove(key K) {
	c.eng.remove(key)
}

// Clear evicts every resident entry and drains both ghost histories,
// resetting the adaptive targets to zero (spec §4.4 clear). Blocks on any
// outstanding handle before releasing the value it guards.
func (c *Cache[K, V]) Clear() {
	c.eng.clear()
}

// Stats returns a point-in-time snapshot of the engine's internal sizes
// and adaptive targets.
func (c *Cache[K, V]) Stats() Stats {
	return c.eng.stats()
}

// Loader returns the LoadFunc this Cache was constructed with, mirroring
// the original's GetInterface() accessor for embedders that need to invoke
// it directly (e.g. pre-warming without going through FindOrCreate).
func (c *Cache[K, V]) Loader() LoadFunc[K, V] {
	return c.eng.load
}
