package cart

// Limits is the pair of bounds a Cache[K,V] enforces (spec §4.4 step C's
// eff_cap). Presets below return sizing profiles for common embedding
// shapes; merge one into a Config before calling New.
type Limits struct {
	MaxElements int64
	MaxMemory   int64
}

// TemporaryCacheLimits sizes a short-lived, small working set — scratch
// state for a single request or batch.
func TemporaryCacheLimits() Limits {
	return Limits{MaxElements: 1000}
}

// PersistentCacheLimits sizes a long-lived cache expected to hold a large,
// slowly-churning working set for the life of the process.
func PersistentCacheLimits() Limits {
	return Limits{MaxElements: 100000}
}

// UserCacheLimits sizes a per-user-object cache (profiles, preferences).
func UserCacheLimits() Limits {
	return Limits{MaxElements: 50000}
}

// SessionCacheLimits sizes a session-object cache.
func SessionCacheLimits() Limits {
	return Limits{MaxElements: 25000}
}

// APICacheLimits sizes a cache over API responses, bounding on payload
// bytes rather than entry count since response sizes vary widely.
func APICacheLimits() Limits {
	return Limits{MaxMemory: 64 << 20} // 64 MiB
}

// HighThroughputCacheLimits sizes a large cache in front of a hot storage
// layer — high element count with a generous memory ceiling as backstop.
func HighThroughputCacheLimits() Limits {
	return Limits{MaxElements: 1000000, MaxMemory: 2 << 30} // 2 GiB
}

// LowMemoryCacheLimits sizes a cache for a memory-constrained embedder.
func LowMemoryCacheLimits() Limits {
	return Limits{MaxElements: 500, MaxMemory: 4 << 20} // 4 MiB
}

// WithLimits returns a copy of cfg with MaxElements/MaxMemory overwritten
// by lim, leaving Load/Release/Size as configured.
func WithLimits[K comparable, V any](cfg Config[K, V], lim Limits) Config[K, V] {
	cfg.MaxElements = lim.MaxElements
	cfg.MaxMemory = lim.MaxMemory
	return cfg
}
