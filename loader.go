package cart

// LoadFunc materializes a value for key. Must not fail — spec §6.1 treats
// loader failure as out of scope; an embedder that can fail models it with
// an out-of-band sentinel value of V.
type LoadFunc[K comparable, V any] func(key K) V

// ReleaseFunc returns ownership of value to the embedder; the cache will
// not touch it again afterward.
type ReleaseFunc[K comparable, V any] func(key K, value V)

// SizeFunc reports the current byte size of value. Called only at insert,
// at demotion and at Remove — the cache never assumes size is constant but
// also never polls it outside those events.
type SizeFunc[V any] func(value V) int64

func noopRelease[K comparable, V any](K, V) {}

func unitSize[V any](V) int64 { return 1 }
