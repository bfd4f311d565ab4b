package cart

import "sync/atomic"

// debugAssertions gates the internal consistency checks spec §4.1 calls
// "assertion in debug; benign in release" — Go has no separate debug build
// mode the way the original's assert() did, so a single package constant
// stands in for it. Flip to false to get the original's "benign" behavior
// (the orphaned entry is simply released early instead of panicking).
const debugAssertions = true

// Handle is a scoped, reference-counted accessor over one resident value
// (spec §4.1). Acquiring a Handle (via Cache.FindOrCreate, Cache.Insert, or
// Duplicate) pins the value so the replacement engine will not hand it to
// the releaser while the Handle is live; Release drops that pin.
//
// Handle has no C++-style copy constructor to lean on: Go doesn't run code
// on a plain assignment. Assigning a Handle value (h2 := h1) aliases the
// same pin without acquiring a new one — only one of the aliases should
// ever call Release. Call Duplicate to obtain a second, independently
// releasable Handle over the same value.
type Handle[K comparable, V any] struct {
	eng      *engine[K, V]
	key      K
	value    V
	pinID    uint64
	valid    bool
	released atomic.Bool
}

// emptyHandle reports a miss (e.g. from IsInCache) without pinning anything.
func emptyHandle[K comparable, V any]() Handle[K, V] {
	return Handle[K, V]{}
}

// Value returns the held value. Undefined if IsEmpty.
func (h *Handle[K, V]) Value() V {
	return h.value
}

// Key returns the key this handle was acquired for. Undefined if IsEmpty.
func (h *Handle[K, V]) Key() K {
	return h.key
}

// IsEmpty reports whether this handle holds no entry (a lookup miss that
// the caller asked not to be materialized, e.g. IsInCache).
func (h *Handle[K, V]) IsEmpty() bool {
	return !h.valid
}

// Duplicate yields a second handle pinning the same entry; both must be
// released independently.
func (h *Handle[K, V]) Duplicate() Handle[K, V] {
	if !h.valid {
		return emptyHandle[K, V]()
	}
	h.eng.pins.inc(h.pinID)
	return Handle[K, V]{eng: h.eng, key: h.key, value: h.value, pinID: h.pinID, valid: true}
}

// Release drops this handle's pin. The replacement engine may not release
// the underlying value while any handle's pin is outstanding (spec I8/I9);
// consequently a Release that observes the pin dropping to zero indicates
// the engine's own residency pin was already gone — a programming error
// (double Release on aliased handles, or a Release after the value was
// already force-removed), not a normal code path.
func (h *Handle[K, V]) Release() {
	if !h.valid || h.released.Swap(true) {
		return
	}
	isZero := h.eng.pins.dec(h.pinID, false, func() {
		h.eng.releaseValue(h.key, h.value)
	})
	if isZero && debugAssertions {
		panic("cart: handle release dropped the last pin outside of eviction/remove")
	}
}
