package cart

import (
	"sync"

	"github.com/mdiachenko/cart/internal/mathutil"
)

const (
	indexShardMultiplier = 4
	indexMaxShards       = 256
)

// indexSlot is the unit of per-key serialization described in spec §4.3: a
// reservation that is either still being installed (entry nil, ready open)
// or published (entry set, ready closed). Holding a slot pending is what
// lets one winning goroutine run the loader and the structural-lock
// replacement pass while every other find_or_create/insert on the same key
// blocks on ready instead of racing ahead with a second loader call.
type indexSlot[K comparable, V any] struct {
	entry *entry[K, V]
	ready chan struct{}
}

type indexShard[K comparable, V any] struct {
	mu   sync.RWMutex
	data map[K]*indexSlot[K, V]
}

// primaryIndex is the concurrent key -> resident-entry mapping of spec
// §4.3. Sharded the same way the teacher shards its item map (shard.go),
// trading a single global lock for many narrow ones so the hot lookup path
// rarely contends with unrelated keys' structural work.
//
// A raw *entry never escapes a shard's lock: every method that can observe a
// resident entry also takes its pin (via the supplied pinTable) before
// releasing the shard lock. That ordering is what keeps a lookup from ever
// reading a pinID/value pair that step D.3's demotion is concurrently
// recycling — demotion always calls remove on this index, under the same
// per-shard lock, strictly before it mutates the entry's pinID/value fields,
// so a lookup either observes the entry fully installed and pins it (which
// then makes the pin table's wait-for-last decrement block the demotion
// until the pin drops) or fails to find it at all.
type primaryIndex[K comparable, V any] struct {
	shards []*indexShard[K, V]
	mask   uint64
}

func newPrimaryIndex[K comparable, V any](hint int) *primaryIndex[K, V] {
	shardCount := mathutil.NextPowerOf2(hint * indexShardMultiplier)
	if shardCount > indexMaxShards {
		shardCount = indexMaxShards
	}
	if shardCount < 1 {
		shardCount = 1
	}
	idx := &primaryIndex[K, V]{
		shards: make([]*indexShard[K, V], shardCount),
		mask:   uint64(shardCount - 1),
	}
	for i := range idx.shards {
		idx.shards[i] = &indexShard[K, V]{data: make(map[K]*indexSlot[K, V])}
	}
	return idx
}

func (idx *primaryIndex[K, V]) shardFor(kh uint64) *indexShard[K, V] {
	return idx.shards[kh&idx.mask]
}

// lookup is the fast lookup path (spec §4.4 find_or_create/is_in_cache step
// 1): a published entry is pinned and its value returned immediately; a key
// with no slot, or one still mid-install, is reported as a miss so the
// caller escalates to insertExclusive rather than observing a half-built
// entry. setRef marks the entry's reference bit on a hit — find_or_create
// and insert do this, is_in_cache does not.
func (idx *primaryIndex[K, V]) lookup(key K, kh uint64, pins *pinTable, setRef bool) (value V, pinID uint64, ok bool) {
	s := idx.shardFor(kh)
	s.mu.RLock()
	slot, found := s.data[key]
	if !found || slot.entry == nil {
		s.mu.RUnlock()
		var zero V
		return zero, 0, false
	}
	e := slot.entry
	if setRef {
		e.refBit.Store(true)
	}
	id := e.pinID
	v := e.value
	pins.inc(id)
	s.mu.RUnlock()
	return v, id, true
}

// insertExclusive implements spec §4.3/§4.4 step A. On a clean miss it
// reserves an empty, pending slot and returns it for the caller to fill via
// publish; the caller now owns exclusive install rights for key. If another
// goroutine is already resident or mid-install, insertExclusive waits for
// any in-flight install to finish and pins that entry instead — this is the
// mechanism behind the race-free-create law in spec §8.
func (idx *primaryIndex[K, V]) insertExclusive(key K, kh uint64, pins *pinTable) (slot *indexSlot[K, V], value V, pinID uint64, existed bool) {
	s := idx.shardFor(kh)
	var zero V
	for {
		s.mu.Lock()
		sl, ok := s.data[key]
		if !ok {
			newSlot := &indexSlot[K, V]{ready: make(chan struct{})}
			s.data[key] = newSlot
			s.mu.Unlock()
			return newSlot, zero, 0, false
		}
		if sl.entry != nil {
			e := sl.entry
			id := e.pinID
			v := e.value
			pins.inc(id)
			s.mu.Unlock()
			return nil, v, id, true
		}
		// Pending install by another goroutine: wait for it to publish, then
		// re-check — it may have published, or (rarely) the key may already
		// have been evicted again by the time we wake, in which case we loop
		// and try to win the reservation ourselves.
		ready := sl.ready
		s.mu.Unlock()
		<-ready

		s.mu.RLock()
		sl2, ok2 := s.data[key]
		if ok2 && sl2.entry != nil {
			e := sl2.entry
			id := e.pinID
			v := e.value
			pins.inc(id)
			s.mu.RUnlock()
			return nil, v, id, true
		}
		s.mu.RUnlock()
	}
}

// publish fills a slot reserved by insertExclusive and wakes any waiters.
func (idx *primaryIndex[K, V]) publish(key K, kh uint64, slot *indexSlot[K, V], e *entry[K, V]) {
	s := idx.shardFor(kh)
	s.mu.Lock()
	slot.entry = e
	s.mu.Unlock()
	close(slot.ready)
}

// remove drops key's slot entirely, e.g. once step D.3 demotes its entry out
// of T1/T2, or remove()/clear() forces it out. Only ever called while the
// replacement engine holds its structural lock (see primaryIndex doc).
func (idx *primaryIndex[K, V]) remove(key K, kh uint64) {
	s := idx.shardFor(kh)
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
}

// peek returns the raw resident entry for key without pinning it. Safe only
// when the caller already holds the replacement engine's structural lock:
// every mutation of an entry's list-owned fields (prev/next/longBit/listBit)
// happens under that same lock, so no concurrent structural op can be
// touching the returned pointer.
func (idx *primaryIndex[K, V]) peek(key K, kh uint64) *entry[K, V] {
	s := idx.shardFor(kh)
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot, ok := s.data[key]
	if !ok {
		return nil
	}
	return slot.entry
}

func (idx *primaryIndex[K, V]) clear() {
	for _, s := range idx.shards {
		s.mu.Lock()
		s.data = make(map[K]*indexSlot[K, V])
		s.mu.Unlock()
	}
}
