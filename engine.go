package cart

import (
	"sync"
	"sync/atomic"
)

// engine is the CART replacement core described in spec §2-§4: two resident
// clocks (T1 recency, T2 frequency), two ghost histories (B1, B2), the
// primary index and pin table that make lookups mostly lock-free, and the
// single structural lock that every insert/demote/evict/rebalance runs
// under. It is unexported — Cache is the public surface.
type engine[K comparable, V any] struct {
	load    LoadFunc[K, V]
	release ReleaseFunc[K, V]
	size    SizeFunc[V]

	maxElements int64
	maxMemory   int64

	index *primaryIndex[K, V]
	pins  *pinTable

	generation atomic.Uint64

	mu sync.Mutex // the structural lock; guards everything below

	t1, t2  *entryList[K, V]
	b1, b2  *entryList[K, V]
	history *historyIndex[K, V]

	p, q              int64
	numShort, numLong int64
	usedMemory        int64
}

func newEngine[K comparable, V any](cfg Config[K, V]) *engine[K, V] {
	hint := 16
	if cfg.MaxElements > 0 {
		hint = int(cfg.MaxElements)
	}
	return &engine[K, V]{
		load:        cfg.Load,
		release:     cfg.Release,
		size:        cfg.Size,
		maxElements: cfg.MaxElements,
		maxMemory:   cfg.MaxMemory,
		index:       newPrimaryIndex[K, V](hint),
		pins:        newPinTable(hint),
		t1:          newEntryList[K, V](),
		t2:          newEntryList[K, V](),
		b1:          newEntryList[K, V](),
		b2:          newEntryList[K, V](),
		history:     newHistoryIndex[K, V](),
	}
}

// releaseValue hands value back to the embedder on Handle.Release's path.
// The engine's own wait-for-last decrements in replace, remove and clear
// call the configured ReleaseFunc (e.release) directly.
func (e *engine[K, V]) releaseValue(key K, value V) {
	e.release(key, value)
}

// findOrCreate implements spec §4.4's find_or_create: a shared-path hit sets
// the reference bit and returns immediately; a miss escalates to the
// exclusive install path with no pre-supplied value, so a true miss calls
// the configured loader.
func (e *engine[K, V]) findOrCreate(key K) Handle[K, V] {
	kh := keyHash(key)
	if v, id, ok := e.index.lookup(key, kh, e.pins, true); ok {
		return Handle[K, V]{eng: e, key: key, value: v, pinID: id, valid: true}
	}
	var zero V
	return e.insertOrInstall(key, kh, zero, false)
}

// insert implements spec §4.4's insert: identical to find_or_create except
// that a miss installs the caller's value instead of invoking the loader. A
// hit on an already-resident key behaves exactly like find_or_create's hit —
// the caller's value is not adopted, since another thread already won.
func (e *engine[K, V]) insert(key K, value V) Handle[K, V] {
	kh := keyHash(key)
	if v, id, ok := e.index.lookup(key, kh, e.pins, true); ok {
		return Handle[K, V]{eng: e, key: key, value: v, pinID: id, valid: true}
	}
	return e.insertOrInstall(key, kh, value, true)
}

// isInCache implements spec §4.4's is_in_cache: a hit-only lookup that pins
// and returns a Handle without marking the reference bit, a miss returns an
// empty Handle, and a loader is never invoked.
func (e *engine[K, V]) isInCache(key K) Handle[K, V] {
	kh := keyHash(key)
	if v, id, ok := e.index.lookup(key, kh, e.pins, false); ok {
		return Handle[K, V]{eng: e, key: key, value: v, pinID: id, valid: true}
	}
	return emptyHandle[K, V]()
}

// insertOrInstall runs steps A-F of spec §4.4's find_or_create/insert miss
// path. hasValue distinguishes the two callers: false means call the
// loader (find_or_create), true means install the caller-supplied value
// (insert).
func (e *engine[K, V]) insertOrInstall(key K, kh uint64, value V, hasValue bool) Handle[K, V] {
	// Step A: win exclusive install rights for key, or adopt whatever
	// another goroutine already published/is publishing.
	slot, existingValue, existingID, existed := e.index.insertExclusive(key, kh, e.pins)
	if existed {
		return Handle[K, V]{eng: e, key: key, value: existingValue, pinID: existingID, valid: true}
	}

	// Step B: materialize the value outside the structural lock — the
	// loader may be slow, and insertExclusive gave us exclusive install
	// rights: other callers for this key block on the pending slot until
	// step F publishes it, so no second load runs.
	var v V
	if hasValue {
		v = value
	} else {
		v = e.load(key)
	}
	gen := e.generation.Add(1)
	id := pinIdentity(kh, gen)
	e.pins.inc(id) // baseline residency pin (spec §4.2/§9)

	// Step C: every subsequent step runs under the structural lock.
	e.mu.Lock()

	effCap := e.maxElements
	if effCap <= 0 {
		effCap = int64(e.t1.len() + e.t2.len())
	}

	ghost, isGhost := e.history.get(key)

	isFull := (e.maxElements > 0 && int64(e.t1.len()+e.t2.len()) >= e.maxElements) ||
		(e.maxMemory > 0 && e.usedMemory >= e.maxMemory)

	if isFull {
		e.replace(effCap)

		// Step D.4: drop one ghost once B1+B2 holds eff_cap+1 or more, but
		// never when this same key is a ghost about to be reused.
		if !isGhost && int64(e.b1.len()+e.b2.len()) >= effCap+1 {
			if int64(e.b1.len()) > maxInt64(0, e.q) || e.b2.len() == 0 {
				if victim := e.b1.popBack(); victim != nil {
					e.history.delete(victim.key)
				}
			} else if victim := e.b2.popBack(); victim != nil {
				e.history.delete(victim.key)
			}
		}
	}

	// Step E: install — either a fresh T1 entry (history miss) or the
	// reused ghost node promoted straight into T1 with long_bit set
	// (history hit), adapting p/q from which ghost list it came from.
	var installed *entry[K, V]
	if !isGhost {
		ne := &entry[K, V]{key: key, kh: kh, value: v, hasValue: true, listBit: true, generation: gen, pinID: id}
		e.numShort++
		e.t1.pushBack(ne)
		installed = ne
	} else if ghost.listBit {
		// B1 hit.
		b1Len := int64(e.b1.len())
		inc := int64(1)
		if b1Len > 0 {
			if r := e.numShort / b1Len; r > 1 {
				inc = r
			}
		}
		e.p = minInt64(e.p+inc, effCap)

		e.b1.remove(ghost)
		e.history.delete(key)

		ghost.kh = kh
		ghost.value = v
		ghost.hasValue = true
		ghost.refBit.Store(false)
		ghost.longBit = true
		ghost.listBit = true
		ghost.generation = gen
		ghost.pinID = id
		e.numLong++
		e.t1.pushBack(ghost)
		installed = ghost
	} else {
		// B2 hit.
		b2Len := int64(e.b2.len())
		inc := int64(1)
		if b2Len > 0 {
			if r := e.numLong / b2Len; r > 1 {
				inc = r
			}
		}
		e.p = maxInt64(e.p-inc, 0)

		e.b2.remove(ghost)
		e.history.delete(key)

		ghost.kh = kh
		ghost.value = v
		ghost.hasValue = true
		ghost.refBit.Store(false)
		ghost.longBit = true
		ghost.listBit = true
		ghost.generation = gen
		ghost.pinID = id
		e.numLong++
		e.t1.pushBack(ghost)
		installed = ghost

		if int64(e.t2.len())+int64(e.b2.len())+int64(e.t1.len())-e.numShort >= effCap {
			e.q = minInt64(e.q+1, 2*effCap-int64(e.t1.len()))
		}
	}

	e.usedMemory += e.size(v)

	// Step F: publish into the primary index so other lookups can see it,
	// then release the structural lock.
	e.index.publish(key, kh, slot, installed)
	e.mu.Unlock()

	// The handle's own pin, independent of the baseline residency pin taken
	// in step B — mirrors the original installing once via IncUsage and
	// again via the returned Handle's constructor (spec §9).
	e.pins.inc(id)
	return Handle[K, V]{eng: e, key: key, value: v, pinID: id, valid: true}
}

// replace runs steps D.1-D.3 of spec §4.4: promote referenced T2 heads back
// to T1, sweep T1 recirculating referenced heads and moving unreferenced
// long heads to T2 (stopping at the first unreferenced short head), then
// demote one unpinned victim (preferring T1 over T2 once |T1| has reached
// the target p) into its ghost list.
func (e *engine[K, V]) replace(effCap int64) {
	// D.1: any T2 head still marked referenced returns to T1 as long-lived.
	for {
		head := e.t2.front()
		if head == nil || !head.refBit.Load() {
			break
		}
		e.t2.remove(head)
		head.refBit.Store(false)
		head.listBit = true
		e.t1.pushBack(head)
		if int64(e.t2.len())+int64(e.b2.len())+int64(e.t1.len())-e.numShort >= effCap {
			e.q = minInt64(e.q+1, 2*effCap-int64(e.t1.len()))
		}
	}

	// D.2: referenced T1 heads are recirculated to the tail (and may be
	// promoted to long); unreferenced long heads move to T2. The sweep stops
	// at the first head that is neither referenced nor long.
	for {
		head := e.t1.front()
		if head == nil {
			break
		}
		if !(head.refBit.Load() || head.longBit) {
			break
		}
		if head.refBit.Load() {
			e.t1.moveToBack(head)
			head.refBit.Store(false)
			if int64(e.t1.len()) >= minInt64(e.p+1, int64(e.b1.len())) && !head.longBit {
				head.longBit = true
				e.numShort--
				e.numLong++
			}
		} else {
			e.t1.remove(head)
			head.refBit.Store(false)
			head.listBit = false
			e.t2.pushBack(head)
			e.q = maxInt64(e.q-1, effCap-int64(e.t1.len()))
		}
	}

	// D.3: demote exactly one unpinned victim, preferring T1 once it has
	// grown at or past target p, else T2. If every candidate is pinned,
	// no demotion happens this pass — a transient overflow spec §6/§9
	// explicitly permits.
	var victim *entry[K, V]
	fromT1 := false
	if int64(e.t1.len()) >= maxInt64(1, e.p) {
		for cur := e.t1.front(); cur != nil; cur = e.t1.nextOf(cur) {
			if e.pins.get(cur.pinID) <= 1 {
				victim = cur
				fromT1 = true
				break
			}
		}
	}
	if victim == nil {
		for cur := e.t2.front(); cur != nil; cur = e.t2.nextOf(cur) {
			if e.pins.get(cur.pinID) <= 1 {
				victim = cur
				break
			}
		}
	}
	if victim == nil {
		return
	}

	if fromT1 {
		e.t1.remove(victim)
	} else {
		e.t2.remove(victim)
	}
	if victim.longBit {
		e.numLong--
	} else {
		e.numShort--
	}

	e.usedMemory -= e.size(victim.value)
	e.index.remove(victim.key, victim.kh)

	victimKey, victimValue := victim.key, victim.value
	e.pins.dec(victim.pinID, true, func() {
		e.release(victimKey, victimValue)
	})

	var zero V
	victim.value = zero
	victim.hasValue = false
	victim.pinID = 0

	if fromT1 {
		victim.listBit = true
		e.b1.pushFront(victim)
	} else {
		victim.listBit = false
		e.b2.pushFront(victim)
	}
	e.history.put(victim.key, victim)
}

// remove implements spec §4.4's remove: force-evicts a resident key without
// leaving a ghost behind. A miss (absent, or already a ghost) is a no-op —
// idempotent by construction.
func (e *engine[K, V]) remove(key K) {
	kh := keyHash(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	ent := e.index.peek(key, kh)
	if ent == nil || !ent.hasValue {
		return
	}

	if ent.listBit {
		e.t1.remove(ent)
	} else {
		e.t2.remove(ent)
	}
	if ent.longBit {
		e.numLong--
	} else {
		e.numShort--
	}

	e.usedMemory -= e.size(ent.value)
	e.index.remove(key, kh)

	entKey, entValue := ent.key, ent.value
	e.pins.dec(ent.pinID, true, func() {
		e.release(entKey, entValue)
	})

	var zero V
	ent.value = zero
	ent.hasValue = false
	ent.pinID = 0
}

// clear implements spec §4.4's clear: drains T1/T2/B1/B2, waiting out any
// outstanding handle on each resident entry before releasing it, and resets
// every adaptive counter to its construction-time zero state.
func (e *engine[K, V]) clear() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for ent := e.t1.popFront(); ent != nil; ent = e.t1.popFront() {
		e.index.remove(ent.key, ent.kh)
		entKey, entValue := ent.key, ent.value
		e.pins.dec(ent.pinID, true, func() {
			e.release(entKey, entValue)
		})
	}
	for ent := e.t2.popFront(); ent != nil; ent = e.t2.popFront() {
		e.index.remove(ent.key, ent.kh)
		entKey, entValue := ent.key, ent.value
		e.pins.dec(ent.pinID, true, func() {
			e.release(entKey, entValue)
		})
	}
	for ent := e.b1.popFront(); ent != nil; ent = e.b1.popFront() {
		e.history.delete(ent.key)
	}
	for ent := e.b2.popFront(); ent != nil; ent = e.b2.popFront() {
		e.history.delete(ent.key)
	}

	e.p, e.q = 0, 0
	e.numShort, e.numLong = 0, 0
	e.usedMemory = 0
}

// stats snapshots the counters behind Cache.Stats. Taken under the
// structural lock so the four sizes and usedMemory are mutually consistent.
func (e *engine[K, V]) stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		ShortTermCount: e.t1.len(),
		LongTermCount:  e.t2.len(),
		ShortHistory:   e.b1.len(),
		LongHistory:    e.b2.len(),
		Target:         e.p,
		HistoryTarget:  e.q,
		UsedMemory:     e.usedMemory,
	}
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
