package cart

import "testing"

func newTestEngine(t *testing.T, maxElements int64) *engine[string, int] {
	t.Helper()
	cfg := DefaultConfig[string, int]()
	cfg.MaxElements = maxElements
	cfg.Load = func(key string) int { return len(key) }
	return newEngine(cfg)
}

// insertAndRelease installs key through the public path and releases the
// handle immediately, leaving only the engine's own baseline residency pin
// outstanding — the shape every other test in this file relies on to let
// demotions proceed without blocking on an externally-held handle.
func insertAndRelease[K comparable, V any](e *engine[K, V], key K) {
	h := e.findOrCreate(key)
	h.Release()
}

func TestEngineFreshMissGoesToT1(t *testing.T) {
	e := newTestEngine(t, 10)
	insertAndRelease(e, "a")

	if e.t1.len() != 1 || e.t2.len() != 0 {
		t.Fatalf("t1=%d t2=%d, want t1=1 t2=0", e.t1.len(), e.t2.len())
	}
}

func TestEngineGhostHitPromotesToT1Long(t *testing.T) {
	e := newTestEngine(t, 2)

	// Fill past capacity so "a" gets demoted into B1 as a ghost.
	insertAndRelease(e, "a")
	insertAndRelease(e, "b")
	insertAndRelease(e, "c")

	if e.b1.len() == 0 {
		t.Fatal("expected a ghost in B1 after demoting past capacity")
	}
	var ghostKey string
	for cur := e.b1.front(); cur != nil; cur = e.b1.nextOf(cur) {
		ghostKey = cur.key
		break
	}
	if ghostKey == "" {
		t.Fatal("could not find a ghost key in B1")
	}

	pBefore := e.p
	insertAndRelease(e, ghostKey) // history hit on B1

	if _, stillGhost := e.history.get(ghostKey); stillGhost {
		t.Fatalf("%q should have left the ghost history on reinstall", ghostKey)
	}
	if e.p < pBefore {
		t.Fatalf("p should not shrink on a B1 hit: before=%d after=%d", pBefore, e.p)
	}

	ent := e.index.peek(ghostKey, keyHash(ghostKey))
	if ent == nil || !ent.hasValue {
		t.Fatalf("%q should be resident after a B1 hit", ghostKey)
	}
	if !ent.longBit {
		t.Fatalf("%q should be marked long-lived after a B1 hit", ghostKey)
	}
}

func TestEngineRemoveTakesNoGhost(t *testing.T) {
	e := newTestEngine(t, 10)
	insertAndRelease(e, "a")

	e.remove("a")

	if _, isGhost := e.history.get("a"); isGhost {
		t.Fatal("remove must not leave a ghost history entry behind")
	}
	if e.index.peek("a", keyHash("a")) != nil {
		t.Fatal("remove must drop the entry from the primary index")
	}
}

func TestEngineMemoryBound(t *testing.T) {
	cfg := DefaultConfig[string, string]()
	cfg.MaxMemory = 10
	cfg.Load = func(key string) string { return key }
	cfg.Size = func(v string) int64 { return int64(len(v)) }
	e := newEngine(cfg)

	for _, k := range []string{"aaa", "bbb", "ccc", "ddd", "eee", "fff", "ggg"} {
		insertAndRelease(e, k)
	}

	// Each insertOrInstall call only checks the bound against the size
	// recorded before that call's own insertion, so usedMemory can stay
	// above MaxMemory after an insert (here it ends at 12) — what matters is
	// that crossing the bound triggers demotions rather than growing without
	// limit.
	if e.b1.len() == 0 && e.b2.len() == 0 {
		t.Fatal("expected at least one demotion once usedMemory crossed MaxMemory")
	}
	if e.t1.len()+e.t2.len() >= 7 {
		t.Fatal("expected some entries to have been evicted, not all 7 still resident")
	}
}

func TestEngineClearResetsAdaptiveState(t *testing.T) {
	e := newTestEngine(t, 2)
	for _, k := range []string{"a", "b", "c", "d"} {
		insertAndRelease(e, k)
	}

	e.clear()

	if e.t1.len() != 0 || e.t2.len() != 0 || e.b1.len() != 0 || e.b2.len() != 0 {
		t.Fatal("clear should empty all four lists")
	}
	if e.p != 0 || e.q != 0 || e.numShort != 0 || e.numLong != 0 || e.usedMemory != 0 {
		t.Fatal("clear should reset every adaptive counter to zero")
	}
}
