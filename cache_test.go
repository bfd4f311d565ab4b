package cart

import (
	"sync"
	"sync/atomic"
	"testing"
)

func newTestCache(t *testing.T, maxElements int64) (*Cache[string, int], *int64) {
	t.Helper()
	var loads int64
	cfg := DefaultConfig[string, int]()
	cfg.MaxElements = maxElements
	cfg.Load = func(key string) int {
		atomic.AddInt64(&loads, 1)
		return len(key)
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, &loads
}

func TestNewRejectsZeroBounds(t *testing.T) {
	cfg := DefaultConfig[string, int]()
	cfg.Load = func(string) int { return 0 }
	if _, err := New(cfg); err == nil {
		t.Fatal("expected ErrInvalidConfig for zero MaxElements and MaxMemory")
	}
}

func TestNewRejectsNilLoad(t *testing.T) {
	cfg := DefaultConfig[string, int]()
	cfg.MaxElements = 10
	if _, err := New(cfg); err == nil {
		t.Fatal("expected ErrInvalidConfig for nil Load")
	}
}

func TestFindOrCreateMissCallsLoaderOnce(t *testing.T) {
	c, loads := newTestCache(t, 10)

	h1 := c.FindOrCreate("hello")
	if h1.Value() != 5 {
		t.Fatalf("value = %d, want 5", h1.Value())
	}
	h1.Release()

	h2 := c.FindOrCreate("hello")
	if h2.Value() != 5 {
		t.Fatalf("value = %d, want 5", h2.Value())
	}
	h2.Release()

	if got := atomic.LoadInt64(loads); got != 1 {
		t.Fatalf("loader called %d times, want 1", got)
	}
}

func TestFindOrCreateRaceFreeCreate(t *testing.T) {
	c, loads := newTestCache(t, 100)

	const goroutines = 64
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			h := c.FindOrCreate("shared-key")
			defer h.Release()
			if h.Value() != len("shared-key") {
				t.Errorf("value = %d, want %d", h.Value(), len("shared-key"))
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(loads); got != 1 {
		t.Fatalf("loader called %d times across %d racing callers, want exactly 1", got, goroutines)
	}
}

func TestInsertDoesNotAdoptValueOnExistingKey(t *testing.T) {
	c, _ := newTestCache(t, 10)

	h1 := c.Insert("k", 100)
	if h1.Value() != 100 {
		t.Fatalf("value = %d, want 100", h1.Value())
	}
	h1.Release()

	h2 := c.Insert("k", 999)
	if h2.Value() != 100 {
		t.Fatalf("value = %d, want 100 (first insert should win)", h2.Value())
	}
	h2.Release()
}

func TestIsInCacheDoesNotInvokeLoader(t *testing.T) {
	c, loads := newTestCache(t, 10)

	miss := c.IsInCache("absent")
	if !miss.IsEmpty() {
		t.Fatal("expected empty handle for absent key")
	}
	if got := atomic.LoadInt64(loads); got != 0 {
		t.Fatalf("loader called %d times, want 0", got)
	}

	h := c.FindOrCreate("present")
	h.Release()

	hit := c.IsInCache("present")
	if hit.IsEmpty() {
		t.Fatal("expected hit for present key")
	}
	if hit.Value() != len("present") {
		t.Fatalf("value = %d, want %d", hit.Value(), len("present"))
	}
	hit.Release()
}

func TestRemoveIsIdempotent(t *testing.T) {
	c, _ := newTestCache(t, 10)

	h := c.FindOrCreate("x")
	h.Release()

	c.Remove("x")
	c.Remove("x") // must not panic or double-release

	miss := c.IsInCache("x")
	if !miss.IsEmpty() {
		t.Fatal("expected miss after Remove")
	}
}

func TestClearDrainsResidentsAndHistory(t *testing.T) {
	c, _ := newTestCache(t, 4)

	for i := 0; i < 10; i++ {
		h := c.FindOrCreate(string(rune('a' + i)))
		h.Release()
	}

	c.Clear()

	stats := c.Stats()
	if stats.ShortTermCount != 0 || stats.LongTermCount != 0 ||
		stats.ShortHistory != 0 || stats.LongHistory != 0 {
		t.Fatalf("Clear left nonzero sizes: %+v", stats)
	}
	if stats.Target != 0 || stats.HistoryTarget != 0 {
		t.Fatalf("Clear left nonzero adaptive targets: %+v", stats)
	}
}

func TestEvictionReleasesValue(t *testing.T) {
	var released []string
	var mu sync.Mutex

	cfg := DefaultConfig[string, int]()
	cfg.MaxElements = 2
	cfg.Load = func(key string) int { return len(key) }
	cfg.Release = func(key string, _ int) {
		mu.Lock()
		released = append(released, key)
		mu.Unlock()
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, k := range []string{"a", "b", "c", "d", "e"} {
		h := c.FindOrCreate(k)
		h.Release()
	}

	mu.Lock()
	defer mu.Unlock()
	if len(released) == 0 {
		t.Fatal("expected at least one eviction to have released a value")
	}
}

func TestHandleHeldAcrossPressurePreventsEviction(t *testing.T) {
	cfg := DefaultConfig[string, int]()
	cfg.MaxElements = 2
	cfg.Load = func(key string) int { return len(key) }
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pinned := c.FindOrCreate("keep-me")
	defer pinned.Release()

	for _, k := range []string{"a", "b", "c", "d", "e", "f"} {
		h := c.FindOrCreate(k)
		h.Release()
	}

	hit := c.IsInCache("keep-me")
	if hit.IsEmpty() {
		t.Fatal("a held handle must not be evicted out from under its caller")
	}
	hit.Release()
}

func TestDuplicateHandleIndependentRelease(t *testing.T) {
	c, _ := newTestCache(t, 10)

	h1 := c.FindOrCreate("dup")
	h2 := h1.Duplicate()

	h1.Release()

	// h2 still outstanding: the entry must still be resident and safe to
	// read.
	if h2.Value() != len("dup") {
		t.Fatalf("value = %d, want %d", h2.Value(), len("dup"))
	}
	h2.Release()
}
