package cart

import (
	"runtime"
	"sync"

	"github.com/mdiachenko/cart/internal/mathutil"
)

const (
	pinTableShardMultiplier = 4
	pinTableMaxShards       = 256

	// Bounded spin-then-yield schedule for dec(..., waitForLast=true): tight
	// spin for a handful of iterations (cheap when the last handle is about
	// to drop), then cooperative yield, matching the original's
	// tbb::this_tbb_thread::yield() fallback after 100 busy retries.
	pinWaitSpinTries = 100
)

// pinShard is one stripe of the pin table: a plain mutex-guarded map. Pin
// churn is bursty (handle acquire/release, eviction's wait-for-last) rather
// than the primary hot path, so a sharded mutex — the same concurrency
// primitive the teacher reaches for everywhere in shard.go — is preferable
// to anything fancier.
type pinShard struct {
	mu     sync.Mutex
	counts map[uint64]uint32
}

// pinTable is the concurrent mapping from pin identity to outstanding
// reference count described in spec §4.2. Identity collisions only affect
// pin accounting (never safety) since every identity is already the output
// of a real mixer over (key hash, materialization generation).
type pinTable struct {
	shards []*pinShard
	mask   uint64
}

func newPinTable(hint int) *pinTable {
	shardCount := mathutil.NextPowerOf2(hint * pinTableShardMultiplier)
	if shardCount > pinTableMaxShards {
		shardCount = pinTableMaxShards
	}
	if shardCount < 1 {
		shardCount = 1
	}
	t := &pinTable{
		shards: make([]*pinShard, shardCount),
		mask:   uint64(shardCount - 1),
	}
	for i := range t.shards {
		t.shards[i] = &pinShard{counts: make(map[uint64]uint32)}
	}
	return t
}

func (t *pinTable) shardFor(id uint64) *pinShard {
	return t.shards[id&t.mask]
}

// inc is insert-or-increment; the count is always >=1 on return.
func (t *pinTable) inc(id uint64) uint32 {
	s := t.shardFor(id)
	s.mu.Lock()
	c := s.counts[id] + 1
	s.counts[id] = c
	s.mu.Unlock()
	return c
}

// get observes the current count without mutating it, for the demotion
// victim search in step D.3. A zero return means the identity is unknown to
// the table (not currently pinned at all).
func (t *pinTable) get(id uint64) uint32 {
	s := t.shardFor(id)
	s.mu.Lock()
	c := s.counts[id]
	s.mu.Unlock()
	return c
}

// dec decrements id's count. If waitForLast is true and the count is
// currently above 1, dec blocks — bounded spin, then cooperative yield —
// until only the caller's own decrement would remain, i.e. until no
// external handle is still holding the value. This is what lets step D.3's
// demotion safely hand a value to the releaser without racing a reader.
//
// When the count reaches zero, release is invoked exactly once, the entry
// is removed from the table, and dec returns true. dec on an identity the
// table has never seen is a contract violation (spec §7): the caller asked
// to decrement a pin nobody ever acquired.
func (t *pinTable) dec(id uint64, waitForLast bool, release func()) bool {
	s := t.shardFor(id)
	tries := 0
	for {
		s.mu.Lock()
		c, ok := s.counts[id]
		if !ok {
			s.mu.Unlock()
			panic("cart: dec on pin identity with no outstanding pin")
		}

		if waitForLast && c > 1 {
			s.mu.Unlock()
			tries++
			if tries >= pinWaitSpinTries {
				runtime.Gosched()
			}
			continue
		}

		c--
		if c == 0 {
			delete(s.counts, id)
			s.mu.Unlock()
			release()
			return true
		}
		s.counts[id] = c
		s.mu.Unlock()
		return false
	}
}
