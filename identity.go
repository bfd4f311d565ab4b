package cart

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// keyHash produces a stable 64-bit hash for a comparable key, used both to
// pick a shard in the primary index / pin table and as the first ingredient
// of a pin identity. String keys are hashed directly; fixed-width integer
// keys are hashed over their little-endian bytes; anything else falls back
// to its default formatting, matching the breadth of key types the teacher's
// own hasher special-cased.
func keyHash[K comparable](key K) uint64 {
	switch k := any(key).(type) {
	case string:
		return xxhash.Sum64String(k)
	case []byte:
		return xxhash.Sum64(k)
	case int:
		return hashUint64(uint64(k))
	case int8:
		return hashUint64(uint64(k))
	case int16:
		return hashUint64(uint64(k))
	case int32:
		return hashUint64(uint64(k))
	case int64:
		return hashUint64(uint64(k))
	case uint:
		return hashUint64(uint64(k))
	case uint8:
		return hashUint64(uint64(k))
	case uint16:
		return hashUint64(uint64(k))
	case uint32:
		return hashUint64(uint64(k))
	case uint64:
		return hashUint64(k)
	default:
		return xxhash.Sum64String(fmt.Sprintf("%v", k))
	}
}

func hashUint64(v uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return xxhash.Sum64(buf[:])
}

// pinIdentity mixes a key's hash with a per-materialization generation
// counter into the 64-bit identity the pin table keys on.
//
// The original C++ source derived this identity as
// HashMurmur3().Set(std::hash<KEY>()(key)).Add(valuePointer) — but its
// "Add" is documented (see design notes) as plain integer addition, and its
// tail-mixing switch falls through without breaks, so the combiner barely
// mixes at all. Using a real avalanche (xxhash over both halves) instead of
// addition is the fix spec'd out: addition of two well-distributed hashes
// is still reasonably distributed, but it's not a mixer, and silent
// fallthrough makes the original worse than it looks.
//
// There is no stable pointer to key off in Go's generic VALUE, since V may
// not be a pointer at all. generation stands in for "the value's allocation
// identity": the engine bumps it once per materialization (loader call or
// caller-supplied Insert), so two incarnations of the same key — an old
// value pending release racing a newly loaded replacement — never collide.
func pinIdentity(kh, generation uint64) uint64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], kh)
	binary.LittleEndian.PutUint64(buf[8:16], generation)
	return xxhash.Sum64(buf[:])
}
