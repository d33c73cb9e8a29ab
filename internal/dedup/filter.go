// Package dedup merges raw page matches into a bounded, deduplicated entry list.
package dedup

import (
	"encoding/binary"

	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash/v2"

	"github.com/JakeFAU/freegame-watcher/internal/harvest"
)

// Filter geometry. 512 bits is 64 bytes regardless of input volume.
const (
	FilterBits   = 512
	FilterRounds = 3
)

// Filter is a fixed-size bloom filter over identifier keys.
// MayContain never returns false for a key that was added.
type Filter struct {
	bits *bitset.BitSet
}

// NewFilter returns an empty filter.
func NewFilter() *Filter {
	return &Filter{bits: bitset.New(FilterBits)}
}

// Add records key in the filter.
func (f *Filter) Add(key harvest.Key) {
	h1, h2 := hashKey(key)
	for i := uint32(0); i < FilterRounds; i++ {
		f.bits.Set(position(h1, h2, i))
	}
}

// MayContain returns false when key is definitely absent.
func (f *Filter) MayContain(key harvest.Key) bool {
	h1, h2 := hashKey(key)
	for i := uint32(0); i < FilterRounds; i++ {
		if !f.bits.Test(position(h1, h2, i)) {
			return false
		}
	}
	return true
}

// Reset clears every bit.
func (f *Filter) Reset() {
	f.bits.ClearAll()
}

func hashKey(key harvest.Key) (uint32, uint32) {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[:4], key.ID)
	buf[4] = byte(key.Kind)
	sum := xxhash.Sum64(buf[:5])
	// h2 is forced odd so successive rounds never collapse onto one bit.
	return uint32(sum), uint32(sum>>32) | 1
}

func position(h1, h2, round uint32) uint {
	return uint((h1 + round*h2) % FilterBits)
}
