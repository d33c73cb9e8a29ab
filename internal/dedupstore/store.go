// Package dedupstore keeps a fixed-size record of processed and invalid
// identifiers and persists it as a compressed snapshot.
//
// The backing region is exactly RegionSize bytes, split into 8-byte slots:
//
//	slot 0        header: magic (uint32, host order) | version | processed cursor | invalid cursor | 0
//	slots 1..95   processed set
//	slots 96..127 invalid set
//
// A record slot holds: id (uint32, host order) | kind | set tag | 0 | 0.
// An all-zero slot is empty. Each set is a FIFO ring: once full, the slot at the
// cursor (the oldest record) is overwritten and the cursor advances.
package dedupstore

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/JakeFAU/freegame-watcher/internal/harvest"
)

// Region geometry.
const (
	RegionSize        = 1024
	slotSize          = 8
	slotCount         = RegionSize / slotSize
	ProcessedCapacity = 95
	InvalidCapacity   = slotCount - 1 - ProcessedCapacity

	regionMagic   uint32 = 0x46474453
	regionVersion byte   = 1

	tagProcessed byte = 1
	tagInvalid   byte = 2
)

// Snapshot failures. All are recoverable: the caller keeps running.
var (
	ErrSnapshotSize    = errors.New("snapshot size does not match region size")
	ErrSnapshotCorrupt = errors.New("snapshot stream is corrupt")
	ErrSnapshotReset   = errors.New("snapshot structure invalid; store reset")
)

type ringSet struct {
	tag      byte
	first    int
	capacity int
	cursor   int
	index    map[harvest.Key]int
}

func newRingSet(tag byte, first, capacity int) *ringSet {
	return &ringSet{
		tag:      tag,
		first:    first,
		capacity: capacity,
		index:    make(map[harvest.Key]int, capacity),
	}
}

// Store is the in-memory view of one account's dedup region.
// It is not safe for concurrent use; the owning account serializes access.
type Store struct {
	region    [RegionSize]byte
	processed *ringSet
	invalid   *ringSet
}

// New returns an empty store with an initialized header.
func New() *Store {
	s := &Store{}
	s.Reset()
	return s
}

// Reset clears both sets.
func (s *Store) Reset() {
	s.region = [RegionSize]byte{}
	s.processed = newRingSet(tagProcessed, 1, ProcessedCapacity)
	s.invalid = newRingSet(tagInvalid, 1+ProcessedCapacity, InvalidCapacity)
	s.writeHeader()
}

// AddProcessed records id as processed. It reports whether the store changed.
func (s *Store) AddProcessed(id harvest.GameIdentifier) bool {
	return s.add(s.processed, id.Key())
}

// ContainsProcessed reports whether id was recorded as processed.
func (s *Store) ContainsProcessed(id harvest.GameIdentifier) bool {
	_, ok := s.processed.index[id.Key()]
	return ok
}

// AddInvalid records id as invalid. It reports whether the store changed.
func (s *Store) AddInvalid(id harvest.GameIdentifier) bool {
	return s.add(s.invalid, id.Key())
}

// ContainsInvalid reports whether id was recorded as invalid.
func (s *Store) ContainsInvalid(id harvest.GameIdentifier) bool {
	_, ok := s.invalid.index[id.Key()]
	return ok
}

// Seen reports whether id is in either set.
func (s *Store) Seen(id harvest.GameIdentifier) bool {
	return s.ContainsProcessed(id) || s.ContainsInvalid(id)
}

// Len returns the populations of the processed and invalid sets.
func (s *Store) Len() (processed, invalid int) {
	return len(s.processed.index), len(s.invalid.index)
}

// Processed lists processed identifiers in slot order.
func (s *Store) Processed() []harvest.GameIdentifier {
	return s.list(s.processed)
}

// Invalid lists invalid identifiers in slot order.
func (s *Store) Invalid() []harvest.GameIdentifier {
	return s.list(s.invalid)
}

// Bytes returns a copy of the backing region.
func (s *Store) Bytes() []byte {
	out := make([]byte, RegionSize)
	copy(out, s.region[:])
	return out
}

// Rebuild replaces the store contents with raw after validating its structure.
// A length mismatch leaves the store untouched and returns ErrSnapshotSize.
// Any structural problem resets the store and returns an error wrapping ErrSnapshotReset.
func (s *Store) Rebuild(raw []byte) error {
	if len(raw) != RegionSize {
		return fmt.Errorf("rebuild region: got %d bytes: %w", len(raw), ErrSnapshotSize)
	}
	var region [RegionSize]byte
	copy(region[:], raw)

	processed := newRingSet(tagProcessed, 1, ProcessedCapacity)
	invalid := newRingSet(tagInvalid, 1+ProcessedCapacity, InvalidCapacity)
	if err := validateHeader(region[:slotSize], processed, invalid); err != nil {
		s.Reset()
		return fmt.Errorf("rebuild header: %v: %w", err, ErrSnapshotReset)
	}
	for _, set := range []*ringSet{processed, invalid} {
		if err := loadSet(region[:], set); err != nil {
			s.Reset()
			return fmt.Errorf("rebuild set %d: %v: %w", set.tag, err, ErrSnapshotReset)
		}
	}

	s.region = region
	s.processed = processed
	s.invalid = invalid
	return nil
}

// add refuses unknown kinds; Rebuild would reject the slot.
func (s *Store) add(set *ringSet, key harvest.Key) bool {
	if !key.Kind.Valid() {
		return false
	}
	if _, ok := set.index[key]; ok {
		return false
	}
	slot := set.first + set.cursor
	if len(set.index) == set.capacity {
		delete(set.index, decodeKey(s.slot(slot)))
	}
	encodeSlot(s.slot(slot), key, set.tag)
	set.index[key] = slot
	set.cursor = (set.cursor + 1) % set.capacity
	s.writeHeader()
	return true
}

func (s *Store) list(set *ringSet) []harvest.GameIdentifier {
	out := make([]harvest.GameIdentifier, 0, len(set.index))
	for i := 0; i < set.capacity; i++ {
		b := s.slot(set.first + i)
		if isEmpty(b) {
			continue
		}
		key := decodeKey(b)
		out = append(out, harvest.GameIdentifier{Kind: key.Kind, ID: key.ID, Valid: set.tag == tagProcessed})
	}
	return out
}

func (s *Store) slot(i int) []byte {
	return s.region[i*slotSize : (i+1)*slotSize]
}

func (s *Store) writeHeader() {
	h := s.region[:slotSize]
	binary.NativeEndian.PutUint32(h[0:4], regionMagic)
	h[4] = regionVersion
	h[5] = byte(s.processed.cursor)
	h[6] = byte(s.invalid.cursor)
	h[7] = 0
}

func validateHeader(h []byte, processed, invalid *ringSet) error {
	if got := binary.NativeEndian.Uint32(h[0:4]); got != regionMagic {
		return fmt.Errorf("bad magic %#x", got)
	}
	if h[4] != regionVersion {
		return fmt.Errorf("unsupported version %d", h[4])
	}
	if h[7] != 0 {
		return errors.New("reserved header byte set")
	}
	processed.cursor = int(h[5])
	invalid.cursor = int(h[6])
	if processed.cursor >= processed.capacity || invalid.cursor >= invalid.capacity {
		return errors.New("cursor out of range")
	}
	return nil
}

func loadSet(region []byte, set *ringSet) error {
	filled := 0
	for i := 0; i < set.capacity; i++ {
		slot := set.first + i
		b := region[slot*slotSize : (slot+1)*slotSize]
		if isEmpty(b) {
			continue
		}
		if !harvest.Kind(b[4]).Valid() {
			return fmt.Errorf("slot %d: bad kind %d", slot, b[4])
		}
		if b[5] != set.tag {
			return fmt.Errorf("slot %d: tag %d in wrong set", slot, b[5])
		}
		if b[6] != 0 || b[7] != 0 {
			return fmt.Errorf("slot %d: reserved bytes set", slot)
		}
		key := decodeKey(b)
		if _, dup := set.index[key]; dup {
			return fmt.Errorf("slot %d: duplicate %s/%d", slot, key.Kind, key.ID)
		}
		// A ring that has not wrapped yet fills slots strictly in order.
		if i != filled {
			return fmt.Errorf("slot %d: gap before record", slot)
		}
		set.index[key] = slot
		filled++
	}
	if filled < set.capacity && set.cursor != filled {
		return fmt.Errorf("cursor %d does not follow %d records", set.cursor, filled)
	}
	return nil
}

func encodeSlot(b []byte, key harvest.Key, tag byte) {
	binary.NativeEndian.PutUint32(b[0:4], key.ID)
	b[4] = byte(key.Kind)
	b[5] = tag
	b[6] = 0
	b[7] = 0
}

func decodeKey(b []byte) harvest.Key {
	return harvest.Key{Kind: harvest.Kind(b[4]), ID: binary.NativeEndian.Uint32(b[0:4])}
}

func isEmpty(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
