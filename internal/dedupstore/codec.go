package dedupstore

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/golang/snappy"
)

// Codec wraps the compressor used for snapshots.
type Codec struct {
	NewWriter func(w io.Writer) io.WriteCloser
	NewReader func(r io.Reader) io.Reader
}

// SnappyCodec writes the framed snappy format, whose per-chunk CRC lets a
// damaged snapshot fail decoding instead of producing wrong bytes.
func SnappyCodec() Codec {
	return Codec{
		NewWriter: func(w io.Writer) io.WriteCloser { return snappy.NewBufferedWriter(w) },
		NewReader: func(r io.Reader) io.Reader { return snappy.NewReader(r) },
	}
}

// speedTuner is implemented by compressors that expose a level knob.
type speedTuner interface {
	SetLevel(level int) error
}

// fastestLevel follows the compress/flate convention for "best speed".
const fastestLevel = 1

// tuneForSpeed asks w for its fastest setting when it supports one.
// It reports whether tuning took effect; absence is never an error.
func tuneForSpeed(w io.Writer) bool {
	t, ok := w.(speedTuner)
	if !ok {
		return false
	}
	return t.SetLevel(fastestLevel) == nil
}

// Serialize writes the exact region bytes through the default codec.
func (s *Store) Serialize(w io.Writer) error {
	return s.SerializeWith(SnappyCodec(), w)
}

// SerializeWith writes the exact region bytes through codec.
func (s *Store) SerializeWith(codec Codec, w io.Writer) error {
	cw := codec.NewWriter(w)
	tuneForSpeed(cw)
	if _, err := cw.Write(s.region[:]); err != nil {
		_ = cw.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("flush snapshot: %w", err)
	}
	return nil
}

// Deserialize replaces the store contents with a snapshot read from r.
// Decode failures and size mismatches leave the store untouched.
func (s *Store) Deserialize(r io.Reader) error {
	return s.DeserializeWith(SnappyCodec(), r)
}

// DeserializeWith is Deserialize with an explicit codec.
func (s *Store) DeserializeWith(codec Codec, r io.Reader) error {
	data, err := io.ReadAll(io.LimitReader(codec.NewReader(r), RegionSize+1))
	if err != nil {
		return fmt.Errorf("decode snapshot: %v: %w", err, ErrSnapshotCorrupt)
	}
	if len(data) != RegionSize {
		return fmt.Errorf("decode snapshot: got %d bytes: %w", len(data), ErrSnapshotSize)
	}
	return s.Rebuild(data)
}

// HostByteOrderTag names the byte order ids are written in on this host.
func HostByteOrderTag() string {
	var b [2]byte
	binary.NativeEndian.PutUint16(b[:], 1)
	if b[0] == 1 {
		return "le"
	}
	return "be"
}

// OppositeByteOrderTag is the tag of snapshots this host must refuse.
func OppositeByteOrderTag() string {
	if HostByteOrderTag() == "le" {
		return "be"
	}
	return "le"
}
