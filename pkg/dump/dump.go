// Package dump implements snapshot export and import for a store: the
// pairs are walked in key order, length-prefixed, snappy-compressed and
// protected by an xxhash checksum carried in a fixed header. A snapshot is
// a backup format, not the data-file format; restoring replays plain
// inserts into an empty store.
package dump

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/snappy"

	"github.com/flatkv/flatkv/pkg/store"
)

// magic identifies a flatkv snapshot, followed by the format version.
var magic = [8]byte{'F', 'K', 'V', 'S', 'N', 'A', 'P', '1'}

const headerLen = 8 + 8 + 8 // magic, pair count, checksum

var (
	// ErrBadSnapshot is returned when the header or checksum does not
	// match.
	ErrBadSnapshot = errors.New("malformed snapshot")
	// ErrNotEmpty is returned when restoring into a store that already
	// holds keys.
	ErrNotEmpty = errors.New("store is not empty")
)

// Snapshot writes every pair of s to w. The store lock is held for the
// whole export, so the snapshot is a consistent point-in-time image.
func Snapshot[K cmp.Ordered, V any](s *store.Store[K, V], w io.Writer) error {
	kc, vc := s.KeyCodec(), s.ValueCodec()

	it, err := s.Iterate()
	if err != nil {
		return err
	}
	defer it.Close()

	var payload bytes.Buffer
	var count uint64
	var scratch [binary.MaxVarintLen64]byte
	for ; it.Valid(); it.Next() {
		value, err := it.Value()
		if err != nil {
			return err
		}

		keyBytes := kc.Append(nil, it.Key())
		valBytes := vc.Append(nil, value)
		n := binary.PutUvarint(scratch[:], uint64(len(keyBytes)))
		payload.Write(scratch[:n])
		payload.Write(keyBytes)
		n = binary.PutUvarint(scratch[:], uint64(len(valBytes)))
		payload.Write(scratch[:n])
		payload.Write(valBytes)
		count++
	}

	var header [headerLen]byte
	copy(header[:8], magic[:])
	binary.LittleEndian.PutUint64(header[8:16], count)
	binary.LittleEndian.PutUint64(header[16:24], xxhash.Sum64(payload.Bytes()))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write snapshot header: %w", err)
	}

	sw := snappy.NewBufferedWriter(w)
	if _, err := sw.Write(payload.Bytes()); err != nil {
		return fmt.Errorf("write snapshot payload: %w", err)
	}
	if err := sw.Close(); err != nil {
		return fmt.Errorf("flush snapshot payload: %w", err)
	}
	return nil
}

// Restore replays a snapshot produced by Snapshot into s, which must be
// open and empty.
func Restore[K cmp.Ordered, V any](s *store.Store[K, V], r io.Reader) error {
	if s.Size() != 0 {
		return ErrNotEmpty
	}
	kc, vc := s.KeyCodec(), s.ValueCodec()

	var header [headerLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return fmt.Errorf("%w: short header: %v", ErrBadSnapshot, err)
	}
	if !bytes.Equal(header[:8], magic[:]) {
		return fmt.Errorf("%w: bad magic", ErrBadSnapshot)
	}
	count := binary.LittleEndian.Uint64(header[8:16])
	checksum := binary.LittleEndian.Uint64(header[16:24])

	payload, err := io.ReadAll(snappy.NewReader(r))
	if err != nil {
		return fmt.Errorf("%w: decompress: %v", ErrBadSnapshot, err)
	}
	if xxhash.Sum64(payload) != checksum {
		return fmt.Errorf("%w: checksum mismatch", ErrBadSnapshot)
	}

	rd := bytes.NewReader(payload)
	for i := uint64(0); i < count; i++ {
		keyBytes, err := readRecord(rd)
		if err != nil {
			return fmt.Errorf("%w: pair %d key: %v", ErrBadSnapshot, i, err)
		}
		valBytes, err := readRecord(rd)
		if err != nil {
			return fmt.Errorf("%w: pair %d value: %v", ErrBadSnapshot, i, err)
		}

		key, _, err := kc.Decode(keyBytes)
		if err != nil {
			return fmt.Errorf("%w: pair %d key decode: %v", ErrBadSnapshot, i, err)
		}
		value, _, err := vc.Decode(valBytes)
		if err != nil {
			return fmt.Errorf("%w: pair %d value decode: %v", ErrBadSnapshot, i, err)
		}
		if err := s.Insert(key, value); err != nil {
			return fmt.Errorf("restore pair %d: %w", i, err)
		}
	}
	if rd.Len() != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrBadSnapshot, rd.Len())
	}
	return nil
}

func readRecord(r *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if n > uint64(r.Len()) {
		return nil, io.ErrUnexpectedEOF
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
