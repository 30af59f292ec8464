package store

import (
	"fmt"
	"io"
	"math"
)

// DumpStructure walks the physical data file and writes a human-readable
// block map followed by the free-block registry to w.
func (s *Store[K, V]) DumpStructure(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return s.fail(err)
	}

	fmt.Fprintf(w, "data file %s, %d bytes, %d keys\n", s.path, s.fileSize, s.idx.Len())
	var off uint64
	for off < s.fileSize && off <= math.MaxUint32 {
		tag, payload, err := s.readBlockAt(uint32(off))
		if err != nil {
			fmt.Fprintf(w, "  %10d  unreadable: %v\n", off, err)
			return s.fail(err)
		}
		if tag > 0 {
			key, _, err := s.keyCodec.Decode(payload)
			if err != nil {
				fmt.Fprintf(w, "  %10d  used  %6d bytes  key undecodable: %v\n", off, tag, err)
			} else {
				fmt.Fprintf(w, "  %10d  used  %6d bytes  key=%v\n", off, tag, key)
			}
			off += uint64(tag)
		} else {
			fmt.Fprintf(w, "  %10d  free  %6d bytes\n", off, -tag)
			off += uint64(-tag)
		}
	}

	fmt.Fprintf(w, "free list (%d entries):\n", s.free.Len())
	for _, e := range s.free.Entries() {
		fmt.Fprintf(w, "  %10d  %6d bytes\n", e.Offset, e.Size)
	}
	return nil
}

// Verify re-scans the data file and checks it against the in-memory
// structures: the blocks described by the index and the free list must
// partition the file exactly, every indexed offset must carry a positive
// tag and the indexed key, and every free-list entry must match a negative
// tag of its size. It returns nil when everything holds.
func (s *Store[K, V]) Verify() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return s.fail(err)
	}

	if actual, err := s.file.Size(); err != nil {
		return s.fail(fmt.Errorf("%w: size: %v", ErrIO, err))
	} else if uint64(actual) != s.fileSize {
		return fmt.Errorf("recorded file size %d, physical %d", s.fileSize, actual)
	}

	freeOnDisk := make(map[uint32]int16)
	usedOnDisk := 0

	var off uint64
	for off < s.fileSize && off <= math.MaxUint32 {
		tag, payload, err := s.readBlockAt(uint32(off))
		if err != nil {
			return s.fail(err)
		}
		if tag > 0 {
			key, _, err := s.keyCodec.Decode(payload)
			if err != nil {
				return fmt.Errorf("block at %d: key undecodable: %v", off, err)
			}
			indexed, ok := s.idx.Get(key)
			if !ok {
				return fmt.Errorf("block at %d holds key %v missing from the index", off, key)
			}
			if indexed != uint32(off) {
				return fmt.Errorf("key %v indexed at %d but stored at %d", key, indexed, off)
			}
			usedOnDisk++
			off += uint64(tag)
		} else {
			freeOnDisk[uint32(off)] = -tag
			off += uint64(-tag)
		}
	}
	if off != s.fileSize {
		return fmt.Errorf("blocks cover %d bytes of a %d-byte file", off, s.fileSize)
	}

	if usedOnDisk != s.idx.Len() {
		return fmt.Errorf("%d in-use blocks on disk, %d index entries", usedOnDisk, s.idx.Len())
	}
	if len(freeOnDisk) != s.free.Len() {
		return fmt.Errorf("%d free blocks on disk, %d free-list entries", len(freeOnDisk), s.free.Len())
	}
	for _, e := range s.free.Entries() {
		size, ok := freeOnDisk[e.Offset]
		if !ok {
			return fmt.Errorf("free-list entry at %d has no free block on disk", e.Offset)
		}
		if size != e.Size {
			return fmt.Errorf("free-list entry at %d records %d bytes, disk has %d", e.Offset, e.Size, size)
		}
	}
	return nil
}
