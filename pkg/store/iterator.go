package store

import (
	"cmp"
	"fmt"

	"github.com/flatkv/flatkv/pkg/index"
	"github.com/flatkv/flatkv/pkg/stats"
)

// Iterator walks the store in ascending key order, yielding each key and
// its block offset. Creating an iterator acquires the store lock and marks
// iteration in progress; Close releases both. While any iterator is live,
// Insert, Delete, Truncate and Open fail with ErrWrongState; FindValueAt
// and the Update forms remain permitted because they do not change the
// shape of the index.
type Iterator[K cmp.Ordered, V any] struct {
	s      *Store[K, V]
	it     *index.Iterator[K, uint32]
	closed bool
}

// Iterate returns an iterator positioned at the first key.
func (s *Store[K, V]) Iterate() (*Iterator[K, V], error) {
	s.mu.Lock()
	if err := s.ready(); err != nil {
		err = s.fail(err)
		s.mu.Unlock()
		return nil, err
	}
	s.inIteration++
	s.stats.TrackOperation(stats.OpScan)

	it := s.idx.NewIterator()
	it.SeekToFirst()
	return &Iterator[K, V]{s: s, it: it}, nil
}

// Valid reports whether the iterator is positioned at a key.
func (it *Iterator[K, V]) Valid() bool {
	return !it.closed && it.it.Valid()
}

// Next advances the iterator.
func (it *Iterator[K, V]) Next() {
	if !it.closed {
		it.it.Next()
	}
}

// Key returns the key at the current position. Keys live in memory, so no
// disk access happens.
func (it *Iterator[K, V]) Key() K {
	return it.it.Key()
}

// Offset returns the block offset of the current key, usable as the hint
// for FindValueAt, UpdateAt and UpdateFuncAt.
func (it *Iterator[K, V]) Offset() uint32 {
	return it.it.Value()
}

// Value reads the current key's value from disk.
func (it *Iterator[K, V]) Value() (V, error) {
	var zero V
	if !it.Valid() {
		return zero, fmt.Errorf("%w: iterator is not positioned at a key", ErrWrongState)
	}
	value, err := it.s.readValueAt(it.Key(), it.Offset())
	if err != nil {
		return zero, it.s.fail(err)
	}
	return value, nil
}

// Close ends the iteration, unmarking it and releasing the store lock.
// Closing twice is harmless.
func (it *Iterator[K, V]) Close() {
	if it.closed {
		return
	}
	it.closed = true
	it.s.inIteration--
	it.s.mu.Unlock()
}
