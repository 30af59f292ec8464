// Package store implements a persistent key-value store over a single
// append-capable data file. The full key set and a 32-bit block locator per
// key stay resident in memory while values live on disk; free blocks are
// reused best-fit. All public operations serialize on one recursive lock
// per instance and report failures both as returned errors and as bits in
// a sticky error flag set.
package store

import (
	"cmp"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/flatkv/flatkv/pkg/block"
	"github.com/flatkv/flatkv/pkg/common/log"
	"github.com/flatkv/flatkv/pkg/freelist"
	"github.com/flatkv/flatkv/pkg/index"
	"github.com/flatkv/flatkv/pkg/stats"
	"github.com/flatkv/flatkv/pkg/vfs"
)

type state int

const (
	stateClosed state = iota
	stateOpen
	stateBroken // the fatal path ran; only Open recovers
)

// Store is a persistent ordered map from K to V backed by one data file.
// The zero value is not usable; construct with New, then Open.
type Store[K cmp.Ordered, V any] struct {
	mu recursiveMutex

	keyCodec block.Codec[K]
	valCodec block.Codec[V]
	variable bool

	slack  float64
	fs     vfs.FS
	logger log.Logger
	stats  *stats.Collector

	state       state
	path        string
	file        vfs.File
	fileSize    uint64
	idx         *index.SkipMap[K, uint32]
	free        *freelist.List
	inIteration int
	flags       Flags
}

// New creates an unopened store for the given key and value codecs.
func New[K cmp.Ordered, V any](keyCodec block.Codec[K], valCodec block.Codec[V], opts ...Option) *Store[K, V] {
	cfg := defaultSettings()
	for _, opt := range opts {
		opt(cfg)
	}
	return &Store[K, V]{
		keyCodec: keyCodec,
		valCodec: valCodec,
		variable: !keyCodec.FixedWidth() || !valCodec.FixedWidth(),
		slack:    cfg.slack,
		fs:       cfg.fs,
		logger:   cfg.logger,
		stats:    stats.NewCollector(),
		idx:      index.NewSkipMap[K, uint32](),
		free:     freelist.New(),
	}
}

// Open binds the store to a data file, creating an empty file if absent,
// and rebuilds the in-memory index and free-block registry by scanning
// blocks sequentially. On a scan failure the file stays open for
// diagnostics and the error is returned.
func (s *Store[K, V]) Open(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	if s.state == stateOpen {
		return s.fail(fmt.Errorf("%w: store already open", ErrWrongState))
	}
	if s.inIteration > 0 {
		return s.fail(fmt.Errorf("%w: open during iteration", ErrWrongState))
	}

	if !s.fs.IsFile(path) {
		f, err := s.fs.Open(path, vfs.ModeTruncate, true)
		if err != nil {
			return s.fail(fmt.Errorf("%w: create %s: %v", ErrIO, path, err))
		}
		if err := f.Close(); err != nil {
			return s.fail(fmt.Errorf("%w: create %s: %v", ErrIO, path, err))
		}
	}

	f, err := s.fs.Open(path, vfs.ModeReadWrite, false)
	if err != nil {
		return s.fail(fmt.Errorf("%w: open %s: %v", ErrIO, path, err))
	}
	size, err := f.Size()
	if err != nil {
		f.Close()
		return s.fail(fmt.Errorf("%w: size of %s: %v", ErrIO, path, err))
	}

	s.file = f
	s.path = path
	s.fileSize = uint64(size)
	s.state = stateOpen
	s.idx.Clear()
	s.free.Clear()

	if err := s.scan(); err != nil {
		return s.fail(err)
	}

	s.stats.TrackOperationWithLatency(stats.OpOpen, time.Since(start))
	s.logger.Info("opened %s: %d keys, %d free blocks, %d bytes",
		path, s.idx.Len(), s.free.Len(), s.fileSize)
	return nil
}

func (s *Store[K, V]) scan() error {
	var off uint64
	for off < s.fileSize && off <= math.MaxUint32 {
		tag, payload, err := s.readBlockAt(uint32(off))
		if err != nil {
			return err
		}
		if tag > 0 {
			key, _, err := s.keyCodec.Decode(payload)
			if err != nil {
				return fmt.Errorf("%w: key decode at offset %d: %v", ErrIO, off, err)
			}
			if !s.idx.Insert(key, uint32(off)) {
				return fmt.Errorf("%w: duplicate key at offset %d", ErrIO, off)
			}
			off += uint64(tag)
		} else {
			s.free.Push(uint32(off), -tag)
			off += uint64(-tag)
		}
	}
	return nil
}

// Close releases the data file and drops the in-memory structures. The
// store may be opened again afterwards.
func (s *Store[K, V]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return nil
	}
	var err error
	if s.file != nil {
		err = s.file.Close()
		s.file = nil
	}
	s.state = stateClosed
	s.path = ""
	s.fileSize = 0
	s.idx.Clear()
	s.free.Clear()
	if err != nil {
		return s.fail(fmt.Errorf("%w: close: %v", ErrIO, err))
	}
	return nil
}

// Size returns the number of key-value pairs.
func (s *Store[K, V]) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idx.Len()
}

// FileSize returns the current length of the data file in bytes.
func (s *Store[K, V]) FileSize() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fileSize
}

// Path returns the bound data file path, or "" when unopened.
func (s *Store[K, V]) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Insert adds a new key-value pair. The key must not already exist.
func (s *Store[K, V]) Insert(key K, value V) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	if err := s.ready(); err != nil {
		return s.fail(err)
	}
	if s.inIteration > 0 {
		return s.fail(fmt.Errorf("%w: insert during iteration", ErrWrongState))
	}
	if _, exists := s.idx.Get(key); exists {
		return s.fail(fmt.Errorf("%w: insert", ErrNotUnique))
	}

	dataLen := block.DataLen(s.keyCodec, s.valCodec, key, value)
	if dataLen > block.MaxBlockSize {
		return s.fail(fmt.Errorf("%w: %d bytes exceeds the %d-byte block limit", ErrAlloc, dataLen, block.MaxBlockSize))
	}
	blockSize := dataLen
	if s.variable {
		blockSize = block.Grow(dataLen, s.slack)
	}

	// best-fit search; a chosen free block is adopted whole, the excess
	// becomes slack of the in-use block
	fitIdx, reuse := s.free.BestFit(dataLen)
	var off uint32
	if reuse {
		entry := s.free.At(fitIdx)
		off = entry.Offset
		blockSize = int(entry.Size)
	} else {
		if s.fileSize+uint64(blockSize) > math.MaxUint32 {
			return s.fail(fmt.Errorf("%w: data file full", ErrAlloc))
		}
		off = uint32(s.fileSize)
	}

	if !s.idx.Insert(key, off) {
		return s.fail(fmt.Errorf("%w: insert", ErrNotUnique))
	}

	img, err := block.Encode(s.keyCodec, s.valCodec, key, value, blockSize)
	if err != nil {
		s.idx.Delete(key)
		return s.fail(fmt.Errorf("%w: %v", ErrAlloc, err))
	}

	if _, err := s.file.Seek(int64(off), io.SeekStart); err != nil {
		s.idx.Delete(key)
		return s.fail(fmt.Errorf("%w: seek to %d: %v", ErrIO, off, err))
	}
	if err := s.writeAll(img); err != nil {
		s.rollbackFreshBlock(off, int16(blockSize))
		s.idx.Delete(key)
		return s.fail(fmt.Errorf("%w: write block at %d: %v", ErrIO, off, err))
	}
	s.stats.TrackBytesWritten(uint64(len(img)))

	if reuse {
		s.free.RemoveAt(fitIdx)
	} else {
		s.fileSize += uint64(blockSize)
	}

	s.stats.TrackOperationWithLatency(stats.OpInsert, time.Since(start))
	return nil
}

// FindBlockOffset looks the key up in the in-memory index. No disk I/O.
func (s *Store[K, V]) FindBlockOffset(key K) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return 0, s.fail(err)
	}
	off, ok := s.idx.Get(key)
	if !ok {
		return 0, s.fail(fmt.Errorf("%w: find block offset", ErrNotFound))
	}
	return off, nil
}

// FindValue reads the value stored under key from disk.
func (s *Store[K, V]) FindValue(key K) (V, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero V
	start := time.Now()
	if err := s.ready(); err != nil {
		return zero, s.fail(err)
	}
	off, ok := s.idx.Get(key)
	if !ok {
		return zero, s.fail(fmt.Errorf("%w: find value", ErrNotFound))
	}
	value, err := s.readValueAt(key, off)
	if err != nil {
		return zero, s.fail(err)
	}
	s.stats.TrackOperationWithLatency(stats.OpFind, time.Since(start))
	return value, nil
}

// FindValueAt reads the value stored under key using a known block offset,
// typically one yielded during iteration, skipping the index lookup.
func (s *Store[K, V]) FindValueAt(key K, off uint32) (V, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero V
	start := time.Now()
	if err := s.ready(); err != nil {
		return zero, s.fail(err)
	}
	value, err := s.readValueAt(key, off)
	if err != nil {
		return zero, s.fail(err)
	}
	s.stats.TrackOperationWithLatency(stats.OpFind, time.Since(start))
	return value, nil
}

// Update replaces the value stored under key. If the new data fits the
// existing block the value is overwritten in place and the block keeps its
// offset; otherwise the pair is relocated and the old block is freed.
func (s *Store[K, V]) Update(key K, newValue V) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return s.fail(err)
	}
	off, ok := s.idx.Get(key)
	if !ok {
		return s.fail(fmt.Errorf("%w: update", ErrNotFound))
	}
	if err := s.updateAt(key, newValue, off); err != nil {
		return s.fail(err)
	}
	return nil
}

// UpdateAt is Update with a known block offset.
func (s *Store[K, V]) UpdateAt(key K, newValue V, off uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return s.fail(err)
	}
	if err := s.updateAt(key, newValue, off); err != nil {
		return s.fail(err)
	}
	return nil
}

// UpdateFunc reads the value under key, applies fn and writes the result
// back, all under the store lock. fn must not call back into the same
// store instance and must not panic; a panic is treated as a failed write
// and takes the fatal path.
func (s *Store[K, V]) UpdateFunc(key K, fn func(V) V) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return s.fail(err)
	}
	off, ok := s.idx.Get(key)
	if !ok {
		return s.fail(fmt.Errorf("%w: update", ErrNotFound))
	}
	if err := s.updateFuncAt(key, fn, off); err != nil {
		return s.fail(err)
	}
	return nil
}

// UpdateFuncAt is UpdateFunc with a known block offset.
func (s *Store[K, V]) UpdateFuncAt(key K, fn func(V) V, off uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return s.fail(err)
	}
	if err := s.updateFuncAt(key, fn, off); err != nil {
		return s.fail(err)
	}
	return nil
}

// Upsert updates the value under key, inserting the pair if absent.
func (s *Store[K, V]) Upsert(key K, value V) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return s.fail(err)
	}
	if off, ok := s.idx.Get(key); ok {
		if err := s.updateAt(key, value, off); err != nil {
			return s.fail(err)
		}
	} else if err := s.Insert(key, value); err != nil {
		return err
	}
	s.stats.TrackOperation(stats.OpUpsert)
	return nil
}

// UpsertFunc applies fn to the value under key, inserting defaultValue if
// the key is absent.
func (s *Store[K, V]) UpsertFunc(key K, fn func(V) V, defaultValue V) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return s.fail(err)
	}
	if off, ok := s.idx.Get(key); ok {
		if err := s.updateFuncAt(key, fn, off); err != nil {
			return s.fail(err)
		}
	} else if err := s.Insert(key, defaultValue); err != nil {
		return err
	}
	s.stats.TrackOperation(stats.OpUpsert)
	return nil
}

// Delete removes the pair stored under key and releases its block.
func (s *Store[K, V]) Delete(key K) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	if err := s.ready(); err != nil {
		return s.fail(err)
	}
	if s.inIteration > 0 {
		return s.fail(fmt.Errorf("%w: delete during iteration", ErrWrongState))
	}
	off, ok := s.idx.Get(key)
	if !ok {
		return s.fail(fmt.Errorf("%w: delete", ErrNotFound))
	}

	tag, err := s.readTagAt(off)
	if err != nil {
		return s.fail(err)
	}
	if tag < 0 {
		return s.fail(fmt.Errorf("%w: block at %d is already free", ErrDataChanged, off))
	}

	s.idx.Delete(key)

	if err := s.writeTagAt(off, -tag); err != nil {
		s.stats.TrackRollback()
		if !s.idx.Insert(key, off) {
			s.fatalClose("delete rollback failed", err)
		}
		return s.fail(fmt.Errorf("%w: free tag at %d: %v", ErrIO, off, err))
	}

	s.free.Push(off, tag)
	s.stats.TrackOperationWithLatency(stats.OpDelete, time.Since(start))
	return nil
}

// Truncate discards every pair: the data file is re-created at zero length
// and both in-memory structures are cleared.
func (s *Store[K, V]) Truncate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return s.fail(err)
	}
	if s.inIteration > 0 {
		return s.fail(fmt.Errorf("%w: truncate during iteration", ErrWrongState))
	}

	if s.file != nil {
		s.file.Close()
		s.file = nil
	}

	f, err := s.fs.Open(s.path, vfs.ModeTruncate, true)
	if err != nil {
		s.state = stateBroken
		return s.fail(fmt.Errorf("%w: recreate %s: %v", ErrIO, s.path, err))
	}
	if err := f.Close(); err != nil {
		s.state = stateBroken
		return s.fail(fmt.Errorf("%w: recreate %s: %v", ErrIO, s.path, err))
	}
	f, err = s.fs.Open(s.path, vfs.ModeReadWrite, false)
	if err != nil {
		s.state = stateBroken
		return s.fail(fmt.Errorf("%w: reopen %s: %v", ErrIO, s.path, err))
	}

	s.file = f
	s.fileSize = 0
	s.idx.Clear()
	s.free.Clear()
	s.stats.TrackOperation(stats.OpTruncate)
	s.logger.Info("truncated %s", s.path)
	return nil
}

// First returns the smallest key and its block offset.
func (s *Store[K, V]) First() (K, uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero K
	if err := s.ready(); err != nil {
		return zero, 0, s.fail(err)
	}
	key, off, ok := s.idx.First()
	if !ok {
		return zero, 0, s.fail(fmt.Errorf("%w: store is empty", ErrNotFound))
	}
	return key, off, nil
}

// Last returns the largest key and its block offset.
func (s *Store[K, V]) Last() (K, uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero K
	if err := s.ready(); err != nil {
		return zero, 0, s.fail(err)
	}
	key, off, ok := s.idx.Last()
	if !ok {
		return zero, 0, s.fail(fmt.Errorf("%w: store is empty", ErrNotFound))
	}
	return key, off, nil
}

// Lock acquires the store lock manually, for callers composing several
// operations atomically. It is recursive and must be paired with Unlock.
func (s *Store[K, V]) Lock() {
	s.mu.Lock()
}

// Unlock releases one Lock acquisition.
func (s *Store[K, V]) Unlock() {
	s.mu.Unlock()
}

// ErrorFlags returns the sticky error bitset accumulated since the last
// ClearErrorFlags.
func (s *Store[K, V]) ErrorFlags() Flags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags
}

// ClearErrorFlags resets the sticky error bitset.
func (s *Store[K, V]) ClearErrorFlags() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags = 0
}

// FreeBlocks returns a copy of the free-block registry.
func (s *Store[K, V]) FreeBlocks() []freelist.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.free.Entries()
}

// Stats returns a snapshot of the operation statistics.
func (s *Store[K, V]) Stats() map[string]interface{} {
	return s.stats.GetStats()
}

// KeyCodec returns the codec keys are stored with.
func (s *Store[K, V]) KeyCodec() block.Codec[K] {
	return s.keyCodec
}

// ValueCodec returns the codec values are stored with.
func (s *Store[K, V]) ValueCodec() block.Codec[V] {
	return s.valCodec
}

// internal helpers; all of them run under the lock

func (s *Store[K, V]) ready() error {
	switch s.state {
	case stateOpen:
		return nil
	case stateBroken:
		return fmt.Errorf("%w: store unusable after failed rollback, reopen to recover", ErrIO)
	default:
		return fmt.Errorf("%w: store is not open", ErrWrongState)
	}
}

func (s *Store[K, V]) fail(err error) error {
	s.flags |= flagFor(err)
	s.stats.TrackError(kindOf(err))
	return err
}

func (s *Store[K, V]) writeAll(p []byte) error {
	n, err := s.file.Write(p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return io.ErrShortWrite
	}
	return nil
}

func (s *Store[K, V]) readTagAt(off uint32) (int16, error) {
	if _, err := s.file.Seek(int64(off), io.SeekStart); err != nil {
		return 0, fmt.Errorf("%w: seek to %d: %v", ErrIO, off, err)
	}
	var hdr [block.TagLen]byte
	if _, err := io.ReadFull(s.file, hdr[:]); err != nil {
		return 0, fmt.Errorf("%w: read tag at %d: %v", ErrIO, off, err)
	}
	tag, err := block.ReadTag(hdr[:])
	if err != nil {
		return 0, fmt.Errorf("%w: tag at %d: %v", ErrIO, off, err)
	}
	s.stats.TrackBytesRead(block.TagLen)
	return tag, nil
}

func (s *Store[K, V]) writeTagAt(off uint32, tag int16) error {
	if _, err := s.file.Seek(int64(off), io.SeekStart); err != nil {
		return err
	}
	var hdr [block.TagLen]byte
	block.PutTag(hdr[:], tag)
	if err := s.writeAll(hdr[:]); err != nil {
		return err
	}
	s.stats.TrackBytesWritten(block.TagLen)
	return nil
}

// readBlockAt reads the tag at off and, for an in-use block, the payload
// that follows it. Free blocks return a nil payload.
func (s *Store[K, V]) readBlockAt(off uint32) (int16, []byte, error) {
	tag, err := s.readTagAt(off)
	if err != nil {
		return 0, nil, err
	}
	size := int(tag)
	if size < 0 {
		size = -size
	}
	if size < block.MinBlockSize {
		return 0, nil, fmt.Errorf("%w: undersized block at %d", ErrIO, off)
	}
	if tag < 0 {
		return tag, nil, nil
	}
	payload := make([]byte, size-block.TagLen)
	if _, err := io.ReadFull(s.file, payload); err != nil {
		return 0, nil, fmt.Errorf("%w: read block at %d: %v", ErrIO, off, err)
	}
	s.stats.TrackBytesRead(uint64(len(payload)))
	return tag, payload, nil
}

// readValueAt decodes the value from the block at off, verifying that the
// block is in use and still holds key.
func (s *Store[K, V]) readValueAt(key K, off uint32) (V, error) {
	var zero V
	tag, payload, err := s.readBlockAt(off)
	if err != nil {
		return zero, err
	}
	if tag < 0 {
		return zero, fmt.Errorf("%w: block at %d is free", ErrDataChanged, off)
	}
	storedKey, n, err := s.keyCodec.Decode(payload)
	if err != nil {
		return zero, fmt.Errorf("%w: key decode at %d: %v", ErrIO, off, err)
	}
	if storedKey != key {
		return zero, fmt.Errorf("%w: key mismatch at %d", ErrDataChanged, off)
	}
	value, _, err := s.valCodec.Decode(payload[n:])
	if err != nil {
		return zero, fmt.Errorf("%w: value decode at %d: %v", ErrIO, off, err)
	}
	return value, nil
}

func (s *Store[K, V]) updateAt(key K, newValue V, off uint32) error {
	start := time.Now()
	tag, payload, err := s.readBlockAt(off)
	if err != nil {
		return err
	}
	if tag < 0 {
		return fmt.Errorf("%w: block at %d is free", ErrDataChanged, off)
	}
	storedKey, keyLen, err := s.keyCodec.Decode(payload)
	if err != nil {
		return fmt.Errorf("%w: key decode at %d: %v", ErrIO, off, err)
	}
	if storedKey != key {
		return fmt.Errorf("%w: key mismatch at %d", ErrDataChanged, off)
	}

	newDataLen := block.DataLen(s.keyCodec, s.valCodec, key, newValue)
	if newDataLen > block.MaxBlockSize {
		return fmt.Errorf("%w: %d bytes exceeds the %d-byte block limit", ErrAlloc, newDataLen, block.MaxBlockSize)
	}

	if newDataLen <= int(tag) {
		// in place; the block keeps its size, the leftover is slack
		pos := int64(off) + block.TagLen + int64(keyLen)
		if _, err := s.file.Seek(pos, io.SeekStart); err != nil {
			return fmt.Errorf("%w: seek to %d: %v", ErrIO, pos, err)
		}
		buf := s.valCodec.Append(nil, newValue)
		if err := s.writeAll(buf); err != nil {
			s.fatalClose("in-place value write failed", err)
			return fmt.Errorf("%w: write value at %d: %v", ErrIO, pos, err)
		}
		s.stats.TrackBytesWritten(uint64(len(buf)))
		s.stats.TrackOperationWithLatency(stats.OpUpdate, time.Since(start))
		return nil
	}

	// relocate
	newBlockSize := newDataLen
	if s.variable {
		newBlockSize = block.Grow(newDataLen, s.slack)
	}
	fitIdx, reuse := s.free.BestFit(newDataLen)
	var newOff uint32
	if reuse {
		entry := s.free.At(fitIdx)
		newOff = entry.Offset
		newBlockSize = int(entry.Size)
	} else {
		if s.fileSize+uint64(newBlockSize) > math.MaxUint32 {
			return fmt.Errorf("%w: data file full", ErrAlloc)
		}
		newOff = uint32(s.fileSize)
	}

	img, err := block.Encode(s.keyCodec, s.valCodec, key, newValue, newBlockSize)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAlloc, err)
	}
	if _, err := s.file.Seek(int64(newOff), io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek to %d: %v", ErrIO, newOff, err)
	}
	if err := s.writeAll(img); err != nil {
		s.rollbackFreshBlock(newOff, int16(newBlockSize))
		return fmt.Errorf("%w: write block at %d: %v", ErrIO, newOff, err)
	}
	s.stats.TrackBytesWritten(uint64(len(img)))

	if reuse {
		s.free.RemoveAt(fitIdx)
	} else {
		s.fileSize += uint64(newBlockSize)
	}

	// free the old block; failing here leaves the key in two blocks,
	// which cannot be rolled back
	if err := s.writeTagAt(off, -tag); err != nil {
		s.fatalClose("free tag of relocated block failed", err)
		return fmt.Errorf("%w: free tag at %d: %v", ErrIO, off, err)
	}

	s.idx.Set(key, newOff)
	s.free.Push(off, tag)
	s.stats.TrackOperationWithLatency(stats.OpUpdate, time.Since(start))
	return nil
}

func (s *Store[K, V]) updateFuncAt(key K, fn func(V) V, off uint32) error {
	current, err := s.readValueAt(key, off)
	if err != nil {
		return err
	}
	next, err := s.applyCallback(fn, current)
	if err != nil {
		return err
	}
	return s.updateAt(key, next, off)
}

// applyCallback invokes the caller-supplied transformation, converting a
// panic into the fatal path.
func (s *Store[K, V]) applyCallback(fn func(V) V, v V) (out V, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.fatalClose("update callback panicked", fmt.Errorf("%v", r))
			err = fmt.Errorf("%w: update callback panicked: %v", ErrIO, r)
		}
	}()
	return fn(v), nil
}

// rollbackFreshBlock marks a block whose body write failed as free on
// disk. If the rollback itself fails the file is closed.
func (s *Store[K, V]) rollbackFreshBlock(off uint32, size int16) {
	s.stats.TrackRollback()
	if err := s.writeTagAt(off, -size); err != nil {
		s.fatalClose("rollback tag write failed", err)
		return
	}
	s.logger.Warn("rolled back block at %d after failed write", off)
}

// fatalClose runs the fatal path: the memory structures and the file are
// no longer proven coherent, so the file is closed and every subsequent
// operation except Open fails.
func (s *Store[K, V]) fatalClose(reason string, err error) {
	s.logger.Error("closing %s, memory and disk no longer coherent: %s: %v", s.path, reason, err)
	s.stats.TrackFatalClose()
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	s.state = stateBroken
}
