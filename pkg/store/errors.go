package store

import "errors"

// Error taxonomy. Every operation returns its immediate error wrapped
// around one of these sentinels; the matching bit is also OR-ed into the
// instance's sticky flag set.
var (
	// ErrAlloc signals an out-of-memory condition or a block that would
	// exceed the maximum block size.
	ErrAlloc = errors.New("allocation failed")
	// ErrNotFound signals that the requested key is absent.
	ErrNotFound = errors.New("key not found")
	// ErrNotUnique signals an Insert of a key that already exists.
	ErrNotUnique = errors.New("key not unique")
	// ErrDataChanged signals that the on-disk tag or key does not match
	// the in-memory index at the indicated offset.
	ErrDataChanged = errors.New("data changed")
	// ErrIO signals a file seek, read or write failure.
	ErrIO = errors.New("file i/o error")
	// ErrWrongState signals an operation disallowed in the current state.
	ErrWrongState = errors.New("wrong state")
)

// Flags is the sticky error bitset. Each error kind occupies one bit; the
// set OR-accumulates every error observed until the caller clears it.
type Flags uint8

const (
	FlagAlloc Flags = 1 << iota
	FlagNotFound
	FlagNotUnique
	FlagDataChanged
	FlagIO
	FlagWrongState
)

// Has reports whether every bit of other is set in f.
func (f Flags) Has(other Flags) bool {
	return f&other == other
}

func flagFor(err error) Flags {
	switch {
	case errors.Is(err, ErrAlloc):
		return FlagAlloc
	case errors.Is(err, ErrNotFound):
		return FlagNotFound
	case errors.Is(err, ErrNotUnique):
		return FlagNotUnique
	case errors.Is(err, ErrDataChanged):
		return FlagDataChanged
	case errors.Is(err, ErrIO):
		return FlagIO
	case errors.Is(err, ErrWrongState):
		return FlagWrongState
	default:
		return 0
	}
}

func kindOf(err error) string {
	switch {
	case errors.Is(err, ErrAlloc):
		return "alloc"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNotUnique):
		return "not_unique"
	case errors.Is(err, ErrDataChanged):
		return "data_changed"
	case errors.Is(err, ErrIO):
		return "io"
	case errors.Is(err, ErrWrongState):
		return "wrong_state"
	default:
		return "other"
	}
}
