// Package block implements the on-disk block format: a little-endian signed
// 16-bit tag whose absolute value is the total block length including the
// tag itself, followed by the encoded key and value. A positive tag marks
// the block in use, a negative tag marks it free; the bytes of a free block
// past the tag are undefined, as are the bytes of an in-use block past the
// logical data.
package block

import (
	"encoding/binary"
	"errors"
	"math"
)

const (
	// TagLen is the size of the block length header in bytes.
	TagLen = 2

	// MinBlockSize is the smallest legal block: the tag plus one byte.
	MinBlockSize = 3

	// MaxBlockSize is the largest legal block, bounded by the signed
	// 16-bit tag.
	MaxBlockSize = math.MaxInt16
)

var (
	// ErrShortBlock is returned when a block image is too small to hold
	// the requested decode.
	ErrShortBlock = errors.New("block truncated")
	// ErrUnterminated is returned when a string field has no NUL before
	// the end of the block.
	ErrUnterminated = errors.New("unterminated string in block")
	// ErrBlockTooLarge is returned when a block image would not fit the
	// signed 16-bit tag.
	ErrBlockTooLarge = errors.New("block exceeds maximum size")
	// ErrZeroTag is returned for the illegal tag value zero.
	ErrZeroTag = errors.New("zero block tag")
)

// Codec encodes and decodes values of one type into block payloads. A codec
// keeps no state; decoding never reads past the bytes it is given.
type Codec[T any] interface {
	// FixedWidth reports whether every value occupies the same number of
	// bytes. Fixed-width blocks get no slack.
	FixedWidth() bool
	// EncodedLen returns the number of payload bytes v occupies.
	EncodedLen(v T) int
	// Append appends the encoding of v to dst and returns the result.
	Append(dst []byte, v T) []byte
	// Decode reads one value from the start of src, returning the value
	// and the number of bytes consumed.
	Decode(src []byte) (T, int, error)
}

// ReadTag decodes the block tag from the first two bytes of b.
func ReadTag(b []byte) (int16, error) {
	if len(b) < TagLen {
		return 0, ErrShortBlock
	}
	tag := int16(binary.LittleEndian.Uint16(b))
	if tag == 0 {
		return 0, ErrZeroTag
	}
	return tag, nil
}

// PutTag writes the block tag into the first two bytes of b.
func PutTag(b []byte, tag int16) {
	binary.LittleEndian.PutUint16(b, uint16(tag))
}

// DataLen returns the exact number of bytes the pair occupies on disk:
// tag, key, value.
func DataLen[K, V any](kc Codec[K], vc Codec[V], key K, value V) int {
	return TagLen + kc.EncodedLen(key) + vc.EncodedLen(value)
}

// Grow applies the slack fraction to a variable-width data length, rounding
// up and capping at MaxBlockSize.
func Grow(dataLen int, slack float64) int {
	grown := int(math.Ceil(float64(dataLen) * (1 + slack)))
	if grown > MaxBlockSize {
		return MaxBlockSize
	}
	return grown
}

// Encode builds a complete block image of exactly blockSize bytes: tag set
// to blockSize, then key, then value, then a zeroed tail.
func Encode[K, V any](kc Codec[K], vc Codec[V], key K, value V, blockSize int) ([]byte, error) {
	if blockSize > MaxBlockSize {
		return nil, ErrBlockTooLarge
	}
	dataLen := DataLen(kc, vc, key, value)
	if blockSize < dataLen || blockSize < MinBlockSize {
		return nil, ErrShortBlock
	}

	img := make([]byte, TagLen, blockSize)
	PutTag(img, int16(blockSize))
	img = kc.Append(img, key)
	img = vc.Append(img, value)
	return img[:blockSize], nil
}

// DecodeKey reads the key from a block payload (the bytes following the
// tag), returning the key and the number of payload bytes it occupied.
func DecodeKey[K any](kc Codec[K], payload []byte) (K, int, error) {
	return kc.Decode(payload)
}

// DecodeKeyValue reads the key and value from a block payload.
func DecodeKeyValue[K, V any](kc Codec[K], vc Codec[V], payload []byte) (K, V, error) {
	key, n, err := kc.Decode(payload)
	if err != nil {
		var zeroV V
		return key, zeroV, err
	}
	value, _, err := vc.Decode(payload[n:])
	return key, value, err
}
