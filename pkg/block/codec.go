package block

import (
	"bytes"
	"encoding/binary"
	"math"
)

// stringCodec encodes a string as its raw bytes followed by a single NUL.
type stringCodec struct{}

// String returns the codec for string keys and values.
func String() Codec[string] {
	return stringCodec{}
}

func (stringCodec) FixedWidth() bool { return false }

func (stringCodec) EncodedLen(v string) int { return len(v) + 1 }

func (stringCodec) Append(dst []byte, v string) []byte {
	dst = append(dst, v...)
	return append(dst, 0)
}

func (stringCodec) Decode(src []byte) (string, int, error) {
	i := bytes.IndexByte(src, 0)
	if i < 0 {
		return "", 0, ErrUnterminated
	}
	return string(src[:i]), i + 1, nil
}

// fixedCodec encodes a fixed-width value little-endian.
type fixedCodec[T any] struct {
	width int
	put   func(b []byte, v T)
	get   func(b []byte) T
}

func (c fixedCodec[T]) FixedWidth() bool { return true }

func (c fixedCodec[T]) EncodedLen(T) int { return c.width }

func (c fixedCodec[T]) Append(dst []byte, v T) []byte {
	var scratch [8]byte
	c.put(scratch[:c.width], v)
	return append(dst, scratch[:c.width]...)
}

func (c fixedCodec[T]) Decode(src []byte) (T, int, error) {
	if len(src) < c.width {
		var zero T
		return zero, 0, ErrShortBlock
	}
	return c.get(src[:c.width]), c.width, nil
}

// Int16 returns the codec for int16 values.
func Int16() Codec[int16] {
	return fixedCodec[int16]{
		width: 2,
		put:   func(b []byte, v int16) { binary.LittleEndian.PutUint16(b, uint16(v)) },
		get:   func(b []byte) int16 { return int16(binary.LittleEndian.Uint16(b)) },
	}
}

// Uint16 returns the codec for uint16 values.
func Uint16() Codec[uint16] {
	return fixedCodec[uint16]{
		width: 2,
		put:   binary.LittleEndian.PutUint16,
		get:   binary.LittleEndian.Uint16,
	}
}

// Int32 returns the codec for int32 values.
func Int32() Codec[int32] {
	return fixedCodec[int32]{
		width: 4,
		put:   func(b []byte, v int32) { binary.LittleEndian.PutUint32(b, uint32(v)) },
		get:   func(b []byte) int32 { return int32(binary.LittleEndian.Uint32(b)) },
	}
}

// Uint32 returns the codec for uint32 values.
func Uint32() Codec[uint32] {
	return fixedCodec[uint32]{
		width: 4,
		put:   binary.LittleEndian.PutUint32,
		get:   binary.LittleEndian.Uint32,
	}
}

// Int64 returns the codec for int64 values.
func Int64() Codec[int64] {
	return fixedCodec[int64]{
		width: 8,
		put:   func(b []byte, v int64) { binary.LittleEndian.PutUint64(b, uint64(v)) },
		get:   func(b []byte) int64 { return int64(binary.LittleEndian.Uint64(b)) },
	}
}

// Uint64 returns the codec for uint64 values.
func Uint64() Codec[uint64] {
	return fixedCodec[uint64]{
		width: 8,
		put:   binary.LittleEndian.PutUint64,
		get:   binary.LittleEndian.Uint64,
	}
}

// Float32 returns the codec for float32 values.
func Float32() Codec[float32] {
	return fixedCodec[float32]{
		width: 4,
		put:   func(b []byte, v float32) { binary.LittleEndian.PutUint32(b, math.Float32bits(v)) },
		get:   func(b []byte) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(b)) },
	}
}

// Float64 returns the codec for float64 values.
func Float64() Codec[float64] {
	return fixedCodec[float64]{
		width: 8,
		put:   func(b []byte, v float64) { binary.LittleEndian.PutUint64(b, math.Float64bits(v)) },
		get:   func(b []byte) float64 { return math.Float64frombits(binary.LittleEndian.Uint64(b)) },
	}
}
