package store

import "cmp"

// Number constrains the value types the arithmetic helpers operate on.
type Number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// Incr adds one to the value under key as a single locked
// read-modify-write.
func Incr[K cmp.Ordered, V Number](s *Store[K, V], key K) error {
	return s.UpdateFunc(key, func(v V) V { return v + 1 })
}

// Decr subtracts one from the value under key as a single locked
// read-modify-write.
func Decr[K cmp.Ordered, V Number](s *Store[K, V], key K) error {
	return s.UpdateFunc(key, func(v V) V { return v - 1 })
}

// Add adds delta to the value under key as a single locked
// read-modify-write.
func Add[K cmp.Ordered, V Number](s *Store[K, V], key K, delta V) error {
	return s.UpdateFunc(key, func(v V) V { return v + delta })
}

// Sub subtracts delta from the value under key as a single locked
// read-modify-write.
func Sub[K cmp.Ordered, V Number](s *Store[K, V], key K, delta V) error {
	return s.UpdateFunc(key, func(v V) V { return v - delta })
}

// Mul multiplies the value under key by factor as a single locked
// read-modify-write.
func Mul[K cmp.Ordered, V Number](s *Store[K, V], key K, factor V) error {
	return s.UpdateFunc(key, func(v V) V { return v * factor })
}

// Div divides the value under key by divisor as a single locked
// read-modify-write. An integer division by zero panics inside the
// callback and therefore takes the fatal path.
func Div[K cmp.Ordered, V Number](s *Store[K, V], key K, divisor V) error {
	return s.UpdateFunc(key, func(v V) V { return v / divisor })
}
