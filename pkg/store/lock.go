package store

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// goroutineID extracts the current goroutine's id from the stack header
// ("goroutine 123 [running]:").
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	id, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		panic("store: cannot parse goroutine id: " + err.Error())
	}
	return id
}

// recursiveMutex is a mutex the owning goroutine may re-acquire. Public
// operations take it on entry, which lets them call other public
// operations internally, and lets callers compose operations atomically
// with Lock/Unlock, without self-deadlock.
type recursiveMutex struct {
	mu    sync.Mutex
	owner atomic.Uint64
	depth int
}

func (m *recursiveMutex) Lock() {
	id := goroutineID()
	if m.owner.Load() == id {
		m.depth++
		return
	}
	m.mu.Lock()
	m.owner.Store(id)
	m.depth = 1
}

func (m *recursiveMutex) Unlock() {
	if m.owner.Load() != goroutineID() {
		panic("store: unlock of a lock held by another goroutine")
	}
	m.depth--
	if m.depth == 0 {
		m.owner.Store(0)
		m.mu.Unlock()
	}
}
