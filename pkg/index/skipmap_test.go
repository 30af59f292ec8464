package index

import (
	"math/rand"
	"sort"
	"testing"
)

func TestInsertAndGet(t *testing.T) {
	m := NewSkipMap[string, uint32]()

	if !m.Insert("beta", 10) {
		t.Fatal("insert of new key failed")
	}
	if !m.Insert("alpha", 20) {
		t.Fatal("insert of new key failed")
	}

	v, ok := m.Get("beta")
	if !ok || v != 10 {
		t.Errorf("Get(beta) = (%d, %v), want (10, true)", v, ok)
	}
	if _, ok := m.Get("gamma"); ok {
		t.Error("Get of absent key must report false")
	}
	if m.Len() != 2 {
		t.Errorf("Len = %d, want 2", m.Len())
	}
}

func TestInsertDuplicate(t *testing.T) {
	m := NewSkipMap[string, uint32]()

	m.Insert("key", 1)
	if m.Insert("key", 2) {
		t.Fatal("duplicate insert must fail")
	}

	v, _ := m.Get("key")
	if v != 1 {
		t.Errorf("duplicate insert must not overwrite, got %d", v)
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}
}

func TestSet(t *testing.T) {
	m := NewSkipMap[string, uint32]()

	if m.Set("missing", 1) {
		t.Error("Set of absent key must fail")
	}

	m.Insert("key", 1)
	if !m.Set("key", 2) {
		t.Fatal("Set of existing key failed")
	}
	v, _ := m.Get("key")
	if v != 2 {
		t.Errorf("value after Set = %d, want 2", v)
	}
}

func TestDelete(t *testing.T) {
	m := NewSkipMap[int32, uint32]()

	for i := int32(0); i < 100; i++ {
		m.Insert(i, uint32(i))
	}
	for i := int32(0); i < 100; i += 2 {
		if !m.Delete(i) {
			t.Fatalf("delete of %d failed", i)
		}
	}
	if m.Delete(0) {
		t.Error("double delete must fail")
	}
	if m.Len() != 50 {
		t.Fatalf("Len = %d, want 50", m.Len())
	}

	for i := int32(0); i < 100; i++ {
		_, ok := m.Get(i)
		if want := i%2 == 1; ok != want {
			t.Errorf("Get(%d) present=%v, want %v", i, ok, want)
		}
	}
}

func TestOrderedIteration(t *testing.T) {
	m := NewSkipMap[int32, uint32]()

	keys := rand.Perm(200)
	for _, k := range keys {
		m.Insert(int32(k), uint32(k))
	}

	var got []int
	it := m.NewIterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		got = append(got, int(it.Key()))
		if uint32(it.Key()) != it.Value() {
			t.Fatalf("value mismatch at key %d", it.Key())
		}
	}

	if len(got) != 200 {
		t.Fatalf("iterated %d keys, want 200", len(got))
	}
	if !sort.IntsAreSorted(got) {
		t.Error("iteration order is not ascending")
	}
}

func TestSeek(t *testing.T) {
	m := NewSkipMap[int32, uint32]()
	for _, k := range []int32{10, 20, 30} {
		m.Insert(k, uint32(k))
	}

	it := m.NewIterator()
	it.Seek(15)
	if !it.Valid() || it.Key() != 20 {
		t.Errorf("Seek(15) landed on %v", it.Key())
	}

	it.Seek(31)
	if it.Valid() {
		t.Error("Seek past the last key must be invalid")
	}
}

func TestFirstLast(t *testing.T) {
	m := NewSkipMap[string, uint32]()

	if _, _, ok := m.First(); ok {
		t.Error("First on empty map must report false")
	}
	if _, _, ok := m.Last(); ok {
		t.Error("Last on empty map must report false")
	}

	for _, k := range []string{"mango", "apple", "zucchini", "kiwi"} {
		m.Insert(k, 0)
	}

	if k, _, _ := m.First(); k != "apple" {
		t.Errorf("First = %q, want apple", k)
	}
	if k, _, _ := m.Last(); k != "zucchini" {
		t.Errorf("Last = %q, want zucchini", k)
	}
}

func TestClear(t *testing.T) {
	m := NewSkipMap[string, uint32]()
	m.Insert("a", 1)
	m.Insert("b", 2)

	m.Clear()

	if m.Len() != 0 {
		t.Errorf("Len after Clear = %d", m.Len())
	}
	if _, ok := m.Get("a"); ok {
		t.Error("key survived Clear")
	}

	// the map is usable after Clear
	if !m.Insert("c", 3) {
		t.Error("insert after Clear failed")
	}
}
