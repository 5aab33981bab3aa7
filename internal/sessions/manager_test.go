package sessions

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/mingle/internal/store"
)

func testManager(t *testing.T, capacity int) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return NewManager(st, capacity), st
}

func TestGetOrCreate_Idempotent(t *testing.T) {
	m, _ := testManager(t, 10)

	a, err := m.GetOrCreate("group:1", store.SessionGroup, 1)
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.GetOrCreate("group:1", store.SessionGroup, 1)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("expected the same cached session instance")
	}
	if m.Len() != 1 {
		t.Errorf("cache len = %d, want 1", m.Len())
	}
}

func TestLRUEviction_CacheOnly(t *testing.T) {
	m, st := testManager(t, 3)

	for i := 1; i <= 4; i++ {
		id := fmt.Sprintf("group:%d", i)
		if _, err := m.GetOrCreate(id, store.SessionGroup, int64(i)); err != nil {
			t.Fatal(err)
		}
	}

	if m.Len() != 3 {
		t.Fatalf("cache len = %d, want 3", m.Len())
	}
	if m.Cached("group:1") {
		t.Error("group:1 should have been evicted")
	}

	// Evicted from cache, but the row survives.
	sess, err := st.GetSession("group:1")
	if err != nil || sess == nil {
		t.Fatalf("evicted session missing from store: %v %v", sess, err)
	}
}

func TestTouch_MovesToMRU(t *testing.T) {
	m, _ := testManager(t, 2)

	m.GetOrCreate("group:1", store.SessionGroup, 1)
	m.GetOrCreate("group:2", store.SessionGroup, 2)
	if err := m.Touch("group:1"); err != nil {
		t.Fatal(err)
	}
	m.GetOrCreate("group:3", store.SessionGroup, 3)

	if m.Cached("group:2") {
		t.Error("group:2 should have been evicted (LRU after touch)")
	}
	if !m.Cached("group:1") {
		t.Error("group:1 should still be cached")
	}
}
