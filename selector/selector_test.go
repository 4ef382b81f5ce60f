package selector

import (
	"context"
	"testing"

	"github.com/Inblac/gpt-proxy/keypool"
)

func TestNextIsRoundRobinPerSnapshot(t *testing.T) {
	repo := keypool.NewMemoryRepository()
	ctx := context.Background()
	ids := make(map[string]bool)
	for i := 0; i < 3; i++ {
		id, _ := repo.Add(ctx, "sk-"+string(rune('a'+i)), "")
		ids[id] = true
	}

	sel := New(repo, 10)
	if err := sel.Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if sel.Len() != 3 {
		t.Fatalf("expected ring length 3, got %d", sel.Len())
	}

	seen := make(map[string]int)
	for i := 0; i < 3; i++ {
		k, ok := sel.Next(ctx)
		if !ok {
			t.Fatalf("Next returned empty on iteration %d", i)
		}
		seen[k.ID]++
	}
	for id := range ids {
		if seen[id] != 1 {
			t.Errorf("key %s seen %d times in one pass of N=3, want 1", id, seen[id])
		}
	}
}

func TestNextOnEmptyRingReturnsFalse(t *testing.T) {
	repo := keypool.NewMemoryRepository()
	sel := New(repo, 10)

	_, ok := sel.Next(context.Background())
	if ok {
		t.Fatalf("expected Empty from a selector with no active keys")
	}
}

func TestNextRebuildsWhenRingBecomesEmptyThenRepopulates(t *testing.T) {
	repo := keypool.NewMemoryRepository()
	ctx := context.Background()
	sel := New(repo, 10)

	if _, ok := sel.Next(ctx); ok {
		t.Fatalf("expected Empty before any key exists")
	}

	id, _ := repo.Add(ctx, "sk-late", "")
	k, ok := sel.Next(ctx)
	if !ok || k.ID != id {
		t.Fatalf("expected Next to rebuild and find the newly added key, got ok=%v k=%+v", ok, k)
	}
}

func TestSingleKeyRingAlwaysReturnsThatKey(t *testing.T) {
	repo := keypool.NewMemoryRepository()
	ctx := context.Background()
	id, _ := repo.Add(ctx, "sk-only", "")
	sel := New(repo, 10)
	sel.Rebuild(ctx)

	for i := 0; i < 5; i++ {
		k, ok := sel.Next(ctx)
		if !ok || k.ID != id {
			t.Fatalf("expected the single key every time, got ok=%v k=%+v", ok, k)
		}
	}
}
