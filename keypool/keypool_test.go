package keypool

import (
	"context"
	"testing"
	"time"
)

func TestAddUniqueSecret(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	id, err := repo.Add(ctx, "sk-abc", "first")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if _, err := repo.Add(ctx, "sk-abc", "second"); err != ErrDuplicateSecret {
		t.Fatalf("expected ErrDuplicateSecret, got %v", err)
	}

	got, err := repo.GetBySecret(ctx, "sk-abc")
	if err != nil {
		t.Fatalf("GetBySecret: %v", err)
	}
	if got == nil || got.ID != id {
		t.Fatalf("GetBySecret round-trip mismatch: %+v", got)
	}
}

func TestSetStatusIdempotent(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	id, _ := repo.Add(ctx, "sk-xyz", "")

	ok, err := repo.SetStatus(ctx, id, StatusInactive)
	if err != nil || !ok {
		t.Fatalf("SetStatus: ok=%v err=%v", ok, err)
	}
	ok, err = repo.SetStatus(ctx, id, StatusInactive)
	if err != nil || !ok {
		t.Fatalf("repeat SetStatus should still report affected: ok=%v err=%v", ok, err)
	}

	k, _ := repo.GetByID(ctx, id)
	if k.Status != StatusInactive {
		t.Fatalf("expected Inactive, got %s", k.Status)
	}
}

func TestDeleteRemovesKey(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	id, _ := repo.Add(ctx, "sk-del", "")

	if err := repo.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	k, err := repo.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if k != nil {
		t.Fatalf("expected nil after delete, got %+v", k)
	}
}

func TestMonotonicTotalRequests(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	id, _ := repo.Add(ctx, "sk-mono", "")

	for i := 0; i < 5; i++ {
		if _, err := repo.IncrementTotalRequests(ctx, id); err != nil {
			t.Fatalf("IncrementTotalRequests: %v", err)
		}
	}

	k, _ := repo.GetByID(ctx, id)
	if k.TotalRequests != 5 {
		t.Fatalf("expected 5 total requests, got %d", k.TotalRequests)
	}
}

func TestListActiveColdestFirst(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	idA, _ := repo.Add(ctx, "sk-a", "")
	idB, _ := repo.Add(ctx, "sk-b", "")
	idC, _ := repo.Add(ctx, "sk-c", "")

	// A was never used, C was used, then B was used most recently.
	repo.TouchLastUsed(ctx, idC)
	time.Sleep(2 * time.Millisecond)
	repo.TouchLastUsed(ctx, idC)
	repo.TouchLastUsed(ctx, idB)

	active, err := repo.ListActive(ctx, 10)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 3 {
		t.Fatalf("expected 3 active keys, got %d", len(active))
	}
	if active[0].ID != idA {
		t.Fatalf("expected never-used key %s first (nulls first), got %s", idA, active[0].ID)
	}
}

func TestListActiveExcludesInactiveAndRevoked(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	idActive, _ := repo.Add(ctx, "sk-active", "")
	idInactive, _ := repo.Add(ctx, "sk-inactive", "")
	idRevoked, _ := repo.Add(ctx, "sk-revoked", "")
	repo.SetStatus(ctx, idInactive, StatusInactive)
	repo.SetStatus(ctx, idRevoked, StatusRevoked)

	active, err := repo.ListActive(ctx, 10)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 1 || active[0].ID != idActive {
		t.Fatalf("expected only %s active, got %+v", idActive, active)
	}
}

func TestAppendLogAndPrune(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	id, _ := repo.Add(ctx, "sk-log", "")

	if err := repo.AppendLog(ctx, id, "gpt-4o", "success"); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}

	stats, err := repo.StatsSnapshot(ctx)
	if err != nil {
		t.Fatalf("StatsSnapshot: %v", err)
	}
	if stats.Usage1h != 1 {
		t.Fatalf("expected 1 request in last hour, got %d", stats.Usage1h)
	}

	pruned, err := repo.PruneLogs(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PruneLogs: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected to prune the one log entry, got %d", pruned)
	}
}

func TestMaskSecret(t *testing.T) {
	cases := map[string]string{
		"":                 "N/A       ",
		"sk-abcdefgh1234":  "sk-...1234",
		"short":            "s...t     ",
		"abcdefghijklmnop": "abc...mnop",
	}
	for in, want := range cases {
		got := MaskSecret(in)
		if got != want {
			t.Errorf("MaskSecret(%q) = %q, want %q", in, got, want)
		}
		if len(got) != 10 {
			t.Errorf("MaskSecret(%q) length = %d, want 10", in, len(got))
		}
	}
}
