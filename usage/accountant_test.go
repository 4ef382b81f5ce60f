package usage

import (
	"testing"
	"time"
)

func TestAggregateWindowCounts(t *testing.T) {
	a := New(0, 0)
	now := time.Now()

	a.Record("k1", now.Add(-30*time.Second))
	a.Record("k1", now.Add(-30*time.Minute))
	a.Record("k1", now.Add(-2*time.Hour))
	a.Record("k1", now.Add(-23*time.Hour))
	a.Record("k1", now.Add(-25*time.Hour)) // older than 24h: not counted by Aggregate

	counts := a.Aggregate(now)["k1"]
	if counts.Last1m != 1 {
		t.Errorf("Last1m = %d, want 1", counts.Last1m)
	}
	if counts.Last1h != 2 {
		t.Errorf("Last1h = %d, want 2", counts.Last1h)
	}
	if counts.Last24h != 4 {
		t.Errorf("Last24h = %d, want 4 (the 25h-old entry is outside the 24h window)", counts.Last24h)
	}
}

func TestCapacityEvictsOldestOnInsert(t *testing.T) {
	a := New(3, 0)
	now := time.Now()

	for i := 0; i < 3; i++ {
		a.Record("k1", now.Add(time.Duration(i)*time.Millisecond))
	}
	if a.Len("k1") != 3 {
		t.Fatalf("expected 3 entries, got %d", a.Len("k1"))
	}

	a.Record("k1", now.Add(10*time.Millisecond))
	if a.Len("k1") != 3 {
		t.Fatalf("expected eviction to keep length at cap 3, got %d", a.Len("k1"))
	}
}

func TestForgetAndGC(t *testing.T) {
	a := New(0, 0)
	now := time.Now()
	a.Record("keep", now)
	a.Record("drop", now)

	a.Forget("drop")
	if a.Len("drop") != 0 {
		t.Fatalf("expected Forget to clear the window")
	}

	a.Record("ghost", now)
	a.GC(map[string]struct{}{"keep": {}})
	if a.Len("ghost") != 0 {
		t.Fatalf("expected GC to drop windows absent from the valid set")
	}
	if a.Len("keep") != 1 {
		t.Fatalf("expected GC to retain windows present in the valid set")
	}
}

func TestSizesReportsEveryKnownKey(t *testing.T) {
	a := New(0, 0)
	now := time.Now()
	a.Record("k1", now)
	a.Record("k1", now)
	a.Record("k2", now)

	sizes := a.Sizes()
	if len(sizes) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(sizes))
	}
	if sizes["k1"] != 2 || sizes["k2"] != 1 {
		t.Fatalf("unexpected sizes: %v", sizes)
	}
}

func TestNonDecreasingTimestampsWithinWindow(t *testing.T) {
	a := New(0, 0)
	now := time.Now()
	for i := 0; i < 5; i++ {
		a.Record("k", now.Add(time.Duration(i)*time.Second))
	}
	if got := a.CountInWindow("k", now.Add(5*time.Second), time.Hour); got != 5 {
		t.Fatalf("CountInWindow = %d, want 5", got)
	}
}
