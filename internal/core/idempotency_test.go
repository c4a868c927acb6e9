package core_test

import (
	"errors"
	"testing"

	"railledger/internal/core"
)

type fakeDBChecker struct {
	duplicate bool
	err       error
	calls     int
}

func (f *fakeDBChecker) IsDuplicate(commandType, idempotencyKey string) (bool, error) {
	f.calls++
	return f.duplicate, f.err
}

func TestIdempotencyChecker_LRUHitAvoidsDB(t *testing.T) {
	db := &fakeDBChecker{}
	ic := core.NewIdempotencyChecker(10, db)
	ic.MarkProcessed("Deposit", "key-1")

	if !ic.IsDuplicate("Deposit", "key-1") {
		t.Fatal("expected LRU hit to report duplicate")
	}
	if db.calls != 0 {
		t.Errorf("db called %d times, want 0 (LRU should short-circuit)", db.calls)
	}
}

func TestIdempotencyChecker_FallsThroughToDB(t *testing.T) {
	db := &fakeDBChecker{duplicate: true}
	ic := core.NewIdempotencyChecker(10, db)

	if !ic.IsDuplicate("Deposit", "key-2") {
		t.Fatal("expected DB hit to report duplicate")
	}
	if db.calls != 1 {
		t.Errorf("db called %d times, want 1", db.calls)
	}
	// Second check should now hit the LRU, since a DB hit warms it.
	if !ic.IsDuplicate("Deposit", "key-2") {
		t.Fatal("expected second check to also report duplicate")
	}
	if db.calls != 1 {
		t.Errorf("db called %d times after warm, want still 1", db.calls)
	}
}

func TestIdempotencyChecker_DBErrorIsConservativelyNotDuplicate(t *testing.T) {
	db := &fakeDBChecker{err: errors.New("connection refused")}
	ic := core.NewIdempotencyChecker(10, db)

	if ic.IsDuplicate("Deposit", "key-3") {
		t.Fatal("a DB error should not be treated as a duplicate")
	}
}

func TestIdempotencyChecker_NotDuplicateWhenUnseen(t *testing.T) {
	db := &fakeDBChecker{duplicate: false}
	ic := core.NewIdempotencyChecker(10, db)

	if ic.IsDuplicate("Deposit", "never-seen") {
		t.Fatal("expected false for an unseen key")
	}
}

func TestIdempotencyChecker_WarmLRUSeedsRecentKeys(t *testing.T) {
	db := &fakeDBChecker{}
	ic := core.NewIdempotencyChecker(10, db)
	ic.WarmLRU([]string{"Deposit:key-a", "Withdraw:key-b"})

	if !ic.IsDuplicate("Deposit", "key-a") {
		t.Error("warmed key should be treated as a duplicate")
	}
	if db.calls != 0 {
		t.Errorf("db called %d times, want 0", db.calls)
	}
}

func TestIdempotencyLRU_EvictsOldestOverCapacity(t *testing.T) {
	lru := core.NewIdempotencyLRU(2)
	lru.Add("a")
	lru.Add("b")
	lru.Add("c") // evicts "a"

	if lru.Contains("a") {
		t.Error("expected \"a\" to be evicted")
	}
	if !lru.Contains("b") || !lru.Contains("c") {
		t.Error("expected \"b\" and \"c\" to remain")
	}
	if lru.Evictions() != 1 {
		t.Errorf("evictions = %d, want 1", lru.Evictions())
	}
}

func TestIdempotencyLRU_ContainsPromotesToFront(t *testing.T) {
	lru := core.NewIdempotencyLRU(2)
	lru.Add("a")
	lru.Add("b")
	lru.Contains("a") // promote "a", so "b" becomes the eviction candidate
	lru.Add("c")

	if lru.Contains("b") {
		t.Error("expected \"b\" to be evicted after \"a\" was promoted")
	}
	if !lru.Contains("a") {
		t.Error("expected \"a\" to remain after being promoted")
	}
}

func TestIdempotencyLRU_KeysMostRecentFirst(t *testing.T) {
	lru := core.NewIdempotencyLRU(10)
	lru.Add("a")
	lru.Add("b")
	lru.Add("c")

	keys := lru.Keys()
	if len(keys) != 3 || keys[0] != "c" || keys[2] != "a" {
		t.Errorf("keys = %v, want [c, b, a]", keys)
	}
}
