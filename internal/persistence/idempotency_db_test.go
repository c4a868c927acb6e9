package persistence_test

import (
	"context"
	"testing"
	"time"

	"railledger/internal/persistence"
	"railledger/internal/testutil"
)

func TestPostgresIdempotencyChecker_IsDuplicate(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	w := persistence.NewCommandLogWriter(db, 100, time.Second)
	ctx := context.Background()
	if err := w.WriteCommandBatch(ctx, []persistence.CommandRow{
		{Sequence: 1, CommandType: "Deposit", IdempotencyKey: "dep-1", Partition: "USDC:alice", Payload: []byte(`{}`), Timestamp: time.Now().UTC()},
	}, nil); err != nil {
		t.Fatalf("seed command: %v", err)
	}

	checker := persistence.NewPostgresIdempotencyChecker(db)

	dup, err := checker.IsDuplicate("Deposit", "dep-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dup {
		t.Error("expected a previously-written (type, key) pair to be reported as duplicate")
	}

	dup, err = checker.IsDuplicate("Deposit", "never-seen")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dup {
		t.Error("expected an unseen idempotency key to be reported as not duplicate")
	}
}
