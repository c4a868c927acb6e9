package projection_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"railledger/internal/projection"
	"railledger/internal/testutil"
)

func TestProjectionWorker_UpsertsAccountRailApproval(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	inputChan := make(chan projection.ProjectionOutput, 4)
	worker := projection.NewProjectionWorker(db, inputChan)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	inputChan <- projection.ProjectionOutput{
		Sequence: 1,
		Accounts: []projection.AccountProjection{
			{Token: "USDC", Owner: "alice", Funds: "1000", LockupCurrent: "0", LockupRate: "0", LockupLastSettledAt: 0},
		},
		Rails: []projection.RailProjection{
			{ID: 1, IsActive: true, Token: "USDC", From: "alice", To: "bob", Operator: "op", Arbiter: "", PaymentRate: "10", LockupPeriod: 5, LockupFixed: "0", SettledUpTo: 0, TerminationEpoch: 0},
		},
		Approval: &projection.ApprovalProjection{
			Token: "USDC", Payer: "alice", Operator: "op", IsApproved: true,
			RateAllowance: "100", LockupAllowance: "1000", RateUsage: "10", LockupUsage: "0",
		},
	}

	deadline := time.After(2 * time.Second)
	for {
		var watermark sql.NullInt64
		err := db.QueryRowContext(context.Background(),
			`SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'`).Scan(&watermark)
		if err == nil && watermark.Valid && watermark.Int64 == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for projection watermark to advance")
		case <-time.After(20 * time.Millisecond):
		}
	}

	var funds string
	if err := db.QueryRowContext(context.Background(),
		`SELECT funds FROM projections.accounts WHERE token = $1 AND owner = $2`, "USDC", "alice").Scan(&funds); err != nil {
		t.Fatalf("query account projection: %v", err)
	}
	if funds != "1000" {
		t.Errorf("account funds projection = %s, want 1000", funds)
	}

	var operator string
	if err := db.QueryRowContext(context.Background(),
		`SELECT operator FROM projections.rails WHERE id = $1`, 1).Scan(&operator); err != nil {
		t.Fatalf("query rail projection: %v", err)
	}
	if operator != "op" {
		t.Errorf("rail operator projection = %s, want op", operator)
	}

	cancel()
	close(inputChan)
	<-done
}
