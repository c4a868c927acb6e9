package persistence_test

import (
	"context"
	"testing"
	"time"

	"railledger/internal/persistence"
	"railledger/internal/testutil"
)

func TestPersistenceWorker_FlushesOnBatchSize(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	inputChan := make(chan persistence.CoreOutput, 10)
	worker := persistence.NewPersistenceWorker(db, inputChan, 2, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	for i := int64(1); i <= 2; i++ {
		inputChan <- persistence.CoreOutput{
			CommandRow: persistence.CommandRow{
				Sequence: i, CommandType: "Deposit", IdempotencyKey: "k" + string(rune('0'+i)),
				Partition: "USDC:alice", Payload: []byte(`{}`), Timestamp: time.Now().UTC(),
			},
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		sm := persistence.NewSnapshotManager(db)
		seq, err := sm.GetLatestSequence(context.Background())
		if err != nil {
			t.Fatalf("get latest sequence: %v", err)
		}
		if seq == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for batch flush")
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	close(inputChan)
	<-done
}
