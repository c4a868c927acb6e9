package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SnapshotManager handles creating and loading state snapshots for recovery.
// Per SPEC_FULL.md §11: snapshots contain every account, rail, and operator
// approval, plus the idempotency LRU and sequence counters needed to resume
// without replaying the whole command log.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData contains the full in-memory state at a point in time.
type SnapshotData struct {
	Sequence      int64                       `json:"sequence"`
	StateHash     []byte                      `json:"state_hash"`
	PrevHash      []byte                      `json:"prev_hash"`
	Accounts      map[string]AccountSnapshot  `json:"accounts"`       // "token:owner" -> account
	Rails         map[uint64]RailSnapshot     `json:"rails"`          // rail_id -> rail
	Approvals     map[string]ApprovalSnapshot `json:"approvals"`      // "token:payer:operator" -> approval
	SequenceState map[string]int64            `json:"sequence_state"` // partition -> next expected seq
	IdempotencyKeys []string                  `json:"idempotency_keys"` // recent keys for LRU warming
	CreatedAt     time.Time                   `json:"created_at"`
}

// AccountSnapshot is a serializable account. Amounts are decimal strings —
// money.Amount is an arbitrary-precision big.Int.
type AccountSnapshot struct {
	Token               string `json:"token"`
	Owner               string `json:"owner"`
	Funds               string `json:"funds"`
	LockupCurrent       string `json:"lockup_current"`
	LockupRate          string `json:"lockup_rate"`
	LockupLastSettledAt uint64 `json:"lockup_last_settled_at"`
}

// RateChangeEntrySnapshot is one pending segment of a rail's rate-change queue.
type RateChangeEntrySnapshot struct {
	Rate       string `json:"rate"`
	UntilEpoch uint64 `json:"until_epoch"`
}

// RailSnapshot is a serializable rail.
type RailSnapshot struct {
	ID               uint64                    `json:"id"`
	IsActive         bool                      `json:"is_active"`
	Token            string                    `json:"token"`
	From             string                    `json:"from"`
	To               string                    `json:"to"`
	Operator         string                    `json:"operator"`
	Arbiter          string                    `json:"arbiter"`
	PaymentRate      string                    `json:"payment_rate"`
	LockupPeriod     uint64                    `json:"lockup_period"`
	LockupFixed      string                    `json:"lockup_fixed"`
	SettledUpTo      uint64                    `json:"settled_up_to"`
	TerminationEpoch uint64                    `json:"termination_epoch"`
	RateChangeQueue  []RateChangeEntrySnapshot `json:"rate_change_queue"`
}

// ApprovalSnapshot is a serializable operator approval.
type ApprovalSnapshot struct {
	Token           string `json:"token"`
	Payer           string `json:"payer"`
	Operator        string `json:"operator"`
	IsApproved      bool   `json:"is_approved"`
	RateAllowance   string `json:"rate_allowance"`
	LockupAllowance string `json:"lockup_allowance"`
	RateUsage       string `json:"rate_usage"`
	LockupUsage     string `json:"lockup_usage"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// CreateSnapshotTable is deprecated — use Migrator.Up() with migrations/*.sql instead.
// Kept as a no-op for backward compatibility during transition.
func (sm *SnapshotManager) CreateSnapshotTable(ctx context.Context) error {
	return nil
}

// SaveSnapshot persists a snapshot to Postgres.
// Per SPEC_FULL.md §11: snapshots are taken periodically (e.g. every 100k
// commands) and verified by replaying commands from the snapshot sequence
// forward.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	sizeBytes := len(data)
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO ledger_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, sizeBytes, snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot.
// On warm restart: load the latest snapshot, then replay commands from
// snapshot.sequence+1.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM ledger_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No snapshot — cold start
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE ledger_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadCommandsFrom loads commands from a given sequence for replay. Used for
// warm restart (replay from snapshot) and cold restart (replay all).
func (sm *SnapshotManager) LoadCommandsFrom(ctx context.Context, fromSequence int64, limit int) ([]CommandRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, command_type, idempotency_key, partition, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM ledger_log.commands
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commands []CommandRow
	for rows.Next() {
		var c CommandRow
		if err := rows.Scan(
			&c.Sequence, &c.CommandType, &c.IdempotencyKey, &c.Partition,
			&c.Payload, &c.StateHash, &c.PrevHash, &c.Timestamp, &c.SourceSequence,
		); err != nil {
			return nil, err
		}
		commands = append(commands, c)
	}

	return commands, rows.Err()
}

// GetLatestSequence returns the highest sequence in the command log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM ledger_log.commands
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // Empty command log
	}
	return seq.Int64, nil
}
