package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// ProjectionOutput carries the touched entities' full post-command state,
// built by the dispatcher (it has synchronous access to the live store at
// the point a command commits). The projection worker only ever upserts
// what it's handed — it does not read back from the live store, since it
// runs on its own goroutine off the non-blocking projection channel (§12).
type ProjectionOutput struct {
	Sequence int64
	Accounts []AccountProjection
	Rails    []RailProjection
	Approval *ApprovalProjection
}

// ProjectionWorker updates projection tables from processed commands.
// Per SPEC_FULL.md §12: the projection channel is non-blocking with drop.
// If projections fall behind, they can be rebuilt from the command log
// plus periodic snapshots — unlike the commands/journal tables, dropped
// projection updates are not a correctness issue, only a staleness one.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Sequence, err)
				// Continue — projections are eventually consistent and
				// can be rebuilt from the command log plus snapshots.
			}
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, a := range output.Accounts {
		if err := pw.upsertAccount(ctx, tx, a); err != nil {
			return fmt.Errorf("account projection: %w", err)
		}
	}
	for _, r := range output.Rails {
		if err := pw.upsertRail(ctx, tx, r); err != nil {
			return fmt.Errorf("rail projection: %w", err)
		}
	}
	if output.Approval != nil {
		if err := pw.upsertApproval(ctx, tx, *output.Approval); err != nil {
			return fmt.Errorf("approval projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *ProjectionWorker) upsertAccount(ctx context.Context, tx *sql.Tx, a AccountProjection) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.accounts
			(token, owner, funds, lockup_current, lockup_rate, lockup_last_settled_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (token, owner) DO UPDATE SET
			funds = $3, lockup_current = $4, lockup_rate = $5, lockup_last_settled_at = $6
	`, a.Token, a.Owner, a.Funds, a.LockupCurrent, a.LockupRate, a.LockupLastSettledAt)
	return err
}

func (pw *ProjectionWorker) upsertRail(ctx context.Context, tx *sql.Tx, r RailProjection) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.rails
			(id, is_active, token, "from", "to", operator, arbiter,
			 payment_rate, lockup_period, lockup_fixed, settled_up_to, termination_epoch)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			is_active = $2, payment_rate = $8, lockup_period = $9, lockup_fixed = $10,
			settled_up_to = $11, termination_epoch = $12
	`, r.ID, r.IsActive, r.Token, r.From, r.To, r.Operator, r.Arbiter,
		r.PaymentRate, r.LockupPeriod, r.LockupFixed, r.SettledUpTo, r.TerminationEpoch)
	return err
}

func (pw *ProjectionWorker) upsertApproval(ctx context.Context, tx *sql.Tx, a ApprovalProjection) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.approvals
			(token, payer, operator, is_approved, rate_allowance, lockup_allowance, rate_usage, lockup_usage)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (token, payer, operator) DO UPDATE SET
			is_approved = $4, rate_allowance = $5, lockup_allowance = $6, rate_usage = $7, lockup_usage = $8
	`, a.Token, a.Payer, a.Operator, a.IsApproved, a.RateAllowance, a.LockupAllowance, a.RateUsage, a.LockupUsage)
	return err
}

// CreateProjectionSchema is deprecated — use Migrator.Up() with migrations/*.sql instead.
func CreateProjectionSchema(ctx context.Context, db *sql.DB) error {
	return nil
}

// RebuildProjections truncates and clears the projection watermark; full
// rebuild requires replaying the command log through the dispatcher (the
// projection tables hold live entity state, not journal deltas, so they
// can't be reconstructed by a SQL aggregate the way a pure balance ledger
// can — see internal/persistence/snapshot.go's replay path).
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.accounts`,
		`TRUNCATE projections.rails`,
		`TRUNCATE projections.approvals`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	log.Println("INFO: projection tables cleared — replay the command log through the dispatcher to rebuild")
	return nil
}
