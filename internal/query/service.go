package query

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
)

// QueryService provides read-only access to projection tables. Per
// SPEC_FULL.md §16: queries are served over plain HTTP/JSON, reading from
// Postgres projection tables kept current by the projection worker rather
// than the live dispatcher store. All responses include as_of_sequence for
// freshness semantics.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetAccount returns an account's funds and lockup state.
func (qs *QueryService) GetAccount(ctx context.Context, token, owner string) (*AccountResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var resp AccountResponse
	err = qs.db.QueryRowContext(ctx, `
		SELECT token, owner, funds, lockup_current, lockup_rate, lockup_last_settled_at
		FROM projections.accounts
		WHERE token = $1 AND owner = $2
	`, token, owner).Scan(
		&resp.Token, &resp.Owner, &resp.Funds, &resp.LockupCurrent,
		&resp.LockupRate, &resp.LockupLastSettledAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	available, err := subtractDecimal(resp.Funds, resp.LockupCurrent)
	if err != nil {
		return nil, fmt.Errorf("compute available_funds: %w", err)
	}
	resp.AvailableFunds = available
	resp.AsOfSequence = asOfSeq
	return &resp, nil
}

// GetRail returns a single rail by id.
func (qs *QueryService) GetRail(ctx context.Context, railID uint64) (*RailResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var resp RailResponse
	err = qs.db.QueryRowContext(ctx, `
		SELECT id, is_active, token, "from", "to", operator, arbiter,
		       payment_rate, lockup_period, lockup_fixed, settled_up_to, termination_epoch
		FROM projections.rails
		WHERE id = $1
	`, railID).Scan(
		&resp.ID, &resp.IsActive, &resp.Token, &resp.From, &resp.To, &resp.Operator, &resp.Arbiter,
		&resp.PaymentRate, &resp.LockupPeriod, &resp.LockupFixed, &resp.SettledUpTo, &resp.TerminationEpoch,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	resp.AsOfSequence = asOfSeq
	return &resp, nil
}

// GetRailsByOwner returns every rail where owner is either the payer or the
// payee, newest first.
func (qs *QueryService) GetRailsByOwner(ctx context.Context, owner string, limit int) ([]RailResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT id, is_active, token, "from", "to", operator, arbiter,
		       payment_rate, lockup_period, lockup_fixed, settled_up_to, termination_epoch
		FROM projections.rails
		WHERE "from" = $1 OR "to" = $1
		ORDER BY id DESC
		LIMIT $2
	`, owner, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rails []RailResponse
	for rows.Next() {
		var r RailResponse
		r.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&r.ID, &r.IsActive, &r.Token, &r.From, &r.To, &r.Operator, &r.Arbiter,
			&r.PaymentRate, &r.LockupPeriod, &r.LockupFixed, &r.SettledUpTo, &r.TerminationEpoch,
		); err != nil {
			return nil, err
		}
		rails = append(rails, r)
	}
	return rails, rows.Err()
}

// GetApproval returns an operator's current allowances and usage for a payer.
func (qs *QueryService) GetApproval(ctx context.Context, token, payer, operator string) (*ApprovalResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var resp ApprovalResponse
	err = qs.db.QueryRowContext(ctx, `
		SELECT token, payer, operator, is_approved, rate_allowance, lockup_allowance, rate_usage, lockup_usage
		FROM projections.approvals
		WHERE token = $1 AND payer = $2 AND operator = $3
	`, token, payer, operator).Scan(
		&resp.Token, &resp.Payer, &resp.Operator, &resp.IsApproved,
		&resp.RateAllowance, &resp.LockupAllowance, &resp.RateUsage, &resp.LockupUsage,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	resp.AsOfSequence = asOfSeq
	return &resp, nil
}

// GetJournalHistory returns journal entries touching an owner's accounts,
// across all tokens, newest first, with cursor-based pagination.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	owner string,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := "%:" + owner

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, token, amount, journal_type, timestamp
		FROM ledger_log.journal
		WHERE debit_account LIKE $1 OR credit_account LIKE $1
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Token, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity and the per-token
// conservation invariant (I4: Σ account.funds changes only by net
// deposit − withdraw).
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT c1.sequence, c1.prev_hash, c2.state_hash
		FROM ledger_log.commands c1
		LEFT JOIN ledger_log.commands c2 ON c2.sequence = c1.sequence - 1
		WHERE c1.sequence > 0 AND c1.prev_hash != COALESCE(c2.state_hash, c1.prev_hash)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		var prevHash, expectedHash []byte
		if err := rows.Scan(&seq, &prevHash, &expectedHash); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	imbalanceRows, err := qs.db.QueryContext(ctx, `
		SELECT a.token, a.total_funds - COALESCE(d.total, 0) + COALESCE(w.total, 0) AS imbalance
		FROM (SELECT token, SUM(funds::numeric) AS total_funds FROM projections.accounts GROUP BY token) a
		LEFT JOIN (
			SELECT token, SUM(amount::numeric) AS total FROM ledger_log.journal WHERE journal_type = 0 GROUP BY token
		) d ON d.token = a.token
		LEFT JOIN (
			SELECT token, SUM(amount::numeric) AS total FROM ledger_log.journal WHERE journal_type = 1 GROUP BY token
		) w ON w.token = a.token
		WHERE a.total_funds - COALESCE(d.total, 0) + COALESCE(w.total, 0) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer imbalanceRows.Close()

	for imbalanceRows.Next() {
		var ub UnbalancedToken
		if err := imbalanceRows.Scan(&ub.Token, &ub.Imbalance); err != nil {
			return nil, err
		}
		report.UnbalancedTokens = append(report.UnbalancedTokens, ub)
	}
	if err := imbalanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedTokens) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

// subtractDecimal subtracts two non-negative decimal strings using
// math/big, mirroring the checked-arithmetic semantics of internal/money
// without importing it here (query responses carry plain decimal strings,
// not internal ledger types).
func subtractDecimal(a, b string) (string, error) {
	amt, err := parseDecimal(a)
	if err != nil {
		return "", err
	}
	sub, err := parseDecimal(b)
	if err != nil {
		return "", err
	}
	amt.Sub(amt, sub)
	if amt.Sign() < 0 {
		amt.SetInt64(0)
	}
	return amt.String(), nil
}

func parseDecimal(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("query: invalid decimal %q", s)
	}
	return n, nil
}
