package core

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"railledger/internal/arbiter"
	"railledger/internal/command"
	"railledger/internal/ledger"
	"railledger/internal/ledgererr"
	"railledger/internal/money"
	"railledger/internal/observability"
	"railledger/internal/projection"
	"railledger/internal/railctl"
	"railledger/internal/settle"
)

// externalOwner is the journal counterparty for deposits and withdrawals:
// tokens crossing the system boundary, never a real owned Account.
const externalOwner = "$external"

// CoreOutput is what the dispatcher hands to the persistence and
// projection channels for every accepted command (§4.F). Projection is
// built synchronously, while the dispatcher still holds the only
// reference to the live store, so the projection worker never needs to
// read the store itself.
type CoreOutput struct {
	Envelope   command.Envelope
	Cmd        command.Command
	Batch      *ledger.Batch
	StateDelta []byte
	Projection projection.ProjectionOutput
}

// Result carries whichever command-specific value a caller needs back;
// only the field relevant to the dispatched command type is populated.
type Result struct {
	RailID     ledger.RailID
	Settlement settle.RailResult
	Settlements []settle.RailResult // settle_rail_batch, one per rail ID in order
}

// Dispatcher is the single-threaded command processor (component F):
// the deterministic state machine the rest of the system feeds commands
// into, one at a time, from a single goroutine (§5).
type Dispatcher struct {
	sequence int64
	hasher   *StateHasher

	store   *ledger.Store
	railctl *railctl.Controller

	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	// inTokenOp is the process-wide reentrancy guard (§5.1): no nested
	// token-moving command may run while one is already in flight.
	inTokenOp bool

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// NewDispatcher wires a fresh store, rail controller, idempotency checker,
// and sequence validator together. dbChecker may be nil in tests.
func NewDispatcher(
	startSequence int64,
	arbiters map[string]arbiter.Arbiter,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
	idempotencyLRUCapacity int,
) *Dispatcher {
	if idempotencyLRUCapacity <= 0 {
		idempotencyLRUCapacity = 1_000_000
	}
	store := ledger.NewStore()
	return &Dispatcher{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		store:             store,
		railctl:           railctl.New(store, arbiters),
		idempotency:       NewIdempotencyChecker(idempotencyLRUCapacity, dbChecker),
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// Store exposes the underlying store for the query service and snapshot
// writer; both only ever read it from the same goroutine that owns the
// dispatcher, or after the dispatcher has been quiesced.
func (d *Dispatcher) Store() *ledger.Store { return d.store }

// GetSequence returns the next sequence the dispatcher will assign.
func (d *Dispatcher) GetSequence() int64 { return d.sequence }

// GetStateHash returns the current hash-chain tip.
func (d *Dispatcher) GetStateHash() [32]byte { return d.hasher.GetPrevHash() }

// WarmLRU preloads idempotency keys from a loaded snapshot (§10).
func (d *Dispatcher) WarmLRU(keys []string) { d.idempotency.WarmLRU(keys) }

// SnapshotState is the dispatcher's full in-memory state, as of the last
// applied command, in a form independent of the persistence package's wire
// encoding (§11) — cmd/railledger/main.go converts between the two so core
// doesn't need to import persistence.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Accounts        map[ledger.AccountKey]*ledger.Account
	Rails           map[ledger.RailID]*ledger.Rail
	Approvals       map[ledger.ApprovalKey]*ledger.OperatorApproval
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// CreateSnapshotState captures everything needed to resume without
// replaying the whole command log.
func (d *Dispatcher) CreateSnapshotState() *SnapshotState {
	return &SnapshotState{
		Sequence:        d.sequence - 1,
		StateHash:       d.hasher.GetPrevHash(),
		Accounts:        d.store.AllAccounts(),
		Rails:           d.store.AllRails(),
		Approvals:       d.store.AllApprovals(),
		SequenceState:   d.sequenceValidator.SnapshotState(),
		IdempotencyKeys: d.idempotency.RecentKeys(),
	}
}

// RestoreFromSnapshot loads a previously captured snapshot into the live
// store, ahead of any command dispatch — called once at cold/warm start,
// before replay resumes from snap.Sequence+1.
func (d *Dispatcher) RestoreFromSnapshot(snap *SnapshotState) {
	d.sequence = snap.Sequence + 1
	d.hasher.RestorePrevHash(snap.StateHash)
	for _, a := range snap.Accounts {
		d.store.RestoreAccount(a)
	}
	for _, r := range snap.Rails {
		d.store.RestoreRail(r)
	}
	for _, ap := range snap.Approvals {
		d.store.RestoreApproval(ap)
	}
	d.sequenceValidator.RestoreState(snap.SequenceState)
}

// Dispatch is the command-processing pipeline (§4.F): dedup, sequence
// check, reentrancy/per-rail locking, route to the handler, validate and
// apply the resulting batch, chain the state hash, and emit to both
// output channels.
func (d *Dispatcher) Dispatch(cmd command.Command) (Result, error) {
	start := time.Now()
	cmdType := cmd.CommandType().String()

	isDuplicate := d.idempotency.IsDuplicate(cmdType, cmd.IdempotencyKey())
	if err := d.sequenceValidator.ValidateSequence(cmd.Partition(), cmd.SourceSequence(), cmd.IdempotencyKey(), isDuplicate); err != nil {
		if d.metrics != nil {
			d.metrics.CommandsRejected.WithLabelValues(cmdType, "sequence").Inc()
		}
		return Result{}, fmt.Errorf("sequence validation failed: %w", err)
	}
	if isDuplicate {
		if d.metrics != nil {
			d.metrics.CommandsRejected.WithLabelValues(cmdType, "duplicate").Inc()
		}
		return Result{}, nil
	}

	if cmd.TouchesTokens() {
		if d.inTokenOp {
			if d.metrics != nil {
				d.metrics.CommandsRejected.WithLabelValues(cmdType, "reentrant").Inc()
			}
			return Result{}, ledgererr.New(ledgererr.KindConcurrentModification, "token-moving command already in flight")
		}
		d.inTokenOp = true
		defer func() { d.inTokenOp = false }()
	}

	result, batch, err := d.route(cmd)
	if err != nil {
		if d.metrics != nil {
			d.metrics.CommandsRejected.WithLabelValues(cmdType, reasonFromError(err)).Inc()
		}
		return Result{}, err
	}

	if batch != nil && len(batch.Journals) > 0 {
		batch.Sequence = d.sequence
		for i := range batch.Journals {
			batch.Journals[i].Sequence = d.sequence
		}
		if err := batch.Validate(); err != nil {
			return Result{}, ledgererr.Wrap(ledgererr.KindInvariantBroken, err, "unbalanced batch for %s", cmdType)
		}
		if d.metrics != nil {
			for _, j := range batch.Journals {
				d.metrics.JournalsWritten.WithLabelValues(j.JournalType.String()).Inc()
			}
		}
	}

	digest := d.computeStateDigest(batch)
	stateHash := d.hasher.ComputeHash(int64(cmd.Epoch()), digest)

	envelope := command.Envelope{
		Sequence:       d.sequence,
		IdempotencyKey: cmd.IdempotencyKey(),
		CommandType:    cmd.CommandType(),
		Partition:      cmd.Partition(),
		Epoch:          cmd.Epoch(),
		SourceSequence: cmd.SourceSequence(),
		StateHash:      stateHash,
		PrevHash:       d.hasher.GetPrevHash(),
		Timestamp:      start,
	}
	proj := d.buildProjection(cmd, result, batch)
	proj.Sequence = d.sequence
	output := CoreOutput{Envelope: envelope, Cmd: cmd, Batch: batch, StateDelta: digest, Projection: proj}
	d.sequence++

	d.persistChan <- output
	select {
	case d.projectionChan <- output:
	default:
		if d.metrics != nil {
			d.metrics.ProjectionDrops.WithLabelValues("default").Inc()
		}
	}

	d.idempotency.MarkProcessed(cmdType, cmd.IdempotencyKey())
	if d.metrics != nil {
		d.metrics.CommandsApplied.WithLabelValues(cmdType).Inc()
		d.metrics.CommandDuration.WithLabelValues(cmdType).Observe(time.Since(start).Seconds())
		d.metrics.DispatcherEpoch.Set(float64(cmd.Epoch()))
	}

	return result, nil
}

func reasonFromError(err error) string {
	if le, ok := err.(*ledgererr.Error); ok {
		return le.Kind.String()
	}
	return "unknown"
}

// route dispatches a command to its handler, acquiring and releasing the
// per-rail modification lock (§5.2) around any command that targets an
// existing rail.
func (d *Dispatcher) route(cmd command.Command) (Result, *ledger.Batch, error) {
	switch c := cmd.(type) {
	case *command.ApproveOperator:
		d.railctl.ApproveOperator(c.Token, c.Payer, c.Operator, c.Approved, c.RateAllowance, c.LockupAllowance)
		return Result{}, nil, nil

	case *command.TerminateOperator:
		d.railctl.TerminateOperator(c.Token, c.Payer, c.Operator)
		return Result{}, nil, nil

	case *command.Deposit:
		d.railctl.Deposit(c.Token, c.To, c.Amount, c.EpochVal)
		batch := depositBatch(c.Token, c.To, c.Amount, c.EpochVal, uuid.New(), c.Key)
		return Result{}, batch, nil

	case *command.Withdraw:
		if err := d.railctl.Withdraw(c.Token, c.Owner, c.Amount, c.EpochVal); err != nil {
			return Result{}, nil, err
		}
		batch := withdrawBatch(c.Token, c.Owner, c.Amount, c.EpochVal, uuid.New(), c.Key)
		return Result{}, batch, nil

	case *command.CreateRail:
		id, err := d.railctl.CreateRail(c.Token, c.From, c.To, c.Operator, c.Arbiter, c.EpochVal)
		if err != nil {
			return Result{}, nil, err
		}
		return Result{RailID: id}, nil, nil

	case *command.ModifyRailLockup:
		return d.withRailLock(ledger.RailID(c.RailID), func() (Result, *ledger.Batch, error) {
			err := d.railctl.ModifyRailLockup(ledger.RailID(c.RailID), c.Caller, c.Period, c.Fixed, c.EpochVal)
			return Result{}, nil, err
		})

	case *command.ModifyRailPayment:
		return d.withRailLock(ledger.RailID(c.RailID), func() (Result, *ledger.Batch, error) {
			err := d.railctl.ModifyRailPayment(ledger.RailID(c.RailID), c.Caller, c.NewRate, c.OneTimePayment, c.EpochVal)
			if err != nil {
				return Result{}, nil, err
			}
			var batch *ledger.Batch
			if !c.OneTimePayment.IsZero() {
				rail := d.store.GetRail(ledger.RailID(c.RailID))
				batch = onePaymentBatch(rail, c.OneTimePayment, c.EpochVal, uuid.New(), c.Key)
			}
			return Result{}, batch, nil
		})

	case *command.TerminateRail:
		return d.withRailLock(ledger.RailID(c.RailID), func() (Result, *ledger.Batch, error) {
			err := d.railctl.TerminateRail(ledger.RailID(c.RailID), c.Caller, c.EpochVal)
			return Result{}, nil, err
		})

	case *command.SettleRail:
		return d.withRailLock(ledger.RailID(c.RailID), func() (Result, *ledger.Batch, error) {
			res, batch, err := d.settleOne(ledger.RailID(c.RailID), c.UntilEpoch, c.EpochVal, c.SkipArbitration, uuid.New(), c.Key)
			return Result{Settlement: res}, batch, err
		})

	case *command.SettleRailBatch:
		return d.settleBatch(c)

	default:
		return Result{}, nil, ledgererr.New(ledgererr.KindInvariantBroken, "dispatcher: unknown command type %T", cmd)
	}
}

func (d *Dispatcher) withRailLock(railID ledger.RailID, fn func() (Result, *ledger.Batch, error)) (Result, *ledger.Batch, error) {
	rail := d.store.GetRail(railID)
	if rail == nil {
		return Result{}, nil, ledgererr.New(ledgererr.KindEntityMissing, "rail %d not found", railID)
	}
	if rail.IsLocked {
		return Result{}, nil, ledgererr.New(ledgererr.KindConcurrentModification, "rail %d is locked", railID)
	}
	rail.IsLocked = true
	defer func() { rail.IsLocked = false }()
	return fn()
}

func (d *Dispatcher) settleOne(railID ledger.RailID, untilEpoch, currentEpoch uint64, skipArbitration bool, batchID uuid.UUID, eventRef string) (settle.RailResult, *ledger.Batch, error) {
	rail := d.store.GetRail(railID)
	if rail == nil {
		return settle.RailResult{}, nil, ledgererr.New(ledgererr.KindEntityMissing, "rail %d not found", railID)
	}
	payer := d.store.GetAccount(ledger.AccountKey{Token: rail.Token, Owner: rail.From})
	if payer == nil {
		return settle.RailResult{}, nil, ledgererr.New(ledgererr.KindEntityMissing, "payer for rail %d not found", railID)
	}
	payee := d.store.GetOrCreateAccount(ledger.AccountKey{Token: rail.Token, Owner: rail.To}, currentEpoch)

	arb := d.arbiterFor(rail.Arbiter)
	res, err := settle.Rail(rail, payer, payee, untilEpoch, currentEpoch, skipArbitration, arb)
	if err != nil {
		return settle.RailResult{}, nil, err
	}

	if d.metrics != nil {
		d.metrics.SettlementsCompleted.WithLabelValues(res.Note).Inc()
		if !res.TotalSettled.IsZero() {
			d.metrics.SettlementAmount.WithLabelValues(rail.Token).Add(amountToFloat(res.TotalSettled))
		}
	}

	if res.TotalSettled.IsZero() {
		return res, nil, nil
	}
	batch := &ledger.Batch{
		BatchID:  batchID,
		EventRef: eventRef,
		Epoch:    currentEpoch,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Epoch:         currentEpoch,
			DebitAccount:  ledger.AccountKey{Token: rail.Token, Owner: rail.From},
			CreditAccount: ledger.AccountKey{Token: rail.Token, Owner: rail.To},
			Amount:        res.TotalSettled,
			JournalType:   ledger.JournalTypeRailSettlement,
		}},
	}
	return res, batch, nil
}

// settleBatch implements settle_rail_batch (§4.F, §9: any caller
// authorized): it iterates rail IDs, settling each with
// skip_arbitration=false; a failure on any id aborts the whole command.
func (d *Dispatcher) settleBatch(c *command.SettleRailBatch) (Result, *ledger.Batch, error) {
	results := make([]settle.RailResult, 0, len(c.RailIDs))
	var journals []ledger.Journal
	batchID := uuid.New()

	for _, id := range c.RailIDs {
		res, batch, err := d.withRailLock(ledger.RailID(id), func() (Result, *ledger.Batch, error) {
			res, batch, err := d.settleOne(ledger.RailID(id), c.EpochVal, c.EpochVal, false, batchID, c.Key)
			return Result{Settlement: res}, batch, err
		})
		if err != nil {
			return Result{}, nil, ledgererr.Wrap(ledgererr.KindOf(err), err, "settle_rail_batch: rail %d failed", id)
		}
		results = append(results, res.Settlement)
		if batch != nil {
			journals = append(journals, batch.Journals...)
		}
	}

	if len(journals) == 0 {
		return Result{Settlements: results}, nil, nil
	}
	return Result{Settlements: results}, &ledger.Batch{
		BatchID:  batchID,
		EventRef: c.Key,
		Epoch:    c.EpochVal,
		Journals: journals,
	}, nil
}

func (d *Dispatcher) arbiterFor(name string) arbiter.Arbiter {
	return d.railctl.ResolveArbiter(name)
}

func depositBatch(token, to string, amount money.Amount, epoch uint64, batchID uuid.UUID, eventRef string) *ledger.Batch {
	return &ledger.Batch{
		BatchID:  batchID,
		EventRef: eventRef,
		Epoch:    epoch,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Epoch:         epoch,
			DebitAccount:  ledger.AccountKey{Token: token, Owner: externalOwner},
			CreditAccount: ledger.AccountKey{Token: token, Owner: to},
			Amount:        amount,
			JournalType:   ledger.JournalTypeDeposit,
		}},
	}
}

func withdrawBatch(token, owner string, amount money.Amount, epoch uint64, batchID uuid.UUID, eventRef string) *ledger.Batch {
	return &ledger.Batch{
		BatchID:  batchID,
		EventRef: eventRef,
		Epoch:    epoch,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Epoch:         epoch,
			DebitAccount:  ledger.AccountKey{Token: token, Owner: owner},
			CreditAccount: ledger.AccountKey{Token: token, Owner: externalOwner},
			Amount:        amount,
			JournalType:   ledger.JournalTypeWithdrawal,
		}},
	}
}

func onePaymentBatch(rail *ledger.Rail, amount money.Amount, epoch uint64, batchID uuid.UUID, eventRef string) *ledger.Batch {
	return &ledger.Batch{
		BatchID:  batchID,
		EventRef: eventRef,
		Epoch:    epoch,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Epoch:         epoch,
			DebitAccount:  ledger.AccountKey{Token: rail.Token, Owner: rail.From},
			CreditAccount: ledger.AccountKey{Token: rail.Token, Owner: rail.To},
			Amount:        amount,
			JournalType:   ledger.JournalTypeOneTimePayment,
		}},
	}
}

// buildProjection snapshots every entity the just-applied command touched,
// for the projection worker to upsert. It runs synchronously against the
// live store right after route() succeeds — the store's mutable entity
// state (lockup rates, allowances, usages) isn't recoverable from journal
// deltas alone the way account balances are, so the dispatcher, which
// still holds the only reference to the live store, snapshots it here
// rather than asking the projection worker to derive it independently.
func (d *Dispatcher) buildProjection(cmd command.Command, result Result, batch *ledger.Batch) projection.ProjectionOutput {
	var out projection.ProjectionOutput

	touched := make(map[ledger.AccountKey]struct{})
	if batch != nil {
		for _, j := range batch.Journals {
			if j.DebitAccount.Owner != externalOwner {
				touched[j.DebitAccount] = struct{}{}
			}
			if j.CreditAccount.Owner != externalOwner {
				touched[j.CreditAccount] = struct{}{}
			}
		}
	}
	for key := range touched {
		if acct := d.store.GetAccount(key); acct != nil {
			out.Accounts = append(out.Accounts, accountProjection(acct))
		}
	}

	for _, id := range railIDsFor(cmd, result) {
		if rail := d.store.GetRail(id); rail != nil {
			out.Rails = append(out.Rails, railProjectionOf(rail))
		}
	}

	if key, ok := approvalKeyFor(cmd); ok {
		if appr := d.store.GetApproval(key); appr != nil {
			ap := approvalProjectionOf(appr)
			out.Approval = &ap
		}
	}

	return out
}

// railIDsFor extracts the rail(s) a command addresses, for projection
// purposes. create_rail only learns its rail id from the dispatch result.
func railIDsFor(cmd command.Command, result Result) []ledger.RailID {
	switch c := cmd.(type) {
	case *command.CreateRail:
		return []ledger.RailID{result.RailID}
	case *command.ModifyRailLockup:
		return []ledger.RailID{ledger.RailID(c.RailID)}
	case *command.ModifyRailPayment:
		return []ledger.RailID{ledger.RailID(c.RailID)}
	case *command.TerminateRail:
		return []ledger.RailID{ledger.RailID(c.RailID)}
	case *command.SettleRail:
		return []ledger.RailID{ledger.RailID(c.RailID)}
	case *command.SettleRailBatch:
		ids := make([]ledger.RailID, len(c.RailIDs))
		for i, id := range c.RailIDs {
			ids[i] = ledger.RailID(id)
		}
		return ids
	default:
		return nil
	}
}

// approvalKeyFor extracts the operator approval a command addresses.
func approvalKeyFor(cmd command.Command) (ledger.ApprovalKey, bool) {
	switch c := cmd.(type) {
	case *command.ApproveOperator:
		return ledger.ApprovalKey{Token: c.Token, Payer: c.Payer, Operator: c.Operator}, true
	case *command.TerminateOperator:
		return ledger.ApprovalKey{Token: c.Token, Payer: c.Payer, Operator: c.Operator}, true
	default:
		return ledger.ApprovalKey{}, false
	}
}

func accountProjection(a *ledger.Account) projection.AccountProjection {
	return projection.AccountProjection{
		Token:               a.Key.Token,
		Owner:               a.Key.Owner,
		Funds:               a.Funds.String(),
		LockupCurrent:       a.LockupCurrent.String(),
		LockupRate:          a.LockupRate.String(),
		LockupLastSettledAt: a.LockupLastSettledAt,
	}
}

func railProjectionOf(r *ledger.Rail) projection.RailProjection {
	return projection.RailProjection{
		ID:               uint64(r.ID),
		IsActive:         r.IsActive,
		Token:            r.Token,
		From:             r.From,
		To:               r.To,
		Operator:         r.Operator,
		Arbiter:          r.Arbiter,
		PaymentRate:      r.PaymentRate.String(),
		LockupPeriod:     r.LockupPeriod,
		LockupFixed:      r.LockupFixed.String(),
		SettledUpTo:      r.SettledUpTo,
		TerminationEpoch: r.TerminationEpoch,
	}
}

func approvalProjectionOf(a *ledger.OperatorApproval) projection.ApprovalProjection {
	return projection.ApprovalProjection{
		Token:           a.Key.Token,
		Payer:           a.Key.Payer,
		Operator:        a.Key.Operator,
		IsApproved:      a.IsApproved,
		RateAllowance:   a.RateAllowance.String(),
		LockupAllowance: a.LockupAllowance.String(),
		RateUsage:       a.RateUsage.String(),
		LockupUsage:     a.LockupUsage.String(),
	}
}

// computeStateDigest builds a canonical byte digest of every account the
// batch touched, for the chained state hash (§4.F).
func (d *Dispatcher) computeStateDigest(batch *ledger.Batch) []byte {
	touched := make(map[ledger.AccountKey]struct{})
	if batch != nil {
		for _, j := range batch.Journals {
			touched[j.DebitAccount] = struct{}{}
			touched[j.CreditAccount] = struct{}{}
		}
	}

	keys := make([]ledger.AccountKey, 0, len(touched))
	for k := range touched {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	digest := make([]byte, 0, len(keys)*48)
	for _, key := range keys {
		acct := d.store.GetAccount(key)
		path := key.String()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)
		if acct != nil {
			digest = append(digest, []byte(acct.Funds.String())...)
		}
	}
	return digest
}

func amountToFloat(a money.Amount) float64 {
	return float64(a.Uint64())
}
