package command

import (
	"strconv"

	"railledger/internal/money"
)

// ApproveOperator grants or revises an operator's allowances
// (approve_operator / set_operator_approval, §6). Approved is always true
// for approve_operator and explicit for set_operator_approval.
type ApproveOperator struct {
	Key             string
	Seq             int64
	EpochVal        uint64
	Token, Payer, Operator string
	Approved        bool
	RateAllowance   money.Amount
	LockupAllowance money.Amount
}

func (c *ApproveOperator) IdempotencyKey() string { return c.Key }
func (c *ApproveOperator) CommandType() Type       { return TypeApproveOperator }
func (c *ApproveOperator) Epoch() uint64           { return c.EpochVal }
func (c *ApproveOperator) Partition() string       { return c.Token + ":" + c.Payer + ":" + c.Operator }
func (c *ApproveOperator) SourceSequence() int64   { return c.Seq }
func (c *ApproveOperator) TouchesTokens() bool     { return false }

// TerminateOperator implements terminate_operator (§6).
type TerminateOperator struct {
	Key                    string
	Seq                    int64
	EpochVal               uint64
	Token, Payer, Operator string
}

func (c *TerminateOperator) IdempotencyKey() string { return c.Key }
func (c *TerminateOperator) CommandType() Type       { return TypeTerminateOperator }
func (c *TerminateOperator) Epoch() uint64           { return c.EpochVal }
func (c *TerminateOperator) Partition() string       { return c.Token + ":" + c.Payer + ":" + c.Operator }
func (c *TerminateOperator) SourceSequence() int64   { return c.Seq }
func (c *TerminateOperator) TouchesTokens() bool     { return false }

// Deposit implements deposit (§6).
type Deposit struct {
	Key        string
	Seq        int64
	EpochVal   uint64
	Token, To  string
	Amount     money.Amount
}

func (c *Deposit) IdempotencyKey() string { return c.Key }
func (c *Deposit) CommandType() Type       { return TypeDeposit }
func (c *Deposit) Epoch() uint64           { return c.EpochVal }
func (c *Deposit) Partition() string       { return c.Token + ":" + c.To }
func (c *Deposit) SourceSequence() int64   { return c.Seq }
func (c *Deposit) TouchesTokens() bool     { return true }

// Withdraw implements withdraw / withdraw_to (§6).
type Withdraw struct {
	Key          string
	Seq          int64
	EpochVal     uint64
	Token, Owner string
	Amount       money.Amount
}

func (c *Withdraw) IdempotencyKey() string { return c.Key }
func (c *Withdraw) CommandType() Type       { return TypeWithdraw }
func (c *Withdraw) Epoch() uint64           { return c.EpochVal }
func (c *Withdraw) Partition() string       { return c.Token + ":" + c.Owner }
func (c *Withdraw) SourceSequence() int64   { return c.Seq }
func (c *Withdraw) TouchesTokens() bool     { return true }

// CreateRail implements create_rail (§6).
type CreateRail struct {
	Key                       string
	Seq                       int64
	EpochVal                  uint64
	Token, From, To, Operator string
	Arbiter                   string
}

func (c *CreateRail) IdempotencyKey() string { return c.Key }
func (c *CreateRail) CommandType() Type       { return TypeCreateRail }
func (c *CreateRail) Epoch() uint64           { return c.EpochVal }
func (c *CreateRail) Partition() string       { return c.Token + ":" + c.From + ":" + c.Operator }
func (c *CreateRail) SourceSequence() int64   { return c.Seq }
func (c *CreateRail) TouchesTokens() bool     { return false }

// ModifyRailLockup implements modify_rail_lockup (§6).
type ModifyRailLockup struct {
	Key      string
	Seq      int64
	EpochVal uint64
	RailID   uint64
	Caller   string
	Period   uint64
	Fixed    money.Amount
}

func (c *ModifyRailLockup) IdempotencyKey() string { return c.Key }
func (c *ModifyRailLockup) CommandType() Type       { return TypeModifyRailLockup }
func (c *ModifyRailLockup) Epoch() uint64           { return c.EpochVal }
func (c *ModifyRailLockup) Partition() string       { return railPartition(c.RailID) }
func (c *ModifyRailLockup) SourceSequence() int64   { return c.Seq }
func (c *ModifyRailLockup) TouchesTokens() bool     { return false }

// ModifyRailPayment implements modify_rail_payment (§6).
type ModifyRailPayment struct {
	Key            string
	Seq            int64
	EpochVal       uint64
	RailID         uint64
	Caller         string
	NewRate        money.Amount
	OneTimePayment money.Amount
}

func (c *ModifyRailPayment) IdempotencyKey() string { return c.Key }
func (c *ModifyRailPayment) CommandType() Type       { return TypeModifyRailPayment }
func (c *ModifyRailPayment) Epoch() uint64           { return c.EpochVal }
func (c *ModifyRailPayment) Partition() string       { return railPartition(c.RailID) }
func (c *ModifyRailPayment) SourceSequence() int64   { return c.Seq }
func (c *ModifyRailPayment) TouchesTokens() bool     { return true }

// TerminateRail implements terminate_rail (§6).
type TerminateRail struct {
	Key      string
	Seq      int64
	EpochVal uint64
	RailID   uint64
	Caller   string
}

func (c *TerminateRail) IdempotencyKey() string { return c.Key }
func (c *TerminateRail) CommandType() Type       { return TypeTerminateRail }
func (c *TerminateRail) Epoch() uint64           { return c.EpochVal }
func (c *TerminateRail) Partition() string       { return railPartition(c.RailID) }
func (c *TerminateRail) SourceSequence() int64   { return c.Seq }
func (c *TerminateRail) TouchesTokens() bool     { return false }

// SettleRail implements settle_rail (§6).
type SettleRail struct {
	Key             string
	Seq             int64
	EpochVal        uint64
	RailID          uint64
	UntilEpoch      uint64
	SkipArbitration bool
}

func (c *SettleRail) IdempotencyKey() string { return c.Key }
func (c *SettleRail) CommandType() Type       { return TypeSettleRail }
func (c *SettleRail) Epoch() uint64           { return c.EpochVal }
func (c *SettleRail) Partition() string       { return railPartition(c.RailID) }
func (c *SettleRail) SourceSequence() int64   { return c.Seq }
func (c *SettleRail) TouchesTokens() bool     { return true }

// SettleRailBatch implements settle_rail_batch (§6): any caller, iterates
// settle_rail over ids, aborting the whole batch on the first failure.
type SettleRailBatch struct {
	Key      string
	Seq      int64
	EpochVal uint64
	RailIDs  []uint64
}

func (c *SettleRailBatch) IdempotencyKey() string { return c.Key }
func (c *SettleRailBatch) CommandType() Type       { return TypeSettleRailBatch }
func (c *SettleRailBatch) Epoch() uint64           { return c.EpochVal }
func (c *SettleRailBatch) Partition() string       { return "settle-batch" }
func (c *SettleRailBatch) SourceSequence() int64   { return c.Seq }
func (c *SettleRailBatch) TouchesTokens() bool     { return true }

func railPartition(railID uint64) string {
	return "rail:" + strconv.FormatUint(railID, 10)
}
