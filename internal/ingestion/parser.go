package ingestion

import (
	"encoding/json"
	"fmt"

	"railledger/internal/command"
	"railledger/internal/money"
)

// ParseRawCommand converts a RawCommand (JSON bytes + command type string)
// into a typed command.Command. The ingestion shell validates, parses, and
// converts raw wire commands before handing them to the dispatcher.
func ParseRawCommand(raw RawCommand, commandType string) (command.Command, error) {
	switch commandType {
	case "ApproveOperator", "SetOperatorApproval":
		return parseApproveOperator(raw.Data, commandType == "ApproveOperator")
	case "TerminateOperator":
		return parseTerminateOperator(raw.Data)
	case "Deposit":
		return parseDeposit(raw.Data)
	case "Withdraw":
		return parseWithdraw(raw.Data)
	case "CreateRail":
		return parseCreateRail(raw.Data)
	case "ModifyRailLockup":
		return parseModifyRailLockup(raw.Data)
	case "ModifyRailPayment":
		return parseModifyRailPayment(raw.Data)
	case "TerminateRail":
		return parseTerminateRail(raw.Data)
	case "SettleRail":
		return parseSettleRail(raw.Data)
	case "SettleRailBatch":
		return parseSettleRailBatch(raw.Data)
	default:
		return nil, fmt.Errorf("unknown command type: %s", commandType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS and the
// admin HTTP surface. Field names use snake_case to match upstream
// producers.

type approveOperatorJSON struct {
	Key             string `json:"idempotency_key"`
	Sequence        int64  `json:"sequence"`
	Epoch           uint64 `json:"epoch"`
	Token           string `json:"token"`
	Payer           string `json:"payer"`
	Operator        string `json:"operator"`
	Approved        bool   `json:"approved"`
	RateAllowance   string `json:"rate_allowance"`
	LockupAllowance string `json:"lockup_allowance"`
}

func parseApproveOperator(data []byte, alwaysApproved bool) (*command.ApproveOperator, error) {
	var j approveOperatorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ApproveOperator: %w", err)
	}
	rate, err := money.FromString(orZero(j.RateAllowance))
	if err != nil {
		return nil, fmt.Errorf("parse rate_allowance: %w", err)
	}
	lockup, err := money.FromString(orZero(j.LockupAllowance))
	if err != nil {
		return nil, fmt.Errorf("parse lockup_allowance: %w", err)
	}
	approved := j.Approved
	if alwaysApproved {
		approved = true
	}
	return &command.ApproveOperator{
		Key:             j.Key,
		Seq:             j.Sequence,
		EpochVal:        j.Epoch,
		Token:           j.Token,
		Payer:           j.Payer,
		Operator:        j.Operator,
		Approved:        approved,
		RateAllowance:   rate,
		LockupAllowance: lockup,
	}, nil
}

type terminateOperatorJSON struct {
	Key      string `json:"idempotency_key"`
	Sequence int64  `json:"sequence"`
	Epoch    uint64 `json:"epoch"`
	Token    string `json:"token"`
	Payer    string `json:"payer"`
	Operator string `json:"operator"`
}

func parseTerminateOperator(data []byte) (*command.TerminateOperator, error) {
	var j terminateOperatorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TerminateOperator: %w", err)
	}
	return &command.TerminateOperator{
		Key:      j.Key,
		Seq:      j.Sequence,
		EpochVal: j.Epoch,
		Token:    j.Token,
		Payer:    j.Payer,
		Operator: j.Operator,
	}, nil
}

type depositJSON struct {
	Key      string `json:"idempotency_key"`
	Sequence int64  `json:"sequence"`
	Epoch    uint64 `json:"epoch"`
	Token    string `json:"token"`
	To       string `json:"to"`
	Amount   string `json:"amount"`
}

func parseDeposit(data []byte) (*command.Deposit, error) {
	var j depositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Deposit: %w", err)
	}
	amount, err := money.FromString(j.Amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	return &command.Deposit{
		Key:      j.Key,
		Seq:      j.Sequence,
		EpochVal: j.Epoch,
		Token:    j.Token,
		To:       j.To,
		Amount:   amount,
	}, nil
}

type withdrawJSON struct {
	Key      string `json:"idempotency_key"`
	Sequence int64  `json:"sequence"`
	Epoch    uint64 `json:"epoch"`
	Token    string `json:"token"`
	Owner    string `json:"owner"`
	Amount   string `json:"amount"`
}

func parseWithdraw(data []byte) (*command.Withdraw, error) {
	var j withdrawJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Withdraw: %w", err)
	}
	amount, err := money.FromString(j.Amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	return &command.Withdraw{
		Key:      j.Key,
		Seq:      j.Sequence,
		EpochVal: j.Epoch,
		Token:    j.Token,
		Owner:    j.Owner,
		Amount:   amount,
	}, nil
}

type createRailJSON struct {
	Key      string `json:"idempotency_key"`
	Sequence int64  `json:"sequence"`
	Epoch    uint64 `json:"epoch"`
	Token    string `json:"token"`
	From     string `json:"from"`
	To       string `json:"to"`
	Operator string `json:"operator"`
	Arbiter  string `json:"arbiter"`
}

func parseCreateRail(data []byte) (*command.CreateRail, error) {
	var j createRailJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CreateRail: %w", err)
	}
	return &command.CreateRail{
		Key:      j.Key,
		Seq:      j.Sequence,
		EpochVal: j.Epoch,
		Token:    j.Token,
		From:     j.From,
		To:       j.To,
		Operator: j.Operator,
		Arbiter:  j.Arbiter,
	}, nil
}

type modifyRailLockupJSON struct {
	Key      string `json:"idempotency_key"`
	Sequence int64  `json:"sequence"`
	Epoch    uint64 `json:"epoch"`
	RailID   uint64 `json:"rail_id"`
	Caller   string `json:"caller"`
	Period   uint64 `json:"period"`
	Fixed    string `json:"fixed"`
}

func parseModifyRailLockup(data []byte) (*command.ModifyRailLockup, error) {
	var j modifyRailLockupJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ModifyRailLockup: %w", err)
	}
	fixed, err := money.FromString(orZero(j.Fixed))
	if err != nil {
		return nil, fmt.Errorf("parse fixed: %w", err)
	}
	return &command.ModifyRailLockup{
		Key:      j.Key,
		Seq:      j.Sequence,
		EpochVal: j.Epoch,
		RailID:   j.RailID,
		Caller:   j.Caller,
		Period:   j.Period,
		Fixed:    fixed,
	}, nil
}

type modifyRailPaymentJSON struct {
	Key            string `json:"idempotency_key"`
	Sequence       int64  `json:"sequence"`
	Epoch          uint64 `json:"epoch"`
	RailID         uint64 `json:"rail_id"`
	Caller         string `json:"caller"`
	NewRate        string `json:"new_rate"`
	OneTimePayment string `json:"one_time_payment"`
}

func parseModifyRailPayment(data []byte) (*command.ModifyRailPayment, error) {
	var j modifyRailPaymentJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ModifyRailPayment: %w", err)
	}
	rate, err := money.FromString(orZero(j.NewRate))
	if err != nil {
		return nil, fmt.Errorf("parse new_rate: %w", err)
	}
	oneTime, err := money.FromString(orZero(j.OneTimePayment))
	if err != nil {
		return nil, fmt.Errorf("parse one_time_payment: %w", err)
	}
	return &command.ModifyRailPayment{
		Key:            j.Key,
		Seq:            j.Sequence,
		EpochVal:       j.Epoch,
		RailID:         j.RailID,
		Caller:         j.Caller,
		NewRate:        rate,
		OneTimePayment: oneTime,
	}, nil
}

type terminateRailJSON struct {
	Key      string `json:"idempotency_key"`
	Sequence int64  `json:"sequence"`
	Epoch    uint64 `json:"epoch"`
	RailID   uint64 `json:"rail_id"`
	Caller   string `json:"caller"`
}

func parseTerminateRail(data []byte) (*command.TerminateRail, error) {
	var j terminateRailJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TerminateRail: %w", err)
	}
	return &command.TerminateRail{
		Key:      j.Key,
		Seq:      j.Sequence,
		EpochVal: j.Epoch,
		RailID:   j.RailID,
		Caller:   j.Caller,
	}, nil
}

type settleRailJSON struct {
	Key             string `json:"idempotency_key"`
	Sequence        int64  `json:"sequence"`
	Epoch           uint64 `json:"epoch"`
	RailID          uint64 `json:"rail_id"`
	UntilEpoch      uint64 `json:"until_epoch"`
	SkipArbitration bool   `json:"skip_arbitration"`
}

func parseSettleRail(data []byte) (*command.SettleRail, error) {
	var j settleRailJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SettleRail: %w", err)
	}
	return &command.SettleRail{
		Key:             j.Key,
		Seq:             j.Sequence,
		EpochVal:        j.Epoch,
		RailID:          j.RailID,
		UntilEpoch:      j.UntilEpoch,
		SkipArbitration: j.SkipArbitration,
	}, nil
}

type settleRailBatchJSON struct {
	Key      string   `json:"idempotency_key"`
	Sequence int64    `json:"sequence"`
	Epoch    uint64   `json:"epoch"`
	RailIDs  []uint64 `json:"rail_ids"`
}

func parseSettleRailBatch(data []byte) (*command.SettleRailBatch, error) {
	var j settleRailBatchJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SettleRailBatch: %w", err)
	}
	return &command.SettleRailBatch{
		Key:      j.Key,
		Seq:      j.Sequence,
		EpochVal: j.Epoch,
		RailIDs:  j.RailIDs,
	}, nil
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
