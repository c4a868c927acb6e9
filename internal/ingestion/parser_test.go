package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"railledger/internal/command"
	"railledger/internal/ingestion"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawCommand {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawCommand{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseDeposit(t *testing.T) {
	payload := map[string]interface{}{
		"idempotency_key": "dep-1",
		"sequence":        int64(1),
		"epoch":           uint64(10),
		"token":           "USDC",
		"to":              "alice",
		"amount":          "1000000",
	}

	raw := rawFromJSON(t, payload)
	cmd, err := ingestion.ParseRawCommand(raw, "Deposit")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	dep, ok := cmd.(*command.Deposit)
	if !ok {
		t.Fatalf("expected *command.Deposit, got %T", cmd)
	}

	if dep.Token != "USDC" {
		t.Errorf("token: got %s, want USDC", dep.Token)
	}
	if dep.To != "alice" {
		t.Errorf("to: got %s, want alice", dep.To)
	}
	if dep.Amount.String() != "1000000" {
		t.Errorf("amount: got %s, want 1000000", dep.Amount.String())
	}
	if dep.CommandType() != command.TypeDeposit {
		t.Errorf("command type: got %v, want Deposit", dep.CommandType())
	}
}

func TestParseWithdraw(t *testing.T) {
	payload := map[string]interface{}{
		"idempotency_key": "wd-1",
		"sequence":        int64(2),
		"epoch":           uint64(11),
		"token":           "USDC",
		"owner":           "alice",
		"amount":          "500000",
	}

	raw := rawFromJSON(t, payload)
	cmd, err := ingestion.ParseRawCommand(raw, "Withdraw")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	wd, ok := cmd.(*command.Withdraw)
	if !ok {
		t.Fatalf("expected *command.Withdraw, got %T", cmd)
	}
	if wd.Amount.String() != "500000" {
		t.Errorf("amount: got %s, want 500000", wd.Amount.String())
	}
}

func TestParseCreateRail(t *testing.T) {
	payload := map[string]interface{}{
		"idempotency_key": "rail-1",
		"sequence":        int64(3),
		"epoch":           uint64(12),
		"token":           "USDC",
		"from":            "alice",
		"to":              "bob",
		"operator":        "stream-operator",
		"arbiter":         "default",
	}

	raw := rawFromJSON(t, payload)
	cmd, err := ingestion.ParseRawCommand(raw, "CreateRail")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	cr, ok := cmd.(*command.CreateRail)
	if !ok {
		t.Fatalf("expected *command.CreateRail, got %T", cmd)
	}
	if cr.From != "alice" || cr.To != "bob" {
		t.Errorf("from/to: got %s/%s, want alice/bob", cr.From, cr.To)
	}
	if cr.Operator != "stream-operator" {
		t.Errorf("operator: got %s, want stream-operator", cr.Operator)
	}
}

func TestParseModifyRailPayment(t *testing.T) {
	payload := map[string]interface{}{
		"idempotency_key":  "mod-1",
		"sequence":         int64(4),
		"epoch":            uint64(13),
		"rail_id":          uint64(7),
		"caller":           "stream-operator",
		"new_rate":         "10",
		"one_time_payment": "250",
	}

	raw := rawFromJSON(t, payload)
	cmd, err := ingestion.ParseRawCommand(raw, "ModifyRailPayment")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	mp, ok := cmd.(*command.ModifyRailPayment)
	if !ok {
		t.Fatalf("expected *command.ModifyRailPayment, got %T", cmd)
	}
	if mp.RailID != 7 {
		t.Errorf("rail_id: got %d, want 7", mp.RailID)
	}
	if mp.OneTimePayment.String() != "250" {
		t.Errorf("one_time_payment: got %s, want 250", mp.OneTimePayment.String())
	}
}

func TestParseSettleRailBatch(t *testing.T) {
	payload := map[string]interface{}{
		"idempotency_key": "batch-1",
		"sequence":        int64(5),
		"epoch":           uint64(14),
		"rail_ids":        []uint64{1, 2, 3},
	}

	raw := rawFromJSON(t, payload)
	cmd, err := ingestion.ParseRawCommand(raw, "SettleRailBatch")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	sb, ok := cmd.(*command.SettleRailBatch)
	if !ok {
		t.Fatalf("expected *command.SettleRailBatch, got %T", cmd)
	}
	if len(sb.RailIDs) != 3 {
		t.Errorf("rail_ids: got %d entries, want 3", len(sb.RailIDs))
	}
}

func TestParseSetOperatorApproval_RespectsApprovedFlag(t *testing.T) {
	payload := map[string]interface{}{
		"idempotency_key":  "approval-1",
		"sequence":         int64(6),
		"epoch":            uint64(15),
		"token":            "USDC",
		"payer":            "alice",
		"operator":         "stream-operator",
		"approved":         false,
		"rate_allowance":   "0",
		"lockup_allowance": "0",
	}

	raw := rawFromJSON(t, payload)
	cmd, err := ingestion.ParseRawCommand(raw, "SetOperatorApproval")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	ao, ok := cmd.(*command.ApproveOperator)
	if !ok {
		t.Fatalf("expected *command.ApproveOperator, got %T", cmd)
	}
	if ao.Approved {
		t.Errorf("approved: got true, want false (revoke)")
	}
}

func TestParseApproveOperator_AlwaysApproved(t *testing.T) {
	payload := map[string]interface{}{
		"idempotency_key":  "approval-2",
		"sequence":         int64(7),
		"epoch":            uint64(16),
		"token":            "USDC",
		"payer":            "alice",
		"operator":         "stream-operator",
		"rate_allowance":   "100",
		"lockup_allowance": "200",
	}

	raw := rawFromJSON(t, payload)
	cmd, err := ingestion.ParseRawCommand(raw, "ApproveOperator")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	ao, ok := cmd.(*command.ApproveOperator)
	if !ok {
		t.Fatalf("expected *command.ApproveOperator, got %T", cmd)
	}
	if !ao.Approved {
		t.Errorf("approved: got false, want true")
	}
}

func TestParseUnknownCommandType_Fails(t *testing.T) {
	raw := ingestion.RawCommand{Data: []byte(`{}`)}
	_, err := ingestion.ParseRawCommand(raw, "NonExistentType")
	if err == nil {
		t.Fatal("expected error for unknown command type")
	}
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	raw := ingestion.RawCommand{Data: []byte(`{invalid json`)}
	_, err := ingestion.ParseRawCommand(raw, "Deposit")
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseInvalidAmount_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"idempotency_key": "dep-bad",
		"sequence":        int64(8),
		"epoch":           uint64(17),
		"token":           "USDC",
		"to":              "alice",
		"amount":          "not-a-number",
	}

	raw := rawFromJSON(t, payload)
	_, err := ingestion.ParseRawCommand(raw, "Deposit")
	if err == nil {
		t.Fatal("expected error for invalid amount")
	}
}
