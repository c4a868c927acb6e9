package ingestion

import (
	"context"
	"fmt"
	"time"

	"railledger/internal/command"
	"railledger/internal/money"
)

// AdminIngestService provides manual command injection for operators and
// support tooling. It is wired behind the HTTP server's /admin prefix (see
// internal/server/http.go), not the high-throughput NATS path — use NATS
// subjects for sustained command volume.
type AdminIngestService struct {
	commandChan chan<- command.Command
}

func NewAdminIngestService(commandChan chan<- command.Command) *AdminIngestService {
	return &AdminIngestService{commandChan: commandChan}
}

func (s *AdminIngestService) send(ctx context.Context, cmd command.Command) error {
	select {
	case s.commandChan <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectDeposit manually injects a deposit command.
func (s *AdminIngestService) InjectDeposit(ctx context.Context, token, to, amount string) error {
	amt, err := money.FromString(amount)
	if err != nil {
		return fmt.Errorf("parse amount: %w", err)
	}
	if amt.IsZero() {
		return fmt.Errorf("amount must be positive")
	}
	return s.send(ctx, &command.Deposit{
		Key:      adminKey("deposit"),
		Seq:      time.Now().UnixMicro(), // admin-injected: timestamp as source sequence
		EpochVal: uint64(time.Now().Unix()),
		Token:    token,
		To:       to,
		Amount:   amt,
	})
}

// InjectWithdraw manually injects a withdraw command.
func (s *AdminIngestService) InjectWithdraw(ctx context.Context, token, owner, amount string) error {
	amt, err := money.FromString(amount)
	if err != nil {
		return fmt.Errorf("parse amount: %w", err)
	}
	if amt.IsZero() {
		return fmt.Errorf("amount must be positive")
	}
	return s.send(ctx, &command.Withdraw{
		Key:      adminKey("withdraw"),
		Seq:      time.Now().UnixMicro(),
		EpochVal: uint64(time.Now().Unix()),
		Token:    token,
		Owner:    owner,
		Amount:   amt,
	})
}

// InjectApproveOperator manually grants an operator's initial allowances.
func (s *AdminIngestService) InjectApproveOperator(ctx context.Context, token, payer, operator, rateAllowance, lockupAllowance string) error {
	rate, err := money.FromString(rateAllowance)
	if err != nil {
		return fmt.Errorf("parse rate_allowance: %w", err)
	}
	lockup, err := money.FromString(lockupAllowance)
	if err != nil {
		return fmt.Errorf("parse lockup_allowance: %w", err)
	}
	return s.send(ctx, &command.ApproveOperator{
		Key:             adminKey("approve-operator"),
		Seq:             time.Now().UnixMicro(),
		EpochVal:        uint64(time.Now().Unix()),
		Token:           token,
		Payer:           payer,
		Operator:        operator,
		Approved:        true,
		RateAllowance:   rate,
		LockupAllowance: lockup,
	})
}

// InjectTerminateRail manually injects a terminate_rail command.
func (s *AdminIngestService) InjectTerminateRail(ctx context.Context, railID uint64, caller string) error {
	return s.send(ctx, &command.TerminateRail{
		Key:      adminKey("terminate-rail"),
		Seq:      time.Now().UnixMicro(),
		EpochVal: uint64(time.Now().Unix()),
		RailID:   railID,
		Caller:   caller,
	})
}

// InjectSettleRail manually injects a settle_rail command.
func (s *AdminIngestService) InjectSettleRail(ctx context.Context, railID, untilEpoch uint64, skipArbitration bool) error {
	return s.send(ctx, &command.SettleRail{
		Key:             adminKey("settle-rail"),
		Seq:             time.Now().UnixMicro(),
		EpochVal:        uint64(time.Now().Unix()),
		RailID:          railID,
		UntilEpoch:      untilEpoch,
		SkipArbitration: skipArbitration,
	})
}

func adminKey(op string) string {
	return fmt.Sprintf("admin-%s-%d", op, time.Now().UnixNano())
}
