package ingestion

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSSubscriber subscribes to NATS JetStream subjects and feeds raw
// commands into the dispatcher via commandChan. Per SPEC_FULL.md §12, NATS
// JetStream is the primary high-throughput ingestion surface; each subject
// maps to a command type (§6).
type NATSSubscriber struct {
	js          jetstream.JetStream
	commandChan chan<- RawCommand
	consumers   []jetstream.ConsumeContext
}

// RawCommand is the parsed-but-untyped command from NATS, ready for the
// shell to validate and convert into a typed command.Command before
// sending to the dispatcher.
type RawCommand struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // Call to ACK the NATS message after successful processing
	NakFunc   func() // Call to NAK on failure (will be redelivered)
}

// SubjectConfig maps NATS subjects to command types.
// Per SPEC_FULL.md §12: each command type has its own subject for
// independent scaling.
type SubjectConfig struct {
	Subject      string
	CommandType  string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject configuration for the
// ledger's command set (§6).
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "ledger.operators.approve.>", CommandType: "ApproveOperator", ConsumerName: "ledger-op-approve", StreamName: "LEDGER_OPERATORS"},
		{Subject: "ledger.operators.set_approval.>", CommandType: "SetOperatorApproval", ConsumerName: "ledger-op-set-approval", StreamName: "LEDGER_OPERATORS"},
		{Subject: "ledger.operators.terminate.>", CommandType: "TerminateOperator", ConsumerName: "ledger-op-terminate", StreamName: "LEDGER_OPERATORS"},
		{Subject: "ledger.accounts.deposit.>", CommandType: "Deposit", ConsumerName: "ledger-deposit", StreamName: "LEDGER_ACCOUNTS"},
		{Subject: "ledger.accounts.withdraw.>", CommandType: "Withdraw", ConsumerName: "ledger-withdraw", StreamName: "LEDGER_ACCOUNTS"},
		{Subject: "ledger.rails.create.>", CommandType: "CreateRail", ConsumerName: "ledger-rail-create", StreamName: "LEDGER_RAILS"},
		{Subject: "ledger.rails.modify_lockup.>", CommandType: "ModifyRailLockup", ConsumerName: "ledger-rail-modify-lockup", StreamName: "LEDGER_RAILS"},
		{Subject: "ledger.rails.modify_payment.>", CommandType: "ModifyRailPayment", ConsumerName: "ledger-rail-modify-payment", StreamName: "LEDGER_RAILS"},
		{Subject: "ledger.rails.terminate.>", CommandType: "TerminateRail", ConsumerName: "ledger-rail-terminate", StreamName: "LEDGER_RAILS"},
		{Subject: "ledger.rails.settle.>", CommandType: "SettleRail", ConsumerName: "ledger-rail-settle", StreamName: "LEDGER_SETTLEMENT"},
		{Subject: "ledger.rails.settle_batch.>", CommandType: "SettleRailBatch", ConsumerName: "ledger-rail-settle-batch", StreamName: "LEDGER_SETTLEMENT"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, commandChan chan<- RawCommand) *NATSSubscriber {
	return &NATSSubscriber{
		js:          js,
		commandChan: commandChan,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawCommand{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case ns.commandChan <- raw:
				// Successfully queued for processing
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		log.Printf("INFO: subscribed to %s (consumer=%s)", cfg.Subject, cfg.ConsumerName)
	}

	return nil
}

// EnsureStreams creates the required JetStream streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "LEDGER_OPERATORS",
			Subjects:  []string{"ledger.operators.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "LEDGER_ACCOUNTS",
			Subjects:  []string{"ledger.accounts.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "LEDGER_RAILS",
			Subjects:  []string{"ledger.rails.create.>", "ledger.rails.modify_lockup.>", "ledger.rails.modify_payment.>", "ledger.rails.terminate.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "LEDGER_SETTLEMENT",
			Subjects:  []string{"ledger.rails.settle.>", "ledger.rails.settle_batch.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Printf("INFO: ensured stream %s", cfg.Name)
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	log.Println("INFO: NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("WARN: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Println("INFO: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
