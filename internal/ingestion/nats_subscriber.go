package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber consumes pool commands from JetStream and hands them to the
// ingestion loop through rawChan. Each command kind has its own subject.
type NATSSubscriber struct {
	js        jetstream.JetStream
	rawChan   chan<- RawCommand
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

// RawCommand is an unparsed message plus its ack handles.
type RawCommand struct {
	Subject     string
	CommandType string
	Data        []byte
	ReceivedAt  time.Time
	AckFunc     func() // processed or permanently invalid
	NakFunc     func() // redeliver
}

// SubjectConfig maps a NATS subject to a command type.
type SubjectConfig struct {
	Subject      string
	CommandType  string
	ConsumerName string
	StreamName   string
}

const (
	CommandStream = "POOL_COMMANDS"
	FeedStream    = "POOL_FEEDS"
	EventStream   = "POOL_EVENTS"
)

// DefaultSubjects returns one subject per command kind:
// pool.commands.<kind>.> for user and admin commands, pool.feeds.> for oracles.
func DefaultSubjects() []SubjectConfig {
	kinds := []struct{ token, commandType string }{
		{"mint", "Mint"},
		{"deposit", "Deposit"},
		{"withdraw", "Withdraw"},
		{"unlock", "Unlock"},
		{"withdraw-unlocked", "WithdrawUnlocked"},
		{"claim", "Claim"},
		{"batch-claim", "BatchClaim"},
		{"checkpoint", "Checkpoint"},
		{"reward-receiver", "SetRewardReceiver"},
		{"liquidate", "Liquidate"},
		{"deposit-reward", "DepositReward"},
		{"admin.liquidatable-ratio", "UpdateLiquidatableCollateralRatio"},
		{"admin.unlock-duration", "UpdateUnlockDuration"},
		{"admin.wrapper", "UpdateWrapper"},
		{"admin.add-reward", "AddReward"},
		{"admin.update-reward", "UpdateReward"},
		{"admin.remove-reward", "RemoveReward"},
		{"admin.grant-role", "GrantRole"},
		{"admin.revoke-role", "RevokeRole"},
	}

	subjects := make([]SubjectConfig, 0, len(kinds)+1)
	for _, k := range kinds {
		subjects = append(subjects, SubjectConfig{
			Subject:      fmt.Sprintf("pool.commands.%s.>", k.token),
			CommandType:  k.commandType,
			ConsumerName: "pool-" + strings.ReplaceAll(k.token, ".", "-"),
			StreamName:   CommandStream,
		})
	}
	subjects = append(subjects, SubjectConfig{
		Subject:      "pool.feeds.collateral-ratio.>",
		CommandType:  "CollateralRatioUpdate",
		ConsumerName: "pool-collateral-ratio",
		StreamName:   FeedStream,
	})
	return subjects
}

func NewNATSSubscriber(js jetstream.JetStream, rawChan chan<- RawCommand, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:      js,
		rawChan: rawChan,
		logger:  logger,
	}
}

// Subscribe creates a durable consumer per subject.
// Explicit ack, max_deliver=5, ack_wait=30s.
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

		commandType := cfg.CommandType
		consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawCommand{
				Subject:     msg.Subject(),
				CommandType: commandType,
				Data:        msg.Data(),
				ReceivedAt:  time.Now(),
				AckFunc:     func() { _ = msg.Ack() },
				NakFunc:     func() { _ = msg.Nak() },
			}

			select {
			case ns.rawChan <- raw:
			case <-ctx.Done():
				_ = msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumeCtx)
		ns.logger.Info().
			Str("subject", cfg.Subject).
			Str("consumer", cfg.ConsumerName).
			Msg("subscribed")
	}
	return nil
}

func streamConfig(name string, subjects ...string) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	}
}

// EnsureStreams creates the inbound command and feed streams.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		streamConfig(CommandStream, "pool.commands.>"),
		streamConfig(FeedStream, "pool.feeds.>"),
	}
	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}
	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger, onStatus func(connected bool)) (*nats.Conn, jetstream.JetStream, error) {
	if onStatus == nil {
		onStatus = func(bool) {}
	}
	nc, err := nats.Connect(url,
		nats.Name("rebalancepool"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
			onStatus(false)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
			onStatus(true)
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
	onStatus(true)
	return nc, js, nil
}
