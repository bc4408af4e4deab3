// Copyright 2025 The go-ledgerbridge Authors
// This file is part of the go-ledgerbridge library.
//
// The go-ledgerbridge library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ledgerbridge library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ledgerbridge library. If not, see <http://www.gnu.org/licenses/>.

package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shopify/sarama"

	"github.com/ledgerbridge/go-ledgerbridge/common/backoff"
	"github.com/ledgerbridge/go-ledgerbridge/log"
)

const (
	// DefaultReplicas and DefaultPartitions apply to topics the broker
	// auto-creates. Per-user event topics stay single-partition so each
	// user's updates arrive in order.
	DefaultReplicas   = 1
	DefaultPartitions = 1

	defaultMaxMessageBytes = 1000000
)

// Config collects the Kafka connection parameters.
type Config struct {
	Brokers         []string
	Replicas        int16
	Partitions      int32
	MaxMessageBytes int

	// Backoff bounds publish retries on transient broker errors.
	Backoff backoff.Policy

	// Sarama overrides the derived client configuration when non-nil.
	Sarama *sarama.Config

	Logger log.Logger
}

func (c *Config) saramaConfig() *sarama.Config {
	if c.Sarama != nil {
		return c.Sarama
	}
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_8_0_0
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.MaxMessageBytes = c.MaxMessageBytes
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	return cfg
}

// Broker publishes and consumes bridge envelopes on a Kafka cluster.
type Broker struct {
	cfg      Config
	producer sarama.SyncProducer
	admin    sarama.ClusterAdmin
	log      log.Logger
}

// NewBroker connects to the cluster and readies a synchronous producer and
// an admin client for topic management.
func NewBroker(cfg Config) (*Broker, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	if cfg.Replicas <= 0 {
		cfg.Replicas = DefaultReplicas
	}
	if cfg.Partitions <= 0 {
		cfg.Partitions = DefaultPartitions
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaultMaxMessageBytes
	}
	if cfg.Backoff.MaxAttempts == 0 {
		cfg.Backoff = backoff.Default
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New("component", "messaging")
	}
	scfg := cfg.saramaConfig()
	producer, err := sarama.NewSyncProducer(cfg.Brokers, scfg)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}
	admin, err := sarama.NewClusterAdmin(cfg.Brokers, scfg)
	if err != nil {
		producer.Close()
		return nil, fmt.Errorf("creating kafka admin: %w", err)
	}
	logger.Info("Kafka broker connected", "brokers", cfg.Brokers)
	return &Broker{cfg: cfg, producer: producer, admin: admin, log: logger}, nil
}

// Close tears the producer and admin connections down.
func (b *Broker) Close() error {
	err := b.producer.Close()
	if aerr := b.admin.Close(); err == nil {
		err = aerr
	}
	return err
}

// EnsureTopic creates topic with the configured replica and partition
// counts. An already existing topic is not an error.
func (b *Broker) EnsureTopic(topic string) error {
	err := b.admin.CreateTopic(topic, &sarama.TopicDetail{
		NumPartitions:     b.cfg.Partitions,
		ReplicationFactor: b.cfg.Replicas,
	}, false)
	if err != nil && !errors.Is(err, sarama.ErrTopicAlreadyExists) {
		return fmt.Errorf("creating topic %s: %w", topic, err)
	}
	return nil
}

// Publish encodes env and produces it to topic, keyed by key so records for
// one user land on one partition. Transient broker errors are retried with
// backoff; the caller's context bounds the whole attempt.
func (b *Broker) Publish(ctx context.Context, topic, key string, env Envelope) error {
	value, checksum, err := env.Encode()
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte(headerContentMD5), Value: []byte(checksum)},
		},
	}
	return b.cfg.Backoff.Retry(ctx, func() (bool, time.Duration, error) {
		partition, offset, err := b.producer.SendMessage(msg)
		if err != nil {
			b.log.Warn("Kafka publish failed", "topic", topic, "err", err)
			return true, 0, err
		}
		b.log.Trace("Envelope published", "topic", topic, "type", env.Type, "partition", partition, "offset", offset)
		return false, 0, nil
	})
}

// PublishPayload is Publish for callers holding a not-yet-wrapped payload.
func (b *Broker) PublishPayload(ctx context.Context, topic, key, typ string, payload interface{}) error {
	env, err := NewEnvelope(typ, payload)
	if err != nil {
		return err
	}
	return b.Publish(ctx, topic, key, env)
}

// HandlerFunc processes one consumed envelope. A returned error is logged;
// the message is still marked so the group does not wedge on a poison
// record. Redelivery comes from the producer side, not from re-reading.
type HandlerFunc func(ctx context.Context, env Envelope) error

// Subscribe joins groupID on topics and feeds decoded envelopes to fn until
// ctx is cancelled. Rebalances and transient consume errors trigger a
// backoff and rejoin.
func (b *Broker) Subscribe(ctx context.Context, groupID string, topics []string, fn HandlerFunc) error {
	group, err := sarama.NewConsumerGroup(b.cfg.Brokers, groupID, b.cfg.saramaConfig())
	if err != nil {
		return fmt.Errorf("creating consumer group %s: %w", groupID, err)
	}
	defer group.Close()

	handler := &groupHandler{ctx: ctx, fn: fn, log: b.log}
	attempt := 0
	for {
		err := group.Consume(ctx, topics, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			// Clean rebalance, rejoin immediately.
			attempt = 0
			continue
		}
		b.log.Warn("Kafka consume session ended", "group", groupID, "err", err)
		attempt++
		if attempt >= b.cfg.Backoff.MaxAttempts {
			return fmt.Errorf("consumer group %s: %w", groupID, err)
		}
		if err := backoff.Sleep(ctx, b.cfg.Backoff.Wait(attempt-1, 0)); err != nil {
			return err
		}
	}
}

// Watch consumes topic from the newest offset without joining a group,
// feeding decoded envelopes to fn until ctx is cancelled. Operator tooling
// uses it for read-back confirmation after publishing a command.
func (b *Broker) Watch(ctx context.Context, topic string, fn HandlerFunc) error {
	consumer, err := sarama.NewConsumer(b.cfg.Brokers, b.cfg.saramaConfig())
	if err != nil {
		return fmt.Errorf("creating kafka consumer: %w", err)
	}
	defer consumer.Close()

	partitions, err := consumer.Partitions(topic)
	if err != nil {
		return fmt.Errorf("listing partitions of %s: %w", topic, err)
	}
	msgs := make(chan *sarama.ConsumerMessage)
	for _, partition := range partitions {
		pc, err := consumer.ConsumePartition(topic, partition, sarama.OffsetNewest)
		if err != nil {
			return fmt.Errorf("consuming %s/%d: %w", topic, partition, err)
		}
		defer pc.Close()
		go func() {
			for msg := range pc.Messages() {
				select {
				case msgs <- msg:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	for {
		select {
		case msg := <-msgs:
			var checksum string
			for _, hdr := range msg.Headers {
				if string(hdr.Key) == headerContentMD5 {
					checksum = string(hdr.Value)
				}
			}
			env, err := DecodeEnvelope(msg.Value, checksum)
			if err != nil {
				b.log.Warn("Dropping malformed message", "topic", topic, "offset", msg.Offset, "err", err)
				continue
			}
			if err := fn(ctx, env); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type groupHandler struct {
	ctx context.Context
	fn  HandlerFunc
	log log.Logger
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var checksum string
		for _, hdr := range msg.Headers {
			if string(hdr.Key) == headerContentMD5 {
				checksum = string(hdr.Value)
			}
		}
		env, err := DecodeEnvelope(msg.Value, checksum)
		if err != nil {
			// Malformed messages are dropped, never crash the consumer.
			h.log.Warn("Dropping malformed message", "topic", msg.Topic, "offset", msg.Offset, "err", err)
			sess.MarkMessage(msg, "")
			continue
		}
		if err := h.fn(h.ctx, env); err != nil {
			h.log.Warn("Envelope handler failed", "topic", msg.Topic, "type", env.Type, "err", err)
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
