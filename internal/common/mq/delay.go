package mq

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"checkhub/pkg/utils/logger"
)

const defaultDelayPollInterval = time.Second

// DelayScheduler delivers messages to a Producer after a delay. Kafka has no
// native delayed delivery, so pending entries live in a redis sorted set
// scored by due time; a polling loop republishes due entries and removes them
// once the publish succeeded. Delivery is at-least-once: a scheduler dying
// between publish and removal, or concurrent schedulers on separate hosts,
// can deliver an entry twice, and the handlers behind these topics are
// conditional state updates that absorb the duplicate. An entry is never
// removed before its publish succeeded, so no pending delivery is lost.
type DelayScheduler struct {
	client   *redis.Client
	producer Producer
	key      string
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

type delayedEntry struct {
	Topic   string   `json:"topic"`
	Message *Message `json:"message"`
}

// NewDelayScheduler creates a scheduler storing pending entries under key.
func NewDelayScheduler(client *redis.Client, producer Producer, key string, interval time.Duration) (*DelayScheduler, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if producer == nil {
		return nil, errors.New("producer is required")
	}
	if key == "" {
		key = "checkhub:delayed"
	}
	if interval <= 0 {
		interval = defaultDelayPollInterval
	}
	return &DelayScheduler{
		client:   client,
		producer: producer,
		key:      key,
		interval: interval,
	}, nil
}

// Schedule stores the message for delivery to topic after delay.
func (s *DelayScheduler) Schedule(ctx context.Context, topic string, message *Message, delay time.Duration) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if message == nil {
		return errors.New("message is nil")
	}
	if delay <= 0 {
		return s.producer.Publish(ctx, topic, message)
	}

	payload, err := json.Marshal(delayedEntry{Topic: topic, Message: message})
	if err != nil {
		return err
	}
	due := time.Now().Add(delay).UnixMilli()
	return s.client.ZAdd(ctx, s.key, redis.Z{
		Score:  float64(due),
		Member: string(payload),
	}).Err()
}

// Start launches the polling loop. Call Stop to terminate it.
func (s *DelayScheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.deliverDue(ctx)
			}
		}
	}()
}

// Stop terminates the polling loop and waits for it to exit.
func (s *DelayScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// deliverDue republishes every entry whose due time has passed.
func (s *DelayScheduler) deliverDue(ctx context.Context) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	members, err := s.client.ZRangeByScore(ctx, s.key, &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.Errorf(ctx, "delayed task poll failed: %v", err)
		}
		return
	}

	for _, member := range members {
		var entry delayedEntry
		if err := json.Unmarshal([]byte(member), &entry); err != nil {
			logger.Errorf(ctx, "delayed task payload invalid, dropping: %v", err)
			_, _ = s.client.ZRem(ctx, s.key, member).Result()
			continue
		}

		// Publish before removing: a failed or interrupted publish leaves
		// the entry in place for the next tick.
		if err := s.producer.Publish(ctx, entry.Topic, entry.Message); err != nil {
			logger.Errorf(ctx, "delayed task publish failed topic=%s: %v", entry.Topic, err)
			continue
		}
		if _, err := s.client.ZRem(ctx, s.key, member).Result(); err != nil {
			logger.Errorf(ctx, "delayed task cleanup failed: %v", err)
		}
	}
}
