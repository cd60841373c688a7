package mq_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"checkhub/internal/common/mq"
)

type recordingProducer struct {
	mu        sync.Mutex
	published []recordedPublish
}

type recordedPublish struct {
	topic   string
	message *mq.Message
}

func (p *recordingProducer) Publish(ctx context.Context, topic string, message *mq.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, recordedPublish{topic: topic, message: message})
	return nil
}

func (p *recordingProducer) snapshot() []recordedPublish {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]recordedPublish(nil), p.published...)
}

func newTestScheduler(t *testing.T, producer mq.Producer, interval time.Duration) (*mq.DelayScheduler, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	scheduler, err := mq.NewDelayScheduler(client, producer, "test:delayed", interval)
	if err != nil {
		t.Fatalf("new scheduler failed: %v", err)
	}
	return scheduler, mr, client
}

func TestScheduleZeroDelayPublishesImmediately(t *testing.T) {
	t.Parallel()
	producer := &recordingProducer{}
	scheduler, _, _ := newTestScheduler(t, producer, time.Minute)

	err := scheduler.Schedule(context.Background(), "topic", mq.NewMessage([]byte("now")), 0)
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	published := producer.snapshot()
	if len(published) != 1 || published[0].topic != "topic" {
		t.Fatalf("expected one immediate publish, got %v", published)
	}
}

func TestSchedulePendingEntryStoredUntilDue(t *testing.T) {
	t.Parallel()
	producer := &recordingProducer{}
	scheduler, _, client := newTestScheduler(t, producer, time.Minute)

	err := scheduler.Schedule(context.Background(), "topic", mq.NewMessage([]byte("later")), time.Hour)
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	if len(producer.snapshot()) != 0 {
		t.Fatal("delayed message should not be published immediately")
	}
	count, err := client.ZCard(context.Background(), "test:delayed").Result()
	if err != nil || count != 1 {
		t.Fatalf("expected one pending entry, got %d (err=%v)", count, err)
	}
}

func TestSchedulerDeliversDueEntry(t *testing.T) {
	t.Parallel()
	producer := &recordingProducer{}
	scheduler, _, client := newTestScheduler(t, producer, 5*time.Millisecond)

	err := scheduler.Schedule(context.Background(), "topic", mq.NewMessage([]byte("due")), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	scheduler.Start(context.Background())
	defer scheduler.Stop()

	deadline := time.After(2 * time.Second)
	for {
		published := producer.snapshot()
		if len(published) == 1 {
			if published[0].topic != "topic" || string(published[0].message.Body) != "due" {
				t.Fatalf("unexpected delivery: %+v", published[0])
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("due entry was never delivered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	count, err := client.ZCard(context.Background(), "test:delayed").Result()
	if err != nil || count != 0 {
		t.Fatalf("delivered entry should be removed, %d remain (err=%v)", count, err)
	}
}

// failingProducer fails the first failures publishes, then records like the
// recording producer.
type failingProducer struct {
	recordingProducer
	mu       sync.Mutex
	failures int
}

func (p *failingProducer) Publish(ctx context.Context, topic string, message *mq.Message) error {
	p.mu.Lock()
	if p.failures != 0 {
		if p.failures > 0 {
			p.failures--
		}
		p.mu.Unlock()
		return errors.New("broker unavailable")
	}
	p.mu.Unlock()
	return p.recordingProducer.Publish(ctx, topic, message)
}

func TestSchedulerKeepsEntryWhenPublishFails(t *testing.T) {
	t.Parallel()
	producer := &failingProducer{failures: -1}
	scheduler, _, client := newTestScheduler(t, producer, 5*time.Millisecond)

	err := scheduler.Schedule(context.Background(), "topic", mq.NewMessage([]byte("stuck")), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	scheduler.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	scheduler.Stop()

	count, err := client.ZCard(context.Background(), "test:delayed").Result()
	if err != nil || count != 1 {
		t.Fatalf("undelivered entry must stay pending, %d remain (err=%v)", count, err)
	}
	if len(producer.snapshot()) != 0 {
		t.Fatalf("nothing should have been recorded as published: %v", producer.snapshot())
	}
}

func TestSchedulerRetriesUntilPublishSucceeds(t *testing.T) {
	t.Parallel()
	producer := &failingProducer{failures: 2}
	scheduler, _, client := newTestScheduler(t, producer, 5*time.Millisecond)

	err := scheduler.Schedule(context.Background(), "topic", mq.NewMessage([]byte("retried")), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	scheduler.Start(context.Background())
	defer scheduler.Stop()

	deadline := time.After(2 * time.Second)
	for {
		published := producer.snapshot()
		if len(published) == 1 {
			if string(published[0].message.Body) != "retried" {
				t.Fatalf("unexpected delivery: %+v", published[0])
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("entry was never delivered after the broker recovered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	count, err := client.ZCard(context.Background(), "test:delayed").Result()
	if err != nil || count != 0 {
		t.Fatalf("delivered entry should be removed, %d remain (err=%v)", count, err)
	}
}

func TestSchedulerDropsMalformedEntry(t *testing.T) {
	t.Parallel()
	producer := &recordingProducer{}
	scheduler, _, client := newTestScheduler(t, producer, 5*time.Millisecond)

	err := client.ZAdd(context.Background(), "test:delayed", redis.Z{
		Score:  1,
		Member: "not json",
	}).Err()
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	scheduler.Start(context.Background())
	defer scheduler.Stop()

	deadline := time.After(2 * time.Second)
	for {
		count, err := client.ZCard(context.Background(), "test:delayed").Result()
		if err != nil {
			t.Fatalf("zcard failed: %v", err)
		}
		if count == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("malformed entry was never dropped")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if len(producer.snapshot()) != 0 {
		t.Fatalf("malformed entry must not be published: %v", producer.snapshot())
	}
}
