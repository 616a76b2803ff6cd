package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/DarioSilvaDev/pawgo-sub001/internal/logger"
	"github.com/DarioSilvaDev/pawgo-sub001/internal/models"
)

type Consumer struct {
	reader  *kafka.Reader
	commit  func(ctx context.Context, msgs ...kafka.Message) error
	log     *logger.Logger
	backoff time.Duration
}

// NewConsumer creates a Kafka group consumer for the settlement job topic.
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{
		reader:  reader,
		commit:  reader.CommitMessages,
		log:     log,
		backoff: 2 * time.Second,
	}
}

// Start consumes settlement jobs until the context is cancelled. Each
// partition gets its own worker that applies jobs in offset order and commits
// strictly in sequence: a failed job is retried with backoff and blocks its
// partition, so the group's committed offset never advances past an
// unprocessed message (at-least-once). The semaphore bounds how many handlers
// run at once across partitions.
func (c *Consumer) Start(ctx context.Context, concurrency int, handler func(ctx context.Context, job models.SettlementJob) error) {
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	partitions := make(map[int]chan kafka.Message)
	var wg sync.WaitGroup

	defer func() {
		for _, ch := range partitions {
			close(ch)
		}
		wg.Wait()
	}()

	c.log.Info("KAFKA", fmt.Sprintf("Settlement consumer started (concurrency=%d)", concurrency))

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("KAFKA", "Settlement consumer stopping")
				return
			}
			c.log.Error("KAFKA", fmt.Sprintf("Error fetching message: %v", err))
			continue
		}

		ch, ok := partitions[msg.Partition]
		if !ok {
			ch = make(chan kafka.Message)
			partitions[msg.Partition] = ch
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.consumePartition(ctx, ch, sem, handler)
			}()
		}

		select {
		case ch <- msg:
		case <-ctx.Done():
			c.log.Info("KAFKA", "Settlement consumer stopping")
			return
		}
	}
}

// consumePartition applies one partition's jobs in offset order. Malformed
// payloads are unprocessable, so they are committed and skipped rather than
// redelivered forever.
func (c *Consumer) consumePartition(ctx context.Context, msgs <-chan kafka.Message, sem chan struct{}, handler func(ctx context.Context, job models.SettlementJob) error) {
	for msg := range msgs {
		var job models.SettlementJob
		if err := json.Unmarshal(msg.Value, &job); err != nil {
			c.log.Error("KAFKA", fmt.Sprintf("Failed to unmarshal settlement job: %v", err))
			if err := c.commit(ctx, msg); err != nil {
				c.log.Error("KAFKA", fmt.Sprintf("Failed to commit malformed message: %v", err))
			}
			continue
		}
		if !c.processJob(ctx, msg, job, sem, handler) {
			return
		}
	}
}

// processJob runs one job until it succeeds or the context is cancelled, and
// commits its offset only on success. Blocking the partition here is what
// keeps a later success from committing past an earlier failure.
func (c *Consumer) processJob(ctx context.Context, msg kafka.Message, job models.SettlementJob, sem chan struct{}, handler func(ctx context.Context, job models.SettlementJob) error) bool {
	for {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return false
		}
		err := handler(ctx, job)
		<-sem

		if err == nil {
			if err := c.commit(ctx, msg); err != nil {
				c.log.Error("KAFKA", fmt.Sprintf("Failed to commit settlement job %s: %v", job.DiscountCodeID, err))
			}
			return true
		}

		c.log.Error("KAFKA", fmt.Sprintf("Settlement job %s failed, retrying in %s: %v", job.DiscountCodeID, c.backoff, err))
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.backoff):
		}
	}
}

// Close gracefully shuts down the Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
