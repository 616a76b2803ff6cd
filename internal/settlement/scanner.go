package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DarioSilvaDev/pawgo-sub001/internal/logger"
	"github.com/DarioSilvaDev/pawgo-sub001/internal/models"
)

type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Scanner periodically finds active discount codes whose validity window has
// closed and enqueues one settlement job per code. Enqueueing is
// at-least-once; the worker's settlement record makes redelivery harmless.
type Scanner struct {
	store     *Store
	producer  Publisher
	topic     string
	batchSize int
	interval  time.Duration
	log       *logger.Logger
}

func NewScanner(store *Store, producer Publisher, topic string, batchSize int, interval time.Duration, log *logger.Logger) *Scanner {
	return &Scanner{
		store:     store,
		producer:  producer,
		topic:     topic,
		batchSize: batchSize,
		interval:  interval,
		log:       log,
	}
}

// Run scans on the configured interval until the context is cancelled. One
// scan runs immediately at startup.
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if _, err := s.ScanOnce(ctx); err != nil {
		s.log.Error("SETTLEMENT", fmt.Sprintf("Initial settlement scan failed: %v", err))
	}

	for {
		select {
		case <-ctx.Done():
			s.log.Info("SETTLEMENT", "Settlement scanner stopping")
			return
		case <-ticker.C:
			if _, err := s.ScanOnce(ctx); err != nil {
				s.log.Error("SETTLEMENT", fmt.Sprintf("Settlement scan failed: %v", err))
			}
		}
	}
}

// ScanOnce enqueues settlement jobs for up to batchSize expired codes and
// returns how many were enqueued.
func (s *Scanner) ScanOnce(ctx context.Context) (int, error) {
	codes, err := s.store.ListExpiredActiveCodes(ctx, time.Now(), s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list expired codes: %w", err)
	}
	if len(codes) == 0 {
		return 0, nil
	}

	enqueued := 0
	for _, code := range codes {
		payload, err := json.Marshal(models.SettlementJob{DiscountCodeID: code.DiscountCodeID})
		if err != nil {
			return enqueued, fmt.Errorf("marshal settlement job: %w", err)
		}
		if err := s.producer.Publish(ctx, s.topic, code.DiscountCodeID, payload); err != nil {
			return enqueued, fmt.Errorf("enqueue settlement job for %s: %w", code.DiscountCodeID, err)
		}
		s.log.LogSettlement("ENQUEUE", code.DiscountCodeID, fmt.Sprintf("Code %s expired %s", code.Code, code.ValidUntil.Format(time.RFC3339)))
		enqueued++
	}

	s.log.Info("SETTLEMENT", fmt.Sprintf("Settlement scan enqueued %d jobs", enqueued))
	return enqueued, nil
}
