package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/DarioSilvaDev/pawgo-sub001/internal/config"
	"github.com/DarioSilvaDev/pawgo-sub001/internal/logger"
)

// Locks serializes webhook processing per external payment id. Two
// deliveries for the same payment must not interleave the
// locate-compute-apply sequence, so the handler holds a keyed lock for the
// whole thing. The TTL bounds how long a crashed worker can hold a key.
type Locks struct {
	Client *redis.Client
	TTL    time.Duration
	Wait   time.Duration
	Retry  time.Duration
	Logger *logger.Logger
}

func NewLocks(client *redis.Client, cfg config.RedisConfig, log *logger.Logger) *Locks {
	return &Locks{
		Client: client,
		TTL:    cfg.LockTTL,
		Wait:   cfg.LockWait,
		Retry:  cfg.LockRetry,
		Logger: log,
	}
}

func paymentLockKey(externalPaymentID string) string {
	return "payment_lock:" + externalPaymentID
}

// AcquirePaymentLock takes the lock for an external payment id, retrying up
// to the configured wait window. It returns the release token and whether
// the lock was obtained.
func (l *Locks) AcquirePaymentLock(ctx context.Context, externalPaymentID string) (string, bool, error) {
	key := paymentLockKey(externalPaymentID)
	token := uuid.NewString()
	deadline := time.Now().Add(l.Wait)

	for {
		ok, err := l.Client.SetNX(ctx, key, token, l.TTL).Result()
		if err != nil {
			return "", false, fmt.Errorf("redis lock error for %s: %w", externalPaymentID, err)
		}
		if ok {
			return token, true, nil
		}
		if time.Now().After(deadline) {
			l.Logger.Warn("REDIS", fmt.Sprintf("Payment lock busy for %s after %s", externalPaymentID, l.Wait))
			return "", false, nil
		}
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-time.After(l.Retry):
		}
	}
}

// ReleasePaymentLock deletes the lock only if this holder still owns it.
func (l *Locks) ReleasePaymentLock(ctx context.Context, externalPaymentID, token string) error {
	key := paymentLockKey(externalPaymentID)
	val, err := l.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil // expired, nothing to release
	}
	if err != nil {
		return err
	}
	if val == token {
		_, err := l.Client.Del(ctx, key).Result()
		return err
	}
	return nil
}
