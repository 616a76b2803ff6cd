package settlement_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"

	"github.com/DarioSilvaDev/pawgo-sub001/internal/logger"
	"github.com/DarioSilvaDev/pawgo-sub001/internal/models"
	"github.com/DarioSilvaDev/pawgo-sub001/internal/notification"
	"github.com/DarioSilvaDev/pawgo-sub001/internal/settlement"
)

type fakeNotifier struct {
	notices []*notification.SettlementNotice
	err     error
}

func (f *fakeNotifier) NotifySettlement(notice *notification.SettlementNotice) error {
	f.notices = append(f.notices, notice)
	return f.err
}

func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()
	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)

	// Each pooled connection to :memory: is its own database; pin the pool to
	// one connection so concurrent transactions share the schema.
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())

	for _, model := range []interface{}{
		(*models.Influencer)(nil),
		(*models.DiscountCode)(nil),
		(*models.Commission)(nil),
		(*models.InfluencerPayment)(nil),
		(*models.DiscountCodeSettlement)(nil),
	} {
		_, err := bunDB.NewCreateTable().Model(model).Exec(context.Background())
		require.NoError(t, err)
	}

	return bunDB
}

type fixture struct {
	bunDB    *bun.DB
	store    *settlement.Store
	worker   *settlement.Worker
	notifier *fakeNotifier
}

func setupWorker(t *testing.T) *fixture {
	t.Helper()
	bunDB := setupTestDB(t)
	t.Cleanup(func() { bunDB.Close() })

	store := &settlement.Store{Bun: bunDB}
	notifier := &fakeNotifier{}
	worker := settlement.NewWorker(store, notifier, logger.NewConsoleLogger())

	return &fixture{bunDB: bunDB, store: store, worker: worker, notifier: notifier}
}

func (f *fixture) seedInfluencer(t *testing.T) *models.Influencer {
	t.Helper()
	influencer := &models.Influencer{
		InfluencerID:     uuid.NewString(),
		Name:             "Sofia Torres",
		Email:            "sofia@example.com",
		PaymentMethod:    "bank_transfer",
		BankAccount:      "0000003100010000000001",
		MercadoPagoEmail: "sofia.mp@example.com",
		Currency:         "ARS",
		CreatedAt:        time.Now(),
	}
	_, err := f.bunDB.NewInsert().Model(influencer).Exec(context.Background())
	require.NoError(t, err)
	return influencer
}

func (f *fixture) seedCode(t *testing.T, influencerID *string, validUntil *time.Time) *models.DiscountCode {
	t.Helper()
	code := &models.DiscountCode{
		DiscountCodeID: uuid.NewString(),
		Code:           "SUMMER24",
		IsActive:       true,
		ValidUntil:     validUntil,
		InfluencerID:   influencerID,
		CommissionType: models.CommissionPercentage,
		CreatedAt:      time.Now(),
	}
	_, err := f.bunDB.NewInsert().Model(code).Exec(context.Background())
	require.NoError(t, err)
	return code
}

func (f *fixture) seedCommission(t *testing.T, codeID string, amount string) *models.Commission {
	t.Helper()
	commission := &models.Commission{
		CommissionID:     uuid.NewString(),
		OrderID:          uuid.NewString(),
		DiscountCodeID:   codeID,
		CommissionAmount: decimal.RequireFromString(amount),
		Status:           models.CommissionPending,
		CreatedAt:        time.Now(),
	}
	_, err := f.bunDB.NewInsert().Model(commission).Exec(context.Background())
	require.NoError(t, err)
	return commission
}

func yesterday() *time.Time {
	ts := time.Now().Add(-24 * time.Hour)
	return &ts
}

func tomorrow() *time.Time {
	ts := time.Now().Add(24 * time.Hour)
	return &ts
}

func TestProcess_SettlesExpiredCode(t *testing.T) {
	f := setupWorker(t)
	influencer := f.seedInfluencer(t)
	code := f.seedCode(t, &influencer.InfluencerID, yesterday())
	f.seedCommission(t, code.DiscountCodeID, "50.25")
	f.seedCommission(t, code.DiscountCodeID, "50.25")
	f.seedCommission(t, code.DiscountCodeID, "49.50")

	outcome, err := f.worker.Process(context.Background(), code.DiscountCodeID)
	require.NoError(t, err)
	assert.Equal(t, settlement.ResultSettled, outcome.Result)

	require.NotNil(t, outcome.Payment)
	assert.Equal(t, "150.00", outcome.Payment.TotalAmount.StringFixed(2))
	assert.Equal(t, influencer.InfluencerID, outcome.Payment.InfluencerID)
	assert.Equal(t, "bank_transfer", outcome.Payment.PaymentMethod)
	assert.Equal(t, models.InfluencerPaymentPending, outcome.Payment.Status)

	require.NotNil(t, outcome.Settlement)
	assert.Equal(t, 3, outcome.Settlement.CommissionsCount)
	assert.Equal(t, "150.00", outcome.Settlement.TotalAmount.StringFixed(2))
	require.NotNil(t, outcome.Settlement.InfluencerPaymentID)
	assert.Equal(t, outcome.Payment.InfluencerPaymentID, *outcome.Settlement.InfluencerPaymentID)

	// All commissions linked to exactly that payment.
	var commissions []models.Commission
	err = f.bunDB.NewSelect().Model(&commissions).
		Where("discount_code_id = ?", code.DiscountCodeID).
		Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, commissions, 3)
	for _, c := range commissions {
		require.NotNil(t, c.InfluencerPaymentID)
		assert.Equal(t, outcome.Payment.InfluencerPaymentID, *c.InfluencerPaymentID)
	}

	// Code deactivated.
	var gotCode models.DiscountCode
	err = f.bunDB.NewSelect().Model(&gotCode).
		Where("discount_code_id = ?", code.DiscountCodeID).
		Scan(context.Background())
	require.NoError(t, err)
	assert.False(t, gotCode.IsActive)

	// Admin notified with the settled totals.
	require.Len(t, f.notifier.notices, 1)
	notice := f.notifier.notices[0]
	assert.Equal(t, "SUMMER24", notice.Code)
	assert.Equal(t, "Sofia Torres", notice.InfluencerName)
	assert.Equal(t, 3, notice.CommissionsCount)
	assert.Equal(t, "150.00", notice.TotalAmount.StringFixed(2))
}

func TestProcess_RerunIsExactlyOnce(t *testing.T) {
	f := setupWorker(t)
	influencer := f.seedInfluencer(t)
	code := f.seedCode(t, &influencer.InfluencerID, yesterday())
	f.seedCommission(t, code.DiscountCodeID, "75.00")

	first, err := f.worker.Process(context.Background(), code.DiscountCodeID)
	require.NoError(t, err)
	require.Equal(t, settlement.ResultSettled, first.Result)

	second, err := f.worker.Process(context.Background(), code.DiscountCodeID)
	require.NoError(t, err)
	assert.Equal(t, settlement.ResultAlreadySettled, second.Result)

	// Still exactly one settlement and one influencer payment.
	settlements, err := f.bunDB.NewSelect().Model((*models.DiscountCodeSettlement)(nil)).Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, settlements)

	payments, err := f.bunDB.NewSelect().Model((*models.InfluencerPayment)(nil)).Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, payments)

	// No second notification either.
	assert.Len(t, f.notifier.notices, 1)
}

func TestProcess_ConcurrentRunsSettleOnce(t *testing.T) {
	f := setupWorker(t)
	influencer := f.seedInfluencer(t)
	code := f.seedCode(t, &influencer.InfluencerID, yesterday())
	f.seedCommission(t, code.DiscountCodeID, "60.00")
	f.seedCommission(t, code.DiscountCodeID, "40.00")

	type runResult struct {
		result settlement.Result
		err    error
	}
	results := make(chan runResult, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := f.worker.Process(context.Background(), code.DiscountCodeID)
			if err != nil {
				results <- runResult{err: err}
				return
			}
			results <- runResult{result: outcome.Result}
		}()
	}
	wg.Wait()
	close(results)

	// Exactly one of the racing runs settles; the other sees the settlement
	// row inside its own transaction.
	settled := 0
	for r := range results {
		require.NoError(t, r.err)
		if r.result == settlement.ResultSettled {
			settled++
		}
	}
	assert.Equal(t, 1, settled)

	settlements, err := f.bunDB.NewSelect().Model((*models.DiscountCodeSettlement)(nil)).Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, settlements)

	payments, err := f.bunDB.NewSelect().Model((*models.InfluencerPayment)(nil)).Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, payments)

	// Every commission ended up linked to the single payment, exactly once.
	var commissions []models.Commission
	err = f.bunDB.NewSelect().Model(&commissions).
		Where("discount_code_id = ?", code.DiscountCodeID).
		Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, commissions, 2)
	for _, c := range commissions {
		require.NotNil(t, c.InfluencerPaymentID)
	}
}

func TestProcess_NotExpiredLeavesNoTrace(t *testing.T) {
	f := setupWorker(t)
	influencer := f.seedInfluencer(t)
	code := f.seedCode(t, &influencer.InfluencerID, tomorrow())
	f.seedCommission(t, code.DiscountCodeID, "10.00")

	outcome, err := f.worker.Process(context.Background(), code.DiscountCodeID)
	require.NoError(t, err)
	assert.Equal(t, settlement.ResultNotExpired, outcome.Result)

	settlements, err := f.bunDB.NewSelect().Model((*models.DiscountCodeSettlement)(nil)).Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, settlements)

	payments, err := f.bunDB.NewSelect().Model((*models.InfluencerPayment)(nil)).Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, payments)

	// Code must stay active so the job can run once truly expired.
	var gotCode models.DiscountCode
	err = f.bunDB.NewSelect().Model(&gotCode).
		Where("discount_code_id = ?", code.DiscountCodeID).
		Scan(context.Background())
	require.NoError(t, err)
	assert.True(t, gotCode.IsActive)
}

func TestProcess_NoValidUntilIsNotExpired(t *testing.T) {
	f := setupWorker(t)
	influencer := f.seedInfluencer(t)
	code := f.seedCode(t, &influencer.InfluencerID, nil)

	outcome, err := f.worker.Process(context.Background(), code.DiscountCodeID)
	require.NoError(t, err)
	assert.Equal(t, settlement.ResultNotExpired, outcome.Result)
}

func TestProcess_UnknownCode(t *testing.T) {
	f := setupWorker(t)

	outcome, err := f.worker.Process(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.Equal(t, settlement.ResultNotFound, outcome.Result)
}

func TestProcess_NoCommissionsSettlesWithoutPayment(t *testing.T) {
	f := setupWorker(t)
	influencer := f.seedInfluencer(t)
	code := f.seedCode(t, &influencer.InfluencerID, yesterday())

	outcome, err := f.worker.Process(context.Background(), code.DiscountCodeID)
	require.NoError(t, err)
	assert.Equal(t, settlement.ResultSettled, outcome.Result)
	assert.Nil(t, outcome.Payment)

	require.NotNil(t, outcome.Settlement)
	assert.Zero(t, outcome.Settlement.CommissionsCount)
	assert.Nil(t, outcome.Settlement.InfluencerPaymentID)

	payments, err := f.bunDB.NewSelect().Model((*models.InfluencerPayment)(nil)).Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, payments)

	assert.Empty(t, f.notifier.notices)
}

func TestProcess_LinkedCommissionsExcluded(t *testing.T) {
	f := setupWorker(t)
	influencer := f.seedInfluencer(t)
	code := f.seedCode(t, &influencer.InfluencerID, yesterday())

	// One commission already paid out by an earlier payment must not be
	// counted again.
	earlierPayment := uuid.NewString()
	linked := f.seedCommission(t, code.DiscountCodeID, "99.99")
	_, err := f.bunDB.NewUpdate().Model((*models.Commission)(nil)).
		Set("influencer_payment_id = ?", earlierPayment).
		Where("commission_id = ?", linked.CommissionID).
		Exec(context.Background())
	require.NoError(t, err)

	f.seedCommission(t, code.DiscountCodeID, "25.00")

	outcome, err := f.worker.Process(context.Background(), code.DiscountCodeID)
	require.NoError(t, err)
	require.Equal(t, settlement.ResultSettled, outcome.Result)

	require.NotNil(t, outcome.Payment)
	assert.Equal(t, "25.00", outcome.Payment.TotalAmount.StringFixed(2))
	assert.Equal(t, 1, outcome.Settlement.CommissionsCount)

	// The earlier link is untouched.
	var got models.Commission
	err = f.bunDB.NewSelect().Model(&got).
		Where("commission_id = ?", linked.CommissionID).
		Scan(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got.InfluencerPaymentID)
	assert.Equal(t, earlierPayment, *got.InfluencerPaymentID)
}

func TestProcess_RoundsOnlyAtTheBoundary(t *testing.T) {
	f := setupWorker(t)
	influencer := f.seedInfluencer(t)
	code := f.seedCode(t, &influencer.InfluencerID, yesterday())

	// Sub-cent amounts must be summed exactly and rounded once, at the end.
	f.seedCommission(t, code.DiscountCodeID, "33.335")
	f.seedCommission(t, code.DiscountCodeID, "33.335")
	f.seedCommission(t, code.DiscountCodeID, "33.335")

	outcome, err := f.worker.Process(context.Background(), code.DiscountCodeID)
	require.NoError(t, err)
	require.Equal(t, settlement.ResultSettled, outcome.Result)

	// 100.005 rounds to 100.01 (round half away from zero); per-commission
	// rounding would have produced 100.02.
	assert.Equal(t, "100.01", outcome.Payment.TotalAmount.StringFixed(2))
}

func TestProcess_NotificationFailureDoesNotFailJob(t *testing.T) {
	f := setupWorker(t)
	f.notifier.err = assert.AnError
	influencer := f.seedInfluencer(t)
	code := f.seedCode(t, &influencer.InfluencerID, yesterday())
	f.seedCommission(t, code.DiscountCodeID, "10.00")

	outcome, err := f.worker.Process(context.Background(), code.DiscountCodeID)
	require.NoError(t, err)
	assert.Equal(t, settlement.ResultSettled, outcome.Result)

	// The settlement committed despite the failed notification.
	settlements, err := f.bunDB.NewSelect().Model((*models.DiscountCodeSettlement)(nil)).Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, settlements)
}
