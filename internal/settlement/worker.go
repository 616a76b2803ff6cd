package settlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"github.com/DarioSilvaDev/pawgo-sub001/internal/logger"
	"github.com/DarioSilvaDev/pawgo-sub001/internal/models"
	"github.com/DarioSilvaDev/pawgo-sub001/internal/notification"
)

// Result classifies a settlement job run. Only a returned error is
// retryable; every Result is a terminal, committed outcome for this
// delivery.
type Result string

const (
	ResultSettled        Result = "settled"
	ResultAlreadySettled Result = "already_settled"
	ResultNotFound       Result = "not_found"
	ResultNotExpired     Result = "not_expired"
)

type Outcome struct {
	Result     Result
	Settlement *models.DiscountCodeSettlement
	Payment    *models.InfluencerPayment
	Notice     *notification.SettlementNotice
}

type Notifier interface {
	NotifySettlement(notice *notification.SettlementNotice) error
}

// Worker settles one expired discount code per job: aggregate its unpaid
// commissions into a single influencer payment, exactly once, inside one
// database transaction.
type Worker struct {
	store    *Store
	notifier Notifier
	log      *logger.Logger
	now      func() time.Time
}

func NewWorker(store *Store, notifier Notifier, log *logger.Logger) *Worker {
	return &Worker{
		store:    store,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// Process runs the settlement job for a discount code id. The transaction is
// the idempotency and atomicity boundary; the admin notification happens
// after commit and never fails the job.
func (w *Worker) Process(ctx context.Context, discountCodeID string) (*Outcome, error) {
	outcome := &Outcome{}

	err := w.store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		return w.settleInTx(ctx, tx, discountCodeID, outcome)
	})
	if err != nil {
		return nil, fmt.Errorf("settle discount code %s: %w", discountCodeID, err)
	}

	w.log.LogSettlement("RESULT", discountCodeID, string(outcome.Result))

	if outcome.Result == ResultSettled && outcome.Notice != nil {
		if err := w.notifier.NotifySettlement(outcome.Notice); err != nil {
			// Best-effort side effect; the financial transaction already
			// committed.
			w.log.Error("NOTIFY", fmt.Sprintf("Settlement notification failed for code %s: %v", discountCodeID, err))
		}
	}

	return outcome, nil
}

func (w *Worker) settleInTx(ctx context.Context, tx bun.Tx, discountCodeID string, outcome *Outcome) error {
	code, err := w.store.GetDiscountCode(ctx, tx, discountCodeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			w.log.Warn("SETTLEMENT", fmt.Sprintf("Discount code %s not found", discountCodeID))
			outcome.Result = ResultNotFound
			return nil
		}
		return err
	}

	existing, err := w.store.GetSettlementByCode(ctx, tx, discountCodeID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if existing != nil {
		outcome.Result = ResultAlreadySettled
		outcome.Settlement = existing
		return nil
	}

	// Re-check expiry inside the transaction: the scan may have raced a
	// validity-window extension. No settlement row is written so the job can
	// run again once the code truly expires.
	now := w.now()
	if !code.ExpiredAt(now) {
		w.log.Warn("SETTLEMENT", fmt.Sprintf("Discount code %s (%s) not expired yet, skipping", discountCodeID, code.Code))
		outcome.Result = ResultNotExpired
		return nil
	}

	commissions, err := w.store.GetPendingCommissions(ctx, tx, discountCodeID)
	if err != nil {
		return err
	}

	total := decimal.Zero
	commissionIDs := make([]string, 0, len(commissions))
	for _, c := range commissions {
		total = total.Add(c.CommissionAmount)
		commissionIDs = append(commissionIDs, c.CommissionID)
	}

	var payment *models.InfluencerPayment
	var notice *notification.SettlementNotice

	if len(commissions) > 0 && total.IsPositive() && code.InfluencerID != nil {
		influencer, err := w.store.GetInfluencer(ctx, tx, *code.InfluencerID)
		if err != nil {
			return fmt.Errorf("fetch influencer %s: %w", *code.InfluencerID, err)
		}

		currency := influencer.Currency
		if currency == "" {
			currency = "ARS"
		}

		// Rounding to 2 decimals happens here, at the persistence boundary,
		// never during aggregation.
		payment = &models.InfluencerPayment{
			InfluencerPaymentID: uuid.NewString(),
			InfluencerID:        influencer.InfluencerID,
			TotalAmount:         total.Round(2),
			Currency:            currency,
			PaymentMethod:       influencer.PaymentMethod,
			BankAccount:         influencer.BankAccount,
			MercadoPagoEmail:    influencer.MercadoPagoEmail,
			Status:              models.InfluencerPaymentPending,
			CreatedAt:           now,
		}
		if err := w.store.InsertInfluencerPayment(ctx, tx, payment); err != nil {
			return fmt.Errorf("insert influencer payment: %w", err)
		}
		if err := w.store.LinkCommissions(ctx, tx, commissionIDs, payment.InfluencerPaymentID); err != nil {
			return fmt.Errorf("link commissions: %w", err)
		}

		notice = &notification.SettlementNotice{
			Code:                code.Code,
			InfluencerName:      influencer.Name,
			InfluencerEmail:     influencer.Email,
			TotalAmount:         payment.TotalAmount,
			Currency:            currency,
			CommissionsCount:    len(commissions),
			InfluencerPaymentID: payment.InfluencerPaymentID,
		}
	} else if len(commissions) > 0 && code.InfluencerID == nil {
		w.log.Warn("SETTLEMENT", fmt.Sprintf(
			"Discount code %s has %d pending commissions but no influencer, settling without payment",
			code.Code, len(commissions)))
	}

	settlement := &models.DiscountCodeSettlement{
		SettlementID:     uuid.NewString(),
		DiscountCodeID:   discountCodeID,
		TotalAmount:      total.Round(2),
		CommissionsCount: len(commissions),
		ProcessedAt:      now,
	}
	if payment != nil {
		settlement.InfluencerPaymentID = &payment.InfluencerPaymentID
	}
	if err := w.store.InsertSettlement(ctx, tx, settlement); err != nil {
		return fmt.Errorf("insert settlement record: %w", err)
	}

	if err := w.store.DeactivateDiscountCode(ctx, tx, discountCodeID); err != nil {
		return fmt.Errorf("deactivate discount code: %w", err)
	}

	outcome.Result = ResultSettled
	outcome.Settlement = settlement
	outcome.Payment = payment
	outcome.Notice = notice
	return nil
}
