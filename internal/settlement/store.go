package settlement

import (
	"context"
	"database/sql"
	"time"

	"github.com/uptrace/bun"

	"github.com/DarioSilvaDev/pawgo-sub001/internal/models"
)

// Store wraps the settlement queries. Everything that mutates runs inside a
// caller-owned transaction so one job is one atomic unit.
type Store struct {
	Bun *bun.DB
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	return s.Bun.RunInTx(ctx, &sql.TxOptions{}, fn)
}

func (s *Store) GetDiscountCode(ctx context.Context, idb bun.IDB, id string) (*models.DiscountCode, error) {
	var code models.DiscountCode
	err := idb.NewSelect().
		Model(&code).
		Where("discount_code_id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &code, nil
}

// GetSettlementByCode → existence of a row is the authoritative
// "already processed" flag for a code
func (s *Store) GetSettlementByCode(ctx context.Context, idb bun.IDB, discountCodeID string) (*models.DiscountCodeSettlement, error) {
	var settlement models.DiscountCodeSettlement
	err := idb.NewSelect().
		Model(&settlement).
		Where("discount_code_id = ?", discountCodeID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &settlement, nil
}

// GetPendingCommissions → commissions still eligible for aggregation:
// pending and not yet linked to any influencer payment
func (s *Store) GetPendingCommissions(ctx context.Context, idb bun.IDB, discountCodeID string) ([]models.Commission, error) {
	var commissions []models.Commission
	err := idb.NewSelect().
		Model(&commissions).
		Where("discount_code_id = ?", discountCodeID).
		Where("status = ?", models.CommissionPending).
		Where("influencer_payment_id IS NULL").
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return commissions, nil
}

func (s *Store) GetInfluencer(ctx context.Context, idb bun.IDB, id string) (*models.Influencer, error) {
	var influencer models.Influencer
	err := idb.NewSelect().
		Model(&influencer).
		Where("influencer_id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &influencer, nil
}

func (s *Store) InsertInfluencerPayment(ctx context.Context, idb bun.IDB, payment *models.InfluencerPayment) error {
	_, err := idb.NewInsert().Model(payment).Exec(ctx)
	return err
}

// LinkCommissions sets influencer_payment_id on exactly the aggregated rows.
// The link excludes them from every future aggregation, which is what makes
// re-running a job safe.
func (s *Store) LinkCommissions(ctx context.Context, idb bun.IDB, commissionIDs []string, influencerPaymentID string) error {
	if len(commissionIDs) == 0 {
		return nil
	}
	_, err := idb.NewUpdate().
		Model((*models.Commission)(nil)).
		Set("influencer_payment_id = ?", influencerPaymentID).
		Where("commission_id IN (?)", bun.In(commissionIDs)).
		Where("influencer_payment_id IS NULL").
		Exec(ctx)
	return err
}

func (s *Store) InsertSettlement(ctx context.Context, idb bun.IDB, settlement *models.DiscountCodeSettlement) error {
	_, err := idb.NewInsert().Model(settlement).Exec(ctx)
	return err
}

func (s *Store) DeactivateDiscountCode(ctx context.Context, idb bun.IDB, discountCodeID string) error {
	_, err := idb.NewUpdate().
		Model((*models.DiscountCode)(nil)).
		Set("is_active = ?", false).
		Where("discount_code_id = ?", discountCodeID).
		Exec(ctx)
	return err
}

// ListExpiredActiveCodes → scan candidates for settlement: still active,
// validity window already closed
func (s *Store) ListExpiredActiveCodes(ctx context.Context, now time.Time, limit int) ([]models.DiscountCode, error) {
	var codes []models.DiscountCode
	err := s.Bun.NewSelect().
		Model(&codes).
		Where("is_active = ?", true).
		Where("valid_until IS NOT NULL").
		Where("valid_until < ?", now).
		Order("valid_until ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return codes, nil
}
