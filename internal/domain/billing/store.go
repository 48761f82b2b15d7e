package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("payment not found")

// Store is the gorm-backed payment record store. Every mutation is a single-row keyed update.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, p *Payment) error {
	if p.PlatformStatus == "" {
		p.PlatformStatus = StatusPending
	}
	if p.TransferStatus == "" {
		p.TransferStatus = TransferPending
	}
	return s.db.WithContext(ctx).Create(p).Error
}

func (s *Store) GetByID(ctx context.Context, id uint) (*Payment, error) {
	var p Payment
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetBySessionID(ctx context.Context, sessionID string) (*Payment, error) {
	var p Payment
	if err := s.db.WithContext(ctx).First(&p, "stripe_session_id = ?", sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// MarkSucceeded moves a PENDING payment to SUCCEEDED and opens the dispute window.
// It reports false when the payment had already left PENDING (webhook redelivery).
func (s *Store) MarkSucceeded(ctx context.Context, sessionID, paymentIntentID string, disputePeriodEnds time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&Payment{}).
		Where("stripe_session_id = ? AND platform_status = ?", sessionID, StatusPending).
		Updates(map[string]interface{}{
			"stripe_payment_intent_id": paymentIntentID,
			"platform_status":          StatusSucceeded,
			"dispute_period_ends":      disputePeriodEnds.UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("mark payment succeeded: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	if _, err := s.GetBySessionID(ctx, sessionID); err != nil {
		return false, err
	}
	return false, nil
}

// MarkFailed records that the booking could not be created for this payment.
func (s *Store) MarkFailed(ctx context.Context, paymentIntentID string) error {
	res := s.db.WithContext(ctx).Model(&Payment{}).
		Where("stripe_payment_intent_id = ?", paymentIntentID).
		Update("platform_status", StatusFailed)
	if res.Error != nil {
		return fmt.Errorf("mark payment failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("mark payment failed for %s: %w", paymentIntentID, ErrNotFound)
	}
	return nil
}

// MarkDisputed blocks the mentor payout for a payment under dispute. A payment already
// paid out keeps its TRANSFERRED status and only gets the dispute flag.
func (s *Store) MarkDisputed(ctx context.Context, paymentIntentID string) error {
	db := s.db.WithContext(ctx)
	res := db.Model(&Payment{}).
		Where("stripe_payment_intent_id = ? AND transfer_id IS NULL", paymentIntentID).
		Updates(map[string]interface{}{
			"dispute_requested": true,
			"platform_status":   StatusDisputed,
		})
	if res.Error != nil {
		return fmt.Errorf("mark payment disputed: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	res = db.Model(&Payment{}).
		Where("stripe_payment_intent_id = ? AND transfer_id IS NOT NULL", paymentIntentID).
		Update("dispute_requested", true)
	if res.Error != nil {
		return fmt.Errorf("mark payment disputed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTransferCandidates returns payments whose dispute window closed before now, that have
// no transfer yet and still have retry budget.
func (s *Store) ListTransferCandidates(ctx context.Context, now time.Time, maxRetries int) ([]Payment, error) {
	var payments []Payment
	err := s.db.WithContext(ctx).
		Where("platform_status = ?", StatusSucceeded).
		Where("transfer_id IS NULL").
		Where("dispute_requested = ?", false).
		Where("dispute_period_ends < ?", now.UTC()).
		Where("transfer_retry_count < ?", maxRetries).
		Order("id ASC").
		Find(&payments).Error
	if err != nil {
		return nil, fmt.Errorf("list transfer candidates: %w", err)
	}
	return payments, nil
}

func (s *Store) IncrementTransferRetry(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Model(&Payment{}).
		Where("id = ?", id).
		Update("transfer_retry_count", gorm.Expr("transfer_retry_count + ?", 1)).Error
}

// MarkTransferred claims the payment for transferID. It reports false when another run
// already recorded a transfer.
func (s *Store) MarkTransferred(ctx context.Context, id uint, transferID string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&Payment{}).
		Where("id = ? AND transfer_id IS NULL", id).
		Updates(map[string]interface{}{
			"transfer_id":     transferID,
			"transfer_status": TransferTransferred,
			"platform_status": StatusTransferred,
		})
	if res.Error != nil {
		return false, fmt.Errorf("mark payment transferred: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) SetTransferStatus(ctx context.Context, id uint, status string) error {
	return s.db.WithContext(ctx).Model(&Payment{}).
		Where("id = ?", id).
		Update("transfer_status", status).Error
}

// List returns the most recent payments, optionally filtered by platform status.
func (s *Store) List(ctx context.Context, status string, limit int) ([]Payment, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Model(&Payment{})
	if status != "" {
		q = q.Where("platform_status = ?", status)
	}
	var payments []Payment
	if err := q.Order("created_at DESC").Limit(limit).Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

type StatusCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
	Amount int64  `json:"amount"`
}

// CountByStatus groups payments by platform status with their summed amounts.
func (s *Store) CountByStatus(ctx context.Context) ([]StatusCount, error) {
	var rows []StatusCount
	err := s.db.WithContext(ctx).Model(&Payment{}).
		Select("platform_status AS status, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount").
		Group("platform_status").
		Order("platform_status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
