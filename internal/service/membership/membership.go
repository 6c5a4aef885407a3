package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/shopagent/shopagent/internal/models"
	"github.com/shopagent/shopagent/internal/service"
)

const (
	trialDuration = 14 * 24 * time.Hour
	paidDuration  = 30 * 24 * time.Hour
)

// Service enforces the one-active-membership rule. Trial eligibility is
// decided from membership history, not a flag on the user.
type Service struct {
	DB *gorm.DB

	locks *service.KeyedMutex
}

func NewService(db *gorm.DB, locks *service.KeyedMutex) *Service {
	if locks == nil {
		locks = &service.KeyedMutex{}
	}
	return &Service{DB: db, locks: locks}
}

func memberKey(userID uint) string { return fmt.Sprintf("membership:user:%d", userID) }

// ActiveFor returns the user's currently-active membership, if any. An
// active record past its expiry is lazily expired.
func (s *Service) ActiveFor(ctx context.Context, userID uint) (*models.Membership, error) {
	var m models.Membership
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.MembershipStatusActive).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if time.Now().After(m.ExpiresAt) {
		m.Status = models.MembershipStatusExpired
		if err := s.DB.WithContext(ctx).Save(&m).Error; err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &m, nil
}

// StartTrial grants the one-per-user trial membership.
func (s *Service) StartTrial(ctx context.Context, user *models.User) (*models.Membership, error) {
	unlock := s.locks.Lock(memberKey(user.ID))
	defer unlock()

	var membership models.Membership
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var trials int64
		if err := tx.Model(&models.Membership{}).
			Where("user_id = ? AND type = ?", user.ID, models.MembershipTypeTrial).
			Count(&trials).Error; err != nil {
			return err
		}
		if trials > 0 {
			return fmt.Errorf("%w: trial already used", service.ErrInvalidState)
		}

		if err := ensureNoActive(tx, user.ID); err != nil {
			return err
		}

		now := time.Now().UTC()
		membership = models.Membership{
			UserID:     user.ID,
			Type:       models.MembershipTypeTrial,
			Status:     models.MembershipStatusActive,
			StartedAt:  now,
			ExpiresAt:  now.Add(trialDuration),
			AmountPaid: decimal.Zero,
		}
		return tx.Create(&membership).Error
	})
	if err != nil {
		return nil, err
	}
	return &membership, nil
}

// Purchase debits the user's balance for a paid membership and activates it.
func (s *Service) Purchase(ctx context.Context, user *models.User, price decimal.Decimal) (*models.Membership, error) {
	if !price.IsPositive() {
		return nil, fmt.Errorf("%w: price must be positive", service.ErrValidation)
	}

	unlockMember := s.locks.Lock(memberKey(user.ID))
	defer unlockMember()
	unlockUser := s.locks.Lock(fmt.Sprintf("user:%d", user.ID))
	defer unlockUser()

	var membership models.Membership
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureNoActive(tx, user.ID); err != nil {
			return err
		}

		res := tx.Model(&models.User{}).
			Where("id = ? AND balance >= ?", user.ID, price).
			Update("balance", gorm.Expr("balance - ?", price))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: balance is below %s", service.ErrInsufficientFunds, price.StringFixed(2))
		}

		now := time.Now().UTC()
		membership = models.Membership{
			UserID:     user.ID,
			Type:       models.MembershipTypePaid,
			Status:     models.MembershipStatusActive,
			StartedAt:  now,
			ExpiresAt:  now.Add(paidDuration),
			AmountPaid: price,
		}
		if err := tx.Create(&membership).Error; err != nil {
			return err
		}

		mid := membership.ID
		payment := models.Payment{
			UserID:       user.ID,
			MembershipID: &mid,
			Type:         models.PaymentTypeMembership,
			Amount:       price,
			Status:       models.PaymentStatusCompleted,
			Reference:    uuid.NewString(),
			Metadata:     `{"method":"balance"}`,
		}
		return tx.Create(&payment).Error
	})
	if err != nil {
		return nil, err
	}
	return &membership, nil
}

// Cancel ends the active membership; there is no refund on cancellation.
func (s *Service) Cancel(ctx context.Context, user *models.User) (*models.Membership, error) {
	unlock := s.locks.Lock(memberKey(user.ID))
	defer unlock()

	var membership models.Membership
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("user_id = ? AND status = ?", user.ID, models.MembershipStatusActive).
			First(&membership).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: no active membership", service.ErrInvalidState)
		}
		if err != nil {
			return err
		}
		membership.Status = models.MembershipStatusCancelled
		return tx.Save(&membership).Error
	})
	if err != nil {
		return nil, err
	}
	return &membership, nil
}

// ExpireDue sweeps active memberships past their expiry. Meant for a
// periodic admin-triggered or scheduled call.
func (s *Service) ExpireDue(ctx context.Context) (int64, error) {
	res := s.DB.WithContext(ctx).Model(&models.Membership{}).
		Where("status = ? AND expires_at < ?", models.MembershipStatusActive, time.Now().UTC()).
		Update("status", models.MembershipStatusExpired)
	return res.RowsAffected, res.Error
}

func ensureNoActive(tx *gorm.DB, userID uint) error {
	var active int64
	if err := tx.Model(&models.Membership{}).
		Where("user_id = ? AND status = ? AND expires_at > ?", userID, models.MembershipStatusActive, time.Now().UTC()).
		Count(&active).Error; err != nil {
		return err
	}
	if active > 0 {
		return fmt.Errorf("%w: an active membership already exists", service.ErrInvalidState)
	}
	return nil
}
