package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/shopagent/shopagent/internal/gateway"
	"github.com/shopagent/shopagent/internal/models"
	"github.com/shopagent/shopagent/internal/service"
	"github.com/shopagent/shopagent/internal/service/order"
)

const gatewayTimeout = 5 * time.Second

// Service records deposits and routes gateway confirmations to the right
// entity. Order payments delegate to the lifecycle engine so the per-order
// serialization holds.
type Service struct {
	DB      *gorm.DB
	Gateway gateway.Gateway
	Orders  *order.Service

	locks *service.KeyedMutex
}

func NewService(db *gorm.DB, gw gateway.Gateway, orders *order.Service, locks *service.KeyedMutex) *Service {
	if locks == nil {
		locks = &service.KeyedMutex{}
	}
	return &Service{DB: db, Gateway: gw, Orders: orders, locks: locks}
}

// Deposit opens a gateway checkout that tops up the user's balance once
// confirmed. The Payment row references neither order nor membership.
func (s *Service) Deposit(ctx context.Context, user *models.User, amount decimal.Decimal) (*models.Payment, *gateway.Checkout, error) {
	if !amount.IsPositive() {
		return nil, nil, fmt.Errorf("%w: amount must be positive", service.ErrValidation)
	}
	if s.Gateway == nil {
		return nil, nil, fmt.Errorf("%w: payment gateway not configured", service.ErrExternalService)
	}

	payment := models.Payment{
		UserID:    user.ID,
		Type:      models.PaymentTypeDeposit,
		Amount:    amount,
		Status:    models.PaymentStatusPending,
		Reference: uuid.NewString(),
	}
	if err := s.DB.WithContext(ctx).Create(&payment).Error; err != nil {
		return nil, nil, err
	}

	gctx, cancel := context.WithTimeout(ctx, gatewayTimeout)
	defer cancel()
	co, err := s.Gateway.CreateCheckout(gctx, payment.Reference, amount, map[string]string{
		"kind": models.PaymentTypeDeposit,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", service.ErrExternalService, err)
	}
	return &payment, &co, nil
}

// Confirm is the gateway callback entrypoint. It is idempotent: confirming
// an already-completed payment is a no-op.
func (s *Service) Confirm(ctx context.Context, reference string) (*models.Payment, error) {
	var payment models.Payment
	err := s.DB.WithContext(ctx).Where("reference = ?", reference).First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: payment %q", service.ErrNotFound, reference)
	}
	if err != nil {
		return nil, err
	}

	switch payment.Type {
	case models.PaymentTypeOrder:
		if _, err := s.Orders.ConfirmPayment(ctx, reference); err != nil {
			return nil, err
		}
		err = s.DB.WithContext(ctx).Where("reference = ?", reference).First(&payment).Error
		return &payment, err

	case models.PaymentTypeDeposit:
		return s.confirmDeposit(ctx, &payment)

	default:
		return nil, fmt.Errorf("%w: cannot confirm payment type %q", service.ErrInvalidState, payment.Type)
	}
}

func (s *Service) confirmDeposit(ctx context.Context, payment *models.Payment) (*models.Payment, error) {
	unlock := s.locks.Lock(fmt.Sprintf("user:%d", payment.UserID))
	defer unlock()

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("reference = ?", payment.Reference).First(payment).Error; err != nil {
			return err
		}
		if payment.Status == models.PaymentStatusCompleted {
			return nil
		}
		if payment.Status != models.PaymentStatusPending {
			return fmt.Errorf("%w: payment is %q", service.ErrInvalidState, payment.Status)
		}

		payment.Status = models.PaymentStatusCompleted
		if err := tx.Save(payment).Error; err != nil {
			return err
		}
		return tx.Model(&models.User{}).Where("id = ?", payment.UserID).
			Update("balance", gorm.Expr("balance + ?", payment.Amount)).Error
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// ListPayments pages a user's payment history, newest first.
func (s *Service) ListPayments(ctx context.Context, userID uint, limit, offset int) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC").Limit(limit).Offset(offset).Find(&payments).Error
	return payments, err
}
