package order

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/shopagent/shopagent/internal/gateway"
	"github.com/shopagent/shopagent/internal/logging"
	"github.com/shopagent/shopagent/internal/models"
	"github.com/shopagent/shopagent/internal/service"
)

const (
	PayMethodBalance = "balance"
	PayMethodGateway = "gateway"

	metadataBalanceMethod = `{"method":"balance"}`
	metadataGatewayMethod = `{"method":"gateway"}`
)

const gatewayTimeout = 5 * time.Second

// PayOrder pays an accepted order. Balance payments debit atomically and
// complete immediately; gateway payments stay pending until the provider
// confirms through the callback. The returned checkout is non-nil only for
// gateway payments.
func (s *Service) PayOrder(ctx context.Context, actor *models.User, orderID uint, method string) (*models.Order, *gateway.Checkout, error) {
	if method != PayMethodBalance && method != PayMethodGateway {
		return nil, nil, fmt.Errorf("%w: unknown payment method %q", service.ErrValidation, method)
	}

	unlockOrder := s.locks.Lock(orderKey(orderID))
	defer unlockOrder()
	unlockUser := s.locks.Lock(userKey(actor.ID))
	defer unlockUser()

	var order models.Order
	var payment models.Payment
	var checkout *gateway.Checkout

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := loadOrder(tx, orderID, &order); err != nil {
			return err
		}
		if order.UserID != actor.ID {
			return fmt.Errorf("%w: not your order", service.ErrAuthorization)
		}
		if order.Status != models.OrderStatusAccepted {
			return fmt.Errorf("%w: order is %q, expected %q", service.ErrInvalidState, order.Status, models.OrderStatusAccepted)
		}
		if !order.TotalCost.Valid {
			return fmt.Errorf("%w: order has no total cost", service.ErrInvalidState)
		}
		total := order.TotalCost.Decimal

		if method == PayMethodBalance {
			return s.payFromBalance(tx, &order, actor.ID, total)
		}
		return s.openGatewayPayment(tx, &order, actor.ID, total, &payment)
	})
	if err != nil {
		return nil, nil, err
	}

	if method == PayMethodGateway {
		co, err := s.createCheckout(ctx, &order, &payment)
		if err != nil {
			return nil, nil, err
		}
		checkout = co
	}

	if order.Status == models.OrderStatusPaid {
		s.publishStatusChange(ctx, &order, models.OrderStatusAccepted)
	}
	return &order, checkout, nil
}

func (s *Service) payFromBalance(tx *gorm.DB, order *models.Order, userID uint, total decimal.Decimal) error {
	if err := debitBalance(tx, userID, total); err != nil {
		return err
	}

	oid := order.ID
	payment := models.Payment{
		UserID:    userID,
		OrderID:   &oid,
		Type:      models.PaymentTypeOrder,
		Amount:    total,
		Status:    models.PaymentStatusCompleted,
		Reference: uuid.NewString(),
		Metadata:  metadataBalanceMethod,
	}
	if err := tx.Create(&payment).Error; err != nil {
		return err
	}

	now := time.Now().UTC()
	order.Status = models.OrderStatusPaid
	order.PaidAt = &now
	order.PaymentStatus = models.PaymentStatusCompleted
	return tx.Save(order).Error
}

// openGatewayPayment records the pending payment inside the row transaction.
// The external call happens afterwards, so a slow provider never holds the
// transaction open.
func (s *Service) openGatewayPayment(tx *gorm.DB, order *models.Order, userID uint, total decimal.Decimal, payment *models.Payment) error {
	if s.Gateway == nil {
		return fmt.Errorf("%w: payment gateway not configured", service.ErrExternalService)
	}

	oid := order.ID
	*payment = models.Payment{
		UserID:    userID,
		OrderID:   &oid,
		Type:      models.PaymentTypeOrder,
		Amount:    total,
		Status:    models.PaymentStatusPending,
		Reference: uuid.NewString(),
		Metadata:  metadataGatewayMethod,
	}
	if err := tx.Create(payment).Error; err != nil {
		return err
	}

	order.PaymentStatus = models.PaymentStatusPending
	return tx.Save(order).Error
}

// createCheckout runs once the pending payment is committed. On a provider
// failure the payment is marked failed and the order stays accepted, so the
// user can retry.
func (s *Service) createCheckout(ctx context.Context, order *models.Order, payment *models.Payment) (*gateway.Checkout, error) {
	gctx, cancel := context.WithTimeout(ctx, gatewayTimeout)
	defer cancel()
	co, err := s.Gateway.CreateCheckout(gctx, payment.Reference, payment.Amount, map[string]string{
		"order_number": order.OrderNumber,
	})
	if err != nil {
		s.abandonPayment(ctx, order, payment)
		return nil, fmt.Errorf("%w: %v", service.ErrExternalService, err)
	}

	order.ExternalCheckoutID = co.CheckoutID
	if err := s.DB.WithContext(ctx).Save(order).Error; err != nil {
		return nil, err
	}
	return &co, nil
}

func (s *Service) abandonPayment(ctx context.Context, order *models.Order, payment *models.Payment) {
	payment.Status = models.PaymentStatusFailed
	order.PaymentStatus = models.PaymentStatusFailed

	db := s.DB.WithContext(ctx)
	if err := db.Save(payment).Error; err != nil {
		logging.FromContext(ctx).Error("payment_mark_failed", "reference", payment.Reference, "error", err)
	}
	if err := db.Save(order).Error; err != nil {
		logging.FromContext(ctx).Error("order_payment_status_update_failed", "order_id", order.ID, "error", err)
	}
}

// ConfirmPayment is the gateway callback: it completes the pending payment
// identified by reference and advances the order to paid.
func (s *Service) ConfirmPayment(ctx context.Context, reference string) (*models.Order, error) {
	var payment models.Payment
	if err := s.DB.WithContext(ctx).Where("reference = ?", reference).First(&payment).Error; err != nil {
		return nil, fmt.Errorf("%w: payment %q", service.ErrNotFound, reference)
	}
	if payment.OrderID == nil {
		return nil, fmt.Errorf("%w: payment %q is not an order payment", service.ErrInvalidState, reference)
	}

	unlock := s.locks.Lock(orderKey(*payment.OrderID))
	defer unlock()

	var order models.Order
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("reference = ?", reference).First(&payment).Error; err != nil {
			return err
		}
		if payment.Status == models.PaymentStatusCompleted {
			return loadOrder(tx, *payment.OrderID, &order) // already confirmed, no-op
		}
		if payment.Status != models.PaymentStatusPending {
			return fmt.Errorf("%w: payment is %q", service.ErrInvalidState, payment.Status)
		}

		if err := loadOrder(tx, *payment.OrderID, &order); err != nil {
			return err
		}
		if order.Status != models.OrderStatusAccepted {
			return fmt.Errorf("%w: order is %q, expected %q", service.ErrInvalidState, order.Status, models.OrderStatusAccepted)
		}

		payment.Status = models.PaymentStatusCompleted
		if err := tx.Save(&payment).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		order.Status = models.OrderStatusPaid
		order.PaidAt = &now
		order.PaymentStatus = models.PaymentStatusCompleted
		return tx.Save(&order).Error
	})
	if err != nil {
		return nil, err
	}

	if order.Status == models.OrderStatusPaid {
		s.publishStatusChange(ctx, &order, models.OrderStatusAccepted)
	}
	return &order, nil
}

// debitBalance decrements the user's balance, failing with
// ErrInsufficientFunds (and leaving the balance untouched) when it would go
// negative. The conditional UPDATE keeps the check-and-debit atomic.
func debitBalance(tx *gorm.DB, userID uint, amount decimal.Decimal) error {
	res := tx.Model(&models.User{}).
		Where("id = ? AND balance >= ?", userID, amount).
		Update("balance", gorm.Expr("balance - ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: balance is below %s", service.ErrInsufficientFunds, amount.StringFixed(2))
	}
	return nil
}

func creditBalance(tx *gorm.DB, userID uint, amount decimal.Decimal) error {
	return tx.Model(&models.User{}).
		Where("id = ?", userID).
		Update("balance", gorm.Expr("balance + ?", amount)).Error
}

func decimalToNull(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NewNullDecimal(d)
}

func parseNullDecimal(s string) (decimal.NullDecimal, bool) {
	if s == "" {
		return decimal.NullDecimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, false
	}
	return decimal.NewNullDecimal(d), true
}
