package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/shopagent/shopagent/internal/models"
	"github.com/shopagent/shopagent/internal/service"
)

// statusRank orders the forward-only fulfillment chain. Pre-paid states are
// unreachable through UpdateStatus.
var statusRank = map[string]int{
	models.OrderStatusRequested: 0,
	models.OrderStatusQuoted:    1,
	models.OrderStatusAccepted:  2,
	models.OrderStatusPaid:      3,
	models.OrderStatusPurchased: 4,
	models.OrderStatusInspected: 5,
	models.OrderStatusShipped:   6,
	models.OrderStatusDelivered: 7,
}

// allowedFrom lists, per admin-settable target, the statuses it may be
// entered from. Shipped additionally admits paid/purchased because the
// purchase team does not always record the intermediate steps before the
// parcel leaves.
var allowedFrom = map[string][]string{
	models.OrderStatusPurchased: {models.OrderStatusPaid},
	models.OrderStatusInspected: {models.OrderStatusPurchased},
	models.OrderStatusShipped:   {models.OrderStatusPaid, models.OrderStatusPurchased, models.OrderStatusInspected},
	models.OrderStatusDelivered: {models.OrderStatusShipped},
}

// UpdateStatus is the admin transition among the fulfillment states plus
// cancellation. Cancelling a paid-or-later order becomes a refund.
func (s *Service) UpdateStatus(ctx context.Context, actor *models.User, orderID uint, newStatus string) (*models.Order, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: only admins can update order status", service.ErrAuthorization)
	}
	if newStatus != models.OrderStatusCancelled {
		if _, ok := allowedFrom[newStatus]; !ok {
			return nil, fmt.Errorf("%w: %q is not an admin-settable status", service.ErrValidation, newStatus)
		}
	}

	unlock := s.locks.Lock(orderKey(orderID))
	defer unlock()

	var order models.Order
	var old string
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := loadOrder(tx, orderID, &order); err != nil {
			return err
		}
		old = order.Status

		if newStatus == models.OrderStatusCancelled {
			return s.cancelLocked(tx, &order)
		}
		return s.advanceLocked(tx, &order, newStatus)
	})
	if err != nil {
		return nil, err
	}

	s.publishStatusChange(ctx, &order, old)
	return &order, nil
}

func (s *Service) advanceLocked(tx *gorm.DB, order *models.Order, newStatus string) error {
	if order.IsTerminal() {
		return fmt.Errorf("%w: order is already %q", service.ErrInvalidState, order.Status)
	}
	if statusRank[newStatus] <= statusRank[order.Status] {
		return fmt.Errorf("%w: cannot move order from %q back to %q", service.ErrInvalidState, order.Status, newStatus)
	}

	valid := false
	for _, from := range allowedFrom[newStatus] {
		if order.Status == from {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: cannot move order from %q to %q", service.ErrInvalidState, order.Status, newStatus)
	}

	now := time.Now().UTC()
	order.Status = newStatus
	switch newStatus {
	case models.OrderStatusPurchased:
		order.PurchasedAt = &now
	case models.OrderStatusShipped:
		order.ShippedAt = &now
	case models.OrderStatusDelivered:
		order.DeliveredAt = &now
	}
	return tx.Save(order).Error
}

// cancelLocked cancels a pre-paid order outright; a paid-or-later order is
// refunded instead: the completed payment is marked refunded and a balance
// payment is credited back.
func (s *Service) cancelLocked(tx *gorm.DB, order *models.Order) error {
	if order.IsTerminal() {
		return fmt.Errorf("%w: order is already %q", service.ErrInvalidState, order.Status)
	}

	if statusRank[order.Status] < statusRank[models.OrderStatusPaid] {
		order.Status = models.OrderStatusCancelled
		return tx.Save(order).Error
	}

	var payment models.Payment
	err := tx.Where("order_id = ? AND status = ?", order.ID, models.PaymentStatusCompleted).
		First(&payment).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	now := time.Now().UTC()
	if err == nil {
		payment.Status = models.PaymentStatusRefunded
		if err := tx.Save(&payment).Error; err != nil {
			return err
		}
		if payment.Metadata == metadataBalanceMethod {
			if err := creditBalance(tx, payment.UserID, payment.Amount); err != nil {
				return err
			}
		}
		order.RefundAmount = decimalToNull(payment.Amount)
	}

	order.Status = models.OrderStatusRefunded
	order.RefundedAt = &now
	order.PaymentStatus = models.PaymentStatusRefunded
	return tx.Save(order).Error
}

// shipLocked is the logistics cascade. Unlike the admin transition it does
// not consult allowedFrom: once a tracking number exists the parcel is in the
// carrier's hands, whatever the recorded chain says, so any not-yet-shipped
// order moves straight to shipped.
func shipLocked(tx *gorm.DB, order *models.Order) error {
	now := time.Now().UTC()
	order.Status = models.OrderStatusShipped
	order.ShippedAt = &now
	return tx.Save(order).Error
}

type LogisticsInput struct {
	TrackingNumber     string `json:"tracking_number"`
	Carrier            string `json:"carrier"`
	TrackingURL        string `json:"tracking_url"`
	ActualWeight       string `json:"actual_weight"`
	ActualShippingCost string `json:"actual_shipping_cost"`
	WarehouseNotes     string `json:"warehouse_notes"`
}

// AttachLogistics upserts the logistics record. A tracking number appearing
// for the first time cascades the order to shipped; re-attaching the same
// number is a plain update with no further side effects.
func (s *Service) AttachLogistics(ctx context.Context, actor *models.User, orderID uint, in LogisticsInput) (*models.Logistics, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: only admins can attach logistics", service.ErrAuthorization)
	}

	unlock := s.locks.Lock(orderKey(orderID))
	defer unlock()

	var logistics models.Logistics
	var order models.Order
	var old string
	cascaded := false

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := loadOrder(tx, orderID, &order); err != nil {
			return err
		}
		old = order.Status

		err := tx.Where("order_id = ?", orderID).First(&logistics).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		hadTracking := logistics.TrackingNumber != ""

		logistics.OrderID = orderID
		if in.TrackingNumber != "" {
			logistics.TrackingNumber = in.TrackingNumber
		}
		if in.Carrier != "" {
			logistics.Carrier = in.Carrier
		}
		if in.TrackingURL != "" {
			logistics.TrackingURL = in.TrackingURL
		}
		if in.WarehouseNotes != "" {
			logistics.WarehouseNotes = in.WarehouseNotes
		}
		if d, ok := parseNullDecimal(in.ActualWeight); ok {
			logistics.ActualWeight = d
		}
		if d, ok := parseNullDecimal(in.ActualShippingCost); ok {
			logistics.ActualShippingCost = d
		}
		if err := tx.Save(&logistics).Error; err != nil {
			return err
		}

		if !hadTracking && logistics.TrackingNumber != "" &&
			order.Status != models.OrderStatusShipped && !order.IsTerminal() {
			if err := shipLocked(tx, &order); err != nil {
				return err
			}
			cascaded = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if cascaded {
		s.publishStatusChange(ctx, &order, old)
	}
	return &logistics, nil
}
