package order

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/shopagent/shopagent/internal/events"
	"github.com/shopagent/shopagent/internal/gateway"
	"github.com/shopagent/shopagent/internal/logging"
	"github.com/shopagent/shopagent/internal/models"
	"github.com/shopagent/shopagent/internal/service"
	"github.com/shopagent/shopagent/internal/util"
)

const (
	maxImages    = 5
	maxImageSize = 5 << 20
)

// Indexer mirrors orders into the admin search index. Indexing is
// best-effort: failures are logged and never fail the operation.
type Indexer interface {
	IndexOrder(ctx context.Context, o models.Order) error
}

// Service is the order lifecycle engine. Every mutation is serialized per
// order id and runs inside a transaction, so a concurrent admin and user
// action on the same order observe each other's committed state.
type Service struct {
	DB      *gorm.DB
	Bus     events.Bus
	Gateway gateway.Gateway
	Index   Indexer

	locks *service.KeyedMutex
}

func NewService(db *gorm.DB, bus events.Bus, gw gateway.Gateway, idx Indexer, locks *service.KeyedMutex) *Service {
	if locks == nil {
		locks = &service.KeyedMutex{}
	}
	return &Service{DB: db, Bus: bus, Gateway: gw, Index: idx, locks: locks}
}

func orderKey(id uint) string { return fmt.Sprintf("order:%d", id) }
func userKey(id uint) string  { return fmt.Sprintf("user:%d", id) }

type ImageInput struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
}

type SubmitInput struct {
	ProductLink string       `json:"product_link"`
	Notes       string       `json:"notes"`
	Images      []ImageInput `json:"images"`
}

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
}

// SubmitOrder creates a new order in "requested" with a generated unique
// order number and up to five attached images.
func (s *Service) SubmitOrder(ctx context.Context, user *models.User, in SubmitInput) (*models.Order, error) {
	if err := validateProductLink(in.ProductLink); err != nil {
		return nil, err
	}
	if len(in.Images) > maxImages {
		return nil, fmt.Errorf("%w: at most %d images allowed", service.ErrValidation, maxImages)
	}
	for _, img := range in.Images {
		ext := strings.ToLower(filepath.Ext(img.Filename))
		if !imageExts[ext] {
			return nil, fmt.Errorf("%w: unsupported image type %q", service.ErrValidation, ext)
		}
		if img.Size > maxImageSize {
			return nil, fmt.Errorf("%w: image %q exceeds size limit", service.ErrValidation, img.Filename)
		}
	}

	order := &models.Order{
		UserID:      user.ID,
		ProductLink: in.ProductLink,
		Notes:       strings.TrimSpace(in.Notes),
		Status:      models.OrderStatusRequested,
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		number, err := s.generateOrderNumber(tx)
		if err != nil {
			return err
		}
		order.OrderNumber = number

		if err := tx.Create(order).Error; err != nil {
			return err
		}
		for _, img := range in.Images {
			rec := models.OrderImage{OrderID: order.ID, Path: img.Path, Size: img.Size}
			if err := tx.Create(&rec).Error; err != nil {
				return err
			}
			order.Images = append(order.Images, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.indexOrder(ctx, *order)
	return order, nil
}

func validateProductLink(link string) error {
	if strings.TrimSpace(link) == "" {
		return fmt.Errorf("%w: product_link is required", service.ErrValidation)
	}
	u, err := url.ParseRequestURI(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: product_link must be a valid http(s) URL", service.ErrValidation)
	}
	return nil
}

const orderNumberAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// generateOrderNumber builds a human-sortable "SA-YYYYMMDD-XXXXXX" number
// and retries on the rare collision.
func (s *Service) generateOrderNumber(tx *gorm.DB) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		suffix := make([]byte, 6)
		for i := range suffix {
			suffix[i] = orderNumberAlphabet[rand.Intn(len(orderNumberAlphabet))]
		}
		number := fmt.Sprintf("SA-%s-%s", time.Now().UTC().Format("20060102"), suffix)

		var count int64
		if err := tx.Model(&models.Order{}).Where("order_number = ?", number).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return number, nil
		}
	}
	return "", fmt.Errorf("cannot generate unique order number")
}

// ProvideQuote sets the cost breakdown and moves requested -> quoted.
func (s *Service) ProvideQuote(ctx context.Context, actor *models.User, orderID uint, itemCost, serviceFee, shippingEstimate decimal.Decimal) (*models.Order, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: only admins can quote orders", service.ErrAuthorization)
	}
	for _, d := range []decimal.Decimal{itemCost, serviceFee, shippingEstimate} {
		if d.IsNegative() {
			return nil, fmt.Errorf("%w: cost fields must not be negative", service.ErrValidation)
		}
	}

	unlock := s.locks.Lock(orderKey(orderID))
	defer unlock()

	var order models.Order
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := loadOrder(tx, orderID, &order); err != nil {
			return err
		}
		if order.Status != models.OrderStatusRequested {
			return fmt.Errorf("%w: cannot quote order in status %q", service.ErrInvalidState, order.Status)
		}

		now := time.Now().UTC()
		order.ItemCost = decimal.NewNullDecimal(itemCost)
		order.ServiceFee = decimal.NewNullDecimal(serviceFee)
		order.ShippingEstimate = decimal.NewNullDecimal(shippingEstimate)
		order.TotalCost = decimal.NewNullDecimal(itemCost.Add(serviceFee).Add(shippingEstimate))
		order.QuotedAt = &now
		order.Status = models.OrderStatusQuoted
		return tx.Save(&order).Error
	})
	if err != nil {
		return nil, err
	}

	s.publishStatusChange(ctx, &order, models.OrderStatusRequested)
	return &order, nil
}

// AcceptQuote moves quoted -> accepted. Only the owning user or an admin may
// act on the quote.
func (s *Service) AcceptQuote(ctx context.Context, actor *models.User, orderID uint) (*models.Order, error) {
	return s.resolveQuote(ctx, actor, orderID, models.OrderStatusAccepted)
}

// RejectQuote moves quoted -> rejected (terminal).
func (s *Service) RejectQuote(ctx context.Context, actor *models.User, orderID uint) (*models.Order, error) {
	return s.resolveQuote(ctx, actor, orderID, models.OrderStatusRejected)
}

func (s *Service) resolveQuote(ctx context.Context, actor *models.User, orderID uint, target string) (*models.Order, error) {
	unlock := s.locks.Lock(orderKey(orderID))
	defer unlock()

	var order models.Order
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := loadOrder(tx, orderID, &order); err != nil {
			return err
		}
		if order.UserID != actor.ID && !actor.IsAdmin() {
			return fmt.Errorf("%w: not your order", service.ErrAuthorization)
		}
		if order.Status != models.OrderStatusQuoted {
			return fmt.Errorf("%w: order is %q, expected %q", service.ErrInvalidState, order.Status, models.OrderStatusQuoted)
		}
		order.Status = target
		return tx.Save(&order).Error
	})
	if err != nil {
		return nil, err
	}

	s.publishStatusChange(ctx, &order, models.OrderStatusQuoted)
	return &order, nil
}

// GetOrder returns an order with its associations. Non-admins only see
// their own orders.
func (s *Service) GetOrder(ctx context.Context, actor *models.User, orderID uint) (*models.Order, error) {
	var order models.Order
	err := s.DB.WithContext(ctx).
		Preload("Images").Preload("Logistics").Preload("Payments").
		First(&order, orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: order %d", service.ErrNotFound, orderID)
	}
	if err != nil {
		return nil, err
	}
	if order.UserID != actor.ID && !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: not your order", service.ErrAuthorization)
	}
	return &order, nil
}

// ListOrders pages through a user's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, userID uint, page, size int) ([]models.Order, int64, error) {
	offset, limit := util.Paginate(page, size)

	q := s.DB.WithContext(ctx).Model(&models.Order{}).Where("user_id = ?", userID)
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var orders []models.Order
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// ListAllOrders is the admin listing, optionally filtered by status.
func (s *Service) ListAllOrders(ctx context.Context, status string, page, size int) ([]models.Order, int64, error) {
	offset, limit := util.Paginate(page, size)

	q := s.DB.WithContext(ctx).Model(&models.Order{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var orders []models.Order
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func loadOrder(tx *gorm.DB, id uint, dst *models.Order) error {
	if err := tx.First(dst, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: order %d", service.ErrNotFound, id)
		}
		return err
	}
	return nil
}

func (s *Service) publishStatusChange(ctx context.Context, order *models.Order, old string) {
	if s.Bus != nil && order.Status != old {
		s.Bus.Publish(ctx, events.OrderStatusChanged{
			OrderID:   order.ID,
			UserID:    order.UserID,
			OldStatus: old,
			NewStatus: order.Status,
			At:        time.Now().UTC(),
		})
	}
	s.indexOrder(ctx, *order)
}

func (s *Service) indexOrder(ctx context.Context, order models.Order) {
	if s.Index == nil {
		return
	}
	if err := s.Index.IndexOrder(ctx, order); err != nil {
		logging.FromContext(ctx).Warn("order_index_failed", "order_id", order.ID, "error", err)
	}
}
