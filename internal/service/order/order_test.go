package order

import (
	"context"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/shopagent/shopagent/internal/events"
	"github.com/shopagent/shopagent/internal/gateway"
	"github.com/shopagent/shopagent/internal/models"
	"github.com/shopagent/shopagent/internal/service"
)

func InitTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to connect to in-memory db: %v", err)
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("failed to migrate tables: %v", err)
	}
	return db
}

type fakeGateway struct {
	checkouts int
	fail      bool
}

func (g *fakeGateway) CreateCheckout(_ context.Context, reference string, _ decimal.Decimal, _ map[string]string) (gateway.Checkout, error) {
	if g.fail {
		return gateway.Checkout{}, context.DeadlineExceeded
	}
	g.checkouts++
	return gateway.Checkout{CheckoutID: "chk_" + reference, URL: "https://pay.example.com/" + reference}, nil
}

func newTestService(t *testing.T) (*Service, *gorm.DB, *fakeGateway) {
	db := InitTestDB(t)
	gw := &fakeGateway{}
	return NewService(db, events.NopBus{}, gw, nil, nil), db, gw
}

var userSeq int

func createUser(t *testing.T, db *gorm.DB, role string, balance string) *models.User {
	userSeq++
	u := models.User{
		Name:         "test_" + role,
		Email:        fmt.Sprintf("%s%d@example.com", role, userSeq),
		PasswordHash: "x",
		Role:         role,
		Balance:      decimal.RequireFromString(balance),
	}
	require.NoError(t, db.Create(&u).Error)
	return &u
}

func TestSubmitOrder(t *testing.T) {
	svc, _, _ := newTestService(t)
	user := createUser(t, svc.DB, models.RoleUser, "0")
	ctx := context.Background()

	o, err := svc.SubmitOrder(ctx, user, SubmitInput{
		ProductLink: "https://shop.example.com/item/42",
		Notes:       "  size M please  ",
		Images: []ImageInput{
			{Filename: "front.jpg", Path: "/uploads/front.jpg", Size: 1024},
			{Filename: "back.png", Path: "/uploads/back.png", Size: 2048},
		},
	})
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusRequested, o.Status)
	require.Regexp(t, `^SA-\d{8}-[A-Z2-9]{6}$`, o.OrderNumber)
	require.Equal(t, "size M please", o.Notes)
	require.Len(t, o.Images, 2)
}

func TestSubmitOrderValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	user := createUser(t, svc.DB, models.RoleUser, "0")
	ctx := context.Background()

	_, err := svc.SubmitOrder(ctx, user, SubmitInput{ProductLink: "not a url"})
	require.ErrorIs(t, err, service.ErrValidation)

	_, err = svc.SubmitOrder(ctx, user, SubmitInput{ProductLink: "ftp://example.com/x"})
	require.ErrorIs(t, err, service.ErrValidation)

	images := make([]ImageInput, 6)
	for i := range images {
		images[i] = ImageInput{Filename: "a.jpg", Path: "/a.jpg", Size: 1}
	}
	_, err = svc.SubmitOrder(ctx, user, SubmitInput{ProductLink: "https://example.com/x", Images: images})
	require.ErrorIs(t, err, service.ErrValidation)

	_, err = svc.SubmitOrder(ctx, user, SubmitInput{
		ProductLink: "https://example.com/x",
		Images:      []ImageInput{{Filename: "malware.exe", Path: "/m.exe", Size: 1}},
	})
	require.ErrorIs(t, err, service.ErrValidation)

	_, err = svc.SubmitOrder(ctx, user, SubmitInput{
		ProductLink: "https://example.com/x",
		Images:      []ImageInput{{Filename: "huge.jpg", Path: "/h.jpg", Size: 6 << 20}},
	})
	require.ErrorIs(t, err, service.ErrValidation)
}

func TestProvideQuote(t *testing.T) {
	svc, _, _ := newTestService(t)
	user := createUser(t, svc.DB, models.RoleUser, "0")
	admin := createUser(t, svc.DB, models.RoleAdmin, "0")
	ctx := context.Background()

	o, err := svc.SubmitOrder(ctx, user, SubmitInput{ProductLink: "https://example.com/x"})
	require.NoError(t, err)

	_, err = svc.ProvideQuote(ctx, user, o.ID, decimal.New(100, 0), decimal.New(10, 0), decimal.New(20, 0))
	require.ErrorIs(t, err, service.ErrAuthorization)

	_, err = svc.ProvideQuote(ctx, admin, o.ID, decimal.New(-1, 0), decimal.Zero, decimal.Zero)
	require.ErrorIs(t, err, service.ErrValidation)

	quoted, err := svc.ProvideQuote(ctx, admin, o.ID, decimal.RequireFromString("100.50"), decimal.RequireFromString("10.00"), decimal.RequireFromString("40.00"))
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusQuoted, quoted.Status)
	require.True(t, quoted.TotalCost.Decimal.Equal(decimal.RequireFromString("150.50")))
	require.NotNil(t, quoted.QuotedAt)

	// re-quoting a quoted order is rejected
	_, err = svc.ProvideQuote(ctx, admin, o.ID, decimal.New(1, 0), decimal.Zero, decimal.Zero)
	require.ErrorIs(t, err, service.ErrInvalidState)
}

func TestQuoteResolution(t *testing.T) {
	svc, _, _ := newTestService(t)
	user := createUser(t, svc.DB, models.RoleUser, "0")
	admin := createUser(t, svc.DB, models.RoleAdmin, "0")
	other := createUser(t, svc.DB, models.RoleUser, "0")
	ctx := context.Background()

	o, _ := svc.SubmitOrder(ctx, user, SubmitInput{ProductLink: "https://example.com/x"})

	// only quoted orders can be accepted
	_, err := svc.AcceptQuote(ctx, user, o.ID)
	require.ErrorIs(t, err, service.ErrInvalidState)

	_, err = svc.ProvideQuote(ctx, admin, o.ID, decimal.New(50, 0), decimal.New(5, 0), decimal.New(5, 0))
	require.NoError(t, err)

	_, err = svc.AcceptQuote(ctx, other, o.ID)
	require.ErrorIs(t, err, service.ErrAuthorization)

	accepted, err := svc.AcceptQuote(ctx, user, o.ID)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusAccepted, accepted.Status)

	o2, _ := svc.SubmitOrder(ctx, user, SubmitInput{ProductLink: "https://example.com/y"})
	_, err = svc.ProvideQuote(ctx, admin, o2.ID, decimal.New(50, 0), decimal.Zero, decimal.Zero)
	require.NoError(t, err)

	rejected, err := svc.RejectQuote(ctx, user, o2.ID)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusRejected, rejected.Status)
	require.True(t, rejected.IsTerminal())
}

func makeAcceptedOrder(t *testing.T, svc *Service, user, admin *models.User, total string) *models.Order {
	ctx := context.Background()
	o, err := svc.SubmitOrder(ctx, user, SubmitInput{ProductLink: "https://example.com/item"})
	require.NoError(t, err)
	_, err = svc.ProvideQuote(ctx, admin, o.ID, decimal.RequireFromString(total), decimal.Zero, decimal.Zero)
	require.NoError(t, err)
	accepted, err := svc.AcceptQuote(ctx, user, o.ID)
	require.NoError(t, err)
	return accepted
}

func TestPayOrderFromBalance(t *testing.T) {
	svc, db, _ := newTestService(t)
	user := createUser(t, db, models.RoleUser, "200.00")
	admin := createUser(t, db, models.RoleAdmin, "0")
	ctx := context.Background()

	o := makeAcceptedOrder(t, svc, user, admin, "150.50")

	paid, checkout, err := svc.PayOrder(ctx, user, o.ID, PayMethodBalance)
	require.NoError(t, err)
	require.Nil(t, checkout)
	require.Equal(t, models.OrderStatusPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)

	var fresh models.User
	require.NoError(t, db.First(&fresh, user.ID).Error)
	require.True(t, fresh.Balance.Equal(decimal.RequireFromString("49.50")))

	var payment models.Payment
	require.NoError(t, db.Where("order_id = ?", o.ID).First(&payment).Error)
	require.Equal(t, models.PaymentStatusCompleted, payment.Status)
	require.True(t, payment.Amount.Equal(decimal.RequireFromString("150.50")))
}

func TestPayOrderRequiresAcceptedStatus(t *testing.T) {
	svc, db, _ := newTestService(t)
	user := createUser(t, db, models.RoleUser, "500.00")
	admin := createUser(t, db, models.RoleAdmin, "0")
	ctx := context.Background()

	o, err := svc.SubmitOrder(ctx, user, SubmitInput{ProductLink: "https://example.com/x"})
	require.NoError(t, err)

	_, _, err = svc.PayOrder(ctx, user, o.ID, PayMethodBalance)
	require.ErrorIs(t, err, service.ErrInvalidState)

	_, err = svc.ProvideQuote(ctx, admin, o.ID, decimal.New(50, 0), decimal.Zero, decimal.Zero)
	require.NoError(t, err)
	_, _, err = svc.PayOrder(ctx, user, o.ID, PayMethodBalance)
	require.ErrorIs(t, err, service.ErrInvalidState)

	_, _, err = svc.PayOrder(ctx, user, o.ID, "cash")
	require.ErrorIs(t, err, service.ErrValidation)

	// only the owner can pay
	_, err = svc.AcceptQuote(ctx, user, o.ID)
	require.NoError(t, err)
	_, _, err = svc.PayOrder(ctx, admin, o.ID, PayMethodBalance)
	require.ErrorIs(t, err, service.ErrAuthorization)
}

func TestPayOrderInsufficientFunds(t *testing.T) {
	svc, db, _ := newTestService(t)
	user := createUser(t, db, models.RoleUser, "10.00")
	admin := createUser(t, db, models.RoleAdmin, "0")
	ctx := context.Background()

	o := makeAcceptedOrder(t, svc, user, admin, "150.50")

	_, _, err := svc.PayOrder(ctx, user, o.ID, PayMethodBalance)
	require.ErrorIs(t, err, service.ErrInsufficientFunds)

	// balance and order are untouched
	var fresh models.User
	require.NoError(t, db.First(&fresh, user.ID).Error)
	require.True(t, fresh.Balance.Equal(decimal.RequireFromString("10.00")))

	var freshOrder models.Order
	require.NoError(t, db.First(&freshOrder, o.ID).Error)
	require.Equal(t, models.OrderStatusAccepted, freshOrder.Status)
}

func TestPayOrderThroughGateway(t *testing.T) {
	svc, db, gw := newTestService(t)
	user := createUser(t, db, models.RoleUser, "0")
	admin := createUser(t, db, models.RoleAdmin, "0")
	ctx := context.Background()

	o := makeAcceptedOrder(t, svc, user, admin, "99.00")

	pending, checkout, err := svc.PayOrder(ctx, user, o.ID, PayMethodGateway)
	require.NoError(t, err)
	require.NotNil(t, checkout)
	require.Equal(t, 1, gw.checkouts)
	require.Equal(t, models.OrderStatusAccepted, pending.Status)
	require.Equal(t, models.PaymentStatusPending, pending.PaymentStatus)
	require.NotEmpty(t, pending.ExternalCheckoutID)

	var payment models.Payment
	require.NoError(t, db.Where("order_id = ?", o.ID).First(&payment).Error)

	confirmed, err := svc.ConfirmPayment(ctx, payment.Reference)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusPaid, confirmed.Status)

	// a duplicate callback is a no-op
	again, err := svc.ConfirmPayment(ctx, payment.Reference)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusPaid, again.Status)
}

func TestPayOrderGatewayFailure(t *testing.T) {
	svc, db, gw := newTestService(t)
	gw.fail = true
	user := createUser(t, db, models.RoleUser, "0")
	admin := createUser(t, db, models.RoleAdmin, "0")
	ctx := context.Background()

	o := makeAcceptedOrder(t, svc, user, admin, "99.00")

	_, _, err := svc.PayOrder(ctx, user, o.ID, PayMethodGateway)
	require.ErrorIs(t, err, service.ErrExternalService)

	// the pending payment was committed before the provider call and is now
	// marked failed; the order stays accepted so the user can retry
	var payment models.Payment
	require.NoError(t, db.Where("order_id = ?", o.ID).First(&payment).Error)
	require.Equal(t, models.PaymentStatusFailed, payment.Status)

	var fresh models.Order
	require.NoError(t, db.First(&fresh, o.ID).Error)
	require.Equal(t, models.OrderStatusAccepted, fresh.Status)
	require.Equal(t, models.PaymentStatusFailed, fresh.PaymentStatus)

	// confirming a failed payment is rejected
	_, err = svc.ConfirmPayment(ctx, payment.Reference)
	require.ErrorIs(t, err, service.ErrInvalidState)

	// a retry with a healthy provider goes through
	gw.fail = false
	pending, checkout, err := svc.PayOrder(ctx, user, o.ID, PayMethodGateway)
	require.NoError(t, err)
	require.NotNil(t, checkout)
	require.Equal(t, models.OrderStatusAccepted, pending.Status)
	require.Equal(t, models.PaymentStatusPending, pending.PaymentStatus)
}

func TestUpdateStatusProgression(t *testing.T) {
	svc, db, _ := newTestService(t)
	user := createUser(t, db, models.RoleUser, "500.00")
	admin := createUser(t, db, models.RoleAdmin, "0")
	ctx := context.Background()

	o := makeAcceptedOrder(t, svc, user, admin, "100.00")
	_, _, err := svc.PayOrder(ctx, user, o.ID, PayMethodBalance)
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, user, o.ID, models.OrderStatusPurchased)
	require.ErrorIs(t, err, service.ErrAuthorization)

	for _, status := range []string{
		models.OrderStatusPurchased,
		models.OrderStatusInspected,
		models.OrderStatusShipped,
		models.OrderStatusDelivered,
	} {
		updated, err := svc.UpdateStatus(ctx, admin, o.ID, status)
		require.NoError(t, err)
		require.Equal(t, status, updated.Status)
	}

	var fresh models.Order
	require.NoError(t, db.First(&fresh, o.ID).Error)
	require.NotNil(t, fresh.PurchasedAt)
	require.NotNil(t, fresh.ShippedAt)
	require.NotNil(t, fresh.DeliveredAt)

	// terminal orders accept no further transitions
	_, err = svc.UpdateStatus(ctx, admin, o.ID, models.OrderStatusShipped)
	require.ErrorIs(t, err, service.ErrInvalidState)
}

func TestUpdateStatusRejectsSkipsAndBackwardMoves(t *testing.T) {
	svc, db, _ := newTestService(t)
	user := createUser(t, db, models.RoleUser, "500.00")
	admin := createUser(t, db, models.RoleAdmin, "0")
	ctx := context.Background()

	o, err := svc.SubmitOrder(ctx, user, SubmitInput{ProductLink: "https://example.com/x"})
	require.NoError(t, err)

	// a requested order cannot jump into fulfillment
	_, err = svc.UpdateStatus(ctx, admin, o.ID, models.OrderStatusDelivered)
	require.ErrorIs(t, err, service.ErrInvalidState)

	_, err = svc.UpdateStatus(ctx, admin, o.ID, models.OrderStatusQuoted)
	require.ErrorIs(t, err, service.ErrValidation)

	paid := makeAcceptedOrder(t, svc, user, admin, "50.00")
	_, _, err = svc.PayOrder(ctx, user, paid.ID, PayMethodBalance)
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, admin, paid.ID, models.OrderStatusPurchased)
	require.NoError(t, err)

	// delivered requires shipped first
	_, err = svc.UpdateStatus(ctx, admin, paid.ID, models.OrderStatusDelivered)
	require.ErrorIs(t, err, service.ErrInvalidState)

	_, err = svc.UpdateStatus(ctx, admin, paid.ID, models.OrderStatusShipped)
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, admin, paid.ID, models.OrderStatusPurchased)
	require.ErrorIs(t, err, service.ErrInvalidState)
}

func TestCancelBeforePayment(t *testing.T) {
	svc, db, _ := newTestService(t)
	user := createUser(t, db, models.RoleUser, "0")
	admin := createUser(t, db, models.RoleAdmin, "0")
	ctx := context.Background()

	o, err := svc.SubmitOrder(ctx, user, SubmitInput{ProductLink: "https://example.com/x"})
	require.NoError(t, err)

	cancelled, err := svc.UpdateStatus(ctx, admin, o.ID, models.OrderStatusCancelled)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	require.True(t, cancelled.RefundAmount.Decimal.IsZero())
}

func TestCancelAfterPaymentRefunds(t *testing.T) {
	svc, db, _ := newTestService(t)
	user := createUser(t, db, models.RoleUser, "200.00")
	admin := createUser(t, db, models.RoleAdmin, "0")
	ctx := context.Background()

	o := makeAcceptedOrder(t, svc, user, admin, "120.00")
	_, _, err := svc.PayOrder(ctx, user, o.ID, PayMethodBalance)
	require.NoError(t, err)

	refunded, err := svc.UpdateStatus(ctx, admin, o.ID, models.OrderStatusCancelled)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusRefunded, refunded.Status)
	require.NotNil(t, refunded.RefundedAt)
	require.True(t, refunded.RefundAmount.Decimal.Equal(decimal.RequireFromString("120.00")))

	// the balance payment is credited back in full
	var fresh models.User
	require.NoError(t, db.First(&fresh, user.ID).Error)
	require.True(t, fresh.Balance.Equal(decimal.RequireFromString("200.00")))

	var payment models.Payment
	require.NoError(t, db.Where("order_id = ?", o.ID).First(&payment).Error)
	require.Equal(t, models.PaymentStatusRefunded, payment.Status)
}

func TestAttachLogisticsCascadesToShipped(t *testing.T) {
	svc, db, _ := newTestService(t)
	user := createUser(t, db, models.RoleUser, "200.00")
	admin := createUser(t, db, models.RoleAdmin, "0")
	ctx := context.Background()

	o := makeAcceptedOrder(t, svc, user, admin, "100.00")
	_, _, err := svc.PayOrder(ctx, user, o.ID, PayMethodBalance)
	require.NoError(t, err)

	logistics, err := svc.AttachLogistics(ctx, admin, o.ID, LogisticsInput{
		TrackingNumber: "TRK123456",
		Carrier:        "DHL",
		ActualWeight:   "1.250",
	})
	require.NoError(t, err)
	require.Equal(t, "TRK123456", logistics.TrackingNumber)

	var fresh models.Order
	require.NoError(t, db.First(&fresh, o.ID).Error)
	require.Equal(t, models.OrderStatusShipped, fresh.Status)
	require.NotNil(t, fresh.ShippedAt)

	// re-attaching with the same tracking number must not cascade again
	_, err = svc.AttachLogistics(ctx, admin, o.ID, LogisticsInput{
		TrackingNumber: "TRK123456",
		WarehouseNotes: "left warehouse",
	})
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&models.Logistics{}).Where("order_id = ?", o.ID).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestAttachLogisticsShipsUnpaidOrder(t *testing.T) {
	svc, db, _ := newTestService(t)
	user := createUser(t, db, models.RoleUser, "0")
	admin := createUser(t, db, models.RoleAdmin, "0")
	ctx := context.Background()

	// tracking can show up before the order ever reaches paid; the cascade
	// still ships it and keeps the logistics record
	o, err := svc.SubmitOrder(ctx, user, SubmitInput{ProductLink: "https://example.com/item"})
	require.NoError(t, err)

	logistics, err := svc.AttachLogistics(ctx, admin, o.ID, LogisticsInput{
		TrackingNumber: "TRK777",
		Carrier:        "UPS",
	})
	require.NoError(t, err)
	require.Equal(t, "TRK777", logistics.TrackingNumber)

	var fresh models.Order
	require.NoError(t, db.First(&fresh, o.ID).Error)
	require.Equal(t, models.OrderStatusShipped, fresh.Status)
	require.NotNil(t, fresh.ShippedAt)

	var count int64
	require.NoError(t, db.Model(&models.Logistics{}).Where("order_id = ?", o.ID).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestGetOrderAuthorization(t *testing.T) {
	svc, db, _ := newTestService(t)
	user := createUser(t, db, models.RoleUser, "0")
	other := createUser(t, db, models.RoleUser, "0")
	admin := createUser(t, db, models.RoleAdmin, "0")
	ctx := context.Background()

	o, err := svc.SubmitOrder(ctx, user, SubmitInput{ProductLink: "https://example.com/x"})
	require.NoError(t, err)

	_, err = svc.GetOrder(ctx, other, o.ID)
	require.ErrorIs(t, err, service.ErrAuthorization)

	_, err = svc.GetOrder(ctx, admin, o.ID)
	require.NoError(t, err)

	_, err = svc.GetOrder(ctx, user, 9999)
	require.ErrorIs(t, err, service.ErrNotFound)
}
