package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID              uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	Name            string          `gorm:"not null"                 json:"name"`
	Email           string          `gorm:"unique;not null"          json:"email"`
	PasswordHash    string          `gorm:"not null"                 json:"-"`
	Role            string          `gorm:"not null;default:user"    json:"role"`
	Balance         decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"balance"`
	Language        string          `gorm:"default:en"               json:"language"`
	IsOnline        bool            `gorm:"default:false"            json:"is_online"`
	LastSeenAt      *time.Time      `json:"last_seen_at"`
	EmailVerifiedAt *time.Time      `json:"email_verified_at"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

const (
	OrderStatusRequested = "requested"
	OrderStatusQuoted    = "quoted"
	OrderStatusAccepted  = "accepted"
	OrderStatusPaid      = "paid"
	OrderStatusPurchased = "purchased"
	OrderStatusInspected = "inspected"
	OrderStatusShipped   = "shipped"
	OrderStatusDelivered = "delivered"
	OrderStatusRejected  = "rejected"
	OrderStatusCancelled = "cancelled"
	OrderStatusRefunded  = "refunded"
)

type Order struct {
	ID          uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNumber string `gorm:"unique;not null"          json:"order_number"`
	UserID      uint   `gorm:"index;not null"           json:"user_id"`
	ProductLink string `gorm:"not null"                 json:"product_link"`
	Notes       string `json:"notes"`
	Status      string `gorm:"index;not null;default:requested" json:"status"`

	ItemCost         decimal.NullDecimal `gorm:"type:numeric(12,2)" json:"item_cost"`
	ServiceFee       decimal.NullDecimal `gorm:"type:numeric(12,2)" json:"service_fee"`
	ShippingEstimate decimal.NullDecimal `gorm:"type:numeric(12,2)" json:"shipping_estimate"`
	TotalCost        decimal.NullDecimal `gorm:"type:numeric(12,2)" json:"total_cost"`

	QuotedAt    *time.Time `json:"quoted_at"`
	PaidAt      *time.Time `json:"paid_at"`
	PurchasedAt *time.Time `json:"purchased_at"`
	ShippedAt   *time.Time `json:"shipped_at"`
	DeliveredAt *time.Time `json:"delivered_at"`

	ExternalOrderID    string              `json:"external_order_id,omitempty"`
	ExternalCheckoutID string              `json:"external_checkout_id,omitempty"`
	PaymentStatus      string              `json:"payment_status,omitempty"`
	RefundedAt         *time.Time          `json:"refunded_at,omitempty"`
	RefundAmount       decimal.NullDecimal `gorm:"type:numeric(12,2)" json:"refund_amount,omitempty"`

	Images    []OrderImage `gorm:"foreignKey:OrderID" json:"images,omitempty"`
	Logistics *Logistics   `gorm:"foreignKey:OrderID" json:"logistics,omitempty"`
	Payments  []Payment    `gorm:"foreignKey:OrderID" json:"payments,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsTerminal reports whether no further status transition is allowed.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusDelivered, OrderStatusRejected, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

type OrderImage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	OrderID   uint      `gorm:"index;not null" json:"order_id"`
	Path      string    `gorm:"not null"   json:"path"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

type Logistics struct {
	ID                 uint                `gorm:"primaryKey" json:"id"`
	OrderID            uint                `gorm:"uniqueIndex;not null" json:"order_id"`
	TrackingNumber     string              `json:"tracking_number"`
	Carrier            string              `json:"carrier"`
	TrackingURL        string              `json:"tracking_url"`
	ActualWeight       decimal.NullDecimal `gorm:"type:numeric(10,3)" json:"actual_weight"`
	ActualShippingCost decimal.NullDecimal `gorm:"type:numeric(12,2)" json:"actual_shipping_cost"`
	WarehouseNotes     string              `json:"warehouse_notes"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

const (
	MembershipTypeTrial = "trial"
	MembershipTypePaid  = "paid"

	MembershipStatusActive    = "active"
	MembershipStatusExpired   = "expired"
	MembershipStatusCancelled = "cancelled"
)

type Membership struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	UserID     uint            `gorm:"index;not null" json:"user_id"`
	Type       string          `gorm:"not null"   json:"type"`
	Status     string          `gorm:"index;not null" json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	ExpiresAt  time.Time       `json:"expires_at"`
	AmountPaid decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"amount_paid"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

const (
	ChatStatusActive = "active"
	ChatStatusClosed = "closed"
)

type Chat struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	UserID        uint       `gorm:"index;not null" json:"user_id"`
	OrderID       *uint      `gorm:"index"      json:"order_id"`
	Status        string     `gorm:"index;not null;default:active" json:"status"`
	LastMessageAt *time.Time `gorm:"index"      json:"last_message_at"`
	Messages      []Message  `gorm:"foreignKey:ChatID" json:"messages,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

const (
	MessageTypeText   = "text"
	MessageTypeImage  = "image"
	MessageTypeFile   = "file"
	MessageTypeSystem = "system"
)

type Message struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	ChatID         uint       `gorm:"index;not null" json:"chat_id"`
	SenderID       uint       `gorm:"index;not null" json:"sender_id"`
	Content        string     `json:"content"`
	Type           string     `gorm:"not null;default:text" json:"type"`
	AttachmentPath string     `json:"attachment_path,omitempty"`
	IsRead         bool       `gorm:"default:false" json:"is_read"`
	DeliveredAt    *time.Time `json:"delivered_at"`
	ReadAt         *time.Time `json:"read_at"`
	CreatedAt      time.Time  `json:"created_at"`
}

const (
	PaymentTypeOrder      = "order"
	PaymentTypeMembership = "membership"
	PaymentTypeDeposit    = "deposit"

	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
)

type Payment struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	UserID       uint            `gorm:"index;not null" json:"user_id"`
	OrderID      *uint           `gorm:"index"      json:"order_id"`
	MembershipID *uint           `gorm:"index"      json:"membership_id"`
	Type         string          `gorm:"not null"   json:"type"`
	Amount       decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	Status       string          `gorm:"index;not null;default:pending" json:"status"`
	Reference    string          `gorm:"unique;not null" json:"reference"`
	Metadata     string          `gorm:"type:text"  json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type RefreshToken struct {
	ID        uint   `gorm:"primaryKey"      json:"id"`
	Token     string `gorm:"unique;not null" json:"token"`
	UserID    uint   `gorm:"index;not null"  json:"user_id"`
	ExpiresAt int64  `gorm:"not null"        json:"expires_at"`
	Revoked   bool   `gorm:"default:false"   json:"revoked"`
}

// All lists every persisted entity for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&User{}, &RefreshToken{},
		&Order{}, &OrderImage{}, &Logistics{},
		&Membership{},
		&Chat{}, &Message{},
		&Payment{},
	}
}
