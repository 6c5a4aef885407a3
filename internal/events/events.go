package events

import (
	"fmt"
	"time"

	"github.com/shopagent/shopagent/internal/models"
)

// Event kinds carried over broadcast channels and kafka topics.
const (
	KindMessageSent        = "message.sent"
	KindUserTyping         = "user.typing"
	KindOrderStatusChanged = "order.status_changed"
)

// UserSummary is the sender/actor payload embedded in events. It never
// carries email or balance.
type UserSummary struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

func SummarizeUser(u *models.User) UserSummary {
	return UserSummary{ID: u.ID, Name: u.Name, Role: u.Role}
}

// DomainEvent is the closed set of events the engine publishes. Routing and
// payload shaping are pure functions over the variant.
type DomainEvent interface {
	Kind() string
	Channels() []string
	Topic() string
}

type MessageSent struct {
	Message models.Message `json:"message"`
	Sender  UserSummary    `json:"sender"`
	ChatID  uint           `json:"chat_id"`
	OwnerID uint           `json:"owner_id"`
}

func (MessageSent) Kind() string  { return KindMessageSent }
func (MessageSent) Topic() string { return TopicChatEvents }
func (e MessageSent) Channels() []string {
	return []string{ChatChannel(e.ChatID), UserChannel(e.OwnerID)}
}

type UserTyping struct {
	ChatID   uint        `json:"chat_id"`
	User     UserSummary `json:"user"`
	IsTyping bool        `json:"is_typing"`
}

func (UserTyping) Kind() string  { return KindUserTyping }
func (UserTyping) Topic() string { return "" } // ephemeral, never durable
func (e UserTyping) Channels() []string {
	return []string{ChatChannel(e.ChatID), PresenceChannel(e.ChatID)}
}

type OrderStatusChanged struct {
	OrderID   uint      `json:"order_id"`
	UserID    uint      `json:"user_id"`
	OldStatus string    `json:"old_status"`
	NewStatus string    `json:"new_status"`
	At        time.Time `json:"at"`
}

func (OrderStatusChanged) Kind() string  { return KindOrderStatusChanged }
func (OrderStatusChanged) Topic() string { return TopicOrderEvents }
func (e OrderStatusChanged) Channels() []string {
	return []string{UserChannel(e.UserID)}
}

// Kafka topics for durable consumption by the dispatch worker.
const (
	TopicOrderEvents      = "order_events"
	TopicChatEvents       = "chat_events"
	TopicNotificationJobs = "notification_jobs"
)

func ChatChannel(chatID uint) string     { return fmt.Sprintf("chat.%d", chatID) }
func PresenceChannel(chatID uint) string { return fmt.Sprintf("presence-chat.%d", chatID) }
func UserChannel(userID uint) string     { return fmt.Sprintf("user.%d", userID) }
