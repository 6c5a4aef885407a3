package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/shopagent/shopagent/internal/events"
	"github.com/shopagent/shopagent/internal/models"
	"github.com/shopagent/shopagent/internal/service"
	"github.com/shopagent/shopagent/internal/util"
)

// Service owns conversations and their message log. Message append and the
// chat's last_message_at bump happen in one transaction.
type Service struct {
	DB     *gorm.DB
	Bus    events.Bus
	Typing TypingStore

	locks *service.KeyedMutex
}

func NewService(db *gorm.DB, bus events.Bus, typing TypingStore, locks *service.KeyedMutex) *Service {
	if locks == nil {
		locks = &service.KeyedMutex{}
	}
	return &Service{DB: db, Bus: bus, Typing: typing, locks: locks}
}

func chatPairKey(userID uint, orderID *uint) string {
	if orderID == nil {
		return fmt.Sprintf("chat:user:%d:order:-", userID)
	}
	return fmt.Sprintf("chat:user:%d:order:%d", userID, *orderID)
}

// FindOrCreateChat returns the single active chat for the (user, order)
// pair, creating it when absent. The per-pair lock guarantees concurrent
// calls cannot create duplicates.
func (s *Service) FindOrCreateChat(ctx context.Context, user *models.User, orderID *uint) (*models.Chat, error) {
	unlock := s.locks.Lock(chatPairKey(user.ID, orderID))
	defer unlock()

	q := s.DB.WithContext(ctx).Where("user_id = ? AND status = ?", user.ID, models.ChatStatusActive)
	if orderID == nil {
		q = q.Where("order_id IS NULL")
	} else {
		q = q.Where("order_id = ?", *orderID)
	}

	var chat models.Chat
	err := q.First(&chat).Error
	if err == nil {
		return &chat, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if orderID != nil {
		var order models.Order
		if err := s.DB.WithContext(ctx).First(&order, *orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: order %d", service.ErrNotFound, *orderID)
			}
			return nil, err
		}
		if order.UserID != user.ID && !user.IsAdmin() {
			return nil, fmt.Errorf("%w: not your order", service.ErrAuthorization)
		}
	}

	chat = models.Chat{UserID: user.ID, OrderID: orderID, Status: models.ChatStatusActive}
	if err := s.DB.WithContext(ctx).Create(&chat).Error; err != nil {
		return nil, err
	}
	return &chat, nil
}

type SendInput struct {
	Content        string `json:"content"`
	Type           string `json:"type"`
	AttachmentPath string `json:"attachment_path"`
}

// SendMessage appends to an active chat. Only the chat owner or an admin may
// send; content may be empty only when an attachment is present.
func (s *Service) SendMessage(ctx context.Context, sender *models.User, chatID uint, in SendInput) (*models.Message, error) {
	in.Content = strings.TrimSpace(in.Content)
	if in.Content == "" && in.AttachmentPath == "" {
		return nil, fmt.Errorf("%w: message needs content or an attachment", service.ErrValidation)
	}
	switch in.Type {
	case "":
		in.Type = models.MessageTypeText
	case models.MessageTypeText, models.MessageTypeImage, models.MessageTypeFile, models.MessageTypeSystem:
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", service.ErrValidation, in.Type)
	}

	var chat models.Chat
	var msg models.Message

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&chat, chatID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: chat %d", service.ErrNotFound, chatID)
			}
			return err
		}
		if chat.UserID != sender.ID && !sender.IsAdmin() {
			return fmt.Errorf("%w: not a participant of this chat", service.ErrAuthorization)
		}
		if chat.Status != models.ChatStatusActive {
			return fmt.Errorf("%w: chat is %q", service.ErrInvalidState, chat.Status)
		}

		now := time.Now().UTC()
		msg = models.Message{
			ChatID:         chat.ID,
			SenderID:       sender.ID,
			Content:        in.Content,
			Type:           in.Type,
			AttachmentPath: in.AttachmentPath,
			IsRead:         false,
			DeliveredAt:    &now,
		}
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}

		chat.LastMessageAt = &now
		return tx.Model(&chat).Update("last_message_at", now).Error
	})
	if err != nil {
		return nil, err
	}

	if s.Bus != nil {
		s.Bus.Publish(ctx, events.MessageSent{
			Message: msg,
			Sender:  events.SummarizeUser(sender),
			ChatID:  chat.ID,
			OwnerID: chat.UserID,
		})
	}
	return &msg, nil
}

// MarkMessagesAsRead flips every message not sent by the reader to read.
// Already-read messages are untouched, so repeated calls are no-ops.
func (s *Service) MarkMessagesAsRead(ctx context.Context, reader *models.User, chatID uint) (int64, error) {
	var chat models.Chat
	if err := s.DB.WithContext(ctx).First(&chat, chatID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("%w: chat %d", service.ErrNotFound, chatID)
		}
		return 0, err
	}
	if chat.UserID != reader.ID && !reader.IsAdmin() {
		return 0, fmt.Errorf("%w: not a participant of this chat", service.ErrAuthorization)
	}

	now := time.Now().UTC()
	res := s.DB.WithContext(ctx).Model(&models.Message{}).
		Where("chat_id = ? AND sender_id <> ? AND is_read = ?", chatID, reader.ID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": now})
	return res.RowsAffected, res.Error
}

// CloseChat is admin-only; a closed chat rejects further messages.
func (s *Service) CloseChat(ctx context.Context, actor *models.User, chatID uint) (*models.Chat, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: only admins can close chats", service.ErrAuthorization)
	}

	var chat models.Chat
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&chat, chatID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: chat %d", service.ErrNotFound, chatID)
			}
			return err
		}
		if chat.Status != models.ChatStatusActive {
			return fmt.Errorf("%w: chat is %q", service.ErrInvalidState, chat.Status)
		}
		chat.Status = models.ChatStatusClosed
		return tx.Save(&chat).Error
	})
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// SetTyping records the ephemeral typing flag and broadcasts it. Nothing is
// written to the message log; the store entry expires on its own.
func (s *Service) SetTyping(ctx context.Context, user *models.User, chatID uint, isTyping bool) error {
	var chat models.Chat
	if err := s.DB.WithContext(ctx).First(&chat, chatID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: chat %d", service.ErrNotFound, chatID)
		}
		return err
	}
	if chat.UserID != user.ID && !user.IsAdmin() {
		return fmt.Errorf("%w: not a participant of this chat", service.ErrAuthorization)
	}

	if s.Typing != nil {
		if err := s.Typing.SetTyping(ctx, chatID, user.ID, isTyping); err != nil {
			return fmt.Errorf("%w: %v", service.ErrExternalService, err)
		}
	}

	if s.Bus != nil {
		s.Bus.Publish(ctx, events.UserTyping{
			ChatID:   chatID,
			User:     events.SummarizeUser(user),
			IsTyping: isTyping,
		})
	}
	return nil
}

// ListChats pages a user's chats, most recently active first. Admins see
// every chat.
func (s *Service) ListChats(ctx context.Context, actor *models.User, page, size int) ([]models.Chat, int64, error) {
	offset, limit := util.Paginate(page, size)

	q := s.DB.WithContext(ctx).Model(&models.Chat{})
	if !actor.IsAdmin() {
		q = q.Where("user_id = ?", actor.ID)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var chats []models.Chat
	if err := q.Order("last_message_at DESC NULLS LAST").Limit(limit).Offset(offset).Find(&chats).Error; err != nil {
		return nil, 0, err
	}
	return chats, total, nil
}

// ListMessages pages a chat's messages oldest first.
func (s *Service) ListMessages(ctx context.Context, actor *models.User, chatID uint, page, size int) ([]models.Message, int64, error) {
	var chat models.Chat
	if err := s.DB.WithContext(ctx).First(&chat, chatID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, fmt.Errorf("%w: chat %d", service.ErrNotFound, chatID)
		}
		return nil, 0, err
	}
	if chat.UserID != actor.ID && !actor.IsAdmin() {
		return nil, 0, fmt.Errorf("%w: not a participant of this chat", service.ErrAuthorization)
	}

	offset, limit := util.Paginate(page, size)
	q := s.DB.WithContext(ctx).Model(&models.Message{}).Where("chat_id = ?", chatID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var msgs []models.Message
	if err := q.Order("id ASC").Limit(limit).Offset(offset).Find(&msgs).Error; err != nil {
		return nil, 0, err
	}
	return msgs, total, nil
}

// OwnerOf resolves a chat's owning user for channel authorization.
func (s *Service) OwnerOf(ctx context.Context, chatID uint) (uint, error) {
	var chat models.Chat
	if err := s.DB.WithContext(ctx).Select("user_id").First(&chat, chatID).Error; err != nil {
		return 0, err
	}
	return chat.UserID, nil
}
