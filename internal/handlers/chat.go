package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/shopagent/shopagent/internal/logging"
	"github.com/shopagent/shopagent/internal/service/chat"
)

type ChatHandler struct {
	DB  *gorm.DB
	Svc *chat.Service
}

// Create finds or creates the chat for the (user, order) pair and, when a
// message body is included, sends it in the same request.
func (h *ChatHandler) Create(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "chat.create")

	actor, err := loadActor(c, h.DB)
	if err != nil {
		return err
	}

	var req struct {
		OrderID *uint          `json:"order_id"`
		Message chat.SendInput `json:"message"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	ch, err := h.Svc.FindOrCreateChat(ctx, actor, req.OrderID)
	if err != nil {
		l.Warn("chat_create_error", "error", err)
		return httpError(err)
	}

	resp := map[string]interface{}{"chat": ch}
	if req.Message.Content != "" || req.Message.AttachmentPath != "" {
		msg, err := h.Svc.SendMessage(ctx, actor, ch.ID, req.Message)
		if err != nil {
			l.Warn("chat_create_send_error", "chat_id", ch.ID, "error", err)
			return httpError(err)
		}
		resp["message"] = msg
	}

	l.Info("chat_create_success", "chat_id", ch.ID)
	return c.JSON(http.StatusCreated, resp)
}

func (h *ChatHandler) List(c echo.Context) error {
	ctx := c.Request().Context()

	actor, err := loadActor(c, h.DB)
	if err != nil {
		return err
	}

	page, size := pageParams(c)
	chats, total, err := h.Svc.ListChats(ctx, actor, page, size)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"chats": chats,
		"total": total,
		"page":  page,
	})
}

func (h *ChatHandler) Messages(c echo.Context) error {
	ctx := c.Request().Context()

	actor, err := loadActor(c, h.DB)
	if err != nil {
		return err
	}
	id, err := uintParam(c, "id")
	if err != nil {
		return err
	}

	page, size := pageParams(c)
	msgs, total, err := h.Svc.ListMessages(ctx, actor, id, page, size)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"messages": msgs,
		"total":    total,
		"page":     page,
	})
}

func (h *ChatHandler) Send(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "chat.send")

	actor, err := loadActor(c, h.DB)
	if err != nil {
		return err
	}
	id, err := uintParam(c, "id")
	if err != nil {
		return err
	}

	var req chat.SendInput
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	msg, err := h.Svc.SendMessage(ctx, actor, id, req)
	if err != nil {
		l.Warn("chat_send_error", "chat_id", id, "error", err)
		return httpError(err)
	}

	l.Info("chat_send_success", "chat_id", id, "message_id", msg.ID)
	return c.JSON(http.StatusCreated, map[string]interface{}{"message": msg})
}

func (h *ChatHandler) MarkRead(c echo.Context) error {
	ctx := c.Request().Context()

	actor, err := loadActor(c, h.DB)
	if err != nil {
		return err
	}
	id, err := uintParam(c, "id")
	if err != nil {
		return err
	}

	updated, err := h.Svc.MarkMessagesAsRead(ctx, actor, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"marked_read": updated})
}

func (h *ChatHandler) Typing(c echo.Context) error {
	ctx := c.Request().Context()

	actor, err := loadActor(c, h.DB)
	if err != nil {
		return err
	}
	id, err := uintParam(c, "id")
	if err != nil {
		return err
	}

	var req struct {
		IsTyping bool `json:"is_typing"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	if err := h.Svc.SetTyping(ctx, actor, id, req.IsTyping); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *ChatHandler) Close(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "chat.close")

	actor, err := loadActor(c, h.DB)
	if err != nil {
		return err
	}
	id, err := uintParam(c, "id")
	if err != nil {
		return err
	}

	ch, err := h.Svc.CloseChat(ctx, actor, id)
	if err != nil {
		l.Warn("chat_close_error", "chat_id", id, "error", err)
		return httpError(err)
	}

	l.Info("chat_close_success", "chat_id", id)
	return c.JSON(http.StatusOK, map[string]interface{}{"chat": ch})
}
