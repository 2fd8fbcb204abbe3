package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fathima-sithara/chat-relay/internal/domain"
	"github.com/fathima-sithara/chat-relay/internal/service"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	msgAdded          = "Message added successfully."
	msgAddFailed      = "Failed to add message to the database"
	msgIDRequired     = "Message ID is required"
	msgInvalidID      = "Invalid message ID format"
	msgNotFound       = "Message not found"
	msgDatabaseError  = "Database error"
	msgMarkedDeleted  = "Message marked as deleted"
	msgDeleted        = "Message deleted successfully"
	msgUpdateFailed   = "Failed to update message"
	msgDeleteFailed   = "Failed to delete message"
	msgInvalidPayload = "invalid request body"
)

// MessageService is the subset of the service the handlers call.
type MessageService interface {
	Fetch(ctx context.Context, from, to string) ([]domain.View, error)
	Create(ctx context.Context, in domain.NewMessage) (string, error)
	SoftDelete(ctx context.Context, id string) (domain.DeletedMessage, error)
	HardDelete(ctx context.Context, id string) error
	HasHistory(ctx context.Context, from, to string) (bool, error)
}

var _ MessageService = (*service.MessageService)(nil)

// PresenceReader answers whether a user currently has a live socket.
type PresenceReader interface {
	IsOnline(ctx context.Context, userID string) (bool, error)
}

type Handlers struct {
	svc      MessageService
	presence PresenceReader
	validate *validator.Validate
	timeout  time.Duration
	log      *zap.SugaredLogger
}

func NewHandlers(svc MessageService, presence PresenceReader, timeout time.Duration, log *zap.SugaredLogger) *Handlers {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Handlers{
		svc:      svc,
		presence: presence,
		validate: validator.New(),
		timeout:  timeout,
		log:      log,
	}
}

type pairRequest struct {
	From string `json:"from" validate:"required,len=24,hexadecimal"`
	To   string `json:"to" validate:"required,len=24,hexadecimal"`
}

type addMessageRequest struct {
	From      string          `json:"from" validate:"required,len=24,hexadecimal"`
	To        string          `json:"to" validate:"required,len=24,hexadecimal"`
	Message   string          `json:"message" validate:"required"`
	Timestamp json.RawMessage `json:"timestamp"`
}

type deleteMessageRequest struct {
	MessageID     string          `json:"messageId"`
	MarkAsDeleted json.RawMessage `json:"markAsDeleted"`
}

// soft reports whether the caller asked for a soft delete. Anything other
// than a literal true falls back to removing the record.
func (r deleteMessageRequest) soft() bool {
	return bytes.Equal(bytes.TrimSpace(r.MarkAsDeleted), []byte("true"))
}

func fail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"status": false, "msg": msg})
}

func (h *Handlers) validationFailed(c *fiber.Ctx, err error) error {
	details := FormatValidationErrors(err)
	msg := err.Error()
	if len(details) > 0 {
		msg = details[0].Message
	}
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"status": false, "msg": msg, "errors": details})
}

func (h *Handlers) ctx(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), h.timeout)
}

func (h *Handlers) getMessages(c *fiber.Ctx) error {
	var req pairRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, msgInvalidPayload)
	}
	if err := h.validate.Struct(req); err != nil {
		return h.validationFailed(c, err)
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	views, err := h.svc.Fetch(ctx, req.From, req.To)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return fail(c, fiber.StatusBadRequest, err.Error())
		}
		h.log.Errorw("get messages failed", "from", req.From, "to", req.To, "error", err)
		return fail(c, fiber.StatusInternalServerError, msgDatabaseError)
	}
	out := make([]domain.View, len(views))
	for i, v := range views {
		out[i] = v.Redacted()
	}
	return c.JSON(out)
}

// hasHistory answers whether the pair exchanged any message, so a contact
// list can be narrowed to chats without pulling each history.
func (h *Handlers) hasHistory(c *fiber.Ctx) error {
	var req pairRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, msgInvalidPayload)
	}
	if err := h.validate.Struct(req); err != nil {
		return h.validationFailed(c, err)
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	ok, err := h.svc.HasHistory(ctx, req.From, req.To)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return fail(c, fiber.StatusBadRequest, err.Error())
		}
		h.log.Errorw("history check failed", "from", req.From, "to", req.To, "error", err)
		return fail(c, fiber.StatusInternalServerError, msgDatabaseError)
	}
	return c.JSON(fiber.Map{"status": true, "hasHistory": ok})
}

func (h *Handlers) addMessage(c *fiber.Ctx) error {
	var req addMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, msgInvalidPayload)
	}
	if err := h.validate.Struct(req); err != nil {
		return h.validationFailed(c, err)
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	id, err := h.svc.Create(ctx, domain.NewMessage{From: req.From, To: req.To, Text: req.Message})
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return fail(c, fiber.StatusBadRequest, err.Error())
		}
		h.log.Errorw("add message failed", "from", req.From, "to", req.To, "error", err)
		return fail(c, fiber.StatusInternalServerError, msgAddFailed)
	}
	return c.JSON(fiber.Map{"msg": msgAdded, "messageId": id})
}

func (h *Handlers) deleteMessage(c *fiber.Ctx) error {
	var req deleteMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, msgInvalidPayload)
	}
	if req.MessageID == "" {
		return fail(c, fiber.StatusBadRequest, msgIDRequired)
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	if req.soft() {
		updated, err := h.svc.SoftDelete(ctx, req.MessageID)
		if err != nil {
			return h.deleteFailed(c, req.MessageID, err, msgUpdateFailed)
		}
		return c.JSON(fiber.Map{
			"status":         true,
			"msg":            msgMarkedDeleted,
			"updatedMessage": updated.Redacted(),
		})
	}

	if err := h.svc.HardDelete(ctx, req.MessageID); err != nil {
		return h.deleteFailed(c, req.MessageID, err, msgDeleteFailed)
	}
	return c.JSON(fiber.Map{"status": true, "msg": msgDeleted})
}

func (h *Handlers) deleteFailed(c *fiber.Ctx, id string, err error, fallback string) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fail(c, fiber.StatusBadRequest, msgIDRequired)
	case errors.Is(err, domain.ErrInvalidID):
		return fail(c, fiber.StatusBadRequest, msgInvalidID)
	case errors.Is(err, domain.ErrNotFound):
		return fail(c, fiber.StatusNotFound, msgNotFound)
	case errors.Is(err, context.DeadlineExceeded):
		h.log.Errorw("delete message timed out", "id", id, "error", err)
		return fail(c, fiber.StatusInternalServerError, msgDatabaseError)
	default:
		h.log.Errorw("delete message failed", "id", id, "error", err)
		return fail(c, fiber.StatusInternalServerError, fallback)
	}
}

func (h *Handlers) presenceStatus(c *fiber.Ctx) error {
	uid := c.Params("userId")
	ctx, cancel := h.ctx(c)
	defer cancel()
	online, err := h.presence.IsOnline(ctx, uid)
	if err != nil {
		return fmt.Errorf("presence lookup: %w", err)
	}
	return c.JSON(fiber.Map{"userId": uid, "online": online})
}
