package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fathima-sithara/chat-relay/internal/domain"
	"github.com/fathima-sithara/chat-relay/internal/kafka"
	"github.com/fathima-sithara/chat-relay/internal/repository"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type MessageService struct {
	repo repository.MessageRepository
	pub  kafka.Publisher
	log  *zap.SugaredLogger
	now  func() time.Time
}

func NewMessageService(repo repository.MessageRepository, pub kafka.Publisher, log *zap.SugaredLogger) *MessageService {
	if pub == nil {
		pub = kafka.Nop{}
	}
	return &MessageService{
		repo: repo,
		pub:  pub,
		log:  log,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func parseUserID(field, s string) (primitive.ObjectID, error) {
	if strings.TrimSpace(s) == "" {
		return primitive.NilObjectID, fmt.Errorf("%w: %s is required", domain.ErrValidation, field)
	}
	id, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %s is not a valid id", domain.ErrValidation, field)
	}
	return id, nil
}

func parseMessageID(s string) (primitive.ObjectID, error) {
	if strings.TrimSpace(s) == "" {
		return primitive.NilObjectID, fmt.Errorf("%w: message id is required", domain.ErrValidation)
	}
	id, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return primitive.NilObjectID, domain.ErrInvalidID
	}
	return id, nil
}

// Fetch returns the conversation between from and to as seen by from.
// Deleted messages keep their stored body; callers redact.
func (s *MessageService) Fetch(ctx context.Context, from, to string) ([]domain.View, error) {
	self, err := parseUserID("from", from)
	if err != nil {
		return nil, err
	}
	peer, err := parseUserID("to", to)
	if err != nil {
		return nil, err
	}
	msgs, err := s.repo.FindConversation(ctx, self, peer)
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	out := make([]domain.View, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ViewFor(self))
	}
	return out, nil
}

func (s *MessageService) Create(ctx context.Context, in domain.NewMessage) (string, error) {
	from, err := parseUserID("from", in.From)
	if err != nil {
		return "", err
	}
	to, err := parseUserID("to", in.To)
	if err != nil {
		return "", err
	}
	if in.Text == "" {
		return "", fmt.Errorf("%w: message is required", domain.ErrValidation)
	}

	m := &domain.Message{
		ID:        primitive.NewObjectID(),
		Message:   domain.Body{Text: in.Text},
		Sender:    from,
		Reciever:  to,
		CreatedAt: s.now(),
	}
	if err := s.repo.Insert(ctx, m); err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}
	s.publish(ctx, m.ID.Hex(), kafka.EventMessageCreated, map[string]any{
		"_id":       m.ID.Hex(),
		"from":      in.From,
		"to":        in.To,
		"createdAt": m.CreatedAt,
	})
	return m.ID.Hex(), nil
}

// SoftDelete flags the message as deleted and returns the updated record.
// The stored body is retained.
func (s *MessageService) SoftDelete(ctx context.Context, id string) (domain.DeletedMessage, error) {
	oid, err := parseMessageID(id)
	if err != nil {
		return domain.DeletedMessage{}, err
	}
	m, err := s.repo.MarkDeleted(ctx, oid, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.DeletedMessage{}, domain.ErrNotFound
		}
		return domain.DeletedMessage{}, fmt.Errorf("mark deleted: %w", err)
	}
	s.publish(ctx, id, kafka.EventMessageDeleted, map[string]any{
		"_id":       id,
		"from":      m.Sender.Hex(),
		"to":        m.Reciever.Hex(),
		"deletedAt": m.UpdatedAt,
	})
	return m.Deleted(), nil
}

func (s *MessageService) HardDelete(ctx context.Context, id string) error {
	oid, err := parseMessageID(id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, oid); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("delete message: %w", err)
	}
	s.publish(ctx, id, kafka.EventMessagePurged, map[string]any{"_id": id})
	return nil
}

func (s *MessageService) HasHistory(ctx context.Context, a, b string) (bool, error) {
	self, err := parseUserID("from", a)
	if err != nil {
		return false, err
	}
	peer, err := parseUserID("to", b)
	if err != nil {
		return false, err
	}
	return s.repo.HasConversation(ctx, self, peer)
}

func (s *MessageService) publish(ctx context.Context, key, event string, data any) {
	if err := s.pub.Publish(ctx, key, event, data); err != nil {
		s.log.Warnw("event publish failed", "event", event, "key", key, "error", err)
	}
}
