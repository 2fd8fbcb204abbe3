package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fathima-sithara/chat-relay/internal/domain"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var ErrNotFound = errors.New("not found")

// MessageRepository stores conversation messages between two users.
type MessageRepository interface {
	Insert(ctx context.Context, m *domain.Message) error
	// FindConversation returns every message exchanged between a and b in
	// either direction, oldest update first.
	FindConversation(ctx context.Context, a, b primitive.ObjectID) ([]*domain.Message, error)
	MarkDeleted(ctx context.Context, id primitive.ObjectID, at time.Time) (*domain.Message, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
	// HasConversation reports whether a and b exchanged at least one message.
	HasConversation(ctx context.Context, a, b primitive.ObjectID) (bool, error)
}

func pairFilterMatches(m *domain.Message, a, b primitive.ObjectID) bool {
	return (m.Sender == a && m.Reciever == b) || (m.Sender == b && m.Reciever == a)
}
