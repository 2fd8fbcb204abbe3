package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/fathima-sithara/chat-relay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

func newMsg(from, to primitive.ObjectID, text string, at time.Time) *domain.Message {
	return &domain.Message{
		Message:   domain.Body{Text: text},
		Sender:    from,
		Reciever:  to,
		CreatedAt: at,
	}
}

func exerciseRepository(t *testing.T, repo MessageRepository) {
	ctx := context.Background()
	a, b, c := primitive.NewObjectID(), primitive.NewObjectID(), primitive.NewObjectID()
	base := time.Now().UTC().Truncate(time.Millisecond)

	m1 := newMsg(a, b, "hi", base)
	m2 := newMsg(b, a, "hello", base.Add(time.Second))
	m3 := newMsg(a, c, "other chat", base.Add(2*time.Second))
	for _, m := range []*domain.Message{m1, m2, m3} {
		require.NoError(t, repo.Insert(ctx, m))
		require.False(t, m.ID.IsZero())
	}

	t.Run("conversation both directions", func(t *testing.T) {
		ab, err := repo.FindConversation(ctx, a, b)
		require.NoError(t, err)
		ba, err := repo.FindConversation(ctx, b, a)
		require.NoError(t, err)
		require.Len(t, ab, 2)
		require.Len(t, ba, 2)
		assert.Equal(t, m1.ID, ab[0].ID)
		assert.Equal(t, m2.ID, ab[1].ID)
		assert.Equal(t, ab[0].ID, ba[0].ID)
	})

	t.Run("has conversation", func(t *testing.T) {
		ok, err := repo.HasConversation(ctx, c, a)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = repo.HasConversation(ctx, b, c)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("mark deleted keeps record and moves it last", func(t *testing.T) {
		updated, err := repo.MarkDeleted(ctx, m1.ID, base.Add(5*time.Second))
		require.NoError(t, err)
		assert.True(t, updated.IsDeleted)
		assert.Equal(t, "hi", updated.Message.Text)

		ab, err := repo.FindConversation(ctx, a, b)
		require.NoError(t, err)
		require.Len(t, ab, 2)
		assert.Equal(t, m1.ID, ab[1].ID)
		assert.True(t, ab[1].IsDeleted)
	})

	t.Run("unknown ids", func(t *testing.T) {
		_, err := repo.MarkDeleted(ctx, primitive.NewObjectID(), base)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, repo.Delete(ctx, primitive.NewObjectID()), ErrNotFound)
	})

	t.Run("hard delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, m3.ID))
		assert.ErrorIs(t, repo.Delete(ctx, m3.ID), ErrNotFound)
	})
}

func TestMemoryStore(t *testing.T) {
	exerciseRepository(t, NewMemoryStore())
}

func TestMongoRepository(t *testing.T) {
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	ctx := context.Background()
	client, err := NewMongoClient(ctx, uri, 10*time.Second, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer client.Disconnect(ctx)

	db := client.Database("chat_relay_test")
	coll := "messages_" + primitive.NewObjectID().Hex()
	defer db.Collection(coll).Drop(ctx)

	exerciseRepository(t, NewMongoRepository(db, coll))
}
