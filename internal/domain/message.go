package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DeletedPlaceholder replaces the body of a soft-deleted message wherever it
// is shown to a client.
const DeletedPlaceholder = "This message was deleted"

type Body struct {
	Text string `bson:"text" json:"text"`
}

// Message is the persisted record. Field names follow the stored document
// shape, including the "reciever" spelling.
type Message struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	Message   Body               `bson:"message" json:"message"`
	Sender    primitive.ObjectID `bson:"sender" json:"sender"`
	Reciever  primitive.ObjectID `bson:"reciever" json:"reciever"`
	IsDeleted bool               `bson:"isDeleted" json:"isDeleted"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// View is a message projected for one side of the conversation.
type View struct {
	ID        string    `json:"_id"`
	FromSelf  bool      `json:"fromSelf"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	IsDeleted bool      `json:"isDeleted"`
}

func (m *Message) ViewFor(self primitive.ObjectID) View {
	return View{
		ID:        m.ID.Hex(),
		FromSelf:  m.Sender == self,
		Message:   m.Message.Text,
		Timestamp: m.CreatedAt,
		IsDeleted: m.IsDeleted,
	}
}

// Redacted returns a copy whose body is the placeholder when deleted.
func (v View) Redacted() View {
	if v.IsDeleted {
		v.Message = DeletedPlaceholder
	}
	return v
}

type NewMessage struct {
	From      string
	To        string
	Text      string
	Timestamp time.Time
}

// DeletedMessage is the slice of a soft-deleted record echoed back to the
// caller.
type DeletedMessage struct {
	ID        string `json:"_id"`
	Message   Body   `json:"message"`
	IsDeleted bool   `json:"isDeleted"`
}

func (m *Message) Deleted() DeletedMessage {
	return DeletedMessage{ID: m.ID.Hex(), Message: m.Message, IsDeleted: m.IsDeleted}
}

func (d DeletedMessage) Redacted() DeletedMessage {
	if d.IsDeleted {
		d.Message = Body{Text: DeletedPlaceholder}
	}
	return d
}
