package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fathima-sithara/chat-relay/internal/domain"
	"github.com/fathima-sithara/chat-relay/internal/ws"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const tempPrefix = "temp-"

var ErrDeleteRejected = errors.New("delete rejected by server")

// MessageView is one line of the local conversation.
type MessageView struct {
	ID        string
	FromSelf  bool
	Text      string
	Timestamp time.Time
	IsDeleted bool
}

func (m MessageView) Temporary() bool {
	return strings.HasPrefix(m.ID, tempPrefix)
}

// Incoming is a msg-recieve payload.
type Incoming struct {
	ID        string `json:"_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type MessageAPI interface {
	GetMessages(ctx context.Context, from, to string) ([]WireMessage, error)
	HasHistory(ctx context.Context, from, to string) (bool, error)
	AddMessage(ctx context.Context, from, to, text string, at time.Time) (string, error)
	DeleteMessage(ctx context.Context, id string, markAsDeleted bool) (DeleteResult, error)
}

type Emitter interface {
	Emit(event string, payload any) error
}

// Reconciler keeps the local view of one conversation consistent with the
// server and the live relay. Entries are kept in arrival order and are never
// removed once confirmed.
type Reconciler struct {
	mu   sync.Mutex
	self string
	peer string
	msgs []MessageView

	api  MessageAPI
	emit Emitter
	log  *zap.SugaredLogger
	now  func() time.Time
}

func NewReconciler(self, peer string, api MessageAPI, emit Emitter, log *zap.SugaredLogger) *Reconciler {
	return &Reconciler{
		self: self,
		peer: peer,
		api:  api,
		emit: emit,
		log:  log,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func newTempID() string { return tempPrefix + uuid.NewString() }

func (r *Reconciler) normalize(m MessageView) MessageView {
	if m.ID == "" {
		m.ID = newTempID()
	}
	if m.IsDeleted {
		m.Text = domain.DeletedPlaceholder
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = r.now()
	}
	return m
}

// Load replaces the view with the server's history for the pair.
func (r *Reconciler) Load(ctx context.Context) error {
	wire, err := r.api.GetMessages(ctx, r.self, r.peer)
	if err != nil {
		r.log.Errorw("load messages failed", "peer", r.peer, "error", err)
		return err
	}
	msgs := make([]MessageView, 0, len(wire))
	for _, w := range wire {
		msgs = append(msgs, r.normalize(MessageView{
			ID:        w.ID,
			FromSelf:  w.FromSelf,
			Text:      w.Message,
			Timestamp: w.Timestamp,
			IsDeleted: w.IsDeleted,
		}))
	}
	r.mu.Lock()
	r.msgs = msgs
	r.mu.Unlock()
	return nil
}

// Send shows text immediately under a temporary id, persists it, swaps in
// the server id and then relays it to the peer. If persisting fails the
// optimistic entry is withdrawn.
func (r *Reconciler) Send(ctx context.Context, text string) (string, error) {
	at := r.now()
	tempID := newTempID()
	r.mu.Lock()
	r.msgs = append(r.msgs, MessageView{ID: tempID, FromSelf: true, Text: text, Timestamp: at})
	r.mu.Unlock()

	id, err := r.api.AddMessage(ctx, r.self, r.peer, text, at)
	if err != nil {
		r.remove(tempID)
		r.log.Errorw("send failed", "peer", r.peer, "error", err)
		return "", fmt.Errorf("add message: %w", err)
	}
	if id == "" {
		id = tempID
	} else {
		r.replaceID(tempID, id)
	}

	ts := at.Format(time.RFC3339Nano)
	if err := r.emit.Emit(ws.EventSendMsg, ws.SendMsg{To: r.peer, From: r.self, Message: text, Timestamp: ts, ID: id}); err != nil {
		r.log.Warnw("relay emit failed", "id", id, "error", err)
	}
	if err := r.emit.Emit(ws.EventSendNotification, ws.Notification{To: r.peer, From: r.self, Message: text, Timestamp: ts}); err != nil {
		r.log.Warnw("notification emit failed", "id", id, "error", err)
	}
	return id, nil
}

// Receive appends a relayed message at the tail, in receipt order. Messages
// from anyone other than the open conversation's peer are ignored.
func (r *Reconciler) Receive(in Incoming) bool {
	if in.From != "" && r.peer != "" && in.From != r.peer {
		r.log.Debugw("relay from another contact ignored", "from", in.From, "peer", r.peer)
		return false
	}
	ts, _ := time.Parse(time.RFC3339Nano, in.Timestamp)
	m := r.normalize(MessageView{ID: in.ID, FromSelf: false, Text: in.Message, Timestamp: ts})
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
	return true
}

// Delete soft-deletes id on the server and, once confirmed, shows the
// placeholder in place and tells the peer.
func (r *Reconciler) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: message id is required", domain.ErrValidation)
	}
	res, err := r.api.DeleteMessage(ctx, id, true)
	if err != nil {
		r.log.Errorw("delete failed", "id", id, "error", err)
		return err
	}
	if !res.Status {
		r.log.Errorw("delete rejected", "id", id, "msg", res.Msg)
		return fmt.Errorf("%w: %s", ErrDeleteRejected, res.Msg)
	}
	r.markDeleted(id)
	if err := r.emit.Emit(ws.EventDeleteMsg, ws.DeleteMsg{To: r.peer, From: r.self, ID: id}); err != nil {
		r.log.Warnw("delete emit failed", "id", id, "error", err)
	}
	return nil
}

// ApplyRemoteDelete overlays a deletion announced by the peer.
func (r *Reconciler) ApplyRemoteDelete(id string) bool {
	return r.markDeleted(id)
}

// Messages returns a copy of the current view.
func (r *Reconciler) Messages() []MessageView {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]MessageView, len(r.msgs))
	copy(out, r.msgs)
	return out
}

// ContactsWithHistory keeps the contacts self has exchanged at least one
// message with. Contacts whose lookup fails are left out.
func (r *Reconciler) ContactsWithHistory(ctx context.Context, contacts []string) []string {
	out := []string{}
	for _, c := range contacts {
		ok, err := r.api.HasHistory(ctx, r.self, c)
		if err != nil {
			r.log.Warnw("history lookup failed", "contact", c, "error", err)
			continue
		}
		if ok {
			out = append(out, c)
		}
	}
	return out
}

func (r *Reconciler) markDeleted(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	found := false
	for i := range r.msgs {
		if r.msgs[i].ID == id {
			r.msgs[i].Text = domain.DeletedPlaceholder
			r.msgs[i].IsDeleted = true
			found = true
		}
	}
	return found
}

func (r *Reconciler) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.msgs {
		if r.msgs[i].ID == id {
			r.msgs = append(r.msgs[:i], r.msgs[i+1:]...)
			return
		}
	}
}

func (r *Reconciler) replaceID(from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.msgs {
		if r.msgs[i].ID == from {
			r.msgs[i].ID = to
			return
		}
	}
}

var _ Sink = (*Reconciler)(nil)
