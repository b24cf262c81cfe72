package hub

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/vault-app/vault-hub/auth"
	"github.com/vault-app/vault-hub/models"
)

const defaultMessageType = "text"

// MessageStore persists chat messages
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *models.Message) (*models.Message, error)
}

// ChatRelay persists submitted messages then delivers them to the receiver and to every
// device of the sender
type ChatRelay struct {
	router   *Router
	messages MessageStore
	log      *logrus.Entry

	newID func() string
	now   func() time.Time
}

// NewChatRelay creates a chat relay storing messages in the passed in store
func NewChatRelay(router *Router, messages MessageStore) *ChatRelay {
	return &ChatRelay{
		router:   router,
		messages: messages,
		log:      logrus.WithField("comp", "chat"),
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// Send creates and stores a message from sender. Nothing is delivered unless the message was
// stored, and an empty receiver or sender group is not an error.
func (r *ChatRelay) Send(ctx context.Context, sender auth.Identity, req SendMessage) (*models.Message, error) {
	msg := &models.Message{
		ID:         r.newID(),
		SenderID:   sender.UserID,
		SenderName: sender.Name,
		ReceiverID: req.ReceiverID,
		Text:       req.Text,
		Type:       req.Type,
		Location:   req.Location,
		Timestamp:  r.timestamp(req.Timestamp),
	}
	if msg.Type == "" {
		msg.Type = defaultMessageType
	}

	stored, err := r.messages.CreateMessage(ctx, msg)
	if err != nil {
		return nil, errors.Wrap(err, "error storing message")
	}

	log := r.log.WithField("message_id", stored.ID).WithField("user_id", stored.SenderID).WithField("receiver_id", stored.ReceiverID)
	delivered := r.router.Deliver(stored.ReceiverID, EventReceiveMessage, stored)
	if stored.SenderID != stored.ReceiverID {
		delivered += r.router.Deliver(stored.SenderID, EventReceiveMessage, stored)
	}
	log.WithField("delivered", delivered).Debug("message sent")

	return stored, nil
}

// timestamp uses the client's time when it sent a valid one
func (r *ChatRelay) timestamp(clientTime string) time.Time {
	if clientTime != "" {
		if t, err := time.Parse(time.RFC3339Nano, clientTime); err == nil && !t.IsZero() {
			return t.UTC()
		}
	}
	return r.now().UTC()
}
