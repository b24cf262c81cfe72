// Package store holds the persistence collaborators of the hub: partner links, chat messages
// and last known locations.
package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/vault-app/vault-hub/models"
)

// ErrNotFound is returned when a looked up record does not exist
var ErrNotFound = errors.New("not found")

// Store is the full set of operations the hub and its REST surface need
type Store interface {
	// PartnerOf returns the partner linked to userID, ok is false when there is none
	PartnerOf(ctx context.Context, userID string) (partnerID string, ok bool, err error)

	// SetPartner links userID to partnerID, an empty partnerID removes the link
	SetPartner(ctx context.Context, userID, partnerID string) error

	// CreateMessage persists msg and returns the stored record
	CreateMessage(ctx context.Context, msg *models.Message) (*models.Message, error)

	// MessageHistory returns every message between userA and userB, oldest first
	MessageHistory(ctx context.Context, userA, userB string) ([]*models.Message, error)

	// SetLocation records the last known location of userID
	SetLocation(ctx context.Context, userID string, location models.LocationData) error

	// GetLocation returns the last known location of userID or ErrNotFound
	GetLocation(ctx context.Context, userID string) (*models.LocationData, error)

	Close() error
}

// conversationKey is the same for both directions of a conversation. The first id is length
// prefixed so ids containing ':' can't make two pairs share a key.
func conversationKey(userA, userB string) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return fmt.Sprintf("%d:%s:%s", len(userA), userA, userB)
}

// between keeps only the messages exchanged by userA and userB
func between(messages []*models.Message, userA, userB string) []*models.Message {
	kept := messages[:0]
	for _, m := range messages {
		if (m.SenderID == userA && m.ReceiverID == userB) || (m.SenderID == userB && m.ReceiverID == userA) {
			kept = append(kept, m)
		}
	}
	return kept
}

func sortByTimestamp(messages []*models.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
}
