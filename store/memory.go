package store

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/vault-app/vault-hub/models"
)

type cachedLocation struct {
	location models.LocationData
	expires  time.Time
}

// MemoryStore is a process local Store, used in development and tests
type MemoryStore struct {
	mu            sync.RWMutex
	partners      map[string]string
	conversations map[string][]*models.Message
	locations     map[string]cachedLocation
	locationTTL   time.Duration

	now func() time.Time
}

// NewMemoryStore creates an empty store, cached locations expire after locationTTL
func NewMemoryStore(locationTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		partners:      make(map[string]string),
		conversations: make(map[string][]*models.Message),
		locations:     make(map[string]cachedLocation),
		locationTTL:   locationTTL,
		now:           time.Now,
	}
}

func (s *MemoryStore) PartnerOf(ctx context.Context, userID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	partnerID, ok := s.partners[userID]
	return partnerID, ok, nil
}

func (s *MemoryStore) SetPartner(ctx context.Context, userID, partnerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if partnerID == "" {
		delete(s.partners, userID)
	} else {
		s.partners[userID] = partnerID
	}
	return nil
}

func (s *MemoryStore) CreateMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	if msg == nil || msg.ID == "" {
		return nil, errors.New("message must have an id")
	}

	stored := *msg
	if stored.Location != nil {
		location := *stored.Location
		stored.Location = &location
	}

	s.mu.Lock()
	key := conversationKey(stored.SenderID, stored.ReceiverID)
	s.conversations[key] = append(s.conversations[key], &stored)
	s.mu.Unlock()

	result := stored
	return &result, nil
}

func (s *MemoryStore) MessageHistory(ctx context.Context, userA, userB string) ([]*models.Message, error) {
	s.mu.RLock()
	stored := s.conversations[conversationKey(userA, userB)]
	messages := make([]*models.Message, 0, len(stored))
	for _, m := range stored {
		copied := *m
		messages = append(messages, &copied)
	}
	s.mu.RUnlock()

	messages = between(messages, userA, userB)
	sortByTimestamp(messages)
	return messages, nil
}

func (s *MemoryStore) SetLocation(ctx context.Context, userID string, location models.LocationData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.locations[userID] = cachedLocation{location: location, expires: s.now().Add(s.locationTTL)}
	return nil
}

func (s *MemoryStore) GetLocation(ctx context.Context, userID string) (*models.LocationData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cached, ok := s.locations[userID]
	if !ok || !s.now().Before(cached.expires) {
		return nil, ErrNotFound
	}
	location := cached.location
	return &location, nil
}

func (s *MemoryStore) Close() error { return nil }
