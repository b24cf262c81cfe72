package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/vault-app/vault-hub/models"
)

const partnerField = "partnerId"

// RedisStore keeps partner links in user hashes, conversations in sorted sets scored by
// message time and last known locations as expiring strings
type RedisStore struct {
	client      *redis.Client
	locationTTL time.Duration
}

// NewRedisStore connects to the redis server at url (redis://host:port/db)
func NewRedisStore(ctx context.Context, url string, locationTTL time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "invalid redis url")
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "unable to ping redis at %s", opts.Addr)
	}
	return NewRedisStoreWithClient(client, locationTTL), nil
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client *redis.Client, locationTTL time.Duration) *RedisStore {
	return &RedisStore{client: client, locationTTL: locationTTL}
}

func userKey(userID string) string { return fmt.Sprintf("user:%s", userID) }
func locationKey(userID string) string { return fmt.Sprintf("location:%s", userID) }
func conversationSetKey(a, b string) string { return fmt.Sprintf("messages:%s", conversationKey(a, b)) }

func (s *RedisStore) PartnerOf(ctx context.Context, userID string) (string, bool, error) {
	partnerID, err := s.client.HGet(ctx, userKey(userID), partnerField).Result()
	if err == redis.Nil || (err == nil && partnerID == "") {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "error looking up partner of %s", userID)
	}
	return partnerID, true, nil
}

func (s *RedisStore) SetPartner(ctx context.Context, userID, partnerID string) error {
	var err error
	if partnerID == "" {
		err = s.client.HDel(ctx, userKey(userID), partnerField).Err()
	} else {
		err = s.client.HSet(ctx, userKey(userID), partnerField, partnerID).Err()
	}
	return errors.Wrapf(err, "error setting partner of %s", userID)
}

func (s *RedisStore) CreateMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	if msg == nil || msg.ID == "" {
		return nil, errors.New("message must have an id")
	}

	encoded, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, "error encoding message")
	}

	err = s.client.ZAdd(ctx, conversationSetKey(msg.SenderID, msg.ReceiverID), redis.Z{
		Score:  float64(msg.Timestamp.UnixMilli()),
		Member: encoded,
	}).Err()
	if err != nil {
		return nil, errors.Wrapf(err, "error storing message %s", msg.ID)
	}

	stored := *msg
	return &stored, nil
}

func (s *RedisStore) MessageHistory(ctx context.Context, userA, userB string) ([]*models.Message, error) {
	members, err := s.client.ZRange(ctx, conversationSetKey(userA, userB), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "error reading message history")
	}

	messages := make([]*models.Message, 0, len(members))
	for _, member := range members {
		msg := &models.Message{}
		if err := json.Unmarshal([]byte(member), msg); err != nil {
			return nil, errors.Wrap(err, "error decoding stored message")
		}
		messages = append(messages, msg)
	}

	// members sharing a score come back in lexical order
	messages = between(messages, userA, userB)
	sortByTimestamp(messages)
	return messages, nil
}

func (s *RedisStore) SetLocation(ctx context.Context, userID string, location models.LocationData) error {
	encoded, err := json.Marshal(location)
	if err != nil {
		return errors.Wrap(err, "error encoding location")
	}
	err = s.client.Set(ctx, locationKey(userID), encoded, s.locationTTL).Err()
	return errors.Wrapf(err, "error storing location of %s", userID)
}

func (s *RedisStore) GetLocation(ctx context.Context, userID string) (*models.LocationData, error) {
	encoded, err := s.client.Get(ctx, locationKey(userID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "error reading location of %s", userID)
	}

	location := &models.LocationData{}
	if err := json.Unmarshal(encoded, location); err != nil {
		return nil, errors.Wrap(err, "error decoding stored location")
	}
	return location, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
