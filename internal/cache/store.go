package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the key-addressed client cache the mutation paths manipulate.
// Single-entity entries are the source of truth once populated; list entries
// hold either id arrays that dereference into entity entries or full
// denormalized arrays, chosen per key by the owning service.
type Store interface {
	// Get unmarshals the entry into dest and reports whether it existed.
	Get(ctx context.Context, key Key, dest any) (bool, error)
	Set(ctx context.Context, key Key, value any) error
	Delete(ctx context.Context, keys ...Key) error
	// DeletePrefix discards every entry whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix Key) error

	// RegisterRead derives a context for a read that fills key. The read is
	// abandoned when a writer calls CancelReads for the same key, so a slow
	// fetch can never clobber a newer optimistic write.
	RegisterRead(ctx context.Context, key Key) (context.Context, context.CancelFunc)
	// CancelReads cancels every read registered for key.
	CancelReads(key Key)

	Close() error
}

type redisStore struct {
	client *redis.Client
	ttl    time.Duration

	mu       sync.Mutex
	inflight map[Key]map[int]context.CancelFunc
	nextID   int
}

// NewRedisStore builds a Store over a shared redis client. Entries expire
// after ttl; every mutation path still invalidates eagerly, the TTL only
// bounds staleness for entries no mutation on this instance has touched.
func NewRedisStore(client *redis.Client, ttl time.Duration) Store {
	return &redisStore{
		client:   client,
		ttl:      ttl,
		inflight: make(map[Key]map[int]context.CancelFunc),
	}
}

func (s *redisStore) Get(ctx context.Context, key Key, dest any) (bool, error) {
	raw, err := s.client.Get(ctx, key.String()).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		// Treat undecodable entries as absent; the caller refetches.
		_ = s.client.Del(ctx, key.String()).Err()
		return false, nil
	}
	return true, nil
}

func (s *redisStore) Set(ctx context.Context, key Key, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key.String(), raw, s.ttl).Err()
}

func (s *redisStore) Delete(ctx context.Context, keys ...Key) error {
	if len(keys) == 0 {
		return nil
	}
	raw := make([]string, len(keys))
	for i, k := range keys {
		raw[i] = k.String()
	}
	return s.client.Del(ctx, raw...).Err()
}

func (s *redisStore) DeletePrefix(ctx context.Context, prefix Key) error {
	keys, err := s.client.Keys(ctx, prefix.String()+"*").Result()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *redisStore) RegisterRead(ctx context.Context, key Key) (context.Context, context.CancelFunc) {
	readCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	if s.inflight[key] == nil {
		s.inflight[key] = make(map[int]context.CancelFunc)
	}
	s.inflight[key][id] = cancel
	s.mu.Unlock()

	return readCtx, func() {
		s.mu.Lock()
		if reads, ok := s.inflight[key]; ok {
			delete(reads, id)
			if len(reads) == 0 {
				delete(s.inflight, key)
			}
		}
		s.mu.Unlock()
		cancel()
	}
}

func (s *redisStore) CancelReads(key Key) {
	s.mu.Lock()
	reads := s.inflight[key]
	delete(s.inflight, key)
	s.mu.Unlock()

	for _, cancel := range reads {
		cancel()
	}
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
