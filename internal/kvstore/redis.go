package kvstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

const changeChannel = "localcart:changes"

// RedisStore implements Store on Redis strings. Writes are published on a
// pub/sub channel so other processes sharing the same Redis observe changes,
// the same way two tabs of one origin observe each other's storage writes.
type RedisStore struct {
	client *redis.Client
	pubsub *redis.PubSub

	mu       sync.RWMutex
	watchers map[int]Watcher
	nextID   int

	wg sync.WaitGroup
}

// NewRedisStore wires the store and starts consuming change notifications.
// Callers own the client; Close stops the notification loop only.
func NewRedisStore(client *redis.Client) *RedisStore {
	s := &RedisStore{
		client:   client,
		watchers: make(map[int]Watcher),
	}
	s.pubsub = client.Subscribe(context.Background(), changeChannel)

	s.wg.Add(1)
	go s.notifyLoop()

	return s
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return data, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	s.publishChange(ctx, key)
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	s.publishChange(ctx, key)
	return nil
}

func (s *RedisStore) Subscribe(w Watcher) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = w
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

// Close stops the notification loop. Pending watcher callbacks finish first.
func (s *RedisStore) Close() error {
	err := s.pubsub.Close()
	s.wg.Wait()
	return err
}

func (s *RedisStore) publishChange(ctx context.Context, key string) {
	if err := s.client.Publish(ctx, changeChannel, key).Err(); err != nil {
		log.Printf("redis publish change failed for key %s: %v", key, err)
	}
}

// notifyLoop re-reads the changed key and fans the fresh bytes out to
// watchers; a missing key is delivered as nil (deletion).
func (s *RedisStore) notifyLoop() {
	defer s.wg.Done()

	for msg := range s.pubsub.Channel() {
		key := msg.Payload

		value, err := s.Get(context.Background(), key)
		if err != nil && !errors.Is(err, ErrKeyNotFound) {
			log.Printf("redis re-read after change failed for key %s: %v", key, err)
			continue
		}

		s.mu.RLock()
		watchers := make([]Watcher, 0, len(s.watchers))
		for _, w := range s.watchers {
			watchers = append(watchers, w)
		}
		s.mu.RUnlock()

		for _, w := range watchers {
			w(key, value)
		}
	}
}
