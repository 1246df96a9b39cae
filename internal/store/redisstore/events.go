package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/image-edit/internal/edit"
)

const DefaultEventsChannel = "image_edit:jobs"

// Store publishes job transitions over Redis pub/sub so other processes
// (a UI gateway, a webhook relay) can react without polling the API.
type Store struct {
	rdb     *redis.Client
	channel string
}

func New(addr, password string, db int) *Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewWithClient(rdb, DefaultEventsChannel)
}

func NewWithClient(rdb *redis.Client, channel string) *Store {
	if channel == "" {
		channel = DefaultEventsChannel
	}
	return &Store{rdb: rdb, channel: channel}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// Notify implements edit.Notifier.
func (s *Store) Notify(ctx context.Context, ev edit.JobEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := s.rdb.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", s.channel, err)
	}
	return nil
}

// Subscribe decodes events from the channel until ctx is done.
// The returned channel is closed when the subscription ends.
func (s *Store) Subscribe(ctx context.Context) (<-chan edit.JobEvent, error) {
	sub := s.rdb.Subscribe(ctx, s.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan edit.JobEvent, 16)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var ev edit.JobEvent
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
