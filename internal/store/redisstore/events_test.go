package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/image-edit/internal/edit"
)

// Runs against a real server; set REDIS_TEST_ADDR to enable.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	s := NewWithClient(redis.NewClient(&redis.Options{Addr: addr}), "image_edit:test:"+t.Name())
	t.Cleanup(func() { _ = s.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Ping(ctx))
	return s
}

func TestNotify_RoundTripsThroughSubscribe(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := s.Subscribe(ctx)
	require.NoError(t, err)

	edited := "https://cdn.example.com/out.png"
	require.NoError(t, s.Notify(ctx, edit.JobEvent{JobID: "01J", Status: edit.JobProcessing, At: time.Now()}))
	require.NoError(t, s.Notify(ctx, edit.JobEvent{JobID: "01J", Status: edit.JobCompleted, EditedImageURL: &edited, At: time.Now()}))

	first := <-events
	require.Equal(t, edit.JobProcessing, first.Status)
	second := <-events
	require.Equal(t, edit.JobCompleted, second.Status)
	require.Equal(t, edited, *second.EditedImageURL)
}

func TestNewWithClient_DefaultChannel(t *testing.T) {
	s := NewWithClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "")
	defer s.Close()
	require.Equal(t, DefaultEventsChannel, s.channel)
}
