package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/image-edit/internal/edit"
)

type fakeAcker struct {
	mu     sync.Mutex
	acked  []uint64
	nacked []uint64
}

func (a *fakeAcker) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *fakeAcker) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked = append(a.nacked, tag)
	return nil
}

func (a *fakeAcker) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func delivery(t *testing.T, ack amqp.Acknowledger, tag uint64, task edit.Task) amqp.Delivery {
	t.Helper()
	body, err := EncodeTask(task)
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: tag, Body: body}
}

func TestEncodeDecodeTask(t *testing.T) {
	task := edit.Task{JobID: "01J", ImageURL: "http://x/a.png", Prompt: "make it blue"}
	body, err := EncodeTask(task)
	require.NoError(t, err)
	require.JSONEq(t, `{"job_id":"01J","image_url":"http://x/a.png","prompt":"make it blue"}`, string(body))

	got, err := DecodeTask(body)
	require.NoError(t, err)
	require.Equal(t, task, got)
}

func TestDecodeTask_RejectsMissingJobID(t *testing.T) {
	_, err := DecodeTask([]byte(`{"image_url":"http://x"}`))
	require.Error(t, err)

	_, err = DecodeTask([]byte(`not json`))
	require.Error(t, err)
}

func TestHandleDelivery_AckAndNack(t *testing.T) {
	ack := &fakeAcker{}
	log := zerolog.Nop()

	ok := func(ctx context.Context, task edit.Task) error { return nil }
	bad := func(ctx context.Context, task edit.Task) error { return errors.New("store down") }

	handleDelivery(context.Background(), delivery(t, ack, 1, edit.Task{JobID: "a"}), ok, log)
	handleDelivery(context.Background(), delivery(t, ack, 2, edit.Task{JobID: "b"}), bad, log)
	handleDelivery(context.Background(), amqp.Delivery{Acknowledger: ack, DeliveryTag: 3, Body: []byte("{}")}, ok, log)

	require.Equal(t, []uint64{1}, ack.acked)
	require.Equal(t, []uint64{2, 3}, ack.nacked)
}

func TestHandleDelivery_PassesRedeliveredFlag(t *testing.T) {
	ack := &fakeAcker{}
	var got []bool
	handle := func(ctx context.Context, task edit.Task) error {
		got = append(got, task.Redelivered)
		return nil
	}

	first := delivery(t, ack, 1, edit.Task{JobID: "a"})
	again := delivery(t, ack, 2, edit.Task{JobID: "a"})
	again.Redelivered = true

	handleDelivery(context.Background(), first, handle, zerolog.Nop())
	handleDelivery(context.Background(), again, handle, zerolog.Nop())

	require.Equal(t, []bool{false, true}, got)
	require.Equal(t, []uint64{1, 2}, ack.acked)
}

func TestRunPool_DrainsThenStopsOnCancel(t *testing.T) {
	ack := &fakeAcker{}
	msgs := make(chan amqp.Delivery)
	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	seen := map[string]bool{}
	handle := func(ctx context.Context, task edit.Task) error {
		mu.Lock()
		seen[task.JobID] = true
		mu.Unlock()
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- runPool(ctx, msgs, 3, handle, zerolog.Nop()) }()

	for i, id := range []string{"a", "b", "c", "d"} {
		msgs <- delivery(t, ack, uint64(i+1), edit.Task{JobID: id})
	}
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop")
	}

	require.Len(t, seen, 4)
	require.Len(t, ack.acked, 4)
}

func TestRunPool_ClosedDeliveriesIsAnError(t *testing.T) {
	msgs := make(chan amqp.Delivery)
	close(msgs)

	err := runPool(context.Background(), msgs, 1, func(context.Context, edit.Task) error { return nil }, zerolog.Nop())
	require.ErrorIs(t, err, errDeliveriesClosed)
}

func TestDeadLetterQueue(t *testing.T) {
	require.Equal(t, "image_edit_jobs.dlq", DeadLetterQueue("image_edit_jobs"))
}
