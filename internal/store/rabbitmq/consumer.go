package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/suPer8Hu/image-edit/internal/edit"
)

// TaskHandler runs one job. A non-nil error dead-letters the message.
type TaskHandler func(ctx context.Context, task edit.Task) error

type Consumer struct {
	conn        *amqp.Connection
	ch          *amqp.Channel
	queue       string
	concurrency int
	log         zerolog.Logger
}

func NewConsumer(url, queue string, concurrency int, log zerolog.Logger) (*Consumer, error) {
	if concurrency <= 0 {
		concurrency = 1
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbit dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbit channel: %w", err)
	}
	if err := DeclareQueues(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("queue declare: %w", err)
	}
	//  strict concurrency control
	if err := ch.Qos(concurrency, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("qos: %w", err)
	}

	return &Consumer{conn: conn, ch: ch, queue: queue, concurrency: concurrency, log: log}, nil
}

func (c *Consumer) Close() error {
	_ = c.ch.Close()
	return c.conn.Close()
}

// Run consumes until ctx is cancelled, letting in-flight jobs finish.
func (c *Consumer) Run(ctx context.Context, handle TaskHandler) error {
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	c.log.Info().Str("queue", c.queue).Int("concurrency", c.concurrency).Msg("worker started")
	return runPool(ctx, msgs, c.concurrency, handle, c.log)
}

var errDeliveriesClosed = errors.New("rabbit delivery channel closed")

func runPool(ctx context.Context, msgs <-chan amqp.Delivery, concurrency int, handle TaskHandler, log zerolog.Logger) error {
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			wlog := log.With().Int("worker", workerID).Logger()
			for d := range jobs {
				handleDelivery(ctx, d, handle, wlog)
			}
		}(i)
	}

	stop := func() {
		close(jobs)
		wg.Wait()
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("worker shutting down")
			stop()
			return nil

		case d, ok := <-msgs:
			if !ok {
				stop()
				return errDeliveriesClosed
			}
			jobs <- d
		}
	}
}

func handleDelivery(ctx context.Context, d amqp.Delivery, handle TaskHandler, log zerolog.Logger) {
	task, err := DecodeTask(d.Body)
	if err != nil {
		log.Warn().Err(err).Msg("bad message")
		_ = d.Nack(false, false)
		return
	}
	task.Redelivered = d.Redelivered

	// the edit must outlive a shutdown signal; Run waits for it
	jobCtx := context.WithoutCancel(ctx)

	start := time.Now()
	if err := handle(jobCtx, task); err != nil {
		log.Error().Err(err).Str("job_id", task.JobID).Dur("cost", time.Since(start)).Msg("job dead-lettered")
		_ = d.Nack(false, false)
		return
	}

	if err := d.Ack(false); err != nil {
		log.Warn().Err(err).Str("job_id", task.JobID).Msg("ack failed")
	}
}

// DecodeTask parses a queue payload and rejects messages without a job id.
func DecodeTask(body []byte) (edit.Task, error) {
	var t edit.Task
	if err := json.Unmarshal(body, &t); err != nil {
		return edit.Task{}, err
	}
	if strings.TrimSpace(t.JobID) == "" {
		return edit.Task{}, errors.New("job_id missing")
	}
	return t, nil
}
