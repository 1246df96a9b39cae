package rabbitmq

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/image-edit/internal/edit"
)

// Publisher is an edit.Dispatcher backed by a durable queue consumed by
// cmd/worker.
type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := DeclareQueues(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

// DeclareQueues declares the main queue and its dead-letter queue. The
// worker and the publisher must agree on the arguments, so both call this.
// There is no retry queue: a job gets a single attempt.
func DeclareQueues(ch *amqp.Channel, queue string) error {
	dlq := DeadLetterQueue(queue)

	if _, err := ch.QueueDeclare(
		dlq,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		return err
	}

	// Main queue: dead-letter to DLQ on reject/nack(requeue=false)
	_, err := ch.QueueDeclare(
		queue,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlq,
		},
	)
	return err
}

func DeadLetterQueue(queue string) string {
	return queue + ".dlq"
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Dispatch implements edit.Dispatcher.
func (p *Publisher) Dispatch(ctx context.Context, task edit.Task) error {
	body, err := EncodeTask(task)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(cctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    task.JobID,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}

// EncodeTask renders the queue payload: {"job_id","image_url","prompt"}.
func EncodeTask(task edit.Task) ([]byte, error) {
	return json.Marshal(task)
}
