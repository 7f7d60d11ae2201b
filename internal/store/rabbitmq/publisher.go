package rabbitmq

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// CompletionJobMessage is the payload on the completion queue.
type CompletionJobMessage struct {
	JobID string `json:"job_id"`
}

// ImageJobMessage is the payload on the image-generation queue.
type ImageJobMessage struct {
	TaskID        string `json:"task_id"`
	UserID        uint64 `json:"user_id"`
	SessionID     string `json:"session_id"`
	CharacterID   uint64 `json:"character_id"`
	Prompt        string `json:"prompt"`
	Count         int    `json:"count"`
	PlaceholderID string `json:"placeholder_id"`
}

// NewPublisher declares the main queue along with its retry and DLQ
// companions, matching the worker's topology.
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

// DeclareQueues sets up queue, queue.retry (TTL dead-letters back to the main
// queue) and queue.dlq (terminal failures).
func DeclareQueues(ch *amqp.Channel, queue string) error {
	mainQ := queue
	retryQ := queue + ".retry"
	dlqQ := queue + ".dlq"

	if _, err := ch.QueueDeclare(dlqQ, true, false, false, false, nil); err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(retryQ, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": mainQ,
	}); err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(mainQ, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlqQ,
	}); err != nil {
		return err
	}

	return nil
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

func (p *Publisher) publish(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
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
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}

func (p *Publisher) PublishCompletionJob(ctx context.Context, jobID string) error {
	return p.publish(ctx, CompletionJobMessage{JobID: jobID})
}

func (p *Publisher) PublishImageJob(ctx context.Context, msg ImageJobMessage) error {
	return p.publish(ctx, msg)
}
