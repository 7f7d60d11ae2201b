package main

import (
	"context"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/emberhq/companion/internal/store/rabbitmq"
)

var (
	errBadMessage          = errors.New("malformed queue message")
	errWorkerCannotEnqueue = errors.New("worker cannot enqueue completion jobs")
)

// consume runs a worker pool over one queue until the context ends. Handler
// errors nack without requeue; the queue topology dead-letters the delivery.
func consume(ctx context.Context, conn *amqp.Connection, queue string, concurrency int, handle func(context.Context, []byte) error) {
	ch, err := conn.Channel()
	if err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("rabbit channel")
		return
	}
	defer ch.Close()

	if err := rabbitmq.DeclareQueues(ch, queue); err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("queue declare")
		return
	}

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("qos")
		return
	}

	msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("consume")
		return
	}

	jobs := make(chan amqp.Delivery, concurrency*2)

	var workers = concurrency
	done := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func(workerID int) {
			for d := range jobs {
				start := time.Now()
				if err := handle(ctx, d.Body); err != nil {
					log.Warn().Err(err).Int("worker", workerID).Str("queue", queue).
						Dur("cost", time.Since(start)).Msg("delivery failed")
					_ = d.Nack(false, false)
					continue
				}
				if err := d.Ack(false); err != nil {
					log.Warn().Err(err).Int("worker", workerID).Str("queue", queue).Msg("ack failed")
				}
			}
			done <- struct{}{}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("queue", queue).Msg("consumer shutting down")
			close(jobs)
			for i := 0; i < workers; i++ {
				<-done
			}
			return

		case d, ok := <-msgs:
			if !ok {
				log.Warn().Str("queue", queue).Msg("delivery channel closed")
				close(jobs)
				for i := 0; i < workers; i++ {
					<-done
				}
				return
			}
			jobs <- d
		}
	}
}
