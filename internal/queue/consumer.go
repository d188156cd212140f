package queue

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/cruisesync/internal/config"
	"github.com/iliyamo/cruisesync/internal/ingest"
	"github.com/iliyamo/cruisesync/internal/logger"
	"github.com/iliyamo/cruisesync/internal/model"
)

// Executor runs a ticket to its terminal state.  *ingest.Coordinator
// satisfies it.
type Executor interface {
	Execute(ctx context.Context, t ingest.Ticket) model.RunOutcome
}

// Consumer executes sync tickets delivered over RabbitMQ.
type Consumer struct {
	url      string
	queue    string
	prefetch int
	exec     Executor
	log      logger.Logger

	maxBackoff time.Duration
}

// NewConsumer returns a Consumer for cfg.
func NewConsumer(cfg config.QueueConfig, exec Executor, log logger.Logger) *Consumer {
	prefetch := cfg.Prefetch
	if prefetch < 1 {
		prefetch = 1
	}
	return &Consumer{
		url:        cfg.URL,
		queue:      cfg.Name,
		prefetch:   prefetch,
		exec:       exec,
		log:        log.With("component", "queue-consumer", "queue", cfg.Name),
		maxBackoff: 30 * time.Second,
	}
}

// Run connects, consumes and reconnects until ctx ends.  Broker failures
// are retried with a doubling delay; it only returns ctx's error.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.Warn("failed to dial broker, retrying", "error", err, "in", backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < c.maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("consume loop ended, reconnecting", "error", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return errors.Wrap(err, "channel open")
	}
	defer func() { _ = ch.Close() }()

	// one run at a time per consumer unless told otherwise
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		c.log.Warn("set QoS failed", "error", err)
	}
	if err := declare(ch, c.queue); err != nil {
		return err
	}
	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return errors.Wrap(err, "queue consume")
	}
	c.log.Info("consuming sync requests")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handle(ctx, d.Body); err != nil {
				c.log.Error("rejecting sync message", "error", err)
				_ = d.Nack(false, false) // malformed, do not requeue
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// handle decodes one message and executes its ticket.  Only malformed
// messages return an error; a run that fails has still reached a terminal
// state and its outcome is recorded, so the message is acknowledged.
func (c *Consumer) handle(ctx context.Context, body []byte) error {
	ev, err := DecodeSyncRequested(body)
	if err != nil {
		return err
	}
	t := ev.Ticket()
	if t.Source == "" {
		t.Source = ingest.SourceQueue
	}
	o := c.exec.Execute(ctx, t)
	c.log.Info("sync message handled", "run_id", o.RunID, "status", o.Status)
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
