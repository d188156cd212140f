package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/cruisesync/internal/config"
	"github.com/iliyamo/cruisesync/internal/ingest"
	"github.com/iliyamo/cruisesync/internal/logger"
)

// Publisher hands accepted sync tickets to RabbitMQ.  It implements
// ingest.Dispatcher.  A connection is dialled per publish; triggers are
// infrequent and this keeps the publisher free of reconnect state.
type Publisher struct {
	url   string
	queue string
	log   logger.Logger
	now   func() time.Time
}

// NewPublisher returns a Publisher for cfg.
func NewPublisher(cfg config.QueueConfig, log logger.Logger) *Publisher {
	return &Publisher{url: cfg.URL, queue: cfg.Name, log: log, now: time.Now}
}

// Dispatch publishes t as a persistent SyncRequestedEvent.  The caller
// releases the line's lock when this fails.
func (p *Publisher) Dispatch(ctx context.Context, t ingest.Ticket) error {
	pub, err := p.publishing(t)
	if err != nil {
		return err
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		p.log.Error("rabbitmq dial failed", "error", err)
		return errors.Wrap(err, "dial rabbitmq")
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.log.Error("rabbitmq channel open failed", "error", err)
		return errors.Wrap(err, "open channel")
	}
	defer func() { _ = ch.Close() }()

	if err := declare(ch, p.queue); err != nil {
		return err
	}

	if err := ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		pub,
	); err != nil {
		p.log.Error("rabbitmq publish failed", "run_id", t.RunID, "error", err)
		return errors.Wrap(err, "publish sync event")
	}
	p.log.Info("sync run queued", "run_id", t.RunID, "line_id", t.LineID, "queue", p.queue)
	return nil
}

func (p *Publisher) publishing(t ingest.Ticket) (amqp.Publishing, error) {
	body, err := json.Marshal(EventFromTicket(t))
	if err != nil {
		return amqp.Publishing{}, errors.Wrap(err, "marshal sync event")
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    t.RunID,
		Timestamp:    p.now().UTC(),
		Body:         body,
	}, nil
}

// declare makes sure the durable queue exists.  It is idempotent.
func declare(ch *amqp.Channel, name string) error {
	if _, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		return errors.Wrapf(err, "declare queue %s", name)
	}
	return nil
}
