package outbox

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/robertarktes/campus-marketplace/internal/adapters/crdb"
	"github.com/robertarktes/campus-marketplace/internal/observability"
)

const DefaultBatchSize = 50

type Source interface {
	ProcessOutbox(ctx context.Context, limit int, publish func(ctx context.Context, rec crdb.OutboxRecord) error) (int, error)
}

type Broker interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

// Publisher relays committed outbox records to the broker. Delivery is at least
// once: a crash between publish and commit republishes the record under the
// same MessageId.
type Publisher struct {
	source   Source
	broker   Broker
	logger   observability.Logger
	interval time.Duration
	batch    int
	now      func() time.Time
}

func NewPublisher(source Source, broker Broker, logger observability.Logger, interval time.Duration) *Publisher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Publisher{
		source:   source,
		broker:   broker,
		logger:   logger,
		interval: interval,
		batch:    DefaultBatchSize,
		now:      time.Now,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Drain full batches before waiting for the next tick.
			for {
				n, err := p.Flush(ctx)
				if err != nil {
					p.logger.WithError(err).Error("outbox flush failed")
					break
				}
				if n < p.batch {
					break
				}
			}
		}
	}
}

// Flush publishes one batch and returns how many records went out.
func (p *Publisher) Flush(ctx context.Context) (int, error) {
	var oldest time.Time
	n, err := p.source.ProcessOutbox(ctx, p.batch, func(ctx context.Context, rec crdb.OutboxRecord) error {
		if oldest.IsZero() {
			oldest = rec.CreatedAt
		}
		return p.broker.Publish(ctx, rec.EventType, amqp.Publishing{
			MessageId:    rec.DedupeKey,
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    rec.CreatedAt,
			Type:         rec.EventType,
			Body:         rec.Payload,
		})
	})
	if !oldest.IsZero() {
		observability.OutboxLag.Set(p.now().Sub(oldest).Seconds())
	}
	if n > 0 {
		p.logger.WithField("count", n).Debug("outbox records published")
	}
	return n, err
}
