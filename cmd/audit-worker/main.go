package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	mongoadapter "github.com/robertarktes/campus-marketplace/internal/adapters/mongo"
	"github.com/robertarktes/campus-marketplace/internal/adapters/rabbit"
	"github.com/robertarktes/campus-marketplace/internal/config"
	"github.com/robertarktes/campus-marketplace/internal/domain"
	"github.com/robertarktes/campus-marketplace/internal/observability"
)

const queue = "audit.booking"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := observability.NewLogger(cfg.LogLevel).WithField("service", "audit-worker")

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	audit := mongoadapter.NewAuditLogger(mongoClient.Database(cfg.MongoDB), logger)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	consumer, err := rabbit.NewConsumer(conn, queue, "booking.*")
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}
	defer consumer.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		log.Fatalf("failed to consume: %v", err)
	}

	logger.Info("audit worker started")
	run(ctx, deliveries, audit, logger)
	logger.Info("Shutdown audit worker")
}

type Recorder interface {
	RecordBookingEvent(ctx context.Context, ev domain.BookingEvent) error
}

// Acker is the part of amqp.Delivery the worker settles messages through.
type Acker interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func run(ctx context.Context, deliveries <-chan amqp.Delivery, rec Recorder, logger observability.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			handle(ctx, d.Body, &d, rec, logger.WithField("message_id", d.MessageId))
		}
	}
}

// handle records one event. Malformed messages are dropped; storage failures
// are requeued.
func handle(ctx context.Context, body []byte, ack Acker, rec Recorder, logger observability.Logger) {
	var ev domain.BookingEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		logger.WithError(err).Error("dropping malformed booking event")
		_ = ack.Nack(false, false)
		return
	}
	if err := rec.RecordBookingEvent(ctx, ev); err != nil {
		logger.WithError(err).Error("failed to record booking event")
		_ = ack.Nack(false, true)
		return
	}
	_ = ack.Ack(false)
}
