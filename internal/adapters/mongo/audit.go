package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/robertarktes/campus-marketplace/internal/domain"
	"github.com/robertarktes/campus-marketplace/internal/observability"
)

type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

// AuditLog is keyed by the event id, so a redelivered event is stored once.
type AuditLog struct {
	ID         string    `bson:"_id"`
	Action     string    `bson:"action"`
	ActorID    string    `bson:"actor_id"`
	BookingID  string    `bson:"booking_id"`
	ItemID     string    `bson:"item_id"`
	Timestamp  time.Time `bson:"timestamp"`
	RecordedAt time.Time `bson:"recorded_at"`
	Data       bson.M    `bson:"data"`
}

func (a *AuditLogger) RecordBookingEvent(ctx context.Context, ev domain.BookingEvent) error {
	log := AuditLog{
		ID:         ev.ID.String(),
		Action:     string(ev.Type),
		ActorID:    ev.ActorID.String(),
		BookingID:  ev.BookingID.String(),
		ItemID:     ev.ItemID.String(),
		Timestamp:  ev.OccurredAt,
		RecordedAt: time.Now().UTC(),
		Data: bson.M{
			"buyer_id": ev.BuyerID.String(),
			"owner_id": ev.OwnerID.String(),
			"status":   string(ev.Status),
		},
	}
	_, err := a.coll.InsertOne(ctx, log)
	if mongo.IsDuplicateKeyError(err) {
		a.logger.WithField("event_id", log.ID).Debug("audit log already recorded")
		return nil
	}
	if err != nil {
		a.logger.WithError(err).Error("failed to insert audit log")
		return err
	}
	return nil
}

// BookingHistory returns the recorded events of a booking, oldest first.
func (a *AuditLogger) BookingHistory(ctx context.Context, bookingID string) ([]AuditLog, error) {
	cur, err := a.coll.Find(ctx, bson.M{"booking_id": bookingID},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var logs []AuditLog
	if err := cur.All(ctx, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}
