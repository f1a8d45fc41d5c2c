package booking

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/robertarktes/campus-marketplace/internal/domain"
	"github.com/robertarktes/campus-marketplace/internal/observability"
)

const (
	opReserve = "reserve"
	opConfirm = "confirm"
	opCancel  = "cancel"
	opExpire  = "expire"
)

// SystemActor is recorded as the actor of transitions nobody requested, such as expiry.
var SystemActor = uuid.Nil

type Engine struct {
	store   Store
	locker  Locker
	logger  observability.Logger
	lockTTL time.Duration
	now     func() time.Time
}

// NewEngine wires the engine to its store. locker may be nil, in which case
// reserve relies on the store transaction alone.
func NewEngine(store Store, locker Locker, logger observability.Logger, lockTTL time.Duration) *Engine {
	if lockTTL <= 0 {
		lockTTL = 5 * time.Second
	}
	return &Engine{
		store:   store,
		locker:  locker,
		logger:  logger.WithField("component", "booking"),
		lockTTL: lockTTL,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Reserve creates a RESERVED booking for buyerID and marks the item RESERVED.
// A buyer who saw the item available but lost the race gets ErrConflict;
// one who never saw it available gets ErrInvalidState.
func (e *Engine) Reserve(ctx context.Context, itemID, buyerID uuid.UUID) (domain.Booking, error) {
	ctx, span := otel.Tracer("booking").Start(ctx, "booking.Reserve")
	defer span.End()
	span.SetAttributes(attribute.String("item.id", itemID.String()), attribute.String("buyer.id", buyerID.String()))

	observed, err := e.store.GetItem(ctx, itemID)
	if err != nil {
		return domain.Booking{}, e.finish(span, opReserve, err)
	}
	if observed.OwnerID == buyerID {
		return domain.Booking{}, e.finish(span, opReserve, domain.Wrap(domain.ErrForbidden, "you cannot reserve your own item"))
	}
	if observed.Status != domain.ItemAvailable {
		return domain.Booking{}, e.finish(span, opReserve, domain.Wrap(domain.ErrInvalidState, "item is not available for reservation"))
	}

	if e.locker != nil {
		unlock, ok, err := e.locker.TryLock(ctx, "item:"+itemID.String(), e.lockTTL)
		if err != nil {
			return domain.Booking{}, e.finish(span, opReserve, errors.Wrap(err, "acquire item lock"))
		}
		if !ok {
			return domain.Booking{}, e.finish(span, opReserve, domain.Wrap(domain.ErrConflict, "item is being reserved by someone else"))
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				e.logger.WithField("item_id", itemID).Warn("failed to release item lock: ", err)
			}
		}()
	}

	var booking domain.Booking
	err = e.store.WithTx(ctx, func(tx Tx) error {
		item, err := tx.LockItem(ctx, itemID)
		if err != nil {
			return err
		}
		if item.OwnerID == buyerID {
			return domain.Wrap(domain.ErrForbidden, "you cannot reserve your own item")
		}
		active, err := tx.ActiveBooking(ctx, itemID)
		if err != nil {
			return err
		}
		if e.statusOf(item, active) != domain.ItemAvailable {
			return domain.Wrap(domain.ErrConflict, "item is no longer available")
		}

		now := e.now()
		booking = domain.NewBooking(itemID, buyerID, now)
		if err := tx.InsertBooking(ctx, booking); err != nil {
			return err
		}
		if err := tx.SetItemStatus(ctx, itemID, domain.ItemReserved, now); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, domain.NewBookingEvent(domain.EventBookingReserved, booking, item.OwnerID, buyerID, now))
	})
	if err != nil {
		return domain.Booking{}, e.finish(span, opReserve, err)
	}

	e.logger.WithField("item_id", itemID).WithField("booking_id", booking.ID).Info("item reserved")
	e.finish(span, opReserve, nil)
	return booking, nil
}

// Confirm completes the deal. Only the seller may confirm, and only a RESERVED booking.
func (e *Engine) Confirm(ctx context.Context, bookingID, actorID uuid.UUID) (domain.Booking, error) {
	ctx, span := otel.Tracer("booking").Start(ctx, "booking.Confirm")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", bookingID.String()), attribute.String("actor.id", actorID.String()))

	var booking domain.Booking
	err := e.transition(ctx, bookingID, func(tx Tx, item domain.Item, b domain.Booking) error {
		if item.OwnerID != actorID {
			return domain.Wrap(domain.ErrForbidden, "only the seller can confirm this deal")
		}
		if b.Status != domain.BookingReserved {
			return domain.Wrap(domain.ErrInvalidState, "booking is not in reserved state")
		}
		now := e.now()
		b.Status = domain.BookingConfirmed
		b.UpdatedAt = now
		if err := e.apply(ctx, tx, b, domain.ItemSold, now); err != nil {
			return err
		}
		booking = b
		return tx.AppendEvent(ctx, domain.NewBookingEvent(domain.EventBookingConfirmed, b, item.OwnerID, actorID, now))
	})
	if err != nil {
		return domain.Booking{}, e.finish(span, opConfirm, err)
	}

	e.logger.WithField("booking_id", bookingID).Info("booking confirmed")
	e.finish(span, opConfirm, nil)
	return booking, nil
}

// Cancel reopens the item. Either the buyer or the seller may cancel an active booking,
// whether it is RESERVED or already CONFIRMED.
func (e *Engine) Cancel(ctx context.Context, bookingID, actorID uuid.UUID) (domain.Booking, error) {
	ctx, span := otel.Tracer("booking").Start(ctx, "booking.Cancel")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", bookingID.String()), attribute.String("actor.id", actorID.String()))

	var booking domain.Booking
	err := e.transition(ctx, bookingID, func(tx Tx, item domain.Item, b domain.Booking) error {
		if actorID != b.BuyerID && actorID != item.OwnerID {
			return domain.Wrap(domain.ErrForbidden, "you are not authorized to cancel this booking")
		}
		if !canTransition(b.Status, domain.BookingCancelled) {
			return domain.Wrap(domain.ErrInvalidState, "booking is already cancelled")
		}
		now := e.now()
		b.Status = domain.BookingCancelled
		b.UpdatedAt = now
		if err := e.apply(ctx, tx, b, domain.ItemAvailable, now); err != nil {
			return err
		}
		booking = b
		return tx.AppendEvent(ctx, domain.NewBookingEvent(domain.EventBookingCancelled, b, item.OwnerID, actorID, now))
	})
	if err != nil {
		return domain.Booking{}, e.finish(span, opCancel, err)
	}

	e.logger.WithField("booking_id", bookingID).Info("booking cancelled")
	e.finish(span, opCancel, nil)
	return booking, nil
}

// Expire cancels a RESERVED booking created before cutoff on behalf of the system.
// Bookings that were confirmed, cancelled or renewed in the meantime yield ErrInvalidState.
func (e *Engine) Expire(ctx context.Context, bookingID uuid.UUID, cutoff time.Time) error {
	ctx, span := otel.Tracer("booking").Start(ctx, "booking.Expire")
	defer span.End()

	err := e.transition(ctx, bookingID, func(tx Tx, item domain.Item, b domain.Booking) error {
		if b.Status != domain.BookingReserved || b.CreatedAt.After(cutoff) {
			return domain.Wrap(domain.ErrInvalidState, "booking is no longer an expired reservation")
		}
		now := e.now()
		b.Status = domain.BookingCancelled
		b.UpdatedAt = now
		if err := e.apply(ctx, tx, b, domain.ItemAvailable, now); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, domain.NewBookingEvent(domain.EventBookingExpired, b, item.OwnerID, SystemActor, now))
	})
	return e.finish(span, opExpire, err)
}

// ExpireStale expires up to limit reservations older than ttl and reports how many were expired.
func (e *Engine) ExpireStale(ctx context.Context, ttl time.Duration, limit int) (int, error) {
	cutoff := e.now().Add(-ttl)
	stale, err := e.store.StaleReservations(ctx, cutoff, limit)
	if err != nil {
		return 0, errors.Wrap(err, "list stale reservations")
	}

	expired := 0
	for _, b := range stale {
		err := e.Expire(ctx, b.ID, cutoff)
		switch {
		case err == nil:
			expired++
		case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrConflict):
			e.logger.WithField("booking_id", b.ID).Debug("skipping reservation: ", err)
		default:
			return expired, err
		}
	}
	return expired, nil
}

// ActiveBooking returns the RESERVED or CONFIRMED booking of the item, or nil.
func (e *Engine) ActiveBooking(ctx context.Context, itemID uuid.UUID) (*domain.Booking, error) {
	if _, err := e.store.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	return e.store.ActiveBooking(ctx, itemID)
}

// transition loads the booking and its item under lock, item first, and runs fn
// inside the same transaction.
func (e *Engine) transition(ctx context.Context, bookingID uuid.UUID, fn func(tx Tx, item domain.Item, b domain.Booking) error) error {
	return e.store.WithTx(ctx, func(tx Tx) error {
		snapshot, err := tx.Booking(ctx, bookingID)
		if err != nil {
			return err
		}
		item, err := tx.LockItem(ctx, snapshot.ItemID)
		if err != nil {
			return err
		}
		b, err := tx.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		return fn(tx, item, b)
	})
}

func (e *Engine) apply(ctx context.Context, tx Tx, b domain.Booking, itemStatus domain.ItemStatus, now time.Time) error {
	if err := tx.SetBookingStatus(ctx, b.ID, b.Status, now); err != nil {
		return err
	}
	return tx.SetItemStatus(ctx, b.ItemID, itemStatus, now)
}

// statusOf returns the derived status, logging when the cached column disagrees.
func (e *Engine) statusOf(item domain.Item, active *domain.Booking) domain.ItemStatus {
	derived := DeriveStatus(active)
	if item.Status != derived {
		e.logger.WithField("item_id", item.ID).
			WithField("cached", item.Status).
			WithField("derived", derived).
			Warn("item status drifted from bookings")
		if item.Status != domain.ItemAvailable {
			return item.Status
		}
	}
	return derived
}

func (e *Engine) finish(span trace.Span, op string, err error) error {
	observability.BookingTransitions.WithLabelValues(op, Outcome(err)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Outcome classifies an engine error for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
