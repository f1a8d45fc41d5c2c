package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/campus-marketplace/internal/domain"
)

// Store is the persistence the engine needs. Reads outside WithTx are snapshots
// and are never used to decide a transition on their own.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	GetItem(ctx context.Context, id uuid.UUID) (domain.Item, error)
	ActiveBooking(ctx context.Context, itemID uuid.UUID) (*domain.Booking, error)
	StaleReservations(ctx context.Context, before time.Time, limit int) ([]domain.Booking, error)
}

// Tx is one atomic unit. LockItem and LockBooking hold their rows until the
// transaction ends; callers lock the item before the booking.
type Tx interface {
	LockItem(ctx context.Context, id uuid.UUID) (domain.Item, error)
	Booking(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	LockBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	ActiveBooking(ctx context.Context, itemID uuid.UUID) (*domain.Booking, error)
	InsertBooking(ctx context.Context, b domain.Booking) error
	SetBookingStatus(ctx context.Context, id uuid.UUID, status domain.BookingStatus, at time.Time) error
	SetItemStatus(ctx context.Context, id uuid.UUID, status domain.ItemStatus, at time.Time) error
	AppendEvent(ctx context.Context, ev domain.BookingEvent) error
}

// Locker is an optional per-item mutex taken around reserve. A lock held by
// someone else means a concurrent reservation is in flight.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, ok bool, err error)
}
