package crdb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/robertarktes/campus-marketplace/internal/booking"
	"github.com/robertarktes/campus-marketplace/internal/domain"
)

const itemColumns = `i.id, i.owner_id, i.title, i.description, i.price::STRING, i.category, i.image_url, i.status, i.created_at, i.updated_at`

const bookingColumns = `id, item_id, buyer_id, quantity, status, created_at, updated_at`

// BookingStore backs the booking engine.
type BookingStore struct {
	repo *Repository
}

func NewBookingStore(repo *Repository) *BookingStore {
	return &BookingStore{repo: repo}
}

var _ booking.Store = (*BookingStore)(nil)

func (s *BookingStore) WithTx(ctx context.Context, fn func(tx booking.Tx) error) error {
	return s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(&bookingTx{tx: tx})
	})
}

func (s *BookingStore) GetItem(ctx context.Context, id uuid.UUID) (domain.Item, error) {
	return s.repo.GetItem(ctx, id)
}

func (s *BookingStore) ActiveBooking(ctx context.Context, itemID uuid.UUID) (*domain.Booking, error) {
	return activeBooking(ctx, s.repo.pool, itemID)
}

func (s *BookingStore) StaleReservations(ctx context.Context, before time.Time, limit int) ([]domain.Booking, error) {
	rows, err := s.repo.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings WHERE status = 'RESERVED' AND created_at <= $1
		ORDER BY created_at ASC LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanBookingRow)
}

type bookingTx struct {
	tx pgx.Tx
}

func (t *bookingTx) LockItem(ctx context.Context, id uuid.UUID) (domain.Item, error) {
	item, err := scanItem(t.tx.QueryRow(ctx, `
		SELECT `+itemColumns+` FROM items i WHERE i.id = $1 FOR UPDATE
	`, id))
	return item, notFound(err, "item")
}

func (t *bookingTx) Booking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	b, err := scanBooking(t.tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	return b, notFound(err, "booking")
}

func (t *bookingTx) LockBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	b, err := scanBooking(t.tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id))
	return b, notFound(err, "booking")
}

func (t *bookingTx) ActiveBooking(ctx context.Context, itemID uuid.UUID) (*domain.Booking, error) {
	return activeBooking(ctx, t.tx, itemID)
}

func (t *bookingTx) InsertBooking(ctx context.Context, b domain.Booking) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO bookings (id, item_id, buyer_id, quantity, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, b.ID, b.ItemID, b.BuyerID, b.Quantity, string(b.Status), b.CreatedAt, b.UpdatedAt)
	return err
}

func (t *bookingTx) SetBookingStatus(ctx context.Context, id uuid.UUID, status domain.BookingStatus, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE bookings SET status = $2, updated_at = $3 WHERE id = $1`, id, string(status), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.Wrap(domain.ErrNotFound, "booking not found")
	}
	return nil
}

func (t *bookingTx) SetItemStatus(ctx context.Context, id uuid.UUID, status domain.ItemStatus, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE items SET status = $2, updated_at = $3 WHERE id = $1`, id, string(status), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.Wrap(domain.ErrNotFound, "item not found")
	}
	return nil
}

func (t *bookingTx) AppendEvent(ctx context.Context, ev domain.BookingEvent) error {
	return insertOutbox(ctx, t.tx, ev)
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func activeBooking(ctx context.Context, q querier, itemID uuid.UUID) (*domain.Booking, error) {
	b, err := scanBooking(q.QueryRow(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE item_id = $1 AND status IN ('RESERVED', 'CONFIRMED')
		ORDER BY created_at DESC LIMIT 1
	`, itemID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func scanBooking(row pgx.Row) (domain.Booking, error) {
	var b domain.Booking
	var status string
	err := row.Scan(&b.ID, &b.ItemID, &b.BuyerID, &b.Quantity, &status, &b.CreatedAt, &b.UpdatedAt)
	b.Status = domain.BookingStatus(status)
	return b, err
}

func scanBookingRow(row pgx.CollectableRow) (domain.Booking, error) {
	return scanBooking(row)
}
