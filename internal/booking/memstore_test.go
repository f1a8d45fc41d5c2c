package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/robertarktes/campus-marketplace/internal/domain"
)

// memStore runs every transaction under one mutex, the equivalent of locking
// every row a transaction touches. Writes go to copies and are swapped in on commit.
type memStore struct {
	mu       sync.Mutex
	items    map[uuid.UUID]domain.Item
	bookings map[uuid.UUID]domain.Booking
	events   []domain.BookingEvent

	// afterGetItem runs outside the lock after every snapshot read of an item.
	afterGetItem func()
}

func newMemStore() *memStore {
	return &memStore{
		items:    map[uuid.UUID]domain.Item{},
		bookings: map[uuid.UUID]domain.Booking{},
	}
}

func (s *memStore) addItem(owner uuid.UUID) domain.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := domain.Item{
		ID:        uuid.New(),
		OwnerID:   owner,
		Title:     "Calculus textbook",
		Status:    domain.ItemAvailable,
		CreatedAt: time.Now().UTC(),
	}
	s.items[item.ID] = item
	return item
}

func (s *memStore) item(id uuid.UUID) domain.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[id]
}

func (s *memStore) booking(id uuid.UUID) domain.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bookings[id]
}

func (s *memStore) bookingsFor(itemID uuid.UUID) []domain.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Booking
	for _, b := range s.bookings {
		if b.ItemID == itemID {
			out = append(out, b)
		}
	}
	return out
}

func (s *memStore) eventTypes() []domain.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventType, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

func (s *memStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		items:    make(map[uuid.UUID]domain.Item, len(s.items)),
		bookings: make(map[uuid.UUID]domain.Booking, len(s.bookings)),
	}
	for k, v := range s.items {
		tx.items[k] = v
	}
	for k, v := range s.bookings {
		tx.bookings[k] = v
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.items = tx.items
	s.bookings = tx.bookings
	s.events = append(s.events, tx.events...)
	return nil
}

func (s *memStore) GetItem(ctx context.Context, id uuid.UUID) (domain.Item, error) {
	s.mu.Lock()
	item, ok := s.items[id]
	s.mu.Unlock()
	if s.afterGetItem != nil {
		s.afterGetItem()
	}
	if !ok {
		return domain.Item{}, domain.Wrap(domain.ErrNotFound, "item not found")
	}
	return item, nil
}

func (s *memStore) ActiveBooking(ctx context.Context, itemID uuid.UUID) (*domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return activeIn(s.bookings, itemID), nil
}

func (s *memStore) StaleReservations(ctx context.Context, before time.Time, limit int) ([]domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Booking
	for _, b := range s.bookings {
		if b.Status == domain.BookingReserved && !b.CreatedAt.After(before) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func activeIn(bookings map[uuid.UUID]domain.Booking, itemID uuid.UUID) *domain.Booking {
	var latest *domain.Booking
	for _, b := range bookings {
		if b.ItemID != itemID || !b.Status.Active() {
			continue
		}
		if latest == nil || b.CreatedAt.After(latest.CreatedAt) {
			b := b
			latest = &b
		}
	}
	return latest
}

type memTx struct {
	items    map[uuid.UUID]domain.Item
	bookings map[uuid.UUID]domain.Booking
	events   []domain.BookingEvent
}

func (t *memTx) LockItem(ctx context.Context, id uuid.UUID) (domain.Item, error) {
	item, ok := t.items[id]
	if !ok {
		return domain.Item{}, domain.Wrap(domain.ErrNotFound, "item not found")
	}
	return item, nil
}

func (t *memTx) Booking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	b, ok := t.bookings[id]
	if !ok {
		return domain.Booking{}, domain.Wrap(domain.ErrNotFound, "booking not found")
	}
	return b, nil
}

func (t *memTx) LockBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	return t.Booking(ctx, id)
}

func (t *memTx) ActiveBooking(ctx context.Context, itemID uuid.UUID) (*domain.Booking, error) {
	return activeIn(t.bookings, itemID), nil
}

func (t *memTx) InsertBooking(ctx context.Context, b domain.Booking) error {
	if b.Status.Active() && activeIn(t.bookings, b.ItemID) != nil {
		return domain.Wrap(domain.ErrConflict, "item already has an active booking")
	}
	t.bookings[b.ID] = b
	return nil
}

func (t *memTx) SetBookingStatus(ctx context.Context, id uuid.UUID, status domain.BookingStatus, at time.Time) error {
	b, ok := t.bookings[id]
	if !ok {
		return domain.Wrap(domain.ErrNotFound, "booking not found")
	}
	b.Status = status
	b.UpdatedAt = at
	t.bookings[id] = b
	return nil
}

func (t *memTx) SetItemStatus(ctx context.Context, id uuid.UUID, status domain.ItemStatus, at time.Time) error {
	item, ok := t.items[id]
	if !ok {
		return domain.Wrap(domain.ErrNotFound, "item not found")
	}
	item.Status = status
	item.UpdatedAt = at
	t.items[id] = item
	return nil
}

func (t *memTx) AppendEvent(ctx context.Context, ev domain.BookingEvent) error {
	t.events = append(t.events, ev)
	return nil
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
	err  error
}

func (l *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
		return nil
	}, true, nil
}
