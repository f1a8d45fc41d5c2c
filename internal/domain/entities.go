package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ItemStatus string

const (
	ItemAvailable ItemStatus = "AVAILABLE"
	ItemReserved  ItemStatus = "RESERVED"
	ItemSold      ItemStatus = "SOLD"
)

type BookingStatus string

const (
	BookingReserved  BookingStatus = "RESERVED"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
)

// Active reports whether the booking holds the item.
func (s BookingStatus) Active() bool {
	return s == BookingReserved || s == BookingConfirmed
}

type User struct {
	ID           uuid.UUID
	Email        string
	Name         string
	PasswordHash string
	Picture      string
	CreatedAt    time.Time
}

type Item struct {
	ID          uuid.UUID
	OwnerID     uuid.UUID
	Title       string
	Description string
	Price       decimal.Decimal
	Category    string
	ImageURL    string
	Status      ItemStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Booking struct {
	ID        uuid.UUID
	ItemID    uuid.UUID
	BuyerID   uuid.UUID
	Quantity  int
	Status    BookingStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Comment struct {
	ID        uuid.UUID
	ItemID    uuid.UUID
	UserID    uuid.UUID
	UserName  string
	Text      string
	ParentID  *uuid.UUID
	CreatedAt time.Time
}

type EventType string

const (
	EventBookingReserved  EventType = "booking.reserved"
	EventBookingConfirmed EventType = "booking.confirmed"
	EventBookingCancelled EventType = "booking.cancelled"
	EventBookingExpired   EventType = "booking.expired"
)

// BookingEvent is written to the outbox in the same transaction as the transition it describes.
type BookingEvent struct {
	ID         uuid.UUID     `json:"event_id"`
	Type       EventType     `json:"type"`
	BookingID  uuid.UUID     `json:"booking_id"`
	ItemID     uuid.UUID     `json:"item_id"`
	BuyerID    uuid.UUID     `json:"buyer_id"`
	OwnerID    uuid.UUID     `json:"owner_id"`
	ActorID    uuid.UUID     `json:"actor_id"`
	Status     BookingStatus `json:"status"`
	OccurredAt time.Time     `json:"occurred_at"`
}
