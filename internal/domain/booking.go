package domain

import (
	"time"

	"github.com/google/uuid"
)

// NewBooking returns a fresh reservation of a single unit of the item.
func NewBooking(itemID, buyerID uuid.UUID, now time.Time) Booking {
	return Booking{
		ID:        uuid.New(),
		ItemID:    itemID,
		BuyerID:   buyerID,
		Quantity:  1,
		Status:    BookingReserved,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func NewBookingEvent(typ EventType, b Booking, ownerID, actorID uuid.UUID, now time.Time) BookingEvent {
	return BookingEvent{
		ID:         uuid.New(),
		Type:       typ,
		BookingID:  b.ID,
		ItemID:     b.ItemID,
		BuyerID:    b.BuyerID,
		OwnerID:    ownerID,
		ActorID:    actorID,
		Status:     b.Status,
		OccurredAt: now,
	}
}
