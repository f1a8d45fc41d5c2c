package booking

import "github.com/robertarktes/campus-marketplace/internal/domain"

// StatusFor maps the status of an item's active booking to the item status.
// An empty status means the item has no active booking.
// This is the only place item availability is derived; every read path goes through it.
func StatusFor(active domain.BookingStatus) domain.ItemStatus {
	switch active {
	case domain.BookingReserved:
		return domain.ItemReserved
	case domain.BookingConfirmed:
		return domain.ItemSold
	default:
		return domain.ItemAvailable
	}
}

func DeriveStatus(active *domain.Booking) domain.ItemStatus {
	if active == nil {
		return domain.ItemAvailable
	}
	return StatusFor(active.Status)
}

var transitions = map[domain.BookingStatus][]domain.BookingStatus{
	domain.BookingReserved:  {domain.BookingConfirmed, domain.BookingCancelled},
	domain.BookingConfirmed: {domain.BookingCancelled},
	domain.BookingCancelled: {},
}

func canTransition(from, to domain.BookingStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
