package booking

import (
	"context"

	"github.com/google/uuid"

	"github.com/robertarktes/campus-marketplace/internal/domain"
)

type Action string

const (
	ActionReserve Action = "reserve"
	ActionConfirm Action = "confirm"
	ActionCancel  Action = "cancel"
	ActionEdit    Action = "edit"
	ActionDelete  Action = "delete"
)

// ItemView is an item as seen by one viewer. Booking is only set for the
// seller and for the buyer holding it; everyone else sees the status alone.
type ItemView struct {
	Item    domain.Item
	Booking *domain.Booking
	Actions []Action
}

// View annotates the item for viewerID, which is uuid.Nil for anonymous requests.
func (e *Engine) View(ctx context.Context, itemID, viewerID uuid.UUID) (ItemView, error) {
	active, err := e.ActiveBooking(ctx, itemID)
	if err != nil {
		return ItemView{}, err
	}
	item, err := e.store.GetItem(ctx, itemID)
	if err != nil {
		return ItemView{}, err
	}
	return Annotate(item, active, viewerID), nil
}

// Annotate builds the view from an item and its active booking.
func Annotate(item domain.Item, active *domain.Booking, viewerID uuid.UUID) ItemView {
	item.Status = DeriveStatus(active)
	view := ItemView{Item: item}

	isOwner := viewerID != uuid.Nil && viewerID == item.OwnerID
	isBuyer := viewerID != uuid.Nil && active != nil && viewerID == active.BuyerID
	if isOwner || isBuyer {
		view.Booking = active
	}

	if viewerID == uuid.Nil {
		return view
	}
	switch {
	case isOwner:
		if item.Status == domain.ItemAvailable {
			view.Actions = append(view.Actions, ActionEdit)
		}
		if active != nil && active.Status == domain.BookingReserved {
			view.Actions = append(view.Actions, ActionConfirm)
		}
		if active != nil {
			view.Actions = append(view.Actions, ActionCancel)
		}
		if item.Status != domain.ItemReserved {
			view.Actions = append(view.Actions, ActionDelete)
		}
	case isBuyer:
		view.Actions = append(view.Actions, ActionCancel)
	case item.Status == domain.ItemAvailable:
		view.Actions = append(view.Actions, ActionReserve)
	}
	return view
}
