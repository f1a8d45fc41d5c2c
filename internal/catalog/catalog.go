package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/robertarktes/campus-marketplace/internal/booking"
	"github.com/robertarktes/campus-marketplace/internal/domain"
	"github.com/robertarktes/campus-marketplace/internal/observability"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100

	// CategoryAll disables the category filter.
	CategoryAll = "all"
)

type Filter struct {
	Category string
	Search   string
	MaxPrice *decimal.Decimal
	Limit    int
	Offset   int
}

// Listing is an item together with its active booking, if any.
type Listing struct {
	Item    domain.Item
	Booking *domain.Booking
}

type Store interface {
	InsertItem(ctx context.Context, item domain.Item) error
	UpdateItem(ctx context.Context, id uuid.UUID, fn func(item domain.Item, active *domain.Booking) (domain.Item, error)) (domain.Item, error)
	DeleteItem(ctx context.Context, id uuid.UUID, check func(item domain.Item, active *domain.Booking) error) error
	ListItems(ctx context.Context, f Filter) ([]Listing, error)
	ItemsByOwner(ctx context.Context, ownerID uuid.UUID) ([]Listing, error)
	PurchasesOf(ctx context.Context, buyerID uuid.UUID) ([]Listing, error)
}

// Draft holds the fields of a new listing.
type Draft struct {
	Title       string
	Description string
	Price       decimal.Decimal
	Category    string
	ImageURL    string
}

// Patch holds the fields to change. Nil fields are left alone.
type Patch struct {
	Title       *string
	Description *string
	Price       *decimal.Decimal
	Category    *string
	ImageURL    *string
}

type Service struct {
	store  Store
	logger observability.Logger
	now    func() time.Time
}

func NewService(store Store, logger observability.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger.WithField("component", "catalog"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Create(ctx context.Context, ownerID uuid.UUID, d Draft) (domain.Item, error) {
	item, err := domain.NewItem(ownerID, d.Title, d.Description, d.Price, d.Category, d.ImageURL, s.now())
	if err != nil {
		return domain.Item{}, err
	}
	if err := s.store.InsertItem(ctx, item); err != nil {
		return domain.Item{}, err
	}
	s.logger.WithField("item_id", item.ID).Info("item listed")
	return item, nil
}

// Update edits an item. Only the owner may edit, and only while nobody holds it.
func (s *Service) Update(ctx context.Context, itemID, actorID uuid.UUID, p Patch) (domain.Item, error) {
	updated, err := s.store.UpdateItem(ctx, itemID, func(item domain.Item, active *domain.Booking) (domain.Item, error) {
		if item.OwnerID != actorID {
			return domain.Item{}, domain.Wrap(domain.ErrForbidden, "only the seller can edit this item")
		}
		if booking.DeriveStatus(active) != domain.ItemAvailable {
			return domain.Item{}, domain.Wrap(domain.ErrInvalidState, "item can only be edited while available")
		}
		if p.Title != nil {
			item.Title = strings.TrimSpace(*p.Title)
		}
		if p.Description != nil {
			item.Description = strings.TrimSpace(*p.Description)
		}
		if p.Price != nil {
			item.Price = *p.Price
		}
		if p.Category != nil {
			item.Category = domain.NormalizeCategory(*p.Category)
		}
		if p.ImageURL != nil {
			item.ImageURL = *p.ImageURL
		}
		if err := item.Validate(); err != nil {
			return domain.Item{}, err
		}
		item.UpdatedAt = s.now()
		item.Status = domain.ItemAvailable
		return item, nil
	})
	if err != nil {
		return domain.Item{}, err
	}
	s.logger.WithField("item_id", itemID).Info("item updated")
	return updated, nil
}

// Delete removes an item with its booking history. An item with a pending
// reservation cannot be deleted; the reservation has to be cancelled first.
func (s *Service) Delete(ctx context.Context, itemID, actorID uuid.UUID) error {
	err := s.store.DeleteItem(ctx, itemID, func(item domain.Item, active *domain.Booking) error {
		if item.OwnerID != actorID {
			return domain.Wrap(domain.ErrForbidden, "only the seller can delete this item")
		}
		if booking.DeriveStatus(active) == domain.ItemReserved {
			return domain.Wrap(domain.ErrInvalidState, "cancel the reservation before deleting this item")
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.WithField("item_id", itemID).Info("item deleted")
	return nil
}

// List returns unsold items, newest first.
func (s *Service) List(ctx context.Context, f Filter) ([]Listing, error) {
	f.Category = domain.NormalizeCategory(f.Category)
	if f.Category == CategoryAll {
		f.Category = ""
	}
	f.Search = strings.TrimSpace(f.Search)
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.MaxPrice != nil && f.MaxPrice.IsNegative() {
		return nil, domain.Wrap(domain.ErrInvalidInput, "max_price must not be negative")
	}

	listings, err := s.store.ListItems(ctx, f)
	if err != nil {
		return nil, err
	}
	return derive(listings), nil
}

func (s *Service) MyItems(ctx context.Context, ownerID uuid.UUID) ([]Listing, error) {
	listings, err := s.store.ItemsByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return derive(listings), nil
}

// MyPurchases returns the items the buyer currently holds or has bought.
func (s *Service) MyPurchases(ctx context.Context, buyerID uuid.UUID) ([]Listing, error) {
	listings, err := s.store.PurchasesOf(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	return derive(listings), nil
}

func derive(listings []Listing) []Listing {
	for i := range listings {
		listings[i].Item.Status = booking.DeriveStatus(listings[i].Booking)
	}
	return listings
}
