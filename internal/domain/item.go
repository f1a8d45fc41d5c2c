package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NewItem normalizes the listing fields and validates them. The item starts AVAILABLE.
func NewItem(ownerID uuid.UUID, title, description string, price decimal.Decimal, category, imageURL string, now time.Time) (Item, error) {
	item := Item{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		Title:       strings.TrimSpace(title),
		Description: strings.TrimSpace(description),
		Price:       price,
		Category:    NormalizeCategory(category),
		ImageURL:    imageURL,
		Status:      ItemAvailable,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := item.Validate(); err != nil {
		return Item{}, err
	}
	return item, nil
}

func (i Item) Validate() error {
	if i.OwnerID == uuid.Nil {
		return Wrap(ErrInvalidInput, "owner is required")
	}
	if i.Title == "" {
		return Wrap(ErrInvalidInput, "title is required")
	}
	if i.Price.IsNegative() {
		return Wrap(ErrInvalidInput, "price must not be negative")
	}
	return nil
}

func NormalizeCategory(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}
