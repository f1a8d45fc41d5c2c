package crdb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/robertarktes/campus-marketplace/internal/catalog"
	"github.com/robertarktes/campus-marketplace/internal/domain"
)

const activeJoin = `LEFT JOIN bookings b ON b.item_id = i.id AND b.status IN ('RESERVED', 'CONFIRMED')`

const listingColumns = itemColumns + `, b.id, b.buyer_id, b.quantity, b.status, b.created_at, b.updated_at`

var _ catalog.Store = (*Repository)(nil)

func (r *Repository) GetItem(ctx context.Context, id uuid.UUID) (domain.Item, error) {
	item, err := scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items i WHERE i.id = $1`, id))
	return item, notFound(err, "item")
}

func (r *Repository) InsertItem(ctx context.Context, item domain.Item) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO items (id, owner_id, title, description, price, category, image_url, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::DECIMAL, $6, $7, $8, $9, $10)
	`, item.ID, item.OwnerID, item.Title, item.Description, item.Price.String(), item.Category, item.ImageURL,
		string(item.Status), item.CreatedAt, item.UpdatedAt)
	return mapError(err)
}

// UpdateItem locks the item, lets fn decide the new field values and writes them.
// Status is never written here.
func (r *Repository) UpdateItem(ctx context.Context, id uuid.UUID, fn func(item domain.Item, active *domain.Booking) (domain.Item, error)) (domain.Item, error) {
	var updated domain.Item
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		btx := &bookingTx{tx: tx}
		item, err := btx.LockItem(ctx, id)
		if err != nil {
			return err
		}
		active, err := btx.ActiveBooking(ctx, id)
		if err != nil {
			return err
		}
		updated, err = fn(item, active)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE items SET title = $2, description = $3, price = $4::DECIMAL, category = $5, image_url = $6, updated_at = $7
			WHERE id = $1
		`, id, updated.Title, updated.Description, updated.Price.String(), updated.Category, updated.ImageURL, updated.UpdatedAt)
		return err
	})
	return updated, err
}

// DeleteItem locks the item and deletes it if check allows. Bookings cascade.
func (r *Repository) DeleteItem(ctx context.Context, id uuid.UUID, check func(item domain.Item, active *domain.Booking) error) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		btx := &bookingTx{tx: tx}
		item, err := btx.LockItem(ctx, id)
		if err != nil {
			return err
		}
		active, err := btx.ActiveBooking(ctx, id)
		if err != nil {
			return err
		}
		if err := check(item, active); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `DELETE FROM items WHERE id = $1`, id)
		return err
	})
}

// ListItems returns unsold items matching the filter, newest first.
func (r *Repository) ListItems(ctx context.Context, f catalog.Filter) ([]catalog.Listing, error) {
	var maxPrice *string
	if f.MaxPrice != nil {
		s := f.MaxPrice.String()
		maxPrice = &s
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+listingColumns+`
		FROM items i `+activeJoin+`
		WHERE (b.status IS NULL OR b.status <> 'CONFIRMED')
		  AND ($1 = '' OR i.category = $1)
		  AND ($2 = '' OR i.title ILIKE '%' || $2 || '%' OR i.description ILIKE '%' || $2 || '%')
		  AND ($3::DECIMAL IS NULL OR i.price <= $3::DECIMAL)
		ORDER BY i.created_at DESC
		LIMIT $4 OFFSET $5
	`, f.Category, f.Search, maxPrice, f.Limit, f.Offset)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanListing)
}

func (r *Repository) ItemsByOwner(ctx context.Context, ownerID uuid.UUID) ([]catalog.Listing, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+listingColumns+`
		FROM items i `+activeJoin+`
		WHERE i.owner_id = $1
		ORDER BY i.created_at DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanListing)
}

func (r *Repository) PurchasesOf(ctx context.Context, buyerID uuid.UUID) ([]catalog.Listing, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+listingColumns+`
		FROM items i
		JOIN bookings b ON b.item_id = i.id AND b.status IN ('RESERVED', 'CONFIRMED')
		WHERE b.buyer_id = $1
		ORDER BY b.created_at DESC
	`, buyerID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanListing)
}

func scanItem(row pgx.Row) (domain.Item, error) {
	var item domain.Item
	var price, status string
	err := row.Scan(&item.ID, &item.OwnerID, &item.Title, &item.Description, &price, &item.Category,
		&item.ImageURL, &status, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return domain.Item{}, err
	}
	item.Status = domain.ItemStatus(status)
	item.Price, err = decimal.NewFromString(price)
	return item, err
}

func scanListing(row pgx.CollectableRow) (catalog.Listing, error) {
	var (
		item                 domain.Item
		price, status        string
		bookingID, buyerID   *uuid.UUID
		quantity             *int
		bookingStatus        *string
		createdAt, updatedAt *time.Time
	)
	err := row.Scan(&item.ID, &item.OwnerID, &item.Title, &item.Description, &price, &item.Category,
		&item.ImageURL, &status, &item.CreatedAt, &item.UpdatedAt,
		&bookingID, &buyerID, &quantity, &bookingStatus, &createdAt, &updatedAt)
	if err != nil {
		return catalog.Listing{}, err
	}
	item.Status = domain.ItemStatus(status)
	if item.Price, err = decimal.NewFromString(price); err != nil {
		return catalog.Listing{}, err
	}

	listing := catalog.Listing{Item: item}
	if bookingID != nil {
		listing.Booking = &domain.Booking{
			ID:        *bookingID,
			ItemID:    item.ID,
			BuyerID:   *buyerID,
			Quantity:  *quantity,
			Status:    domain.BookingStatus(*bookingStatus),
			CreatedAt: *createdAt,
			UpdatedAt: *updatedAt,
		}
	}
	return listing, nil
}
