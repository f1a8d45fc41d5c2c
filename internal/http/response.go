package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/robertarktes/campus-marketplace/internal/booking"
	"github.com/robertarktes/campus-marketplace/internal/catalog"
	"github.com/robertarktes/campus-marketplace/internal/domain"
	"github.com/robertarktes/campus-marketplace/internal/idempotency"
)

type errorResponse struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf maps err to an HTTP status and a stable machine-readable code.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, idempotency.ErrInFlight):
		return http.StatusConflict, "request_in_progress"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		loggerFrom(r.Context(), h.logger).WithError(err).Error("request failed")
		if h.production {
			msg = "internal server error"
		}
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

type userResponse struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Picture   string    `json:"picture,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toUser(u domain.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, Name: u.Name, Picture: u.Picture, CreatedAt: u.CreatedAt}
}

type authResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type itemResponse struct {
	ID          uuid.UUID `json:"id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Price       string    `json:"price"`
	Category    string    `json:"category"`
	ImageURL    string    `json:"image_url,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toItem(it domain.Item) itemResponse {
	return itemResponse{
		ID:          it.ID,
		OwnerID:     it.OwnerID,
		Title:       it.Title,
		Description: it.Description,
		Price:       it.Price.StringFixed(2),
		Category:    it.Category,
		ImageURL:    it.ImageURL,
		Status:      string(it.Status),
		CreatedAt:   it.CreatedAt,
		UpdatedAt:   it.UpdatedAt,
	}
}

type bookingResponse struct {
	ID        uuid.UUID `json:"id"`
	ItemID    uuid.UUID `json:"item_id"`
	BuyerID   uuid.UUID `json:"buyer_id"`
	Quantity  int       `json:"quantity"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toBooking(b domain.Booking) bookingResponse {
	return bookingResponse{
		ID:        b.ID,
		ItemID:    b.ItemID,
		BuyerID:   b.BuyerID,
		Quantity:  b.Quantity,
		Status:    string(b.Status),
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
}

func toBookingPtr(b *domain.Booking) *bookingResponse {
	if b == nil {
		return nil
	}
	out := toBooking(*b)
	return &out
}

type listingResponse struct {
	itemResponse
	Booking *bookingResponse `json:"booking,omitempty"`
}

// toListings renders listings. withBooking is false on public listings so other
// buyers never see who holds an item.
func toListings(ls []catalog.Listing, withBooking bool) []listingResponse {
	out := make([]listingResponse, 0, len(ls))
	for _, l := range ls {
		lr := listingResponse{itemResponse: toItem(l.Item)}
		if withBooking {
			lr.Booking = toBookingPtr(l.Booking)
		}
		out = append(out, lr)
	}
	return out
}

type commentResponse struct {
	ID        uuid.UUID  `json:"id"`
	ItemID    uuid.UUID  `json:"item_id"`
	UserID    uuid.UUID  `json:"user_id"`
	UserName  string     `json:"user_name"`
	Text      string     `json:"text"`
	ParentID  *uuid.UUID `json:"parent_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func toComment(c domain.Comment) commentResponse {
	return commentResponse{
		ID:        c.ID,
		ItemID:    c.ItemID,
		UserID:    c.UserID,
		UserName:  c.UserName,
		Text:      c.Text,
		ParentID:  c.ParentID,
		CreatedAt: c.CreatedAt,
	}
}

func toComments(cs []domain.Comment) []commentResponse {
	out := make([]commentResponse, 0, len(cs))
	for _, c := range cs {
		out = append(out, toComment(c))
	}
	return out
}

type itemDetailResponse struct {
	Item     itemResponse      `json:"item"`
	Booking  *bookingResponse  `json:"booking,omitempty"`
	Actions  []booking.Action  `json:"actions"`
	Comments []commentResponse `json:"comments"`
}
