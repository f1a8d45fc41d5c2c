package http

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/robertarktes/campus-marketplace/internal/booking"
	"github.com/robertarktes/campus-marketplace/internal/catalog"
	"github.com/robertarktes/campus-marketplace/internal/domain"
	"github.com/robertarktes/campus-marketplace/internal/idempotency"
	"github.com/robertarktes/campus-marketplace/internal/media"
	"github.com/robertarktes/campus-marketplace/internal/observability"
)

// maxUploadBody leaves room for the multipart framing around the image.
const maxUploadBody = media.MaxUploadSize + 64<<10

type Identity interface {
	Register(ctx context.Context, email, name, password string) (domain.User, string, error)
	Login(ctx context.Context, email, password string) (domain.User, string, error)
	Authenticate(token string) (uuid.UUID, error)
	Me(ctx context.Context, userID uuid.UUID) (domain.User, error)
	UpdateProfile(ctx context.Context, userID uuid.UUID, name string, picture *string) (domain.User, error)
}

type Catalog interface {
	Create(ctx context.Context, ownerID uuid.UUID, d catalog.Draft) (domain.Item, error)
	Update(ctx context.Context, itemID, actorID uuid.UUID, p catalog.Patch) (domain.Item, error)
	Delete(ctx context.Context, itemID, actorID uuid.UUID) error
	List(ctx context.Context, f catalog.Filter) ([]catalog.Listing, error)
	MyItems(ctx context.Context, ownerID uuid.UUID) ([]catalog.Listing, error)
	MyPurchases(ctx context.Context, buyerID uuid.UUID) ([]catalog.Listing, error)
}

type Bookings interface {
	Reserve(ctx context.Context, itemID, buyerID uuid.UUID) (domain.Booking, error)
	Confirm(ctx context.Context, bookingID, actorID uuid.UUID) (domain.Booking, error)
	Cancel(ctx context.Context, bookingID, actorID uuid.UUID) (domain.Booking, error)
	View(ctx context.Context, itemID, viewerID uuid.UUID) (booking.ItemView, error)
}

type Comments interface {
	Post(ctx context.Context, itemID uuid.UUID, author domain.User, text string, parentID *uuid.UUID) (domain.Comment, error)
	List(ctx context.Context, itemID uuid.UUID) ([]domain.Comment, error)
}

// CommentPurger drops the thread of a deleted item.
type CommentPurger interface {
	DeleteByItem(ctx context.Context, itemID uuid.UUID) error
}

type Uploads interface {
	Save(r io.Reader) (string, error)
}

type Limiter interface {
	Allow(ctx context.Context, key string, rate int, period time.Duration) (bool, error)
}

type Replayer interface {
	Get(ctx context.Context, key string) (*idempotency.Response, error)
	Set(ctx context.Context, key string, resp idempotency.Response) error
	Begin(ctx context.Context, key string) (func(context.Context), error)
}

type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Deps wires the handlers. Limiter, Idempotency and CommentPurger are optional.
type Deps struct {
	Identity      Identity
	Catalog       Catalog
	Bookings      Bookings
	Comments      Comments
	CommentPurger CommentPurger
	Uploads       Uploads
	Limiter       Limiter
	Idempotency   Replayer
	Checks        map[string]HealthChecker
	Logger        observability.Logger
	Production    bool
}

type Handlers struct {
	identity   Identity
	catalog    Catalog
	bookings   Bookings
	comments   Comments
	purger     CommentPurger
	uploads    Uploads
	limiter    Limiter
	idemp      Replayer
	checks     map[string]HealthChecker
	logger     observability.Logger
	production bool
}

func NewHandlers(d Deps) *Handlers {
	logger := d.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Handlers{
		identity:   d.Identity,
		catalog:    d.Catalog,
		bookings:   d.Bookings,
		comments:   d.Comments,
		purger:     d.CommentPurger,
		uploads:    d.Uploads,
		limiter:    d.Limiter,
		idemp:      d.Idempotency,
		checks:     d.Checks,
		logger:     logger,
		production: d.Production,
	}
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, domain.Wrap(domain.ErrInvalidInput, "invalid "+name)
	}
	return id, nil
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"max=100"`
	Password string `json:"password" validate:"required"`
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[registerRequest](w, r)
	if !ok {
		return
	}
	u, token, err := h.identity.Register(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: toUser(u)})
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[loginRequest](w, r)
	if !ok {
		return
	}
	u, token, err := h.identity.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: toUser(u)})
}

func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.identity.Me(r.Context(), userID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUser(u))
}

type profileRequest struct {
	Name    string  `json:"name" validate:"max=100"`
	Picture *string `json:"picture" validate:"omitempty,max=2048"`
}

func (h *Handlers) UpdateMe(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[profileRequest](w, r)
	if !ok {
		return
	}
	u, err := h.identity.UpdateProfile(r.Context(), userID(r.Context()), req.Name, req.Picture)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUser(u))
}

func (h *Handlers) MyItems(w http.ResponseWriter, r *http.Request) {
	ls, err := h.catalog.MyItems(r.Context(), userID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toListings(ls, true))
}

func (h *Handlers) MyPurchases(w http.ResponseWriter, r *http.Request) {
	ls, err := h.catalog.MyPurchases(r.Context(), userID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toListings(ls, true))
}

func parseFilter(r *http.Request) (catalog.Filter, error) {
	q := r.URL.Query()
	f := catalog.Filter{
		Category: q.Get("category"),
		Search:   strings.TrimSpace(q.Get("search")),
	}
	if v := q.Get("max_price"); v != "" {
		p, err := decimal.NewFromString(v)
		if err != nil {
			return f, domain.Wrap(domain.ErrInvalidInput, "max_price must be a number")
		}
		f.MaxPrice = &p
	}
	for name, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, domain.Wrap(domain.ErrInvalidInput, name+" must be a non-negative integer")
		}
		*dst = n
	}
	return f, nil
}

func (h *Handlers) ListItems(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ls, err := h.catalog.List(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toListings(ls, false))
}

type createItemRequest struct {
	Title       string           `json:"title" validate:"required,max=200"`
	Description string           `json:"description" validate:"max=5000"`
	Price       *decimal.Decimal `json:"price" validate:"required"`
	Category    string           `json:"category" validate:"max=50"`
	ImageURL    string           `json:"image_url" validate:"max=2048"`
}

func (h *Handlers) CreateItem(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[createItemRequest](w, r)
	if !ok {
		return
	}
	item, err := h.catalog.Create(r.Context(), userID(r.Context()), catalog.Draft{
		Title:       req.Title,
		Description: req.Description,
		Price:       *req.Price,
		Category:    req.Category,
		ImageURL:    req.ImageURL,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItem(item))
}

// GetItem returns the item as the caller sees it, together with its comments.
func (h *Handlers) GetItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var (
		view     booking.ItemView
		comments []domain.Comment
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		view, err = h.bookings.View(ctx, id, userID(ctx))
		return err
	})
	g.Go(func() error {
		var err error
		comments, err = h.comments.List(ctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		h.writeError(w, r, err)
		return
	}

	actions := view.Actions
	if actions == nil {
		actions = []booking.Action{}
	}
	writeJSON(w, http.StatusOK, itemDetailResponse{
		Item:     toItem(view.Item),
		Booking:  toBookingPtr(view.Booking),
		Actions:  actions,
		Comments: toComments(comments),
	})
}

type updateItemRequest struct {
	Title       *string          `json:"title" validate:"omitempty,min=1,max=200"`
	Description *string          `json:"description" validate:"omitempty,max=5000"`
	Price       *decimal.Decimal `json:"price"`
	Category    *string          `json:"category" validate:"omitempty,max=50"`
	ImageURL    *string          `json:"image_url" validate:"omitempty,max=2048"`
}

func (h *Handlers) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	req, ok := decode[updateItemRequest](w, r)
	if !ok {
		return
	}
	item, err := h.catalog.Update(r.Context(), id, userID(r.Context()), catalog.Patch{
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		Category:    req.Category,
		ImageURL:    req.ImageURL,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItem(item))
}

func (h *Handlers) DeleteItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.catalog.Delete(r.Context(), id, userID(r.Context())); err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.purger != nil {
		if err := h.purger.DeleteByItem(r.Context(), id); err != nil {
			loggerFrom(r.Context(), h.logger).WithError(err).WithField("item_id", id).Warn("failed to delete item comments")
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) Reserve(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	b, err := h.bookings.Reserve(r.Context(), id, userID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBooking(b))
}

// ActiveBooking is visible to the seller and to the buyer holding it.
func (h *Handlers) ActiveBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	view, err := h.bookings.View(r.Context(), id, userID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if view.Booking == nil {
		writeJSON(w, http.StatusOK, map[string]any{"booking": nil, "status": view.Item.Status})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"booking": toBooking(*view.Booking), "status": view.Item.Status})
}

func (h *Handlers) Confirm(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.bookings.Confirm)
}

func (h *Handlers) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.bookings.Cancel)
}

func (h *Handlers) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, bookingID, actorID uuid.UUID) (domain.Booking, error)) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	b, err := fn(r.Context(), id, userID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBooking(b))
}

func (h *Handlers) ListComments(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	cs, err := h.comments.List(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toComments(cs))
}

type commentRequest struct {
	Text     string     `json:"text" validate:"required,max=2000"`
	ParentID *uuid.UUID `json:"parent_id"`
}

func (h *Handlers) PostComment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	req, ok := decode[commentRequest](w, r)
	if !ok {
		return
	}
	author, err := h.identity.Me(r.Context(), userID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.comments.Post(r.Context(), id, author, req.Text, req.ParentID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toComment(c))
}

// Upload accepts a multipart "file" field and returns the stored image URL.
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	file, _, err := r.FormFile("file")
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		h.writeError(w, r, domain.Wrap(domain.ErrInvalidInput, "image is larger than 5MB"))
		return
	}
	if err != nil {
		h.writeError(w, r, domain.Wrap(domain.ErrInvalidInput, "multipart field \"file\" is required"))
		return
	}
	defer file.Close()

	url, err := h.uploads.Save(file)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"url": url})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz pings every dependency concurrently and reports each one.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	errs := make([]error, len(h.checks))
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}

	var g errgroup.Group
	for i, name := range names {
		check := h.checks[name]
		g.Go(func() error {
			errs[i] = check.Ping(ctx)
			return nil
		})
	}
	_ = g.Wait()

	status := http.StatusOK
	for i, name := range names {
		results[name] = "ok"
		if errs[i] != nil {
			results[name] = "unreachable"
			status = http.StatusServiceUnavailable
			loggerFrom(r.Context(), h.logger).WithError(errs[i]).WithField("dependency", name).Warn("readiness check failed")
		}
	}
	writeJSON(w, status, results)
}
