package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/robertarktes/campus-marketplace/internal/booking"
	"github.com/robertarktes/campus-marketplace/internal/catalog"
	"github.com/robertarktes/campus-marketplace/internal/domain"
	"github.com/robertarktes/campus-marketplace/internal/idempotency"
)

type fakeIdentity struct {
	users map[uuid.UUID]domain.User
}

func (f *fakeIdentity) token(id uuid.UUID) string { return "tok-" + id.String() }

func (f *fakeIdentity) Register(_ context.Context, email, name, _ string) (domain.User, string, error) {
	if !strings.HasSuffix(email, "@ku.edu.np") {
		return domain.User{}, "", domain.Wrap(domain.ErrForbidden, "email domain not allowed")
	}
	u := domain.User{ID: uuid.New(), Email: email, Name: name}
	f.users[u.ID] = u
	return u, f.token(u.ID), nil
}

func (f *fakeIdentity) Login(_ context.Context, email, _ string) (domain.User, string, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, f.token(u.ID), nil
		}
	}
	return domain.User{}, "", domain.ErrNotFound
}

func (f *fakeIdentity) Authenticate(token string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimPrefix(token, "tok-"))
	if err != nil {
		return uuid.Nil, domain.ErrUnauthorized
	}
	if _, ok := f.users[id]; !ok {
		return uuid.Nil, domain.ErrUnauthorized
	}
	return id, nil
}

func (f *fakeIdentity) Me(_ context.Context, id uuid.UUID) (domain.User, error) {
	u, ok := f.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (f *fakeIdentity) UpdateProfile(_ context.Context, id uuid.UUID, name string, picture *string) (domain.User, error) {
	u := f.users[id]
	if name != "" {
		u.Name = name
	}
	if picture != nil {
		u.Picture = *picture
	}
	f.users[id] = u
	return u, nil
}

type fakeCatalog struct {
	lastFilter catalog.Filter
	listings   []catalog.Listing
	created    []catalog.Draft
	deleted    []uuid.UUID
	err        error
}

func (f *fakeCatalog) Create(_ context.Context, ownerID uuid.UUID, d catalog.Draft) (domain.Item, error) {
	if f.err != nil {
		return domain.Item{}, f.err
	}
	f.created = append(f.created, d)
	return domain.NewItem(ownerID, d.Title, d.Description, d.Price, d.Category, d.ImageURL, time.Now())
}

func (f *fakeCatalog) Update(_ context.Context, itemID, _ uuid.UUID, _ catalog.Patch) (domain.Item, error) {
	return domain.Item{ID: itemID}, f.err
}

func (f *fakeCatalog) Delete(_ context.Context, itemID, _ uuid.UUID) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, itemID)
	return nil
}

func (f *fakeCatalog) List(_ context.Context, flt catalog.Filter) ([]catalog.Listing, error) {
	f.lastFilter = flt
	return f.listings, f.err
}

func (f *fakeCatalog) MyItems(context.Context, uuid.UUID) ([]catalog.Listing, error) {
	return f.listings, f.err
}

func (f *fakeCatalog) MyPurchases(context.Context, uuid.UUID) ([]catalog.Listing, error) {
	return f.listings, f.err
}

type fakeBookings struct {
	mu       sync.Mutex
	reserves int
	err      error
	view     booking.ItemView
}

func (f *fakeBookings) Reserve(_ context.Context, itemID, buyerID uuid.UUID) (domain.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserves++
	if f.err != nil {
		return domain.Booking{}, f.err
	}
	return domain.NewBooking(itemID, buyerID, time.Now()), nil
}

func (f *fakeBookings) Confirm(_ context.Context, id, _ uuid.UUID) (domain.Booking, error) {
	return domain.Booking{ID: id, Status: domain.BookingConfirmed, Quantity: 1}, f.err
}

func (f *fakeBookings) Cancel(_ context.Context, id, _ uuid.UUID) (domain.Booking, error) {
	return domain.Booking{ID: id, Status: domain.BookingCancelled, Quantity: 1}, f.err
}

func (f *fakeBookings) View(_ context.Context, itemID, viewerID uuid.UUID) (booking.ItemView, error) {
	if f.err != nil {
		return booking.ItemView{}, f.err
	}
	v := f.view
	v.Item.ID = itemID
	return v, nil
}

type fakeComments struct {
	list []domain.Comment
}

func (f *fakeComments) Post(_ context.Context, itemID uuid.UUID, author domain.User, text string, parentID *uuid.UUID) (domain.Comment, error) {
	c := domain.Comment{ID: uuid.New(), ItemID: itemID, UserID: author.ID, UserName: author.Name, Text: text, ParentID: parentID}
	f.list = append(f.list, c)
	return c, nil
}

func (f *fakeComments) List(context.Context, uuid.UUID) ([]domain.Comment, error) {
	return f.list, nil
}

type fakePurger struct{ items []uuid.UUID }

func (f *fakePurger) DeleteByItem(_ context.Context, id uuid.UUID) error {
	f.items = append(f.items, id)
	return nil
}

type fakeUploads struct{ got []byte }

func (f *fakeUploads) Save(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	f.got = data
	return "/uploads/x.jpg", err
}

type fakeLimiter struct{ allow bool }

func (f *fakeLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return f.allow, nil
}

type memReplayer struct {
	mu       sync.Mutex
	stored   map[string]idempotency.Response
	inFlight map[string]bool
}

func newMemReplayer() *memReplayer {
	return &memReplayer{stored: map[string]idempotency.Response{}, inFlight: map[string]bool{}}
}

func (m *memReplayer) Get(_ context.Context, key string) (*idempotency.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.stored[key]; ok {
		return &r, nil
	}
	return nil, nil
}

func (m *memReplayer) Set(_ context.Context, key string, resp idempotency.Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored[key] = resp
	return nil
}

func (m *memReplayer) Begin(_ context.Context, key string) (func(context.Context), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight[key] {
		return nil, idempotency.ErrInFlight
	}
	m.inFlight[key] = true
	return func(context.Context) {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.inFlight, key)
	}, nil
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type harness struct {
	identity *fakeIdentity
	catalog  *fakeCatalog
	bookings *fakeBookings
	comments *fakeComments
	purger   *fakePurger
	uploads  *fakeUploads
	limiter  *fakeLimiter
	idemp    *memReplayer
	checks   map[string]HealthChecker
	router   http.Handler
	user     domain.User
}

func newHarness(t *testing.T, opts ...func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		identity: &fakeIdentity{users: map[uuid.UUID]domain.User{}},
		catalog:  &fakeCatalog{},
		bookings: &fakeBookings{},
		comments: &fakeComments{},
		purger:   &fakePurger{},
		uploads:  &fakeUploads{},
		limiter:  &fakeLimiter{allow: true},
		idemp:    newMemReplayer(),
		checks:   map[string]HealthChecker{"crdb": pinger{}, "redis": pinger{}},
	}
	h.user = domain.User{ID: uuid.New(), Email: "sita@ku.edu.np", Name: "sita"}
	h.identity.users[h.user.ID] = h.user

	deps := Deps{
		Identity:      h.identity,
		Catalog:       h.catalog,
		Bookings:      h.bookings,
		Comments:      h.comments,
		CommentPurger: h.purger,
		Uploads:       h.uploads,
		Limiter:       h.limiter,
		Idempotency:   h.idemp,
		Checks:        h.checks,
	}
	for _, o := range opts {
		o(&deps)
	}
	h.router = SetupRouter(NewHandlers(deps), RouterOptions{UserRate: 10, IPRate: 10})
	return h
}

func (h *harness) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func (h *harness) auth() []string {
	return []string{"Authorization", "Bearer " + h.identity.token(h.user.ID)}
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("invalid JSON body %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err      error
		status   int
		wantCode string
	}{
		{domain.ErrNotFound, http.StatusNotFound, "not_found"},
		{domain.Wrap(domain.ErrForbidden, "not yours"), http.StatusForbidden, "forbidden"},
		{errors.Wrap(domain.ErrInvalidState, "confirm"), http.StatusConflict, "invalid_state"},
		{domain.ErrConflict, http.StatusConflict, "conflict"},
		{domain.ErrAlreadyExists, http.StatusConflict, "already_exists"},
		{domain.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
		{domain.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{idempotency.ErrInFlight, http.StatusConflict, "request_in_progress"},
		{errors.New("db down"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			status, code := statusOf(tt.err)
			if status != tt.status || code != tt.wantCode {
				t.Errorf("expected %d %s, got %d %s", tt.status, tt.wantCode, status, code)
			}
		})
	}
}

func TestRouter_Auth(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name    string
		headers []string
		want    int
	}{
		{"missing token", nil, http.StatusUnauthorized},
		{"not bearer", []string{"Authorization", "Basic abc"}, http.StatusUnauthorized},
		{"unknown token", []string{"Authorization", "Bearer tok-" + uuid.NewString()}, http.StatusUnauthorized},
		{"valid token", h.auth(), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, http.MethodGet, "/v1/me", "", tt.headers...)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRegister(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/v1/auth/register", `{"email":"ram@ku.edu.np","password":"secret1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[authResponse](t, rec)
	if resp.Token == "" || resp.User.Email != "ram@ku.edu.np" {
		t.Errorf("unexpected response %+v", resp)
	}

	rec = h.do(t, http.MethodPost, "/v1/auth/register", `{"email":"ram@gmail.com","password":"secret1"}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for outside domain, got %d", rec.Code)
	}

	rec = h.do(t, http.MethodPost, "/v1/auth/register", `{"email":"not-an-email","password":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	body := decodeBody[errorResponse](t, rec)
	if body.Fields["email"] == "" || body.Fields["password"] == "" {
		t.Errorf("expected field errors for email and password, got %v", body.Fields)
	}
}

func TestCreateItem(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/v1/items", `{"title":"Calculus textbook","price":"12.50","category":"Books"}`, h.auth()...)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	item := decodeBody[itemResponse](t, rec)
	if item.Price != "12.50" || item.Category != "books" || item.Status != string(domain.ItemAvailable) {
		t.Errorf("unexpected item %+v", item)
	}
	if item.OwnerID != h.user.ID {
		t.Errorf("expected owner %s, got %s", h.user.ID, item.OwnerID)
	}

	rec = h.do(t, http.MethodPost, "/v1/items", `{"price":10}`, h.auth()...)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without title, got %d", rec.Code)
	}
	if body := decodeBody[errorResponse](t, rec); body.Fields["title"] == "" {
		t.Errorf("expected title field error, got %v", body.Fields)
	}

	rec = h.do(t, http.MethodPost, "/v1/items", `{"title":"x",`, h.auth()...)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 on malformed JSON, got %d", rec.Code)
	}
}

func TestListItems(t *testing.T) {
	h := newHarness(t)
	buyer := uuid.New()
	active := domain.NewBooking(uuid.New(), buyer, time.Now())
	h.catalog.listings = []catalog.Listing{{
		Item:    domain.Item{ID: active.ItemID, Title: "Lamp", Price: decimal.NewFromInt(5), Status: domain.ItemReserved},
		Booking: &active,
	}}

	rec := h.do(t, http.MethodGet, "/v1/items?category=books&search=+calc+&max_price=20.5&limit=10&offset=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	f := h.catalog.lastFilter
	if f.Category != "books" || f.Search != "calc" || f.Limit != 10 || f.Offset != 5 {
		t.Errorf("unexpected filter %+v", f)
	}
	if f.MaxPrice == nil || !f.MaxPrice.Equal(decimal.RequireFromString("20.5")) {
		t.Errorf("unexpected max price %v", f.MaxPrice)
	}

	var rows []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0]["status"] != "RESERVED" {
		t.Fatalf("unexpected rows %v", rows)
	}
	if _, leaked := rows[0]["booking"]; leaked {
		t.Error("public listing exposed the booking")
	}

	for _, q := range []string{"max_price=abc", "limit=-1", "offset=x"} {
		if rec := h.do(t, http.MethodGet, "/v1/items?"+q, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, rec.Code)
		}
	}
}

func TestMyItemsIncludesBooking(t *testing.T) {
	h := newHarness(t)
	active := domain.NewBooking(uuid.New(), uuid.New(), time.Now())
	h.catalog.listings = []catalog.Listing{{Item: domain.Item{ID: active.ItemID, Status: domain.ItemReserved}, Booking: &active}}

	rec := h.do(t, http.MethodGet, "/v1/me/items", "", h.auth()...)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	rows := decodeBody[[]listingResponse](t, rec)
	if len(rows) != 1 || rows[0].Booking == nil || rows[0].Booking.BuyerID != active.BuyerID {
		t.Errorf("expected seller to see the buyer, got %+v", rows)
	}
}

func TestGetItem(t *testing.T) {
	h := newHarness(t)
	h.bookings.view = booking.ItemView{
		Item:    domain.Item{Title: "Bike", Status: domain.ItemAvailable, Price: decimal.NewFromInt(100)},
		Actions: []booking.Action{booking.ActionReserve},
	}
	h.comments.list = []domain.Comment{{ID: uuid.New(), Text: "still available?"}}

	id := uuid.New()
	rec := h.do(t, http.MethodGet, "/v1/items/"+id.String(), "", h.auth()...)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[itemDetailResponse](t, rec)
	if resp.Item.ID != id || len(resp.Actions) != 1 || resp.Actions[0] != booking.ActionReserve {
		t.Errorf("unexpected detail %+v", resp)
	}
	if len(resp.Comments) != 1 || resp.Comments[0].Text != "still available?" {
		t.Errorf("unexpected comments %+v", resp.Comments)
	}

	if rec := h.do(t, http.MethodGet, "/v1/items/not-a-uuid", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad id, got %d", rec.Code)
	}

	h.bookings.err = domain.ErrNotFound
	if rec := h.do(t, http.MethodGet, "/v1/items/"+id.String(), ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestReserve_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		want     int
		wantCode string
	}{
		{"ok", nil, http.StatusCreated, ""},
		{"own item", domain.ErrForbidden, http.StatusForbidden, "forbidden"},
		{"not available", domain.ErrInvalidState, http.StatusConflict, "invalid_state"},
		{"lost race", domain.ErrConflict, http.StatusConflict, "conflict"},
		{"unknown item", domain.ErrNotFound, http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.bookings.err = tt.err
			rec := h.do(t, http.MethodPost, "/v1/items/"+uuid.NewString()+"/reserve", "", h.auth()...)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
			if tt.wantCode != "" {
				if body := decodeBody[errorResponse](t, rec); body.Code != tt.wantCode {
					t.Errorf("expected code %s, got %s", tt.wantCode, body.Code)
				}
				return
			}
			b := decodeBody[bookingResponse](t, rec)
			if b.BuyerID != h.user.ID || b.Status != string(domain.BookingReserved) || b.Quantity != 1 {
				t.Errorf("unexpected booking %+v", b)
			}
		})
	}
}

func TestConfirmCancel(t *testing.T) {
	h := newHarness(t)
	id := uuid.New()

	rec := h.do(t, http.MethodPost, "/v1/bookings/"+id.String()+"/confirm", "", h.auth()...)
	if rec.Code != http.StatusOK || decodeBody[bookingResponse](t, rec).Status != "CONFIRMED" {
		t.Fatalf("confirm: unexpected %d %s", rec.Code, rec.Body.String())
	}
	rec = h.do(t, http.MethodPost, "/v1/bookings/"+id.String()+"/cancel", "", h.auth()...)
	if rec.Code != http.StatusOK || decodeBody[bookingResponse](t, rec).Status != "CANCELLED" {
		t.Fatalf("cancel: unexpected %d %s", rec.Code, rec.Body.String())
	}
	if rec := h.do(t, http.MethodPost, "/v1/bookings/"+id.String()+"/cancel", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected anonymous cancel to be rejected, got %d", rec.Code)
	}
}

func TestIdempotentReserve(t *testing.T) {
	h := newHarness(t)
	path := "/v1/items/" + uuid.NewString() + "/reserve"
	headers := append(h.auth(), IdempotencyHeader, "reserve-once-123")

	first := h.do(t, http.MethodPost, path, "", headers...)
	second := h.do(t, http.MethodPost, path, "", headers...)
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("expected both 201, got %d and %d", first.Code, second.Code)
	}
	if h.bookings.reserves != 1 {
		t.Errorf("expected one reservation, got %d", h.bookings.reserves)
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Error("expected replay header on second response")
	}
	if !bytes.Equal(first.Body.Bytes(), second.Body.Bytes()) {
		t.Errorf("replayed body differs: %s vs %s", first.Body.String(), second.Body.String())
	}

	h.do(t, http.MethodPost, path, "", h.auth()...)
	if h.bookings.reserves != 2 {
		t.Errorf("expected request without key to reach the engine, got %d reserves", h.bookings.reserves)
	}
}

// interleavedReplayer runs another request with the same key to completion
// during the first lookup, before reporting a miss.
type interleavedReplayer struct {
	*memReplayer
	started bool
	other   func()
}

func (r *interleavedReplayer) Get(ctx context.Context, key string) (*idempotency.Response, error) {
	if !r.started {
		r.started = true
		r.other()
		return nil, nil
	}
	return r.memReplayer.Get(ctx, key)
}

func TestIdempotentReplaysResponseStoredWhileClaiming(t *testing.T) {
	replayer := &interleavedReplayer{memReplayer: newMemReplayer()}
	h := newHarness(t, func(d *Deps) { d.Idempotency = replayer })
	path := "/v1/items/" + uuid.NewString() + "/reserve"
	headers := append(h.auth(), IdempotencyHeader, "interleaved-key")

	var first *httptest.ResponseRecorder
	replayer.other = func() { first = h.do(t, http.MethodPost, path, "", headers...) }
	second := h.do(t, http.MethodPost, path, "", headers...)

	if first == nil || first.Code != http.StatusCreated {
		t.Fatalf("expected interleaved request to reserve, got %v", first)
	}
	if second.Code != http.StatusCreated || second.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("expected replayed 201, got %d replayed=%q", second.Code, second.Header().Get("Idempotent-Replayed"))
	}
	if h.bookings.reserves != 1 {
		t.Errorf("expected one reservation, got %d", h.bookings.reserves)
	}
	if !bytes.Equal(first.Body.Bytes(), second.Body.Bytes()) {
		t.Errorf("replayed body differs: %s vs %s", first.Body.String(), second.Body.String())
	}
}

func TestIdempotentInFlight(t *testing.T) {
	h := newHarness(t)
	path := "/v1/items/" + uuid.NewString() + "/reserve"
	key := h.user.ID.String() + ":POST:" + path + ":dup-key"
	if _, err := h.idemp.Begin(context.Background(), key); err != nil {
		t.Fatal(err)
	}

	rec := h.do(t, http.MethodPost, path, "", append(h.auth(), IdempotencyHeader, "dup-key")...)
	if rec.Code != http.StatusConflict || decodeBody[errorResponse](t, rec).Code != "request_in_progress" {
		t.Fatalf("expected in-flight conflict, got %d %s", rec.Code, rec.Body.String())
	}
	if h.bookings.reserves != 0 {
		t.Error("in-flight request reached the engine")
	}
}

func TestIdempotentSkipsServerErrors(t *testing.T) {
	h := newHarness(t)
	h.bookings.err = errors.New("db down")
	path := "/v1/items/" + uuid.NewString() + "/reserve"
	headers := append(h.auth(), IdempotencyHeader, "retry-me")

	h.do(t, http.MethodPost, path, "", headers...)
	h.do(t, http.MethodPost, path, "", headers...)
	if h.bookings.reserves != 2 {
		t.Errorf("expected failed request to be retried, got %d reserves", h.bookings.reserves)
	}
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t)
	h.limiter.allow = false

	rec := h.do(t, http.MethodGet, "/v1/items", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("unexpected Retry-After %q", rec.Header().Get("Retry-After"))
	}
	if rec := h.do(t, http.MethodGet, "/v1/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("expected probes to bypass the limiter, got %d", rec.Code)
	}
}

func TestDeleteItemPurgesComments(t *testing.T) {
	h := newHarness(t)
	id := uuid.New()

	rec := h.do(t, http.MethodDelete, "/v1/items/"+id.String(), "", h.auth()...)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if len(h.purger.items) != 1 || h.purger.items[0] != id {
		t.Errorf("expected comments of %s purged, got %v", id, h.purger.items)
	}

	h.catalog.err = domain.ErrInvalidState
	rec = h.do(t, http.MethodDelete, "/v1/items/"+uuid.NewString(), "", h.auth()...)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for reserved item, got %d", rec.Code)
	}
	if len(h.purger.items) != 1 {
		t.Error("comments purged for an item that was not deleted")
	}
}

func TestPostComment(t *testing.T) {
	h := newHarness(t)
	itemID := uuid.New()

	rec := h.do(t, http.MethodPost, "/v1/items/"+itemID.String()+"/comments", `{"text":"is it still for sale?"}`, h.auth()...)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	c := decodeBody[commentResponse](t, rec)
	if c.UserName != "sita" || c.ItemID != itemID {
		t.Errorf("unexpected comment %+v", c)
	}

	rec = h.do(t, http.MethodPost, "/v1/items/"+itemID.String()+"/comments", `{"text":""}`, h.auth()...)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty text, got %d", rec.Code)
	}
}

func TestUpload(t *testing.T) {
	h := newHarness(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "photo.png")
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("image-bytes"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/uploads", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+h.identity.token(h.user.ID))
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[map[string]string](t, rec)["url"]; got != "/uploads/x.jpg" {
		t.Errorf("unexpected url %q", got)
	}
	if string(h.uploads.got) != "image-bytes" {
		t.Errorf("upload store received %q", h.uploads.got)
	}

	rec = h.do(t, http.MethodPost, "/v1/uploads", `{}`, h.auth()...)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without multipart file, got %d", rec.Code)
	}
}

func TestReadyz(t *testing.T) {
	h := newHarness(t)
	if rec := h.do(t, http.MethodGet, "/v1/readyz", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	h.checks["mongo"] = pinger{err: errors.New("no route")}
	rec := h.do(t, http.MethodGet, "/v1/readyz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	got := decodeBody[map[string]string](t, rec)
	if got["mongo"] != "unreachable" || got["crdb"] != "ok" {
		t.Errorf("unexpected readiness report %v", got)
	}
}

func TestInternalErrorHiddenInProduction(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Production = true })
	h.bookings.err = errors.New("pq: connection refused at 10.0.0.3")

	rec := h.do(t, http.MethodPost, "/v1/items/"+uuid.NewString()+"/reserve", "", h.auth()...)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "10.0.0.3") {
		t.Errorf("internal detail leaked: %s", rec.Body.String())
	}
}
