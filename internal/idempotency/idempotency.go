package idempotency

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	redisadapter "github.com/robertarktes/campus-marketplace/internal/adapters/redis"
)

// inFlightTTL bounds how long a crashed request can block its key.
const inFlightTTL = 30 * time.Second

var ErrInFlight = errors.New("a request with this idempotency key is in progress")

type Backend interface {
	Get(ctx context.Context, key string) (*redisadapter.IdempResponse, error)
	Set(ctx context.Context, key string, resp redisadapter.IdempResponse, ttl time.Duration) error
	Begin(ctx context.Context, key string, ttl time.Duration) (bool, error)
	End(ctx context.Context, key string) error
}

type Idempotency struct {
	backend Backend
	ttl     time.Duration
}

func NewIdempotency(backend Backend, ttl time.Duration) *Idempotency {
	return &Idempotency{backend: backend, ttl: ttl}
}

type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Get returns the stored response for key, or nil if there is none.
func (i *Idempotency) Get(ctx context.Context, key string) (*Response, error) {
	stored, err := i.backend.Get(ctx, key)
	if err != nil {
		return nil, errors.Wrap(err, "read idempotency key")
	}
	if stored == nil {
		return nil, nil
	}
	return &Response{Status: stored.Status, ContentType: stored.ContentType, Body: stored.Body}, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, resp Response) error {
	err := i.backend.Set(ctx, key, redisadapter.IdempResponse{
		Status:      resp.Status,
		ContentType: resp.ContentType,
		Body:        resp.Body,
	}, i.ttl)
	return errors.Wrap(err, "store idempotency key")
}

// Begin claims key for one request. It returns ErrInFlight when another request holds it.
func (i *Idempotency) Begin(ctx context.Context, key string) (func(context.Context), error) {
	ok, err := i.backend.Begin(ctx, key, inFlightTTL)
	if err != nil {
		return nil, errors.Wrap(err, "claim idempotency key")
	}
	if !ok {
		return nil, ErrInFlight
	}
	return func(ctx context.Context) { _ = i.backend.End(ctx, key) }, nil
}
