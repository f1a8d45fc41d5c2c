package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// Idempotency stores replayable HTTP responses under caller-scoped keys.
type Idempotency struct {
	client *redis.Client
}

func NewIdempotency(client *redis.Client) *Idempotency {
	return &Idempotency{client: client}
}

type IdempResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

func responseKey(key string) string { return "idem:resp:" + key }
func lockKey(key string) string     { return "idem:lock:" + key }

func (i *Idempotency) Get(ctx context.Context, key string) (*IdempResponse, error) {
	raw, err := i.client.Get(ctx, responseKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get stored response")
	}
	resp := new(IdempResponse)
	if err := json.Unmarshal(raw, resp); err != nil {
		return nil, errors.Wrapf(err, "decode stored response %q", key)
	}
	return resp, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, resp IdempResponse, ttl time.Duration) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return errors.Wrap(err, "encode response")
	}
	return errors.Wrap(i.client.Set(ctx, responseKey(key), raw, ttl).Err(), "store response")
}

// Begin marks key as in flight. It returns false if another request holds it.
func (i *Idempotency) Begin(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := i.client.SetNX(ctx, lockKey(key), 1, ttl).Result()
	return ok, errors.Wrap(err, "mark in flight")
}

func (i *Idempotency) End(ctx context.Context, key string) error {
	return errors.Wrap(i.client.Del(ctx, lockKey(key)).Err(), "clear in flight")
}
