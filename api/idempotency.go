package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	maxIdempotencyKeyLen = 128
	dedupeKeyPrefix      = "idem"
)

// Deduper remembers idempotency keys per user.
type Deduper interface {
	Add(ctx context.Context, phone, key string) (bool, error)
	Remove(ctx context.Context, phone, key string) error
}

// RedisDeduper stores idempotency keys in Redis so every gateway instance
// sees the same set.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(phone, key string) string {
	return fmt.Sprintf("%s:%s:%s", dedupeKeyPrefix, phone, key)
}

// Add records the key if it does not already exist. It returns true when the
// key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, phone, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(phone, key), 1, r.ttl).Result()
}

// Remove deletes a recorded key so a failed request may be retried.
func (r *RedisDeduper) Remove(ctx context.Context, phone, key string) error {
	return r.client.Del(ctx, r.key(phone, key)).Err()
}

// idempotent rejects a mutation whose Idempotency-Key was already seen for
// the caller. The key is released again when the mutation fails.
func idempotent(d Deduper) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
			if d == nil || key == "" {
				return next(c)
			}
			if len(key) > maxIdempotencyKeyLen {
				return writeError(c, http.StatusBadRequest, codeBadRequest, "idempotency key too long")
			}
			phone := callerPhone(c)
			ctx := c.Request().Context()
			added, err := d.Add(ctx, phone, key)
			if err != nil {
				c.Logger().Error(err)
				return writeError(c, http.StatusServiceUnavailable, codeUnavailable, "idempotency store unavailable")
			}
			if !added {
				return writeError(c, http.StatusConflict, codeDuplicate, "request already processed")
			}

			err = next(c)
			if err != nil || c.Response().Status >= http.StatusBadRequest {
				if rerr := d.Remove(context.WithoutCancel(ctx), phone, key); rerr != nil {
					c.Logger().Error(rerr)
				}
			}
			return err
		}
	}
}
