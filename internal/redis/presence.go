package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Connect pings addr with exponential backoff for up to maxWait.
func Connect(ctx context.Context, addr, password string, db int, maxWait time.Duration, log *zap.SugaredLogger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxWait
	op := func() error {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return rdb.Ping(pctx).Err()
	}
	notify := func(err error, wait time.Duration) {
		log.Warnw("redis not ready, retrying", "addr", addr, "error", err, "wait", wait)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connect %s: %w", addr, err)
	}
	return rdb, nil
}

// Presence mirrors the local presence map so other processes (and the
// presence endpoint) can see who is online.
//
// Keys: <prefix>:presence:<userID> -> connection id, expiring after ttl.
type Presence struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewPresence(r *redis.Client, prefix string, ttl time.Duration) *Presence {
	return &Presence{client: r, prefix: prefix, ttl: ttl}
}

func (p *Presence) key(userID string) string { return fmt.Sprintf("%s:presence:%s", p.prefix, userID) }

func (p *Presence) SetOnline(ctx context.Context, userID, connID string) error {
	return p.client.Set(ctx, p.key(userID), connID, p.ttl).Err()
}

// Touch extends the expiry of userID's key while it still names connID. A key
// that already expired is written again.
func (p *Presence) Touch(ctx context.Context, userID, connID string) error {
	key := p.key(userID)
	err := p.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil && cur != connID {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, connID, p.ttl)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

// SetOffline deletes the key only while it still names connID, so a newer
// connection's entry survives an older one closing.
func (p *Presence) SetOffline(ctx context.Context, userID, connID string) error {
	key := p.key(userID)
	err := p.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if cur != connID {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

func (p *Presence) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := p.client.Exists(ctx, p.key(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
