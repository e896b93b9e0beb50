// Package lease provides a Redis-backed per-schedule lease. It keeps
// overlapping reconciler replicas and out-of-band triggers from
// applying the same calendar response twice.
package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Release deletes the key only when this holder still owns it.
var releaseScript = redis.NewScript(
	`if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`)

// RedisLease holds schedule leases as SETNX keys with a TTL. The TTL
// bounds how long a crashed holder blocks a schedule.
type RedisLease struct {
	client *redis.Client
	owner  string
	ttl    time.Duration
}

// New creates a RedisLease. ttl must cover the longest expected
// single-schedule check, calendar round trip included.
func New(client *redis.Client, ttl time.Duration) *RedisLease {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLease{
		client: client,
		owner:  uuid.NewString(),
		ttl:    ttl,
	}
}

func (l *RedisLease) Acquire(ctx context.Context, scheduleID uuid.UUID) (bool, error) {
	ok, err := l.client.SetNX(ctx, key(scheduleID), l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	return ok, nil
}

func (l *RedisLease) Release(ctx context.Context, scheduleID uuid.UUID) {
	if err := releaseScript.Run(ctx, l.client, []string{key(scheduleID)}, l.owner).Err(); err != nil && err != redis.Nil {
		// The TTL reclaims the key; losing a release is not fatal.
		log.Warn().Err(err).
			Str("schedule_id", scheduleID.String()).
			Msg("lease: release failed")
	}
}

func key(scheduleID uuid.UUID) string {
	return "dispatchd:lease:schedule:" + scheduleID.String()
}
