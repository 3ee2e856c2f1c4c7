package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"iconforge/internal/domain/plans"

	"github.com/go-redis/redis/v8"
)

const (
	window = time.Hour

	// Unlimited-rate plans still get a finite ceiling so a runaway client
	// cannot exhaust shared resources.
	unlimitedCeiling = 10000
)

// Limiter is a Redis-backed sliding-window admission controller. One
// independent counter exists per (subject, plan tier) pair, shared across
// all service instances; the subject is an account id or "team:<id>".
type Limiter struct {
	rdb    *redis.Client
	prefix string
}

func New(rdb *redis.Client, prefix string) *Limiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &Limiter{rdb: rdb, prefix: prefix}
}

// Result reports an admission decision. RetryAfterSeconds is always 0 when
// the request is allowed; callers surface it as a Retry-After header.
type Result struct {
	Allowed           bool      `json:"allowed"`
	Remaining         int       `json:"remaining"`
	ResetAt           time.Time `json:"reset_at"`
	RetryAfterSeconds int       `json:"retry_after_seconds"`
}

// Check admits or rejects one request for the subject under the plan's
// hourly limit. On Redis failure it fails open and returns the error for
// logging, so a degraded counter store never blocks paying customers.
func (l *Limiter) Check(ctx context.Context, subjectKey string, plan *plans.Plan) (Result, error) {
	limit := int(plan.RateLimitPerHour.Or(unlimitedCeiling))
	key := fmt.Sprintf("%s:%s:%s", l.prefix, plan.ID, subjectKey)

	// Increment and expiry travel in one pipeline so a crash between the
	// two can never strand a counter without a TTL.
	pipe := l.rdb.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{Allowed: true, Remaining: limit}, fmt.Errorf("redis pipeline: %w", err)
	}
	count := incr.Val()

	ttl, err := l.rdb.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = window
	}
	resetAt := time.Now().Add(ttl)

	res := Result{
		Allowed:   count <= int64(limit),
		Remaining: int(math.Max(0, float64(int64(limit)-count))),
		ResetAt:   resetAt,
	}
	if !res.Allowed {
		res.RetryAfterSeconds = int(math.Ceil(ttl.Seconds()))
	}
	return res, nil
}

// Reset clears the counter for a subject, for tests and support tooling.
func (l *Limiter) Reset(ctx context.Context, subjectKey string, plan *plans.Plan) error {
	return l.rdb.Del(ctx, fmt.Sprintf("%s:%s:%s", l.prefix, plan.ID, subjectKey)).Err()
}

// TeamSubject builds the subject key for team-scoped requests.
func TeamSubject(teamID string) string {
	return "team:" + teamID
}

// AccountSubject builds the subject key for personal requests.
func AccountSubject(accountID uint) string {
	return fmt.Sprintf("%d", accountID)
}
