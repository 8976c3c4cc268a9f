// Package ratelimit implements a per-user sliding-window rate limiter
// with independent per-minute and per-hour ceilings.
// Thread-safe. No background goroutines — a user's window is pruned lazily
// on each Allow call.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a user has exhausted a window.
var ErrRateLimited = errors.New("rate limit exceeded")

// Config configures the sliding-window rate limiter.
type Config struct {
	RequestsPerMinute int // 0 = no per-minute ceiling.
	RequestsPerHour   int // 0 = no per-hour ceiling.
}

// Decision is the outcome of a single Allow call.
// Remaining counts are -1 for a window without a ceiling.
type Decision struct {
	Allowed         bool
	RemainingMinute int
	RemainingHour   int
	RetryAfter      time.Duration // On denial: how long until the binding window frees a slot.
}

// Limiter is a per-user sliding-window rate limiter.
// Each user gets independent windows; one user cannot exhaust another's quota.
type Limiter struct {
	mu        sync.Mutex
	users     map[string][]time.Time // request timestamps, oldest first
	perMinute int
	perHour   int
	now       func() time.Time
}

// NewLimiter creates a rate limiter with the given configuration.
// If both limits are 0, Allow always succeeds (unlimited).
func NewLimiter(cfg Config) *Limiter {
	return &Limiter{
		users:     make(map[string][]time.Time),
		perMinute: cfg.RequestsPerMinute,
		perHour:   cfg.RequestsPerHour,
		now:       time.Now,
	}
}

// Allow records a request for the user unless a window is full.
// Denied requests are not recorded and do not consume quota.
func (l *Limiter) Allow(userID string) Decision {
	// Unlimited mode.
	if l.perMinute <= 0 && l.perHour <= 0 {
		return Decision{Allowed: true, RemainingMinute: -1, RemainingHour: -1}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	stamps := prune(l.users[userID], now.Add(-time.Hour))

	// The hour window is a superset of the minute window, so one pruned
	// slice serves both: its length is the hour count, and the suffix
	// newer than now-1m is the minute count.
	minuteFloor := now.Add(-time.Minute)
	minuteCount := 0
	for i := len(stamps) - 1; i >= 0 && stamps[i].After(minuteFloor); i-- {
		minuteCount++
	}

	if l.perMinute > 0 && minuteCount >= l.perMinute {
		oldestInMinute := stamps[len(stamps)-minuteCount]
		l.users[userID] = stamps
		return Decision{
			RemainingMinute: 0,
			RemainingHour:   remaining(l.perHour, len(stamps)),
			RetryAfter:      oldestInMinute.Add(time.Minute).Sub(now),
		}
	}
	if l.perHour > 0 && len(stamps) >= l.perHour {
		l.users[userID] = stamps
		return Decision{
			RemainingMinute: remaining(l.perMinute, minuteCount),
			RemainingHour:   0,
			RetryAfter:      stamps[0].Add(time.Hour).Sub(now),
		}
	}

	stamps = append(stamps, now)
	l.users[userID] = stamps
	return Decision{
		Allowed:         true,
		RemainingMinute: remaining(l.perMinute, minuteCount+1),
		RemainingHour:   remaining(l.perHour, len(stamps)),
	}
}

// prune drops timestamps at or before the floor. Stamps are ordered oldest
// first; survivors are copied so the old backing array can be collected.
func prune(stamps []time.Time, floor time.Time) []time.Time {
	idx := 0
	for idx < len(stamps) && !stamps[idx].After(floor) {
		idx++
	}
	if idx == 0 {
		return stamps
	}
	return append([]time.Time(nil), stamps[idx:]...)
}

func remaining(limit, used int) int {
	if limit <= 0 {
		return -1
	}
	if used >= limit {
		return 0
	}
	return limit - used
}
