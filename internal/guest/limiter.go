package guest

import (
	"sync"
	"time"
)

// Limiter enforces a per-IP cooldown between accepted guest play requests.
// Entries live for the process lifetime; stale IPs are never evicted, which
// matches the tiny deployment this serves.
type Limiter struct {
	mu       sync.Mutex
	cooldown time.Duration
	last     map[string]time.Time
	now      func() time.Time
}

// NewLimiter creates a limiter with the given cooldown window.
func NewLimiter(cooldown time.Duration) *Limiter {
	return NewLimiterWithClock(cooldown, time.Now)
}

// NewLimiterWithClock creates a limiter that reads time from now instead of
// the wall clock. Tests use this to drive the cooldown window manually.
func NewLimiterWithClock(cooldown time.Duration, now func() time.Time) *Limiter {
	return &Limiter{
		cooldown: cooldown,
		last:     make(map[string]time.Time),
		now:      now,
	}
}

// Check reports whether a play from ip would be accepted right now.
// When rejected, remaining is the time left until the next accepted play.
// Check does not record anything; call Record once playback is accepted.
func (l *Limiter) Check(ip string) (remaining time.Duration, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	last, exists := l.last[ip]
	if !exists {
		return 0, true
	}
	elapsed := l.now().Sub(last)
	if elapsed < l.cooldown {
		return l.cooldown - elapsed, false
	}
	return 0, true
}

// Record marks an accepted play for ip at the current time.
func (l *Limiter) Record(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last[ip] = l.now()
}
