package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/topicforge/internal/common"
)

// keyState tracks one credential's availability. A key starts idle, may be
// put on cooldown after a rate/quota error, and is disabled permanently
// after an auth error (the credential itself is rejected, not just
// throttled).
type keyState struct {
	key           string
	limiter       *rate.Limiter
	mu            sync.Mutex
	cooldownUntil time.Time
	disabled      bool
}

func (k *keyState) available(now time.Time) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return !k.disabled && now.After(k.cooldownUntil)
}

func (k *keyState) cooldown(d time.Duration) {
	k.mu.Lock()
	defer k.mu.Unlock()
	until := time.Now().Add(d)
	if until.After(k.cooldownUntil) {
		k.cooldownUntil = until
	}
}

func (k *keyState) disable() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.disabled = true
}

// Pool round-robins a batch of API keys, honoring a per-key rate limiter
// and cooldown/disable bookkeeping. A single round robin cursor is shared
// across callers; Acquire is safe for concurrent use.
type Pool struct {
	keys     []*keyState
	cooldown time.Duration
	mu       sync.Mutex
	next     int
}

// NewPool builds a Pool from rawKeys, each rate-limited to ratePerSecond
// requests per second (burst of 1, since batches are dispatched one at a
// time per key). cooldown is the default duration a key is parked after a
// rate/quota error.
func NewPool(rawKeys []string, ratePerSecond float64, cooldown time.Duration) (*Pool, error) {
	if len(rawKeys) == 0 {
		return nil, fmt.Errorf("llm: credential pool requires at least one API key")
	}
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	keys := make([]*keyState, 0, len(rawKeys))
	for _, k := range rawKeys {
		if k == "" {
			continue
		}
		keys = append(keys, &keyState{
			key:     k,
			limiter: rate.NewLimiter(rate.Limit(ratePerSecond), 1),
		})
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("llm: credential pool requires at least one non-empty API key")
	}
	return &Pool{keys: keys, cooldown: cooldown}, nil
}

// Lease is an acquired credential; the caller must call Release exactly
// once with the outcome of the call that used it.
type Lease struct {
	Key   string
	state *keyState
	pool  *Pool
}

// Release records the outcome of the call made with this lease, updating
// the key's cooldown/disabled state as needed. err should be the exact
// error CleanBatch's transport returned (nil on success).
func (l *Lease) Release(err error) {
	switch {
	case err == nil:
		return
	case IsAuth(err):
		l.state.disable()
	case IsRateLimited(err):
		l.state.cooldown(retryCooldown(err, l.pool.cooldown))
	}
}

// retryCooldown prefers the server-specified Retry-After delay on a
// RateLimited error over the pool's default cooldown, falling back to the
// default when the error carries no delay or isn't a RateLimited.
func retryCooldown(err error, fallback time.Duration) time.Duration {
	var rl *RateLimited
	if !errors.As(err, &rl) || rl.RetryAfter == "" {
		return fallback
	}
	seconds := parseRetryAfterSeconds(rl.RetryAfter)
	if seconds <= 0 {
		return fallback
	}
	d := time.Duration(seconds) * time.Second
	if d > fallback {
		return d
	}
	return fallback
}

// Acquire blocks until a non-disabled, non-cooldown key is available and
// its rate limiter admits a request, then returns a Lease for it. Keys are
// tried in round-robin order starting from the pool's shared cursor.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	for {
		state, ok := p.nextAvailable()
		if !ok {
			if err := sleepOrDone(ctx, 200*time.Millisecond); err != nil {
				return nil, fmt.Errorf("llm: acquire credential: %w", err)
			}
			continue
		}
		if err := state.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("llm: acquire credential: %w", err)
		}
		return &Lease{Key: state.key, state: state, pool: p}, nil
	}
}

func (p *Pool) nextAvailable() (*keyState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	n := len(p.keys)
	for i := 0; i < n; i++ {
		idx := (p.next + i) % n
		if p.keys[idx].available(now) {
			p.next = (idx + 1) % n
			return p.keys[idx], true
		}
	}
	return nil, false
}

// ActiveCount returns the number of keys that are neither disabled nor
// currently on cooldown, for health/diagnostics reporting.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	n := 0
	for _, k := range p.keys {
		if k.available(now) {
			n++
		}
	}
	return n
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// logUnavailable is a small helper used by the client to report pool
// exhaustion without importing common into pool_test.go's pure tests.
func logUnavailable(logger *common.Logger, active, total int) {
	logger.Warn().Int("active_keys", active).Int("total_keys", total).Msg("credential pool has no available keys")
}
