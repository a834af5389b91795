package source

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// DefaultBudget is the request allowance assumed until the API reports its own.
const DefaultBudget = 5000

// Budget throttles requests to the export API. It honors Retry-After and the
// X-RateLimit-Remaining / X-RateLimit-Reset headers of previous responses.
// It never retries anything itself; callers just wait before sending.
type Budget struct {
	mu        sync.Mutex
	remaining int
	reset     time.Time
	cooldown  time.Time
	limit     int
	window    time.Duration
	now       func() time.Time
	changed   chan struct{}
}

func NewBudget(limit int) *Budget {
	if limit <= 0 {
		limit = DefaultBudget
	}
	return &Budget{
		remaining: limit,
		limit:     limit,
		window:    time.Hour,
		reset:     time.Now().Add(time.Hour),
		now:       time.Now,
		changed:   make(chan struct{}),
	}
}

func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}

// Wait blocks until one request may be sent or ctx is done.
func (b *Budget) Wait(ctx context.Context) error {
	if b == nil {
		return errors.New("budget is nil")
	}
	for {
		b.mu.Lock()
		now := b.now()
		changed := b.changed

		var until time.Time
		switch {
		case now.Before(b.cooldown):
			until = b.cooldown
		case b.remaining > 0:
			b.remaining--
			b.mu.Unlock()
			return nil
		case !now.Before(b.reset):
			// Window rolled over without fresh headers.
			b.remaining = b.limit - 1
			b.reset = now.Add(b.window)
			b.mu.Unlock()
			return nil
		default:
			until = b.reset
		}
		b.mu.Unlock()

		if err := sleepUntil(ctx, now, until, changed); err != nil {
			return err
		}
	}
}

// sleepUntil waits for the deadline, a budget change or ctx.
func sleepUntil(ctx context.Context, now, until time.Time, changed <-chan struct{}) error {
	t := time.NewTimer(max(until.Sub(now), 0))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-changed:
	case <-t.C:
	}
	return nil
}

// Observe updates the budget from response headers.
func (b *Budget) Observe(resp *http.Response) {
	if b == nil || resp == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	updated := false
	if secs, ok := headerInt(resp.Header, "Retry-After"); ok && secs > 0 {
		if until := b.now().Add(time.Duration(secs) * time.Second); until.After(b.cooldown) {
			b.cooldown = until
			updated = true
		}
	}
	if rem, ok := headerInt(resp.Header, "X-RateLimit-Remaining"); ok && rem >= 0 && rem != b.remaining {
		b.remaining = rem
		updated = true
	}
	if epoch, ok := headerInt(resp.Header, "X-RateLimit-Reset"); ok && epoch > 0 {
		if reset := time.Unix(int64(epoch), 0); !reset.Equal(b.reset) {
			b.reset = reset
			updated = true
		}
	}
	if !updated {
		return
	}
	close(b.changed)
	b.changed = make(chan struct{})
}

func headerInt(h http.Header, key string) (int, bool) {
	raw := h.Get(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
