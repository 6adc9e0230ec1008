package engine

import (
	"context"
	"sync"
	"time"
)

// job is a unit of work executed on the loop goroutine. fn receives the
// loop context, not the submitter's, so handles opened by a job outlive
// the request that asked for them.
type job struct {
	fn   func(ctx context.Context) error
	done chan error
}

// submit queues fn for the next pass and waits for its result. ctx only
// bounds the wait; a job that was already queued still runs.
func (p *Player) submit(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j := job{fn: fn, done: make(chan error, 1)}

	select {
	case <-p.stopped:
		return ErrStopped
	default:
	}

	select {
	case p.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopped:
		return ErrStopped
	}
	p.wakeUp()

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopped:
		select {
		case err := <-j.done:
			return err
		default:
			return ErrStopped
		}
	}
}

// wakeUp interrupts the loop's sleep without blocking.
func (p *Player) wakeUp() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// debouncer drops repeats of the same key seen within interval.
type debouncer struct {
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]time.Time
}

func newDebouncer(interval time.Duration) *debouncer {
	return &debouncer{
		interval: interval,
		now:      time.Now,
		pending:  make(map[string]time.Time),
	}
}

// Checks if an event for key should be delivered.
func (d *debouncer) allow(key string) bool {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	last, exists := d.pending[key]
	if exists && now.Sub(last) < d.interval {
		return false
	}
	d.pending[key] = now
	return true
}

// Forgets entries older than the interval.
func (d *debouncer) prune() {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, last := range d.pending {
		if now.Sub(last) >= d.interval {
			delete(d.pending, key)
		}
	}
}
