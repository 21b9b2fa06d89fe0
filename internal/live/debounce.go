// Package live serves as-you-type previews: a routing hint and a duplicate
// pre-check, each fired only after the reporter stops typing.
package live

import (
	"context"
	"sync"
	"time"
)

// Timer is the part of *time.Timer the debouncer needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it once wrapped.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Debouncer runs at most one job per quiet period. Each Trigger cancels the
// pending job, and the context of any job still running, then schedules the
// new one.
type Debouncer struct {
	Delay     time.Duration
	AfterFunc AfterFunc

	mu     sync.Mutex
	gen    uint64
	timer  Timer
	cancel context.CancelFunc
}

func NewDebouncer(delay time.Duration, after AfterFunc) *Debouncer {
	return &Debouncer{Delay: delay, AfterFunc: after}
}

func (d *Debouncer) Trigger(parent context.Context, job func(ctx context.Context)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()
	d.gen++
	gen := d.gen
	ctx, cancel := context.WithCancel(parent)
	d.cancel = cancel

	after := d.AfterFunc
	if after == nil {
		after = realAfterFunc
	}
	d.timer = after(d.Delay, func() {
		d.mu.Lock()
		current := d.gen == gen
		d.mu.Unlock()
		if !current || ctx.Err() != nil {
			return
		}
		job(ctx)
	})
}

// Stop drops the pending job and cancels a running one.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
	d.gen++
}

func (d *Debouncer) stopLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}
