package maintenance

import (
	"sync/atomic"
	"time"

	"github.com/dreamware/profilesync/internal/metrics"
)

// OnceScheduler defers a callback onto the main execution context.
// *Scheduler satisfies it.
type OnceScheduler interface {
	Once(fn func(), delay time.Duration)
}

// Debouncer runs action at most once per delay window, no matter how many
// times Trigger is called inside that window.
type Debouncer struct {
	pending   atomic.Bool
	scheduler OnceScheduler
	action    func()
	delay     time.Duration
	metrics   *metrics.Metrics
}

func NewDebouncer(scheduler OnceScheduler, delay time.Duration, action func(), m *metrics.Metrics) *Debouncer {
	return &Debouncer{
		scheduler: scheduler,
		action:    action,
		delay:     delay,
		metrics:   m,
	}
}

// Trigger schedules the action unless a call is already pending.
// It reports whether a new call was scheduled.
func (d *Debouncer) Trigger() bool {
	if !d.pending.CompareAndSwap(false, true) {
		d.metrics.IncDebounceCoalesced()
		return false
	}

	d.scheduler.Once(func() {
		defer d.pending.Store(false)
		d.action()
	}, d.delay)
	return true
}

// Pending reports whether a scheduled call has not fired yet.
func (d *Debouncer) Pending() bool {
	return d.pending.Load()
}
