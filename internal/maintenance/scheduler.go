package maintenance

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type loop struct {
	fn       func()
	interval time.Duration
}

// Scheduler is the main execution context: one goroutine, driven by Run,
// executes every callback handed to Once or Every.
// Thread-safe: Once and Every may be called from any goroutine, before or
// after Run starts.
type Scheduler struct {
	log *slog.Logger

	mu      sync.Mutex
	queue   []func()
	loops   []loop          // registered before Run, started by Run
	ctx     context.Context // set while Run is active
	wg      sync.WaitGroup  // tickers started by Run
	wake    chan struct{}
	running bool
}

func NewScheduler(log *slog.Logger) *Scheduler {
	return &Scheduler{
		log:  log,
		wake: make(chan struct{}, 1),
	}
}

// Once runs fn on the main context after delay.
func (s *Scheduler) Once(fn func(), delay time.Duration) {
	time.AfterFunc(delay, func() { s.post(fn) })
}

// Every runs fn on the main context every interval until Run returns.
func (s *Scheduler) Every(fn func(), interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := loop{fn: fn, interval: interval}
	if s.running {
		s.startLoop(s.ctx, l)
		return
	}
	s.loops = append(s.loops, l)
}

// Run executes queued callbacks until ctx is cancelled. It blocks.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.running = true
	for _, l := range s.loops {
		s.startLoop(ctx, l)
	}
	s.loops = nil
	s.mu.Unlock()

	s.log.Info("Scheduler started")
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.wg.Wait()
		s.log.Info("Scheduler stopped")
	}()

	for {
		s.drain()
		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
		}
	}
}

// startLoop must be called with s.mu held.
func (s *Scheduler) startLoop(ctx context.Context, l loop) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.post(l.fn)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *Scheduler) post(fn func()) {
	s.mu.Lock()
	s.queue = append(s.queue, fn)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		fn := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.run(fn)
	}
}

func (s *Scheduler) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Scheduled callback panicked", "panic", r)
		}
	}()
	fn()
}
