package maintenance

import (
	"io"
	"log/slog"
	"sync"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// manualScheduler records callbacks and only runs them when told to.
type manualScheduler struct {
	mu     sync.Mutex
	once   []func()
	delays []time.Duration
	every  []func()
}

func (m *manualScheduler) Once(fn func(), delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.once = append(m.once, fn)
	m.delays = append(m.delays, delay)
}

func (m *manualScheduler) Every(fn func(), _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.every = append(m.every, fn)
}

func (m *manualScheduler) pendingOnce() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.once)
}

// fireOnce runs and forgets every queued one-shot callback.
func (m *manualScheduler) fireOnce() {
	m.mu.Lock()
	fns := m.once
	m.once = nil
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (m *manualScheduler) tick() {
	m.mu.Lock()
	fns := append([]func(){}, m.every...)
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
