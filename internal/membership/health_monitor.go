package membership

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dreamware/profilesync/internal/cluster"
)

const (
	statusUnknown   = "unknown"
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

// ParticipantHealth tracks the liveness of a single participant.
// Thread-safe: Protected by HealthMonitor's mutex when accessed.
type ParticipantHealth struct {
	LastCheck        time.Time        // Timestamp of the last check attempt
	LastHealthy      time.Time        // Timestamp of the last successful check
	Status           string           // "healthy", "unhealthy", "unknown"
	ID               cluster.Identity // Participant being tracked
	ConsecutiveFails int              // Failed checks in a row
}

// HealthMonitor probes every participant's /health endpoint and reports the
// ones that stop answering. On the host the callback removes them from the
// membership list, and the next registry sweep drops their profiles.
// Thread-safe: All methods are safe for concurrent access.
type HealthMonitor struct {
	participants map[cluster.Identity]*ParticipantHealth
	httpClient   *http.Client
	checkFunc    func(addr string) error
	onUnhealthy  func(id cluster.Identity)
	log          *slog.Logger
	ctx          context.Context
	cancel       context.CancelFunc
	interval     time.Duration
	mu           sync.RWMutex
	wg           sync.WaitGroup
	maxFailures  int
}

// NewHealthMonitor creates a monitor that checks every interval and marks a
// participant unhealthy after 3 consecutive failures.
//
// Example:
//
//	monitor := NewHealthMonitor(5*time.Second, log)
//	monitor.SetOnUnhealthy(func(id cluster.Identity) { members.Remove(id) })
//	go monitor.Start(ctx, members.All)
func NewHealthMonitor(interval time.Duration, log *slog.Logger) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	return &HealthMonitor{
		interval:     interval,
		maxFailures:  3,
		participants: make(map[cluster.Identity]*ParticipantHealth),
		httpClient: &http.Client{
			Timeout: 2 * time.Second,
		},
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetOnUnhealthy sets the callback invoked when a participant turns unhealthy.
func (h *HealthMonitor) SetOnUnhealthy(callback func(id cluster.Identity)) {
	h.onUnhealthy = callback
}

// SetCheckFunction overrides the HTTP probe, mostly for tests.
func (h *HealthMonitor) SetCheckFunction(checkFunc func(addr string) error) {
	h.checkFunc = checkFunc
}

// Start checks every participant returned by provider each interval.
// It blocks until ctx or the monitor itself is cancelled.
func (h *HealthMonitor) Start(ctx context.Context, provider func() []cluster.Participant) {
	h.wg.Add(1)
	defer h.wg.Done()

	if ctx == nil {
		ctx = h.ctx
	}
	if h.checkFunc == nil {
		h.checkFunc = h.defaultHealthCheck
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.log.Info("Health monitor started", "interval", h.interval)

	h.checkAll(provider())

	for {
		select {
		case <-ticker.C:
			h.checkAll(provider())
		case <-ctx.Done():
			h.log.Info("Health monitor stopping", "reason", "context cancelled")
			return
		case <-h.ctx.Done():
			h.log.Info("Health monitor stopping", "reason", "stopped")
			return
		}
	}
}

// Stop cancels the monitoring goroutine and waits for it.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
}

func (h *HealthMonitor) checkAll(participants []cluster.Participant) {
	current := make(map[cluster.Identity]bool, len(participants))

	for _, p := range participants {
		current[p.ID] = true
		h.check(p)
	}

	// Forget participants that are no longer connected
	h.mu.Lock()
	for id := range h.participants {
		if !current[id] {
			delete(h.participants, id)
			h.log.Debug("Stopped monitoring participant", "id", id)
		}
	}
	h.mu.Unlock()
}

func (h *HealthMonitor) check(p cluster.Participant) {
	h.mu.Lock()
	health, exists := h.participants[p.ID]
	if !exists {
		now := time.Now()
		health = &ParticipantHealth{
			ID:          p.ID,
			Status:      statusUnknown,
			LastCheck:   now,
			LastHealthy: now,
		}
		h.participants[p.ID] = health
	}
	h.mu.Unlock()

	err := h.checkFunc(p.Addr)

	h.mu.Lock()
	defer h.mu.Unlock()

	health.LastCheck = time.Now()

	if err == nil {
		if health.Status == statusUnhealthy {
			h.log.Info("Participant recovered", "id", p.ID)
		}
		health.Status = statusHealthy
		health.ConsecutiveFails = 0
		health.LastHealthy = time.Now()
		return
	}

	health.ConsecutiveFails++
	h.log.Warn("Health check failed",
		"id", p.ID, "attempt", health.ConsecutiveFails, "max", h.maxFailures, "err", err)

	if health.ConsecutiveFails < h.maxFailures {
		return
	}
	previous := health.Status
	health.Status = statusUnhealthy
	if previous != statusUnhealthy && h.onUnhealthy != nil {
		h.log.Warn("Participant marked unhealthy", "id", p.ID, "failures", health.ConsecutiveFails)
		// Call callback without holding the lock
		go h.onUnhealthy(p.ID)
	}
}

func (h *HealthMonitor) defaultHealthCheck(addr string) error {
	url := addr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		url = "http://" + addr
	}
	if !strings.HasSuffix(url, "/health") {
		url = strings.TrimRight(url, "/") + "/health"
	}

	resp, err := h.httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// Health returns a copy of the tracked state of one participant, or nil.
func (h *HealthMonitor) Health(id cluster.Identity) *ParticipantHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, ok := h.participants[id]
	if !ok {
		return nil
	}
	c := *health
	return &c
}

// IsHealthy reports whether the participant passed its most recent checks.
func (h *HealthMonitor) IsHealthy(id cluster.Identity) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, ok := h.participants[id]
	return ok && health.Status == statusHealthy
}
