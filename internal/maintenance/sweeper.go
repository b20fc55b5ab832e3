package maintenance

import (
	"log/slog"
	"time"

	"github.com/dreamware/profilesync/internal/cluster"
	"github.com/dreamware/profilesync/internal/metrics"
)

// EveryScheduler runs a callback periodically on the main execution context.
// *Scheduler satisfies it.
type EveryScheduler interface {
	Every(fn func(), interval time.Duration)
}

// LiveSet lists the identities currently connected to the session.
type LiveSet interface {
	ConnectedIdentities() map[cluster.Identity]struct{}
}

// Evictor removes registry entries outside the live set.
type Evictor interface {
	Sweep(live map[cluster.Identity]struct{}) []cluster.Identity
}

// Sweeper periodically evicts registry entries of participants who left.
type Sweeper struct {
	registry   Evictor
	membership LiveSet
	session    HostSession
	scheduler  EveryScheduler
	log        *slog.Logger
	metrics    *metrics.Metrics
	interval   time.Duration
}

// HostSession reports whether this process is an active session host.
type HostSession interface {
	IsActiveHost() bool
}

func NewSweeper(
	registry Evictor,
	membership LiveSet,
	session HostSession,
	scheduler EveryScheduler,
	interval time.Duration,
	log *slog.Logger,
	m *metrics.Metrics,
) *Sweeper {
	return &Sweeper{
		registry:   registry,
		membership: membership,
		session:    session,
		scheduler:  scheduler,
		interval:   interval,
		log:        log,
		metrics:    m,
	}
}

// Start registers the periodic sweep with the scheduler.
func (s *Sweeper) Start() {
	s.scheduler.Every(s.Sweep, s.interval)
	s.log.Info("Stale profile sweep registered", "interval", s.interval)
}

// Sweep runs one pass. It does nothing unless the session is an active host.
func (s *Sweeper) Sweep() {
	if !s.session.IsActiveHost() {
		return
	}

	live := s.membership.ConnectedIdentities()
	evicted := s.registry.Sweep(live)
	if len(evicted) == 0 {
		return
	}

	s.metrics.AddSweepEvictions(len(evicted))
	for _, id := range evicted {
		s.log.Info("Removed profile of departed participant", "id", id)
	}
}
