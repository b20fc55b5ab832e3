package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/dreamware/profilesync/internal/cache"
	"github.com/dreamware/profilesync/internal/cluster"
	"github.com/dreamware/profilesync/internal/metrics"
)

const reconcileTimeout = 5 * time.Second

// CacheReconciler drops the profile cache a short while after the registry
// changes, so readers stop serving records that were just replaced.
type CacheReconciler struct {
	role      cluster.Role
	cache     cache.Cache
	debouncer *Debouncer
	log       *slog.Logger
	metrics   *metrics.Metrics
}

func NewCacheReconciler(
	role cluster.Role,
	c cache.Cache,
	scheduler OnceScheduler,
	delay time.Duration,
	log *slog.Logger,
	m *metrics.Metrics,
) *CacheReconciler {
	r := &CacheReconciler{
		role:    role,
		cache:   c,
		log:     log,
		metrics: m,
	}
	r.debouncer = NewDebouncer(scheduler, delay, r.reconcile, m)
	return r
}

// OnRegistryMutated implements registry.MutationHook.
func (r *CacheReconciler) OnRegistryMutated() {
	if r.role == cluster.RoleHost {
		return
	}
	r.debouncer.Trigger()
}

// Pending reports whether a reconciliation is scheduled but has not run.
func (r *CacheReconciler) Pending() bool {
	return r.debouncer.Pending()
}

func (r *CacheReconciler) reconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	n, err := r.cache.EvictCategory(ctx, cache.CategoryProfiles)
	r.metrics.IncCacheReconcile(err)
	if err != nil {
		r.log.Error("Profile cache reconciliation failed", "err", err)
		return
	}
	r.log.Debug("Profile cache reconciled", "evicted", n)
}
