// Package app assembles the components shared by the host and peer binaries:
// configuration, logging, storage, cache, metrics and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/dreamware/profilesync/internal/cache"
	"github.com/dreamware/profilesync/internal/cluster"
	"github.com/dreamware/profilesync/internal/config"
	"github.com/dreamware/profilesync/internal/maintenance"
	"github.com/dreamware/profilesync/internal/metrics"
	"github.com/dreamware/profilesync/internal/profile"
	"github.com/dreamware/profilesync/internal/storage"
)

const shutdownTimeout = 5 * time.Second

// Flags holds the command-line values shared by both binaries.
type Flags struct {
	ConfigFile string
	Overrides  config.Overrides
}

// BindFlags registers the shared flags on cmd.
func BindFlags(cmd *cobra.Command, f *Flags) {
	fs := cmd.Flags()
	fs.StringVarP(&f.ConfigFile, "config", "c", "", "path to a TOML config file (env CONFIG_FILE)")
	fs.StringVar(&f.Overrides.ListenAddr, "listen", "", "listen address (env LISTEN_ADDR)")
	fs.StringVar(&f.Overrides.PublicAddr, "public", "", "public address other participants use (env PUBLIC_ADDR)")
	fs.StringVar(&f.Overrides.LocalID, "id", "", "local identity, decimal or 0x hex (env LOCAL_ID)")
	fs.StringVar(&f.Overrides.LogLevel, "log-level", "", "DEBUG, INFO, WARN or ERROR (env LOG_LEVEL)")
}

// LoadConfig loads, merges and validates the configuration for role.
func LoadConfig(f Flags, role cluster.Role, getenv func(string) string) (*config.Config, error) {
	path := f.ConfigFile
	if path == "" && getenv != nil {
		path = getenv("CONFIG_FILE")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	f.Overrides.Role = role.String()
	cfg.Merge(f.Overrides)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Base is the set of components every profilesync process runs with.
type Base struct {
	Config    *config.Config
	Log       *slog.Logger
	Role      cluster.Role
	LocalID   cluster.Identity
	Session   *cluster.Session
	Store     storage.Store
	Local     *profile.LocalStore
	Cache     cache.Cache
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Scheduler *maintenance.Scheduler

	closers []func() error
}

// Bootstrap builds the shared components from a validated config. Close
// releases them.
func Bootstrap(ctx context.Context, cfg *config.Config, logOut io.Writer) (*Base, error) {
	role, err := cfg.ParsedRole()
	if err != nil {
		return nil, err
	}
	localID, err := cfg.Identity()
	if err != nil {
		return nil, err
	}

	log := cfg.Logger(logOut).With("id", localID)
	b := &Base{
		Config:  cfg,
		Log:     log,
		Role:    role,
		LocalID: localID,
		Session: cluster.NewSession(role),
	}

	if err := b.openStore(); err != nil {
		b.Close()
		return nil, err
	}
	b.Local = profile.NewLocalStore(b.Store, cfg.ProfilePath, log)

	if err := b.openCache(ctx); err != nil {
		b.Close()
		return nil, err
	}

	b.Registry = prometheus.NewRegistry()
	b.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	b.Metrics = metrics.New(b.Registry)
	b.Scheduler = maintenance.NewScheduler(log)

	return b, nil
}

func (b *Base) openStore() error {
	switch b.Config.StorageBackend {
	case config.BackendMemory:
		b.Store = storage.NewMemoryStore()
	case config.BackendBadger:
		db, err := storage.OpenBadgerStore(b.Config.BadgerPath)
		if err != nil {
			return fmt.Errorf("database opening failed: %w", err)
		}
		b.Store = db
		b.closers = append(b.closers, func() error {
			b.Log.Info("Closing BadgerDB")
			return db.Close()
		})
	default:
		b.Store = storage.NewFileStore(b.Config.StorageRoot)
	}
	b.Log.Info("Profile storage ready", "backend", b.Config.StorageBackend)
	return nil
}

func (b *Base) openCache(ctx context.Context) error {
	if b.Config.RedisURL == "" {
		b.Cache = cache.NewMemoryCache()
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rc, err := cache.DialRedis(dialCtx, b.Config.RedisURL)
	if err != nil {
		return err
	}
	b.Cache = rc
	b.closers = append(b.closers, rc.Close)
	b.Log.Info("Profile cache connected", "backend", "redis")
	return nil
}

// Close releases everything Bootstrap opened, in reverse order.
func (b *Base) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	b.closers = nil
	return errors.Join(errs...)
}

// MountCommon adds /health and /metrics to r.
func (b *Base) MountCommon(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.HandlerFor(b.Registry, promhttp.HandlerOpts{Registry: b.Registry}))
}

// NewServer builds an HTTP server with the timeouts both binaries use.
func NewServer(handler http.Handler) *http.Server {
	return &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Serve runs srv on ln until ctx is cancelled, then shuts it down gracefully.
// It returns nil after a clean shutdown.
func Serve(ctx context.Context, srv *http.Server, ln net.Listener, log *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("Listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	<-errCh
	return nil
}
