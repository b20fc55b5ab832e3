// Package main implements the profilesync peer, a session participant that
// keeps a replica of every other participant's profile.
//
// The peer:
//   - Registers with the host, sending its own profile
//   - Accepts profileInfo messages, but only from the host
//   - Serves its own profile and lets the user replace it
//   - Serves replicated profiles through the profile cache
//   - Leaves the session on shutdown
//
// HTTP API:
//
//	POST /message/profileInfo  inbound record from the host
//	GET  /profile              local profile
//	PUT  /profile              replace the local profile and re-register
//	GET  /profiles             replicated registry
//	GET  /profiles/{id}        one profile, read through the cache
//	GET  /health, /metrics
//
// Example usage:
//
//	ROLE=peer LOCAL_ID=0x1001 HOST_ADDR=http://localhost:8080 \
//	LISTEN_ADDR=:8081 PUBLIC_ADDR=http://localhost:8081 ./peer
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/profilesync/internal/app"
	"github.com/dreamware/profilesync/internal/cache"
	"github.com/dreamware/profilesync/internal/cluster"
	"github.com/dreamware/profilesync/internal/maintenance"
	"github.com/dreamware/profilesync/internal/profile"
	"github.com/dreamware/profilesync/internal/registry"
	"github.com/dreamware/profilesync/internal/replication"
	"github.com/dreamware/profilesync/internal/transport"
)

const (
	registerAttempts = 10
	leaveTimeout     = 3 * time.Second
)

// registerRetryDelay is a variable so tests can shorten it.
var registerRetryDelay = 400 * time.Millisecond

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags app.Flags
	cmd := &cobra.Command{
		Use:          "peer",
		Short:        "Join a profilesync session as a peer",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig(flags, cluster.RolePeer, os.Getenv)
			if err != nil {
				return err
			}
			base, err := app.Bootstrap(cmd.Context(), cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer base.Close()

			p, err := newPeer(base)
			if err != nil {
				return err
			}
			return p.run(cmd.Context())
		},
	}
	app.BindFlags(cmd, &flags)
	cmd.Flags().StringVar(&flags.Overrides.HostAddr, "host", "", "host URL, must equal the host's public address (env HOST_ADDR)")
	return cmd
}

// peer is the participant runtime.
type peer struct {
	base       *app.Base
	log        *slog.Logger
	registry   *registry.Registry
	reconciler *maintenance.CacheReconciler
	transport  *transport.HTTP
	proto      *replication.Protocol
	hostAddr   string

	mu        sync.Mutex
	sessionID string
}

func newPeer(base *app.Base) (*peer, error) {
	cfg := base.Config
	log := base.Log

	p := &peer{
		base:      base,
		log:       log,
		transport: transport.NewHTTP(cfg.PublicAddr, log),
		hostAddr:  strings.TrimRight(cfg.HostAddr, "/"),
	}

	p.reconciler = maintenance.NewCacheReconciler(base.Role, base.Cache, base.Scheduler, cfg.DebounceDelay, log, base.Metrics)
	p.registry = registry.New(base.LocalID, base.Local, base.Session, p.reconciler, log, base.Metrics)

	proto, err := replication.New(replication.Options{
		Role:      cluster.RolePeer,
		LocalID:   base.LocalID,
		HostAddr:  p.hostAddr,
		Transport: p.transport,
		Inbound:   p.transport,
		Registry:  p.registry,
		Local:     base.Local,
		Session:   base.Session,
		Log:       log,
		Metrics:   base.Metrics,
	})
	if err != nil {
		return nil, err
	}
	p.proto = proto
	return p, nil
}

func (p *peer) routes() http.Handler {
	r := chi.NewRouter()
	p.base.MountCommon(r)
	p.transport.Routes(r)
	r.Get("/profile", p.handleGetLocal)
	r.Put("/profile", p.handlePutLocal)
	r.Get("/profiles", p.handleListProfiles)
	r.Get("/profiles/{id}", p.handleGetProfile)
	return r
}

func (p *peer) run(ctx context.Context) error {
	if err := p.proto.Start(); err != nil {
		return err
	}
	defer p.proto.Teardown()

	ln, err := net.Listen("tcp", p.base.Config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.base.Scheduler.Run(gctx) })
	g.Go(func() error { return app.Serve(gctx, app.NewServer(p.routes()), ln, p.log) })
	g.Go(func() error { return p.register(gctx) })

	err = g.Wait()

	leaveCtx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	p.leave(leaveCtx)

	p.log.Info("Peer stopped")
	return err
}

// register joins the session, retrying while the host is not yet reachable.
func (p *peer) register(ctx context.Context) error {
	var lastErr error
	for i := 0; i < registerAttempts; i++ {
		lastErr = p.registerOnce(ctx)
		if lastErr == nil {
			return nil
		}
		p.log.Warn("Register retry", "attempt", i+1, "err", lastErr)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(registerRetryDelay):
		}
	}
	return fmt.Errorf("failed to register with host: %w", lastErr)
}

func (p *peer) registerOnce(ctx context.Context) error {
	req := cluster.RegisterRequest{
		Participant: cluster.Participant{ID: p.base.LocalID, Addr: p.base.Config.PublicAddr},
	}
	if rec, ok := p.base.Local.Load(); ok {
		req.Profile = &cluster.ProfileDocument{Version: rec.Version, Payload: rec.Payload}
	}

	var resp cluster.RegisterResponse
	if err := cluster.PostJSON(ctx, p.hostAddr+"/register", req, &resp); err != nil {
		return err
	}

	p.mu.Lock()
	p.sessionID = resp.SessionID
	p.mu.Unlock()

	p.log.Info("Registered with host", "host", p.hostAddr, "session", resp.SessionID)
	return nil
}

func (p *peer) leave(ctx context.Context) {
	err := cluster.PostJSON(ctx, p.hostAddr+"/leave", cluster.LeaveRequest{ID: p.base.LocalID}, nil)
	if err != nil {
		p.log.Warn("Leave failed", "host", p.hostAddr, "err", err)
		return
	}
	p.log.Info("Left session", "host", p.hostAddr)
}

func (p *peer) handleGetLocal(w http.ResponseWriter, _ *http.Request) {
	rec, ok := p.base.Local.Load()
	if !ok {
		http.Error(w, "no local profile", http.StatusNotFound)
		return
	}
	writeJSON(w, cluster.ProfileDocument{Version: rec.Version, Payload: rec.Payload})
}

func (p *peer) handlePutLocal(w http.ResponseWriter, r *http.Request) {
	var doc cluster.ProfileDocument
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	p.base.Local.Save(profile.NewRecord(doc.Version, doc.Payload))

	if err := p.registerOnce(r.Context()); err != nil {
		p.log.Warn("Re-register after profile change failed", "err", err)
		http.Error(w, "host unreachable", http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (p *peer) handleListProfiles(w http.ResponseWriter, _ *http.Request) {
	entries := lo.Map(p.registry.Snapshot(), func(e registry.Entry, _ int) cluster.ProfileEntry {
		return toEntry(e.ID, e.Record)
	})
	writeJSON(w, struct {
		Profiles []cluster.ProfileEntry `json:"profiles"`
	}{Profiles: entries})
}

// handleGetProfile serves one profile, reading through the profile cache.
// The local profile bypasses the cache since its changes never reach the
// registry.
func (p *peer) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	id, err := cluster.ParseIdentity(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}
	cacheable := id != p.base.LocalID
	key := id.String()

	if cacheable {
		data, ok, err := p.base.Cache.Get(r.Context(), cache.CategoryProfiles, key)
		switch {
		case err != nil:
			p.log.Warn("Profile cache read failed", "key", key, "err", err)
		case ok:
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "hit")
			_, _ = w.Write(data)
			return
		}
	}

	rec, ok := p.registry.Get(id)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	data, err := json.Marshal(toEntry(id, rec))
	if err != nil {
		http.Error(w, "encode", http.StatusInternalServerError)
		return
	}
	if cacheable {
		if err := p.base.Cache.Put(r.Context(), cache.CategoryProfiles, key, data); err != nil {
			p.log.Warn("Profile cache write failed", "key", key, "err", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", "miss")
	_, _ = w.Write(data)
}

func toEntry(id cluster.Identity, rec profile.Record) cluster.ProfileEntry {
	return cluster.ProfileEntry{ID: id, ProfileDocument: cluster.ProfileDocument{Version: rec.Version, Payload: rec.Payload}}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
