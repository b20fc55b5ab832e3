// Package main implements the profilesync host, the authority of a session.
//
// The host is responsible for:
//   - Admitting participants and tracking who is connected
//   - Sending every joining participant the full profile registry
//   - Broadcasting each new or updated profile to everyone connected
//   - Evicting the profiles of participants who left or stopped answering
//
// HTTP API:
//
//	POST /register          join (or re-join) with an optional profile
//	POST /leave             leave the session
//	GET  /participants      connected participants
//	GET  /profiles          registry snapshot
//	GET  /profiles/{id}     one profile
//	GET  /health, /metrics
//
// Example usage:
//
//	ROLE=host LOCAL_ID=0x1 LISTEN_ADDR=:8080 PUBLIC_ADDR=http://localhost:8080 ./host
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
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/profilesync/internal/app"
	"github.com/dreamware/profilesync/internal/cluster"
	"github.com/dreamware/profilesync/internal/maintenance"
	"github.com/dreamware/profilesync/internal/membership"
	"github.com/dreamware/profilesync/internal/profile"
	"github.com/dreamware/profilesync/internal/registry"
	"github.com/dreamware/profilesync/internal/replication"
	"github.com/dreamware/profilesync/internal/transport"
)

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
		Use:          "host",
		Short:        "Run a profilesync session host",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig(flags, cluster.RoleHost, os.Getenv)
			if err != nil {
				return err
			}
			base, err := app.Bootstrap(cmd.Context(), cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer base.Close()

			srv, err := newServer(base)
			if err != nil {
				return err
			}
			return srv.run(cmd.Context())
		},
	}
	app.BindFlags(cmd, &flags)
	return cmd
}

// server is the host runtime: membership, registry and the replication
// protocol, exposed over HTTP.
type server struct {
	base      *app.Base
	log       *slog.Logger
	members   *membership.List
	monitor   *membership.HealthMonitor
	registry  *registry.Registry
	sweeper   *maintenance.Sweeper
	transport *transport.HTTP
	proto     *replication.Protocol
	sessionID string
}

func newServer(base *app.Base) (*server, error) {
	cfg := base.Config
	log := base.Log

	s := &server{
		base:      base,
		log:       log,
		members:   membership.NewList(log),
		monitor:   membership.NewHealthMonitor(cfg.HealthInterval, log),
		transport: transport.NewHTTP(cfg.PublicAddr, log),
		sessionID: uuid.NewString(),
	}

	reconciler := maintenance.NewCacheReconciler(base.Role, base.Cache, base.Scheduler, cfg.DebounceDelay, log, base.Metrics)
	s.registry = registry.New(base.LocalID, base.Local, base.Session, reconciler, log, base.Metrics)
	s.sweeper = maintenance.NewSweeper(s.registry, s.members, base.Session, base.Scheduler, cfg.SweepInterval, log, base.Metrics)

	proto, err := replication.New(replication.Options{
		Role:       cluster.RoleHost,
		LocalID:    base.LocalID,
		Transport:  s.transport,
		Membership: s.members,
		Registry:   s.registry,
		Local:      base.Local,
		Sweeper:    s.sweeper,
		Session:    base.Session,
		Log:        log,
		Metrics:    base.Metrics,
	})
	if err != nil {
		return nil, err
	}
	s.proto = proto

	s.monitor.SetOnUnhealthy(func(id cluster.Identity) {
		if s.members.Remove(id) {
			log.Warn("Removed unresponsive participant", "participant", id)
		}
	})
	return s, nil
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	s.base.MountCommon(r)
	r.Post("/register", s.handleRegister)
	r.Post("/leave", s.handleLeave)
	r.Get("/participants", s.handleListParticipants)
	r.Get("/profiles", s.handleListProfiles)
	r.Get("/profiles/{id}", s.handleGetProfile)
	return r
}

func (s *server) run(ctx context.Context) error {
	if err := s.proto.Start(); err != nil {
		return err
	}
	defer s.proto.Teardown()

	ln, err := net.Listen("tcp", s.base.Config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.base.Scheduler.Run(gctx) })
	g.Go(func() error { return app.Serve(gctx, app.NewServer(s.routes()), ln, s.log) })
	g.Go(func() error {
		s.monitor.Start(gctx, s.members.All)
		return nil
	})

	s.log.Info("Host started", "session", s.sessionID, "public", s.base.Config.PublicAddr)
	err = g.Wait()
	s.log.Info("Host stopped")
	return err
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	p := req.Participant
	if p.Addr == "" {
		http.Error(w, "missing addr", http.StatusBadRequest)
		return
	}
	if p.ID == s.base.LocalID {
		http.Error(w, "identity in use by host", http.StatusConflict)
		return
	}

	joined := s.members.Add(p)
	if req.Profile != nil {
		rec := profile.NewRecord(req.Profile.Version, req.Profile.Payload)
		if joined {
			s.proto.AddAndDistribute(r.Context(), p.Addr, p.ID, rec)
		} else {
			s.registry.Upsert(p.ID, rec)
			s.proto.BroadcastUpdate(r.Context(), p.ID, rec)
		}
	} else if joined {
		s.proto.OnPeerJoin(r.Context(), p.Addr)
	}

	writeJSON(w, cluster.RegisterResponse{
		SessionID: s.sessionID,
		Host:      cluster.Participant{ID: s.base.LocalID, Addr: s.base.Config.PublicAddr},
	})
}

func (s *server) handleLeave(w http.ResponseWriter, r *http.Request) {
	var req cluster.LeaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	s.members.Remove(req.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleListParticipants(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, struct {
		SessionID    string                `json:"session_id"`
		Participants []cluster.Participant `json:"participants"`
	}{SessionID: s.sessionID, Participants: s.members.All()})
}

func toEntry(id cluster.Identity, rec profile.Record) cluster.ProfileEntry {
	return cluster.ProfileEntry{ID: id, ProfileDocument: cluster.ProfileDocument{Version: rec.Version, Payload: rec.Payload}}
}

func (s *server) handleListProfiles(w http.ResponseWriter, _ *http.Request) {
	entries := lo.Map(s.registry.Snapshot(), func(e registry.Entry, _ int) cluster.ProfileEntry {
		return toEntry(e.ID, e.Record)
	})
	writeJSON(w, struct {
		Profiles []cluster.ProfileEntry `json:"profiles"`
	}{Profiles: entries})
}

func (s *server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	id, err := cluster.ParseIdentity(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}
	rec, ok := s.registry.Get(id)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, toEntry(id, rec))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
