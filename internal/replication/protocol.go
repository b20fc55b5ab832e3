// Package replication keeps every participant's registry in step with the
// host. The host pushes its whole registry to each joining peer and
// broadcasts every new record; peers accept records only from the host.
package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dreamware/profilesync/internal/cluster"
	"github.com/dreamware/profilesync/internal/metrics"
	"github.com/dreamware/profilesync/internal/profile"
	"github.com/dreamware/profilesync/internal/registry"
)

// ErrInvalidState is returned when Start is called on a protocol that is
// already running or has been torn down.
var ErrInvalidState = errors.New("replication: invalid state")

// Registry is the subset of *registry.Registry the protocol drives.
type Registry interface {
	Upsert(id cluster.Identity, rec profile.Record) bool
	Snapshot() []registry.Entry
	Clear()
}

// LocalProfile yields the local user's own record.
type LocalProfile interface {
	Load() (profile.Record, bool)
}

// Inbound routes named inbound messages to a handler.
type Inbound interface {
	OnMessage(name string, h func(ctx context.Context, from string, data []byte) error)
}

// Periodic is a maintenance task registered on Start, such as the sweeper.
type Periodic interface {
	Start()
}

// Lifecycle is flipped active on Start and inactive on Teardown.
// *cluster.Session satisfies it.
type Lifecycle interface {
	Activate()
	Deactivate()
}

type state int

const (
	stateUninitialized state = iota
	stateActive
	stateCleared
)

func (s state) String() string {
	switch s {
	case stateUninitialized:
		return "uninitialized"
	case stateActive:
		return "active"
	case stateCleared:
		return "cleared"
	}
	return "unknown"
}

// Options wires a Protocol to its collaborators.
type Options struct {
	Role    cluster.Role
	LocalID cluster.Identity
	// HostAddr is the only sender a peer accepts profileInfo from.
	HostAddr string

	Transport  Transport
	Inbound    Inbound // peer only
	Membership Membership
	Registry   Registry
	Local      LocalProfile
	Sweeper    Periodic
	Session    Lifecycle

	Log     *slog.Logger
	Metrics *metrics.Metrics
}

// Protocol is the role-tagged replication state machine.
//
// Lifecycle: uninitialized -> active (Start) -> cleared (Teardown).
// Outbound sends are fire-and-forget: failures are logged and counted and
// never abort the remaining sends of a join-sync or broadcast.
type Protocol struct {
	opts Options
	log  *slog.Logger

	mu    sync.Mutex
	state state
}

// New validates the options and returns an uninitialized protocol.
func New(opts Options) (*Protocol, error) {
	if opts.Role != cluster.RoleHost && opts.Role != cluster.RolePeer {
		return nil, fmt.Errorf("%w: %d", cluster.ErrUnknownRole, int(opts.Role))
	}
	if opts.Transport == nil || opts.Registry == nil || opts.Local == nil {
		return nil, errors.New("replication: transport, registry and local profile are required")
	}
	if opts.Role == cluster.RoleHost && opts.Membership == nil {
		return nil, errors.New("replication: host needs membership")
	}
	if opts.Role == cluster.RolePeer && (opts.Inbound == nil || opts.HostAddr == "") {
		return nil, errors.New("replication: peer needs an inbound router and a host address")
	}
	opts.HostAddr = normalizeAddr(opts.HostAddr)

	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Protocol{
		opts: opts,
		log:  log.With("role", opts.Role.String()),
	}, nil
}

// Role returns the role this protocol was built for.
func (p *Protocol) Role() cluster.Role { return p.opts.Role }

// Start activates the session, registers the periodic sweep and, on a peer,
// the inbound profileInfo handler.
func (p *Protocol) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != stateUninitialized {
		return fmt.Errorf("%w: start while %s", ErrInvalidState, p.state)
	}

	if p.opts.Session != nil {
		p.opts.Session.Activate()
	}
	if p.opts.Sweeper != nil {
		p.opts.Sweeper.Start()
	}
	if p.opts.Role == cluster.RolePeer {
		p.opts.Inbound.OnMessage(cluster.MessageProfileInfo, p.HandleMessage)
	}
	p.state = stateActive

	p.log.Info("Replication started", "local_id", p.opts.LocalID)
	return nil
}

// Teardown clears the registry and ends the session. A reconciliation that
// is already scheduled still runs. Calling Teardown more than once is a no-op.
func (p *Protocol) Teardown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == stateCleared {
		return
	}
	if p.opts.Session != nil {
		p.opts.Session.Deactivate()
	}
	p.opts.Registry.Clear()
	p.state = stateCleared

	p.log.Info("Replication torn down")
}

func (p *Protocol) active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == stateActive
}

// UnicastToPeer sends one record to addr.
func (p *Protocol) UnicastToPeer(ctx context.Context, addr string, id cluster.Identity, rec profile.Record) error {
	return p.send(ctx, addr, profile.Encode(id, rec))
}

// BroadcastUpdate sends the record to every connected participant. Records
// for the local identity are never broadcast.
func (p *Protocol) BroadcastUpdate(ctx context.Context, id cluster.Identity, rec profile.Record) {
	if id == p.opts.LocalID {
		return
	}
	if p.opts.Membership == nil {
		return
	}

	data := profile.Encode(id, rec)
	p.opts.Membership.ForEachConnected(func(addr string, _ cluster.Identity) {
		_ = p.send(ctx, addr, data)
	})
}

// OnPeerJoin brings a newly joined participant up to date by sending it every
// registry entry. A peer additionally sends its own local record.
func (p *Protocol) OnPeerJoin(ctx context.Context, addr string) {
	entries := p.opts.Registry.Snapshot()
	for _, e := range entries {
		_ = p.UnicastToPeer(ctx, addr, e.ID, e.Record)
	}

	if p.opts.Role != cluster.RoleHost {
		if rec, ok := p.opts.Local.Load(); ok {
			_ = p.UnicastToPeer(ctx, addr, p.opts.LocalID, rec)
		}
	}

	p.log.Debug("Join sync sent", "addr", addr, "entries", len(entries))
}

// AddAndDistribute handles a participant joining with its record: the
// joiner first receives the current registry, then its record is stored and
// broadcast to everyone connected, the joiner included.
func (p *Protocol) AddAndDistribute(ctx context.Context, addr string, id cluster.Identity, rec profile.Record) {
	p.OnPeerJoin(ctx, addr)
	p.opts.Registry.Upsert(id, rec)
	p.BroadcastUpdate(ctx, id, rec)
}

// HandleMessage processes an inbound profileInfo payload on a peer.
//
// Returns:
//   - nil when the record was stored or deliberately ignored
//   - cluster.ErrUnknownSender when from is not the session host
//   - profile.ErrMalformedMessage when the payload cannot be decoded
func (p *Protocol) HandleMessage(_ context.Context, from string, data []byte) error {
	if p.opts.Role != cluster.RolePeer || !p.active() {
		p.opts.Metrics.IncReceived("rejected")
		p.log.Debug("Dropping profileInfo outside an active peer session", "from", from)
		return nil
	}

	if normalizeAddr(from) != p.opts.HostAddr {
		p.opts.Metrics.IncReceived("rejected")
		p.log.Warn("Dropping profileInfo from non-host sender", "from", from)
		return fmt.Errorf("%w: %s", cluster.ErrUnknownSender, from)
	}

	id, rec, err := profile.Decode(data)
	if err != nil {
		p.opts.Metrics.IncReceived("malformed")
		p.log.Warn("Dropping malformed profileInfo", "from", from, "size", len(data), "err", err)
		return err
	}

	p.opts.Registry.Upsert(id, rec)
	p.opts.Metrics.IncReceived("accepted")
	return nil
}

func (p *Protocol) send(ctx context.Context, addr string, data []byte) error {
	err := p.opts.Transport.Send(ctx, addr, cluster.MessageProfileInfo, data)
	p.opts.Metrics.IncSent(err)
	if err != nil {
		p.log.Warn("Failed to send profileInfo", "addr", addr, "err", err)
	}
	return err
}

func normalizeAddr(addr string) string {
	return strings.TrimRight(addr, "/")
}
