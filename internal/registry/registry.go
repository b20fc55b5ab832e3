// Package registry holds the synchronized in-memory map of peer identities to
// their profile records.
package registry

import (
	"log/slog"
	"sync"

	"github.com/dreamware/profilesync/internal/cluster"
	"github.com/dreamware/profilesync/internal/metrics"
	"github.com/dreamware/profilesync/internal/profile"
)

// Entry is one identity/record pair returned by Snapshot.
type Entry struct {
	ID     cluster.Identity
	Record profile.Record
}

// LocalProfile yields the local user's own record. profile.LocalStore
// satisfies it.
type LocalProfile interface {
	Load() (profile.Record, bool)
}

// SessionState reports whether this process currently runs a session as host.
// cluster.Session satisfies it.
type SessionState interface {
	IsActiveHost() bool
}

// MutationHook is told about every accepted Upsert, after the lock is released.
type MutationHook interface {
	OnRegistryMutated()
}

// Registry maps peer identities to profile records and is the only shared
// mutable state of a profilesync process.
//
// Invariants:
//   - The local identity is never a key; its record lives in the local store
//   - Keys are peers that are connected, or were until at most one sweep ago
//   - Every operation takes the single mutex for its whole duration, so no
//     caller ever observes a partially updated map
//
// Records are copied on the way in and out; callers may not mutate stored
// payloads through returned values.
//
// Concurrency Model:
//   - One sync.Mutex guards the map; access is whole-map and low contention
//   - The mutation hook and logging run without the lock held
type Registry struct {
	// profiles maps a peer identity to its latest record.
	profiles map[cluster.Identity]profile.Record

	local   LocalProfile
	session SessionState
	hook    MutationHook
	log     *slog.Logger
	metrics *metrics.Metrics

	// localID is the identity of this process' user; never stored.
	localID cluster.Identity

	mu sync.Mutex
}

// New creates an empty registry for the given local identity.
//
// Parameters:
//   - localID: identity of the local user, rejected by Upsert
//   - local: source of the local user's own record for Get(localID)
//   - session: gate for Sweep, which only runs on an active host
//   - hook: mutation hook (maintenance task), may be nil
//   - log: structured logger
//   - m: metrics, may be nil
//
// Example:
//
//	reg := registry.New(localID, localStore, session, reconciler, log, m)
//	reg.Upsert(0x1001, profile.NewRecord(1, []byte("x")))
func New(
	localID cluster.Identity,
	local LocalProfile,
	session SessionState,
	hook MutationHook,
	log *slog.Logger,
	m *metrics.Metrics,
) *Registry {
	return &Registry{
		profiles: make(map[cluster.Identity]profile.Record),
		localID:  localID,
		local:    local,
		session:  session,
		hook:     hook,
		log:      log,
		metrics:  m,
	}
}

// LocalID returns the identity the registry refuses to store.
func (r *Registry) LocalID() cluster.Identity { return r.localID }

// Upsert inserts or replaces the record for id. Records for the local
// identity are ignored and false is returned; otherwise the mutation hook is
// fired and true is returned.
func (r *Registry) Upsert(id cluster.Identity, rec profile.Record) bool {
	if id == r.localID {
		r.log.Debug("Ignoring profile update for local identity", "id", id)
		return false
	}

	r.mu.Lock()
	r.profiles[id] = rec.Clone()
	size := len(r.profiles)
	r.mu.Unlock()

	r.metrics.SetRegistryEntries(size)
	r.log.Debug("Profile stored", "id", id, "version", rec.Version, "size", len(rec.Payload))

	if r.hook != nil {
		r.hook.OnRegistryMutated()
	}
	return true
}

// Get returns the record for id. The local identity is answered from the
// local store, never from the map.
func (r *Registry) Get(id cluster.Identity) (profile.Record, bool) {
	r.log.Debug("Requesting profile info", "id", id)

	if id == r.localID {
		return r.local.Load()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.profiles[id]
	if !ok {
		return profile.Record{}, false
	}
	return rec.Clone(), true
}

// Snapshot copies every entry. Order is unspecified.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]Entry, 0, len(r.profiles))
	for id, rec := range r.profiles {
		entries = append(entries, Entry{ID: id, Record: rec.Clone()})
	}
	return entries
}

// Keys lists the identities currently stored. Order is unspecified.
func (r *Registry) Keys() []cluster.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]cluster.Identity, 0, len(r.profiles))
	for id := range r.profiles {
		keys = append(keys, id)
	}
	return keys
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.profiles)
}

// Clear drops every entry (session teardown).
func (r *Registry) Clear() {
	r.mu.Lock()
	r.profiles = make(map[cluster.Identity]profile.Record)
	r.mu.Unlock()

	r.metrics.SetRegistryEntries(0)
}

// Sweep removes every key not in live and returns the removed identities.
// It does nothing unless the process is an active session host.
func (r *Registry) Sweep(live map[cluster.Identity]struct{}) []cluster.Identity {
	if r.session == nil || !r.session.IsActiveHost() {
		return nil
	}

	r.mu.Lock()
	var evicted []cluster.Identity
	for id := range r.profiles {
		if _, ok := live[id]; !ok {
			delete(r.profiles, id)
			evicted = append(evicted, id)
		}
	}
	size := len(r.profiles)
	r.mu.Unlock()

	r.metrics.SetRegistryEntries(size)
	return evicted
}
