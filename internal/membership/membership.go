// Package membership tracks the participants connected to a session and
// detects the ones that silently went away.
package membership

import (
	"log/slog"
	"sync"

	"github.com/samber/lo"
	"golang.org/x/exp/slices"

	"github.com/dreamware/profilesync/internal/cluster"
)

// List is the set of currently connected participants.
// Thread-safe: All methods are safe for concurrent access.
type List struct {
	mu           sync.RWMutex
	participants []cluster.Participant
	log          *slog.Logger
}

func NewList(log *slog.Logger) *List {
	return &List{log: log}
}

// Add registers p, replacing the address of an already known identity.
// It reports whether p is new to the session.
func (l *List) Add(p cluster.Participant) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := slices.IndexFunc(l.participants, func(q cluster.Participant) bool { return q.ID == p.ID })
	if idx >= 0 {
		l.participants[idx] = p
		return false
	}
	l.participants = append(l.participants, p)
	l.log.Info("Participant joined", "id", p.ID, "addr", p.Addr)
	return true
}

// Remove drops the participant with the given identity.
func (l *List) Remove(id cluster.Identity) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := slices.IndexFunc(l.participants, func(q cluster.Participant) bool { return q.ID == id })
	if idx < 0 {
		return false
	}
	l.participants = slices.Delete(l.participants, idx, idx+1)
	l.log.Info("Participant left", "id", id)
	return true
}

// Get returns the participant with the given identity.
func (l *List) Get(id cluster.Identity) (cluster.Participant, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return lo.Find(l.participants, func(p cluster.Participant) bool { return p.ID == id })
}

// All returns a copy of the connected participants in join order.
func (l *List) All() []cluster.Participant {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return slices.Clone(l.participants)
}

// ConnectedIdentities returns the identities of every connected participant.
func (l *List) ConnectedIdentities() map[cluster.Identity]struct{} {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return lo.SliceToMap(l.participants, func(p cluster.Participant) (cluster.Identity, struct{}) {
		return p.ID, struct{}{}
	})
}

// ForEachConnected calls fn for every participant. fn runs on a copy of the
// list, without the lock held, so it may perform network I/O.
func (l *List) ForEachConnected(fn func(addr string, id cluster.Identity)) {
	for _, p := range l.All() {
		fn(p.Addr, p.ID)
	}
}
