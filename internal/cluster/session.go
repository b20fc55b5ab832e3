package cluster

import "sync/atomic"

// Session records the role of this process and whether its session is running.
type Session struct {
	role   Role
	active atomic.Bool
}

func NewSession(role Role) *Session {
	return &Session{role: role}
}

func (s *Session) Role() Role { return s.role }

func (s *Session) Activate()   { s.active.Store(true) }
func (s *Session) Deactivate() { s.active.Store(false) }

func (s *Session) IsActive() bool { return s.active.Load() }

// IsActiveHost reports whether this process is currently serving a session as host.
func (s *Session) IsActiveHost() bool {
	return s.role == RoleHost && s.active.Load()
}
