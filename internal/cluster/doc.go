// Package cluster holds the small set of types shared by every profilesync process:
// participant identities, the host/peer role tag, the session state flag, and the
// HTTP helpers used for host <-> peer communication.
//
// # Overview
//
// A profilesync session has one host and any number of peers. The host is the
// authority: it accepts peer registrations, pushes the registry to newcomers, and
// sweeps entries for participants that left. Peers register with the host and
// receive "profileInfo" messages from it.
//
//	              ┌──────────────┐
//	              │     Host     │
//	              │              │
//	              │ - Membership │
//	              │ - Registry   │
//	              │ - Sweeper    │
//	              └──────┬───────┘
//	                     │ profileInfo
//	      ┌──────────────┼──────────────┐
//	      │              │              │
//	┌─────▼─────┐ ┌─────▼─────┐ ┌─────▼─────┐
//	│  Peer A   │ │  Peer B   │ │  Peer C   │
//	│ Registry  │ │ Registry  │ │ Registry  │
//	│ LocalSlot │ │ LocalSlot │ │ LocalSlot │
//	└───────────┘ └───────────┘ └───────────┘
//
// # Core Types
//
// Identity: 64-bit account identifier of a participant. Printed and parsed as
// hexadecimal with a 0x prefix; decimal input is also accepted.
//
// Participant: an Identity together with the base URL other processes use to
// reach it.
//
// Role: RoleHost or RolePeer. Protocol operations consult the role once at
// their start instead of scattering boolean checks.
//
// Session: whether this process currently runs an active session, and in which
// role. The sweep only runs while the session is an active host.
//
// # Communication Protocol
//
// All control traffic is HTTP/JSON:
//
// Registration (POST /register):
//   - A peer announces its Participant and its current profile record
//   - The host answers with the session identifier
//
// Leave (POST /leave):
//   - A peer announces a clean shutdown
//
// Profile messages (POST /message/profileInfo):
//   - Binary payload, see internal/profile for the layout
//   - The sender's public address travels in the X-Profilesync-From header
//
// # Concurrency Model
//
// Session is safe for concurrent use. The HTTP helpers share one client with a
// 5 second timeout and hold no locks during network I/O.
package cluster
