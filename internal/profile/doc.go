// Package profile defines the profile record replicated between participants,
// its binary wire encoding, and the store for the local user's own record.
//
// # Record
//
// A Record is a version number plus an opaque payload. profilesync never looks
// inside the payload; the owning application does. Records are treated as
// immutable: an update replaces the whole record.
//
// # Wire Layout
//
// The "profileInfo" message body, all integers little endian:
//
//	[0:8)   identity        uint64
//	[8:12)  version         int32
//	[12:16) payload length  uint32
//	[16:..) payload         raw bytes
//
// Decode fails with ErrMalformedMessage when fewer bytes remain than a field
// needs. Bytes after the payload are ignored. There is no checksum.
//
// # Local Slot Layout
//
// The local record is stored in a single slot (default
// "players/user/profile_info"):
//
//	[0:4)  version  int32
//	[4:..) payload  remaining bytes
//
// The slot is re-read on every Load. A missing, unreadable or short slot is
// reported as "no local record"; Save failures are logged and dropped.
package profile
