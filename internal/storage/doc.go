// Package storage provides the raw slot primitives the local profile store is
// built on: read a whole blob by path, write a whole blob by path.
//
// # Overview
//
// A slot is a named blob that is always read and written in full. profilesync
// only ever uses one slot (the local user's profile), but the interface keeps
// the path explicit so several profiles can share one backend in tests.
//
//	┌─────────────────────────────────────┐
//	│       profile.LocalStore            │
//	│   (version + payload layout)        │
//	└─────────────────────────────────────┘
//	                 │
//	                 ▼
//	┌─────────────────────────────────────┐
//	│         storage.Store               │
//	│        Read / Write / Delete        │
//	└─────────────────────────────────────┘
//	                 │
//	    ┌────────────┼────────────┐
//	    ▼            ▼            ▼
//	┌────────┐  ┌────────┐  ┌────────┐
//	│ Memory │  │  File  │  │ Badger │
//	│ Store  │  │ Store  │  │ Store  │
//	└────────┘  └────────┘  └────────┘
//
// # Implementations
//
// MemoryStore: map guarded by sync.RWMutex. Used by tests and by the
// "memory" storage backend.
//
// FileStore: one file per slot below a root directory. Writes go through a
// temporary file and a rename so a crash never leaves a half-written slot.
//
// BadgerStore: slots are keys in an embedded BadgerDB. Useful when several
// processes on one machine share a data directory.
//
// # Errors
//
// ErrSlotNotFound: the slot has never been written (or was deleted).
// Every other error is a backend failure; callers above this package treat
// both the same way (no local record).
//
// # Concurrency
//
// All implementations are safe for concurrent use. Values are copied on the
// way in and out so callers may reuse their buffers.
package storage
