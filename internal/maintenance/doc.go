// Package maintenance runs the deferred and periodic work that keeps a
// profilesync process consistent: the main execution context, the debounced
// profile cache reconciliation, and the stale-entry sweep.
//
// # Main Execution Context
//
// Scheduler is a single goroutine that runs every scheduled callback, one at a
// time. Once(fn, delay) queues fn after delay; Every(fn, interval) queues fn on
// each tick. Callbacks never run concurrently with each other, but they do run
// concurrently with HTTP handlers, so anything they share with handlers must
// be synchronized (the registry has its own lock).
//
// A one-shot callback always eventually fires while Run is active; there is no
// cancellation of individual callbacks.
//
// # Debounce
//
// Debouncer coalesces bursts of triggers into one delayed action:
//
//	Trigger ──► flag clear? ──yes──► set flag, Once(action, delay)
//	                │
//	                no ──► coalesced (nothing scheduled)
//
//	action fires ──► run action ──► clear flag
//
// The flag is an atomic.Bool independent of the registry lock because it
// protects scheduling intent, not data.
//
// # Cache Reconciliation
//
// CacheReconciler is the registry's mutation hook. On a peer, every accepted
// registry write triggers the debouncer, whose action evicts the profiles
// category of the external cache. Hosts never reconcile.
//
// # Sweep
//
// Sweeper runs every interval on the Scheduler. While the session is an active
// host it asks membership for the connected identities and removes every
// registry entry outside that set. Staleness is therefore bounded by one
// interval.
package maintenance
