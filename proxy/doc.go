// Package proxy binds Go values to records owned by a nativehandle.ObjectModel.
//
// # Proxy
//
// A Proxy holds an address and a flag saying whether it owns the record:
//
//	p, err := proxy.New(model)            // allocates, owning
//	q, err := proxy.Wrap(model, addr, false) // borrows an existing record
//
// State machine:
//
//	Unbound ──New/Wrap(own)──▶ Bound(owning)     ──Release──▶ Released
//	Unbound ──Wrap(borrow)───▶ Bound(non-owning) ──Release──▶ Released
//
// Released is indistinguishable from Unbound. Release is idempotent and
// mutually exclusive per proxy; only an owning release calls DestroyRecord.
// Every accessor on a released proxy fails with an invalid_handle error
// before reaching the object model.
//
// # Cleanup
//
// Each proxy registers a runtime cleanup that releases it once the proxy
// is unreachable. It is a backstop for forgotten releases, not a resource
// management strategy: the runtime gives no timing or ordering guarantee.
// A cleanup that destroys an owned record logs a warning through Logger;
// cleanup errors and panics are swallowed.
//
// # Shared Ownership
//
// Shared is a reference-counted alternative for records with several
// owners. Clone adds a reference, Release drops one, and the last release
// destroys the record.
//
// # Tracking
//
// Two owning proxies over one address would destroy the record twice.
// Passing a Tracker in Config turns that caller error into a
// double_ownership error at construction or SetOwned time.
package proxy
