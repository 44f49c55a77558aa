// Package reconcile turns the fact store into the runtime's routing document
// and keeps in-flight ACME challenges routed while it does.
//
// Translate is pure. Engine owns the read-modify-write cycle against the
// runtime: every change is computed from a fresh GET and written back with a
// single whole-document PUT while the engine lock is held, and registered
// challenges are re-asserted at the head of their tables on every write.
package reconcile
