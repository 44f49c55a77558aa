// Package unitconf models the runtime configuration document and the pure
// operations the control plane applies to it.
//
// A document maps listener sockets to a routing table reference and an
// optional TLS bundle list, and routing table names to ordered route lists.
// Order matters: the runtime picks the first matching route.
//
// Merge, Unmerge, InsertPriorityRoute and RemovePriorityRoute never mutate
// their inputs and never fail.
package unitconf
