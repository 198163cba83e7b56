// Package room owns the in-memory room registry: which rooms exist and which
// members are in each.
//
// The registry is the only state shared across connections. Every operation
// on it is serialized behind a single mutex; callers MUST NOT perform
// outbound delivery while an operation is in flight (snapshots are returned
// by value for that reason).
package room
