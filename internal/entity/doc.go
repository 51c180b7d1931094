// Package entity implements normalized entity state and its mutation algebra.
//
// A State holds an ordered id sequence plus an id -> record map. Every
// mutation is a pure function of (state, args) that either returns a freshly
// built State or, when nothing observable changed, the input pointer itself.
//
// # No-op Contract
//
// Consumers detect changes by pointer comparison. An operation that would not
// change ids or entities MUST return its input unchanged:
//
//	next := entity.RemoveOne(s, 42)
//	if next == s {
//	    // nothing to persist, nothing to re-render
//	}
//
// # Structural Sharing
//
// Inputs are never modified in place. When an operation only touches entities
// (e.g. UpsertOne on an existing id without reordering) the new State shares
// the previous ids slice; ReSort shares the previous entities map. Callers
// MUST treat the slices and maps returned by IDs and Entities as read-only.
//
// # Ordering
//
// Every inserting or updating operation re-sorts ids with a stable sort, so
// records the comparer considers equal keep their relative order. When no
// comparer is supplied DefaultComparer is used: records that both expose a
// numeric createdAt sort newest first; everything else compares equal.
package entity
