// Package queue provides an admission-controlled execution queue.
//
// A Queue accepts units of work without blocking and launches them in FIFO
// order while two bounds hold: at most MaxConcurrent units run at once, and
// the number of completions recorded in the trailing Window plus the number
// of running units stays below MaxThroughput. Every completion records a
// timestamp, frees its slot, and immediately re-runs the admission decision.
//
// Each submitted unit resolves its Handle exactly once, with the unit's own
// result or error. A unit that panics fails only its own Handle.
package queue
