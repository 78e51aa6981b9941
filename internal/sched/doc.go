// Package sched implements the scheduling core: task representation, named
// callback registries, and the background dispatch loop.
//
// The loop owns the set of pending firings (notify and action instants) and
// is responsible only for:
//   - admitting and cancelling tasks under a concurrency-safe contract
//   - firing each due callback exactly once, in due-time order
//   - re-admitting repeating tasks so exactly one live firing exists per task
package sched
