// Package storage provides the persistence layer for the scheduling backend.
//
// It currently supports:
//   - Calendar events (the source of truth the scheduler rehydrates from)
//   - A string settings store (e.g. the wake webhook target)
//   - Notification dedup state (to survive restarts)
package storage
