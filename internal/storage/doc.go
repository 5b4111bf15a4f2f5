// Package storage is the work store: the single source of truth for sessions,
// links, assignments and the join log.
//
// It is backed by SQLite (modernc.org/sqlite, cgo-free) on a single connection.
// Every multi-statement transition runs in one transaction so a crash never
// leaves a link half-moved between the reserve and a session.
package storage
