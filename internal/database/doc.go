// Package database provides SQLite-based storage of proxy check history.
//
// The HistoryDB stores:
//   - Every aggregate report as JSON, with a summary for listings
//   - Per-proxy performance counters (checks, successful checks, last check)
//
// A check counts as successful when at least one probe returned data.
// The database is a single file opened through modernc.org/sqlite, which
// needs no cgo.
package database
