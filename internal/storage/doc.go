// Package storage keeps an optional history of executed actions and answers
// per-period counts from it.
//
// Drivers:
//   - "file": JSON Lines, dependency-free
//   - "sqlite": SQLite database file (modernc.org/sqlite, pure Go)
package storage
