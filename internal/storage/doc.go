// Package storage persists pending relay messages.
//
// A Backend holds one FIFO queue per recipient. Two implementations share the
// same observable behavior:
//   - memory: a process-local map, lost on restart
//   - sql: rows in a single table through database/sql (sqlite via modernc.org/sqlite)
//
// Open selects the implementation from a driver name. Retrieval is destructive:
// a message handed out by RetrieveMessages is never returned again.
package storage
