// Package database provides the SQLite connection and migration runner
// for HTD Core.
//
// The DB type wraps database/sql with the pragmas the rest of the system
// assumes (foreign keys on, WAL when configured, busy timeout) and a pool
// restricted to SQLite's single-writer model. Schema changes are applied
// through embedded SQL migrations registered by the migrations package.
package database
