// Package database provides SQLite persistence for Fleet Core.
//
// It manages the database lifecycle (open, health check, close), applies
// embedded schema migrations on startup, and exposes the underlying
// *sql.DB to repository implementations in the device and topics packages.
//
// SQLite is configured with WAL mode and a busy timeout so the single
// ingestion pipeline and the read-only API can share the file safely.
package database
