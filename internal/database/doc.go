// Package database provides the PostgreSQL connection pool and the
// sensor_data table used to persist readings.
//
// The gateway creates its schema at startup (EnsureSchema) and retries the
// initial connection, since the database container usually starts alongside it.
package database
