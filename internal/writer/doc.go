// Package writer persists readings to the sensor_data table.
//
// ReadingWriter consumes a reading subscription and inserts rows in batches
// with ON CONFLICT DO NOTHING, so a replayed history frame never duplicates
// a row. Writes are append-only.
package writer
