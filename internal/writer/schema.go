package writer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rickgao/skysense/internal/model"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sensor_data (
		id          BIGSERIAL PRIMARY KEY,
		sensor_id   VARCHAR(50) NOT NULL,
		temperature DOUBLE PRECISION NOT NULL,
		humidity    DOUBLE PRECISION NOT NULL,
		pressure    DOUBLE PRECISION NOT NULL,
		reading_ts  TIMESTAMPTZ NOT NULL,
		received_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		source      VARCHAR(16) NOT NULL DEFAULT 'live',
		session_id  UUID,
		UNIQUE (sensor_id, reading_ts, source)
	)`,
	`CREATE INDEX IF NOT EXISTS sensor_data_reading_ts_idx ON sensor_data (reading_ts DESC)`,
	`CREATE INDEX IF NOT EXISTS sensor_data_sensor_ts_idx ON sensor_data (sensor_id, reading_ts DESC)`,
}

const selectColumns = `id, sensor_id, temperature, humidity, pressure, reading_ts, received_at, source, session_id`

// StoredReading is a persisted sensor_data row.
type StoredReading struct {
	ID int64 `json:"id"`
	model.SensorReading
	ReceivedAt time.Time `json:"received_at"`
	SessionID  uuid.UUID `json:"session_id"`
}

// EnsureSchema creates the sensor_data table and its indexes if missing.
func EnsureSchema(ctx context.Context, db Execer) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Recent returns the newest limit rows across all sensors, newest first.
func Recent(ctx context.Context, db Querier, limit int) ([]StoredReading, error) {
	rows, err := db.Query(ctx,
		`SELECT `+selectColumns+` FROM sensor_data ORDER BY reading_ts DESC, id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent readings: %w", err)
	}
	return scanReadings(rows)
}

// RecentForSensor returns the newest limit rows for one sensor, newest first.
func RecentForSensor(ctx context.Context, db Querier, sensorID string, limit int) ([]StoredReading, error) {
	rows, err := db.Query(ctx,
		`SELECT `+selectColumns+` FROM sensor_data WHERE sensor_id = $1 ORDER BY reading_ts DESC, id DESC LIMIT $2`,
		sensorID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query sensor readings: %w", err)
	}
	return scanReadings(rows)
}

func scanReadings(rows pgx.Rows) ([]StoredReading, error) {
	defer rows.Close()

	out := []StoredReading{}
	for rows.Next() {
		var (
			r       StoredReading
			source  string
			session pgtype.UUID
		)
		if err := rows.Scan(
			&r.ID, &r.SensorID, &r.Temperature, &r.Humidity, &r.Pressure,
			&r.Timestamp, &r.ReceivedAt, &source, &session,
		); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		r.Source = model.Source(source)
		if session.Valid {
			r.SessionID = uuid.UUID(session.Bytes)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate readings: %w", err)
	}
	return out, nil
}
