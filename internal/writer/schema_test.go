package writer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rickgao/skysense/internal/model"
)

type fakeExecer struct {
	stmts []string
	err   error
}

func (e *fakeExecer) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	if e.err != nil {
		return pgconn.CommandTag{}, e.err
	}
	e.stmts = append(e.stmts, sql)
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

// fakeRows serves pre-built sensor_data rows.
type fakeRows struct {
	rows   [][]any
	idx    int
	err    error
	closed bool
}

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return r.rows[r.idx-1], nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.idx-1]
	if len(dest) != len(row) {
		return errors.New("column count mismatch")
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *int64:
			*p = row[i].(int64)
		case *string:
			*p = row[i].(string)
		case *float64:
			*p = row[i].(float64)
		case *time.Time:
			*p = row[i].(time.Time)
		case *pgtype.UUID:
			*p = row[i].(pgtype.UUID)
		default:
			return errors.New("unsupported scan target")
		}
	}
	return nil
}

type fakeQuerier struct {
	rows *fakeRows
	err  error
	sql  string
	args []any
}

func (q *fakeQuerier) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	q.sql, q.args = sql, args
	if q.err != nil {
		return nil, q.err
	}
	return q.rows, nil
}

func TestEnsureSchema(t *testing.T) {
	db := &fakeExecer{}
	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if len(db.stmts) != 3 {
		t.Fatalf("statements = %d, want 3", len(db.stmts))
	}
	if !strings.Contains(db.stmts[0], "CREATE TABLE IF NOT EXISTS sensor_data") {
		t.Errorf("first statement = %q, want sensor_data table", db.stmts[0])
	}
	if !strings.Contains(db.stmts[0], "UNIQUE (sensor_id, reading_ts, source)") {
		t.Error("sensor_data is missing its dedup constraint")
	}
}

func TestEnsureSchema_Error(t *testing.T) {
	cause := errors.New("permission denied")
	err := EnsureSchema(context.Background(), &fakeExecer{err: cause})
	if !errors.Is(err, cause) {
		t.Errorf("EnsureSchema() error = %v, want wrapped %v", err, cause)
	}
}

func TestRecent(t *testing.T) {
	session := uuid.New()
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := &fakeRows{rows: [][]any{
		{int64(2), "sensor_2", 24.1, 55.0, 1011.3, ts.Add(time.Second), ts.Add(2 * time.Second), "live", pgtype.UUID{Bytes: session, Valid: true}},
		{int64(1), "simulated_0", 30.0, 60.5, 1020.0, ts, ts, "simulation", pgtype.UUID{}},
	}}
	q := &fakeQuerier{rows: rows}

	got, err := Recent(context.Background(), q, 50)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if !rows.closed {
		t.Error("rows were not closed")
	}
	if len(q.args) != 1 || q.args[0] != 50 {
		t.Errorf("query args = %v, want [50]", q.args)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != 2 || got[0].SensorID != "sensor_2" || got[0].Source != model.SourceLive {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[0].SessionID != session {
		t.Errorf("got[0].SessionID = %v, want %v", got[0].SessionID, session)
	}
	if got[1].SessionID != uuid.Nil || got[1].Source != model.SourceSimulation {
		t.Errorf("got[1] = %+v, want nil session and simulation source", got[1])
	}
}

func TestRecentForSensor(t *testing.T) {
	q := &fakeQuerier{rows: &fakeRows{}}
	got, err := RecentForSensor(context.Background(), q, "sensor_4", 5)
	if err != nil {
		t.Fatalf("RecentForSensor() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("RecentForSensor() = %v, want empty non-nil slice", got)
	}
	if !strings.Contains(q.sql, "WHERE sensor_id = $1") {
		t.Errorf("sql = %q, want sensor filter", q.sql)
	}
	if q.args[0] != "sensor_4" || q.args[1] != 5 {
		t.Errorf("args = %v, want [sensor_4 5]", q.args)
	}
}

func TestRecent_Errors(t *testing.T) {
	cause := errors.New("relation does not exist")
	if _, err := Recent(context.Background(), &fakeQuerier{err: cause}, 10); !errors.Is(err, cause) {
		t.Errorf("query error = %v, want wrapped %v", err, cause)
	}

	iterErr := errors.New("conn closed")
	q := &fakeQuerier{rows: &fakeRows{err: iterErr}}
	if _, err := Recent(context.Background(), q, 10); !errors.Is(err, iterErr) {
		t.Errorf("iteration error = %v, want wrapped %v", err, iterErr)
	}
}
