package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rickgao/skysense/internal/connection"
	"github.com/rickgao/skysense/internal/feed"
	"github.com/rickgao/skysense/internal/model"
)

type fakeController struct {
	mu    sync.Mutex
	state model.ConnectionState
	calls []string
	err   error
}

func (c *fakeController) record(name string, next model.ConnectionState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, name)
	if c.err != nil {
		return c.err
	}
	c.state = next
	return nil
}

func (c *fakeController) Connect() error    { return c.record("connect", model.StateConnecting) }
func (c *fakeController) Disconnect() error { return c.record("disconnect", model.StateDisconnected) }
func (c *fakeController) Reconnect() error  { return c.record("reconnect", model.StateConnecting) }
func (c *fakeController) ToggleSimulation() error {
	return c.record("toggle", model.StateSimulation)
}

func (c *fakeController) IsSimulationMode() bool {
	return c.State() == model.StateSimulation
}

func (c *fakeController) State() model.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeController) Stats() connection.Stats {
	return connection.Stats{
		SessionID:  "3f2c4b1e-0000-4000-8000-000000000001",
		State:      c.State(),
		Simulating: c.IsSimulationMode(),
		Retries:    1,
	}
}

type fakeCache struct {
	readings []model.SensorReading
	err      error
}

func (c *fakeCache) Store(context.Context, model.SensorReading) error { return nil }
func (c *fakeCache) Ping(context.Context) error                       { return c.err }
func (c *fakeCache) Close() error                                     { return nil }

func (c *fakeCache) FetchLast(_ context.Context, _ string, n int) ([]model.SensorReading, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.readings[:min(n, len(c.readings))], nil
}

// fakeRows yields one sensor_data row.
type fakeRows struct {
	done bool
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT 1") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.done {
		return false
	}
	r.done = true
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	*dest[0].(*int64) = 7
	*dest[1].(*string) = "sensor_1"
	*dest[2].(*float64) = 22.5
	*dest[3].(*float64) = 50
	*dest[4].(*float64) = 1000
	*dest[5].(*time.Time) = ts
	*dest[6].(*time.Time) = ts
	*dest[7].(*string) = "live"
	*dest[8].(*pgtype.UUID) = pgtype.UUID{}
	return nil
}

type fakeDatabase struct {
	pingErr error
	sql     string
}

func (d *fakeDatabase) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	d.sql = sql
	return &fakeRows{}, nil
}

func (d *fakeDatabase) Ping(context.Context) error { return d.pingErr }

type harness struct {
	ctrl    *fakeController
	hub     *feed.Hub
	history *feed.History
	srv     *Server
	ts      *httptest.Server
}

func newHarness(t *testing.T, deps Deps) *harness {
	t.Helper()
	h := &harness{
		ctrl:    &fakeController{state: model.StateConnected},
		hub:     feed.NewHub(nil),
		history: feed.NewHistory(10),
	}
	deps.Controller = h.ctrl
	deps.Hub = h.hub
	deps.History = h.history
	deps.AccessLog = io.Discard
	h.srv = NewServer(deps, nil)
	h.ts = httptest.NewServer(h.srv.Handler())
	t.Cleanup(func() {
		h.hub.Close()
		h.ts.Close()
	})
	return h
}

func (h *harness) get(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	return h.do(t, http.MethodGet, path)
}

func (h *harness) do(t *testing.T, method, path string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, h.ts.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s body: %v", path, err)
	}
	return resp.StatusCode, body
}

func reading(id string, temp float64) model.SensorReading {
	return model.SensorReading{
		SensorID:    id,
		Temperature: temp,
		Humidity:    50,
		Pressure:    1000,
		Timestamp:   time.Now().UTC(),
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t, Deps{Cache: &fakeCache{err: errors.New("down")}})

	status, body := h.get(t, "/health")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if body["status"] != "healthy" || body["state"] != "connected" {
		t.Errorf("body = %v", body)
	}
	if body["database"] != "disabled" {
		t.Errorf("database = %v, want disabled", body["database"])
	}
	if body["cache"] != "unhealthy" {
		t.Errorf("cache = %v, want unhealthy", body["cache"])
	}
}

func TestStatus(t *testing.T) {
	h := newHarness(t, Deps{})
	_, body := h.get(t, "/api/status")
	if body["state"] != "connected" || body["simulation"] != false {
		t.Errorf("body = %v", body)
	}
	if body["session_id"] == "" {
		t.Error("session_id is empty")
	}
}

func TestActions(t *testing.T) {
	h := newHarness(t, Deps{})

	tests := []struct {
		path      string
		call      string
		wantState string
	}{
		{"/api/connection/disconnect", "disconnect", "disconnected"},
		{"/api/connection/connect", "connect", "connecting"},
		{"/api/simulation/toggle", "toggle", "simulation"},
		{"/api/connection/reconnect", "reconnect", "connecting"},
	}
	for _, tt := range tests {
		t.Run(tt.call, func(t *testing.T) {
			status, body := h.do(t, http.MethodPost, tt.path)
			if status != http.StatusOK {
				t.Fatalf("status = %d, want 200", status)
			}
			if body["state"] != tt.wantState {
				t.Errorf("state = %v, want %s", body["state"], tt.wantState)
			}
			calls := h.ctrl.calls
			if calls[len(calls)-1] != tt.call {
				t.Errorf("last call = %s, want %s", calls[len(calls)-1], tt.call)
			}
		})
	}
}

func TestActions_GetNotAllowed(t *testing.T) {
	h := newHarness(t, Deps{})
	resp, err := http.Get(h.ts.URL + "/api/connection/connect")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestWrongMethod(t *testing.T) {
	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/connection/connect"},
		{http.MethodGet, "/api/connection/disconnect"},
		{http.MethodGet, "/api/connection/reconnect"},
		{http.MethodGet, "/api/simulation/toggle"},
		{http.MethodPost, "/api/status"},
		{http.MethodPost, "/api/stats"},
		{http.MethodDelete, "/api/sensors"},
		{http.MethodPost, "/api/sensors/sensor_1/recent"},
		{http.MethodPost, "/health"},
	}

	for _, staticDir := range []string{"", t.TempDir()} {
		h := newHarness(t, Deps{StaticDir: staticDir})
		for _, tt := range tests {
			t.Run(tt.method+" "+tt.path, func(t *testing.T) {
				req, err := http.NewRequest(tt.method, h.ts.URL+tt.path, nil)
				if err != nil {
					t.Fatalf("new request: %v", err)
				}
				resp, err := http.DefaultClient.Do(req)
				if err != nil {
					t.Fatalf("%s %s: %v", tt.method, tt.path, err)
				}
				resp.Body.Close()
				if resp.StatusCode != http.StatusMethodNotAllowed {
					t.Errorf("status = %d, want 405 (static dir %q)", resp.StatusCode, staticDir)
				}
			})
		}
	}
}

func TestActions_Error(t *testing.T) {
	h := newHarness(t, Deps{})
	h.ctrl.err = connection.ErrManagerClosed

	status, body := h.do(t, http.MethodPost, "/api/connection/connect")
	if status != http.StatusConflict {
		t.Errorf("status = %d, want 409", status)
	}
	if body["error"] != connection.ErrManagerClosed.Error() {
		t.Errorf("error = %v", body["error"])
	}
}

func TestLatestAndStats(t *testing.T) {
	h := newHarness(t, Deps{})
	h.history.Add(reading("sensor_1", 20.0))
	h.history.Add(reading("sensor_2", 30.0))
	h.history.Add(reading("sensor_1", 25.0))

	_, body := h.get(t, "/api/readings/latest")
	if body["count"] != float64(3) {
		t.Errorf("count = %v, want 3", body["count"])
	}
	first := body["readings"].([]any)[0].(map[string]any)
	if first["temperature"] != 25.0 {
		t.Errorf("newest temperature = %v, want 25", first["temperature"])
	}

	_, stats := h.get(t, "/api/stats")
	if stats["avg_temperature"] != 25.0 || stats["min_temperature"] != 20.0 || stats["max_temperature"] != 30.0 {
		t.Errorf("stats = %v", stats)
	}
	if stats["active_sensors"] != float64(2) || stats["data_source"] != "live" {
		t.Errorf("stats = %v", stats)
	}
}

func TestSensors(t *testing.T) {
	h := newHarness(t, Deps{})
	if status, _ := h.get(t, "/api/sensors"); status != http.StatusServiceUnavailable {
		t.Errorf("without database status = %d, want 503", status)
	}

	db := &fakeDatabase{}
	h = newHarness(t, Deps{Database: db})
	status, body := h.get(t, "/api/sensors?limit=5")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if body["count"] != float64(1) {
		t.Errorf("count = %v, want 1", body["count"])
	}
	row := body["sensors"].([]any)[0].(map[string]any)
	if row["id"] != float64(7) || row["sensor_id"] != "sensor_1" {
		t.Errorf("row = %v", row)
	}

	if status, _ := h.get(t, "/api/sensors?limit=abc"); status != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", status)
	}
}

func TestSensorRecent(t *testing.T) {
	c := &fakeCache{readings: []model.SensorReading{reading("sensor_3", 21), reading("sensor_3", 22)}}
	h := newHarness(t, Deps{Cache: c})

	status, body := h.get(t, "/api/sensors/sensor_3/recent?n=1")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if body["origin"] != "cache" || body["count"] != float64(1) || body["sensor_id"] != "sensor_3" {
		t.Errorf("body = %v", body)
	}

	db := &fakeDatabase{}
	h = newHarness(t, Deps{Cache: &fakeCache{err: errors.New("down")}, Database: db})
	_, body = h.get(t, "/api/sensors/sensor_1/recent")
	if body["origin"] != "database" {
		t.Errorf("origin = %v, want database fallback", body["origin"])
	}
	if !strings.Contains(db.sql, "WHERE sensor_id") {
		t.Errorf("sql = %q, want per-sensor query", db.sql)
	}
}

func TestCORS(t *testing.T) {
	h := newHarness(t, Deps{})
	req, _ := http.NewRequest(http.MethodGet, h.ts.URL+"/api/status", nil)
	req.Header.Set("Origin", "http://localhost:4200")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got == "" {
		t.Error("Access-Control-Allow-Origin not set")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, Deps{})
	h.get(t, "/api/status")

	resp, err := http.Get(h.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), "skysense_http_request_latency_seconds") {
		t.Error("metrics output missing request latency histogram")
	}
}

func TestReadingsSocket(t *testing.T) {
	h := newHarness(t, Deps{})
	h.hub.PublishState(model.StateConnected)

	url := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/ws/readings"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if env.Type != "status" || env.State != model.StateConnected {
		t.Errorf("first frame = %+v, want connected status", env)
	}

	// The subscription is registered once the status frame arrives.
	h.hub.PublishReading(reading("sensor_5", 23.4))
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read reading: %v", err)
	}
	if env.Type != "reading" || env.Data == nil || env.Data.SensorID != "sensor_5" {
		t.Errorf("second frame = %+v, want sensor_5 reading", env)
	}

	h.hub.PublishState(model.StateSimulation)
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read status change: %v", err)
	}
	if env.Type != "status" || env.State != model.StateSimulation || env.Simulation == nil || !*env.Simulation {
		t.Errorf("third frame = %+v, want simulation status", env)
	}

	h.hub.Close()
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("read after hub close = %v, want going-away close", err)
	}
}

func TestReadingsSocket_MixedOrder(t *testing.T) {
	h := newHarness(t, Deps{})
	h.hub.PublishState(model.StateConnected)

	url := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/ws/readings"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read status: %v", err)
	}

	// Published as one burst so the handler drains them together.
	h.hub.PublishReading(reading("sensor_1", 21))
	h.hub.PublishState(model.StateError)
	h.hub.PublishReading(reading("sensor_2", 22))
	h.hub.PublishState(model.StateSimulation)
	h.hub.PublishReading(reading("simulated_0", 23))

	want := []string{"reading:sensor_1", "status:error", "reading:sensor_2", "status:simulation", "reading:simulated_0"}
	for i, w := range want {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read frame %d: %v", i, err)
		}
		got := env.Type + ":" + string(env.State)
		if env.Data != nil {
			got = env.Type + ":" + env.Data.SensorID
		}
		if got != w {
			t.Errorf("frame %d = %s, want %s", i, got, w)
		}
	}
}

func TestComputeStats(t *testing.T) {
	empty := ComputeStats(nil, model.SourceSimulation)
	if empty.TotalReadings != 0 || empty.DataSource != model.SourceSimulation || empty.MinTemperature != 0 {
		t.Errorf("empty stats = %+v", empty)
	}

	stats := ComputeStats([]model.SensorReading{
		{SensorID: "a", Temperature: 20.04, Humidity: 40, Pressure: 1000},
		{SensorID: "b", Temperature: 21.16, Humidity: 41, Pressure: 1001},
	}, model.SourceLive)
	if stats.AvgTemperature != 20.6 || stats.AvgHumidity != 40.5 || stats.AvgPressure != 1000.5 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.MinTemperature != 20.0 || stats.MaxTemperature != 21.2 {
		t.Errorf("min/max = %v/%v, want 20/21.2", stats.MinTemperature, stats.MaxTemperature)
	}
}
