package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/rickgao/skysense/internal/model"
	"github.com/rickgao/skysense/internal/version"
	"github.com/rickgao/skysense/internal/writer"
)

const (
	pingTimeout       = 2 * time.Second
	queryTimeout      = 5 * time.Second
	defaultSensorRows = 100
	maxSensorRows     = 1000
	defaultRecentN    = 10
	maxRecentN        = 100
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	replyJSON(w, http.StatusOK, Body{
		"status":             "healthy",
		"version":            version.Get(),
		"state":              s.deps.Controller.State(),
		"database":           componentHealth(ctx, s.deps.Database),
		"cache":              componentHealth(ctx, s.deps.Cache),
		"active_connections": s.clients.Load(),
		"timestamp":          s.now().UTC().Format(time.RFC3339Nano),
	})
}

type pinger interface {
	Ping(ctx context.Context) error
}

// componentHealth reports "disabled", "healthy" or "unhealthy".
func componentHealth(ctx context.Context, p pinger) string {
	if p == nil {
		return "disabled"
	}
	if err := p.Ping(ctx); err != nil {
		return "unhealthy"
	}
	return "healthy"
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	replyJSON(w, http.StatusOK, s.statusBody())
}

func (s *Server) statusBody() Body {
	st := s.deps.Controller.Stats()
	return Body{
		"state":      st.State,
		"simulation": st.Simulating,
		"retries":    st.Retries,
		"session_id": st.SessionID,
		"stats":      st,
	}
}

// action runs a manager operation and replies with the resulting status.
func (s *Server) action(op func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(); err != nil {
			s.logger.Warn("connection action failed", "path", r.URL.Path, "error", err)
			replyError(w, http.StatusConflict, err.Error())
			return
		}
		replyJSON(w, http.StatusOK, s.statusBody())
	}
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	readings := s.deps.History.Latest(0)
	replyJSON(w, http.StatusOK, Body{
		"count":    len(readings),
		"readings": readings,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	source := model.SourceLive
	if s.deps.Controller.IsSimulationMode() {
		source = model.SourceSimulation
	}
	replyJSON(w, http.StatusOK, ComputeStats(s.deps.History.Latest(0), source))
}

func (s *Server) handleSensors(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit", defaultSensorRows, maxSensorRows)
	if !ok {
		return
	}
	if s.deps.Database == nil {
		replyError(w, http.StatusServiceUnavailable, "database disabled")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	rows, err := writer.Recent(ctx, s.deps.Database, limit)
	if err != nil {
		s.logger.Error("query recent readings failed", "error", err)
		replyError(w, http.StatusServiceUnavailable, "database unavailable: "+err.Error())
		return
	}
	replyJSON(w, http.StatusOK, Body{
		"count":              len(rows),
		"active_connections": s.clients.Load(),
		"sensors":            rows,
	})
}

// handleSensorRecent serves from the cache and falls back to the database.
func (s *Server) handleSensorRecent(w http.ResponseWriter, r *http.Request) {
	sensorID := mux.Vars(r)["sensor_id"]
	n, ok := intParam(w, r, "n", defaultRecentN, maxRecentN)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	if s.deps.Cache != nil {
		readings, err := s.deps.Cache.FetchLast(ctx, sensorID, n)
		if err == nil {
			replyJSON(w, http.StatusOK, Body{
				"sensor_id": sensorID,
				"count":     len(readings),
				"origin":    "cache",
				"readings":  readings,
			})
			return
		}
		s.logger.Warn("cache fetch failed", "sensor_id", sensorID, "error", err)
	}

	if s.deps.Database == nil {
		replyError(w, http.StatusServiceUnavailable, "no reading store available")
		return
	}
	rows, err := writer.RecentForSensor(ctx, s.deps.Database, sensorID, n)
	if err != nil {
		s.logger.Error("query sensor readings failed", "sensor_id", sensorID, "error", err)
		replyError(w, http.StatusServiceUnavailable, "database unavailable: "+err.Error())
		return
	}
	replyJSON(w, http.StatusOK, Body{
		"sensor_id": sensorID,
		"count":     len(rows),
		"origin":    "database",
		"readings":  rows,
	})
}

// intParam parses a positive query parameter capped at max. It replies 400
// and returns false on a bad value.
func intParam(w http.ResponseWriter, r *http.Request, name string, def, max int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		replyError(w, http.StatusBadRequest, "invalid "+name+": "+raw)
		return 0, false
	}
	return min(v, max), true
}
