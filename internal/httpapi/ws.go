package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/skysense/internal/metrics"
	"github.com/rickgao/skysense/internal/model"
)

const (
	wsWriteWait    = 5 * time.Second
	wsPingInterval = 30 * time.Second
)

// Envelope is one frame on /ws/readings.
type Envelope struct {
	Type       string                `json:"type"` // "reading" or "status"
	Data       *model.SensorReading  `json:"data,omitempty"`
	State      model.ConnectionState `json:"state,omitempty"`
	Simulation *bool                 `json:"simulation,omitempty"`
}

func readingEnvelope(r model.SensorReading) Envelope {
	return Envelope{Type: "reading", Data: &r}
}

func statusEnvelope(s model.ConnectionState) Envelope {
	sim := s == model.StateSimulation
	return Envelope{Type: "status", State: s, Simulation: &sim}
}

// handleReadingsSocket streams the current state, then every reading and
// state change in publish order, until the client leaves or the hub closes.
func (s *Server) handleReadingsSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events := s.deps.Hub.SubscribeEvents()
	defer events.Close()

	s.clients.Add(1)
	metrics.WebsocketClients.Inc()
	defer func() {
		s.clients.Add(-1)
		metrics.WebsocketClients.Dec()
	}()
	s.logger.Debug("websocket client attached", "remote", r.RemoteAddr)

	// The client sends nothing we act on; reading detects its departure.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		for _, ev := range events.Drain(0) {
			env := statusEnvelope(ev.State)
			if ev.Reading != nil {
				env = readingEnvelope(*ev.Reading)
			}
			if err := s.writeFrame(conn, env); err != nil {
				return
			}
		}

		select {
		case <-gone:
			s.logger.Debug("websocket client left", "remote", r.RemoteAddr)
			return
		case <-events.Done():
			if events.Len() > 0 {
				continue
			}
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(wsWriteWait))
			return
		case <-events.Ready():
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeFrame(conn *websocket.Conn, env Envelope) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(env); err != nil {
		s.logger.Debug("websocket write failed", "error", err)
		return err
	}
	return nil
}
