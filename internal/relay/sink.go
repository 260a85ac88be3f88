package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rickgao/skysense/internal/feed"
	"github.com/rickgao/skysense/internal/metrics"
	"github.com/rickgao/skysense/internal/model"
)

// DefaultSendTimeout bounds a single delivery.
const DefaultSendTimeout = 5 * time.Second

// Sink delivers readings to one external system.
type Sink interface {
	Name() string
	Send(ctx context.Context, r model.SensorReading) error
	Close() error
}

// Pump delivers every reading from sub to sink until ctx ends or sub is
// closed. It returns nil on a closed subscription.
func Pump(ctx context.Context, sink Sink, sub *feed.Subscription[model.SensorReading], logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "relay", "sink", sink.Name())
	logger.Info("relay started")

	var delivered, failed int64
	defer func() {
		logger.Info("relay stopped", "delivered", delivered, "failed", failed)
	}()

	for {
		r, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, feed.ErrClosed) {
				return nil
			}
			return err
		}

		sendCtx, cancel := context.WithTimeout(ctx, DefaultSendTimeout)
		err = sink.Send(sendCtx, r)
		cancel()

		if err != nil {
			failed++
			metrics.RelayFailuresTotal.WithLabelValues(sink.Name()).Inc()
			logger.Warn("relay delivery failed", "sensor_id", r.SensorID, "error", err)
			continue
		}
		delivered++
		metrics.RelayDeliveriesTotal.WithLabelValues(sink.Name()).Inc()
	}
}
