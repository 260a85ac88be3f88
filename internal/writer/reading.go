package writer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rickgao/skysense/internal/feed"
	"github.com/rickgao/skysense/internal/metrics"
	"github.com/rickgao/skysense/internal/model"
)

const insertReadingSQL = `
	INSERT INTO sensor_data (sensor_id, temperature, humidity, pressure, reading_ts, received_at, source, session_id)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (sensor_id, reading_ts, source) DO NOTHING
`

// readingRow is one sensor_data insert.
type readingRow struct {
	SensorID    string
	Temperature float64
	Humidity    float64
	Pressure    float64
	ReadingTs   time.Time
	ReceivedAt  time.Time
	Source      string
	SessionID   pgtype.UUID
}

// ReadingWriter consumes readings from a feed subscription and writes them
// to the sensor_data table.
type ReadingWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	input     *feed.Subscription[model.SensorReading]
	db        BatchSender
	sessionID uuid.UUID
	now       func() time.Time

	// Batching
	batch       []readingRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle. ctx stops the loops; writeCtx bounds their inserts and
	// outlives ctx so a flush in flight at Stop still lands.
	ctx         context.Context
	cancel      context.CancelFunc
	writeCtx    context.Context
	abortWrites context.CancelFunc
	wg          sync.WaitGroup

	metrics WriterMetrics
}

// NewReadingWriter creates a ReadingWriter. Every row is tagged with
// sessionID, the id of the connection manager producing the feed.
func NewReadingWriter(
	cfg WriterConfig,
	input *feed.Subscription[model.SensorReading],
	db BatchSender,
	sessionID uuid.UUID,
	logger *slog.Logger,
) *ReadingWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultWriterConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultWriterConfig().FlushInterval
	}
	return &ReadingWriter{
		cfg:       cfg,
		input:     input,
		db:        db,
		sessionID: sessionID,
		now:       time.Now,
		logger:    logger.With("component", "reading-writer"),
		batch:     make([]readingRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming readings and writing to the database.
func (w *ReadingWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.writeCtx, w.abortWrites = context.WithCancel(context.WithoutCancel(ctx))
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(2)
	go w.consumeLoop()
	go w.flushLoop()

	w.logger.Info("reading writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
		"session_id", w.sessionID,
	)
	return nil
}

// Stop shuts the writer down. A flush already in progress completes, then
// readings still queued in the subscription are batched and flushed using
// ctx, which should not be the cancelled run context. If ctx ends first the
// in-flight insert is aborted.
func (w *ReadingWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping reading writer")

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if w.abortWrites != nil {
			w.abortWrites()
		}
		w.logger.Warn("reading writer stop timed out")
		return ctx.Err()
	}
	if w.abortWrites != nil {
		w.abortWrites()
	}

	for _, r := range w.input.Drain(0) {
		w.add(r)
	}
	w.flush(ctx)

	w.logger.Info("reading writer stopped")
	return nil
}

// Stats returns current counters.
func (w *ReadingWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// Pending returns the number of rows waiting for the next flush.
func (w *ReadingWriter) Pending() int {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return len(w.batch)
}

func (w *ReadingWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		r, err := w.input.Next(w.ctx)
		if err != nil {
			if errors.Is(err, feed.ErrClosed) {
				w.logger.Debug("reading feed closed")
			}
			return
		}
		if w.add(r) {
			w.flush(w.writeCtx)
		}
	}
}

func (w *ReadingWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.writeCtx)
		}
	}
}

// add appends a row and reports whether the batch is full.
func (w *ReadingWriter) add(r model.SensorReading) bool {
	row := w.transform(r)

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, row)
	return len(w.batch) >= w.cfg.BatchSize
}

func (w *ReadingWriter) transform(r model.SensorReading) readingRow {
	source := r.Source
	if source == "" {
		source = model.SourceLive
	}
	return readingRow{
		SensorID:    r.SensorID,
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		Pressure:    r.Pressure,
		ReadingTs:   r.Timestamp.UTC(),
		ReceivedAt:  w.now().UTC(),
		Source:      string(source),
		SessionID:   pgtype.UUID{Bytes: w.sessionID, Valid: true},
	}
}

// flush writes the current batch. A failed batch is dropped and counted.
func (w *ReadingWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	batch := w.batch
	w.batch = make([]readingRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()
	conflicts, err := w.batchInsert(ctx, batch)
	metrics.WriterFlushLatencySeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		metrics.WriterErrorsTotal.Inc()
		metrics.WriterRowsTotal.WithLabelValues("dropped").Add(float64(len(batch)))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	inserted := len(batch) - conflicts
	metrics.WriterFlushesTotal.Inc()
	metrics.WriterRowsTotal.WithLabelValues("inserted").Add(float64(inserted))
	metrics.WriterRowsTotal.WithLabelValues("conflict").Add(float64(conflicts))

	w.batchMu.Lock()
	w.metrics.Inserts += int64(inserted)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed readings",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows with ON CONFLICT DO NOTHING and returns how many
// were skipped.
func (w *ReadingWriter) batchInsert(ctx context.Context, rows []readingRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertReadingSQL,
			r.SensorID, r.Temperature, r.Humidity, r.Pressure,
			r.ReadingTs, r.ReceivedAt, r.Source, r.SessionID,
		)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
