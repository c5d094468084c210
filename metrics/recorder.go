package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/quailsql/QuailDB/config"
	"github.com/quailsql/QuailDB/core"
	"github.com/quailsql/QuailDB/db"
)

const (
	defaultConnectTimeout = 10 * time.Second

	// Measurement is the InfluxDB measurement statements are written to.
	Measurement = "quaildb_statements"
)

var (
	ErrConnectionFailed = errors.New("metrics: connection failed")
	ErrDisabled         = errors.New("metrics: disabled in configuration")
)

// PointWriter is the part of the InfluxDB write API the recorder uses.
type PointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Recorder writes one point per executed statement. It implements
// db.Observer. Writes are batched by the InfluxDB client.
type Recorder struct {
	client influxdb2.Client
	writer PointWriter
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// Connect pings the InfluxDB server from cfg and returns a recorder writing
// to its bucket.
func Connect(cfg config.InfluxDBConfig, logger *slog.Logger) (*Recorder, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 1000
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)),
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	recorder := NewRecorder(writeAPI, logger)
	recorder.client = client

	go func() {
		for err := range writeAPI.Errors() {
			recorder.logger.Warn("failed to write statement metrics", "error", err)
		}
	}()

	return recorder, nil
}

// NewRecorder returns a recorder writing through writer.
func NewRecorder(writer PointWriter, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Recorder{
		writer: writer,
		logger: logger,
	}
}

// Observe records the event. Events after Close are ignored.
func (r *Recorder) Observe(event db.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	r.writer.WritePoint(Point(event))
}

// Flush sends buffered points.
func (r *Recorder) Flush() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	r.writer.Flush()
}

// Close flushes pending points and closes the client.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.writer.Flush()
	if r.client != nil {
		r.client.Close()
	}
	return nil
}

// Point converts an event to an InfluxDB point. Tags identify the statement
// and its outcome; fields carry timing and row counts.
func Point(event db.Event) *write.Point {
	tags := map[string]string{
		"type":   event.Type.String(),
		"status": "ok",
	}
	if event.Database != "" {
		tags["database"] = event.Database
	}
	if event.Table != "" {
		tags["table"] = event.Table
	}
	if event.Err != nil {
		tags["status"] = "error"
		tags["error_kind"] = core.KindOf(event.Err).String()
	}

	fields := map[string]interface{}{
		"duration_ms": float64(event.Duration.Microseconds()) / 1000,
	}
	switch result := event.Result.(type) {
	case db.QueryResult:
		fields["records_read"] = result.RecordsRead
	case db.CommitResult:
		fields["records_written"] = result.RecordsWritten
		fields["records_deleted"] = result.RecordsDeleted
	}

	when := event.Time
	if when.IsZero() {
		when = time.Now()
	}
	return write.NewPoint(Measurement, tags, fields, when)
}
