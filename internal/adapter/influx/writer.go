// Package influx writes flagged HPD records to InfluxDB as a time series.
package influx

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/couchcryptid/precip-etl/internal/config"
	"github.com/couchcryptid/precip-etl/internal/domain"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const (
	measurement = "hpd_precipitation"
	batchSize   = 5000
)

// PointWriter is the blocking write API of an InfluxDB client.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Writer implements pipeline.Loader for InfluxDB.
type Writer struct {
	client influxdb2.Client
	api    PointWriter
	logger *slog.Logger
}

// NewWriter connects a blocking write API to the configured bucket.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	client := influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
	return &Writer{
		client: client,
		api:    client.WriteAPIBlocking(cfg.InfluxOrg, cfg.InfluxBucket),
		logger: logger,
	}
}

// newWriterWithAPI is used by tests to substitute the write API.
func newWriterWithAPI(api PointWriter, logger *slog.Logger) *Writer {
	return &Writer{api: api, logger: logger}
}

// Name identifies the sink in logs and metrics.
func (w *Writer) Name() string { return "influxdb" }

// Load writes one point per record in batches.
func (w *Writer) Load(ctx context.Context, state domain.State, records []domain.FlaggedRecord) error {
	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))
		points := make([]*write.Point, 0, end-start)
		for i := start; i < end; i++ {
			points = append(points, toPoint(state, records[i]))
		}
		if err := w.api.WritePoint(ctx, points...); err != nil {
			return fmt.Errorf("write points %d-%d: %w", start, end, err)
		}
	}
	w.logger.Debug("wrote points", "state", state.Name, "points", len(records))
	return nil
}

func (w *Writer) Close() error {
	if w.client != nil {
		w.client.Close()
	}
	return nil
}

// observedAt combines the record date with its HHMM time of value. An hour
// of 24 rolls over to midnight of the next day. Daily totals are stamped at
// the last second of their own day so they never land on the next day's
// hourly values.
func observedAt(r domain.FlaggedRecord) time.Time {
	if r.DailyTotal() {
		return time.Date(r.Year, time.Month(r.Month), r.Day, 23, 59, 59, 0, time.UTC)
	}
	hour, minute := r.TimeOfValue/100, r.TimeOfValue%100
	return time.Date(r.Year, time.Month(r.Month), r.Day, hour, minute, 0, 0, time.UTC)
}

// kind separates daily totals from hourly values into their own series.
func kind(r domain.FlaggedRecord) string {
	if r.DailyTotal() {
		return "daily_total"
	}
	return "hourly"
}

func toPoint(state domain.State, r domain.FlaggedRecord) *write.Point {
	return influxdb2.NewPoint(
		measurement,
		map[string]string{
			"state":    state.Name,
			"station":  fmt.Sprintf("%04d", r.StationIndex),
			"division": strconv.Itoa(r.Division),
			"element":  r.ElementType,
			"units":    r.ElementUnits,
			"kind":     kind(r),
		},
		map[string]interface{}{
			"value":   r.DataValue,
			"flag":    r.Flag,
			"deleted": r.WasDeleted,
			"missing": r.IsMissing,
		},
		observedAt(r),
	)
}
