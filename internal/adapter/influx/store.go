// Package influx stores measurements in InfluxDB 2.
//
// Points are written as
//
//	spo2,source=<source> spo2=<float> <epoch seconds>
//	pulse,source=<source> pulse=<int> <epoch seconds>
//
// InfluxDB overwrites a point with the same measurement, tag set and timestamp,
// so writing the same window twice does not duplicate data.
package influx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"oximetry-sync/internal/domain"
)

// Store implements ports.MeasurementStore.
type Store struct {
	client influxdb2.Client
	writer api.WriteAPIBlocking
	query  api.QueryAPI
	bucket string
	log    *slog.Logger
}

// NewStore connects to InfluxDB and checks that the server is ready.
func NewStore(ctx context.Context, url, token, org, bucket string, log *slog.Logger) (*Store, error) {
	if url == "" || bucket == "" || org == "" {
		return nil, errors.New("influx: url, org and bucket are required")
	}
	opts := influxdb2.DefaultOptions().
		SetPrecision(time.Second).
		SetHTTPRequestTimeout(30)
	client := influxdb2.NewClientWithOptions(url, token, opts)

	c, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ok, err := client.Ping(c)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influx: ping: %w", err)
	}
	if !ok {
		client.Close()
		return nil, errors.New("influx: server not ready")
	}
	return &Store{
		client: client,
		writer: client.WriteAPIBlocking(org, bucket),
		query:  client.QueryAPI(org),
		bucket: bucket,
		log:    log,
	}, nil
}

// WriteMeasurements writes all measurements in one request.
func (s *Store) WriteMeasurements(ctx context.Context, ms []domain.Measurement) error {
	if len(ms) == 0 {
		return nil
	}
	points := make([]*write.Point, 0, len(ms))
	for _, m := range ms {
		points = append(points, toPoint(m))
	}
	if err := s.writer.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("influx: write %d points: %w", len(points), err)
	}
	s.log.Info("influx wrote points", slog.Int("count", len(points)))
	return nil
}

func toPoint(m domain.Measurement) *write.Point {
	var value interface{} = m.Value
	if m.Metric == domain.MetricPulse {
		value = m.IntValue()
	}
	return influxdb2.NewPoint(
		string(m.Metric),
		map[string]string{"source": m.Source},
		map[string]interface{}{string(m.Metric): value},
		m.Time,
	)
}

// LatestTimestamp returns the time of the last point for metric and source.
func (s *Store) LatestTimestamp(ctx context.Context, metric domain.Metric, source string) (time.Time, bool, error) {
	result, err := s.query.Query(ctx, latestQuery(s.bucket, metric, source))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("influx: latest %s/%s: %w", metric, source, err)
	}
	defer result.Close()

	var (
		latest time.Time
		found  bool
	)
	// last() yields one row per table; keep the newest across tables.
	for result.Next() {
		if t := result.Record().Time(); !found || t.After(latest) {
			latest, found = t, true
		}
	}
	if err := result.Err(); err != nil {
		return time.Time{}, false, fmt.Errorf("influx: latest %s/%s: %w", metric, source, err)
	}
	return latest.UTC(), found, nil
}

func latestQuery(bucket string, metric domain.Metric, source string) string {
	return fmt.Sprintf(`from(bucket: %q)
  |> range(start: 0)
  |> filter(fn: (r) => r._measurement == %q and r.source == %q)
  |> last()`, bucket, string(metric), source)
}

func (s *Store) Close() error {
	s.client.Close()
	return nil
}
