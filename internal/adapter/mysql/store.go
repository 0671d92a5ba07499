package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	driver "github.com/go-sql-driver/mysql"

	"oximetry-sync/internal/domain"
)

// Store implements ports.MeasurementStore on a MySQL table.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// NewStore opens a MySQL connection using the provided DSN.
// Example DSN: user:pass@tcp(host:3306)/dbname
func NewStore(ctx context.Context, dsn string, log *slog.Logger) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("mysql: DSN is required")
	}
	dsn, err := withParseTime(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	c, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(c); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, log: log}, nil
}

// WriteMeasurements upserts all measurements in one transaction. A row is keyed by
// (measurement, source, ts), so rewriting the same point replaces its value.
func (s *Store) WriteMeasurements(ctx context.Context, ms []domain.Measurement) error {
	if len(ms) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	const q = `
INSERT INTO oximetry_measurements
  (measurement, source, ts, value)
VALUES
  (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  value=VALUES(value);
`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, m := range ms {
		if _, err := stmt.ExecContext(ctx, string(m.Metric), m.Source, m.Time.UTC(), m.Value); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.log.Info("mysql store upserted measurements", slog.Int("count", len(ms)))
	return nil
}

// LatestTimestamp returns MAX(ts) for metric and source.
func (s *Store) LatestTimestamp(ctx context.Context, metric domain.Metric, source string) (time.Time, bool, error) {
	var latest sql.NullTime
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX(ts) FROM oximetry_measurements WHERE measurement = ? AND source = ?",
		string(metric), source,
	).Scan(&latest)
	if err != nil {
		return time.Time{}, false, err
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return latest.Time.UTC(), true, nil
}

func (s *Store) Close() error { return s.db.Close() }

// withParseTime turns on parseTime so DATETIME columns scan into time.Time.
func withParseTime(dsn string) (string, error) {
	cfg, err := driver.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("mysql: parse DSN: %w", err)
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}
