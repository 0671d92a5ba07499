package ports

import (
	"context"
	"time"

	"oximetry-sync/internal/domain"
)

// FitbitClient fetches intraday SpO2 data. Implementations may refresh the
// access token, in which case creds is updated in place and must be persisted.
type FitbitClient interface {
	FetchSpO2(ctx context.Context, creds *domain.FitbitCredentials, w domain.Window) ([]domain.DailyRecord, error)
}

// DriveSource fetches pulse oximeter measurements from CSV files modified after since.
// A nil since means every file is read. Refreshed tokens are written back into creds.
type DriveSource interface {
	Fetch(ctx context.Context, creds *domain.DriveCredentials, since *time.Time) ([]domain.Measurement, error)
}

// MeasurementStore is the time-series store. Writing the same point twice must
// not create a duplicate; both supported backends overwrite by (metric, source, time).
type MeasurementStore interface {
	WriteMeasurements(ctx context.Context, ms []domain.Measurement) error
	// LatestTimestamp returns the newest stored time for metric and source.
	// ok is false when no matching point exists.
	LatestTimestamp(ctx context.Context, metric domain.Metric, source string) (ts time.Time, ok bool, err error)
	Close() error
}

// CredentialStore loads and atomically saves a credential record.
type CredentialStore interface {
	Load(v domain.Credentials) error
	Save(v domain.Credentials) error
}
