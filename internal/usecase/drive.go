package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"oximetry-sync/internal/domain"
	"oximetry-sync/internal/observability"
	"oximetry-sync/internal/ports"
	"oximetry-sync/internal/writer"
)

// DriveSync imports EMAY oximeter CSV exports from a Google Drive folder.
type DriveSync struct {
	Source ports.DriveSource
	Store  ports.MeasurementStore
	Creds  ports.CredentialStore
}

func (uc *DriveSync) Name() string { return domain.SourceEMAY }

func (uc *DriveSync) Run(ctx context.Context, log *slog.Logger) (err error) {
	var creds domain.DriveCredentials
	if err := loadCredentials(uc.Creds, &creds); err != nil {
		return fmt.Errorf("load drive credentials: %w", err)
	}
	access, refresh := creds.AccessToken, creds.RefreshToken

	last, ok, err := uc.Store.LatestTimestamp(ctx, domain.MetricSpO2, domain.SourceEMAY)
	if err != nil {
		return fmt.Errorf("read watermark: %w", err)
	}
	var since *time.Time
	if ok {
		since = &last
		observability.RecordWatermark(domain.SourceEMAY, last)
		log.Info("listing exports modified after watermark", slog.Time("watermark", last))
	} else {
		log.Info("no watermark, reading every export")
	}

	defer func() {
		changed := creds.AccessToken != access || creds.RefreshToken != refresh
		if perr := persistCredentials(uc.Creds, &creds, changed, err, log); perr != nil {
			err = errors.Join(err, perr)
		}
	}()

	ms, err := uc.Source.Fetch(ctx, &creds, since)
	var notFound *domain.SourceNotFoundError
	if errors.As(err, &notFound) {
		log.Warn("nothing to sync", slog.String("error", err.Error()))
		return nil
	}
	if err != nil {
		return err
	}

	batch := writer.Begin(uc.Store)
	batch.Add(ms...)
	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("write measurements: %w", err)
	}
	for _, metric := range []domain.Metric{domain.MetricSpO2, domain.MetricPulse} {
		observability.RecordWritten(domain.SourceEMAY, string(metric), count(ms, metric))
	}
	if latest := latestOf(ms, domain.MetricSpO2); latest.After(last) {
		observability.RecordWatermark(domain.SourceEMAY, latest)
	}
	log.Info("stored oximeter readings", slog.Int("measurements", len(ms)))
	return nil
}

func count(ms []domain.Measurement, metric domain.Metric) int {
	n := 0
	for _, m := range ms {
		if m.Metric == metric {
			n++
		}
	}
	return n
}
