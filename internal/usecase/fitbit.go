package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"oximetry-sync/internal/domain"
	"oximetry-sync/internal/gapfill"
	"oximetry-sync/internal/observability"
	"oximetry-sync/internal/ports"
	"oximetry-sync/internal/writer"
)

// minuteLayout is the local wall-clock format of Fitbit intraday readings.
const minuteLayout = "2006-01-02T15:04:05"

// FitbitSync pulls intraday SpO2 from the Fitbit API.
type FitbitSync struct {
	Client   ports.FitbitClient
	Store    ports.MeasurementStore
	Creds    ports.CredentialStore
	Strategy gapfill.Strategy
	// Location is the zone of the Fitbit account; readings carry no offset.
	Location *time.Location
}

func (uc *FitbitSync) Name() string { return domain.SourceFitbit }

func (uc *FitbitSync) Run(ctx context.Context, log *slog.Logger) (err error) {
	var creds domain.FitbitCredentials
	if err := loadCredentials(uc.Creds, &creds); err != nil {
		return fmt.Errorf("load fitbit credentials: %w", err)
	}
	loaded := creds

	last, ok, err := uc.Store.LatestTimestamp(ctx, domain.MetricSpO2, domain.SourceFitbit)
	if err != nil {
		return fmt.Errorf("read watermark: %w", err)
	}
	if ok {
		observability.RecordWatermark(domain.SourceFitbit, last)
		log.Info("resuming from watermark", slog.Time("watermark", last))
	}

	// Runs after the batch commit below.
	defer func() {
		if perr := persistCredentials(uc.Creds, &creds, creds != loaded, err, log); perr != nil {
			err = errors.Join(err, perr)
		}
	}()

	days, fetchErr := gapfill.Run(ctx, uc.Strategy, last, ok,
		func(ctx context.Context, w domain.Window) ([]domain.DailyRecord, error) {
			return uc.Client.FetchSpO2(ctx, &creds, w)
		}, log)

	batch := writer.Begin(uc.Store)
	defer func() {
		n := batch.Len()
		if cerr := batch.Commit(ctx); cerr != nil {
			err = errors.Join(err, fmt.Errorf("write measurements: %w", cerr))
			return
		}
		observability.RecordWritten(domain.SourceFitbit, string(domain.MetricSpO2), n)
	}()

	ms := uc.normalize(days, log)
	batch.Add(ms...)
	if latest := latestOf(ms, domain.MetricSpO2); latest.After(last) {
		observability.RecordWatermark(domain.SourceFitbit, latest)
	}
	log.Info("stored fitbit spo2", slog.Int("days", len(days)), slog.Int("measurements", len(ms)))
	return fetchErr
}

func (uc *FitbitSync) normalize(days []domain.DailyRecord, log *slog.Logger) []domain.Measurement {
	loc := uc.Location
	if loc == nil {
		loc = time.UTC
	}
	var out []domain.Measurement
	for _, day := range days {
		for _, r := range day.Minutes {
			ts, err := time.ParseInLocation(minuteLayout, r.Minute, loc)
			if err != nil {
				log.Warn("skipping reading with bad timestamp", slog.String("date", day.Date), slog.String("minute", r.Minute))
				continue
			}
			m, err := domain.NewSpO2(ts, r.Value, domain.SourceFitbit)
			if err != nil {
				log.Warn("skipping reading", slog.String("minute", r.Minute), slog.String("error", err.Error()))
				continue
			}
			out = append(out, m)
		}
	}
	return out
}
