package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"oximetry-sync/internal/adapter/drive"
	"oximetry-sync/internal/adapter/fitbit"
	"oximetry-sync/internal/adapter/influx"
	msql "oximetry-sync/internal/adapter/mysql"
	"oximetry-sync/internal/config"
	"oximetry-sync/internal/credentials"
	"oximetry-sync/internal/domain"
	"oximetry-sync/internal/gapfill"
	"oximetry-sync/internal/migrate"
	"oximetry-sync/internal/ports"
	"oximetry-sync/internal/usecase"
)

// App wires adapters and use cases.
type App struct {
	log   *slog.Logger
	uc    *usecase.SyncUseCase
	store ports.MeasurementStore
	mu    sync.Mutex
}

func New(ctx context.Context, log *slog.Logger, cfg config.Config) (*App, error) {
	store, err := openStore(ctx, log, cfg)
	if err != nil {
		return nil, err
	}

	fitbitClient := fitbit.NewClient(cfg.Fitbit.BaseURL, cfg.Fitbit.Timeout, cfg.Fitbit.RequestsPerHour, log)
	driveClient := drive.NewClient(cfg.Drive.Folder, cfg.Schedule.Location, log)

	uc := &usecase.SyncUseCase{
		Log: log,
		Sources: []usecase.Source{
			&usecase.FitbitSync{
				Client: fitbitClient,
				Store:  store,
				Creds:  credentials.NewFile(cfg.FitbitCredentialsPath()),
				Strategy: gapfill.Strategy{
					ChunkDays: cfg.Backfill.ChunkDays,
					Floor:     cfg.Backfill.Floor,
					Location:  cfg.Schedule.Location,
				},
				Location: cfg.Schedule.Location,
			},
			&usecase.DriveSync{
				Source: driveClient,
				Store:  store,
				Creds:  credentials.NewFile(cfg.DriveCredentialsPath()),
			},
		},
	}
	return &App{log: log, uc: uc, store: store}, nil
}

func openStore(ctx context.Context, log *slog.Logger, cfg config.Config) (ports.MeasurementStore, error) {
	switch cfg.Store.Backend {
	case config.BackendMySQL:
		// Run migrations before opening the store for use
		if err := migrate.Run(ctx, cfg.MySQL.DSN, log); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return msql.NewStore(ctx, cfg.MySQL.DSN, log)
	default:
		return influx.NewStore(ctx, cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket, log)
	}
}

// RunOnce runs one sync cycle over every source. It returns domain.ErrSyncRunning
// if a cycle is already in progress.
func (a *App) RunOnce(ctx context.Context) error {
	if !a.mu.TryLock() {
		return domain.ErrSyncRunning
	}
	defer a.mu.Unlock()
	return a.uc.Run(ctx)
}

func (a *App) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}
