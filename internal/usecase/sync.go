package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"oximetry-sync/internal/domain"
	"oximetry-sync/internal/observability"
	"oximetry-sync/internal/ports"
)

// Source is one upstream provider's sync cycle.
type Source interface {
	Name() string
	Run(ctx context.Context, log *slog.Logger) error
}

// SyncUseCase runs every source once. Sources are isolated: a failing source is
// logged and the remaining ones still run.
type SyncUseCase struct {
	Log     *slog.Logger
	Sources []Source
}

// Run returns the joined errors of the sources that failed.
func (uc *SyncUseCase) Run(ctx context.Context) error {
	if len(uc.Sources) == 0 {
		return errors.New("usecase not initialized: no sources configured")
	}
	log := uc.Log.With(slog.String("run_id", uuid.NewString()))
	start := time.Now()
	log.Info("data update started", slog.Int("sources", len(uc.Sources)))

	var errs []error
	for _, src := range uc.Sources {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := uc.runSource(ctx, src, log.With(slog.String("source", src.Name()))); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
		}
	}
	log.Info("data update complete", slog.Int("failed", len(errs)), slog.Duration("dur", time.Since(start)))
	return errors.Join(errs...)
}

func (uc *SyncUseCase) runSource(ctx context.Context, src Source, log *slog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		var credErr *domain.CredentialsError
		switch {
		case err == nil:
			observability.RecordCycle(src.Name(), "success")
		case errors.As(err, new(*missingCredentialsError)):
			log.Error("credentials file not found, setup is required", slog.String("error", err.Error()))
			observability.RecordCycle(src.Name(), "skipped")
			err = nil
		case errors.As(err, &credErr):
			log.Error("credentials rejected, re-run the authorization flow", slog.String("error", err.Error()))
			observability.RecordCycle(src.Name(), "failure")
		default:
			log.Error("sync failed", slog.String("error", err.Error()))
			observability.RecordCycle(src.Name(), "failure")
		}
	}()
	return src.Run(ctx, log)
}

// missingCredentialsError means the credential file has never been written.
type missingCredentialsError struct {
	err error
}

func (e *missingCredentialsError) Error() string { return "credentials not set up: " + e.err.Error() }

func (e *missingCredentialsError) Unwrap() error { return e.err }

// loadCredentials loads creds, reporting a missing file as *missingCredentialsError.
func loadCredentials(store ports.CredentialStore, creds domain.Credentials) error {
	err := store.Load(creds)
	if errors.Is(err, os.ErrNotExist) {
		return &missingCredentialsError{err: err}
	}
	return err
}

// persistCredentials saves creds after a cycle. A credentials failure that left the
// record as loaded is not saved; if the provider already rotated the tokens, the
// new pair is saved because the stored refresh token is no longer valid.
func persistCredentials(store ports.CredentialStore, creds domain.Credentials, changed bool, cycleErr error, log *slog.Logger) error {
	var credErr *domain.CredentialsError
	if errors.As(cycleErr, &credErr) && !changed {
		log.Warn("credentials not saved after authorization failure")
		return nil
	}
	if err := store.Save(creds); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	log.Debug("credentials saved", slog.Bool("changed", changed))
	return nil
}

func latestOf(ms []domain.Measurement, metric domain.Metric) time.Time {
	var latest time.Time
	for _, m := range ms {
		if m.Metric == metric && m.Time.After(latest) {
			latest = m.Time
		}
	}
	return latest
}
