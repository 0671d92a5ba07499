// Package gapfill decides which date windows to request from a source so that
// the store catches up with it, and walks those windows.
package gapfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"oximetry-sync/internal/domain"
)

const (
	DefaultChunkDays = 14
	// MaxChunkDays is the widest date range the Fitbit API accepts in one request.
	MaxChunkDays = 30
)

// DefaultFloor bounds the backward walk. Fitbit started recording SpO2 in 2020.
var DefaultFloor = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

// Strategy holds the per-source parameters of the walk.
type Strategy struct {
	ChunkDays int
	Floor     time.Time
	// Location is the zone the provider uses for calendar dates.
	Location *time.Location
	Now      func() time.Time
}

// FetchFunc requests a single window.
type FetchFunc[T any] func(ctx context.Context, w domain.Window) ([]T, error)

func (s Strategy) validate() error {
	if s.ChunkDays < 1 || s.ChunkDays > MaxChunkDays {
		return fmt.Errorf("gapfill: chunk of %d days outside [1,%d]", s.ChunkDays, MaxChunkDays)
	}
	return nil
}

func (s Strategy) loc() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

func (s Strategy) date(t time.Time) time.Time {
	t = t.In(s.loc())
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.loc())
}

func (s Strategy) today() time.Time {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return s.date(now())
}

// IncrementalWindows covers [watermark + 1 day, today] in chunks of at most
// ChunkDays, oldest first. The start is the UTC calendar date of watermark + 1
// day; today is taken in Location. The start is clipped to today, so there is
// always at least one window.
func (s Strategy) IncrementalWindows(watermark time.Time) []domain.Window {
	today := s.today()
	y, m, d := watermark.UTC().AddDate(0, 0, 1).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, s.loc())
	if start.After(today) {
		start = today
	}
	chunk := s.ChunkDays
	if chunk < 1 {
		chunk = DefaultChunkDays
	}
	var out []domain.Window
	for start.Compare(today) <= 0 {
		end := start.AddDate(0, 0, chunk-1)
		if end.After(today) {
			end = today
		}
		out = append(out, domain.Window{Start: start, End: end})
		start = end.AddDate(0, 0, 1)
	}
	return out
}

// Incremental fetches every incremental window. If a window fails, the records of
// the windows before it are returned along with the error; they are oldest first
// and contiguous, so storing them leaves no hole behind the new watermark.
func Incremental[T any](ctx context.Context, s Strategy, watermark time.Time, fetch FetchFunc[T], log *slog.Logger) ([]T, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	var out []T
	for _, w := range s.IncrementalWindows(watermark) {
		log.Debug("fetching window", slog.String("window", w.String()))
		recs, err := fetch(ctx, w)
		if err != nil {
			return out, fmt.Errorf("window %s: %w", w, err)
		}
		out = append(out, recs...)
	}
	return out, nil
}

// Backfill walks backward from today one window at a time until a window comes
// back empty or the floor is passed. Results are returned oldest first. On error
// nothing is returned: a partial backward walk holds only the newest data and
// would move the watermark past history that was never fetched.
func Backfill[T any](ctx context.Context, s Strategy, fetch FetchFunc[T], log *slog.Logger) ([]T, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	floor := s.date(s.Floor)
	var chunks [][]T
	end := s.today()
	for !end.Before(floor) {
		start := end.AddDate(0, 0, -(s.ChunkDays - 1))
		if start.Before(floor) {
			start = floor
		}
		w := domain.Window{Start: start, End: end}
		recs, err := fetch(ctx, w)
		if err != nil {
			return nil, fmt.Errorf("backfill window %s: %w", w, err)
		}
		if len(recs) == 0 {
			log.Info("backfill reached empty window", slog.String("window", w.String()))
			break
		}
		chunks = append(chunks, recs)
		end = start.AddDate(0, 0, -1)
	}

	var out []T
	for i := len(chunks) - 1; i >= 0; i-- {
		out = append(out, chunks[i]...)
	}
	return out, nil
}

// Run picks Incremental when a watermark exists and Backfill otherwise.
func Run[T any](ctx context.Context, s Strategy, watermark time.Time, ok bool, fetch FetchFunc[T], log *slog.Logger) ([]T, error) {
	if ok {
		return Incremental(ctx, s, watermark, fetch, log)
	}
	log.Info("no stored data, backfilling history", slog.Time("floor", s.Floor))
	return Backfill(ctx, s, fetch, log)
}
