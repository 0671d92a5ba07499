// Package writer buffers measurements and flushes them to the store in one call.
package writer

import (
	"context"

	"oximetry-sync/internal/domain"
	"oximetry-sync/internal/ports"
)

// Batch collects measurements between Begin and Commit.
type Batch struct {
	store   ports.MeasurementStore
	pending []domain.Measurement
}

func Begin(store ports.MeasurementStore) *Batch {
	return &Batch{store: store}
}

func (b *Batch) Add(ms ...domain.Measurement) {
	b.pending = append(b.pending, ms...)
}

func (b *Batch) Len() int { return len(b.pending) }

// Commit writes everything added since the last commit with a single store call.
// The buffer is cleared whether or not the write succeeds.
func (b *Batch) Commit(ctx context.Context) error {
	pending := b.pending
	b.pending = nil
	if len(pending) == 0 {
		return nil
	}
	return b.store.WriteMeasurements(ctx, pending)
}
