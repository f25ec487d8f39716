package pgstore

import (
	"context"
	"time"

	"github.com/boddenberg/retail-ledger/internal/domain"
)

// SequenceReferences draws reference numbers from ledger_reference_seq, so
// every process sharing the database draws from one counter.
type SequenceReferences struct {
	store *Store
}

// NewSequenceReferences returns a generator backed by s.
func NewSequenceReferences(s *Store) *SequenceReferences {
	return &SequenceReferences{store: s}
}

// Next implements port.ReferenceGenerator.
func (r *SequenceReferences) Next(ctx context.Context, at time.Time) (string, error) {
	ctx, span := tracer.Start(ctx, "pgstore.NextReference")
	defer span.End()

	n, err := call(r.store, "next_reference", func() (int64, error) {
		var n int64
		err := r.store.pool.QueryRow(ctx, `SELECT nextval('ledger_reference_seq')`).Scan(&n)
		return n, err
	})
	if err != nil {
		return "", err
	}
	return domain.FormatReference(at.Year(), uint64(n)), nil
}
