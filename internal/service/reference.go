package service

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/boddenberg/retail-ledger/internal/domain"
)

// CounterReferences hands out TXN-<year>-<8 digits> references from a
// process-wide counter. The starting point is random so that restarts do
// not replay the same sequence; the store still rejects duplicates.
type CounterReferences struct {
	n atomic.Uint64
}

// NewCounterReferences seeds the counter at a random point.
func NewCounterReferences() *CounterReferences {
	return NewCounterReferencesFrom(uint64(rand.Int63n(domain.ReferenceModulus)))
}

// NewCounterReferencesFrom starts the counter so the first reference uses start+1.
func NewCounterReferencesFrom(start uint64) *CounterReferences {
	g := &CounterReferences{}
	g.n.Store(start)
	return g
}

// Next implements port.ReferenceGenerator.
func (g *CounterReferences) Next(_ context.Context, at time.Time) (string, error) {
	return domain.FormatReference(at.Year(), g.n.Add(1)), nil
}
