package outcome

import (
	"context"

	"github.com/MrWong99/interviewer/internal/resilience"
)

// Guarded routes every call to a store through a circuit breaker, so an
// unreachable database fails fast instead of stalling each interview until
// the save timeout.
type Guarded struct {
	store   Store
	breaker *resilience.Breaker
}

var (
	_ Store  = (*Guarded)(nil)
	_ Pinger = (*Guarded)(nil)
)

// Guard wraps s with b.
func Guard(s Store, b *resilience.Breaker) *Guarded {
	return &Guarded{store: s, breaker: b}
}

// Save saves rec unless the breaker is open.
func (g *Guarded) Save(ctx context.Context, rec Record) error {
	return g.breaker.Do(ctx, func(ctx context.Context) error {
		return g.store.Save(ctx, rec)
	})
}

// Recent lists records unless the breaker is open.
func (g *Guarded) Recent(ctx context.Context, limit int) ([]Record, error) {
	var recs []Record
	err := g.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		recs, err = g.store.Recent(ctx, limit)
		return err
	})
	return recs, err
}

// Ping checks the wrapped store directly. Readiness checks bypass the breaker
// so they neither trip it nor get rejected by it.
func (g *Guarded) Ping(ctx context.Context) error {
	return Ping(ctx, g.store)
}
