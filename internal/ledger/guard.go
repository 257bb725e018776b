package ledger

import (
	"context"
	"fmt"

	apperrors "github.com/Martin-Hayot/auction-ledger/pkg/errors"
	"github.com/Martin-Hayot/auction-ledger/pkg/types"
)

type guardKey struct{}

// guarded marks ctx as running inside an operation of l. Fund transfers and
// notifications receive the marked context, so a callee that threads it back
// is rejected on every auction, not only the busy one.
func (l *Ledger) guarded(ctx context.Context) context.Context {
	return context.WithValue(ctx, guardKey{}, l)
}

// enter rejects calls made with a context marked by guarded.
func (l *Ledger) enter(ctx context.Context) error {
	if owner, ok := ctx.Value(guardKey{}).(*Ledger); ok && owner == l {
		return apperrors.ErrReentrant
	}
	return nil
}

// lockIdle locks rec unless an operation on it is waiting on a transfer. The
// transfer runs without rec.mu, so a payee calling back with any context gets
// ErrReentrant instead of blocking on the lock.
func (rec *record) lockIdle() error {
	rec.mu.Lock()
	if rec.busy {
		rec.mu.Unlock()
		return apperrors.ErrReentrant
	}
	return nil
}

// acquire locks rec for a mutation. A state that was applied but could not be
// saved is written first; the caller gets the store error while it still fails.
func (l *Ledger) acquire(ctx context.Context, rec *record) error {
	if err := rec.lockIdle(); err != nil {
		return err
	}
	if rec.dirty {
		if err := l.store.SaveAuction(ctx, rec.auction); err != nil {
			rec.mu.Unlock()
			return fmt.Errorf("error persisting auction %d: %w", rec.auction.ID, err)
		}
		rec.dirty = false
	}
	return nil
}

// idle clears the busy flag set before a transfer that changed nothing.
func (rec *record) idle() {
	rec.mu.Lock()
	rec.busy = false
	rec.mu.Unlock()
}

// deliver hands queued events to the notifier in the order they were queued,
// without holding rec.mu. Only one goroutine drains a record at a time; the
// others leave their events to it.
func (l *Ledger) deliver(ctx context.Context, rec *record) {
	rec.mu.Lock()
	if rec.delivering {
		rec.mu.Unlock()
		return
	}
	rec.delivering = true
	for len(rec.pending) > 0 {
		ev := rec.pending[0]
		rec.pending = rec.pending[1:]
		rec.mu.Unlock()
		l.notify(ctx, ev)
		rec.mu.Lock()
	}
	rec.delivering = false
	rec.mu.Unlock()
}

// queue must be called with rec.mu held or before rec is shared.
func (rec *record) queue(ev types.Event) {
	rec.pending = append(rec.pending, ev)
}
