package ledger

import (
	"context"
	"fmt"

	apperrors "github.com/Martin-Hayot/auction-ledger/pkg/errors"
	"github.com/Martin-Hayot/auction-ledger/pkg/types"
	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"
)

// CloseAuction ends the auction and pays the highest stake to the
// beneficiary. It succeeds once per auction. The payout happens before the
// close is applied or saved: if it is refused nothing changes and
// TransferFailed is returned. If the closed auction cannot be saved after the
// payout, the close stands in memory, the error is returned, and the next
// operation on the auction saves it again.
func (l *Ledger) CloseAuction(ctx context.Context, id uint64) (types.Auction, error) {
	rec, err := l.lookup(ctx, id)
	if err != nil {
		return types.Auction{}, err
	}
	if err := l.acquire(ctx, rec); err != nil {
		return types.Auction{}, err
	}

	a := rec.auction
	if a.Ended {
		rec.mu.Unlock()
		return types.Auction{}, apperrors.Newf(apperrors.ErrAlreadyClosed, "auction %d already closed", id)
	}
	now := l.clock.Now()
	if !l.closeable(a, now) {
		rec.mu.Unlock()
		return types.Auction{}, apperrors.Newf(apperrors.ErrTooEarly, "auction %d cannot be closed before %s", id, a.EndTime.Add(l.closeBuffer))
	}

	payout := a.HighestBid
	if !l.releaseHeld(payout) {
		rec.mu.Unlock()
		return types.Auction{}, apperrors.Newf(apperrors.ErrInsufficientFunds, "ledger holds %s, auction %d needs %s", l.HeldBalance(), id, payout)
	}
	rec.busy = true
	rec.mu.Unlock()

	gctx := l.guarded(ctx)
	if payout.IsPositive() {
		if err := l.bank.Pay(gctx, a.Beneficiary, payout); err != nil {
			l.addHeld(payout)
			rec.idle()
			log.Warn("Payout refused, close rolled back", "auction", id, "beneficiary", a.Beneficiary, "error", err)
			return types.Auction{}, apperrors.WithCause(apperrors.ErrTransferFailed, err)
		}
	}

	next := a.Clone()
	next.Ended = true
	ev := types.NewEvent(types.EventAuctionClosed, id, now)
	ev.Bidder = next.HighestBidder
	ev.Beneficiary = next.Beneficiary
	ev.HighestBid = &payout

	rec.mu.Lock()
	rec.auction = next
	rec.busy = false
	serr := l.store.SaveAuction(ctx, next)
	rec.dirty = serr != nil
	rec.queue(ev)
	rec.mu.Unlock()

	log.Info("Auction closed", "id", id, "winner", next.HighestBidder, "amount", payout, "beneficiary", next.Beneficiary)
	l.deliver(gctx, rec)

	if serr != nil {
		log.Error("Closed auction not persisted, will retry", "auction", id, "error", serr)
		return next.Clone(), fmt.Errorf("auction %d closed and paid but not persisted: %w", id, serr)
	}
	return next.Clone(), nil
}

// Withdraw refunds the caller's stake in an ended auction. The winner and
// callers with nothing owed get a successful no-op. A refused transfer keeps
// the stake for a later retry and is reported through Refund.OK, not as an
// error. As with CloseAuction, a refund that was paid but not saved is
// returned together with the store error and saved again later.
func (l *Ledger) Withdraw(ctx context.Context, id uint64, caller types.Address) (types.Refund, error) {
	rec, err := l.lookup(ctx, id)
	if err != nil {
		return types.Refund{}, err
	}
	caller = caller.Normalize()
	if err := l.acquire(ctx, rec); err != nil {
		return types.Refund{}, err
	}

	a := rec.auction
	if !a.Ended {
		rec.mu.Unlock()
		return types.Refund{}, apperrors.Newf(apperrors.ErrAuctionNotYetEnded, "auction %d has not ended", id)
	}

	refund := types.Refund{AuctionID: id, Bidder: caller, Amount: decimal.Zero, OK: true}
	owed := a.Stakes[caller]
	if caller == a.HighestBidder || !owed.IsPositive() {
		rec.mu.Unlock()
		return refund, nil
	}
	if !l.releaseHeld(owed) {
		rec.mu.Unlock()
		log.Error("Held balance below an unpaid stake", "auction", id, "bidder", caller, "stake", owed, "held", l.HeldBalance())
		return types.Refund{}, apperrors.Newf(apperrors.ErrInsufficientFunds, "ledger holds %s, %s is owed %s on auction %d", l.HeldBalance(), caller, owed, id)
	}
	rec.busy = true
	rec.mu.Unlock()

	gctx := l.guarded(ctx)
	if err := l.bank.Pay(gctx, caller, owed); err != nil {
		l.addHeld(owed)
		rec.idle()
		log.Warn("Refund refused, stake kept", "auction", id, "bidder", caller, "amount", owed, "error", err)
		refund.OK = false
		return refund, nil
	}
	refund.Amount = owed

	next := a.Clone()
	next.Stakes[caller] = decimal.Zero
	next.Refunded[caller] = next.Refunded[caller].Add(owed)
	ev := types.NewEvent(types.EventWithdrawalSucceeded, id, l.clock.Now())
	ev.Bidder = caller
	ev.Amount = &owed

	rec.mu.Lock()
	rec.auction = next
	rec.busy = false
	serr := l.store.SaveAuction(ctx, next)
	rec.dirty = serr != nil
	rec.queue(ev)
	rec.mu.Unlock()

	log.Info("Withdrawal paid", "auction", id, "bidder", caller, "amount", owed)
	l.deliver(gctx, rec)

	if serr != nil {
		log.Error("Withdrawal not persisted, will retry", "auction", id, "bidder", caller, "error", serr)
		return refund, fmt.Errorf("refund from auction %d paid but not persisted: %w", id, serr)
	}
	return refund, nil
}
