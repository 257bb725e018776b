package ledger

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/Martin-Hayot/auction-ledger/pkg/errors"
	"github.com/Martin-Hayot/auction-ledger/pkg/types"
	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"
)

// PlaceBid adds amount to the bidder's stake in the auction and returns the
// auction's highest stake afterwards. The bidder takes the lead only when
// their total strictly exceeds the previous highest, so ties stay with
// whoever reached the amount first.
func (l *Ledger) PlaceBid(ctx context.Context, id uint64, bidder types.Address, amount decimal.Decimal) (decimal.Decimal, error) {
	rec, err := l.lookup(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	bidder = bidder.Normalize()
	if bidder.IsZero() {
		return decimal.Zero, apperrors.ErrInvalidBidder
	}
	if !amount.IsPositive() {
		return decimal.Zero, apperrors.Newf(apperrors.ErrBidTooLow, "bid too low: amount must be greater than 0, got %s", amount)
	}

	if err := l.biddable(rec); err != nil {
		return decimal.Zero, err
	}

	// The stake is collected without the auction lock; whatever happened in
	// the meantime is checked again below and the bid handed back if needed.
	gctx := l.guarded(ctx)
	if err := l.bank.Collect(gctx, bidder, amount); err != nil {
		return decimal.Zero, fmt.Errorf("error collecting bid from %s: %w", bidder, err)
	}

	if err := l.acquire(ctx, rec); err != nil {
		return decimal.Zero, joinReturn(err, l.returnBid(gctx, id, bidder, amount))
	}
	a := rec.auction
	now := l.clock.Now()
	if err := l.open(a, now); err != nil {
		rec.mu.Unlock()
		return decimal.Zero, joinReturn(err, l.returnBid(gctx, id, bidder, amount))
	}

	// Keep bid history chronological even if the clock steps backwards.
	ts := now
	if n := len(a.Bids); n > 0 && ts.Before(a.Bids[n-1].Timestamp) {
		ts = a.Bids[n-1].Timestamp
	}
	bid := types.Bid{Bidder: bidder, Amount: amount, Timestamp: ts}

	next := a.Clone()
	next.Bids = append(next.Bids, bid)
	stake := next.Stakes[bidder].Add(amount)
	next.Stakes[bidder] = stake
	if stake.GreaterThan(next.HighestBid) {
		next.HighestBid = stake
		next.HighestBidder = bidder
	}

	if err := l.store.RecordBid(ctx, next, bid); err != nil {
		rec.mu.Unlock()
		err = fmt.Errorf("error recording bid on auction %d: %w", id, err)
		return decimal.Zero, joinReturn(err, l.returnBid(gctx, id, bidder, amount))
	}

	l.addHeld(amount)
	rec.auction = next
	rec.bidIndex[bidder] = append(rec.bidIndex[bidder], len(next.Bids)-1)

	log.Debugf("Auction %d: %s bid %s (stake %s, highest %s by %s)", id, bidder, amount, stake, next.HighestBid, next.HighestBidder)

	ev := types.NewEvent(types.EventBidAccepted, id, ts)
	ev.Bidder = bidder
	ev.Amount = &amount
	highest := next.HighestBid
	ev.HighestBid = &highest
	rec.queue(ev)
	rec.mu.Unlock()

	l.deliver(gctx, rec)
	return highest, nil
}

// biddable reports whether the auction takes bids right now.
func (l *Ledger) biddable(rec *record) error {
	if err := rec.lockIdle(); err != nil {
		return err
	}
	defer rec.mu.Unlock()
	return l.open(rec.auction, l.clock.Now())
}

func (l *Ledger) open(a types.Auction, now time.Time) error {
	if a.Ended || now.After(a.EndTime) {
		return apperrors.Newf(apperrors.ErrAuctionClosed, "auction %d closed for bidding at %s", a.ID, a.EndTime)
	}
	return nil
}

// joinReturn adds the failure to hand a bid back, if any, to err.
func joinReturn(err, returnErr error) error {
	if returnErr == nil {
		return err
	}
	return fmt.Errorf("%w; %w", err, returnErr)
}

// GetAllBids returns every bid on the auction in the order it was accepted.
func (l *Ledger) GetAllBids(ctx context.Context, id uint64) ([]types.Bid, error) {
	rec, err := l.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := rec.lockIdle(); err != nil {
		return nil, err
	}
	defer rec.mu.Unlock()
	return append([]types.Bid{}, rec.auction.Bids...), nil
}

// GetBidsForAddress returns the bidder's bids on the auction in order.
func (l *Ledger) GetBidsForAddress(ctx context.Context, id uint64, bidder types.Address) ([]types.Bid, error) {
	rec, err := l.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := rec.lockIdle(); err != nil {
		return nil, err
	}
	defer rec.mu.Unlock()

	idx := rec.bidIndex[bidder.Normalize()]
	out := make([]types.Bid, 0, len(idx))
	for _, i := range idx {
		out = append(out, rec.auction.Bids[i])
	}
	return out, nil
}
