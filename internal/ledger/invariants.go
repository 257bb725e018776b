package ledger

import (
	"context"
	"fmt"

	"github.com/Martin-Hayot/auction-ledger/pkg/types"
	"github.com/shopspring/decimal"
)

// CheckInvariants verifies the accounting of one auction.
func (l *Ledger) CheckInvariants(ctx context.Context, id uint64) error {
	a, err := l.GetAuction(ctx, id)
	if err != nil {
		return err
	}
	return CheckAuction(a)
}

// CheckAuction verifies that an auction snapshot is consistent:
//   - stakes plus refunds equal the sum of all bids, per bidder and in total
//   - the highest bid is the largest cumulative contribution and belongs to the leader
//   - bid timestamps never decrease
func CheckAuction(a types.Auction) error {
	contributed := make(map[types.Address]decimal.Decimal)
	for i, b := range a.Bids {
		if !b.Amount.IsPositive() {
			return fmt.Errorf("auction %d: bid %d has non-positive amount %s", a.ID, i, b.Amount)
		}
		if i > 0 && b.Timestamp.Before(a.Bids[i-1].Timestamp) {
			return fmt.Errorf("auction %d: bid %d is older than bid %d", a.ID, i, i-1)
		}
		contributed[b.Bidder] = contributed[b.Bidder].Add(b.Amount)
	}

	max := decimal.Zero
	for bidder, total := range contributed {
		held := a.Stakes[bidder].Add(a.Refunded[bidder])
		if !held.Equal(total) {
			return fmt.Errorf("auction %d: %s bid %s but stake+refund is %s", a.ID, bidder, total, held)
		}
		if total.GreaterThan(max) {
			max = total
		}
	}
	for bidder := range a.Stakes {
		if _, ok := contributed[bidder]; !ok {
			return fmt.Errorf("auction %d: stake for %s who never bid", a.ID, bidder)
		}
	}

	if !a.HighestBid.Equal(max) {
		return fmt.Errorf("auction %d: highest bid %s, largest stake %s", a.ID, a.HighestBid, max)
	}
	if len(a.Bids) == 0 {
		if a.HasLeader() {
			return fmt.Errorf("auction %d: leader %s without bids", a.ID, a.HighestBidder)
		}
		return nil
	}
	if !contributed[a.HighestBidder].Equal(max) {
		return fmt.Errorf("auction %d: leader %s contributed %s, not the highest %s", a.ID, a.HighestBidder, contributed[a.HighestBidder], max)
	}
	if a.Ended && !a.Refunded[a.HighestBidder].IsZero() {
		return fmt.Errorf("auction %d: winner %s was refunded", a.ID, a.HighestBidder)
	}
	return nil
}
