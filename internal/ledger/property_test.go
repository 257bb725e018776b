package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Martin-Hayot/auction-ledger/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var bidders = []types.Address{"0x01", "0x02", "0x03", "0x04"}

// Property: stakes always balance bids, the highest bid never decreases
// while the auction is open, and after settlement every unit of value is
// back with a party exactly once.
func TestProperty_LedgerConservesValue(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f, err := buildFixture()
		require.NoError(rt, err)
		ctx := context.Background()
		for _, b := range bidders {
			f.bank.Deposit(b, decimal.NewFromInt(1_000_000))
		}
		id := f.create(rt, "prop", time.Hour)

		highest := decimal.Zero
		steps := rapid.IntRange(0, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			who := rapid.SampledFrom(bidders).Draw(rt, "bidder")
			cents := rapid.Int64Range(1, 10_000).Draw(rt, "cents")
			got, err := f.ledger.PlaceBid(ctx, id, who, decimal.New(cents, -2))
			require.NoError(rt, err)

			if got.LessThan(highest) {
				rt.Fatalf("highest bid went down from %s to %s", highest, got)
			}
			highest = got
			require.NoError(rt, f.ledger.CheckInvariants(ctx, id))

			f.clock.Advance(time.Duration(rapid.IntRange(0, 30).Draw(rt, "tick")) * time.Second)
		}

		f.clock.Advance(time.Hour)
		closed, err := f.ledger.CloseAuction(ctx, id)
		require.NoError(rt, err)
		if !closed.HighestBid.Equal(highest) {
			rt.Fatalf("closed at %s, expected %s", closed.HighestBid, highest)
		}

		// Withdraw twice per bidder; the second round must pay nothing.
		for round := 0; round < 2; round++ {
			for _, b := range bidders {
				refund, err := f.ledger.Withdraw(ctx, id, b)
				require.NoError(rt, err)
				require.True(rt, refund.OK)
				if round == 1 && !refund.Amount.IsZero() {
					rt.Fatalf("second withdrawal paid %s to %s", refund.Amount, b)
				}
			}
		}
		require.NoError(rt, f.ledger.CheckInvariants(ctx, id))

		if !f.ledger.HeldBalance().IsZero() {
			rt.Fatalf("ledger still holds %s after settlement", f.ledger.HeldBalance())
		}
		total := f.bank.Balance("0xbeef")
		for _, b := range bidders {
			total = total.Add(f.bank.Balance(b))
		}
		want := decimal.NewFromInt(4 * 1_000_000).Add(amt(opening).Mul(decimal.NewFromInt(5)))
		if !total.Equal(want) {
			rt.Fatalf("value not conserved: have %s, want %s", total, want)
		}
	})
}

func TestConcurrentBidsAcrossAuctions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, b := range bidders {
		f.bank.Deposit(b, decimal.NewFromInt(10_000))
	}
	ids := []uint64{f.create(t, "a", time.Hour), f.create(t, "b", time.Hour), f.create(t, "c", time.Hour)}

	var wg sync.WaitGroup
	for _, id := range ids {
		for _, b := range bidders {
			wg.Add(1)
			go func(id uint64, b types.Address) {
				defer wg.Done()
				for i := 0; i < 25; i++ {
					_, err := f.ledger.PlaceBid(ctx, id, b, decimal.NewFromInt(1))
					assert.NoError(t, err)
				}
			}(id, b)
		}
	}
	wg.Wait()

	for _, id := range ids {
		require.NoError(t, f.ledger.CheckInvariants(ctx, id))
		bids, err := f.ledger.GetAllBids(ctx, id)
		require.NoError(t, err)
		assert.Len(t, bids, 100)
	}
	requireAmount(t, "300", f.ledger.HeldBalance())
}
