package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Martin-Hayot/auction-ledger/internal/funds"
	"github.com/Martin-Hayot/auction-ledger/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []types.Event
}

func (r *recorder) Notify(_ context.Context, ev types.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) types() []types.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

// flakyStore fails writes while failing is set.
type flakyStore struct {
	*MemoryStore
	mu      sync.Mutex
	failing bool
}

var errStoreDown = errors.New("store down")

func (s *flakyStore) fail(v bool) {
	s.mu.Lock()
	s.failing = v
	s.mu.Unlock()
}

func (s *flakyStore) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errStoreDown
	}
	return nil
}

func (s *flakyStore) SaveAuction(ctx context.Context, a types.Auction) error {
	if err := s.err(); err != nil {
		return err
	}
	return s.MemoryStore.SaveAuction(ctx, a)
}

func (s *flakyStore) RecordBid(ctx context.Context, a types.Auction, b types.Bid) error {
	if err := s.err(); err != nil {
		return err
	}
	return s.MemoryStore.RecordBid(ctx, a, b)
}

type fixture struct {
	ledger *Ledger
	bank   *funds.Accounts
	clock  *fakeClock
	events *recorder
}

const opening = "10"

func buildFixture(opts ...Option) (*fixture, error) {
	f := &fixture{
		bank:   funds.NewAccounts(decimal.RequireFromString(opening)),
		clock:  &fakeClock{now: epoch},
		events: &recorder{},
	}
	opts = append([]Option{WithClock(f.clock), WithNotifier(f.events)}, opts...)
	l, err := New(context.Background(), f.bank, opts...)
	if err != nil {
		return nil, err
	}
	f.ledger = l
	return f, nil
}

func newFixture(t require.TestingT, opts ...Option) *fixture {
	f, err := buildFixture(opts...)
	require.NoError(t, err)
	return f
}

func (f *fixture) create(t require.TestingT, name string, d time.Duration) uint64 {
	id, err := f.ledger.CreateAuction(context.Background(), CreateParams{
		Name:        name,
		Duration:    d,
		Beneficiary: "0xbeef",
		ContentHash: "QmImageHash",
		Creator:     "0xc0ffee",
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) bid(t require.TestingT, id uint64, bidder types.Address, amount string) decimal.Decimal {
	highest, err := f.ledger.PlaceBid(context.Background(), id, bidder, amt(amount))
	require.NoError(t, err)
	return highest
}

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireAmount(t require.TestingT, want string, got decimal.Decimal) {
	require.Truef(t, got.Equal(amt(want)), "want amount %s, got %s", want, got)
}

// within fails the test when fn has not returned after d.
func within(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("call did not return; the auction lock is still held")
	}
}

type notifierFunc func(ctx context.Context, ev types.Event)

func (fn notifierFunc) Notify(ctx context.Context, ev types.Event) { fn(ctx, ev) }
