// Package ledger tracks concurrent auctions, accepts bids against them and
// settles funds exactly once per party.
//
// Bidding follows the cumulative-stake policy: every bid adds to the
// bidder's running total, the leader changes only when a total strictly
// exceeds the previous highest, and all refunds wait until the auction is
// closed.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/Martin-Hayot/auction-ledger/pkg/errors"
	"github.com/Martin-Hayot/auction-ledger/pkg/types"
	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"
)

const defaultMaxPageSize = 100

// Clock supplies the ledger's notion of now.
type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// Bank moves value in and out of the ledger. Pay may be refused by the
// receiving party; implementations must pass ctx to any receiver callback.
type Bank interface {
	Collect(ctx context.Context, from types.Address, amount decimal.Decimal) error
	Pay(ctx context.Context, to types.Address, amount decimal.Decimal) error
}

// Notifier receives events after each successful operation.
type Notifier interface {
	Notify(ctx context.Context, ev types.Event)
}

// Notifiers fans each event out to every notifier in order.
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, ev types.Event) {
	for _, n := range ns {
		n.Notify(ctx, ev)
	}
}

// Store persists auctions. RecordBid must append the bid and save the
// auction header atomically.
type Store interface {
	LoadAuctions(ctx context.Context) ([]types.Auction, error)
	SaveAuction(ctx context.Context, auction types.Auction) error
	RecordBid(ctx context.Context, auction types.Auction, bid types.Bid) error
}

type Option func(*Ledger)

func WithClock(c Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

func WithStore(s Store) Option {
	return func(l *Ledger) { l.store = s }
}

func WithNotifier(n Notifier) Option {
	return func(l *Ledger) { l.notifier = n }
}

// WithCloseBuffer delays closing until endTime plus d.
func WithCloseBuffer(d time.Duration) Option {
	return func(l *Ledger) { l.closeBuffer = d }
}

func WithMaxPageSize(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxPageSize = n
		}
	}
}

type Ledger struct {
	// mu guards the registry: auctions, byName, order and seq.
	mu       sync.RWMutex
	auctions map[uint64]*record
	byName   map[string][]uint64
	order    []uint64
	seq      *Sequence

	// fundsMu guards held and unclaimed.
	fundsMu   sync.Mutex
	held      decimal.Decimal
	unclaimed map[types.Address]decimal.Decimal

	store       Store
	bank        Bank
	notifier    Notifier
	clock       Clock
	closeBuffer time.Duration
	maxPageSize int
}

// record is one auction plus its lock. Operations hold mu while they read and
// write the auction. Around fund transfers they drop it and set busy, and every
// other call on the auction is rejected until the transfer's outcome is applied.
type record struct {
	mu       sync.Mutex
	busy     bool
	dirty    bool // auction holds a state the store has not accepted yet
	auction  types.Auction
	bidIndex map[types.Address][]int

	pending    []types.Event
	delivering bool
}

func newRecord(a types.Auction) *record {
	rec := &record{auction: a, bidIndex: make(map[types.Address][]int)}
	for i, b := range a.Bids {
		rec.bidIndex[b.Bidder] = append(rec.bidIndex[b.Bidder], i)
	}
	return rec
}

// New builds a ledger and restores its state from the configured store.
func New(ctx context.Context, bank Bank, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		auctions:    make(map[uint64]*record),
		byName:      make(map[string][]uint64),
		unclaimed:   make(map[types.Address]decimal.Decimal),
		seq:         NewSequence(1),
		bank:        bank,
		clock:       ClockFunc(func() time.Time { return time.Now().UTC() }),
		maxPageSize: defaultMaxPageSize,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.store == nil {
		l.store = NewMemoryStore()
	}
	if l.bank == nil {
		return nil, fmt.Errorf("ledger requires a bank")
	}

	auctions, err := l.store.LoadAuctions(ctx)
	if err != nil {
		return nil, fmt.Errorf("error loading auctions: %w", err)
	}
	for _, a := range auctions {
		l.restore(a)
	}
	log.Infof("Ledger restored %d auctions, holding %s", len(auctions), l.held)
	return l, nil
}

// restore indexes a persisted auction and re-derives the funds it still holds.
func (l *Ledger) restore(a types.Auction) {
	if a.Stakes == nil {
		a.Stakes = make(map[types.Address]decimal.Decimal)
	}
	if a.Refunded == nil {
		a.Refunded = make(map[types.Address]decimal.Decimal)
	}
	l.auctions[a.ID] = newRecord(a)
	l.byName[a.Name] = append(l.byName[a.Name], a.ID)
	l.order = append(l.order, a.ID)
	l.seq.Observe(a.ID)

	for _, s := range a.Stakes {
		l.held = l.held.Add(s)
	}
	if a.Ended {
		l.held = l.held.Sub(a.HighestBid)
	}
}

func (l *Ledger) lookup(ctx context.Context, id uint64) (*record, error) {
	if err := l.enter(ctx); err != nil {
		return nil, err
	}
	l.mu.RLock()
	rec, ok := l.auctions[id]
	l.mu.RUnlock()
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "auction %d not found", id)
	}
	return rec, nil
}

func (l *Ledger) notify(ctx context.Context, ev types.Event) {
	if l.notifier == nil {
		return
	}
	l.notifier.Notify(ctx, ev)
}

// HeldBalance is the total value the ledger currently holds for all auctions.
func (l *Ledger) HeldBalance() decimal.Decimal {
	l.fundsMu.Lock()
	defer l.fundsMu.Unlock()
	return l.held
}

func (l *Ledger) addHeld(d decimal.Decimal) {
	l.fundsMu.Lock()
	l.held = l.held.Add(d)
	l.fundsMu.Unlock()
}

// releaseHeld subtracts d if the ledger holds at least that much.
func (l *Ledger) releaseHeld(d decimal.Decimal) bool {
	l.fundsMu.Lock()
	defer l.fundsMu.Unlock()
	if l.held.LessThan(d) {
		return false
	}
	l.held = l.held.Sub(d)
	return true
}

// Unclaimed is the value owed to addr whose return transfer was refused.
func (l *Ledger) Unclaimed(addr types.Address) decimal.Decimal {
	l.fundsMu.Lock()
	defer l.fundsMu.Unlock()
	return l.unclaimed[addr.Normalize()]
}

// ClaimUnclaimed pays addr the value it previously refused. A refused payment
// leaves the credit in place.
func (l *Ledger) ClaimUnclaimed(ctx context.Context, addr types.Address) (decimal.Decimal, error) {
	if err := l.enter(ctx); err != nil {
		return decimal.Zero, err
	}
	addr = addr.Normalize()
	l.fundsMu.Lock()
	owed := l.unclaimed[addr]
	delete(l.unclaimed, addr)
	l.fundsMu.Unlock()
	if !owed.IsPositive() {
		return decimal.Zero, nil
	}

	if err := l.bank.Pay(l.guarded(ctx), addr, owed); err != nil {
		l.addUnclaimed(addr, owed)
		return decimal.Zero, apperrors.WithCause(apperrors.ErrTransferFailed, err)
	}
	log.Info("Unclaimed credit paid", "address", addr, "amount", owed)
	return owed, nil
}

func (l *Ledger) addUnclaimed(addr types.Address, d decimal.Decimal) {
	l.fundsMu.Lock()
	l.unclaimed[addr] = l.unclaimed[addr].Add(d)
	l.fundsMu.Unlock()
}

// returnBid gives a collected bid back to the bidder. When the bidder refuses
// it the amount is kept as unclaimed credit and the error names it.
func (l *Ledger) returnBid(ctx context.Context, id uint64, bidder types.Address, amount decimal.Decimal) error {
	err := l.bank.Pay(ctx, bidder, amount)
	if err == nil {
		return nil
	}
	l.addUnclaimed(bidder, amount)
	log.Error("Returned bid refused, kept as unclaimed credit", "auction", id, "bidder", bidder, "amount", amount, "error", err)
	return fmt.Errorf("returning %s to %s was refused, held as unclaimed credit: %w", amount, bidder, err)
}
