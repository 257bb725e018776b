package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Martin-Hayot/auction-ledger/pkg/errors"
	"github.com/Martin-Hayot/auction-ledger/pkg/types"
	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"
)

type CreateParams struct {
	Name        string
	Duration    time.Duration
	Beneficiary types.Address
	ContentHash string
	Creator     types.Address
}

func (p CreateParams) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return apperrors.ErrInvalidName
	}
	if p.Duration <= 0 {
		return apperrors.Newf(apperrors.ErrInvalidDuration, "auction duration must be positive, got %s", p.Duration)
	}
	if p.Beneficiary.IsZero() {
		return apperrors.ErrInvalidBeneficiary
	}
	if strings.TrimSpace(p.ContentHash) == "" {
		return apperrors.ErrInvalidContentHash
	}
	return nil
}

// CreateAuction registers a new auction starting now and returns its id.
// Nothing is allocated when validation or persistence fails.
func (l *Ledger) CreateAuction(ctx context.Context, p CreateParams) (uint64, error) {
	if err := l.enter(ctx); err != nil {
		return 0, err
	}
	if err := p.validate(); err != nil {
		return 0, err
	}

	l.mu.Lock()
	now := l.clock.Now()
	a := types.Auction{
		ID:          l.seq.Peek(),
		Name:        p.Name,
		StartTime:   now,
		EndTime:     now.Add(p.Duration),
		Initiator:   p.Creator.Normalize(),
		Beneficiary: p.Beneficiary.Normalize(),
		ContentHash: p.ContentHash,
		HighestBid:  decimal.Zero,
		Stakes:      make(map[types.Address]decimal.Decimal),
		Refunded:    make(map[types.Address]decimal.Decimal),
	}
	if err := l.store.SaveAuction(ctx, a); err != nil {
		l.mu.Unlock()
		return 0, fmt.Errorf("error persisting auction %d: %w", a.ID, err)
	}
	l.seq.Advance()

	ev := types.NewEvent(types.EventAuctionCreated, a.ID, now)
	ev.Name = a.Name
	ev.Creator = a.Initiator
	ev.Beneficiary = a.Beneficiary
	ev.ContentHash = a.ContentHash
	ev.StartTime = &a.StartTime
	ev.EndTime = &a.EndTime

	// Queue the event before the record is visible so it precedes any bid's.
	rec := newRecord(a)
	rec.queue(ev)
	l.auctions[a.ID] = rec
	l.byName[a.Name] = append(l.byName[a.Name], a.ID)
	l.order = append(l.order, a.ID)
	l.mu.Unlock()

	log.Info("Auction created", "id", a.ID, "name", a.Name, "creator", a.Initiator, "ends", a.EndTime)
	l.deliver(l.guarded(ctx), rec)

	return a.ID, nil
}

// GetAuction returns a snapshot of the auction.
func (l *Ledger) GetAuction(ctx context.Context, id uint64) (types.Auction, error) {
	rec, err := l.lookup(ctx, id)
	if err != nil {
		return types.Auction{}, err
	}
	if err := rec.lockIdle(); err != nil {
		return types.Auction{}, err
	}
	defer rec.mu.Unlock()
	return rec.auction.Clone(), nil
}

// ids returns the creation-ordered ids indexed under name, or all ids when
// name is empty.
func (l *Ledger) ids(name string) []uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if name == "" {
		return append([]uint64(nil), l.order...)
	}
	return append([]uint64(nil), l.byName[name]...)
}

// GetAuctionsByName returns one page of auctions with the given name in
// creation order. An empty name matches every auction. The page never holds
// more than the configured maximum page size. An auction waiting on a transfer
// is listed as it was before the operation started.
func (l *Ledger) GetAuctionsByName(ctx context.Context, name string, offset, limit int) ([]types.Auction, error) {
	if err := l.enter(ctx); err != nil {
		return nil, err
	}
	ids := l.ids(name)
	if limit > l.maxPageSize {
		limit = l.maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || offset >= len(ids) {
		return []types.Auction{}, nil
	}
	end := offset + limit
	if end > len(ids) {
		end = len(ids)
	}

	page := make([]types.Auction, 0, end-offset)
	for _, id := range ids[offset:end] {
		l.mu.RLock()
		rec := l.auctions[id]
		l.mu.RUnlock()
		rec.mu.Lock()
		page = append(page, rec.auction.Clone())
		rec.mu.Unlock()
	}
	return page, nil
}

// CountByName counts auctions under name, or all auctions when name is empty.
func (l *Ledger) CountByName(ctx context.Context, name string) (int, error) {
	if err := l.enter(ctx); err != nil {
		return 0, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if name == "" {
		return len(l.order), nil
	}
	return len(l.byName[name]), nil
}

// NextAuctionID is the id the next successful CreateAuction will return.
func (l *Ledger) NextAuctionID() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq.Peek()
}

// ReadyToClose returns the lowest id of an open auction whose close
// condition holds. An external scheduler polls it and calls CloseAuction.
func (l *Ledger) ReadyToClose(ctx context.Context) (uint64, bool) {
	if l.enter(ctx) != nil {
		return 0, false
	}
	now := l.clock.Now()
	for _, id := range l.ids("") {
		l.mu.RLock()
		rec := l.auctions[id]
		l.mu.RUnlock()

		rec.mu.Lock()
		ready := !rec.auction.Ended && l.closeable(rec.auction, now)
		rec.mu.Unlock()
		if ready {
			return id, true
		}
	}
	return 0, false
}

func (l *Ledger) closeable(a types.Auction, now time.Time) bool {
	return !now.Before(a.EndTime.Add(l.closeBuffer))
}
