package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/Martin-Hayot/auction-ledger/pkg/types"
)

// MemoryStore keeps auctions in process memory. State does not survive a restart.
type MemoryStore struct {
	mu       sync.Mutex
	auctions map[uint64]types.Auction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{auctions: make(map[uint64]types.Auction)}
}

func (s *MemoryStore) LoadAuctions(ctx context.Context) ([]types.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Auction, 0, len(s.auctions))
	for _, a := range s.auctions {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SaveAuction(ctx context.Context, auction types.Auction) error {
	s.mu.Lock()
	s.auctions[auction.ID] = auction.Clone()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) RecordBid(ctx context.Context, auction types.Auction, bid types.Bid) error {
	return s.SaveAuction(ctx, auction)
}
