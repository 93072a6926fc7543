package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/artify/auction-engine/internal/model"
	"github.com/artify/auction-engine/internal/money"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	auctions map[string]*model.Auction
	bids     []model.Bid
	sales    map[string]*model.Sale
	sellers  map[string]*model.SellerIncome
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		auctions: make(map[string]*model.Auction),
		sales:    make(map[string]*model.Sale),
		sellers:  make(map[string]*model.SellerIncome),
	}
}

func (s *MemoryStore) CreateAuction(_ context.Context, a *model.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.auctions[a.ID]; exists {
		return fmt.Errorf("%w: auction %s already exists", ErrConflict, a.ID)
	}

	// Store a copy to avoid external mutation.
	copy := *a
	s.auctions[a.ID] = &copy
	return nil
}

func (s *MemoryStore) GetAuction(_ context.Context, id string) (*model.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.auctions[id]
	if !ok {
		return nil, fmt.Errorf("%w: auction %s", ErrNotFound, id)
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) ListAuctions(_ context.Context) ([]model.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	auctions := make([]model.Auction, 0, len(s.auctions))
	for _, a := range s.auctions {
		auctions = append(auctions, *a)
	}
	sort.Slice(auctions, func(i, j int) bool {
		return auctions[i].CreatedAt.After(auctions[j].CreatedAt)
	})
	return auctions, nil
}

func (s *MemoryStore) UpdateAuctionStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[id]
	if !ok {
		return fmt.Errorf("%w: auction %s", ErrNotFound, id)
	}
	a.Status = status
	return nil
}

// RecordBid appends the bid and moves the auction's current bid under a
// single lock, mirroring the transactional write of the Postgres store.
func (s *MemoryStore) RecordBid(_ context.Context, bid *model.Bid) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[bid.AuctionID]
	if !ok {
		return fmt.Errorf("%w: auction %s", ErrNotFound, bid.AuctionID)
	}

	s.bids = append(s.bids, *bid)
	amount := bid.Amount
	a.CurrentBid = &amount
	return nil
}

func (s *MemoryStore) GetBidsByAuction(_ context.Context, auctionID string) ([]model.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Bid
	for _, b := range s.bids {
		if b.AuctionID == auctionID {
			result = append(result, b)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].PlacedAt.Before(result[j].PlacedAt)
	})
	return result, nil
}

func (s *MemoryStore) GetHighestBid(ctx context.Context, auctionID string) (*model.Bid, error) {
	bids, err := s.GetBidsByAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	var best *model.Bid
	for i := range bids {
		b := bids[i]
		// Earliest placement wins ties; bids are already time-ordered,
		// so only a strictly greater amount displaces the leader.
		if best == nil || b.Amount.GreaterThan(best.Amount) {
			best = &b
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: no bids for auction %s", ErrNotFound, auctionID)
	}
	copy := *best
	return &copy, nil
}

func (s *MemoryStore) CreateSale(_ context.Context, sale *model.Sale) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.sales {
		if sale.AuctionID != "" && existing.AuctionID == sale.AuctionID {
			return fmt.Errorf("%w: auction %s already settled", ErrConflict, sale.AuctionID)
		}
		if sale.OrderID != "" && existing.OrderID == sale.OrderID {
			return fmt.Errorf("%w: order %s already settled", ErrConflict, sale.OrderID)
		}
	}

	copy := *sale
	s.sales[sale.ID] = &copy
	return nil
}

func (s *MemoryStore) GetSale(_ context.Context, id string) (*model.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, fmt.Errorf("%w: sale %s", ErrNotFound, id)
	}
	copy := *sale
	return &copy, nil
}

func (s *MemoryStore) GetSaleByAuction(_ context.Context, auctionID string) (*model.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sale := range s.sales {
		if sale.AuctionID == auctionID {
			copy := *sale
			return &copy, nil
		}
	}
	return nil, fmt.Errorf("%w: no sale for auction %s", ErrNotFound, auctionID)
}

func (s *MemoryStore) ListSalesBySeller(_ context.Context, sellerID string) ([]model.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Sale
	for _, sale := range s.sales {
		if sale.SellerID == sellerID {
			result = append(result, *sale)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Date.Before(result[j].Date)
	})
	return result, nil
}

func (s *MemoryStore) ListReleasableSales(_ context.Context, now time.Time) ([]model.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Sale
	for _, sale := range s.sales {
		if sale.PendingIncome && !sale.IncomeReleaseDate.After(now) {
			result = append(result, *sale)
		}
	}
	return result, nil
}

// ReleaseSaleIncome flips pending_income and credits the seller under
// one lock. The flag acts as the claim token: a second call observes
// pending_income=false and returns without crediting. The credit is
// computed before the claim is consumed, so a currency mismatch leaves
// the sale pending and releasable once the mismatch is resolved.
func (s *MemoryStore) ReleaseSaleIncome(_ context.Context, saleID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[saleID]
	if !ok {
		return false, nil
	}
	if !sale.PendingIncome || sale.IncomeReleaseDate.After(now) {
		return false, nil
	}

	income, ok := s.sellers[sale.SellerID]
	if !ok {
		income = &model.SellerIncome{
			SellerID:          sale.SellerID,
			TotalIncome:       money.MustNew(0, sale.Profit.Currency()),
			PendingWithdrawal: money.MustNew(0, sale.Profit.Currency()),
			TotalWithdrawal:   money.MustNew(0, sale.Profit.Currency()),
		}
		s.sellers[sale.SellerID] = income
	}

	total, err := income.TotalIncome.Add(sale.Profit)
	if err != nil {
		return false, err
	}

	sale.PendingIncome = false
	income.TotalIncome = total
	return true, nil
}

func (s *MemoryStore) GetSellerIncome(_ context.Context, sellerID string) (*model.SellerIncome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	income, ok := s.sellers[sellerID]
	if !ok {
		zero := money.MustNew(0, money.DefaultCurrency)
		return &model.SellerIncome{
			SellerID:          sellerID,
			TotalIncome:       zero,
			PendingWithdrawal: zero,
			TotalWithdrawal:   zero,
		}, nil
	}
	copy := *income
	return &copy, nil
}
