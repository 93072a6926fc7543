package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/artify/auction-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. Only auction records
// and seller income aggregates are cached — bid and sale histories are
// read straight from the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateAuction(ctx context.Context, a *model.Auction) error {
	if err := s.primary.CreateAuction(ctx, a); err != nil {
		return err
	}
	s.cacheAuction(ctx, a)
	return nil
}

func (s *CachedStore) UpdateAuctionStatus(ctx context.Context, id, status string) error {
	if err := s.primary.UpdateAuctionStatus(ctx, id, status); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, auctionKey(id))
	return nil
}

func (s *CachedStore) RecordBid(ctx context.Context, bid *model.Bid) error {
	if err := s.primary.RecordBid(ctx, bid); err != nil {
		return err
	}
	// The auction's current bid moved.
	s.rdb.Del(ctx, auctionKey(bid.AuctionID))
	return nil
}

func (s *CachedStore) CreateSale(ctx context.Context, sale *model.Sale) error {
	return s.primary.CreateSale(ctx, sale)
}

func (s *CachedStore) ReleaseSaleIncome(ctx context.Context, saleID string, now time.Time) (bool, error) {
	released, err := s.primary.ReleaseSaleIncome(ctx, saleID, now)
	if err != nil {
		return released, err
	}
	if released {
		// The credited seller's aggregate is stale; drop it.
		if sale, err := s.primary.GetSale(ctx, saleID); err == nil {
			s.rdb.Del(ctx, sellerIncomeKey(sale.SellerID))
		}
	}
	return released, nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAuction(ctx context.Context, id string) (*model.Auction, error) {
	data, err := s.rdb.Get(ctx, auctionKey(id)).Bytes()
	if err == nil {
		var a model.Auction
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAuction(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheAuction(ctx, a)
	return a, nil
}

func (s *CachedStore) GetSellerIncome(ctx context.Context, sellerID string) (*model.SellerIncome, error) {
	data, err := s.rdb.Get(ctx, sellerIncomeKey(sellerID)).Bytes()
	if err == nil {
		var income model.SellerIncome
		if json.Unmarshal(data, &income) == nil {
			return &income, nil
		}
	}

	income, err := s.primary.GetSellerIncome(ctx, sellerID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(income); err == nil {
		s.rdb.Set(ctx, sellerIncomeKey(sellerID), data, s.ttl)
	}
	return income, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListAuctions(ctx context.Context) ([]model.Auction, error) {
	return s.primary.ListAuctions(ctx)
}

func (s *CachedStore) GetBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error) {
	return s.primary.GetBidsByAuction(ctx, auctionID)
}

func (s *CachedStore) GetHighestBid(ctx context.Context, auctionID string) (*model.Bid, error) {
	return s.primary.GetHighestBid(ctx, auctionID)
}

func (s *CachedStore) GetSale(ctx context.Context, id string) (*model.Sale, error) {
	return s.primary.GetSale(ctx, id)
}

func (s *CachedStore) GetSaleByAuction(ctx context.Context, auctionID string) (*model.Sale, error) {
	return s.primary.GetSaleByAuction(ctx, auctionID)
}

func (s *CachedStore) ListSalesBySeller(ctx context.Context, sellerID string) ([]model.Sale, error) {
	return s.primary.ListSalesBySeller(ctx, sellerID)
}

func (s *CachedStore) ListReleasableSales(ctx context.Context, now time.Time) ([]model.Sale, error) {
	return s.primary.ListReleasableSales(ctx, now)
}

// --- Cache helpers ---

func (s *CachedStore) cacheAuction(ctx context.Context, a *model.Auction) {
	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, auctionKey(a.ID), data, s.ttl)
	}
}

func auctionKey(id string) string { return fmt.Sprintf("auction:%s", id) }
func sellerIncomeKey(id string) string { return fmt.Sprintf("seller-income:%s", id) }
