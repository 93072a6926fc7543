// Package store defines the persistence interface for the auction
// engine. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/artify/auction-engine/internal/model"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a write would violate uniqueness,
	// such as settling the same auction or order twice.
	ErrConflict = errors.New("store: conflict")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. Implementations must make
// RecordBid and ReleaseSaleIncome atomic: a bid append always lands
// together with its current-bid update, and an income release credits
// the seller at most once.
type Store interface {
	// --- Auction operations ---

	// CreateAuction persists a new auction.
	CreateAuction(ctx context.Context, auction *model.Auction) error

	// GetAuction retrieves an auction by its ID.
	GetAuction(ctx context.Context, id string) (*model.Auction, error)

	// ListAuctions returns all auctions.
	ListAuctions(ctx context.Context) ([]model.Auction, error)

	// UpdateAuctionStatus moves an auction to a new lifecycle status.
	UpdateAuctionStatus(ctx context.Context, id, status string) error

	// --- Immutable bid ledger ---

	// RecordBid appends an accepted bid and updates the auction's
	// current bid in one atomic write.
	RecordBid(ctx context.Context, bid *model.Bid) error

	// GetBidsByAuction returns all bids for an auction ordered by
	// placement time.
	GetBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error)

	// GetHighestBid returns the highest bid for an auction, earliest
	// placement winning ties. ErrNotFound when the auction has no bids.
	GetHighestBid(ctx context.Context, auctionID string) (*model.Bid, error)

	// --- Sales ---

	// CreateSale persists a settlement record. ErrConflict if the
	// auction or order has already been settled.
	CreateSale(ctx context.Context, sale *model.Sale) error

	// GetSale retrieves a sale by its ID.
	GetSale(ctx context.Context, id string) (*model.Sale, error)

	// GetSaleByAuction retrieves the sale settled for an auction.
	// ErrNotFound when the auction has not been settled.
	GetSaleByAuction(ctx context.Context, auctionID string) (*model.Sale, error)

	// ListSalesBySeller returns all sales for a seller.
	ListSalesBySeller(ctx context.Context, sellerID string) ([]model.Sale, error)

	// ListReleasableSales returns sales still pending whose release
	// date has passed.
	ListReleasableSales(ctx context.Context, now time.Time) ([]model.Sale, error)

	// ReleaseSaleIncome atomically claims a pending sale (check-and-set
	// on pending_income) and credits the seller's total income with its
	// profit. Returns false when the sale was already released, not yet
	// due, or absent. The claim and the credit commit together: a failed
	// credit leaves pending_income set so the sale stays releasable.
	ReleaseSaleIncome(ctx context.Context, saleID string, now time.Time) (bool, error)

	// --- Seller aggregates ---

	// GetSellerIncome returns a seller's aggregate income ledger.
	GetSellerIncome(ctx context.Context, sellerID string) (*model.SellerIncome, error)
}
