// Package settlement converts completed transactions — won auctions
// and fixed-price orders — into Sale records, computing commission and
// profit, and releases pending income into seller aggregates after the
// grace period.
//
// All monetary math is exact: the commission is the income times the
// rate rounded half-up to the minor unit, and the profit absorbs the
// remainder, so commission + profit == income always holds.
package settlement

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/artify/auction-engine/internal/auction"
	"github.com/artify/auction-engine/internal/model"
	"github.com/artify/auction-engine/internal/store"
)

var (
	// ErrNoWinningBid is returned when settling an auction that closed
	// without bids. Such auctions produce no sale.
	ErrNoWinningBid = errors.New("settlement: auction closed with no bids")

	// ErrAlreadySettled is returned when the auction or order already
	// has a sale.
	ErrAlreadySettled = errors.New("settlement: transaction already settled")
)

// DefaultCommissionRate is the marketplace cut: a flat 5%.
var DefaultCommissionRate = decimal.NewFromFloat(0.05)

// releaseDelay is the grace period between a sale and its income
// release.
const releaseDelay = 7 * 24 * time.Hour

// Engine materializes sales and owns every write to seller income
// aggregates. No other component mutates them.
type Engine struct {
	store store.Store
	rate  decimal.Decimal
}

// NewEngine creates a settlement engine with the given commission rate.
// The rate must stay inside (0, 1] — the commission can never exceed
// the income, so the profit stays non-negative. Rates outside that
// range fall back to the default 5%.
func NewEngine(st store.Store, rate decimal.Decimal) *Engine {
	if rate.LessThanOrEqual(decimal.Zero) || rate.GreaterThan(decimal.New(1, 0)) {
		rate = DefaultCommissionRate
	}
	return &Engine{store: st, rate: rate}
}

// SettleAuctionSale converts a closed auction carrying a winning bid
// into a Sale. Income is the winning amount; the sale starts pending
// with the release date one week out. Seller aggregates are untouched
// until release.
func (e *Engine) SettleAuctionSale(ctx context.Context, result *auction.ClosedResult, now time.Time) (*model.Sale, error) {
	if result == nil || result.NoBids() {
		return nil, ErrNoWinningBid
	}

	a := result.Auction
	artworkID := ""
	if len(a.ArtworkIDs) > 0 {
		artworkID = a.ArtworkIDs[0]
	}

	sale := e.newSale(now)
	sale.AuctionID = a.ID
	sale.SellerID = a.SellerID
	sale.BuyerID = result.WinningBid.BidderID
	sale.ArtworkID = artworkID
	sale.SellingType = model.SellingAuction
	sale.Income = result.WinningBid.Amount
	sale.Commission, sale.Profit = sale.Income.Split(e.rate)

	if err := e.persist(ctx, sale); err != nil {
		return nil, err
	}

	slog.Info("auction sale settled",
		"sale_id", sale.ID,
		"auction_id", a.ID,
		"seller", sale.SellerID,
		"buyer", sale.BuyerID,
		"income", sale.Income.String(),
		"commission", sale.Commission.String(),
		"profit", sale.Profit.String(),
	)
	return sale, nil
}

// SettleFixedPriceSale runs the same computation path for a non-auction
// purchase, deriving income from the order total.
func (e *Engine) SettleFixedPriceSale(ctx context.Context, order *model.Order, now time.Time) (*model.Sale, error) {
	total, err := order.Total()
	if err != nil {
		return nil, err
	}

	sale := e.newSale(now)
	sale.OrderID = order.ID
	sale.SellerID = order.SellerID
	sale.BuyerID = order.BuyerID
	sale.ArtworkID = order.ArtworkID
	sale.SellingType = model.SellingFixedPrice
	sale.Income = total
	sale.Commission, sale.Profit = sale.Income.Split(e.rate)

	if err := e.persist(ctx, sale); err != nil {
		return nil, err
	}

	slog.Info("fixed-price sale settled",
		"sale_id", sale.ID,
		"order_id", order.ID,
		"seller", sale.SellerID,
		"income", sale.Income.String(),
		"profit", sale.Profit.String(),
	)
	return sale, nil
}

// ReleasePendingIncome scans sales whose release date has passed and
// credits each seller's total income with the sale's profit. The store
// claims each sale exactly once (check-and-set on pending_income), so
// sweeps may run repeatedly or concurrently without double-crediting.
// Returns the sales released by this invocation.
func (e *Engine) ReleasePendingIncome(ctx context.Context, now time.Time) ([]model.Sale, error) {
	due, err := e.store.ListReleasableSales(ctx, now)
	if err != nil {
		return nil, err
	}

	var released []model.Sale
	for _, sale := range due {
		claimed, err := e.store.ReleaseSaleIncome(ctx, sale.ID, now)
		if err != nil {
			return released, err
		}
		if !claimed {
			// Another sweep got there first.
			continue
		}
		sale.PendingIncome = false
		released = append(released, sale)

		slog.Info("pending income released",
			"sale_id", sale.ID,
			"seller", sale.SellerID,
			"profit", sale.Profit.String(),
		)
	}
	return released, nil
}

// SellerIncome reports a seller's aggregate ledger.
func (e *Engine) SellerIncome(ctx context.Context, sellerID string) (*model.SellerIncome, error) {
	return e.store.GetSellerIncome(ctx, sellerID)
}

func (e *Engine) newSale(now time.Time) *model.Sale {
	date := now.UTC()
	return &model.Sale{
		ID:                uuid.New().String(),
		PendingIncome:     true,
		Date:              date,
		IncomeReleaseDate: date.Add(releaseDelay),
	}
}

func (e *Engine) persist(ctx context.Context, sale *model.Sale) error {
	if err := e.store.CreateSale(ctx, sale); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return ErrAlreadySettled
		}
		return err
	}
	return nil
}
