// Package model defines the core domain types shared across the auction
// engine. All monetary values use the money fixed-point type — never
// float64 for money.
package model

import (
	"time"

	"github.com/artify/auction-engine/internal/money"
)

// Auction lifecycle statuses.
const (
	AuctionScheduled = "SCHEDULED"
	AuctionOpen      = "OPEN"
	AuctionClosed    = "CLOSED"
	AuctionCancelled = "CANCELLED"
)

// Selling channels for a sale.
const (
	SellingAuction    = "AUCTION"
	SellingFixedPrice = "FIXED_PRICE"
)

// Auction is a timed bidding window over one or more artworks.
// CurrentBid, when set, is always the highest accepted bid and is
// >= MinimumBid. Bids belong exclusively to their auction.
type Auction struct {
	ID         string       `json:"id" db:"id"`
	SellerID   string       `json:"seller_id" db:"seller_id"`
	Name       string       `json:"name" db:"name"`
	ArtworkIDs []string     `json:"artwork_ids" db:"artwork_ids"`
	StartTime  time.Time    `json:"start_time" db:"start_time"`
	EndTime    time.Time    `json:"end_time" db:"end_time"`
	MinimumBid money.Money  `json:"minimum_bid" db:"minimum_bid"`
	CurrentBid *money.Money `json:"current_bid,omitempty" db:"current_bid"`
	Status     string       `json:"status" db:"status"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
}

// Bid is an immutable record of an accepted bid. Once created, bids are
// never modified or deleted.
// Schema: {auction, bidder, amount, placed_at}
type Bid struct {
	ID        string      `json:"id" db:"id"`
	AuctionID string      `json:"auction_id" db:"auction_id"`
	BidderID  string      `json:"bidder_id" db:"bidder_id"`
	Amount    money.Money `json:"amount" db:"amount"`
	PlacedAt  time.Time   `json:"placed_at" db:"placed_at"`
}

// Sale is the settlement record for one completed transaction, auction
// or fixed price. Immutable after creation except PendingIncome, which
// flips to false exactly once when the income is released.
// Invariant: Commission + Profit == Income exactly.
type Sale struct {
	ID                string      `json:"id" db:"id"`
	AuctionID         string      `json:"auction_id,omitempty" db:"auction_id"`
	OrderID           string      `json:"order_id,omitempty" db:"order_id"`
	SellerID          string      `json:"seller_id" db:"seller_id"`
	BuyerID           string      `json:"buyer_id" db:"buyer_id"`
	ArtworkID         string      `json:"artwork_id" db:"artwork_id"`
	SellingType       string      `json:"selling_type" db:"selling_type"`
	Income            money.Money `json:"income" db:"income"`
	Commission        money.Money `json:"commission" db:"commission"`
	Profit            money.Money `json:"profit" db:"profit"`
	PendingIncome     bool        `json:"pending_income" db:"pending_income"`
	Date              time.Time   `json:"date" db:"date"`
	IncomeReleaseDate time.Time   `json:"income_release_date" db:"income_release_date"`
}

// Order is a fixed-price purchase feeding settlement. Catalog details
// (frames, delivery address) live with the marketplace layer; the
// engine only needs the parties and the charged amounts.
type Order struct {
	ID             string      `json:"id" db:"id"`
	BuyerID        string      `json:"buyer_id" db:"buyer_id"`
	SellerID       string      `json:"seller_id" db:"seller_id"`
	ArtworkID      string      `json:"artwork_id" db:"artwork_id"`
	Quantity       int         `json:"quantity" db:"quantity"`
	UnitPrice      money.Money `json:"unit_price" db:"unit_price"`
	DeliveryCharge money.Money `json:"delivery_charge" db:"delivery_charge"`
	Date           time.Time   `json:"date" db:"date"`
}

// Total is the gross amount the buyer pays: quantity × unit price plus
// delivery.
func (o Order) Total() (money.Money, error) {
	qty := o.Quantity
	if qty < 1 {
		qty = 1
	}
	total, err := money.New(o.UnitPrice.MinorUnits()*int64(qty), o.UnitPrice.Currency())
	if err != nil {
		return money.Money{}, err
	}
	if o.DeliveryCharge.IsZero() {
		return total, nil
	}
	return total.Add(o.DeliveryCharge)
}

// SellerIncome is a seller's aggregate income ledger. These fields are
// written only by the settlement engine's release step — never by a
// handler — so a sale can never be counted twice.
type SellerIncome struct {
	SellerID          string      `json:"seller_id" db:"seller_id"`
	TotalIncome       money.Money `json:"total_income" db:"total_income"`
	PendingWithdrawal money.Money `json:"pending_withdrawal" db:"pending_withdrawal"`
	TotalWithdrawal   money.Money `json:"total_withdrawal" db:"total_withdrawal"`
}
