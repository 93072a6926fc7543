// Package auction implements the bid ledger and auction lifecycle: it
// validates and appends bids against live auctions and closes an
// auction into a settlement request exactly once.
//
// All operations on the same auction are serialized through a
// per-auction mutex, so two concurrent bids never both succeed and a
// close can never race a bid. Different auctions proceed fully in
// parallel.
package auction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/artify/auction-engine/internal/model"
	"github.com/artify/auction-engine/internal/money"
	"github.com/artify/auction-engine/internal/store"
)

var (
	// ErrAuctionNotFound is returned when the auction does not exist.
	ErrAuctionNotFound = errors.New("auction: not found")

	// ErrAuctionNotOpen is returned when the auction is in the wrong
	// status or outside its bidding window.
	ErrAuctionNotOpen = errors.New("auction: not open for bidding")

	// ErrBidTooLow is returned when a bid fails the strict-increase
	// check (or the minimum-bid check when no bids exist yet).
	ErrBidTooLow = errors.New("auction: bid too low")

	// ErrAlreadyClosed is returned when closing an auction that is
	// already CLOSED or CANCELLED.
	ErrAlreadyClosed = errors.New("auction: already closed")

	// ErrTooEarly is returned when close is attempted before the end
	// time without an admin override.
	ErrTooEarly = errors.New("auction: end time not reached")

	// ErrInvalidWindow is returned when an auction is created with
	// start >= end.
	ErrInvalidWindow = errors.New("auction: start time must precede end time")
)

// ClosedResult is the settlement request produced by a successful
// close. WinningBid is nil when the auction closed with no bids.
type ClosedResult struct {
	Auction    *model.Auction
	WinningBid *model.Bid
}

// NoBids reports whether the auction closed without a single bid.
func (r *ClosedResult) NoBids() bool { return r.WinningBid == nil }

// Service arbitrates bids and lifecycle transitions. State lives in
// the store; the service contributes validation and per-auction
// serialization.
type Service struct {
	store store.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates an auction service over the given store.
func NewService(st store.Store) *Service {
	return &Service{
		store: st,
		locks: make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing operations on one auction.
// Locks are never removed; the map grows with the set of auctions the
// process has touched, which is bounded for this workload.
func (s *Service) lockFor(auctionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[auctionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[auctionID] = l
	}
	return l
}

// Create persists a new auction in SCHEDULED status.
func (s *Service) Create(ctx context.Context, sellerID, name string, artworkIDs []string, start, end time.Time, minimumBid money.Money) (*model.Auction, error) {
	if !start.Before(end) {
		return nil, ErrInvalidWindow
	}

	a := &model.Auction{
		ID:         uuid.New().String(),
		SellerID:   sellerID,
		Name:       name,
		ArtworkIDs: artworkIDs,
		StartTime:  start,
		EndTime:    end,
		MinimumBid: minimumBid,
		Status:     model.AuctionScheduled,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.store.CreateAuction(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Get loads a single auction.
func (s *Service) Get(ctx context.Context, auctionID string) (*model.Auction, error) {
	a, err := s.store.GetAuction(ctx, auctionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAuctionNotFound, auctionID)
		}
		return nil, err
	}
	return a, nil
}

// List returns all auctions.
func (s *Service) List(ctx context.Context) ([]model.Auction, error) {
	return s.store.ListAuctions(ctx)
}

// PlaceBid validates a bid against the auction state and, if accepted,
// appends it to the ledger and advances the current bid atomically.
//
// Acceptance requires: the auction is OPEN (a SCHEDULED auction whose
// start time has passed opens lazily here), now falls inside
// [start, end), and the amount strictly exceeds the current bid — or
// meets the minimum when no bid exists yet.
func (s *Service) PlaceBid(ctx context.Context, auctionID, bidderID string, amount money.Money, now time.Time) (*model.Bid, error) {
	l := s.lockFor(auctionID)
	l.Lock()
	defer l.Unlock()

	a, err := s.Get(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	if a.Status == model.AuctionScheduled && !now.Before(a.StartTime) && now.Before(a.EndTime) {
		if err := s.store.UpdateAuctionStatus(ctx, a.ID, model.AuctionOpen); err != nil {
			return nil, err
		}
		a.Status = model.AuctionOpen
	}

	if a.Status != model.AuctionOpen {
		return nil, fmt.Errorf("%w: status %s", ErrAuctionNotOpen, a.Status)
	}
	if now.Before(a.StartTime) || !now.Before(a.EndTime) {
		return nil, fmt.Errorf("%w: outside bidding window", ErrAuctionNotOpen)
	}

	if amount.Currency() != a.MinimumBid.Currency() {
		return nil, fmt.Errorf("%w: bid in %s against %s auction",
			money.ErrCurrencyMismatch, amount.Currency(), a.MinimumBid.Currency())
	}

	if a.CurrentBid != nil {
		if !amount.GreaterThan(*a.CurrentBid) {
			return nil, fmt.Errorf("%w: %s does not exceed current bid %s", ErrBidTooLow, amount, *a.CurrentBid)
		}
	} else if !amount.GreaterThanOrEqual(a.MinimumBid) {
		return nil, fmt.Errorf("%w: %s below minimum bid %s", ErrBidTooLow, amount, a.MinimumBid)
	}

	bid := &model.Bid{
		ID:        uuid.New().String(),
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
		PlacedAt:  now,
	}

	if err := s.store.RecordBid(ctx, bid); err != nil {
		return nil, err
	}
	return bid, nil
}

// Bids returns the auction's ledger in placement order.
func (s *Service) Bids(ctx context.Context, auctionID string) ([]model.Bid, error) {
	return s.store.GetBidsByAuction(ctx, auctionID)
}

// CurrentWinner returns the highest accepted bid, or nil when the
// auction has no bids. Ties on amount cannot occur because acceptance
// requires a strict increase.
func (s *Service) CurrentWinner(ctx context.Context, auctionID string) (*model.Bid, error) {
	if _, err := s.Get(ctx, auctionID); err != nil {
		return nil, err
	}

	bid, err := s.store.GetHighestBid(ctx, auctionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return bid, nil
}

// Close finalizes an auction and returns the settlement request.
// Before the end time the call fails with ErrTooEarly unless
// adminOverride is set.
//
// Closing is idempotent up to settlement: a CLOSED auction whose sale
// never landed (the settlement write failed after the status commit)
// yields the same ClosedResult again so the caller can retry, and the
// sale uniqueness constraint keeps the retry from settling twice. Once
// the sale exists, further calls observe ErrAlreadyClosed.
func (s *Service) Close(ctx context.Context, auctionID string, now time.Time, adminOverride bool) (*ClosedResult, error) {
	l := s.lockFor(auctionID)
	l.Lock()
	defer l.Unlock()

	a, err := s.Get(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	switch a.Status {
	case model.AuctionCancelled:
		return nil, fmt.Errorf("%w: status %s", ErrAlreadyClosed, a.Status)
	case model.AuctionClosed:
		return s.reissueClosedResult(ctx, a)
	}

	if now.Before(a.EndTime) && !adminOverride {
		return nil, fmt.Errorf("%w: ends at %s", ErrTooEarly, a.EndTime.Format(time.RFC3339))
	}

	if err := s.store.UpdateAuctionStatus(ctx, a.ID, model.AuctionClosed); err != nil {
		return nil, err
	}
	a.Status = model.AuctionClosed

	winning, err := s.store.GetHighestBid(ctx, auctionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	return &ClosedResult{Auction: a, WinningBid: winning}, nil
}

// reissueClosedResult handles Close on an already-CLOSED auction. Won
// auctions without a sale re-emit their settlement request; everything
// else is final.
func (s *Service) reissueClosedResult(ctx context.Context, a *model.Auction) (*ClosedResult, error) {
	winning, err := s.store.GetHighestBid(ctx, a.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Closed with no bids; there is nothing left to settle.
			return nil, fmt.Errorf("%w: status %s", ErrAlreadyClosed, a.Status)
		}
		return nil, err
	}

	if _, err := s.store.GetSaleByAuction(ctx, a.ID); err == nil {
		return nil, fmt.Errorf("%w: auction settled", ErrAlreadyClosed)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	return &ClosedResult{Auction: a, WinningBid: winning}, nil
}

// Cancel moves a SCHEDULED or OPEN auction to CANCELLED. Terminal;
// ledger entries are kept but the auction can never settle.
func (s *Service) Cancel(ctx context.Context, auctionID string) error {
	l := s.lockFor(auctionID)
	l.Lock()
	defer l.Unlock()

	a, err := s.Get(ctx, auctionID)
	if err != nil {
		return err
	}

	switch a.Status {
	case model.AuctionClosed, model.AuctionCancelled:
		return fmt.Errorf("%w: status %s", ErrAlreadyClosed, a.Status)
	}

	return s.store.UpdateAuctionStatus(ctx, a.ID, model.AuctionCancelled)
}
