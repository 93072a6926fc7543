// Package api provides the HTTP handlers for auctions, bidding,
// settlement, and seller income queries.
//
// Handlers translate the domain error taxonomy into status codes and
// leave all money-affecting logic to the auction and settlement
// services. All monetary values use the money fixed-point type — never
// float64 for money.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/artify/auction-engine/internal/auction"
	"github.com/artify/auction-engine/internal/metrics"
	"github.com/artify/auction-engine/internal/model"
	"github.com/artify/auction-engine/internal/money"
	"github.com/artify/auction-engine/internal/settlement"
	"github.com/artify/auction-engine/internal/store"
	"github.com/artify/auction-engine/internal/verify"
)

// Service handles the HTTP surface of the auction engine.
type Service struct {
	auctions *auction.Service
	engine   *settlement.Engine
	codes    verify.Store
	wsHub    *WSHub // optional hub for real-time broadcasts
	now      func() time.Time
}

// NewService creates the API service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(auctions *auction.Service, engine *settlement.Engine, codes verify.Store, hub *WSHub) *Service {
	return &Service{
		auctions: auctions,
		engine:   engine,
		codes:    codes,
		wsHub:    hub,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Router mounts all API routes under /api/v1.
func (s *Service) Router() chi.Router {
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		if s.wsHub != nil {
			r.Get("/ws", s.wsHub.HandleWS)
		}

		r.Post("/auctions", s.CreateAuction)
		r.Get("/auctions", s.ListAuctions)
		r.Get("/auctions/{auctionID}", s.GetAuction)
		r.Get("/auctions/{auctionID}/bids", s.GetBids)
		r.Get("/auctions/{auctionID}/winner", s.GetWinner)
		r.Post("/auctions/{auctionID}/bids", s.PlaceBid)
		r.Post("/auctions/{auctionID}/close", s.CloseAuction)
		r.Post("/auctions/{auctionID}/cancel", s.CancelAuction)

		r.Post("/orders", s.CreateOrder)
		r.Post("/settlement/release", s.ReleaseIncome)
		r.Get("/sellers/{sellerID}/income", s.GetSellerIncome)

		r.Post("/verification", s.IssueVerification)
		r.Post("/verification/confirm", s.ConfirmVerification)
	})
	return r
}

// --- Request/Response types ---

// CreateAuctionRequest is the JSON body for auction creation.
type CreateAuctionRequest struct {
	SellerID   string      `json:"seller_id"`
	Name       string      `json:"name"`
	ArtworkIDs []string    `json:"artwork_ids"`
	StartTime  time.Time   `json:"start_time"`
	EndTime    time.Time   `json:"end_time"`
	MinimumBid money.Money `json:"minimum_bid"`
}

// PlaceBidRequest is the JSON body for POST /auctions/{id}/bids.
type PlaceBidRequest struct {
	BidderID string      `json:"bidder_id"`
	Amount   money.Money `json:"amount"`
}

// CloseAuctionRequest is the JSON body for POST /auctions/{id}/close.
type CloseAuctionRequest struct {
	AdminOverride bool `json:"admin_override"`
}

// CloseAuctionResponse reports the close outcome; Sale is nil when the
// auction had no bids.
type CloseAuctionResponse struct {
	Auction    *model.Auction `json:"auction"`
	WinningBid *model.Bid     `json:"winning_bid,omitempty"`
	NoBids     bool           `json:"no_bids"`
	Sale       *model.Sale    `json:"sale,omitempty"`
}

// CreateOrderRequest is the JSON body for a fixed-price purchase.
type CreateOrderRequest struct {
	BuyerID        string      `json:"buyer_id"`
	SellerID       string      `json:"seller_id"`
	ArtworkID      string      `json:"artwork_id"`
	Quantity       int         `json:"quantity"`
	UnitPrice      money.Money `json:"unit_price"`
	DeliveryCharge money.Money `json:"delivery_charge"`
}

// ReleaseIncomeResponse reports a manual sweep's outcome.
type ReleaseIncomeResponse struct {
	Released []model.Sale `json:"released"`
	Count    int          `json:"count"`
}

// VerificationRequest carries the subject (email) for code issuance and
// confirmation.
type VerificationRequest struct {
	Subject string `json:"subject"`
	Code    string `json:"code,omitempty"`
}

// --- Auction handlers ---

// CreateAuction handles POST /api/v1/auctions
func (s *Service) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var req CreateAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SellerID == "" {
		writeError(w, "seller_id is required", http.StatusBadRequest)
		return
	}

	a, err := s.auctions.Create(r.Context(), req.SellerID, req.Name, req.ArtworkIDs,
		req.StartTime, req.EndTime, req.MinimumBid)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	slog.Info("auction created",
		"id", a.ID,
		"seller", a.SellerID,
		"minimum_bid", a.MinimumBid.String(),
		"start", a.StartTime,
		"end", a.EndTime,
	)

	writeJSON(w, http.StatusCreated, a)
}

// ListAuctions handles GET /api/v1/auctions
func (s *Service) ListAuctions(w http.ResponseWriter, r *http.Request) {
	auctions, err := s.auctions.List(r.Context())
	if err != nil {
		writeError(w, "failed to list auctions", http.StatusInternalServerError)
		return
	}
	if auctions == nil {
		auctions = []model.Auction{}
	}
	writeJSON(w, http.StatusOK, auctions)
}

// GetAuction handles GET /api/v1/auctions/{auctionID}
func (s *Service) GetAuction(w http.ResponseWriter, r *http.Request) {
	a, err := s.auctions.Get(r.Context(), chi.URLParam(r, "auctionID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// GetBids handles GET /api/v1/auctions/{auctionID}/bids
// Returns the full bid ledger in placement order.
func (s *Service) GetBids(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionID")

	if _, err := s.auctions.Get(r.Context(), auctionID); err != nil {
		writeDomainError(w, err)
		return
	}

	bids, err := s.auctions.Bids(r.Context(), auctionID)
	if err != nil {
		writeError(w, "failed to load bids", http.StatusInternalServerError)
		return
	}
	if bids == nil {
		bids = []model.Bid{}
	}
	writeJSON(w, http.StatusOK, bids)
}

// GetWinner handles GET /api/v1/auctions/{auctionID}/winner
func (s *Service) GetWinner(w http.ResponseWriter, r *http.Request) {
	bid, err := s.auctions.CurrentWinner(r.Context(), chi.URLParam(r, "auctionID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if bid == nil {
		writeError(w, "no bids placed", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, bid)
}

// PlaceBid handles POST /api/v1/auctions/{auctionID}/bids
func (s *Service) PlaceBid(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionID")

	var req PlaceBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.BidderID == "" {
		writeError(w, "bidder_id is required", http.StatusBadRequest)
		return
	}
	if req.Amount.IsZero() {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	start := time.Now()
	bid, err := s.auctions.PlaceBid(r.Context(), auctionID, req.BidderID, req.Amount, s.now())
	metrics.BidLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.BidsTotal.WithLabelValues("rejected").Inc()
		writeDomainError(w, err)
		return
	}
	metrics.BidsTotal.WithLabelValues("accepted").Inc()

	slog.Info("bid accepted",
		"bid_id", bid.ID,
		"auction_id", auctionID,
		"bidder", bid.BidderID,
		"amount", bid.Amount.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:      "bid_accepted",
			AuctionID: auctionID,
			BidID:     bid.ID,
			BidderID:  bid.BidderID,
			Amount:    bid.Amount.String(),
		})
	}

	writeJSON(w, http.StatusCreated, bid)
}

// CloseAuction handles POST /api/v1/auctions/{auctionID}/close
// Closes the auction exactly once and, when a winning bid exists,
// settles the sale in the same request.
func (s *Service) CloseAuction(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionID")

	var req CloseAuctionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	now := s.now()
	result, err := s.auctions.Close(r.Context(), auctionID, now, req.AdminOverride)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := CloseAuctionResponse{
		Auction:    result.Auction,
		WinningBid: result.WinningBid,
		NoBids:     result.NoBids(),
	}

	if result.NoBids() {
		metrics.AuctionsClosedTotal.WithLabelValues("no_bids").Inc()
		slog.Info("auction closed with no bids", "auction_id", auctionID)
	} else {
		metrics.AuctionsClosedTotal.WithLabelValues("sold").Inc()
		sale, err := s.engine.SettleAuctionSale(r.Context(), result, now)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		metrics.SalesSettledTotal.WithLabelValues(model.SellingAuction).Inc()
		resp.Sale = sale
	}

	if s.wsHub != nil {
		msg := WSMessage{
			Type:      "auction_closed",
			AuctionID: auctionID,
		}
		if result.WinningBid != nil {
			msg.BidID = result.WinningBid.ID
			msg.BidderID = result.WinningBid.BidderID
			msg.Amount = result.WinningBid.Amount.String()
		}
		s.wsHub.Broadcast(msg)
	}

	writeJSON(w, http.StatusOK, resp)
}

// CancelAuction handles POST /api/v1/auctions/{auctionID}/cancel
func (s *Service) CancelAuction(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionID")

	if err := s.auctions.Cancel(r.Context(), auctionID); err != nil {
		writeDomainError(w, err)
		return
	}

	slog.Info("auction cancelled", "auction_id", auctionID)
	writeJSON(w, http.StatusOK, map[string]string{"status": model.AuctionCancelled})
}

// --- Settlement handlers ---

// CreateOrder handles POST /api/v1/orders
// Records a fixed-price purchase and settles it immediately.
func (s *Service) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.BuyerID == "" || req.SellerID == "" || req.ArtworkID == "" {
		writeError(w, "buyer_id, seller_id, and artwork_id are required", http.StatusBadRequest)
		return
	}
	if req.UnitPrice.IsZero() {
		writeError(w, "unit_price must be positive", http.StatusBadRequest)
		return
	}

	now := s.now()
	order := &model.Order{
		ID:             uuid.New().String(),
		BuyerID:        req.BuyerID,
		SellerID:       req.SellerID,
		ArtworkID:      req.ArtworkID,
		Quantity:       req.Quantity,
		UnitPrice:      req.UnitPrice,
		DeliveryCharge: req.DeliveryCharge,
		Date:           now,
	}

	sale, err := s.engine.SettleFixedPriceSale(r.Context(), order, now)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	metrics.SalesSettledTotal.WithLabelValues(model.SellingFixedPrice).Inc()

	writeJSON(w, http.StatusCreated, sale)
}

// ReleaseIncome handles POST /api/v1/settlement/release
// Manual trigger for the income release sweep; the cron sweeper runs
// the same operation on a schedule.
func (s *Service) ReleaseIncome(w http.ResponseWriter, r *http.Request) {
	released, err := s.engine.ReleasePendingIncome(r.Context(), s.now())
	if err != nil {
		writeError(w, "income release failed", http.StatusInternalServerError)
		return
	}
	metrics.IncomeReleasedTotal.Add(float64(len(released)))

	if released == nil {
		released = []model.Sale{}
	}
	writeJSON(w, http.StatusOK, ReleaseIncomeResponse{Released: released, Count: len(released)})
}

// GetSellerIncome handles GET /api/v1/sellers/{sellerID}/income
func (s *Service) GetSellerIncome(w http.ResponseWriter, r *http.Request) {
	income, err := s.engine.SellerIncome(r.Context(), chi.URLParam(r, "sellerID"))
	if err != nil {
		writeError(w, "failed to load seller income", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, income)
}

// --- Verification handlers ---

// IssueVerification handles POST /api/v1/verification
// Issues a short-lived code; delivering it (email) is the caller's job.
func (s *Service) IssueVerification(w http.ResponseWriter, r *http.Request) {
	var req VerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Subject == "" {
		writeError(w, "subject is required", http.StatusBadRequest)
		return
	}

	code, err := s.codes.Issue(r.Context(), req.Subject)
	if err != nil {
		writeError(w, "failed to issue code", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"subject": req.Subject, "code": code})
}

// ConfirmVerification handles POST /api/v1/verification/confirm
func (s *Service) ConfirmVerification(w http.ResponseWriter, r *http.Request) {
	var req VerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Subject == "" || req.Code == "" {
		writeError(w, "subject and code are required", http.StatusBadRequest)
		return
	}

	if err := s.codes.Confirm(r.Context(), req.Subject, req.Code); err != nil {
		writeError(w, "code mismatch or expired", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"subject": req.Subject, "verified": "true"})
}

// --- Response helpers ---

// writeDomainError maps domain errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auction.ErrAuctionNotFound), errors.Is(err, store.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, auction.ErrAuctionNotOpen),
		errors.Is(err, auction.ErrBidTooLow),
		errors.Is(err, auction.ErrAlreadyClosed),
		errors.Is(err, auction.ErrTooEarly),
		errors.Is(err, settlement.ErrAlreadySettled),
		errors.Is(err, store.ErrConflict):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, auction.ErrInvalidWindow),
		errors.Is(err, money.ErrInvalidMoney),
		errors.Is(err, money.ErrCurrencyMismatch),
		errors.Is(err, settlement.ErrNoWinningBid):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
