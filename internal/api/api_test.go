package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/artify/auction-engine/internal/api"
	"github.com/artify/auction-engine/internal/auction"
	"github.com/artify/auction-engine/internal/model"
	"github.com/artify/auction-engine/internal/money"
	"github.com/artify/auction-engine/internal/settlement"
	"github.com/artify/auction-engine/internal/store"
	"github.com/artify/auction-engine/internal/verify"
)

func lkr(t *testing.T, minorUnits int64) money.Money {
	t.Helper()
	return money.MustNew(minorUnits, "LKR")
}

// newTestEnv creates the API service over an in-memory store.
func newTestEnv(t *testing.T) (chi.Router, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	auctions := auction.NewService(ms)
	engine := settlement.NewEngine(ms, decimal.Zero)
	codes := verify.NewMemoryStore(verify.DefaultTTL)
	svc := api.NewService(auctions, engine, codes, nil)
	return svc.Router(), ms
}

func doJSON(t *testing.T, router chi.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// createLiveAuction creates an auction whose window straddles the
// current time, so bids placed now are accepted.
func createLiveAuction(t *testing.T, router chi.Router) model.Auction {
	t.Helper()
	now := time.Now().UTC()
	w := doJSON(t, router, "POST", "/api/v1/auctions", api.CreateAuctionRequest{
		SellerID:   "seller1",
		Name:       "Live Lot",
		ArtworkIDs: []string{"artwork1"},
		StartTime:  now.Add(-time.Hour),
		EndTime:    now.Add(time.Hour),
		MinimumBid: lkr(t, 10000),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create auction: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var a model.Auction
	json.Unmarshal(w.Body.Bytes(), &a)
	return a
}

func TestCreateAuction_Validation(t *testing.T) {
	router, _ := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/auctions", api.CreateAuctionRequest{
		Name: "no seller",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing seller_id: expected 400, got %d", w.Code)
	}

	now := time.Now().UTC()
	w = doJSON(t, router, "POST", "/api/v1/auctions", api.CreateAuctionRequest{
		SellerID:  "seller1",
		StartTime: now.Add(time.Hour),
		EndTime:   now, // inverted
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("inverted window: expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestPlaceBid_HTTPFlow(t *testing.T) {
	router, _ := newTestEnv(t)
	a := createLiveAuction(t, router)

	// First bid at 120.00 accepted.
	w := doJSON(t, router, "POST", "/api/v1/auctions/"+a.ID+"/bids", api.PlaceBidRequest{
		BidderID: "bidder1",
		Amount:   lkr(t, 12000),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var bid model.Bid
	json.Unmarshal(w.Body.Bytes(), &bid)
	if bid.ID == "" {
		t.Error("expected non-empty bid id")
	}
	if !bid.Amount.Equal(lkr(t, 12000)) {
		t.Errorf("expected amount 120.00, got %s", bid.Amount)
	}

	// Lower bid rejected with 409.
	w = doJSON(t, router, "POST", "/api/v1/auctions/"+a.ID+"/bids", api.PlaceBidRequest{
		BidderID: "bidder2",
		Amount:   lkr(t, 11000),
	})
	if w.Code != http.StatusConflict {
		t.Errorf("low bid: expected 409, got %d: %s", w.Code, w.Body.String())
	}

	// Winner reflects the standing bid.
	w = doJSON(t, router, "GET", "/api/v1/auctions/"+a.ID+"/winner", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("winner: expected 200, got %d", w.Code)
	}
	var winner model.Bid
	json.Unmarshal(w.Body.Bytes(), &winner)
	if winner.BidderID != "bidder1" {
		t.Errorf("expected bidder1 winning, got %s", winner.BidderID)
	}
}

func TestPlaceBid_Validation(t *testing.T) {
	router, _ := newTestEnv(t)
	a := createLiveAuction(t, router)

	w := doJSON(t, router, "POST", "/api/v1/auctions/"+a.ID+"/bids", api.PlaceBidRequest{
		Amount: lkr(t, 12000),
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing bidder_id: expected 400, got %d", w.Code)
	}

	w = doJSON(t, router, "POST", "/api/v1/auctions/missing/bids", api.PlaceBidRequest{
		BidderID: "bidder1",
		Amount:   lkr(t, 12000),
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown auction: expected 404, got %d", w.Code)
	}
}

func TestGetBids_Ordered(t *testing.T) {
	router, _ := newTestEnv(t)
	a := createLiveAuction(t, router)

	for _, amount := range []int64{10000, 12000, 15000} {
		doJSON(t, router, "POST", "/api/v1/auctions/"+a.ID+"/bids", api.PlaceBidRequest{
			BidderID: "bidder1",
			Amount:   lkr(t, amount),
		})
	}

	w := doJSON(t, router, "GET", "/api/v1/auctions/"+a.ID+"/bids", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var bids []model.Bid
	json.Unmarshal(w.Body.Bytes(), &bids)
	if len(bids) != 3 {
		t.Fatalf("expected 3 bids, got %d", len(bids))
	}
	for i := 1; i < len(bids); i++ {
		if !bids[i].Amount.GreaterThan(bids[i-1].Amount) {
			t.Errorf("ledger not strictly increasing at %d", i)
		}
	}
}

func TestCloseAuction_SettlesSale(t *testing.T) {
	router, _ := newTestEnv(t)
	a := createLiveAuction(t, router)

	doJSON(t, router, "POST", "/api/v1/auctions/"+a.ID+"/bids", api.PlaceBidRequest{
		BidderID: "bidder1",
		Amount:   lkr(t, 15000),
	})

	// End time is an hour out, so a plain close is too early.
	w := doJSON(t, router, "POST", "/api/v1/auctions/"+a.ID+"/close", api.CloseAuctionRequest{})
	if w.Code != http.StatusConflict {
		t.Fatalf("early close: expected 409, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, "POST", "/api/v1/auctions/"+a.ID+"/close", api.CloseAuctionRequest{
		AdminOverride: true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("admin close: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp api.CloseAuctionResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.NoBids {
		t.Fatal("expected a winning bid")
	}
	if resp.Sale == nil {
		t.Fatal("expected a settled sale")
	}
	if !resp.Sale.Income.Equal(lkr(t, 15000)) {
		t.Errorf("sale income: expected 150.00, got %s", resp.Sale.Income)
	}
	if !resp.Sale.Commission.Equal(lkr(t, 750)) {
		t.Errorf("sale commission: expected 7.50, got %s", resp.Sale.Commission)
	}

	// Second close is rejected and settles nothing.
	w = doJSON(t, router, "POST", "/api/v1/auctions/"+a.ID+"/close", api.CloseAuctionRequest{
		AdminOverride: true,
	})
	if w.Code != http.StatusConflict {
		t.Errorf("second close: expected 409, got %d", w.Code)
	}
}

func TestCloseAuction_NoBids(t *testing.T) {
	router, _ := newTestEnv(t)
	a := createLiveAuction(t, router)

	w := doJSON(t, router, "POST", "/api/v1/auctions/"+a.ID+"/close", api.CloseAuctionRequest{
		AdminOverride: true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp api.CloseAuctionResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.NoBids {
		t.Error("expected no_bids marker")
	}
	if resp.Sale != nil {
		t.Error("no sale should be created without bids")
	}
}

func TestCreateOrder_FixedPriceSale(t *testing.T) {
	router, _ := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/orders", api.CreateOrderRequest{
		BuyerID:   "buyer1",
		SellerID:  "seller1",
		ArtworkID: "artwork1",
		Quantity:  1,
		UnitPrice: lkr(t, 20000),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var sale model.Sale
	json.Unmarshal(w.Body.Bytes(), &sale)
	if sale.SellingType != model.SellingFixedPrice {
		t.Errorf("expected FIXED_PRICE, got %s", sale.SellingType)
	}
	if !sale.Income.Equal(lkr(t, 20000)) {
		t.Errorf("expected income 200.00, got %s", sale.Income)
	}
	if !sale.PendingIncome {
		t.Error("sale should start pending")
	}
}

func TestReleaseAndSellerIncome(t *testing.T) {
	router, ms := newTestEnv(t)

	doJSON(t, router, "POST", "/api/v1/orders", api.CreateOrderRequest{
		BuyerID:   "buyer1",
		SellerID:  "seller1",
		ArtworkID: "artwork1",
		Quantity:  1,
		UnitPrice: lkr(t, 20000),
	})

	// Nothing releases inside the grace week.
	w := doJSON(t, router, "POST", "/api/v1/settlement/release", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp api.ReleaseIncomeResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 0 {
		t.Errorf("expected 0 releases inside grace period, got %d", resp.Count)
	}

	// Force the release through the store to verify the income view.
	ctx := context.Background()
	sales, _ := ms.ListSalesBySeller(ctx, "seller1")
	if len(sales) != 1 {
		t.Fatalf("expected 1 sale, got %d", len(sales))
	}
	released, err := ms.ReleaseSaleIncome(ctx, sales[0].ID, sales[0].IncomeReleaseDate)
	if err != nil || !released {
		t.Fatalf("release failed: released=%v err=%v", released, err)
	}

	w = doJSON(t, router, "GET", "/api/v1/sellers/seller1/income", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var income model.SellerIncome
	json.Unmarshal(w.Body.Bytes(), &income)
	if !income.TotalIncome.Equal(sales[0].Profit) {
		t.Errorf("seller income %s != sale profit %s", income.TotalIncome, sales[0].Profit)
	}
}

func TestVerificationFlow(t *testing.T) {
	router, _ := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/verification", api.VerificationRequest{
		Subject: "artist@example.com",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("issue: expected 201, got %d", w.Code)
	}

	var issued map[string]string
	json.Unmarshal(w.Body.Bytes(), &issued)
	if issued["code"] == "" {
		t.Fatal("expected a code")
	}

	w = doJSON(t, router, "POST", "/api/v1/verification/confirm", api.VerificationRequest{
		Subject: "artist@example.com",
		Code:    issued["code"],
	})
	if w.Code != http.StatusOK {
		t.Errorf("confirm: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// Codes are one-shot.
	w = doJSON(t, router, "POST", "/api/v1/verification/confirm", api.VerificationRequest{
		Subject: "artist@example.com",
		Code:    issued["code"],
	})
	if w.Code != http.StatusConflict {
		t.Errorf("reused code: expected 409, got %d", w.Code)
	}
}

func TestCancelAuction(t *testing.T) {
	router, _ := newTestEnv(t)
	a := createLiveAuction(t, router)

	w := doJSON(t, router, "POST", "/api/v1/auctions/"+a.ID+"/cancel", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	// Bids against a cancelled auction are rejected.
	w = doJSON(t, router, "POST", "/api/v1/auctions/"+a.ID+"/bids", api.PlaceBidRequest{
		BidderID: "bidder1",
		Amount:   lkr(t, 12000),
	})
	if w.Code != http.StatusConflict {
		t.Errorf("bid on cancelled auction: expected 409, got %d", w.Code)
	}
}
