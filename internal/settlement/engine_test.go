package settlement_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/artify/auction-engine/internal/auction"
	"github.com/artify/auction-engine/internal/model"
	"github.com/artify/auction-engine/internal/money"
	"github.com/artify/auction-engine/internal/settlement"
	"github.com/artify/auction-engine/internal/store"
)

func lkr(t *testing.T, minorUnits int64) money.Money {
	t.Helper()
	return money.MustNew(minorUnits, "LKR")
}

// newTestEnv wires an auction service and settlement engine over one
// in-memory store.
func newTestEnv(t *testing.T) (*auction.Service, *settlement.Engine, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	return auction.NewService(ms), settlement.NewEngine(ms, decimal.Zero), ms
}

// runAuction creates an auction, plays the given bids, and closes it.
func runAuction(t *testing.T, svc *auction.Service, bids []int64) *auction.ClosedResult {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	a, err := svc.Create(ctx, "seller1", "Test Lot", []string{"artwork1"},
		base, base.Add(time.Hour), money.MustNew(10000, "LKR"))
	if err != nil {
		t.Fatalf("create auction: %v", err)
	}

	for i, amount := range bids {
		_, err := svc.PlaceBid(ctx, a.ID, "bidder", money.MustNew(amount, "LKR"),
			base.Add(time.Duration(i+1)*time.Minute))
		if err != nil && !errors.Is(err, auction.ErrBidTooLow) {
			t.Fatalf("bid %d: %v", amount, err)
		}
	}

	result, err := svc.Close(ctx, a.ID, base.Add(2*time.Hour), false)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	return result
}

// TestSettlement_FullScenario runs the canonical flow: minimum 100.00,
// bids 120/110/150, close, settle, release a week later.
func TestSettlement_FullScenario(t *testing.T) {
	svc, engine, _ := newTestEnv(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)

	result := runAuction(t, svc, []int64{12000, 11000, 15000})
	if result.NoBids() {
		t.Fatal("expected a winning bid")
	}
	if !result.WinningBid.Amount.Equal(lkr(t, 15000)) {
		t.Fatalf("expected winning bid 150.00, got %s", result.WinningBid.Amount)
	}

	sale, err := engine.SettleAuctionSale(ctx, result, now)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	if !sale.Income.Equal(lkr(t, 15000)) {
		t.Errorf("income: expected 150.00, got %s", sale.Income)
	}
	if !sale.Commission.Equal(lkr(t, 750)) {
		t.Errorf("commission: expected 7.50, got %s", sale.Commission)
	}
	if !sale.Profit.Equal(lkr(t, 14250)) {
		t.Errorf("profit: expected 142.50, got %s", sale.Profit)
	}
	if !sale.PendingIncome {
		t.Error("sale should start pending")
	}
	if sale.SellingType != model.SellingAuction {
		t.Errorf("expected AUCTION selling type, got %s", sale.SellingType)
	}
	if !sale.IncomeReleaseDate.Equal(sale.Date.Add(7 * 24 * time.Hour)) {
		t.Errorf("release date should be date + 7 days, got %s", sale.IncomeReleaseDate)
	}

	// Before the release date nothing happens.
	released, err := engine.ReleasePendingIncome(ctx, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if len(released) != 0 {
		t.Fatalf("nothing should release before the date, got %d", len(released))
	}

	// A week later the profit lands in the seller's income.
	released, err = engine.ReleasePendingIncome(ctx, now.Add(7*24*time.Hour))
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if len(released) != 1 {
		t.Fatalf("expected 1 released sale, got %d", len(released))
	}

	income, err := engine.SellerIncome(ctx, "seller1")
	if err != nil {
		t.Fatalf("seller income: %v", err)
	}
	if !income.TotalIncome.Equal(lkr(t, 14250)) {
		t.Errorf("seller total income: expected 142.50, got %s", income.TotalIncome)
	}
}

func TestSettleAuctionSale_NoBids(t *testing.T) {
	svc, engine, _ := newTestEnv(t)

	result := runAuction(t, svc, nil)
	if !result.NoBids() {
		t.Fatal("expected NoBids")
	}

	_, err := engine.SettleAuctionSale(context.Background(), result, time.Now().UTC())
	if !errors.Is(err, settlement.ErrNoWinningBid) {
		t.Fatalf("expected ErrNoWinningBid, got %v", err)
	}
}

func TestSettleAuctionSale_OnlyOnce(t *testing.T) {
	svc, engine, _ := newTestEnv(t)
	ctx := context.Background()
	now := time.Now().UTC()

	result := runAuction(t, svc, []int64{15000})

	if _, err := engine.SettleAuctionSale(ctx, result, now); err != nil {
		t.Fatalf("first settle: %v", err)
	}

	// Replaying the same close result must not create a second sale.
	_, err := engine.SettleAuctionSale(ctx, result, now)
	if !errors.Is(err, settlement.ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}
}

func TestSettleFixedPriceSale(t *testing.T) {
	_, engine, _ := newTestEnv(t)
	ctx := context.Background()
	now := time.Now().UTC()

	order := &model.Order{
		ID:             "order1",
		BuyerID:        "buyer1",
		SellerID:       "seller1",
		ArtworkID:      "artwork1",
		Quantity:       2,
		UnitPrice:      money.MustNew(5000, "LKR"),
		DeliveryCharge: money.MustNew(1000, "LKR"),
		Date:           now,
	}

	sale, err := engine.SettleFixedPriceSale(ctx, order, now)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	// 2 × 50.00 + 10.00 delivery = 110.00 gross.
	if !sale.Income.Equal(lkr(t, 11000)) {
		t.Errorf("income: expected 110.00, got %s", sale.Income)
	}
	if sale.SellingType != model.SellingFixedPrice {
		t.Errorf("expected FIXED_PRICE, got %s", sale.SellingType)
	}

	sum, _ := sale.Commission.Add(sale.Profit)
	if !sum.Equal(sale.Income) {
		t.Errorf("commission %s + profit %s != income %s", sale.Commission, sale.Profit, sale.Income)
	}
}

// TestCommissionPlusProfit_AlwaysExact checks the invariant on amounts
// where 5% does not divide evenly.
func TestCommissionPlusProfit_AlwaysExact(t *testing.T) {
	_, engine, _ := newTestEnv(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, amount := range []int64{1, 7, 99, 111, 12345, 67891} {
		order := &model.Order{
			ID:        fmt.Sprintf("order%d", i),
			BuyerID:   "buyer1",
			SellerID:  "seller1",
			ArtworkID: "artwork1",
			Quantity:  1,
			UnitPrice: money.MustNew(amount, "LKR"),
			Date:      now,
		}

		sale, err := engine.SettleFixedPriceSale(ctx, order, now)
		if err != nil {
			t.Fatalf("settle %d: %v", amount, err)
		}

		sum, err := sale.Commission.Add(sale.Profit)
		if err != nil {
			t.Fatalf("add: %v", err)
		}
		if !sum.Equal(sale.Income) {
			t.Errorf("amount %d: commission %s + profit %s != income %s",
				amount, sale.Commission, sale.Profit, sale.Income)
		}
	}
}

// TestNewEngine_RateOutsideRange: a rate above 1 would make the
// commission exceed the income and drive the profit negative, so the
// engine falls back to the default the same way it does for rates at
// or below zero.
func TestNewEngine_RateOutsideRange(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	for _, rate := range []decimal.Decimal{
		decimal.NewFromFloat(1.5),
		decimal.NewFromInt(-1),
	} {
		engine := settlement.NewEngine(store.NewMemoryStore(), rate)

		order := &model.Order{
			ID:        "order1",
			BuyerID:   "buyer1",
			SellerID:  "seller1",
			ArtworkID: "artwork1",
			Quantity:  1,
			UnitPrice: money.MustNew(10000, "LKR"),
			Date:      now,
		}

		sale, err := engine.SettleFixedPriceSale(ctx, order, now)
		if err != nil {
			t.Fatalf("rate %s: settle: %v", rate, err)
		}
		if !sale.Commission.Equal(lkr(t, 500)) {
			t.Errorf("rate %s: expected default 5%% commission, got %s", rate, sale.Commission)
		}
		if !sale.Profit.Equal(lkr(t, 9500)) {
			t.Errorf("rate %s: expected profit 95.00, got %s", rate, sale.Profit)
		}
	}
}

// TestReleasePendingIncome_ExactlyOnce releases the same sale twice and
// checks the seller is credited once.
func TestReleasePendingIncome_ExactlyOnce(t *testing.T) {
	svc, engine, _ := newTestEnv(t)
	ctx := context.Background()
	now := time.Now().UTC()

	result := runAuction(t, svc, []int64{15000})
	sale, err := engine.SettleAuctionSale(ctx, result, now)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	due := now.Add(8 * 24 * time.Hour)

	first, err := engine.ReleasePendingIncome(ctx, due)
	if err != nil {
		t.Fatalf("first release: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 release, got %d", len(first))
	}

	second, err := engine.ReleasePendingIncome(ctx, due)
	if err != nil {
		t.Fatalf("second release: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("second sweep should release nothing, got %d", len(second))
	}

	income, _ := engine.SellerIncome(ctx, "seller1")
	if !income.TotalIncome.Equal(sale.Profit) {
		t.Errorf("seller credited %s, expected exactly %s", income.TotalIncome, sale.Profit)
	}
}

// TestReleasePendingIncome_ConcurrentSweeps runs overlapping sweeps;
// the pending_income claim token keeps the credit single.
func TestReleasePendingIncome_ConcurrentSweeps(t *testing.T) {
	svc, engine, _ := newTestEnv(t)
	ctx := context.Background()
	now := time.Now().UTC()

	result := runAuction(t, svc, []int64{15000})
	sale, err := engine.SettleAuctionSale(ctx, result, now)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	due := now.Add(8 * 24 * time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			engine.ReleasePendingIncome(ctx, due)
		}()
	}
	wg.Wait()

	income, _ := engine.SellerIncome(ctx, "seller1")
	if !income.TotalIncome.Equal(sale.Profit) {
		t.Errorf("seller credited %s, expected exactly %s", income.TotalIncome, sale.Profit)
	}

	got, _ := engine.SellerIncome(ctx, "nobody")
	if !got.TotalIncome.IsZero() {
		t.Errorf("unrelated seller should have zero income, got %s", got.TotalIncome)
	}
}
