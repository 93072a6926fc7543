package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/artify/auction-engine/internal/model"
	"github.com/artify/auction-engine/internal/money"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as BIGINT minor units plus a currency
// column, so arithmetic in SQL stays exact.
//
// Expected schema:
//
//	auctions(id PK, seller_id, name, artwork_ids TEXT[], start_time, end_time,
//	         status, minimum_bid BIGINT, current_bid BIGINT NULL, currency, created_at)
//	bids(id PK, auction_id FK, bidder_id, amount BIGINT, currency, placed_at)
//	sales(id PK, auction_id UNIQUE NULL, order_id UNIQUE NULL, seller_id, buyer_id,
//	      artwork_id, selling_type, income BIGINT, commission BIGINT, profit BIGINT,
//	      currency, pending_income BOOL, sale_date, income_release_date)
//	seller_income(seller_id PK, total_income BIGINT, pending_withdrawal BIGINT,
//	              total_withdrawal BIGINT, currency)
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateAuction(ctx context.Context, a *model.Auction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO auctions (id, seller_id, name, artwork_ids, start_time, end_time, status, minimum_bid, current_bid, currency, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, $9, $10)`,
		a.ID, a.SellerID, a.Name, a.ArtworkIDs,
		a.StartTime, a.EndTime, a.Status,
		a.MinimumBid.MinorUnits(), a.MinimumBid.Currency(),
		a.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: auction %s already exists", ErrConflict, a.ID)
	}
	return err
}

func (s *PostgresStore) GetAuction(ctx context.Context, id string) (*model.Auction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, seller_id, name, artwork_ids, start_time, end_time, status, minimum_bid, current_bid, currency, created_at
		 FROM auctions WHERE id = $1`, id)

	a, err := scanAuction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: auction %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get auction %s: %w", id, err)
	}
	return a, nil
}

func (s *PostgresStore) ListAuctions(ctx context.Context) ([]model.Auction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, seller_id, name, artwork_ids, start_time, end_time, status, minimum_bid, current_bid, currency, created_at
		 FROM auctions ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var auctions []model.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, *a)
	}
	return auctions, rows.Err()
}

func (s *PostgresStore) UpdateAuctionStatus(ctx context.Context, id, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE auctions SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: auction %s", ErrNotFound, id)
	}
	return nil
}

// RecordBid inserts the bid and advances the auction's current bid in
// one transaction. The row update guards against a stale write: it only
// lands if the stored current bid is still below the new amount.
func (s *PostgresStore) RecordBid(ctx context.Context, bid *model.Bid) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO bids (id, auction_id, bidder_id, amount, currency, placed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		bid.ID, bid.AuctionID, bid.BidderID,
		bid.Amount.MinorUnits(), bid.Amount.Currency(), bid.PlacedAt,
	)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE auctions SET current_bid = $2
		 WHERE id = $1 AND (current_bid IS NULL OR current_bid < $2)`,
		bid.AuctionID, bid.Amount.MinorUnits(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: bid on auction %s lost the race", ErrConflict, bid.AuctionID)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, auction_id, bidder_id, amount, currency, placed_at
		 FROM bids WHERE auction_id = $1 ORDER BY placed_at`, auctionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bids []model.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, *b)
	}
	return bids, rows.Err()
}

func (s *PostgresStore) GetHighestBid(ctx context.Context, auctionID string) (*model.Bid, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, auction_id, bidder_id, amount, currency, placed_at
		 FROM bids WHERE auction_id = $1
		 ORDER BY amount DESC, placed_at ASC LIMIT 1`, auctionID)

	b, err := scanBid(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: no bids for auction %s", ErrNotFound, auctionID)
		}
		return nil, err
	}
	return b, nil
}

func (s *PostgresStore) CreateSale(ctx context.Context, sale *model.Sale) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sales (id, auction_id, order_id, seller_id, buyer_id, artwork_id, selling_type,
		                    income, commission, profit, currency, pending_income, sale_date, income_release_date)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		sale.ID, sale.AuctionID, sale.OrderID,
		sale.SellerID, sale.BuyerID, sale.ArtworkID, sale.SellingType,
		sale.Income.MinorUnits(), sale.Commission.MinorUnits(), sale.Profit.MinorUnits(),
		sale.Income.Currency(), sale.PendingIncome,
		sale.Date, sale.IncomeReleaseDate,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: transaction already settled", ErrConflict)
	}
	return err
}

func (s *PostgresStore) GetSale(ctx context.Context, id string) (*model.Sale, error) {
	row := s.pool.QueryRow(ctx, saleSelect+` WHERE id = $1`, id)

	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: sale %s", ErrNotFound, id)
		}
		return nil, err
	}
	return sale, nil
}

func (s *PostgresStore) GetSaleByAuction(ctx context.Context, auctionID string) (*model.Sale, error) {
	row := s.pool.QueryRow(ctx, saleSelect+` WHERE auction_id = $1`, auctionID)

	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: no sale for auction %s", ErrNotFound, auctionID)
		}
		return nil, err
	}
	return sale, nil
}

func (s *PostgresStore) ListSalesBySeller(ctx context.Context, sellerID string) ([]model.Sale, error) {
	rows, err := s.pool.Query(ctx, saleSelect+` WHERE seller_id = $1 ORDER BY sale_date`, sellerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSales(rows)
}

func (s *PostgresStore) ListReleasableSales(ctx context.Context, now time.Time) ([]model.Sale, error) {
	rows, err := s.pool.Query(ctx,
		saleSelect+` WHERE pending_income AND income_release_date <= $1`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSales(rows)
}

// ReleaseSaleIncome performs the claim-and-credit in one transaction.
// The conditional UPDATE on pending_income is the claim token: only one
// concurrent sweep can flip it, and the seller credit commits with it
// or not at all. The upsert only applies when the aggregate's currency
// matches the profit's; a mismatch rolls the claim back and the sale
// stays pending.
func (s *PostgresStore) ReleaseSaleIncome(ctx context.Context, saleID string, now time.Time) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var sellerID, currency string
	var profit int64
	err = tx.QueryRow(ctx,
		`UPDATE sales SET pending_income = FALSE
		 WHERE id = $1 AND pending_income AND income_release_date <= $2
		 RETURNING seller_id, profit, currency`,
		saleID, now,
	).Scan(&sellerID, &profit, &currency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO seller_income (seller_id, total_income, pending_withdrawal, total_withdrawal, currency)
		 VALUES ($1, $2, 0, 0, $3)
		 ON CONFLICT (seller_id)
		 DO UPDATE SET total_income = seller_income.total_income + EXCLUDED.total_income
		 WHERE seller_income.currency = EXCLUDED.currency`,
		sellerID, profit, currency,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, fmt.Errorf("credit seller %s with %d %s: %w",
			sellerID, profit, currency, money.ErrCurrencyMismatch)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresStore) GetSellerIncome(ctx context.Context, sellerID string) (*model.SellerIncome, error) {
	var totalIncome, pendingWithdrawal, totalWithdrawal int64
	var currency string

	err := s.pool.QueryRow(ctx,
		`SELECT total_income, pending_withdrawal, total_withdrawal, currency
		 FROM seller_income WHERE seller_id = $1`, sellerID).
		Scan(&totalIncome, &pendingWithdrawal, &totalWithdrawal, &currency)
	if errors.Is(err, pgx.ErrNoRows) {
		zero := money.MustNew(0, money.DefaultCurrency)
		return &model.SellerIncome{
			SellerID:          sellerID,
			TotalIncome:       zero,
			PendingWithdrawal: zero,
			TotalWithdrawal:   zero,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	income := &model.SellerIncome{SellerID: sellerID}
	if income.TotalIncome, err = money.New(totalIncome, currency); err != nil {
		return nil, err
	}
	if income.PendingWithdrawal, err = money.New(pendingWithdrawal, currency); err != nil {
		return nil, err
	}
	if income.TotalWithdrawal, err = money.New(totalWithdrawal, currency); err != nil {
		return nil, err
	}
	return income, nil
}

const saleSelect = `SELECT id, COALESCE(auction_id, ''), COALESCE(order_id, ''), seller_id, buyer_id, artwork_id, selling_type,
       income, commission, profit, currency, pending_income, sale_date, income_release_date
 FROM sales`

// scanner covers both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAuction(row scanner) (*model.Auction, error) {
	var a model.Auction
	var minimumBid int64
	var currentBid *int64
	var currency string

	if err := row.Scan(&a.ID, &a.SellerID, &a.Name, &a.ArtworkIDs,
		&a.StartTime, &a.EndTime, &a.Status,
		&minimumBid, &currentBid, &currency, &a.CreatedAt); err != nil {
		return nil, err
	}

	var err error
	if a.MinimumBid, err = money.New(minimumBid, currency); err != nil {
		return nil, err
	}
	if currentBid != nil {
		current, err := money.New(*currentBid, currency)
		if err != nil {
			return nil, err
		}
		a.CurrentBid = &current
	}
	return &a, nil
}

func scanBid(row scanner) (*model.Bid, error) {
	var b model.Bid
	var amount int64
	var currency string

	if err := row.Scan(&b.ID, &b.AuctionID, &b.BidderID, &amount, &currency, &b.PlacedAt); err != nil {
		return nil, err
	}

	var err error
	if b.Amount, err = money.New(amount, currency); err != nil {
		return nil, err
	}
	return &b, nil
}

func scanSale(row scanner) (*model.Sale, error) {
	var sale model.Sale
	var income, commission, profit int64
	var currency string

	if err := row.Scan(&sale.ID, &sale.AuctionID, &sale.OrderID,
		&sale.SellerID, &sale.BuyerID, &sale.ArtworkID, &sale.SellingType,
		&income, &commission, &profit, &currency,
		&sale.PendingIncome, &sale.Date, &sale.IncomeReleaseDate); err != nil {
		return nil, err
	}

	var err error
	if sale.Income, err = money.New(income, currency); err != nil {
		return nil, err
	}
	if sale.Commission, err = money.New(commission, currency); err != nil {
		return nil, err
	}
	if sale.Profit, err = money.New(profit, currency); err != nil {
		return nil, err
	}
	return &sale, nil
}

func collectSales(rows pgx.Rows) ([]model.Sale, error) {
	var sales []model.Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	return sales, rows.Err()
}

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
