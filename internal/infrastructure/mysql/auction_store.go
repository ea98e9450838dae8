package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"diamond-auction/internal/domain"

	_ "github.com/go-sql-driver/mysql"
)

const auctionColumns = `id, diamond_id, seller_id, start_price, current_price, min_increment,
        reserve_price, start_time, end_time, max_end_time, status, bid_count,
        last_bidder_id, extension_count, version, created_at, updated_at`

// AuctionStore persists auctions in MySQL. Every mutation is an UPDATE
// guarded by "version = ?"; zero affected rows means the CAS missed.
type AuctionStore struct {
	db    *sql.DB
	clock domain.Clock
}

func NewAuctionStore(db *sql.DB, clock domain.Clock) *AuctionStore {
	return &AuctionStore{db: db, clock: clock}
}

func (r *AuctionStore) Create(ctx context.Context, auction *domain.Auction) error {
	query := `
        INSERT INTO auctions (` + auctionColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := r.db.ExecContext(ctx, query,
		auction.ID, auction.DiamondID, auction.SellerID,
		auction.StartPrice, auction.CurrentPrice, auction.MinIncrement,
		nullInt(auction.ReservePrice), auction.StartTime, auction.EndTime, nullTime(auction.MaxEndTime),
		int(auction.Status), auction.BidCount, auction.LastBidderID, auction.ExtensionCount,
		auction.Version, auction.CreatedAt, auction.UpdatedAt)
	if err != nil {
		return fmt.Errorf("mysql.AuctionStore.Create: %w", err)
	}
	return nil
}

func (r *AuctionStore) Get(ctx context.Context, auctionID string) (*domain.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = ?`

	auction, err := scanAuction(r.db.QueryRowContext(ctx, query, auctionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAuctionNotFound
		}
		return nil, fmt.Errorf("mysql.AuctionStore.Get: %w", err)
	}
	return auction, nil
}

// TryCommitBid updates the price and inserts the bid in one transaction. A
// non-zero extendTo moves the end time in the same guarded UPDATE.
func (r *AuctionStore) TryCommitBid(ctx context.Context, auctionID string, expectedVersion int64, bid *domain.Bid, extendTo time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mysql.AuctionStore.TryCommitBid: begin: %w", err)
	}
	defer tx.Rollback()

	query := `
        UPDATE auctions
        SET current_price = ?, last_bidder_id = ?, bid_count = bid_count + 1,
            version = version + 1, updated_at = ?
        WHERE id = ? AND version = ?
    `
	args := []interface{}{bid.Amount, bid.BidderID, r.clock.Now(), auctionID, expectedVersion}
	var reason func(*domain.Auction) error
	if !extendTo.IsZero() {
		query = `
        UPDATE auctions
        SET current_price = ?, last_bidder_id = ?, bid_count = bid_count + 1,
            end_time = ?, status = ?, extension_count = extension_count + 1,
            version = version + 1, updated_at = ?
        WHERE id = ? AND version = ? AND end_time < ? AND status IN (?, ?)
    `
		args = []interface{}{bid.Amount, bid.BidderID,
			extendTo, int(domain.AuctionExtended), r.clock.Now(),
			auctionID, expectedVersion, extendTo,
			int(domain.AuctionActive), int(domain.AuctionExtended)}
		reason = extendMiss(extendTo)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("mysql.AuctionStore.TryCommitBid: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return 0, err
	} else if n == 0 {
		return 0, r.classifyMiss(ctx, auctionID, expectedVersion, reason)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO bids (id, auction_id, bidder_id, amount, placed_at) VALUES (?, ?, ?, ?, ?)`,
		bid.ID, auctionID, bid.BidderID, bid.Amount, bid.PlacedAt)
	if err != nil {
		return 0, fmt.Errorf("mysql.AuctionStore.TryCommitBid: insert bid: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("mysql.AuctionStore.TryCommitBid: commit: %w", err)
	}
	return expectedVersion + 1, nil
}

func (r *AuctionStore) ExtendEndTime(ctx context.Context, auctionID string, expectedVersion int64, newEndTime time.Time) (int64, error) {
	query := `
        UPDATE auctions
        SET end_time = ?, status = ?, extension_count = extension_count + 1,
            version = version + 1, updated_at = ?
        WHERE id = ? AND version = ? AND end_time < ? AND status IN (?, ?)
    `
	res, err := r.db.ExecContext(ctx, query,
		newEndTime, int(domain.AuctionExtended), r.clock.Now(),
		auctionID, expectedVersion, newEndTime,
		int(domain.AuctionActive), int(domain.AuctionExtended))
	if err != nil {
		return 0, fmt.Errorf("mysql.AuctionStore.ExtendEndTime: %w", err)
	}
	return r.afterUpdate(ctx, res, auctionID, expectedVersion, extendMiss(newEndTime))
}

func extendMiss(newEndTime time.Time) func(*domain.Auction) error {
	return func(a *domain.Auction) error {
		if !newEndTime.After(a.EndTime) {
			return domain.ErrEndTimeRegression
		}
		return domain.ErrInvalidTransition
	}
}

func (r *AuctionStore) Cancel(ctx context.Context, auctionID string, expectedVersion int64) (int64, error) {
	query := `
        UPDATE auctions
        SET status = ?, version = version + 1, updated_at = ?
        WHERE id = ? AND version = ? AND bid_count = 0 AND status = ?
    `
	res, err := r.db.ExecContext(ctx, query,
		int(domain.AuctionCancelled), r.clock.Now(),
		auctionID, expectedVersion, int(domain.AuctionScheduled))
	if err != nil {
		return 0, fmt.Errorf("mysql.AuctionStore.Cancel: %w", err)
	}
	return r.afterUpdate(ctx, res, auctionID, expectedVersion, func(*domain.Auction) error {
		return domain.ErrCannotCancel
	})
}

func (r *AuctionStore) Transition(ctx context.Context, auctionID string, expectedVersion int64, to domain.AuctionStatus) (int64, error) {
	var from []interface{}
	for s := domain.AuctionScheduled; s <= domain.AuctionCancelled; s++ {
		if s.CanTransitionTo(to) {
			from = append(from, int(s))
		}
	}
	if len(from) == 0 {
		return 0, domain.ErrInvalidTransition
	}

	query := `
        UPDATE auctions
        SET status = ?, version = version + 1, updated_at = ?
        WHERE id = ? AND version = ? AND status IN (` + placeholders(len(from)) + `)
    `
	args := append([]interface{}{int(to), r.clock.Now(), auctionID, expectedVersion}, from...)
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("mysql.AuctionStore.Transition: %w", err)
	}
	return r.afterUpdate(ctx, res, auctionID, expectedVersion, func(*domain.Auction) error {
		return domain.ErrInvalidTransition
	})
}

func (r *AuctionStore) ListNonTerminal(ctx context.Context) ([]*domain.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE status IN (?, ?, ?) ORDER BY end_time ASC`

	rows, err := r.db.QueryContext(ctx, query,
		int(domain.AuctionScheduled), int(domain.AuctionActive), int(domain.AuctionExtended))
	if err != nil {
		return nil, fmt.Errorf("mysql.AuctionStore.ListNonTerminal: %w", err)
	}
	defer rows.Close()

	var auctions []*domain.Auction
	for rows.Next() {
		auction, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("mysql.AuctionStore.ListNonTerminal: %w", err)
		}
		auctions = append(auctions, auction)
	}
	return auctions, rows.Err()
}

// RecentBids returns up to limit bids, newest first. A limit of zero or less
// returns every bid.
func (r *AuctionStore) RecentBids(ctx context.Context, auctionID string, limit int) ([]*domain.Bid, error) {
	query := `
        SELECT id, auction_id, bidder_id, amount, placed_at
        FROM bids WHERE auction_id = ?
        ORDER BY placed_at DESC, amount DESC`
	args := []interface{}{auctionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("mysql.AuctionStore.RecentBids: %w", err)
	}
	defer rows.Close()

	var bids []*domain.Bid
	for rows.Next() {
		var b domain.Bid
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.Amount, &b.PlacedAt); err != nil {
			return nil, fmt.Errorf("mysql.AuctionStore.RecentBids: %w", err)
		}
		bids = append(bids, &b)
	}
	return bids, rows.Err()
}

func (r *AuctionStore) afterUpdate(ctx context.Context, res sql.Result, auctionID string, expectedVersion int64, reason func(*domain.Auction) error) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, r.classifyMiss(ctx, auctionID, expectedVersion, reason)
	}
	return expectedVersion + 1, nil
}

// classifyMiss explains why a guarded UPDATE touched no rows.
func (r *AuctionStore) classifyMiss(ctx context.Context, auctionID string, expectedVersion int64, reason func(*domain.Auction) error) error {
	current, err := r.Get(ctx, auctionID)
	if err != nil {
		return err
	}
	if current.Version != expectedVersion || reason == nil {
		return domain.ErrVersionConflict
	}
	return reason(current)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuction(row rowScanner) (*domain.Auction, error) {
	var a domain.Auction
	var status int
	var reserve sql.NullInt64
	var maxEnd sql.NullTime

	err := row.Scan(&a.ID, &a.DiamondID, &a.SellerID,
		&a.StartPrice, &a.CurrentPrice, &a.MinIncrement,
		&reserve, &a.StartTime, &a.EndTime, &maxEnd,
		&status, &a.BidCount, &a.LastBidderID, &a.ExtensionCount,
		&a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}

	a.Status = domain.AuctionStatus(status)
	if reserve.Valid {
		v := reserve.Int64
		a.ReservePrice = &v
	}
	if maxEnd.Valid {
		v := maxEnd.Time
		a.MaxEndTime = &v
	}
	return &a, nil
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
