package mysql

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS auctions (
        id              VARCHAR(64)  NOT NULL PRIMARY KEY,
        diamond_id      VARCHAR(64)  NOT NULL,
        seller_id       VARCHAR(64)  NOT NULL,
        start_price     BIGINT       NOT NULL,
        current_price   BIGINT       NOT NULL,
        min_increment   BIGINT       NOT NULL,
        reserve_price   BIGINT       NULL,
        start_time      DATETIME(3)  NOT NULL,
        end_time        DATETIME(3)  NOT NULL,
        max_end_time    DATETIME(3)  NULL,
        status          TINYINT      NOT NULL,
        bid_count       BIGINT       NOT NULL DEFAULT 0,
        last_bidder_id  VARCHAR(64)  NOT NULL DEFAULT '',
        extension_count BIGINT       NOT NULL DEFAULT 0,
        version         BIGINT       NOT NULL DEFAULT 0,
        created_at      DATETIME(3)  NOT NULL,
        updated_at      DATETIME(3)  NOT NULL,
        KEY idx_auctions_status (status)
    )`,
	`CREATE TABLE IF NOT EXISTS bids (
        id         VARCHAR(64) NOT NULL PRIMARY KEY,
        auction_id VARCHAR(64) NOT NULL,
        bidder_id  VARCHAR(64) NOT NULL,
        amount     BIGINT      NOT NULL,
        placed_at  DATETIME(3) NOT NULL,
        KEY idx_bids_auction (auction_id, placed_at)
    )`,
	`CREATE TABLE IF NOT EXISTS bid_events (
        id         BIGINT AUTO_INCREMENT PRIMARY KEY,
        auction_id VARCHAR(64) NOT NULL,
        user_id    VARCHAR(64) NOT NULL,
        amount     BIGINT      NOT NULL,
        event_type VARCHAR(32) NOT NULL,
        timestamp  DATETIME(3) NOT NULL,
        created_at DATETIME(3) NOT NULL,
        KEY idx_bid_events_auction (auction_id)
    )`,
}

// Migrate creates the engine tables when they do not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("mysql.Migrate: %w", err)
		}
	}
	return nil
}
