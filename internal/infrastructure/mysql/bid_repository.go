package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"diamond-auction/internal/domain"
)

// MySQLBidEventRepository stores the analytics trail of bid and end events.
type MySQLBidEventRepository struct {
	db    *sql.DB
	clock domain.Clock
}

func NewMySQLBidEventRepository(db *sql.DB, clock domain.Clock) *MySQLBidEventRepository {
	return &MySQLBidEventRepository{db: db, clock: clock}
}

func (r *MySQLBidEventRepository) SaveBidEvent(ctx context.Context, event *domain.BidEvent) error {
	query := `
        INSERT INTO bid_events (auction_id, user_id, amount, event_type, timestamp, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
    `
	_, err := r.db.ExecContext(ctx, query,
		event.AuctionID, event.UserID, event.Amount,
		string(event.Type), event.Timestamp, r.clock.Now())
	if err != nil {
		return fmt.Errorf("mysql.SaveBidEvent: %w", err)
	}
	return nil
}

func (r *MySQLBidEventRepository) GetBidHistory(ctx context.Context, auctionID string) ([]*domain.BidEvent, error) {
	query := `
        SELECT auction_id, user_id, amount, event_type, timestamp
        FROM bid_events
        WHERE auction_id = ? AND event_type = ?
        ORDER BY timestamp ASC
    `

	rows, err := r.db.QueryContext(ctx, query, auctionID, string(domain.NotifyBidPlaced))
	if err != nil {
		return nil, fmt.Errorf("mysql.GetBidHistory: %w", err)
	}
	defer rows.Close()

	var events []*domain.BidEvent
	for rows.Next() {
		var event domain.BidEvent
		var eventType string

		err := rows.Scan(&event.AuctionID, &event.UserID, &event.Amount,
			&eventType, &event.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("mysql.GetBidHistory: %w", err)
		}

		event.Type = domain.NotificationType(eventType)
		events = append(events, &event)
	}

	return events, rows.Err()
}
