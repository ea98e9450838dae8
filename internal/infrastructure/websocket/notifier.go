package websocket

import (
	"context"

	"diamond-auction/internal/domain"
)

// WebSocketNotifier delivers notifications to the connections of this
// instance. The previous high bidder gets a direct "outbid" message, and an
// ended auction has its connections closed after the final message.
type WebSocketNotifier struct {
	connManager domain.ConnectionManager
}

func NewWebSocketNotifier(connManager domain.ConnectionManager) *WebSocketNotifier {
	return &WebSocketNotifier{connManager: connManager}
}

func (n *WebSocketNotifier) Notify(ctx context.Context, notification *domain.Notification) error {
	message := map[string]interface{}{
		"type":       notification.Type,
		"auction_id": notification.AuctionID,
		"payload":    notification.Payload,
		"timestamp":  notification.Timestamp,
	}

	switch notification.Type {
	case domain.NotifyBidPlaced:
		previous, _ := notification.Payload["previous_bidder_id"].(string)
		bidder, _ := notification.Payload["bidder_id"].(string)
		if previous == "" || previous == bidder {
			return nil
		}
		outbid := map[string]interface{}{
			"type":       "outbid",
			"auction_id": notification.AuctionID,
			"amount":     notification.Payload["amount"],
		}
		for _, conn := range n.connManager.GetConnectionsForUser(previous) {
			if conn.AuctionID() != notification.AuctionID {
				continue
			}
			// best effort; a dead connection is cleaned up by its reader
			_ = conn.Send(outbid)
		}
		return nil

	case domain.NotifyAuctionEnded:
		if err := n.connManager.BroadcastToAuction(notification.AuctionID, message); err != nil {
			return err
		}
		return n.connManager.CloseAndUnregisterConnections(notification.AuctionID)

	default:
		return n.connManager.BroadcastToAuction(notification.AuctionID, message)
	}
}
