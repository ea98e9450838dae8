package websocket

import (
	"sync"

	"diamond-auction/internal/domain"
	"diamond-auction/pkg/logger"
)

// ConnectionManager indexes live connections by auction and by user. A user
// may hold several connections to the same auction (tabs, devices).
type ConnectionManager struct {
	connections map[string]map[domain.WebSocketConnection]struct{} // auctionID -> connections
	userConns   map[string][]domain.WebSocketConnection            // userID -> connections
	mutex       sync.RWMutex
	log         logger.Logger
}

func NewConnectionManager(log logger.Logger) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]map[domain.WebSocketConnection]struct{}),
		userConns:   make(map[string][]domain.WebSocketConnection),
		log:         log,
	}
}

func (cm *ConnectionManager) RegisterConnection(userID, auctionID string, conn domain.WebSocketConnection) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if cm.connections[auctionID] == nil {
		cm.connections[auctionID] = make(map[domain.WebSocketConnection]struct{})
	}
	cm.connections[auctionID][conn] = struct{}{}
	cm.userConns[userID] = append(cm.userConns[userID], conn)

	cm.log.Info("Connection registered", "user_id", userID, "auction_id", auctionID)
	return nil
}

func (cm *ConnectionManager) UnregisterConnection(userID, auctionID string, conn domain.WebSocketConnection) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	cm.removeLocked(userID, auctionID, conn)
	cm.log.Info("Connection unregistered", "user_id", userID, "auction_id", auctionID)
	return nil
}

// CloseAndUnregisterConnections closes every connection watching auctionID.
func (cm *ConnectionManager) CloseAndUnregisterConnections(auctionID string) error {
	cm.mutex.Lock()
	conns := cm.connections[auctionID]
	for conn := range conns {
		cm.removeLocked(conn.UserID(), auctionID, conn)
	}
	cm.mutex.Unlock()

	for conn := range conns {
		if err := conn.Close(); err != nil {
			cm.log.Error("Failed to close connection", "user_id", conn.UserID(),
				"auction_id", auctionID, "error", err)
		}
	}

	cm.log.Info("Connections closed for auction", "auction_id", auctionID, "count", len(conns))
	return nil
}

func (cm *ConnectionManager) GetConnectionsForAuction(auctionID string) []domain.WebSocketConnection {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	connections := make([]domain.WebSocketConnection, 0, len(cm.connections[auctionID]))
	for conn := range cm.connections[auctionID] {
		connections = append(connections, conn)
	}
	return connections
}

func (cm *ConnectionManager) GetConnectionsForUser(userID string) []domain.WebSocketConnection {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	return append([]domain.WebSocketConnection(nil), cm.userConns[userID]...)
}

func (cm *ConnectionManager) BroadcastToAuction(auctionID string, message interface{}) error {
	connections := cm.GetConnectionsForAuction(auctionID)
	cm.log.Debug("Broadcasting to auction", "auction_id", auctionID, "connections", len(connections))

	for _, conn := range connections {
		if err := conn.Send(message); err != nil {
			cm.log.Error("Failed to send message", "user_id", conn.UserID(), "auction_id", auctionID, "error", err)
			// Continue to other connections
		}
	}
	return nil
}

func (cm *ConnectionManager) NotifyUser(userID string, message interface{}) error {
	for _, conn := range cm.GetConnectionsForUser(userID) {
		if err := conn.Send(message); err != nil {
			cm.log.Error("Failed to send message", "user_id", userID, "error", err)
		}
	}
	return nil
}

func (cm *ConnectionManager) removeLocked(userID, auctionID string, conn domain.WebSocketConnection) {
	if auctionConns, exists := cm.connections[auctionID]; exists {
		delete(auctionConns, conn)
		if len(auctionConns) == 0 {
			delete(cm.connections, auctionID)
		}
	}

	userConnections := cm.userConns[userID]
	kept := userConnections[:0]
	for _, existing := range userConnections {
		if existing != conn {
			kept = append(kept, existing)
		}
	}
	if len(kept) == 0 {
		delete(cm.userConns, userID)
	} else {
		cm.userConns[userID] = kept
	}
}
