package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"diamond-auction/internal/domain"
	"diamond-auction/internal/services"
	"diamond-auction/pkg/logger"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

// inboundMessage is what clients send. Amount is in minor units; omit it to
// bid the minimum acceptable amount.
type inboundMessage struct {
	Type   string `json:"type"`
	Amount *int64 `json:"amount,omitempty"`
}

type WebSocketHandler struct {
	bidService     *services.BidService
	auctionManager *services.AuctionManager
	hub            *services.BroadcastHub
	connManager    domain.ConnectionManager
	log            logger.Logger
}

func NewWebSocketHandler(bidService *services.BidService,
	auctionManager *services.AuctionManager,
	hub *services.BroadcastHub,
	connManager domain.ConnectionManager, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		bidService:     bidService,
		auctionManager: auctionManager,
		hub:            hub,
		connManager:    connManager,
		log:            log,
	}
}

// HandleConnection upgrades the request and serves the connection until
// either side closes it. The first message the client receives is the
// current auction snapshot.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["auctionID"]
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := h.hub.Subscribe(ctx, auctionID)
	if err != nil {
		if domain.IsNotFound(err) {
			http.Error(w, "auction not found", http.StatusNotFound)
			return
		}
		h.log.Error("Failed to subscribe", "auction_id", auctionID, "error", err)
		http.Error(w, "subscription failed", http.StatusInternalServerError)
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	wsConn := NewWebSocketConnection(conn, userID, auctionID, h.log)
	if err := h.connManager.RegisterConnection(userID, auctionID, wsConn); err != nil {
		h.log.Error("Failed to register connection", "error", err)
		wsConn.Close()
		return
	}
	defer func() {
		h.connManager.UnregisterConnection(userID, auctionID, wsConn)
		wsConn.Close()
	}()

	go h.pumpEvents(wsConn, sub)
	h.readMessages(ctx, wsConn)
}

// pumpEvents forwards hub events to the client. When the hub closes the
// stream (auction over or client too slow) the connection is closed and the
// client is expected to reconnect for a fresh snapshot.
func (h *WebSocketHandler) pumpEvents(conn *WebSocketConnection, sub *services.Subscription) {
	for event := range sub.Events() {
		if err := conn.Send(event); err != nil {
			h.log.Debug("Failed to push state", "auction_id", sub.AuctionID, "user_id", conn.UserID(), "error", err)
			break
		}
	}
	conn.Close()
}

func (h *WebSocketHandler) readMessages(ctx context.Context, conn *WebSocketConnection) {
	conn.conn.SetReadLimit(maxMessageSize)

	for {
		var msg inboundMessage
		if err := conn.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Error("Failed to read message", "error", err)
			}
			return
		}

		switch msg.Type {
		case "place_bid":
			h.handleBidMessage(ctx, conn, msg)
		case "heartbeat":
			if err := h.auctionManager.Heartbeat(ctx, conn.AuctionID(), conn.UserID()); err != nil {
				h.log.Warn("Heartbeat failed", "auction_id", conn.AuctionID(), "error", err)
			}
		case "ping":
			conn.Send(map[string]string{"type": "pong"})
		default:
			conn.Send(map[string]string{"type": "error", "message": "unknown message type"})
		}
	}
}

func (h *WebSocketHandler) handleBidMessage(ctx context.Context, conn *WebSocketConnection, msg inboundMessage) {
	result, err := h.bidService.PlaceBid(ctx, conn.AuctionID(), conn.UserID(), msg.Amount)
	if err != nil {
		if !domain.IsValidation(err) {
			h.log.Error("Failed to place bid", "auction_id", conn.AuctionID(), "user_id", conn.UserID(), "error", err)
		}
		conn.Send(map[string]string{
			"type":    "bid_rejected",
			"code":    domain.ErrorCode(err),
			"message": err.Error(),
		})
		return
	}

	conn.Send(map[string]interface{}{
		"type":   "bid_ack",
		"result": result,
	})
}

// WebSocketConnection serializes writes; gorilla connections allow only one
// concurrent writer.
type WebSocketConnection struct {
	conn      *websocket.Conn
	userID    string
	auctionID string
	log       logger.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func NewWebSocketConnection(conn *websocket.Conn, userID, auctionID string, log logger.Logger) *WebSocketConnection {
	return &WebSocketConnection{
		conn:      conn,
		userID:    userID,
		auctionID: auctionID,
		log:       log,
	}
}

func (wsc *WebSocketConnection) Send(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	wsc.writeMu.Lock()
	defer wsc.writeMu.Unlock()
	wsc.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return wsc.conn.WriteMessage(websocket.TextMessage, data)
}

func (wsc *WebSocketConnection) Close() error {
	var err error
	wsc.closeOnce.Do(func() {
		err = wsc.conn.Close()
	})
	return err
}

func (wsc *WebSocketConnection) UserID() string {
	return wsc.userID
}

func (wsc *WebSocketConnection) AuctionID() string {
	return wsc.auctionID
}
