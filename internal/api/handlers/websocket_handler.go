package handlers

import (
	"net/http"

	"diamond-auction/internal/api/middleware"
	"diamond-auction/internal/infrastructure/websocket"
	"diamond-auction/pkg/logger"

	"github.com/gorilla/mux"
)

// NewWebSocketRouter builds the router served by the bidding edge.
func NewWebSocketRouter(wsHandler *websocket.WebSocketHandler, log logger.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.CORSWithLogging(log))

	router.HandleFunc("/ws/auction/{auctionID}", wsHandler.HandleConnection)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
