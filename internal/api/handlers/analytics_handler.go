package handlers

import (
	"net/http"

	"diamond-auction/internal/domain"
	"diamond-auction/internal/services"
	"diamond-auction/pkg/logger"

	"github.com/labstack/echo/v4"
)

// AnalyticsHandler serves the bid history recorded by the analytics service.
type AnalyticsHandler struct {
	analytics *services.AnalyticsService
	log       logger.Logger
}

type BidHistoryResponse struct {
	AuctionID string             `json:"auction_id"`
	Events    []*domain.BidEvent `json:"events"`
}

func NewAnalyticsHandler(analytics *services.AnalyticsService, log logger.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics, log: log}
}

func (h *AnalyticsHandler) Register(g *echo.Group) {
	g.GET("/auctions/:id/history", h.History)
}

func (h *AnalyticsHandler) History(c echo.Context) error {
	auctionID := c.Param("id")
	events, err := h.analytics.History(c.Request().Context(), auctionID)
	if err != nil {
		h.log.Error("Request failed", "path", c.Path(), "auction_id", auctionID, "error", err)
		return c.JSON(StatusFor(err), ErrorResponse{Error: err.Error(), Code: domain.ErrorCode(err)})
	}
	return c.JSON(http.StatusOK, BidHistoryResponse{AuctionID: auctionID, Events: events})
}
