package handlers

import (
	"errors"
	"net/http"
	"time"

	"diamond-auction/internal/domain"
	"diamond-auction/internal/services"
	"diamond-auction/pkg/logger"

	"github.com/labstack/echo/v4"
)

// HeaderUserID carries the authenticated caller. Authentication itself
// happens upstream.
const HeaderUserID = "X-User-ID"

type AuctionHandler struct {
	auctionManager *services.AuctionManager
	bidService     *services.BidService
	log            logger.Logger
}

type CreateAuctionRequest struct {
	DiamondID    string    `json:"diamond_id"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	StartPrice   int64     `json:"start_price"`
	MinIncrement int64     `json:"min_increment"`
	ReservePrice *int64    `json:"reserve_price,omitempty"`
}

type PlaceBidRequest struct {
	Amount *int64 `json:"amount,omitempty"`
}

type AuctionResponse struct {
	ID             string     `json:"id"`
	DiamondID      string     `json:"diamond_id"`
	SellerID       string     `json:"seller_id"`
	StartPrice     int64      `json:"start_price"`
	CurrentPrice   int64      `json:"current_price"`
	MinIncrement   int64      `json:"min_increment"`
	MinNextBid     int64      `json:"min_next_bid"`
	ReservePrice   *int64     `json:"reserve_price,omitempty"`
	ReserveMet     bool       `json:"reserve_met"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        time.Time  `json:"end_time"`
	MaxEndTime     *time.Time `json:"max_end_time,omitempty"`
	Status         string     `json:"status"`
	BidCount       int64      `json:"bid_count"`
	LastBidderID   string     `json:"last_bidder_id,omitempty"`
	ExtensionCount int64      `json:"extension_count"`
	Version        int64      `json:"version"`
}

type AuctionViewResponse struct {
	AuctionResponse
	RecentBids []*domain.Bid `json:"recent_bids"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func NewAuctionHandler(auctionManager *services.AuctionManager, bidService *services.BidService, log logger.Logger) *AuctionHandler {
	return &AuctionHandler{
		auctionManager: auctionManager,
		bidService:     bidService,
		log:            log,
	}
}

// Register mounts the auction routes on g.
func (h *AuctionHandler) Register(g *echo.Group) {
	g.POST("/auctions", h.CreateAuction)
	g.GET("/auctions/:id", h.GetAuction)
	g.POST("/auctions/:id/bids", h.PlaceBid)
	g.POST("/auctions/:id/cancel", h.CancelAuction)
	g.POST("/auctions/:id/heartbeat", h.Heartbeat)
	g.GET("/auctions/:id/presence", h.Presence)
}

func (h *AuctionHandler) CreateAuction(c echo.Context) error {
	sellerID, err := callerID(c)
	if err != nil {
		return err
	}

	var req CreateAuctionRequest
	if err := c.Bind(&req); err != nil {
		h.log.Error("Failed to bind request", "error", err)
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "bad_request"})
	}

	auction, err := h.auctionManager.CreateAuction(c.Request().Context(), domain.CreateAuctionParams{
		DiamondID:    req.DiamondID,
		SellerID:     sellerID,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		StartPrice:   req.StartPrice,
		MinIncrement: req.MinIncrement,
		ReservePrice: req.ReservePrice,
	})
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(http.StatusCreated, toAuctionResponse(auction))
}

func (h *AuctionHandler) GetAuction(c echo.Context) error {
	view, err := h.auctionManager.GetAuction(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}

	bids := view.RecentBids
	if bids == nil {
		bids = []*domain.Bid{}
	}
	return c.JSON(http.StatusOK, AuctionViewResponse{
		AuctionResponse: toAuctionResponse(view.Auction),
		RecentBids:      bids,
	})
}

func (h *AuctionHandler) PlaceBid(c echo.Context) error {
	bidderID, err := callerID(c)
	if err != nil {
		return err
	}

	var req PlaceBidRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "bad_request"})
	}

	result, err := h.bidService.PlaceBid(c.Request().Context(), c.Param("id"), bidderID, req.Amount)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, result)
}

func (h *AuctionHandler) CancelAuction(c echo.Context) error {
	caller, err := callerID(c)
	if err != nil {
		return err
	}

	if err := h.auctionManager.CancelAuction(c.Request().Context(), c.Param("id"), caller); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AuctionHandler) Heartbeat(c echo.Context) error {
	viewer, err := callerID(c)
	if err != nil {
		return err
	}

	if err := h.auctionManager.Heartbeat(c.Request().Context(), c.Param("id"), viewer); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AuctionHandler) Presence(c echo.Context) error {
	count, err := h.auctionManager.Presence(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, count)
}

func (h *AuctionHandler) fail(c echo.Context, err error) error {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed", "path", c.Path(), "auction_id", c.Param("id"), "error", err)
	}
	return c.JSON(status, ErrorResponse{Error: err.Error(), Code: domain.ErrorCode(err)})
}

// StatusFor maps engine errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case errorIs(err, domain.ErrInvalidSchedule, domain.ErrInvalidPrice):
		return http.StatusBadRequest
	case domain.IsValidation(err):
		return http.StatusUnprocessableEntity
	case errorIs(err, domain.ErrNotAuthorized):
		return http.StatusForbidden
	case errorIs(err, domain.ErrCannotCancel), domain.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func callerID(c echo.Context) (string, error) {
	id := c.Request().Header.Get(HeaderUserID)
	if id == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, HeaderUserID+" header required")
	}
	return id, nil
}

func toAuctionResponse(a *domain.Auction) AuctionResponse {
	return AuctionResponse{
		ID:             a.ID,
		DiamondID:      a.DiamondID,
		SellerID:       a.SellerID,
		StartPrice:     a.StartPrice,
		CurrentPrice:   a.CurrentPrice,
		MinIncrement:   a.MinIncrement,
		MinNextBid:     a.MinAcceptableBid(),
		ReservePrice:   a.ReservePrice,
		ReserveMet:     a.ReserveMet(),
		StartTime:      a.StartTime,
		EndTime:        a.EndTime,
		MaxEndTime:     a.MaxEndTime,
		Status:         a.Status.String(),
		BidCount:       a.BidCount,
		LastBidderID:   a.LastBidderID,
		ExtensionCount: a.ExtensionCount,
		Version:        a.Version,
	}
}

func errorIs(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
