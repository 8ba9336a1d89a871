// This file defines the marketplace endpoints: creating a listing from
// an authenticated credit, browsing active listings (public, no
// authentication) and delisting.  Sensitive fields (seller IDs, blob
// keys) are filtered from the public browse responses.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ecoledger/marketplace/internal/model"
	"github.com/ecoledger/marketplace/internal/repository"
	"github.com/ecoledger/marketplace/internal/service"
)

// MarketplaceHandler bundles the marketplace service for the listing
// endpoints.
type MarketplaceHandler struct {
	Market *service.MarketplaceService
}

type listReq struct {
	SerialNumber   string  `json:"serial_number"`
	PricePerCredit float64 `json:"price_per_credit"`
	Currency       string  `json:"currency"`
	Description    string  `json:"description"`
}

type listingResp struct {
	ListingID      string     `json:"listing_id"`
	SerialNumber   string     `json:"serial_number"`
	PricePerCredit float64    `json:"price_per_credit"`
	Currency       string     `json:"currency"`
	Amount         float64    `json:"amount"`
	TotalValue     float64    `json:"total_value"`
	Description    string     `json:"description"`
	Status         string     `json:"status"`
	ListedAt       time.Time  `json:"listed_at"`
	RemovedAt      *time.Time `json:"removed_at,omitempty"`
}

func toListingResp(l model.Listing) listingResp {
	return listingResp{
		ListingID:      l.UID,
		SerialNumber:   l.SerialNumber,
		PricePerCredit: l.PricePerCredit,
		Currency:       l.Currency,
		Amount:         l.Amount,
		TotalValue:     l.TotalValue,
		Description:    l.Description,
		Status:         strings.ToLower(l.Status),
		ListedAt:       l.ListedAt,
		RemovedAt:      l.RemovedAt,
	}
}

// CreateListing puts one of the caller's authenticated credits up for
// sale.
func (h *MarketplaceHandler) CreateListing(c echo.Context) error {
	uid := CurrentUserID(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_credentials", "message": "unauthorized"})
	}

	var req listReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_body", "message": "invalid request body"})
	}
	req.SerialNumber = strings.TrimSpace(req.SerialNumber)
	if req.SerialNumber == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing_fields", "message": "serial_number is required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	listing, err := h.Market.List(ctx, req.SerialNumber, uid, req.PricePerCredit, req.Currency, req.Description)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidPrice):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_price", "message": "price_per_credit must be positive"})
		case errors.Is(err, service.ErrCreditNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "invalid_credit", "message": "no credit with this serial number"})
		case errors.Is(err, service.ErrNotOwner):
			return c.JSON(http.StatusForbidden, echo.Map{"error": "not_owner", "message": "you do not own this credit"})
		case errors.Is(err, service.ErrNotAuthenticated):
			return c.JSON(http.StatusConflict, echo.Map{"error": "not_authenticated", "message": "credit must be authenticated and not already listed"})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal_error", "message": "create listing failed"})
		}
	}
	return c.JSON(http.StatusCreated, echo.Map{"listing": toListingResp(listing)})
}

// DeleteListing removes one of the caller's listings.  The credit
// returns to the authenticated state and may be listed again.
func (h *MarketplaceHandler) DeleteListing(c echo.Context) error {
	uid := CurrentUserID(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_credentials", "message": "unauthorized"})
	}
	listingUID := c.Param("id")

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Market.Delist(ctx, listingUID, uid); err != nil {
		switch {
		case errors.Is(err, service.ErrListingNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found", "message": "listing not found"})
		case errors.Is(err, service.ErrNotOwner):
			return c.JSON(http.StatusForbidden, echo.Map{"error": "not_owner", "message": "you do not own this listing"})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal_error", "message": "delist failed"})
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "removed"})
}

// BrowseListings is the public marketplace view.  Only active listings
// are returned, newest first, with filter and pagination parameters
// mirrored back so clients can page without re-deriving them.
func (h *MarketplaceHandler) BrowseListings(c echo.Context) error {
	q := repository.BrowseQuery{
		Category: c.QueryParam("category"),
		Vintage:  c.QueryParam("vintage"),
		Registry: c.QueryParam("registry"),
		Search:   c.QueryParam("search"),
		MinPrice: parseFloat(c.QueryParam("minPrice")),
		MaxPrice: parseFloat(c.QueryParam("maxPrice")),
		Limit:    parseInt(c.QueryParam("limit")),
		Offset:   parseInt(c.QueryParam("offset")),
	}
	// Normalize here too so the echoed limit/offset match what ran.
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	rows, total, err := h.Market.Browse(ctx, q)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal_error", "message": "query failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"listings": rows,
		"total":    total,
		"limit":    q.Limit,
		"offset":   q.Offset,
	})
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func parseInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
