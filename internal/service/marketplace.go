package service

import (
	"context"
	"errors"
	"math"

	"github.com/google/uuid"

	"github.com/ecoledger/marketplace/internal/model"
	"github.com/ecoledger/marketplace/internal/repository"
)

// Marketplace operation failures.
var (
	// ErrCreditNotFound means the serial number matches no credit.
	ErrCreditNotFound = errors.New("credit not found")
	// ErrNotOwner means the caller does not own the credit or listing.
	ErrNotOwner = errors.New("caller does not own this credit")
	// ErrNotAuthenticated means the credit's status is not exactly
	// AUTHENTICATED: pending, failed and already-listed credits are all
	// rejected the same way.
	ErrNotAuthenticated = errors.New("credit is not in an authenticated state")
	// ErrInvalidPrice rejects non-positive asking prices.
	ErrInvalidPrice = errors.New("price per credit must be positive")
	// ErrListingNotFound covers unknown, already-removed and
	// foreign listing identifiers on delist.
	ErrListingNotFound = errors.New("listing not found")
)

// MarketplaceService manages listings derived from authenticated
// credits.  Listing and delisting pair a guarded credit status flip
// with the listing write inside one transaction, so the
// listing-info-iff-LISTED invariant cannot be broken by a partial
// failure or a concurrent request.
type MarketplaceService struct {
	credits  *repository.CreditRepo
	listings *repository.ListingRepo
}

// NewMarketplaceService wires the marketplace's repositories.
func NewMarketplaceService(credits *repository.CreditRepo, listings *repository.ListingRepo) *MarketplaceService {
	return &MarketplaceService{credits: credits, listings: listings}
}

// List creates a listing for an authenticated credit owned by sellerID.
// The credit moves to LISTED and the listing records price, the
// credit's volume and their product as the total value.
func (m *MarketplaceService) List(ctx context.Context, serial string, sellerID uint64, price float64, currency, description string) (model.Listing, error) {
	if price <= 0 {
		return model.Listing{}, ErrInvalidPrice
	}
	if currency == "" {
		currency = "USD"
	}

	credit, err := m.credits.GetBySerial(ctx, serial)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Listing{}, ErrCreditNotFound
		}
		return model.Listing{}, err
	}
	if credit.OwnerID != sellerID {
		return model.Listing{}, ErrNotOwner
	}
	if credit.Status != model.CreditStatusAuthenticated {
		return model.Listing{}, ErrNotAuthenticated
	}

	tx, err := m.credits.BeginTx(ctx)
	if err != nil {
		return model.Listing{}, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := m.credits.MarkListedTx(ctx, tx, serial, sellerID)
	if err != nil {
		return model.Listing{}, err
	}
	if rows == 0 {
		// The pre-checks passed but the guarded update matched
		// nothing: a concurrent request won the flip.
		return model.Listing{}, ErrNotAuthenticated
	}

	listing := model.Listing{
		UID:            uuid.NewString(),
		SerialNumber:   serial,
		SellerID:       sellerID,
		PricePerCredit: price,
		Currency:       currency,
		Amount:         credit.Extracted.Amount,
		TotalValue:     round2(price * credit.Extracted.Amount),
		Description:    description,
		Status:         model.ListingStatusListed,
	}
	if err := m.listings.CreateTx(ctx, tx, &listing); err != nil {
		return model.Listing{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Listing{}, err
	}
	return listing, nil
}

// Delist removes a listing owned by sellerID and reverts the credit to
// AUTHENTICATED.  The listing row survives as REMOVED.
func (m *MarketplaceService) Delist(ctx context.Context, listingUID string, sellerID uint64) error {
	listing, err := m.listings.GetByUID(ctx, listingUID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrListingNotFound
		}
		return err
	}
	if listing.SellerID != sellerID {
		return ErrNotOwner
	}
	if listing.Status != model.ListingStatusListed {
		return ErrListingNotFound
	}

	tx, err := m.credits.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := m.listings.MarkRemovedTx(ctx, tx, listingUID, sellerID)
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrListingNotFound
	}
	if _, err := m.credits.MarkDelistedTx(ctx, tx, listing.SerialNumber, sellerID); err != nil {
		return err
	}
	return tx.Commit()
}

// Browse returns active listings matching the filters, newest first,
// with the total count for pagination.  Limit is clamped to [1,100]
// with a default of 20; a negative offset becomes 0.
func (m *MarketplaceService) Browse(ctx context.Context, q repository.BrowseQuery) ([]repository.BrowseRow, int64, error) {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return m.listings.Browse(ctx, q)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
