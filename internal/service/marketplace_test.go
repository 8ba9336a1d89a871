package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/ecoledger/marketplace/internal/model"
	"github.com/ecoledger/marketplace/internal/repository"
)

func newMarketWithMock(t *testing.T) (*MarketplaceService, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	svc := NewMarketplaceService(repository.NewCreditRepo(db), repository.NewListingRepo(db))
	return svc, mock, db
}

func creditRow(status string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "serial_number", "owner_id", "blob_key", "blob_sha256", "size_bytes",
		"original_filename", "status", "project_id", "project_name", "vintage", "amount",
		"issuance_date", "registry", "category", "issued_to", "verification", "uploaded_at",
		"verified_at", "updated_at",
	}).AddRow(
		uint64(1), "S-1", uint64(7), "blob-key", "deadbeef", int64(2048),
		"cert.pdf", status, "1234", "Kasigau", "2021", 50.0,
		"2021-06-01", "Verra", "Forestry", "Acme", nil, now,
		nil, now,
	)
}

func TestList_Success(t *testing.T) {
	svc, mock, db := newMarketWithMock(t)
	defer db.Close()

	listedAt := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM credits WHERE serial_number=\?`).
		WithArgs("S-1").
		WillReturnRows(creditRow(model.CreditStatusAuthenticated))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE credits SET status=\?`).
		WithArgs(model.CreditStatusListed, "S-1", uint64(7), model.CreditStatusAuthenticated).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO listings`).
		WithArgs(sqlmock.AnyArg(), "S-1", uint64(7), 12.5, "USD", 50.0, 625.0, "bulk sale", model.ListingStatusListed).
		WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectQuery(`SELECT listed_at FROM listings`).
		WithArgs(uint64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"listed_at"}).AddRow(listedAt))
	mock.ExpectCommit()

	listing, err := svc.List(context.Background(), "S-1", 7, 12.5, "", "bulk sale")
	require.NoError(t, err)
	require.NotEmpty(t, listing.UID)
	require.Equal(t, "USD", listing.Currency)
	require.Equal(t, 50.0, listing.Amount)
	require.Equal(t, 625.0, listing.TotalValue)
	require.Equal(t, model.ListingStatusListed, listing.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestList_RejectsNonPositivePrice(t *testing.T) {
	svc, _, db := newMarketWithMock(t)
	defer db.Close()

	_, err := svc.List(context.Background(), "S-1", 7, 0, "USD", "")
	require.ErrorIs(t, err, ErrInvalidPrice)
}

func TestList_UnknownSerial(t *testing.T) {
	svc, mock, db := newMarketWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM credits WHERE serial_number=\?`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := svc.List(context.Background(), "missing", 7, 10, "USD", "")
	require.ErrorIs(t, err, ErrCreditNotFound)
}

func TestList_NotOwner(t *testing.T) {
	svc, mock, db := newMarketWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM credits WHERE serial_number=\?`).
		WithArgs("S-1").
		WillReturnRows(creditRow(model.CreditStatusAuthenticated))

	_, err := svc.List(context.Background(), "S-1", 99, 10, "USD", "")
	require.ErrorIs(t, err, ErrNotOwner)
}

func TestList_PendingCredit(t *testing.T) {
	svc, mock, db := newMarketWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM credits WHERE serial_number=\?`).
		WithArgs("S-1").
		WillReturnRows(creditRow(model.CreditStatusPending))

	_, err := svc.List(context.Background(), "S-1", 7, 10, "USD", "")
	require.ErrorIs(t, err, ErrNotAuthenticated)
}

// The pre-check can pass and the guarded update still match nothing
// when a concurrent request lists the credit first.  The transaction
// must roll back and no listing row may be written.
func TestList_LosesConcurrentFlip(t *testing.T) {
	svc, mock, db := newMarketWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM credits WHERE serial_number=\?`).
		WithArgs("S-1").
		WillReturnRows(creditRow(model.CreditStatusAuthenticated))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE credits SET status=\?`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := svc.List(context.Background(), "S-1", 7, 10, "USD", "")
	require.ErrorIs(t, err, ErrNotAuthenticated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func listingRow(status string, sellerID uint64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "listing_uid", "serial_number", "seller_id", "price_per_credit", "currency",
		"amount", "total_value", "description", "status", "listed_at", "removed_at",
	}).AddRow(
		uint64(3), "uid-1", "S-1", sellerID, 12.5, "USD",
		50.0, 625.0, "bulk sale", status, time.Now(), nil,
	)
}

func TestDelist_Success(t *testing.T) {
	svc, mock, db := newMarketWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM listings WHERE listing_uid=\?`).
		WithArgs("uid-1").
		WillReturnRows(listingRow(model.ListingStatusListed, 7))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE listings SET status=\?, removed_at=NOW\(\)`).
		WithArgs(model.ListingStatusRemoved, "uid-1", uint64(7), model.ListingStatusListed).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE credits SET status=\?`).
		WithArgs(model.CreditStatusAuthenticated, "S-1", uint64(7), model.CreditStatusListed).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, svc.Delist(context.Background(), "uid-1", 7))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDelist_NotOwner(t *testing.T) {
	svc, mock, db := newMarketWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM listings WHERE listing_uid=\?`).
		WithArgs("uid-1").
		WillReturnRows(listingRow(model.ListingStatusListed, 7))

	require.ErrorIs(t, svc.Delist(context.Background(), "uid-1", 99), ErrNotOwner)
}

func TestDelist_AlreadyRemoved(t *testing.T) {
	svc, mock, db := newMarketWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM listings WHERE listing_uid=\?`).
		WithArgs("uid-1").
		WillReturnRows(listingRow(model.ListingStatusRemoved, 7))

	require.ErrorIs(t, svc.Delist(context.Background(), "uid-1", 7), ErrListingNotFound)
}

func TestBrowse_ClampsLimit(t *testing.T) {
	svc, mock, db := newMarketWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`LIMIT \? OFFSET \?`).
		WithArgs(model.ListingStatusListed, 100, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"listing_uid", "serial_number", "seller_name", "price_per_credit", "currency",
			"amount", "total_value", "description", "project_name", "vintage", "registry",
			"category", "listed_at",
		}))

	_, _, err := svc.Browse(context.Background(), repository.BrowseQuery{Limit: 500, Offset: -3})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRound2(t *testing.T) {
	require.Equal(t, 625.0, round2(12.5*50))
	require.Equal(t, 0.3, round2(0.1+0.2))
	require.Equal(t, 33.33, round2(33.3333))
}
