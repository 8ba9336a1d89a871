package handler

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/ecoledger/marketplace/internal/model"
	"github.com/ecoledger/marketplace/internal/repository"
	"github.com/ecoledger/marketplace/internal/service"
)

func newMarketplaceHandlerWithMock(t *testing.T) (*MarketplaceHandler, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	svc := service.NewMarketplaceService(repository.NewCreditRepo(db), repository.NewListingRepo(db))
	return &MarketplaceHandler{Market: svc}, mock, db
}

func emptyBrowseRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"listing_uid", "serial_number", "seller_name", "price_per_credit", "currency",
		"amount", "total_value", "description", "project_name", "vintage", "registry",
		"category", "listed_at",
	})
}

func TestBrowseListings_DefaultsAndEcho(t *testing.T) {
	h, mock, db := newMarketplaceHandlerWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WithArgs(model.ListingStatusListed).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`LIMIT \? OFFSET \?`).
		WithArgs(model.ListingStatusListed, 20, 0).
		WillReturnRows(emptyBrowseRows())

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/marketplace/listings", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, h.BrowseListings(e.NewContext(req, rec)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Listings []repository.BrowseRow `json:"listings"`
		Total    int64                  `json:"total"`
		Limit    int                    `json:"limit"`
		Offset   int                    `json:"offset"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 20, resp.Limit)
	require.Equal(t, 0, resp.Offset)
	require.Empty(t, resp.Listings)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBrowseListings_FiltersPassedThrough(t *testing.T) {
	h, mock, db := newMarketplaceHandlerWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WithArgs(model.ListingStatusListed, "%forestry%", "2021", 5.0, 50.0).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`LIMIT \? OFFSET \?`).
		WithArgs(model.ListingStatusListed, "%forestry%", "2021", 5.0, 50.0, 10, 10).
		WillReturnRows(emptyBrowseRows().
			AddRow("uid-1", "S-1", "Alice", 12.5, "USD", 50.0, 625.0, "", "Kasigau", "2021", "Verra", "Forestry", "2026-08-30 09:00:00"))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet,
		"/v1/marketplace/listings?category=Forestry&vintage=2021&minPrice=5&maxPrice=50&limit=10&offset=10", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, h.BrowseListings(e.NewContext(req, rec)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Listings []repository.BrowseRow `json:"listings"`
		Total    int64                  `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, int64(1), resp.Total)
	require.Len(t, resp.Listings, 1)
	require.Equal(t, "Alice", resp.Listings[0].SellerName)
}

func TestCreateListing_RequiresAuth(t *testing.T) {
	h, _, db := newMarketplaceHandlerWithMock(t)
	defer db.Close()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/marketplace/list", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, h.CreateListing(e.NewContext(req, rec)))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateListing_MissingSerial(t *testing.T) {
	h, _, db := newMarketplaceHandlerWithMock(t)
	defer db.Close()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/marketplace/list",
		strings.NewReader(`{"price_per_credit": 10}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("user_id", float64(7))

	require.NoError(t, h.CreateListing(c))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "missing_fields", body["error"])
}

func TestDeleteListing_NotFound(t *testing.T) {
	h, mock, db := newMarketplaceHandlerWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM listings WHERE listing_uid=\?`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	e := echo.New()
	req := httptest.NewRequest(http.MethodDelete, "/v1/marketplace/listings/ghost", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("ghost")
	c.Set("user_id", float64(7))

	require.NoError(t, h.DeleteListing(c))
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "not_found", body["error"])
}
