package model

import "time"

// Listing status values.  A listing is never deleted; delisting flips
// it to REMOVED so that the row remains as an audit trail.
const (
    ListingStatusListed  = "LISTED"
    ListingStatusRemoved = "REMOVED"
)

// Listing mirrors the `listings` table.  A listing is a
// marketplace-visible offer to sell one authenticated credit.  The
// credit is referenced by serial number, the system's canonical credit
// identifier.  UID is the public identifier used in API paths so the
// surrogate primary key never leaks.
//
// Fields:
//  ID             – surrogate primary key.
//  UID            – public UUID identifier.
//  SerialNumber   – credit being offered (credits.serial_number).
//  SellerID       – owner of the credit at list time.
//  PricePerCredit – asking price per credit.
//  Currency       – ISO currency code, defaults to USD.
//  Amount         – credit volume in tonnes CO2e, copied from the
//                   credit at list time.
//  TotalValue     – PricePerCredit * Amount, computed at list time.
//  Description    – free-text seller description.
//  Status         – LISTED or REMOVED.
//  ListedAt       – when the listing was created.
//  RemovedAt      – when it was delisted (nullable).
type Listing struct {
    ID             uint64     // listings.id
    UID            string     // listings.listing_uid
    SerialNumber   string     // listings.serial_number
    SellerID       uint64     // listings.seller_id
    PricePerCredit float64    // listings.price_per_credit
    Currency       string     // listings.currency
    Amount         float64    // listings.amount
    TotalValue     float64    // listings.total_value
    Description    string     // listings.description
    Status         string     // listings.status
    ListedAt       time.Time  // listings.listed_at
    RemovedAt      *time.Time // listings.removed_at (nullable)
}
