package model

import "time"

// Credit status values form the lifecycle of an uploaded certificate.
// A credit is created PENDING the moment its file is accepted and a
// serial number has been extracted.  The verification leg moves it to
// AUTHENTICATED or UNAUTHENTICATED.  Only AUTHENTICATED credits may be
// listed, and delisting returns them to AUTHENTICATED.  UNAUTHENTICATED
// is terminal; the owner must upload a fresh certificate.
const (
    CreditStatusPending         = "PENDING"
    CreditStatusAuthenticated   = "AUTHENTICATED"
    CreditStatusUnauthenticated = "UNAUTHENTICATED"
    CreditStatusListed          = "LISTED"
)

// Credit mirrors the `credits` table.  The serial number is assigned by
// the external authenticator, never by a client, and carries a UNIQUE
// key so that a second upload of the same certificate is rejected at
// the database rather than overwriting the first record.
//
// Fields:
//  ID               – surrogate primary key (internal only; APIs key on
//                     SerialNumber).
//  SerialNumber     – authenticator-assigned unique identifier.
//  OwnerID          – user who uploaded the certificate.
//  BlobKey          – opaque object-store key of the stored PDF.
//  BlobSHA256       – hex digest of the stored bytes.
//  SizeBytes        – size of the stored PDF.
//  OriginalFilename – filename as uploaded.
//  Status           – PENDING, AUTHENTICATED, UNAUTHENTICATED or LISTED.
//  Extracted        – structured fields parsed from the certificate.
//  Verification     – raw JSON verification payload from the
//                     authenticator, or a diagnostic payload when the
//                     verification leg failed (nullable).
//  UploadedAt       – when the upload was accepted.
//  VerifiedAt       – when the verification leg completed (nullable).
//  UpdatedAt        – timestamp of last update.
type Credit struct {
    ID               uint64          // credits.id
    SerialNumber     string          // credits.serial_number
    OwnerID          uint64          // credits.owner_id
    BlobKey          string          // credits.blob_key
    BlobSHA256       string          // credits.blob_sha256
    SizeBytes        int64           // credits.size_bytes
    OriginalFilename string          // credits.original_filename
    Status           string          // credits.status
    Extracted        ExtractedFields // credits.project_id .. credits.issued_to
    Verification     []byte          // credits.verification (nullable JSON)
    UploadedAt       time.Time       // credits.uploaded_at
    VerifiedAt       *time.Time      // credits.verified_at (nullable)
    UpdatedAt        time.Time       // credits.updated_at
}

// ExtractedFields holds the structured data the authenticator parses out
// of a certificate PDF.  Field names follow the authenticator's
// extracted_data payload.  Amount is tonnes of CO2e.
type ExtractedFields struct {
    ProjectID    string  `json:"project_id"`
    ProjectName  string  `json:"project_name"`
    Vintage      string  `json:"vintage"`
    Amount       float64 `json:"amount"`
    IssuanceDate string  `json:"issuance_date"`
    Registry     string  `json:"registry"`
    Category     string  `json:"category"`
    IssuedTo     string  `json:"issued_to"`
}
