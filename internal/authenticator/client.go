// Package authenticator is the HTTP client for the external
// certificate verification service.  The service parses an uploaded
// PDF, assigns the canonical serial number, extracts the structured
// credit fields and cross-checks the project against the carbon
// registry.  It is an opaque dependency: this client only speaks its
// wire contract and never interprets the registry payload.
package authenticator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/ecoledger/marketplace/internal/config"
	"github.com/ecoledger/marketplace/internal/model"
)

// ErrUnavailable is returned when the verification service cannot be
// reached, times out, or answers with a 5xx.  Callers map it to the
// dependency-failure branch of the error taxonomy; an upload that hits
// it has stored nothing.
var ErrUnavailable = errors.New("authenticator unavailable")

// Result is the decoded verification response.  Status mirrors the
// service's own vocabulary: "authenticated", "unauthenticated",
// "extraction_failed", "missing_fields", "duplicate" or "error".
// CarbonmarkDetails is kept as raw JSON; the marketplace persists it
// verbatim as the verification payload.
type Result struct {
	Success           bool            `json:"success"`
	Status            string          `json:"status"`
	Message           string          `json:"message"`
	Authenticated     bool            `json:"authenticated"`
	SerialNumber      string          `json:"serial_number"`
	Extracted         extractedData   `json:"extracted_data"`
	CarbonmarkDetails json.RawMessage `json:"carbonmark_details"`
	FileHash          string          `json:"file_hash"`
}

// extractedData mirrors the service's extracted_data object.  The
// serial number rides inside it as well as at the top level; the top
// level wins when both are present but older service builds only set
// the nested field.
type extractedData struct {
	SerialNumber string  `json:"serial_number"`
	ProjectID    string  `json:"project_id"`
	ProjectName  string  `json:"project_name"`
	Vintage      string  `json:"vintage"`
	Amount       float64 `json:"amount"`
	IssuanceDate string  `json:"issuance_date"`
	Registry     string  `json:"registry"`
	Category     string  `json:"category"`
	IssuedTo     string  `json:"issued_to"`
}

// Serial returns the serial number from whichever field the service
// populated, or "" when extraction found none.
func (r *Result) Serial() string {
	if r.SerialNumber != "" {
		return r.SerialNumber
	}
	return r.Extracted.SerialNumber
}

// Fields converts the decoded extraction into the model type stored on
// the credit record.
func (r *Result) Fields() model.ExtractedFields {
	return model.ExtractedFields{
		ProjectID:    r.Extracted.ProjectID,
		ProjectName:  r.Extracted.ProjectName,
		Vintage:      r.Extracted.Vintage,
		Amount:       r.Extracted.Amount,
		IssuanceDate: r.Extracted.IssuanceDate,
		Registry:     r.Extracted.Registry,
		Category:     r.Extracted.Category,
		IssuedTo:     r.Extracted.IssuedTo,
	}
}

// Client calls the verification service with a bounded timeout.
type Client struct {
	base string
	http *http.Client
}

// New builds a Client from config.
func New(cfg config.AuthenticatorConfig) *Client {
	return &Client{
		base: cfg.BaseURL,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Authenticate posts the certificate to the verification endpoint as a
// multipart form (field name "certificate") and decodes the result.
// Both 200 and 400 replies carry the same JSON envelope, so a decoded
// rejection (e.g. extraction_failed) comes back as a Result, not an
// error; errors are reserved for transport and 5xx failures.
func (c *Client) Authenticate(ctx context.Context, filename string, r io.Reader) (*Result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("certificate", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/credits/authenticate", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: bad response: %v", ErrUnavailable, err)
	}
	return &out, nil
}

// Health pings the verification service's health endpoint.  Used by
// /healthz to report whether verification is currently possible.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}
