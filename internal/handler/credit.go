// Package handler exposes HTTP handlers for both authenticated and
// public endpoints.  This file covers the credit endpoints: uploading a
// certificate, streaming a stored certificate back out, and listing the
// caller's own credits.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ecoledger/marketplace/internal/authenticator"
	"github.com/ecoledger/marketplace/internal/blobstore"
	"github.com/ecoledger/marketplace/internal/config"
	"github.com/ecoledger/marketplace/internal/model"
	"github.com/ecoledger/marketplace/internal/repository"
	"github.com/ecoledger/marketplace/internal/service"
)

// CreditHandler bundles dependencies for the credit endpoints.
type CreditHandler struct {
	Upload  *service.UploadService
	UploadC config.UploadConfig
	Credits *repository.CreditRepo
	Blobs   *blobstore.Store
}

// creditResp is a credit as returned to its owner.  Statuses are
// lowercased on the wire; the verification payload is passed through
// verbatim when present.
type creditResp struct {
	SerialNumber  string                `json:"serial_number"`
	FileRef       string                `json:"file_ref"`
	Status        string                `json:"status"`
	ExtractedData model.ExtractedFields `json:"extracted_data"`
	Verification  json.RawMessage       `json:"verification,omitempty"`
	UploadedAt    time.Time             `json:"uploaded_at"`
	VerifiedAt    *time.Time            `json:"verified_at,omitempty"`
}

func toCreditResp(c model.Credit) creditResp {
	return creditResp{
		SerialNumber:  c.SerialNumber,
		FileRef:       c.BlobKey,
		Status:        strings.ToLower(c.Status),
		ExtractedData: c.Extracted,
		Verification:  json.RawMessage(c.Verification),
		UploadedAt:    c.UploadedAt,
		VerifiedAt:    c.VerifiedAt,
	}
}

// UploadCertificate accepts a multipart PDF under the field name
// "certificate" and runs the upload pipeline.  On success the response
// acknowledges the accepted record; verification normally completes in
// the background, so the reported status is usually "pending".
func (h *CreditHandler) UploadCertificate(c echo.Context) error {
	uid := CurrentUserID(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_credentials", "message": "unauthorized"})
	}

	fh, err := c.FormFile("certificate")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "no_file", "message": "no certificate uploaded"})
	}
	if fh.Size > h.UploadC.MaxSizeBytes {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "file_too_large", "message": "certificate exceeds the size limit"})
	}

	f, err := fh.Open()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "upload_failed", "message": "could not read upload"})
	}
	defer f.Close()

	// The multipart size header is client-supplied; cap the actual read
	// one byte past the ceiling so oversized bodies are still caught.
	data, err := io.ReadAll(io.LimitReader(f, h.UploadC.MaxSizeBytes+1))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "upload_failed", "message": "could not read upload"})
	}
	if int64(len(data)) > h.UploadC.MaxSizeBytes {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "file_too_large", "message": "certificate exceeds the size limit"})
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	// Upload covers an authenticator round-trip plus two writes; give
	// it more room than a plain DB call.
	ctx, cancel := context.WithTimeout(c.Request().Context(), 60*time.Second)
	defer cancel()

	credit, err := h.Upload.Upload(ctx, uid, fh.Filename, contentType, data)
	if err != nil {
		var dup *service.DuplicateError
		switch {
		case errors.As(err, &dup):
			return c.JSON(http.StatusConflict, echo.Map{
				"error":         "duplicate_serial_number",
				"message":       "this certificate has already been processed",
				"serial_number": dup.Existing.SerialNumber,
				"file_ref":      dup.Existing.BlobKey,
				"status":        strings.ToLower(dup.Existing.Status),
			})
		case errors.Is(err, service.ErrInvalidFileType):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_file_type", "message": "certificate must be a PDF"})
		case errors.Is(err, service.ErrFileTooLarge):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "file_too_large", "message": "certificate exceeds the size limit"})
		case errors.Is(err, service.ErrExtractionFailed):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "extraction_failed", "message": err.Error()})
		case errors.Is(err, authenticator.ErrUnavailable):
			return c.JSON(http.StatusBadGateway, echo.Map{"error": "dependency_timeout", "message": "verification service unreachable; nothing was stored"})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "upload_failed", "message": "upload failed"})
		}
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"serial_number":  credit.SerialNumber,
		"file_ref":       credit.BlobKey,
		"status":         strings.ToLower(credit.Status),
		"extracted_data": credit.Extracted,
	})
}

// ViewCertificate streams a stored certificate PDF inline.  Only the
// owning user and admins may fetch it.  The body is piped straight from
// the blob store; large files are never buffered.
func (h *CreditHandler) ViewCertificate(c echo.Context) error {
	uid := CurrentUserID(c)
	fileRef := c.Param("fileRef")

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	credit, err := h.Credits.GetByBlobKey(ctx, fileRef)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found", "message": "certificate not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal_error", "message": "lookup failed"})
	}
	if credit.OwnerID != uid && CurrentRole(c) != model.RoleAdmin {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not_owner", "message": "not allowed to view this certificate"})
	}

	// The stream itself is not bounded by the lookup timeout.
	blob, _, contentType, err := h.Blobs.Get(c.Request().Context(), credit.BlobKey)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found", "message": "certificate not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal_error", "message": "fetch failed"})
	}
	defer blob.Close()

	if contentType == "" {
		contentType = "application/pdf"
	}
	c.Response().Header().Set("Content-Disposition", `inline; filename="`+credit.OriginalFilename+`"`)
	return c.Stream(http.StatusOK, contentType, blob)
}

// MyCredits lists the caller's credits, newest first.
func (h *CreditHandler) MyCredits(c echo.Context) error {
	uid := CurrentUserID(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_credentials", "message": "unauthorized"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	credits, err := h.Credits.ListByOwner(ctx, uid)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal_error", "message": "query failed"})
	}
	out := make([]creditResp, 0, len(credits))
	for _, cr := range credits {
		out = append(out, toCreditResp(cr))
	}
	return c.JSON(http.StatusOK, echo.Map{"credits": out})
}
