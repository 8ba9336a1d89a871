// Package service implements the business operations of the
// marketplace: the certificate upload pipeline and listing management.
// Handlers stay thin and translate the errors defined here into HTTP
// responses.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/ecoledger/marketplace/internal/authenticator"
	"github.com/ecoledger/marketplace/internal/blobstore"
	"github.com/ecoledger/marketplace/internal/config"
	"github.com/ecoledger/marketplace/internal/model"
	"github.com/ecoledger/marketplace/internal/queue"
	"github.com/ecoledger/marketplace/internal/repository"
)

// Upload pipeline failures.  Everything here happens before any state
// is committed, except ErrDuplicate which reports already-committed
// state from an earlier upload.
var (
	ErrInvalidFileType  = errors.New("certificate must be a PDF")
	ErrFileTooLarge     = errors.New("certificate exceeds the size limit")
	ErrExtractionFailed = errors.New("no serial number could be extracted")
)

// DuplicateError reports that a certificate with the same serial number
// was already processed.  It carries the existing record so the API can
// point the caller at it instead of re-storing anything.
type DuplicateError struct {
	Existing model.Credit
}

func (e *DuplicateError) Error() string {
	return "certificate already processed: " + e.Existing.SerialNumber
}

// BlobStore is the slice of the blob store the pipeline needs.
type BlobStore interface {
	Put(ctx context.Context, data []byte, contentType string) (blobstore.Ref, error)
	Delete(ctx context.Context, key string) error
}

// Verifier is the slice of the authenticator client the pipeline needs.
type Verifier interface {
	Authenticate(ctx context.Context, filename string, r io.Reader) (*authenticator.Result, error)
}

// CreditStore is the slice of the credit repository the pipeline needs.
type CreditStore interface {
	Insert(ctx context.Context, c *model.Credit) error
	GetBySerial(ctx context.Context, serial string) (model.Credit, error)
	UpdateStatusFromPending(ctx context.Context, serial, status string, verification []byte) (int64, error)
}

// VerifyPublisher enqueues the background verification leg.
type VerifyPublisher interface {
	Publish(ctx context.Context, ev queue.CreditVerifyEvent) error
}

// UploadService turns one uploaded file into a durable credit record.
// Validation and extraction commit nothing; only after the duplicate
// check passes are the blob and the metadata row written, in that
// order, and a failed metadata insert deletes the just-written blob so
// no record ever points at an uncommitted object and no object
// outlives a rejected upload.
type UploadService struct {
	cfg     config.UploadConfig
	blobs   BlobStore
	auth    Verifier
	credits CreditStore
	verifyQ VerifyPublisher
}

// NewUploadService wires the pipeline's dependencies.
func NewUploadService(cfg config.UploadConfig, blobs BlobStore, auth Verifier, credits CreditStore, verifyQ VerifyPublisher) *UploadService {
	return &UploadService{cfg: cfg, blobs: blobs, auth: auth, credits: credits, verifyQ: verifyQ}
}

// Upload runs the pipeline for one certificate.  On success the
// returned credit is normally PENDING; when the verification queue is
// unreachable the verification decision we already hold is applied
// synchronously instead, so the record is never silently stranded.
func (s *UploadService) Upload(ctx context.Context, ownerID uint64, filename, contentType string, data []byte) (model.Credit, error) {
	if !strings.HasPrefix(strings.ToLower(contentType), "application/pdf") {
		return model.Credit{}, ErrInvalidFileType
	}
	if int64(len(data)) > s.cfg.MaxSizeBytes {
		return model.Credit{}, ErrFileTooLarge
	}

	// Synchronous extraction round-trip.  A credit is never created
	// without its primary identifier.
	res, err := s.auth.Authenticate(ctx, filename, bytes.NewReader(data))
	if err != nil {
		return model.Credit{}, err
	}
	serial := res.Serial()
	if serial == "" {
		if res.Message != "" {
			return model.Credit{}, fmt.Errorf("%w: %s", ErrExtractionFailed, res.Message)
		}
		return model.Credit{}, ErrExtractionFailed
	}

	// Cheap pre-check; the unique index closes the race below.
	if existing, err := s.credits.GetBySerial(ctx, serial); err == nil {
		return model.Credit{}, &DuplicateError{Existing: existing}
	} else if !errors.Is(err, repository.ErrNotFound) {
		return model.Credit{}, err
	}

	ref, err := s.blobs.Put(ctx, data, contentType)
	if err != nil {
		return model.Credit{}, err
	}

	credit := model.Credit{
		SerialNumber:     serial,
		OwnerID:          ownerID,
		BlobKey:          ref.Key,
		BlobSHA256:       ref.SHA256,
		SizeBytes:        ref.Size,
		OriginalFilename: filename,
		Status:           model.CreditStatusPending,
		Extracted:        res.Fields(),
	}
	if err := s.credits.Insert(ctx, &credit); err != nil {
		// Undo the blob so nothing orphaned remains.  Delete is
		// idempotent, so a crash between Put and here is recoverable
		// by a bucket sweep without special cases.
		if delErr := s.blobs.Delete(ctx, ref.Key); delErr != nil {
			log.Printf("upload: orphan blob cleanup failed for %s: %v", ref.Key, delErr)
		}
		if errors.Is(err, repository.ErrDuplicateSerial) {
			existing, getErr := s.credits.GetBySerial(ctx, serial)
			if getErr != nil {
				return model.Credit{}, err
			}
			return model.Credit{}, &DuplicateError{Existing: existing}
		}
		return model.Credit{}, err
	}

	ev := queue.CreditVerifyEvent{
		SerialNumber: credit.SerialNumber,
		BlobKey:      credit.BlobKey,
		Filename:     credit.OriginalFilename,
		OwnerID:      credit.OwnerID,
	}
	if err := s.verifyQ.Publish(ctx, ev); err != nil {
		log.Printf("upload: verify publish failed for %s, applying inline result: %v", serial, err)
		credit.Status = s.applyInlineVerification(ctx, serial, res)
	}
	return credit, nil
}

// applyInlineVerification settles a PENDING credit using the
// authentication result obtained during extraction.  Used only when the
// queue is down; keeps the one-attempt-per-upload contract since no
// second authenticator call is made.
func (s *UploadService) applyInlineVerification(ctx context.Context, serial string, res *authenticator.Result) string {
	status := model.CreditStatusUnauthenticated
	if res.Authenticated {
		status = model.CreditStatusAuthenticated
	}
	payload, err := json.Marshal(res)
	if err != nil {
		payload = nil
	}
	if _, err := s.credits.UpdateStatusFromPending(ctx, serial, status, payload); err != nil {
		log.Printf("upload: inline status update failed for %s: %v", serial, err)
		return model.CreditStatusPending
	}
	return status
}
