package repository

import (
	"context"
	"database/sql"

	"github.com/ecoledger/marketplace/internal/model"
)

// CreditRepo provides persistence for credit metadata records.  The
// raw certificate bytes live in the blob store; a credit row only
// references them through the opaque blob key.  The serial number
// carries a UNIQUE index, which is what actually enforces the
// one-record-per-certificate invariant: an application-level duplicate
// check alone would race between concurrent uploads of the same file.
type CreditRepo struct{ db *sql.DB }

// NewCreditRepo returns a CreditRepo bound to the given database.
func NewCreditRepo(db *sql.DB) *CreditRepo { return &CreditRepo{db: db} }

const creditColumns = `id, serial_number, owner_id, blob_key, blob_sha256, size_bytes,
	original_filename, status, project_id, project_name, vintage, amount,
	issuance_date, registry, category, issued_to, verification, uploaded_at,
	verified_at, updated_at`

// Insert stores a new credit row.  The caller supplies status (always
// PENDING from the upload pipeline) and the extracted fields; ID is
// populated from the insert.  Returns ErrDuplicateSerial when the
// unique key on serial_number rejects the row.
func (r *CreditRepo) Insert(ctx context.Context, c *model.Credit) error {
	const q = `INSERT INTO credits
		(serial_number, owner_id, blob_key, blob_sha256, size_bytes, original_filename,
		 status, project_id, project_name, vintage, amount, issuance_date, registry,
		 category, issued_to)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`
	res, err := r.db.ExecContext(ctx, q,
		c.SerialNumber, c.OwnerID, c.BlobKey, c.BlobSHA256, c.SizeBytes, c.OriginalFilename,
		c.Status, c.Extracted.ProjectID, c.Extracted.ProjectName, c.Extracted.Vintage,
		c.Extracted.Amount, c.Extracted.IssuanceDate, c.Extracted.Registry,
		c.Extracted.Category, c.Extracted.IssuedTo)
	if err != nil {
		if duplicateKey(err) {
			return ErrDuplicateSerial
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = uint64(id)
	return nil
}

// GetBySerial fetches one credit by its serial number.
func (r *CreditRepo) GetBySerial(ctx context.Context, serial string) (model.Credit, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+creditColumns+` FROM credits WHERE serial_number=? LIMIT 1`, serial)
	return scanCredit(row)
}

// GetByBlobKey fetches the credit referencing a stored blob.  Used by
// the certificate view endpoint, whose URLs carry the opaque file ref.
func (r *CreditRepo) GetByBlobKey(ctx context.Context, key string) (model.Credit, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+creditColumns+` FROM credits WHERE blob_key=? LIMIT 1`, key)
	return scanCredit(row)
}

// ListByOwner returns all credits owned by a user, newest first.
func (r *CreditRepo) ListByOwner(ctx context.Context, ownerID uint64) ([]model.Credit, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+creditColumns+` FROM credits WHERE owner_id=? ORDER BY uploaded_at DESC, id DESC`,
		ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Credit
	for rows.Next() {
		c, err := scanCredit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateStatusFromPending moves a credit out of PENDING and records the
// verification payload.  Only rows currently PENDING are touched, so a
// redelivered verification event finds zero rows and becomes a no-op,
// and a row that was never inserted is never created here.  Returns the
// number of rows affected.
func (r *CreditRepo) UpdateStatusFromPending(ctx context.Context, serial, status string, verification []byte) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE credits SET status=?, verification=?, verified_at=NOW()
		 WHERE serial_number=? AND status=?`,
		status, verification, serial, model.CreditStatusPending)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkListedTx flips an AUTHENTICATED credit to LISTED inside the
// caller's transaction.  Ownership and current status are part of the
// WHERE clause: 0 rows affected means the credit is missing, not owned
// by sellerID, or not currently listable.  The row is never created.
func (r *CreditRepo) MarkListedTx(ctx context.Context, tx *sql.Tx, serial string, sellerID uint64) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE credits SET status=? WHERE serial_number=? AND owner_id=? AND status=?`,
		model.CreditStatusListed, serial, sellerID, model.CreditStatusAuthenticated)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkDelistedTx reverts a LISTED credit to AUTHENTICATED inside the
// caller's transaction.  Same guarded-update contract as MarkListedTx.
func (r *CreditRepo) MarkDelistedTx(ctx context.Context, tx *sql.Tx, serial string, sellerID uint64) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE credits SET status=? WHERE serial_number=? AND owner_id=? AND status=?`,
		model.CreditStatusAuthenticated, serial, sellerID, model.CreditStatusListed)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// BeginTx starts a transaction on the underlying pool so the
// marketplace service can update a credit and its listing atomically.
func (r *CreditRepo) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return r.db.BeginTx(ctx, nil)
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredit(row rowScanner) (model.Credit, error) {
	var (
		c            model.Credit
		verification sql.NullString
		verifiedAt   sql.NullTime
	)
	err := row.Scan(
		&c.ID, &c.SerialNumber, &c.OwnerID, &c.BlobKey, &c.BlobSHA256, &c.SizeBytes,
		&c.OriginalFilename, &c.Status,
		&c.Extracted.ProjectID, &c.Extracted.ProjectName, &c.Extracted.Vintage,
		&c.Extracted.Amount, &c.Extracted.IssuanceDate, &c.Extracted.Registry,
		&c.Extracted.Category, &c.Extracted.IssuedTo,
		&verification, &c.UploadedAt, &verifiedAt, &c.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Credit{}, ErrNotFound
		}
		return model.Credit{}, err
	}
	if verification.Valid {
		c.Verification = []byte(verification.String)
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		c.VerifiedAt = &t
	}
	return c, nil
}
