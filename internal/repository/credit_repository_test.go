package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ecoledger/marketplace/internal/model"
)

func newCreditRepoWithMock(t *testing.T) (*CreditRepo, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewCreditRepo(db), mock, db
}

func sampleCredit() model.Credit {
	return model.Credit{
		SerialNumber:     "VCS-1234-2021-0001",
		OwnerID:          7,
		BlobKey:          "20260901-abc",
		BlobSHA256:       "deadbeef",
		SizeBytes:        2048,
		OriginalFilename: "cert.pdf",
		Status:           model.CreditStatusPending,
		Extracted: model.ExtractedFields{
			ProjectID:    "1234",
			ProjectName:  "Kasigau Corridor REDD+",
			Vintage:      "2021",
			Amount:       50,
			IssuanceDate: "2021-06-01",
			Registry:     "Verra",
			Category:     "Forestry",
			IssuedTo:     "Acme Corp",
		},
	}
}

func creditRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "serial_number", "owner_id", "blob_key", "blob_sha256", "size_bytes",
		"original_filename", "status", "project_id", "project_name", "vintage", "amount",
		"issuance_date", "registry", "category", "issued_to", "verification", "uploaded_at",
		"verified_at", "updated_at",
	})
}

func TestCreditInsert_Success(t *testing.T) {
	repo, mock, db := newCreditRepoWithMock(t)
	defer db.Close()

	c := sampleCredit()
	mock.ExpectExec(`INSERT INTO credits`).
		WithArgs(c.SerialNumber, c.OwnerID, c.BlobKey, c.BlobSHA256, c.SizeBytes,
			c.OriginalFilename, c.Status, c.Extracted.ProjectID, c.Extracted.ProjectName,
			c.Extracted.Vintage, c.Extracted.Amount, c.Extracted.IssuanceDate,
			c.Extracted.Registry, c.Extracted.Category, c.Extracted.IssuedTo).
		WillReturnResult(sqlmock.NewResult(42, 1))

	if err := repo.Insert(context.Background(), &c); err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	if c.ID != 42 {
		t.Fatalf("expected ID 42, got %d", c.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCreditInsert_DuplicateSerial(t *testing.T) {
	repo, mock, db := newCreditRepoWithMock(t)
	defer db.Close()

	c := sampleCredit()
	mock.ExpectExec(`INSERT INTO credits`).
		WillReturnError(errors.New("Error 1062 (23000): Duplicate entry 'VCS-1234-2021-0001' for key 'credits.serial_number'"))

	err := repo.Insert(context.Background(), &c)
	if !errors.Is(err, ErrDuplicateSerial) {
		t.Fatalf("expected ErrDuplicateSerial, got %v", err)
	}
}

func TestGetBySerial_Found(t *testing.T) {
	repo, mock, db := newCreditRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	rows := creditRows().AddRow(
		uint64(1), "VCS-1234-2021-0001", uint64(7), "20260901-abc", "deadbeef", int64(2048),
		"cert.pdf", model.CreditStatusAuthenticated, "1234", "Kasigau Corridor REDD+", "2021", 50.0,
		"2021-06-01", "Verra", "Forestry", "Acme Corp", `{"authenticated":true}`, now,
		now, now,
	)
	mock.ExpectQuery(`SELECT .+ FROM credits WHERE serial_number=\?`).
		WithArgs("VCS-1234-2021-0001").
		WillReturnRows(rows)

	got, err := repo.GetBySerial(context.Background(), "VCS-1234-2021-0001")
	if err != nil {
		t.Fatalf("GetBySerial error: %v", err)
	}
	if got.Status != model.CreditStatusAuthenticated {
		t.Fatalf("unexpected status %q", got.Status)
	}
	if got.VerifiedAt == nil {
		t.Fatal("expected VerifiedAt to be set")
	}
	if string(got.Verification) != `{"authenticated":true}` {
		t.Fatalf("unexpected verification payload %s", got.Verification)
	}
}

func TestGetBySerial_NotFound(t *testing.T) {
	repo, mock, db := newCreditRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM credits WHERE serial_number=\?`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetBySerial(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListByOwner_Empty(t *testing.T) {
	repo, mock, db := newCreditRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM credits WHERE owner_id=\?`).
		WithArgs(uint64(9)).
		WillReturnRows(creditRows())

	got, err := repo.ListByOwner(context.Background(), 9)
	if err != nil {
		t.Fatalf("ListByOwner error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no credits, got %d", len(got))
	}
}

func TestUpdateStatusFromPending_Applies(t *testing.T) {
	repo, mock, db := newCreditRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE credits SET status=\?, verification=\?, verified_at=NOW\(\)`).
		WithArgs(model.CreditStatusAuthenticated, []byte(`{"ok":true}`), "S-1", model.CreditStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := repo.UpdateStatusFromPending(context.Background(), "S-1", model.CreditStatusAuthenticated, []byte(`{"ok":true}`))
	if err != nil {
		t.Fatalf("UpdateStatusFromPending error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row affected, got %d", n)
	}
}

// A redelivered verification event finds the row already settled and
// must not touch it.
func TestUpdateStatusFromPending_AlreadySettled(t *testing.T) {
	repo, mock, db := newCreditRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE credits SET status=\?, verification=\?, verified_at=NOW\(\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := repo.UpdateStatusFromPending(context.Background(), "S-1", model.CreditStatusAuthenticated, nil)
	if err != nil {
		t.Fatalf("UpdateStatusFromPending error: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 rows affected, got %d", n)
	}
}

func TestMarkListedTx_GuardsStatusAndOwner(t *testing.T) {
	repo, mock, db := newCreditRepoWithMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE credits SET status=\? WHERE serial_number=\? AND owner_id=\? AND status=\?`).
		WithArgs(model.CreditStatusListed, "S-1", uint64(7), model.CreditStatusAuthenticated).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tx, err := repo.BeginTx(context.Background())
	if err != nil {
		t.Fatalf("BeginTx error: %v", err)
	}
	n, err := repo.MarkListedTx(context.Background(), tx, "S-1", 7)
	if err != nil {
		t.Fatalf("MarkListedTx error: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 rows affected for unlistable credit, got %d", n)
	}
	_ = tx.Rollback()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
