package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/ecoledger/marketplace/internal/model"
)

// ListingRepo provides CRUD operations for marketplace listings.
// Listings are append-only from the database's point of view: delisting
// flips status to REMOVED and stamps removed_at, keeping the row as an
// audit trail.  All timestamp fields are assumed to be stored in UTC.
type ListingRepo struct {
	db *sql.DB
}

// NewListingRepo returns a new ListingRepo bound to the given database.
func NewListingRepo(db *sql.DB) *ListingRepo { return &ListingRepo{db: db} }

// CreateTx inserts a new listing within the scope of an existing
// transaction.  It populates the generated ID on the provided record
// and queries back the timestamps.  The caller must commit or rollback
// the transaction; the marketplace service pairs this insert with the
// guarded credit status flip so both land or neither does.
func (r *ListingRepo) CreateTx(ctx context.Context, tx *sql.Tx, l *model.Listing) error {
	const q = `INSERT INTO listings
		(listing_uid, serial_number, seller_id, price_per_credit, currency, amount,
		 total_value, description, status)
		VALUES (?,?,?,?,?,?,?,?,?)`
	result, err := tx.ExecContext(ctx, q,
		l.UID, l.SerialNumber, l.SellerID, l.PricePerCredit, l.Currency, l.Amount,
		l.TotalValue, l.Description, l.Status)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	l.ID = uint64(id)
	// Query back the row to populate timestamps and defaults
	const sel = `SELECT listed_at FROM listings WHERE id = ?`
	return tx.QueryRowContext(ctx, sel, l.ID).Scan(&l.ListedAt)
}

// GetByUID fetches one listing by its public identifier.
func (r *ListingRepo) GetByUID(ctx context.Context, uid string) (model.Listing, error) {
	var (
		l         model.Listing
		removedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, listing_uid, serial_number, seller_id, price_per_credit, currency,
		        amount, total_value, description, status, listed_at, removed_at
		 FROM listings WHERE listing_uid=? LIMIT 1`, uid).
		Scan(&l.ID, &l.UID, &l.SerialNumber, &l.SellerID, &l.PricePerCredit, &l.Currency,
			&l.Amount, &l.TotalValue, &l.Description, &l.Status, &l.ListedAt, &removedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Listing{}, ErrNotFound
		}
		return model.Listing{}, err
	}
	if removedAt.Valid {
		t := removedAt.Time
		l.RemovedAt = &t
	}
	return l, nil
}

// MarkRemovedTx flips a LISTED listing to REMOVED inside the caller's
// transaction.  Ownership and current status sit in the WHERE clause;
// 0 rows affected means not found, not the seller's, or already
// removed.
func (r *ListingRepo) MarkRemovedTx(ctx context.Context, tx *sql.Tx, uid string, sellerID uint64) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE listings SET status=?, removed_at=NOW()
		 WHERE listing_uid=? AND seller_id=? AND status=?`,
		model.ListingStatusRemoved, uid, sellerID, model.ListingStatusListed)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// BrowseQuery defines filters & pagination for browsing listings.
// MinPrice/MaxPrice apply only when > 0 (listing prices are strictly
// positive).  Limit/Offset are assumed already normalized by the
// caller.
type BrowseQuery struct {
	Category string
	Vintage  string
	Registry string
	Search   string
	MinPrice float64
	MaxPrice float64
	Limit    int
	Offset   int
}

// BrowseRow is a marketplace listing joined with its credit's extracted
// fields and the seller's display name, shaped for the public browse
// response.
type BrowseRow struct {
	UID            string  `json:"listing_id"`
	SerialNumber   string  `json:"serial_number"`
	SellerName     string  `json:"seller_name"`
	PricePerCredit float64 `json:"price_per_credit"`
	Currency       string  `json:"currency"`
	Amount         float64 `json:"amount"`
	TotalValue     float64 `json:"total_value"`
	Description    string  `json:"description"`
	ProjectName    string  `json:"project_name"`
	Vintage        string  `json:"vintage"`
	Registry       string  `json:"registry"`
	Category       string  `json:"category"`
	ListedAt       string  `json:"listed_at"`
}

// Browse returns active listings matching the query, newest first, plus
// the total match count for pagination.
func (r *ListingRepo) Browse(ctx context.Context, q BrowseQuery) ([]BrowseRow, int64, error) {
	where := []string{"l.status = ?"}
	args := []any{model.ListingStatusListed}

	if q.Category != "" {
		where = append(where, "LOWER(c.category) LIKE ?")
		args = append(args, "%"+strings.ToLower(q.Category)+"%")
	}
	if q.Vintage != "" {
		where = append(where, "c.vintage = ?")
		args = append(args, q.Vintage)
	}
	if q.Registry != "" {
		where = append(where, "LOWER(c.registry) = ?")
		args = append(args, strings.ToLower(q.Registry))
	}
	if q.Search != "" {
		where = append(where, "LOWER(c.project_name) LIKE ?")
		args = append(args, "%"+strings.ToLower(q.Search)+"%")
	}
	if q.MinPrice > 0 {
		where = append(where, "l.price_per_credit >= ?")
		args = append(args, q.MinPrice)
	}
	if q.MaxPrice > 0 {
		where = append(where, "l.price_per_credit <= ?")
		args = append(args, q.MaxPrice)
	}

	cond := strings.Join(where, " AND ")

	var total int64
	countSQL := `SELECT COUNT(*)
		FROM listings l
		JOIN credits c ON c.serial_number = l.serial_number
		JOIN users u   ON u.id = l.seller_id
		WHERE ` + cond
	if err := r.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	dataSQL := `SELECT
			l.listing_uid,
			l.serial_number,
			u.display_name AS seller_name,
			l.price_per_credit,
			l.currency,
			l.amount,
			l.total_value,
			l.description,
			c.project_name,
			c.vintage,
			c.registry,
			c.category,
			DATE_FORMAT(l.listed_at, '%Y-%m-%d %T') AS listed_at
		FROM listings l
		JOIN credits c ON c.serial_number = l.serial_number
		JOIN users u   ON u.id = l.seller_id
		WHERE ` + cond + `
		ORDER BY l.listed_at DESC, l.id DESC
		LIMIT ? OFFSET ?`

	argsData := append(append([]any{}, args...), q.Limit, q.Offset)

	rows, err := r.db.QueryContext(ctx, dataSQL, argsData...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]BrowseRow, 0, q.Limit)
	for rows.Next() {
		var d BrowseRow
		if err := rows.Scan(
			&d.UID,
			&d.SerialNumber,
			&d.SellerName,
			&d.PricePerCredit,
			&d.Currency,
			&d.Amount,
			&d.TotalValue,
			&d.Description,
			&d.ProjectName,
			&d.Vintage,
			&d.Registry,
			&d.Category,
			&d.ListedAt,
		); err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
