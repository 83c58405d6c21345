package vendors

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hospital-backoffice/backoffice/internal/platform/db"
	"github.com/hospital-backoffice/backoffice/internal/shared"
)

// Repository persists vendors and their ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	q db.Querier
}

// WithTx executes the callback inside the ambient or a new transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		return fn(ctx, &txRepo{q: db.Conn(ctx, r.pool)})
	})
}

const vendorColumns = `id, name, phone, email, address, current_balance, balance_type, created_at, updated_at`

func scanVendor(row pgx.Row) (Vendor, error) {
	var v Vendor
	var typ string
	err := row.Scan(&v.ID, &v.Name, &v.Phone, &v.Email, &v.Address, &v.Position.Balance, &typ, &v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Vendor{}, ErrVendorNotFound
	}
	v.Position.Type = BalanceType(typ)
	return v, err
}

// GetVendor loads a vendor.
func (r *Repository) GetVendor(ctx context.Context, id int64) (Vendor, error) {
	return scanVendor(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+vendorColumns+` FROM vendors WHERE id=$1`, id))
}

// ListVendors lists vendors by id.
func (r *Repository) ListVendors(ctx context.Context) ([]Vendor, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+vendorColumns+` FROM vendors ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Vendor
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ListEntries lists a vendor's ledger in posting order.
func (r *Repository) ListEntries(ctx context.Context, vendorID int64) ([]LedgerEntry, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT id, vendor_id, entry_type, amount, memo, source_type, source_id,
	payment_method_id, entry_date, balance_after, balance_type_after, actor_id, created_at
FROM vendor_ledger_entries WHERE vendor_id=$1 ORDER BY id`, vendorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var typ, sourceType, afterType string
		if err := rows.Scan(&e.ID, &e.VendorID, &typ, &e.Amount, &e.Memo, &sourceType, &e.Source.ID,
			&e.PaymentMethodID, &e.Date, &e.After.Balance, &afterType, &e.ActorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = EntryType(typ)
		e.Source.Type = shared.SourceType(sourceType)
		e.After.Type = BalanceType(afterType)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *txRepo) InsertVendor(ctx context.Context, v Vendor) (Vendor, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO vendors (name, phone, email, address, current_balance, balance_type, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		v.Name, v.Phone, v.Email, v.Address, v.Position.Balance, string(v.Position.Type), v.CreatedAt, v.UpdatedAt).Scan(&v.ID)
	return v, err
}

func (r *txRepo) GetVendorForUpdate(ctx context.Context, id int64) (Vendor, error) {
	return scanVendor(r.q.QueryRow(ctx, `SELECT `+vendorColumns+` FROM vendors WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepo) UpdatePosition(ctx context.Context, id int64, pos Position) error {
	tag, err := r.q.Exec(ctx, `UPDATE vendors SET current_balance=$2, balance_type=$3, updated_at=NOW() WHERE id=$1`,
		id, pos.Balance, string(pos.Type))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVendorNotFound
	}
	return nil
}

func (r *txRepo) InsertEntry(ctx context.Context, e LedgerEntry) (LedgerEntry, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO vendor_ledger_entries (vendor_id, entry_type, amount, memo, source_type, source_id,
	payment_method_id, entry_date, balance_after, balance_type_after, actor_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`,
		e.VendorID, string(e.Type), e.Amount, e.Memo, string(e.Source.Type), e.Source.ID,
		e.PaymentMethodID, e.Date, e.After.Balance, string(e.After.Type), e.ActorID, e.CreatedAt).Scan(&e.ID)
	return e, err
}
