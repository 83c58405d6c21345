package procurement

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hospital-backoffice/backoffice/internal/inventory"
	"github.com/hospital-backoffice/backoffice/internal/platform/db"
)

// Repository persists purchases in PostgreSQL.
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

const purchaseColumns = `id, number, vendor_id, item_kind, item_id, item_name, quantity, unit_cost, total_cost, paid_amount,
	due_amount, payment_status, purchase_date, note, movement_id, consolidated_entry_id, actor_id, created_at, updated_at`

func scanPurchase(row pgx.Row) (Purchase, error) {
	var p Purchase
	var kind, status string
	err := row.Scan(&p.ID, &p.Number, &p.VendorID, &kind, &p.Item.ID, &p.ItemName, &p.Quantity, &p.UnitCost, &p.TotalCost,
		&p.PaidAmount, &p.DueAmount, &status, &p.PurchaseDate, &p.Note, &p.MovementID, &p.ConsolidatedEntryID, &p.ActorID,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Purchase{}, ErrPurchaseNotFound
	}
	p.Item.Kind = inventory.ItemKind(kind)
	p.Status = PaymentStatus(status)
	return p, err
}

func loadPayments(ctx context.Context, q db.Querier, p *Purchase) error {
	rows, err := q.Query(ctx, `SELECT id, purchase_id, amount, method_id, note, paid_at, vendor_entry_id, consolidated_entry_id, actor_id
FROM purchase_payments WHERE purchase_id=$1 ORDER BY id`, p.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var pay Payment
		if err := rows.Scan(&pay.ID, &pay.PurchaseID, &pay.Amount, &pay.MethodID, &pay.Note, &pay.PaidAt,
			&pay.VendorEntryID, &pay.ConsolidatedEntryID, &pay.ActorID); err != nil {
			return err
		}
		p.Payments = append(p.Payments, pay)
	}
	return rows.Err()
}

// GetPurchase loads a purchase with payments.
func (r *Repository) GetPurchase(ctx context.Context, id int64) (Purchase, error) {
	q := db.Conn(ctx, r.pool)
	p, err := scanPurchase(q.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id=$1`, id))
	if err != nil {
		return Purchase{}, err
	}
	if err := loadPayments(ctx, q, &p); err != nil {
		return Purchase{}, err
	}
	return p, nil
}

// ListPurchases lists purchase headers newest first.
func (r *Repository) ListPurchases(ctx context.Context, filter ListFilter) ([]Purchase, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+purchaseColumns+` FROM purchases
WHERE ($1 = 0 OR vendor_id = $1) ORDER BY id DESC LIMIT $2`, filter.VendorID, filter.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *txRepo) InsertPurchase(ctx context.Context, p Purchase) (Purchase, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO purchases (number, vendor_id, item_kind, item_id, item_name, quantity, unit_cost, total_cost,
	paid_amount, due_amount, payment_status, purchase_date, note, movement_id, consolidated_entry_id, actor_id, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18) RETURNING id`,
		p.Number, p.VendorID, string(p.Item.Kind), p.Item.ID, p.ItemName, p.Quantity, p.UnitCost, p.TotalCost,
		p.PaidAmount, p.DueAmount, string(p.Status), p.PurchaseDate, p.Note, p.MovementID, p.ConsolidatedEntryID, p.ActorID,
		p.CreatedAt, p.UpdatedAt).Scan(&p.ID)
	return p, err
}

func (r *txRepo) GetPurchaseForUpdate(ctx context.Context, id int64) (Purchase, error) {
	p, err := scanPurchase(r.q.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Purchase{}, err
	}
	if err := loadPayments(ctx, r.q, &p); err != nil {
		return Purchase{}, err
	}
	return p, nil
}

func (r *txRepo) UpdatePurchase(ctx context.Context, p Purchase) error {
	tag, err := r.q.Exec(ctx, `UPDATE purchases SET vendor_id=$2, item_kind=$3, item_id=$4, item_name=$5, quantity=$6, unit_cost=$7,
	total_cost=$8, paid_amount=$9, due_amount=$10, payment_status=$11, purchase_date=$12, note=$13, movement_id=$14,
	consolidated_entry_id=$15, updated_at=$16 WHERE id=$1`,
		p.ID, p.VendorID, string(p.Item.Kind), p.Item.ID, p.ItemName, p.Quantity, p.UnitCost, p.TotalCost, p.PaidAmount,
		p.DueAmount, string(p.Status), p.PurchaseDate, p.Note, p.MovementID, p.ConsolidatedEntryID, p.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPurchaseNotFound
	}
	return nil
}

func (r *txRepo) DeletePurchase(ctx context.Context, id int64) error {
	_, err := r.q.Exec(ctx, `DELETE FROM purchases WHERE id=$1`, id)
	return err
}

func (r *txRepo) InsertPayment(ctx context.Context, pay Payment) (Payment, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO purchase_payments (purchase_id, amount, method_id, note, paid_at, vendor_entry_id, consolidated_entry_id, actor_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		pay.PurchaseID, pay.Amount, pay.MethodID, pay.Note, pay.PaidAt, pay.VendorEntryID, pay.ConsolidatedEntryID, pay.ActorID).Scan(&pay.ID)
	return pay, err
}

func (r *txRepo) DeletePayments(ctx context.Context, purchaseID int64) error {
	_, err := r.q.Exec(ctx, `DELETE FROM purchase_payments WHERE purchase_id=$1`, purchaseID)
	return err
}

func (r *txRepo) OpenPurchasesForUpdate(ctx context.Context, vendorID int64) ([]Purchase, error) {
	rows, err := r.q.Query(ctx, `SELECT `+purchaseColumns+` FROM purchases
WHERE vendor_id=$1 AND due_amount > 0 ORDER BY id FOR UPDATE`, vendorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
