package sales

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hospital-backoffice/backoffice/internal/inventory"
	"github.com/hospital-backoffice/backoffice/internal/platform/db"
)

// Repository persists sales in PostgreSQL.
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

const saleColumns = `id, number, patient_id, customer_name, customer_phone, customer_email, seller_id, sale_date,
	subtotal, fitting_charge, discount, total_amount, advance_payment, due_amount, status, notes, created_at, updated_at`

func scanSale(row pgx.Row) (Sale, error) {
	var s Sale
	var status string
	err := row.Scan(&s.ID, &s.Number, &s.Customer.PatientID, &s.Customer.Name, &s.Customer.Phone, &s.Customer.Email,
		&s.SellerID, &s.SaleDate, &s.Subtotal, &s.FittingCharge, &s.Discount, &s.TotalAmount, &s.AdvancePayment,
		&s.DueAmount, &status, &s.Notes, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, ErrSaleNotFound
	}
	s.Status = Status(status)
	return s, err
}

func loadDetails(ctx context.Context, q db.Querier, sale *Sale) error {
	rows, err := q.Query(ctx, `SELECT id, sale_id, item_kind, item_id, item_name, quantity, unit_price, total_price, movement_id
FROM sale_lines WHERE sale_id=$1 ORDER BY id`, sale.ID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var l Line
		var kind string
		if err := rows.Scan(&l.ID, &l.SaleID, &kind, &l.Item.ID, &l.ItemName, &l.Quantity, &l.UnitPrice, &l.TotalPrice, &l.MovementID); err != nil {
			rows.Close()
			return err
		}
		l.Item.Kind = inventory.ItemKind(kind)
		sale.Lines = append(sale.Lines, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = q.Query(ctx, `SELECT id, sale_id, amount, method_id, method_name, transaction_ref, note, received_by, paid_at
FROM sale_payments WHERE sale_id=$1 ORDER BY id`, sale.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.SaleID, &p.Amount, &p.MethodID, &p.MethodName, &p.TransactionRef, &p.Note, &p.ReceivedBy, &p.PaidAt); err != nil {
			return err
		}
		sale.Payments = append(sale.Payments, p)
	}
	return rows.Err()
}

// GetSale loads a sale with lines and payments.
func (r *Repository) GetSale(ctx context.Context, id int64) (Sale, error) {
	q := db.Conn(ctx, r.pool)
	sale, err := scanSale(q.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id=$1`, id))
	if err != nil {
		return Sale{}, err
	}
	if err := loadDetails(ctx, q, &sale); err != nil {
		return Sale{}, err
	}
	return sale, nil
}

// ListSales lists sale headers newest first.
func (r *Repository) ListSales(ctx context.Context, filter ListFilter) ([]Sale, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where = append(where, fmt.Sprintf("sale_date >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where = append(where, fmt.Sprintf("sale_date <= $%d", len(args)))
	}
	sql := `SELECT ` + saleColumns + ` FROM sales`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit)
	sql += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d", len(args))
	rows, err := db.Conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Sale
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *txRepo) InsertSale(ctx context.Context, s Sale) (Sale, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO sales (number, patient_id, customer_name, customer_phone, customer_email, seller_id, sale_date,
	subtotal, fitting_charge, discount, total_amount, advance_payment, due_amount, status, notes, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17) RETURNING id`,
		s.Number, s.Customer.PatientID, s.Customer.Name, s.Customer.Phone, s.Customer.Email, s.SellerID, s.SaleDate,
		s.Subtotal, s.FittingCharge, s.Discount, s.TotalAmount, s.AdvancePayment, s.DueAmount, string(s.Status), s.Notes,
		s.CreatedAt, s.UpdatedAt).Scan(&s.ID)
	return s, err
}

func (r *txRepo) GetSaleForUpdate(ctx context.Context, id int64) (Sale, error) {
	sale, err := scanSale(r.q.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Sale{}, err
	}
	if err := loadDetails(ctx, r.q, &sale); err != nil {
		return Sale{}, err
	}
	return sale, nil
}

func (r *txRepo) UpdateSale(ctx context.Context, s Sale) error {
	tag, err := r.q.Exec(ctx, `UPDATE sales SET patient_id=$2, customer_name=$3, customer_phone=$4, customer_email=$5, seller_id=$6,
	sale_date=$7, subtotal=$8, fitting_charge=$9, discount=$10, total_amount=$11, advance_payment=$12, due_amount=$13,
	status=$14, notes=$15, updated_at=$16 WHERE id=$1`,
		s.ID, s.Customer.PatientID, s.Customer.Name, s.Customer.Phone, s.Customer.Email, s.SellerID, s.SaleDate,
		s.Subtotal, s.FittingCharge, s.Discount, s.TotalAmount, s.AdvancePayment, s.DueAmount, string(s.Status), s.Notes, s.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSaleNotFound
	}
	return nil
}

func (r *txRepo) DeleteSale(ctx context.Context, id int64) error {
	_, err := r.q.Exec(ctx, `DELETE FROM sales WHERE id=$1`, id)
	return err
}

func (r *txRepo) InsertLine(ctx context.Context, l Line) (Line, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO sale_lines (sale_id, item_kind, item_id, item_name, quantity, unit_price, total_price, movement_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		l.SaleID, string(l.Item.Kind), l.Item.ID, l.ItemName, l.Quantity, l.UnitPrice, l.TotalPrice, l.MovementID).Scan(&l.ID)
	return l, err
}

func (r *txRepo) DeleteLines(ctx context.Context, saleID int64) error {
	_, err := r.q.Exec(ctx, `DELETE FROM sale_lines WHERE sale_id=$1`, saleID)
	return err
}

func (r *txRepo) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO sale_payments (sale_id, amount, method_id, method_name, transaction_ref, note, received_by, paid_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		p.SaleID, p.Amount, p.MethodID, p.MethodName, p.TransactionRef, p.Note, p.ReceivedBy, p.PaidAt).Scan(&p.ID)
	return p, err
}

func (r *txRepo) DeletePayments(ctx context.Context, saleID int64) error {
	_, err := r.q.Exec(ctx, `DELETE FROM sale_payments WHERE sale_id=$1`, saleID)
	return err
}
