package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hospital-backoffice/backoffice/internal/platform/db"
	"github.com/hospital-backoffice/backoffice/internal/shared"
)

// Repository persists items and movements in PostgreSQL. Each item kind has
// its own table; itemTable is the only place that maps a kind to one.
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

// WithTx executes the callback inside the ambient or a new repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		return fn(ctx, &txRepo{q: db.Conn(ctx, r.pool)})
	})
}

func itemTable(kind ItemKind) (string, error) {
	switch kind {
	case KindFrame:
		return "glasses", nil
	case KindLens:
		return "lens_types", nil
	case KindCompleteGlasses:
		return "complete_glasses", nil
	}
	return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidLineItem, kind)
}

const itemColumns = `id, code, name, stock_quantity, purchase_price, selling_price, min_stock, active, created_at, updated_at`

func scanItem(row pgx.Row, kind ItemKind) (Item, error) {
	item := Item{Ref: ItemRef{Kind: kind}}
	err := row.Scan(&item.Ref.ID, &item.Code, &item.Name, &item.Stock, &item.PurchasePrice, &item.SellingPrice,
		&item.MinStock, &item.Active, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}
	return item, err
}

func getItem(ctx context.Context, q db.Querier, ref ItemRef, forUpdate bool) (Item, error) {
	table, err := itemTable(ref.Kind)
	if err != nil {
		return Item{}, err
	}
	sql := fmt.Sprintf(`SELECT %s FROM %s WHERE id=$1`, itemColumns, table)
	if forUpdate {
		sql += " FOR UPDATE"
	}
	return scanItem(q.QueryRow(ctx, sql, ref.ID), ref.Kind)
}

// GetItem loads one item.
func (r *Repository) GetItem(ctx context.Context, ref ItemRef) (Item, error) {
	return getItem(ctx, db.Conn(ctx, r.pool), ref, false)
}

// ListItems lists items of one or every kind.
func (r *Repository) ListItems(ctx context.Context, filter ItemFilter) ([]Item, error) {
	kinds := Kinds
	if filter.Kind != "" {
		kinds = []ItemKind{filter.Kind}
	}
	q := db.Conn(ctx, r.pool)
	var items []Item
	for _, kind := range kinds {
		table, err := itemTable(kind)
		if err != nil {
			return nil, err
		}
		sql := fmt.Sprintf(`SELECT %s FROM %s`, itemColumns, table)
		if filter.ActiveOnly {
			sql += " WHERE active"
		}
		sql += " ORDER BY id"
		rows, err := q.Query(ctx, sql)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			item, err := scanItem(rows, kind)
			if err != nil {
				rows.Close()
				return nil, err
			}
			items = append(items, item)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return items, nil
}

const movementColumns = `id, code, item_kind, item_id, movement_type, quantity, previous_stock, new_stock,
	unit_price, total_amount, note, actor_id, source_type, source_id, created_at`

func scanMovement(row pgx.Row) (Movement, error) {
	var m Movement
	var kind, typ, sourceType string
	err := row.Scan(&m.ID, &m.Code, &kind, &m.Item.ID, &typ, &m.Quantity, &m.PreviousStock, &m.NewStock,
		&m.UnitPrice, &m.TotalAmount, &m.Note, &m.ActorID, &sourceType, &m.Source.ID, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Movement{}, ErrMovementNotFound
	}
	if err != nil {
		return Movement{}, err
	}
	m.Item.Kind = ItemKind(kind)
	m.Type = MovementType(typ)
	m.Source.Type = shared.SourceType(sourceType)
	return m, nil
}

func collectMovements(rows pgx.Rows) ([]Movement, error) {
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMovement loads one movement.
func (r *Repository) GetMovement(ctx context.Context, id int64) (Movement, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+movementColumns+` FROM stock_movements WHERE id=$1`, id)
	return scanMovement(row)
}

// ListMovements lists movements oldest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	var (
		where []string
		args  []any
	)
	if filter.Item != nil {
		args = append(args, string(filter.Item.Kind), filter.Item.ID)
		where = append(where, fmt.Sprintf("item_kind=$%d AND item_id=$%d", len(args)-1, len(args)))
	}
	if filter.Source != nil {
		args = append(args, string(filter.Source.Type), filter.Source.ID)
		where = append(where, fmt.Sprintf("source_type=$%d AND source_id=$%d", len(args)-1, len(args)))
	}
	sql := `SELECT ` + movementColumns + ` FROM stock_movements`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collectMovements(rows)
}

// LedgerSums returns the signed movement total per item.
func (r *Repository) LedgerSums(ctx context.Context) (map[ItemRef]int64, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT item_kind, item_id, COALESCE(SUM(quantity),0) FROM stock_movements GROUP BY item_kind, item_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sums := make(map[ItemRef]int64)
	for rows.Next() {
		var kind string
		var id, sum int64
		if err := rows.Scan(&kind, &id, &sum); err != nil {
			return nil, err
		}
		sums[ItemRef{Kind: ItemKind(kind), ID: id}] = sum
	}
	return sums, rows.Err()
}

func (r *txRepo) InsertItem(ctx context.Context, item Item) (Item, error) {
	table, err := itemTable(item.Ref.Kind)
	if err != nil {
		return Item{}, err
	}
	sql := fmt.Sprintf(`INSERT INTO %s (code, name, stock_quantity, purchase_price, selling_price, min_stock, active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`, table)
	err = r.q.QueryRow(ctx, sql, item.Code, item.Name, item.Stock, item.PurchasePrice, item.SellingPrice,
		item.MinStock, item.Active, item.CreatedAt, item.UpdatedAt).Scan(&item.Ref.ID)
	return item, err
}

func (r *txRepo) GetItemForUpdate(ctx context.Context, ref ItemRef) (Item, error) {
	return getItem(ctx, r.q, ref, true)
}

// ApplyStockDelta is a single conditional UPDATE so concurrent sales cannot
// both pass the floor check.
func (r *txRepo) ApplyStockDelta(ctx context.Context, ref ItemRef, delta int64, purchasePrice *decimal.Decimal) (StockChange, error) {
	table, err := itemTable(ref.Kind)
	if err != nil {
		return StockChange{}, err
	}
	var price any
	if purchasePrice != nil {
		price = *purchasePrice
	}
	sql := fmt.Sprintf(`UPDATE %s SET stock_quantity = stock_quantity + $2,
	purchase_price = COALESCE($3, purchase_price), updated_at = NOW()
WHERE id=$1 AND stock_quantity + $2 >= 0
RETURNING stock_quantity`, table)
	var next int64
	err = r.q.QueryRow(ctx, sql, ref.ID, delta, price).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		item, getErr := getItem(ctx, r.q, ref, false)
		if getErr != nil {
			return StockChange{}, getErr
		}
		return StockChange{}, &InsufficientStockError{Item: ref, Name: item.Name, Available: item.Stock, Requested: -delta}
	}
	if err != nil {
		return StockChange{}, err
	}
	return StockChange{Previous: next - delta, New: next}, nil
}

func (r *txRepo) SetItemActive(ctx context.Context, ref ItemRef, active bool) error {
	table, err := itemTable(ref.Kind)
	if err != nil {
		return err
	}
	_, err = r.q.Exec(ctx, fmt.Sprintf(`UPDATE %s SET active=$2, updated_at=NOW() WHERE id=$1`, table), ref.ID, active)
	return err
}

func (r *txRepo) DeleteItem(ctx context.Context, ref ItemRef) error {
	table, err := itemTable(ref.Kind)
	if err != nil {
		return err
	}
	tag, err := r.q.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id=$1`, table), ref.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *txRepo) CountMovements(ctx context.Context, ref ItemRef, typ MovementType) (int64, error) {
	var n int64
	err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM stock_movements WHERE item_kind=$1 AND item_id=$2 AND ($3 = '' OR movement_type=$3)`,
		string(ref.Kind), ref.ID, string(typ)).Scan(&n)
	return n, err
}

func (r *txRepo) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO stock_movements (code, item_kind, item_id, movement_type, quantity, previous_stock, new_stock,
	unit_price, total_amount, note, actor_id, source_type, source_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14) RETURNING id`,
		m.Code, string(m.Item.Kind), m.Item.ID, string(m.Type), m.Quantity, m.PreviousStock, m.NewStock,
		m.UnitPrice, m.TotalAmount, m.Note, m.ActorID, string(m.Source.Type), m.Source.ID, m.CreatedAt).Scan(&m.ID)
	return m, err
}

func (r *txRepo) GetMovementForUpdate(ctx context.Context, id int64) (Movement, error) {
	return scanMovement(r.q.QueryRow(ctx, `SELECT `+movementColumns+` FROM stock_movements WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepo) UpdateMovement(ctx context.Context, m Movement) error {
	tag, err := r.q.Exec(ctx, `UPDATE stock_movements SET item_kind=$2, item_id=$3, quantity=$4, previous_stock=$5, new_stock=$6,
	unit_price=$7, total_amount=$8, note=$9 WHERE id=$1`,
		m.ID, string(m.Item.Kind), m.Item.ID, m.Quantity, m.PreviousStock, m.NewStock, m.UnitPrice, m.TotalAmount, m.Note)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMovementNotFound
	}
	return nil
}

func (r *txRepo) DeleteMovement(ctx context.Context, id int64) error {
	_, err := r.q.Exec(ctx, `DELETE FROM stock_movements WHERE id=$1`, id)
	return err
}

func (r *txRepo) ListMovementsBySource(ctx context.Context, src shared.SourceRef) ([]Movement, error) {
	rows, err := r.q.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements WHERE source_type=$1 AND source_id=$2 ORDER BY id FOR UPDATE`,
		string(src.Type), src.ID)
	if err != nil {
		return nil, err
	}
	return collectMovements(rows)
}
