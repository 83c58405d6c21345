package accounts

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

// Repository persists both ledgers and the category registries in PostgreSQL.
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

// ShopTotals sums shop entries per type.
func (r *Repository) ShopTotals(ctx context.Context) (Totals, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT entry_type, COALESCE(SUM(amount),0) FROM shop_ledger_entries GROUP BY entry_type`)
	if err != nil {
		return Totals{}, err
	}
	return scanTotals(rows)
}

// ConsolidatedTotals sums consolidated entries per type.
func (r *Repository) ConsolidatedTotals(ctx context.Context) (Totals, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT entry_type, COALESCE(SUM(amount),0) FROM consolidated_ledger_entries GROUP BY entry_type`)
	if err != nil {
		return Totals{}, err
	}
	return scanTotals(rows)
}

func scanTotals(rows pgx.Rows) (Totals, error) {
	defer rows.Close()
	var t Totals
	for rows.Next() {
		var typ string
		var sum decimal.Decimal
		if err := rows.Scan(&typ, &sum); err != nil {
			return Totals{}, err
		}
		t = t.Add(ShopEntryType(typ), sum)
	}
	return t, rows.Err()
}

type listQuery struct {
	where []string
	args  []any
}

func (q *listQuery) add(cond string, args ...any) {
	placeholders := make([]any, len(args))
	for i := range args {
		q.args = append(q.args, args[i])
		placeholders[i] = len(q.args)
	}
	q.where = append(q.where, fmt.Sprintf(cond, placeholders...))
}

func (q *listQuery) build(base, order string, limit int) string {
	sql := base
	if len(q.where) > 0 {
		sql += " WHERE " + strings.Join(q.where, " AND ")
	}
	sql += " ORDER BY " + order
	if limit > 0 {
		q.args = append(q.args, limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(q.args))
	}
	return sql
}

// ListShopEntries lists shop entries oldest first.
func (r *Repository) ListShopEntries(ctx context.Context, filter ShopFilter) ([]ShopEntry, error) {
	var q listQuery
	if filter.Type != "" {
		q.add("entry_type=$%d", string(filter.Type))
	}
	if filter.Source != nil {
		q.add("source_type=$%d AND source_id=$%d", string(filter.Source.Type), filter.Source.ID)
	}
	if !filter.From.IsZero() {
		q.add("entry_date >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		q.add("entry_date <= $%d", filter.To)
	}
	sql := q.build(`SELECT id, entry_type, amount, category, description, entry_date, actor_id, source_type, source_id, created_at FROM shop_ledger_entries`, "id", filter.Limit)
	rows, err := db.Conn(ctx, r.pool).Query(ctx, sql, q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ShopEntry
	for rows.Next() {
		var e ShopEntry
		var typ, sourceType string
		if err := rows.Scan(&e.ID, &typ, &e.Amount, &e.Category, &e.Description, &e.Date, &e.ActorID, &sourceType, &e.Source.ID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = ShopEntryType(typ)
		e.Source.Type = shared.SourceType(sourceType)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListConsolidatedEntries lists consolidated entries oldest first.
func (r *Repository) ListConsolidatedEntries(ctx context.Context, filter ConsolidatedFilter) ([]ConsolidatedEntry, error) {
	var q listQuery
	if filter.Type != "" {
		q.add("e.entry_type=$%d", string(filter.Type))
	}
	if filter.Source != nil {
		q.add("e.source_type=$%d AND e.source_id=$%d", string(filter.Source.Type), filter.Source.ID)
	}
	if !filter.From.IsZero() {
		q.add("e.entry_date >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		q.add("e.entry_date <= $%d", filter.To)
	}
	sql := q.build(`SELECT e.id, e.entry_type, e.amount, e.category_id, c.name, e.description, e.source_type, e.source_id,
	e.entry_date, e.actor_id, e.created_at
FROM consolidated_ledger_entries e JOIN ledger_categories c ON c.id = e.category_id`, "e.id", filter.Limit)
	rows, err := db.Conn(ctx, r.pool).Query(ctx, sql, q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ConsolidatedEntry
	for rows.Next() {
		var e ConsolidatedEntry
		var typ, sourceType string
		if err := rows.Scan(&e.ID, &typ, &e.Amount, &e.CategoryID, &e.CategoryName, &e.Description, &sourceType, &e.Source.ID,
			&e.Date, &e.ActorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = EntryType(typ)
		e.Source.Type = shared.SourceType(sourceType)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListCategories lists categories of kind by name.
func (r *Repository) ListCategories(ctx context.Context, kind CategoryKind) ([]Category, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT id, kind, name FROM ledger_categories WHERE kind=$1 ORDER BY name`, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Category
	for rows.Next() {
		var c Category
		var k string
		if err := rows.Scan(&c.ID, &k, &c.Name); err != nil {
			return nil, err
		}
		c.Kind = CategoryKind(k)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *txRepo) InsertShopEntry(ctx context.Context, e ShopEntry) (ShopEntry, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO shop_ledger_entries (entry_type, amount, category, description, entry_date, actor_id, source_type, source_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		string(e.Type), e.Amount, e.Category, e.Description, e.Date, e.ActorID, string(e.Source.Type), e.Source.ID, e.CreatedAt).Scan(&e.ID)
	return e, err
}

func (r *txRepo) InsertConsolidatedEntry(ctx context.Context, e ConsolidatedEntry) (ConsolidatedEntry, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO consolidated_ledger_entries (entry_type, amount, category_id, description, source_type, source_id, entry_date, actor_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		string(e.Type), e.Amount, e.CategoryID, e.Description, string(e.Source.Type), e.Source.ID, e.Date, e.ActorID, e.CreatedAt).Scan(&e.ID)
	return e, err
}

// FirstOrCreateCategory relies on the (kind, name) unique index so concurrent
// first uses converge on one row.
func (r *txRepo) FirstOrCreateCategory(ctx context.Context, kind CategoryKind, name string) (Category, error) {
	c := Category{Kind: kind, Name: name}
	err := r.q.QueryRow(ctx, `INSERT INTO ledger_categories (kind, name) VALUES ($1,$2)
ON CONFLICT (kind, name) DO UPDATE SET name = EXCLUDED.name RETURNING id`, string(kind), name).Scan(&c.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Category{}, fmt.Errorf("accounts: category %q not created", name)
	}
	return c, err
}
