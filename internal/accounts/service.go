package accounts

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hospital-backoffice/backoffice/internal/platform/db"
	"github.com/hospital-backoffice/backoffice/internal/shared"
)

// RepositoryPort abstracts repository usage for the ledgers.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ShopTotals(ctx context.Context) (Totals, error)
	ListShopEntries(ctx context.Context, filter ShopFilter) ([]ShopEntry, error)
	ConsolidatedTotals(ctx context.Context) (Totals, error)
	ListConsolidatedEntries(ctx context.Context, filter ConsolidatedFilter) ([]ConsolidatedEntry, error)
	ListCategories(ctx context.Context, kind CategoryKind) ([]Category, error)
}

// TxRepository exposes transactional operations used by the ledgers.
type TxRepository interface {
	InsertShopEntry(ctx context.Context, e ShopEntry) (ShopEntry, error)
	InsertConsolidatedEntry(ctx context.Context, e ConsolidatedEntry) (ConsolidatedEntry, error)
	// FirstOrCreateCategory returns the category named name, creating it when absent.
	FirstOrCreateCategory(ctx context.Context, kind CategoryKind, name string) (Category, error)
}

// PostingObserver is told about every committed posting.
type PostingObserver interface {
	ObservePosting(ledger, entryType string, amount decimal.Decimal)
}

// BalancePort caches derived balances between postings.
type BalancePort interface {
	Totals(ctx context.Context, ledger string, load func(context.Context) (Totals, error)) (Totals, error)
	Bump(ctx context.Context) error
}

const (
	ledgerShop         = "shop"
	ledgerConsolidated = "consolidated"
)

// ShopLedger is the optics shop cash ledger. Its balance is always derived
// from entries, never stored.
type ShopLedger struct {
	repo     RepositoryPort
	cache    BalancePort
	observer PostingObserver
	logger   *slog.Logger
	now      func() time.Time
}

// NewShopLedger builds ShopLedger. cache may be nil.
func NewShopLedger(repo RepositoryPort, cache BalancePort, logger *slog.Logger) *ShopLedger {
	if logger == nil {
		logger = slog.Default()
	}
	return &ShopLedger{repo: repo, cache: cache, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Observe registers o for committed postings.
func (l *ShopLedger) Observe(o PostingObserver) {
	l.observer = o
}

// PostIncome appends an income entry.
func (l *ShopLedger) PostIncome(ctx context.Context, p ShopPosting) (ShopEntry, error) {
	return l.post(ctx, ShopIncome, p)
}

// PostExpense appends an expense entry.
func (l *ShopLedger) PostExpense(ctx context.Context, p ShopPosting) (ShopEntry, error) {
	return l.post(ctx, ShopExpense, p)
}

// FundIn records capital put into the shop.
func (l *ShopLedger) FundIn(ctx context.Context, p ShopPosting) (ShopEntry, error) {
	return l.post(ctx, ShopFundIn, p)
}

// FundOut records capital taken out of the shop.
func (l *ShopLedger) FundOut(ctx context.Context, p ShopPosting) (ShopEntry, error) {
	return l.post(ctx, ShopFundOut, p)
}

// AdjustAmount corrects the balance without a business document: inbound
// adjustments post income, outbound post expense.
func (l *ShopLedger) AdjustAmount(ctx context.Context, direction Direction, p ShopPosting) (ShopEntry, error) {
	switch direction {
	case DirectionIn:
		return l.post(ctx, ShopIncome, p)
	case DirectionOut:
		return l.post(ctx, ShopExpense, p)
	}
	return ShopEntry{}, ErrInvalidDirection
}

// Balance derives the current balance.
func (l *ShopLedger) Balance(ctx context.Context) (Totals, error) {
	if l.cache == nil {
		return l.repo.ShopTotals(ctx)
	}
	return l.cache.Totals(ctx, ledgerShop, l.repo.ShopTotals)
}

// Entries lists shop entries.
func (l *ShopLedger) Entries(ctx context.Context, filter ShopFilter) ([]ShopEntry, error) {
	return l.repo.ListShopEntries(ctx, filter)
}

func (l *ShopLedger) post(ctx context.Context, typ ShopEntryType, p ShopPosting) (ShopEntry, error) {
	if !p.Amount.IsPositive() {
		return ShopEntry{}, shared.ErrInvalidAmount
	}
	category := strings.TrimSpace(p.Category)
	if category == "" {
		return ShopEntry{}, ErrCategoryRequired
	}
	var entry ShopEntry
	err := l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = tx.InsertShopEntry(ctx, ShopEntry{
			Type:        typ,
			Amount:      shared.Round2(p.Amount),
			Category:    category,
			Description: strings.TrimSpace(p.Description),
			Date:        shared.DateOrNow(p.Date, l.now),
			ActorID:     p.ActorID,
			Source:      p.Source,
			CreatedAt:   l.now(),
		})
		return err
	})
	if err != nil {
		return ShopEntry{}, err
	}
	afterPosting(ctx, l.cache, l.observer, l.logger, ledgerShop, string(typ), entry.ID, entry.Amount)
	return entry, nil
}

// ConsolidatedLedger is the hospital-wide ledger mirrored from the shop.
// With mirroring disabled every post is a no-op returning a zero entry.
type ConsolidatedLedger struct {
	repo     RepositoryPort
	cache    BalancePort
	observer PostingObserver
	logger   *slog.Logger
	enabled  bool
	now      func() time.Time
}

// NewConsolidatedLedger builds ConsolidatedLedger. cache may be nil.
func NewConsolidatedLedger(repo RepositoryPort, cache BalancePort, logger *slog.Logger, enabled bool) *ConsolidatedLedger {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsolidatedLedger{repo: repo, cache: cache, logger: logger, enabled: enabled, now: func() time.Time { return time.Now().UTC() }}
}

// Observe registers o for committed postings.
func (l *ConsolidatedLedger) Observe(o PostingObserver) {
	l.observer = o
}

// Enabled reports whether postings are mirrored.
func (l *ConsolidatedLedger) Enabled() bool {
	return l != nil && l.enabled
}

// PostIncome appends an income entry under a first-or-create income category.
func (l *ConsolidatedLedger) PostIncome(ctx context.Context, p ConsolidatedPosting) (ConsolidatedEntry, error) {
	return l.post(ctx, EntryIncome, p)
}

// PostExpense appends an expense entry under a first-or-create expense category.
func (l *ConsolidatedLedger) PostExpense(ctx context.Context, p ConsolidatedPosting) (ConsolidatedEntry, error) {
	return l.post(ctx, EntryExpense, p)
}

// Balance derives the consolidated balance.
func (l *ConsolidatedLedger) Balance(ctx context.Context) (Totals, error) {
	if l.cache == nil {
		return l.repo.ConsolidatedTotals(ctx)
	}
	return l.cache.Totals(ctx, ledgerConsolidated, l.repo.ConsolidatedTotals)
}

// Entries lists consolidated entries.
func (l *ConsolidatedLedger) Entries(ctx context.Context, filter ConsolidatedFilter) ([]ConsolidatedEntry, error) {
	return l.repo.ListConsolidatedEntries(ctx, filter)
}

// TotalForSource sums entries of typ linked to src.
func (l *ConsolidatedLedger) TotalForSource(ctx context.Context, src shared.SourceRef, typ EntryType) (Totals, error) {
	entries, err := l.repo.ListConsolidatedEntries(ctx, ConsolidatedFilter{Source: &src, Type: typ})
	if err != nil {
		return Totals{}, err
	}
	var t Totals
	for _, e := range entries {
		if e.Type == EntryIncome {
			t.Income = t.Income.Add(e.Amount)
		} else {
			t.Expense = t.Expense.Add(e.Amount)
		}
	}
	return t, nil
}

// Categories lists categories of kind.
func (l *ConsolidatedLedger) Categories(ctx context.Context, kind CategoryKind) ([]Category, error) {
	return l.repo.ListCategories(ctx, kind)
}

// IncomeCategory returns the income category named name, creating it on first use.
func (l *ConsolidatedLedger) IncomeCategory(ctx context.Context, name string) (Category, error) {
	return l.category(ctx, CategoryKindIncome, name)
}

// ExpenseCategory returns the expense category named name, creating it on first use.
func (l *ConsolidatedLedger) ExpenseCategory(ctx context.Context, name string) (Category, error) {
	return l.category(ctx, CategoryKindExpense, name)
}

func (l *ConsolidatedLedger) category(ctx context.Context, kind CategoryKind, name string) (Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Category{}, ErrCategoryRequired
	}
	var cat Category
	err := l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		cat, err = tx.FirstOrCreateCategory(ctx, kind, name)
		return err
	})
	return cat, err
}

func (l *ConsolidatedLedger) post(ctx context.Context, typ EntryType, p ConsolidatedPosting) (ConsolidatedEntry, error) {
	if !l.Enabled() {
		return ConsolidatedEntry{}, nil
	}
	if !p.Amount.IsPositive() {
		return ConsolidatedEntry{}, shared.ErrInvalidAmount
	}
	name := strings.TrimSpace(p.CategoryName)
	if name == "" {
		return ConsolidatedEntry{}, ErrCategoryRequired
	}
	kind := CategoryKindIncome
	if typ == EntryExpense {
		kind = CategoryKindExpense
	}
	var entry ConsolidatedEntry
	err := l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		cat, err := tx.FirstOrCreateCategory(ctx, kind, name)
		if err != nil {
			return err
		}
		entry, err = tx.InsertConsolidatedEntry(ctx, ConsolidatedEntry{
			Type:         typ,
			Amount:       shared.Round2(p.Amount),
			CategoryID:   cat.ID,
			CategoryName: cat.Name,
			Description:  strings.TrimSpace(p.Description),
			Source:       p.Source,
			Date:         shared.DateOrNow(p.Date, l.now),
			ActorID:      p.ActorID,
			CreatedAt:    l.now(),
		})
		return err
	})
	if err != nil {
		return ConsolidatedEntry{}, err
	}
	afterPosting(ctx, l.cache, l.observer, l.logger, ledgerConsolidated, string(typ), entry.ID, entry.Amount)
	return entry, nil
}

// Poster writes cash movements to both ledgers in one unit of work.
type Poster struct {
	Shop         *ShopLedger
	Consolidated *ConsolidatedLedger
}

// NewPoster builds Poster.
func NewPoster(shop *ShopLedger, consolidated *ConsolidatedLedger) *Poster {
	return &Poster{Shop: shop, Consolidated: consolidated}
}

// RecordCashIn posts received cash as shop income and consolidated income.
func (p *Poster) RecordCashIn(ctx context.Context, c CashPosting) (Posted, error) {
	return p.record(ctx, c, true)
}

// RecordCashOut posts paid cash as shop expense and consolidated expense.
func (p *Poster) RecordCashOut(ctx context.Context, c CashPosting) (Posted, error) {
	return p.record(ctx, c, false)
}

func (p *Poster) record(ctx context.Context, c CashPosting, inbound bool) (Posted, error) {
	var out Posted
	err := p.Shop.repo.WithTx(ctx, func(ctx context.Context, _ TxRepository) error {
		shopPosting := ShopPosting{
			Amount:      c.Amount,
			Category:    c.ShopCategory,
			Description: c.Description,
			Date:        c.Date,
			ActorID:     c.ActorID,
			Source:      c.Source,
		}
		var err error
		if inbound {
			out.Shop, err = p.Shop.PostIncome(ctx, shopPosting)
		} else {
			out.Shop, err = p.Shop.PostExpense(ctx, shopPosting)
		}
		if err != nil {
			return err
		}
		if !p.Consolidated.Enabled() {
			return nil
		}
		consPosting := ConsolidatedPosting{
			Amount:       c.Amount,
			CategoryName: c.ConsolidatedCategory,
			Description:  c.Description,
			Date:         c.Date,
			ActorID:      c.ActorID,
			Source:       c.Source,
		}
		var entry ConsolidatedEntry
		if inbound {
			entry, err = p.Consolidated.PostIncome(ctx, consPosting)
		} else {
			entry, err = p.Consolidated.PostExpense(ctx, consPosting)
		}
		if err != nil {
			return err
		}
		out.Consolidated = &entry
		return nil
	})
	return out, err
}

// afterPosting bumps the balance cache and notifies the observer once the
// posting's unit of work commits. Rolled back postings are never reported.
func afterPosting(ctx context.Context, cache BalancePort, observer PostingObserver, logger *slog.Logger, ledger, typ string, id int64, amount decimal.Decimal) {
	db.AfterCommit(ctx, func(ctx context.Context) {
		logger.DebugContext(ctx, "ledger posting",
			slog.String("ledger", ledger),
			slog.String("type", typ),
			slog.Int64("id", id),
			slog.String("amount", amount.StringFixed(2)))
		if observer != nil {
			observer.ObservePosting(ledger, typ, amount)
		}
		if cache == nil {
			return
		}
		if err := cache.Bump(ctx); err != nil {
			logger.WarnContext(ctx, "balance cache bump failed", slog.String("entry", ledger+":"+strconv.FormatInt(id, 10)), slog.Any("error", err))
		}
	})
}

// Describe renders a one-line description with key=value parts.
func Describe(title string, parts ...string) string {
	if len(parts) == 0 {
		return title
	}
	return fmt.Sprintf("%s (%s)", title, strings.Join(parts, ", "))
}
